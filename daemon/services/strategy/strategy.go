// Package strategy implements the device strategy abstraction (4.G): plain
// pass-through and LUKS-encrypted variants of pool device preparation.
package strategy

import (
	"context"

	"github.com/ruaan-deysel/storage-control-plane/daemon/dto"
)

// PrepareOptions parametrizes a strategy's Prepare call.
type PrepareOptions struct {
	PoolName      string
	Encrypted     bool
	Format        bool
	CreateKeyfile bool
	Passphrase    string
	ParityCount   int // first ParityCount devices, by index, are parity
	StartSlot     int // defaults to 1 when zero
}

// Strategy transforms raw block devices into DeviceInfos ready for
// filesystem operations and cleans up on failure or teardown (4.G).
type Strategy interface {
	// Prepare returns one DeviceInfo per input device, in order. On any
	// failure it is responsible for rolling back every mapper it already
	// opened before returning the error.
	Prepare(ctx context.Context, devices []string, opts PrepareOptions) ([]dto.DeviceInfo, error)
	// Cleanup releases every external artifact Prepare created (LUKS
	// mappers for the LUKS variant; a no-op for Plain).
	Cleanup(ctx context.Context, infos []dto.DeviceInfo) error
	// GetPhysicalDevicePath returns the path recorded in pool configuration.
	GetPhysicalDevicePath(info dto.DeviceInfo) string
	// GetOperationalDevicePath returns the path handed to mkfs/mount.
	GetOperationalDevicePath(info dto.DeviceInfo) string
}

// For selects the strategy variant for a pool's encryption setting.
func For(encrypted bool, deps LuksDeps) Strategy {
	if encrypted {
		return NewLuks(deps)
	}
	return NewPlain()
}
