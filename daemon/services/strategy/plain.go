package strategy

import (
	"context"

	"github.com/ruaan-deysel/storage-control-plane/daemon/dto"
)

// Plain is the identity device strategy: physical == operational == original.
type Plain struct{}

// NewPlain builds a Plain strategy.
func NewPlain() *Plain {
	return &Plain{}
}

// Prepare is a pass-through: slots are assigned in input order, nothing is opened.
func (p *Plain) Prepare(_ context.Context, devices []string, opts PrepareOptions) ([]dto.DeviceInfo, error) {
	startSlot := opts.StartSlot
	if startSlot == 0 {
		startSlot = 1
	}
	infos := make([]dto.DeviceInfo, len(devices))
	for i, dev := range devices {
		infos[i] = dto.DeviceInfo{Path: dev, Slot: startSlot + i}
	}
	return infos, nil
}

// Cleanup is a no-op: Plain never creates an external artifact to release.
func (p *Plain) Cleanup(_ context.Context, _ []dto.DeviceInfo) error {
	return nil
}

// GetPhysicalDevicePath returns info.Path, the only path a Plain strategy knows.
func (p *Plain) GetPhysicalDevicePath(info dto.DeviceInfo) string {
	return info.Path
}

// GetOperationalDevicePath is identical to the physical path for Plain.
func (p *Plain) GetOperationalDevicePath(info dto.DeviceInfo) string {
	return info.Path
}
