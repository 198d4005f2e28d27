package dto

// ZramDeviceType is how a configured zram device is used once built.
type ZramDeviceType string

const (
	ZramTypeSwap ZramDeviceType = "swap"
	ZramTypeFS   ZramDeviceType = "fs"
)

// ZramDevice is one configured zram device's declarative target state
// (spec.md 3/4.J/6). Id, Index, and Uuid are immutable once set;
// updateDevice forbids changing them.
type ZramDevice struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"` // e.g. zram0
	Enabled   bool           `json:"enabled"`
	Index     int            `json:"index"`
	Algorithm string         `json:"algorithm"` // e.g. lz4, zstd
	SizeBytes uint64         `json:"size"`
	Type      ZramDeviceType `json:"type"`
	Priority  int            `json:"priority,omitempty"` // swap type only
	UUID      string         `json:"uuid,omitempty"`     // fs type only, auto-generated if missing
	FSType    FSType         `json:"fs_type,omitempty"`  // fs type only
}

// ZramConfig is the declarative target state the reconciler drives the
// system towards (spec.md 4.J/6).
type ZramConfig struct {
	Enabled     bool         `json:"enabled"`
	ZramDevices int          `json:"zram_devices"`
	Devices     []ZramDevice `json:"devices"`
}
