// Package dto provides data transfer objects for the storage control plane.
package dto

import "time"

// DeviceClass is the derived classification of a PhysicalDevice (spec.md 3).
type DeviceClass string

const (
	ClassHDD     DeviceClass = "hdd"
	ClassSSD     DeviceClass = "ssd"
	ClassNVMe    DeviceClass = "nvme"
	ClassEMMC    DeviceClass = "emmc"
	ClassUSB     DeviceClass = "usb"
	ClassMD      DeviceClass = "md"
	ClassRamdisk DeviceClass = "ramdisk"
	ClassUnknown DeviceClass = "unknown"
)

// Rotational is a tri-state flag: a device may be known rotational, known
// solid-state, or the kernel may not report either (spec.md 3).
type Rotational string

const (
	RotationalYes     Rotational = "rotational"
	RotationalNo      Rotational = "solid-state"
	RotationalUnknown Rotational = "unknown"
)

// Transport is the bus a device is attached through.
type Transport string

const (
	TransportSATA    Transport = "sata"
	TransportATA     Transport = "ata"
	TransportUSB     Transport = "usb"
	TransportPCIe    Transport = "pcie"
	TransportNVMe    Transport = "nvme"
	TransportMMC     Transport = "mmc"
	TransportSCSI    Transport = "scsi"
	TransportUnknown Transport = "unknown"
)

// USBInfo describes a device's USB bridge/enclosure when it is attached over USB.
type USBInfo struct {
	VendorID     string `json:"vendor_id"`
	ProductID    string `json:"product_id"`
	Manufacturer string `json:"manufacturer"`
	Product      string `json:"product"`
	Speed        string `json:"speed"`
}

// PhysicalDevice is a kernel block device backing at least one disk
// (spec.md 3). It is observed on demand and never cached beyond one
// response, except for its power state and temperature.
type PhysicalDevice struct {
	Path       string      `json:"path"` // canonical path, e.g. /dev/sda
	Name       string      `json:"name"` // bare kernel name, e.g. sda
	Model      string      `json:"model,omitempty"`
	Serial     string      `json:"serial,omitempty"`
	SizeBytes  uint64      `json:"size_bytes"`
	Rotational Rotational  `json:"rotational"`
	Removable  bool        `json:"removable"`
	Transport  Transport   `json:"transport"`
	USB        *USBInfo    `json:"usb,omitempty"`
	Class      DeviceClass `json:"class"`

	PowerStatus     PowerStatus `json:"power_status"`
	StandbySkipped  bool        `json:"standby_skipped,omitempty"`
	TemperatureC    float64     `json:"temperature_celsius,omitempty"`
	HasTemperature  bool        `json:"has_temperature,omitempty"`
	Partitions      []Partition `json:"partitions,omitempty"`
	ReadBytesPerSec float64     `json:"read_bytes_per_sec,omitempty"`
	WriteBytesPerSec float64    `json:"write_bytes_per_sec,omitempty"`
}

// Partition is a child of a PhysicalDevice, or the device itself when it is
// formatted whole-disk (spec.md 3, IsWholeDisk).
type Partition struct {
	DevicePath   string `json:"device_path"`
	Index        int    `json:"index"` // 1-based; 0 for the whole-disk entry
	SizeBytes    uint64 `json:"size_bytes"`
	Label        string `json:"label,omitempty"`
	UUID         string `json:"uuid,omitempty"`
	FSType       string `json:"fstype,omitempty"`
	MountPoint   string `json:"mount_point,omitempty"`
	IsWholeDisk  bool   `json:"is_whole_disk"`
	UsedBytes    uint64 `json:"used_bytes,omitempty"`
	FreeBytes    uint64 `json:"free_bytes,omitempty"`
}

// PowerStatus is the oracle's classification of a device's spin state.
type PowerStatus string

const (
	PowerActive  PowerStatus = "active"
	PowerStandby PowerStatus = "standby"
	PowerUnknown PowerStatus = "unknown"
)

// PowerState is the cached oracle result for one device path (spec.md 3).
type PowerState struct {
	DevicePath string      `json:"device_path"`
	Status     PowerStatus `json:"status"`
	Active     *bool       `json:"active"` // nil when Status == unknown
	CachedAt   time.Time   `json:"cached_at"`
}

// ThroughputSample is a per-base-disk rolling rate record (spec.md 3).
type ThroughputSample struct {
	DevicePath string    `json:"device_path"`
	Timestamp  time.Time `json:"timestamp"`
	ReadBytes  uint64    `json:"read_bytes"`  // cumulative counter
	WriteBytes uint64    `json:"write_bytes"` // cumulative counter
	ReadRate   float64   `json:"read_bytes_per_sec"`
	WriteRate  float64   `json:"write_bytes_per_sec"`
}
