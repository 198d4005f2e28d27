package dto

import "time"

// FSType is a filesystem the pool engine knows how to create and mount.
type FSType string

const (
	FSBtrfs    FSType = "btrfs"
	FSXFS      FSType = "xfs"
	FSExt4     FSType = "ext4"
	FSMergerFS FSType = "mergerfs"
)

// EncryptionMode selects the device strategy a pool's members are prepared with.
type EncryptionMode string

const (
	EncryptionNone EncryptionMode = "none"
	EncryptionLUKS EncryptionMode = "luks"
)

// PoolStatus is the lifecycle state of a Pool.
type PoolStatus string

const (
	PoolStatusNew        PoolStatus = "new"
	PoolStatusMounted     PoolStatus = "mounted"
	PoolStatusUnmounted   PoolStatus = "unmounted"
	PoolStatusDegraded    PoolStatus = "degraded"
	PoolStatusDestroying  PoolStatus = "destroying"
)

// DeviceInfo is a pool member device as recorded in pool configuration
// (spec.md 3), distinct from PhysicalDevice which is the live kernel view.
type DeviceInfo struct {
	Path       string `json:"path"`
	Slot       int    `json:"slot"`
	MapperName string `json:"mapper_name,omitempty"` // set when EncryptionMode == luks
	Serial     string `json:"serial,omitempty"`
}

// PathRule maps a sub-path within a pool's mount to an export/share rule
// (spec.md 3).
type PathRule struct {
	RelativePath string `json:"relative_path"`
	ShareName    string `json:"share_name"`
	ReadOnly     bool   `json:"read_only"`
}

// Share is a named export rooted at a pool path.
type Share struct {
	Name     string     `json:"name"`
	Pool     string     `json:"pool"`
	Rules    []PathRule `json:"rules,omitempty"`
	Comment  string     `json:"comment,omitempty"`
}

// RaidProfile is a BTRFS data/metadata RAID profile.
type RaidProfile string

const (
	RaidSingle RaidProfile = "single"
	RaidRaid1  RaidProfile = "raid1"
	RaidRaid10 RaidProfile = "raid10"
)

// PoolConfig holds the options a pool was created with, persisted
// alongside its devices (spec.md 6).
type PoolConfig struct {
	Encrypted     bool        `json:"encrypted"`
	CreateKeyfile bool        `json:"create_keyfile"`
	RaidProfile   RaidProfile `json:"raid_level,omitempty"`
	Automount     bool        `json:"automount"`
	MountOptions  []string    `json:"mount_options,omitempty"`
}

// Pool is a named group of member devices presented as one filesystem
// (spec.md 3/4.H).
type Pool struct {
	Name           string         `json:"name"`
	FSType         FSType         `json:"fs_type"`
	Encryption     EncryptionMode `json:"encryption"`
	MountPoint     string         `json:"mount_point"`
	Devices        []DeviceInfo   `json:"data_devices"`
	ParityDevices  []DeviceInfo   `json:"parity_devices,omitempty"`
	Config         PoolConfig     `json:"config"`
	Status         PoolStatus     `json:"status"`
	PathRules      []PathRule     `json:"path_rules,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// AllDevices returns data and parity devices together, data first.
func (p Pool) AllDevices() []DeviceInfo {
	out := make([]DeviceInfo, 0, len(p.Devices)+len(p.ParityDevices))
	out = append(out, p.Devices...)
	out = append(out, p.ParityDevices...)
	return out
}

// PoolConfigFile is the on-disk, atomically-written representation of all
// pools (spec.md 6), keyed by pool name.
type PoolConfigFile struct {
	Version int             `json:"version"`
	Pools   map[string]Pool `json:"pools"`
}
