package dto

// InUseReason enumerates why isInUse(device) returned true, matching the
// reason vocabulary of 4.F exactly.
type InUseReason string

const (
	ReasonNone                   InUseReason = ""
	ReasonInPoolData             InUseReason = "in_pool_data"
	ReasonInPoolDataViaMapper    InUseReason = "in_pool_data_via_mapper"
	ReasonInPoolParity           InUseReason = "in_pool_parity"
	ReasonInPoolParityViaMapper  InUseReason = "in_pool_parity_via_mapper"
	ReasonInPoolLegacy           InUseReason = "in_pool_legacy"
	ReasonMountedWholeDisk       InUseReason = "mounted_whole_disk"
	ReasonMountedPartition       InUseReason = "mounted_partition"
	ReasonMountedViaMapper       InUseReason = "mounted_via_mapper"
	ReasonMountedPartitionViaMap InUseReason = "mounted_partition_via_mapper"
	ReasonBtrfsMultiDevice       InUseReason = "btrfs_multi_device"
)

// InUseResult is the outcome of isInUse(device) (spec.md 4.F).
type InUseResult struct {
	DevicePath   string      `json:"device_path"`
	InUse        bool        `json:"in_use"`
	Reason       InUseReason `json:"reason,omitempty"`
	Detail       string      `json:"detail,omitempty"`
	MapperDevice string      `json:"mapper_device,omitempty"`
}
