package constants

import (
	"github.com/ruaan-deysel/storage-control-plane/daemon/domain"
	"github.com/ruaan-deysel/storage-control-plane/daemon/dto"
)

// Typed event bus topics. Each Topic[T] enforces at compile time that
// publishers send the correct Go type, eliminating a class of runtime
// type-assertion bugs.

var (
	// TopicDiskListUpdate is published by the disk inventory with []dto.PhysicalDevice.
	TopicDiskListUpdate = domain.NewTopic[[]dto.PhysicalDevice]("disk_list_update")
	// TopicThroughputUpdate is published by the throughput sampler with []dto.ThroughputSample.
	TopicThroughputUpdate = domain.NewTopic[[]dto.ThroughputSample]("throughput_update")
	// TopicDeviceTopologyChanged is published by the /dev hot-plug watcher
	// whenever fsnotify observes a block device node appear or disappear.
	TopicDeviceTopologyChanged = domain.NewTopic[string]("device_topology_changed")
	// TopicPoolStatusUpdate is published by the pool engine with dto.Pool after
	// a mount, unmount, destroy, device add or remove, and a CreatePool mount
	// failure. Path-rule changes do not publish it.
	TopicPoolStatusUpdate = domain.NewTopic[dto.Pool]("pool_status_update")
	// TopicPreclearProgress is published by the preclear engine with dto.PreclearJob
	// on every phase transition.
	TopicPreclearProgress = domain.NewTopic[dto.PreclearJob]("preclear_progress")
	// TopicZramConfigApplied is published by the ZRAM reconciler with dto.ZramConfig
	// after a successful reconcile.
	TopicZramConfigApplied = domain.NewTopic[dto.ZramConfig]("zram_config_applied")
	// TopicSwapStatusChanged is published by the swap/zswap controller with
	// dto.SwapConfigFile after applyIntent finishes.
	TopicSwapStatusChanged = domain.NewTopic[dto.SwapConfigFile]("swap_status_changed")
)
