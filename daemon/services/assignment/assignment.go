// Package assignment implements the assignment graph (4.F): the walk that
// decides whether a candidate device is safe to reuse.
package assignment

import (
	"context"
	"strings"

	"github.com/ruaan-deysel/storage-control-plane/daemon/constants"
	"github.com/ruaan-deysel/storage-control-plane/daemon/dto"
	"github.com/ruaan-deysel/storage-control-plane/daemon/lib"
)

// PoolSource supplies the current pool list without the assignment package
// importing the pool engine directly (the pool engine itself calls IsInUse
// before destructive operations, so a direct dependency would cycle).
type PoolSource func() []dto.Pool

// LegacyDiskSource supplies device paths recorded in the older `disks` INI
// array (4.F step 2), distinct from this service's own pool configuration.
type LegacyDiskSource func() []string

// Graph answers isInUse(device) by walking pool membership, the legacy
// disks array, the mount table, device-mapper slave lists, and BTRFS
// multi-device filesystem UUIDs, in the priority order of 4.F.
type Graph struct {
	invoker     *lib.Invoker
	pools       PoolSource
	legacyDisks LegacyDiskSource
}

// New builds a Graph. pools and legacyDisks may be nil, in which case
// those checks are skipped.
func New(invoker *lib.Invoker, pools PoolSource, legacyDisks LegacyDiskSource) *Graph {
	return &Graph{invoker: invoker, pools: pools, legacyDisks: legacyDisks}
}

// IsInUse returns whether devicePath is in use and, if so, why. Checks run
// in the fixed order of 4.F and short-circuit on first hit.
func (g *Graph) IsInUse(ctx context.Context, devicePath string) dto.InUseResult {
	name := strings.TrimPrefix(devicePath, "/dev/")
	base := lib.BaseDisk(name)

	if g.pools != nil {
		for _, pool := range g.pools() {
			if res, ok := checkPoolMembership(pool, devicePath, base); ok {
				return res
			}
		}
	}

	if g.legacyDisks != nil {
		for _, d := range g.legacyDisks() {
			if pathOrPartitionMatches(d, devicePath, base) {
				return dto.InUseResult{DevicePath: devicePath, InUse: true, Reason: dto.ReasonInPoolLegacy, Detail: d}
			}
		}
	}

	mounts := lib.ReadMounts()
	if info, ok := mounts[devicePath]; ok {
		return dto.InUseResult{DevicePath: devicePath, InUse: true, Reason: dto.ReasonMountedWholeDisk, Detail: info.MountPoint}
	}
	for mountedDev, info := range mounts {
		if mountedDev == devicePath {
			continue
		}
		if lib.BaseDisk(strings.TrimPrefix(mountedDev, "/dev/")) == name {
			return dto.InUseResult{DevicePath: devicePath, InUse: true, Reason: dto.ReasonMountedPartition, Detail: info.MountPoint}
		}
	}
	for mountedDev, info := range mounts {
		if !strings.HasPrefix(mountedDev, "/dev/mapper/") {
			continue
		}
		dmName := strings.TrimPrefix(mountedDev, "/dev/mapper/")
		if slave, ok := slaveMatch(dmName, name, base); ok {
			reason := dto.ReasonMountedViaMapper
			if slave != name {
				reason = dto.ReasonMountedPartitionViaMap
			}
			return dto.InUseResult{DevicePath: devicePath, InUse: true, Reason: reason, Detail: info.MountPoint, MapperDevice: mountedDev}
		}
	}

	if res, ok := g.checkBtrfsMultiDevice(ctx, devicePath, mounts); ok {
		return res
	}

	return dto.InUseResult{DevicePath: devicePath, InUse: false}
}

func checkPoolMembership(pool dto.Pool, devicePath, base string) (dto.InUseResult, bool) {
	if res, ok := checkDeviceList(pool.Devices, pool.Name, devicePath, base, dto.ReasonInPoolData, dto.ReasonInPoolDataViaMapper); ok {
		return res, true
	}
	if res, ok := checkDeviceList(pool.ParityDevices, pool.Name, devicePath, base, dto.ReasonInPoolParity, dto.ReasonInPoolParityViaMapper); ok {
		return res, true
	}

	byUUID := lib.ReadByUUID()
	for uuid, real := range byUUID {
		if !strings.HasPrefix(real, devicePath) {
			continue
		}
		for _, d := range pool.AllDevices() {
			if d.Serial == uuid {
				return dto.InUseResult{DevicePath: devicePath, InUse: true, Reason: dto.ReasonInPoolData, Detail: pool.Name}, true
			}
		}
	}
	return dto.InUseResult{}, false
}

func checkDeviceList(devices []dto.DeviceInfo, poolName, devicePath, base string, direct, viaMapper dto.InUseReason) (dto.InUseResult, bool) {
	for _, d := range devices {
		if pathOrPartitionMatches(d.Path, devicePath, base) {
			return dto.InUseResult{DevicePath: devicePath, InUse: true, Reason: direct, Detail: poolName}, true
		}
		if d.MapperName != "" {
			deviceName := strings.TrimPrefix(devicePath, "/dev/")
			if _, ok := slaveMatch(d.MapperName, deviceName, base); ok {
				return dto.InUseResult{
					DevicePath:   devicePath,
					InUse:        true,
					Reason:       viaMapper,
					Detail:       poolName,
					MapperDevice: "/dev/mapper/" + d.MapperName,
				}, true
			}
		}
	}
	return dto.InUseResult{}, false
}

func pathOrPartitionMatches(candidate, devicePath, base string) bool {
	if candidate == devicePath {
		return true
	}
	candName := strings.TrimPrefix(candidate, "/dev/")
	return lib.BaseDisk(candName) == base && candName != base
}

// slaveMatch reports whether dmName's slave list contains name or any
// device whose base disk is base, returning the matching slave name.
func slaveMatch(dmName, name, base string) (string, bool) {
	for _, slave := range lib.ResolveDmSlaves(dmName) {
		if slave == name || lib.BaseDisk(slave) == base {
			return slave, true
		}
	}
	return "", false
}

func (g *Graph) checkBtrfsMultiDevice(ctx context.Context, devicePath string, mounts map[string]lib.MountInfo) (dto.InUseResult, bool) {
	res := g.invoker.Run(ctx, constants.BtrfsBin, "filesystem", "show", devicePath)
	if res.Exit != 0 {
		return dto.InUseResult{}, false
	}
	// btrfs filesystem show prints every device sharing the filesystem UUID;
	// if any of those device paths is separately mounted, this device is in
	// use through that multi-device filesystem.
	for _, line := range strings.Split(res.Stdout, "\n") {
		if !strings.Contains(line, "/dev/") {
			continue
		}
		fields := strings.Fields(line)
		candidate := fields[len(fields)-1]
		if candidate == devicePath {
			continue
		}
		if _, mounted := mounts[candidate]; mounted {
			return dto.InUseResult{DevicePath: devicePath, InUse: true, Reason: dto.ReasonBtrfsMultiDevice, Detail: candidate}, true
		}
	}
	return dto.InUseResult{}, false
}
