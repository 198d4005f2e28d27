package inventory

import (
	"context"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/ruaan-deysel/storage-control-plane/daemon/constants"
	"github.com/ruaan-deysel/storage-control-plane/daemon/dto"
	"github.com/ruaan-deysel/storage-control-plane/daemon/lib"
	"github.com/ruaan-deysel/storage-control-plane/daemon/services/assignment"
)

// UnassignedOptions configures GetUnassignedDisks (4.D).
type UnassignedOptions struct {
	ListOptions
	BootDiskName string // bare kernel name of the boot disk, e.g. "sda"
}

var partitionOrdinal = regexp.MustCompile(`p?(\d+)$`)

// GetUnassignedDisks lists physical disks (and eligible partitions) not
// referenced by any pool, not mounted anywhere non-pool-adjacent, and not
// consumed by ZFS/bcache (4.D getUnassignedDisks, glossary "Unassigned disk").
func (inv *Inventory) GetUnassignedDisks(ctx context.Context, opts UnassignedOptions, graph *assignment.Graph) []dto.PhysicalDevice {
	disks := inv.ListDisks(ctx, opts.ListOptions)
	zfsMembers := zfsMemberDevices(ctx, inv.invoker)
	bcacheMembers := bcacheMemberDevices()

	var out []dto.PhysicalDevice
	for _, disk := range disks {
		if disk.Class == dto.ClassRamdisk {
			continue // ZRAM swaps (and ramdisks generically) are unconditionally filtered
		}
		if zfsMembers[disk.Path] || bcacheMembers[disk.Name] {
			continue
		}

		if disk.Name == opts.BootDiskName {
			// The boot disk's whole-disk path is always reported in-use (its
			// EFI/root partitions are always mounted), so it must be carved
			// into eligible partitions before the whole-disk IsInUse check
			// below, which would otherwise short-circuit it every time.
			out = append(out, bootDiskEligiblePartitionsOnly(disk, graph, ctx)...)
			continue
		}

		res := graph.IsInUse(ctx, disk.Path)
		if res.InUse {
			continue
		}

		out = append(out, disk)
	}
	return out
}

// bootDiskEligiblePartitionsOnly implements the boot-disk carve-out: only
// partition numbers >= 3 may surface as unassigned candidates, since the
// first two are reserved for EFI/root (4.D).
func bootDiskEligiblePartitionsOnly(disk dto.PhysicalDevice, graph *assignment.Graph, ctx context.Context) []dto.PhysicalDevice {
	var out []dto.PhysicalDevice
	for _, p := range disk.Partitions {
		if p.IsWholeDisk {
			continue
		}
		m := partitionOrdinal.FindStringSubmatch(p.DevicePath)
		if m == nil {
			continue
		}
		n, err := strconv.Atoi(m[1])
		if err != nil || n < 3 {
			continue
		}
		if res := graph.IsInUse(ctx, p.DevicePath); res.InUse {
			continue
		}
		partitionDisk := disk
		partitionDisk.Path = p.DevicePath
		partitionDisk.Name = strings.TrimPrefix(p.DevicePath, "/dev/")
		partitionDisk.Partitions = []dto.Partition{p}
		out = append(out, partitionDisk)
	}
	return out
}

func zfsMemberDevices(ctx context.Context, invoker *lib.Invoker) map[string]bool {
	members := map[string]bool{}
	res := invoker.Run(ctx, constants.ZpoolBin, "status", "-P")
	if res.Exit != 0 {
		return members
	}
	for _, line := range strings.Split(res.Stdout, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "/dev/") {
			fields := strings.Fields(line)
			members[fields[0]] = true
		}
	}
	return members
}

func bcacheMemberDevices() map[string]bool {
	members := map[string]bool{}
	entries, err := os.ReadDir(SysBlockDirForBcache())
	if err != nil {
		return members
	}
	for _, e := range entries {
		bcacheDir := filepath.Join(SysBlockDirForBcache(), e.Name(), "bcache")
		if _, err := os.Stat(filepath.Join(bcacheDir, "backing_dev_uuid")); err == nil {
			members[e.Name()] = true
			continue
		}
		if _, err := os.Stat(filepath.Join(bcacheDir, "set")); err == nil {
			members[e.Name()] = true
		}
	}
	return members
}

// SysBlockDirForBcache exists only to route through lib.SysBlockDir's
// package var so tests can point bcache detection at a fixture tree too.
func SysBlockDirForBcache() string {
	return lib.SysBlockDir
}
