// Package inventory implements the disk inventory (4.D): the canonical
// physical-disk listing built atop the sysfs reader, tool invoker, and
// power-state oracle.
package inventory

import (
	"context"
	"encoding/json"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/ruaan-deysel/storage-control-plane/daemon/constants"
	"github.com/ruaan-deysel/storage-control-plane/daemon/dto"
	"github.com/ruaan-deysel/storage-control-plane/daemon/lib"
	"github.com/ruaan-deysel/storage-control-plane/daemon/logger"
	"github.com/ruaan-deysel/storage-control-plane/daemon/services/power"
)

// ListOptions configures listDisks (4.D).
type ListOptions struct {
	SkipStandby bool
}

var physicalDiskName = regexp.MustCompile(`^(sd[a-z]+|nvme\d+n\d+|mmcblk\d+|md\d+)$`)
var excludedDiskPrefix = regexp.MustCompile(`^(loop|ram|dm-|sr|nbd|nmd)`)

// Inventory produces the canonical physical-disk list (4.D).
type Inventory struct {
	invoker *lib.Invoker
	oracle  *power.Oracle
}

// New builds an Inventory around a shared invoker and power oracle.
func New(invoker *lib.Invoker, oracle *power.Oracle) *Inventory {
	return &Inventory{invoker: invoker, oracle: oracle}
}

// ListDisks runs the 4.D pipeline: enumerate physical disks, probe power
// state in parallel, then detail non-standby disks.
func (inv *Inventory) ListDisks(ctx context.Context, opts ListOptions) []dto.PhysicalDevice {
	names := enumeratePhysicalDiskNames()

	devices := make([]dto.PhysicalDevice, len(names))
	var wg sync.WaitGroup
	for i, name := range names {
		wg.Add(1)
		go func(i int, name string) {
			defer wg.Done()
			devices[i] = inv.probeOne(ctx, name, opts)
		}(i, name)
	}
	wg.Wait()

	devices = append(devices, listZramRamdisks(ctx, inv.invoker)...)
	return devices
}

func enumeratePhysicalDiskNames() []string {
	all := lib.EnumerateDiskseq()
	var out []string
	for _, name := range all {
		if excludedDiskPrefix.MatchString(name) {
			continue
		}
		if physicalDiskName.MatchString(name) {
			out = append(out, name)
		}
	}
	return out
}

func (inv *Inventory) probeOne(ctx context.Context, name string, opts ListOptions) dto.PhysicalDevice {
	path := "/dev/" + name
	state := inv.oracle.GetPowerState(ctx, path)

	dev := dto.PhysicalDevice{
		Path:       path,
		Name:       name,
		Class:      classifyDevice(name),
		Transport:  lib.ReadTransport(name),
		USB:        lib.ReadUsbInfo(name),
		PowerStatus: state.Status,
	}
	if r := lib.ReadRotational(name); r != nil {
		if *r {
			dev.Rotational = dto.RotationalYes
		} else {
			dev.Rotational = dto.RotationalNo
		}
	} else {
		dev.Rotational = dto.RotationalUnknown
	}
	dev.Removable = lib.ReadRemovable(name)

	if state.Status == dto.PowerStandby && opts.SkipStandby {
		dev.StandbySkipped = true
		fillSkeletonFromLsblk(ctx, inv.invoker, &dev)
		return dev
	}

	fillDetail(ctx, inv.invoker, &dev)
	if celsius, ok := inv.oracle.GetTemperature(ctx, path, state.Status); ok {
		dev.TemperatureC = celsius
		dev.HasTemperature = true
	}
	return dev
}

func classifyDevice(name string) dto.DeviceClass {
	switch {
	case strings.HasPrefix(name, "nvme"):
		return dto.ClassNVMe
	case strings.HasPrefix(name, "mmcblk"):
		return dto.ClassEMMC
	case strings.HasPrefix(name, "md"):
		return dto.ClassMD
	case strings.HasPrefix(name, "zram"):
		return dto.ClassRamdisk
	}
	if lib.ReadUsbInfo(name) != nil {
		return dto.ClassUSB
	}
	if r := lib.ReadRotational(name); r != nil {
		if *r {
			return dto.ClassHDD
		}
		return dto.ClassSSD
	}
	return dto.ClassUnknown
}

type lsblkNode struct {
	Name       string      `json:"name"`
	Size       json.Number `json:"size"`
	FSType     string      `json:"fstype"`
	MountPoint string      `json:"mountpoint"`
	UUID       string      `json:"uuid"`
	Label      string      `json:"label"`
	Children   []lsblkNode `json:"children"`
}

type lsblkOutput struct {
	BlockDevices []lsblkNode `json:"blockdevices"`
}

// fillSkeletonFromLsblk fills the skeleton record's size, model and serial
// fields (spec.md 4.D step 3's "skeleton record"): lsblk itself never wakes a standby disk
// (it reads cached kernel metadata), so calling it is safe even though we
// skip the partition+df detail pass.
func fillSkeletonFromLsblk(ctx context.Context, invoker *lib.Invoker, dev *dto.PhysicalDevice) {
	res := invoker.Run(ctx, constants.LsblkBin, "-J", "-b", "-o", "NAME,SIZE,MODEL,SERIAL", "/dev/"+dev.Name)
	if res.Exit != 0 {
		return
	}
	var out struct {
		BlockDevices []struct {
			Name   string      `json:"name"`
			Size   json.Number `json:"size"`
			Model  string      `json:"model"`
			Serial string      `json:"serial"`
		} `json:"blockdevices"`
	}
	if err := json.Unmarshal([]byte(res.Stdout), &out); err != nil || len(out.BlockDevices) == 0 {
		return
	}
	blk := out.BlockDevices[0]
	dev.Model = blk.Model
	dev.Serial = blk.Serial
	if n, err := blk.Size.Int64(); err == nil {
		dev.SizeBytes = uint64(n)
	}
}

func fillDetail(ctx context.Context, invoker *lib.Invoker, dev *dto.PhysicalDevice) {
	res := invoker.Run(ctx, constants.LsblkBin, "-J", "-b",
		"-o", "NAME,SIZE,FSTYPE,MOUNTPOINT,UUID,LABEL,MODEL,SERIAL", "/dev/"+dev.Name)
	if res.Exit != 0 {
		logger.Debug("inventory: lsblk failed for %s: %s", dev.Name, res.Stderr)
		return
	}

	var out lsblkOutput
	if err := json.Unmarshal([]byte(res.Stdout), &out); err != nil || len(out.BlockDevices) == 0 {
		return
	}
	root := out.BlockDevices[0]
	if n, err := root.Size.Int64(); err == nil {
		dev.SizeBytes = uint64(n)
	}

	if len(root.Children) == 0 {
		dev.Partitions = []dto.Partition{{
			DevicePath:  dev.Path,
			Index:       0,
			SizeBytes:   dev.SizeBytes,
			FSType:      root.FSType,
			MountPoint:  root.MountPoint,
			UUID:        root.UUID,
			Label:       root.Label,
			IsWholeDisk: true,
		}}
	} else {
		for i, child := range root.Children {
			sz, _ := child.Size.Int64()
			dev.Partitions = append(dev.Partitions, dto.Partition{
				DevicePath: "/dev/" + child.Name,
				Index:      i + 1,
				SizeBytes:  uint64(sz),
				FSType:     child.FSType,
				MountPoint: child.MountPoint,
				UUID:       child.UUID,
				Label:      child.Label,
			})
		}
	}

	attachDfInfo(ctx, invoker, dev)
}

// attachDfInfo fills used/free bytes for every mounted partition via
// df -B1, bounded by the shorter df-specific timeout (4.B).
func attachDfInfo(ctx context.Context, invoker *lib.Invoker, dev *dto.PhysicalDevice) {
	for i := range dev.Partitions {
		p := &dev.Partitions[i]
		if p.MountPoint == "" {
			continue
		}
		dfInvoker := &lib.Invoker{Timeout: lib.DfCommandTimeout}
		res := dfInvoker.Run(ctx, constants.DfBin, "-B1", "--output=used,avail", p.MountPoint)
		if res.Exit != 0 {
			continue
		}
		lines := strings.Split(strings.TrimSpace(res.Stdout), "\n")
		if len(lines) < 2 {
			continue
		}
		fields := strings.Fields(lines[1])
		if len(fields) < 2 {
			continue
		}
		if used, err := strconv.ParseUint(fields[0], 10, 64); err == nil {
			p.UsedBytes = used
		}
		if free, err := strconv.ParseUint(fields[1], 10, 64); err == nil {
			p.FreeBytes = free
		}
	}
}

func listZramRamdisks(ctx context.Context, invoker *lib.Invoker) []dto.PhysicalDevice {
	res := invoker.Run(ctx, constants.ZramctlBin, "--output-all", "--noheadings")
	if res.Exit != 0 {
		return nil
	}
	swaps := lib.ReadSwaps()

	var out []dto.PhysicalDevice
	for _, line := range strings.Split(strings.TrimSpace(res.Stdout), "\n") {
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		name := fields[0]
		path := name
		if !strings.HasPrefix(path, "/dev/") {
			path = "/dev/" + name
		}
		if swaps[path] {
			continue // zram swaps are not ramdisk inventory entries (4.D step 4)
		}
		out = append(out, dto.PhysicalDevice{
			Path:        path,
			Name:        strings.TrimPrefix(path, "/dev/"),
			Class:       dto.ClassRamdisk,
			PowerStatus: dto.PowerActive,
			Rotational:  dto.RotationalNo,
		})
	}
	return out
}
