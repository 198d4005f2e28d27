package pool

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ruaan-deysel/storage-control-plane/daemon/constants"
	"github.com/ruaan-deysel/storage-control-plane/daemon/dto"
	"github.com/ruaan-deysel/storage-control-plane/daemon/lib"
	"github.com/ruaan-deysel/storage-control-plane/daemon/services/strategy"
)

// partprobePollInterval and partprobeMaxWait bound the retry loop that
// waits for a freshly-partitioned device node to appear (4.I/4.H).
const (
	partprobePollInterval = 250 * time.Millisecond
	partprobeMaxWait      = 5 * time.Second
)

// formatPool dispatches to the filesystem-specific creation sequence for
// the operational device paths the strategy prepared (4.H).
func formatPool(ctx context.Context, inv *lib.Invoker, strat strategy.Strategy, fsType dto.FSType, profile dto.RaidProfile, infos []dto.DeviceInfo) error {
	operational := make([]string, len(infos))
	for i, info := range infos {
		operational[i] = strat.GetOperationalDevicePath(info)
	}

	switch fsType {
	case dto.FSBtrfs:
		return formatBtrfs(ctx, inv, profile, operational)
	case dto.FSXFS:
		return formatSinglePartitioned(ctx, inv, constants.MkfsXFSBin, "-f", operational)
	case dto.FSExt4:
		return formatSinglePartitioned(ctx, inv, constants.MkfsExt4Bin, "-F", operational)
	case dto.FSMergerFS:
		return formatMergerFSBranches(ctx, inv, operational)
	default:
		return fmt.Errorf("unsupported filesystem type %q", fsType)
	}
}

func formatBtrfs(ctx context.Context, inv *lib.Invoker, profile dto.RaidProfile, devices []string) error {
	dataProfile := string(profile)
	if dataProfile == "" {
		dataProfile = string(dto.RaidSingle)
	}
	args := []string{"-f", "-d", dataProfile, "-m", dataProfile}
	args = append(args, devices...)
	res := inv.Run(ctx, constants.MkfsBtrfsBin, args...)
	if res.Exit != 0 {
		return fmt.Errorf("mkfs.btrfs failed: %s", res.Stderr)
	}
	return nil
}

// formatSinglePartitioned implements the XFS/EXT4 path: a single device is
// given one GPT partition spanning the disk, then formatted (4.H).
func formatSinglePartitioned(ctx context.Context, inv *lib.Invoker, mkfsBin, force string, devices []string) error {
	if len(devices) != 1 {
		return fmt.Errorf("%s pools take exactly one device, got %d", mkfsBin, len(devices))
	}
	dev := devices[0]

	if res := inv.Run(ctx, constants.PartedBin, "-s", dev, "mklabel", "gpt"); res.Exit != 0 {
		return fmt.Errorf("parted mklabel: %s", res.Stderr)
	}
	if res := inv.Run(ctx, constants.PartedBin, "-s", dev, "mkpart", "primary", "1MiB", "100%"); res.Exit != 0 {
		return fmt.Errorf("parted mkpart: %s", res.Stderr)
	}
	if res := inv.Run(ctx, constants.PartprobeBin, dev); res.Exit != 0 {
		return fmt.Errorf("partprobe: %s", res.Stderr)
	}

	partitionName := lib.PartitionName(baseNameOf(dev), 1)
	partitionPath := filepath.Join(filepath.Dir(dev), partitionName)
	if !waitForPartition(ctx, partitionPath) {
		return fmt.Errorf("partition %s did not appear within %s", partitionPath, partprobeMaxWait)
	}

	res := inv.Run(ctx, mkfsBin, force, partitionPath)
	if res.Exit != 0 {
		return fmt.Errorf("%s failed: %s", mkfsBin, res.Stderr)
	}
	return nil
}

func formatMergerFSBranches(ctx context.Context, inv *lib.Invoker, devices []string) error {
	for _, dev := range devices {
		if res := inv.Run(ctx, constants.MkfsExt4Bin, "-F", dev); res.Exit != 0 {
			return fmt.Errorf("mkfs.ext4 on branch %s: %s", dev, res.Stderr)
		}
	}
	return nil
}

func waitForPartition(ctx context.Context, path string) bool {
	deadline := time.Now().Add(partprobeMaxWait)
	backoff := partprobePollInterval
	for {
		if statExists(path) {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(backoff):
		}
		backoff *= 2
	}
}

func baseNameOf(devicePath string) string {
	idx := strings.LastIndex(devicePath, "/")
	if idx == -1 {
		return devicePath
	}
	return devicePath[idx+1:]
}

func statExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
