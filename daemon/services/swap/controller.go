// Package swap implements the swapfile and zswap controller (4.K): a
// single-writer state machine that creates or removes one swapfile with a
// filesystem-aware procedure and tunes the kernel zswap module.
package swap

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cskr/pubsub"

	"github.com/ruaan-deysel/storage-control-plane/daemon/constants"
	"github.com/ruaan-deysel/storage-control-plane/daemon/domain"
	"github.com/ruaan-deysel/storage-control-plane/daemon/dto"
	"github.com/ruaan-deysel/storage-control-plane/daemon/lib"
	"github.com/ruaan-deysel/storage-control-plane/daemon/logger"
	"github.com/ruaan-deysel/storage-control-plane/daemon/metrics"
	"github.com/ruaan-deysel/storage-control-plane/daemon/services/notify"
)

// ConfigPath is where the swap/zswap intent is persisted (6).
var ConfigPath = "/boot/config/system/swap.json"

// ZswapParametersDir is where the kernel's zswap module exposes its
// tunables, overridable so tests never touch the real kernel (4.K/6).
var ZswapParametersDir = constants.ZswapParametersDir

// MinFreeHeadroomBytes is added to the requested swapfile size when
// checking available space (3. "available free space >= size + 1 GiB").
const MinFreeHeadroomBytes = 1 << 30

// zswapSwitchGrace is how long applyZswap waits after disabling zswap
// before writing new compressor/shrinker values (4.K "100 ms grace").
const zswapSwitchGrace = 100 * time.Millisecond

// PoolSource resolves the pool a path lives under, so the controller can
// check filesystem type and RAID profile without owning the pool list.
type PoolSource interface {
	FindPoolForMountedPath(path string) (dto.Pool, bool)
	// FindPoolForBranchPath resolves the alternate /var/mergerfs/<pool>/<diskN>/...
	// per-disk branch path form (4.K), alongside the /mnt/<pool>/... union form.
	FindPoolForBranchPath(path string) (dto.Pool, bool)
}

// Status is returned by ApplyIntent. Creation runs in the background, so
// the caller only learns "creating" immediately (4.K).
type Status struct {
	State string // "disabled" | "creating"
}

// Controller owns the persisted swap/zswap intent and enforces the
// single-writer busy flag (5. "a busy flag rejects overlapping mutations
// immediately").
type Controller struct {
	invoker *lib.Invoker
	notify  *notify.Sender
	pools   PoolSource
	hub     *pubsub.PubSub

	mu     sync.Mutex
	config dto.SwapConfigFile
	busy   bool
}

// New builds a Controller and loads any persisted intent. hub may be nil,
// in which case applied intents are simply not published.
func New(invoker *lib.Invoker, notifier *notify.Sender, pools PoolSource, hub *pubsub.PubSub) *Controller {
	c := &Controller{invoker: invoker, notify: notifier, pools: pools, hub: hub}
	c.load()
	return c
}

func (c *Controller) publish(file dto.SwapConfigFile) {
	if c.hub == nil {
		return
	}
	domain.Publish(c.hub, constants.TopicSwapStatusChanged, file)
}

func (c *Controller) load() {
	var file dto.SwapConfigFile
	if err := lib.ReadJSON(ConfigPath, &file); err != nil {
		logger.Error("swap: failed to read %s: %v", ConfigPath, err)
		return
	}
	c.config = file
}

// persist must be called with c.mu held.
func (c *Controller) persist() error {
	c.config.Version = 1
	return lib.WriteJSONAtomic(ConfigPath, c.config, 0o644)
}

// GetIntent returns a snapshot of the currently-applied swap intent.
func (c *Controller) GetIntent() dto.SwapfileIntent {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.config.Swapfile
}

// ApplyIntent disables or (re)creates the swapfile. Disabling runs
// synchronously; enabling validates then launches swapfile creation in
// the background and returns immediately (4.K, testable property S5).
func (c *Controller) ApplyIntent(ctx context.Context, next dto.SwapfileIntent) (Status, error) {
	c.mu.Lock()
	if c.busy {
		c.mu.Unlock()
		return Status{}, fmt.Errorf("swap controller is busy with another operation")
	}
	current := c.config.Swapfile
	c.busy = true
	metrics.SwapBusy.Set(1)
	c.mu.Unlock()

	if !next.Enabled {
		defer c.release()
		if err := c.disable(ctx, current); err != nil {
			return Status{}, err
		}
		c.mu.Lock()
		c.config.Swapfile = next
		persistErr := c.persist()
		snapshot := c.config
		c.mu.Unlock()
		if persistErr != nil {
			return Status{}, persistErr
		}
		c.publish(snapshot)
		c.notify.Info("Swap", "Swapfile disabled")
		return Status{State: "disabled"}, nil
	}

	pool, err := c.validateEnable(ctx, next)
	if err != nil {
		c.release()
		return Status{}, err
	}

	go c.createAndEnable(ctx, next, pool)
	return Status{State: "creating"}, nil
}

func (c *Controller) release() {
	c.mu.Lock()
	c.busy = false
	metrics.SwapBusy.Set(0)
	c.mu.Unlock()
}

// disable turns off the current swapfile and zswap (4.K "If disabling:
// swapoff <file>, delete file, turn zswap off").
func (c *Controller) disable(ctx context.Context, current dto.SwapfileIntent) error {
	if current.Enabled && current.Path != "" {
		if res := c.invoker.Run(ctx, constants.SwapoffBin, current.Path); res.Exit != 0 {
			logger.Warning("swap: swapoff %s failed: %s", current.Path, res.Stderr)
		}
		if err := os.Remove(current.Path); err != nil && !os.IsNotExist(err) {
			logger.Warning("swap: removing swapfile %s failed: %v", current.Path, err)
		}
	}
	c.applyZswap(ctx, dto.ZswapIntent{}, current.Config)
	return nil
}

// validateEnable checks the SwapfileIntent invariant: path must lie on a
// mounted, non-RAID BTRFS subvolume or any non-BTRFS filesystem, with
// enough free space (3).
func (c *Controller) validateEnable(ctx context.Context, next dto.SwapfileIntent) (dto.Pool, error) {
	if next.Path == "" {
		return dto.Pool{}, fmt.Errorf("swapfile path is required")
	}
	if c.pools == nil {
		return dto.Pool{}, fmt.Errorf("no pool source configured")
	}
	pool, ok := c.pools.FindPoolForMountedPath(next.Path)
	if !ok {
		pool, ok = c.pools.FindPoolForBranchPath(next.Path)
	}
	if !ok {
		return dto.Pool{}, fmt.Errorf("path %q is not under a mounted pool (checked both the union mount and mergerfs branch path forms)", next.Path)
	}
	if pool.FSType == dto.FSBtrfs && pool.Config.RaidProfile != "" && pool.Config.RaidProfile != dto.RaidSingle {
		return dto.Pool{}, fmt.Errorf("pool %q uses BTRFS RAID profile %q; swapfiles require a non-RAID profile", pool.Name, pool.Config.RaidProfile)
	}

	free, err := c.freeBytes(ctx, pool.MountPoint)
	if err != nil {
		return dto.Pool{}, fmt.Errorf("checking free space on %s: %w", pool.MountPoint, err)
	}
	if free < next.SizeBytes+MinFreeHeadroomBytes {
		return dto.Pool{}, fmt.Errorf("insufficient free space on %s: need %d bytes, have %d", pool.MountPoint, next.SizeBytes+MinFreeHeadroomBytes, free)
	}
	return pool, nil
}

func (c *Controller) freeBytes(ctx context.Context, mountPoint string) (uint64, error) {
	res := c.invoker.Run(ctx, constants.DfBin, "-B1", "--output=avail", mountPoint)
	if res.Exit != 0 {
		return 0, fmt.Errorf("df failed: %s", res.Stderr)
	}
	lines := strings.Split(strings.TrimSpace(res.Stdout), "\n")
	if len(lines) < 2 {
		return 0, fmt.Errorf("unexpected df output: %q", res.Stdout)
	}
	avail, err := strconv.ParseUint(strings.TrimSpace(lines[len(lines)-1]), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parsing df output %q: %w", lines[len(lines)-1], err)
	}
	return avail, nil
}

// createAndEnable runs the filesystem-aware swapfile creation procedure
// and activates it, then tunes zswap, releasing the busy flag and
// notifying on completion regardless of outcome (4.K).
func (c *Controller) createAndEnable(ctx context.Context, next dto.SwapfileIntent, pool dto.Pool) {
	defer c.release()

	if err := c.createSwapfile(ctx, next, pool); err != nil {
		logger.Error("swap: creating swapfile %s failed: %v", next.Path, err)
		c.notify.Alert("Swap", fmt.Sprintf("Swapfile creation failed: %v", err))
		return
	}

	if err := os.Chmod(next.Path, 0o600); err != nil {
		logger.Error("swap: chmod %s failed: %v", next.Path, err)
		c.notify.Alert("Swap", fmt.Sprintf("Swapfile creation failed: %v", err))
		return
	}
	if res := c.invoker.Run(ctx, constants.MkswapBin, next.Path); res.Exit != 0 {
		c.notify.Alert("Swap", fmt.Sprintf("mkswap failed: %s", res.Stderr))
		return
	}
	if res := c.invoker.Run(ctx, constants.SwaponBin, "--priority", strconv.Itoa(next.Priority), next.Path); res.Exit != 0 {
		c.notify.Alert("Swap", fmt.Sprintf("swapon failed: %s", res.Stderr))
		return
	}

	c.mu.Lock()
	current := c.config.Swapfile
	c.mu.Unlock()
	c.applyZswap(ctx, next.Config, current.Config)

	c.mu.Lock()
	c.config.Swapfile = next
	persistErr := c.persist()
	snapshot := c.config
	c.mu.Unlock()
	if persistErr != nil {
		logger.Error("swap: persisting swap intent failed: %v", persistErr)
	}

	c.publish(snapshot)
	c.notify.Info("Swap", fmt.Sprintf("Swapfile %s active", next.Path))
}

// createSwapfile dispatches on the pool's filesystem: BTRFS gets a
// NOCOW-prepared, fallocated file; anything else gets a dd-copied file
// (4.K).
func (c *Controller) createSwapfile(ctx context.Context, next dto.SwapfileIntent, pool dto.Pool) error {
	if pool.FSType == dto.FSBtrfs {
		if res := c.invoker.Run(ctx, constants.TruncateBin, "-s", "0", next.Path); res.Exit != 0 {
			return fmt.Errorf("truncate: %s", res.Stderr)
		}
		if res := c.invoker.Run(ctx, constants.ChattrBin, "+C", next.Path); res.Exit != 0 {
			return fmt.Errorf("chattr +C: %s", res.Stderr)
		}
		if res := c.invoker.Run(ctx, constants.FallocateBin, "-l", strconv.FormatUint(next.SizeBytes, 10), next.Path); res.Exit != 0 {
			return fmt.Errorf("fallocate: %s", res.Stderr)
		}
		return nil
	}

	mib := next.SizeBytes / (1 << 20)
	if res := c.invoker.Run(ctx, constants.DdBin, "if=/dev/zero", "of="+next.Path, "bs=1M", fmt.Sprintf("count=%d", mib), "status=none"); res.Exit != 0 {
		return fmt.Errorf("dd: %s", res.Stderr)
	}
	return nil
}

// applyZswap writes the kernel zswap parameters. Changing compressor or
// shrinker requires disabling zswap first, a grace period, then writing
// the new values before re-enabling (4.K).
func (c *Controller) applyZswap(_ context.Context, next, current dto.ZswapIntent) {
	switching := next.Compressor != current.Compressor || next.Shrinker != current.Shrinker

	if switching {
		c.writeZswapParam("enabled", "N")
		time.Sleep(zswapSwitchGrace)
		if next.Compressor != "" {
			c.writeZswapParam("compressor", next.Compressor)
		}
		c.writeZswapParam("shrinker_enabled", boolToYN(next.Shrinker))
	}

	c.writeZswapParam("max_pool_percent", strconv.Itoa(next.MaxPoolPercent))
	c.writeZswapParam("accept_threshold_percent", strconv.Itoa(next.AcceptThresholdPercent))
	c.writeZswapParam("enabled", boolToYN(next.Enabled))
}

func (c *Controller) writeZswapParam(name, value string) {
	path := filepath.Join(ZswapParametersDir, name)
	if err := os.WriteFile(path, []byte(value), 0o644); err != nil {
		logger.Warning("swap: writing zswap parameter %s=%s failed: %v", name, value, err)
	}
}

func boolToYN(b bool) string {
	if b {
		return "Y"
	}
	return "N"
}
