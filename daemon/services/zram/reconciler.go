// Package zram implements the ZRAM reconciler (4.J): a declarative apply
// of a target configuration over kernel zram devices, serialized so at
// most one reconcile runs at a time, gated by a mount-safety precondition.
package zram

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"sync"

	"github.com/cskr/pubsub"

	"github.com/ruaan-deysel/storage-control-plane/daemon/constants"
	"github.com/ruaan-deysel/storage-control-plane/daemon/domain"
	"github.com/ruaan-deysel/storage-control-plane/daemon/dto"
	"github.com/ruaan-deysel/storage-control-plane/daemon/lib"
	"github.com/ruaan-deysel/storage-control-plane/daemon/logger"
	"github.com/ruaan-deysel/storage-control-plane/daemon/metrics"
	"github.com/ruaan-deysel/storage-control-plane/daemon/services/notify"
)

// ConfigPath is where the ZRAM configuration is persisted (6).
var ConfigPath = "/boot/config/system/zram.json"

// SysBlockDir and ZramControlDir are package vars (not the constants
// directly) so tests can point them at a tmp tree instead of real sysfs.
var (
	SysBlockDir    = constants.SysBlockDir
	ZramControlDir = constants.ZramControlDir
)

// hotAddAttempts bounds the hot_add retry loop in ensureIndex so a kernel
// that never surfaces the requested index cannot hang a reconcile forever.
const hotAddAttempts = 64

// Manager owns the persisted ZRAM configuration and runs reconciles one
// at a time (5. "ZRAM reconcile: fully serialized").
type Manager struct {
	invoker *lib.Invoker
	notify  *notify.Sender
	hub     *pubsub.PubSub

	mu     sync.Mutex
	config dto.ZramConfig
}

// New builds a Manager and loads any persisted configuration. hub may be
// nil, in which case applied configurations are simply not published.
func New(invoker *lib.Invoker, notifier *notify.Sender, hub *pubsub.PubSub) *Manager {
	m := &Manager{invoker: invoker, notify: notifier, hub: hub}
	m.load()
	return m
}

func (m *Manager) load() {
	var cfg dto.ZramConfig
	if err := lib.ReadJSON(ConfigPath, &cfg); err != nil {
		logger.Error("zram: failed to read %s: %v", ConfigPath, err)
		return
	}
	m.config = cfg
	metrics.ZramDevicesActive.Set(float64(countEnabled(cfg)))
}

// persist must be called with m.mu held.
func (m *Manager) persist() error {
	return lib.WriteJSONAtomic(ConfigPath, m.config, 0o644)
}

// GetConfig returns a snapshot of the currently-applied configuration.
func (m *Manager) GetConfig() dto.ZramConfig {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.config
}

// ApplyConfig drives the kernel towards next: pre-flight mount-safety
// check, tear-down, build-up, shrink, persist (4.J). The whole operation
// is serialized by m.mu, satisfying "at most one reconcile runs".
func (m *Manager) ApplyConfig(ctx context.Context, next dto.ZramConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if reflect.DeepEqual(next, m.config) {
		// Testable property 5: applying the same configuration twice must
		// not re-run swap/mkfs against kernel state that already matches.
		return nil
	}

	if err := m.checkMountSafety(); err != nil {
		return err
	}

	if m.config.Enabled && !next.Enabled {
		if err := m.tearDown(ctx, m.config); err != nil {
			return err
		}
		if res := m.invoker.Run(ctx, "modprobe", "-r", "zram"); res.Exit != 0 {
			logger.Warning("zram: modprobe -r zram failed: %s", res.Stderr)
		}
		m.config = next
		metrics.ZramDevicesActive.Set(0)
		metrics.ZramReconcileTotal.Inc()
		if err := m.persist(); err != nil {
			return err
		}
		m.publish(next)
		return nil
	}

	if err := m.tearDown(ctx, m.config); err != nil {
		return err
	}

	if next.Enabled && !m.config.Enabled {
		if res := m.invoker.Run(ctx, "modprobe", "zram", fmt.Sprintf("num_devices=%d", next.ZramDevices)); res.Exit != 0 {
			return fmt.Errorf("modprobe zram num_devices=%d: %s", next.ZramDevices, res.Stderr)
		}
	}

	if next.Enabled {
		if err := m.buildUp(ctx, next); err != nil {
			return err
		}
		m.shrink(ctx, next)
	}

	m.config = next
	metrics.ZramDevicesActive.Set(float64(countEnabled(next)))
	metrics.ZramReconcileTotal.Inc()
	if err := m.persist(); err != nil {
		return err
	}
	m.publish(next)
	m.notify.Info("ZRAM", fmt.Sprintf("ZRAM configuration applied (%d device(s) enabled)", countEnabled(next)))
	return nil
}

func (m *Manager) publish(cfg dto.ZramConfig) {
	if m.hub == nil {
		return
	}
	domain.Publish(m.hub, constants.TopicZramConfigApplied, cfg)
}

// checkMountSafety aborts the whole reconcile before any mutation if a
// currently-enabled ramdisk or any of its partitions is still mounted
// (4.J step 0. "never unmount on behalf of the user").
func (m *Manager) checkMountSafety() error {
	mounts := lib.ReadMounts()
	for _, d := range m.config.Devices {
		if !d.Enabled {
			continue
		}
		dev := devicePath(d.Index)
		if info, ok := mounts[dev]; ok {
			return fmt.Errorf("refusing to reconcile: %s is mounted at %s", dev, info.MountPoint)
		}
		for part, info := range mounts {
			if partitionOf(part) == dev {
				return fmt.Errorf("refusing to reconcile: partition %s of %s is mounted at %s", part, dev, info.MountPoint)
			}
		}
	}
	return nil
}

// tearDown runs pass 1 (swapoff every enabled swap device) and pass 2
// (reset every existing kernel zram device), in that order (4.J 1-2).
func (m *Manager) tearDown(ctx context.Context, current dto.ZramConfig) error {
	for _, d := range current.Devices {
		if d.Enabled && d.Type == dto.ZramTypeSwap {
			if res := m.invoker.Run(ctx, constants.SwapoffBin, devicePath(d.Index)); res.Exit != 0 {
				logger.Warning("zram: swapoff %s failed: %s", devicePath(d.Index), res.Stderr)
			}
		}
	}
	for i := 0; i < current.ZramDevices; i++ {
		resetPath := filepath.Join(SysBlockDir, "zram"+strconv.Itoa(i), "reset")
		if _, err := os.Stat(resetPath); err != nil {
			continue
		}
		if err := os.WriteFile(resetPath, []byte("1"), 0o200); err != nil {
			logger.Warning("zram: reset zram%d failed: %v", i, err)
		}
	}
	return nil
}

// buildUp brings every enabled device in next up: ensures the kernel has
// its index, sets algorithm+size, then prepares it as swap or as a
// formatted ramdisk (4.J step 3).
func (m *Manager) buildUp(ctx context.Context, next dto.ZramConfig) error {
	for i := range next.Devices {
		d := &next.Devices[i]
		if !d.Enabled {
			continue
		}
		if err := m.ensureIndex(ctx, d.Index); err != nil {
			return fmt.Errorf("device %s: %w", d.Name, err)
		}
		dev := devicePath(d.Index)
		if res := m.invoker.Run(ctx, constants.ZramctlBin, "--algorithm", d.Algorithm, "--size", strconv.FormatUint(d.SizeBytes, 10), dev); res.Exit != 0 {
			return fmt.Errorf("zramctl %s: %s", dev, res.Stderr)
		}

		switch d.Type {
		case dto.ZramTypeSwap:
			if res := m.invoker.Run(ctx, constants.MkswapBin, dev); res.Exit != 0 {
				return fmt.Errorf("mkswap %s: %s", dev, res.Stderr)
			}
			if res := m.invoker.Run(ctx, constants.SwaponBin, "--discard", "--priority", strconv.Itoa(d.Priority), dev); res.Exit != 0 {
				return fmt.Errorf("swapon %s: %s", dev, res.Stderr)
			}
		case dto.ZramTypeFS:
			if d.UUID == "" {
				uuid, err := generateUUID()
				if err != nil {
					return fmt.Errorf("generating uuid for %s: %w", dev, err)
				}
				d.UUID = uuid
			}
			if res := m.invoker.Run(ctx, constants.WipefsBin, "-a", dev); res.Exit != 0 {
				return fmt.Errorf("wipefs %s: %s", dev, res.Stderr)
			}
			if err := m.mkfs(ctx, dev, d.FSType, d.UUID); err != nil {
				return err
			}
		default:
			return fmt.Errorf("device %s: unknown type %q", d.Name, d.Type)
		}
	}
	return nil
}

func (m *Manager) mkfs(ctx context.Context, dev string, fsType dto.FSType, uuid string) error {
	switch fsType {
	case dto.FSExt4:
		if res := m.invoker.Run(ctx, constants.MkfsExt4Bin, "-F", "-U", uuid, dev); res.Exit != 0 {
			return fmt.Errorf("mkfs.ext4 %s: %s", dev, res.Stderr)
		}
	case dto.FSXFS:
		if res := m.invoker.Run(ctx, constants.MkfsXFSBin, "-f", dev); res.Exit != 0 {
			return fmt.Errorf("mkfs.xfs %s: %s", dev, res.Stderr)
		}
	case dto.FSBtrfs:
		if res := m.invoker.Run(ctx, constants.MkfsBtrfsBin, "-f", "-U", uuid, dev); res.Exit != 0 {
			return fmt.Errorf("mkfs.btrfs %s: %s", dev, res.Stderr)
		}
	default:
		if res := m.invoker.Run(ctx, constants.MkfsVfatBin, dev); res.Exit != 0 {
			return fmt.Errorf("mkfs.vfat %s: %s", dev, res.Stderr)
		}
	}
	return nil
}

// ensureIndex hot_adds zram devices until zram<idx> exists in sysfs.
// hot_add always allocates the lowest free index, so this loop converges
// as long as the kernel is willing to grow.
func (m *Manager) ensureIndex(ctx context.Context, idx int) error {
	path := filepath.Join(SysBlockDir, "zram"+strconv.Itoa(idx))
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	hotAdd := filepath.Join(ZramControlDir, "hot_add")
	for attempt := 0; attempt < hotAddAttempts; attempt++ {
		if _, err := os.ReadFile(hotAdd); err != nil {
			return fmt.Errorf("reading %s: %w", hotAdd, err)
		}
		if _, err := os.Stat(path); err == nil {
			return nil
		}
	}
	return fmt.Errorf("zram index %d did not appear after %d hot_add attempts", idx, hotAddAttempts)
}

// shrink removes kernel zram devices above the highest index next.Devices
// still needs (4.J step 4).
func (m *Manager) shrink(ctx context.Context, next dto.ZramConfig) {
	highest := -1
	for _, d := range next.Devices {
		if d.Enabled && d.Index > highest {
			highest = d.Index
		}
	}
	hotRemove := filepath.Join(ZramControlDir, "hot_remove")
	for i := next.ZramDevices - 1; i > highest; i-- {
		path := filepath.Join(SysBlockDir, "zram"+strconv.Itoa(i))
		if _, err := os.Stat(path); err != nil {
			continue
		}
		if err := os.WriteFile(hotRemove, []byte(strconv.Itoa(i)), 0o200); err != nil {
			logger.Warning("zram: hot_remove %d failed: %v", i, err)
		}
	}
}

func devicePath(index int) string {
	return "/dev/zram" + strconv.Itoa(index)
}

// partitionOf strips a trailing partition suffix (zram devices use a "p1"
// style suffix, matching nvme/mmc naming) so a mounted partition is
// correctly attributed to its parent zram device.
func partitionOf(devOrPart string) string {
	if len(devOrPart) > 2 && devOrPart[len(devOrPart)-2] == 'p' {
		if devOrPart[len(devOrPart)-1] >= '1' && devOrPart[len(devOrPart)-1] <= '9' {
			return devOrPart[:len(devOrPart)-2]
		}
	}
	return devOrPart
}

func countEnabled(cfg dto.ZramConfig) int {
	n := 0
	for _, d := range cfg.Devices {
		if d.Enabled {
			n++
		}
	}
	return n
}

func generateUUID() (string, error) {
	raw := make([]byte, 16)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	return fmt.Sprintf("%s-%s-%s-%s-%s",
		hex.EncodeToString(raw[0:4]),
		hex.EncodeToString(raw[4:6]),
		hex.EncodeToString(raw[6:8]),
		hex.EncodeToString(raw[8:10]),
		hex.EncodeToString(raw[10:16])), nil
}
