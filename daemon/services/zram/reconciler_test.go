package zram

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/cskr/pubsub"

	"github.com/ruaan-deysel/storage-control-plane/daemon/dto"
	"github.com/ruaan-deysel/storage-control-plane/daemon/lib"
	"github.com/ruaan-deysel/storage-control-plane/daemon/services/notify"
)

// writeFakeZramTools installs fake swapoff/zramctl/mkswap/swapon/wipefs/
// mkfs.ext4/modprobe binaries that log every invocation and always
// succeed.
func writeFakeZramTools(t *testing.T, logPath string) string {
	t.Helper()
	dir := t.TempDir()
	names := []string{"swapoff", "zramctl", "mkswap", "swapon", "wipefs", "mkfs.ext4", "modprobe"}
	for _, name := range names {
		script := fmt.Sprintf(`#!/bin/sh
echo "%s $@" >> %q
exit 0
`, name, logPath)
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
			t.Fatal(err)
		}
	}
	return dir
}

// newSysfsTree creates a fake sysfs with zram<n> block directories (each
// containing a writable reset file) and a zram-control directory with
// hot_add/hot_remove files, so ensureIndex/tearDown/shrink never touch
// the real kernel.
func newSysfsTree(t *testing.T, existingIndices int) (sysBlock, zramControl string) {
	t.Helper()
	root := t.TempDir()
	sysBlock = filepath.Join(root, "block")
	zramControl = filepath.Join(root, "zram-control")
	if err := os.MkdirAll(sysBlock, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(zramControl, 0o755); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < existingIndices; i++ {
		dir := filepath.Join(sysBlock, fmt.Sprintf("zram%d", i))
		if err := os.MkdirAll(dir, 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(filepath.Join(dir, "reset"), nil, 0o200); err != nil {
			t.Fatal(err)
		}
	}
	// hot_add creates the next index on read, simulating the kernel.
	nextIdx := existingIndices
	hotAdd := filepath.Join(zramControl, "hot_add")
	if err := os.WriteFile(hotAdd, []byte(fmt.Sprint(nextIdx)), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(zramControl, "hot_remove"), nil, 0o200); err != nil {
		t.Fatal(err)
	}
	return sysBlock, zramControl
}

func newTestManager(t *testing.T) (*Manager, string) {
	t.Helper()
	ConfigPath = filepath.Join(t.TempDir(), "zram.json")
	logPath := filepath.Join(t.TempDir(), "calls.log")
	binDir := writeFakeZramTools(t, logPath)
	t.Setenv("PATH", binDir+string(os.PathListSeparator)+os.Getenv("PATH"))
	m := New(lib.NewInvoker(), notify.New(filepath.Join(t.TempDir(), "missing.sock")), pubsub.New(1))
	return m, logPath
}

func readLog(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return string(data)
}

// TestApplyConfig_RejectsWhenMountedZramStillMounted encodes seed scenario
// S4: /dev/zram0 mounted at /mnt/pools/cache, current config has device 0
// enabled; applying a config that disables it must fail, mentioning the
// mount point, and must not run swapoff/reset/modprobe.
func TestApplyConfig_RejectsWhenMountedZramStillMounted(t *testing.T) {
	m, logPath := newTestManager(t)
	sysBlock, zramControl := newSysfsTree(t, 1)
	SysBlockDir = sysBlock
	ZramControlDir = zramControl

	mountsFile := filepath.Join(t.TempDir(), "mounts")
	if err := os.WriteFile(mountsFile, []byte("/dev/zram0 /mnt/pools/cache ext4 rw 0 0\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	origMountsPath := lib.ProcMountsPath
	lib.ProcMountsPath = mountsFile
	defer func() { lib.ProcMountsPath = origMountsPath }()

	current := dto.ZramConfig{
		Enabled:     true,
		ZramDevices: 1,
		Devices: []dto.ZramDevice{
			{ID: "zd-0", Name: "zram0", Enabled: true, Index: 0, Algorithm: "lz4", SizeBytes: 1 << 30, Type: dto.ZramTypeFS, FSType: dto.FSExt4},
		},
	}
	m.mu.Lock()
	m.config = current
	m.mu.Unlock()

	next := current
	next.Devices = []dto.ZramDevice{{ID: "zd-0", Name: "zram0", Enabled: false, Index: 0, Algorithm: "lz4", SizeBytes: 1 << 30, Type: dto.ZramTypeFS, FSType: dto.FSExt4}}

	err := m.ApplyConfig(context.Background(), next)
	if err == nil {
		t.Fatal("expected an error rejecting the reconcile")
	}
	if !strings.Contains(err.Error(), "/mnt/pools/cache") {
		t.Errorf("expected error to mention the mount point, got: %v", err)
	}

	log := readLog(t, logPath)
	if log != "" {
		t.Errorf("expected no tool invocations, got:\n%s", log)
	}

	persisted := m.GetConfig()
	if !reflectEqual(persisted, current) {
		t.Errorf("expected persisted config unchanged, got %+v", persisted)
	}
}

func reflectEqual(a, b dto.ZramConfig) bool {
	if a.Enabled != b.Enabled || a.ZramDevices != b.ZramDevices || len(a.Devices) != len(b.Devices) {
		return false
	}
	for i := range a.Devices {
		if a.Devices[i] != b.Devices[i] {
			return false
		}
	}
	return true
}

// TestApplyConfig_IdempotentReconcile encodes testable property 5:
// applying the same configuration twice must not re-run swap/mkfs the
// second time.
func TestApplyConfig_IdempotentReconcile(t *testing.T) {
	m, logPath := newTestManager(t)
	sysBlock, zramControl := newSysfsTree(t, 1)
	SysBlockDir = sysBlock
	ZramControlDir = zramControl

	next := dto.ZramConfig{
		Enabled:     true,
		ZramDevices: 1,
		Devices: []dto.ZramDevice{
			{ID: "zd-0", Name: "zram0", Enabled: true, Index: 0, Algorithm: "lz4", SizeBytes: 1 << 30, Type: dto.ZramTypeSwap, Priority: 10},
		},
	}

	if err := m.ApplyConfig(context.Background(), next); err != nil {
		t.Fatalf("first ApplyConfig: %v", err)
	}
	firstLog := readLog(t, logPath)
	if !strings.Contains(firstLog, "mkswap") || !strings.Contains(firstLog, "swapon") {
		t.Fatalf("expected mkswap/swapon to run on first apply, got:\n%s", firstLog)
	}

	if err := m.ApplyConfig(context.Background(), next); err != nil {
		t.Fatalf("second ApplyConfig: %v", err)
	}
	secondLog := readLog(t, logPath)
	if secondLog != firstLog {
		t.Fatalf("expected no new tool invocations on the repeat apply, first:\n%s\nsecond:\n%s", firstLog, secondLog)
	}
}

func TestApplyConfig_BuildsSwapDevice(t *testing.T) {
	m, logPath := newTestManager(t)
	sysBlock, zramControl := newSysfsTree(t, 1)
	SysBlockDir = sysBlock
	ZramControlDir = zramControl

	next := dto.ZramConfig{
		Enabled:     true,
		ZramDevices: 1,
		Devices: []dto.ZramDevice{
			{ID: "zd-0", Name: "zram0", Enabled: true, Index: 0, Algorithm: "zstd", SizeBytes: 2 << 30, Type: dto.ZramTypeSwap, Priority: 5},
		},
	}
	if err := m.ApplyConfig(context.Background(), next); err != nil {
		t.Fatalf("ApplyConfig: %v", err)
	}

	log := readLog(t, logPath)
	if !strings.Contains(log, "zramctl --algorithm zstd --size 2147483648 /dev/zram0") {
		t.Errorf("expected zramctl call with algorithm+size, got:\n%s", log)
	}
	if !strings.Contains(log, "swapon --discard --priority 5 /dev/zram0") {
		t.Errorf("expected swapon with priority, got:\n%s", log)
	}

	if _, err := os.Stat(filepath.Join(sysBlock, "zram0")); err != nil {
		t.Errorf("expected zram0 to exist after ensureIndex: %v", err)
	}
}

func TestAddDevice_RejectsDuplicateIndex(t *testing.T) {
	m, _ := newTestManager(t)
	sysBlock, zramControl := newSysfsTree(t, 1)
	SysBlockDir = sysBlock
	ZramControlDir = zramControl

	_, err := m.AddDevice(context.Background(), dto.ZramDevice{Name: "zram0", Enabled: true, Index: 0, Algorithm: "lz4", SizeBytes: 1 << 20, Type: dto.ZramTypeSwap})
	if err != nil {
		t.Fatalf("AddDevice: %v", err)
	}
	_, err = m.AddDevice(context.Background(), dto.ZramDevice{Name: "zram0b", Enabled: true, Index: 0, Algorithm: "lz4", SizeBytes: 1 << 20, Type: dto.ZramTypeSwap})
	if err == nil {
		t.Fatal("expected an error for a duplicate index")
	}
}

func TestUpdateDevice_RejectsIndexChange(t *testing.T) {
	m, _ := newTestManager(t)
	sysBlock, zramControl := newSysfsTree(t, 1)
	SysBlockDir = sysBlock
	ZramControlDir = zramControl

	cfg, err := m.AddDevice(context.Background(), dto.ZramDevice{Name: "zram0", Enabled: true, Index: 0, Algorithm: "lz4", SizeBytes: 1 << 20, Type: dto.ZramTypeSwap})
	if err != nil {
		t.Fatalf("AddDevice: %v", err)
	}
	id := cfg.Devices[0].ID

	_, err = m.UpdateDevice(context.Background(), id, dto.ZramDevice{Index: 1, Algorithm: "lz4", SizeBytes: 1 << 20, Type: dto.ZramTypeSwap})
	if err == nil {
		t.Fatal("expected an error changing index")
	}
}
