package swap

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/cskr/pubsub"

	"github.com/ruaan-deysel/storage-control-plane/daemon/dto"
	"github.com/ruaan-deysel/storage-control-plane/daemon/lib"
	"github.com/ruaan-deysel/storage-control-plane/daemon/services/notify"
)

// fakePoolSource resolves exactly one pool, for tests. branchRoot, when
// set, is an additional path prefix accepted the way a mergerfs per-disk
// branch mount would be.
type fakePoolSource struct {
	pool       dto.Pool
	branchRoot string
}

func (f fakePoolSource) FindPoolForMountedPath(path string) (dto.Pool, bool) {
	if strings.HasPrefix(path, f.pool.MountPoint+"/") || path == f.pool.MountPoint {
		return f.pool, true
	}
	return dto.Pool{}, false
}

func (f fakePoolSource) FindPoolForBranchPath(path string) (dto.Pool, bool) {
	if f.branchRoot == "" {
		return dto.Pool{}, false
	}
	if strings.HasPrefix(path, f.branchRoot+"/") || path == f.branchRoot {
		return f.pool, true
	}
	return dto.Pool{}, false
}

// writeFakeSwapTools installs fake truncate/chattr/fallocate/dd/mkswap/
// swapon/swapoff/df binaries. df always reports 10 GiB available.
func writeFakeSwapTools(t *testing.T, logPath string) string {
	t.Helper()
	dir := t.TempDir()
	simple := []string{"truncate", "chattr", "fallocate", "mkswap", "swapon", "swapoff"}
	for _, name := range simple {
		script := fmt.Sprintf(`#!/bin/sh
echo "%s $@" >> %q
exit 0
`, name, logPath)
		if err := os.WriteFile(filepath.Join(dir, name), []byte(script), 0o755); err != nil {
			t.Fatal(err)
		}
	}
	// dd sleeps briefly so a test racing a second ApplyIntent against a
	// still-running creation observes the busy flag still held.
	ddScript := fmt.Sprintf(`#!/bin/sh
sleep 0.3
echo "dd $@" >> %q
exit 0
`, logPath)
	if err := os.WriteFile(filepath.Join(dir, "dd"), []byte(ddScript), 0o755); err != nil {
		t.Fatal(err)
	}
	dfScript := fmt.Sprintf(`#!/bin/sh
echo "df $@" >> %q
echo "Avail"
echo "10737418240"
exit 0
`, logPath)
	if err := os.WriteFile(filepath.Join(dir, "df"), []byte(dfScript), 0o755); err != nil {
		t.Fatal(err)
	}
	return dir
}

func newTestController(t *testing.T, pool dto.Pool) (*Controller, string) {
	t.Helper()
	ConfigPath = filepath.Join(t.TempDir(), "swap.json")
	ZswapParametersDir = t.TempDir()
	logPath := filepath.Join(t.TempDir(), "calls.log")
	binDir := writeFakeSwapTools(t, logPath)
	t.Setenv("PATH", binDir+string(os.PathListSeparator)+os.Getenv("PATH"))
	c := New(lib.NewInvoker(), notify.New(filepath.Join(t.TempDir(), "missing.sock")), fakePoolSource{pool: pool}, pubsub.New(1))
	return c, logPath
}

func waitForLogContains(t *testing.T, logPath, substr string, timeout time.Duration) string {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for {
		data, _ := os.ReadFile(logPath)
		if strings.Contains(string(data), substr) {
			return string(data)
		}
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for log to contain %q, got:\n%s", substr, data)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

// TestApplyIntent_BtrfsSwapfileCreation encodes seed scenario S5.
func TestApplyIntent_BtrfsSwapfileCreation(t *testing.T) {
	pool := dto.Pool{
		Name:       "pool1",
		FSType:     dto.FSBtrfs,
		MountPoint: filepath.Join(t.TempDir(), "pool1"),
		Status:     dto.PoolStatusMounted,
		Config:     dto.PoolConfig{RaidProfile: dto.RaidSingle},
	}
	if err := os.MkdirAll(pool.MountPoint, 0o755); err != nil {
		t.Fatal(err)
	}
	c, logPath := newTestController(t, pool)

	next := dto.SwapfileIntent{
		Enabled:   true,
		Path:      filepath.Join(pool.MountPoint, "swap"),
		SizeBytes: 4 << 30,
		Priority:  -2,
		Config: dto.ZswapIntent{
			Enabled:                true,
			Compressor:             "zstd",
			Shrinker:               true,
			MaxPoolPercent:         20,
			AcceptThresholdPercent: 90,
		},
	}

	status, err := c.ApplyIntent(context.Background(), next)
	if err != nil {
		t.Fatalf("ApplyIntent: %v", err)
	}
	if status.State != "creating" {
		t.Fatalf("expected immediate status %q, got %q", "creating", status.State)
	}

	log := waitForLogContains(t, logPath, "swapon", 5*time.Second)
	for _, want := range []string{"truncate -s 0", "chattr +C", fmt.Sprintf("fallocate -l %d", next.SizeBytes), "mkswap", "swapon --priority -2"} {
		if !strings.Contains(log, want) {
			t.Errorf("expected log to contain %q, got:\n%s", want, log)
		}
	}

	zswapEnabled, readErr := os.ReadFile(filepath.Join(ZswapParametersDir, "enabled"))
	if readErr != nil {
		t.Fatalf("reading zswap enabled param: %v", readErr)
	}
	if string(zswapEnabled) != "Y" {
		t.Errorf("expected zswap enabled=Y, got %q", zswapEnabled)
	}
	compressor, readErr := os.ReadFile(filepath.Join(ZswapParametersDir, "compressor"))
	if readErr != nil {
		t.Fatalf("reading zswap compressor param: %v", readErr)
	}
	if string(compressor) != "zstd" {
		t.Errorf("expected compressor=zstd, got %q", compressor)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		intent := c.GetIntent()
		if intent.Path == next.Path {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for intent to be persisted")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestApplyIntent_RejectsRaidBtrfsPool(t *testing.T) {
	pool := dto.Pool{
		Name:       "pool1",
		FSType:     dto.FSBtrfs,
		MountPoint: filepath.Join(t.TempDir(), "pool1"),
		Status:     dto.PoolStatusMounted,
		Config:     dto.PoolConfig{RaidProfile: dto.RaidRaid1},
	}
	if err := os.MkdirAll(pool.MountPoint, 0o755); err != nil {
		t.Fatal(err)
	}
	c, _ := newTestController(t, pool)

	next := dto.SwapfileIntent{Enabled: true, Path: filepath.Join(pool.MountPoint, "swap"), SizeBytes: 1 << 30}
	_, err := c.ApplyIntent(context.Background(), next)
	if err == nil {
		t.Fatal("expected an error for a RAID BTRFS pool")
	}
}

// TestApplyIntent_AcceptsMergerFSBranchPath is the regression test for
// validateEnable rejecting a swapfile placed on an individual mergerfs
// per-disk branch (/var/mergerfs/<pool>/diskN/...) rather than under the
// pool's own union mount point (4.K).
func TestApplyIntent_AcceptsMergerFSBranchPath(t *testing.T) {
	pool := dto.Pool{
		Name:       "pool1",
		FSType:     dto.FSMergerFS,
		MountPoint: filepath.Join(t.TempDir(), "mnt-pool1"),
		Status:     dto.PoolStatusMounted,
	}
	branchRoot := filepath.Join(t.TempDir(), "var-mergerfs-pool1", "disk1")
	if err := os.MkdirAll(branchRoot, 0o755); err != nil {
		t.Fatal(err)
	}

	ConfigPath = filepath.Join(t.TempDir(), "swap.json")
	ZswapParametersDir = t.TempDir()
	logPath := filepath.Join(t.TempDir(), "calls.log")
	binDir := writeFakeSwapTools(t, logPath)
	t.Setenv("PATH", binDir+string(os.PathListSeparator)+os.Getenv("PATH"))

	source := fakePoolSource{pool: pool, branchRoot: branchRoot}
	c := New(lib.NewInvoker(), notify.New(filepath.Join(t.TempDir(), "missing.sock")), source, pubsub.New(1))

	next := dto.SwapfileIntent{Enabled: true, Path: filepath.Join(branchRoot, "swap"), SizeBytes: 1 << 20}
	status, err := c.ApplyIntent(context.Background(), next)
	if err != nil {
		t.Fatalf("ApplyIntent rejected a valid mergerfs branch path: %v", err)
	}
	if status.State != "creating" {
		t.Fatalf("expected immediate status %q, got %q", "creating", status.State)
	}
}

func TestApplyIntent_RejectsConcurrentOperations(t *testing.T) {
	pool := dto.Pool{
		Name:       "pool1",
		FSType:     dto.FSExt4,
		MountPoint: filepath.Join(t.TempDir(), "pool1"),
		Status:     dto.PoolStatusMounted,
	}
	if err := os.MkdirAll(pool.MountPoint, 0o755); err != nil {
		t.Fatal(err)
	}
	c, _ := newTestController(t, pool)

	next := dto.SwapfileIntent{Enabled: true, Path: filepath.Join(pool.MountPoint, "swap"), SizeBytes: 1 << 20}
	if _, err := c.ApplyIntent(context.Background(), next); err != nil {
		t.Fatalf("first ApplyIntent: %v", err)
	}

	_, err := c.ApplyIntent(context.Background(), next)
	if err == nil {
		t.Fatal("expected an error for an overlapping operation")
	}
}
