package inventory

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/ruaan-deysel/storage-control-plane/daemon/dto"
	"github.com/ruaan-deysel/storage-control-plane/daemon/lib"
	"github.com/ruaan-deysel/storage-control-plane/daemon/services/assignment"
	"github.com/ruaan-deysel/storage-control-plane/daemon/services/power"
)

// TestBootDiskEligiblePartitionsOnly_HidesFirstTwoPartitions covers seed
// scenario S2: sda1 (EFI) and sda2 (root) must never surface, only sda3.
func TestBootDiskEligiblePartitionsOnly_HidesFirstTwoPartitions(t *testing.T) {
	disk := dto.PhysicalDevice{
		Path: "/dev/sda",
		Name: "sda",
		Partitions: []dto.Partition{
			{DevicePath: "/dev/sda1", Index: 1, MountPoint: "/boot/efi"},
			{DevicePath: "/dev/sda2", Index: 2, MountPoint: "/"},
			{DevicePath: "/dev/sda3", Index: 3},
		},
	}
	graph := assignment.New(lib.NewInvoker(), func() []dto.Pool { return nil }, nil)

	origMounts := lib.ProcMountsPath
	lib.ProcMountsPath = "/nonexistent-for-test"
	t.Cleanup(func() { lib.ProcMountsPath = origMounts })

	out := bootDiskEligiblePartitionsOnly(disk, graph, context.Background())
	if len(out) != 1 {
		t.Fatalf("got %d eligible partitions, want 1", len(out))
	}
	if out[0].Path != "/dev/sda3" {
		t.Errorf("Path = %q, want /dev/sda3", out[0].Path)
	}
}

// TestGetUnassignedDisks_BootDiskCarveOutSurvivesWholeDiskInUseCheck covers
// seed scenario S2 through the real entry point: on an actual boot disk,
// IsInUse(/dev/sda) is always true (sda1/sda2 are always mounted), so the
// BootDiskName branch must run before that check, not after it. Regression
// test for a bug where the carve-out was unreachable for any real system.
func TestGetUnassignedDisks_BootDiskCarveOutSurvivesWholeDiskInUseCheck(t *testing.T) {
	root := t.TempDir()

	devTargets := filepath.Join(root, "devtargets")
	if err := os.MkdirAll(devTargets, 0o755); err != nil {
		t.Fatal(err)
	}
	sdaTarget := filepath.Join(devTargets, "sda")
	if err := os.WriteFile(sdaTarget, nil, 0o644); err != nil {
		t.Fatal(err)
	}

	diskseqDir := filepath.Join(root, "diskseq")
	if err := os.MkdirAll(diskseqDir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.Symlink(sdaTarget, filepath.Join(diskseqDir, "1")); err != nil {
		t.Fatal(err)
	}

	mountsPath := filepath.Join(root, "mounts")
	mountsContent := "/dev/sda1 /boot/efi vfat rw 0 0\n/dev/sda2 / ext4 rw 0 0\n"
	if err := os.WriteFile(mountsPath, []byte(mountsContent), 0o644); err != nil {
		t.Fatal(err)
	}

	origDiskseq := lib.DevDiskByDiskseqDir
	origSysBlock := lib.SysBlockDir
	origMounts := lib.ProcMountsPath
	lib.DevDiskByDiskseqDir = diskseqDir
	lib.SysBlockDir = filepath.Join(root, "sysblock") // deliberately empty: every sysfs read degrades to its zero value
	lib.ProcMountsPath = mountsPath
	t.Cleanup(func() {
		lib.DevDiskByDiskseqDir = origDiskseq
		lib.SysBlockDir = origSysBlock
		lib.ProcMountsPath = origMounts
	})

	binDir := writeFakeInventoryTools(t)
	t.Setenv("PATH", binDir+string(os.PathListSeparator)+os.Getenv("PATH"))

	invoker := lib.NewInvoker()
	inv := New(invoker, power.NewOracle(invoker))
	graph := assignment.New(invoker, func() []dto.Pool { return nil }, nil)

	out := inv.GetUnassignedDisks(context.Background(), UnassignedOptions{BootDiskName: "sda"}, graph)

	if len(out) != 1 {
		t.Fatalf("GetUnassignedDisks returned %d disk(s), want 1: %+v", len(out), out)
	}
	if out[0].Path != "/dev/sda3" {
		t.Errorf("Path = %q, want /dev/sda3", out[0].Path)
	}
}

// writeFakeInventoryTools installs fake lsblk/df/smartctl/zramctl binaries
// on a fresh PATH directory so GetUnassignedDisks's real pipeline runs
// against deterministic, fixture-driven output instead of the host's tools.
func writeFakeInventoryTools(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()

	lsblkJSON := `{"blockdevices":[{"name":"sda","size":1000000000000,"children":[` +
		`{"name":"sda1","size":500000000,"fstype":"vfat","mountpoint":"/boot/efi"},` +
		`{"name":"sda2","size":20000000000,"fstype":"ext4","mountpoint":"/"},` +
		`{"name":"sda3","size":100000000000,"fstype":"","mountpoint":""}` +
		`]}]}`
	writeFakeBin(t, dir, "lsblk", fmt.Sprintf("echo '%s'\nexit 0\n", lsblkJSON))
	writeFakeBin(t, dir, "df", "echo 'Used Avail'\necho '0 0'\nexit 0\n")
	writeFakeBin(t, dir, "smartctl", "echo ACTIVE\nexit 0\n")
	writeFakeBin(t, dir, "zramctl", "exit 0\n")

	return dir
}

func writeFakeBin(t *testing.T, dir, name, body string) {
	t.Helper()
	script := "#!/bin/sh\n" + body
	if err := os.WriteFile(filepath.Join(dir, name), []byte(script), 0o755); err != nil {
		t.Fatal(err)
	}
}

func TestPartitionOrdinal(t *testing.T) {
	cases := map[string]string{
		"/dev/sda1":      "1",
		"/dev/sda3":      "3",
		"/dev/nvme0n1p2": "2",
	}
	for path, want := range cases {
		m := partitionOrdinal.FindStringSubmatch(path)
		if m == nil || m[1] != want {
			t.Errorf("partitionOrdinal(%q) = %v, want %q", path, m, want)
		}
	}
}
