package inventory

import "testing"

func TestClassifyDevice(t *testing.T) {
	cases := map[string]string{
		"nvme0n1": "nvme",
		"mmcblk0": "emmc",
		"md0":     "md",
		"zram0":   "ramdisk",
	}
	for name, want := range cases {
		if got := string(classifyDevice(name)); got != want {
			t.Errorf("classifyDevice(%q) = %q, want %q", name, got, want)
		}
	}
}

func TestPhysicalDiskNamePattern(t *testing.T) {
	accept := []string{"sda", "sdz", "nvme0n1", "mmcblk0", "md0"}
	reject := []string{"loop0", "ram0", "dm-0", "sr0", "nbd0", "nmd0"}

	for _, name := range accept {
		if excludedDiskPrefix.MatchString(name) {
			t.Errorf("%q should not be excluded", name)
		}
		if !physicalDiskName.MatchString(name) {
			t.Errorf("%q should match physicalDiskName", name)
		}
	}
	for _, name := range reject {
		if !excludedDiskPrefix.MatchString(name) {
			t.Errorf("%q should be excluded", name)
		}
	}
}
