package lib

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// baseDiskPSuffix strips a trailing partition ordinal for device families
// that separate the partition number with a literal "p" (NVMe, bcache,
// mmcblk) from the run of digits that ends the whole-disk name itself.
var baseDiskPSuffix = regexp.MustCompile(`^(.*\D)p\d+$`)
var trailingDigits = regexp.MustCompile(`^(.*\D)\d+$`)

// pSuffixFamily reports whether name belongs to a device family that
// delimits its partition ordinal with a literal "p" (NVMe, bcache, mmcblk).
// These families' whole-disk names themselves end in a digit (nvme0n1,
// mmcblk0), so a bare trailing-digit strip would wrongly treat the whole
// disk as a partition of something shorter.
func pSuffixFamily(name string) bool {
	return strings.HasPrefix(name, "nvme") || strings.HasPrefix(name, "mmcblk") || strings.HasPrefix(name, "bcache")
}

// BaseDisk returns the whole-disk name for a partition device name (bare
// kernel name, no /dev/ prefix), by a pure syntactic rule (testable
// property 2): NVMe and bcache and mmcblk strip a trailing "pN"; every
// other family strips trailing digits. Whole-disk names are the identity.
func BaseDisk(name string) string {
	if pSuffixFamily(name) {
		if m := baseDiskPSuffix.FindStringSubmatch(name); m != nil {
			return m[1]
		}
		return name
	}
	if m := trailingDigits.FindStringSubmatch(name); m != nil {
		return m[1]
	}
	return name
}

// sizeUnits maps binary-prefix suffixes to their byte multiplier, largest
// first so FormatSize picks the coarsest unit that divides evenly... in
// practice we just pick the largest unit where the value is >= 1 of it.
var sizeUnits = []struct {
	suffix string
	factor uint64
}{
	{"TiB", 1 << 40},
	{"GiB", 1 << 30},
	{"MiB", 1 << 20},
	{"KiB", 1 << 10},
}

// FormatSize renders a byte count using binary-prefix units, falling back
// to a bare byte count for values under 1 KiB.
func FormatSize(n uint64) string {
	for _, u := range sizeUnits {
		if n >= u.factor && n%u.factor == 0 {
			return fmt.Sprintf("%d%s", n/u.factor, u.suffix)
		}
	}
	for _, u := range sizeUnits {
		if n >= u.factor {
			v := float64(n) / float64(u.factor)
			return strconv.FormatFloat(v, 'g', -1, 64) + u.suffix
		}
	}
	return fmt.Sprintf("%dB", n)
}

var sizePattern = regexp.MustCompile(`^([0-9]*\.?[0-9]+)\s*([KMGT]i?B?|B)?$`)

// ParseSize parses a human-readable size string (as emitted by FormatSize,
// or a bare "4G"/"4GiB"/"4096" form) into a byte count. ParseSize(FormatSize(n))
// == n for every n (testable property 7).
func ParseSize(s string) (uint64, error) {
	s = strings.TrimSpace(s)
	m := sizePattern.FindStringSubmatch(s)
	if m == nil {
		return 0, fmt.Errorf("invalid size %q", s)
	}
	value, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, fmt.Errorf("invalid size %q: %w", s, err)
	}

	var factor uint64 = 1
	switch strings.ToUpper(strings.TrimSuffix(m[2], "iB")) {
	case "", "B":
		factor = 1
	case "K":
		factor = 1 << 10
	case "M":
		factor = 1 << 20
	case "G":
		factor = 1 << 30
	case "T":
		factor = 1 << 40
	default:
		return 0, fmt.Errorf("invalid size unit in %q", s)
	}

	return uint64(value * float64(factor)), nil
}

// Join returns the absolute path formed by appending rel beneath root,
// cleaning the result. It is the inverse of ExtractRelativePath.
func Join(root, rel string) string {
	root = strings.TrimRight(root, "/")
	rel = strings.TrimLeft(rel, "/")
	if rel == "" {
		return root
	}
	return root + "/" + rel
}

// ExtractRelativePath returns the portion of full that lies beneath root.
// ExtractRelativePath(Join(root, rel)) == rel for any non-empty rel
// (testable property 7).
func ExtractRelativePath(root, full string) (string, error) {
	root = strings.TrimRight(root, "/")
	if !strings.HasPrefix(full, root+"/") {
		return "", fmt.Errorf("path %q is not under root %q", full, root)
	}
	return strings.TrimPrefix(full, root+"/"), nil
}

// PartitionSuffix returns the infix a device family uses between its base
// name and a partition ordinal ("p" for nvme/mmc/bcache families, "" for
// the rest), per 4.H/4.I's partition-naming rule.
func PartitionSuffix(baseName string) string {
	switch {
	case strings.HasPrefix(baseName, "nvme"),
		strings.HasPrefix(baseName, "mmcblk"),
		strings.HasPrefix(baseName, "bcache"):
		return "p"
	default:
		return ""
	}
}

// PartitionName returns the device name of the index-th (1-based) partition
// of baseName.
func PartitionName(baseName string, index int) string {
	return fmt.Sprintf("%s%s%d", baseName, PartitionSuffix(baseName), index)
}
