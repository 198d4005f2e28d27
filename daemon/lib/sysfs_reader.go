package lib

import (
	"bufio"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/ruaan-deysel/storage-control-plane/daemon/constants"
	"github.com/ruaan-deysel/storage-control-plane/daemon/dto"
)

// SysBlockDir and ProcDiskstats etc. are package vars (not the constants
// package's consts directly) so tests can point them at a fixture tree.
var (
	SysBlockDir         = constants.SysBlockDir
	DevDiskByUUIDDir    = constants.DevDiskByUUIDDir
	DevDiskByDiskseqDir = constants.DevDiskByDiskseqDir
	DevMapperDir        = constants.DevMapperDir
	ProcDiskstatsPath   = constants.ProcDiskstats
	ProcMountsPath      = constants.ProcMounts
	ProcSwapsPath       = constants.ProcSwaps
)

// readSysfsFile reads a file from sysfs and returns its trimmed content, or
// "" if the path does not exist. Never returns an error: non-existent sysfs
// attributes are a normal "unknown", not a failure (4.A contract).
func readSysfsFile(path string) string {
	data, err := os.ReadFile(path) //nolint:gosec // sysfs path built from a fixed directory + device name, not user input
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

// ReadRotational reports whether dev is rotational. Returns nil when the
// kernel does not expose the attribute at all.
func ReadRotational(dev string) *bool {
	raw := readSysfsFile(filepath.Join(SysBlockDir, dev, "queue", "rotational"))
	if raw == "" {
		return nil
	}
	v := raw == "1"
	return &v
}

// ReadRemovable reports whether dev is marked removable (e.g. USB sticks,
// SD cards). Non-existent attribute is treated as not removable.
func ReadRemovable(dev string) bool {
	return readSysfsFile(filepath.Join(SysBlockDir, dev, "removable")) == "1"
}

var usbPathFragment = regexp.MustCompile(`/usb\d+/`)

// ReadUsbInfo follows /sys/block/<dev>/device's realpath and, if it
// traverses a USB path fragment, extracts vendor/product/manufacturer
// strings from the enclosing USB device node. Returns nil for non-USB
// devices.
func ReadUsbInfo(dev string) *dto.USBInfo {
	deviceLink := filepath.Join(SysBlockDir, dev, "device")
	real, err := filepath.EvalSymlinks(deviceLink)
	if err != nil {
		return nil
	}
	if !usbPathFragment.MatchString(real + "/") {
		return nil
	}

	// Walk up from the SCSI/block leaf to the first ancestor directory that
	// carries idVendor/idProduct, which is the USB device node itself.
	dir := real
	for i := 0; i < 8; i++ {
		if vendor := readSysfsFile(filepath.Join(dir, "idVendor")); vendor != "" {
			return &dto.USBInfo{
				VendorID:     vendor,
				ProductID:    readSysfsFile(filepath.Join(dir, "idProduct")),
				Manufacturer: readSysfsFile(filepath.Join(dir, "manufacturer")),
				Product:      readSysfsFile(filepath.Join(dir, "product")),
				Speed:        readSysfsFile(filepath.Join(dir, "speed")),
			}
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return nil
}

// ReadTransport classifies a device's bus from the sysfs device symlink
// target and device-name prefix.
func ReadTransport(dev string) dto.Transport {
	if ReadUsbInfo(dev) != nil {
		return dto.TransportUSB
	}
	switch {
	case strings.HasPrefix(dev, "nvme"):
		return dto.TransportNVMe
	case strings.HasPrefix(dev, "mmcblk"):
		return dto.TransportMMC
	}

	deviceLink := filepath.Join(SysBlockDir, dev, "device")
	real, err := filepath.EvalSymlinks(deviceLink)
	if err != nil {
		return dto.TransportUnknown
	}
	switch {
	case strings.Contains(real, "/ata"):
		return dto.TransportATA
	case strings.Contains(real, "/scsi"):
		return dto.TransportSCSI
	default:
		return dto.TransportUnknown
	}
}

// DiskstatCounters is the subset of /proc/diskstats fields the throughput
// sampler needs (sectors read/written, field positions 3 and 7, 1-indexed
// in the proc format, converted to bytes by the caller).
type DiskstatCounters struct {
	SectorsRead    uint64
	SectorsWritten uint64
}

// ReadDiskstats parses /proc/diskstats into a map keyed by bare device name.
func ReadDiskstats() map[string]DiskstatCounters {
	out := map[string]DiskstatCounters{}
	f, err := os.Open(ProcDiskstatsPath) //nolint:gosec // fixed kernel path
	if err != nil {
		return out
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 14 {
			continue
		}
		name := fields[2]
		read, errR := strconv.ParseUint(fields[5], 10, 64)
		written, errW := strconv.ParseUint(fields[9], 10, 64)
		if errR != nil || errW != nil {
			continue
		}
		out[name] = DiskstatCounters{SectorsRead: read, SectorsWritten: written}
	}
	return out
}

// MountInfo is one /proc/mounts entry relevant to device-to-mountpoint lookup.
type MountInfo struct {
	MountPoint string
	FSType     string
}

// ReadMounts parses /proc/mounts into a map keyed by the device path exactly
// as the kernel reports it (which may be a /dev/mapper/... or /dev/sdX path).
func ReadMounts() map[string]MountInfo {
	out := map[string]MountInfo{}
	f, err := os.Open(ProcMountsPath) //nolint:gosec // fixed kernel path
	if err != nil {
		return out
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 3 {
			continue
		}
		dev := fields[0]
		if !strings.HasPrefix(dev, "/dev/") {
			continue
		}
		out[dev] = MountInfo{MountPoint: fields[1], FSType: fields[2]}
	}
	return out
}

// ReadSwaps returns the set of device paths listed active in /proc/swaps.
func ReadSwaps() map[string]bool {
	out := map[string]bool{}
	f, err := os.Open(ProcSwapsPath) //nolint:gosec // fixed kernel path
	if err != nil {
		return out
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	first := true
	for scanner.Scan() {
		if first {
			first = false // header line
			continue
		}
		fields := strings.Fields(scanner.Text())
		if len(fields) < 1 {
			continue
		}
		out[fields[0]] = true
	}
	return out
}

// ReadByUUID resolves every /dev/disk/by-uuid/* symlink to its real target.
func ReadByUUID() map[string]string {
	out := map[string]string{}
	entries, err := os.ReadDir(DevDiskByUUIDDir)
	if err != nil {
		return out
	}
	for _, entry := range entries {
		link := filepath.Join(DevDiskByUUIDDir, entry.Name())
		real, err := filepath.EvalSymlinks(link)
		if err != nil {
			continue
		}
		out[entry.Name()] = real
	}
	return out
}

// ResolveDmSlaves lists the backing device names for a /dev/mapper/<dmName>
// device by reading /sys/block/<dmX>/slaves/.
func ResolveDmSlaves(dmName string) []string {
	dmX := ResolveDmNameToDmX(dmName)
	if dmX == "" {
		return nil
	}
	entries, err := os.ReadDir(filepath.Join(SysBlockDir, dmX, "slaves"))
	if err != nil {
		return nil
	}
	slaves := make([]string, 0, len(entries))
	for _, e := range entries {
		slaves = append(slaves, e.Name())
	}
	return slaves
}

// ResolveDmNameToDmX resolves a /dev/mapper/<dmName> path to its kernel
// dmN name by following the symlink under /dev/mapper, which points at
// /dev/dmN.
func ResolveDmNameToDmX(dmName string) string {
	link := filepath.Join(DevMapperDir, dmName)
	real, err := filepath.EvalSymlinks(link)
	if err != nil {
		return ""
	}
	return filepath.Base(real)
}

// EnumerateDiskseq lists every block device the kernel has ever seen, via
// /dev/disk/by-diskseq/, resolved to bare kernel device names (4.D step 1).
func EnumerateDiskseq() []string {
	entries, err := os.ReadDir(DevDiskByDiskseqDir)
	if err != nil {
		return nil
	}
	seen := map[string]bool{}
	var out []string
	for _, entry := range entries {
		link := filepath.Join(DevDiskByDiskseqDir, entry.Name())
		real, err := filepath.EvalSymlinks(link)
		if err != nil {
			continue
		}
		name := filepath.Base(real)
		if seen[name] {
			continue
		}
		seen[name] = true
		out = append(out, name)
	}
	return out
}
