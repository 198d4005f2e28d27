// Package constants provides shared paths, tool names, and tunables for the storage control plane.
package constants

const (
	// ProcDiskstats is the kernel per-device I/O counters file (4.A).
	ProcDiskstats = "/proc/diskstats"
	// ProcMounts is the kernel mount table (4.A).
	ProcMounts = "/proc/mounts"
	// ProcSwaps is the kernel active-swap list (4.A).
	ProcSwaps = "/proc/swaps"

	// SysBlockDir is the root of per-block-device sysfs attributes.
	SysBlockDir = "/sys/block"
	// DevDiskByUUIDDir holds filesystem-UUID symlinks to real device paths.
	DevDiskByUUIDDir = "/dev/disk/by-uuid"
	// DevDiskByDiskseqDir enumerates every block device the kernel has seen,
	// in discovery order, independent of naming scheme (4.D step 1).
	DevDiskByDiskseqDir = "/dev/disk/by-diskseq"
	// DevMapperDir is where device-mapper nodes (LUKS, dm, etc.) appear.
	DevMapperDir = "/dev/mapper"
	// ZramControlDir is the sysfs interface for adding/removing zram devices.
	ZramControlDir = "/sys/class/zram-control"
	// ZswapParametersDir holds the kernel zswap module's tunables.
	ZswapParametersDir = "/sys/module/zswap/parameters"

	// SmartctlBin is the smartctl binary used by the power-state oracle and SMART reads.
	SmartctlBin = "smartctl"
	// HdparmBin is not invoked by any package; the power oracle never calls
	// hdparm -C, which can wake a standby disk on some controllers (4.C).
	HdparmBin = "hdparm"
	// LsblkBin lists partitions and their filesystem metadata.
	LsblkBin = "lsblk"
	// BlkidBin resolves filesystem UUIDs/types for a device.
	BlkidBin = "blkid"
	// PartedBin partitions disks.
	PartedBin = "parted"
	// PartprobeBin re-reads a disk's partition table into the kernel.
	PartprobeBin = "partprobe"
	// WipefsBin wipes filesystem/RAID signatures before reuse.
	WipefsBin = "wipefs"
	// DdBin performs raw block copies (preclear wipe passes, swapfile creation).
	DdBin = "dd"
	// CmpBin compares a device's content against /dev/zero for the ReadCheck.
	CmpBin = "cmp"
	// CryptsetupBin manages LUKS containers.
	CryptsetupBin = "cryptsetup"
	// DmsetupBin is the mapper-removal fallback when luksClose fails.
	DmsetupBin = "dmsetup"
	// ZramctlBin sets zram device algorithm/size.
	ZramctlBin = "zramctl"
	// ZpoolBin queries ZFS pool membership for the assignment graph.
	ZpoolBin = "zpool"
	// BtrfsBin runs BTRFS filesystem/device subcommands.
	BtrfsBin = "btrfs"
	// DfBin reports filesystem free/used space.
	DfBin = "df"
	// MountBin mounts a filesystem.
	MountBin = "mount"
	// UmountBin unmounts a filesystem.
	UmountBin = "umount"
	// MkfsExt4Bin formats EXT4.
	MkfsExt4Bin = "mkfs.ext4"
	// MkfsXFSBin formats XFS.
	MkfsXFSBin = "mkfs.xfs"
	// MkfsBtrfsBin formats BTRFS.
	MkfsBtrfsBin = "mkfs.btrfs"
	// MkfsVfatBin formats VFAT (used by the ZRAM ramdisk format for filesystem
	// types other than ext4, xfs and btrfs).
	MkfsVfatBin = "mkfs.vfat"
	// MkswapBin prepares a swap signature on a file or zram device.
	MkswapBin = "mkswap"
	// SwaponBin activates swap.
	SwaponBin = "swapon"
	// SwapoffBin deactivates swap.
	SwapoffBin = "swapoff"
	// TruncateBin creates/resizes sparse files (BTRFS swapfile path).
	TruncateBin = "truncate"
	// FallocateBin preallocates file extents (BTRFS swapfile path).
	FallocateBin = "fallocate"
	// ChattrBin sets filesystem attributes (NOCOW for BTRFS swapfiles).
	ChattrBin = "chattr"
)
