package pool

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ruaan-deysel/storage-control-plane/daemon/constants"
	"github.com/ruaan-deysel/storage-control-plane/daemon/dto"
	"github.com/ruaan-deysel/storage-control-plane/daemon/lib"
	"github.com/ruaan-deysel/storage-control-plane/daemon/logger"
	"github.com/ruaan-deysel/storage-control-plane/daemon/metrics"
)

// MountPool creates /mnt/<name> (mode 0755), mounts the pool with its
// filesystem's canonical options, and makes the mount point shared so
// later bind mounts propagate (4.H).
func (e *Engine) MountPool(ctx context.Context, name string) (dto.Pool, error) {
	e.mu.Lock()
	p, ok := e.pools[name]
	e.mu.Unlock()
	if !ok {
		return dto.Pool{}, fmt.Errorf("pool %q not found", name)
	}

	if err := os.MkdirAll(p.MountPoint, 0o755); err != nil {
		return dto.Pool{}, fmt.Errorf("creating mount point %s: %w", p.MountPoint, err)
	}

	source, args := mountArgsFor(p)
	res := e.invoker.Run(ctx, constants.MountBin, append(args, source, p.MountPoint)...)
	if res.Exit != 0 {
		ensureEmptyDirRemoved(p.MountPoint)
		return dto.Pool{}, fmt.Errorf("mount failed: %s", res.Stderr)
	}

	if res := e.invoker.Run(ctx, constants.MountBin, "--make-shared", p.MountPoint); res.Exit != 0 {
		return dto.Pool{}, fmt.Errorf("mount --make-shared failed: %s", res.Stderr)
	}

	p.Status = dto.PoolStatusMounted
	p.UpdatedAt = currentTime()

	e.mu.Lock()
	e.pools[name] = p
	persistErr := e.persist()
	e.mu.Unlock()
	if persistErr != nil {
		return dto.Pool{}, fmt.Errorf("persisting mounted status: %w", persistErr)
	}

	metrics.PoolStatus.WithLabelValues(name).Set(1)
	e.publish(p)
	return p, nil
}

// mountArgsFor returns the mount source and the filesystem-specific option
// flags for a pool, including BTRFS's degraded option so a RAID1/10 pool
// survives one missing device.
func mountArgsFor(p dto.Pool) (source string, args []string) {
	devices := p.AllDevices()
	source = operationalPath(devices[0])

	switch p.FSType {
	case dto.FSBtrfs:
		opts := "degraded"
		for _, o := range p.Config.MountOptions {
			opts += "," + o
		}
		return source, []string{"-t", "btrfs", "-o", opts}
	case dto.FSMergerFS:
		branches := ""
		for i, d := range devices {
			if i > 0 {
				branches += ":"
			}
			branches += operationalPath(d)
		}
		return "mergerfs#" + branches, []string{"-t", "fuse.mergerfs", "-o", "defaults,allow_other,category.create=mfs"}
	default:
		return source, []string{"-t", string(p.FSType)}
	}
}

// operationalPath returns the mapper path for an encrypted device, or its
// physical path otherwise — without depending on a live Strategy value,
// since the engine only holds the persisted DeviceInfo after creation.
func operationalPath(d dto.DeviceInfo) string {
	if d.MapperName == "" {
		return d.Path
	}
	return filepath.Join(constants.DevMapperDir, d.MapperName)
}

// UnmountPool unmounts a pool. For a BTRFS multi-device filesystem, one
// umount on the mount point suffices for every member device. After
// unmount, an empty mount point directory is removed and any LUKS
// mappers are closed (4.H).
func (e *Engine) UnmountPool(ctx context.Context, name string) (dto.Pool, error) {
	e.mu.Lock()
	p, ok := e.pools[name]
	e.mu.Unlock()
	if !ok {
		return dto.Pool{}, fmt.Errorf("pool %q not found", name)
	}

	res := e.invoker.Run(ctx, constants.UmountBin, p.MountPoint)
	if res.Exit != 0 {
		return dto.Pool{}, fmt.Errorf("umount failed: %s", res.Stderr)
	}
	ensureEmptyDirRemoved(p.MountPoint)

	if p.Config.Encrypted {
		closeLuksMappers(ctx, e.invoker, p.AllDevices())
	}

	p.Status = dto.PoolStatusUnmounted
	p.UpdatedAt = currentTime()

	e.mu.Lock()
	e.pools[name] = p
	persistErr := e.persist()
	e.mu.Unlock()
	if persistErr != nil {
		return dto.Pool{}, fmt.Errorf("persisting unmounted status: %w", persistErr)
	}

	metrics.PoolStatus.WithLabelValues(name).Set(0)
	e.publish(p)
	return p, nil
}

// closeLuksMappers closes every device's mapper after unmount, logging
// (but never propagating) an individual close failure (4.H/7).
func closeLuksMappers(ctx context.Context, inv *lib.Invoker, devices []dto.DeviceInfo) {
	for _, d := range devices {
		if d.MapperName == "" {
			continue
		}
		if res := inv.Run(ctx, constants.CryptsetupBin, "luksClose", d.MapperName); res.Exit != 0 {
			logger.Warning("pool: luksClose %s failed: %s", d.MapperName, res.Stderr)
		}
	}
}
