package pool

import (
	"context"
	"fmt"

	"github.com/ruaan-deysel/storage-control-plane/daemon/constants"
	"github.com/ruaan-deysel/storage-control-plane/daemon/dto"
	"github.com/ruaan-deysel/storage-control-plane/daemon/services/strategy"
)

// DestroyPool unmounts (if mounted), releases every strategy artifact,
// and removes the pool's persisted definition. It does not wipe device
// content; a caller that wants that runs the preclear engine first.
func (e *Engine) DestroyPool(ctx context.Context, name string) error {
	e.mu.Lock()
	p, ok := e.pools[name]
	e.mu.Unlock()
	if !ok {
		return fmt.Errorf("pool %q not found", name)
	}

	wasMounted := p.Status == dto.PoolStatusMounted
	p.Status = dto.PoolStatusDestroying
	e.mu.Lock()
	e.pools[name] = p
	_ = e.persist()
	e.mu.Unlock()

	if wasMounted {
		if _, err := e.UnmountPool(ctx, name); err != nil {
			return fmt.Errorf("unmounting before destroy: %w", err)
		}
	} else if p.Config.Encrypted {
		closeLuksMappers(ctx, e.invoker, p.AllDevices())
	}

	e.mu.Lock()
	delete(e.pools, name)
	err := e.persist()
	e.mu.Unlock()
	if err != nil {
		return fmt.Errorf("persisting pool deletion: %w", err)
	}

	e.notify.Info("Pool destroyed", fmt.Sprintf("Pool %s destroyed", name))
	p.Status = dto.PoolStatusDestroying
	e.publish(p)
	return nil
}

// AddDevice extends a BTRFS pool with one more data device, preparing it
// through the pool's existing encryption strategy and running
// `btrfs device add` against the mounted filesystem (4.H).
func (e *Engine) AddDevice(ctx context.Context, poolName, devicePath string) (dto.Pool, error) {
	e.mu.Lock()
	p, ok := e.pools[poolName]
	e.mu.Unlock()
	if !ok {
		return dto.Pool{}, fmt.Errorf("pool %q not found", poolName)
	}
	if p.FSType != dto.FSBtrfs {
		return dto.Pool{}, fmt.Errorf("addDevice is only supported for btrfs pools, %q is %s", poolName, p.FSType)
	}
	if p.Status != dto.PoolStatusMounted {
		return dto.Pool{}, fmt.Errorf("pool %q must be mounted to add a device", poolName)
	}

	if e.graph != nil {
		if res := e.graph.IsInUse(ctx, devicePath); res.InUse {
			return dto.Pool{}, fmt.Errorf("device %s already in use: %s", devicePath, res.Reason)
		}
	}

	strat := strategy.For(p.Config.Encrypted, strategy.LuksDeps{Invoker: e.invoker})
	nextSlot := len(p.AllDevices()) + 1
	infos, err := strat.Prepare(ctx, []string{devicePath}, strategy.PrepareOptions{
		PoolName:      poolName,
		Encrypted:     p.Config.Encrypted,
		Format:        true,
		CreateKeyfile: false,
		StartSlot:     nextSlot,
	})
	if err != nil {
		return dto.Pool{}, fmt.Errorf("preparing new device: %w", err)
	}

	operational := strat.GetOperationalDevicePath(infos[0])
	res := e.invoker.Run(ctx, constants.BtrfsBin, "device", "add", operational, p.MountPoint)
	if res.Exit != 0 {
		_ = strat.Cleanup(ctx, infos)
		return dto.Pool{}, fmt.Errorf("btrfs device add failed: %s", res.Stderr)
	}

	p.Devices = append(p.Devices, infos[0])
	p.UpdatedAt = currentTime()

	e.mu.Lock()
	e.pools[poolName] = p
	persistErr := e.persist()
	e.mu.Unlock()
	if persistErr != nil {
		return dto.Pool{}, fmt.Errorf("persisting added device: %w", persistErr)
	}

	e.notify.Info("Pool device added", fmt.Sprintf("%s added to pool %s", devicePath, poolName))
	e.publish(p)
	return p, nil
}

// RemoveDevice shrinks a BTRFS pool via `btrfs device remove`, then
// releases the removed device's strategy artifact.
func (e *Engine) RemoveDevice(ctx context.Context, poolName, devicePath string) (dto.Pool, error) {
	e.mu.Lock()
	p, ok := e.pools[poolName]
	e.mu.Unlock()
	if !ok {
		return dto.Pool{}, fmt.Errorf("pool %q not found", poolName)
	}
	if p.FSType != dto.FSBtrfs {
		return dto.Pool{}, fmt.Errorf("removeDevice is only supported for btrfs pools, %q is %s", poolName, p.FSType)
	}

	strat := strategy.For(p.Config.Encrypted, strategy.LuksDeps{Invoker: e.invoker})

	idx, info, found := findDevice(p.Devices, devicePath)
	if !found {
		return dto.Pool{}, fmt.Errorf("device %s is not a member of pool %q", devicePath, poolName)
	}

	operational := strat.GetOperationalDevicePath(info)
	if res := e.invoker.Run(ctx, constants.BtrfsBin, "device", "remove", operational, p.MountPoint); res.Exit != 0 {
		return dto.Pool{}, fmt.Errorf("btrfs device remove failed: %s", res.Stderr)
	}

	if err := strat.Cleanup(ctx, []dto.DeviceInfo{info}); err != nil {
		return dto.Pool{}, fmt.Errorf("releasing device strategy: %w", err)
	}

	p.Devices = append(p.Devices[:idx], p.Devices[idx+1:]...)
	p.UpdatedAt = currentTime()

	e.mu.Lock()
	e.pools[poolName] = p
	persistErr := e.persist()
	e.mu.Unlock()
	if persistErr != nil {
		return dto.Pool{}, fmt.Errorf("persisting removed device: %w", persistErr)
	}

	e.notify.Info("Pool device removed", fmt.Sprintf("%s removed from pool %s", devicePath, poolName))
	e.publish(p)
	return p, nil
}

func findDevice(devices []dto.DeviceInfo, path string) (int, dto.DeviceInfo, bool) {
	for i, d := range devices {
		if d.Path == path {
			return i, d, true
		}
	}
	return 0, dto.DeviceInfo{}, false
}
