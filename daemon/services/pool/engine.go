// Package pool implements the pool lifecycle engine (4.H): validate,
// prepare devices through a strategy, format, mount, persist, and roll
// back on failure.
package pool

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/cskr/pubsub"

	"github.com/ruaan-deysel/storage-control-plane/daemon/constants"
	"github.com/ruaan-deysel/storage-control-plane/daemon/domain"
	"github.com/ruaan-deysel/storage-control-plane/daemon/dto"
	"github.com/ruaan-deysel/storage-control-plane/daemon/lib"
	"github.com/ruaan-deysel/storage-control-plane/daemon/logger"
	"github.com/ruaan-deysel/storage-control-plane/daemon/services/assignment"
	"github.com/ruaan-deysel/storage-control-plane/daemon/services/notify"
	"github.com/ruaan-deysel/storage-control-plane/daemon/services/strategy"
)

// ConfigPath is where the pool definitions file is persisted (6).
var ConfigPath = "/boot/config/system/pools.json"

// MountRoot is the parent directory pool mount points are created under.
var MountRoot = "/mnt"

// MergerFSBranchRoot is the alternate per-disk branch mount root a path may
// be validated against alongside a pool's own union mount point (4.K):
// /var/mergerfs/<pool>/<diskN>/... names one disk's branch directly, rather
// than the mergerfs union at /mnt/<pool>.
var MergerFSBranchRoot = "/var/mergerfs"

// Engine owns every pool's persisted definition and lifecycle operations.
// Callers are expected to serialize mutations per pool (4 collective); the
// engine itself only guards its own in-memory map and config file.
type Engine struct {
	invoker *lib.Invoker
	notify  *notify.Sender
	graph   *assignment.Graph
	hub     *pubsub.PubSub

	mu    sync.Mutex
	pools map[string]dto.Pool
}

// New builds an Engine and loads any persisted pool definitions. hub may
// be nil, in which case pool status changes are simply not published.
func New(invoker *lib.Invoker, notifier *notify.Sender, graph *assignment.Graph, hub *pubsub.PubSub) *Engine {
	e := &Engine{
		invoker: invoker,
		notify:  notifier,
		graph:   graph,
		hub:     hub,
		pools:   map[string]dto.Pool{},
	}
	e.load()
	return e
}

// publish broadcasts a pool's current state on TopicPoolStatusUpdate (6.
// "external interfaces").
func (e *Engine) publish(p dto.Pool) {
	if e.hub == nil {
		return
	}
	domain.Publish(e.hub, constants.TopicPoolStatusUpdate, p)
}

func (e *Engine) load() {
	var file dto.PoolConfigFile
	if err := lib.ReadJSON(ConfigPath, &file); err != nil {
		logger.Error("pool: failed to read %s: %v", ConfigPath, err)
		return
	}
	if file.Pools != nil {
		e.pools = file.Pools
	}
}

// persist must be called with e.mu held.
func (e *Engine) persist() error {
	file := dto.PoolConfigFile{Version: 1, Pools: e.pools}
	return lib.WriteJSONAtomic(ConfigPath, file, 0o644)
}

// SetGraph wires the assignment graph after construction, resolving the
// circular dependency between the pool engine (which needs IsInUse checks)
// and the assignment graph (whose PoolSource callback is this engine's own
// ListPools).
func (e *Engine) SetGraph(graph *assignment.Graph) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.graph = graph
}

// ListPools returns a snapshot of every known pool.
func (e *Engine) ListPools() []dto.Pool {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]dto.Pool, 0, len(e.pools))
	for _, p := range e.pools {
		out = append(out, p)
	}
	return out
}

// PoolSource adapts Engine to assignment.PoolSource.
func (e *Engine) PoolSource() []dto.Pool {
	return e.ListPools()
}

// FindPoolForMountedPath returns the mounted pool that path lies under, so
// callers (the swap controller in particular) can check filesystem type
// and RAID profile without duplicating the pool list (4.K).
func (e *Engine) FindPoolForMountedPath(path string) (dto.Pool, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, p := range e.pools {
		if p.Status != dto.PoolStatusMounted {
			continue
		}
		if path == p.MountPoint || strings.HasPrefix(path, p.MountPoint+"/") {
			return p, true
		}
	}
	return dto.Pool{}, false
}

// FindPoolForBranchPath returns the mounted MergerFS pool whose per-disk
// branch mount path contains path, recognizing the alternate
// /var/mergerfs/<pool>/<diskN>/... path form alongside FindPoolForMountedPath's
// /mnt/<pool>/... union mount form (4.K).
func (e *Engine) FindPoolForBranchPath(path string) (dto.Pool, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, p := range e.pools {
		if p.FSType != dto.FSMergerFS || p.Status != dto.PoolStatusMounted {
			continue
		}
		prefix := filepath.Join(MergerFSBranchRoot, p.Name)
		if path == prefix || strings.HasPrefix(path, prefix+"/") {
			return p, true
		}
	}
	return dto.Pool{}, false
}

// CreateOptions describes a createPool request.
type CreateOptions struct {
	Name          string
	FSType        dto.FSType
	RaidProfile   dto.RaidProfile
	DataDevices   []string
	ParityDevices []string
	Encrypted     bool
	CreateKeyfile bool
	Passphrase    string
	Automount     bool
	MountOptions  []string
}

// CreatePool validates the request, prepares devices via the device
// strategy, formats, persists, and mounts the new pool (4.H).
func (e *Engine) CreatePool(ctx context.Context, opts CreateOptions) (dto.Pool, error) {
	if err := e.validateCreate(opts); err != nil {
		return dto.Pool{}, err
	}

	mountPoint := filepath.Join(MountRoot, opts.Name)
	strat := strategy.For(opts.Encrypted, strategy.LuksDeps{Invoker: e.invoker})
	prepareOpts := strategy.PrepareOptions{
		PoolName:      opts.Name,
		Encrypted:     opts.Encrypted,
		Format:        true,
		CreateKeyfile: opts.CreateKeyfile,
		Passphrase:    opts.Passphrase,
		ParityCount:   len(opts.ParityDevices),
	}

	allInputs := append(append([]string{}, opts.ParityDevices...), opts.DataDevices...)
	infos, err := strat.Prepare(ctx, allInputs, prepareOpts)
	if err != nil {
		return dto.Pool{}, fmt.Errorf("preparing devices: %w", err)
	}

	if err := formatPool(ctx, e.invoker, strat, opts.FSType, opts.RaidProfile, infos); err != nil {
		_ = strat.Cleanup(ctx, infos)
		return dto.Pool{}, fmt.Errorf("formatting pool %s: %w", opts.Name, err)
	}

	parityInfos := infos[:len(opts.ParityDevices)]
	dataInfos := infos[len(opts.ParityDevices):]

	pool := dto.Pool{
		Name:          opts.Name,
		FSType:        opts.FSType,
		Encryption:    encryptionMode(opts.Encrypted),
		MountPoint:    mountPoint,
		Devices:       dataInfos,
		ParityDevices: parityInfos,
		Status:        dto.PoolStatusUnmounted,
		Config: dto.PoolConfig{
			Encrypted:     opts.Encrypted,
			CreateKeyfile: opts.CreateKeyfile,
			RaidProfile:   opts.RaidProfile,
			Automount:     opts.Automount,
			MountOptions:  opts.MountOptions,
		},
		CreatedAt: currentTime(),
		UpdatedAt: currentTime(),
	}

	e.mu.Lock()
	e.pools[pool.Name] = pool
	if err := e.persist(); err != nil {
		e.mu.Unlock()
		_ = strat.Cleanup(ctx, infos)
		return dto.Pool{}, fmt.Errorf("persisting pool %s: %w", opts.Name, err)
	}
	e.mu.Unlock()

	e.notify.Info("Pool created", fmt.Sprintf("Pool %s created on %d device(s)", opts.Name, len(infos)))

	mounted, mountErr := e.MountPool(ctx, opts.Name)
	if mountErr != nil {
		logger.Error("pool: create succeeded but mount failed for %s: %v", opts.Name, mountErr)
		e.publish(pool)
		return pool, nil
	}
	return mounted, nil
}

func (e *Engine) validateCreate(opts CreateOptions) error {
	if err := lib.ValidatePoolName(opts.Name); err != nil {
		return err
	}
	e.mu.Lock()
	_, exists := e.pools[opts.Name]
	e.mu.Unlock()
	if exists {
		return fmt.Errorf("pool %q already exists", opts.Name)
	}
	if err := lib.ValidateMountPoint(filepath.Join(MountRoot, opts.Name)); err != nil {
		return err
	}
	if err := lib.ValidateEncryption(opts.Encrypted, opts.CreateKeyfile, opts.Passphrase); err != nil {
		return err
	}
	if len(opts.DataDevices) == 0 {
		return fmt.Errorf("pool %q needs at least one data device", opts.Name)
	}
	if err := lib.ValidateRaidProfile(string(opts.RaidProfile), len(opts.DataDevices)); err != nil {
		return err
	}
	for _, dev := range append(append([]string{}, opts.DataDevices...), opts.ParityDevices...) {
		if e.graph == nil {
			continue
		}
		res := e.graph.IsInUse(context.Background(), dev)
		if res.InUse {
			return fmt.Errorf("device %s already in use: %s (%s)", dev, res.Reason, res.Detail)
		}
	}
	return nil
}

func encryptionMode(encrypted bool) dto.EncryptionMode {
	if encrypted {
		return dto.EncryptionLUKS
	}
	return dto.EncryptionNone
}

// currentTime is the engine's only clock access, kept in one place so
// production code wires a real clock while still being easy to stub.
var currentTime = time.Now

// ensureEmptyDirRemoved removes dir only if it exists and is empty,
// swallowing the "already gone" case.
func ensureEmptyDirRemoved(dir string) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}
	if len(entries) == 0 {
		if err := os.Remove(dir); err != nil {
			logger.Warning("pool: failed to remove empty mount point %s: %v", dir, err)
		}
	}
}
