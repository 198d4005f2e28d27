// Package preclear implements the cancellable device wipe state machine
// (4.I): `Idle -> Starting -> WipingPass(i) -> Wiping... -> (ReadCheck?) ->
// Done | Aborted | Error`.
package preclear

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cskr/pubsub"

	"github.com/ruaan-deysel/storage-control-plane/daemon/constants"
	"github.com/ruaan-deysel/storage-control-plane/daemon/domain"
	"github.com/ruaan-deysel/storage-control-plane/daemon/dto"
	"github.com/ruaan-deysel/storage-control-plane/daemon/lib"
	"github.com/ruaan-deysel/storage-control-plane/daemon/logger"
	"github.com/ruaan-deysel/storage-control-plane/daemon/metrics"
	"github.com/ruaan-deysel/storage-control-plane/daemon/services/notify"
)

// LogDir holds per-device ReadCheck logs (6).
var LogDir = "/var/log/preclear"

// LogCap bounds a ReadCheck log file before a truncation sentinel is
// appended (4.I).
const LogCap = 5 * 1024 * 1024

// CmpHeadLines bounds the ReadCheck comparison to the first N differing
// byte offsets, so a fully-contaminated device never exhausts memory (4.I).
const CmpHeadLines = 10000

// cancelGrace is how long Cancel waits after SIGTERM before the child is
// SIGKILLed (4.I).
const cancelGrace = 2 * time.Second

// Options parametrizes one preclear run.
type Options struct {
	Algorithm  dto.PreclearAlgorithm
	PassCount  int
	ReadCheck  bool
	Log        bool
	FormatSpec *FormatSpec // nil means no post-success format
}

// FormatSpec describes the format handoff that runs after a successful
// wipe, when requested (4.I).
type FormatSpec struct {
	FSType    dto.FSType
	Partition bool
}

// job is a running preclear task's private state.
type job struct {
	public dto.PreclearJob
	cancel context.CancelFunc
}

// Manager runs and tracks preclear jobs, at most one per device (4.I, 5).
type Manager struct {
	invoker *lib.Invoker
	notify  *notify.Sender
	hub     *pubsub.PubSub

	mu      sync.Mutex
	running map[string]*job
}

// New builds a Manager. hub may be nil, in which case phase transitions
// are simply not published.
func New(invoker *lib.Invoker, notifier *notify.Sender, hub *pubsub.PubSub) *Manager {
	return &Manager{invoker: invoker, notify: notifier, hub: hub, running: map[string]*job{}}
}

func (m *Manager) publish(j dto.PreclearJob) {
	if m.hub == nil {
		return
	}
	domain.Publish(m.hub, constants.TopicPreclearProgress, j)
}

// Start validates and launches a preclear job for devicePath, returning
// immediately with the job's initial state. isSystemDisk lets the caller
// refuse clearing the boot device without this package knowing how boot
// disks are identified.
func (m *Manager) Start(devicePath string, isSystemDisk bool, opts Options) (dto.PreclearJob, error) {
	if isSystemDisk {
		return dto.PreclearJob{}, fmt.Errorf("refusing to preclear the system disk %s", devicePath)
	}
	if opts.PassCount <= 0 {
		return dto.PreclearJob{}, fmt.Errorf("pass count must be positive, got %d", opts.PassCount)
	}
	if opts.Algorithm == dto.AlgorithmOneZero && opts.PassCount%2 != 0 {
		return dto.PreclearJob{}, fmt.Errorf("algorithm one-zero requires an even pass count, got %d", opts.PassCount)
	}
	if opts.ReadCheck && !opts.Algorithm.EndsInZero() {
		return dto.PreclearJob{}, fmt.Errorf("readCheck requires an algorithm ending in zero, %q does not", opts.Algorithm)
	}

	m.mu.Lock()
	if _, exists := m.running[devicePath]; exists {
		m.mu.Unlock()
		return dto.PreclearJob{}, fmt.Errorf("a preclear job already exists for %s", devicePath)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	public := dto.PreclearJob{
		ID:         jobID(devicePath),
		DevicePath: devicePath,
		Algorithm:  opts.Algorithm,
		PassCount:  opts.PassCount,
		Phase:      dto.PhasePending,
		StartedAt:  currentTime(),
		LogPath:    logPathFor(devicePath),
	}
	j := &job{public: public, cancel: cancel}
	m.running[devicePath] = j
	m.mu.Unlock()

	metrics.PreclearActiveJobs.Inc()
	m.notify.Info("Preclear", fmt.Sprintf("Preclear started on %s", baseName(devicePath)))

	go m.run(runCtx, devicePath, opts)

	return public, nil
}

// currentTime is overridable for deterministic tests.
var currentTime = time.Now

// ActiveCount returns the number of preclear jobs currently running.
func (m *Manager) ActiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.running)
}

// Get returns a snapshot of devicePath's job while it is running. finish
// removes a job from the running map as soon as it reaches a terminal
// phase; the terminal snapshot is published on TopicPreclearProgress.
func (m *Manager) Get(devicePath string) (dto.PreclearJob, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.running[devicePath]
	if !ok {
		return dto.PreclearJob{}, false
	}
	return j.public, true
}

// Cancel marks devicePath's job aborted and cancels its context: the
// active child receives SIGTERM, then SIGKILL after cancelGrace if it
// has not exited (4.I).
func (m *Manager) Cancel(devicePath string) error {
	m.mu.Lock()
	j, ok := m.running[devicePath]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("no preclear job running for %s", devicePath)
	}
	j.public.Cancelled = true
	m.mu.Unlock()

	j.cancel()
	return nil
}

func (m *Manager) setPhase(devicePath string, phase dto.PreclearPhase, progress float64) {
	m.mu.Lock()
	j, ok := m.running[devicePath]
	if !ok {
		m.mu.Unlock()
		return
	}
	j.public.Phase = phase
	j.public.Progress = progress
	metrics.PreclearProgress.WithLabelValues(devicePath).Set(progress)
	snapshot := j.public
	m.mu.Unlock()
	m.publish(snapshot)
}

func (m *Manager) finish(devicePath string, phase dto.PreclearPhase, jobErr error) {
	m.mu.Lock()
	j, ok := m.running[devicePath]
	var snapshot dto.PreclearJob
	if ok {
		now := currentTime()
		j.public.Phase = phase
		j.public.FinishedAt = &now
		if jobErr != nil {
			j.public.Error = jobErr.Error()
		}
		snapshot = j.public
		delete(m.running, devicePath)
	}
	m.mu.Unlock()
	if ok {
		m.publish(snapshot)
	}

	metrics.PreclearActiveJobs.Dec()
	metrics.PreclearProgress.DeleteLabelValues(devicePath)

	switch phase {
	case dto.PhaseComplete:
		m.notify.Info("Preclear", fmt.Sprintf("Preclear completed on %s", baseName(devicePath)))
	case dto.PhaseCancelled:
		m.notify.Info("Preclear", fmt.Sprintf("Preclear aborted on %s", baseName(devicePath)))
	case dto.PhaseFailed:
		m.notify.Alert("Preclear", fmt.Sprintf("Preclear failed on %s: %v", baseName(devicePath), jobErr))
	}
	if !ok {
		logger.Warning("preclear: job for %s vanished from the running map before completion", devicePath)
	}
}

func jobID(devicePath string) string {
	return "preclear-" + baseName(devicePath) + "-" + fmt.Sprint(currentTime().UnixNano())
}

func baseName(devicePath string) string {
	for i := len(devicePath) - 1; i >= 0; i-- {
		if devicePath[i] == '/' {
			return devicePath[i+1:]
		}
	}
	return devicePath
}
