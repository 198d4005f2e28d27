package inventory

import (
	"context"
	"sync"
	"time"

	"github.com/cskr/pubsub"

	"github.com/ruaan-deysel/storage-control-plane/daemon/constants"
	"github.com/ruaan-deysel/storage-control-plane/daemon/domain"
	"github.com/ruaan-deysel/storage-control-plane/daemon/dto"
	"github.com/ruaan-deysel/storage-control-plane/daemon/lib"
	"github.com/ruaan-deysel/storage-control-plane/daemon/logger"
)

// Sampler is the single process-wide throughput background task (4.E). It
// periodically reads /proc/diskstats and maintains per-device rolling
// rates, never issuing a torn read: a reader always observes either the
// pre- or post-sample snapshot (5. Ordering guarantees).
type Sampler struct {
	interval time.Duration

	mu      sync.RWMutex
	prev    map[string]lib.DiskstatCounters
	prevAt  time.Time
	samples map[string]dto.ThroughputSample
}

// NewSampler builds a Sampler with the given sample interval.
func NewSampler(interval time.Duration) *Sampler {
	return &Sampler{
		interval: interval,
		samples:  map[string]dto.ThroughputSample{},
	}
}

// Run samples /proc/diskstats on a ticker until ctx is cancelled, publishing
// each snapshot on the event bus.
func (s *Sampler) Run(ctx context.Context, hub *pubsub.PubSub) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.sampleOnce(hub)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sampleOnce(hub)
		}
	}
}

func (s *Sampler) sampleOnce(hub *pubsub.PubSub) {
	now := time.Now()
	current := lib.ReadDiskstats()

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.prevAt.IsZero() {
		s.prev = current
		s.prevAt = now
		return
	}

	elapsed := now.Sub(s.prevAt).Seconds()
	if elapsed <= 0 {
		return
	}

	var out []dto.ThroughputSample
	for name, curr := range current {
		prev, ok := s.prev[name]
		if !ok {
			continue
		}
		readBytes := clampedDelta(prev.SectorsRead, curr.SectorsRead) * 512
		writeBytes := clampedDelta(prev.SectorsWritten, curr.SectorsWritten) * 512

		sample := dto.ThroughputSample{
			DevicePath: "/dev/" + name,
			Timestamp:  now,
			ReadBytes:  curr.SectorsRead * 512,
			WriteBytes: curr.SectorsWritten * 512,
			ReadRate:   float64(readBytes) / elapsed,
			WriteRate:  float64(writeBytes) / elapsed,
		}
		s.samples[name] = sample
		out = append(out, sample)
	}

	s.prev = current
	s.prevAt = now

	if hub != nil && len(out) > 0 {
		domain.Publish(hub, constants.TopicThroughputUpdate, out)
	}
	logger.Debug("throughput: sampled %d devices", len(out))
}

// clampedDelta returns curr-prev, clamped to 0 to tolerate a counter reset
// (device replaced, kernel counter wraparound) rather than reporting a
// negative rate.
func clampedDelta(prev, curr uint64) uint64 {
	if curr < prev {
		return 0
	}
	return curr - prev
}

// Snapshot returns the most recent rolling sample for every known device.
func (s *Sampler) Snapshot() map[string]dto.ThroughputSample {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]dto.ThroughputSample, len(s.samples))
	for k, v := range s.samples {
		out[k] = v
	}
	return out
}
