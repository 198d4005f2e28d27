package inventory

import (
	"testing"
	"time"

	"github.com/ruaan-deysel/storage-control-plane/daemon/lib"
)

func TestClampedDelta(t *testing.T) {
	if got := clampedDelta(1000, 500); got != 0 {
		t.Errorf("clampedDelta with counter reset = %d, want 0", got)
	}
	if got := clampedDelta(500, 1000); got != 500 {
		t.Errorf("clampedDelta normal = %d, want 500", got)
	}
}

func TestSampler_FirstSampleEstablishesBaseline(t *testing.T) {
	s := NewSampler(time.Second)
	s.sampleOnce(nil)
	if s.prevAt.IsZero() {
		t.Error("expected prevAt to be set after first sample")
	}
	if len(s.Snapshot()) != 0 {
		t.Error("expected no rate samples to be published from the baseline-only first sample")
	}
}

func TestSampler_SecondSampleRefreshesBaseline(t *testing.T) {
	s := NewSampler(time.Second)
	s.prev = map[string]lib.DiskstatCounters{"sda": {SectorsRead: 1000, SectorsWritten: 500}}
	before := time.Now().Add(-time.Second)
	s.prevAt = before
	s.sampleOnce(nil)
	if !s.prevAt.After(before) {
		t.Error("expected prevAt to be refreshed")
	}
}
