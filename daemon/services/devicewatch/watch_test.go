package devicewatch

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/cskr/pubsub"

	"github.com/ruaan-deysel/storage-control-plane/daemon/constants"
	"github.com/ruaan-deysel/storage-control-plane/daemon/domain"
)

func TestWatcher_PublishesOnNodeCreate(t *testing.T) {
	DevDir = t.TempDir()

	hub := pubsub.New(1)
	ch := domain.Subscribe(hub, constants.TopicDeviceTopologyChanged)

	w, err := New(hub)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer w.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	path := filepath.Join(DevDir, "sdz")
	if err := os.WriteFile(path, nil, 0o644); err != nil {
		t.Fatal(err)
	}

	select {
	case got := <-ch:
		if got != path {
			t.Errorf("published path = %q, want %q", got, path)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for a published topology change")
	}
}
