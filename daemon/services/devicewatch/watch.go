// Package devicewatch watches the kernel's device-node directory for
// block-device create/remove/rename events and publishes debounced events on
// the shared bus (SPEC_FULL.md "Device hot-plug signaling"). It does not
// watch any config directory.
package devicewatch

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/cskr/pubsub"
	"github.com/fsnotify/fsnotify"

	"github.com/ruaan-deysel/storage-control-plane/daemon/constants"
	"github.com/ruaan-deysel/storage-control-plane/daemon/domain"
	"github.com/ruaan-deysel/storage-control-plane/daemon/logger"
)

// DevDir is the device-node directory watched for block-device hot-plug,
// overridable so tests never touch the real /dev.
var DevDir = "/dev"

// Debounce coalesces a burst of fsnotify events (e.g. a partition table
// rewrite touching several nodes at once) into one published event.
const Debounce = 250 * time.Millisecond

// Watcher wraps one fsnotify.Watcher instance covering DevDir.
type Watcher struct {
	fsw *fsnotify.Watcher
	hub *pubsub.PubSub

	mu     sync.Mutex
	timers map[string]*time.Timer
}

// New opens a fsnotify watcher on DevDir. hub may be nil, in which case
// events are simply not published (still useful for tests that only check
// the watcher doesn't error).
func New(hub *pubsub.PubSub) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsw.Add(DevDir); err != nil {
		fsw.Close()
		return nil, err
	}
	return &Watcher{fsw: fsw, hub: hub, timers: map[string]*time.Timer{}}, nil
}

// Run processes fsnotify events until ctx is cancelled, debouncing by
// device path before publishing TopicDeviceTopologyChanged.
func (w *Watcher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			w.debounced(filepath.Clean(event.Name))
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			logger.Warning("devicewatch: %v", err)
		}
	}
}

func (w *Watcher) debounced(devicePath string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if t, exists := w.timers[devicePath]; exists {
		t.Stop()
	}
	w.timers[devicePath] = time.AfterFunc(Debounce, func() {
		logger.Debug("devicewatch: topology change at %s", devicePath)
		if w.hub != nil {
			domain.Publish(w.hub, constants.TopicDeviceTopologyChanged, devicePath)
		}
	})
}

// Close releases the underlying fsnotify watcher.
func (w *Watcher) Close() error {
	return w.fsw.Close()
}
