// Package cmd provides command implementations for the storage control
// plane daemon.
package cmd

import (
	"context"
	"os/signal"
	"sync"
	"syscall"

	"github.com/cskr/pubsub"

	"github.com/ruaan-deysel/storage-control-plane/daemon/constants"
	"github.com/ruaan-deysel/storage-control-plane/daemon/domain"
	"github.com/ruaan-deysel/storage-control-plane/daemon/lib"
	"github.com/ruaan-deysel/storage-control-plane/daemon/logger"
	"github.com/ruaan-deysel/storage-control-plane/daemon/services/assignment"
	"github.com/ruaan-deysel/storage-control-plane/daemon/services/devicewatch"
	"github.com/ruaan-deysel/storage-control-plane/daemon/services/inventory"
	"github.com/ruaan-deysel/storage-control-plane/daemon/services/notify"
	"github.com/ruaan-deysel/storage-control-plane/daemon/services/pool"
	"github.com/ruaan-deysel/storage-control-plane/daemon/services/power"
	"github.com/ruaan-deysel/storage-control-plane/daemon/services/preclear"
	"github.com/ruaan-deysel/storage-control-plane/daemon/services/strategy"
	"github.com/ruaan-deysel/storage-control-plane/daemon/services/swap"
	"github.com/ruaan-deysel/storage-control-plane/daemon/services/zram"
)

// Boot represents the boot command that starts the storage control plane
// daemon: it wires every component around a shared event bus and runs the
// background loops until a shutdown signal arrives.
type Boot struct {
	DisableTopologyWatch bool `help:"disable the /dev hot-plug watcher"`
	DisableThroughput    bool `help:"disable the throughput sampler background loop"`
}

// Run builds the daemon's components and blocks until SIGINT/SIGTERM.
func (b *Boot) Run(appCtx *domain.Context) error {
	logger.Info("storage-control-plane v%s starting", appCtx.Version)

	if appCtx.KeyfileDir != "" {
		strategy.KeyfileDir = appCtx.KeyfileDir
	}
	if appCtx.PreclearLogDir != "" {
		preclear.LogDir = appCtx.PreclearLogDir
	}

	invoker := lib.NewInvoker()
	notifier := notify.New(appCtx.NotifySocketPath)
	hub := appCtx.Hub
	if hub == nil {
		hub = pubsub.New(64)
		appCtx.Hub = hub
	}

	oracle := power.NewOracle(invoker)
	inv := inventory.New(invoker, oracle)

	poolEngine := pool.New(invoker, notifier, nil, hub)
	graph := assignment.New(invoker, poolEngine.PoolSource, lib.ReadLegacyDisks)
	poolEngine.SetGraph(graph)

	preclearMgr := preclear.New(invoker, notifier, hub)
	zramMgr := zram.New(invoker, notifier, hub)
	swapCtl := swap.New(invoker, notifier, poolEngine, hub)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	var wg sync.WaitGroup

	if !b.DisableThroughput {
		sampler := inventory.NewSampler(appCtx.ThroughputSampleInterval)
		wg.Add(1)
		go func() {
			defer wg.Done()
			sampler.Run(ctx, hub)
		}()
		logger.Success("throughput sampler started (interval=%s)", appCtx.ThroughputSampleInterval)
	}

	if !b.DisableTopologyWatch {
		watcher, err := devicewatch.New(hub)
		if err != nil {
			logger.Warning("devicewatch: failed to start (%v); hot-plug refresh disabled", err)
		} else {
			wg.Add(1)
			go func() {
				defer wg.Done()
				defer watcher.Close()
				watcher.Run(ctx)
			}()
			wg.Add(1)
			go func() {
				defer wg.Done()
				republishDiskListOnTopologyChange(ctx, hub, inv)
			}()
			logger.Success("device topology watcher started on %s", devicewatch.DevDir)
		}
	}

	logger.Success("storage control plane ready: %d pool(s), %d active preclear job(s), zram enabled=%v, swap enabled=%v",
		len(poolEngine.ListPools()), preclearMgr.ActiveCount(), zramMgr.GetConfig().Enabled, swapCtl.GetIntent().Enabled)

	<-ctx.Done()
	stop()
	logger.Warning("shutdown signal received, stopping background loops")

	wg.Wait()
	logger.Info("shutdown complete")
	return nil
}

// republishDiskListOnTopologyChange re-lists disks and publishes the
// refreshed inventory whenever the device-topology watcher observes a
// hot-plug event, so subscribers never have to poll on a fixed interval.
func republishDiskListOnTopologyChange(ctx context.Context, hub *pubsub.PubSub, inv *inventory.Inventory) {
	changes := domain.Subscribe(hub, constants.TopicDeviceTopologyChanged)
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-changes:
			if !ok {
				return
			}
			disks := inv.ListDisks(ctx, inventory.ListOptions{})
			domain.Publish(hub, constants.TopicDiskListUpdate, disks)
		}
	}
}
