// Package metrics exposes the control plane's internal state as Prometheus
// gauges against a private registry. There is no HTTP listener here — the
// HTTP API layer is an external collaborator per the core's scope — but the
// registry lets an embedding process (or a test) scrape the gauges below.
// The pool, preclear, ZRAM and swap services set their gauges; the disk
// temperature, standby, throughput and pool free-bytes gauges are registered
// but no package sets them.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	DiskTemperatureCelsius = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "storage_disk_temperature_celsius",
			Help: "Disk temperature in Celsius, absent while standbySkipped.",
		},
		[]string{"device"},
	)
	DiskStandby = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "storage_disk_standby",
			Help: "Disk power state (1=standby, 0=active, gauge absent when unknown).",
		},
		[]string{"device"},
	)
	DiskThroughputReadBytesPerSec = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "storage_disk_read_bytes_per_second",
			Help: "Rolling read rate for a base disk.",
		},
		[]string{"device"},
	)
	DiskThroughputWriteBytesPerSec = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "storage_disk_write_bytes_per_second",
			Help: "Rolling write rate for a base disk.",
		},
		[]string{"device"},
	)

	PoolStatus = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "storage_pool_mounted",
			Help: "Pool mount state (1=mounted, 0=not mounted).",
		},
		[]string{"pool"},
	)
	PoolFreeBytes = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "storage_pool_free_bytes",
			Help: "Free space on a mounted pool.",
		},
		[]string{"pool"},
	)

	PreclearActiveJobs = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "storage_preclear_active_jobs",
		Help: "Number of preclear jobs currently running.",
	})
	PreclearProgress = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "storage_preclear_progress_ratio",
			Help: "Current preclear job progress, 0.0-1.0 within its phase.",
		},
		[]string{"device"},
	)

	ZramDevicesActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "storage_zram_devices_active",
		Help: "Number of zram devices enabled in the applied configuration.",
	})
	ZramReconcileTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "storage_zram_reconcile_total",
		Help: "Number of ZRAM reconcile passes completed.",
	})

	SwapBusy = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "storage_swap_controller_busy",
		Help: "Swap controller single-writer busy flag (1=busy).",
	})
)

// Registry is a private registry, never wired to an HTTP handler by this
// package; an embedding process decides whether and how to expose it.
var Registry = prometheus.NewRegistry()

func init() {
	Registry.MustRegister(
		DiskTemperatureCelsius,
		DiskStandby,
		DiskThroughputReadBytesPerSec,
		DiskThroughputWriteBytesPerSec,
		PoolStatus,
		PoolFreeBytes,
		PreclearActiveJobs,
		PreclearProgress,
		ZramDevicesActive,
		ZramReconcileTotal,
		SwapBusy,
	)
}
