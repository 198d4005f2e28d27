package domain

import "time"

// Config holds process-wide settings that are immutable after startup
// (Design Note "Global state"): directories, cache TTLs, timeouts, and the
// notify socket location are all read-only for the lifetime of the process.
type Config struct {
	Version string

	// ConfigDir records the configured config directory. The pool, ZRAM and
	// swap packages do not read it: each keeps its own ConfigPath
	// (pools.json, zram.json and swap.json under /boot/config/system).
	ConfigDir string

	// NotifySocketPath is the local byte-stream socket the core writes
	// best-effort JSON notifications to (spec.md section 6). Open Question
	// (a): two historical paths existed; this field lets callers pick one.
	NotifySocketPath string

	// KeyfileDir is where LUKS keyfiles are written, one per encrypted pool.
	KeyfileDir string

	// PreclearLogDir is where per-device preclear ReadCheck logs are written.
	PreclearLogDir string

	// PowerStateTTL and TemperatureTTL record the power-state and temperature
	// cache lifetimes (4.C). The power oracle does not read them; it uses its
	// own power.PowerStateTTL and power.TemperatureTTL constants.
	PowerStateTTL  time.Duration
	TemperatureTTL time.Duration

	// ThroughputSampleInterval controls how often the throughput sampler (4.E)
	// re-reads /proc/diskstats.
	ThroughputSampleInterval time.Duration

	// CommandTimeout and DfCommandTimeout record the external-tool and `df`
	// timeouts (4.B). The invoker does not read them; it uses
	// lib.DefaultCommandTimeout and lib.DfCommandTimeout.
	CommandTimeout   time.Duration
	DfCommandTimeout time.Duration

	// LowPowerMode multiplies ThroughputSampleInterval, PowerStateTTL and
	// TemperatureTTL by 4, mirroring the teacher's
	// resource-constrained-hardware mode.
	LowPowerMode bool
}

// DefaultConfig returns the built-in defaults, overridable by the YAML
// service config file and then by CLI flags/env (teacher's applyFileConfig
// layering: struct default < config file < CLI/env).
func DefaultConfig(version string) Config {
	return Config{
		Version:                  version,
		ConfigDir:                "/boot/config/plugins/storage-control-plane",
		NotifySocketPath:         "/run/mos-notify.sock",
		KeyfileDir:               "/boot/config/system/luks",
		PreclearLogDir:           "/var/log/preclear",
		PowerStateTTL:            15 * time.Second,
		TemperatureTTL:           12 * time.Second,
		ThroughputSampleInterval: 5 * time.Second,
		CommandTimeout:           30 * time.Second,
		DfCommandTimeout:         5 * time.Second,
	}
}
