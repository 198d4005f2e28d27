// Package power implements the power-state oracle: the gatekeeper every
// other disk-facing component consults before issuing any command that
// could wake a standby drive.
package power

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ruaan-deysel/storage-control-plane/daemon/constants"
	"github.com/ruaan-deysel/storage-control-plane/daemon/dto"
	"github.com/ruaan-deysel/storage-control-plane/daemon/lib"
	"github.com/ruaan-deysel/storage-control-plane/daemon/logger"
)

// PowerStateTTL bounds how long a cached power classification is trusted (4.C).
const PowerStateTTL = 15 * time.Second

// TemperatureTTL bounds how long a cached temperature reading is trusted (4.C).
const TemperatureTTL = 12 * time.Second

// isAlwaysActivePrefix reports whether name belongs to a device family that
// never requires a probe: the spec lists nvme, emmc, md, and nmd (an
// md-adjacent naming variant seen on some distributions) as classes that
// are never reported anything but active (4.C step 3).
func isAlwaysActivePrefix(name string) bool {
	return strings.HasPrefix(name, "nvme") || strings.HasPrefix(name, "mmcblk") ||
		strings.HasPrefix(name, "md") || strings.HasPrefix(name, "nmd")
}

type cacheEntry struct {
	state    dto.PowerState
	cachedAt time.Time
}

type tempEntry struct {
	celsius  float64
	has      bool
	cachedAt time.Time
}

// Oracle classifies devices as active/standby/unknown with a TTL cache,
// never issuing a command that could spin up a sleeping disk (4.C).
type Oracle struct {
	invoker *lib.Invoker

	mu    sync.Mutex
	power map[string]cacheEntry
	temp  map[string]tempEntry
}

// NewOracle builds an Oracle around the given tool invoker.
func NewOracle(invoker *lib.Invoker) *Oracle {
	return &Oracle{
		invoker: invoker,
		power:   map[string]cacheEntry{},
		temp:    map[string]tempEntry{},
	}
}

// GetPowerState returns the (possibly cached) power classification for
// devicePath, following the algorithm in 4.C.
func (o *Oracle) GetPowerState(ctx context.Context, devicePath string) dto.PowerState {
	name := strings.TrimPrefix(devicePath, "/dev/")
	path := "/dev/" + name

	o.mu.Lock()
	if entry, ok := o.power[path]; ok && time.Since(entry.cachedAt) < PowerStateTTL {
		o.mu.Unlock()
		return entry.state
	}
	o.mu.Unlock()

	state := o.compute(ctx, name, path)

	o.mu.Lock()
	o.power[path] = cacheEntry{state: state, cachedAt: time.Now()}
	o.mu.Unlock()

	return state
}

func (o *Oracle) compute(ctx context.Context, name, path string) dto.PowerState {
	if isAlwaysActivePrefix(name) {
		return activeState(path)
	}

	if isPartitionName(name) {
		base := lib.BaseDisk(name)
		if base != name {
			baseState := o.GetPowerState(ctx, "/dev/"+base)
			baseState.DevicePath = path
			return baseState
		}
	}

	res := o.invoker.Run(ctx, constants.SmartctlBin, "-n", "standby", "-i", path)
	status, active := classifySmartctlStandby(res)
	return dto.PowerState{DevicePath: path, Status: status, Active: active, CachedAt: time.Now()}
}

func activeState(path string) dto.PowerState {
	t := true
	return dto.PowerState{DevicePath: path, Status: dto.PowerActive, Active: &t, CachedAt: time.Now()}
}

// isPartitionName reports whether name looks like a partition rather than a
// whole disk: ends in a digit and is not itself a special whole-disk family
// whose name legitimately ends in a digit (nvme, mmcblk, md).
func isPartitionName(name string) bool {
	if name == "" {
		return false
	}
	last := name[len(name)-1]
	if last < '0' || last > '9' {
		return false
	}
	return lib.BaseDisk(name) != name
}

func classifySmartctlStandby(res lib.CommandResult) (dto.PowerStatus, *bool) {
	f, t := false, true
	out := res.Stdout + res.Stderr

	if lib.SmartctlStandbyExit(res) || strings.Contains(out, "Device is in STANDBY mode") {
		return dto.PowerStandby, &f
	}
	if strings.Contains(out, "SLEEP") {
		return dto.PowerStandby, &f
	}
	if strings.Contains(out, "ACTIVE") || strings.Contains(out, "IDLE") {
		return dto.PowerActive, &t
	}
	if strings.Contains(out, "does not support") || strings.Contains(out, "Unable to detect") ||
		strings.Contains(out, "Unknown USB bridge") {
		// Safer to assume active than to risk spinning up the disk on a
		// retry driven by a false "standby" classification.
		return dto.PowerActive, &t
	}

	// General/transient failure: unknown, never cached negatively, matching
	// the authoritative reading of an otherwise ambiguous source behavior.
	return dto.PowerUnknown, nil
}

// GetTemperature returns the cached (or freshly probed) temperature for
// devicePath. The second return value is false if no reading is available
// (e.g. the device is in standby and was never probed).
func (o *Oracle) GetTemperature(ctx context.Context, devicePath string, powerStatus dto.PowerStatus) (float64, bool) {
	name := strings.TrimPrefix(devicePath, "/dev/")
	path := "/dev/" + name

	o.mu.Lock()
	if entry, ok := o.temp[path]; ok && time.Since(entry.cachedAt) < TemperatureTTL {
		o.mu.Unlock()
		return entry.celsius, entry.has
	}
	o.mu.Unlock()

	if powerStatus == dto.PowerStandby {
		return 0, false
	}

	res := o.invoker.Run(ctx, constants.SmartctlBin, "-n", "standby", "-A", path)
	celsius, ok := parseSmartctlTemperature(res.Stdout)

	o.mu.Lock()
	o.temp[path] = tempEntry{celsius: celsius, has: ok, cachedAt: time.Now()}
	o.mu.Unlock()

	if !ok {
		logger.Debug("power: no temperature attribute parsed for %s", path)
	}
	return celsius, ok
}

// parseSmartctlTemperature looks for the Temperature_Celsius SMART
// attribute's "RAW_VALUE" column (last field of its line).
func parseSmartctlTemperature(output string) (float64, bool) {
	for _, line := range strings.Split(output, "\n") {
		if !strings.Contains(line, "Temperature_Celsius") && !strings.Contains(line, "Airflow_Temperature_Cel") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		raw := fields[len(fields)-1]
		var celsius float64
		if _, err := fmt.Sscanf(raw, "%f", &celsius); err == nil {
			return celsius, true
		}
	}
	return 0, false
}
