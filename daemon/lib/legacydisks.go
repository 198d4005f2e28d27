package lib

import (
	"gopkg.in/ini.v1"

	"github.com/ruaan-deysel/storage-control-plane/daemon/logger"
)

// LegacyDisksConfigPath is the older, sectioned `disks.cfg`-style config
// some Unraid-style installs still carry alongside this service's own pool
// configuration (4.F step 2, "Legacy disks array").
var LegacyDisksConfigPath = "/boot/config/disks.cfg"

// ReadLegacyDisks parses a disks.cfg-shaped INI file — one `[diskname]`
// section per device, a `device=` key holding the block device name — and
// returns every referenced device path. A missing or unparsable file
// yields an empty list rather than an error, since the legacy array is an
// optional, best-effort membership source for the assignment graph.
func ReadLegacyDisks() []string {
	cfg, err := ini.Load(LegacyDisksConfigPath)
	if err != nil {
		return nil
	}

	var out []string
	for _, section := range cfg.Sections() {
		if section.Name() == ini.DefaultSection {
			continue
		}
		device := section.Key("device").String()
		if device == "" {
			continue
		}
		if device[0] != '/' {
			device = "/dev/" + device
		}
		out = append(out, device)
	}
	logger.Debug("assignment: legacy disks array (%s) contributed %d device(s)", LegacyDisksConfigPath, len(out))
	return out
}
