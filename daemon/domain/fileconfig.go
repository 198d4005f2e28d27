package domain

import (
	"fmt"
	"os"

	"go.yaml.in/yaml/v3"
)

// DefaultConfigFilePath is the standard location of the service's own YAML
// bootstrap config on an Unraid-style boot flash.
const DefaultConfigFilePath = "/boot/config/plugins/storage-control-plane/config.yml"

// FileConfig is the YAML configuration file structure. Fields set here act
// as a second default layer beneath CLI flags and environment variables,
// mirroring the teacher's daemon/domain/fileconfig.go exactly.
type FileConfig struct {
	LogLevel   *string `yaml:"log_level,omitempty"`
	LogsDir    *string `yaml:"logs_dir,omitempty"`
	Debug      *bool   `yaml:"debug,omitempty"`
	ConfigDir  *string `yaml:"config_dir,omitempty"`
	NotifySock *string `yaml:"notify_socket,omitempty"`
	KeyfileDir *string `yaml:"keyfile_dir,omitempty"`

	LowPowerMode *bool `yaml:"low_power_mode,omitempty"`

	// The two TTL fields are parsed but applyFileConfig does not apply them.
	PowerStateTTLSeconds     *int `yaml:"power_state_ttl_seconds,omitempty"`
	TemperatureTTLSeconds    *int `yaml:"temperature_ttl_seconds,omitempty"`
	ThroughputIntervalSecond *int `yaml:"throughput_interval_seconds,omitempty"`
}

// LoadConfigFile reads and parses a YAML config file. Returns nil (no error)
// if the file does not exist, matching the teacher's LoadConfigFile.
func LoadConfigFile(path string) (*FileConfig, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path is a trusted boot-flash config path, not user input
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var cfg FileConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}
	return &cfg, nil
}
