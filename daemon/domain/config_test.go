package domain

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig("1.2.3")
	if cfg.Version != "1.2.3" {
		t.Errorf("Version = %q, want %q", cfg.Version, "1.2.3")
	}
	if cfg.NotifySocketPath == "" {
		t.Error("NotifySocketPath must have a default")
	}
	if cfg.PowerStateTTL <= 0 {
		t.Error("PowerStateTTL must be positive")
	}
	if cfg.TemperatureTTL <= 0 {
		t.Error("TemperatureTTL must be positive")
	}
}

func TestLoadConfigFile_Missing(t *testing.T) {
	cfg, err := LoadConfigFile(filepath.Join(t.TempDir(), "missing.yml"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg != nil {
		t.Error("expected nil config for missing file")
	}
}

func TestLoadConfigFile_Parses(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yml")
	content := "log_level: debug\nlow_power_mode: true\npower_state_ttl_seconds: 30\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfigFile(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg == nil {
		t.Fatal("expected non-nil config")
	}
	if cfg.LogLevel == nil || *cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %v, want debug", cfg.LogLevel)
	}
	if cfg.LowPowerMode == nil || !*cfg.LowPowerMode {
		t.Error("LowPowerMode = false, want true")
	}
	if cfg.PowerStateTTLSeconds == nil || *cfg.PowerStateTTLSeconds != 30 {
		t.Errorf("PowerStateTTLSeconds = %v, want 30", cfg.PowerStateTTLSeconds)
	}
}

func TestLoadConfigFile_InvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yml")
	if err := os.WriteFile(path, []byte("log_level: [unterminated"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadConfigFile(path); err == nil {
		t.Error("expected an error parsing invalid YAML")
	}
}
