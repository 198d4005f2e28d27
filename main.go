// Package main is the entry point for the storage control plane daemon.
package main

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/alecthomas/kong"
	"github.com/cskr/pubsub"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/ruaan-deysel/storage-control-plane/daemon/cmd"
	"github.com/ruaan-deysel/storage-control-plane/daemon/domain"
	"github.com/ruaan-deysel/storage-control-plane/daemon/logger"
)

// Version is the application version, set at build time via ldflags.
var Version = "dev"

var cli struct {
	LogsDir    string `default:"/var/log" help:"directory to store logs"`
	Debug      bool   `default:"false" help:"enable debug mode with stdout logging"`
	LogLevel   string `default:"info" help:"log level: debug, info, warning, error"`
	ConfigFile string `default:"" help:"path to the service YAML config file (default: the standard boot-flash location)"`

	LowPowerMode bool `default:"false" env:"STORAGE_LOW_POWER" help:"enable low power mode (4x longer intervals for old/slow hardware)"`

	NotifySocketPath string `default:"" help:"path to the local notification socket (default: the built-in standard path)"`
	KeyfileDir       string `default:"" help:"directory for LUKS keyfiles (default: the built-in standard path)"`
	ConfigDir        string `default:"" help:"config directory recorded in the runtime config; the pool, ZRAM and swap stores keep their own fixed file paths (default: the built-in standard path)"`

	ThroughputIntervalSeconds int `default:"5" env:"STORAGE_THROUGHPUT_INTERVAL" help:"throughput sampler interval in seconds"`

	Boot cmd.Boot `cmd:"" default:"1" help:"start the storage control plane daemon"`
}

// cleanupOldLogs removes old rotated log files from previous versions.
// lumberjack's MaxBackups only prevents new backups; it does not clean up
// existing ones from before the setting was changed.
func cleanupOldLogs(logsDir, baseName string) {
	pattern := filepath.Join(logsDir, baseName+"-*.log")
	files, err := filepath.Glob(pattern)
	if err != nil {
		return
	}
	for _, f := range files {
		_ = os.Remove(f)
	}
}

func main() {
	kongCtx := kong.Parse(&cli)

	configPath := cli.ConfigFile
	if configPath == "" {
		configPath = domain.DefaultConfigFilePath
	}
	fileCfg, err := domain.LoadConfigFile(configPath)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "WARNING: failed to load config file: %v\n", err)
	}
	applyFileConfig(fileCfg)

	switch strings.ToLower(cli.LogLevel) {
	case "debug":
		logger.SetLevel(logger.LevelDebug)
	case "info":
		logger.SetLevel(logger.LevelInfo)
	case "warning", "warn":
		logger.SetLevel(logger.LevelWarning)
	case "error":
		logger.SetLevel(logger.LevelError)
	default:
		logger.SetLevel(logger.LevelInfo)
	}

	baseName := "storage-control-plane"
	if cli.Debug {
		log.SetOutput(os.Stdout)
		log.SetFlags(log.LstdFlags | log.Lshortfile)
		logger.SetLevel(logger.LevelDebug)
		log.Println("Debug mode enabled - logging to stdout")
	} else {
		cleanupOldLogs(cli.LogsDir, baseName)
		fileLogger := &lumberjack.Logger{
			Filename:   filepath.Join(cli.LogsDir, baseName+".log"),
			MaxSize:    5,
			MaxBackups: 1,
			MaxAge:     1,
			Compress:   false,
		}
		log.SetOutput(io.MultiWriter(fileLogger, os.Stdout))
	}

	log.Printf("Starting storage control plane v%s (log level: %s)", Version, cli.LogLevel)

	cfg := domain.DefaultConfig(Version)
	if cli.NotifySocketPath != "" {
		cfg.NotifySocketPath = cli.NotifySocketPath
	}
	if cli.KeyfileDir != "" {
		cfg.KeyfileDir = cli.KeyfileDir
	}
	if cli.ConfigDir != "" {
		cfg.ConfigDir = cli.ConfigDir
	}
	cfg.LowPowerMode = cli.LowPowerMode
	cfg.ThroughputSampleInterval = time.Duration(cli.ThroughputIntervalSeconds) * time.Second
	if cfg.LowPowerMode {
		cfg.ThroughputSampleInterval *= 4
		cfg.PowerStateTTL *= 4
		cfg.TemperatureTTL *= 4
		log.Printf("Low power mode enabled - intervals multiplied by 4x")
	}

	appCtx := &domain.Context{
		Config: cfg,
		Hub:    pubsub.New(64),
	}

	err = kongCtx.Run(appCtx)
	kongCtx.FatalIfErrorf(err)
}

// applyFileConfig merges the service YAML config into the CLI struct.
// Kong sets fields to their declared defaults before parsing, so file
// config values are applied after kong.Parse to fill in anything the CLI
// did not explicitly override: CLI flag/env > config file > struct default.
func applyFileConfig(cfg *domain.FileConfig) {
	if cfg == nil {
		return
	}
	if cfg.LogLevel != nil {
		cli.LogLevel = *cfg.LogLevel
	}
	if cfg.LogsDir != nil {
		cli.LogsDir = *cfg.LogsDir
	}
	if cfg.Debug != nil {
		cli.Debug = *cfg.Debug
	}
	if cfg.ConfigDir != nil {
		cli.ConfigDir = *cfg.ConfigDir
	}
	if cfg.NotifySock != nil {
		cli.NotifySocketPath = *cfg.NotifySock
	}
	if cfg.KeyfileDir != nil {
		cli.KeyfileDir = *cfg.KeyfileDir
	}
	if cfg.LowPowerMode != nil {
		cli.LowPowerMode = *cfg.LowPowerMode
	}
	if cfg.ThroughputIntervalSecond != nil {
		cli.ThroughputIntervalSeconds = *cfg.ThroughputIntervalSecond
	}
}
