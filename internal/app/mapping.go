package app

import (
	"fmt"
	"strings"
	"time"

	"taskloop/internal/config"
	"taskloop/internal/host"
	"taskloop/internal/storage"
	logx "taskloop/pkg/logx"
	"taskloop/pkg/taskloop"
)

func mapLogConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

func mapStorageConfig(cfg *config.Config) (storage.Config, bool, error) {
	if cfg == nil || cfg.Journal == nil {
		return storage.Config{}, false, nil
	}
	jc := cfg.Journal
	driver := strings.ToLower(strings.TrimSpace(jc.Driver))
	if driver == "" || driver == "none" {
		return storage.Config{}, false, nil
	}
	path := strings.TrimSpace(jc.Path)

	switch driver {
	case "file":
		if path == "" {
			path = "./taskloop.journal.jsonl"
		}
		return storage.Config{Driver: driver, Path: path, Retain: jc.Retain}, true, nil
	case "sqlite", "sqlite3":
		if path == "" {
			return storage.Config{}, false, fmt.Errorf("journal.path is required when journal.driver=sqlite")
		}
		busy, err := jc.BusyTimeoutOr(time.Second)
		if err != nil {
			return storage.Config{}, false, err
		}
		return storage.Config{Driver: "sqlite", Path: path, BusyTimeout: busy, Retain: jc.Retain}, true, nil
	default:
		return storage.Config{}, false, fmt.Errorf("unknown journal.driver: %s", jc.Driver)
	}
}

func mapRunnerConfig(cfg *config.Config) (host.RunnerConfig, error) {
	sc := cfg.Scheduler
	poll, slow, err := sc.Durations()
	if err != nil {
		return host.RunnerConfig{}, err
	}
	rc := host.RunnerConfig{
		PollInterval:   poll,
		SlowTaskWarn:   slow,
		WarnRatePerSec: sc.WarnRatePerSec,
	}
	if cfg.Journal != nil {
		rc.HistorySize = cfg.Journal.HistorySize
	}
	return rc, nil
}

func mapSchedulerConfig(cfg *config.Config) (uint, taskloop.TimeUnit, error) {
	unit, err := taskloop.ParseTimeUnit(cfg.Scheduler.TimeUnit)
	if err != nil {
		return 0, 0, fmt.Errorf("scheduler.time_unit: %w", err)
	}
	if cfg.Scheduler.Capacity <= 0 {
		return 0, 0, fmt.Errorf("scheduler.capacity must be > 0")
	}
	return uint(cfg.Scheduler.Capacity), unit, nil
}
