package config

import (
	"fmt"
	"strings"
	"time"

	logx "taskloop/pkg/logx"
	"taskloop/pkg/taskloop"
)

// Validate checks everything that can be checked without side effects.
// Task kinds are validated by the caller, which owns the task catalogue.
func Validate(cfg *Config) error { return validate(cfg, nil) }

// ValidateRunning checks a reloaded config against a scheduler already
// running in unit. Task periods are converted with unit rather than the
// file's time_unit, which is only applied on restart.
func ValidateRunning(cfg *Config, unit taskloop.TimeUnit) error { return validate(cfg, &unit) }

func validate(cfg *Config, running *taskloop.TimeUnit) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}
	if _, err := logx.ParseLevel(cfg.Logging.Level); err != nil {
		return fmt.Errorf("logging.level: %w", err)
	}
	sc := cfg.Scheduler
	if sc.Capacity <= 0 {
		return fmt.Errorf("scheduler.capacity must be > 0")
	}
	unit, err := taskloop.ParseTimeUnit(sc.TimeUnit)
	if err != nil {
		return fmt.Errorf("scheduler.time_unit: %w", err)
	}
	if running != nil {
		unit = *running
	}
	if _, _, err := sc.Durations(); err != nil {
		return err
	}
	if sc.WarnRatePerSec < 0 {
		return fmt.Errorf("scheduler.warn_rate_per_sec must be >= 0")
	}

	if j := cfg.Journal; j != nil {
		switch strings.ToLower(strings.TrimSpace(j.Driver)) {
		case "", "none", "file", "sqlite":
		default:
			return fmt.Errorf("journal.driver: unknown driver %q", j.Driver)
		}
		if _, err := j.BusyTimeoutOr(0); err != nil {
			return err
		}
		if j.Retain < 0 {
			return fmt.Errorf("journal.retain must be >= 0")
		}
		if j.HistorySize < 0 {
			return fmt.Errorf("journal.history_size must be >= 0")
		}
	}

	if len(cfg.Tasks) > sc.Capacity {
		return fmt.Errorf("tasks: %d declared, scheduler.capacity is %d", len(cfg.Tasks), sc.Capacity)
	}
	seen := make(map[string]struct{}, len(cfg.Tasks))
	for i, t := range cfg.Tasks {
		path := fmt.Sprintf("tasks[%d]", i)
		name := strings.TrimSpace(t.Name)
		if name == "" {
			return fmt.Errorf("%s.name is required", path)
		}
		if _, dup := seen[name]; dup {
			return fmt.Errorf("%s.name: duplicate task %q", path, name)
		}
		seen[name] = struct{}{}
		if strings.TrimSpace(t.Kind) == "" {
			return fmt.Errorf("%s.kind is required", path)
		}
		if _, err := PeriodTicks(t.Period, unit); err != nil {
			return fmt.Errorf("%s.period: %w", path, err)
		}
	}
	return nil
}

// PeriodTicks parses a period string and converts it to ticks of unit.
func PeriodTicks(raw string, unit taskloop.TimeUnit) (uint32, error) {
	p, err := ParsePeriod(raw)
	if err != nil {
		return 0, err
	}
	return unit.Ticks(p.Every)
}

// Durations parses poll_interval and slow_task_warn. Unset means zero.
func (sc SchedulerConfig) Durations() (poll, slowWarn time.Duration, err error) {
	if poll, err = durationField("scheduler.poll_interval", sc.PollInterval); err != nil {
		return 0, 0, err
	}
	if slowWarn, err = durationField("scheduler.slow_task_warn", sc.SlowTaskWarn); err != nil {
		return 0, 0, err
	}
	return poll, slowWarn, nil
}

// BusyTimeoutOr parses busy_timeout, falling back to def when unset or zero.
func (j JournalConfig) BusyTimeoutOr(def time.Duration) (time.Duration, error) {
	d, err := durationField("journal.busy_timeout", j.BusyTimeout)
	if err != nil {
		return 0, err
	}
	if d == 0 {
		return def, nil
	}
	return d, nil
}

func durationField(path, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	switch {
	case err != nil:
		return 0, fmt.Errorf("%s: %w", path, err)
	case d < 0:
		return 0, fmt.Errorf("%s: %q is negative", path, raw)
	}
	return d, nil
}
