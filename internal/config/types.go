package config

// Config is the on-disk configuration (YAML or JSON).
type Config struct {
	Logging   LoggingConfig   `json:"logging"`
	Scheduler SchedulerConfig `json:"scheduler"`

	// Journal records task firings. Nil or driver "none" disables it.
	Journal *JournalConfig `json:"journal,omitempty"`

	Systemd SystemdConfig `json:"systemd,omitempty"`
	Debug   DebugConfig   `json:"debug,omitempty"`

	Tasks []TaskConfig `json:"tasks"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// SchedulerConfig sizes the task table and tunes the poll loop.
//
// Capacity and TimeUnit are fixed for the process lifetime; changing them
// in a hot reload is logged and needs a restart.
//
// All durations are Go duration strings (e.g. "500us", "1ms", "50ms").
//
// Defaults (when fields are omitted/zero):
//   - time_unit: "ms"
//   - poll_interval: "0s" (yield between passes, no sleep)
//   - slow_task_warn: "0s" (disabled)
//   - warn_rate_per_sec: 1
type SchedulerConfig struct {
	Capacity       int    `json:"capacity"`
	TimeUnit       string `json:"time_unit,omitempty"`
	PollInterval   string `json:"poll_interval,omitempty"`
	SlowTaskWarn   string `json:"slow_task_warn,omitempty"`
	WarnRatePerSec int    `json:"warn_rate_per_sec,omitempty"`
}

// JournalConfig controls the firing journal.
//
// Example:
//
//	journal: { driver: sqlite, path: ./taskloop.db, busy_timeout: 1s }
type JournalConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite only

	// Retain bounds the persisted journal (default 10000 records).
	Retain int `json:"retain,omitempty"`

	// HistorySize bounds the in-memory ring of recent firings (default 128).
	HistorySize int `json:"history_size,omitempty"`
}

// SystemdConfig controls sd_notify integration. When Notify is set the
// daemon reports READY/STOPPING and, if the unit has WatchdogSec, registers a
// watchdog task at half the watchdog interval.
type SystemdConfig struct {
	Notify bool `json:"notify"`
}

// DebugConfig enables the operator HTTP endpoint (/healthz, /tasks and
// /debug/pprof/). Addr defaults to 127.0.0.1:6060; other interfaces need a
// token.
type DebugConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr,omitempty"`
	Token   string `json:"token,omitempty"`
}

// TaskConfig declares one scheduled task.
//
// Enabled is a pointer so an omitted value can default to true.
type TaskConfig struct {
	Name   string `json:"name"`
	Kind   string `json:"kind"`
	Period string `json:"period"`

	Enabled *bool `json:"enabled,omitempty"`

	// TriggerOnEnable runs the task immediately when a reload re-enables it.
	TriggerOnEnable bool `json:"trigger_on_enable,omitempty"`

	// Message is used by kind "log".
	Message string `json:"message,omitempty"`

	// Unit is the systemd unit watched by kind "unit" (e.g. "nginx").
	Unit string `json:"unit,omitempty"`
}

func (t TaskConfig) IsEnabled() bool {
	return t.Enabled == nil || *t.Enabled
}
