package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"taskloop/pkg/taskloop"
)

const sampleYAML = `
logging:
  level: debug
  console: true
  file: { enabled: false, path: "" }
scheduler:
  capacity: 4
  time_unit: us
  poll_interval: 200us
journal:
  driver: file
  path: ./journal.jsonl
tasks:
  - name: blink
    kind: blink
    period: 500ms
  - name: watch
    kind: noop
    period: "0"
    enabled: false
`

func writeFile(t *testing.T, path, body string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
}

func TestLoadYAML(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "taskloop.yaml")
	writeFile(t, path, sampleYAML)

	m := NewConfigManager(path)
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if m.Get() != cfg {
		t.Fatal("Get should return the committed config")
	}
	if err := Validate(cfg); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if cfg.Scheduler.Capacity != 4 || cfg.Scheduler.TimeUnit != "us" {
		t.Fatalf("unexpected scheduler section: %+v", cfg.Scheduler)
	}
	if len(cfg.Tasks) != 2 || !cfg.Tasks[0].IsEnabled() || cfg.Tasks[1].IsEnabled() {
		t.Fatalf("unexpected tasks: %+v", cfg.Tasks)
	}
	ticks, err := PeriodTicks(cfg.Tasks[0].Period, taskloop.Microseconds)
	if err != nil || ticks != 500000 {
		t.Fatalf("PeriodTicks = %d, %v", ticks, err)
	}
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "taskloop.yaml")
	writeFile(t, path, "scheduler:\n  capacity: 1\n  workers: 3\ntasks: []\n")
	if _, err := NewConfigManager(path).Load(); err == nil {
		t.Fatal("expected unknown field error")
	}
}

func TestLoadJSON(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "taskloop.json")
	writeFile(t, path, `{"scheduler":{"capacity":2},"tasks":[{"name":"a","kind":"noop","period":"1s"}]}`)
	cfg, err := NewConfigManager(path).Load()
	if err != nil {
		t.Fatal(err)
	}
	if err := Validate(cfg); err != nil {
		t.Fatal(err)
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()
	base := func() *Config {
		return &Config{
			Scheduler: SchedulerConfig{Capacity: 2, TimeUnit: "ms"},
			Tasks:     []TaskConfig{{Name: "a", Kind: "noop", Period: "10ms"}},
		}
	}
	tests := []struct {
		name   string
		mutate func(c *Config)
		want   string
	}{
		{"log level", func(c *Config) { c.Logging.Level = "loud" }, "logging.level"},
		{"capacity", func(c *Config) { c.Scheduler.Capacity = 0 }, "scheduler.capacity"},
		{"unit", func(c *Config) { c.Scheduler.TimeUnit = "ns" }, "scheduler.time_unit"},
		{"poll interval", func(c *Config) { c.Scheduler.PollInterval = "fast" }, "scheduler.poll_interval"},
		{"too many tasks", func(c *Config) {
			c.Tasks = append(c.Tasks, TaskConfig{Name: "b", Kind: "noop", Period: "1s"}, TaskConfig{Name: "c", Kind: "noop", Period: "1s"})
		}, "capacity is 2"},
		{"duplicate", func(c *Config) { c.Tasks = append(c.Tasks, c.Tasks[0]) }, "duplicate"},
		{"missing name", func(c *Config) { c.Tasks[0].Name = " " }, "tasks[0].name"},
		{"missing kind", func(c *Config) { c.Tasks[0].Kind = "" }, "tasks[0].kind"},
		{"sub-tick period", func(c *Config) { c.Tasks[0].Period = "10us" }, "tasks[0].period"},
		{"period overflow", func(c *Config) {
			c.Scheduler.TimeUnit = "us"
			c.Tasks[0].Period = "2h"
		}, "tasks[0].period"},
		{"journal busy", func(c *Config) { c.Journal = &JournalConfig{Driver: "sqlite", BusyTimeout: "x"} }, "journal.busy_timeout"},
	}
	if err := Validate(base()); err != nil {
		t.Fatalf("base config invalid: %v", err)
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			c := base()
			tt.mutate(c)
			err := Validate(c)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("Validate() = %v, want error containing %q", err, tt.want)
			}
		})
	}
}

func TestSummarizeConfigChange(t *testing.T) {
	t.Parallel()
	off := false
	oldCfg := &Config{
		Scheduler: SchedulerConfig{Capacity: 2},
		Tasks: []TaskConfig{
			{Name: "a", Kind: "noop", Period: "1s"},
			{Name: "b", Kind: "noop", Period: "1s"},
		},
	}
	newCfg := &Config{
		Scheduler: SchedulerConfig{Capacity: 3},
		Tasks: []TaskConfig{
			{Name: "a", Kind: "noop", Period: "1s"},
			{Name: "b", Kind: "noop", Period: "1s", Enabled: &off},
			{Name: "c", Kind: "noop", Period: "5s"},
		},
	}
	sections, attrs, tasks := SummarizeConfigChange(oldCfg, newCfg)
	if strings.Join(sections, ",") != "scheduler,tasks" {
		t.Fatalf("sections = %v", sections)
	}
	if len(attrs) == 0 {
		t.Fatal("expected attrs")
	}
	if strings.Join(tasks, ",") != "b,c" {
		t.Fatalf("tasks = %v", tasks)
	}
	if got := RestartRequired(oldCfg, newCfg); len(got) != 1 || got[0] != "scheduler.capacity" {
		t.Fatalf("RestartRequired = %v", got)
	}
}

func TestWatchPublishesValidatedChanges(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "taskloop.yaml")
	writeFile(t, path, "scheduler: { capacity: 1 }\ntasks: []\n")

	m := NewConfigManager(path)
	if _, err := m.Load(); err != nil {
		t.Fatal(err)
	}
	m.SetValidator(func(ctx context.Context, cfg *Config) error { return Validate(cfg) })
	sub := m.Subscribe(4)
	defer m.Unsubscribe(sub)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = m.Watch(ctx)
	}()
	// Give the watcher a moment to register the directory.
	time.Sleep(100 * time.Millisecond)

	writeFile(t, path, "scheduler: { capacity: 0 }\ntasks: []\n") // rejected
	time.Sleep(600 * time.Millisecond)
	writeFile(t, path, "scheduler: { capacity: 3 }\ntasks: []\n")

	select {
	case cfg := <-sub:
		if cfg.Scheduler.Capacity != 3 {
			t.Fatalf("published capacity = %d, want 3", cfg.Scheduler.Capacity)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for config publish")
	}
	if m.Get().Scheduler.Capacity != 3 {
		t.Fatal("manager should commit the published config")
	}
	cancel()
	<-done
}

func TestValidateRunningUsesSchedulerUnit(t *testing.T) {
	t.Parallel()
	cfg := &Config{
		Scheduler: SchedulerConfig{Capacity: 1, TimeUnit: "us"},
		Tasks:     []TaskConfig{{Name: "a", Kind: "noop", Period: "2h"}},
	}
	if err := Validate(cfg); err == nil {
		t.Fatal("2h should overflow microsecond ticks")
	}
	if err := ValidateRunning(cfg, taskloop.Milliseconds); err != nil {
		t.Fatalf("running in ms: %v", err)
	}

	cfg.Tasks[0].Period = "10us"
	if err := Validate(cfg); err != nil {
		t.Fatalf("10us in us: %v", err)
	}
	if err := ValidateRunning(cfg, taskloop.Milliseconds); err == nil || !strings.Contains(err.Error(), "tasks[0].period") {
		t.Fatalf("10us in ms: got %v", err)
	}

	cfg.Scheduler.TimeUnit = "ns"
	if err := ValidateRunning(cfg, taskloop.Milliseconds); err == nil {
		t.Fatal("an invalid time_unit is still rejected")
	}
}

func TestSchedulerDurations(t *testing.T) {
	t.Parallel()
	poll, slow, err := SchedulerConfig{PollInterval: " 2ms ", SlowTaskWarn: ""}.Durations()
	if err != nil || poll != 2*time.Millisecond || slow != 0 {
		t.Fatalf("got %v %v %v", poll, slow, err)
	}
	if _, _, err := (SchedulerConfig{SlowTaskWarn: "-1s"}).Durations(); err == nil || !strings.Contains(err.Error(), "scheduler.slow_task_warn") {
		t.Fatalf("negative duration: %v", err)
	}

	busy, err := JournalConfig{}.BusyTimeoutOr(time.Second)
	if err != nil || busy != time.Second {
		t.Fatalf("default busy timeout: %v %v", busy, err)
	}
	busy, err = JournalConfig{BusyTimeout: "250ms"}.BusyTimeoutOr(time.Second)
	if err != nil || busy != 250*time.Millisecond {
		t.Fatalf("explicit busy timeout: %v %v", busy, err)
	}
}

func TestDecodeConfigErrorsNameTheFile(t *testing.T) {
	t.Parallel()
	cases := map[string]string{
		"bad.yaml": "scheduler: [unclosed",
		"bad.json": `{"scheduler": {"capacity": 1}} {}`,
		"odd.yml":  "scheduler: { capacity: 1, bogus: 2 }",
	}
	for name, body := range cases {
		if _, err := decodeConfig(filepath.Join("/etc/taskloop", name), []byte(body)); err == nil || !strings.HasPrefix(err.Error(), name+": ") {
			t.Fatalf("%s: got %v", name, err)
		}
	}

	cfg, err := decodeConfig("x.yaml", []byte("scheduler: { capacity: 2 }\ntasks:\n  - { name: a, kind: noop, period: \"0\" }\n"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Scheduler.Capacity != 2 || len(cfg.Tasks) != 1 || cfg.Tasks[0].Period != "0" {
		t.Fatalf("decoded %+v", cfg)
	}
}
