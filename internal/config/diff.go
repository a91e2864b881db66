package config

import (
	"reflect"
	"sort"
	"strings"

	logx "taskloop/pkg/logx"
)

// SummarizeConfigChange returns (1) a compact list of changed sections,
// (2) structured attrs for logging, and (3) the names of tasks that were
// added, removed or modified.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field, []string) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 6)
	attrs := make([]logx.Field, 0, 16)

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	if oldCfg.Scheduler != newCfg.Scheduler {
		changed = append(changed, "scheduler")
		attrs = append(attrs,
			logx.Int("scheduler.capacity", newCfg.Scheduler.Capacity),
			logx.String("scheduler.time_unit", strings.TrimSpace(newCfg.Scheduler.TimeUnit)),
			logx.String("scheduler.poll_interval", strings.TrimSpace(newCfg.Scheduler.PollInterval)),
			logx.String("scheduler.slow_task_warn", strings.TrimSpace(newCfg.Scheduler.SlowTaskWarn)),
		)
	}

	// Journal (persistence). Nil means disabled.
	var oJ, nJ JournalConfig
	if oldCfg.Journal != nil {
		oJ = *oldCfg.Journal
	}
	if newCfg.Journal != nil {
		nJ = *newCfg.Journal
	}
	if oJ != nJ {
		changed = append(changed, "journal")
		attrs = append(attrs,
			logx.String("journal.driver", strings.TrimSpace(nJ.Driver)),
			logx.Bool("journal.path_set", strings.TrimSpace(nJ.Path) != ""),
			logx.Int("journal.history_size", nJ.HistorySize),
		)
	}

	if oldCfg.Systemd != newCfg.Systemd {
		changed = append(changed, "systemd")
		attrs = append(attrs, logx.Bool("systemd.notify", newCfg.Systemd.Notify))
	}

	if oldCfg.Debug != newCfg.Debug {
		changed = append(changed, "debug")
		attrs = append(attrs,
			logx.Bool("debug.enabled", newCfg.Debug.Enabled),
			logx.String("debug.addr", newCfg.Debug.Addr),
			logx.Bool("debug.token_set", newCfg.Debug.Token != ""),
		)
	}

	taskChanged := diffTasks(oldCfg.Tasks, newCfg.Tasks)
	if len(taskChanged) > 0 {
		changed = append(changed, "tasks")
		attrs = append(attrs,
			logx.Int("tasks.changed_count", len(taskChanged)),
			logx.Int("tasks.count", len(newCfg.Tasks)),
		)
	}

	sort.Strings(changed)
	return changed, attrs, taskChanged
}

// RestartRequired reports the sections whose changes cannot be applied to a
// running scheduler.
func RestartRequired(oldCfg, newCfg *Config) []string {
	if oldCfg == nil || newCfg == nil {
		return nil
	}
	var out []string
	if oldCfg.Scheduler.Capacity != newCfg.Scheduler.Capacity {
		out = append(out, "scheduler.capacity")
	}
	if !strings.EqualFold(strings.TrimSpace(oldCfg.Scheduler.TimeUnit), strings.TrimSpace(newCfg.Scheduler.TimeUnit)) {
		out = append(out, "scheduler.time_unit")
	}
	if !reflect.DeepEqual(oldCfg.Journal, newCfg.Journal) {
		out = append(out, "journal")
	}
	if oldCfg.Systemd != newCfg.Systemd {
		out = append(out, "systemd")
	}
	if oldCfg.Debug != newCfg.Debug {
		out = append(out, "debug")
	}
	return out
}

func diffTasks(oldT, newT []TaskConfig) []string {
	oldM := make(map[string]TaskConfig, len(oldT))
	for _, t := range oldT {
		oldM[strings.TrimSpace(t.Name)] = t
	}
	newM := make(map[string]TaskConfig, len(newT))
	for _, t := range newT {
		newM[strings.TrimSpace(t.Name)] = t
	}

	set := map[string]struct{}{}
	for k := range oldM {
		set[k] = struct{}{}
	}
	for k := range newM {
		set[k] = struct{}{}
	}

	out := make([]string, 0, len(set))
	for name := range set {
		o, inOld := oldM[name]
		n, inNew := newM[name]
		if inOld != inNew {
			out = append(out, name)
			continue
		}
		if o.IsEnabled() != n.IsEnabled() ||
			strings.TrimSpace(o.Period) != strings.TrimSpace(n.Period) ||
			o.Kind != n.Kind ||
			o.Message != n.Message ||
			o.Unit != n.Unit ||
			o.TriggerOnEnable != n.TriggerOnEnable {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}
