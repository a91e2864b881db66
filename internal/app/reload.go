package app

import (
	"context"
	"errors"
	"strings"
	"time"

	"taskloop/internal/config"
	"taskloop/internal/eventbus"
	"taskloop/internal/tasks"
	logx "taskloop/pkg/logx"
	"taskloop/pkg/taskloop"
)

const reloadApplyTimeout = 5 * time.Second

func (a *App) reloadLoop(ctx context.Context, sub <-chan *config.Config) {
	lastApplied := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case newCfg, ok := <-sub:
			if !ok {
				return
			}
			// Coalesce bursts; only the newest config matters.
		drain:
			for {
				select {
				case newer := <-sub:
					if newer != nil {
						newCfg = newer
					}
				default:
					break drain
				}
			}
			a.notify.Reloading()
			err := a.applyConfig(ctx, lastApplied, newCfg)
			if errors.Is(err, context.Canceled) {
				return
			}
			if err != nil {
				a.log.Warn("config reload incomplete", logx.Err(err))
			}
			// Data is the apply error, nil when every change landed.
			a.bus.Publish(eventbus.Event{Type: eventbus.TypeReloaded, Time: time.Now(), Data: err})
			lastApplied = newCfg
			a.notify.Ready()
		}
	}
}

// applyConfig moves the running daemon from oldCfg to newCfg. Fields that
// cannot change at runtime are reported and left alone.
func (a *App) applyConfig(ctx context.Context, oldCfg, newCfg *config.Config) error {
	sections, attrs, changedTasks := config.SummarizeConfigChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return nil
	}
	for _, field := range config.RestartRequired(oldCfg, newCfg) {
		a.log.Warn("config change needs a restart", logx.String("field", field))
	}

	if err := a.logs.Apply(mapLogConfig(newCfg)); err != nil {
		a.log.Warn("log sinks partially applied", logx.Err(err))
	}

	rc, err := mapRunnerConfig(newCfg)
	if err != nil {
		return err
	}

	actx, cancel := context.WithTimeout(ctx, reloadApplyTimeout)
	defer cancel()
	err = a.runner.Do(actx, func(s *taskloop.Scheduler) error {
		a.runner.Tune(rc)
		return a.reconcileTasks(s, oldCfg, newCfg, changedTasks)
	})

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
	return err
}

// reconcileTasks runs on the poll goroutine. Tasks are matched by name:
// new names are registered, missing names are disabled (IDs are never
// reused), and changed tasks get their period, enabled state or callback
// updated in place.
func (a *App) reconcileTasks(s *taskloop.Scheduler, oldCfg, cfg *config.Config, changed []string) error {
	if len(changed) == 0 {
		return nil
	}
	want := tasksByName(cfg)
	prev := tasksByName(oldCfg)

	var errs []error
	for _, name := range changed {
		tc, keep := want[name]
		id, registered := a.runner.Lookup(name)

		switch {
		case !keep && registered:
			if err := s.DisableTask(id); err != nil {
				errs = append(errs, err)
				continue
			}
			a.log.Info("task removed from config; disabled", logx.String("task", name))

		case keep && !registered:
			if err := a.addTask(tc, s.Unit()); err != nil {
				a.log.Warn("task not added", logx.String("task", name), logx.Err(err))
				errs = append(errs, err)
				continue
			}
			a.log.Info("task added", logx.String("task", name))

		case keep && registered:
			if err := a.updateTask(s, id, prev[name], tc); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

// updateTask applies tc to a registered task. prev is the task's previous
// config, zero if it was absent.
func (a *App) updateTask(s *taskloop.Scheduler, id taskloop.TaskID, prev, tc config.TaskConfig) error {
	name := strings.TrimSpace(tc.Name)
	info, err := s.Task(id)
	if err != nil {
		return err
	}

	// Rebuilding resets per-callback state such as beat counters, so the
	// callback is only replaced when something it is built from changed.
	if sl := a.slots[name]; sl != nil && callbackChanged(prev, tc) {
		fn, err := tasks.Build(tc, a.deps)
		if err != nil {
			return err
		}
		sl.fn = fn
		a.log.Info("task callback replaced", logx.String("task", name), logx.String("kind", tc.Kind))
	}

	period, err := config.PeriodTicks(tc.Period, s.Unit())
	if err != nil {
		return err
	}
	if period != info.Period {
		if err := s.ChangeTaskPeriod(id, period); err != nil {
			return err
		}
		a.log.Info("task period changed", logx.String("task", name), logx.Duration("period", s.Unit().Duration(period)))
	}

	switch enabled := tc.IsEnabled(); {
	case enabled && !info.Enabled:
		a.log.Info("task enabled", logx.String("task", name), logx.Bool("trigger", tc.TriggerOnEnable))
		return s.EnableTask(id, tc.TriggerOnEnable)
	case !enabled && info.Enabled:
		a.log.Info("task disabled", logx.String("task", name))
		return s.DisableTask(id)
	}
	return nil
}

func callbackChanged(prev, tc config.TaskConfig) bool {
	return prev.Name == "" ||
		!strings.EqualFold(strings.TrimSpace(prev.Kind), strings.TrimSpace(tc.Kind)) ||
		prev.Message != tc.Message ||
		prev.Unit != tc.Unit
}

func tasksByName(cfg *config.Config) map[string]config.TaskConfig {
	out := map[string]config.TaskConfig{}
	if cfg == nil {
		return out
	}
	for _, tc := range cfg.Tasks {
		out[strings.TrimSpace(tc.Name)] = tc
	}
	return out
}
