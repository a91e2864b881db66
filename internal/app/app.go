package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"taskloop/internal/config"
	"taskloop/internal/eventbus"
	"taskloop/internal/host"
	"taskloop/internal/observability/debug"
	"taskloop/internal/runtime/supervisor"
	"taskloop/internal/storage"
	"taskloop/internal/tasks"
	logx "taskloop/pkg/logx"
	"taskloop/pkg/systemd"
	"taskloop/pkg/taskloop"
)

// watchdogTask is registered automatically when systemd expects watchdog
// pings and no configured task already sends them.
const watchdogTask = "systemd.watchdog"

type App struct {
	cfgPath string
	cfgm    *config.ConfigManager
	boot    *config.Config // config the daemon started with
	sup     *supervisor.Supervisor

	log  logx.Logger
	logs *logx.Service
	bus  eventbus.Bus

	store  storage.Store
	notify *systemd.Notifier
	units  *systemd.UnitProber

	sched  *taskloop.Scheduler
	runner *host.Runner
	deps   tasks.Deps

	// slots holds the swappable callback behind each named task. Only the
	// poll goroutine touches it once Start has run.
	slots map[string]*slot
}

// slot lets a reload replace a task's callback without re-registering it.
type slot struct {
	fn taskloop.Func
}

func (s *slot) call() { s.fn() }

// Option adjusts NewApp, mostly for tests.
type Option func(*options)

type options struct {
	clock taskloop.Clock
}

// WithClock drives the scheduler from c instead of the system clock.
func WithClock(c taskloop.Clock) Option {
	return func(o *options) { o.clock = c }
}

func NewApp(cfgPath string, opts ...Option) (*App, error) {
	var o options
	for _, fn := range opts {
		fn(&o)
	}

	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	if err := validate(cfg); err != nil {
		return nil, err
	}

	logSvc, log := logx.New(mapLogConfig(cfg))
	appLog := log.With(logx.String("comp", "app"))

	var store storage.Store
	if sc, enabled, err := mapStorageConfig(cfg); err != nil {
		return nil, err
	} else if enabled {
		st, err := storage.Open(sc, log.With(logx.String("comp", "journal")))
		if err != nil {
			return nil, err
		}
		store = st
		appLog.Info("journal enabled", logx.String("driver", sc.Driver), logx.String("path", sc.Path))
	}

	capacity, unit, err := mapSchedulerConfig(cfg)
	if err != nil {
		return nil, err
	}
	schedOpts := []taskloop.Option{taskloop.WithLogger(log.With(logx.String("comp", "taskloop")))}
	if o.clock != nil {
		schedOpts = append(schedOpts, taskloop.WithClock(o.clock))
	}
	sched, err := taskloop.New(capacity, unit, schedOpts...)
	if err != nil {
		return nil, err
	}

	rc, err := mapRunnerConfig(cfg)
	if err != nil {
		return nil, err
	}
	bus := eventbus.New()
	runner := host.NewRunner(rc, sched, log.With(logx.String("comp", "runner")), bus)

	notify := systemd.NewNotifier(cfg.Systemd.Notify, log.With(logx.String("comp", "systemd")))
	units := systemd.NewUnitProber()

	a := &App{
		cfgPath: cfgPath,
		cfgm:    cfgm,
		boot:    cfg,
		log:     appLog,
		logs:    logSvc,
		bus:     bus,
		store:   store,
		notify:  notify,
		units:   units,
		sched:   sched,
		runner:  runner,
		deps: tasks.Deps{
			Log:      log.With(logx.String("comp", "tasks")),
			Notifier: notify,
			Units:    units,
		},
		slots: map[string]*slot{},
	}

	for _, tc := range cfg.Tasks {
		if err := a.addTask(tc, unit); err != nil {
			a.closeResources()
			return nil, err
		}
	}
	a.addWatchdog(cfg)
	return a, nil
}

// validate is the full check used for the initial load.
func validate(cfg *config.Config) error { return validateWith(cfg, config.Validate) }

// validateReload measures task periods in the running scheduler's unit,
// since a time_unit change only takes effect after a restart.
func (a *App) validateReload(cfg *config.Config) error {
	unit := a.sched.Unit()
	return validateWith(cfg, func(c *config.Config) error { return config.ValidateRunning(c, unit) })
}

func validateWith(cfg *config.Config, core func(*config.Config) error) error {
	if err := core(cfg); err != nil {
		return err
	}
	for i, tc := range cfg.Tasks {
		if err := tasks.Validate(tc); err != nil {
			return fmt.Errorf("tasks[%d].kind: %w", i, err)
		}
	}
	if _, _, err := mapStorageConfig(cfg); err != nil {
		return err
	}
	if cfg.Debug.Enabled {
		if err := debug.CheckAddr(cfg.Debug.Addr, cfg.Debug.Token); err != nil {
			return fmt.Errorf("debug.addr: %w", err)
		}
	}
	return nil
}

// addTask builds and registers one configured task. Before Start it may be
// called directly; afterwards only on the poll goroutine.
func (a *App) addTask(tc config.TaskConfig, unit taskloop.TimeUnit) error {
	name := strings.TrimSpace(tc.Name)
	period, err := config.PeriodTicks(tc.Period, unit)
	if err != nil {
		return fmt.Errorf("task %q period: %w", name, err)
	}
	fn, err := tasks.Build(tc, a.deps)
	if err != nil {
		return err
	}
	s := &slot{fn: fn}
	if _, err := a.runner.Register(name, s.call, period, tc.IsEnabled()); err != nil {
		return err
	}
	a.slots[name] = s
	return nil
}

func (a *App) addWatchdog(cfg *config.Config) {
	interval := a.notify.WatchdogInterval()
	if interval <= 0 {
		return
	}
	for _, tc := range cfg.Tasks {
		if strings.EqualFold(tc.Kind, tasks.KindWatchdog) {
			return
		}
	}
	period, err := a.sched.Unit().Ticks(interval)
	if err != nil {
		a.log.Warn("watchdog interval not representable; pings disabled", logx.Duration("interval", interval), logx.Err(err))
		return
	}
	n := a.notify
	if _, err := a.runner.Register(watchdogTask, n.Watchdog, period, true); err != nil {
		a.log.Warn("no room for watchdog task; pings disabled", logx.Err(err))
		return
	}
	a.log.Info("watchdog task registered", logx.Duration("interval", interval))
}

// Runner exposes the poll loop for callers that need snapshots.
func (a *App) Runner() *host.Runner { return a.runner }

// Err returns the first fatal error observed by the supervisor.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

// Done is closed when the app context is canceled (fatal error or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

func (a *App) Start(ctx context.Context) error {
	if a.sup != nil {
		return errors.New("app already started")
	}
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log.With(logx.String("comp", "supervisor"))), supervisor.WithCancelOnError(true))

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error { return a.validateReload(cfg) })

	if a.store != nil {
		events, unsub := a.bus.Subscribe(1024)
		a.sup.Go0("journal.writer", func(c context.Context) {
			defer unsub()
			a.writeJournal(c, events)
		})
	}

	// A callback panic ends Run with an error, which cancels everything.
	a.sup.Go("poll", a.runner.Run)

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		a.reloadLoop(c, sub)
	})
	a.sup.GoRestart("config.watch", a.cfgm.Watch, supervisor.WithRestartBackoff(time.Second, 30*time.Second))

	if dc := a.boot.Debug; dc.Enabled {
		srv := debug.New(debug.Config{Addr: dc.Addr, Token: dc.Token},
			a.log.With(logx.String("comp", "debug")),
			func() any { return a.runner.Snapshot() })
		// Optional; failures never take the daemon down.
		a.sup.GoRestart("debug.http", srv.Serve, supervisor.WithRestartBackoff(500*time.Millisecond, 10*time.Second))
	}

	a.notify.Ready()
	a.notify.Status(fmt.Sprintf("%d/%d tasks", a.sched.Len(), a.sched.Cap()))
	a.log.Info("app started", logx.Int("tasks", a.sched.Len()), logx.Int("capacity", a.sched.Cap()))
	return nil
}

// writeJournal persists fire events until ctx is done, then drains what is
// already buffered.
func (a *App) writeJournal(ctx context.Context, events <-chan eventbus.Event) {
	write := func(e eventbus.Event) {
		f, ok := e.Data.(host.Fire)
		if e.Type != eventbus.TypeTaskFired || !ok {
			return
		}
		wctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		err := a.store.AppendFire(wctx, storage.FireRecord{
			At:     f.At,
			Task:   f.Task,
			TaskID: int(f.ID),
			Tick:   f.Tick,
			Took:   f.Took,
			Manual: f.Manual,
		})
		if err != nil {
			a.log.Warn("journal append failed", logx.String("task", f.Task), logx.Err(err))
		}
	}
	for {
		select {
		case <-ctx.Done():
			for {
				select {
				case e, ok := <-events:
					if !ok {
						return
					}
					write(e)
				default:
					return
				}
			}
		case e, ok := <-events:
			if !ok {
				return
			}
			write(e)
		}
	}
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		a.closeResources()
		return nil
	}
	if a.sup.Err() != nil && reason == StopUnknown {
		reason = StopFatalError
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	a.notify.Stopping()
	waitCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	werr := a.sup.Stop(waitCtx)
	cancel()
	if errors.Is(werr, context.DeadlineExceeded) || errors.Is(werr, context.Canceled) {
		// A callback is still running; the scheduler cannot be read safely.
		a.log.Warn("supervisor did not stop in time", logx.Err(werr))
		a.closeResources()
		return werr
	}

	snap := a.runner.Snapshot()
	var fires uint64
	for _, t := range snap.Tasks {
		fires += t.Fires
	}
	var restarts, panics uint64
	for _, g := range a.sup.Snapshot().Goroutines {
		restarts += g.Restarts
		panics += g.Panics
	}
	a.log.Info("stopped",
		logx.Uint64("passes", snap.Passes),
		logx.Uint64("fires", fires),
		logx.Uint64("events_dropped", a.bus.Dropped()),
		logx.Uint64("restarts", restarts),
		logx.Uint64("panics", panics),
	)
	a.closeResources()
	return werr
}

func (a *App) closeResources() {
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Warn("journal close failed", logx.Err(err))
		}
	}
	if a.units != nil {
		a.units.Close()
	}
	if a.logs != nil {
		_ = a.logs.Close()
	}
}
