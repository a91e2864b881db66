// Package host owns the poll loop: it is the one goroutine allowed to touch
// the scheduler, and it instruments every callback it registers.
package host

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/eapache/queue"
	"golang.org/x/time/rate"

	"taskloop/internal/eventbus"
	logx "taskloop/pkg/logx"
	"taskloop/pkg/taskloop"
)

const DefaultHistorySize = 128

var (
	ErrDuplicateName = errors.New("host: duplicate task name")
	ErrUnknownTask   = errors.New("host: unknown task")
)

// RunnerConfig tunes the poll loop.
type RunnerConfig struct {
	// PollInterval is the sleep between passes. Zero yields the processor
	// instead of sleeping.
	PollInterval time.Duration
	// SlowTaskWarn logs callbacks that run longer than this. Zero disables.
	SlowTaskWarn   time.Duration
	WarnRatePerSec int
	HistorySize    int
}

// Fire describes one callback run. It is published on the bus as the data
// of a task.fired event.
type Fire struct {
	Task   string
	ID     taskloop.TaskID
	Tick   uint32
	At     time.Time
	Took   time.Duration
	Manual bool
}

type taskStats struct {
	fires    uint64
	manual   uint64
	lastAt   time.Time
	lastTook time.Duration
	maxTook  time.Duration
}

// Runner drives a Scheduler. Registration and every other scheduler call
// happen either before Run starts or inside functions passed to Submit/Do,
// which Run executes between passes.
type Runner struct {
	cfg   RunnerConfig
	sched *taskloop.Scheduler
	log   logx.Logger
	bus   eventbus.Bus
	warn  *rate.Limiter

	ops chan func(*taskloop.Scheduler)

	// stepMu is held for each pass and each applied op; Snapshot takes it
	// to read the scheduler safely.
	stepMu  sync.Mutex
	polling bool
	passes  atomic.Uint64

	mu      sync.Mutex
	names   []string
	byName  map[string]taskloop.TaskID
	stats   []taskStats
	history *queue.Queue
}

// NewRunner takes ownership of sched, which must have no tasks yet: every
// task is added through Register.
func NewRunner(cfg RunnerConfig, sched *taskloop.Scheduler, log logx.Logger, bus eventbus.Bus) *Runner {
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = DefaultHistorySize
	}
	rps := cfg.WarnRatePerSec
	if rps <= 0 {
		rps = 1
	}
	return &Runner{
		cfg:     cfg,
		sched:   sched,
		log:     log,
		bus:     bus,
		warn:    rate.NewLimiter(rate.Limit(rps), rps),
		ops:     make(chan func(*taskloop.Scheduler), 64),
		byName:  map[string]taskloop.TaskID{},
		history: queue.New(),
	}
}

// Register adds a named task to the scheduler. Names are unique.
func (r *Runner) Register(name string, fn taskloop.Func, period uint32, enabled bool) (taskloop.TaskID, error) {
	if fn == nil {
		return -1, taskloop.ErrNilCallback
	}
	r.mu.Lock()
	_, dup := r.byName[name]
	r.mu.Unlock()
	if dup {
		return -1, fmt.Errorf("%w: %q", ErrDuplicateName, name)
	}

	var id taskloop.TaskID
	id, err := r.sched.AddTask(r.instrument(name, &id, fn), period, enabled)
	if err != nil {
		return -1, fmt.Errorf("register %q: %w", name, err)
	}

	r.mu.Lock()
	r.byName[name] = id
	r.names = append(r.names, name)
	r.stats = append(r.stats, taskStats{})
	r.mu.Unlock()

	r.log.Debug("task registered",
		logx.String("task", name),
		logx.Int("id", int(id)),
		logx.String("period", r.sched.Unit().Duration(period).String()),
		logx.Bool("enabled", enabled),
	)
	return id, nil
}

// instrument wraps fn to time it and record the run. A panic in fn skips
// the bookkeeping and propagates out of Poll.
func (r *Runner) instrument(name string, id *taskloop.TaskID, fn taskloop.Func) taskloop.Func {
	return func() {
		tick := r.sched.Now()
		start := time.Now()
		fn()
		r.record(Fire{
			Task:   name,
			ID:     *id,
			Tick:   tick,
			At:     start,
			Took:   time.Since(start),
			Manual: !r.polling,
		})
	}
}

func (r *Runner) record(f Fire) {
	r.mu.Lock()
	st := &r.stats[f.ID]
	st.fires++
	if f.Manual {
		st.manual++
	}
	st.lastAt = f.At
	st.lastTook = f.Took
	st.maxTook = max(st.maxTook, f.Took)
	if r.history.Length() >= r.cfg.HistorySize {
		r.history.Remove()
	}
	r.history.Add(f)
	r.mu.Unlock()

	if r.bus != nil {
		r.bus.Publish(eventbus.Event{Type: eventbus.TypeTaskFired, Time: f.At, Data: f})
	}
	if r.cfg.SlowTaskWarn > 0 && f.Took > r.cfg.SlowTaskWarn && r.warn.Allow() {
		r.log.Warn("slow task",
			logx.String("task", f.Task),
			logx.Duration("took", f.Took),
			logx.Duration("threshold", r.cfg.SlowTaskWarn),
		)
	}
}

// Lookup returns the ID registered under name.
func (r *Runner) Lookup(name string) (taskloop.TaskID, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.byName[name]
	return id, ok
}

// Submit queues fn to run on the poll goroutine between passes.
func (r *Runner) Submit(ctx context.Context, fn func(*taskloop.Scheduler)) error {
	select {
	case r.ops <- fn:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Do runs fn on the poll goroutine and waits for its result. It must not
// be called from a task callback.
func (r *Runner) Do(ctx context.Context, fn func(*taskloop.Scheduler) error) error {
	done := make(chan error, 1)
	if err := r.Submit(ctx, func(s *taskloop.Scheduler) { done <- fn(s) }); err != nil {
		return err
	}
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Call runs the named task now through CallTask.
func (r *Runner) Call(ctx context.Context, name string) error {
	id, ok := r.Lookup(name)
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownTask, name)
	}
	return r.Do(ctx, func(s *taskloop.Scheduler) error { return s.CallTask(id) })
}

// Step applies queued ops and then runs one poll pass.
func (r *Runner) Step() {
	r.stepMu.Lock()
	defer r.stepMu.Unlock()
	r.drainLocked()
	r.polling = true
	defer func() { r.polling = false }()
	r.sched.Poll()
	r.passes.Add(1)
}

func (r *Runner) drainLocked() {
	for {
		select {
		case op := <-r.ops:
			op(r.sched)
		default:
			return
		}
	}
}

func (r *Runner) applyOne(op func(*taskloop.Scheduler)) {
	r.stepMu.Lock()
	defer r.stepMu.Unlock()
	op(r.sched)
}

// Tune replaces the poll loop settings. Call it from a function passed to
// Submit or Do, or before Run.
func (r *Runner) Tune(cfg RunnerConfig) {
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = DefaultHistorySize
	}
	rps := cfg.WarnRatePerSec
	if rps <= 0 {
		rps = 1
	}
	r.warn.SetLimit(rate.Limit(rps))
	r.warn.SetBurst(rps)

	r.mu.Lock()
	r.cfg = cfg
	for r.history.Length() > cfg.HistorySize {
		r.history.Remove()
	}
	r.mu.Unlock()
}

// Run polls until ctx is done. Callback panics are not recovered.
func (r *Runner) Run(ctx context.Context) error {
	r.log.Info("poll loop started",
		logx.Int("tasks", r.sched.Len()),
		logx.Int("capacity", r.sched.Cap()),
		logx.String("unit", r.sched.Unit().String()),
		logx.Duration("poll_interval", r.cfg.PollInterval),
	)
	defer func() { r.log.Info("poll loop stopped", logx.Uint64("passes", r.passes.Load())) }()

	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()
	for {
		if ctx.Err() != nil {
			return nil
		}
		r.Step()

		interval := r.cfg.PollInterval
		if interval <= 0 {
			runtime.Gosched()
			continue
		}
		if timer == nil {
			timer = time.NewTimer(interval)
		} else {
			timer.Reset(interval)
		}
	wait:
		for {
			select {
			case <-ctx.Done():
				return nil
			case op := <-r.ops:
				r.applyOne(op)
			case <-timer.C:
				break wait
			}
		}
	}
}
