package taskloop

import (
	"fmt"

	logx "taskloop/pkg/logx"
)

// Func is a task callback. The scheduler only holds a reference to it; the
// host owns the function and whatever it captures.
type Func func()

// TaskID identifies a registered task. IDs are assigned sequentially from 0
// in registration order and stay valid for the scheduler's lifetime.
type TaskID int

type task struct {
	fn       Func
	enabled  bool
	period   uint32 // 0 means every pass
	lastFire uint32 // timer baseline
}

// TaskInfo is a read-only view of a registered task.
type TaskInfo struct {
	ID       TaskID
	Enabled  bool
	Period   uint32
	LastFire uint32
}

// Scheduler runs registered tasks from Poll. See the package documentation
// for the scheduling model.
type Scheduler struct {
	// len(tasks) is the registered count; cap(tasks) is the capacity and
	// never changes, so pointers into the backing array stay valid while a
	// callback registers more tasks.
	tasks []task
	unit  TimeUnit
	clock Clock
	log   logx.Logger
}

type Option func(*Scheduler)

// WithClock replaces the default SystemClock.
func WithClock(c Clock) Option {
	return func(s *Scheduler) {
		if c != nil {
			s.clock = c
		}
	}
}

// WithLogger enables trace-level diagnostics for registration and state
// changes. Poll itself never logs.
func WithLogger(log logx.Logger) Option {
	return func(s *Scheduler) { s.log = log }
}

// New allocates a scheduler with room for exactly capacity tasks.
func New(capacity uint, unit TimeUnit, opts ...Option) (*Scheduler, error) {
	if capacity == 0 {
		return nil, ErrInvalidCapacity
	}
	if !unit.valid() {
		return nil, fmt.Errorf("%w: %d", ErrInvalidTimeUnit, uint8(unit))
	}
	s := &Scheduler{
		tasks: make([]task, 0, capacity),
		unit:  unit,
		log:   logx.Nop(),
	}
	for _, o := range opts {
		o(s)
	}
	if s.clock == nil {
		s.clock = NewSystemClock()
	}
	return s, nil
}

func (s *Scheduler) Len() int       { return len(s.tasks) }
func (s *Scheduler) Cap() int       { return cap(s.tasks) }
func (s *Scheduler) Unit() TimeUnit { return s.unit }

// Now returns the current counter reading in the scheduler's unit.
func (s *Scheduler) Now() uint32 {
	if s.unit == Microseconds {
		return s.clock.Micros()
	}
	return s.clock.Millis()
}

// AddTask registers fn with the given period (in the scheduler's unit; 0 runs
// on every pass) and returns its ID.
//
// The timer baseline starts at 0, not at the current reading, so an enabled
// task is normally already overdue and runs on the next Poll.
func (s *Scheduler) AddTask(fn Func, period uint32, enabled bool) (TaskID, error) {
	if fn == nil {
		return -1, ErrNilCallback
	}
	if period > MaxPeriod {
		return -1, fmt.Errorf("%w: %d > %d", ErrPeriodOutOfRange, period, uint32(MaxPeriod))
	}
	if len(s.tasks) == cap(s.tasks) {
		return -1, fmt.Errorf("%w: capacity %d", ErrCapacityExceeded, cap(s.tasks))
	}
	id := TaskID(len(s.tasks))
	s.tasks = append(s.tasks, task{fn: fn, enabled: enabled, period: period})
	s.log.Trace("task added",
		logx.Int("task", int(id)),
		logx.Uint64("period", uint64(period)),
		logx.String("unit", s.unit.String()),
		logx.Bool("enabled", enabled),
	)
	return id, nil
}

// Poll performs one pass over all registered tasks in ID order and runs each
// one that is due. Tasks registered by a callback during the pass are checked
// in the same pass.
func (s *Scheduler) Poll() {
	for i := 0; i < len(s.tasks); i++ {
		s.check(i)
	}
}

func (s *Scheduler) check(i int) {
	t := &s.tasks[i]
	if !t.enabled {
		return
	}
	if t.period == 0 || s.Now()-t.lastFire > t.period {
		s.call(i)
	}
}

// DisableTask stops a task from running on schedule. Its timer is untouched.
func (s *Scheduler) DisableTask(id TaskID) error {
	i, err := s.index(id)
	if err != nil {
		return err
	}
	s.tasks[i].enabled = false
	s.log.Trace("task disabled", logx.Int("task", i))
	return nil
}

// EnableTask re-enables a disabled task. With triggerNow the task runs
// immediately; otherwise its timer restarts so the next run is a full period
// away. Enabling an already enabled task does nothing.
func (s *Scheduler) EnableTask(id TaskID, triggerNow bool) error {
	i, err := s.index(id)
	if err != nil {
		return err
	}
	if s.tasks[i].enabled {
		return nil
	}
	s.tasks[i].enabled = true
	s.log.Trace("task enabled", logx.Int("task", i), logx.Bool("trigger_now", triggerNow))
	if triggerNow {
		s.call(i)
	} else {
		s.resetTimer(i)
	}
	return nil
}

// CallTask runs a task now, regardless of its enabled state, after
// restarting its timer.
func (s *Scheduler) CallTask(id TaskID) error {
	i, err := s.index(id)
	if err != nil {
		return err
	}
	s.call(i)
	return nil
}

// ResetTimer restarts a task's period from the current reading. Zero-period
// tasks have no timer and are left alone.
func (s *Scheduler) ResetTimer(id TaskID) error {
	i, err := s.index(id)
	if err != nil {
		return err
	}
	s.resetTimer(i)
	return nil
}

// ChangeTaskPeriod sets a new period. The timer baseline and enabled state
// are kept; the next due-check measures the new period from the old baseline.
func (s *Scheduler) ChangeTaskPeriod(id TaskID, period uint32) error {
	i, err := s.index(id)
	if err != nil {
		return err
	}
	if period > MaxPeriod {
		return fmt.Errorf("%w: %d > %d", ErrPeriodOutOfRange, period, uint32(MaxPeriod))
	}
	s.tasks[i].period = period
	s.log.Trace("task period changed", logx.Int("task", i), logx.Uint64("period", uint64(period)))
	return nil
}

// Task returns a snapshot of a registered task.
func (s *Scheduler) Task(id TaskID) (TaskInfo, error) {
	i, err := s.index(id)
	if err != nil {
		return TaskInfo{}, err
	}
	t := s.tasks[i]
	return TaskInfo{ID: id, Enabled: t.enabled, Period: t.period, LastFire: t.lastFire}, nil
}

// Reset happens before the callback so a callback that inspects the
// scheduler sees its own fresh baseline.
func (s *Scheduler) call(i int) {
	s.resetTimer(i)
	s.tasks[i].fn()
}

func (s *Scheduler) resetTimer(i int) {
	if s.tasks[i].period != 0 {
		s.tasks[i].lastFire = s.Now()
	}
}

func (s *Scheduler) index(id TaskID) (int, error) {
	if id < 0 || int(id) >= len(s.tasks) {
		return 0, fmt.Errorf("%w: %d (registered %d)", ErrInvalidTaskID, id, len(s.tasks))
	}
	return int(id), nil
}
