package host

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskloop/internal/eventbus"
	logx "taskloop/pkg/logx"
	"taskloop/pkg/taskloop"
)

func newTestRunner(t *testing.T, cfg RunnerConfig, capacity uint) (*Runner, *taskloop.ManualClock, eventbus.Bus) {
	t.Helper()
	clk := taskloop.NewManualClock()
	sch, err := taskloop.New(capacity, taskloop.Milliseconds, taskloop.WithClock(clk))
	require.NoError(t, err)
	bus := eventbus.New()
	return NewRunner(cfg, sch, logx.Nop(), bus), clk, bus
}

func TestRegisterAndStep(t *testing.T) {
	t.Parallel()
	r, clk, bus := newTestRunner(t, RunnerConfig{}, 4)
	events, unsub := bus.Subscribe(16)
	defer unsub()

	var runs []string
	_, err := r.Register("a", func() { runs = append(runs, "a") }, 100, true)
	require.NoError(t, err)
	_, err = r.Register("b", func() { runs = append(runs, "b") }, 0, true)
	require.NoError(t, err)

	_, err = r.Register("a", func() {}, 1, true)
	require.ErrorIs(t, err, ErrDuplicateName)
	_, err = r.Register("nil", nil, 1, true)
	require.ErrorIs(t, err, taskloop.ErrNilCallback)

	id, ok := r.Lookup("b")
	require.True(t, ok)
	assert.Equal(t, taskloop.TaskID(1), id)
	_, ok = r.Lookup("missing")
	assert.False(t, ok)

	clk.Set(taskloop.Milliseconds, 50)
	r.Step()
	assert.Equal(t, []string{"b"}, runs)

	clk.Set(taskloop.Milliseconds, 101)
	r.Step()
	assert.Equal(t, []string{"b", "a", "b"}, runs)

	e := <-events
	assert.Equal(t, eventbus.TypeTaskFired, e.Type)
	f, ok := e.Data.(Fire)
	require.True(t, ok)
	assert.Equal(t, "b", f.Task)
	assert.Equal(t, uint32(50), f.Tick)
	assert.False(t, f.Manual)
}

func TestSnapshot(t *testing.T) {
	t.Parallel()
	r, clk, _ := newTestRunner(t, RunnerConfig{HistorySize: 2}, 3)
	_, err := r.Register("fast", func() {}, 10, true)
	require.NoError(t, err)
	_, err = r.Register("off", func() {}, 10, false)
	require.NoError(t, err)

	for _, now := range []uint32{11, 22, 33} {
		clk.Set(taskloop.Milliseconds, now)
		r.Step()
	}

	snap := r.Snapshot()
	assert.Equal(t, "ms", snap.Unit)
	assert.Equal(t, 3, snap.Capacity)
	assert.Equal(t, uint64(3), snap.Passes)
	assert.Equal(t, uint32(33), snap.Now)
	require.Len(t, snap.Tasks, 2)

	fast := snap.Tasks[0]
	assert.Equal(t, "fast", fast.Name)
	assert.True(t, fast.Enabled)
	assert.Equal(t, 10*time.Millisecond, fast.Period)
	assert.Equal(t, uint32(33), fast.LastFire)
	assert.Equal(t, uint64(3), fast.Fires)
	assert.False(t, snap.Tasks[1].Enabled)
	assert.Zero(t, snap.Tasks[1].Fires)

	require.Len(t, snap.Recent, 2, "history is bounded")
	assert.Equal(t, uint32(33), snap.Recent[0].Tick)
	assert.Equal(t, uint32(22), snap.Recent[1].Tick)
}

func TestSubmitRunsBeforeNextPass(t *testing.T) {
	t.Parallel()
	r, clk, _ := newTestRunner(t, RunnerConfig{}, 2)
	fired := 0
	id, err := r.Register("t", func() { fired++ }, 10, false)
	require.NoError(t, err)

	require.NoError(t, r.Submit(context.Background(), func(s *taskloop.Scheduler) {
		require.NoError(t, s.EnableTask(id, false))
	}))
	clk.Set(taskloop.Milliseconds, 5)
	r.Step()
	assert.Zero(t, fired, "enable without trigger restarts the timer")

	clk.Set(taskloop.Milliseconds, 16)
	r.Step()
	assert.Equal(t, 1, fired)
}

func TestRunAppliesOpsAndStops(t *testing.T) {
	t.Parallel()
	r, clk, _ := newTestRunner(t, RunnerConfig{PollInterval: time.Millisecond}, 2)
	var mu sync.Mutex
	fired := 0
	_, err := r.Register("t", func() {
		mu.Lock()
		fired++
		mu.Unlock()
	}, 1000, false)
	require.NoError(t, err)
	clk.Set(taskloop.Milliseconds, 1)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	callCtx, callCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer callCancel()
	require.NoError(t, r.Call(callCtx, "t"))
	require.ErrorIs(t, r.Call(callCtx, "nope"), ErrUnknownTask)

	err = r.Do(callCtx, func(s *taskloop.Scheduler) error {
		info, err := s.Task(0)
		require.NoError(t, err)
		assert.False(t, info.Enabled, "CallTask does not enable")
		assert.Equal(t, uint32(1), info.LastFire)
		return nil
	})
	require.NoError(t, err)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not stop")
	}

	mu.Lock()
	assert.Equal(t, 1, fired)
	mu.Unlock()
	snap := r.Snapshot()
	require.Len(t, snap.Recent, 1)
	assert.True(t, snap.Recent[0].Manual)
	assert.Equal(t, uint64(1), snap.Tasks[0].Manual)
}

func TestSlowTaskWarningIsRateLimited(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	clk := taskloop.NewManualClock()
	sch, err := taskloop.New(1, taskloop.Milliseconds, taskloop.WithClock(clk))
	require.NoError(t, err)
	r := NewRunner(RunnerConfig{SlowTaskWarn: time.Millisecond, WarnRatePerSec: 1}, sch, logx.NewJSON(&buf, "warn"), nil)

	_, err = r.Register("sleepy", func() { time.Sleep(3 * time.Millisecond) }, 0, true)
	require.NoError(t, err)
	r.Step()
	r.Step()
	r.Step()

	out := buf.String()
	assert.Equal(t, 1, strings.Count(out, `"slow task"`), out)
	assert.Contains(t, out, `"task":"sleepy"`)
}

func TestCallbackPanicPropagatesFromStep(t *testing.T) {
	t.Parallel()
	r, clk, _ := newTestRunner(t, RunnerConfig{}, 1)
	_, err := r.Register("bad", func() { panic("boom") }, 1, true)
	require.NoError(t, err)
	clk.Set(taskloop.Milliseconds, 10)
	assert.PanicsWithValue(t, "boom", r.Step)
	// The runner is still usable after the panic.
	assert.NotPanics(t, func() { _ = r.Snapshot() })
}

func TestTuneShrinksHistory(t *testing.T) {
	t.Parallel()
	r, clk, _ := newTestRunner(t, RunnerConfig{HistorySize: 8}, 1)
	_, err := r.Register("every", func() {}, 0, true)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		clk.Advance(taskloop.Milliseconds, 1)
		r.Step()
	}
	require.Len(t, r.Snapshot().Recent, 5)

	require.NoError(t, r.Submit(context.Background(), func(*taskloop.Scheduler) {
		r.Tune(RunnerConfig{HistorySize: 2})
	}))
	r.Step()
	recent := r.Snapshot().Recent
	require.Len(t, recent, 2)
	assert.Equal(t, uint32(5), recent[0].Tick)
}
