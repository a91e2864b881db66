package supervisor

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func waitCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestPanicCancelsAndIsReported(t *testing.T) {
	t.Parallel()
	s := New(context.Background(), WithCancelOnError(true))
	s.Go0("poll", func(context.Context) { panic("boom") })
	s.Go0("idle", func(ctx context.Context) { <-ctx.Done() })

	err := s.Wait(waitCtx(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "poll")
	assert.Contains(t, err.Error(), "boom")

	snap := s.Snapshot()
	require.Len(t, snap.Goroutines, 2)
	assert.Equal(t, "idle", snap.Goroutines[0].Name)
	assert.Equal(t, uint64(1), snap.Goroutines[1].Panics)
}

func TestCanceledIsCleanStop(t *testing.T) {
	t.Parallel()
	s := New(context.Background())
	s.Go("worker", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	require.NoError(t, s.Stop(waitCtx(t)))
	assert.Zero(t, s.Snapshot().Active)
}

func TestGoRestartRetriesUntilClean(t *testing.T) {
	t.Parallel()
	var runs atomic.Int32
	s := New(context.Background())
	s.GoRestart("flaky", func(context.Context) error {
		if runs.Add(1) < 3 {
			return errors.New("transient")
		}
		return nil
	}, WithRestartBackoff(time.Millisecond, 2*time.Millisecond))

	require.NoError(t, s.Wait(waitCtx(t)))
	assert.Equal(t, int32(3), runs.Load())
}

func TestGoRestartKeepsRetryingUntilStopped(t *testing.T) {
	t.Parallel()
	s := New(context.Background(), WithCancelOnError(true))
	var runs atomic.Int32
	s.GoRestart("broken", func(context.Context) error {
		runs.Add(1)
		return errors.New("nope")
	}, WithRestartBackoff(time.Millisecond, time.Millisecond))

	require.Eventually(t, func() bool { return runs.Load() >= 3 }, 5*time.Second, time.Millisecond)
	assert.NoError(t, s.Context().Err(), "restart failures must not cancel the supervisor")
	require.NoError(t, s.Stop(waitCtx(t)))

	var broken GoroutineStats
	for _, g := range s.Snapshot().Goroutines {
		if g.Name == "broken" {
			broken = g
		}
	}
	assert.GreaterOrEqual(t, broken.Restarts, uint64(2))
	assert.True(t, strings.HasPrefix(broken.LastErr, "broken: "))
}
