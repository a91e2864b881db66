package taskloop

import (
	"sync/atomic"
	"time"
)

// Clock supplies the monotonic counters a Scheduler compares against.
// Both counters count from an arbitrary epoch and wrap at 2^32.
type Clock interface {
	Millis() uint32
	Micros() uint32
}

// SystemClock counts from its creation using the runtime's monotonic clock.
type SystemClock struct {
	epoch time.Time
}

func NewSystemClock() *SystemClock {
	return &SystemClock{epoch: time.Now()}
}

// The uint32 conversions truncate modulo 2^32, which is the wrap we want.
func (c *SystemClock) Millis() uint32 { return uint32(time.Since(c.epoch).Milliseconds()) }
func (c *SystemClock) Micros() uint32 { return uint32(time.Since(c.epoch).Microseconds()) }

// ManualClock is a Clock that only moves when told to. It keeps a single
// 64-bit microsecond count, so the millisecond and microsecond counters stay
// consistent with each other and wrap independently, like a board's timers.
//
// It is safe to advance a ManualClock from a goroutine other than the one
// polling the scheduler.
type ManualClock struct {
	us atomic.Uint64
}

func NewManualClock() *ManualClock { return &ManualClock{} }

func (c *ManualClock) Millis() uint32 { return uint32(c.us.Load() / 1000) }
func (c *ManualClock) Micros() uint32 { return uint32(c.us.Load()) }

// Set moves the clock so the counter for unit reads ticks.
func (c *ManualClock) Set(unit TimeUnit, ticks uint32) {
	c.us.Store(uint64(ticks) * uint64(unit.tick()/time.Microsecond))
}

// Advance moves the clock forward by ticks of unit. Counters wrap.
func (c *ManualClock) Advance(unit TimeUnit, ticks uint32) {
	c.us.Add(uint64(ticks) * uint64(unit.tick()/time.Microsecond))
}

// AdvanceBy moves the clock forward by d, truncated to whole microseconds.
func (c *ManualClock) AdvanceBy(d time.Duration) {
	if d <= 0 {
		return
	}
	c.us.Add(uint64(d / time.Microsecond))
}
