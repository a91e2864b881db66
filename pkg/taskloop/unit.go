package taskloop

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// TimeUnit selects the counter a Scheduler reads its ticks from.
type TimeUnit uint8

const (
	Milliseconds TimeUnit = iota
	Microseconds
)

// MaxPeriod is the largest registrable period. Elapsed time is a 32-bit
// value, so a period of math.MaxUint32 could never be strictly exceeded.
const MaxPeriod = math.MaxUint32 - 1

func (u TimeUnit) String() string {
	switch u {
	case Milliseconds:
		return "ms"
	case Microseconds:
		return "us"
	default:
		return fmt.Sprintf("TimeUnit(%d)", uint8(u))
	}
}

func (u TimeUnit) valid() bool { return u == Milliseconds || u == Microseconds }

// ParseTimeUnit accepts "ms", "millis", "milliseconds", "us", "micros" and
// "microseconds" (case-insensitive). An empty string means milliseconds.
func ParseTimeUnit(s string) (TimeUnit, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "ms", "millis", "millisecond", "milliseconds":
		return Milliseconds, nil
	case "us", "µs", "micros", "microsecond", "microseconds":
		return Microseconds, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrInvalidTimeUnit, s)
	}
}

func (u TimeUnit) tick() time.Duration {
	if u == Microseconds {
		return time.Microsecond
	}
	return time.Millisecond
}

// Ticks converts d to a period in this unit. Sub-tick remainders are
// truncated; a positive duration shorter than one tick, a negative duration,
// or one above MaxPeriod ticks is rejected.
func (u TimeUnit) Ticks(d time.Duration) (uint32, error) {
	if d < 0 {
		return 0, fmt.Errorf("%w: negative duration %s", ErrPeriodOutOfRange, d)
	}
	if d == 0 {
		return 0, nil
	}
	n := int64(d / u.tick())
	if n == 0 {
		return 0, fmt.Errorf("%w: %s is shorter than one %s tick", ErrPeriodOutOfRange, d, u)
	}
	if n > MaxPeriod {
		return 0, fmt.Errorf("%w: %s exceeds %d %s", ErrPeriodOutOfRange, d, uint32(MaxPeriod), u)
	}
	return uint32(n), nil
}

// Duration converts a tick count in this unit to a time.Duration.
func (u TimeUnit) Duration(ticks uint32) time.Duration {
	return time.Duration(ticks) * u.tick()
}
