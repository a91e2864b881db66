// Package tasks builds task callbacks from their configured kind.
package tasks

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"taskloop/internal/config"
	logx "taskloop/pkg/logx"
	"taskloop/pkg/systemd"
	"taskloop/pkg/taskloop"
)

const (
	KindHeartbeat = "heartbeat"
	KindBlink     = "blink"
	KindLog       = "log"
	KindNoop      = "noop"
	KindWatchdog  = "watchdog"
	KindUnit      = "unit"
)

var ErrUnknownKind = errors.New("unknown task kind")

// unitProbeTimeout bounds one D-Bus query; it runs on the poll goroutine.
const unitProbeTimeout = 2 * time.Second

// UnitStater reads systemd unit state.
type UnitStater interface {
	State(ctx context.Context, name string) (systemd.UnitState, error)
}

// Deps are the shared services task callbacks may use.
type Deps struct {
	Log      logx.Logger
	Notifier *systemd.Notifier
	Units    UnitStater
}

// Validate checks the kind and the fields that kind needs.
func Validate(tc config.TaskConfig) error {
	switch strings.ToLower(strings.TrimSpace(tc.Kind)) {
	case KindHeartbeat, KindBlink, KindNoop, KindWatchdog:
		return nil
	case KindLog:
		if strings.TrimSpace(tc.Message) == "" {
			return fmt.Errorf("task %q: kind log needs a message", tc.Name)
		}
		return nil
	case KindUnit:
		if strings.TrimSpace(tc.Unit) == "" {
			return fmt.Errorf("task %q: kind unit needs a unit", tc.Name)
		}
		return nil
	default:
		return fmt.Errorf("task %q: %w: %q", tc.Name, ErrUnknownKind, tc.Kind)
	}
}

// Build returns the callback for tc. Each call returns a callback with its
// own state.
func Build(tc config.TaskConfig, deps Deps) (taskloop.Func, error) {
	if err := Validate(tc); err != nil {
		return nil, err
	}
	log := deps.Log.With(logx.String("task", tc.Name))

	switch strings.ToLower(strings.TrimSpace(tc.Kind)) {
	case KindHeartbeat:
		var beats uint64
		return func() {
			beats++
			log.Info("heartbeat", logx.Uint64("beat", beats))
		}, nil

	case KindBlink:
		led := &LED{}
		return func() {
			on := led.Toggle()
			log.Debug("blink", logx.Bool("on", on), logx.Uint64("toggles", led.Toggles()))
		}, nil

	case KindLog:
		msg := tc.Message
		return func() { log.Info(msg) }, nil

	case KindNoop:
		return func() {}, nil

	case KindWatchdog:
		n := deps.Notifier
		return func() { n.Watchdog() }, nil

	case KindUnit:
		if deps.Units == nil {
			return nil, fmt.Errorf("task %q: unit probing unavailable", tc.Name)
		}
		return unitWatch(tc.Unit, deps.Units, log), nil
	}
	return nil, fmt.Errorf("task %q: %w: %q", tc.Name, ErrUnknownKind, tc.Kind)
}

// unitWatch logs when the unit's active state changes. The first probe
// only records the state.
func unitWatch(unit string, units UnitStater, log logx.Logger) taskloop.Func {
	var (
		last    string
		probed  bool
		lastErr string
	)
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), unitProbeTimeout)
		st, err := units.State(ctx, unit)
		cancel()
		if err != nil {
			if err.Error() != lastErr {
				log.Warn("unit probe failed", logx.String("unit", unit), logx.Err(err))
				lastErr = err.Error()
			}
			return
		}
		lastErr = ""
		state := st.Active
		if st.SubState != "" {
			state += "/" + st.SubState
		}
		switch {
		case !probed:
			log.Debug("unit state", logx.String("unit", st.Name), logx.String("state", state))
		case state == last:
			return
		case st.Active == "failed":
			log.Error("unit failed", logx.String("unit", st.Name), logx.String("from", last))
		default:
			log.Info("unit state changed", logx.String("unit", st.Name), logx.String("from", last), logx.String("to", state))
		}
		probed = true
		last = state
	}
}
