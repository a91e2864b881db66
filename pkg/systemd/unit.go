package systemd

import (
	"errors"
	"time"
)

var ErrUnsupported = errors.New("systemd: unit state needs linux")

// UnitState is the subset of unit properties the unit probe reports.
type UnitState struct {
	Name        string
	Active      string // active, inactive, failed, ...
	SubState    string // running, dead, ...
	LoadState   string // loaded, not-found, ...
	StateChange time.Time
}

// Running reports whether the unit is active.
func (s UnitState) Running() bool { return s.Active == "active" }

func unitName(name string) string {
	for _, suffix := range []string{".service", ".timer", ".socket", ".target", ".mount", ".path"} {
		if len(name) > len(suffix) && name[len(name)-len(suffix):] == suffix {
			return name
		}
	}
	return name + ".service"
}

func getString(props map[string]any, key string) string {
	s, _ := props[key].(string)
	return s
}

// systemd timestamps are microseconds since the Unix epoch.
func getTimestamp(props map[string]any, key string) time.Time {
	if us, ok := props[key].(uint64); ok && us > 0 {
		return time.UnixMicro(int64(us))
	}
	return time.Time{}
}
