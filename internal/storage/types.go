package storage

import (
	"errors"
	"time"
)

var ErrClosed = errors.New("storage closed")

// DefaultRetain bounds the journal when Config.Retain is zero.
const DefaultRetain = 10000

// Config configures the journal.
//
// Driver values:
//   - "file": JSON Lines file, compacted in place
//   - "sqlite": SQLite database (modernc.org/sqlite, pure Go)
//
// If Driver is empty or "none", the journal is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
	Retain      int           // records kept; 0 means DefaultRetain
}

func (c Config) retain() int {
	if c.Retain <= 0 {
		return DefaultRetain
	}
	return c.Retain
}

// FireRecord describes one task firing.
type FireRecord struct {
	At     time.Time     `json:"at"`
	Task   string        `json:"task"`
	TaskID int           `json:"id"`
	Tick   uint32        `json:"tick"` // scheduler counter when the task fired
	Took   time.Duration `json:"took"`
	Manual bool          `json:"manual,omitempty"` // fired by CallTask or EnableTask(trigger)
}
