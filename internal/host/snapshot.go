package host

import (
	"time"

	"taskloop/pkg/taskloop"
)

// TaskSnapshot combines scheduler state with run statistics for one task.
type TaskSnapshot struct {
	Name     string          `json:"name"`
	ID       taskloop.TaskID `json:"id"`
	Enabled  bool            `json:"enabled"`
	Period   time.Duration   `json:"period"`
	LastFire uint32          `json:"last_fire"`
	Fires    uint64          `json:"fires"`
	Manual   uint64          `json:"manual"`
	LastAt   time.Time       `json:"last_at,omitempty"`
	LastTook time.Duration   `json:"last_took"`
	MaxTook  time.Duration   `json:"max_took"`
}

type Snapshot struct {
	Unit     string         `json:"unit"`
	Capacity int            `json:"capacity"`
	Passes   uint64         `json:"passes"`
	Now      uint32         `json:"now"`
	Tasks    []TaskSnapshot `json:"tasks"`
	// Recent holds the newest fires first.
	Recent []Fire `json:"recent"`
}

// Snapshot waits for the current pass to finish and returns the runner
// state. It must not be called from a task callback.
func (r *Runner) Snapshot() Snapshot {
	r.stepMu.Lock()
	defer r.stepMu.Unlock()

	unit := r.sched.Unit()
	snap := Snapshot{
		Unit:     unit.String(),
		Capacity: r.sched.Cap(),
		Passes:   r.passes.Load(),
		Now:      r.sched.Now(),
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	snap.Tasks = make([]TaskSnapshot, 0, len(r.names))
	for i, name := range r.names {
		info, err := r.sched.Task(taskloop.TaskID(i))
		if err != nil {
			continue
		}
		st := r.stats[i]
		snap.Tasks = append(snap.Tasks, TaskSnapshot{
			Name:     name,
			ID:       info.ID,
			Enabled:  info.Enabled,
			Period:   unit.Duration(info.Period),
			LastFire: info.LastFire,
			Fires:    st.fires,
			Manual:   st.manual,
			LastAt:   st.lastAt,
			LastTook: st.lastTook,
			MaxTook:  st.maxTook,
		})
	}
	n := r.history.Length()
	snap.Recent = make([]Fire, 0, n)
	for i := n - 1; i >= 0; i-- {
		snap.Recent = append(snap.Recent, r.history.Get(i).(Fire))
	}
	return snap
}
