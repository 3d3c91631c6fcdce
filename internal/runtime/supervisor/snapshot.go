package supervisor

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// taskLedger aggregates run history by task name. Observability only; none of
// this synchronizes anything.
type taskLedger struct {
	mu     sync.Mutex
	byName map[string]*taskRecord
}

type taskRecord struct {
	active   int64
	started  uint64
	restarts uint64
	panics   uint64

	lastStart time.Time
	lastStop  time.Time
	lastRun   time.Duration
	totalRun  time.Duration

	lastErr   string
	lastErrAt time.Time

	lastPanic   string
	lastPanicAt time.Time
}

// get returns the record for name, creating it if needed. Caller holds mu.
func (l *taskLedger) get(name string) *taskRecord {
	if l.byName == nil {
		l.byName = map[string]*taskRecord{}
	}
	rec := l.byName[name]
	if rec == nil {
		rec = &taskRecord{}
		l.byName[name] = rec
	}
	return rec
}

func (l *taskLedger) begin(name string, restart bool) time.Time {
	now := time.Now()
	l.mu.Lock()
	rec := l.get(name)
	rec.started++
	rec.active++
	if restart {
		rec.restarts++
	}
	rec.lastStart = now
	l.mu.Unlock()
	return now
}

func (l *taskLedger) end(name string, began time.Time, err error) {
	now := time.Now()
	l.mu.Lock()
	rec := l.get(name)
	if rec.active > 0 {
		rec.active--
	}
	rec.lastStop = now
	rec.lastRun = now.Sub(began)
	rec.totalRun += rec.lastRun
	if err != nil {
		rec.lastErr = err.Error()
		rec.lastErrAt = now
	}
	l.mu.Unlock()
}

func (l *taskLedger) panicked(name string, p any) {
	now := time.Now()
	l.mu.Lock()
	rec := l.get(name)
	rec.panics++
	rec.lastPanic = stringify(p)
	rec.lastPanicAt = now
	l.mu.Unlock()
}

func stringify(p any) string {
	switch v := p.(type) {
	case string:
		return v
	case error:
		return v.Error()
	default:
		return fmt.Sprint(v)
	}
}

// TaskStats is the per-name aggregate in a snapshot. Concurrent goroutines
// sharing one name fold into one entry.
type TaskStats struct {
	Name     string `json:"name"`
	Active   int64  `json:"active"`
	Started  uint64 `json:"started"`
	Restarts uint64 `json:"restarts"`
	Panics   uint64 `json:"panics"`

	LastStartAt  time.Time     `json:"last_start_at"`
	LastStopAt   time.Time     `json:"last_stop_at"`
	LastRuntime  time.Duration `json:"last_runtime"`
	TotalRuntime time.Duration `json:"total_runtime"`

	LastErr     string    `json:"last_err,omitempty"`
	LastErrAt   time.Time `json:"last_err_at,omitempty"`
	LastPanic   string    `json:"last_panic,omitempty"`
	LastPanicAt time.Time `json:"last_panic_at,omitempty"`
}

// Snapshot is a point-in-time view of the supervisor for debug output.
type Snapshot struct {
	Active     int64       `json:"active"`
	Started    uint64      `json:"started"`
	FirstError string      `json:"first_error,omitempty"`
	Tasks      []TaskStats `json:"tasks"`
}

func (s *Supervisor) Snapshot() Snapshot {
	if s == nil {
		return Snapshot{}
	}
	snap := Snapshot{
		Active:  s.active.Load(),
		Started: s.started.Load(),
	}
	if err := s.Err(); err != nil {
		snap.FirstError = err.Error()
	}

	s.ledger.mu.Lock()
	tasks := make([]TaskStats, 0, len(s.ledger.byName))
	for name, rec := range s.ledger.byName {
		tasks = append(tasks, TaskStats{
			Name:         name,
			Active:       rec.active,
			Started:      rec.started,
			Restarts:     rec.restarts,
			Panics:       rec.panics,
			LastStartAt:  rec.lastStart,
			LastStopAt:   rec.lastStop,
			LastRuntime:  rec.lastRun,
			TotalRuntime: rec.totalRun,
			LastErr:      rec.lastErr,
			LastErrAt:    rec.lastErrAt,
			LastPanic:    rec.lastPanic,
			LastPanicAt:  rec.lastPanicAt,
		})
	}
	s.ledger.mu.Unlock()

	// Running tasks first, then most recently started, then by name.
	sort.Slice(tasks, func(i, j int) bool {
		if tasks[i].Active != tasks[j].Active {
			return tasks[i].Active > tasks[j].Active
		}
		if !tasks[i].LastStartAt.Equal(tasks[j].LastStartAt) {
			return tasks[i].LastStartAt.After(tasks[j].LastStartAt)
		}
		return tasks[i].Name < tasks[j].Name
	})
	snap.Tasks = tasks
	return snap
}
