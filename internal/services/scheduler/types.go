package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	logx "tailwatch/pkg/logx"
)

// Config controls the scheduler service.
type Config struct {
	Workers        int
	DefaultTimeout time.Duration
	HistorySize    int
	Timezone       string // IANA TZ; empty means the process-local zone
}

// runState is shared between cron invocations of one schedule so an
// invocation can be skipped while the previous one is still running.
type runState struct {
	mu      sync.Mutex
	running bool
}

func (r *runState) setRunning(v bool) {
	r.mu.Lock()
	r.running = v
	r.mu.Unlock()
}

func (r *runState) isRunning() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

// HistoryItem is one completed run, kept in a bounded ring for /debug.
type HistoryItem struct {
	ID       string        `json:"id"`
	Name     string        `json:"name"`
	Started  time.Time     `json:"started"`
	Duration time.Duration `json:"duration"`
	Error    string        `json:"error,omitempty"`
}

type task struct {
	id      string
	name    string
	timeout time.Duration
	run     func(ctx context.Context) error
	retry   bool
	state   *runState
}

type scheduleDef struct {
	id      string
	name    string
	spec    string // cron spec or @every
	timeout time.Duration
	job     func(ctx context.Context) error
	entryID cron.EntryID
	state   *runState
}

// Service runs registered jobs on a cron schedule with a small worker pool.
// Definitions survive Stop/Start and timezone restarts.
type Service struct {
	mu sync.Mutex

	log logx.Logger
	cfg Config
	loc *time.Location

	parser cron.Parser
	c      *cron.Cron
	defs   []scheduleDef

	queue  chan task
	stopCh chan struct{}

	workerWG sync.WaitGroup

	hmu     sync.Mutex
	history []HistoryItem
}

// ScheduleInfo describes one registered schedule for diagnostics.
type ScheduleInfo struct {
	ID      string    `json:"id"`
	Name    string    `json:"name"`
	Spec    string    `json:"spec"`
	Timeout string    `json:"timeout,omitempty"`
	Next    time.Time `json:"next,omitempty"`
	Prev    time.Time `json:"prev,omitempty"`
}

// Snapshot is the diagnostic view served by the debug endpoints.
type Snapshot struct {
	Timezone  string         `json:"timezone"`
	Workers   int            `json:"workers"`
	QueueLen  int            `json:"queue_len"`
	Schedules []ScheduleInfo `json:"schedules"`
	History   []HistoryItem  `json:"history"`
}
