package notifier

import "time"

// Config controls the async notification pipeline. Zero fields fall back to
// the defaults below.
type Config struct {
	Enabled         bool
	Workers         int
	QueueSize       int
	RatePerSec      int
	RetryMax        int
	RetryBase       time.Duration
	RetryMaxDelay   time.Duration
	DedupWindow     time.Duration
	DedupMaxEntries int
	PersistDedup    bool
}

const (
	defaultWorkers       = 2
	defaultQueueSize     = 512
	defaultRatePerSec    = 3
	defaultRetryBase     = 500 * time.Millisecond
	defaultRetryMaxDelay = 10 * time.Second
	defaultDedupEntries  = 2000
)

// withDefaults returns cfg with unset fields replaced by their fallbacks.
func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = defaultWorkers
	}
	if c.QueueSize <= 0 {
		c.QueueSize = defaultQueueSize
	}
	if c.RatePerSec <= 0 {
		c.RatePerSec = defaultRatePerSec
	}
	if c.RetryMax < 0 {
		c.RetryMax = 0
	}
	if c.RetryBase <= 0 {
		c.RetryBase = defaultRetryBase
	}
	if c.RetryMaxDelay <= 0 {
		c.RetryMaxDelay = defaultRetryMaxDelay
	}
	if c.DedupWindow < 0 {
		c.DedupWindow = 0
	}
	if c.DedupMaxEntries <= 0 {
		c.DedupMaxEntries = defaultDedupEntries
	}
	return c
}

// Bus event kinds emitted by the pipeline.
const (
	KindQueued  = "notifier.queued"
	KindSent    = "notifier.sent"
	KindDeduped = "notifier.deduped"
	KindDropped = "notifier.dropped"
	KindFailed  = "notifier.failed"
)

// HistoryItem is one delivered notification, kept for operator visibility.
type HistoryItem struct {
	At   time.Time
	Text string
}

// NotificationEvent is the bus payload for pipeline events. Keep it small;
// subscribers may log or serialize it.
type NotificationEvent struct {
	Channel  string    `json:"channel"`
	ChatID   int64     `json:"chat_id"`
	ThreadID int       `json:"thread_id,omitempty"`
	Key      string    `json:"key"`
	At       time.Time `json:"at"`
	Error    string    `json:"error,omitempty"`
}
