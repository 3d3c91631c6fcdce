package tracker

import (
	"time"

	"tailwatch/internal/provider"
)

type AlertKind string

const (
	AlertTakeoff           AlertKind = "TAKEOFF"
	AlertLanding           AlertKind = "LANDING"
	AlertRouteChange       AlertKind = "ROUTE_CHANGE"
	AlertProviderDegraded  AlertKind = "PROVIDER_DEGRADED"
	AlertProviderRecovered AlertKind = "PROVIDER_RECOVERED"
)

// Alert is one event worth telling the chat about. Alerts are transient:
// built by the diff step, formatted, handed to the notifier, never stored.
type Alert struct {
	Kind  AlertKind
	At    time.Time
	Prev  provider.AircraftState
	State provider.AircraftState
	Note  string // extra context (outage length, last error)
}

// Config holds the loop's resolved settings. Zero fields fall back to
// defaults via withDefaults.
type Config struct {
	Registration     string
	PollInterval     time.Duration
	FetchTimeout     time.Duration
	FailureThreshold int
	BackoffMax       time.Duration
}

func (c Config) withDefaults() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = 60 * time.Second
	}
	if c.FetchTimeout <= 0 || c.FetchTimeout >= c.PollInterval {
		// Fetches must finish well inside a cycle so a hung call can never
		// stall the cadence.
		c.FetchTimeout = c.PollInterval / 2
		if c.FetchTimeout > 15*time.Second {
			c.FetchTimeout = 15 * time.Second
		}
	}
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = 5
	}
	if c.BackoffMax < c.PollInterval {
		c.BackoffMax = 10 * time.Minute
		if c.BackoffMax < c.PollInterval {
			c.BackoffMax = c.PollInterval
		}
	}
	return c
}

// Snapshot is the loop's published view for status queries. It is written by
// the loop goroutine only; readers always get a copy.
type Snapshot struct {
	Registration string                 `json:"registration"`
	State        provider.AircraftState `json:"state"`
	Seeded       bool                   `json:"seeded"`

	LastCheck   time.Time `json:"last_check"`
	LastSuccess time.Time `json:"last_success"`
	NextCheck   time.Time `json:"next_check"`
	Interval    string    `json:"interval"`

	ConsecutiveFailures int       `json:"consecutive_failures"`
	Degraded            bool      `json:"degraded"`
	DegradedSince       time.Time `json:"degraded_since"`
	LastError           string    `json:"last_error,omitempty"`

	AlertsSent uint64 `json:"alerts_sent"`
	Cycles     uint64 `json:"cycles"`
}
