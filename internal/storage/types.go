package storage

import (
	"errors"
	"time"

	"tailwatch/internal/provider"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures storage.
//
// Driver values:
//   - "file": dependency-free file backend (jsonl + snapshot)
//   - "sqlite": SQLite database file (optional build tag)
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// SnapshotRecord is the tracker's last persisted observation, kept so a
// restart resumes from known state instead of re-alerting transitions that
// already fired.
type SnapshotRecord struct {
	State      provider.AircraftState `json:"state"`
	RecordedAt time.Time              `json:"recorded_at"`

	// Degraded-mode bookkeeping, carried so a restart mid-outage does not
	// escalate from zero again.
	ConsecutiveFailures int       `json:"consecutive_failures,omitempty"`
	Degraded            bool      `json:"degraded,omitempty"`
	DegradedSince       time.Time `json:"degraded_since"`
}

// FlightEvent records one tracked transition or escalation.
// Keep it compact and schema-stable.
type FlightEvent struct {
	At          time.Time `json:"at"`
	Kind        string    `json:"kind"`
	Status      string    `json:"status,omitempty"`
	Origin      string    `json:"origin,omitempty"`
	Destination string    `json:"destination,omitempty"`
	FlightID    string    `json:"flight_id,omitempty"`
	Message     string    `json:"message,omitempty"`
}
