package provider

import (
	"context"
	"time"
)

// Status is the flight status of the tracked aircraft as derived from
// provider data.
type Status string

const (
	// StatusUnknown means the provider had no current data for the aircraft
	// (not transmitting, out of coverage). It is never derived from a live
	// position report.
	StatusUnknown Status = "UNKNOWN"

	StatusOnGround Status = "ON_GROUND"
	StatusAirborne Status = "AIRBORNE"
)

// Confident reports whether the status came from an actual position report.
func (s Status) Confident() bool { return s == StatusOnGround || s == StatusAirborne }

func (s Status) String() string { return string(s) }

// Position is a live position fix.
type Position struct {
	Lat        float64 `json:"lat"`
	Lon        float64 `json:"lon"`
	AltitudeFt int     `json:"altitude_ft"`
}

// AircraftState is one observation of the tracked aircraft.
//
// Optional fields are zero/nil when the provider did not report them; a
// StatusUnknown state carries no position, speed, or route.
type AircraftState struct {
	Registration string    `json:"registration"`
	ObservedAt   time.Time `json:"observed_at"`
	Status       Status    `json:"status"`

	Position    *Position `json:"position,omitempty"`
	GroundSpeed *int      `json:"ground_speed_kt,omitempty"`
	Origin      string    `json:"origin,omitempty"`
	Destination string    `json:"destination,omitempty"`

	// Extras carried for message formatting and links.
	Callsign string `json:"callsign,omitempty"`
	FlightID string `json:"flight_id,omitempty"`
	Hex      string `json:"hex,omitempty"`
}

// FlightSummary is one completed or in-progress flight from the provider's
// history endpoint. Not persisted; consumed directly by the digest.
type FlightSummary struct {
	FlightID    string
	Flight      string
	Callsign    string
	Hex         string
	Origin      string
	Destination string
	TakeoffAt   time.Time // zero when unknown
	LandedAt    time.Time // zero while still airborne
}

// Ended reports whether the flight has landed.
func (f FlightSummary) Ended() bool { return !f.LandedAt.IsZero() }

// Client fetches the current state of the tracked aircraft.
//
// Implementations make exactly one outbound call per Fetch and never retry
// internally; retry and backoff policy belongs to the tracker loop.
type Client interface {
	Name() string
	Fetch(ctx context.Context) (AircraftState, error)
}

// SummaryClient lists the aircraft's flights within a time window, newest
// first. Used by the daily digest.
type SummaryClient interface {
	Summary(ctx context.Context, from, to time.Time) ([]FlightSummary, error)
}
