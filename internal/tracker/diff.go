package tracker

import (
	"strings"
	"time"

	"tailwatch/internal/provider"
)

// Classify compares two consecutive confident observations and returns the
// alerts that transition implies. It is a pure function of the pair: nothing
// older than the previous snapshot ever influences the result.
//
// Rules, in priority order:
//   - ON_GROUND -> AIRBORNE: TAKEOFF
//   - AIRBORNE -> ON_GROUND: LANDING
//   - origin or destination changed while AIRBORNE on both sides: one
//     ROUTE_CHANGE (even if both ends changed)
//
// Unconfident readings never classify: the caller retains the last confident
// status on UNKNOWN, and the very first observation only seeds state.
func Classify(prev, cur provider.AircraftState, at time.Time) []Alert {
	if !prev.Status.Confident() || !cur.Status.Confident() {
		return nil
	}

	var alerts []Alert
	add := func(kind AlertKind) {
		alerts = append(alerts, Alert{Kind: kind, At: at, Prev: prev, State: cur})
	}

	switch {
	case prev.Status == provider.StatusOnGround && cur.Status == provider.StatusAirborne:
		add(AlertTakeoff)
	case prev.Status == provider.StatusAirborne && cur.Status == provider.StatusOnGround:
		add(AlertLanding)
	case prev.Status == provider.StatusAirborne && cur.Status == provider.StatusAirborne:
		if airportChanged(prev.Origin, cur.Origin) || airportChanged(prev.Destination, cur.Destination) {
			add(AlertRouteChange)
		}
	}
	return alerts
}

// airportChanged reports a meaningful route edit: both readings present and
// different. A field appearing (provider filling in data it did not have) or
// disappearing is not a route change.
func airportChanged(before, after string) bool {
	before = strings.TrimSpace(before)
	after = strings.TrimSpace(after)
	if before == "" || after == "" {
		return false
	}
	return !strings.EqualFold(before, after)
}
