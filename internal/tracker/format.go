package tracker

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"tailwatch/internal/provider"
	"tailwatch/internal/transport"
	"tailwatch/pkg/tghtml"
)

// Message renders the human-readable HTML body for an alert.
func Message(a Alert) string {
	reg := a.State.Registration
	if reg == "" {
		reg = a.Prev.Registration
	}
	origin := firstNonEmpty(a.State.Origin, a.Prev.Origin)
	dest := firstNonEmpty(a.State.Destination, a.Prev.Destination)

	switch a.Kind {
	case AlertTakeoff:
		head := "🛫 " + tghtml.B(reg).String() + " departed"
		if origin != "" {
			head += " " + tghtml.B(origin).String()
		}
		if dest != "" {
			head += " for " + tghtml.B(dest).String()
		}
		return tghtml.Lines(tghtml.Raw(head), flightLine(a.State)).String()

	case AlertLanding:
		head := "🛬 " + tghtml.B(reg).String() + " landed"
		if dest != "" {
			head += " at " + tghtml.B(dest).String()
		}
		var tail tghtml.H
		if cs := strings.TrimSpace(a.State.Callsign); cs != "" || origin != "" {
			parts := make([]tghtml.H, 0, 2)
			if cs != "" {
				parts = append(parts, tghtml.Raw("Flight "+tghtml.Code(cs).String()))
			}
			if origin != "" {
				parts = append(parts, tghtml.Raw("from "+tghtml.B(origin).String()))
			}
			tail = tghtml.JoinH(" ", parts...)
		}
		return tghtml.Lines(tghtml.Raw(head), tail).String()

	case AlertRouteChange:
		head := "🔀 " + tghtml.B(reg).String() + " route changed"
		was := routeText(a.Prev.Origin, a.Prev.Destination)
		now := routeText(a.State.Origin, a.State.Destination)
		detail := "Now " + tghtml.Esc(now).String() + " (was " + tghtml.Esc(was).String() + ")"
		return tghtml.Lines(tghtml.Raw(head), tghtml.Raw(detail), flightLine(a.State)).String()

	case AlertProviderDegraded:
		lines := []tghtml.H{
			tghtml.Raw("Tracker losing contact with the flight data provider for " + tghtml.B(reg).String() + "."),
		}
		if a.Note != "" {
			lines = append(lines, tghtml.Esc(a.Note))
		}
		lines = append(lines, tghtml.Esc("Polling continues at a reduced interval."))
		return tghtml.Lines(lines...).String()

	case AlertProviderRecovered:
		msg := "Provider contact restored for " + tghtml.B(reg).String() + "."
		if a.Note != "" {
			msg += " " + tghtml.Esc(a.Note).String()
		}
		return msg
	}
	return ""
}

// Priority maps alert kinds onto notifier priorities. Flight transitions carry
// their own emoji, so they stay below the notifier's prefix thresholds;
// provider health uses the notifier's operator-grade prefixes.
func Priority(kind AlertKind) int {
	switch kind {
	case AlertProviderDegraded:
		return 7
	case AlertProviderRecovered:
		return 5
	default:
		return 0
	}
}

// DedupKey names the underlying event so a restart or retry cannot deliver
// the same alert twice.
func DedupKey(a Alert) string {
	switch a.Kind {
	case AlertTakeoff:
		return "takeoff:" + flightKey(a.State, a.At)
	case AlertLanding:
		return "landing:" + flightKey(a.State, a.At)
	case AlertRouteChange:
		return "route:" + flightKey(a.State, a.At) + ":" + strings.ToUpper(routeText(a.State.Origin, a.State.Destination))
	case AlertProviderDegraded:
		return fmt.Sprintf("degraded:%d", a.At.Unix())
	case AlertProviderRecovered:
		return fmt.Sprintf("recovered:%d", a.At.Unix())
	}
	return ""
}

// flightKey identifies the ongoing flight: the provider's flight id when it
// has one, otherwise registration + day.
func flightKey(st provider.AircraftState, at time.Time) string {
	if id := strings.TrimSpace(st.FlightID); id != "" {
		return id
	}
	return strings.ToUpper(st.Registration) + ":" + at.UTC().Format("2006-01-02")
}

// Links builds the keyboard attached to flight alerts.
func Links(st provider.AircraftState) []transport.LinkButton {
	reg := strings.TrimSpace(st.Registration)
	if reg == "" {
		return nil
	}
	live := "https://www.flightradar24.com/" + url.PathEscape(firstNonEmpty(strings.TrimSpace(st.Callsign), reg))
	history := "https://www.flightradar24.com/data/aircraft/" + url.PathEscape(strings.ToLower(reg))
	return []transport.LinkButton{
		{Text: "Live map", URL: live},
		{Text: "Aircraft history", URL: history},
	}
}

// StatusMessage renders the /status reply from the published snapshot.
func StatusMessage(snap Snapshot, now time.Time) string {
	lines := []tghtml.H{
		tghtml.Raw("✈️ " + tghtml.B(snap.Registration).String()),
	}

	if !snap.Seeded {
		lines = append(lines, tghtml.Esc("No confident observation yet."))
	} else {
		status := "Status: " + tghtml.B(statusWord(snap.State.Status)).String()
		if rt := routeTextIfAny(snap.State); rt != "" {
			status += " " + tghtml.Esc("("+rt+")").String()
		}
		lines = append(lines, tghtml.Raw(status))
	}

	if !snap.LastCheck.IsZero() {
		check := "Last check: " + ago(snap.LastCheck, now)
		if snap.LastError != "" {
			check += " (failed)"
		}
		lines = append(lines, tghtml.Esc(check))
	}
	if snap.Degraded {
		d := "Provider degraded"
		if !snap.DegradedSince.IsZero() {
			d += " for " + shortDur(now.Sub(snap.DegradedSince))
		}
		d += fmt.Sprintf(", %d consecutive failures", snap.ConsecutiveFailures)
		lines = append(lines, tghtml.Esc("⚠️ "+d))
	}
	lines = append(lines, tghtml.Esc(fmt.Sprintf("Checking every %s · %d alerts sent · %d cycles", snap.Interval, snap.AlertsSent, snap.Cycles)))
	return tghtml.Lines(lines...).String()
}

// WhereMessage renders the /where reply from the published snapshot.
func WhereMessage(snap Snapshot, now time.Time) string {
	head := "✈️ " + tghtml.B(snap.Registration).String()
	if !snap.Seeded || !snap.State.Status.Confident() {
		return tghtml.Lines(
			tghtml.Raw(head),
			tghtml.Esc("No confident position yet. The aircraft is not transmitting or has not been seen since startup."),
		).String()
	}

	st := snap.State
	var where string
	switch st.Status {
	case provider.StatusAirborne:
		where = "is airborne"
		if rt := routeTextIfAny(st); rt != "" {
			where += ", " + rt
		}
	case provider.StatusOnGround:
		where = "is on the ground"
		if ap := firstNonEmpty(st.Destination, st.Origin); ap != "" {
			where += " at " + ap
		}
	}

	lines := []tghtml.H{tghtml.Raw(head + " " + tghtml.Esc(where).String())}
	if tl := flightLine(st); tl != "" {
		lines = append(lines, tl)
	}
	if st.Position != nil {
		lines = append(lines, tghtml.Esc(fmt.Sprintf("Position %.3f, %.3f", st.Position.Lat, st.Position.Lon)))
	}
	if !st.ObservedAt.IsZero() {
		lines = append(lines, tghtml.Esc("Seen "+ago(st.ObservedAt, now)))
	}
	return tghtml.Lines(lines...).String()
}

// flightLine summarizes callsign and telemetry for one message line.
func flightLine(st provider.AircraftState) tghtml.H {
	parts := make([]tghtml.H, 0, 3)
	if cs := strings.TrimSpace(st.Callsign); cs != "" {
		parts = append(parts, tghtml.Raw("Flight "+tghtml.Code(cs).String()))
	}
	if st.Position != nil {
		parts = append(parts, tghtml.Esc(fmt.Sprintf("%d ft", st.Position.AltitudeFt)))
	}
	if st.GroundSpeed != nil {
		parts = append(parts, tghtml.Esc(fmt.Sprintf("%d kt", *st.GroundSpeed)))
	}
	return tghtml.JoinH(" · ", parts...)
}

func routeText(origin, dest string) string {
	return firstNonEmpty(strings.TrimSpace(origin), "?") + " → " + firstNonEmpty(strings.TrimSpace(dest), "?")
}

func routeTextIfAny(st provider.AircraftState) string {
	if strings.TrimSpace(st.Origin) == "" && strings.TrimSpace(st.Destination) == "" {
		return ""
	}
	return routeText(st.Origin, st.Destination)
}

func statusWord(s provider.Status) string {
	switch s {
	case provider.StatusAirborne:
		return "airborne"
	case provider.StatusOnGround:
		return "on ground"
	default:
		return "unknown"
	}
}

func ago(t, now time.Time) string {
	if t.IsZero() {
		return "never"
	}
	d := now.Sub(t)
	if d < 0 {
		d = 0
	}
	if d < time.Second {
		return "just now"
	}
	return shortDur(d) + " ago"
}

// shortDur renders a duration in at most two units ("1h12m", "45s").
func shortDur(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	if d < time.Minute {
		return d.Round(time.Second).String()
	}
	// time.Duration renders "1h12m0s"; drop the trailing zero units.
	s := d.Round(time.Minute).String()
	s = strings.TrimSuffix(s, "0s")
	if strings.HasSuffix(s, "h0m") {
		s = strings.TrimSuffix(s, "0m")
	}
	return s
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
