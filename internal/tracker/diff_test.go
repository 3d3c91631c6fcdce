package tracker

import (
	"testing"
	"time"

	"tailwatch/internal/provider"
)

func obs(status provider.Status, origin, dest string) provider.AircraftState {
	return provider.AircraftState{
		Registration: "ZS-SNA",
		ObservedAt:   time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
		Status:       status,
		Origin:       origin,
		Destination:  dest,
	}
}

func kinds(alerts []Alert) []AlertKind {
	out := make([]AlertKind, 0, len(alerts))
	for _, a := range alerts {
		out = append(out, a.Kind)
	}
	return out
}

func TestClassifyTakeoff(t *testing.T) {
	prev := obs(provider.StatusOnGround, "JNB", "CPT")
	cur := obs(provider.StatusAirborne, "JNB", "CPT")
	alerts := Classify(prev, cur, time.Now())
	if len(alerts) != 1 || alerts[0].Kind != AlertTakeoff {
		t.Fatalf("expected exactly one TAKEOFF, got %v", kinds(alerts))
	}
}

func TestClassifyLanding(t *testing.T) {
	prev := obs(provider.StatusAirborne, "JNB", "CPT")
	cur := obs(provider.StatusOnGround, "JNB", "CPT")
	alerts := Classify(prev, cur, time.Now())
	if len(alerts) != 1 || alerts[0].Kind != AlertLanding {
		t.Fatalf("expected exactly one LANDING, got %v", kinds(alerts))
	}
}

func TestClassifyDestinationChange(t *testing.T) {
	prev := obs(provider.StatusAirborne, "JNB", "JNB")
	cur := obs(provider.StatusAirborne, "JNB", "CPT")
	alerts := Classify(prev, cur, time.Now())
	if len(alerts) != 1 || alerts[0].Kind != AlertRouteChange {
		t.Fatalf("expected exactly one ROUTE_CHANGE, got %v", kinds(alerts))
	}
}

func TestClassifyOriginChange(t *testing.T) {
	prev := obs(provider.StatusAirborne, "JNB", "CPT")
	cur := obs(provider.StatusAirborne, "DUR", "CPT")
	alerts := Classify(prev, cur, time.Now())
	if len(alerts) != 1 || alerts[0].Kind != AlertRouteChange {
		t.Fatalf("expected exactly one ROUTE_CHANGE, got %v", kinds(alerts))
	}
}

func TestClassifyBothEndsChangeIsOneAlert(t *testing.T) {
	prev := obs(provider.StatusAirborne, "JNB", "CPT")
	cur := obs(provider.StatusAirborne, "DUR", "PLZ")
	alerts := Classify(prev, cur, time.Now())
	if len(alerts) != 1 || alerts[0].Kind != AlertRouteChange {
		t.Fatalf("expected a single ROUTE_CHANGE for a full reroute, got %v", kinds(alerts))
	}
}

func TestClassifyIdenticalStatesAreSilent(t *testing.T) {
	cur := obs(provider.StatusAirborne, "JNB", "CPT")
	if alerts := Classify(cur, cur, time.Now()); len(alerts) != 0 {
		t.Fatalf("identical consecutive states must not alert, got %v", kinds(alerts))
	}
}

func TestClassifyUnknownNeverAlerts(t *testing.T) {
	cases := []struct{ prev, cur provider.AircraftState }{
		{obs(provider.StatusUnknown, "", ""), obs(provider.StatusAirborne, "JNB", "CPT")},
		{obs(provider.StatusAirborne, "JNB", "CPT"), obs(provider.StatusUnknown, "", "")},
		{obs(provider.StatusUnknown, "", ""), obs(provider.StatusUnknown, "", "")},
	}
	for i, c := range cases {
		if alerts := Classify(c.prev, c.cur, time.Now()); len(alerts) != 0 {
			t.Fatalf("case %d: unknown reading produced alerts %v", i, kinds(alerts))
		}
	}
}

func TestClassifyRouteFillInIsNotAChange(t *testing.T) {
	// The provider learning a destination it did not have before is data
	// arriving, not the aircraft being rerouted.
	prev := obs(provider.StatusAirborne, "JNB", "")
	cur := obs(provider.StatusAirborne, "JNB", "CPT")
	if alerts := Classify(prev, cur, time.Now()); len(alerts) != 0 {
		t.Fatalf("filled-in destination must not alert, got %v", kinds(alerts))
	}
	// Same for a field disappearing.
	if alerts := Classify(cur, prev, time.Now()); len(alerts) != 0 {
		t.Fatalf("dropped destination must not alert, got %v", kinds(alerts))
	}
}

func TestClassifyNoRouteChangeDuringTransition(t *testing.T) {
	// A takeoff with a different filed destination is one TAKEOFF, not a
	// TAKEOFF plus ROUTE_CHANGE.
	prev := obs(provider.StatusOnGround, "JNB", "CPT")
	cur := obs(provider.StatusAirborne, "JNB", "DUR")
	alerts := Classify(prev, cur, time.Now())
	if len(alerts) != 1 || alerts[0].Kind != AlertTakeoff {
		t.Fatalf("expected only TAKEOFF, got %v", kinds(alerts))
	}
}

func TestClassifyAirportCompareIsCaseInsensitive(t *testing.T) {
	prev := obs(provider.StatusAirborne, "JNB", "cpt")
	cur := obs(provider.StatusAirborne, "JNB", "CPT")
	if alerts := Classify(prev, cur, time.Now()); len(alerts) != 0 {
		t.Fatalf("case-only difference must not alert, got %v", kinds(alerts))
	}
}

func TestClassifyDependsOnlyOnThePair(t *testing.T) {
	// The same pair must classify identically regardless of anything that
	// happened before: feed a longer history pairwise and compare.
	seq := []provider.AircraftState{
		obs(provider.StatusOnGround, "JNB", "CPT"),
		obs(provider.StatusAirborne, "JNB", "CPT"),
		obs(provider.StatusAirborne, "JNB", "DUR"),
		obs(provider.StatusOnGround, "JNB", "DUR"),
	}
	want := []AlertKind{AlertTakeoff, AlertRouteChange, AlertLanding}
	var got []AlertKind
	for i := 1; i < len(seq); i++ {
		got = append(got, kinds(Classify(seq[i-1], seq[i], time.Now()))...)
	}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("position %d: expected %v, got %v", i, want[i], got[i])
		}
	}
}
