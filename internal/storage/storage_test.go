package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"tailwatch/internal/provider"
	logx "tailwatch/pkg/logx"
)

func openTestStore(t *testing.T, path string) Store {
	t.Helper()
	st, err := Open(Config{Driver: "file", Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if st == nil {
		t.Fatalf("expected a store, got nil")
	}
	return st
}

func TestOpenDisabled(t *testing.T) {
	for _, driver := range []string{"", "none", " None "} {
		st, err := Open(Config{Driver: driver}, logx.Nop())
		if err != nil {
			t.Fatalf("driver %q: unexpected error: %v", driver, err)
		}
		if st != nil {
			t.Fatalf("driver %q: expected nil store", driver)
		}
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	if _, err := Open(Config{Driver: "redis"}, logx.Nop()); err == nil {
		t.Fatalf("expected error for unknown driver")
	}
}

func TestFileStoreRequiresPath(t *testing.T) {
	if _, err := Open(Config{Driver: "file"}, logx.Nop()); err == nil {
		t.Fatalf("expected error for missing path")
	}
}

func TestFileStoreSnapshotRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tailwatch.db")
	ctx := context.Background()

	st := openTestStore(t, path)

	if _, ok, err := st.GetSnapshot(ctx); err != nil || ok {
		t.Fatalf("expected empty snapshot, got ok=%v err=%v", ok, err)
	}

	speed := 447
	rec := SnapshotRecord{
		State: provider.AircraftState{
			Registration: "ZS-SNA",
			ObservedAt:   time.Date(2025, 6, 1, 12, 30, 0, 0, time.UTC),
			Status:       provider.StatusAirborne,
			Position:     &provider.Position{Lat: -29.1, Lon: 26.3, AltitudeFt: 37000},
			GroundSpeed:  &speed,
			Origin:       "JNB",
			Destination:  "CPT",
			Callsign:     "SA321",
			FlightID:     "39b9e2c4",
		},
		RecordedAt:          time.Date(2025, 6, 1, 12, 30, 5, 0, time.UTC),
		ConsecutiveFailures: 2,
	}
	if err := st.PutSnapshot(ctx, rec); err != nil {
		t.Fatalf("PutSnapshot: %v", err)
	}

	got, ok, err := st.GetSnapshot(ctx)
	if err != nil || !ok {
		t.Fatalf("GetSnapshot: ok=%v err=%v", ok, err)
	}
	if got.State.Status != provider.StatusAirborne {
		t.Fatalf("unexpected status %q", got.State.Status)
	}
	if got.State.Destination != "CPT" || got.State.Origin != "JNB" {
		t.Fatalf("route lost: %q -> %q", got.State.Origin, got.State.Destination)
	}
	if got.State.Position == nil || got.State.Position.AltitudeFt != 37000 {
		t.Fatalf("position lost: %+v", got.State.Position)
	}
	if got.ConsecutiveFailures != 2 {
		t.Fatalf("failure counter lost: %d", got.ConsecutiveFailures)
	}
	if err := st.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	// Same path, fresh process: the snapshot must survive.
	st2 := openTestStore(t, path)
	defer st2.Close()
	got2, ok, err := st2.GetSnapshot(ctx)
	if err != nil || !ok {
		t.Fatalf("GetSnapshot after reopen: ok=%v err=%v", ok, err)
	}
	if !got2.RecordedAt.Equal(rec.RecordedAt) {
		t.Fatalf("recorded_at changed across reopen: %v", got2.RecordedAt)
	}

	// Overwrite replaces, not appends.
	rec.State.Status = provider.StatusOnGround
	rec.State.Position = nil
	rec.State.GroundSpeed = nil
	if err := st2.PutSnapshot(ctx, rec); err != nil {
		t.Fatalf("PutSnapshot overwrite: %v", err)
	}
	got3, ok, err := st2.GetSnapshot(ctx)
	if err != nil || !ok {
		t.Fatalf("GetSnapshot after overwrite: ok=%v err=%v", ok, err)
	}
	if got3.State.Status != provider.StatusOnGround || got3.State.Position != nil {
		t.Fatalf("overwrite did not replace: %+v", got3.State)
	}
}

func TestFileStoreDedupSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tailwatch.db")
	ctx := context.Background()

	st := openTestStore(t, path)
	future := time.Now().Add(1 * time.Hour)
	past := time.Now().Add(-1 * time.Hour)
	if err := st.PutDedup(ctx, "takeoff:39b9e2c4", future); err != nil {
		t.Fatalf("PutDedup: %v", err)
	}
	if err := st.PutDedup(ctx, "landing:old", past); err != nil {
		t.Fatalf("PutDedup: %v", err)
	}
	if err := st.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	st2 := openTestStore(t, path)
	defer st2.Close()

	until, ok, err := st2.GetDedup(ctx, "takeoff:39b9e2c4")
	if err != nil || !ok {
		t.Fatalf("expected key to survive reopen, ok=%v err=%v", ok, err)
	}
	if until.Sub(future).Abs() > time.Second {
		t.Fatalf("until drifted: want ~%v got %v", future, until)
	}
	// Expired entries are pruned on load.
	if _, ok, _ := st2.GetDedup(ctx, "landing:old"); ok {
		t.Fatalf("expected expired key to be pruned")
	}
	// Blank keys are a no-op.
	if err := st2.PutDedup(ctx, "  ", future); err != nil {
		t.Fatalf("blank PutDedup: %v", err)
	}
	if _, ok, _ := st2.GetDedup(ctx, ""); ok {
		t.Fatalf("blank key should never resolve")
	}
}

func TestFileStoreFlightEventLog(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tailwatch.db")
	ctx := context.Background()

	st := openTestStore(t, path)
	defer st.Close()

	events := []FlightEvent{
		{At: time.Now(), Kind: "TAKEOFF", Status: "AIRBORNE", Origin: "JNB", Destination: "CPT", FlightID: "39b9e2c4"},
		{At: time.Now(), Kind: "ROUTE_CHANGE", Status: "AIRBORNE", Origin: "JNB", Destination: "DUR"},
		{At: time.Now(), Kind: "LANDING", Status: "ON_GROUND"},
	}
	for _, e := range events {
		if err := st.AppendFlightEvent(ctx, e); err != nil {
			t.Fatalf("AppendFlightEvent: %v", err)
		}
	}

	f, err := os.Open(filepath.Join(dir, "tailwatch.flights.jsonl"))
	if err != nil {
		t.Fatalf("open flight log: %v", err)
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	var got []FlightEvent
	for sc.Scan() {
		var e FlightEvent
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			t.Fatalf("bad jsonl line: %v", err)
		}
		got = append(got, e)
	}
	if err := sc.Err(); err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(got) != len(events) {
		t.Fatalf("expected %d lines, got %d", len(events), len(got))
	}
	if got[0].Kind != "TAKEOFF" || got[1].Destination != "DUR" || got[2].Kind != "LANDING" {
		t.Fatalf("unexpected log contents: %+v", got)
	}
}
