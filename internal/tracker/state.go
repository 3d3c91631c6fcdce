package tracker

import (
	"context"
	"time"

	"tailwatch/internal/provider"
	"tailwatch/internal/storage"
	logx "tailwatch/pkg/logx"
)

// Store holds the last-observed aircraft state across polling cycles, plus
// the failure bookkeeping that drives degraded mode.
//
// It is deliberately not safe for concurrent use: the tracker loop is its
// single owner. Other goroutines read through the loop's published Snapshot,
// never through the Store.
type Store struct {
	state    provider.AircraftState
	seeded   bool
	recorded time.Time

	failures      int
	degraded      bool
	degradedSince time.Time
}

func NewStore() *Store { return &Store{} }

// Get returns the current snapshot state. ok is false until the first Set.
func (s *Store) Get() (provider.AircraftState, bool) {
	return s.state, s.seeded
}

// Set replaces the snapshot. Called once per successful fetch.
func (s *Store) Set(state provider.AircraftState, at time.Time) {
	s.state = state
	s.seeded = true
	s.recorded = at
}

func (s *Store) RecordedAt() time.Time { return s.recorded }

// RecordFailure bumps the consecutive-failure counter and returns it.
func (s *Store) RecordFailure() int {
	s.failures++
	return s.failures
}

func (s *Store) ResetFailures() { s.failures = 0 }
func (s *Store) Failures() int  { return s.failures }

func (s *Store) MarkDegraded(at time.Time) {
	if !s.degraded {
		s.degraded = true
		s.degradedSince = at
	}
}

func (s *Store) ClearDegraded() {
	s.degraded = false
	s.degradedSince = time.Time{}
}

func (s *Store) Degraded() bool           { return s.degraded }
func (s *Store) DegradedSince() time.Time { return s.degradedSince }

// Restore seeds the store from a persisted record, so a restart resumes
// from known state instead of re-alerting transitions that already fired.
func (s *Store) Restore(rec storage.SnapshotRecord) {
	s.state = rec.State
	s.seeded = true
	s.recorded = rec.RecordedAt
	s.failures = rec.ConsecutiveFailures
	s.degraded = rec.Degraded
	s.degradedSince = rec.DegradedSince
}

// Record converts the store into its persisted form.
func (s *Store) Record() storage.SnapshotRecord {
	return storage.SnapshotRecord{
		State:               s.state,
		RecordedAt:          s.recorded,
		ConsecutiveFailures: s.failures,
		Degraded:            s.degraded,
		DegradedSince:       s.degradedSince,
	}
}

// LoadStore builds a Store, restoring the persisted snapshot when a backend
// is configured and holds one for this registration.
func LoadStore(ctx context.Context, st storage.Store, registration string, log logx.Logger) *Store {
	store := NewStore()
	if st == nil {
		return store
	}
	rec, ok, err := st.GetSnapshot(ctx)
	if err != nil {
		log.Warn("snapshot load failed, starting cold", logx.Err(err))
		return store
	}
	if !ok {
		return store
	}
	if rec.State.Registration != "" && registration != "" && rec.State.Registration != registration {
		log.Warn("persisted snapshot is for a different aircraft, starting cold",
			logx.String("persisted", rec.State.Registration), logx.String("tracking", registration))
		return store
	}
	store.Restore(rec)
	log.Info("resumed from persisted snapshot",
		logx.String("status", string(rec.State.Status)),
		logx.Time("recorded_at", rec.RecordedAt))
	return store
}
