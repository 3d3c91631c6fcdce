package storage

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	logx "tailwatch/pkg/logx"
)

// fileStore persists to plain files derived from the configured path:
//
//	<prefix>.state.json          latest tracker snapshot, replaced atomically
//	<prefix>.flights.jsonl       append-only flight event log
//	<prefix>.dedup.snapshot.json dedup map snapshot
//	<prefix>.dedup.journal.jsonl dedup journal, folded into the snapshot
//
// It needs no driver or build tag, which makes it the default backend.
type fileStore struct {
	log logx.Logger

	mu        sync.Mutex
	statePath string
	flights   *os.File
	dedup     *dedupLog
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}

	prefix := strings.TrimSuffix(path, filepath.Ext(path))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	flights, err := os.OpenFile(prefix+".flights.jsonl", os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}
	dedup, err := openDedupLog(prefix, log)
	if err != nil {
		_ = flights.Close()
		return nil, err
	}

	return &fileStore{
		log:       log,
		statePath: prefix + ".state.json",
		flights:   flights,
		dedup:     dedup,
	}, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var errs []error
	if s.flights != nil {
		errs = append(errs, s.flights.Close())
		s.flights = nil
	}
	errs = append(errs, s.dedup.close())
	return errors.Join(errs...)
}

// PutSnapshot replaces the state file atomically so a crash mid-write cannot
// leave a torn record behind.
func (s *fileStore) PutSnapshot(_ context.Context, rec SnapshotRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return writeJSONAtomic(s.statePath, rec)
}

func (s *fileStore) GetSnapshot(_ context.Context) (SnapshotRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var rec SnapshotRecord
	ok, err := readJSON(s.statePath, &rec)
	if err != nil || !ok {
		return SnapshotRecord{}, false, err
	}
	return rec, true, nil
}

func (s *fileStore) AppendFlightEvent(_ context.Context, e FlightEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.flights == nil {
		return errors.New("flight log closed")
	}
	return json.NewEncoder(s.flights).Encode(e)
}

func (s *fileStore) PutDedup(_ context.Context, key string, until time.Time) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dedup.put(key, until.UnixMilli())
}

func (s *fileStore) GetDedup(_ context.Context, key string) (time.Time, bool, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return time.Time{}, false, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	ms, ok := s.dedup.get(key)
	if !ok {
		return time.Time{}, false, nil
	}
	return time.UnixMilli(ms), true, nil
}
