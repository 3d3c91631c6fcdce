package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	logx "tailwatch/pkg/logx"
)

// Store is the persistence API used by the tracker and notifier.
type Store interface {
	PutSnapshot(ctx context.Context, rec SnapshotRecord) error
	GetSnapshot(ctx context.Context) (rec SnapshotRecord, ok bool, err error)
	AppendFlightEvent(ctx context.Context, e FlightEvent) error
	PutDedup(ctx context.Context, key string, until time.Time) error
	GetDedup(ctx context.Context, key string) (until time.Time, ok bool, err error)
	Close() error
}

// Open initializes the configured store. Storage is optional: an empty or
// "none" driver returns (nil, nil) and the app runs without persistence.
func Open(cfg Config, log logx.Logger) (Store, error) {
	switch driver := strings.ToLower(strings.TrimSpace(cfg.Driver)); driver {
	case "", "none":
		return nil, nil
	case "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", driver)
	}
}
