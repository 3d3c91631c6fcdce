package notifier

import (
	"context"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"tailwatch/internal/storage"
	"tailwatch/internal/transport"
)

// Storage round-trips are best effort: a slow or broken store must never
// stall intake, so reads and writes run under tight deadlines.
const (
	seenReadTimeout  = 25 * time.Millisecond
	seenWriteTimeout = 250 * time.Millisecond
)

// eventKey returns the suppression key for a notification. An explicit
// DedupKey names the underlying event and wins; otherwise the key hashes
// channel, target and text so literal repeats collapse. Notifications with
// no channel are never suppressed.
func eventKey(n transport.Notification) string {
	if n.DedupKey != "" {
		return n.DedupKey
	}
	if n.Channel == "" {
		return ""
	}
	h := fnv.New64a()
	_, _ = fmt.Fprintf(h, "%s|%d:%d:%d|", n.Channel, n.Target.ChatID, n.Target.ThreadID, n.Priority)
	_, _ = h.Write([]byte(n.Text))
	return fmt.Sprintf("%x", h.Sum64())
}

// seenWrite is one suppress-until mark queued for the storage mirror.
type seenWrite struct {
	key   string
	until time.Time
}

// suppressor tracks which event keys fired recently so repeats inside the
// dedup window are dropped. Memory is authoritative; when persistence is on,
// marks are mirrored to storage so a restart does not replay fresh alerts.
type suppressor struct {
	store storage.Store

	mu    sync.Mutex
	until map[string]time.Time
}

func newSuppressor(st storage.Store) *suppressor {
	return &suppressor{store: st, until: make(map[string]time.Time)}
}

func (sc *suppressor) persistent() bool { return sc.store != nil }

// allow reports whether key may fire now. On allow the new suppress-until is
// recorded and returned so the caller can mirror it to storage.
func (sc *suppressor) allow(ctx context.Context, key string, window time.Duration, maxEntries int, persist bool) (time.Time, bool) {
	now := time.Now()

	sc.mu.Lock()
	if until, ok := sc.until[key]; ok && now.Before(until) {
		sc.mu.Unlock()
		return time.Time{}, false
	}
	sc.mu.Unlock()

	// A miss in memory may still be a hit in storage from a previous run.
	if persist && sc.store != nil {
		rctx, cancel := context.WithTimeout(ctx, seenReadTimeout)
		until, ok, err := sc.store.GetDedup(rctx, key)
		cancel()
		if err == nil && ok && now.Before(until) {
			sc.mu.Lock()
			sc.until[key] = until
			sc.mu.Unlock()
			return time.Time{}, false
		}
	}

	until := now.Add(window)
	sc.mu.Lock()
	sc.until[key] = until
	sc.compact(now, maxEntries)
	sc.mu.Unlock()
	return until, true
}

// compact drops expired marks and, while the map still exceeds maxEntries,
// evicts the soonest-expiring keys. Caller holds sc.mu.
func (sc *suppressor) compact(now time.Time, maxEntries int) {
	for k, until := range sc.until {
		if !now.Before(until) {
			delete(sc.until, k)
		}
	}
	if maxEntries <= 0 {
		return
	}
	for len(sc.until) > maxEntries {
		victim, soonest, found := "", time.Time{}, false
		for k, t := range sc.until {
			if !found || t.Before(soonest) {
				victim, soonest, found = k, t, true
			}
		}
		if !found {
			return
		}
		delete(sc.until, victim)
	}
}

// flush mirrors suppress-until marks to storage until ctx ends or the
// channel closes during shutdown.
func (sc *suppressor) flush(ctx context.Context, ch <-chan seenWrite) {
	for {
		select {
		case <-ctx.Done():
			return
		case w, ok := <-ch:
			if !ok {
				return
			}
			wctx, cancel := context.WithTimeout(ctx, seenWriteTimeout)
			_ = sc.store.PutDedup(wctx, w.key, w.until)
			cancel()
		}
	}
}
