package config

import (
	"context"
	"math/rand/v2"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	logx "tailwatch/pkg/logx"
)

const (
	// Quiet period after the last fs event before reloading, so partial
	// writes and editor save choreography settle first.
	settleDelay = 250 * time.Millisecond

	validateTimeout = 5 * time.Second

	watchRetryMin = 250 * time.Millisecond
	watchRetryMax = 5 * time.Second
)

// Watch follows the config file until ctx ends, reloading it on change.
// The directory is watched rather than the file so rename-based saves keep
// working, and a broken watcher is recreated with backoff: some platforms
// silently stop delivering events or close their channels.
func (m *ConfigManager) Watch(ctx context.Context) error {
	dir := filepath.Dir(m.path)
	base := filepath.Base(m.path)

	pending := &debounced{delay: settleDelay, fn: func() { m.reload(ctx) }}
	defer pending.stop()
	retry := &retryWait{min: watchRetryMin, max: watchRetryMax}
	retry.reset()

	for ctx.Err() == nil {
		w, err := fsnotify.NewWatcher()
		if err != nil {
			m.log.Warn("config watch init failed", logx.Err(err), logx.String("dir", dir))
			if !retry.sleep(ctx) {
				return nil
			}
			continue
		}
		if err := w.Add(dir); err != nil {
			_ = w.Close()
			m.log.Warn("config watch add failed", logx.Err(err), logx.String("dir", dir))
			if !retry.sleep(ctx) {
				return nil
			}
			continue
		}

		retry.reset()
		m.log.Debug("config watcher started", logx.String("dir", dir), logx.String("file", base))

		healthy := true
		for healthy {
			select {
			case <-ctx.Done():
				_ = w.Close()
				return nil

			case ev, ok := <-w.Events:
				if !ok {
					healthy = false
					break
				}
				// Compare basenames: event paths may be absolute or
				// relative depending on platform.
				if !strings.EqualFold(filepath.Base(ev.Name), base) {
					continue
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove|fsnotify.Chmod) != 0 {
					m.log.Debug("config change detected; scheduling reload", logx.String("path", m.path))
					pending.trigger()
				}

			case err, ok := <-w.Errors:
				if !ok {
					healthy = false
					break
				}
				if err == nil {
					continue
				}
				// Match on message text; the concrete error values vary
				// across fsnotify versions and backends.
				msg := strings.ToLower(err.Error())
				switch {
				case strings.Contains(msg, "overflow"):
					// Events were missed; reload once rather than trusting
					// the stream.
					m.log.Warn("config watch overflow; forcing reload", logx.Err(err), logx.String("dir", dir))
					pending.trigger()
				case strings.Contains(msg, "closed"):
					m.log.Warn("config watch error", logx.Err(err), logx.String("dir", dir))
					healthy = false
				default:
					m.log.Warn("config watch error", logx.Err(err), logx.String("dir", dir))
				}
			}
		}

		_ = w.Close()
		if ctx.Err() != nil {
			return nil
		}
		m.log.Warn("config watcher stopped; restarting", logx.String("dir", dir), logx.String("file", base))
		if !retry.sleep(ctx) {
			return nil
		}
	}
	return nil
}

// reload parses, validates and publishes the file's current content. Runs on
// the debounce timer once a burst of fs events has settled.
func (m *ConfigManager) reload(ctx context.Context) {
	cfg, err := m.Parse()
	if err != nil {
		m.log.Warn("config parse failed", logx.String("path", m.path), logx.Err(err))
		return
	}

	h := checksum(cfg)
	m.mu.RLock()
	unchanged := h != 0 && h == m.lastHash
	m.mu.RUnlock()
	if unchanged {
		m.log.Debug("config unchanged; skipping publish", logx.String("path", m.path))
		return
	}

	if m.validator != nil {
		vctx, cancel := context.WithTimeout(ctx, validateTimeout)
		err := m.validator(vctx, cfg)
		cancel()
		if err != nil {
			m.log.Warn("config rejected", logx.String("path", m.path), logx.Err(err))
			return
		}
	}

	m.Commit(cfg)
	m.publish(cfg)
	m.log.Debug("config published", logx.String("path", m.path), logx.Uint64("hash", h))
}

// debounced coalesces bursts of trigger calls into one fn invocation after a
// quiet period.
type debounced struct {
	delay time.Duration
	fn    func()

	mu    sync.Mutex
	timer *time.Timer
}

func (d *debounced) trigger() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.delay, d.fn)
}

func (d *debounced) stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer != nil {
		d.timer.Stop()
	}
}

// retryWait paces watcher restarts: doubling backoff with jitter, reset
// after a successful start.
type retryWait struct {
	min, max time.Duration
	next     time.Duration
}

func (r *retryWait) reset() { r.next = r.min }

// sleep waits out the current backoff; false means ctx ended first.
func (r *retryWait) sleep(ctx context.Context) bool {
	wait := r.next + rand.N(r.next/2+1)
	if r.next < r.max {
		if r.next *= 2; r.next > r.max {
			r.next = r.max
		}
	}
	select {
	case <-ctx.Done():
		return false
	case <-time.After(wait):
		return true
	}
}
