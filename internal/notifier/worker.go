package notifier

import (
	"context"
	"math/rand/v2"
	"time"

	logx "tailwatch/pkg/logx"
)

// Per-send deadline. Keep tight so a wedged transport call cannot hold a
// worker for long.
const sendTimeout = 10 * time.Second

// runWorker consumes deliveries until the queue closes or ctx ends.
func (s *Service) runWorker(ctx context.Context, q <-chan delivery) {
	for {
		select {
		case <-ctx.Done():
			return
		case d, ok := <-q:
			if !ok {
				return
			}
			s.deliver(ctx, d)
		}
	}
}

// deliver pushes one notification through the adapter, retrying transient
// failures with exponential backoff. The rate limiter applies per attempt so
// retries spend the same budget as fresh sends.
func (s *Service) deliver(ctx context.Context, d delivery) {
	s.mu.Lock()
	cfg := s.cfg
	lim := s.limiter
	s.mu.Unlock()

	if s.adapter == nil {
		return
	}
	text := priorityPrefix(d.n.Priority) + d.n.Text
	if text == "" {
		return
	}

	attempts := 1 + cfg.RetryMax
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if lim != nil {
			if err := lim.Wait(ctx); err != nil {
				return
			}
		}

		sctx, cancel := context.WithTimeout(ctx, sendTimeout)
		_, err := s.adapter.SendText(sctx, d.n.Target, text, d.n.Options)
		cancel()
		if err == nil {
			s.recordSent(text)
			s.publish(KindSent, d.n, d.key, "")
			return
		}
		lastErr = err
		s.log.Debug("send attempt failed",
			logx.Err(err), logx.Int("attempt", attempt), logx.Int("max", attempts))

		if attempt == attempts {
			break
		}
		if !sleepCtx(ctx, retryDelay(cfg, attempt)) {
			return
		}
	}

	s.publish(KindFailed, d.n, d.key, lastErr.Error())
}

// priorityPrefix maps a notification priority onto a leading marker so the
// chat shows severity at a glance.
func priorityPrefix(p int) string {
	switch {
	case p >= 9:
		return "🚨 "
	case p >= 7:
		return "⚠️ "
	case p >= 5:
		return "ℹ️ "
	default:
		return ""
	}
}

// sleepCtx waits for d, returning false if ctx ends first. Non-positive
// delays return immediately.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// retryDelay computes the pause after a failed attempt: exponential from
// RetryBase capped at RetryMaxDelay, with multiplicative jitter so parallel
// workers fall out of lockstep.
func retryDelay(cfg Config, attempt int) time.Duration {
	base := cfg.RetryBase
	if base <= 0 {
		base = defaultRetryBase
	}
	ceil := cfg.RetryMaxDelay
	if ceil <= 0 {
		ceil = defaultRetryMaxDelay
	}

	d := base
	for i := 1; i < attempt && d < ceil; i++ {
		d *= 2
	}
	if d > ceil {
		d = ceil
	}

	// 0.7x..1.3x
	d = time.Duration(float64(d) * (0.7 + rand.Float64()*0.6))
	if d < 0 {
		return 0
	}
	if d > ceil {
		return ceil
	}
	return d
}
