package supervisor

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"runtime/debug"
	"time"

	logx "tailwatch/pkg/logx"
)

// A run that survives this long resets the restart backoff, so a rare failure
// after hours of polling does not inherit a maxed-out delay.
const healthyRun = 30 * time.Second

type RestartOption func(*restartPolicy)

type restartPolicy struct {
	backoffMin time.Duration
	backoffMax time.Duration

	maxRestarts     int // <=0: unlimited
	stopOnCleanExit bool
	fatalOnFinalErr bool
	publishFirstErr bool
}

func defaultRestartPolicy() restartPolicy {
	return restartPolicy{
		backoffMin:      250 * time.Millisecond,
		backoffMax:      30 * time.Second,
		stopOnCleanExit: true,
	}
}

func (p *restartPolicy) normalize() {
	if p.backoffMin <= 0 {
		p.backoffMin = 250 * time.Millisecond
	}
	if p.backoffMax < p.backoffMin {
		p.backoffMax = p.backoffMin
	}
}

// clampJitter bounds d to the policy window and adds up to 20% jitter.
func (p restartPolicy) clampJitter(d time.Duration) time.Duration {
	if d < p.backoffMin {
		d = p.backoffMin
	}
	if d > p.backoffMax {
		d = p.backoffMax
	}
	if fifth := d / 5; fifth > 0 {
		d += rand.N(fifth + 1)
	}
	return d
}

// WithRestartBackoff sets the exponential backoff window between restarts.
func WithRestartBackoff(min, max time.Duration) RestartOption {
	return func(p *restartPolicy) {
		if min > 0 {
			p.backoffMin = min
		}
		if max > 0 {
			p.backoffMax = max
		}
	}
}

// WithMaxRestarts gives up after n restarts. The initial run is not counted.
func WithMaxRestarts(n int) RestartOption {
	return func(p *restartPolicy) { p.maxRestarts = n }
}

// WithFatalOnFinalError records the last error as the supervisor failure
// (cancelling the group under WithCancelOnError) when restarts run out.
func WithFatalOnFinalError(enabled bool) RestartOption {
	return func(p *restartPolicy) { p.fatalOnFinalErr = enabled }
}

// WithPublishFirstError records the first failure in Err() while the loop
// keeps restarting, so health views see it without the group going down.
func WithPublishFirstError(enabled bool) RestartOption {
	return func(p *restartPolicy) { p.publishFirstErr = enabled }
}

// WithStopOnCleanExit stops (rather than restarts) when fn returns nil.
// Default true.
func WithStopOnCleanExit(enabled bool) RestartOption {
	return func(p *restartPolicy) { p.stopOnCleanExit = enabled }
}

// GoRestart runs fn and restarts it on failure or panic with exponential
// backoff until the context is cancelled. Meant for long-running loops
// (pollers, watchers, consumers) that should self-heal.
func (s *Supervisor) GoRestart(name string, fn func(ctx context.Context) error, opts ...RestartOption) {
	if fn == nil {
		return
	}
	pol := defaultRestartPolicy()
	for _, o := range opts {
		o(&pol)
	}
	pol.normalize()

	// The hosting goroutine carries a distinct name so the per-run ledger
	// entries under the logical name stay accurate.
	s.Go0(name+".restart", func(ctx context.Context) {
		delay := pol.backoffMin
		restarts := 0
		for ctx.Err() == nil {
			began := s.ledger.begin(name, restarts > 0)
			err := s.runRecovered(ctx, name, fn)

			// Cancellation while (or after) running is a clean stop; the run
			// ended because the process is winding down.
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				s.ledger.end(name, began, nil)
				return
			}
			if err == nil {
				if pol.stopOnCleanExit {
					s.ledger.end(name, began, nil)
					return
				}
				err = errors.New("exited")
			}

			wrapped := fmt.Errorf("%s: %w", name, err)
			s.ledger.end(name, began, wrapped)
			if pol.publishFirstErr {
				s.record(wrapped)
			}

			restarts++
			if time.Since(began) >= healthyRun {
				delay = pol.backoffMin
			}
			if pol.maxRestarts > 0 && restarts > pol.maxRestarts {
				if !s.log.IsZero() {
					s.log.Error("task gave up after restarts", logx.String("task", name), logx.Int("restarts", restarts), logx.Err(err))
				}
				if pol.fatalOnFinalErr {
					s.escalate(wrapped)
				}
				return
			}

			wait := pol.clampJitter(delay)
			if !s.log.IsZero() {
				s.log.Warn("task restarting", logx.String("task", name), logx.Duration("backoff", wait), logx.Err(err))
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(wait):
			}
			if delay *= 2; delay > pol.backoffMax {
				delay = pol.backoffMax
			}
		}
	})
}

// GoRestart0 is GoRestart for loops without an error return. They restart on
// panic, and on clean exits when WithStopOnCleanExit(false) is set.
func (s *Supervisor) GoRestart0(name string, fn func(ctx context.Context), opts ...RestartOption) {
	if fn == nil {
		return
	}
	s.GoRestart(name, func(ctx context.Context) error {
		fn(ctx)
		return nil
	}, opts...)
}

// runRecovered executes one attempt, converting a panic into an error.
func (s *Supervisor) runRecovered(ctx context.Context, name string, fn func(ctx context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			s.ledger.panicked(name, r)
			if !s.log.IsZero() {
				s.log.Error("task panicked", logx.String("task", name), logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
			}
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn(ctx)
}
