// Package supervisor runs named goroutines tied to one shared context, with
// panic recovery, optional cancel-on-first-error, restart loops with backoff,
// and a snapshot view for the debug listener.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"

	logx "tailwatch/pkg/logx"
)

type Supervisor struct {
	ctx    context.Context
	cancel context.CancelFunc

	log         logx.Logger
	cancelOnErr bool

	// Process-wide counters; per-task detail lives in the ledger.
	started atomic.Uint64
	active  atomic.Int64

	errMu    sync.Mutex
	firstErr error

	wg       sync.WaitGroup
	drained  chan struct{}
	drainSet sync.Once

	ledger taskLedger
}

type SupervisorOption func(*Supervisor)

func WithLogger(log logx.Logger) SupervisorOption {
	return func(s *Supervisor) { s.log = log }
}

// WithCancelOnError cancels the supervisor context when any goroutine fails,
// so one fatal task takes the whole group down.
func WithCancelOnError(enabled bool) SupervisorOption {
	return func(s *Supervisor) { s.cancelOnErr = enabled }
}

func NewSupervisor(parent context.Context, opts ...SupervisorOption) *Supervisor {
	ctx, cancel := context.WithCancel(parent)
	s := &Supervisor{
		ctx:     ctx,
		cancel:  cancel,
		drained: make(chan struct{}),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Supervisor) Context() context.Context { return s.ctx }

// Cancel cancels the supervisor context without waiting for goroutines.
func (s *Supervisor) Cancel() { s.cancel() }

// Err returns the first recorded failure, nil while everything is healthy.
func (s *Supervisor) Err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.firstErr
}

// record keeps the first failure; later ones only show up in the ledger.
func (s *Supervisor) record(err error) {
	if err == nil {
		return
	}
	s.errMu.Lock()
	if s.firstErr == nil {
		s.firstErr = err
	}
	s.errMu.Unlock()
}

// escalate records err and, when configured, cancels the whole group.
func (s *Supervisor) escalate(err error) {
	s.record(err)
	if s.cancelOnErr {
		s.cancel()
	}
}

// Go runs fn once under the supervisor context. A non-nil return other than
// context.Canceled counts as a failure; a panic is recovered and treated the
// same way.
func (s *Supervisor) Go(name string, fn func(ctx context.Context) error) {
	if fn == nil {
		return
	}
	s.started.Add(1)
	s.active.Add(1)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.active.Add(-1)

		began := s.ledger.begin(name, false)
		defer func() {
			if r := recover(); r != nil {
				s.ledger.panicked(name, r)
				err := fmt.Errorf("panic in %s: %v", name, r)
				if !s.log.IsZero() {
					s.log.Error("task panicked", logx.String("task", name), logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
				}
				s.ledger.end(name, began, err)
				s.escalate(err)
			}
		}()

		if !s.log.IsZero() {
			s.log.Debug("task started", logx.String("task", name))
		}
		if err := fn(s.ctx); err != nil && !errors.Is(err, context.Canceled) {
			wrapped := fmt.Errorf("%s: %w", name, err)
			s.ledger.end(name, began, wrapped)
			s.escalate(wrapped)
		} else {
			s.ledger.end(name, began, nil)
		}
		if !s.log.IsZero() {
			s.log.Debug("task stopped", logx.String("task", name))
		}
	}()
}

func (s *Supervisor) Go0(name string, fn func(ctx context.Context)) {
	if fn == nil {
		return
	}
	s.Go(name, func(ctx context.Context) error {
		fn(ctx)
		return nil
	})
}

// Stop cancels the group and waits for it to drain.
func (s *Supervisor) Stop(ctx context.Context) error {
	s.cancel()
	return s.Wait(ctx)
}

// Wait blocks until every supervised goroutine has returned or ctx expires.
// On a full drain it reports the first recorded failure.
func (s *Supervisor) Wait(ctx context.Context) error {
	s.drainSet.Do(func() {
		go func() {
			s.wg.Wait()
			close(s.drained)
		}()
	})

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-s.drained:
		return s.Err()
	}
}
