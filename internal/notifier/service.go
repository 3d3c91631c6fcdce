package notifier

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"tailwatch/internal/eventbus"
	rtsup "tailwatch/internal/runtime/supervisor"
	"tailwatch/internal/storage"
	"tailwatch/internal/transport"
	logx "tailwatch/pkg/logx"

	"golang.org/x/time/rate"
)

var (
	ErrDisabled  = errors.New("notifier disabled")
	ErrQueueFull = errors.New("notifier queue full")
	ErrStopped   = errors.New("notifier stopped")
)

const historyCap = 300

// delivery is one queued send. The suppression key is computed at enqueue
// time so workers never touch the hashing path.
type delivery struct {
	n   transport.Notification
	key string
}

// Service is the delivery pipeline between the alert producers and the chat
// adapter: a bounded queue feeding a small worker pool, with rate limiting,
// retries and duplicate suppression on the way out.
//
// Producers only enqueue. Anything that goes wrong past the queue is the
// pipeline's problem, reported on the event bus rather than to the caller.
type Service struct {
	log     logx.Logger
	bus     eventbus.Bus
	adapter transport.Adapter
	seen    *suppressor

	mu        sync.Mutex
	cfg       Config
	limiter   *rate.Limiter
	accepting bool
	queue     chan delivery
	writes    chan seenWrite // storage mirror for dedup marks; nil unless enabled
	sup       *rtsup.Supervisor
	draining  chan struct{} // non-nil while a Stop is in flight

	intake sync.WaitGroup // Notify calls holding a queue reference

	hmu     sync.Mutex
	history []HistoryItem
}

func New(cfg Config, adapter transport.Adapter, log logx.Logger, bus eventbus.Bus, store storage.Store) *Service {
	s := &Service{
		log:     log,
		bus:     bus,
		adapter: adapter,
		seen:    newSuppressor(store),
	}
	s.reconfigure(cfg)
	return s
}

// Enabled reports whether the pipeline accepts notifications at all.
func (s *Service) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Enabled
}

// Apply installs a new configuration. Rate limiting and retry policy take
// effect immediately; queue size and worker count on the next Start.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	s.reconfigure(cfg)
	s.mu.Unlock()
}

// reconfigure swaps in cfg. Caller holds s.mu.
func (s *Service) reconfigure(cfg Config) {
	cfg = cfg.withDefaults()
	s.cfg = cfg
	// Burst equals the per-second rate so a short flurry is absorbed
	// without stalling the workers.
	s.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
}

// Start brings up the worker pool. It is idempotent and a no-op while the
// pipeline is disabled. A Start racing a Stop waits for the drain to finish
// so the restarted pipeline owns a fresh queue.
func (s *Service) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}

	s.mu.Lock()
	if s.draining != nil {
		done := s.draining
		s.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
			return
		}
		s.mu.Lock()
	}
	if s.queue != nil || !s.cfg.Enabled {
		s.mu.Unlock()
		return
	}

	s.queue = make(chan delivery, s.cfg.QueueSize)
	s.accepting = true
	if s.cfg.PersistDedup && s.seen.persistent() {
		s.writes = make(chan seenWrite, 1024)
	}
	s.sup = rtsup.NewSupervisor(ctx,
		rtsup.WithLogger(s.log),
		// A broken worker is the pipeline's problem; it must not cancel
		// the caller's context.
		rtsup.WithCancelOnError(false),
	)
	sup := s.sup
	q := s.queue
	writes := s.writes
	workers := s.cfg.Workers
	s.mu.Unlock()

	if writes != nil {
		sup.GoRestart("dedup.persist", func(c context.Context) error {
			s.seen.flush(c, writes)
			return s.loopExit(c, "dedup mirror exited unexpectedly")
		}, rtsup.WithPublishFirstError(true))
	}
	for i := 0; i < workers; i++ {
		name := fmt.Sprintf("worker.%d", i)
		sup.GoRestart(name, func(c context.Context) error {
			s.runWorker(c, q)
			return s.loopExit(c, "worker exited unexpectedly")
		}, rtsup.WithPublishFirstError(true))
	}
}

// loopExit classifies a loop return: the queue closing during Stop or a dead
// context is a clean exit, anything else restarts the loop.
func (s *Service) loopExit(ctx context.Context, msg string) error {
	s.mu.Lock()
	stopping := s.draining != nil
	s.mu.Unlock()
	if stopping {
		return context.Canceled
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return errors.New(msg)
}

// Stop closes intake and drains queued deliveries, giving up when ctx does.
// On timeout the internal supervisor is cancelled so workers bail mid-queue.
func (s *Service) Stop(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}

	s.mu.Lock()
	if s.queue == nil {
		s.mu.Unlock()
		return
	}
	if s.draining != nil {
		done := s.draining
		s.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
		}
		return
	}
	q := s.queue
	writes := s.writes
	sup := s.sup
	done := make(chan struct{})
	s.draining = done
	s.accepting = false
	s.mu.Unlock()

	// Drain in the background so a caller deadline cannot strand the state
	// half torn down.
	go func() {
		defer close(done)
		s.intake.Wait()
		closeQuiet(writes)
		closeQuiet(q)
		_ = sup.Wait(context.Background())

		s.mu.Lock()
		s.queue = nil
		s.writes = nil
		s.sup = nil
		s.draining = nil
		s.mu.Unlock()
	}()

	select {
	case <-done:
	case <-ctx.Done():
		sup.Cancel()
	}
}

// closeQuiet closes ch, swallowing the panic from a double close.
func closeQuiet[T any](ch chan T) {
	if ch == nil {
		return
	}
	defer func() { _ = recover() }()
	close(ch)
}

// Notify enqueues a notification for asynchronous delivery. It returns once
// the job is accepted or rejected; callers never wait on the network, and a
// later delivery failure never comes back to them.
func (s *Service) Notify(ctx context.Context, n transport.Notification) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	if !s.cfg.Enabled {
		s.mu.Unlock()
		return ErrDisabled
	}
	if !s.accepting || s.queue == nil {
		s.mu.Unlock()
		return ErrStopped
	}
	q := s.queue
	writes := s.writes
	window := s.cfg.DedupWindow
	maxEntries := s.cfg.DedupMaxEntries
	persist := s.cfg.PersistDedup
	s.intake.Add(1)
	s.mu.Unlock()
	defer s.intake.Done()

	key := eventKey(n)
	if window > 0 && key != "" {
		until, ok := s.seen.allow(ctx, key, window, maxEntries, persist)
		if !ok {
			s.publish(KindDeduped, n, key, "")
			return nil
		}
		if persist && writes != nil {
			select {
			case writes <- seenWrite{key: key, until: until}:
			default:
			}
		}
	}

	s.publish(KindQueued, n, key, "")
	select {
	case q <- delivery{n: n, key: key}:
		return nil
	default:
		s.publish(KindDropped, n, key, ErrQueueFull.Error())
		return ErrQueueFull
	}
}

// publish emits a pipeline event for bus subscribers.
func (s *Service) publish(kind string, n transport.Notification, key, errText string) {
	if s.bus == nil {
		return
	}
	now := time.Now()
	s.bus.Publish(eventbus.Event{Kind: kind, Time: now, Data: NotificationEvent{
		Channel:  n.Channel,
		ChatID:   n.Target.ChatID,
		ThreadID: n.Target.ThreadID,
		Key:      key,
		At:       now,
		Error:    errText,
	}})
}

// Snapshot returns the recent delivery history, newest last.
func (s *Service) Snapshot() []HistoryItem {
	s.hmu.Lock()
	defer s.hmu.Unlock()
	return append([]HistoryItem(nil), s.history...)
}

func (s *Service) recordSent(text string) {
	s.hmu.Lock()
	s.history = append(s.history, HistoryItem{At: time.Now(), Text: text})
	if n := len(s.history); n > historyCap {
		s.history = s.history[n-historyCap:]
	}
	s.hmu.Unlock()
}
