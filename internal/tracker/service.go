package tracker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"tailwatch/internal/eventbus"
	"tailwatch/internal/observability"
	"tailwatch/internal/provider"
	"tailwatch/internal/storage"
	"tailwatch/internal/transport"
	logx "tailwatch/pkg/logx"
)

// Sink accepts formatted alerts for delivery. The notifier service satisfies
// it; enqueueing must never block on the network.
type Sink interface {
	Notify(ctx context.Context, n transport.Notification) error
}

// AlertEvent is the bus payload for emitted alerts.
type AlertEvent struct {
	Kind         string    `json:"kind"`
	Registration string    `json:"registration"`
	Status       string    `json:"status"`
	Route        string    `json:"route,omitempty"`
	At           time.Time `json:"at"`
}

// Service runs the polling loop for a single aircraft: fetch, diff against
// the last snapshot, alert on meaningful change, persist.
type Service struct {
	client provider.Client
	sink   Sink
	store  storage.Store // optional
	bus    eventbus.Bus  // optional
	log    logx.Logger
	target transport.ChatTarget

	mu  sync.Mutex
	cfg Config

	published atomic.Value // Snapshot

	now func() time.Time
}

func New(cfg Config, client provider.Client, sink Sink, target transport.ChatTarget, log logx.Logger, bus eventbus.Bus, store storage.Store) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		client: client,
		sink:   sink,
		store:  store,
		bus:    bus,
		log:    log,
		target: target,
		cfg:    cfg.withDefaults(),
		now:    time.Now,
	}
}

// Apply installs new loop settings. The running loop picks them up at the
// start of its next cycle.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	s.cfg = cfg.withDefaults()
	s.mu.Unlock()
}

func (s *Service) config() Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

// Published returns the loop's last published snapshot for status queries.
func (s *Service) Published() Snapshot {
	if v, ok := s.published.Load().(Snapshot); ok {
		return v
	}
	return Snapshot{Registration: s.config().Registration}
}

// Run executes polling cycles until ctx is cancelled. It returns a non-nil
// error only for unrecoverable startup failure (credential rejected before
// any fetch ever succeeded); every other provider problem is contained.
func (s *Service) Run(ctx context.Context) error {
	cfg := s.config()
	state := LoadStore(ctx, s.store, cfg.Registration, s.log)

	var (
		lastSuccess time.Time
		lastErr     string
		alertsSent  uint64
		cycles      uint64
	)
	// A restored snapshot proves the credential worked before, so a later
	// auth failure is an outage, not a startup misconfiguration.
	_, everOK := state.Get()
	interval := cfg.PollInterval

	s.publish(cfg, state, Snapshot{
		LastSuccess: lastSuccess, LastError: lastErr,
		AlertsSent: alertsSent, Cycles: cycles,
		NextCheck: s.now(), Interval: interval.String(),
	})

	// First poll runs immediately; afterwards the timer drives the cadence.
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}

		cfg = s.config()
		cycles++
		checkAt := s.now()

		fctx, cancel := context.WithTimeout(ctx, cfg.FetchTimeout)
		cur, err := s.client.Fetch(fctx)
		cancel()
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if err != nil {
			observability.PollsTotal.WithLabelValues("error").Inc()
			if provider.IsAuth(err) && !everOK {
				// Never worked: misconfiguration, not an outage.
				return fmt.Errorf("provider rejected credential before any successful fetch: %w", err)
			}
			interval = s.cycleFailure(ctx, cfg, state, err, checkAt, interval)
			lastErr = err.Error()
		} else {
			observability.PollsTotal.WithLabelValues("ok").Inc()
			everOK = true
			lastSuccess = checkAt
			lastErr = ""
			sent := s.cycleSuccess(ctx, cfg, state, cur, checkAt)
			alertsSent += uint64(sent)
			interval = cfg.PollInterval
		}

		s.publish(cfg, state, Snapshot{
			LastCheck: checkAt, LastSuccess: lastSuccess, LastError: lastErr,
			AlertsSent: alertsSent, Cycles: cycles,
			NextCheck: s.now().Add(interval), Interval: interval.String(),
		})
		timer.Reset(interval)
	}
}

// cycleSuccess applies one successful fetch: recover from degraded mode,
// retain the last confident status over UNKNOWN reads, classify transitions,
// persist, emit. Returns the number of alerts sent.
func (s *Service) cycleSuccess(ctx context.Context, cfg Config, state *Store, cur provider.AircraftState, now time.Time) int {
	wasDegraded := state.Degraded()
	var outage time.Duration
	if wasDegraded && !state.DegradedSince().IsZero() {
		outage = now.Sub(state.DegradedSince())
	}
	state.ResetFailures()
	state.ClearDegraded()

	prev, seeded := state.Get()

	// An UNKNOWN read (aircraft absent from the live feed) is a transient
	// gap, not a landing: keep the last confident observation.
	eff := cur
	if cur.Status == provider.StatusUnknown && seeded && prev.Status.Confident() {
		eff = prev
	}

	var alerts []Alert
	if seeded {
		alerts = Classify(prev, eff, now)
	} else {
		s.log.Info("initial state recorded",
			logx.String("status", string(eff.Status)),
			logx.String("origin", eff.Origin),
			logx.String("destination", eff.Destination))
	}

	if wasDegraded {
		note := ""
		if outage > 0 {
			note = "Contact was lost for " + shortDur(outage) + "."
		}
		alerts = append(alerts, Alert{Kind: AlertProviderRecovered, At: now, Prev: prev, State: eff, Note: note})
	}

	state.Set(eff, now)
	s.persist(ctx, state)

	for _, a := range alerts {
		s.emit(ctx, a)
	}
	return len(alerts)
}

// cycleFailure applies one failed fetch and returns the next wait interval.
// Single failures stay invisible; crossing the consecutive-failure threshold
// (or any credential rejection mid-run) escalates exactly once per outage.
func (s *Service) cycleFailure(ctx context.Context, cfg Config, state *Store, err error, now time.Time, interval time.Duration) time.Duration {
	n := state.RecordFailure()
	s.log.Warn("poll failed", logx.Int("consecutive", n), logx.Err(err))

	if !state.Degraded() {
		escalate := n >= cfg.FailureThreshold
		note := fmt.Sprintf("%d consecutive failed checks. Last error: %v", n, err)
		if provider.IsAuth(err) {
			// The credential worked before, so someone rotated or revoked
			// it. Waiting out the threshold would only delay the operator.
			escalate = true
			note = fmt.Sprintf("Provider rejected the credential: %v", err)
		}
		if escalate {
			state.MarkDegraded(now)
			s.persist(ctx, state)
			s.emit(ctx, Alert{Kind: AlertProviderDegraded, At: now, State: s.stateForAlert(state, cfg), Note: note})
		}
	}

	next := cfg.PollInterval
	if state.Degraded() {
		// Back off while degraded so a dead provider is not hammered.
		next = interval * 2
		if next < cfg.PollInterval {
			next = cfg.PollInterval
		}
		if next > cfg.BackoffMax {
			next = cfg.BackoffMax
		}
	}

	// A throttling provider names its own pause; honor it within the cap.
	var rl *provider.RateLimitError
	if errors.As(err, &rl) && rl.RetryAfter > next {
		next = rl.RetryAfter
		if next > cfg.BackoffMax {
			next = cfg.BackoffMax
		}
	}
	return next
}

// stateForAlert yields a state value for provider-health alerts, which can
// fire before anything was ever observed.
func (s *Service) stateForAlert(state *Store, cfg Config) provider.AircraftState {
	if st, ok := state.Get(); ok {
		return st
	}
	return provider.AircraftState{Registration: cfg.Registration, Status: provider.StatusUnknown}
}

func (s *Service) emit(ctx context.Context, a Alert) {
	text := Message(a)
	if text == "" {
		return
	}

	n := transport.Notification{
		Channel:  "telegram",
		Priority: Priority(a.Kind),
		Target:   s.target,
		Text:     text,
		Options:  &transport.SendOptions{ParseMode: "HTML", DisablePreview: true},
		DedupKey: DedupKey(a),
	}
	switch a.Kind {
	case AlertTakeoff, AlertLanding, AlertRouteChange:
		n.Options.Links = Links(a.State)
	}

	if s.sink != nil {
		// Enqueue only. Delivery retries and failures are the notifier's
		// problem; a full queue is logged and dropped, never re-sent here.
		if err := s.sink.Notify(ctx, n); err != nil {
			s.log.Warn("alert enqueue failed", logx.String("kind", string(a.Kind)), logx.Err(err))
		}
	}
	observability.AlertsTotal.WithLabelValues(string(a.Kind)).Inc()

	if s.bus != nil {
		kind := eventbus.KindAlert
		switch a.Kind {
		case AlertProviderDegraded:
			kind = eventbus.KindProviderDegraded
		case AlertProviderRecovered:
			kind = eventbus.KindProviderRecovered
		}
		s.bus.Publish(eventbus.Event{Kind: kind, Time: a.At, Data: AlertEvent{
			Kind:         string(a.Kind),
			Registration: a.State.Registration,
			Status:       string(a.State.Status),
			Route:        routeTextIfAny(a.State),
			At:           a.At,
		}})
	}

	if s.store != nil {
		// Detach from ctx so a shutdown mid-cycle still lands the record.
		ectx, cancel := context.WithTimeout(context.Background(), 250*time.Millisecond)
		err := s.store.AppendFlightEvent(ectx, storage.FlightEvent{
			At:          a.At,
			Kind:        string(a.Kind),
			Status:      string(a.State.Status),
			Origin:      a.State.Origin,
			Destination: a.State.Destination,
			FlightID:    a.State.FlightID,
			Message:     a.Note,
		})
		cancel()
		if err != nil {
			s.log.Debug("flight event append failed", logx.Err(err))
		}
	}
}

func (s *Service) persist(ctx context.Context, state *Store) {
	if s.store == nil {
		return
	}
	pctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	if err := s.store.PutSnapshot(pctx, state.Record()); err != nil {
		s.log.Warn("snapshot persist failed", logx.Err(err))
	}
}

func (s *Service) publish(cfg Config, state *Store, base Snapshot) {
	st, seeded := state.Get()
	base.Registration = cfg.Registration
	base.State = st
	base.Seeded = seeded
	base.ConsecutiveFailures = state.Failures()
	base.Degraded = state.Degraded()
	base.DegradedSince = state.DegradedSince()
	s.published.Store(base)
	observability.SetDegraded(base.Degraded)
}
