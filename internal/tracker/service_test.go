package tracker

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"tailwatch/internal/eventbus"
	"tailwatch/internal/provider"
	"tailwatch/internal/storage"
	"tailwatch/internal/transport"
	logx "tailwatch/pkg/logx"
)

type fetchStep struct {
	st  provider.AircraftState
	err error
}

// scriptClient feeds the loop one scripted result per cycle. When the script
// runs dry the next Fetch blocks until its context expires, so tests queue
// enough trailing repeats to cover the cycles they assert on.
type scriptClient struct {
	steps chan fetchStep
}

func newScriptClient() *scriptClient {
	return &scriptClient{steps: make(chan fetchStep, 64)}
}

func (c *scriptClient) Name() string { return "script" }

func (c *scriptClient) Fetch(ctx context.Context) (provider.AircraftState, error) {
	select {
	case s := <-c.steps:
		return s.st, s.err
	case <-ctx.Done():
		return provider.AircraftState{}, &provider.TransientError{Op: "fetch", Err: ctx.Err()}
	}
}

func (c *scriptClient) push(st provider.AircraftState, n int) {
	for i := 0; i < n; i++ {
		c.steps <- fetchStep{st: st}
	}
}

func (c *scriptClient) fail(err error, n int) {
	for i := 0; i < n; i++ {
		c.steps <- fetchStep{err: err}
	}
}

type captureSink struct {
	mu    sync.Mutex
	notes []transport.Notification
}

func (s *captureSink) Notify(ctx context.Context, n transport.Notification) error {
	s.mu.Lock()
	s.notes = append(s.notes, n)
	s.mu.Unlock()
	return nil
}

func (s *captureSink) all() []transport.Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]transport.Notification, len(s.notes))
	copy(out, s.notes)
	return out
}

func trackerConfig() Config {
	return Config{
		Registration:     "ZS-SNA",
		PollInterval:     15 * time.Millisecond,
		FailureThreshold: 3,
		BackoffMax:       50 * time.Millisecond,
	}
}

func runTracker(t *testing.T, svc *Service) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Error("tracker loop did not stop")
		}
	})
}

// waitCycles blocks until the loop has published at least n completed cycles.
// Alerts for cycle n are enqueued before the snapshot for cycle n appears,
// so asserting on the sink after this returns is race-free.
func waitCycles(t *testing.T, svc *Service, n uint64) Snapshot {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		snap := svc.Published()
		if snap.Cycles >= n {
			return snap
		}
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for cycle %d (at %d)", n, snap.Cycles)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func TestRunSeedsSilently(t *testing.T) {
	client := newScriptClient()
	client.push(obs(provider.StatusOnGround, "JNB", "CPT"), 4)
	sink := &captureSink{}
	svc := New(trackerConfig(), client, sink, transport.ChatTarget{ChatID: 1}, logx.Nop(), nil, nil)
	runTracker(t, svc)

	snap := waitCycles(t, svc, 4)
	if got := sink.all(); len(got) != 0 {
		t.Fatalf("first observation must not alert, got %d notifications", len(got))
	}
	if !snap.Seeded || snap.State.Status != provider.StatusOnGround {
		t.Fatalf("snapshot not seeded: %+v", snap)
	}
	if snap.LastSuccess.IsZero() || snap.LastError != "" {
		t.Fatalf("unexpected health fields: %+v", snap)
	}
}

func TestRunTakeoffAlertOnce(t *testing.T) {
	client := newScriptClient()
	client.push(obs(provider.StatusOnGround, "JNB", "CPT"), 1)
	client.push(obs(provider.StatusAirborne, "JNB", "CPT"), 6)
	sink := &captureSink{}
	svc := New(trackerConfig(), client, sink, transport.ChatTarget{ChatID: 1}, logx.Nop(), nil, nil)
	runTracker(t, svc)

	waitCycles(t, svc, 7)
	got := sink.all()
	if len(got) != 1 {
		t.Fatalf("expected exactly one takeoff notification, got %d", len(got))
	}
	n := got[0]
	if !strings.Contains(n.Text, "departed") {
		t.Fatalf("unexpected text: %s", n.Text)
	}
	if !strings.HasPrefix(n.DedupKey, "takeoff:") {
		t.Fatalf("dedup key = %q", n.DedupKey)
	}
	if n.Priority != 0 {
		t.Fatalf("flight alerts carry priority 0, got %d", n.Priority)
	}
	if n.Options == nil || n.Options.ParseMode != "HTML" || len(n.Options.Links) != 2 {
		t.Fatalf("unexpected send options: %+v", n.Options)
	}
	if n.Target.ChatID != 1 {
		t.Fatalf("target = %+v", n.Target)
	}
}

func TestRunFullFlightSequence(t *testing.T) {
	client := newScriptClient()
	client.push(obs(provider.StatusOnGround, "JNB", "CPT"), 1)
	client.push(obs(provider.StatusAirborne, "JNB", "CPT"), 1)
	client.push(obs(provider.StatusAirborne, "JNB", "DUR"), 1)
	client.push(obs(provider.StatusOnGround, "JNB", "DUR"), 4)
	sink := &captureSink{}
	svc := New(trackerConfig(), client, sink, transport.ChatTarget{ChatID: 1}, logx.Nop(), nil, nil)
	runTracker(t, svc)

	waitCycles(t, svc, 7)
	got := sink.all()
	if len(got) != 3 {
		t.Fatalf("expected takeoff, route change, landing; got %d notifications", len(got))
	}
	for i, prefix := range []string{"takeoff:", "route:", "landing:"} {
		if !strings.HasPrefix(got[i].DedupKey, prefix) {
			t.Fatalf("notification %d dedup key = %q, want prefix %q", i, got[i].DedupKey, prefix)
		}
	}
}

func TestRunTransientFailureLeavesStateUntouched(t *testing.T) {
	client := newScriptClient()
	client.push(obs(provider.StatusOnGround, "JNB", "CPT"), 1)
	client.fail(&provider.TransientError{Op: "fetch", Err: errors.New("connection reset")}, 1)
	sink := &captureSink{}
	svc := New(trackerConfig(), client, sink, transport.ChatTarget{ChatID: 1}, logx.Nop(), nil, nil)
	runTracker(t, svc)

	snap := waitCycles(t, svc, 2)
	if snap.State.Status != provider.StatusOnGround {
		t.Fatalf("failed cycle mutated state: %+v", snap.State)
	}
	if snap.ConsecutiveFailures != 1 || snap.LastError == "" {
		t.Fatalf("failure not recorded: %+v", snap)
	}
	if len(sink.all()) != 0 {
		t.Fatal("single transient failure must stay silent")
	}

	// The diff after the gap still sees the pre-failure state, so the
	// takeoff fires exactly once.
	client.push(obs(provider.StatusAirborne, "JNB", "CPT"), 4)
	snap = waitCycles(t, svc, 3)
	got := sink.all()
	if len(got) != 1 || !strings.HasPrefix(got[0].DedupKey, "takeoff:") {
		t.Fatalf("expected one takeoff after the gap, got %d", len(got))
	}
	if snap.ConsecutiveFailures != 0 || snap.Degraded {
		t.Fatalf("success did not reset failure bookkeeping: %+v", snap)
	}
}

func TestRunDegradedAlertAtThreshold(t *testing.T) {
	client := newScriptClient()
	client.fail(&provider.TransientError{Op: "fetch", Err: errors.New("timeout")}, 2)
	sink := &captureSink{}
	svc := New(trackerConfig(), client, sink, transport.ChatTarget{ChatID: 9}, logx.Nop(), nil, nil)
	runTracker(t, svc)

	snap := waitCycles(t, svc, 2)
	if len(sink.all()) != 0 {
		t.Fatal("alerted below the failure threshold")
	}
	if snap.Degraded || snap.ConsecutiveFailures != 2 {
		t.Fatalf("unexpected pre-threshold snapshot: %+v", snap)
	}

	client.fail(&provider.TransientError{Op: "fetch", Err: errors.New("timeout")}, 8)
	snap = waitCycles(t, svc, 3)
	got := sink.all()
	if len(got) != 1 {
		t.Fatalf("expected exactly one degraded notification at the threshold, got %d", len(got))
	}
	n := got[0]
	if n.Priority != 7 {
		t.Fatalf("degraded priority = %d", n.Priority)
	}
	for _, want := range []string{"losing contact", "3 consecutive failed checks"} {
		if !strings.Contains(n.Text, want) {
			t.Fatalf("degraded text missing %q:\n%s", want, n.Text)
		}
	}
	if !snap.Degraded || snap.DegradedSince.IsZero() {
		t.Fatalf("snapshot not marked degraded: %+v", snap)
	}

	// Further failures back off but never alert again.
	snap = waitCycles(t, svc, 6)
	if len(sink.all()) != 1 {
		t.Fatalf("degraded alert repeated: %d notifications", len(sink.all()))
	}
	if snap.Interval != "50ms" {
		t.Fatalf("backoff did not reach its cap: interval=%s", snap.Interval)
	}
}

func TestRunRecoveredAfterOutage(t *testing.T) {
	cfg := trackerConfig()
	cfg.FailureThreshold = 2
	client := newScriptClient()
	client.fail(&provider.TransientError{Op: "fetch", Err: errors.New("timeout")}, 2)
	client.push(obs(provider.StatusOnGround, "JNB", "CPT"), 6)
	sink := &captureSink{}
	svc := New(cfg, client, sink, transport.ChatTarget{ChatID: 1}, logx.Nop(), nil, nil)
	runTracker(t, svc)

	snap := waitCycles(t, svc, 8)
	got := sink.all()
	if len(got) != 2 {
		t.Fatalf("expected degraded then recovered, got %d notifications", len(got))
	}
	if !strings.Contains(got[0].Text, "losing contact") {
		t.Fatalf("first notification: %s", got[0].Text)
	}
	rec := got[1]
	if !strings.Contains(rec.Text, "restored") || rec.Priority != 5 {
		t.Fatalf("second notification: priority=%d text=%s", rec.Priority, rec.Text)
	}
	if snap.Degraded || snap.ConsecutiveFailures != 0 || !snap.Seeded {
		t.Fatalf("recovery did not reset snapshot: %+v", snap)
	}
	if snap.Interval != cfg.PollInterval.String() {
		t.Fatalf("interval not restored after recovery: %s", snap.Interval)
	}
}

func TestRunAuthBeforeFirstSuccessIsFatal(t *testing.T) {
	client := newScriptClient()
	client.fail(&provider.AuthError{StatusCode: 401}, 1)
	sink := &captureSink{}
	svc := New(trackerConfig(), client, sink, transport.ChatTarget{ChatID: 1}, logx.Nop(), nil, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err := svc.Run(ctx)
	if err == nil || errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected fatal credential error, got %v", err)
	}
	if !provider.IsAuth(err) {
		t.Fatalf("error does not unwrap to AuthError: %v", err)
	}
	if len(sink.all()) != 0 {
		t.Fatal("startup credential failure must not alert the chat")
	}
}

func TestRunAuthAfterSuccessEscalatesImmediately(t *testing.T) {
	client := newScriptClient()
	client.push(obs(provider.StatusOnGround, "JNB", "CPT"), 1)
	client.fail(&provider.AuthError{StatusCode: 403}, 3)
	sink := &captureSink{}
	svc := New(trackerConfig(), client, sink, transport.ChatTarget{ChatID: 1}, logx.Nop(), nil, nil)
	runTracker(t, svc)

	// Threshold is 3, but a credential rejection escalates on the first
	// failed cycle; the loop keeps running because the credential worked
	// before.
	snap := waitCycles(t, svc, 2)
	got := sink.all()
	if len(got) != 1 || !strings.Contains(got[0].Text, "rejected the credential") {
		t.Fatalf("expected immediate degraded alert, got %d", len(got))
	}
	if !snap.Degraded {
		t.Fatalf("not degraded after auth failure: %+v", snap)
	}

	client.push(obs(provider.StatusOnGround, "JNB", "CPT"), 4)
	waitCycles(t, svc, 5)
	got = sink.all()
	if len(got) != 2 || !strings.Contains(got[1].Text, "restored") {
		t.Fatalf("expected recovery after credential came back, got %d", len(got))
	}
}

func TestRunUnknownRetainsLastConfidentStatus(t *testing.T) {
	air := obs(provider.StatusAirborne, "JNB", "CPT")
	unknown := provider.AircraftState{Registration: "ZS-SNA", Status: provider.StatusUnknown}

	client := newScriptClient()
	client.push(air, 1)
	client.push(unknown, 2)
	sink := &captureSink{}
	svc := New(trackerConfig(), client, sink, transport.ChatTarget{ChatID: 1}, logx.Nop(), nil, nil)
	runTracker(t, svc)

	snap := waitCycles(t, svc, 3)
	if snap.State.Status != provider.StatusAirborne {
		t.Fatalf("unknown read overwrote confident status: %+v", snap.State)
	}
	if len(sink.all()) != 0 {
		t.Fatal("unknown reads must not alert")
	}

	// The aircraft reappears on the ground: exactly one landing, diffed
	// against the retained airborne state.
	client.push(obs(provider.StatusOnGround, "JNB", "CPT"), 4)
	waitCycles(t, svc, 4)
	got := sink.all()
	if len(got) != 1 || !strings.HasPrefix(got[0].DedupKey, "landing:") {
		t.Fatalf("expected one landing after coverage gap, got %d", len(got))
	}
}

func TestRunRateLimitHonorsRetryAfter(t *testing.T) {
	client := newScriptClient()
	client.fail(&provider.RateLimitError{RetryAfter: 40 * time.Millisecond}, 1)
	sink := &captureSink{}
	svc := New(trackerConfig(), client, sink, transport.ChatTarget{ChatID: 1}, logx.Nop(), nil, nil)
	runTracker(t, svc)

	snap := waitCycles(t, svc, 1)
	if snap.Interval != "40ms" {
		t.Fatalf("retry-after not honored: interval=%s", snap.Interval)
	}
	if len(sink.all()) != 0 {
		t.Fatal("rate limiting below the threshold must stay silent")
	}

	client.push(obs(provider.StatusOnGround, "JNB", "CPT"), 3)
	snap = waitCycles(t, svc, 2)
	if snap.ConsecutiveFailures != 0 || snap.Interval != trackerConfig().PollInterval.String() {
		t.Fatalf("cadence not restored after success: %+v", snap)
	}
}

func TestRunResumesFromPersistedSnapshot(t *testing.T) {
	dir := t.TempDir()
	openStore := func() storage.Store {
		st, err := storage.Open(storage.Config{Driver: "file", Path: filepath.Join(dir, "tailwatch")}, logx.Nop())
		if err != nil {
			t.Fatalf("open storage: %v", err)
		}
		return st
	}

	// First run: seed on ground, take off, stop.
	st1 := openStore()
	client1 := newScriptClient()
	client1.push(obs(provider.StatusOnGround, "JNB", "CPT"), 1)
	client1.push(obs(provider.StatusAirborne, "JNB", "CPT"), 3)
	sink1 := &captureSink{}
	svc1 := New(trackerConfig(), client1, sink1, transport.ChatTarget{ChatID: 1}, logx.Nop(), nil, st1)

	ctx1, cancel1 := context.WithCancel(context.Background())
	done1 := make(chan error, 1)
	go func() { done1 <- svc1.Run(ctx1) }()
	waitCycles(t, svc1, 4)
	cancel1()
	select {
	case <-done1:
	case <-time.After(2 * time.Second):
		t.Fatal("first run did not stop")
	}
	if err := st1.Close(); err != nil {
		t.Fatalf("close storage: %v", err)
	}
	if len(sink1.all()) != 1 {
		t.Fatalf("first run: expected one takeoff, got %d", len(sink1.all()))
	}

	// Second run resumes airborne: re-observing the same state is silent,
	// and the next transition diffs against the restored snapshot.
	st2 := openStore()
	defer st2.Close()
	client2 := newScriptClient()
	client2.push(obs(provider.StatusAirborne, "JNB", "CPT"), 2)
	sink2 := &captureSink{}
	svc2 := New(trackerConfig(), client2, sink2, transport.ChatTarget{ChatID: 1}, logx.Nop(), nil, st2)
	runTracker(t, svc2)

	snap := waitCycles(t, svc2, 2)
	if !snap.Seeded || snap.State.Status != provider.StatusAirborne {
		t.Fatalf("restore failed: %+v", snap)
	}
	if len(sink2.all()) != 0 {
		t.Fatal("restart re-alerted an already-reported state")
	}

	client2.push(obs(provider.StatusOnGround, "JNB", "CPT"), 4)
	waitCycles(t, svc2, 3)
	got := sink2.all()
	if len(got) != 1 || !strings.HasPrefix(got[0].DedupKey, "landing:") {
		t.Fatalf("expected one landing against restored state, got %d", len(got))
	}
}

func TestRunPublishesBusEvents(t *testing.T) {
	bus := eventbus.New()
	events, unsub := bus.Subscribe(16)
	defer unsub()

	client := newScriptClient()
	client.push(obs(provider.StatusOnGround, "JNB", "CPT"), 1)
	client.push(obs(provider.StatusAirborne, "JNB", "CPT"), 4)
	sink := &captureSink{}
	svc := New(trackerConfig(), client, sink, transport.ChatTarget{ChatID: 1}, logx.Nop(), bus, nil)
	runTracker(t, svc)

	select {
	case e := <-events:
		if e.Kind != eventbus.KindAlert {
			t.Fatalf("event kind = %q", e.Kind)
		}
		ae, ok := e.Data.(AlertEvent)
		if !ok {
			t.Fatalf("event data = %T", e.Data)
		}
		if ae.Kind != string(AlertTakeoff) || ae.Registration != "ZS-SNA" {
			t.Fatalf("unexpected alert event: %+v", ae)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no bus event for the takeoff")
	}
}
