package app

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"tailwatch/internal/config"
	"tailwatch/internal/digest"
	"tailwatch/internal/provider"
	"tailwatch/internal/tracker"
	"tailwatch/internal/transport"
	logx "tailwatch/pkg/logx"
)

type sentMessage struct {
	To   transport.ChatTarget
	Text string
	Opt  *transport.SendOptions
}

// fakeAdapter records outbound sends for command tests.
type fakeAdapter struct {
	mu    sync.Mutex
	sends []sentMessage
}

func (f *fakeAdapter) Start(ctx context.Context, out chan<- transport.Update) error { return nil }
func (f *fakeAdapter) Stop(ctx context.Context) error                               { return nil }

func (f *fakeAdapter) SendText(ctx context.Context, to transport.ChatTarget, text string, opt *transport.SendOptions) (transport.MessageRef, error) {
	f.mu.Lock()
	f.sends = append(f.sends, sentMessage{To: to, Text: text, Opt: opt})
	f.mu.Unlock()
	return transport.MessageRef{ChatID: to.ChatID, MessageID: len(f.sends)}, nil
}

func (f *fakeAdapter) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sends)
}

func (f *fakeAdapter) last(t *testing.T) sentMessage {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sends) == 0 {
		t.Fatal("no message sent")
	}
	return f.sends[len(f.sends)-1]
}

type fakeSummary struct {
	flights []provider.FlightSummary
	err     error
}

func (c *fakeSummary) Summary(ctx context.Context, from, to time.Time) ([]provider.FlightSummary, error) {
	return c.flights, c.err
}

type discardSink struct{}

func (discardSink) Notify(ctx context.Context, n transport.Notification) error { return nil }

// testApp wires just enough of the app for command handling: a real tracker
// and digest service over fakes, no supervisor, no config manager.
func testApp(t *testing.T, sum provider.SummaryClient) (*App, *fakeAdapter) {
	t.Helper()
	ad := &fakeAdapter{}
	target := transport.ChatTarget{ChatID: 42}
	track := tracker.New(tracker.Config{Registration: "ZS-SNA"}, nil, discardSink{}, target, logx.Nop(), nil, nil)
	dig := digest.New(digest.Config{Registration: "ZS-SNA"}, sum, discardSink{}, target, logx.Nop(), nil)
	return &App{
		log:     logx.Nop(),
		adapter: ad,
		target:  target,
		track:   track,
		dig:     dig,
	}, ad
}

func command(chatID int64, text string) transport.Update {
	return transport.Update{Message: &transport.Message{ID: 1, ChatID: chatID, FromID: 9, Text: text}}
}

func TestCommandStatus(t *testing.T) {
	a, ad := testApp(t, &fakeSummary{})
	a.handleUpdate(context.Background(), command(42, "/status"))

	got := ad.last(t)
	if !strings.Contains(got.Text, "ZS-SNA") {
		t.Fatalf("status reply missing registration: %q", got.Text)
	}
	if got.Opt == nil || got.Opt.ParseMode != "HTML" || !got.Opt.DisablePreview {
		t.Fatalf("status reply options = %+v, want HTML with preview disabled", got.Opt)
	}
	if got.To.ChatID != 42 {
		t.Fatalf("reply went to chat %d, want 42", got.To.ChatID)
	}
}

func TestCommandStatusWithBotSuffix(t *testing.T) {
	a, ad := testApp(t, &fakeSummary{})
	a.handleUpdate(context.Background(), command(42, "/status@tailwatch_bot"))
	if ad.count() != 1 {
		t.Fatalf("sends = %d, want 1", ad.count())
	}
}

func TestCommandWhereCold(t *testing.T) {
	a, ad := testApp(t, &fakeSummary{})
	a.handleUpdate(context.Background(), command(42, "/where"))

	got := ad.last(t)
	if !strings.Contains(got.Text, "No confident position yet") {
		t.Fatalf("cold /where reply = %q", got.Text)
	}
}

func TestCommandHelp(t *testing.T) {
	a, ad := testApp(t, &fakeSummary{})
	a.handleUpdate(context.Background(), command(42, "/help"))

	got := ad.last(t)
	for _, want := range []string{"/status", "/where", "/digest", "/help"} {
		if !strings.Contains(got.Text, want) {
			t.Fatalf("help reply missing %s: %q", want, got.Text)
		}
	}
}

func TestCommandDigest(t *testing.T) {
	a, ad := testApp(t, &fakeSummary{})
	a.handleUpdate(context.Background(), command(42, "/digest"))

	if got := ad.last(t); !strings.Contains(got.Text, "Digest queued") {
		t.Fatalf("digest reply = %q", got.Text)
	}
}

func TestCommandDigestFailure(t *testing.T) {
	a, ad := testApp(t, &fakeSummary{err: errors.New("upstream 503")})
	a.handleUpdate(context.Background(), command(42, "/digest"))

	got := ad.last(t)
	if !strings.Contains(got.Text, "Digest failed") || !strings.Contains(got.Text, "upstream 503") {
		t.Fatalf("digest failure reply = %q", got.Text)
	}
}

func TestCommandUnauthorizedChatIgnored(t *testing.T) {
	a, ad := testApp(t, &fakeSummary{})
	a.handleUpdate(context.Background(), command(999, "/status"))
	if ad.count() != 0 {
		t.Fatalf("unauthorized chat got %d replies, want 0", ad.count())
	}
}

func TestCommandNoise(t *testing.T) {
	a, ad := testApp(t, &fakeSummary{})

	a.handleUpdate(context.Background(), command(42, "hello there"))
	a.handleUpdate(context.Background(), command(42, "/bogus"))
	a.handleUpdate(context.Background(), transport.Update{})

	if ad.count() != 0 {
		t.Fatalf("noise produced %d replies, want 0", ad.count())
	}
}

func TestDispatchStopsWhenUpdatesClose(t *testing.T) {
	a, _ := testApp(t, &fakeSummary{})
	updates := make(chan transport.Update)
	close(updates)

	done := make(chan error, 1)
	go func() { done <- a.dispatchCommands(context.Background(), updates) }()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("dispatch returned %v on channel close", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("dispatch did not stop after updates channel closed")
	}
}

func TestMapTrackerConfigDefaults(t *testing.T) {
	cfg := &config.Config{}
	cfg.Provider.Registration = "ZS-SNA"

	got, err := mapTrackerConfig(cfg)
	if err != nil {
		t.Fatalf("mapTrackerConfig: %v", err)
	}
	if got.Registration != "ZS-SNA" {
		t.Fatalf("registration = %q", got.Registration)
	}
	if got.PollInterval != config.DefaultPollInterval {
		t.Fatalf("poll interval = %v, want default %v", got.PollInterval, config.DefaultPollInterval)
	}
	// Zero timeouts are resolved by the tracker itself.
	if got.FetchTimeout != 0 || got.BackoffMax != 0 {
		t.Fatalf("fetch/backoff = %v/%v, want zero", got.FetchTimeout, got.BackoffMax)
	}
}

func TestMapTrackerConfigParses(t *testing.T) {
	cfg := &config.Config{}
	cfg.Provider.Registration = "ZS-SNA"
	cfg.Tracker = config.TrackerConfig{
		PollInterval:     "30s",
		FetchTimeout:     "5s",
		FailureThreshold: 3,
		BackoffMax:       "5m",
	}

	got, err := mapTrackerConfig(cfg)
	if err != nil {
		t.Fatalf("mapTrackerConfig: %v", err)
	}
	if got.PollInterval != 30*time.Second || got.FetchTimeout != 5*time.Second {
		t.Fatalf("durations = %v/%v", got.PollInterval, got.FetchTimeout)
	}
	if got.FailureThreshold != 3 || got.BackoffMax != 5*time.Minute {
		t.Fatalf("threshold/backoff = %d/%v", got.FailureThreshold, got.BackoffMax)
	}
}

func TestMapTrackerConfigRejectsBadDuration(t *testing.T) {
	cfg := &config.Config{}
	cfg.Tracker.PollInterval = "soon"
	if _, err := mapTrackerConfig(cfg); err == nil {
		t.Fatal("expected error for bad poll_interval")
	}
}

func TestMapNotifierConfigOmittedSection(t *testing.T) {
	got, err := mapNotifierConfig(&config.Config{})
	if err != nil {
		t.Fatalf("mapNotifierConfig: %v", err)
	}
	if !got.Enabled {
		t.Fatal("omitted notifier section should map to enabled defaults")
	}
}

func TestMapNotifierConfigParses(t *testing.T) {
	cfg := &config.Config{Notifier: &config.NotifierConfig{
		Enabled:       true,
		Workers:       4,
		RetryBase:     "250ms",
		RetryMaxDelay: "5s",
		DedupWindow:   "1h",
	}}

	got, err := mapNotifierConfig(cfg)
	if err != nil {
		t.Fatalf("mapNotifierConfig: %v", err)
	}
	if got.Workers != 4 || got.RetryBase != 250*time.Millisecond {
		t.Fatalf("workers/retry = %d/%v", got.Workers, got.RetryBase)
	}
	if got.RetryMaxDelay != 5*time.Second || got.DedupWindow != time.Hour {
		t.Fatalf("retry_max/dedup = %v/%v", got.RetryMaxDelay, got.DedupWindow)
	}
}

func TestMapDigestConfigDefaultWindow(t *testing.T) {
	cfg := &config.Config{}
	cfg.Provider.Registration = "ZS-SNA"

	got, err := mapDigestConfig(cfg)
	if err != nil {
		t.Fatalf("mapDigestConfig: %v", err)
	}
	if got.Window != config.DefaultDigestWindow {
		t.Fatalf("window = %v, want %v", got.Window, config.DefaultDigestWindow)
	}
	if got.Registration != "ZS-SNA" {
		t.Fatalf("registration = %q", got.Registration)
	}
}

func TestMapStorageConfig(t *testing.T) {
	if got, err := mapStorageConfig(&config.Config{}); err != nil || got.Driver != "" {
		t.Fatalf("nil section: got %+v, %v", got, err)
	}

	cfg := &config.Config{Storage: &config.StorageConfig{Driver: "file", Path: "/tmp/watch", BusyTimeout: "2s"}}
	got, err := mapStorageConfig(cfg)
	if err != nil {
		t.Fatalf("mapStorageConfig: %v", err)
	}
	if got.Driver != "file" || got.Path != "/tmp/watch" || got.BusyTimeout != 2*time.Second {
		t.Fatalf("mapped storage = %+v", got)
	}
}

func TestChatTarget(t *testing.T) {
	cfg := &config.Config{}
	cfg.Telegram.ChatID = "-1001234567890"
	cfg.Telegram.ThreadID = 7

	got, err := chatTarget(cfg)
	if err != nil {
		t.Fatalf("chatTarget: %v", err)
	}
	if got.ChatID != -1001234567890 || got.ThreadID != 7 {
		t.Fatalf("target = %+v", got)
	}

	cfg.Telegram.ChatID = "@mychannel"
	if _, err := chatTarget(cfg); err == nil {
		t.Fatal("expected error for non-numeric chat id")
	}
}
