// Package digest sends the daily flight-summary message. The scheduler fires
// Run once a day; everything here is stateless between runs.
package digest

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"tailwatch/internal/eventbus"
	"tailwatch/internal/provider"
	"tailwatch/internal/transport"
	logx "tailwatch/pkg/logx"
	"tailwatch/pkg/tghtml"
)

// Sink accepts the rendered digest for delivery.
type Sink interface {
	Notify(ctx context.Context, n transport.Notification) error
}

// Config holds the digest's resolved settings.
type Config struct {
	Registration string
	Window       time.Duration
	Timezone     string // IANA TZ for rendered times; empty = process-local
}

func (c Config) withDefaults() Config {
	if c.Window <= 0 {
		c.Window = 24 * time.Hour
	}
	return c
}

// Event is the bus payload published after each digest run.
type Event struct {
	Registration string    `json:"registration"`
	Flights      int       `json:"flights"`
	From         time.Time `json:"from"`
	To           time.Time `json:"to"`
}

type Service struct {
	client provider.SummaryClient
	sink   Sink
	target transport.ChatTarget
	bus    eventbus.Bus // optional
	log    logx.Logger

	mu  sync.Mutex
	cfg Config

	now func() time.Time
}

func New(cfg Config, client provider.SummaryClient, sink Sink, target transport.ChatTarget, log logx.Logger, bus eventbus.Bus) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		client: client,
		sink:   sink,
		target: target,
		bus:    bus,
		log:    log,
		cfg:    cfg.withDefaults(),
		now:    time.Now,
	}
}

// Apply installs new settings; the next Run picks them up.
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

// Run builds and sends one digest covering the configured window. A provider
// failure is returned to the scheduler so the run is retried and recorded.
func (s *Service) Run(ctx context.Context) error {
	cfg := s.config()
	now := s.now()
	from := now.Add(-cfg.Window)

	flights, err := s.client.Summary(ctx, from, now)
	if err != nil {
		s.log.Warn("digest summary fetch failed", logx.Err(err))
		return fmt.Errorf("digest summary: %w", err)
	}

	loc := s.location(cfg)
	n := transport.Notification{
		Channel:  "telegram",
		Priority: 0,
		Target:   s.target,
		Text:     render(cfg, flights, loc),
		Options:  &transport.SendOptions{ParseMode: "HTML", DisablePreview: true},
		// One digest per calendar day, even across retries or restarts.
		DedupKey: "digest:" + now.In(loc).Format("2006-01-02"),
	}
	if err := s.sink.Notify(ctx, n); err != nil {
		return fmt.Errorf("digest enqueue: %w", err)
	}

	s.log.Info("digest sent", logx.Int("flights", len(flights)), logx.Duration("window", cfg.Window))
	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Kind: eventbus.KindDigest, Data: Event{
			Registration: cfg.Registration,
			Flights:      len(flights),
			From:         from,
			To:           now,
		}})
	}
	return nil
}

func (s *Service) location(cfg Config) *time.Location {
	tz := strings.TrimSpace(cfg.Timezone)
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		s.log.Warn("invalid digest timezone, using local", logx.String("tz", tz), logx.Err(err))
		return time.Local
	}
	return loc
}

// render builds the digest body. The provider lists newest first; the
// message reads oldest first.
func render(cfg Config, flights []provider.FlightSummary, loc *time.Location) string {
	head := "📋 " + tghtml.B(cfg.Registration).String() + ": "
	if len(flights) == 0 {
		return tghtml.Lines(
			tghtml.Raw(head+"no flights in the last "+windowText(cfg.Window)+"."),
		).String()
	}

	word := "flights"
	if len(flights) == 1 {
		word = "flight"
	}
	lines := []tghtml.H{
		tghtml.Raw(head + fmt.Sprintf("%d %s in the last %s", len(flights), word, windowText(cfg.Window))),
	}
	for i := len(flights) - 1; i >= 0; i-- {
		lines = append(lines, flightLine(flights[i], loc))
	}
	return tghtml.Lines(lines...).String()
}

func flightLine(f provider.FlightSummary, loc *time.Location) tghtml.H {
	parts := []string{"•"}
	if id := strings.TrimSpace(firstNonEmpty(f.Flight, f.Callsign)); id != "" {
		parts = append(parts, tghtml.Code(id).String())
	}
	parts = append(parts, tghtml.Esc(routeText(f.Origin, f.Destination)).String())

	switch {
	case f.TakeoffAt.IsZero():
	case f.Ended():
		parts = append(parts, tghtml.Esc(f.TakeoffAt.In(loc).Format("15:04")+" – "+f.LandedAt.In(loc).Format("15:04")).String())
	default:
		parts = append(parts, tghtml.Esc(f.TakeoffAt.In(loc).Format("15:04")+" – still airborne").String())
	}
	return tghtml.Raw(strings.Join(parts, " "))
}

func routeText(origin, dest string) string {
	if strings.TrimSpace(origin) == "" {
		origin = "?"
	}
	if strings.TrimSpace(dest) == "" {
		dest = "?"
	}
	return origin + " → " + dest
}

func windowText(d time.Duration) string {
	if d < time.Minute {
		return d.String()
	}
	s := d.Round(time.Minute).String()
	s = strings.TrimSuffix(s, "0s")
	if strings.HasSuffix(s, "h0m") {
		s = strings.TrimSuffix(s, "0m")
	}
	return s
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
