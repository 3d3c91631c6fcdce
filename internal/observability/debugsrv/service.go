// Package debugsrv runs the optional local debug listener: Prometheus
// metrics, pprof profiles, a liveness probe, and JSON status views of the
// running components.
//
// The listener is guarded: binding anywhere but loopback requires either a
// token or an explicit allow_insecure.
package debugsrv

import (
	"context"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"tailwatch/internal/config"
	rtsup "tailwatch/internal/runtime/supervisor"
	logx "tailwatch/pkg/logx"
)

// Config controls the debug HTTP server. Fields are fully resolved; use
// FromConfig to build one from the on-disk configuration section.
type Config struct {
	Enabled       bool
	Addr          string
	Token         string
	AllowInsecure bool

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// FromConfig resolves the raw debug section. Duration fields were already
// validated with the rest of the config; anything unparseable ends up as
// zero, which net/http treats as "no timeout".
func FromConfig(dc config.DebugConfig) Config {
	rt, _ := config.ParseDurationField("debug.read_timeout", dc.ReadTimeout)
	wt, _ := config.ParseDurationField("debug.write_timeout", dc.WriteTimeout)
	it, _ := config.ParseDurationField("debug.idle_timeout", dc.IdleTimeout)
	return Config{
		Enabled:       dc.Enabled,
		Addr:          strings.TrimSpace(dc.Addr),
		Token:         strings.TrimSpace(dc.Token),
		AllowInsecure: dc.AllowInsecure,
		ReadTimeout:   rt,
		WriteTimeout:  wt,
		IdleTimeout:   it,
	}
}

// StatusFunc produces a point-in-time, JSON-encodable view of one component.
type StatusFunc func() any

type Service struct {
	mu  sync.Mutex
	log logx.Logger
	cfg Config

	status map[string]StatusFunc

	ln       net.Listener
	srv      *http.Server
	sup      *rtsup.Supervisor
	stopping chan struct{}
}

func New(cfg Config, log logx.Logger) *Service {
	return &Service{cfg: cfg, log: log, status: map[string]StatusFunc{}}
}

// RegisterStatus mounts fn at /debug/status/<name>. Registering the same
// name again replaces the producer; requests always see the live registry,
// so registration order relative to Start does not matter.
func (s *Service) RegisterStatus(name string, fn StatusFunc) {
	name = strings.Trim(strings.TrimSpace(name), "/")
	if name == "" || fn == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status == nil {
		s.status = map[string]StatusFunc{}
	}
	s.status[name] = fn
}

// Addr reports the actual listen address if the server is up.
func (s *Service) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return ""
	}
	return s.ln.Addr().String()
}

// Apply reconfigures the server, starting, stopping or restarting it as
// needed. Safe to call from the config reload path.
func (s *Service) Apply(ctx context.Context, cfg Config) {
	s.mu.Lock()
	prev := s.cfg
	running := s.sup != nil
	s.cfg = cfg
	s.mu.Unlock()

	switch {
	case !cfg.Enabled:
		if running {
			s.Stop(ctx)
		}
	case !running:
		s.Start(ctx)
	case restartNeeded(prev, cfg):
		s.Stop(ctx)
		s.Start(ctx)
	}
}

// restartNeeded reports whether the change requires bouncing the listener.
// net/http cannot retune timeouts on a live server, so those restart too.
func restartNeeded(prev, next Config) bool {
	return prev.Addr != next.Addr ||
		prev.Token != next.Token ||
		prev.AllowInsecure != next.AllowInsecure ||
		prev.ReadTimeout != next.ReadTimeout ||
		prev.WriteTimeout != next.WriteTimeout ||
		prev.IdleTimeout != next.IdleTimeout
}

// Start brings the serve loop up. Idempotent; a concurrent Stop is waited
// out first so the old listener is fully released before rebinding.
func (s *Service) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	for {
		s.mu.Lock()
		if s.stopping != nil {
			wait := s.stopping
			s.mu.Unlock()
			select {
			case <-wait:
				continue
			case <-ctx.Done():
				return
			}
		}
		if s.sup != nil || !s.cfg.Enabled {
			s.mu.Unlock()
			return
		}
		sup := rtsup.NewSupervisor(ctx,
			rtsup.WithLogger(s.log),
			// Observability only; a broken listener must not take the app down.
			rtsup.WithCancelOnError(false),
		)
		s.sup = sup
		s.mu.Unlock()

		// Restart with backoff so the listener self-heals after transient
		// bind failures.
		sup.GoRestart("http.serve", s.serve,
			rtsup.WithPublishFirstError(true),
			rtsup.WithRestartBackoff(500*time.Millisecond, 10*time.Second),
		)
		return
	}
}

func (s *Service) Stop(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}

	s.mu.Lock()
	if s.sup == nil {
		s.mu.Unlock()
		return
	}
	if s.stopping != nil {
		wait := s.stopping
		s.mu.Unlock()
		select {
		case <-wait:
		case <-ctx.Done():
		}
		return
	}
	done := make(chan struct{})
	s.stopping = done
	srv, ln, sup := s.srv, s.ln, s.sup
	s.mu.Unlock()

	// Tear down asynchronously so callers can bail on ctx without leaking
	// the shutdown itself.
	go func() {
		defer close(done)
		if srv != nil {
			_ = srv.Shutdown(ctx)
			_ = srv.Close()
		}
		if ln != nil {
			_ = ln.Close()
		}
		sup.Cancel()
		_ = sup.Wait(context.Background())

		s.mu.Lock()
		s.ln, s.srv, s.sup, s.stopping = nil, nil, nil, nil
		s.mu.Unlock()
		s.log.Info("debug server stopped")
	}()

	select {
	case <-done:
	case <-ctx.Done():
		sup.Cancel()
	}
}
