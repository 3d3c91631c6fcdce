package debugsrv

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	hpprof "net/http/pprof"
	"sort"
	"strings"
	"time"

	"tailwatch/internal/observability"
	logx "tailwatch/pkg/logx"
)

const defaultAddr = "127.0.0.1:6060"

// serve binds the listener, runs the HTTP server and blocks until it exits.
// Shutdown-path exits come back as context.Canceled so the supervisor sees
// a clean stop.
func (s *Service) serve(ctx context.Context) error {
	s.mu.Lock()
	cur := s.cfg
	s.mu.Unlock()

	if !cur.Enabled {
		return context.Canceled
	}

	ln, err := s.bind(cur)
	if err != nil {
		if ctx.Err() != nil {
			return context.Canceled
		}
		return err
	}
	defer func() { _ = ln.Close() }()

	srv := &http.Server{
		Handler:      s.routes(cur.Token),
		ReadTimeout:  cur.ReadTimeout,
		WriteTimeout: cur.WriteTimeout,
		IdleTimeout:  cur.IdleTimeout,
	}
	defer func() { _ = srv.Close() }()

	s.mu.Lock()
	s.ln = ln
	s.srv = srv
	s.mu.Unlock()

	// Bounded shutdown on supervisor cancel; Stop does the graceful variant.
	go func() {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(sctx)
	}()

	addr := ln.Addr().String()
	s.log.Info("debug server started",
		logx.String("addr", addr),
		logx.Bool("token_set", cur.Token != ""),
		logx.String("hint", fmt.Sprintf("http://%s/debug/status/", addr)),
	)

	err = srv.Serve(ln)

	// Clear the handles only if a restart has not already replaced them.
	s.mu.Lock()
	if s.srv == srv {
		s.srv = nil
		s.ln = nil
	}
	stopping := s.stopping != nil
	s.mu.Unlock()

	if stopping || ctx.Err() != nil {
		return context.Canceled
	}
	if err == nil || errors.Is(err, http.ErrServerClosed) {
		return errors.New("debug server exited unexpectedly")
	}
	return err
}

// bind opens the TCP listener, refusing non-loopback binds that carry no
// token unless allow_insecure is set.
func (s *Service) bind(cur Config) (net.Listener, error) {
	addr := strings.TrimSpace(cur.Addr)
	if addr == "" {
		addr = defaultAddr
	}
	if !isLoopbackAddr(addr) && cur.Token == "" {
		if !cur.AllowInsecure {
			s.log.Error("debug bind refused: non-loopback address needs a token or allow_insecure",
				logx.String("addr", addr))
			return nil, errors.New("insecure debug bind refused")
		}
		s.log.Warn("debug server exposed without a token", logx.String("addr", addr))
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		s.log.Error("debug listen failed", logx.String("addr", addr), logx.Err(err))
		return nil, err
	}
	return ln, nil
}

// routes assembles the mux. Every endpoint sits behind the token guard.
func (s *Service) routes(token string) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", s.withAuth(token, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}))

	metrics := observability.MetricsHandler()
	mux.HandleFunc("/metrics", s.withAuth(token, metrics.ServeHTTP))

	mux.HandleFunc("/debug/status/", s.withAuth(token, s.serveStatus))

	mux.HandleFunc("/debug/pprof/", s.withAuth(token, hpprof.Index))
	mux.HandleFunc("/debug/pprof/cmdline", s.withAuth(token, hpprof.Cmdline))
	mux.HandleFunc("/debug/pprof/profile", s.withAuth(token, hpprof.Profile))
	mux.HandleFunc("/debug/pprof/symbol", s.withAuth(token, hpprof.Symbol))
	mux.HandleFunc("/debug/pprof/trace", s.withAuth(token, hpprof.Trace))

	return mux
}

// serveStatus answers /debug/status/ with the sorted registry index and
// /debug/status/<name> with that producer's current view.
func (s *Service) serveStatus(w http.ResponseWriter, r *http.Request) {
	name := strings.Trim(strings.TrimPrefix(r.URL.Path, "/debug/status/"), "/")

	s.mu.Lock()
	fn := s.status[name]
	names := make([]string, 0, len(s.status))
	for n := range s.status {
		names = append(names, n)
	}
	s.mu.Unlock()

	if name == "" {
		sort.Strings(names)
		writeJSON(w, map[string]any{"status": names})
		return
	}
	if fn == nil {
		http.NotFound(w, r)
		return
	}
	writeJSON(w, fn())
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// withAuth guards h with a shared token, presented either as a bearer
// Authorization header or a ?token= query parameter. An empty token
// disables the guard.
func (s *Service) withAuth(token string, h http.HandlerFunc) http.HandlerFunc {
	token = strings.TrimSpace(token)
	if token == "" {
		return h
	}
	return func(w http.ResponseWriter, r *http.Request) {
		if presentedToken(r) != token {
			w.Header().Set("WWW-Authenticate", "Bearer")
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		h(w, r)
	}
}

// presentedToken extracts the client's credential; the query parameter wins
// over the Authorization header when both are present.
func presentedToken(r *http.Request) string {
	if tok := r.URL.Query().Get("token"); tok != "" {
		return tok
	}
	const scheme = "Bearer "
	if ah := r.Header.Get("Authorization"); strings.HasPrefix(ah, scheme) {
		return strings.TrimSpace(strings.TrimPrefix(ah, scheme))
	}
	return ""
}

// isLoopbackAddr reports whether addr (host:port) can only be reached from
// the local machine. An empty host binds every interface and does not count.
func isLoopbackAddr(addr string) bool {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return false
	}
	if host = strings.TrimSpace(host); host == "" {
		return false
	}
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
