package debugsrv

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"tailwatch/internal/config"
	logx "tailwatch/pkg/logx"
)

func configDebugSection() config.DebugConfig {
	return config.DebugConfig{
		Enabled:     true,
		Addr:        " 127.0.0.1:6060 ",
		ReadTimeout: "5s",
		IdleTimeout: "1m",
	}
}

func waitForAddr(t *testing.T, s *Service) string {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if addr := s.Addr(); addr != "" {
			return addr
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("debug server did not start")
	return ""
}

func get(t *testing.T, url string) (int, string) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp.StatusCode, string(body)
}

func TestApplyEnableDisable(t *testing.T) {
	svc := New(Config{}, logx.Nop())
	t.Cleanup(func() { svc.Stop(context.Background()) })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	svc.Apply(ctx, Config{Enabled: true, Addr: "127.0.0.1:0"})
	addr := waitForAddr(t, svc)

	if code, body := get(t, "http://"+addr+"/healthz"); code != http.StatusOK || body != "ok" {
		t.Fatalf("healthz = %d %q, want 200 ok", code, body)
	}

	svc.Apply(ctx, Config{Enabled: false})
	if addr := svc.Addr(); addr != "" {
		t.Fatalf("expected debug server to stop, still at %s", addr)
	}
}

func TestStatusEndpoints(t *testing.T) {
	svc := New(Config{Enabled: true, Addr: "127.0.0.1:0"}, logx.Nop())
	svc.RegisterStatus("tracker", func() any {
		return map[string]any{"registration": "ZS-SNA", "cycles": 3}
	})
	t.Cleanup(func() { svc.Stop(context.Background()) })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	svc.Start(ctx)
	addr := waitForAddr(t, svc)

	code, body := get(t, "http://"+addr+"/debug/status/")
	if code != http.StatusOK {
		t.Fatalf("status index = %d, want 200", code)
	}
	var index struct {
		Status []string `json:"status"`
	}
	if err := json.Unmarshal([]byte(body), &index); err != nil {
		t.Fatalf("decode status index: %v", err)
	}
	if len(index.Status) != 1 || index.Status[0] != "tracker" {
		t.Fatalf("status index = %v, want [tracker]", index.Status)
	}

	code, body = get(t, "http://"+addr+"/debug/status/tracker")
	if code != http.StatusOK {
		t.Fatalf("tracker status = %d, want 200", code)
	}
	var view struct {
		Registration string `json:"registration"`
		Cycles       int    `json:"cycles"`
	}
	if err := json.Unmarshal([]byte(body), &view); err != nil {
		t.Fatalf("decode tracker status: %v", err)
	}
	if view.Registration != "ZS-SNA" || view.Cycles != 3 {
		t.Fatalf("tracker status = %+v", view)
	}

	// Registration after Start is visible without a restart.
	svc.RegisterStatus("scheduler", func() any { return map[string]any{"workers": 1} })
	if code, _ := get(t, "http://"+addr+"/debug/status/scheduler"); code != http.StatusOK {
		t.Fatalf("scheduler status = %d, want 200", code)
	}

	if code, _ := get(t, "http://"+addr+"/debug/status/nope"); code != http.StatusNotFound {
		t.Fatalf("unknown status = %d, want 404", code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	svc := New(Config{Enabled: true, Addr: "127.0.0.1:0"}, logx.Nop())
	t.Cleanup(func() { svc.Stop(context.Background()) })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	svc.Start(ctx)
	addr := waitForAddr(t, svc)

	code, body := get(t, "http://"+addr+"/metrics")
	if code != http.StatusOK {
		t.Fatalf("metrics = %d, want 200", code)
	}
	if !strings.Contains(body, "tailwatch_provider_degraded") {
		t.Fatal("metrics output missing tailwatch_provider_degraded")
	}
}

func TestTokenGuard(t *testing.T) {
	svc := New(Config{}, logx.Nop())
	h := svc.withAuth("sekrit", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	cases := []struct {
		name   string
		url    string
		header string
		want   int
	}{
		{"no credentials", "/healthz", "", http.StatusUnauthorized},
		{"bad query token", "/healthz?token=wrong", "", http.StatusUnauthorized},
		{"good query token", "/healthz?token=sekrit", "", http.StatusOK},
		{"good bearer", "/healthz", "Bearer sekrit", http.StatusOK},
		{"bad bearer", "/healthz", "Bearer wrong", http.StatusUnauthorized},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tc.url, http.NoBody)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rec := httptest.NewRecorder()
			h(rec, req)
			if rec.Code != tc.want {
				t.Fatalf("status = %d, want %d", rec.Code, tc.want)
			}
			if tc.want == http.StatusUnauthorized && rec.Header().Get("WWW-Authenticate") == "" {
				t.Fatal("expected WWW-Authenticate header")
			}
		})
	}
}

func TestInsecureBindRefused(t *testing.T) {
	svc := New(Config{Enabled: true, Addr: "0.0.0.0:0"}, logx.Nop())
	t.Cleanup(func() { svc.Stop(context.Background()) })

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	svc.Start(ctx)

	// The guard rejects the bind before listening, so no address ever appears.
	time.Sleep(150 * time.Millisecond)
	if addr := svc.Addr(); addr != "" {
		t.Fatalf("expected insecure bind to be refused, listening at %s", addr)
	}
}

func TestIsLoopbackAddr(t *testing.T) {
	cases := []struct {
		addr string
		want bool
	}{
		{"127.0.0.1:6060", true},
		{"localhost:0", true},
		{"[::1]:9", true},
		{"0.0.0.0:6060", false},
		{":6060", false},
		{"192.168.1.10:80", false},
		{"garbage", false},
	}
	for _, tc := range cases {
		if got := isLoopbackAddr(tc.addr); got != tc.want {
			t.Errorf("isLoopbackAddr(%q) = %v, want %v", tc.addr, got, tc.want)
		}
	}
}

func TestFromConfigResolvesDurations(t *testing.T) {
	cfg := FromConfig(configDebugSection())
	if !cfg.Enabled || cfg.Addr != "127.0.0.1:6060" {
		t.Fatalf("unexpected base fields: %+v", cfg)
	}
	if cfg.ReadTimeout != 5*time.Second {
		t.Fatalf("ReadTimeout = %v, want 5s", cfg.ReadTimeout)
	}
	if cfg.WriteTimeout != 0 {
		t.Fatalf("WriteTimeout = %v, want 0 (disabled for long profiles)", cfg.WriteTimeout)
	}
	if cfg.IdleTimeout != time.Minute {
		t.Fatalf("IdleTimeout = %v, want 1m", cfg.IdleTimeout)
	}
}
