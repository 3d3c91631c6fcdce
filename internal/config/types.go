package config

type Config struct {
	Provider ProviderConfig `json:"provider"`
	Telegram TelegramConfig `json:"telegram"`
	Tracker  TrackerConfig  `json:"tracker"`

	// Notifier controls the async delivery pipeline. If the whole section is
	// omitted the notifier runs with defaults (enabled).
	Notifier *NotifierConfig `json:"notifier,omitempty"`

	Digest  DigestConfig   `json:"digest"`
	Storage *StorageConfig `json:"storage,omitempty"`
	Logging LoggingConfig  `json:"logging"`
	Debug   DebugConfig    `json:"debug,omitempty"`
}

// ProviderConfig selects the aircraft and credential for the flight-data API.
//
// Token and Registration are normally injected via environment (FR24_TOKEN,
// REGISTRATION); values in the file are fallbacks for development setups.
type ProviderConfig struct {
	Token        string `json:"token,omitempty"`
	Registration string `json:"registration,omitempty"`

	BaseURL   string `json:"base_url,omitempty"`
	UserAgent string `json:"user_agent,omitempty"`

	// Airborne classification thresholds; zero means built-in defaults.
	AirborneMinAltFt   int `json:"airborne_min_alt_ft,omitempty"`
	AirborneMinSpeedKt int `json:"airborne_min_speed_kt,omitempty"`
}

// TelegramConfig selects the bot credential and destination chat.
// Token and ChatID are normally injected via environment (TG_TOKEN, TG_CHAT).
type TelegramConfig struct {
	Token  string `json:"token,omitempty"`
	ChatID string `json:"chat_id,omitempty"`

	ThreadID int `json:"thread_id,omitempty"`

	// PollTimeout is a Go duration string (long-poll timeout).
	PollTimeout string `json:"poll_timeout,omitempty"`
	// StopGrace bounds how long Stop waits for the poller to wind down.
	StopGrace string `json:"stop_grace,omitempty"`
}

// TrackerConfig controls the polling loop.
//
// All durations are Go duration strings (e.g. "30s", "2m").
//
// Defaults (when fields are omitted/zero):
//   - poll_interval: "60s" (or POLL_SEC)
//   - fetch_timeout: "15s", always clamped below poll_interval
//   - failure_threshold: 5 consecutive failures before the degraded alert
//   - backoff_max: "10m" ceiling for the degraded-mode interval
type TrackerConfig struct {
	PollInterval     string `json:"poll_interval,omitempty"`
	FetchTimeout     string `json:"fetch_timeout,omitempty"`
	FailureThreshold int    `json:"failure_threshold,omitempty"`
	BackoffMax       string `json:"backoff_max,omitempty"`
}

// NotifierConfig controls the async notification pipeline.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
type NotifierConfig struct {
	Enabled         bool   `json:"enabled"`
	Workers         int    `json:"workers"`
	QueueSize       int    `json:"queue_size"`
	RatePerSec      int    `json:"rate_per_sec"`
	RetryMax        int    `json:"retry_max"`
	RetryBase       string `json:"retry_base"`
	RetryMaxDelay   string `json:"retry_max_delay"`
	DedupWindow     string `json:"dedup_window"`
	DedupMaxEntries int    `json:"dedup_max_entries"`
	PersistDedup    bool   `json:"persist_dedup,omitempty"`
}

// DigestConfig controls the daily flight-summary message.
type DigestConfig struct {
	Enabled bool `json:"enabled"`
	// At is the local wall-clock send time, "HH:MM". Default "21:00".
	At string `json:"at,omitempty"`
	// Timezone for At; default is the process-local zone.
	Timezone string `json:"timezone,omitempty"`
	// Window is how far back to look for flights. Default "24h".
	Window string `json:"window,omitempty"`
}

// StorageConfig controls the optional persistence layer.
//
// Example:
//
//	"storage": { "driver": "file", "path": "./tailwatch_store" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

type LoggingConfig struct {
	Level  string      `json:"level"`
	Format string      `json:"format,omitempty"` // "console" or "json"
	File   LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// DebugConfig controls the optional debug HTTP server (pprof + metrics).
//
// Security note:
//   - Prefer binding to localhost (e.g. "127.0.0.1:6060").
//   - If you bind to a non-loopback address, set a token or explicitly allow_insecure.
type DebugConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"`  // default: "127.0.0.1:6060"
	Token         string `json:"token,omitempty"` // optional bearer token (do not log)
	AllowInsecure bool   `json:"allow_insecure,omitempty"`

	// Server timeouts (Go duration strings). WriteTimeout defaults to 0
	// (disabled) so /debug/pprof/profile (30s+) works reliably.
	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	IdleTimeout  string `json:"idle_timeout,omitempty"`
}
