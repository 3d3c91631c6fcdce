package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Defaults used when duration fields are omitted. Services apply these via
// ParseDurationOrDefault; Validate only rejects contradictions.
const (
	DefaultPollInterval = 60 * time.Second
	DefaultFetchTimeout = 15 * time.Second
	DefaultBackoffMax   = 10 * time.Minute
	DefaultDigestWindow = 24 * time.Hour
)

const (
	DefaultFailureThreshold = 5
	DefaultDigestAt         = "21:00"
)

// Validate checks cfg for startup and hot-reload. It never mutates cfg.
// Missing credentials are startup-fatal; the same check rejects a hot reload
// that would blank them out.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}

	if strings.TrimSpace(cfg.Provider.Token) == "" {
		return errors.New("provider.token is required (set FR24_TOKEN)")
	}
	if strings.TrimSpace(cfg.Provider.Registration) == "" {
		return errors.New("provider.registration is required (set REGISTRATION)")
	}
	if cfg.Provider.AirborneMinAltFt < 0 || cfg.Provider.AirborneMinSpeedKt < 0 {
		return errors.New("provider airborne thresholds must be >= 0")
	}

	if strings.TrimSpace(cfg.Telegram.Token) == "" {
		return errors.New("telegram.token is required (set TG_TOKEN)")
	}
	chat := strings.TrimSpace(cfg.Telegram.ChatID)
	if chat == "" {
		return errors.New("telegram.chat_id is required (set TG_CHAT)")
	}
	if _, err := strconv.ParseInt(chat, 10, 64); err != nil {
		return fmt.Errorf("telegram.chat_id: %q is not a numeric chat id", chat)
	}
	if _, err := ParseDurationField("telegram.poll_timeout", cfg.Telegram.PollTimeout); err != nil {
		return err
	}
	if _, err := ParseDurationField("telegram.stop_grace", cfg.Telegram.StopGrace); err != nil {
		return err
	}

	poll, err := ParseDurationOrDefault("tracker.poll_interval", cfg.Tracker.PollInterval, DefaultPollInterval)
	if err != nil {
		return err
	}
	if poll < 5*time.Second {
		return fmt.Errorf("tracker.poll_interval: %s is below the 5s minimum", poll)
	}
	fetch, err := ParseDurationField("tracker.fetch_timeout", cfg.Tracker.FetchTimeout)
	if err != nil {
		return err
	}
	// Only an explicit fetch_timeout can contradict the interval; the default
	// is clamped by the tracker.
	if fetch > 0 && fetch >= poll {
		return fmt.Errorf("tracker.fetch_timeout (%s) must be shorter than tracker.poll_interval (%s)", fetch, poll)
	}
	if cfg.Tracker.FailureThreshold < 0 {
		return errors.New("tracker.failure_threshold must be >= 0")
	}
	if _, err := ParseDurationField("tracker.backoff_max", cfg.Tracker.BackoffMax); err != nil {
		return err
	}

	if n := cfg.Notifier; n != nil {
		if n.Workers < 0 || n.QueueSize < 0 || n.RatePerSec < 0 || n.RetryMax < 0 || n.DedupMaxEntries < 0 {
			return errors.New("notifier: counts must be >= 0")
		}
		for path, raw := range map[string]string{
			"notifier.retry_base":      n.RetryBase,
			"notifier.retry_max_delay": n.RetryMaxDelay,
			"notifier.dedup_window":    n.DedupWindow,
		} {
			if _, err := ParseDurationField(path, raw); err != nil {
				return err
			}
		}
	}

	if cfg.Digest.Enabled {
		if _, _, err := ParseClock(strOr(cfg.Digest.At, DefaultDigestAt)); err != nil {
			return fmt.Errorf("digest.at: %w", err)
		}
		if tz := strings.TrimSpace(cfg.Digest.Timezone); tz != "" {
			if _, err := time.LoadLocation(tz); err != nil {
				return fmt.Errorf("digest.timezone: invalid %q: %w", tz, err)
			}
		}
		if _, err := ParseDurationField("digest.window", cfg.Digest.Window); err != nil {
			return err
		}
	}

	if s := cfg.Storage; s != nil {
		switch strings.ToLower(strings.TrimSpace(s.Driver)) {
		case "", "none", "file", "sqlite", "sqlite3":
		default:
			return fmt.Errorf("storage.driver: unknown driver %q", s.Driver)
		}
		if _, err := ParseDurationField("storage.busy_timeout", s.BusyTimeout); err != nil {
			return err
		}
	}

	if cfg.Debug.Enabled {
		for path, raw := range map[string]string{
			"debug.read_timeout":  cfg.Debug.ReadTimeout,
			"debug.write_timeout": cfg.Debug.WriteTimeout,
			"debug.idle_timeout":  cfg.Debug.IdleTimeout,
		} {
			if _, err := ParseDurationField(path, raw); err != nil {
				return err
			}
		}
	}

	return nil
}

func strOr(s, def string) string {
	if strings.TrimSpace(s) == "" {
		return def
	}
	return s
}
