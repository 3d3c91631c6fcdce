package config

import (
	"reflect"
	"strings"

	logx "tailwatch/pkg/logx"
)

// SummarizeConfigChange returns (1) a compact list of changed sections and
// (2) safe structured attrs for logging. Secrets (tokens) are never included;
// only their set/unset transitions are surfaced.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 8)
	attrs := make([]logx.Field, 0, 24)

	// Provider (never log token)
	if tokenSetChanged(oldCfg.Provider.Token, newCfg.Provider.Token) ||
		!strings.EqualFold(strings.TrimSpace(oldCfg.Provider.Registration), strings.TrimSpace(newCfg.Provider.Registration)) ||
		strings.TrimSpace(oldCfg.Provider.BaseURL) != strings.TrimSpace(newCfg.Provider.BaseURL) ||
		oldCfg.Provider.AirborneMinAltFt != newCfg.Provider.AirborneMinAltFt ||
		oldCfg.Provider.AirborneMinSpeedKt != newCfg.Provider.AirborneMinSpeedKt {
		changed = append(changed, "provider")
		attrs = append(attrs,
			logx.String("provider.registration", strings.TrimSpace(newCfg.Provider.Registration)),
			logx.Bool("provider.token_set", strings.TrimSpace(newCfg.Provider.Token) != ""),
			logx.Bool("provider.base_url_set", strings.TrimSpace(newCfg.Provider.BaseURL) != ""),
		)
	}

	// Telegram (never log token; chat id is the alert destination, not a secret,
	// but keep it out of logs anyway)
	if tokenSetChanged(oldCfg.Telegram.Token, newCfg.Telegram.Token) ||
		strings.TrimSpace(oldCfg.Telegram.ChatID) != strings.TrimSpace(newCfg.Telegram.ChatID) ||
		oldCfg.Telegram.ThreadID != newCfg.Telegram.ThreadID ||
		strings.TrimSpace(oldCfg.Telegram.PollTimeout) != strings.TrimSpace(newCfg.Telegram.PollTimeout) ||
		strings.TrimSpace(oldCfg.Telegram.StopGrace) != strings.TrimSpace(newCfg.Telegram.StopGrace) {
		changed = append(changed, "telegram")
		attrs = append(attrs,
			logx.Bool("telegram.token_set", strings.TrimSpace(newCfg.Telegram.Token) != ""),
			logx.Bool("telegram.chat_set", strings.TrimSpace(newCfg.Telegram.ChatID) != ""),
			logx.String("telegram.poll_timeout", strings.TrimSpace(newCfg.Telegram.PollTimeout)),
		)
	}

	// Tracker
	if oldCfg.Tracker != newCfg.Tracker {
		changed = append(changed, "tracker")
		attrs = append(attrs,
			logx.String("tracker.poll_interval", strings.TrimSpace(newCfg.Tracker.PollInterval)),
			logx.String("tracker.fetch_timeout", strings.TrimSpace(newCfg.Tracker.FetchTimeout)),
			logx.Int("tracker.failure_threshold", newCfg.Tracker.FailureThreshold),
			logx.String("tracker.backoff_max", strings.TrimSpace(newCfg.Tracker.BackoffMax)),
		)
	}

	// Notifier (pointer section: nil means defaults)
	if !reflect.DeepEqual(oldCfg.Notifier, newCfg.Notifier) {
		changed = append(changed, "notifier")
		if n := newCfg.Notifier; n != nil {
			attrs = append(attrs,
				logx.Bool("notifier.enabled", n.Enabled),
				logx.Int("notifier.workers", n.Workers),
				logx.Int("notifier.rate_per_sec", n.RatePerSec),
				logx.String("notifier.dedup_window", strings.TrimSpace(n.DedupWindow)),
			)
		} else {
			attrs = append(attrs, logx.Bool("notifier.defaulted", true))
		}
	}

	// Digest
	if oldCfg.Digest != newCfg.Digest {
		changed = append(changed, "digest")
		attrs = append(attrs,
			logx.Bool("digest.enabled", newCfg.Digest.Enabled),
			logx.String("digest.at", strings.TrimSpace(newCfg.Digest.At)),
			logx.String("digest.timezone", strings.TrimSpace(newCfg.Digest.Timezone)),
		)
	}

	// Storage (pointer section)
	if !reflect.DeepEqual(oldCfg.Storage, newCfg.Storage) {
		changed = append(changed, "storage")
		if s := newCfg.Storage; s != nil {
			attrs = append(attrs,
				logx.String("storage.driver", strings.TrimSpace(s.Driver)),
				logx.Bool("storage.path_set", strings.TrimSpace(s.Path) != ""),
			)
		} else {
			attrs = append(attrs, logx.String("storage.driver", "none"))
		}
	}

	// Logging
	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logx.level", newCfg.Logging.Level),
			logx.String("logx.format", newCfg.Logging.Format),
			logx.Bool("logx.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	// Debug (never log token)
	if oldCfg.Debug != newCfg.Debug {
		changed = append(changed, "debug")
		attrs = append(attrs,
			logx.Bool("debug.enabled", newCfg.Debug.Enabled),
			logx.String("debug.addr", strings.TrimSpace(newCfg.Debug.Addr)),
			logx.Bool("debug.token_set", strings.TrimSpace(newCfg.Debug.Token) != ""),
		)
	}

	return changed, attrs
}

// tokenSetChanged reports whether a secret flipped between set and unset.
// Value changes between two non-empty secrets are invisible here on purpose:
// the consumer re-reads the committed config anyway.
func tokenSetChanged(oldTok, newTok string) bool {
	return (strings.TrimSpace(oldTok) != "") != (strings.TrimSpace(newTok) != "")
}
