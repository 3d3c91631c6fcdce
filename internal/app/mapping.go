package app

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"tailwatch/internal/config"
	"tailwatch/internal/digest"
	"tailwatch/internal/notifier"
	"tailwatch/internal/provider/fr24"
	"tailwatch/internal/storage"
	"tailwatch/internal/tracker"
	"tailwatch/internal/transport"
)

const (
	digestJobName    = "digest:daily"
	digestRunTimeout = 2 * time.Minute
)

func chatTarget(cfg *config.Config) (transport.ChatTarget, error) {
	raw := strings.TrimSpace(cfg.Telegram.ChatID)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return transport.ChatTarget{}, fmt.Errorf("telegram.chat_id %q is not a numeric chat id", raw)
	}
	return transport.ChatTarget{ChatID: id, ThreadID: cfg.Telegram.ThreadID}, nil
}

func mapProviderConfig(cfg *config.Config) fr24.Config {
	return fr24.Config{
		BaseURL:            cfg.Provider.BaseURL,
		Token:              cfg.Provider.Token,
		Registration:       cfg.Provider.Registration,
		UserAgent:          cfg.Provider.UserAgent,
		AirborneMinAltFt:   cfg.Provider.AirborneMinAltFt,
		AirborneMinSpeedKt: cfg.Provider.AirborneMinSpeedKt,
	}
}

func mapTrackerConfig(cfg *config.Config) (tracker.Config, error) {
	poll, err := config.ParseDurationOrDefault("tracker.poll_interval", cfg.Tracker.PollInterval, config.DefaultPollInterval)
	if err != nil {
		return tracker.Config{}, err
	}
	// Zero lets the tracker clamp these against the poll interval itself.
	fetch, err := config.ParseDurationField("tracker.fetch_timeout", cfg.Tracker.FetchTimeout)
	if err != nil {
		return tracker.Config{}, err
	}
	backoff, err := config.ParseDurationField("tracker.backoff_max", cfg.Tracker.BackoffMax)
	if err != nil {
		return tracker.Config{}, err
	}
	return tracker.Config{
		Registration:     cfg.Provider.Registration,
		PollInterval:     poll,
		FetchTimeout:     fetch,
		FailureThreshold: cfg.Tracker.FailureThreshold,
		BackoffMax:       backoff,
	}, nil
}

// mapNotifierConfig treats an omitted notifier section as "enabled with
// defaults"; the pipeline fills in worker/queue/rate defaults itself.
func mapNotifierConfig(cfg *config.Config) (notifier.Config, error) {
	n := cfg.Notifier
	if n == nil {
		return notifier.Config{Enabled: true}, nil
	}
	retryBase, err := config.ParseDurationField("notifier.retry_base", n.RetryBase)
	if err != nil {
		return notifier.Config{}, err
	}
	retryMaxDelay, err := config.ParseDurationField("notifier.retry_max_delay", n.RetryMaxDelay)
	if err != nil {
		return notifier.Config{}, err
	}
	dedupWindow, err := config.ParseDurationField("notifier.dedup_window", n.DedupWindow)
	if err != nil {
		return notifier.Config{}, err
	}
	return notifier.Config{
		Enabled:         n.Enabled,
		Workers:         n.Workers,
		QueueSize:       n.QueueSize,
		RatePerSec:      n.RatePerSec,
		RetryMax:        n.RetryMax,
		RetryBase:       retryBase,
		RetryMaxDelay:   retryMaxDelay,
		DedupWindow:     dedupWindow,
		DedupMaxEntries: n.DedupMaxEntries,
		PersistDedup:    n.PersistDedup,
	}, nil
}

func mapDigestConfig(cfg *config.Config) (digest.Config, error) {
	window, err := config.ParseDurationOrDefault("digest.window", cfg.Digest.Window, config.DefaultDigestWindow)
	if err != nil {
		return digest.Config{}, err
	}
	return digest.Config{
		Registration: cfg.Provider.Registration,
		Window:       window,
		Timezone:     cfg.Digest.Timezone,
	}, nil
}

func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	s := cfg.Storage
	if s == nil {
		return storage.Config{}, nil
	}
	busy, err := config.ParseDurationField("storage.busy_timeout", s.BusyTimeout)
	if err != nil {
		return storage.Config{}, err
	}
	return storage.Config{
		Driver:      s.Driver,
		Path:        s.Path,
		BusyTimeout: busy,
	}, nil
}
