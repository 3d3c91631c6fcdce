package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Environment variable names. The short names match the original deployment
// units; TAILWATCH_-prefixed variants exist so the service can share an
// environment file with other processes.

func getenvAny(keys ...string) string {
	for _, k := range keys {
		if v := strings.TrimSpace(os.Getenv(k)); v != "" {
			return v
		}
	}
	return ""
}

// ApplyEnv overlays environment-provided settings onto cfg.
// The environment always wins over file values so a unit file can pin
// credentials while the config file stays shareable.
func ApplyEnv(cfg *Config) {
	if v := getenvAny("TAILWATCH_FR24_TOKEN", "FR24_TOKEN"); v != "" {
		cfg.Provider.Token = v
	}
	if v := getenvAny("TAILWATCH_REGISTRATION", "REGISTRATION"); v != "" {
		cfg.Provider.Registration = v
	}
	if v := getenvAny("TAILWATCH_TG_TOKEN", "TG_TOKEN"); v != "" {
		cfg.Telegram.Token = v
	}
	if v := getenvAny("TAILWATCH_TG_CHAT", "TG_CHAT"); v != "" {
		cfg.Telegram.ChatID = v
	}
	if v := getenvAny("TAILWATCH_POLL_SEC", "POLL_SEC"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			cfg.Tracker.PollInterval = (time.Duration(secs) * time.Second).String()
		}
	}
}

// FromEnv builds a config purely from the environment, for deployments that
// run without a config file.
func FromEnv() *Config {
	cfg := &Config{}
	ApplyEnv(cfg)
	return cfg
}
