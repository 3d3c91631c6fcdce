// Package sdnotify integrates with the systemd service manager.
//
// All calls are no-ops outside a systemd unit (NOTIFY_SOCKET unset), so the
// process behaves identically when run by hand.
package sdnotify

import (
	"context"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
)

// Ready tells systemd the service finished starting up.
// Returns false when not running under systemd (or Type != notify).
func Ready() bool {
	ok, _ := daemon.SdNotify(false, daemon.SdNotifyReady)
	return ok
}

// Stopping tells systemd a shutdown began, so it relaxes the stop timeout
// accounting while we drain.
func Stopping() {
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)
}

// WatchdogInterval returns the ping interval to use when the unit has
// WatchdogSec set, or 0 when the watchdog is disabled.
// The returned interval is half the configured watchdog window.
func WatchdogInterval() time.Duration {
	d, err := daemon.SdWatchdogEnabled(false)
	if err != nil || d <= 0 {
		return 0
	}
	return d / 2
}

// RunWatchdog pings the systemd watchdog every interval until ctx is done.
// It blocks; run it under the supervisor.
func RunWatchdog(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			_, _ = daemon.SdNotify(false, daemon.SdNotifyWatchdog)
		}
	}
}
