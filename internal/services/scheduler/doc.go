// Package scheduler runs recurring jobs (the daily digest) on cron specs.
//
// Jobs are registered under a stable, human-readable name (e.g. "digest:daily")
// so a hot reload can replace a schedule by upserting the same name. Specs are
// robfig/cron syntax: 5- or 6-field crontab lines or descriptors such as
// "@daily" and "@every 2h"; AddDaily builds the spec from a wall-clock HH:MM
// in the configured timezone.
//
// Fired jobs go through a small worker pool with a per-run timeout and an
// overlap guard: a schedule whose previous run is still executing is skipped,
// not stacked. Completed runs land in a bounded history ring served by the
// debug endpoints.
package scheduler
