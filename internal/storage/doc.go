// Package storage persists the little state the watcher wants back after a
// restart: the tracker's last snapshot (so old transitions are not
// re-alerted), an append-only log of flight events, and the notifier's dedup
// marks. The file backend is the default; sqlite is available behind a build
// tag for installs that prefer one queryable database file.
package storage
