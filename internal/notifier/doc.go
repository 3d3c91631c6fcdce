// Package notifier provides an async notification pipeline for flight alerts.
//
// Notifications are small, high-signal messages intended for the watched chat
// (takeoffs, landings, route changes, provider health). A notification carries
// a priority, a target chat (optionally with a thread/topic), send options
// such as "disable link preview", and an optional dedup key naming the
// underlying event.
//
// # Transport
//
// The service delegates delivery to a transport.Adapter implementation (e.g.
// the Telegram adapter). Delivery is decoupled from the tracker loop: enqueue
// never blocks on the network, failed sends are retried by workers with
// backoff, and a delivery failure never rolls back tracker state.
//
// # History
//
// For debugging and operator visibility, the service keeps a small in-memory
// history of recently emitted notifications.
package notifier
