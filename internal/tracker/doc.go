// Package tracker implements the polling loop for a single aircraft.
//
// Each cycle fetches the current state from the provider, diffs it against
// the last confident snapshot, turns meaningful transitions into alerts, and
// persists the new snapshot. Provider failures are absorbed: a cycle that
// fails is skipped, repeated failures degrade the loop (one alert, longer
// interval), and the first success afterwards recovers it (one alert).
//
// The loop owns its state exclusively. Concurrent readers (bot commands, the
// debug server) see the immutable Snapshot it publishes after every cycle.
package tracker
