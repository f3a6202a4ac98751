// Package broadcast implements the broadcast orchestrator: it accepts a
// campaign, persists it with its recipient records, and either dispatches
// it now or leaves it for the scheduled runner.
//
// Recipients are processed sequentially. A failed recipient never stops
// the batch; its outcome is recorded and reported like any other.
//
// Repository implementations live in repository/postgres/.
package broadcast
