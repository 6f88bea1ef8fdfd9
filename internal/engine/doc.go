// Package engine runs one synchronization invocation.
//
// A run has up to two phases. The sync phase polls every active remote
// server for events newer than each module's cursor and stores them in the
// local queue. The execute phase claims queued events one at a time, applies
// them through the mapping registry and records the outcome.
//
// ARCHITECTURE:
//
// Orchestrator.Run is the only entry point. It validates the parameters,
// takes the sync lock around the sync phase (unless forced) and hands off to
// SyncDriver and ExecutionDriver.
//
// Concurrency:
// Runs are separate OS processes started by a scheduler. They coordinate
// only through the store: the sync lock keeps two sync phases apart, and an
// execute-only run backs off when the number of events in processing has
// reached its thread limit. The admission check is a soft limit; two runs
// can both pass it. The per-event claim is an atomic conditional update, so
// that race can overshoot the thread limit but never applies an event twice.
//
// Failure isolation:
//   - A server that cannot be reached is reported and skipped.
//   - A module whose events cannot be fetched is reported and skipped.
//   - An event whose mapping fails is marked error and the run continues.
//   - Losing the store, cancellation, or a mapper error wrapped with
//     model.Fatal stops the run. The claimed event is released back to the
//     queue first.
package engine
