// Package store provides SQLite-backed durable storage for servers, modules
// and the local event queue.
//
// The events table is both the queue and the concurrency ledger:
//   - UNIQUE(module_id, remote_id) makes ingestion idempotent
//   - the processing column counts live workers for admission control
//   - claim_token ties a processing row to the invocation that claimed it, so
//     a claim is finished at most once even if stale recovery requeued it
//
// # Critical Patterns
//
// Idempotent ingestion:
//   - INSERT ... ON CONFLICT(module_id, remote_id) DO NOTHING
//   - the module cursor advances in the same transaction, via MAX(), so it
//     never moves backwards
//
// Atomic claim:
//   - UPDATE ... WHERE id = ? AND status = 'queued'
//   - RowsAffected tells the caller whether it won the event
//
// Deterministic queue order:
//   - ORDER BY received_at ASC, id ASC
//
// # Database Configuration
//
//   - WAL mode: concurrent readers while one invocation writes
//   - synchronous=NORMAL
//   - busy_timeout=5000: overlapping scheduler runs wait instead of failing
//   - foreign_keys=ON
package store
