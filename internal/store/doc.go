// Package store provides SQLite-backed storage for transaction history and
// application state.
//
// Tables:
//   - transactions: one row per submitted transaction, updated on resolve
//   - tx_statuses: every lifecycle notification, keyed by (hash, seq)
//   - state: the key/value application state (see KV)
//
// Writes are idempotent: a duplicate submission or status row is ignored.
// Listing orders by submitted_at, then seq, then hash, so results are stable
// across runs.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Status rows are removed with their transaction
package store
