// Package engine executes ledger transactions and tracks them to a terminal
// outcome.
//
// The Executor submits a call through ledger.Client, then runs one watcher
// goroutine per in-flight transaction. Each notification goes through the
// correlator; the first terminal outcome fires exactly one of OnFinalized
// or OnError and the watcher stops. Notifications arriving after that are
// never read.
//
// Thread-safety model:
//   - Execute, ExecuteUnsigned, Await, Cancel: safe from any goroutine
//   - Get, Pending, History: snapshot reads, safe from any goroutine
//   - callbacks: run on the handle's watcher goroutine, in notification order
//
// The handle table is the only shared mutable state. It is keyed by
// transaction hash and guarded by one mutex.
//
// Cancel means "stop caring": the transaction stays submitted on-chain, the
// handle becomes cancelled and no further callback starts. It is never
// reported as a failure.
package engine
