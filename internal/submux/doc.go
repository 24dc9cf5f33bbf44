// Package submux multiplexes live ledger subscriptions.
//
// A Mux owns every upstream subscription. Subscribers of the same Key share
// one upstream stream with per-subscriber reference counting; the upstream
// is closed when the last subscriber cancels. One pump goroutine per
// upstream delivers values in the order the ledger emits them, without
// deduplication. A subscriber that joins a live upstream first receives the
// latest value seen on it.
//
// Cancellation is idempotent, and once a CancelFunc returns no further
// onValue call starts for that subscriber. onValue must not call its own
// subscription's cancel synchronously.
//
// Group maintains a keyed set of subscriptions for one logical consumer
// and replaces it atomically: keys leaving the set are cancelled before
// keys entering it are subscribed.
package submux
