// Package reactive runs equality-gated triggers over the application state
// store.
//
// A trigger selects a slice of state, compares it with the previous
// selection using its own Equal, and runs its effect only when the two
// differ. Triggers are registered at startup, before Run, and evaluated in
// registration order by a single loop that consumes store changes.
//
// Each firing gets the next generation number for its trigger. Effects run
// on their own goroutines and write through a Writer bound to their
// generation; once a newer generation has fired, older writers are stale
// and their writes are dropped. The superseded effect's context is
// cancelled as well.
package reactive
