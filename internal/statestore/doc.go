// Package statestore is the application state boundary: a key/value store
// with synchronous Get and atomic Set over ir.Value.
//
// Keys are slash-separated ("balance/picasso/5Grw.../1"). Implementations
// promise only that the next Get sees the last Set. Observed wraps any Store
// with change notification; the reactive synchronizer depends on it.
package statestore
