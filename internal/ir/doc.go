// Package ir is the value model shared by every ledgerflow package.
//
// Ledger event payloads, call arguments and storage values all travel as
// ir.Value. The package imports nothing internal so every other package can
// depend on it.
//
// Constraints:
//   - no float variant; amounts wider than int64 are decimal strings
//   - canonical JSON (RFC 8785) is the only encoding used for identity
package ir
