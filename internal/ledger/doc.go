// Package ledger defines the boundary to the blockchain node.
//
// Everything behind Client is a black box: signing, encoding, the wire
// format and the transport all belong to the implementation. ledgerflow only
// sees notification streams, storage value streams and metadata lookups.
//
// Implementations:
//   - wsrpc: JSON-RPC 2.0 over websocket against a gateway
//   - ledgertest: scriptable in-memory fake for tests
package ledger
