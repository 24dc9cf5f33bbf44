// Package wsrpc is a ledger.Client over JSON-RPC 2.0 on a websocket.
//
// The gateway on the other end owns the chain wire format. Requests carry
// calls as JSON (section, method, args); signed submissions add the sender
// address and a hex ed25519 signature over the canonical call bytes.
//
// Methods:
//
//	ledger_submitAndWatch          {call, sender, signature} → {hash, subscription}
//	ledger_submitUnsignedAndWatch  {call}                    → {hash, subscription}
//	ledger_subscribeStorage        {path}                    → subscription
//	ledger_unsubscribe             [subscription]            → bool
//	ledger_queryStorage            {path}                    → value
//	ledger_resolveError            {index, error}            → {section, name, docs}
//
// Pushed notifications use method ledger_txStatus or ledger_storage with
// params {subscription, result}.
package wsrpc
