// Package wallet keeps per-asset balances of the selected account in the
// state store.
//
// Two triggers drive it. "wallet.balances" watches the selection (network
// and account) and re-keys a subscription group to that account's balance
// for every configured asset; the old account's subscriptions are cancelled
// before the new ones open. "wallet.refresh" watches tx/last-finalized and
// re-reads the sender's balances once when one of the selected account's
// transactions finalizes.
//
// Balances are stored as decimal strings under
// balance/<network>/<account>/<asset>.
package wallet
