package submux

import (
	"strings"

	"github.com/roach88/ledgerflow/internal/ir"
	"github.com/roach88/ledgerflow/internal/ledger"
)

// Key identifies one logical live value: network, resource kind and
// resource path, e.g. {picasso, balance, [5Grw..., 1]}.
type Key struct {
	Network string
	Kind    string
	Path    []string
}

// ID is the stable identity of the key.
func (k Key) ID() string {
	id, err := ir.SubscriptionID(k.Network, k.Kind, k.Path)
	if err != nil {
		// Strings always canonicalize.
		panic(err)
	}
	return id
}

// String renders network/kind/path for logs.
func (k Key) String() string {
	parts := append([]string{k.Network, k.Kind}, k.Path...)
	return strings.Join(parts, "/")
}

// LedgerPath is the default storage path for a key: the kind followed by
// the resource path.
func (k Key) LedgerPath() ledger.Path {
	return append(ledger.Path{k.Kind}, k.Path...)
}
