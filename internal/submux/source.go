package submux

import (
	"context"
	"fmt"
	"sort"

	"github.com/roach88/ledgerflow/internal/ledger"
)

// Source opens upstream value streams.
type Source interface {
	Open(ctx context.Context, key Key) (ledger.ValueWatch, error)
}

// SourceFunc adapts a function to Source.
type SourceFunc func(ctx context.Context, key Key) (ledger.ValueWatch, error)

// Open implements Source.
func (f SourceFunc) Open(ctx context.Context, key Key) (ledger.ValueWatch, error) {
	return f(ctx, key)
}

// Networks maps network ids to ledger clients.
type Networks map[string]ledger.Client

// Client returns the client for network.
func (n Networks) Client(network string) (ledger.Client, error) {
	c, ok := n[network]
	if !ok {
		return nil, fmt.Errorf("unknown network %q (known: %v)", network, n.names())
	}
	return c, nil
}

func (n Networks) names() []string {
	names := make([]string, 0, len(n))
	for name := range n {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// PathFunc maps a key to a storage path.
type PathFunc func(Key) ledger.Path

// LedgerSource opens push subscriptions through SubscribeStorage.
type LedgerSource struct {
	networks Networks
	path     PathFunc
}

// NewLedgerSource creates a push source. path may be nil for
// Key.LedgerPath.
func NewLedgerSource(networks Networks, path PathFunc) *LedgerSource {
	if path == nil {
		path = Key.LedgerPath
	}
	return &LedgerSource{networks: networks, path: path}
}

// Open implements Source.
func (s *LedgerSource) Open(ctx context.Context, key Key) (ledger.ValueWatch, error) {
	client, err := s.networks.Client(key.Network)
	if err != nil {
		return nil, err
	}
	return client.SubscribeStorage(ctx, s.path(key))
}

// KindRouter sends each kind to its own source, e.g. poll-only resources
// to a PollSource and everything else to a LedgerSource.
type KindRouter struct {
	routes   map[string]Source
	fallback Source
}

// NewKindRouter creates a router. fallback may be nil.
func NewKindRouter(routes map[string]Source, fallback Source) *KindRouter {
	return &KindRouter{routes: routes, fallback: fallback}
}

// Open implements Source.
func (r *KindRouter) Open(ctx context.Context, key Key) (ledger.ValueWatch, error) {
	if s, ok := r.routes[key.Kind]; ok {
		return s.Open(ctx, key)
	}
	if r.fallback == nil {
		return nil, fmt.Errorf("no source for kind %q", key.Kind)
	}
	return r.fallback.Open(ctx, key)
}
