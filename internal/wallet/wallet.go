package wallet

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/holiman/uint256"
	"golang.org/x/time/rate"

	"github.com/roach88/ledgerflow/internal/ir"
	"github.com/roach88/ledgerflow/internal/reactive"
	"github.com/roach88/ledgerflow/internal/statestore"
	"github.com/roach88/ledgerflow/internal/submux"
)

// State keys.
const (
	KeySelection     = "wallet/selection"
	KeyLastFinalized = "tx/last-finalized"
)

// Trigger IDs.
const (
	TriggerBalances = "wallet.balances"
	TriggerRefresh  = "wallet.refresh"
)

// BalanceKind is the submux kind for balance subscriptions.
const BalanceKind = "balance"

// Selection is the account the wallet follows. Fields other than Network
// and Account in the stored object (loading flags and the like) are
// ignored.
type Selection struct {
	Network string
	Account string
}

// Empty reports whether no account is selected.
func (s Selection) Empty() bool {
	return s.Network == "" || s.Account == ""
}

func sameSelection(a, b Selection) bool {
	return a.Network == b.Network && a.Account == b.Account
}

// Finalized is the tx/last-finalized record.
type Finalized struct {
	Network string
	Hash    string
	Sender  string
}

// Wallet wires balance subscriptions to the state store.
type Wallet struct {
	networks submux.Networks
	assets   map[string][]string
	store    statestore.Store
	logger   *slog.Logger

	group  *submux.Group
	writer atomic.Pointer[reactive.Writer]

	// rekeyMu orders group replacements; a superseded run that gets the
	// lock late must not undo a newer one.
	rekeyMu sync.Mutex
	keys    []submux.Key
	closed  bool

	// resubscribe bounds re-opens after transport errors.
	resubscribe *rate.Limiter
}

// Option configures a Wallet.
type Option func(*Wallet)

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(w *Wallet) { w.logger = l }
}

// New creates a wallet. assets lists the asset IDs tracked per network.
// store is used for direct reads and writes; trigger effects write through
// their own generation's writer.
func New(mux *submux.Mux, networks submux.Networks, assets map[string][]string, store statestore.Store, opts ...Option) *Wallet {
	w := &Wallet{
		networks: networks,
		assets:   assets,
		store:    store,
		logger:   slog.Default(),

		resubscribe: rate.NewLimiter(rate.Every(time.Second), 3),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.group = mux.NewGroup(w.onBalance, submux.OnError(w.onTransportError))
	return w
}

// BalanceKey is the store key for one balance.
func BalanceKey(network, account, asset string) string {
	return statestore.Key(BalanceKind, network, account, asset)
}

// Register adds the wallet's triggers to s.
func (w *Wallet) Register(s *reactive.Synchronizer) error {
	err := reactive.Register(s, reactive.Trigger[Selection]{
		ID:              TriggerBalances,
		Keys:            []string{KeySelection},
		Select:          selectSelection,
		Equal:           sameSelection,
		Effect:          w.rekey,
		FireImmediately: true,
	})
	if err != nil {
		return err
	}
	return reactive.Register(s, reactive.Trigger[ir.Value]{
		ID:     TriggerRefresh,
		Keys:   []string{KeyLastFinalized},
		Select: reactive.SelectKey(KeyLastFinalized),
		Equal:  reactive.ValueEqual,
		Effect: w.refresh,
	})
}

// Select sets the followed account.
func (w *Wallet) Select(ctx context.Context, network, account string) error {
	if _, err := w.networks.Client(network); err != nil {
		return err
	}
	return w.store.Set(ctx, KeySelection, ir.Obj(
		ir.O("network", ir.String(network)),
		ir.O("account", ir.String(account)),
	))
}

// RecordFinalized notes a finalized transaction for the refresh trigger.
func (w *Wallet) RecordFinalized(ctx context.Context, f Finalized) error {
	return PutFinalized(ctx, w.store, f)
}

// PutFinalized writes the tx/last-finalized record to s. Processes without
// a Wallet use it to leave the record for one that has.
func PutFinalized(ctx context.Context, s statestore.Store, f Finalized) error {
	return s.Set(ctx, KeyLastFinalized, ir.Obj(
		ir.O("network", ir.String(f.Network)),
		ir.O("hash", ir.String(f.Hash)),
		ir.O("sender", ir.String(f.Sender)),
	))
}

// Balance reads a stored balance.
func (w *Wallet) Balance(ctx context.Context, network, account, asset string) (*uint256.Int, bool, error) {
	v, ok, err := w.store.Get(ctx, BalanceKey(network, account, asset))
	if err != nil || !ok {
		return nil, ok, err
	}
	n, err := ParseAmount(v)
	if err != nil {
		return nil, false, err
	}
	return n, true, nil
}

// Subscriptions lists the live balance keys.
func (w *Wallet) Subscriptions() []submux.Key {
	return w.group.Keys()
}

// Close cancels every balance subscription.
func (w *Wallet) Close() error {
	w.rekeyMu.Lock()
	defer w.rekeyMu.Unlock()
	w.closed = true
	w.keys = nil
	return w.group.Close()
}

func selectSelection(ctx context.Context, r statestore.Reader) (Selection, error) {
	v, ok, err := r.Get(ctx, KeySelection)
	if err != nil || !ok {
		return Selection{}, err
	}
	obj, ok := v.(ir.Object)
	if !ok {
		return Selection{}, fmt.Errorf("%s: expected object, got %T", KeySelection, v)
	}
	network, _ := obj.Str("network")
	account, _ := obj.Str("account")
	return Selection{Network: network, Account: account}, nil
}

func (w *Wallet) balanceKeys(sel Selection) []submux.Key {
	if sel.Empty() {
		return nil
	}
	assets := w.assets[sel.Network]
	keys := make([]submux.Key, 0, len(assets))
	for _, a := range assets {
		keys = append(keys, submux.Key{Network: sel.Network, Kind: BalanceKind, Path: []string{sel.Account, a}})
	}
	return keys
}

// rekey points the subscription group at the new selection.
func (w *Wallet) rekey(ctx context.Context, run reactive.Run[Selection]) error {
	w.rekeyMu.Lock()
	defer w.rekeyMu.Unlock()
	if !run.Writer.Current() {
		return reactive.ErrStale
	}

	if w.closed {
		return nil
	}
	w.writer.Store(run.Writer)
	keys := w.balanceKeys(run.Next)
	w.keys = keys
	w.logger.Info("wallet selection changed",
		"network", run.Next.Network, "account", run.Next.Account,
		"assets", len(keys), "generation", run.Generation)
	return w.group.Replace(ctx, keys)
}

func (w *Wallet) onBalance(key submux.Key, v ir.Value) {
	account, asset := key.Path[0], key.Path[1]
	n, err := ParseAmount(v)
	if err != nil {
		w.logger.Warn("unreadable balance", "key", key.String(), "error", err)
		return
	}
	wr := w.writer.Load()
	if wr == nil {
		return
	}
	err = wr.Set(context.Background(), BalanceKey(key.Network, account, asset), AmountValue(n))
	if err != nil && !errors.Is(err, reactive.ErrStale) {
		w.logger.Error("balance write failed", "key", key.String(), "error", err)
	}
}

// onTransportError re-applies the current key set. The group has already
// dropped the failed member, so Replace opens it again.
func (w *Wallet) onTransportError(key submux.Key, err error) {
	w.logger.Warn("balance subscription lost", "key", key.String(), "error", err)

	w.rekeyMu.Lock()
	defer w.rekeyMu.Unlock()
	if w.closed || !containsKey(w.keys, key) {
		return
	}
	if !w.resubscribe.Allow() {
		w.logger.Error("balance resubscribe throttled", "key", key.String())
		return
	}
	if err := w.group.Replace(context.Background(), w.keys); err != nil {
		w.logger.Error("balance resubscribe failed", "key", key.String(), "error", err)
	}
}

func containsKey(keys []submux.Key, key submux.Key) bool {
	id := key.ID()
	for _, k := range keys {
		if k.ID() == id {
			return true
		}
	}
	return false
}

// refresh re-reads the selected account's balances after one of its
// transactions finalized.
func (w *Wallet) refresh(ctx context.Context, run reactive.Run[ir.Value]) error {
	rec, ok := run.Next.(ir.Object)
	if !ok {
		return nil
	}
	network, _ := rec.Str("network")
	sender, _ := rec.Str("sender")

	sel, err := selectSelection(ctx, w.store)
	if err != nil {
		return err
	}
	if sel.Network != network || sel.Account != sender {
		return nil
	}

	client, err := w.networks.Client(network)
	if err != nil {
		return err
	}
	for _, key := range w.balanceKeys(sel) {
		v, err := client.QueryStorage(ctx, key.LedgerPath())
		if err != nil {
			return fmt.Errorf("refresh %s: %w", key, err)
		}
		n, err := ParseAmount(v)
		if err != nil {
			return fmt.Errorf("refresh %s: %w", key, err)
		}
		if err := run.Writer.Set(ctx, BalanceKey(network, sender, key.Path[1]), AmountValue(n)); err != nil {
			return err
		}
	}
	w.logger.Debug("wallet balances refreshed", "network", network, "account", sender)
	return nil
}
