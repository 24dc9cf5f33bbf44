package wallet

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/roach88/ledgerflow/internal/ir"
	"github.com/roach88/ledgerflow/internal/ledger"
	"github.com/roach88/ledgerflow/internal/ledger/ledgertest"
	"github.com/roach88/ledgerflow/internal/reactive"
	"github.com/roach88/ledgerflow/internal/statestore"
	"github.com/roach88/ledgerflow/internal/submux"
)

const wait = 2 * time.Second

// evaluations counts trigger evaluations so tests can wait for the loop.
type evaluations struct {
	mu sync.Mutex
	n  map[string]int
}

func (e *evaluations) TriggerEvaluated(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.n[id]++
}
func (e *evaluations) TriggerFired(string) {}
func (e *evaluations) StaleWrite(string)   {}
func (e *evaluations) EffectFailed(string) {}

func (e *evaluations) get(id string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.n[id]
}

type fixture struct {
	client *ledgertest.Client
	store  *statestore.Observed
	mux    *submux.Mux
	wallet *Wallet
	sync   *reactive.Synchronizer
	evals  *evaluations

	cancel context.CancelFunc
	done   chan error
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		client: ledgertest.New(),
		store:  statestore.Observe(statestore.NewMemory()),
		evals:  &evaluations{n: map[string]int{}},
	}
	networks := submux.Networks{"picasso": f.client}
	f.mux = submux.New(submux.NewLedgerSource(networks, nil))
	f.wallet = New(f.mux, networks, map[string][]string{"picasso": {"1", "4"}}, f.store)
	f.sync = reactive.New(f.store, reactive.WithMetrics(f.evals))
	require.NoError(t, f.wallet.Register(f.sync))
	return f
}

func (f *fixture) start(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	f.cancel = cancel
	f.done = make(chan error, 1)
	go func() { f.done <- f.sync.Run(ctx) }()
	t.Cleanup(f.stop)

	for _, id := range f.sync.Triggers() {
		id := id
		require.Eventually(t, func() bool { return f.evals.get(id) >= 1 }, wait, time.Millisecond)
	}
}

func (f *fixture) stop() {
	if f.cancel == nil {
		return
	}
	f.cancel()
	<-f.done
	f.cancel = nil
	f.wallet.Close()
	f.mux.Close()
}

// set writes key and waits until trigger has evaluated it.
func (f *fixture) set(t *testing.T, trigger, key string, v ir.Value) {
	t.Helper()
	before := f.evals.get(trigger)
	require.NoError(t, f.store.Set(context.Background(), key, v))
	require.Eventually(t, func() bool { return f.evals.get(trigger) > before }, wait, time.Millisecond)
}

func (f *fixture) waitBalance(t *testing.T, account, asset, want string) {
	t.Helper()
	require.Eventually(t, func() bool {
		n, ok, err := f.wallet.Balance(context.Background(), "picasso", account, asset)
		return err == nil && ok && n.Dec() == want
	}, wait, time.Millisecond, "balance %s/%s = %s", account, asset, want)
}

func selection(account string, loading bool) ir.Value {
	return ir.Obj(
		ir.O("network", ir.String("picasso")),
		ir.O("account", ir.String(account)),
		ir.O("loading", ir.Bool(loading)),
	)
}

func balancePath(account, asset string) ledger.Path {
	return ledger.Path{BalanceKind, account, asset}
}

func TestWalletFollowsSelection(t *testing.T) {
	defer goleak.VerifyNone(t)

	f := newFixture(t)
	f.start(t)
	assert.Empty(t, f.wallet.Subscriptions(), "nothing selected yet")

	f.set(t, TriggerBalances, KeySelection, selection("alice", true))
	require.Eventually(t, func() bool { return len(f.wallet.Subscriptions()) == 2 }, wait, time.Millisecond)

	f.client.Emit(balancePath("alice", "1"), ir.Int(100))
	f.client.Emit(balancePath("alice", "4"), ir.String("340282366920938463463374607431768211455"))
	f.waitBalance(t, "alice", "1", "100")
	f.waitBalance(t, "alice", "4", "340282366920938463463374607431768211455")

	// Loading flag churn must not re-key.
	f.set(t, TriggerBalances, KeySelection, selection("alice", false))
	f.set(t, TriggerBalances, KeySelection, selection("alice", true))
	assert.Equal(t, 1, f.client.Subscribes(balancePath("alice", "1")))
	assert.Equal(t, 0, f.client.Unsubscribes(balancePath("alice", "1")))

	f.set(t, TriggerBalances, KeySelection, selection("bob", false))
	require.Eventually(t, func() bool {
		return f.client.Subscribes(balancePath("bob", "1")) == 1 && f.client.Subscribes(balancePath("bob", "4")) == 1
	}, wait, time.Millisecond)
	assert.Equal(t, 1, f.client.Unsubscribes(balancePath("alice", "1")))
	assert.Equal(t, 1, f.client.Unsubscribes(balancePath("alice", "4")))
	assert.Equal(t, []submux.Key{
		{Network: "picasso", Kind: BalanceKind, Path: []string{"bob", "1"}},
		{Network: "picasso", Kind: BalanceKind, Path: []string{"bob", "4"}},
	}, f.wallet.Subscriptions())

	f.client.Emit(balancePath("bob", "1"), ir.Obj(ir.O("free", ir.Int(7))))
	f.waitBalance(t, "bob", "1", "7")

	f.stop()
}

// A balance stream delivering [100, 100, 150]: the mux passes all three
// through, the slot ends at 150, and a trigger gated on the slot's value
// runs for 100 and 150 only.
func TestDuplicateBalanceReachesEqualityGate(t *testing.T) {
	f := newFixture(t)
	slot := BalanceKey("picasso", "alice", "1")

	var (
		mu      sync.Mutex
		writes  int
		derived []string
	)
	f.store.Watch(func(c statestore.Change) {
		if c.Key == slot {
			mu.Lock()
			writes++
			mu.Unlock()
		}
	})
	require.NoError(t, reactive.Register(f.sync, reactive.Trigger[ir.Value]{
		ID:     "dependent",
		Keys:   []string{slot},
		Select: reactive.SelectKey(slot),
		Equal:  reactive.ValueEqual,
		Effect: func(ctx context.Context, run reactive.Run[ir.Value]) error {
			mu.Lock()
			defer mu.Unlock()
			derived = append(derived, ir.Render(run.Next))
			return nil
		},
	}))
	f.start(t)

	f.set(t, TriggerBalances, KeySelection, selection("alice", false))
	require.Eventually(t, func() bool { return f.client.Open(balancePath("alice", "1")) == 1 }, wait, time.Millisecond)

	for _, v := range []int64{100, 100, 150} {
		before := f.evals.get("dependent")
		f.client.Emit(balancePath("alice", "1"), ir.Int(v))
		require.Eventually(t, func() bool { return f.evals.get("dependent") > before }, wait, time.Millisecond)
	}
	f.stop()

	got, ok, err := f.store.Get(context.Background(), slot)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, ir.String("150"), got)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 3, writes, "every delivered value is written")
	assert.Equal(t, []string{"100", "150"}, derived)
}

func TestWalletRefreshAfterFinalized(t *testing.T) {
	f := newFixture(t)
	f.start(t)
	ctx := context.Background()

	f.set(t, TriggerBalances, KeySelection, selection("alice", false))
	require.Eventually(t, func() bool { return len(f.wallet.Subscriptions()) == 2 }, wait, time.Millisecond)

	f.client.SetValue(balancePath("alice", "1"), ir.Int(40))
	f.client.SetValue(balancePath("alice", "4"), ir.Int(9))

	// Someone else's transaction does not refresh.
	require.NoError(t, f.wallet.RecordFinalized(ctx, Finalized{Network: "picasso", Hash: "0x01", Sender: "bob"}))
	require.Eventually(t, func() bool { return f.evals.get(TriggerRefresh) >= 2 }, wait, time.Millisecond)

	require.NoError(t, f.wallet.RecordFinalized(ctx, Finalized{Network: "picasso", Hash: "0x02", Sender: "alice"}))
	f.waitBalance(t, "alice", "1", "40")
	f.waitBalance(t, "alice", "4", "9")

	f.stop()
	assert.Equal(t, 0, f.client.Queries(balancePath("bob", "1")))
	assert.Equal(t, 1, f.client.Queries(balancePath("alice", "1")))
}

func TestSelectUnknownNetwork(t *testing.T) {
	f := newFixture(t)
	err := f.wallet.Select(context.Background(), "kusama", "alice")
	assert.ErrorContains(t, err, `unknown network "kusama"`)

	require.NoError(t, f.wallet.Select(context.Background(), "picasso", "alice"))
	v, ok, err := f.store.Get(context.Background(), KeySelection)
	require.NoError(t, err)
	require.True(t, ok)
	sel, err := selectSelection(context.Background(), f.store)
	require.NoError(t, err)
	assert.Equal(t, Selection{Network: "picasso", Account: "alice"}, sel)
	assert.NotNil(t, v)
	f.mux.Close()
}

func TestWalletResubscribesAfterTransportError(t *testing.T) {
	defer goleak.VerifyNone(t)

	f := newFixture(t)
	f.start(t)
	f.set(t, TriggerBalances, KeySelection, selection("alice", false))
	require.Eventually(t, func() bool { return len(f.wallet.Subscriptions()) == 2 }, wait, time.Millisecond)

	f.client.Emit(balancePath("alice", "1"), ir.Int(100))
	f.waitBalance(t, "alice", "1", "100")

	f.client.Break(balancePath("alice", "1"), errors.New("socket reset"))
	require.Eventually(t, func() bool {
		return f.client.Subscribes(balancePath("alice", "1")) == 2
	}, wait, time.Millisecond)
	assert.Len(t, f.wallet.Subscriptions(), 2)
	assert.Equal(t, 1, f.client.Subscribes(balancePath("alice", "4")))

	f.client.Emit(balancePath("alice", "1"), ir.Int(150))
	f.waitBalance(t, "alice", "1", "150")

	f.stop()
}

func TestWalletDoesNotResubscribeAfterClose(t *testing.T) {
	f := newFixture(t)
	f.start(t)
	f.set(t, TriggerBalances, KeySelection, selection("alice", false))
	require.Eventually(t, func() bool { return len(f.wallet.Subscriptions()) == 2 }, wait, time.Millisecond)

	require.NoError(t, f.wallet.Close())
	f.wallet.onTransportError(submux.Key{Network: "picasso", Kind: BalanceKind, Path: []string{"alice", "1"}}, errors.New("late"))
	assert.Empty(t, f.wallet.Subscriptions())
	assert.Equal(t, 1, f.client.Subscribes(balancePath("alice", "1")))
}
