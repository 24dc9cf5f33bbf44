package wsrpc

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/roach88/ledgerflow/internal/ir"
	"github.com/roach88/ledgerflow/internal/ledger"
	"github.com/roach88/ledgerflow/internal/ledger/ledgertest"
)

func dial(t *testing.T, g *fakeGateway) *Client {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c, err := Dial(ctx, startGateway(t, g))
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func collect(t *testing.T, w ledger.TxWatch) []ledger.Notification {
	t.Helper()
	var out []ledger.Notification
	timeout := time.After(5 * time.Second)
	for {
		select {
		case n, ok := <-w.C():
			if !ok {
				return out
			}
			out = append(out, n)
		case <-timeout:
			t.Fatal("tx stream did not finish")
		}
	}
}

var transferScript = []map[string]any{
	{"status": "Ready"},
	{"status": "InBlock", "blockHash": "0xb1", "events": []any{
		map[string]any{"section": "balances", "method": "Transfer",
			"data": map[string]any{"from": "alice", "to": "bob", "amount": 100}},
	}},
	{"status": "Finalized", "blockHash": "0xb1"},
}

func TestClient_SubmitStreamsUntilFinalized(t *testing.T) {
	g := &fakeGateway{txScript: transferScript}
	c := dial(t, g)

	signer := ledgertest.Signer(7)
	call := ledger.Call{Section: "balances", Method: "transfer", Args: ir.Obj(ir.O("amount", ir.Int(100)))}
	w, err := c.Submit(context.Background(), call, signer)
	require.NoError(t, err)
	assert.Equal(t, "0xfeed", w.Hash())

	got := collect(t, w)
	require.Len(t, got, 3)
	assert.Equal(t, ledger.StatusReady, got[0].Status)
	assert.Equal(t, ledger.StatusInBlock, got[1].Status)
	require.Len(t, got[1].Events, 1)
	assert.Equal(t, "balances.Transfer", got[1].Events[0].Name())
	assert.Equal(t, ir.Int(100), got[1].Events[0].Data["amount"])
	assert.Equal(t, ledger.StatusFinalized, got[2].Status)
	assert.NoError(t, w.Err())

	reqs := g.requestsFor(methodSubmit)
	require.Len(t, reqs, 1)
	params := reqs[0]["params"].(map[string]any)
	assert.Equal(t, signer.Address(), params["sender"])
	assert.JSONEq(t, `{"section":"balances","method":"transfer","args":{"amount":100}}`, mustJSON(t, params["call"]))
}

func TestClient_NotificationsBeforeReplyAreKept(t *testing.T) {
	g := &fakeGateway{txScript: transferScript, pushFirst: true}
	c := dial(t, g)

	w, err := c.SubmitUnsigned(context.Background(), ledger.Call{Section: "balances", Method: "transfer"})
	require.NoError(t, err)
	assert.Len(t, collect(t, w), 3)
}

func TestClient_SubmitRejected(t *testing.T) {
	c := dial(t, &fakeGateway{})

	_, err := c.SubmitUnsigned(context.Background(), ledger.Call{Section: "balances", Method: "reject"})
	require.Error(t, err)
	var rpcErr *RPCError
	require.ErrorAs(t, err, &rpcErr)
	assert.Equal(t, int64(1010), rpcErr.Code)
	assert.Contains(t, err.Error(), "Inability to pay some fees")
}

func TestClient_SubmitValidatesCall(t *testing.T) {
	c := dial(t, &fakeGateway{})
	_, err := c.SubmitUnsigned(context.Background(), ledger.Call{Method: "transfer"})
	assert.Error(t, err)
}

func TestClient_FailureStatusEndsStream(t *testing.T) {
	g := &fakeGateway{txScript: []map[string]any{
		{"status": "Ready"},
		{"status": "Dropped"},
		{"status": "Ready"},
	}}
	c := dial(t, g)

	w, err := c.SubmitUnsigned(context.Background(), ledger.Call{Section: "a", Method: "b"})
	require.NoError(t, err)
	got := collect(t, w)
	require.Len(t, got, 2)
	assert.Equal(t, ledger.StatusDropped, got[1].Status)
}

func TestClient_SubscribeStorageAndUnsubscribe(t *testing.T) {
	g := &fakeGateway{storageScript: []any{100, 100, "150"}}
	c := dial(t, g)

	w, err := c.SubscribeStorage(context.Background(), ledger.Path{"tokens", "accounts", "alice", "1"})
	require.NoError(t, err)

	var got []ir.Value
	for len(got) < 3 {
		select {
		case v := <-w.C():
			got = append(got, v)
		case <-time.After(5 * time.Second):
			t.Fatal("storage values not delivered")
		}
	}
	assert.Equal(t, []ir.Value{ir.Int(100), ir.Int(100), ir.String("150")}, got)

	w.Close()
	assert.Equal(t, []string{"sub-storage"}, g.unsubscribes())

	reqs := g.requestsFor(methodSubscribe)
	require.Len(t, reqs, 1)
	assert.JSONEq(t, `{"path":["tokens","accounts","alice","1"]}`, mustJSON(t, reqs[0]["params"]))
}

func TestClient_QueryStorage(t *testing.T) {
	c := dial(t, &fakeGateway{})

	v, err := c.QueryStorage(context.Background(), ledger.Path{"system", "account", "alice"})
	require.NoError(t, err)
	obj, ok := v.(ir.Object)
	require.True(t, ok)
	assert.Equal(t, ir.String("340282366920938463463374607431768211455"), obj["free"])
	assert.Equal(t, ir.Int(0), obj["frozen"])
}

func TestClient_ResolveDispatchError(t *testing.T) {
	c := dial(t, &fakeGateway{})

	meta, err := c.ResolveDispatchError(context.Background(), ledger.ModuleError{Index: 3, Error: 7})
	require.NoError(t, err)
	assert.Equal(t, "assets.InsufficientBalance: Balance too low.", meta.String())

	_, err = c.ResolveDispatchError(context.Background(), ledger.ModuleError{Index: 1, Error: 1})
	assert.Error(t, err)
}

func TestClient_CloseFailsOpenStreams(t *testing.T) {
	c := dial(t, &fakeGateway{})

	w, err := c.SubscribeStorage(context.Background(), ledger.Path{"x"})
	require.NoError(t, err)
	require.NoError(t, c.Close())

	select {
	case _, ok := <-w.C():
		assert.False(t, ok)
	case <-time.After(5 * time.Second):
		t.Fatal("stream not finished after Close")
	}
	assert.ErrorIs(t, w.Err(), ErrClosed)

	_, err = c.QueryStorage(context.Background(), ledger.Path{"x"})
	assert.ErrorIs(t, err, ErrClosed)
}

func TestClient_LateNotificationsAreNotParked(t *testing.T) {
	g := &fakeGateway{txScript: []map[string]any{
		{"status": "Ready"},
		{"status": "Dropped"},
	}}
	c := dial(t, g)

	w, err := c.SubmitUnsigned(context.Background(), ledger.Call{Section: "a", Method: "b"})
	require.NoError(t, err)
	require.Len(t, collect(t, w), 2)
	require.Eventually(t, func() bool { return c.ended.Contains("sub-tx") }, 5*time.Second, time.Millisecond)

	// The tx sink finished on Dropped; a straggler for it is dropped.
	c.handleNotification("sub-tx", gjson.Parse(`{"status":"Ready"}`))
	assert.Zero(t, c.early.Len())

	s, err := c.SubscribeStorage(context.Background(), ledger.Path{"tokens", "accounts", "alice", "1"})
	require.NoError(t, err)
	s.Close()
	c.handleNotification("sub-storage", gjson.Parse(`100`))
	assert.Zero(t, c.early.Len())

	// Unknown ids still park, for a subscribe reply that has not arrived.
	c.handleNotification("sub-pending", gjson.Parse(`1`))
	parked, ok := c.early.Get("sub-pending")
	require.True(t, ok)
	assert.Len(t, parked, 1)
}

func TestClient_ParkedSubscriptionsAreBounded(t *testing.T) {
	c := dial(t, &fakeGateway{})

	for i := 0; i < maxEarlySubs+10; i++ {
		c.handleNotification(fmt.Sprintf("sub-%d", i), gjson.Parse(`1`))
	}
	assert.Equal(t, maxEarlySubs, c.early.Len())
	assert.False(t, c.early.Contains("sub-0"), "the oldest id is dropped first")
	assert.True(t, c.early.Contains(fmt.Sprintf("sub-%d", maxEarlySubs+9)))

	for i := 0; i < maxEarly+5; i++ {
		c.handleNotification("sub-flood", gjson.Parse(`1`))
	}
	flood, _ := c.early.Get("sub-flood")
	assert.Len(t, flood, maxEarly)
}
