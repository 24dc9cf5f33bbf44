package ledgertest

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/ledgerflow/internal/ir"
	"github.com/roach88/ledgerflow/internal/ledger"
)

func drain(t *testing.T, w ledger.TxWatch) []ledger.Status {
	t.Helper()
	var out []ledger.Status
	for n := range w.C() {
		out = append(out, n.Status)
	}
	return out
}

func TestClient_ScriptedSubmission(t *testing.T) {
	c := New()
	c.Script(Ready(), InBlock(Transferred("a", "b", 100)))

	call := ledger.Call{Section: "balances", Method: "transfer", Args: ir.Obj(ir.O("amount", ir.Int(100)))}
	w, err := c.Submit(context.Background(), call, Signer(1))
	require.NoError(t, err)

	assert.Equal(t, []ledger.Status{ledger.StatusReady, ledger.StatusInBlock}, drain(t, w))
	assert.NoError(t, w.Err())

	subs := c.Submissions()
	require.Len(t, subs, 1)
	assert.Equal(t, w.Hash(), subs[0].Hash)
	assert.Equal(t, Signer(1).Address(), subs[0].Sender)

	ok, err := ledger.VerifyCall(subs[0].Sender, call, subs[0].Sig)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestClient_RejectNext(t *testing.T) {
	c := New()
	c.RejectNext(errors.New("bad nonce"))

	_, err := c.SubmitUnsigned(context.Background(), ledger.Call{Section: "a", Method: "b"})
	assert.EqualError(t, err, "bad nonce")

	w, err := c.SubmitUnsigned(context.Background(), ledger.Call{Section: "a", Method: "b"})
	require.NoError(t, err)
	assert.NotEmpty(t, w.Hash())
}

func TestClient_ManualTx(t *testing.T) {
	c := New()
	w, err := c.SubmitUnsigned(context.Background(), ledger.Call{Section: "a", Method: "b"})
	require.NoError(t, err)

	tx := c.Tx(w.Hash())
	require.NotNil(t, tx)
	require.True(t, tx.Send(Ready()))
	tx.Finish(errors.New("socket closed"))

	assert.Equal(t, []ledger.Status{ledger.StatusReady}, drain(t, w))
	assert.EqualError(t, w.Err(), "socket closed")
}

func TestClient_StorageEmitAndClose(t *testing.T) {
	c := New()
	path := ledger.Path{"tokens", "accounts", "alice", "1"}

	w, err := c.SubscribeStorage(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, 1, c.Emit(path, ir.Int(100)))
	assert.Equal(t, ir.Int(100), <-w.C())

	w.Close()
	assert.Equal(t, 0, c.Emit(path, ir.Int(150)))
	assert.Equal(t, 1, c.Unsubscribes(path))
	assert.Equal(t, 0, c.Open(path))
}

func TestClient_KeepEmittingIgnoresClose(t *testing.T) {
	c := New()
	c.KeepEmitting(true)
	path := ledger.Path{"p"}

	w, err := c.SubscribeStorage(context.Background(), path)
	require.NoError(t, err)
	w.Close()

	assert.Equal(t, 1, c.Emit(path, ir.Int(1)))
	assert.Equal(t, 1, c.Unsubscribes(path))
}

func TestClient_Break(t *testing.T) {
	c := New()
	path := ledger.Path{"p"}
	w, err := c.SubscribeStorage(context.Background(), path)
	require.NoError(t, err)

	c.Break(path, errors.New("reset"))
	_, open := <-w.C()
	assert.False(t, open)
	assert.EqualError(t, w.Err(), "reset")
}

func TestClient_ResolveDispatchError(t *testing.T) {
	c := New()
	meta := ledger.ErrorMeta{Section: "assets", Name: "InsufficientBalance", Docs: "Balance too low."}
	c.RegisterError(ledger.ModuleError{Index: 3, Error: 7}, meta)

	got, err := c.ResolveDispatchError(context.Background(), ledger.ModuleError{Index: 3, Error: 7})
	require.NoError(t, err)
	assert.Equal(t, meta, got)

	_, err = c.ResolveDispatchError(context.Background(), ledger.ModuleError{Index: 9, Error: 9})
	assert.Error(t, err)
	assert.Equal(t, 2, c.Resolves())
}

func TestClient_QueryStorage(t *testing.T) {
	c := New()
	path := ledger.Path{"x"}
	v, err := c.QueryStorage(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, ir.Null{}, v)

	c.SetValue(path, ir.String("340282366920938463463374607431768211455"))
	v, err = c.QueryStorage(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, ir.String("340282366920938463463374607431768211455"), v)
	assert.Equal(t, 2, c.Queries(path))
}
