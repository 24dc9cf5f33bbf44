package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/ledgerflow/internal/ir"
)

func TestKVRoundTrip(t *testing.T) {
	kv := createTestStore(t).KV()
	ctx := context.Background()

	_, ok, err := kv.Get(ctx, "account")
	require.NoError(t, err)
	assert.False(t, ok)

	big := ir.String("340282366920938463463374607431768211455")
	require.NoError(t, kv.Set(ctx, "balance/picasso/alice/1", big))
	require.NoError(t, kv.Set(ctx, "account", ir.Obj(ir.O("address", ir.String("alice")))))
	require.NoError(t, kv.Set(ctx, "account", ir.Obj(ir.O("address", ir.String("bob")))))

	v, ok, err := kv.Get(ctx, "balance/picasso/alice/1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, big, v)

	v, _, err = kv.Get(ctx, "account")
	require.NoError(t, err)
	assert.True(t, ir.Equal(ir.Obj(ir.O("address", ir.String("bob"))), v), "upsert keeps the last write")

	keys, err := kv.Keys(ctx, "balance")
	require.NoError(t, err)
	assert.Equal(t, []string{"balance/picasso/alice/1"}, keys)
}

func TestKVPersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.db")
	ctx := context.Background()

	s, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s.KV().Set(ctx, "network", ir.String("picasso")))
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()

	v, ok, err := s.KV().Get(ctx, "network")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, ir.String("picasso"), v)
}
