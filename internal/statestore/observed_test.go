package statestore

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/ledgerflow/internal/ir"
)

type failingStore struct{ Store }

func (failingStore) Set(context.Context, string, ir.Value) error {
	return errors.New("disk full")
}

func TestObservedNotifiesAfterWrite(t *testing.T) {
	o := Observe(NewMemory())
	ctx := context.Background()

	var seen []string
	stop := o.Watch(func(c Change) {
		// The write is visible to watchers.
		v, ok, err := o.Get(ctx, c.Key)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, c.Value, v)
		seen = append(seen, c.Key)
	})
	require.NoError(t, o.Set(ctx, "a", ir.Int(1)))
	require.NoError(t, o.Set(ctx, "b", ir.Int(2)))
	assert.Equal(t, []string{"a", "b"}, seen)

	stop()
	stop()
	require.NoError(t, o.Set(ctx, "c", ir.Int(3)))
	assert.Equal(t, []string{"a", "b"}, seen)
}

func TestObservedWatcherOrder(t *testing.T) {
	o := Observe(NewMemory())
	var order []int
	o.Watch(func(Change) { order = append(order, 1) })
	o.Watch(func(Change) { order = append(order, 2) })
	o.Watch(func(Change) { order = append(order, 3) })

	require.NoError(t, o.Set(context.Background(), "k", ir.Null{}))
	assert.Equal(t, []int{1, 2, 3}, order)
}

func TestObservedSkipsFailedWrites(t *testing.T) {
	o := Observe(failingStore{NewMemory()})
	called := false
	o.Watch(func(Change) { called = true })

	err := o.Set(context.Background(), "k", ir.Int(1))
	assert.EqualError(t, err, "disk full")
	assert.False(t, called)
}
