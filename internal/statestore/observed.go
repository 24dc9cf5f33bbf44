package statestore

import (
	"context"
	"sort"
	"sync"

	"github.com/roach88/ledgerflow/internal/ir"
)

// Change is one successful Set.
type Change struct {
	Key   string
	Value ir.Value
}

// Observed adds change notification to a Store.
//
// Watchers run synchronously inside Set, after the write, in the order they
// were added. They must not block or call Set themselves.
type Observed struct {
	Store

	mu       sync.Mutex
	watchers map[uint64]func(Change)
	next     uint64
}

// Observe wraps s.
func Observe(s Store) *Observed {
	return &Observed{Store: s, watchers: make(map[uint64]func(Change))}
}

// Set writes through and notifies watchers.
func (o *Observed) Set(ctx context.Context, key string, v ir.Value) error {
	if err := o.Store.Set(ctx, key, v); err != nil {
		return err
	}

	o.mu.Lock()
	ids := make([]uint64, 0, len(o.watchers))
	for id := range o.watchers {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	fns := make([]func(Change), 0, len(ids))
	for _, id := range ids {
		fns = append(fns, o.watchers[id])
	}
	o.mu.Unlock()

	c := Change{Key: key, Value: v}
	for _, fn := range fns {
		fn(c)
	}
	return nil
}

// Watch registers fn for every subsequent change. The returned func
// removes it and is safe to call more than once.
func (o *Observed) Watch(fn func(Change)) func() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.next++
	id := o.next
	o.watchers[id] = fn
	return func() {
		o.mu.Lock()
		defer o.mu.Unlock()
		delete(o.watchers, id)
	}
}
