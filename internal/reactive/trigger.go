package reactive

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/roach88/ledgerflow/internal/ir"
	"github.com/roach88/ledgerflow/internal/statestore"
)

// ErrStale is returned by Writer.Set once a newer generation of the same
// trigger has fired. The write was dropped.
var ErrStale = errors.New("stale generation")

// Trigger declares one dependency: Select reads a slice of state, Equal
// decides whether two consecutive selections are the same, and Effect runs
// when they are not.
//
// Equal is deliberately caller-supplied: a selection may carry fields (a
// loading flag next to an address) that must not cause a re-run.
type Trigger[T any] struct {
	// ID names the trigger; unique per Synchronizer.
	ID string

	// Keys limits re-evaluation to changes under these key prefixes.
	// Empty means every change.
	Keys []string

	Select func(ctx context.Context, r statestore.Reader) (T, error)
	Equal  func(a, b T) bool
	Effect func(ctx context.Context, run Run[T]) error

	// FireImmediately runs Effect once with the selection taken when Run
	// starts, before any change is processed.
	FireImmediately bool
}

func (t Trigger[T]) validate() error {
	switch {
	case t.ID == "":
		return fmt.Errorf("trigger: id is required")
	case t.Select == nil:
		return fmt.Errorf("trigger %s: select is required", t.ID)
	case t.Equal == nil:
		return fmt.Errorf("trigger %s: equal is required", t.ID)
	case t.Effect == nil:
		return fmt.Errorf("trigger %s: effect is required", t.ID)
	}
	return nil
}

// Run is one firing of a trigger.
type Run[T any] struct {
	ID         string
	Trigger    string
	Generation uint64

	// Prev is the previous selection; HasPrev is false on the first firing.
	Prev    T
	HasPrev bool
	Next    T

	Writer *Writer
}

// Comparable returns == as an Equal func.
func Comparable[T comparable]() func(a, b T) bool {
	return func(a, b T) bool { return a == b }
}

// ValueEqual compares ir values structurally.
func ValueEqual(a, b ir.Value) bool {
	return ir.Equal(a, b)
}

// SelectKey reads one key; unset keys read as ir.Null.
func SelectKey(key string) func(context.Context, statestore.Reader) (ir.Value, error) {
	return func(ctx context.Context, r statestore.Reader) (ir.Value, error) {
		v, ok, err := r.Get(ctx, key)
		if err != nil {
			return nil, err
		}
		if !ok {
			return ir.Null{}, nil
		}
		return v, nil
	}
}

// generation is a trigger's clock. advance and Writer.Set share mu, so a
// write either lands before the next firing or is rejected.
type generation struct {
	mu      sync.Mutex
	current uint64
	cancel  context.CancelFunc
}

// advance cancels the running effect, if any, and returns the next
// generation.
func (g *generation) advance(cancel context.CancelFunc) uint64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.cancel != nil {
		g.cancel()
	}
	g.current++
	g.cancel = cancel
	return g.current
}

// Writer writes state on behalf of one generation of one trigger.
type Writer struct {
	store   statestore.Store
	gen     *generation
	n       uint64
	onStale func(key string)
}

// Set writes v unless a newer generation has fired, in which case it
// returns ErrStale and the store is untouched.
func (w *Writer) Set(ctx context.Context, key string, v ir.Value) error {
	w.gen.mu.Lock()
	defer w.gen.mu.Unlock()

	if w.gen.current != w.n {
		if w.onStale != nil {
			w.onStale(key)
		}
		return ErrStale
	}
	return w.store.Set(ctx, key, v)
}

// Generation returns the generation this writer is bound to.
func (w *Writer) Generation() uint64 {
	return w.n
}

// Current reports whether the writer's generation is still the latest.
func (w *Writer) Current() bool {
	w.gen.mu.Lock()
	defer w.gen.mu.Unlock()
	return w.gen.current == w.n
}
