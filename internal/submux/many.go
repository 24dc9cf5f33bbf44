package submux

import (
	"context"
	"fmt"
	"sync"

	"github.com/hashicorp/go-multierror"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/ledgerflow/internal/ir"
)

// maxConcurrentOpens bounds upstream opens in flight per call.
const maxConcurrentOpens = 8

// SubscribeMany subscribes onValue to every key. Upstreams open
// concurrently. If any open fails, the subscriptions that did open are
// cancelled and the open errors are returned together.
func (m *Mux) SubscribeMany(ctx context.Context, keys []Key, onValue func(Key, ir.Value), opts ...SubscribeOption) (CancelFunc, error) {
	cancels, err := m.subscribeAll(ctx, keys, onValue, opts...)
	if err != nil {
		if cerr := CancelAll(cancels...)(); cerr != nil {
			err = multierror.Append(err, cerr)
		}
		return nil, err
	}
	return CancelAll(cancels...), nil
}

// subscribeAll returns the cancels of every successful subscription
// alongside the aggregated open errors.
func (m *Mux) subscribeAll(ctx context.Context, keys []Key, onValue func(Key, ir.Value), opts ...SubscribeOption) ([]CancelFunc, error) {
	var (
		mu      sync.Mutex
		cancels []CancelFunc
		errs    *multierror.Error
	)

	// Errors are collected rather than returned to the group so every open
	// runs to completion and partial failures can be cleaned up.
	var g errgroup.Group
	g.SetLimit(maxConcurrentOpens)
	for _, key := range keys {
		key := key
		g.Go(func() error {
			cancel, err := m.Subscribe(ctx, key, onValue, opts...)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = multierror.Append(errs, err)
				return nil
			}
			cancels = append(cancels, cancel)
			return nil
		})
	}
	_ = g.Wait()

	return cancels, errs.ErrorOrNil()
}

// CancelAll combines cancels into one. Every constituent runs even when
// an earlier one fails or panics; errors are aggregated.
func CancelAll(cancels ...CancelFunc) CancelFunc {
	var (
		once   sync.Once
		result error
	)
	return func() error {
		once.Do(func() {
			var errs *multierror.Error
			for _, cancel := range cancels {
				if err := safeCancel(cancel); err != nil {
					errs = multierror.Append(errs, err)
				}
			}
			result = errs.ErrorOrNil()
		})
		return result
	}
}

func safeCancel(cancel CancelFunc) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("cancel panicked: %v", r)
		}
	}()
	return cancel()
}
