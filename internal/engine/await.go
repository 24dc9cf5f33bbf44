package engine

import (
	"context"

	"github.com/roach88/ledgerflow/internal/correlate"
	"github.com/roach88/ledgerflow/internal/ir"
)

// Result is the unified outcome of a transaction: Err is nil on success,
// a *correlate.Failure on failure, ErrCancelled or a context error when
// the caller stopped waiting.
type Result struct {
	Hash    string
	Payload ir.Object
	Err     error
}

// OK reports success.
func (r Result) OK() bool {
	return r.Err == nil
}

// Failure returns the transaction failure, if Err is one.
func (r Result) Failure() *correlate.Failure {
	f, _ := r.Err.(*correlate.Failure)
	return f
}

// Await executes req and blocks until it resolves. Callbacks already set
// on req still fire before Await returns. If ctx ends first the watch is
// cancelled and ctx.Err() is returned.
func (e *Executor) Await(ctx context.Context, req Request) Result {
	return e.await(ctx, req, func(ctx context.Context, r Request) (*Handle, error) {
		return e.Execute(ctx, r)
	})
}

// AwaitUnsigned is Await for unsigned calls.
func (e *Executor) AwaitUnsigned(ctx context.Context, req Request) Result {
	return e.await(ctx, req, func(ctx context.Context, r Request) (*Handle, error) {
		return e.ExecuteUnsigned(ctx, r)
	})
}

func (e *Executor) await(ctx context.Context, req Request, exec func(context.Context, Request) (*Handle, error)) Result {
	results := make(chan Result, 1)

	onFinalized, onError := req.OnFinalized, req.OnError
	req.OnFinalized = func(hash string, payload ir.Object) {
		if onFinalized != nil {
			onFinalized(hash, payload)
		}
		results <- Result{Hash: hash, Payload: payload}
	}
	req.OnError = func(hash string, f *correlate.Failure) {
		if onError != nil {
			onError(hash, f)
		}
		results <- Result{Hash: hash, Err: f}
	}

	h, err := exec(ctx, req)
	if err != nil {
		return Result{Err: err}
	}

	select {
	case r := <-results:
		return r
	case <-h.Done():
		// The terminal callback runs before Done closes.
		select {
		case r := <-results:
			return r
		default:
			return Result{Hash: h.Hash(), Err: ErrCancelled}
		}
	case <-ctx.Done():
		h.Cancel()
		<-h.Done()
		select {
		case r := <-results:
			return r
		default:
			return Result{Hash: h.Hash(), Err: ctx.Err()}
		}
	}
}
