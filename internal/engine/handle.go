package engine

import (
	"context"
	"time"

	"github.com/roach88/ledgerflow/internal/correlate"
	"github.com/roach88/ledgerflow/internal/ir"
	"github.com/roach88/ledgerflow/internal/ledger"
)

// Phase is where a handle is in its lifecycle.
type Phase string

const (
	PhasePending   Phase = "pending"
	PhaseFinalized Phase = "finalized"
	PhaseFailed    Phase = "failed"
	PhaseCancelled Phase = "cancelled"
)

// Terminal reports whether no further transition can happen.
func (p Phase) Terminal() bool {
	return p != PhasePending
}

// HandleInfo is a snapshot of one tracked transaction.
type HandleInfo struct {
	Hash   string
	Seq    int64
	Sender string // empty for unsigned calls
	Call   ledger.Call

	SubmittedAt time.Time
	ResolvedAt  time.Time // zero while pending

	Phase      Phase
	LastStatus ledger.Status
	BlockHash  string

	// Payload is the success payload once finalized.
	Payload ir.Object
	// Failure is set once failed.
	Failure *correlate.Failure
}

// Handle is a live reference to a submitted transaction.
type Handle struct {
	exec *Executor
	hash string

	// Guarded by exec.mu.
	info  HandleInfo
	evict *time.Timer

	cancel context.CancelFunc
	done   chan struct{}
}

// Hash returns the transaction hash.
func (h *Handle) Hash() string {
	return h.hash
}

// Info returns a snapshot of the handle.
func (h *Handle) Info() HandleInfo {
	h.exec.mu.Lock()
	defer h.exec.mu.Unlock()
	return h.info
}

// Done is closed when the watcher has stopped, after any terminal callback
// has returned.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Cancel stops observing the transaction. See Executor.Cancel.
func (h *Handle) Cancel() {
	h.exec.cancelHandle(h)
}
