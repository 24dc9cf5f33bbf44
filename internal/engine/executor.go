package engine

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/roach88/ledgerflow/internal/correlate"
	"github.com/roach88/ledgerflow/internal/ir"
	"github.com/roach88/ledgerflow/internal/ledger"
)

// DefaultRetention is how long a resolved handle stays in the table.
const DefaultRetention = 10 * time.Minute

// Request describes one transaction to execute.
type Request struct {
	Call ledger.Call

	// Signer is required by Execute and ignored by ExecuteUnsigned.
	Signer ledger.Signer

	// Success recognizes the event that confirms the call.
	Success correlate.Predicate

	// OnReady fires at most once, on the first non-terminal notification.
	OnReady func(hash string)

	// OnFinalized and OnError are mutually exclusive; exactly one fires
	// unless the watch is cancelled first.
	OnFinalized func(hash string, payload ir.Object)
	OnError     func(hash string, f *correlate.Failure)

	// Timeout synthesizes a TIMEOUT failure when no terminal outcome
	// arrives in time. Zero waits forever.
	Timeout time.Duration
}

// HistorySink persists handle transitions. Errors are logged and never
// affect the transaction.
type HistorySink interface {
	RecordSubmitted(ctx context.Context, info HandleInfo) error
	RecordStatus(ctx context.Context, hash string, seq int64, n ledger.Notification) error
	RecordResolved(ctx context.Context, info HandleInfo) error
}

// Metrics receives executor counters.
type Metrics interface {
	TxSubmitted(call string)
	TxRejected(call string)
	TxNotification(status ledger.Status)
	TxResolved(call string, phase Phase, code correlate.Code, latency time.Duration)
}

type nopMetrics struct{}

func (nopMetrics) TxSubmitted(string) {}
func (nopMetrics) TxRejected(string) {}
func (nopMetrics) TxNotification(ledger.Status) {}
func (nopMetrics) TxResolved(string, Phase, correlate.Code, time.Duration) {}

// Executor owns the lifecycle of submitted transactions.
type Executor struct {
	client     ledger.Client
	correlator *correlate.Correlator
	logger     *slog.Logger
	clock      *Clock
	now        func() time.Time
	limiter    *rate.Limiter
	sink       HistorySink
	metrics    Metrics
	retention  time.Duration

	base     context.Context
	stopBase context.CancelFunc
	wg       sync.WaitGroup

	mu      sync.Mutex
	handles map[string]*Handle
	closed  bool
}

// Option configures an Executor.
type Option func(*Executor)

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(e *Executor) { e.logger = l }
}

// WithCorrelator replaces the default correlator, which resolves module
// errors through the executor's client.
func WithCorrelator(c *correlate.Correlator) Option {
	return func(e *Executor) { e.correlator = c }
}

// WithClock sets the sequence clock, e.g. resumed from stored history.
func WithClock(c *Clock) Option {
	return func(e *Executor) { e.clock = c }
}

// WithNow sets the wall clock used for timestamps.
func WithNow(now func() time.Time) Option {
	return func(e *Executor) { e.now = now }
}

// WithRateLimit throttles submissions. Execute waits for a token under its
// context.
func WithRateLimit(l *rate.Limiter) Option {
	return func(e *Executor) { e.limiter = l }
}

// WithHistory persists transitions to sink.
func WithHistory(sink HistorySink) Option {
	return func(e *Executor) { e.sink = sink }
}

// WithMetrics reports counters to m.
func WithMetrics(m Metrics) Option {
	return func(e *Executor) { e.metrics = m }
}

// WithRetention sets how long resolved handles stay queryable.
// Zero or negative keeps them until Close.
func WithRetention(d time.Duration) Option {
	return func(e *Executor) { e.retention = d }
}

// NewExecutor creates an Executor over client.
func NewExecutor(client ledger.Client, opts ...Option) *Executor {
	base, stop := context.WithCancel(context.Background())
	e := &Executor{
		client:    client,
		logger:    slog.Default(),
		clock:     NewClock(),
		now:       time.Now,
		metrics:   nopMetrics{},
		retention: DefaultRetention,
		base:      base,
		stopBase:  stop,
		handles:   make(map[string]*Handle),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.correlator == nil {
		e.correlator = correlate.New(client, correlate.WithLogger(e.logger))
	}
	return e
}

// Execute signs and submits req.Call and starts watching it.
//
// It returns once the ledger accepted the submission. A transport
// rejection is returned here as a *correlate.Failure with code
// SUBMISSION_REJECTED and never reaches the callbacks.
func (e *Executor) Execute(ctx context.Context, req Request) (*Handle, error) {
	if req.Signer == nil {
		return nil, &RequestError{Field: "Signer", Message: "required for signed execution"}
	}
	return e.execute(ctx, req, true)
}

// ExecuteUnsigned submits req.Call without a signature. The notification
// and callback contract is identical to Execute.
func (e *Executor) ExecuteUnsigned(ctx context.Context, req Request) (*Handle, error) {
	return e.execute(ctx, req, false)
}

func (e *Executor) execute(ctx context.Context, req Request, signed bool) (*Handle, error) {
	if err := req.Call.Validate(); err != nil {
		return nil, &RequestError{Field: "Call", Message: err.Error()}
	}
	if req.Success == nil {
		return nil, &RequestError{Field: "Success", Message: "a success predicate is required"}
	}
	if req.Timeout < 0 {
		return nil, &RequestError{Field: "Timeout", Message: "must not be negative"}
	}

	e.mu.Lock()
	closed := e.closed
	e.mu.Unlock()
	if closed {
		return nil, ErrClosed
	}

	if e.limiter != nil {
		if err := e.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limit: %w", err)
		}
	}

	name := req.Call.Name()
	var (
		watch  ledger.TxWatch
		err    error
		sender string
	)
	if signed {
		sender = req.Signer.Address()
		watch, err = e.client.Submit(ctx, req.Call, req.Signer)
	} else {
		watch, err = e.client.SubmitUnsigned(ctx, req.Call)
	}
	if err != nil {
		e.metrics.TxRejected(name)
		e.logger.Warn("submission rejected", "call", name, "sender", sender, "error", err)
		return nil, correlate.NewRejected(err)
	}

	hash := watch.Hash()
	watchCtx, cancel := context.WithCancel(e.base)
	h := &Handle{
		exec:   e,
		hash:   hash,
		cancel: cancel,
		done:   make(chan struct{}),
		info: HandleInfo{
			Hash:        hash,
			Seq:         e.clock.Next(),
			Sender:      sender,
			Call:        req.Call,
			SubmittedAt: e.now(),
			Phase:       PhasePending,
		},
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		cancel()
		watch.Close()
		return nil, ErrClosed
	}
	if old, ok := e.handles[hash]; ok {
		if !old.info.Phase.Terminal() {
			e.mu.Unlock()
			cancel()
			watch.Close()
			return nil, &DuplicateHashError{Hash: hash}
		}
		if old.evict != nil {
			old.evict.Stop()
		}
	}
	e.handles[hash] = h
	info := h.info
	e.wg.Add(1)
	e.mu.Unlock()

	e.metrics.TxSubmitted(name)
	e.record(func(ctx context.Context) error { return e.sink.RecordSubmitted(ctx, info) })
	e.logger.Info("transaction submitted", "hash", hash, "call", name, "sender", sender)

	go e.watch(watchCtx, h, watch, req)
	return h, nil
}

// watch is the single consumer of one transaction's notifications.
func (e *Executor) watch(ctx context.Context, h *Handle, w ledger.TxWatch, req Request) {
	defer e.wg.Done()
	defer close(h.done)
	defer w.Close()

	var timeout <-chan time.Time
	if req.Timeout > 0 {
		t := time.NewTimer(req.Timeout)
		defer t.Stop()
		timeout = t.C
	}

	readySent := false
	for {
		select {
		case <-ctx.Done():
			return

		case <-timeout:
			e.fail(h, req, correlate.NewTimeout(h.hash, req.Timeout))
			return

		case n, ok := <-w.C():
			if !ok {
				e.fail(h, req, correlate.NewStreamClosed(h.hash, w.Err()))
				return
			}
			if !e.observe(h, n) {
				return
			}

			out := e.correlator.Correlate(ctx, h.hash, n, req.Success)
			switch out.Kind {
			case correlate.Pending:
				if !readySent {
					readySent = true
					if req.OnReady != nil && e.stillPending(h) {
						req.OnReady(h.hash)
					}
				}
			case correlate.Matched:
				e.succeed(h, req, out.Payload)
				return
			case correlate.Failed:
				e.fail(h, req, out.Failure)
				return
			}
		}
	}
}

// observe records a notification on the handle. Returns false if the
// handle was resolved or cancelled meanwhile.
func (e *Executor) observe(h *Handle, n ledger.Notification) bool {
	e.metrics.TxNotification(n.Status)

	e.mu.Lock()
	if h.info.Phase.Terminal() {
		e.mu.Unlock()
		return false
	}
	h.info.LastStatus = n.Status
	if n.BlockHash != "" {
		h.info.BlockHash = n.BlockHash
	}
	seq := e.clock.Next()
	e.mu.Unlock()

	e.logger.Debug("transaction status", "hash", h.hash, "status", n.Status, "block", n.BlockHash, "events", len(n.Events))
	e.record(func(ctx context.Context) error { return e.sink.RecordStatus(ctx, h.hash, seq, n) })
	return true
}

// stillPending is the commit point for OnReady.
func (e *Executor) stillPending(h *Handle) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return !h.info.Phase.Terminal()
}

func (e *Executor) succeed(h *Handle, req Request, payload ir.Object) {
	info, ok := e.resolve(h, PhaseFinalized, payload, nil)
	if !ok {
		return
	}
	e.logger.Info("transaction finalized", "hash", h.hash, "call", info.Call.Name(), "block", info.BlockHash)
	if req.OnFinalized != nil {
		req.OnFinalized(h.hash, payload)
	}
}

func (e *Executor) fail(h *Handle, req Request, f *correlate.Failure) {
	info, ok := e.resolve(h, PhaseFailed, nil, f)
	if !ok {
		return
	}
	e.logger.Warn("transaction failed",
		"hash", h.hash,
		"call", info.Call.Name(),
		"code", f.Code,
		"message", f.Message,
	)
	if req.OnError != nil {
		req.OnError(h.hash, f)
	}
}

// resolve moves a pending handle to a terminal phase. It is the single
// point deciding which terminal callback, if any, may fire.
func (e *Executor) resolve(h *Handle, phase Phase, payload ir.Object, f *correlate.Failure) (HandleInfo, bool) {
	e.mu.Lock()
	if h.info.Phase.Terminal() {
		e.mu.Unlock()
		return HandleInfo{}, false
	}
	h.info.Phase = phase
	h.info.Payload = payload
	h.info.Failure = f
	h.info.ResolvedAt = e.now()
	e.scheduleEvictLocked(h)
	info := h.info
	e.mu.Unlock()

	var code correlate.Code
	if f != nil {
		code = f.Code
	}
	e.metrics.TxResolved(info.Call.Name(), phase, code, info.ResolvedAt.Sub(info.SubmittedAt))
	e.record(func(ctx context.Context) error { return e.sink.RecordResolved(ctx, info) })
	return info, true
}

func (e *Executor) scheduleEvictLocked(h *Handle) {
	if e.retention <= 0 || e.closed {
		return
	}
	h.evict = time.AfterFunc(e.retention, func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		if e.handles[h.hash] == h {
			delete(e.handles, h.hash)
		}
	})
}

func (e *Executor) record(fn func(ctx context.Context) error) {
	if e.sink == nil {
		return
	}
	// Transitions observed during Close still get written.
	if err := fn(context.WithoutCancel(e.base)); err != nil {
		e.logger.Error("history write failed", "error", err)
	}
}

// Cancel stops observing the transaction with the given hash. No terminal
// callback runs after Cancel returns. OnReady is committed once the watcher
// sees the handle pending, so an OnReady racing with Cancel on another
// goroutine may still run; nothing is waited for, which makes Cancel safe
// to call from inside any callback. Cancelling a resolved or cancelled
// handle is a no-op.
func (e *Executor) Cancel(hash string) error {
	e.mu.Lock()
	h, ok := e.handles[hash]
	e.mu.Unlock()
	if !ok {
		return ErrUnknownHandle
	}
	e.cancelHandle(h)
	return nil
}

func (e *Executor) cancelHandle(h *Handle) {
	e.mu.Lock()
	if h.info.Phase.Terminal() {
		e.mu.Unlock()
		return
	}
	h.info.Phase = PhaseCancelled
	h.info.ResolvedAt = e.now()
	e.scheduleEvictLocked(h)
	info := h.info
	e.mu.Unlock()

	h.cancel()
	e.logger.Info("transaction watch cancelled", "hash", h.hash)
	e.metrics.TxResolved(info.Call.Name(), PhaseCancelled, "", info.ResolvedAt.Sub(info.SubmittedAt))
	e.record(func(ctx context.Context) error { return e.sink.RecordResolved(ctx, info) })
}

// Get returns a snapshot of the handle for hash.
func (e *Executor) Get(hash string) (HandleInfo, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	h, ok := e.handles[hash]
	if !ok {
		return HandleInfo{}, false
	}
	return h.info, true
}

// IsPending reports whether hash is tracked and not yet resolved.
func (e *Executor) IsPending(hash string) bool {
	info, ok := e.Get(hash)
	return ok && !info.Phase.Terminal()
}

// Pending returns unresolved handles in submission order.
func (e *Executor) Pending() []HandleInfo {
	return e.snapshot(func(info HandleInfo) bool { return !info.Phase.Terminal() })
}

// History returns every tracked handle in submission order.
func (e *Executor) History() []HandleInfo {
	return e.snapshot(func(HandleInfo) bool { return true })
}

func (e *Executor) snapshot(keep func(HandleInfo) bool) []HandleInfo {
	e.mu.Lock()
	out := make([]HandleInfo, 0, len(e.handles))
	for _, h := range e.handles {
		if keep(h.info) {
			out = append(out, h.info)
		}
	}
	e.mu.Unlock()

	slices.SortFunc(out, func(a, b HandleInfo) int {
		switch {
		case a.Seq < b.Seq:
			return -1
		case a.Seq > b.Seq:
			return 1
		}
		return 0
	})
	return out
}

// Close cancels every pending watch and waits for watchers to exit.
func (e *Executor) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	pending := make([]*Handle, 0, len(e.handles))
	for _, h := range e.handles {
		pending = append(pending, h)
		if h.evict != nil {
			h.evict.Stop()
		}
	}
	e.mu.Unlock()

	for _, h := range pending {
		e.cancelHandle(h)
	}
	e.stopBase()
	e.wg.Wait()
}
