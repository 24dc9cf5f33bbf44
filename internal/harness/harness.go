package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/roach88/ledgerflow/internal/correlate"
	"github.com/roach88/ledgerflow/internal/engine"
	"github.com/roach88/ledgerflow/internal/ir"
	"github.com/roach88/ledgerflow/internal/ledger"
	"github.com/roach88/ledgerflow/internal/ledger/ledgertest"
	"github.com/roach88/ledgerflow/internal/store"
	"github.com/roach88/ledgerflow/internal/testutil"
)

// resolveWait bounds how long one transaction may take to reach its
// outcome before the run is abandoned.
const resolveWait = 5 * time.Second

// Harness drives one scenario: a fake ledger, a real executor and an
// in-memory history store.
type Harness struct {
	client  *ledgertest.Client
	exec    *engine.Executor
	history *store.History
	clock   *testutil.SeqClock
	logger  *slog.Logger

	mu      sync.Mutex
	current string            // id of the transaction being submitted
	ids     map[string]string // hash → transaction id
	result  *Result
}

// Run executes a scenario and returns its result.
//
// Execution flow:
// 1. Create a fresh in-memory database and fake ledger
// 2. Register module error metadata
// 3. Submit each transaction and feed its notifications, waiting for the outcome
// 4. Check expect clauses, then evaluate assertions
//
// An error is returned only when the scenario cannot be run; failed
// expectations are reported in the Result.
func Run(scenario *Scenario) (*Result, error) {
	start, err := scenario.start()
	if err != nil {
		return nil, fmt.Errorf("invalid start: %w", err)
	}
	wall := testutil.NewWallClock(start, time.Second)

	st, err := store.Open(":memory:", store.WithNow(wall.Now))
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	client := ledgertest.New()
	for _, m := range scenario.ModuleErrors {
		client.RegisterError(
			ledger.ModuleError{Index: m.Index, Error: m.Error},
			ledger.ErrorMeta{Section: m.Section, Name: m.Name, Docs: m.Docs},
		)
	}

	h := &Harness{
		client:  client,
		history: st.History(),
		clock:   testutil.NewSeqClock(),
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		ids:     make(map[string]string),
		result:  NewResult(),
	}
	h.exec = engine.NewExecutor(client,
		engine.WithLogger(h.logger),
		engine.WithNow(wall.Now),
		engine.WithHistory(&recorder{h: h, next: h.history}),
		engine.WithRetention(0),
	)
	defer h.exec.Close()

	ctx := context.Background()
	for _, step := range scenario.Transactions {
		if err := h.runTx(ctx, step); err != nil {
			return nil, err
		}
	}

	actx := &AssertionContext{History: h.history, Hashes: h.result.Hashes, Ctx: ctx}
	for _, msg := range EvaluateAssertions(h.result, scenario.Assertions, actx) {
		h.result.AddError(msg)
	}
	return h.result, nil
}

func (h *Harness) runTx(ctx context.Context, step TxStep) error {
	req, err := buildRequest(step)
	if err != nil {
		return fmt.Errorf("transaction %s: %w", step.ID, err)
	}
	notifications, err := buildNotifications(step.Notifications)
	if err != nil {
		return fmt.Errorf("transaction %s: %w", step.ID, err)
	}

	switch {
	case step.Reject != "":
		h.client.RejectNext(errors.New(step.Reject))
	case !step.HoldOpen:
		h.client.Script(notifications...)
	}

	h.mu.Lock()
	h.current = step.ID
	h.mu.Unlock()

	id := step.ID
	req.OnReady = func(hash string) {
		h.add(TraceEvent{Tx: id, Type: EventReady})
		if step.CancelOnReady {
			if err := h.exec.Cancel(hash); err != nil {
				h.logger.Error("cancel failed", "tx", id, "error", err)
			}
		}
	}
	req.OnFinalized = func(hash string, payload ir.Object) {
		h.add(TraceEvent{Tx: id, Type: EventFinalized, Payload: payload})
	}
	req.OnError = func(hash string, f *correlate.Failure) {
		h.add(TraceEvent{Tx: id, Type: EventError, Code: string(f.Code), Message: f.Message})
	}

	var handle *engine.Handle
	if req.Signer == nil {
		handle, err = h.exec.ExecuteUnsigned(ctx, req)
	} else {
		handle, err = h.exec.Execute(ctx, req)
	}
	if err != nil {
		var f *correlate.Failure
		if !errors.As(err, &f) {
			return fmt.Errorf("transaction %s: %w", id, err)
		}
		h.add(TraceEvent{Tx: id, Type: EventRejected, Code: string(f.Code), Message: f.Message})
		h.checkExpect(step, OutcomeRejected, f, nil)
		return nil
	}

	if step.HoldOpen {
		tx := h.client.Tx(handle.Hash())
		for _, n := range notifications {
			if !tx.Send(n) {
				break
			}
		}
	}

	select {
	case <-handle.Done():
	case <-time.After(resolveWait):
		handle.Cancel()
		return fmt.Errorf("transaction %s did not resolve within %s", id, resolveWait)
	}

	info := handle.Info()
	h.checkExpect(step, string(info.Phase), info.Failure, info.Payload)
	return nil
}

func (h *Harness) add(ev TraceEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	ev.Seq = h.clock.Next()
	h.result.Trace = append(h.result.Trace, ev)
}

func (h *Harness) fail(msg string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.result.AddError(msg)
}

func (h *Harness) txID(hash string) string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.ids[hash]
}

func (h *Harness) checkExpect(step TxStep, outcome string, f *correlate.Failure, payload ir.Object) {
	exp := step.Expect
	if exp == nil {
		return
	}
	if exp.Outcome != outcome {
		h.fail(fmt.Sprintf("transaction %s: expected outcome %s, got %s", step.ID, exp.Outcome, outcome))
	}

	var code, message string
	if f != nil {
		code, message = string(f.Code), f.Message
	}
	if exp.Code != "" && exp.Code != code {
		h.fail(fmt.Sprintf("transaction %s: expected code %s, got %q", step.ID, exp.Code, code))
	}
	if exp.Message != "" && exp.Message != message {
		h.fail(fmt.Sprintf("transaction %s: expected message %q, got %q", step.ID, exp.Message, message))
	}

	if exp.Payload != nil {
		want, err := toObject(exp.Payload)
		if err != nil {
			h.fail(fmt.Sprintf("transaction %s: expect.payload: %v", step.ID, err))
			return
		}
		if !containsFields(payload, want) {
			h.fail(fmt.Sprintf("transaction %s: expected payload containing %s, got %s",
				step.ID, ir.Render(want), ir.Render(payload)))
		}
	}
}

// recorder traces every history transition before passing it on to the
// real store.
type recorder struct {
	h    *Harness
	next engine.HistorySink
}

func (r *recorder) RecordSubmitted(ctx context.Context, info engine.HandleInfo) error {
	r.h.mu.Lock()
	id := r.h.current
	r.h.ids[info.Hash] = id
	r.h.result.Hashes[id] = info.Hash
	r.h.mu.Unlock()

	r.h.add(TraceEvent{Tx: id, Type: EventSubmitted, Hash: info.Hash})
	return r.next.RecordSubmitted(ctx, info)
}

func (r *recorder) RecordStatus(ctx context.Context, hash string, seq int64, n ledger.Notification) error {
	r.h.add(TraceEvent{Tx: r.h.txID(hash), Type: EventStatus, Status: string(n.Status), Message: n.Err})
	return r.next.RecordStatus(ctx, hash, seq, n)
}

func (r *recorder) RecordResolved(ctx context.Context, info engine.HandleInfo) error {
	ev := TraceEvent{Tx: r.h.txID(info.Hash), Type: EventResolved, Status: string(info.Phase)}
	if info.Failure != nil {
		ev.Code = string(info.Failure.Code)
	}
	r.h.add(ev)
	return r.next.RecordResolved(ctx, info)
}

func buildRequest(step TxStep) (engine.Request, error) {
	section, method, err := ledger.ParseCallName(step.Call)
	if err != nil {
		return engine.Request{}, err
	}
	args, err := toObject(step.Args)
	if err != nil {
		return engine.Request{}, fmt.Errorf("args: %w", err)
	}

	evSection, evMethod, err := ledger.ParseCallName(step.Success)
	if err != nil {
		return engine.Request{}, fmt.Errorf("success: %w", err)
	}
	success := correlate.Event(evSection, evMethod)
	if step.Where != nil {
		where, err := toObject(step.Where)
		if err != nil {
			return engine.Request{}, fmt.Errorf("where: %w", err)
		}
		success = correlate.EventWhere(evSection, evMethod, where)
	}

	req := engine.Request{
		Call:    ledger.Call{Section: section, Method: method, Args: args},
		Success: success,
		Timeout: step.Timeout,
	}
	if step.Signer > 0 {
		req.Signer = ledgertest.Signer(byte(step.Signer))
	}
	return req, nil
}

func buildNotifications(steps []NotificationStep) ([]ledger.Notification, error) {
	out := make([]ledger.Notification, len(steps))
	for i, s := range steps {
		status, err := ledger.ParseStatus(s.Status)
		if err != nil {
			return nil, fmt.Errorf("notifications[%d]: %w", i, err)
		}
		n := ledger.Notification{Status: status, BlockHash: s.Block, Err: s.Error}
		for j, ev := range s.Events {
			data, err := toObject(ev.Data)
			if err != nil {
				return nil, fmt.Errorf("notifications[%d].events[%d]: %w", i, j, err)
			}
			n.Events = append(n.Events, ledger.Event{Section: ev.Section, Method: ev.Method, Data: data})
		}
		out[i] = n
	}
	return out, nil
}

// toObject converts decoded YAML into an ir.Object. nil becomes empty.
func toObject(m map[string]any) (ir.Object, error) {
	if m == nil {
		return ir.Object{}, nil
	}
	v, err := ir.FromAny(m)
	if err != nil {
		return nil, err
	}
	return v.(ir.Object), nil
}

// containsFields reports whether every field of want is in got with an
// equal value.
func containsFields(got, want ir.Object) bool {
	for k, w := range want {
		g, ok := got[k]
		if !ok || !ir.Equal(g, w) {
			return false
		}
	}
	return true
}
