package harness

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var sampleTrace = []TraceEvent{
	{Seq: 1, Tx: "t1", Type: EventSubmitted, Hash: "0x01"},
	{Seq: 2, Tx: "t1", Type: EventStatus, Status: "ready"},
	{Seq: 3, Tx: "t1", Type: EventReady},
	{Seq: 4, Tx: "t1", Type: EventStatus, Status: "ready"},
	{Seq: 5, Tx: "t1", Type: EventStatus, Status: "inBlock"},
	{Seq: 6, Tx: "t1", Type: EventResolved, Status: "failed", Code: "DISPATCH_FAILED"},
	{Seq: 7, Tx: "t1", Type: EventError, Code: "DISPATCH_FAILED", Message: "assets.InsufficientBalance"},
}

func TestAssertTraceContains(t *testing.T) {
	assert.NoError(t, assertTraceContains(sampleTrace, Assertion{Tx: "t1", Event: EventStatus, Status: "InBlock"}))
	assert.NoError(t, assertTraceContains(sampleTrace, Assertion{Tx: "t1", Event: EventError, Code: "DISPATCH_FAILED"}))

	err := assertTraceContains(sampleTrace, Assertion{Tx: "t1", Event: EventError, Code: "TIMEOUT"})
	require.Error(t, err)
	var aerr *AssertionError
	require.ErrorAs(t, err, &aerr)
	assert.Equal(t, "t1:error TIMEOUT in trace", aerr.Expected)
	assert.Contains(t, err.Error(), "[6] t1:resolved:failed DISPATCH_FAILED")

	assert.Error(t, assertTraceContains(sampleTrace, Assertion{Tx: "t2", Event: EventReady}))
}

func TestAssertTraceCount(t *testing.T) {
	assert.NoError(t, assertTraceCount(sampleTrace, Assertion{Tx: "t1", Event: EventStatus, Status: "ready", Count: 2}))
	assert.NoError(t, assertTraceCount(sampleTrace, Assertion{Tx: "t1", Event: EventReady, Count: 1}))
	assert.NoError(t, assertTraceCount(sampleTrace, Assertion{Tx: "t1", Event: EventFinalized, Count: 0}))

	err := assertTraceCount(sampleTrace, Assertion{Tx: "t1", Event: EventStatus, Count: 1})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Actual: 3 time(s)")
}

func TestAssertTraceOrder(t *testing.T) {
	ok := Assertion{Events: []string{"t1:submitted", "t1:ready", "t1:status:inBlock", "t1:error"}}
	assert.NoError(t, assertTraceOrder(sampleTrace, ok))

	// A bare type matches any status.
	assert.NoError(t, assertTraceOrder(sampleTrace, Assertion{Events: []string{"t1:status", "t1:resolved"}}))

	err := assertTraceOrder(sampleTrace, Assertion{Events: []string{"t1:error", "t1:ready"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `"t1:ready" not found after t1:error`)
}

func TestEvaluateAssertions(t *testing.T) {
	result := &Result{Trace: sampleTrace}
	errs := EvaluateAssertions(result, []Assertion{
		{Type: AssertTraceCount, Tx: "t1", Event: EventReady, Count: 1},
		{Type: AssertTraceCount, Tx: "t1", Event: EventReady, Count: 2},
		{Type: AssertFinalState, Tx: "t1", Phase: "failed"},
		{Type: "trace_sum"},
	}, nil)

	require.Len(t, errs, 3)
	assert.Contains(t, errs[0], "assertion 1 (trace_count)")
	assert.Contains(t, errs[1], "final_state requires a history store")
	assert.Contains(t, errs[2], `unknown assertion type "trace_sum"`)
}

func TestAssertFinalState(t *testing.T) {
	s, err := ParseScenario([]byte(`
name: final
description: "stored record"
transactions:
  - id: t1
    call: balances.transfer
    args: { dest: bob, amount: 100 }
    signer: 1
    success: balances.Transfer
    notifications:
      - { status: ready }
      - status: inBlock
        events:
          - { section: balances, method: Transfer, data: { to: bob } }
assertions:
  - { type: final_state, tx: t1, phase: finalized, status: inBlock, statuses: 2 }
  - { type: final_state, tx: t1, phase: failed, code: TIMEOUT, statuses: 5 }
`))
	require.NoError(t, err)

	result, err := Run(s)
	require.NoError(t, err)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "phase: expected failed, got finalized")
	assert.Contains(t, result.Errors[0], `code: expected TIMEOUT, got ""`)
	assert.Contains(t, result.Errors[0], "statuses: expected 5, got 2")

	actx := &AssertionContext{Hashes: map[string]string{}, Ctx: context.Background()}
	assert.Error(t, assertFinalState(actx, Assertion{Tx: "t1", Phase: "failed"}))
}
