package harness

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func transfer(id string, signer int, notifications ...NotificationStep) TxStep {
	return TxStep{
		ID:            id,
		Call:          "balances.transfer",
		Args:          map[string]any{"dest": "bob", "amount": 100},
		Signer:        signer,
		Success:       "balances.Transfer",
		Notifications: notifications,
	}
}

func inBlockTransfer(to string) NotificationStep {
	return NotificationStep{
		Status: "inBlock",
		Block:  "0xb10c",
		Events: []EventStep{{
			Section: "balances",
			Method:  "Transfer",
			Data:    map[string]any{"from": "alice", "to": to, "amount": 100},
		}},
	}
}

func types(trace []TraceEvent) []string {
	out := make([]string, len(trace))
	for i, ev := range trace {
		out[i] = ev.Label()
	}
	return out
}

func TestRun_Finalized(t *testing.T) {
	step := transfer("t1", 1, NotificationStep{Status: "ready"}, inBlockTransfer("bob"))
	step.Expect = &ExpectClause{Outcome: OutcomeFinalized, Payload: map[string]any{"to": "bob"}}

	result, err := Run(&Scenario{
		Name:         "finalized",
		Description:  "d",
		Transactions: []TxStep{step},
		Assertions:   []Assertion{{Type: AssertTraceCount, Tx: "t1", Event: EventFinalized, Count: 1}},
	})
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)

	assert.Equal(t, []string{
		"t1:submitted",
		"t1:status:ready",
		"t1:ready",
		"t1:status:inBlock",
		"t1:resolved:finalized",
		"t1:finalized",
	}, types(result.Trace))
	assert.Equal(t, "0x0000000000000000000000000000000000000000000000000000000000000001", result.Hashes["t1"])

	for i, ev := range result.Trace {
		assert.Equal(t, int64(i+1), ev.Seq)
	}
}

func TestRun_ExpectMismatchFailsResult(t *testing.T) {
	step := transfer("t1", 1, inBlockTransfer("bob"))
	step.Expect = &ExpectClause{Outcome: OutcomeFailed, Code: "DISPATCH_FAILED", Payload: map[string]any{"to": "carol"}}

	result, err := Run(&Scenario{
		Name:         "mismatch",
		Description:  "d",
		Transactions: []TxStep{step},
		Assertions:   []Assertion{{Type: AssertTraceCount, Tx: "t1", Event: EventError, Count: 1}},
	})
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 4)
	assert.Contains(t, result.Errors[0], "expected outcome failed, got finalized")
	assert.Contains(t, result.Errors[1], "expected code DISPATCH_FAILED")
	assert.Contains(t, result.Errors[2], `expected payload containing {"to":"carol"}`)
	assert.Contains(t, result.Errors[3], "trace_count")
}

func TestRun_UnsignedSubmission(t *testing.T) {
	step := transfer("t1", 0, inBlockTransfer("bob"))
	step.Expect = &ExpectClause{Outcome: OutcomeFinalized}

	result, err := Run(&Scenario{
		Name:         "unsigned",
		Description:  "d",
		Transactions: []TxStep{step},
		Assertions:   []Assertion{{Type: AssertFinalState, Tx: "t1", Phase: "finalized"}},
	})
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
}

func TestRun_RejectedHasNoHash(t *testing.T) {
	step := transfer("t1", 1)
	step.Reject = "pool full"

	result, err := Run(&Scenario{
		Name:         "rejected",
		Description:  "d",
		Transactions: []TxStep{step},
		Assertions:   []Assertion{{Type: AssertFinalState, Tx: "t1", Phase: "failed"}},
	})
	require.NoError(t, err)
	assert.Empty(t, result.Hashes)
	assert.Equal(t, []string{"t1:rejected"}, types(result.Trace))
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "t1 was never accepted")
}

func TestRun_InvalidStart(t *testing.T) {
	_, err := Run(&Scenario{Name: "s", Start: "yesterday"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid start")
}
