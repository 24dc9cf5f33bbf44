package harness

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/roach88/ledgerflow/internal/ir"
)

// TestScenarios runs every scenario under testdata/scenarios and compares
// its trace with the golden file of the same name.
func TestScenarios(t *testing.T) {
	defer goleak.VerifyNone(t)

	scenarios, err := LoadScenarios("testdata/scenarios")
	require.NoError(t, err)
	require.NotEmpty(t, scenarios)

	for _, s := range scenarios {
		s := s
		t.Run(s.Name, func(t *testing.T) {
			result, err := RunWithGolden(t, s)
			require.NoError(t, err)
			assert.True(t, result.Pass, "errors: %v", result.Errors)
		})
	}
}

func TestTraceSnapshot_CanonicalMapOmitsEmptyFields(t *testing.T) {
	snap := TraceSnapshot{
		ScenarioName: "s",
		Trace: []TraceEvent{
			{Seq: 1, Tx: "t1", Type: EventReady},
			{Seq: 2, Tx: "t1", Type: EventFinalized, Payload: ir.Obj(ir.O("amount", ir.Int(5)))},
		},
	}

	out, err := ir.MarshalCanonical(snap.toCanonicalMap())
	require.NoError(t, err)
	assert.Equal(t,
		`{"scenario_name":"s","trace":[{"seq":1,"tx":"t1","type":"ready"},{"payload":{"amount":5},"seq":2,"tx":"t1","type":"finalized"}]}`,
		string(out))
}

func TestRun_IsDeterministic(t *testing.T) {
	s, err := LoadScenario("testdata/scenarios/dispatch_failure.yaml")
	require.NoError(t, err)

	first, err := Run(s)
	require.NoError(t, err)
	second, err := Run(s)
	require.NoError(t, err)

	a, err := ir.MarshalCanonical((&TraceSnapshot{ScenarioName: s.Name, Trace: first.Trace}).toCanonicalMap())
	require.NoError(t, err)
	b, err := ir.MarshalCanonical((&TraceSnapshot{ScenarioName: s.Name, Trace: second.Trace}).toCanonicalMap())
	require.NoError(t, err)
	assert.Equal(t, string(a), string(b))
	assert.Equal(t, first.Hashes, second.Hashes)
}
