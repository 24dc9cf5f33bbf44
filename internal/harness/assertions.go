package harness

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/roach88/ledgerflow/internal/store"
)

// AssertionError is returned when an assertion fails. It carries the full
// trace for debugging.
type AssertionError struct {
	Type     string
	Expected string
	Actual   string
	Trace    []TraceEvent
}

func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	fmt.Fprintf(&buf, "\nFull trace:\n")
	for _, ev := range e.Trace {
		fmt.Fprintf(&buf, "  [%d] %s", ev.Seq, ev.Label())
		if ev.Code != "" {
			fmt.Fprintf(&buf, " %s", ev.Code)
		}
		buf.WriteByte('\n')
	}
	return buf.String()
}

// AssertionContext gives final_state assertions access to the store.
type AssertionContext struct {
	History *store.History
	Hashes  map[string]string // transaction id → hash
	Ctx     context.Context
}

// EvaluateAssertions runs every assertion and returns one message per
// failure.
func EvaluateAssertions(result *Result, assertions []Assertion, actx *AssertionContext) []string {
	var errs []string
	for i, a := range assertions {
		var err error
		switch a.Type {
		case AssertTraceContains:
			err = assertTraceContains(result.Trace, a)
		case AssertTraceOrder:
			err = assertTraceOrder(result.Trace, a)
		case AssertTraceCount:
			err = assertTraceCount(result.Trace, a)
		case AssertFinalState:
			err = assertFinalState(actx, a)
		default:
			err = fmt.Errorf("unknown assertion type %q", a.Type)
		}
		if err != nil {
			errs = append(errs, fmt.Sprintf("assertion %d (%s): %v", i, a.Type, err))
		}
	}
	return errs
}

// selects reports whether ev is one of the events a counts.
func (a Assertion) selects(ev TraceEvent) bool {
	if ev.Tx != a.Tx || ev.Type != a.Event {
		return false
	}
	if a.Status != "" && !strings.EqualFold(ev.Status, a.Status) {
		return false
	}
	return a.Code == "" || ev.Code == a.Code
}

func (a Assertion) describe() string {
	s := a.Tx + ":" + a.Event
	if a.Status != "" {
		s += ":" + a.Status
	}
	if a.Code != "" {
		s += " " + a.Code
	}
	return s
}

func assertTraceContains(trace []TraceEvent, a Assertion) error {
	for _, ev := range trace {
		if a.selects(ev) {
			return nil
		}
	}
	return &AssertionError{
		Type:     AssertTraceContains,
		Expected: a.describe() + " in trace",
		Actual:   "not found",
		Trace:    trace,
	}
}

// assertTraceOrder checks the labels occur in this relative order. Other
// events may come between them.
func assertTraceOrder(trace []TraceEvent, a Assertion) error {
	next := 0
	for _, ev := range trace {
		if next < len(a.Events) && ev.matches(a.Events[next]) {
			next++
		}
	}
	if next == len(a.Events) {
		return nil
	}
	return &AssertionError{
		Type:     AssertTraceOrder,
		Expected: strings.Join(a.Events, " → "),
		Actual:   fmt.Sprintf("%q not found after %s", a.Events[next], strings.Join(a.Events[:next], " → ")),
		Trace:    trace,
	}
}

func assertTraceCount(trace []TraceEvent, a Assertion) error {
	n := 0
	for _, ev := range trace {
		if a.selects(ev) {
			n++
		}
	}
	if n == a.Count {
		return nil
	}
	return &AssertionError{
		Type:     AssertTraceCount,
		Expected: fmt.Sprintf("%s exactly %d time(s)", a.describe(), a.Count),
		Actual:   fmt.Sprintf("%d time(s)", n),
		Trace:    trace,
	}
}

func assertFinalState(actx *AssertionContext, a Assertion) error {
	if actx == nil || actx.History == nil {
		return fmt.Errorf("final_state requires a history store")
	}
	hash, ok := actx.Hashes[a.Tx]
	if !ok {
		return fmt.Errorf("transaction %s was never accepted", a.Tx)
	}

	rec, err := actx.History.Get(actx.Ctx, hash)
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("transaction %s (%s) not in history", a.Tx, hash)
	}
	if err != nil {
		return fmt.Errorf("failed to read history: %w", err)
	}

	var problems []string
	if a.Phase != "" && string(rec.Phase) != a.Phase {
		problems = append(problems, fmt.Sprintf("phase: expected %s, got %s", a.Phase, rec.Phase))
	}
	if a.Status != "" && !strings.EqualFold(string(rec.LastStatus), a.Status) {
		problems = append(problems, fmt.Sprintf("last_status: expected %s, got %s", a.Status, rec.LastStatus))
	}
	if a.Code != "" && rec.FailureCode != a.Code {
		problems = append(problems, fmt.Sprintf("code: expected %s, got %q", a.Code, rec.FailureCode))
	}
	if a.Statuses != nil {
		statuses, err := actx.History.Statuses(actx.Ctx, hash)
		if err != nil {
			return fmt.Errorf("failed to read statuses: %w", err)
		}
		if len(statuses) != *a.Statuses {
			problems = append(problems, fmt.Sprintf("statuses: expected %d, got %d", *a.Statuses, len(statuses)))
		}
	}
	if len(problems) > 0 {
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: "stored record for " + a.Tx,
			Actual:   strings.Join(problems, "; "),
		}
	}
	return nil
}
