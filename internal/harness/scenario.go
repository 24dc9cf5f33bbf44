package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/ledgerflow/internal/ledger"
)

// Scenario is one scripted run of the executor.
type Scenario struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`

	// Start is the RFC 3339 wall clock the run begins at.
	// Default 2024-01-01T00:00:00Z.
	Start string `yaml:"start,omitempty"`

	// ModuleErrors are the runtime metadata entries the fake ledger
	// resolves dispatch errors against.
	ModuleErrors []ModuleErrorStep `yaml:"module_errors,omitempty"`

	// Transactions run in order, each to its terminal outcome.
	Transactions []TxStep `yaml:"transactions"`

	Assertions []Assertion `yaml:"assertions"`
}

// ModuleErrorStep registers one metadata entry.
type ModuleErrorStep struct {
	Index   uint32 `yaml:"index"`
	Error   uint32 `yaml:"error"`
	Section string `yaml:"section"`
	Name    string `yaml:"name"`
	Docs    string `yaml:"docs,omitempty"`
}

// TxStep submits one transaction and feeds it notifications.
type TxStep struct {
	// ID names the transaction in assertions and the trace.
	ID   string         `yaml:"id"`
	Call string         `yaml:"call"`
	Args map[string]any `yaml:"args"`

	// Signer picks a deterministic key. 0 submits unsigned.
	Signer int `yaml:"signer"`

	// Success is the confirming event as section.Method. Where narrows it
	// to events whose data contains these fields.
	Success string         `yaml:"success"`
	Where   map[string]any `yaml:"where,omitempty"`

	// Reject makes the transport refuse the submission with this message.
	Reject string `yaml:"reject,omitempty"`

	Notifications []NotificationStep `yaml:"notifications,omitempty"`

	HoldOpen      bool          `yaml:"hold_open,omitempty"`
	Timeout       time.Duration `yaml:"timeout,omitempty"`
	CancelOnReady bool          `yaml:"cancel_on_ready,omitempty"`

	Expect *ExpectClause `yaml:"expect,omitempty"`
}

// NotificationStep is one status update from the ledger.
type NotificationStep struct {
	Status string      `yaml:"status"`
	Block  string      `yaml:"block,omitempty"`
	Error  string      `yaml:"error,omitempty"`
	Events []EventStep `yaml:"events,omitempty"`
}

// EventStep is one event inside an included block.
type EventStep struct {
	Section string         `yaml:"section"`
	Method  string         `yaml:"method"`
	Data    map[string]any `yaml:"data,omitempty"`
}

// ExpectClause checks how a transaction ended.
type ExpectClause struct {
	// Outcome is finalized, failed, cancelled or rejected.
	Outcome string `yaml:"outcome"`

	// Code and Message match the failure exactly.
	Code    string `yaml:"code,omitempty"`
	Message string `yaml:"message,omitempty"`

	// Payload is a subset match against the success payload.
	Payload map[string]any `yaml:"payload,omitempty"`
}

// Outcomes a transaction can end in.
const (
	OutcomeFinalized = "finalized"
	OutcomeFailed    = "failed"
	OutcomeCancelled = "cancelled"
	OutcomeRejected  = "rejected"
)

// Assertion validates the trace or the stored history.
type Assertion struct {
	// Type is one of trace_contains, trace_order, trace_count, final_state.
	Type string `yaml:"type"`

	// Tx is the transaction id (all types except trace_order).
	Tx string `yaml:"tx,omitempty"`

	// Event is the trace event type (trace_contains, trace_count).
	Event string `yaml:"event,omitempty"`

	// Status narrows status and resolved events; for final_state it is the
	// stored last status.
	Status string `yaml:"status,omitempty"`

	// Code narrows by failure code; for final_state it is the stored code.
	Code string `yaml:"code,omitempty"`

	// Count is the exact number of occurrences (trace_count).
	Count int `yaml:"count,omitempty"`

	// Events are labels in expected order (trace_order).
	Events []string `yaml:"events,omitempty"`

	// Phase and Statuses check the stored record (final_state).
	Phase    string `yaml:"phase,omitempty"`
	Statuses *int   `yaml:"statuses,omitempty"`
}

// Assertion type constants.
const (
	AssertTraceContains = "trace_contains"
	AssertTraceOrder    = "trace_order"
	AssertTraceCount    = "trace_count"
	AssertFinalState    = "final_state"
)

var defaultStart = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

var traceEventTypes = map[string]bool{
	EventSubmitted: true, EventRejected: true, EventStatus: true,
	EventReady: true, EventFinalized: true, EventError: true, EventResolved: true,
}

// LoadScenario reads and validates a scenario YAML file. Unknown fields
// are rejected so typos fail loudly.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario decodes and validates a scenario.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// LoadScenarios loads every *.yaml file in dir, sorted by file name.
func LoadScenarios(dir string) ([]*Scenario, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "*.yaml"))
	if err != nil {
		return nil, err
	}
	sort.Strings(paths)

	scenarios := make([]*Scenario, 0, len(paths))
	for _, path := range paths {
		s, err := LoadScenario(path)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
		}
		scenarios = append(scenarios, s)
	}
	return scenarios, nil
}

func (s *Scenario) start() (time.Time, error) {
	if s.Start == "" {
		return defaultStart, nil
	}
	return time.Parse(time.RFC3339, s.Start)
}

func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if _, err := s.start(); err != nil {
		return fmt.Errorf("start: %w", err)
	}
	if len(s.Transactions) == 0 {
		return fmt.Errorf("transactions list is required and must be non-empty")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	for i, m := range s.ModuleErrors {
		if m.Section == "" || m.Name == "" {
			return fmt.Errorf("module_errors[%d]: section and name are required", i)
		}
	}

	ids := make(map[string]bool, len(s.Transactions))
	for i, tx := range s.Transactions {
		if err := validateTx(tx); err != nil {
			return fmt.Errorf("transactions[%d]: %w", i, err)
		}
		if ids[tx.ID] {
			return fmt.Errorf("transactions[%d]: duplicate id %q", i, tx.ID)
		}
		ids[tx.ID] = true
	}

	for i, a := range s.Assertions {
		a := a
		if err := validateAssertion(i, &a, ids); err != nil {
			return err
		}
	}
	return nil
}

func validateTx(tx TxStep) error {
	if tx.ID == "" {
		return fmt.Errorf("id is required")
	}
	if _, _, err := ledger.ParseCallName(tx.Call); err != nil {
		return fmt.Errorf("call: %w", err)
	}
	if _, _, err := ledger.ParseCallName(tx.Success); err != nil {
		return fmt.Errorf("success: %w", err)
	}
	if tx.Signer < 0 || tx.Signer > 255 {
		return fmt.Errorf("signer must be between 0 and 255, got %d", tx.Signer)
	}
	if tx.Timeout < 0 {
		return fmt.Errorf("timeout must not be negative")
	}
	if tx.Reject != "" && (len(tx.Notifications) > 0 || tx.HoldOpen || tx.CancelOnReady) {
		return fmt.Errorf("a rejected transaction takes no notifications")
	}
	if tx.HoldOpen && tx.Timeout == 0 && !tx.CancelOnReady {
		return fmt.Errorf("hold_open needs a timeout or cancel_on_ready to end")
	}
	for j, n := range tx.Notifications {
		if _, err := ledger.ParseStatus(n.Status); err != nil {
			return fmt.Errorf("notifications[%d]: %w", j, err)
		}
		for k, ev := range n.Events {
			if ev.Section == "" || ev.Method == "" {
				return fmt.Errorf("notifications[%d].events[%d]: section and method are required", j, k)
			}
		}
	}
	if tx.Expect != nil {
		switch tx.Expect.Outcome {
		case OutcomeFinalized, OutcomeFailed, OutcomeCancelled, OutcomeRejected:
		case "":
			return fmt.Errorf("expect: outcome is required")
		default:
			return fmt.Errorf("expect: unknown outcome %q", tx.Expect.Outcome)
		}
	}
	return nil
}

func validateAssertion(index int, a *Assertion, ids map[string]bool) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}
	if a.Type != AssertTraceOrder && !ids[a.Tx] {
		return fmt.Errorf("assertions[%d]: unknown transaction %q", index, a.Tx)
	}

	switch a.Type {
	case AssertTraceContains:
		if !traceEventTypes[a.Event] {
			return fmt.Errorf("assertions[%d]: unknown event %q for trace_contains", index, a.Event)
		}
	case AssertTraceOrder:
		if len(a.Events) == 0 {
			return fmt.Errorf("assertions[%d]: events list is required for trace_order", index)
		}
	case AssertTraceCount:
		if !traceEventTypes[a.Event] {
			return fmt.Errorf("assertions[%d]: unknown event %q for trace_count", index, a.Event)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for trace_count", index)
		}
	case AssertFinalState:
		if a.Phase == "" && a.Status == "" && a.Code == "" && a.Statuses == nil {
			return fmt.Errorf("assertions[%d]: final_state needs phase, status, code or statuses", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
