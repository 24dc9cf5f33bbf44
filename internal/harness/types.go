package harness

import "github.com/roach88/ledgerflow/internal/ir"

// Trace event types.
const (
	EventSubmitted = "submitted"
	EventRejected  = "rejected"
	EventStatus    = "status"
	EventReady     = "ready"
	EventFinalized = "finalized"
	EventError     = "error"
	EventResolved  = "resolved"
)

// TraceEvent is one thing observed while running a scenario: a history
// transition written by the executor or a callback it fired.
type TraceEvent struct {
	Seq     int64     `json:"seq"`
	Tx      string    `json:"tx"`
	Type    string    `json:"type"`
	Hash    string    `json:"hash,omitempty"`
	Status  string    `json:"status,omitempty"`
	Code    string    `json:"code,omitempty"`
	Message string    `json:"message,omitempty"`
	Payload ir.Object `json:"payload,omitempty"`
}

// Label renders "tx:type", or "tx:type:status" when the event has a status.
func (e TraceEvent) Label() string {
	if e.Status == "" {
		return e.Tx + ":" + e.Type
	}
	return e.Tx + ":" + e.Type + ":" + e.Status
}

// matches reports whether label names this event. "t1:status" matches any
// status event of t1; "t1:status:inBlock" only the inBlock one.
func (e TraceEvent) matches(label string) bool {
	return label == e.Tx+":"+e.Type || label == e.Label()
}

// Result is the outcome of a scenario run.
type Result struct {
	// Pass is true when every expect clause and assertion held.
	Pass bool `json:"pass"`

	Trace  []TraceEvent `json:"trace"`
	Errors []string     `json:"errors,omitempty"`

	// Hashes maps transaction ids to the hash the ledger assigned.
	// Rejected transactions have none.
	Hashes map[string]string `json:"hashes"`
}

// NewResult creates a passing, empty result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
		Hashes: make(map[string]string),
	}
}

// AddError records a failure and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}
