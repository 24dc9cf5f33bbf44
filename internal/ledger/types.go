package ledger

import (
	"fmt"
	"strings"

	"github.com/roach88/ledgerflow/internal/ir"
)

// Status is the lifecycle tag carried by a Notification.
type Status string

// Status values follow the node's transaction pool vocabulary.
const (
	StatusFuture          Status = "future"
	StatusReady           Status = "ready"
	StatusBroadcast       Status = "broadcast"
	StatusInBlock         Status = "inBlock"
	StatusRetracted       Status = "retracted"
	StatusFinalityTimeout Status = "finalityTimeout"
	StatusFinalized       Status = "finalized"
	StatusUsurped         Status = "usurped"
	StatusDropped         Status = "dropped"
	StatusInvalid         Status = "invalid"
	StatusError           Status = "error"
)

var knownStatuses = map[Status]bool{
	StatusFuture: true, StatusReady: true, StatusBroadcast: true,
	StatusInBlock: true, StatusRetracted: true, StatusFinalityTimeout: true,
	StatusFinalized: true, StatusUsurped: true, StatusDropped: true,
	StatusInvalid: true, StatusError: true,
}

// ParseStatus accepts the tag case-insensitively ("InBlock", "inBlock").
func ParseStatus(s string) (Status, error) {
	for st := range knownStatuses {
		if strings.EqualFold(string(st), s) {
			return st, nil
		}
	}
	return "", fmt.Errorf("unknown transaction status %q", s)
}

// IsFailure reports statuses after which the transaction can never be
// included.
func (s Status) IsFailure() bool {
	switch s {
	case StatusDropped, StatusInvalid, StatusUsurped, StatusFinalityTimeout, StatusError:
		return true
	}
	return false
}

// IsIncluded reports statuses that carry the block's events for the
// transaction.
func (s Status) IsIncluded() bool {
	return s == StatusInBlock || s == StatusFinalized
}

// Event is one ledger event emitted while applying a block.
type Event struct {
	Section string    `json:"section"`
	Method  string    `json:"method"`
	Data    ir.Object `json:"data"`
}

// Name returns "section.method".
func (e Event) Name() string {
	return e.Section + "." + e.Method
}

// Is matches section and method case-insensitively. Gateways disagree on
// casing ("System.ExtrinsicFailed" vs "system.ExtrinsicFailed").
func (e Event) Is(section, method string) bool {
	return strings.EqualFold(e.Section, section) && strings.EqualFold(e.Method, method)
}

// Notification is one update about a submitted transaction.
type Notification struct {
	Status    Status  `json:"status"`
	BlockHash string  `json:"blockHash,omitempty"`
	Events    []Event `json:"events,omitempty"`

	// Err carries the transport's message for StatusError.
	Err string `json:"error,omitempty"`
}

// Call is an unsigned, unencoded call: pallet section, method and arguments.
type Call struct {
	Section string
	Method  string
	Args    ir.Object
}

// Name returns "section.method".
func (c Call) Name() string {
	return c.Section + "." + c.Method
}

// Validate checks the call names a method.
func (c Call) Validate() error {
	if c.Section == "" || c.Method == "" {
		return fmt.Errorf("call requires section and method, got %q", c.Name())
	}
	return nil
}

// ParseCallName splits "section.method".
func ParseCallName(name string) (section, method string, err error) {
	section, method, ok := strings.Cut(name, ".")
	if !ok || section == "" || method == "" {
		return "", "", fmt.Errorf("invalid call name %q: want section.method", name)
	}
	return section, method, nil
}

// Path addresses one storage value, e.g. ["tokens", "accounts", addr, "1"].
type Path []string

func (p Path) String() string {
	return strings.Join(p, "/")
}

// ModuleError identifies a runtime error by pallet index and error index.
type ModuleError struct {
	Index uint32 `json:"index"`
	Error uint32 `json:"error"`
}

// ErrorMeta is the metadata entry for a ModuleError.
type ErrorMeta struct {
	Section string `json:"section"`
	Name    string `json:"name"`
	Docs    string `json:"docs"`
}

// String renders "section.Name: docs".
func (m ErrorMeta) String() string {
	if m.Docs == "" {
		return m.Section + "." + m.Name
	}
	return m.Section + "." + m.Name + ": " + m.Docs
}
