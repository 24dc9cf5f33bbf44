package correlate

import (
	"errors"
	"fmt"
	"time"

	"github.com/roach88/ledgerflow/internal/ledger"
)

// Code categorizes terminal transaction failures.
type Code string

const (
	// CodeSubmissionRejected: the transport refused the transaction.
	CodeSubmissionRejected Code = "SUBMISSION_REJECTED"

	// CodeNotIncludable: the pool dropped or invalidated the transaction.
	CodeNotIncludable Code = "NOT_INCLUDABLE"

	// CodeDispatchFailed: included, but the runtime rejected the call.
	CodeDispatchFailed Code = "DISPATCH_FAILED"

	// CodeInconsistentEvents: success and dispatch failure both matched in
	// one notification.
	CodeInconsistentEvents Code = "INCONSISTENT_EVENTS"

	// CodePredicateMismatch: included, but no event matched the success
	// predicate. A caller bug.
	CodePredicateMismatch Code = "PREDICATE_MISMATCH"

	// CodeStreamClosed: notifications ended before a terminal outcome.
	CodeStreamClosed Code = "STREAM_CLOSED"

	// CodeTimeout: the caller's deadline passed before a terminal outcome.
	CodeTimeout Code = "TIMEOUT"
)

// Failure is the terminal failure of one transaction.
type Failure struct {
	Code Code

	// Message is human-readable and never raw encoded bytes.
	Message string

	// Hash is the transaction hash; empty for rejected submissions.
	Hash string

	// Status is the notification status that produced the failure, if any.
	Status ledger.Status

	// Dispatch is the decoded dispatch error for CodeDispatchFailed and
	// CodeInconsistentEvents.
	Dispatch *ledger.DispatchError

	// Module is the resolved metadata entry for module dispatch errors.
	Module *ledger.ErrorMeta

	// Err is the underlying cause: transport error, stream error or a
	// failed metadata lookup.
	Err error
}

func (f *Failure) Error() string {
	if f.Hash != "" {
		return fmt.Sprintf("%s: %s (tx=%s)", f.Code, f.Message, f.Hash)
	}
	return fmt.Sprintf("%s: %s", f.Code, f.Message)
}

func (f *Failure) Unwrap() error {
	return f.Err
}

// CodeOf returns the failure code of err, or "" if err is not a Failure.
func CodeOf(err error) Code {
	var f *Failure
	if errors.As(err, &f) {
		return f.Code
	}
	return ""
}

// IsRejected reports a synchronous submission rejection.
func IsRejected(err error) bool {
	return CodeOf(err) == CodeSubmissionRejected
}

// IsDispatchFailed reports a runtime dispatch failure.
func IsDispatchFailed(err error) bool {
	return CodeOf(err) == CodeDispatchFailed
}

// IsStreamClosed reports a stream that ended before confirmation.
func IsStreamClosed(err error) bool {
	return CodeOf(err) == CodeStreamClosed
}

// IsTimeout reports a caller-imposed confirmation timeout.
func IsTimeout(err error) bool {
	return CodeOf(err) == CodeTimeout
}

// IsPredicateMismatch reports a success predicate that never matched.
func IsPredicateMismatch(err error) bool {
	return CodeOf(err) == CodePredicateMismatch
}

// NewRejected wraps a transport submission error.
func NewRejected(err error) *Failure {
	return &Failure{
		Code:    CodeSubmissionRejected,
		Message: fmt.Sprintf("submission rejected: %v", err),
		Err:     err,
	}
}

// NewStreamClosed reports a notification stream that ended early. err is
// the stream's own error, nil for a clean end.
func NewStreamClosed(hash string, err error) *Failure {
	msg := "stream closed before confirmation"
	if err != nil {
		msg += ": " + err.Error()
	}
	return &Failure{Code: CodeStreamClosed, Message: msg, Hash: hash, Err: err}
}

// NewTimeout reports a confirmation timeout.
func NewTimeout(hash string, after time.Duration) *Failure {
	return &Failure{
		Code:    CodeTimeout,
		Message: fmt.Sprintf("no terminal status within %s", after),
		Hash:    hash,
	}
}
