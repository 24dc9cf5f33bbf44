package correlate

import (
	"context"
	"errors"
	"log/slog"

	"github.com/roach88/ledgerflow/internal/ir"
	"github.com/roach88/ledgerflow/internal/ledger"
)

// Kind is the verdict on one notification.
type Kind int

const (
	Pending Kind = iota
	Matched
	Failed
)

func (k Kind) String() string {
	switch k {
	case Pending:
		return "pending"
	case Matched:
		return "matched"
	case Failed:
		return "failed"
	}
	return "unknown"
}

// Outcome is the result of correlating one notification.
type Outcome struct {
	Kind Kind

	// Payload is the success predicate's payload when Matched.
	Payload ir.Object

	// Failure is set when Failed.
	Failure *Failure
}

// Terminal reports whether the outcome ends the transaction.
func (o Outcome) Terminal() bool {
	return o.Kind != Pending
}

// Resolver looks up module errors in runtime metadata.
// ledger.Client satisfies it.
type Resolver interface {
	ResolveDispatchError(ctx context.Context, merr ledger.ModuleError) (ledger.ErrorMeta, error)
}

// Correlator applies the correlation rules. It holds no per-transaction
// state and is safe for concurrent use.
type Correlator struct {
	resolver Resolver
	logger   *slog.Logger
}

// Option configures a Correlator.
type Option func(*Correlator)

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(c *Correlator) { c.logger = l }
}

// New creates a Correlator. resolver may be nil, in which case module
// errors are reported by index.
func New(resolver Resolver, opts ...Option) *Correlator {
	c := &Correlator{resolver: resolver, logger: slog.Default()}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// errNoResolver is recorded on Failure.Err when no resolver is configured.
var errNoResolver = errors.New("no metadata resolver configured")

// Correlate classifies one notification for a transaction.
// hash is only used to label failures and log lines.
func (c *Correlator) Correlate(ctx context.Context, hash string, n ledger.Notification, success Predicate) Outcome {
	if n.Status.IsFailure() {
		f := &Failure{
			Code:    CodeNotIncludable,
			Message: "transaction not includable",
			Hash:    hash,
			Status:  n.Status,
		}
		if n.Err != "" {
			f.Message += ": " + n.Err
			f.Err = errors.New(n.Err)
		}
		return Outcome{Kind: Failed, Failure: f}
	}

	var (
		failEvent *ledger.Event
		payload   ir.Object
		matched   bool
	)
	for i := range n.Events {
		ev := n.Events[i]
		if IsDispatchFailure(ev) {
			if failEvent == nil {
				failEvent = &n.Events[i]
			}
			continue
		}
		if !matched && success != nil {
			payload, matched = success(ev)
		}
	}

	if failEvent != nil {
		f := c.dispatchFailure(ctx, hash, n.Status, *failEvent)
		if matched {
			f.Code = CodeInconsistentEvents
			f.Message = "success and dispatch failure in one notification: " + f.Message
			c.logger.Error("inconsistent transaction events",
				"hash", hash,
				"status", n.Status,
				"failure", failEvent.Name())
		}
		return Outcome{Kind: Failed, Failure: f}
	}

	if !n.Status.IsIncluded() {
		return Outcome{Kind: Pending}
	}

	if matched {
		return Outcome{Kind: Matched, Payload: payload}
	}

	names := make([]string, len(n.Events))
	for i, ev := range n.Events {
		names[i] = ev.Name()
	}
	c.logger.Error("success predicate matched no event in included block",
		"hash", hash,
		"status", n.Status,
		"block", n.BlockHash,
		"events", names)
	return Outcome{Kind: Failed, Failure: &Failure{
		Code:    CodePredicateMismatch,
		Message: "expected event not found",
		Hash:    hash,
		Status:  n.Status,
	}}
}

func (c *Correlator) dispatchFailure(ctx context.Context, hash string, status ledger.Status, ev ledger.Event) *Failure {
	d := ledger.DecodeDispatchError(ev.Data)
	f := &Failure{
		Code:     CodeDispatchFailed,
		Hash:     hash,
		Status:   status,
		Dispatch: &d,
	}

	if d.Module == nil {
		f.Message = "dispatch error: " + d.String()
		return f
	}

	if c.resolver == nil {
		f.Message = d.String()
		f.Err = errNoResolver
		return f
	}
	meta, err := c.resolver.ResolveDispatchError(ctx, *d.Module)
	if err != nil {
		c.logger.Warn("dispatch error metadata lookup failed",
			"hash", hash,
			"module", d.Module.Index,
			"error_index", d.Module.Error,
			"error", err)
		f.Message = d.String()
		f.Err = err
		return f
	}
	f.Module = &meta
	f.Message = meta.String()
	return f
}

// First correlates notifications in order and returns the first terminal
// outcome with its index, or Pending and -1.
func (c *Correlator) First(ctx context.Context, hash string, ns []ledger.Notification, success Predicate) (Outcome, int) {
	for i, n := range ns {
		if out := c.Correlate(ctx, hash, n, success); out.Terminal() {
			return out, i
		}
	}
	return Outcome{Kind: Pending}, -1
}
