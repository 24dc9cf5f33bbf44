package correlate

import (
	"strings"

	"github.com/roach88/ledgerflow/internal/ir"
	"github.com/roach88/ledgerflow/internal/ledger"
)

// Predicate inspects one event. On a match it returns the payload the
// caller receives on success.
type Predicate func(ev ledger.Event) (ir.Object, bool)

// Event matches section.method and returns the event data as payload.
func Event(section, method string) Predicate {
	return func(ev ledger.Event) (ir.Object, bool) {
		if !ev.Is(section, method) {
			return nil, false
		}
		return ev.Data, true
	}
}

// EventWhere matches section.method whose data contains every field of
// equals with an equal value.
func EventWhere(section, method string, equals ir.Object) Predicate {
	return func(ev ledger.Event) (ir.Object, bool) {
		if !ev.Is(section, method) {
			return nil, false
		}
		for k, want := range equals {
			got, ok := ev.Data[k]
			if !ok || !ir.Equal(got, want) {
				return nil, false
			}
		}
		return ev.Data, true
	}
}

// Bind matches section.method and returns only the named fields.
//
// bindings maps the payload key to a dotted path in the event data
// ("amount" → "amount", "who" → "account.id"). All-or-nothing: if any
// path is missing the event does not match.
func Bind(section, method string, bindings map[string]string) Predicate {
	return func(ev ledger.Event) (ir.Object, bool) {
		if !ev.Is(section, method) {
			return nil, false
		}
		out := make(ir.Object, len(bindings))
		for name, path := range bindings {
			v, ok := ev.Data.Lookup(strings.Split(path, ".")...)
			if !ok {
				return nil, false
			}
			out[name] = v
		}
		return out, true
	}
}

// AnyOf matches the first predicate that matches.
func AnyOf(preds ...Predicate) Predicate {
	return func(ev ledger.Event) (ir.Object, bool) {
		for _, p := range preds {
			if payload, ok := p(ev); ok {
				return payload, true
			}
		}
		return nil, false
	}
}

// IsDispatchFailure reports the event families that mean the runtime
// rejected an included call.
func IsDispatchFailure(ev ledger.Event) bool {
	return ev.Is("system", "ExtrinsicFailed") || ev.Is("utility", "BatchInterrupted")
}
