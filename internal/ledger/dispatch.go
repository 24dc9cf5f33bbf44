package ledger

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/roach88/ledgerflow/internal/ir"
)

// DispatchError is the decoded payload of a dispatch-failure event.
type DispatchError struct {
	// Module is set when the failure names a pallet error.
	Module *ModuleError

	// Raw is the undecoded payload, used for non-module failures
	// (BadOrigin, Other, Token(...)).
	Raw ir.Value
}

// dispatchKeys are the field names gateways use for the error payload.
var dispatchKeys = []string{"dispatchError", "dispatch_error", "error"}

// DecodeDispatchError extracts the failure from an event's data.
//
// Module errors arrive in two shapes: {"index":3,"error":7} and the newer
// {"index":3,"error":"0x07000000"} where the first byte is the error index.
func DecodeDispatchError(data ir.Object) DispatchError {
	var raw ir.Value = data
	for _, k := range dispatchKeys {
		if v, ok := data[k]; ok {
			raw = v
			break
		}
	}

	obj, ok := raw.(ir.Object)
	if !ok {
		return DispatchError{Raw: raw}
	}
	for _, k := range []string{"Module", "module"} {
		m, ok := obj[k].(ir.Object)
		if !ok {
			continue
		}
		merr, err := decodeModule(m)
		if err != nil {
			return DispatchError{Raw: raw}
		}
		return DispatchError{Module: &merr, Raw: raw}
	}
	return DispatchError{Raw: raw}
}

func decodeModule(m ir.Object) (ModuleError, error) {
	index, err := m.Uint32("index")
	if err != nil {
		return ModuleError{}, err
	}
	if s, ok := m.Str("error"); ok && strings.HasPrefix(s, "0x") {
		b, err := hex.DecodeString(s[2:])
		if err != nil || len(b) == 0 {
			return ModuleError{}, fmt.Errorf("invalid module error bytes %q", s)
		}
		return ModuleError{Index: index, Error: uint32(b[0])}, nil
	}
	errIndex, err := m.Uint32("error")
	if err != nil {
		return ModuleError{}, err
	}
	return ModuleError{Index: index, Error: errIndex}, nil
}

// String renders non-module failures as the variant name when the payload
// is a single-key object ({"BadOrigin":null} → "BadOrigin").
func (d DispatchError) String() string {
	if d.Module != nil {
		return fmt.Sprintf("module error %d:%d", d.Module.Index, d.Module.Error)
	}
	if obj, ok := d.Raw.(ir.Object); ok && len(obj) == 1 {
		for k, v := range obj {
			if _, isNull := v.(ir.Null); isNull || v == nil {
				return k
			}
			return k + "(" + ir.Render(v) + ")"
		}
	}
	if d.Raw == nil {
		return "unknown"
	}
	return ir.Render(d.Raw)
}
