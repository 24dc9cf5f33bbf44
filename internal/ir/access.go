package ir

import (
	"fmt"
	"strconv"
)

// Lookup walks a dotted path ("dispatchError.Module.index") through nested
// objects.
func (obj Object) Lookup(path ...string) (Value, bool) {
	var cur Value = obj
	for _, seg := range path {
		o, ok := cur.(Object)
		if !ok {
			return nil, false
		}
		cur, ok = o[seg]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// Str returns the string at key, if present and a String.
func (obj Object) Str(key string) (string, bool) {
	v, ok := obj[key].(String)
	return string(v), ok
}

// Uint32 coerces the value at path into a uint32. Both Int and decimal
// String are accepted since gateways disagree on how they encode indexes.
func (obj Object) Uint32(path ...string) (uint32, error) {
	v, ok := obj.Lookup(path...)
	if !ok {
		return 0, fmt.Errorf("field %v not found", path)
	}
	switch n := v.(type) {
	case Int:
		if n < 0 || n > 1<<32-1 {
			return 0, fmt.Errorf("field %v out of range: %d", path, n)
		}
		return uint32(n), nil
	case String:
		u, err := strconv.ParseUint(string(n), 10, 32)
		if err != nil {
			return 0, fmt.Errorf("field %v: %w", path, err)
		}
		return uint32(u), nil
	default:
		return 0, fmt.Errorf("field %v: expected integer, got %T", path, v)
	}
}

// Clone returns a deep copy.
func Clone(v Value) Value {
	switch val := v.(type) {
	case Array:
		out := make(Array, len(val))
		for i, e := range val {
			out[i] = Clone(e)
		}
		return out
	case Object:
		out := make(Object, len(val))
		for k, e := range val {
			out[k] = Clone(e)
		}
		return out
	default:
		return v
	}
}
