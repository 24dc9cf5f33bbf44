package store

import (
	"database/sql"
	"fmt"

	"github.com/roach88/ledgerflow/internal/ir"
	"github.com/roach88/ledgerflow/internal/ledger"
)

// marshalObject writes an object as sorted-key JSON. Nil becomes "{}".
func marshalObject(obj ir.Object) (string, error) {
	if obj == nil {
		return "{}", nil
	}
	data, err := ir.MarshalValue(obj)
	if err != nil {
		return "", fmt.Errorf("marshal object: %w", err)
	}
	return string(data), nil
}

// unmarshalObject parses JSON TEXT. Integers wider than int64 come back as
// decimal strings, never floats.
func unmarshalObject(data string) (ir.Object, error) {
	if data == "" || data == "{}" {
		return ir.Object{}, nil
	}
	v, err := ir.UnmarshalValue([]byte(data))
	if err != nil {
		return nil, fmt.Errorf("unmarshal object: %w", err)
	}
	obj, ok := v.(ir.Object)
	if !ok {
		return nil, fmt.Errorf("unmarshal object: got %T", v)
	}
	return obj, nil
}

// nullableObject is like marshalObject but keeps nil as SQL NULL.
func nullableObject(obj ir.Object) (sql.NullString, error) {
	if obj == nil {
		return sql.NullString{}, nil
	}
	s, err := marshalObject(obj)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: s, Valid: true}, nil
}

func marshalEvents(events []ledger.Event) (string, error) {
	arr := make(ir.Array, len(events))
	for i, ev := range events {
		data := ev.Data
		if data == nil {
			data = ir.Object{}
		}
		arr[i] = ir.Obj(
			ir.O("section", ir.String(ev.Section)),
			ir.O("method", ir.String(ev.Method)),
			ir.O("data", data),
		)
	}
	out, err := ir.MarshalValue(arr)
	if err != nil {
		return "", fmt.Errorf("marshal events: %w", err)
	}
	return string(out), nil
}

func unmarshalEvents(data string) ([]ledger.Event, error) {
	v, err := ir.UnmarshalValue([]byte(data))
	if err != nil {
		return nil, fmt.Errorf("unmarshal events: %w", err)
	}
	arr, ok := v.(ir.Array)
	if !ok {
		return nil, fmt.Errorf("unmarshal events: got %T", v)
	}
	events := make([]ledger.Event, 0, len(arr))
	for i, e := range arr {
		obj, ok := e.(ir.Object)
		if !ok {
			return nil, fmt.Errorf("unmarshal events: event %d is %T", i, e)
		}
		section, _ := obj.Str("section")
		method, _ := obj.Str("method")
		payload, _ := obj["data"].(ir.Object)
		events = append(events, ledger.Event{Section: section, Method: method, Data: payload})
	}
	return events, nil
}
