package statestore

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/roach88/ledgerflow/internal/ir"
)

// Reader is the read side of a Store.
type Reader interface {
	// Get returns the value at key and whether it was set.
	Get(ctx context.Context, key string) (ir.Value, bool, error)
}

// Store is a key/value state store.
type Store interface {
	Reader
	Set(ctx context.Context, key string, v ir.Value) error
}

// Key joins parts into a store key.
func Key(parts ...string) string {
	return strings.Join(parts, "/")
}

// HasPrefix reports whether key is prefix itself or lies under it.
// "balance/picasso" matches "balance/picasso/alice" but not
// "balance/picassoX".
func HasPrefix(key, prefix string) bool {
	if prefix == "" || key == prefix {
		return true
	}
	return strings.HasPrefix(key, strings.TrimSuffix(prefix, "/")+"/")
}

// Memory is an in-process Store.
type Memory struct {
	mu     sync.RWMutex
	values map[string]ir.Value
}

// NewMemory creates an empty store.
func NewMemory() *Memory {
	return &Memory{values: make(map[string]ir.Value)}
}

// Get implements Reader.
func (m *Memory) Get(_ context.Context, key string) (ir.Value, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.values[key]
	return v, ok, nil
}

// Set implements Store.
func (m *Memory) Set(_ context.Context, key string, v ir.Value) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = ir.Clone(v)
	return nil
}

// Keys returns the keys under prefix, sorted.
func (m *Memory) Keys(prefix string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []string
	for k := range m.values {
		if HasPrefix(k, prefix) {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}
