package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/ledgerflow/internal/ir"
	"github.com/roach88/ledgerflow/internal/statestore"
)

// KV is a persistent statestore.Store over the state table.
type KV struct {
	s *Store
}

// KV returns the application state view of the store.
func (s *Store) KV() *KV {
	return &KV{s: s}
}

var _ statestore.Store = (*KV)(nil)

// Get implements statestore.Reader.
func (k *KV) Get(ctx context.Context, key string) (ir.Value, bool, error) {
	var data string
	err := k.s.db.QueryRowContext(ctx, `SELECT value FROM state WHERE key = ?`, key).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get %s: %w", key, err)
	}
	v, err := ir.UnmarshalValue([]byte(data))
	if err != nil {
		return nil, false, fmt.Errorf("get %s: %w", key, err)
	}
	return v, true, nil
}

// Set implements statestore.Store.
func (k *KV) Set(ctx context.Context, key string, v ir.Value) error {
	data, err := ir.MarshalValue(v)
	if err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	_, err = k.s.db.ExecContext(ctx, `
		INSERT INTO state (key, value, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`, key, string(data), k.s.now().UnixNano())
	if err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	return nil
}

// Keys returns the keys under prefix, sorted.
func (k *KV) Keys(ctx context.Context, prefix string) ([]string, error) {
	rows, err := k.s.db.QueryContext(ctx, `SELECT key FROM state ORDER BY key COLLATE BINARY ASC`)
	if err != nil {
		return nil, fmt.Errorf("list keys: %w", err)
	}
	defer rows.Close()

	keys := []string{}
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("scan key: %w", err)
		}
		if statestore.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	return keys, rows.Err()
}
