package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/roach88/ledgerflow/internal/engine"
	"github.com/roach88/ledgerflow/internal/ledger"
)

// History records executor transitions. It implements engine.HistorySink.
type History struct {
	s *Store
}

// History returns the transaction history view of the store.
func (s *Store) History() *History {
	return &History{s: s}
}

var _ engine.HistorySink = (*History)(nil)

// RecordSubmitted inserts the transaction row. A duplicate hash is ignored.
func (h *History) RecordSubmitted(ctx context.Context, info engine.HandleInfo) error {
	args, err := marshalObject(info.Call.Args)
	if err != nil {
		return fmt.Errorf("record submitted %s: %w", info.Hash, err)
	}

	_, err = h.s.db.ExecContext(ctx, `
		INSERT INTO transactions
		(hash, seq, sender, call, args, submitted_at, phase, last_status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(hash) DO NOTHING
	`,
		info.Hash,
		info.Seq,
		info.Sender,
		info.Call.Name(),
		args,
		info.SubmittedAt.UnixNano(),
		string(info.Phase),
		string(info.LastStatus),
	)
	if err != nil {
		return fmt.Errorf("record submitted %s: %w", info.Hash, err)
	}
	return nil
}

// RecordStatus appends a notification and updates the transaction's last
// status. A duplicate (hash, seq) is ignored.
func (h *History) RecordStatus(ctx context.Context, hash string, seq int64, n ledger.Notification) error {
	events, err := marshalEvents(n.Events)
	if err != nil {
		return fmt.Errorf("record status %s: %w", hash, err)
	}
	tx, err := h.s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("record status %s: begin tx: %w", hash, err)
	}
	defer tx.Rollback() // No-op if committed

	_, err = tx.ExecContext(ctx, `
		INSERT INTO tx_statuses
		(hash, seq, status, block_hash, events, error)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(hash, seq) DO NOTHING
	`, hash, seq, string(n.Status), n.BlockHash, events, n.Err)
	if err != nil {
		return fmt.Errorf("record status %s: %w", hash, err)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE transactions
		SET last_status = ?,
		    block_hash = CASE WHEN ? = '' THEN block_hash ELSE ? END
		WHERE hash = ?
	`, string(n.Status), n.BlockHash, n.BlockHash, hash)
	if err != nil {
		return fmt.Errorf("record status %s: update: %w", hash, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("record status %s: commit: %w", hash, err)
	}
	return nil
}

// RecordResolved stores the terminal phase with its payload or failure.
func (h *History) RecordResolved(ctx context.Context, info engine.HandleInfo) error {
	payload, err := nullableObject(info.Payload)
	if err != nil {
		return fmt.Errorf("record resolved %s: %w", info.Hash, err)
	}
	var code, message string
	if info.Failure != nil {
		code, message = string(info.Failure.Code), info.Failure.Error()
	}
	var resolved sql.NullInt64
	if !info.ResolvedAt.IsZero() {
		resolved = sql.NullInt64{Int64: info.ResolvedAt.UnixNano(), Valid: true}
	}

	res, err := h.s.db.ExecContext(ctx, `
		UPDATE transactions
		SET phase = ?, resolved_at = ?, payload = ?,
		    failure_code = ?, failure_message = ?,
		    last_status = CASE WHEN ? = '' THEN last_status ELSE ? END,
		    block_hash = CASE WHEN ? = '' THEN block_hash ELSE ? END
		WHERE hash = ?
	`,
		string(info.Phase), resolved, payload,
		code, message,
		string(info.LastStatus), string(info.LastStatus),
		info.BlockHash, info.BlockHash,
		info.Hash,
	)
	if err != nil {
		return fmt.Errorf("record resolved %s: %w", info.Hash, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("record resolved %s: %w", info.Hash, ErrNotFound)
	}
	return nil
}
