package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/roach88/ledgerflow/internal/engine"
	"github.com/roach88/ledgerflow/internal/ir"
	"github.com/roach88/ledgerflow/internal/ledger"
)

// ErrNotFound is returned for an unknown transaction hash.
var ErrNotFound = errors.New("transaction not found")

// Record is one stored transaction.
type Record struct {
	Hash        string
	Seq         int64
	Sender      string
	Call        string
	Args        ir.Object
	SubmittedAt time.Time
	ResolvedAt  time.Time // zero while pending

	Phase      engine.Phase
	LastStatus ledger.Status
	BlockHash  string

	Payload        ir.Object // nil unless finalized
	FailureCode    string
	FailureMessage string
}

// StatusRecord is one stored notification.
type StatusRecord struct {
	Seq       int64
	Status    ledger.Status
	BlockHash string
	Events    []ledger.Event
	Err       string
}

// Filter narrows List. Zero values match everything.
type Filter struct {
	Phase  engine.Phase
	Sender string
	Limit  int
}

const recordColumns = `hash, seq, sender, call, args, submitted_at, phase, last_status,
	block_hash, resolved_at, payload, failure_code, failure_message`

// Get returns the transaction with hash.
func (h *History) Get(ctx context.Context, hash string) (Record, error) {
	row := h.s.db.QueryRowContext(ctx, `SELECT `+recordColumns+` FROM transactions WHERE hash = ?`, hash)
	r, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, fmt.Errorf("%s: %w", hash, ErrNotFound)
	}
	return r, err
}

// List returns transactions in submission order.
func (h *History) List(ctx context.Context, f Filter) ([]Record, error) {
	var (
		where []string
		args  []any
	)
	if f.Phase != "" {
		where = append(where, "phase = ?")
		args = append(args, string(f.Phase))
	}
	if f.Sender != "" {
		where = append(where, "sender = ?")
		args = append(args, f.Sender)
	}

	query := `SELECT ` + recordColumns + ` FROM transactions`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY submitted_at ASC, seq ASC, hash COLLATE BINARY ASC`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}

	rows, err := h.s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query transactions: %w", err)
	}
	defer rows.Close()

	records := []Record{}
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transactions: %w", err)
	}
	return records, nil
}

// Statuses returns the notifications stored for hash in seq order.
func (h *History) Statuses(ctx context.Context, hash string) ([]StatusRecord, error) {
	rows, err := h.s.db.QueryContext(ctx, `
		SELECT seq, status, block_hash, events, error
		FROM tx_statuses
		WHERE hash = ?
		ORDER BY seq ASC
	`, hash)
	if err != nil {
		return nil, fmt.Errorf("query statuses: %w", err)
	}
	defer rows.Close()

	out := []StatusRecord{}
	for rows.Next() {
		var (
			r      StatusRecord
			status string
			events string
		)
		if err := rows.Scan(&r.Seq, &status, &r.BlockHash, &events, &r.Err); err != nil {
			return nil, fmt.Errorf("scan status: %w", err)
		}
		r.Status = ledger.Status(status)
		if r.Events, err = unmarshalEvents(events); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate statuses: %w", err)
	}
	return out, nil
}

// MaxSeq returns the highest sequence number stored, 0 for an empty
// database. A new executor resumes its clock after it.
func (h *History) MaxSeq(ctx context.Context) (int64, error) {
	var seq int64
	err := h.s.db.QueryRowContext(ctx, `
		SELECT MAX(
			COALESCE((SELECT MAX(seq) FROM transactions), 0),
			COALESCE((SELECT MAX(seq) FROM tx_statuses), 0)
		)
	`).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("max seq: %w", err)
	}
	return seq, nil
}

// Prune deletes resolved transactions that resolved before cutoff, with
// their statuses. Pending rows are never pruned.
func (h *History) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := h.s.db.ExecContext(ctx, `
		DELETE FROM transactions
		WHERE phase != ? AND resolved_at IS NOT NULL AND resolved_at < ?
	`, string(engine.PhasePending), cutoff.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("prune: %w", err)
	}
	return res.RowsAffected()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (Record, error) {
	var (
		r         Record
		args      string
		submitted int64
		phase     string
		status    string
		resolved  sql.NullInt64
		payload   sql.NullString
	)
	err := row.Scan(&r.Hash, &r.Seq, &r.Sender, &r.Call, &args, &submitted, &phase, &status,
		&r.BlockHash, &resolved, &payload, &r.FailureCode, &r.FailureMessage)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Record{}, err
		}
		return Record{}, fmt.Errorf("scan transaction: %w", err)
	}

	if r.Args, err = unmarshalObject(args); err != nil {
		return Record{}, err
	}
	if payload.Valid {
		if r.Payload, err = unmarshalObject(payload.String); err != nil {
			return Record{}, err
		}
	}
	r.SubmittedAt = time.Unix(0, submitted).UTC()
	if resolved.Valid {
		r.ResolvedAt = time.Unix(0, resolved.Int64).UTC()
	}
	r.Phase = engine.Phase(phase)
	r.LastStatus = ledger.Status(status)
	return r, nil
}
