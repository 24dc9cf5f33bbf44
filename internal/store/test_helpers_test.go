package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/roach88/ledgerflow/internal/engine"
	"github.com/roach88/ledgerflow/internal/ir"
	"github.com/roach88/ledgerflow/internal/ledger"
)

var epoch = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

// createTestStore opens a fresh database in a temp dir.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path, WithNow(func() time.Time { return epoch }))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// submitted returns a pending HandleInfo for a transfer.
func submitted(hash string, seq int64, at time.Time) engine.HandleInfo {
	return engine.HandleInfo{
		Hash:   hash,
		Seq:    seq,
		Sender: "0xa11ce",
		Call: ledger.Call{
			Section: "balances",
			Method:  "transfer",
			Args:    ir.Obj(ir.O("dest", ir.String("0xb0b")), ir.O("amount", ir.Int(100))),
		},
		SubmittedAt: at,
		Phase:       engine.PhasePending,
	}
}
