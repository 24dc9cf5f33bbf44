package wallet

import (
	"fmt"

	"github.com/holiman/uint256"

	"github.com/roach88/ledgerflow/internal/ir"
)

// ParseAmount reads a balance as the ledger reports it: an integer, a
// decimal string (u128 values), or account data carrying a "free" field.
// Null reads as zero.
func ParseAmount(v ir.Value) (*uint256.Int, error) {
	switch val := v.(type) {
	case nil, ir.Null:
		return uint256.NewInt(0), nil
	case ir.Int:
		if val < 0 {
			return nil, fmt.Errorf("negative amount %d", val)
		}
		return uint256.NewInt(uint64(val)), nil
	case ir.String:
		n, err := uint256.FromDecimal(string(val))
		if err != nil {
			return nil, fmt.Errorf("amount %q: %w", string(val), err)
		}
		return n, nil
	case ir.Object:
		free, ok := val["free"]
		if !ok {
			return nil, fmt.Errorf("account data without free balance")
		}
		return ParseAmount(free)
	default:
		return nil, fmt.Errorf("unsupported amount type %T", v)
	}
}

// AmountValue renders n for the state store.
func AmountValue(n *uint256.Int) ir.Value {
	return ir.String(n.Dec())
}
