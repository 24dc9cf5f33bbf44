package wallet

import (
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/ledgerflow/internal/ir"
)

func TestParseAmount(t *testing.T) {
	tests := []struct {
		name string
		in   ir.Value
		want string
	}{
		{"int", ir.Int(150), "150"},
		{"u128 decimal", ir.String("340282366920938463463374607431768211455"), "340282366920938463463374607431768211455"},
		{"account data", ir.Obj(ir.O("free", ir.String("1000")), ir.O("reserved", ir.Int(5))), "1000"},
		{"null", ir.Null{}, "0"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			n, err := ParseAmount(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, n.Dec())
			assert.Equal(t, ir.String(tt.want), AmountValue(n))
		})
	}
}

func TestParseAmountRejects(t *testing.T) {
	for _, in := range []ir.Value{
		ir.Int(-1),
		ir.String("12abc"),
		ir.Obj(ir.O("reserved", ir.Int(1))),
		ir.Bool(true),
	} {
		_, err := ParseAmount(in)
		assert.Error(t, err, "%#v", in)
	}
}

func TestAmountValueLarge(t *testing.T) {
	n := new(uint256.Int).Lsh(uint256.NewInt(1), 200)
	v := AmountValue(n)
	back, err := ParseAmount(v)
	require.NoError(t, err)
	assert.True(t, n.Eq(back))
}
