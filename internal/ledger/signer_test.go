package ledger

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/ledgerflow/internal/ir"
)

func TestEd25519Signer_RoundTrip(t *testing.T) {
	signer, err := NewEd25519Signer(bytes.Repeat([]byte{1}, 32))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(signer.Address(), "0x"))
	assert.Len(t, signer.Address(), 2+64)

	call := Call{Section: "assets", Method: "transfer", Args: ir.Obj(ir.O("amount", ir.Int(100)))}
	_, sig, err := SignCall(signer, call)
	require.NoError(t, err)

	ok, err := VerifyCall(signer.Address(), call, sig)
	require.NoError(t, err)
	assert.True(t, ok)

	tampered := Call{Section: "assets", Method: "transfer", Args: ir.Obj(ir.O("amount", ir.Int(101)))}
	ok, err = VerifyCall(signer.Address(), tampered, sig)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestParseSeed(t *testing.T) {
	seed := "0x" + strings.Repeat("ab", 32)
	a, err := ParseSeed(seed)
	require.NoError(t, err)
	b, err := ParseSeed(strings.TrimPrefix(seed, "0x"))
	require.NoError(t, err)
	assert.Equal(t, a.Address(), b.Address())

	_, err = ParseSeed("0x1234")
	assert.Error(t, err)
	_, err = ParseSeed("zz")
	assert.Error(t, err)
}

func TestVerifyCall_BadAddress(t *testing.T) {
	_, err := VerifyCall("0xnothex", Call{Section: "a", Method: "b"}, nil)
	assert.Error(t, err)
}
