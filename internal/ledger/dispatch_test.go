package ledger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/ledgerflow/internal/ir"
)

func TestDecodeDispatchError_Module(t *testing.T) {
	data := ir.Obj(ir.O("dispatchError", ir.Obj(
		ir.O("Module", ir.Obj(ir.O("index", ir.Int(3)), ir.O("error", ir.Int(7)))),
	)))

	d := DecodeDispatchError(data)
	require.NotNil(t, d.Module)
	assert.Equal(t, ModuleError{Index: 3, Error: 7}, *d.Module)
	assert.Equal(t, "module error 3:7", d.String())
}

func TestDecodeDispatchError_ModuleErrorBytes(t *testing.T) {
	data := ir.Obj(ir.O("dispatchError", ir.Obj(
		ir.O("module", ir.Obj(ir.O("index", ir.String("3")), ir.O("error", ir.String("0x07000000")))),
	)))

	d := DecodeDispatchError(data)
	require.NotNil(t, d.Module)
	assert.Equal(t, ModuleError{Index: 3, Error: 7}, *d.Module)
}

func TestDecodeDispatchError_NonModule(t *testing.T) {
	data := ir.Obj(ir.O("dispatchError", ir.Obj(ir.O("BadOrigin", ir.Null{}))))

	d := DecodeDispatchError(data)
	assert.Nil(t, d.Module)
	assert.Equal(t, "BadOrigin", d.String())
}

func TestDecodeDispatchError_VariantWithPayload(t *testing.T) {
	data := ir.Obj(ir.O("dispatchError", ir.Obj(ir.O("Token", ir.String("FundsUnavailable")))))

	d := DecodeDispatchError(data)
	assert.Equal(t, "Token(FundsUnavailable)", d.String())
}

func TestDecodeDispatchError_MalformedModuleFallsBackToRaw(t *testing.T) {
	data := ir.Obj(ir.O("dispatchError", ir.Obj(
		ir.O("Module", ir.Obj(ir.O("index", ir.String("x")))),
	)))

	d := DecodeDispatchError(data)
	assert.Nil(t, d.Module)
	assert.Contains(t, d.String(), "Module")
}

func TestDecodeDispatchError_PlainString(t *testing.T) {
	d := DecodeDispatchError(ir.Obj(ir.O("error", ir.String("Exhausted"))))
	assert.Equal(t, "Exhausted", d.String())
}
