package ledgertest

import (
	"bytes"

	"github.com/roach88/ledgerflow/internal/ir"
	"github.com/roach88/ledgerflow/internal/ledger"
)

// Signer returns a deterministic signer. Different ids give different keys.
func Signer(id byte) ledger.Signer {
	s, err := ledger.NewEd25519Signer(bytes.Repeat([]byte{id}, 32))
	if err != nil {
		panic(err)
	}
	return s
}

// Ready is a Ready notification with no events.
func Ready() ledger.Notification {
	return ledger.Notification{Status: ledger.StatusReady}
}

// Broadcast is a Broadcast notification with no events.
func Broadcast() ledger.Notification {
	return ledger.Notification{Status: ledger.StatusBroadcast}
}

// InBlock is an InBlock notification carrying events.
func InBlock(events ...ledger.Event) ledger.Notification {
	return ledger.Notification{Status: ledger.StatusInBlock, BlockHash: "0xb10c", Events: events}
}

// Finalized is a Finalized notification carrying events.
func Finalized(events ...ledger.Event) ledger.Notification {
	return ledger.Notification{Status: ledger.StatusFinalized, BlockHash: "0xb10c", Events: events}
}

// Status is a bare notification with the given status.
func Status(s ledger.Status) ledger.Notification {
	return ledger.Notification{Status: s}
}

// Transferred is a balances.Transfer success event.
func Transferred(from, to string, amount int64) ledger.Event {
	return ledger.Event{
		Section: "balances",
		Method:  "Transfer",
		Data: ir.Obj(
			ir.O("from", ir.String(from)),
			ir.O("to", ir.String(to)),
			ir.O("amount", ir.Int(amount)),
		),
	}
}

// ExtrinsicSuccess is the system event emitted for every successful call.
func ExtrinsicSuccess() ledger.Event {
	return ledger.Event{Section: "system", Method: "ExtrinsicSuccess", Data: ir.Object{}}
}

// ExtrinsicFailed is a module dispatch failure.
func ExtrinsicFailed(index, errIndex int64) ledger.Event {
	return ledger.Event{
		Section: "system",
		Method:  "ExtrinsicFailed",
		Data: ir.Obj(ir.O("dispatchError", ir.Obj(
			ir.O("Module", ir.Obj(ir.O("index", ir.Int(index)), ir.O("error", ir.Int(errIndex)))),
		))),
	}
}

// ExtrinsicFailedWith is a non-module dispatch failure such as BadOrigin.
func ExtrinsicFailedWith(variant string) ledger.Event {
	return ledger.Event{
		Section: "system",
		Method:  "ExtrinsicFailed",
		Data:    ir.Obj(ir.O("dispatchError", ir.Obj(ir.O(variant, ir.Null{})))),
	}
}
