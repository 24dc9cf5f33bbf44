package ledger

import (
	"context"

	"github.com/roach88/ledgerflow/internal/ir"
)

// Watch is a stream of values pushed by the ledger.
//
// C is closed when the stream ends. Err reports why it ended and is only
// meaningful after C is closed: nil for a clean end or consumer Close.
// Close is idempotent.
type Watch[T any] interface {
	C() <-chan T
	Err() error
	Close()
}

// TxWatch is the notification stream of one submitted transaction.
type TxWatch interface {
	Watch[Notification]
	Hash() string
}

// ValueWatch streams successive values of one storage path.
type ValueWatch = Watch[ir.Value]

// Signer identifies a sender and signs call payloads.
type Signer interface {
	Address() string
	Sign(payload []byte) ([]byte, error)
}

// Client is the ledger boundary.
type Client interface {
	// Submit signs and submits a call. An error means the transport refused
	// the transaction outright.
	Submit(ctx context.Context, call Call, signer Signer) (TxWatch, error)

	// SubmitUnsigned submits a call without a signature.
	SubmitUnsigned(ctx context.Context, call Call) (TxWatch, error)

	// SubscribeStorage streams the value at path until closed.
	SubscribeStorage(ctx context.Context, path Path) (ValueWatch, error)

	// QueryStorage reads the value at path once.
	QueryStorage(ctx context.Context, path Path) (ir.Value, error)

	// ResolveDispatchError looks a module error up in runtime metadata.
	ResolveDispatchError(ctx context.Context, merr ModuleError) (ErrorMeta, error)
}
