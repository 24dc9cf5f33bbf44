package submux

import (
	"errors"
	"fmt"
)

// ErrStreamEnded is the TransportError cause for an upstream that ended
// without an error while subscribers were still attached.
var ErrStreamEnded = errors.New("upstream ended")

// ErrClosed is returned by Subscribe after Close.
var ErrClosed = errors.New("mux closed")

// TransportError reports an upstream failure. The entry has already been
// removed from the table when subscribers see it, so subscribing again
// opens a fresh upstream.
type TransportError struct {
	Key Key
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("subscription %s: transport error: %v", e.Key, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// IsTransportError reports whether err is a TransportError.
func IsTransportError(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

// OpenError reports an upstream that could not be opened.
type OpenError struct {
	Key Key
	Err error
}

func (e *OpenError) Error() string {
	return fmt.Sprintf("subscribe %s: %v", e.Key, e.Err)
}

func (e *OpenError) Unwrap() error {
	return e.Err
}
