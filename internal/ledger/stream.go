package ledger

import (
	"sync"

	"github.com/roach88/ledgerflow/internal/ir"
)

// Stream is the producer side of a Watch.
//
// Producers call Send for each value and Finish once when the upstream ends.
// Consumers read C and may call Close at any time; Close ends the stream
// with a nil error and then runs the onClose hook once (typically an
// unsubscribe RPC). Send never panics on a finished stream; it reports false instead.
type Stream[T any] struct {
	ch      chan T
	done    chan struct{}
	onClose func()

	mu       sync.RWMutex
	finished bool
	err      error

	finishOnce sync.Once
	closeOnce  sync.Once
}

// NewStream creates a stream with the given channel buffer.
func NewStream[T any](buffer int, onClose func()) *Stream[T] {
	return &Stream[T]{
		ch:      make(chan T, buffer),
		done:    make(chan struct{}),
		onClose: onClose,
	}
}

// C returns the value channel. It is closed when the stream finishes.
func (s *Stream[T]) C() <-chan T {
	return s.ch
}

// Send delivers v, blocking while the buffer is full.
// Returns false if the stream finished before v could be delivered.
func (s *Stream[T]) Send(v T) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.finished {
		return false
	}
	select {
	case s.ch <- v:
		return true
	case <-s.done:
		return false
	}
}

// Finish ends the stream with err. Only the first call has effect.
func (s *Stream[T]) Finish(err error) {
	s.finishOnce.Do(func() {
		// Wake blocked senders before taking the write lock.
		close(s.done)

		s.mu.Lock()
		defer s.mu.Unlock()
		s.finished = true
		s.err = err
		close(s.ch)
	})
}

// Err reports why the stream ended. Nil while the stream is live.
func (s *Stream[T]) Err() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.err
}

// Done is closed once Finish has been called.
func (s *Stream[T]) Done() <-chan struct{} {
	return s.done
}

// Close is the consumer-side cancel.
func (s *Stream[T]) Close() {
	s.closeOnce.Do(func() {
		// Finish first so a producer blocked in Send is released before the
		// hook, which may need that producer to make progress.
		s.Finish(nil)
		if s.onClose != nil {
			s.onClose()
		}
	})
}

// TxStream is a Stream of notifications for one transaction hash.
type TxStream struct {
	*Stream[Notification]
	hash string
}

// NewTxStream creates a TxWatch producer for hash.
func NewTxStream(hash string, buffer int, onClose func()) *TxStream {
	return &TxStream{Stream: NewStream[Notification](buffer, onClose), hash: hash}
}

// Hash returns the transaction hash.
func (t *TxStream) Hash() string {
	return t.hash
}

var (
	_ TxWatch    = (*TxStream)(nil)
	_ ValueWatch = (*Stream[ir.Value])(nil)
)
