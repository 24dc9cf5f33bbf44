package engine

import (
	"errors"
	"fmt"
)

var (
	// ErrClosed is returned by Execute after Close.
	ErrClosed = errors.New("executor closed")

	// ErrCancelled is the Result error of a transaction whose watch was
	// cancelled before a terminal outcome.
	ErrCancelled = errors.New("transaction watch cancelled")

	// ErrUnknownHandle is returned by Cancel for hashes not in the table.
	ErrUnknownHandle = errors.New("unknown transaction handle")
)

// RequestError reports a Request that cannot be submitted.
type RequestError struct {
	Field   string
	Message string
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("invalid request: %s: %s", e.Field, e.Message)
}

// IsRequestError reports whether err is a RequestError.
// Uses errors.As to handle wrapped errors.
func IsRequestError(err error) bool {
	var re *RequestError
	return errors.As(err, &re)
}

// DuplicateHashError reports a submission whose hash is already tracked
// and not yet resolved.
type DuplicateHashError struct {
	Hash string
}

func (e *DuplicateHashError) Error() string {
	return fmt.Sprintf("transaction %s is already in flight", e.Hash)
}
