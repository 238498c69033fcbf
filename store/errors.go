package store

import (
	"errors"
)

// Common store errors. Backends wrap their driver errors into these
// sentinels so that callers can branch with errors.Is regardless of the
// backend in use.
var (
	// ErrNotFound is returned when a message or delivery record doesn't exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidID is returned when an ID is malformed or empty.
	ErrInvalidID = errors.New("invalid id")

	// ErrDuplicateEntry is returned when a unique constraint is violated,
	// such as inserting a second record for the same (message, user) pair.
	ErrDuplicateEntry = errors.New("duplicate entry")

	// ErrNotConnected is returned when an operation is attempted before
	// Connect or after Close.
	ErrNotConnected = errors.New("not connected")

	// ErrAlreadyConnected is returned when Connect is called twice.
	ErrAlreadyConnected = errors.New("already connected")

	// ErrFilterInvalid is returned when a filter references an unknown
	// field or uses an operator the field does not support.
	ErrFilterInvalid = errors.New("invalid filter")

	// ErrUnavailable is returned when the backend is unreachable or a
	// store call exceeded its timeout. Safe to retry.
	ErrUnavailable = errors.New("store unavailable")

	// ErrTransactionFailed is returned when a multi-statement operation
	// could not commit. Safe to retry.
	ErrTransactionFailed = errors.New("transaction failed")
)

// IsNotFound reports whether err indicates a missing message or record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsDuplicate reports whether err indicates a unique constraint violation.
func IsDuplicate(err error) bool {
	return errors.Is(err, ErrDuplicateEntry)
}

// IsRetryable reports whether the operation that produced err can be
// retried safely.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrUnavailable) || errors.Is(err, ErrTransactionFailed)
}
