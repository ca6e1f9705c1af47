package common

import (
	"errors"
	"fmt"
)

// ErrCancelled marks work that stopped because a caller asked it to.
// Cancellation is a terminal state, not a failure; callers compare with errors.Is.
var ErrCancelled = errors.New("query cancelled")

// NotFoundError is returned for an unknown connection, task or cache key.
type NotFoundError struct {
	Kind string // "connection", "query", "transaction"
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s '%s' not found", e.Kind, e.ID)
}

// NativeError carries the diagnostic text of a failed native call.
// Session-level timeouts are reported through this type as well.
type NativeError struct {
	Op      string // "connect", "execute", "fetch", "describe"
	Message string
	Err     error
}

func (e *NativeError) Error() string {
	if e.Op == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Message)
}

func (e *NativeError) Unwrap() error {
	return e.Err
}

// InvalidArgumentError rejects input before any native call is made.
type InvalidArgumentError struct {
	Field  string
	Reason string
}

func (e *InvalidArgumentError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("invalid argument: %s", e.Reason)
	}
	return fmt.Sprintf("invalid argument %s: %s", e.Field, e.Reason)
}

// InvalidStateError is returned when an operation is not legal in the current state,
// e.g. COMMIT without an open transaction.
type InvalidStateError struct {
	Reason string
}

func (e *InvalidStateError) Error() string {
	return e.Reason
}

// NewNotFound is a shorthand used by registries.
func NewNotFound(kind, id string) error {
	return &NotFoundError{Kind: kind, ID: id}
}

// NewInvalidArgument is a shorthand used by validation helpers.
func NewInvalidArgument(field, reason string) error {
	return &InvalidArgumentError{Field: field, Reason: reason}
}

// IsNotFound reports whether err (or anything it wraps) is a NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// IsInvalidArgument reports whether err (or anything it wraps) is an InvalidArgumentError.
func IsInvalidArgument(err error) bool {
	var ia *InvalidArgumentError
	return errors.As(err, &ia)
}

// IsNative reports whether err (or anything it wraps) is a NativeError.
func IsNative(err error) bool {
	var ne *NativeError
	return errors.As(err, &ne)
}
