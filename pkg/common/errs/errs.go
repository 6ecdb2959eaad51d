// Package errs defines the error kinds shared by heapdb components.
//
// Every failure surfaced by the storage layer wraps one of the sentinel
// kinds below, so callers can branch with errors.Is regardless of which
// package produced the error.
package errs

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation marks malformed schemas, record/schema mismatches,
	// unknown field names and attempts to index non-integer fields
	ErrValidation = errors.New("validation error")

	// ErrBounds marks a bit or block index outside its valid range
	ErrBounds = errors.New("index out of bounds")

	// ErrCapacity marks an exhausted block address space
	ErrCapacity = errors.New("capacity exhausted")

	// ErrStorage marks I/O failures and on-disk format mismatches
	ErrStorage = errors.New("storage error")
)

// Error wraps an underlying cause with its kind and the operation that failed
type Error struct {
	Kind error
	Op   string
	Err  error
}

// Error returns the error string
func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %v", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %v: %v", e.Op, e.Kind, e.Err)
}

// Unwrap returns the wrapped cause
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is the kind of this error
func (e *Error) Is(target error) bool {
	return e.Kind == target
}

// Wrap attaches a kind and operation name to err. A nil err yields nil.
func Wrap(kind error, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

func newf(kind error, op, format string, args ...interface{}) error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// Validation creates an ErrValidation error
func Validation(op, format string, args ...interface{}) error {
	return newf(ErrValidation, op, format, args...)
}

// Bounds creates an ErrBounds error
func Bounds(op, format string, args ...interface{}) error {
	return newf(ErrBounds, op, format, args...)
}

// Capacity creates an ErrCapacity error
func Capacity(op, format string, args ...interface{}) error {
	return newf(ErrCapacity, op, format, args...)
}

// Storage creates an ErrStorage error
func Storage(op, format string, args ...interface{}) error {
	return newf(ErrStorage, op, format, args...)
}

// IsValidation checks if err is a validation error
func IsValidation(err error) bool { return errors.Is(err, ErrValidation) }

// IsBounds checks if err is a bounds error
func IsBounds(err error) bool { return errors.Is(err, ErrBounds) }

// IsCapacity checks if err is a capacity error
func IsCapacity(err error) bool { return errors.Is(err, ErrCapacity) }

// IsStorage checks if err is a storage error
func IsStorage(err error) bool { return errors.Is(err, ErrStorage) }
