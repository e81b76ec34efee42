package types

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// ErrorKind is the stable error taxonomy crossing component boundaries.
// Subsystems never surface raw provider errors; everything is normalized
// to one of these kinds first.
type ErrorKind string

const (
	ErrBudgetDenied        ErrorKind = "budget_denied"
	ErrInvalidRequest      ErrorKind = "invalid_request"
	ErrNoProviderAvailable ErrorKind = "no_provider_available"
	ErrProviderTransient   ErrorKind = "provider_transient"
	ErrProviderFatal       ErrorKind = "provider_fatal"
	ErrQueueConflict       ErrorKind = "queue_conflict"
	ErrStateCorruption     ErrorKind = "state_corruption"
)

// Error carries an error kind plus a human message across component
// boundaries. Provider-raw detail stays in the wrapped error and logs only.
type Error struct {
	Kind      ErrorKind
	Message   string
	Retryable bool
	// Remaining is set for budget denials so surfaces can report headroom.
	Remaining decimal.Decimal
	Err       error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// NewError builds a taxonomy error wrapping an optional cause.
func NewError(kind ErrorKind, msg string, cause error) *Error {
	return &Error{Kind: kind, Message: msg, Err: cause}
}

// Errorf builds a taxonomy error with a formatted message.
func Errorf(kind ErrorKind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// BudgetDeniedError builds a budget denial carrying the remaining budget.
func BudgetDeniedError(msg string, remaining decimal.Decimal) *Error {
	return &Error{Kind: ErrBudgetDenied, Message: msg, Remaining: remaining}
}

// KindOf extracts the taxonomy kind from an error chain. Unclassified
// errors report as state corruption so they are never silently retried.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ErrStateCorruption
}

// IsKind reports whether the error chain carries the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}
