// Package concore provides ES2022-inspired error types with cause chain support.
package concore

import (
	"errors"
	"fmt"
)

// Kind identifies the class of failure raised by a core subsystem.
// Kinds are sentinel values suitable for [errors.Is]; the concrete
// type returned to callers is always [*Error].
type Kind int

const (
	// AlreadySatisfied: a promise is being set a second time.
	AlreadySatisfied Kind = iota
	// Uninitialized: a future has no shared state (zero-value use).
	Uninitialized
	// InvalidSlot: a hazard-pointer slot index is out of range.
	InvalidSlot
	// InvalidArgument: a non-positive rate, non-power-of-two width, etc.
	InvalidArgument
	// LogicError: a state-machine desync that must never happen.
	LogicError
	// UserException: a continuation body panicked; captured verbatim
	// and forwarded into the downstream future.
	UserException
)

// Error implements the error interface, so a bare Kind value can be
// passed directly to errors.Is(err, concore.AlreadySatisfied).
func (k Kind) Error() string {
	return k.String()
}

// String returns the kind's name.
func (k Kind) String() string {
	switch k {
	case AlreadySatisfied:
		return "AlreadySatisfied"
	case Uninitialized:
		return "Uninitialized"
	case InvalidSlot:
		return "InvalidSlot"
	case InvalidArgument:
		return "InvalidArgument"
	case LogicError:
		return "LogicError"
	case UserException:
		return "UserException"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Error is the concrete error type raised by every core subsystem. It
// carries a [Kind], a human-readable message, and an optional wrapped
// cause (e.g. the value a continuation panicked with, for
// [UserException]).
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Message == "" {
		return e.Kind.String()
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap returns the underlying cause for use with [errors.Is] and [errors.As].
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is lets a bare Kind value match via errors.Is(err, concore.AlreadySatisfied).
func (e *Error) Is(target error) bool {
	if k, ok := target.(Kind); ok {
		return k == e.Kind
	}
	return false
}

// newErr constructs an *Error of the given kind.
func newErr(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// NewError constructs an *Error of the given kind, with an optional cause.
func NewError(kind Kind, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// WrapError wraps an error with a message and cause chain. The result
// satisfies errors.Is(result, cause) == true.
func WrapError(message string, cause error) error {
	return fmt.Errorf("%s: %w", message, cause)
}

// IsKind reports whether err (or anything in its chain) is a [*Error]
// of the given [Kind].
func IsKind(err error, kind Kind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == kind
}
