// Package apperr is the error taxonomy shared by the domain packages and the
// command handlers. Expected business conditions are returned as *Error
// values; anything else is turned into a Failure at the handler boundary.
package apperr

import (
	"errors"
	"fmt"
)

type Kind int

const (
	KindFailure Kind = iota
	KindNotFound
	KindValidation
	KindConflict
	KindUnauthorized
	KindForbidden
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindValidation:
		return "validation"
	case KindConflict:
		return "conflict"
	case KindUnauthorized:
		return "unauthorized"
	case KindForbidden:
		return "forbidden"
	default:
		return "failure"
	}
}

// Error is a typed outcome. Two errors with the same Code match under
// errors.Is, so package-level sentinels can be decorated with Details and
// still be recognised by callers.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Details any
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// WithDetails returns a copy of e carrying the given details.
func (e *Error) WithDetails(d any) *Error {
	cp := *e
	cp.Details = d
	return &cp
}

// WithMessage returns a copy of e with a more specific message.
func (e *Error) WithMessage(format string, args ...any) *Error {
	cp := *e
	cp.Message = fmt.Sprintf(format, args...)
	return &cp
}

func New(kind Kind, code, msg string) *Error {
	return &Error{Kind: kind, Code: code, Message: msg}
}

func NotFound(code, msg string) *Error     { return New(KindNotFound, code, msg) }
func Validation(code, msg string) *Error   { return New(KindValidation, code, msg) }
func Conflict(code, msg string) *Error     { return New(KindConflict, code, msg) }
func Unauthorized(code, msg string) *Error { return New(KindUnauthorized, code, msg) }
func Forbidden(code, msg string) *Error    { return New(KindForbidden, code, msg) }

// Failure wraps an unexpected error, keeping its message for diagnostics.
func Failure(err error) *Error {
	return &Error{Kind: KindFailure, Code: "failure", Message: "unexpected failure", Err: err}
}

// KindOf reports the kind of err. Errors outside the taxonomy are failures.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindFailure
}

// Wrap leaves typed errors untouched and converts everything else into a
// Failure.
func Wrap(err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	return Failure(err)
}

// Retryable reports whether the caller may retry the same request.
func Retryable(err error) bool {
	return errors.Is(err, ErrConcurrentModification) || KindOf(err) == KindFailure
}

var ErrConcurrentModification = Conflict("concurrent_modification", "resource was modified by another request")
