package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies a domain error so transports can render it distinctly.
type Kind string

const (
	KindValidation       Kind = "validation"
	KindNotFound         Kind = "not_found"
	KindPermission       Kind = "permission"
	KindConflict         Kind = "conflict"
	KindAllocatorFailure Kind = "allocator_failure"
)

// Error is the typed error returned by the membership and team rule engines.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Err     error
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (%s): %v", e.Kind, e.Message, e.Code, e.Err)
	}
	return fmt.Sprintf("%s: %s (%s)", e.Kind, e.Message, e.Code)
}

// Unwrap returns the underlying cause
func (e *Error) Unwrap() error {
	return e.Err
}

func newError(kind Kind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

// Validation reports malformed input.
func Validation(code, message string) *Error {
	return newError(KindValidation, code, message)
}

// Validationf wraps a cause (usually a validator.ValidationErrors) as a validation error.
func Validationf(code string, cause error, format string, args ...any) *Error {
	e := newError(KindValidation, code, fmt.Sprintf(format, args...))
	e.Err = cause
	return e
}

// NotFound reports a missing membership, team or member record.
func NotFound(code, message string) *Error {
	return newError(KindNotFound, code, message)
}

// Permission reports an actor lacking the role a transition requires.
func Permission(code, message string) *Error {
	return newError(KindPermission, code, message)
}

// Conflict reports that the requested target state is already reached or blocked.
func Conflict(code, message string) *Error {
	return newError(KindConflict, code, message)
}

// AllocatorFailure reports that no MECA ID could be produced.
func AllocatorFailure(cause error) *Error {
	e := newError(KindAllocatorFailure, "meca_id_allocation_failed", "could not allocate a MECA ID")
	e.Err = cause
	return e
}

// KindOf returns the kind of the first *Error in the chain, or "" if there is none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

func IsValidation(err error) bool       { return KindOf(err) == KindValidation }
func IsNotFound(err error) bool         { return KindOf(err) == KindNotFound }
func IsPermission(err error) bool       { return KindOf(err) == KindPermission }
func IsConflict(err error) bool         { return KindOf(err) == KindConflict }
func IsAllocatorFailure(err error) bool { return KindOf(err) == KindAllocatorFailure }

// HTTPStatus maps an error to the status code the API answers with.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindValidation:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindPermission:
		return http.StatusForbidden
	case KindConflict:
		return http.StatusConflict
	case KindAllocatorFailure:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
