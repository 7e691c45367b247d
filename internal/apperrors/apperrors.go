// Package apperrors defines the typed failures returned by the trip,
// maintenance and payment operations.
package apperrors

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies a failure.
type Kind string

const (
	KindNotFound            Kind = "NotFound"
	KindInvalidTransition   Kind = "InvalidTransition"
	KindPreconditionFailed  Kind = "PreconditionFailed"
	KindImplausibleDistance Kind = "ImplausibleDistance"
	KindConflict            Kind = "Conflict"
)

// Sentinels for errors.Is.
var (
	ErrNotFound            = &Error{Kind: KindNotFound}
	ErrInvalidTransition   = &Error{Kind: KindInvalidTransition}
	ErrPreconditionFailed  = &Error{Kind: KindPreconditionFailed}
	ErrImplausibleDistance = &Error{Kind: KindImplausibleDistance}
	ErrConflict            = &Error{Kind: KindConflict}
)

// Error is a business failure with a human-readable reason.
type Error struct {
	Kind   Kind
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e.Reason == "" {
		return string(e.Kind)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Reason)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

func newError(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Reason: fmt.Sprintf(format, args...)}
}

// NotFound reports a referenced entity that does not exist.
func NotFound(format string, args ...any) *Error {
	return newError(KindNotFound, format, args...)
}

// Precondition reports a violated business rule.
func Precondition(format string, args ...any) *Error {
	return newError(KindPreconditionFailed, format, args...)
}

// Implausible reports a completion distance outside the accepted band.
func Implausible(format string, args ...any) *Error {
	return newError(KindImplausibleDistance, format, args...)
}

// Conflict reports a lost concurrent write. Callers may re-read and retry.
func Conflict(format string, args ...any) *Error {
	return newError(KindConflict, format, args...)
}

// InvalidTransition reports a state change the transition table forbids.
func InvalidTransition[S ~string](entity string, from, to S) *Error {
	return newError(KindInvalidTransition, "%s cannot move from %s to %s", entity, from, to)
}

// KindOf returns the kind of err, or "" for errors outside this package.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsBusiness reports whether err is a recoverable business failure
// rather than an infrastructure error.
func IsBusiness(err error) bool {
	return KindOf(err) != ""
}

// HTTPStatus maps an error to the status the HTTP adapter returns.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindNotFound:
		return http.StatusNotFound
	case KindPreconditionFailed, KindImplausibleDistance:
		return http.StatusBadRequest
	case KindInvalidTransition, KindConflict:
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}
