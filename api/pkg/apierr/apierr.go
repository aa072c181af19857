// Package apierr defines the error-kind taxonomy shared by every control-plane
// component and the HTTP boundary that maps it to a status code.
package apierr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind is one of the error kinds enumerated in the control-plane specification.
type Kind string

const (
	KindBadRequest  Kind = "bad_request"
	KindInvalidPath Kind = "invalid_path"
	KindNotFound    Kind = "not_found"
	KindForbidden   Kind = "forbidden"
	KindConflict    Kind = "conflict"
	KindIO          Kind = "io"
	KindTimeout     Kind = "timeout"
)

// Error is the typed error every package returns for expected failure modes.
// Reason carries the machine-readable sub-kind (e.g. "no_control",
// "stop_requested", "auth_required") used by callers that branch on it.
type Error struct {
	Kind   Kind
	Reason string
	Detail string
	Err    error
}

func (e *Error) Error() string {
	if e.Detail != "" {
		return e.Detail
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return string(e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds an *Error with the given kind and a formatted detail message.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Detail: fmt.Sprintf(format, args...)}
}

// Wrap builds an *Error around an underlying error.
func Wrap(kind Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Detail: fmt.Sprintf(format, args...), Err: err}
}

// WithReason attaches a machine-readable reason code, e.g. for forbidden errors.
func (e *Error) WithReason(reason string) *Error {
	e.Reason = reason
	return e
}

// BadRequest is a convenience constructor for the common bad_request case.
func BadRequest(format string, args ...any) *Error { return New(KindBadRequest, format, args...) }

// InvalidPath is a convenience constructor for path validation failures.
func InvalidPath(format string, args ...any) *Error { return New(KindInvalidPath, format, args...) }

// NotFound is a convenience constructor for missing sessions/artifacts/logs.
func NotFound(format string, args ...any) *Error { return New(KindNotFound, format, args...) }

// Forbidden builds a forbidden error carrying a reason code.
func Forbidden(reason, format string, args ...any) *Error {
	return New(KindForbidden, format, args...).WithReason(reason)
}

// IO wraps a filesystem/process failure. Never mapped to success.
func IO(err error, format string, args ...any) *Error {
	return Wrap(KindIO, err, format, args...)
}

// As is a thin wrapper over errors.As for *Error, used at the HTTP boundary.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// HTTPStatus maps a Kind to the status code the specification requires.
func HTTPStatus(kind Kind) int {
	switch kind {
	case KindBadRequest, KindInvalidPath:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindForbidden:
		return http.StatusForbidden
	case KindConflict:
		return http.StatusConflict
	case KindTimeout, KindIO:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}
