package core

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error by the stage that produced it.
// Values are stable for wire compatibility.
type Kind string

const (
	// KindTemplating is an unresolved or malformed parameter reference.
	KindTemplating Kind = "templating"

	// KindExecution is a data source rejecting the processed query.
	KindExecution Kind = "execution"

	// KindTransform is a snippet failing inside the sandbox.
	KindTransform Kind = "transform"

	// KindNotFound is an unknown session, hash, share or definition.
	KindNotFound Kind = "not_found"

	// KindInvalidArgument is a malformed request or definition.
	KindInvalidArgument Kind = "invalid_argument"

	// KindInternal is everything else (persistence, bugs).
	KindInternal Kind = "internal"
)

// HTTPStatus maps a Kind to the status code the API answers with.
func HTTPStatus(k Kind) int {
	switch k {
	case KindNotFound:
		return http.StatusNotFound
	case KindTemplating, KindTransform:
		return http.StatusUnprocessableEntity
	case KindExecution:
		return http.StatusBadGateway
	case KindInvalidArgument:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// Error is the structured error returned by every core operation.
// Op names the stage ("resolve", "execute", "run", "share"), Diagnostics
// carries captured print output or driver detail when available.
type Error struct {
	Kind        Kind
	Op          string
	Msg         string
	Diagnostics string
	Line        int
	Column      int
	cause       error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	msg := e.Msg
	if e.Line > 0 {
		msg = fmt.Sprintf("%d:%d: %s", e.Line, e.Column, msg)
	}
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", msg, e.cause)
	}
	return msg
}

// Unwrap returns the wrapped cause, if any.
func (e *Error) Unwrap() error { return e.cause }

// Message returns the human readable message including the cause.
func (e *Error) Message() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.cause)
	}
	return e.Msg
}

// Errorf creates a new error of the given kind.
func Errorf(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Msg: fmt.Sprintf(format, args...)}
}

// Wrap wraps cause with a kind and message. A nil cause yields nil.
func Wrap(cause error, kind Kind, op, msg string) *Error {
	if cause == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Msg: msg, cause: cause}
}

// WithDiagnostics returns e with captured output attached.
func (e *Error) WithDiagnostics(out string) *Error {
	e.Diagnostics = out
	return e
}

// At returns e with a source position attached.
func (e *Error) At(line, column int) *Error {
	e.Line = line
	e.Column = column
	return e
}

// AsError extracts an *Error from any error chain.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// KindOf returns the Kind of err, KindInternal for foreign errors.
func KindOf(err error) Kind {
	if e, ok := AsError(err); ok {
		return e.Kind
	}
	return KindInternal
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, k Kind) bool {
	e, ok := AsError(err)
	return ok && e.Kind == k
}

// DiagnosticsOf returns captured diagnostics attached anywhere in err's chain.
func DiagnosticsOf(err error) string {
	if e, ok := AsError(err); ok {
		return e.Diagnostics
	}
	return ""
}
