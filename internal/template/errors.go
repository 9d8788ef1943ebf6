package template

import (
	"errors"
	"fmt"

	"github.com/leapstack-labs/leapdash/pkg/core"
)

// Error is the base interface for all template errors.
type Error interface {
	error
	Position() Position
}

// baseError provides common error functionality.
type baseError struct {
	pos Position
	msg string
}

func (e *baseError) Position() Position { return e.pos }
func (e *baseError) Error() string {
	if e.pos.File != "" {
		return fmt.Sprintf("%s:%d:%d: %s", e.pos.File, e.pos.Line, e.pos.Column, e.msg)
	}
	return fmt.Sprintf("%d:%d: %s", e.pos.Line, e.pos.Column, e.msg)
}

// LexError represents an error during lexical analysis.
type LexError struct {
	baseError
}

// NewLexError creates a new lexer error.
func NewLexError(pos Position, msg string) *LexError {
	return &LexError{baseError: baseError{pos: pos, msg: msg}}
}

// UndeclaredError is a placeholder naming no declared parameter.
type UndeclaredError struct {
	baseError
	Name string
}

// NewUndeclaredError creates a new undeclared parameter error.
func NewUndeclaredError(pos Position, name string) *UndeclaredError {
	return &UndeclaredError{
		baseError: baseError{pos: pos, msg: fmt.Sprintf("undeclared parameter %q", name)},
		Name:      name,
	}
}

// ValueError represents a parameter value that cannot be rendered.
type ValueError struct {
	baseError
	Param string
	Cause error
}

// WrapValueError wraps an underlying error as a value error.
func WrapValueError(pos Position, param string, cause error) *ValueError {
	return &ValueError{
		baseError: baseError{pos: pos, msg: fmt.Sprintf("parameter %q", param)},
		Param:     param,
		Cause:     cause,
	}
}

func (e *ValueError) Error() string {
	return fmt.Sprintf("%s: %v", e.baseError.Error(), e.Cause)
}

func (e *ValueError) Unwrap() error {
	return e.Cause
}

// toCore converts a template error into the shared error taxonomy.
func toCore(err error) error {
	if err == nil {
		return nil
	}
	var te Error
	if !errors.As(err, &te) {
		return core.Wrap(err, core.KindTemplating, "resolve", "template error")
	}
	pos := te.Position()
	msg := err.Error()
	var be interface{ message() string }
	if errors.As(err, &be) {
		msg = be.message()
	}
	return core.Errorf(core.KindTemplating, "resolve", "%s", msg).At(pos.Line, pos.Column)
}

func (e *baseError) message() string { return e.msg }

func (e *ValueError) message() string {
	return fmt.Sprintf("%s: %v", e.msg, e.Cause)
}
