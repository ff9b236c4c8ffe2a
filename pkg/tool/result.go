package tool

import (
	"errors"
	"fmt"
)

// Result captures the outcome of a tool invocation. Error carries tool-level
// failures that should flow back to the model as an is_error tool result
// rather than aborting the loop.
type Result struct {
	Success bool
	Output  string
	Data    map[string]any
	Error   error
}

// Ok builds a successful result.
func Ok(output string) *Result { return &Result{Success: true, Output: output} }

// Fail builds a failed result whose message the model can react to.
func Fail(err error) *Result { return &Result{Success: false, Error: err} }

// ErrorKind distinguishes tool failure classes for callers that branch.
type ErrorKind string

const (
	ErrKindSchema     ErrorKind = "schema"
	ErrKindPermission ErrorKind = "permission"
	ErrKindSecurity   ErrorKind = "security"
	ErrKindExecution  ErrorKind = "execution"
	ErrKindTimeout    ErrorKind = "timeout"
	ErrKindCancelled  ErrorKind = "cancelled"
	ErrKindNotFound   ErrorKind = "not_found"
)

// Error is a typed tool failure.
type Error struct {
	Tool string
	Kind ErrorKind
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("tool %s: %s: %v", e.Tool, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// NewError wraps err as a typed tool failure.
func NewError(tool string, kind ErrorKind, err error) *Error {
	return &Error{Tool: tool, Kind: kind, Err: err}
}

// KindOf extracts the error kind, defaulting to execution.
func KindOf(err error) ErrorKind {
	var te *Error
	if errors.As(err, &te) {
		return te.Kind
	}
	return ErrKindExecution
}
