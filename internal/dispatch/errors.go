package dispatch

import (
	"errors"
	"fmt"
)

// Code categorizes dispatch errors.
type Code string

const (
	// CodeUnknownMethod indicates no handler is registered for the method.
	CodeUnknownMethod Code = "UNKNOWN_METHOD"

	// CodeInvalidArguments indicates the command failed its argument schema.
	CodeInvalidArguments Code = "INVALID_ARGUMENTS"

	// CodeHandlerFailure indicates the handler returned an error or panicked.
	CodeHandlerFailure Code = "HANDLER_FAILURE"
)

// Error is a classified dispatch failure.
// It is logged and counted; it never reaches the control plane.
type Error struct {
	// Code identifies the error category.
	Code Code

	// Method is the command's method name.
	Method string

	// CommandID is the command's id.
	CommandID int64

	// Message is a human-readable description.
	Message string

	// Suggestion is the closest registered method for CodeUnknownMethod.
	Suggestion string

	// Err is the underlying handler or schema error.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s (method=%s, id=%d)", e.Code, e.Message, e.Method, e.CommandID)
	if e.Suggestion != "" {
		msg += fmt.Sprintf("; did you mean %q?", e.Suggestion)
	}
	return msg
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// CodeOf returns the dispatch code of err, or "" when err is not a
// dispatch error.
func CodeOf(err error) Code {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return ""
}

// IsUnknownMethod returns true if the error is an unknown method error.
// Uses errors.As to handle wrapped errors.
func IsUnknownMethod(err error) bool {
	return CodeOf(err) == CodeUnknownMethod
}

// IsInvalidArguments returns true if the error is a schema violation.
// Uses errors.As to handle wrapped errors.
func IsInvalidArguments(err error) bool {
	return CodeOf(err) == CodeInvalidArguments
}

// IsHandlerFailure returns true if the error came from a handler.
// Uses errors.As to handle wrapped errors.
func IsHandlerFailure(err error) bool {
	return CodeOf(err) == CodeHandlerFailure
}

// PanicError wraps a value recovered from a panicking handler.
type PanicError struct {
	Value any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("handler panic: %v", e.Value)
}
