package tools

import (
	"errors"
	"fmt"
)

// ToolError represents a structured tool failure that preserves message and
// causal context while still implementing the standard error interface.
// Tool errors may be nested via Cause to retain diagnostics across retries
// and subagent delegation hops.
type ToolError struct {
	// Message is the human-readable summary of the failure.
	Message string
	// Cause links to the underlying tool error, enabling error chains with
	// errors.Is/As.
	Cause *ToolError
}

// NewToolError constructs a ToolError with the provided message.
func NewToolError(message string) *ToolError {
	if message == "" {
		message = "tool error"
	}
	return &ToolError{Message: message}
}

// NewToolErrorWithCause constructs a ToolError that wraps an underlying
// error, converting it into a ToolError chain that keeps each cause's
// message (e.g. a subagent returning a tool error from a nested session).
// errors.As finds the *ToolError links; causes that were not ToolErrors are
// replaced by ToolError copies, so errors.Is against their original values
// does not match.
func NewToolErrorWithCause(message string, cause error) *ToolError {
	if message == "" && cause != nil {
		message = cause.Error()
	}
	return &ToolError{Message: message, Cause: ToolErrorFromError(cause)}
}

// ToolErrorFromError converts an arbitrary error into a ToolError chain.
func ToolErrorFromError(err error) *ToolError {
	if err == nil {
		return nil
	}
	var te *ToolError
	if errors.As(err, &te) {
		return te
	}
	return &ToolError{Message: err.Error(), Cause: ToolErrorFromError(errors.Unwrap(err))}
}

// ToolErrorf formats according to a format specifier and returns the result
// as a ToolError.
func ToolErrorf(format string, args ...any) *ToolError {
	return NewToolError(fmt.Sprintf(format, args...))
}

// Error implements the error interface.
func (e *ToolError) Error() string {
	if e == nil {
		return ""
	}
	return e.Message
}

// Unwrap returns the underlying tool error to support errors.Is/As.
func (e *ToolError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}
