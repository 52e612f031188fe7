// Package errs defines the sentinel and structured error types shared across
// the lifecycle manager, policy engine, secret store, and tool surface.
package errs

import (
	"errors"
	"fmt"
)

// Sentinel errors callers can match with errors.Is.
var (
	ErrUnknownComponent = errors.New("unknown component")
	ErrAlreadyLoaded     = errors.New("component already loaded")
	ErrLoadFailed        = errors.New("component load failed")
	ErrPolicyViolation   = errors.New("policy violation")
	ErrInvalidArguments  = errors.New("invalid arguments")
	ErrTimeout           = errors.New("operation timed out")
	ErrCancelled         = errors.New("operation cancelled")
	ErrResourceExhausted = errors.New("resource exhausted")
	ErrInvalidLimit      = errors.New("invalid resource limit")
	ErrUnsupportedType   = errors.New("unsupported type")
)

// Code is the stable error code surfaced to the transport (see EXTERNAL
// INTERFACES).
type Code string

const (
	CodeUnknownComponent Code = "UnknownComponent"
	CodeAlreadyLoaded    Code = "AlreadyLoaded"
	CodeLoadFailed       Code = "LoadFailed"
	CodePolicyViolation  Code = "PolicyViolation"
	CodeInvalidArguments Code = "InvalidArguments"
	CodeTimeout          Code = "Timeout"
	CodeCancelled        Code = "Cancelled"
	CodeResourceExhausted Code = "ResourceExhausted"
	CodeInternal         Code = "Internal"
)

// codeBySentinel maps a sentinel error to its transport code. Order matters:
// errors.Is is checked against each sentinel in turn.
var codeBySentinel = []struct {
	err  error
	code Code
}{
	{ErrUnknownComponent, CodeUnknownComponent},
	{ErrAlreadyLoaded, CodeAlreadyLoaded},
	{ErrLoadFailed, CodeLoadFailed},
	{ErrPolicyViolation, CodePolicyViolation},
	{ErrInvalidArguments, CodeInvalidArguments},
	{ErrTimeout, CodeTimeout},
	{ErrCancelled, CodeCancelled},
	{ErrResourceExhausted, CodeResourceExhausted},
}

// CodeFor resolves the transport error code for err, defaulting to Internal
// when no sentinel matches.
func CodeFor(err error) Code {
	if err == nil {
		return ""
	}
	for _, c := range codeBySentinel {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	return CodeInternal
}

// ComponentError wraps an error with the component ID it concerns, so logs
// and MCP error payloads can carry the subject without re-parsing messages.
type ComponentError struct {
	ComponentID string
	Op          string
	Err         error
}

func (e *ComponentError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.ComponentID, e.Err)
}

func (e *ComponentError) Unwrap() error { return e.Err }

// Wrap builds a ComponentError, the form most callers in this module reach
// for when an operation on a specific component fails.
func Wrap(op, componentID string, err error) error {
	if err == nil {
		return nil
	}
	return &ComponentError{ComponentID: componentID, Op: op, Err: err}
}
