package tools

import (
	"errors"
	"fmt"
)

// ErrorKind classifies invocation failures
type ErrorKind string

const (
	KindUnknownTool       ErrorKind = "unknown_tool"
	KindUnauthorized      ErrorKind = "unauthorized"
	KindDenied            ErrorKind = "denied"
	KindRateLimited       ErrorKind = "rate_limited"
	KindInvalidParameters ErrorKind = "invalid_parameters"
	KindTimeout           ErrorKind = "timeout"
	KindFailed            ErrorKind = "failed"
)

// InvocationError reports a tool call that could not be completed
type InvocationError struct {
	Tool string
	Kind ErrorKind
	Err  error
}

func (e *InvocationError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("tool %s: %s", e.Tool, e.Kind)
	}
	return fmt.Sprintf("tool %s: %s: %v", e.Tool, e.Kind, e.Err)
}

func (e *InvocationError) Unwrap() error {
	return e.Err
}

// KindOf returns the kind of an InvocationError in err's chain, or "".
func KindOf(err error) ErrorKind {
	var ie *InvocationError
	if errors.As(err, &ie) {
		return ie.Kind
	}
	return ""
}

func invocationError(tool string, kind ErrorKind, err error) *InvocationError {
	return &InvocationError{Tool: tool, Kind: kind, Err: err}
}
