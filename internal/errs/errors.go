// Package errs defines the closed error-kind taxonomy used across the
// orchestration core so every layer — tool invocation, worker runtime,
// ReAct engine, run orchestrator — classifies failures the same way.
package errs

import (
	"errors"
	"fmt"
)

// Kind is a member of the closed error taxonomy.
type Kind string

const (
	InvalidInput         Kind = "invalid_input"
	ToolTimeout          Kind = "tool_timeout"
	ToolNotFound         Kind = "tool_not_found"
	ToolPermissionDenied Kind = "tool_permission_denied"
	ToolExecutionError   Kind = "tool_execution_error"
	ConnectorUnavailable Kind = "connector_unavailable"
	LLMTransportError    Kind = "llm_transport_error"
	LLMInvalidResponse   Kind = "llm_invalid_response"
	IterationLimit       Kind = "iteration_limit"
	WorkerTimeout        Kind = "worker_timeout"
	WorkerCrashed        Kind = "worker_crashed"
	RetriesExhausted     Kind = "retries_exhausted"
	Cancelled            Kind = "cancelled"
	Internal             Kind = "internal"
)

// Retryable reports whether the LLM-transport retry loop should keep trying
// after observing an error of this kind.
func (k Kind) Retryable() bool {
	switch k {
	case ConnectorUnavailable, LLMTransportError:
		return true
	default:
		return false
	}
}

// Fatal reports whether this error kind terminates the run rather than
// being recovered locally and surfaced to the LLM as a tool reply.
func (k Kind) Fatal() bool {
	switch k {
	case IterationLimit, RetriesExhausted, Internal, Cancelled:
		return true
	default:
		return false
	}
}

// Error wraps an underlying error with a classified Kind.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// New constructs a classified Error.
func New(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Err: cause}
}

// As extracts the Kind of err, defaulting to Internal when err does not
// carry one.
func As(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Internal
}
