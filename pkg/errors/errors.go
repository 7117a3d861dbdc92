// SPDX-License-Identifier: Apache-2.0
// Package errors provides the typed error taxonomy used across the crew engine.
// Every error surfaced by a kickoff carries its code, the task and agent it
// belongs to, and the underlying cause.
package errors

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"strings"
)

// ErrorCode classifies engine errors for propagation decisions and monitoring.
type ErrorCode string

const (
	// CodeInternal indicates an internal system error.
	CodeInternal ErrorCode = "INTERNAL_ERROR"

	// CodeConfig indicates malformed agent, task or crew construction.
	CodeConfig ErrorCode = "CONFIG_ERROR"

	// CodeAmbiguousRole indicates two delegation targets share a role. It is a ConfigError.
	CodeAmbiguousRole ErrorCode = "AMBIGUOUS_ROLE"

	// CodeTemplate indicates an unresolved placeholder at kickoff.
	CodeTemplate ErrorCode = "TEMPLATE_ERROR"

	// CodeAgentExecution indicates LLM calls exhausted their retries.
	CodeAgentExecution ErrorCode = "AGENT_EXECUTION_ERROR"

	// CodeToolUnavailable is a permanent tool failure; callers must not retry.
	CodeToolUnavailable ErrorCode = "TOOL_UNAVAILABLE"

	// CodeToolTimeout is a transient tool failure.
	CodeToolTimeout ErrorCode = "TOOL_TIMEOUT"

	// CodeToolLoopExceeded indicates the act-observe loop hit its iteration cap.
	CodeToolLoopExceeded ErrorCode = "TOOL_LOOP_EXCEEDED"

	// CodeAgentNotFound indicates no agent is registered under a delegation role.
	CodeAgentNotFound ErrorCode = "AGENT_NOT_FOUND"

	// CodeDelegationDepthExceeded indicates a delegation chain grew past its maximum depth.
	CodeDelegationDepthExceeded ErrorCode = "DELEGATION_DEPTH_EXCEEDED"

	// CodeRateLimitTimeout indicates a caller waited longer than the ceiling for a rate-limit slot.
	CodeRateLimitTimeout ErrorCode = "RATE_LIMIT_TIMEOUT"

	// CodeUpstreamFailure marks a task skipped because a dependency failed.
	CodeUpstreamFailure ErrorCode = "UPSTREAM_FAILURE"

	// CodeIO indicates an artifact write failure.
	CodeIO ErrorCode = "IO_ERROR"

	// CodeCancelled indicates the run was cancelled before the task ran.
	CodeCancelled ErrorCode = "CANCELLED"
)

// Sentinels for errors.Is matching by code.
var (
	ErrConfig                  = &Error{Code: CodeConfig}
	ErrAmbiguousRole           = &Error{Code: CodeAmbiguousRole}
	ErrTemplate                = &Error{Code: CodeTemplate}
	ErrAgentExecution          = &Error{Code: CodeAgentExecution}
	ErrToolUnavailable         = &Error{Code: CodeToolUnavailable}
	ErrToolTimeout             = &Error{Code: CodeToolTimeout}
	ErrToolLoopExceeded        = &Error{Code: CodeToolLoopExceeded}
	ErrAgentNotFound           = &Error{Code: CodeAgentNotFound}
	ErrDelegationDepthExceeded = &Error{Code: CodeDelegationDepthExceeded}
	ErrRateLimitTimeout        = &Error{Code: CodeRateLimitTimeout}
	ErrUpstreamFailure         = &Error{Code: CodeUpstreamFailure}
	ErrIO                      = &Error{Code: CodeIO}
	ErrCancelled               = &Error{Code: CodeCancelled}
)

// Error is a typed error with enough context to reconstruct a failure chain.
// It implements the error interface and can be unwrapped with errors.As().
type Error struct {
	Code        ErrorCode
	Message     string
	Err         error
	TaskID      string
	AgentID     string
	Context     map[string]interface{}
	Recoverable bool
}

// Error implements the error interface.
func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString("[")
	b.WriteString(string(e.Code))
	b.WriteString("] ")
	b.WriteString(e.Message)
	if e.TaskID != "" || e.AgentID != "" {
		b.WriteString(" (")
		if e.TaskID != "" {
			b.WriteString("task=")
			b.WriteString(e.TaskID)
		}
		if e.AgentID != "" {
			if e.TaskID != "" {
				b.WriteString(" ")
			}
			b.WriteString("agent=")
			b.WriteString(e.AgentID)
		}
		b.WriteString(")")
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Unwrap implements errors.Unwrap for error chain traversal.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches sentinel errors by code. An AmbiguousRole error also matches ErrConfig.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok || t.Message != "" || t.Err != nil {
		return false
	}
	if t.Code == e.Code {
		return true
	}
	return t.Code == CodeConfig && e.Code == CodeAmbiguousRole
}

// MarshalJSON implements json.Marshaler for structured logging.
func (e *Error) MarshalJSON() ([]byte, error) {
	var cause string
	if e.Err != nil {
		cause = e.Err.Error()
	}
	return json.Marshal(&struct {
		Code        string                 `json:"code"`
		Message     string                 `json:"message"`
		Err         string                 `json:"error,omitempty"`
		TaskID      string                 `json:"task_id,omitempty"`
		AgentID     string                 `json:"agent_id,omitempty"`
		Context     map[string]interface{} `json:"context,omitempty"`
		Recoverable bool                   `json:"recoverable"`
	}{
		Code:        string(e.Code),
		Message:     e.Message,
		Err:         cause,
		TaskID:      e.TaskID,
		AgentID:     e.AgentID,
		Context:     e.Context,
		Recoverable: e.Recoverable,
	})
}

// New creates a new Error with the given code, message, and cause.
func New(code ErrorCode, msg string, cause error) *Error {
	return &Error{
		Code:    code,
		Message: msg,
		Err:     cause,
		Context: make(map[string]interface{}),
	}
}

// Newf creates a new Error without a cause using a format string.
func Newf(code ErrorCode, format string, args ...interface{}) *Error {
	return New(code, fmt.Sprintf(format, args...), nil)
}

// WithContext adds a key-value pair to the error context.
// Returns the error for method chaining.
func (e *Error) WithContext(key string, value interface{}) *Error {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// WithRecoverable sets whether the error can be retried.
// Returns the error for method chaining.
func (e *Error) WithRecoverable(recoverable bool) *Error {
	e.Recoverable = recoverable
	return e
}

// WithTask records the owning task and agent when they are not already set.
// Errors raised deeper in a delegation chain keep their original owner.
func (e *Error) WithTask(taskID, agentID string) *Error {
	if e.TaskID == "" {
		e.TaskID = taskID
	}
	if e.AgentID == "" {
		e.AgentID = agentID
	}
	return e
}

// As attempts to convert an error to an *Error.
// Returns the error as *Error if one is in the chain, or wraps it as internal otherwise.
func As(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if stderrors.As(err, &e) {
		return e
	}
	return New(CodeInternal, "wrapped error", err)
}

// CodeOf returns the code of the first *Error in the chain, or CodeInternal.
func CodeOf(err error) ErrorCode {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}

// IsToolError reports whether err belongs to the ToolError family.
func IsToolError(err error) bool {
	switch CodeOf(err) {
	case CodeToolUnavailable, CodeToolTimeout, CodeToolLoopExceeded:
		return true
	}
	return false
}

// IsDelegationError reports whether err belongs to the DelegationError family.
func IsDelegationError(err error) bool {
	switch CodeOf(err) {
	case CodeAgentNotFound, CodeDelegationDepthExceeded:
		return true
	}
	return false
}

// IsConfigError reports whether err is a ConfigError (including AmbiguousRole).
func IsConfigError(err error) bool {
	return stderrors.Is(err, ErrConfig)
}

// IsRecoverable reports whether err is marked retryable.
func IsRecoverable(err error) bool {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Recoverable
	}
	return false
}

// RecoverableString returns "true" or "false" as a string for observability.
func (e *Error) RecoverableString() string {
	if e.Recoverable {
		return "true"
	}
	return "false"
}

// ToolUnavailable builds the permanent tool failure signal.
func ToolUnavailable(tool string, cause error) *Error {
	return New(CodeToolUnavailable, "tool unavailable", cause).
		WithContext("tool_name", tool).
		WithRecoverable(false)
}

// ToolTimeout builds the transient tool failure signal.
func ToolTimeout(tool string, cause error) *Error {
	return New(CodeToolTimeout, "tool call timed out", cause).
		WithContext("tool_name", tool).
		WithRecoverable(true)
}
