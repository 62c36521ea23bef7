package core

import (
	"errors"
	"fmt"
)

// ErrorCategory classifies errors for handling decisions.
type ErrorCategory string

const (
	ErrCatValidation  ErrorCategory = "validation"  // Invalid input
	ErrCatExecution   ErrorCategory = "execution"   // Step body failed
	ErrCatTimeout     ErrorCategory = "timeout"     // Step exceeded its timeout
	ErrCatRecovery    ErrorCategory = "recovery"    // Retry budget consumed
	ErrCatTerminal    ErrorCategory = "terminal"    // Command on a finished instance
	ErrCatPersistence ErrorCategory = "persistence" // Durable store unavailable
	ErrCatParse       ErrorCategory = "parse"       // Stage output failed schema decode
	ErrCatNotFound    ErrorCategory = "not_found"   // Resource not found
	ErrCatConflict    ErrorCategory = "conflict"    // Concurrent modification
	ErrCatInternal    ErrorCategory = "internal"    // Unexpected internal error
)

// DomainError represents a structured error from the domain layer.
type DomainError struct {
	Category  ErrorCategory
	Code      string
	Message   string
	Retryable bool
	Cause     error
	Details   map[string]interface{}
}

// Error implements the error interface.
func (e *DomainError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %s (%v)", e.Category, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Category, e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *DomainError) Unwrap() error {
	return e.Cause
}

// Is checks if this error matches a target.
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	return e.Category == t.Category && e.Code == t.Code
}

// WithCause wraps an underlying error.
func (e *DomainError) WithCause(cause error) *DomainError {
	e.Cause = cause
	return e
}

// WithDetail adds contextual information.
func (e *DomainError) WithDetail(key string, value interface{}) *DomainError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// Predefined error codes
const (
	CodeNotFound               = "NOT_FOUND"
	CodeWorkflowNotFound       = "WORKFLOW_NOT_FOUND"
	CodeWorkflowActive         = "WORKFLOW_ALREADY_ACTIVE"
	CodeTerminalState          = "TERMINAL_STATE_VIOLATION"
	CodeStepFailed             = "STEP_EXECUTION_FAILED"
	CodeRecoveryExhausted      = "RECOVERY_EXHAUSTED"
	CodePersistenceUnavailable = "PERSISTENCE_UNAVAILABLE"
	CodeVersionConflict        = "VERSION_CONFLICT"
	CodeParseFailed            = "PARSE_FAILED"
	CodeInvalidTransition      = "INVALID_STATUS_TRANSITION"
	CodeStateCorrupted         = "STATE_CORRUPTED"

	// Validation error codes
	CodeEmptyWorkflowID   = "EMPTY_WORKFLOW_ID"
	CodeInvalidWorkflowID = "INVALID_WORKFLOW_ID"
	CodeEmptyIncident     = "EMPTY_INCIDENT"
	CodeIncidentTooLong   = "INCIDENT_TOO_LONG"
	CodeInvalidConfig     = "INVALID_CONFIG"
	CodeUnknownStep       = "UNKNOWN_STEP"
	CodeInvalidTimeout    = "INVALID_TIMEOUT"
	CodeInvalidRetries    = "INVALID_RETRIES"
	CodeUnknownAgentName  = "UNKNOWN_AGENT"
	CodeInvalidRequest    = "INVALID_REQUEST"
)

// MaxIncidentLength is the maximum accepted incident text length.
const MaxIncidentLength = 100000

// ErrValidation creates a validation error.
func ErrValidation(code, message string) *DomainError {
	return &DomainError{
		Category:  ErrCatValidation,
		Code:      code,
		Message:   message,
		Retryable: false,
	}
}

// ErrStepExecution creates a recoverable step failure. The recovery policy
// of the step decides whether it is retried or failed over.
func ErrStepExecution(step string, cause error) *DomainError {
	return &DomainError{
		Category:  ErrCatExecution,
		Code:      CodeStepFailed,
		Message:   fmt.Sprintf("step %s failed", step),
		Retryable: true,
		Cause:     cause,
		Details:   map[string]interface{}{"step": step},
	}
}

// ErrTimeout creates a timeout error.
func ErrTimeout(message string) *DomainError {
	return &DomainError{
		Category:  ErrCatTimeout,
		Code:      "TIMEOUT",
		Message:   message,
		Retryable: true,
	}
}

// ErrRecoveryExhausted reports that a step consumed its retry budget.
func ErrRecoveryExhausted(step string, attempts int, cause error) *DomainError {
	return &DomainError{
		Category:  ErrCatRecovery,
		Code:      CodeRecoveryExhausted,
		Message:   fmt.Sprintf("step %s exhausted recovery after %d attempts", step, attempts),
		Retryable: false,
		Cause:     cause,
		Details: map[string]interface{}{
			"step":     step,
			"attempts": attempts,
		},
	}
}

// ErrTerminalState rejects a command aimed at a finished instance.
func ErrTerminalState(id WorkflowID, status Status) *DomainError {
	return &DomainError{
		Category:  ErrCatTerminal,
		Code:      CodeTerminalState,
		Message:   fmt.Sprintf("workflow %s is already %s; use a new id", id, status),
		Retryable: false,
		Details: map[string]interface{}{
			"workflow_id": string(id),
			"status":      string(status),
		},
	}
}

// ErrAlreadyActive rejects a second start for a running instance.
func ErrAlreadyActive(id WorkflowID, status Status) *DomainError {
	return &DomainError{
		Category:  ErrCatConflict,
		Code:      CodeWorkflowActive,
		Message:   fmt.Sprintf("workflow %s is already active (%s)", id, status),
		Retryable: false,
	}
}

// ErrPersistenceUnavailable reports a failed durable write or read.
func ErrPersistenceUnavailable(op string, cause error) *DomainError {
	return &DomainError{
		Category:  ErrCatPersistence,
		Code:      CodePersistenceUnavailable,
		Message:   fmt.Sprintf("state store unavailable during %s", op),
		Retryable: true,
		Cause:     cause,
	}
}

// ErrVersionConflict reports a fenced write: the stored record moved past
// the version the writer read.
func ErrVersionConflict(id WorkflowID, expected int64) *DomainError {
	return &DomainError{
		Category:  ErrCatConflict,
		Code:      CodeVersionConflict,
		Message:   fmt.Sprintf("workflow %s changed since version %d", id, expected),
		Retryable: true,
		Details: map[string]interface{}{
			"workflow_id":      string(id),
			"expected_version": expected,
		},
	}
}

// ErrParse creates a stage output decode error.
func ErrParse(field, message string) *DomainError {
	return &DomainError{
		Category:  ErrCatParse,
		Code:      CodeParseFailed,
		Message:   fmt.Sprintf("%s: %s", field, message),
		Retryable: true,
		Details:   map[string]interface{}{"field": field},
	}
}

// ErrNotFound creates a not found error.
func ErrNotFound(resource, id string) *DomainError {
	return &DomainError{
		Category:  ErrCatNotFound,
		Code:      CodeNotFound,
		Message:   fmt.Sprintf("%s not found: %s", resource, id),
		Retryable: false,
	}
}

// ErrWorkflowNotFound reports a command addressed to an id with no record.
func ErrWorkflowNotFound(id WorkflowID) *DomainError {
	return &DomainError{
		Category:  ErrCatNotFound,
		Code:      CodeWorkflowNotFound,
		Message:   fmt.Sprintf("workflow not found: %s", id),
		Retryable: false,
		Details:   map[string]interface{}{"workflow_id": string(id)},
	}
}

// ErrState creates a state error.
func ErrState(code, message string) *DomainError {
	return &DomainError{
		Category:  ErrCatInternal,
		Code:      code,
		Message:   message,
		Retryable: false,
	}
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	var domErr *DomainError
	if errors.As(err, &domErr) {
		return domErr.Retryable
	}
	return false
}

// GetCategory extracts the error category.
func GetCategory(err error) ErrorCategory {
	var domErr *DomainError
	if errors.As(err, &domErr) {
		return domErr.Category
	}
	return ErrCatInternal
}

// IsCategory checks if an error belongs to a category.
func IsCategory(err error, cat ErrorCategory) bool {
	return GetCategory(err) == cat
}

// IsConflict reports whether err is a fenced (version conflict) write.
func IsConflict(err error) bool {
	var domErr *DomainError
	if errors.As(err, &domErr) {
		return domErr.Code == CodeVersionConflict
	}
	return false
}
