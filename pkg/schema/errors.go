package schema

import (
	"errors"
	"fmt"
)

// Error codes for structured error reporting.
const (
	ErrCodeValidation         = "VALIDATION_ERROR"
	ErrCodeExecution          = "EXECUTION_ERROR"
	ErrCodeTimeout            = "TIMEOUT_ERROR"
	ErrCodeNotFound           = "NOT_FOUND"
	ErrCodeConflict           = "CONFLICT"
	ErrCodeInvalidTransition  = "INVALID_TRANSITION"
	ErrCodeStore              = "STORE_ERROR"
	ErrCodeInterpolation      = "INTERPOLATION_ERROR"
	ErrCodeVault              = "VAULT_ERROR"
	ErrCodeRetryExhausted     = "RETRY_EXHAUSTED"
	ErrCodeNonRetryable       = "NON_RETRYABLE"
	ErrCodeDuplicateExecution = "DUPLICATE_EXECUTION"
	ErrCodeWorkflowInactive   = "WORKFLOW_INACTIVE"
	ErrCodeTemplateNotFound   = "TEMPLATE_NOT_FOUND"
	ErrCodeSendFailure        = "SEND_FAILURE"
	ErrCodeCriticalProcessing = "CRITICAL_PROCESSING_ERROR"
)

// LeadflowError is the structured error type returned across package boundaries.
type LeadflowError struct {
	Code      string         `json:"code"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	StepOrder int            `json:"step_order,omitempty"`
	Cause     error          `json:"-"`
}

func (e *LeadflowError) Error() string {
	if e.StepOrder > 0 {
		return fmt.Sprintf("[%s] step %d: %s", e.Code, e.StepOrder, e.Message)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *LeadflowError) Unwrap() error {
	return e.Cause
}

// NewError creates a new LeadflowError.
func NewError(code, message string) *LeadflowError {
	return &LeadflowError{Code: code, Message: message}
}

// NewErrorf creates a new LeadflowError with a formatted message.
func NewErrorf(code, format string, args ...any) *LeadflowError {
	return &LeadflowError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithStep attaches a step order to the error.
func (e *LeadflowError) WithStep(order int) *LeadflowError {
	e.StepOrder = order
	return e
}

// WithCause attaches an underlying cause.
func (e *LeadflowError) WithCause(err error) *LeadflowError {
	e.Cause = err
	return e
}

// WithDetails attaches key-value details.
func (e *LeadflowError) WithDetails(details map[string]any) *LeadflowError {
	e.Details = details
	return e
}

// CodeOf returns the code of the first LeadflowError in err's chain, or "".
func CodeOf(err error) string {
	var lfErr *LeadflowError
	if errors.As(err, &lfErr) {
		return lfErr.Code
	}
	return ""
}

// IsCode reports whether err's chain carries a LeadflowError with the given code.
func IsCode(err error, code string) bool {
	return err != nil && CodeOf(err) == code
}

// IsRetryable reports whether a later attempt of the same operation may succeed.
func (e *LeadflowError) IsRetryable() bool {
	switch e.Code {
	case ErrCodeValidation, ErrCodeNotFound, ErrCodeConflict, ErrCodeInvalidTransition,
		ErrCodeNonRetryable, ErrCodeTemplateNotFound, ErrCodeDuplicateExecution,
		ErrCodeWorkflowInactive, ErrCodeInterpolation, ErrCodeVault:
		return false
	}
	return true
}
