package schema

import (
	"errors"
	"fmt"
)

// Error codes for structured error reporting.
const (
	ErrCodeValidation        = "VALIDATION_ERROR"
	ErrCodeIndexOutOfRange   = "INDEX_OUT_OF_RANGE"
	ErrCodeInvalidMapping    = "INVALID_MAPPING"
	ErrCodeInvalidExpression = "INVALID_EXPRESSION"
	ErrCodeEvaluation        = "EVALUATION_ERROR"
	ErrCodeInvalidSchedule   = "INVALID_SCHEDULE"
	ErrCodeImport            = "IMPORT_ERROR"
	ErrCodeNotFound          = "NOT_FOUND"
	ErrCodeUnknownCommand    = "UNKNOWN_COMMAND"
)

// PipelineError is the structured error type returned by every builder operation.
type PipelineError struct {
	Code      string         `json:"code"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	StepIndex *int           `json:"step_index,omitempty"`
	Cause     error          `json:"-"`
}

func (e *PipelineError) Error() string {
	if e.StepIndex != nil {
		return fmt.Sprintf("[%s] step %d: %s", e.Code, *e.StepIndex, e.Message)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *PipelineError) Unwrap() error {
	return e.Cause
}

// NewError creates a new PipelineError.
func NewError(code, message string) *PipelineError {
	return &PipelineError{Code: code, Message: message}
}

// NewErrorf creates a new PipelineError with a formatted message.
func NewErrorf(code, format string, args ...any) *PipelineError {
	return &PipelineError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithStep attaches the array position of the offending step.
func (e *PipelineError) WithStep(index int) *PipelineError {
	e.StepIndex = &index
	return e
}

// WithCause attaches an underlying cause.
func (e *PipelineError) WithCause(err error) *PipelineError {
	e.Cause = err
	return e
}

// WithDetails attaches key-value details.
func (e *PipelineError) WithDetails(details map[string]any) *PipelineError {
	e.Details = details
	return e
}

// IsCode reports whether err (or anything it wraps) is a PipelineError with the given code.
func IsCode(err error, code string) bool {
	var pe *PipelineError
	if !errors.As(err, &pe) {
		return false
	}
	return pe.Code == code
}

// IndexOutOfRange builds the error returned when a step position is outside [0, length).
func IndexOutOfRange(index, length int) *PipelineError {
	return NewErrorf(ErrCodeIndexOutOfRange, "index %d out of range [0, %d)", index, length).
		WithDetails(map[string]any{"index": index, "length": length})
}
