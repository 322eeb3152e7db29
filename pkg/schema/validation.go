package schema

import "fmt"

// ValidationSeverity separates blocking issues from advisory ones.
type ValidationSeverity string

const (
	SeverityError   ValidationSeverity = "error"
	SeverityWarning ValidationSeverity = "warning"
)

// ValidationIssue is one finding. Path points into the definition, e.g.
// "steps[2].input_mapping.query".
type ValidationIssue struct {
	Path     string             `json:"path"`
	Code     string             `json:"code"`
	Message  string             `json:"message"`
	Severity ValidationSeverity `json:"severity"`
}

// ValidationResult collects issues found on a pipeline. Only errors make
// it invalid.
type ValidationResult struct {
	Errors   []ValidationIssue `json:"errors,omitempty"`
	Warnings []ValidationIssue `json:"warnings,omitempty"`
}

func (r *ValidationResult) Valid() bool {
	return len(r.Errors) == 0
}

func (r *ValidationResult) AddError(path, code, message string) {
	r.Errors = append(r.Errors, issue(path, code, message, SeverityError))
}

func (r *ValidationResult) AddWarning(path, code, message string) {
	r.Warnings = append(r.Warnings, issue(path, code, message, SeverityWarning))
}

func issue(path, code, message string, sev ValidationSeverity) ValidationIssue {
	return ValidationIssue{Path: path, Code: code, Message: message, Severity: sev}
}

// Merge appends the issues of other. A nil other is ignored.
func (r *ValidationResult) Merge(other *ValidationResult) {
	if other != nil {
		r.Errors = append(r.Errors, other.Errors...)
		r.Warnings = append(r.Warnings, other.Warnings...)
	}
}

// ToError returns nil for a valid result. A single error keeps its own
// code; several collapse into VALIDATION_ERROR. Every issue is listed in
// the details.
func (r *ValidationResult) ToError() error {
	if r.Valid() {
		return nil
	}

	first := r.Errors[0]
	code, msg := first.Code, first.Message
	if n := len(r.Errors); n > 1 {
		code, msg = ErrCodeValidation, fmt.Sprintf("validation failed with %d errors", n)
	}

	return NewError(code, msg).WithDetails(map[string]any{
		"error_count":   len(r.Errors),
		"warning_count": len(r.Warnings),
		"errors":        r.Errors,
		"warnings":      r.Warnings,
	})
}
