package schema

import (
	"fmt"
	"slices"
)

// ValidationSeverity indicates whether an issue is an error or warning.
type ValidationSeverity string

const (
	SeverityError   ValidationSeverity = "error"
	SeverityWarning ValidationSeverity = "warning"
)

// ValidationIssue is one problem found in a workflow definition. StepOrder is
// the 1-based position of the offending step in the definition, or 0 when
// the issue is not about a step.
type ValidationIssue struct {
	Path      string             `json:"path"`
	StepOrder int                `json:"step_order,omitempty"`
	Code      string             `json:"code"`
	Message   string             `json:"message"`
	Severity  ValidationSeverity `json:"severity"`
}

func (i ValidationIssue) String() string {
	if i.StepOrder > 0 {
		return fmt.Sprintf("step %d (%s): %s", i.StepOrder, i.Path, i.Message)
	}
	return fmt.Sprintf("%s: %s", i.Path, i.Message)
}

// ValidationResult collects the issues of one definition.
type ValidationResult struct {
	Errors   []ValidationIssue `json:"errors,omitempty"`
	Warnings []ValidationIssue `json:"warnings,omitempty"`
}

// Valid reports whether there are no errors. Warnings do not invalidate.
func (r *ValidationResult) Valid() bool {
	return len(r.Errors) == 0
}

// AddError records a definition-level error.
func (r *ValidationResult) AddError(path, code, message string) {
	r.Errors = append(r.Errors, ValidationIssue{
		Path: path, Code: code, Message: message, Severity: SeverityError,
	})
}

// AddWarning records a definition-level warning.
func (r *ValidationResult) AddWarning(path, code, message string) {
	r.Warnings = append(r.Warnings, ValidationIssue{
		Path: path, Code: code, Message: message, Severity: SeverityWarning,
	})
}

// AddStepError records an error on field of the step at index (0-based).
func (r *ValidationResult) AddStepError(index int, field, message string) {
	r.Errors = append(r.Errors, stepIssue(index, field, message, SeverityError))
}

// AddStepWarning records a warning on field of the step at index (0-based).
func (r *ValidationResult) AddStepWarning(index int, field, message string) {
	r.Warnings = append(r.Warnings, stepIssue(index, field, message, SeverityWarning))
}

func stepIssue(index int, field, message string, severity ValidationSeverity) ValidationIssue {
	path := fmt.Sprintf("steps[%d]", index)
	if field != "" {
		path += "." + field
	}
	return ValidationIssue{
		Path:      path,
		StepOrder: index + 1,
		Code:      ErrCodeValidation,
		Message:   message,
		Severity:  severity,
	}
}

// FailingSteps returns the step orders that carry at least one error, ascending.
func (r *ValidationResult) FailingSteps() []int {
	var steps []int
	for _, issue := range r.Errors {
		if issue.StepOrder > 0 && !slices.Contains(steps, issue.StepOrder) {
			steps = append(steps, issue.StepOrder)
		}
	}
	slices.Sort(steps)
	return steps
}

// Merge appends the issues of other.
func (r *ValidationResult) Merge(other *ValidationResult) {
	if other == nil {
		return
	}
	r.Errors = append(r.Errors, other.Errors...)
	r.Warnings = append(r.Warnings, other.Warnings...)
}

// ToError converts an invalid result into a VALIDATION_ERROR. When every
// error points at the same step the error carries that step order.
func (r *ValidationResult) ToError() error {
	if r.Valid() {
		return nil
	}

	msg := r.Errors[0].Message
	if len(r.Errors) > 1 {
		msg = fmt.Sprintf("workflow definition has %d errors, first: %s", len(r.Errors), r.Errors[0])
	}
	details := map[string]any{
		"error_count":   len(r.Errors),
		"warning_count": len(r.Warnings),
		"errors":        r.Errors,
		"warnings":      r.Warnings,
	}

	err := NewError(ErrCodeValidation, msg)
	steps := r.FailingSteps()
	if len(steps) > 0 {
		details["steps"] = steps
	}
	if len(steps) == 1 && len(r.Errors) == countStep(r.Errors, steps[0]) {
		err = err.WithStep(steps[0])
	}
	return err.WithDetails(details)
}

func countStep(issues []ValidationIssue, order int) int {
	n := 0
	for _, issue := range issues {
		if issue.StepOrder == order {
			n++
		}
	}
	return n
}
