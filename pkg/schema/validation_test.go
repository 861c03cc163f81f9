package schema

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidationResult_EmptyIsValid(t *testing.T) {
	r := &ValidationResult{}
	assert.True(t, r.Valid())
	assert.Nil(t, r.ToError())
}

func TestValidationResult_WarningsDoNotInvalidate(t *testing.T) {
	r := &ValidationResult{}
	r.AddWarning("steps[2].delay_hours", ErrCodeValidation, "delay longer than 90 days")

	assert.True(t, r.Valid())
	require.Len(t, r.Warnings, 1)
	assert.Equal(t, SeverityWarning, r.Warnings[0].Severity)
}

func TestValidationResult_MergeKeepsBothSides(t *testing.T) {
	r1 := &ValidationResult{}
	r1.AddError("steps[0].template_ref", ErrCodeValidation, "template_ref is required")

	r2 := &ValidationResult{}
	r2.AddError("trigger.config.status", ErrCodeValidation, "status is required")
	r2.AddWarning("steps[1]", ErrCodeValidation, "no delay")

	r1.Merge(r2)
	r1.Merge(nil)

	assert.Len(t, r1.Errors, 2)
	assert.Len(t, r1.Warnings, 1)
}

func TestValidationResult_ToError(t *testing.T) {
	r := &ValidationResult{}
	r.AddError("steps[0].order", ErrCodeValidation, "orders must start at 1")

	err := r.ToError()
	require.Error(t, err)
	var lfErr *LeadflowError
	require.True(t, errors.As(err, &lfErr))
	assert.Equal(t, "orders must start at 1", lfErr.Message)
	assert.Equal(t, 1, lfErr.Details["error_count"])

	r.AddError("steps[1].order", ErrCodeValidation, "gap in step orders")
	err = r.ToError()
	require.True(t, errors.As(err, &lfErr))
	assert.Contains(t, lfErr.Message, "2 errors")
}

func TestValidationResult_StepIssues(t *testing.T) {
	r := &ValidationResult{}
	r.AddStepError(1, "template_ref", "template_ref is required")
	r.AddStepError(1, "conditions.expression", "CEL compile error")
	r.AddStepWarning(2, "delay_hours", "delay of 2400 hours exceeds 90 days")

	require.Len(t, r.Errors, 2)
	assert.Equal(t, "steps[1].template_ref", r.Errors[0].Path)
	assert.Equal(t, 2, r.Errors[0].StepOrder)
	assert.Equal(t, "step 2 (steps[1].template_ref): template_ref is required", r.Errors[0].String())
	assert.Equal(t, 3, r.Warnings[0].StepOrder)
	assert.Equal(t, []int{2}, r.FailingSteps())

	var lfErr *LeadflowError
	require.ErrorAs(t, r.ToError(), &lfErr)
	assert.Equal(t, 2, lfErr.StepOrder)
	assert.Equal(t, []int{2}, lfErr.Details["steps"])
	assert.Contains(t, lfErr.Message, "first: step 2")

	r.AddError("trigger.config.status", ErrCodeValidation, "STATUS_CHANGED trigger requires config.status")
	require.ErrorAs(t, r.ToError(), &lfErr)
	assert.Zero(t, lfErr.StepOrder, "errors outside the step keep the error step-less")

	r.AddStepError(0, "order", "expected 1, got 2")
	assert.Equal(t, []int{1, 2}, r.FailingSteps())
}

func TestLeadflowError_Format(t *testing.T) {
	err := NewErrorf(ErrCodeSendFailure, "smtp refused").WithStep(2)
	assert.Equal(t, "[SEND_FAILURE] step 2: smtp refused", err.Error())
	assert.Equal(t, "[NOT_FOUND] gone", NewError(ErrCodeNotFound, "gone").Error())
}

func TestIsCode_FollowsWrapChain(t *testing.T) {
	cause := errors.New("disk full")
	err := fmt.Errorf("commit: %w", NewError(ErrCodeStore, "write failed").WithCause(cause))

	assert.True(t, IsCode(err, ErrCodeStore))
	assert.False(t, IsCode(err, ErrCodeConflict))
	assert.False(t, IsCode(nil, ErrCodeStore))
	assert.Equal(t, "", CodeOf(cause))
	assert.ErrorIs(t, err, cause)
}
