package schema

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidationResult_EmptyIsValid(t *testing.T) {
	r := &ValidationResult{}
	assert.True(t, r.Valid())
	assert.NoError(t, r.ToError())
}

func TestValidationResult_AddError(t *testing.T) {
	r := &ValidationResult{}
	r.AddError("steps[0].order", ErrCodeValidation, "order gap")

	assert.False(t, r.Valid())
	require.Len(t, r.Errors, 1)
	assert.Equal(t, "steps[0].order", r.Errors[0].Path)
	assert.Equal(t, ErrCodeValidation, r.Errors[0].Code)
	assert.Equal(t, "order gap", r.Errors[0].Message)
	assert.Equal(t, SeverityError, r.Errors[0].Severity)
}

func TestValidationResult_AddWarning(t *testing.T) {
	r := &ValidationResult{}
	r.AddWarning("steps[1].input_mapping.q", ErrCodeInvalidExpression, "downstream reference")

	assert.True(t, r.Valid(), "warnings alone should not make result invalid")
	require.Len(t, r.Warnings, 1)
	assert.Equal(t, SeverityWarning, r.Warnings[0].Severity)
}

func TestValidationResult_Merge(t *testing.T) {
	r1 := &ValidationResult{}
	r1.AddError("/", ErrCodeValidation, "err1")
	r1.AddWarning("/", ErrCodeValidation, "warn1")

	r2 := &ValidationResult{}
	r2.AddError("steps[0]", ErrCodeInvalidMapping, "err2")
	r2.AddWarning("steps[1]", ErrCodeValidation, "warn2")

	r1.Merge(r2)
	r1.Merge(nil)

	assert.Len(t, r1.Errors, 2)
	assert.Len(t, r1.Warnings, 2)
}

func TestValidationResult_ToErrorSingleKeepsCode(t *testing.T) {
	r := &ValidationResult{}
	r.AddError("steps[2].parallel_group", ErrCodeValidation, "parallel group must be non-negative")

	err := r.ToError()
	require.Error(t, err)
	assert.True(t, IsCode(err, ErrCodeValidation))
	assert.Contains(t, err.Error(), "parallel group must be non-negative")
}

func TestValidationResult_ToErrorMultiple(t *testing.T) {
	r := &ValidationResult{}
	r.AddError("name", ErrCodeValidation, "name is required")
	r.AddError("steps[0].input_mapping", ErrCodeInvalidMapping, "bad mapping")
	r.AddWarning("steps[0]", ErrCodeValidation, "unassigned")

	err := r.ToError()
	require.Error(t, err)

	var pe *PipelineError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, ErrCodeValidation, pe.Code)
	assert.Equal(t, "validation failed with 2 errors", pe.Message)
	assert.Equal(t, 2, pe.Details["error_count"])
	assert.Equal(t, 1, pe.Details["warning_count"])
}

func TestPipelineError_Format(t *testing.T) {
	err := NewError(ErrCodeInvalidMapping, "not an object")
	assert.Equal(t, "[INVALID_MAPPING] not an object", err.Error())

	err = NewErrorf(ErrCodeIndexOutOfRange, "index %d", 7).WithStep(7)
	assert.Equal(t, "[INDEX_OUT_OF_RANGE] step 7: index 7", err.Error())
}

func TestPipelineError_UnwrapAndIsCode(t *testing.T) {
	cause := fmt.Errorf("unexpected end of JSON input")
	err := NewError(ErrCodeInvalidMapping, "bad mapping").WithCause(cause)
	wrapped := fmt.Errorf("set input mapping: %w", err)

	assert.ErrorIs(t, wrapped, cause)
	assert.True(t, IsCode(wrapped, ErrCodeInvalidMapping))
	assert.False(t, IsCode(wrapped, ErrCodeIndexOutOfRange))
	assert.False(t, IsCode(cause, ErrCodeInvalidMapping))
}

func TestIndexOutOfRange(t *testing.T) {
	err := IndexOutOfRange(5, 3)
	assert.Equal(t, ErrCodeIndexOutOfRange, err.Code)
	assert.Equal(t, 5, err.Details["index"])
	assert.Equal(t, 3, err.Details["length"])
}

func TestStepDefinitionClone(t *testing.T) {
	orig := StepDefinition{
		ID:            "s1",
		Order:         1,
		ParallelGroup: Group(2),
		InputMapping:  Mapping{"q": "${{ inputs.q }}"},
	}
	cp := orig.Clone()

	*cp.ParallelGroup = 9
	cp.InputMapping["q"] = "changed"

	assert.Equal(t, 2, *orig.ParallelGroup)
	assert.Equal(t, "${{ inputs.q }}", orig.InputMapping["q"])
	assert.NotNil(t, cp.OutputMapping, "nil mappings clone to empty maps")
	assert.Empty(t, cp.OutputMapping)
}

func TestDirectionValid(t *testing.T) {
	assert.True(t, DirectionUp.Valid())
	assert.True(t, DirectionDown.Valid())
	assert.False(t, Direction("sideways").Valid())
}
