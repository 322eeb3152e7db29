package validation

import (
	"errors"

	"github.com/FrancisVarga/stupid-db-sub000/pkg/schema"
)

// PipelineValidator orchestrates the three-stage validation pipeline:
// 1. Structural (JSON Schema)
// 2. Invariants (ordering, contiguity, grouping labels)
// 3. Mapping lint (expression syntax and upstream references)
type PipelineValidator struct {
	jsonSchema *JSONSchemaValidator
	linter     MappingLinter
}

// NewPipelineValidator creates a PipelineValidator.
// linter may be nil to skip mapping expression checks.
func NewPipelineValidator(linter MappingLinter) (*PipelineValidator, error) {
	jsv, err := Default()
	if err != nil {
		return nil, err
	}
	return &PipelineValidator{
		jsonSchema: jsv,
		linter:     linter,
	}, nil
}

// Validate runs the full pipeline and returns an aggregated result.
// Structural errors short-circuit: the later stages are skipped.
func (pv *PipelineValidator) Validate(def *schema.PipelineDefinition) *schema.ValidationResult {
	if def == nil {
		r := &schema.ValidationResult{}
		r.AddError("/", schema.ErrCodeValidation, "pipeline definition is nil")
		return r
	}

	result := validateStructural(pv.jsonSchema, def)
	if !result.Valid() {
		return result
	}

	result.Merge(ValidateInvariants(def))

	// Lint only ordered pipelines: upstream checks depend on the stage ranks.
	if result.Valid() && pv.linter != nil {
		result.Merge(pv.linter.Lint(def))
	}

	return result
}

// ValidateDefinition satisfies the Validator interface.
func (pv *PipelineValidator) ValidateDefinition(def *schema.PipelineDefinition) error {
	return pv.Validate(def).ToError()
}

// validateStructural turns schema violations into issues at their own paths.
func validateStructural(v *JSONSchemaValidator, def *schema.PipelineDefinition) *schema.ValidationResult {
	result := &schema.ValidationResult{}

	err := v.ValidateDefinition(def)
	if err == nil {
		return result
	}

	var pe *schema.PipelineError
	if !errors.As(err, &pe) {
		result.AddError("/", schema.ErrCodeValidation, err.Error())
		return result
	}
	violations, _ := pe.Details["violations"].([]Violation)
	if len(violations) == 0 {
		result.AddError("/", schema.ErrCodeValidation, pe.Message)
		return result
	}
	for _, vi := range violations {
		result.AddError(vi.Path, schema.ErrCodeValidation, vi.Message)
	}
	return result
}
