package validation

import "github.com/FrancisVarga/stupid-db-sub000/pkg/schema"

// Validator checks pipeline definitions before they are loaded or exported.
type Validator interface {
	ValidateDefinition(def *schema.PipelineDefinition) error
}

// MappingLinter checks the expressions inside step mappings.
// Implemented by internal/mapping; nil skips the lint stage.
type MappingLinter interface {
	Lint(def *schema.PipelineDefinition) *schema.ValidationResult
}
