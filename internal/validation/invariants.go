package validation

import (
	"fmt"
	"strings"

	"github.com/FrancisVarga/stupid-db-sub000/pkg/schema"
)

// ValidateInvariants checks the ordering and grouping rules every normalized
// pipeline satisfies:
//   - the name is not blank
//   - steps are sorted by order
//   - distinct order values are exactly 0..S-1 (no gaps)
//   - parallel_group, when set, is non-negative
//   - step ids are unique
//
// Steps without an agent are reported as warnings only.
func ValidateInvariants(def *schema.PipelineDefinition) *schema.ValidationResult {
	result := &schema.ValidationResult{}
	if def == nil {
		result.AddError("/", schema.ErrCodeValidation, "pipeline definition is nil")
		return result
	}

	if strings.TrimSpace(def.Name) == "" {
		result.AddError("name", schema.ErrCodeValidation, "pipeline name is required")
	}

	seenIDs := make(map[string]int, len(def.Steps))
	expected := 0 // next order value allowed to open a new stage
	for i := range def.Steps {
		step := &def.Steps[i]
		path := fmt.Sprintf("steps[%d]", i)

		switch {
		case step.Order < 0:
			result.AddError(path+".order", schema.ErrCodeValidation,
				fmt.Sprintf("order %d is negative", step.Order))
		case i > 0 && step.Order < def.Steps[i-1].Order:
			result.AddError(path+".order", schema.ErrCodeValidation,
				fmt.Sprintf("steps are not sorted by order: %d follows %d", step.Order, def.Steps[i-1].Order))
		case i > 0 && step.Order == def.Steps[i-1].Order:
			// same stage as the previous step
		case step.Order != expected:
			result.AddError(path+".order", schema.ErrCodeValidation,
				fmt.Sprintf("order %d leaves a gap: expected %d", step.Order, expected))
		}
		if step.Order >= expected {
			expected = step.Order + 1
		}

		if step.ParallelGroup != nil && *step.ParallelGroup < 0 {
			result.AddError(path+".parallel_group", schema.ErrCodeValidation,
				fmt.Sprintf("parallel group %d must be non-negative", *step.ParallelGroup))
		}

		if step.ID != "" {
			if first, dup := seenIDs[step.ID]; dup {
				result.AddError(path+".id", schema.ErrCodeValidation,
					fmt.Sprintf("duplicate step id %q (also at steps[%d])", step.ID, first))
			} else {
				seenIDs[step.ID] = i
			}
		}

		if !step.Assigned() {
			result.AddWarning(path+".agent_ref", schema.ErrCodeValidation, "step has no agent assigned")
		}
	}

	return result
}
