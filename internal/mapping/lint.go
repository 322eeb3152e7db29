package mapping

import (
	"fmt"

	"github.com/FrancisVarga/stupid-db-sub000/internal/validation"
	"github.com/FrancisVarga/stupid-db-sub000/pkg/schema"
)

// Linter checks the references inside every step mapping of a pipeline.
//
// Syntax problems and engine compile failures are errors. References to a
// step that does not exist, or that does not run before the referencing
// step, are warnings: mappings are opaque to the model and a pipeline
// with a dangling reference can still be saved.
type Linter struct {
	engines *Registry
}

// NewLinter creates a Linter over the given engines.
func NewLinter(engines *Registry) *Linter {
	return &Linter{engines: engines}
}

// NewDefaultLinter creates a Linter over the default engine registry.
func NewDefaultLinter() (*Linter, error) {
	r, err := DefaultRegistry()
	if err != nil {
		return nil, err
	}
	return NewLinter(r), nil
}

var _ validation.MappingLinter = (*Linter)(nil)

// Lint returns all mapping issues of def. The definition is expected to be
// normalized: stage ranks are read from each step's order.
func (l *Linter) Lint(def *schema.PipelineDefinition) *schema.ValidationResult {
	result := &schema.ValidationResult{}
	if def == nil {
		return result
	}

	idx := newStepIndex(def.Steps)
	for i := range def.Steps {
		step := &def.Steps[i]
		l.lintMapping(result, idx, i, fmt.Sprintf("steps[%d].input_mapping", i), step.InputMapping, false)
		l.lintMapping(result, idx, i, fmt.Sprintf("steps[%d].output_mapping", i), step.OutputMapping, true)
	}
	return result
}

// lintMapping checks one mapping of step i. Output mappings may read the
// step's own output; input mappings may only read earlier stages.
func (l *Linter) lintMapping(result *schema.ValidationResult, idx stepIndex, i int, path string, m schema.Mapping, allowSelf bool) {
	for _, key := range sortedKeys(m) {
		value := m[key]
		keyPath := path + "." + key

		tokens, err := Scan(value)
		if err != nil {
			result.AddError(keyPath, schema.ErrCodeInvalidExpression, errorMessage(err))
			continue
		}

		for _, tok := range tokens {
			ref, err := ParseReference(tok.Expr)
			if err != nil {
				result.AddError(keyPath, schema.ErrCodeInvalidExpression, errorMessage(err))
				continue
			}

			switch ref.Kind {
			case KindEngine:
				l.lintEngine(result, keyPath, ref)
			case KindStep:
				lintStepRef(result, idx, i, keyPath, ref, allowSelf)
			}
		}
	}
}

func (l *Linter) lintEngine(result *schema.ValidationResult, path string, ref Reference) {
	if l.engines == nil {
		return
	}
	engine, ok := l.engines.Get(ref.Engine)
	if !ok {
		result.AddError(path, schema.ErrCodeInvalidExpression,
			fmt.Sprintf("expression engine %q is not available", ref.Engine))
		return
	}
	if err := engine.Compile(ref.Source); err != nil {
		result.AddError(path, schema.ErrCodeInvalidExpression, errorMessage(err))
	}
}

func lintStepRef(result *schema.ValidationResult, idx stepIndex, i int, path string, ref Reference, allowSelf bool) {
	target, ok := idx.lookup(ref)
	if !ok {
		result.AddWarning(path, schema.ErrCodeNotFound,
			fmt.Sprintf("reference to unknown step %q", ref.Step))
		return
	}

	self := idx.steps[i].Order
	other := idx.steps[target].Order
	switch {
	case target == i && allowSelf:
	case target == i:
		result.AddWarning(path, schema.ErrCodeInvalidExpression,
			"input mapping reads the step's own output")
	case other < self:
	case other == self:
		result.AddWarning(path, schema.ErrCodeInvalidExpression,
			fmt.Sprintf("step %q runs in the same stage and its output is not available yet", ref.Step))
	default:
		result.AddWarning(path, schema.ErrCodeInvalidExpression,
			fmt.Sprintf("step %q runs in a later stage", ref.Step))
	}
}

// stepIndex resolves step references by id first, then by position.
type stepIndex struct {
	steps []schema.StepDefinition
	byID  map[string]int
}

func newStepIndex(steps []schema.StepDefinition) stepIndex {
	byID := make(map[string]int, len(steps))
	for i, s := range steps {
		if s.ID != "" {
			byID[s.ID] = i
		}
	}
	return stepIndex{steps: steps, byID: byID}
}

func (x stepIndex) lookup(ref Reference) (int, bool) {
	if i, ok := x.byID[ref.Step]; ok {
		return i, true
	}
	if n, ok := ref.StepIndex(); ok && n < len(x.steps) {
		return n, true
	}
	return 0, false
}

// Lint checks def with the default engine registry.
func Lint(def *schema.PipelineDefinition) *schema.ValidationResult {
	l, err := NewDefaultLinter()
	if err != nil {
		result := &schema.ValidationResult{}
		result.AddError("/", schema.ErrCodeInvalidExpression, err.Error())
		return result
	}
	return l.Lint(def)
}

// errorMessage prefers the bare message of a PipelineError so issue lists
// do not repeat the code.
func errorMessage(err error) string {
	if pe, ok := err.(*schema.PipelineError); ok {
		return pe.Message
	}
	return err.Error()
}
