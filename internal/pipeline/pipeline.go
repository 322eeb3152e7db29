// Package pipeline holds the in-memory pipeline model: an ordered list of
// agent steps grouped into stages by their order value.
//
// A Pipeline is not safe for concurrent use. It is owned by a single caller
// that serializes mutations (see internal/builder).
package pipeline

import (
	"maps"
	"slices"
	"strings"

	"github.com/FrancisVarga/stupid-db-sub000/internal/mapping"
	"github.com/FrancisVarga/stupid-db-sub000/internal/validation"
	"github.com/FrancisVarga/stupid-db-sub000/pkg/schema"
	"github.com/google/uuid"
)

// Pipeline is a named, normalized sequence of steps. After every
// operation the steps are sorted by order and the distinct order values
// are exactly 0..S-1, where S is the number of stages.
type Pipeline struct {
	name        string
	description string
	steps       []schema.StepDefinition
	newID       func() string
}

// Option configures a Pipeline at construction.
type Option func(*Pipeline)

// WithIDGenerator replaces the UUID generator used for new step ids.
func WithIDGenerator(fn func() string) Option {
	return func(p *Pipeline) {
		if fn != nil {
			p.newID = fn
		}
	}
}

// New creates an empty pipeline. The name must not be blank.
func New(name, description string, opts ...Option) (*Pipeline, error) {
	if err := checkName(name); err != nil {
		return nil, err
	}
	p := &Pipeline{
		name:        name,
		description: description,
		steps:       []schema.StepDefinition{},
		newID:       uuid.NewString,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Load builds a pipeline from a serialized definition. Orders are
// normalized, nil mappings become empty, and steps without an id (or
// sharing an id with an earlier step) get a fresh one. Ids that are
// present are kept so a saved pipeline loads back unchanged.
func Load(def *schema.PipelineDefinition, opts ...Option) (*Pipeline, error) {
	if def == nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "pipeline definition is nil")
	}

	p, err := New(def.Name, def.Description, opts...)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool, len(def.Steps))
	p.steps = make([]schema.StepDefinition, 0, len(def.Steps))
	for i, src := range def.Steps {
		step := src.Clone()
		if step.ParallelGroup != nil && *step.ParallelGroup < 0 {
			return nil, negativeGroup(i, *step.ParallelGroup)
		}
		if err := checkMappingKeys(step.InputMapping); err != nil {
			return nil, err.WithStep(i)
		}
		if err := checkMappingKeys(step.OutputMapping); err != nil {
			return nil, err.WithStep(i)
		}
		if step.ID == "" || seen[step.ID] {
			step.ID = p.newID()
		}
		seen[step.ID] = true
		p.steps = append(p.steps, step)
	}

	p.normalize()
	return p, nil
}

// Name returns the pipeline name.
func (p *Pipeline) Name() string { return p.name }

// Description returns the pipeline description.
func (p *Pipeline) Description() string { return p.description }

// Len returns the number of steps.
func (p *Pipeline) Len() int { return len(p.steps) }

// StageCount returns the number of distinct order values.
func (p *Pipeline) StageCount() int {
	if len(p.steps) == 0 {
		return 0
	}
	return p.steps[len(p.steps)-1].Order + 1
}

// Rename changes the pipeline name. Blank names are rejected.
func (p *Pipeline) Rename(name string) error {
	if err := checkName(name); err != nil {
		return err
	}
	p.name = name
	return nil
}

// SetDescription replaces the description.
func (p *Pipeline) SetDescription(description string) {
	p.description = description
}

// AddStep appends a sequential step in a new last stage and returns its
// index. agentRef may be empty for an unassigned step.
func (p *Pipeline) AddStep(agentRef string) int {
	p.steps = append(p.steps, p.blankStep(len(p.steps), agentRef))
	p.normalize()
	return len(p.steps) - 1
}

// AddParallelStep appends a step to an existing stage, after its current
// members, and returns the new step's index.
func (p *Pipeline) AddParallelStep(stage int, agentRef string) (int, error) {
	stages := p.StageCount()
	if stage < 0 || stage >= stages {
		return 0, schema.IndexOutOfRange(stage, stages).
			WithDetails(map[string]any{"stage": stage, "stage_count": stages})
	}

	at := len(p.steps)
	for i, s := range p.steps {
		if s.Order > stage {
			at = i
			break
		}
	}

	p.steps = slices.Insert(p.steps, at, p.blankStep(stage, agentRef))
	p.normalize()
	return at, nil
}

// RemoveStep deletes the step at index. Later stages shift down when the
// removed step was the only member of its stage.
func (p *Pipeline) RemoveStep(index int) error {
	if err := p.checkIndex(index); err != nil {
		return err
	}
	p.steps = slices.Delete(p.steps, index, index+1)
	p.normalize()
	return nil
}

// MoveStep swaps the step at index with its array neighbour. Each array
// position keeps its order value, so the two steps trade stages when they
// were in different ones. Moving up from the first position or down from
// the last is a no-op and reports false.
//
// With only single-member stages this is the same as re-ranking every step
// to its array position. With parallel stages it departs from that rule:
// stages survive the move instead of being flattened to 0..N-1. Whether a
// move should ever dissolve a parallel stage is still an open product
// question; see DESIGN.md.
func (p *Pipeline) MoveStep(index int, dir schema.Direction) (bool, error) {
	if err := p.checkIndex(index); err != nil {
		return false, err
	}

	var other int
	switch dir {
	case schema.DirectionUp:
		other = index - 1
	case schema.DirectionDown:
		other = index + 1
	default:
		return false, schema.NewErrorf(schema.ErrCodeValidation,
			"unknown direction %q: expected %q or %q", dir, schema.DirectionUp, schema.DirectionDown).
			WithStep(index)
	}
	if other < 0 || other >= len(p.steps) {
		return false, nil
	}

	a, b := p.steps[index].Order, p.steps[other].Order
	p.steps[index], p.steps[other] = p.steps[other], p.steps[index]
	p.steps[index].Order, p.steps[other].Order = a, b

	p.normalize()
	return true, nil
}

// SetParallelGroup sets or clears (nil) the display label of a step.
// Staging is unaffected.
func (p *Pipeline) SetParallelGroup(index int, group *int) error {
	if err := p.checkIndex(index); err != nil {
		return err
	}
	if group != nil && *group < 0 {
		return negativeGroup(index, *group)
	}
	if group == nil {
		p.steps[index].ParallelGroup = nil
		return nil
	}
	g := *group
	p.steps[index].ParallelGroup = &g
	return nil
}

// SetInputMapping parses raw and replaces the step's input mapping. On a
// parse error the stored mapping is left untouched.
func (p *Pipeline) SetInputMapping(index int, raw []byte) error {
	m, err := p.parseMapping(index, raw)
	if err != nil {
		return err
	}
	p.steps[index].InputMapping = m
	return nil
}

// SetInputMappingValue replaces the step's input mapping with a copy of m.
func (p *Pipeline) SetInputMappingValue(index int, m schema.Mapping) error {
	if err := p.checkIndex(index); err != nil {
		return err
	}
	if err := checkMappingKeys(m); err != nil {
		return err.WithStep(index)
	}
	p.steps[index].InputMapping = m.Clone()
	return nil
}

// SetOutputMapping parses raw and replaces the step's output mapping.
func (p *Pipeline) SetOutputMapping(index int, raw []byte) error {
	m, err := p.parseMapping(index, raw)
	if err != nil {
		return err
	}
	p.steps[index].OutputMapping = m
	return nil
}

// SetOutputMappingValue replaces the step's output mapping with a copy of m.
func (p *Pipeline) SetOutputMappingValue(index int, m schema.Mapping) error {
	if err := p.checkIndex(index); err != nil {
		return err
	}
	if err := checkMappingKeys(m); err != nil {
		return err.WithStep(index)
	}
	p.steps[index].OutputMapping = m.Clone()
	return nil
}

// SetAgent assigns (or with "" unassigns) the step's agent.
func (p *Pipeline) SetAgent(index int, agentRef string) error {
	if err := p.checkIndex(index); err != nil {
		return err
	}
	p.steps[index].AgentRef = agentRef
	return nil
}

// SetDataSource sets (or with "" clears) the step's data source.
func (p *Pipeline) SetDataSource(index int, ref string) error {
	if err := p.checkIndex(index); err != nil {
		return err
	}
	p.steps[index].DataSourceRef = ref
	return nil
}

// Step returns a copy of the step at index.
func (p *Pipeline) Step(index int) (schema.StepDefinition, error) {
	if err := p.checkIndex(index); err != nil {
		return schema.StepDefinition{}, err
	}
	return p.steps[index].Clone(), nil
}

// Steps returns a deep copy of all steps.
func (p *Pipeline) Steps() []schema.StepDefinition {
	out := make([]schema.StepDefinition, len(p.steps))
	for i := range p.steps {
		out[i] = p.steps[i].Clone()
	}
	return out
}

// Stages returns the step indices of each stage, in stage order. Members
// appear in array order.
func (p *Pipeline) Stages() [][]int {
	return StagesOf(p.steps)
}

// StagesOf groups normalized steps by order.
func StagesOf(steps []schema.StepDefinition) [][]int {
	var stages [][]int
	for i, s := range steps {
		if i == 0 || s.Order != steps[i-1].Order {
			stages = append(stages, nil)
		}
		last := len(stages) - 1
		stages[last] = append(stages[last], i)
	}
	return stages
}

// Definition returns a serializable snapshot that shares no memory with p.
func (p *Pipeline) Definition() *schema.PipelineDefinition {
	return &schema.PipelineDefinition{
		Name:        p.name,
		Description: p.description,
		Steps:       p.Steps(),
	}
}

// Clone returns an independent copy of p.
func (p *Pipeline) Clone() *Pipeline {
	return &Pipeline{
		name:        p.name,
		description: p.description,
		steps:       p.Steps(),
		newID:       p.newID,
	}
}

// Equal reports whether p and other hold the same name, description and
// steps (ids, orders, agents, groups, mappings and data sources).
func (p *Pipeline) Equal(other *Pipeline) bool {
	if p == nil || other == nil {
		return p == other
	}
	return p.name == other.name &&
		p.description == other.description &&
		slices.EqualFunc(p.steps, other.steps, stepEqual)
}

func stepEqual(a, b schema.StepDefinition) bool {
	if a.ID != b.ID || a.Order != b.Order || a.AgentRef != b.AgentRef || a.DataSourceRef != b.DataSourceRef {
		return false
	}
	if (a.ParallelGroup == nil) != (b.ParallelGroup == nil) {
		return false
	}
	if a.ParallelGroup != nil && *a.ParallelGroup != *b.ParallelGroup {
		return false
	}
	return maps.Equal(a.InputMapping, b.InputMapping) && maps.Equal(a.OutputMapping, b.OutputMapping)
}

// Validate checks the ordering and grouping invariants of p.
func (p *Pipeline) Validate() *schema.ValidationResult {
	return Validate(p.Definition())
}

// Validate checks the ordering and grouping invariants of a definition
// without loading it.
func Validate(def *schema.PipelineDefinition) *schema.ValidationResult {
	return validation.ValidateInvariants(def)
}

// normalize stable-sorts the steps by order and re-ranks the distinct
// order values densely from 0. Array order breaks ties.
func (p *Pipeline) normalize() {
	slices.SortStableFunc(p.steps, func(a, b schema.StepDefinition) int {
		return a.Order - b.Order
	})

	rank := -1
	prev := 0
	for i := range p.steps {
		if i == 0 || p.steps[i].Order != prev {
			rank++
		}
		prev = p.steps[i].Order
		p.steps[i].Order = rank
	}
}

func (p *Pipeline) blankStep(order int, agentRef string) schema.StepDefinition {
	return schema.StepDefinition{
		ID:            p.newID(),
		Order:         order,
		AgentRef:      agentRef,
		InputMapping:  schema.Mapping{},
		OutputMapping: schema.Mapping{},
	}
}

func (p *Pipeline) checkIndex(index int) error {
	if index < 0 || index >= len(p.steps) {
		return schema.IndexOutOfRange(index, len(p.steps))
	}
	return nil
}

func (p *Pipeline) parseMapping(index int, raw []byte) (schema.Mapping, error) {
	if err := p.checkIndex(index); err != nil {
		return nil, err
	}
	m, err := mapping.Parse(raw)
	if err != nil {
		if pe, ok := err.(*schema.PipelineError); ok {
			return nil, pe.WithStep(index)
		}
		return nil, err
	}
	return m, nil
}

func checkName(name string) error {
	if strings.TrimSpace(name) == "" {
		return schema.NewError(schema.ErrCodeValidation, "pipeline name is required")
	}
	return nil
}

func checkMappingKeys(m schema.Mapping) *schema.PipelineError {
	if _, ok := m[""]; ok {
		return schema.NewError(schema.ErrCodeInvalidMapping, "mapping keys must not be empty")
	}
	return nil
}

func negativeGroup(index, group int) error {
	return schema.NewErrorf(schema.ErrCodeValidation,
		"parallel group %d must be non-negative", group).
		WithStep(index).
		WithDetails(map[string]any{"parallel_group": group})
}
