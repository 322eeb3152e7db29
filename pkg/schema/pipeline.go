package schema

import "maps"

// PipelineDefinition is the JSON-serializable pipeline format handed to the
// persistence layer and read back from it.
type PipelineDefinition struct {
	Name        string           `json:"name" yaml:"name"`
	Description string           `json:"description,omitempty" yaml:"description,omitempty"`
	Steps       []StepDefinition `json:"steps" yaml:"steps"`
}

// StepDefinition describes one unit of pipeline execution.
type StepDefinition struct {
	ID            string  `json:"id" yaml:"id"`
	Order         int     `json:"order" yaml:"order"`                                         // stage rank, contiguous from 0
	AgentRef      string  `json:"agent_ref,omitempty" yaml:"agent_ref,omitempty"`             // empty means unassigned
	ParallelGroup *int    `json:"parallel_group,omitempty" yaml:"parallel_group,omitempty"`   // display label inside a stage
	InputMapping  Mapping `json:"input_mapping" yaml:"input_mapping"`                         // input param -> source expression
	OutputMapping Mapping `json:"output_mapping" yaml:"output_mapping"`                       // output name -> source expression
	DataSourceRef string  `json:"data_source_ref,omitempty" yaml:"data_source_ref,omitempty"` // optional data source feeding the step
}

// Mapping maps a parameter name to a source expression. Values are opaque
// at the model layer; see internal/mapping for the expression syntax.
type Mapping map[string]string

// Clone returns an independent copy. A nil mapping clones to an empty one.
func (m Mapping) Clone() Mapping {
	out := make(Mapping, len(m))
	maps.Copy(out, m)
	return out
}

// Assigned reports whether the step references an agent.
func (s StepDefinition) Assigned() bool {
	return s.AgentRef != ""
}

// Clone returns a deep copy of the step.
func (s StepDefinition) Clone() StepDefinition {
	out := s
	if s.ParallelGroup != nil {
		g := *s.ParallelGroup
		out.ParallelGroup = &g
	}
	out.InputMapping = s.InputMapping.Clone()
	out.OutputMapping = s.OutputMapping.Clone()
	return out
}

// Clone returns a deep copy of the definition.
func (d *PipelineDefinition) Clone() *PipelineDefinition {
	out := &PipelineDefinition{
		Name:        d.Name,
		Description: d.Description,
		Steps:       make([]StepDefinition, len(d.Steps)),
	}
	for i := range d.Steps {
		out.Steps[i] = d.Steps[i].Clone()
	}
	return out
}

// Direction selects the neighbour a step is swapped with by a move.
type Direction string

const (
	DirectionUp   Direction = "up"
	DirectionDown Direction = "down"
)

// Valid reports whether d is a known direction.
func (d Direction) Valid() bool {
	return d == DirectionUp || d == DirectionDown
}

// Group is a convenience for building *int parallel-group labels.
func Group(n int) *int {
	return &n
}
