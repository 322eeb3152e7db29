package pipeline

import (
	"encoding/json"

	"github.com/FrancisVarga/stupid-db-sub000/pkg/schema"
)

// MarshalJSON encodes the pipeline as its PipelineDefinition.
func (p *Pipeline) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.Definition())
}

// UnmarshalJSON decodes a PipelineDefinition and loads it into p.
func (p *Pipeline) UnmarshalJSON(data []byte) error {
	loaded, err := Unmarshal(data)
	if err != nil {
		return err
	}
	*p = *loaded
	return nil
}

// Marshal encodes p for the persistence layer.
func Marshal(p *Pipeline) ([]byte, error) {
	return json.Marshal(p.Definition())
}

// Unmarshal decodes data produced by Marshal. For any pipeline p,
// Unmarshal(Marshal(p)) is Equal to p.
func Unmarshal(data []byte, opts ...Option) (*Pipeline, error) {
	var def schema.PipelineDefinition
	if err := json.Unmarshal(data, &def); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"decode pipeline: %s", err.Error()).WithCause(err)
	}
	return Load(&def, opts...)
}
