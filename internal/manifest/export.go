package manifest

import (
	"bytes"
	"fmt"
	"slices"
	"strings"

	"github.com/FrancisVarga/stupid-db-sub000/internal/pipeline"
	"github.com/FrancisVarga/stupid-db-sub000/internal/schedule"
	"github.com/FrancisVarga/stupid-db-sub000/pkg/schema"
	"gopkg.in/yaml.v3"
)

// Export writes pipelines (sorted by name) followed by schedules (sorted
// by name) as one multi-document YAML stream. Agent ids the directory
// knows are written as names; others are written unchanged.
func Export(pipelines []*pipeline.Pipeline, schedules []schedule.Schedule, dir AgentDirectory) ([]byte, error) {
	if dir == nil {
		dir = identity{}
	}

	pipelines = slices.Clone(pipelines)
	slices.SortStableFunc(pipelines, func(a, b *pipeline.Pipeline) int {
		return strings.Compare(a.Name(), b.Name())
	})
	schedules = slices.Clone(schedules)
	slices.SortStableFunc(schedules, func(a, b schedule.Schedule) int {
		return strings.Compare(a.Name, b.Name)
	})

	// yaml.v3 cannot close a stream that never started.
	if len(pipelines)+len(schedules) == 0 {
		return []byte{}, nil
	}

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)

	for _, p := range pipelines {
		env, err := pipelineEnvelope(p, dir)
		if err != nil {
			return nil, err
		}
		if err := enc.Encode(env); err != nil {
			return nil, fmt.Errorf("encode pipeline %q: %w", p.Name(), err)
		}
	}
	for _, s := range schedules {
		env, err := scheduleEnvelope(s)
		if err != nil {
			return nil, err
		}
		if err := enc.Encode(env); err != nil {
			return nil, fmt.Errorf("encode schedule %q: %w", s.Name, err)
		}
	}

	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("close encoder: %w", err)
	}
	return buf.Bytes(), nil
}

func pipelineEnvelope(p *pipeline.Pipeline, dir AgentDirectory) (*Envelope, error) {
	steps := p.Steps()
	spec := PipelineSpec{Steps: make([]StepSpec, 0, len(steps))}
	for _, s := range steps {
		spec.Steps = append(spec.Steps, stepSpec(s, dir))
	}
	return envelope(KindPipeline, Metadata{Name: p.Name(), Description: p.Description()}, spec)
}

func stepSpec(s schema.StepDefinition, dir AgentDirectory) StepSpec {
	agent := s.AgentRef
	if name, ok := dir.NameOf(s.AgentRef); ok {
		agent = name
	}
	return StepSpec{
		ID:             s.ID,
		StepOrder:      s.Order,
		AgentName:      agent,
		DataSourceName: s.DataSourceRef,
		ParallelGroup:  s.ParallelGroup,
		InputMapping:   s.InputMapping.Clone(),
		OutputMapping:  s.OutputMapping.Clone(),
	}
}

func scheduleEnvelope(s schedule.Schedule) (*Envelope, error) {
	tz := s.Timezone
	if tz == "" {
		tz = schedule.DefaultTimezone
	}
	enabled := s.Enabled
	spec := ScheduleSpec{
		PipelineName:   s.PipelineName,
		CronExpression: s.CronExpression,
		Timezone:       tz,
		Enabled:        &enabled,
	}
	return envelope(KindSchedule, Metadata{Name: s.Name}, spec)
}

func envelope(kind Kind, meta Metadata, spec any) (*Envelope, error) {
	env := &Envelope{APIVersion: APIVersion, Kind: kind, Metadata: meta}
	if err := env.Spec.Encode(spec); err != nil {
		return nil, fmt.Errorf("encode %s %q spec: %w", kind, meta.Name, err)
	}
	return env, nil
}
