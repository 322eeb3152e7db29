// Package manifest reads and writes pipelines and schedules as
// multi-document YAML. Every document is an envelope:
//
//	apiVersion: v1
//	kind: SpPipeline
//	metadata:
//	  name: daily-report
//	spec: {...}
//
// Agents are written by name so manifests stay portable between
// installations; an AgentDirectory maps names to ids and back.
package manifest

import (
	"github.com/FrancisVarga/stupid-db-sub000/internal/pipeline"
	"github.com/FrancisVarga/stupid-db-sub000/internal/schedule"
	"gopkg.in/yaml.v3"
)

// APIVersion is the only envelope version understood.
const APIVersion = "v1"

// Kind names the resource a document describes.
type Kind string

const (
	KindPipeline Kind = "SpPipeline"
	KindSchedule Kind = "SpSchedule"

	// Resources owned by other services. Import skips them.
	KindAgent      Kind = "SpAgent"
	KindDataSource Kind = "SpDataSource"
	KindDelivery   Kind = "SpDelivery"
)

// rank is the import order: pipelines before the schedules that name them.
func (k Kind) rank() int {
	switch k {
	case KindAgent:
		return 0
	case KindDataSource:
		return 1
	case KindPipeline:
		return 2
	case KindSchedule:
		return 3
	case KindDelivery:
		return 4
	default:
		return 5
	}
}

func (k Kind) external() bool {
	return k == KindAgent || k == KindDataSource || k == KindDelivery
}

// Envelope is one YAML document.
type Envelope struct {
	APIVersion string    `yaml:"apiVersion"`
	Kind       Kind      `yaml:"kind"`
	Metadata   Metadata  `yaml:"metadata"`
	Spec       yaml.Node `yaml:"spec"`
}

// Metadata names a resource.
type Metadata struct {
	Name        string   `yaml:"name"`
	Description string   `yaml:"description,omitempty"`
	Tags        []string `yaml:"tags,omitempty"`
}

// PipelineSpec is the spec of an SpPipeline document.
type PipelineSpec struct {
	Steps []StepSpec `yaml:"steps"`
}

// StepSpec is one pipeline step with agent and data source by name.
type StepSpec struct {
	ID             string            `yaml:"id,omitempty"`
	StepOrder      int               `yaml:"step_order"`
	AgentName      string            `yaml:"agent_name,omitempty"`
	DataSourceName string            `yaml:"data_source_name,omitempty"`
	ParallelGroup  *int              `yaml:"parallel_group,omitempty"`
	InputMapping   map[string]string `yaml:"input_mapping"`
	OutputMapping  map[string]string `yaml:"output_mapping"`
}

// ScheduleSpec is the spec of an SpSchedule document. Missing timezone
// means UTC and missing enabled means true.
type ScheduleSpec struct {
	PipelineName   string `yaml:"pipeline_name"`
	CronExpression string `yaml:"cron_expression"`
	Timezone       string `yaml:"timezone,omitempty"`
	Enabled        *bool  `yaml:"enabled,omitempty"`
}

// Bundle is the decoded content of a manifest.
type Bundle struct {
	Pipelines []*pipeline.Pipeline
	Schedules []schedule.Schedule
}

// Pipeline returns the bundled pipeline with the given name.
func (b *Bundle) Pipeline(name string) (*pipeline.Pipeline, bool) {
	for _, p := range b.Pipelines {
		if p.Name() == name {
			return p, true
		}
	}
	return nil, false
}

// Resource identifies one imported document.
type Resource struct {
	Kind Kind   `json:"kind"`
	Name string `json:"name"`
}

// ImportResult reports what happened to each document.
type ImportResult struct {
	Created  []Resource `json:"created"`
	Updated  []Resource `json:"updated"`
	Skipped  []Resource `json:"skipped"`
	Warnings []string   `json:"warnings,omitempty"`
	Errors   []string   `json:"errors"`
}

// OK reports whether no document failed.
func (r *ImportResult) OK() bool {
	return len(r.Errors) == 0
}
