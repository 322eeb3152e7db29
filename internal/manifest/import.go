package manifest

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strings"

	"github.com/FrancisVarga/stupid-db-sub000/internal/pipeline"
	"github.com/FrancisVarga/stupid-db-sub000/internal/schedule"
	"github.com/FrancisVarga/stupid-db-sub000/pkg/schema"
	"gopkg.in/yaml.v3"
)

// Importer decodes manifests into pipelines and schedules.
type Importer struct {
	agents    AgentDirectory
	existing  map[string]bool
	overwrite bool
	logger    *slog.Logger
}

// ImporterOption configures an Importer.
type ImporterOption func(*Importer)

// WithExisting names pipelines the caller already holds. Documents with
// these names are skipped, or reported as updated with WithOverwrite.
func WithExisting(names ...string) ImporterOption {
	return func(im *Importer) {
		for _, n := range names {
			im.existing[n] = true
		}
	}
}

// WithOverwrite imports documents that collide with existing pipelines.
func WithOverwrite(overwrite bool) ImporterOption {
	return func(im *Importer) { im.overwrite = overwrite }
}

// WithLogger sets the logger for per-document messages.
func WithLogger(logger *slog.Logger) ImporterOption {
	return func(im *Importer) {
		if logger != nil {
			im.logger = logger
		}
	}
}

// NewImporter creates an Importer resolving agent names through agents.
// A nil directory keeps agent names as raw references.
func NewImporter(agents AgentDirectory, opts ...ImporterOption) *Importer {
	if agents == nil {
		agents = identity{}
	}
	im := &Importer{
		agents:   agents,
		existing: make(map[string]bool),
		logger:   slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(im)
	}
	return im
}

// Import decodes data with a default Importer.
func Import(data []byte, dir AgentDirectory) (*Bundle, *ImportResult, error) {
	return NewImporter(dir).Import(data)
}

// document is a decoded envelope, or the reason it could not be decoded.
type document struct {
	index int
	env   Envelope
	err   error
}

// Import decodes every document of data. Malformed YAML fails the whole
// call with IMPORT_ERROR. Problems with single documents are collected in
// the result and do not stop the others. Documents are applied in
// dependency order: pipelines first, then schedules.
func (im *Importer) Import(data []byte) (*Bundle, *ImportResult, error) {
	docs, err := splitDocuments(data)
	if err != nil {
		return nil, nil, err
	}
	slices.SortStableFunc(docs, func(a, b document) int {
		return a.env.Kind.rank() - b.env.Kind.rank()
	})

	bundle := &Bundle{}
	result := &ImportResult{
		Created: []Resource{},
		Updated: []Resource{},
		Skipped: []Resource{},
		Errors:  []string{},
	}
	pipelines := make(map[string]bool)
	schedules := make(map[string]bool)

	for _, doc := range docs {
		if doc.err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("document %d: %s", doc.index, doc.err))
			continue
		}
		env := &doc.env
		res := Resource{Kind: env.Kind, Name: env.Metadata.Name}

		if err := checkEnvelope(env); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("document %d: %s", doc.index, err))
			continue
		}

		switch {
		case env.Kind == KindPipeline:
			if pipelines[res.Name] {
				im.logger.Warn("duplicate pipeline in manifest", slog.String("pipeline_name", res.Name))
				result.Skipped = append(result.Skipped, res)
				continue
			}
			if im.existing[res.Name] && !im.overwrite {
				result.Skipped = append(result.Skipped, res)
				continue
			}
			p, err := im.decodePipeline(env, result)
			if err != nil {
				result.Errors = append(result.Errors, fmt.Sprintf("%s %q: %s", env.Kind, res.Name, err))
				continue
			}
			pipelines[res.Name] = true
			bundle.Pipelines = append(bundle.Pipelines, p)
			if im.existing[res.Name] {
				result.Updated = append(result.Updated, res)
			} else {
				result.Created = append(result.Created, res)
			}

		case env.Kind == KindSchedule:
			if schedules[res.Name] {
				result.Skipped = append(result.Skipped, res)
				continue
			}
			s, err := im.decodeSchedule(env, pipelines)
			if err != nil {
				result.Errors = append(result.Errors, fmt.Sprintf("%s %q: %s", env.Kind, res.Name, err))
				continue
			}
			schedules[res.Name] = true
			bundle.Schedules = append(bundle.Schedules, s)
			result.Created = append(result.Created, res)

		case env.Kind.external():
			im.logger.Debug("skipping externally managed resource",
				slog.String("kind", string(env.Kind)),
				slog.String("name", res.Name),
			)
			result.Skipped = append(result.Skipped, res)

		default:
			result.Errors = append(result.Errors, fmt.Sprintf("document %d: unknown kind %q", doc.index, env.Kind))
		}
	}

	im.logger.Info("manifest imported",
		slog.Int("created", len(result.Created)),
		slog.Int("updated", len(result.Updated)),
		slog.Int("skipped", len(result.Skipped)),
		slog.Int("errors", len(result.Errors)),
	)
	return bundle, result, nil
}

// splitDocuments parses the YAML stream. Syntax errors are fatal; a
// document that parses but does not fit the envelope is kept with its error.
func splitDocuments(data []byte) ([]document, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))

	var docs []document
	for i := 0; ; i++ {
		var node yaml.Node
		err := dec.Decode(&node)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeImport, "malformed YAML in document %d: %s", i, err.Error()).
				WithCause(err)
		}
		if isEmptyDocument(&node) {
			continue
		}

		doc := document{index: i}
		doc.err = node.Decode(&doc.env)
		docs = append(docs, doc)
	}
	return docs, nil
}

func isEmptyDocument(node *yaml.Node) bool {
	if node.Kind == 0 {
		return true
	}
	if node.Kind == yaml.DocumentNode {
		return len(node.Content) == 0 || node.Content[0].ShortTag() == "!!null"
	}
	return false
}

func checkEnvelope(env *Envelope) error {
	if env.APIVersion != APIVersion {
		return fmt.Errorf("unsupported apiVersion %q (want %q)", env.APIVersion, APIVersion)
	}
	if strings.TrimSpace(env.Metadata.Name) == "" {
		return fmt.Errorf("%s document has no metadata.name", env.Kind)
	}
	return nil
}

func (im *Importer) decodePipeline(env *Envelope, result *ImportResult) (*pipeline.Pipeline, error) {
	sch, err := loadSpecSchemas()
	if err != nil {
		return nil, err
	}
	if err := checkSpec(sch.pipeline, &env.Spec); err != nil {
		return nil, err
	}

	var spec PipelineSpec
	if env.Spec.Kind != 0 {
		if err := env.Spec.Decode(&spec); err != nil {
			return nil, err
		}
	}

	def := &schema.PipelineDefinition{
		Name:        env.Metadata.Name,
		Description: env.Metadata.Description,
		Steps:       make([]schema.StepDefinition, 0, len(spec.Steps)),
	}
	for _, s := range spec.Steps {
		agentRef := s.AgentName
		if s.AgentName != "" {
			if id, ok := im.agents.IDOf(s.AgentName); ok {
				agentRef = id
			} else {
				result.Warnings = append(result.Warnings,
					fmt.Sprintf("pipeline %q: agent %q is not in the directory; kept as a raw reference", def.Name, s.AgentName))
			}
		}
		def.Steps = append(def.Steps, schema.StepDefinition{
			ID:            s.ID,
			Order:         s.StepOrder,
			AgentRef:      agentRef,
			ParallelGroup: s.ParallelGroup,
			InputMapping:  schema.Mapping(s.InputMapping),
			OutputMapping: schema.Mapping(s.OutputMapping),
			DataSourceRef: s.DataSourceName,
		})
	}

	return pipeline.Load(def)
}

func (im *Importer) decodeSchedule(env *Envelope, pipelines map[string]bool) (schedule.Schedule, error) {
	sch, err := loadSpecSchemas()
	if err != nil {
		return schedule.Schedule{}, err
	}
	if err := checkSpec(sch.schedule, &env.Spec); err != nil {
		return schedule.Schedule{}, err
	}

	var spec ScheduleSpec
	if err := env.Spec.Decode(&spec); err != nil {
		return schedule.Schedule{}, err
	}

	if !pipelines[spec.PipelineName] && !im.existing[spec.PipelineName] {
		return schedule.Schedule{}, fmt.Errorf("pipeline %q not found", spec.PipelineName)
	}

	s := schedule.Schedule{
		Name:           env.Metadata.Name,
		PipelineName:   spec.PipelineName,
		CronExpression: spec.CronExpression,
		Timezone:       spec.Timezone,
		Enabled:        spec.Enabled == nil || *spec.Enabled,
	}
	if s.Timezone == "" {
		s.Timezone = schedule.DefaultTimezone
	}
	if err := s.Validate(); err != nil {
		return schedule.Schedule{}, err
	}
	return s, nil
}
