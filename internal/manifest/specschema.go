package manifest

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"
	"gopkg.in/yaml.v3"
)

const (
	pipelineSpecURL = "https://pipeline-builder.dev/schemas/manifest/pipeline-spec.json"
	scheduleSpecURL = "https://pipeline-builder.dev/schemas/manifest/schedule-spec.json"
)

const pipelineSpecSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": ["object", "null"],
  "properties": {
    "steps": { "type": ["array", "null"], "items": { "$ref": "#/$defs/step" } }
  },
  "additionalProperties": false,
  "$defs": {
    "step": {
      "type": "object",
      "required": ["step_order"],
      "properties": {
        "id": { "type": "string" },
        "step_order": { "type": "integer", "minimum": 0 },
        "agent_name": { "type": "string" },
        "data_source_name": { "type": "string" },
        "parallel_group": { "type": ["integer", "null"], "minimum": 0 },
        "input_mapping": { "$ref": "#/$defs/mapping" },
        "output_mapping": { "$ref": "#/$defs/mapping" }
      },
      "additionalProperties": false
    },
    "mapping": {
      "type": ["object", "null"],
      "propertyNames": { "minLength": 1 },
      "additionalProperties": { "type": "string" }
    }
  }
}`

const scheduleSpecSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["pipeline_name", "cron_expression"],
  "properties": {
    "pipeline_name": { "type": "string", "minLength": 1 },
    "cron_expression": { "type": "string", "minLength": 1 },
    "timezone": { "type": "string" },
    "enabled": { "type": "boolean" }
  },
  "additionalProperties": false
}`

type specSchemas struct {
	pipeline *jsonschema.Schema
	schedule *jsonschema.Schema
}

var (
	schemasOnce sync.Once
	schemas     *specSchemas
	schemasErr  error
)

func loadSpecSchemas() (*specSchemas, error) {
	schemasOnce.Do(func() {
		c := jsonschema.NewCompiler()
		for url, doc := range map[string]string{
			pipelineSpecURL: pipelineSpecSchema,
			scheduleSpecURL: scheduleSpecSchema,
		} {
			parsed, err := jsonschema.UnmarshalJSON(strings.NewReader(doc))
			if err != nil {
				schemasErr = fmt.Errorf("unmarshal schema %s: %w", url, err)
				return
			}
			if err := c.AddResource(url, parsed); err != nil {
				schemasErr = fmt.Errorf("add schema resource %s: %w", url, err)
				return
			}
		}

		s := &specSchemas{}
		if s.pipeline, schemasErr = c.Compile(pipelineSpecURL); schemasErr != nil {
			return
		}
		if s.schedule, schemasErr = c.Compile(scheduleSpecURL); schemasErr != nil {
			return
		}
		schemas = s
	})
	return schemas, schemasErr
}

// checkSpec validates a spec node against a compiled schema. The YAML is
// converted to its JSON form first so numbers and nulls match the schema
// types.
func checkSpec(sch *jsonschema.Schema, node *yaml.Node) error {
	var v any
	if node.Kind != 0 {
		if err := node.Decode(&v); err != nil {
			return err
		}
	}

	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("spec is not JSON-compatible: %w", err)
	}
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return err
	}
	if err := sch.Validate(doc); err != nil {
		return specViolation(err)
	}
	return nil
}

// specViolation flattens a schema error into "location: message" lines.
func specViolation(err error) error {
	verr, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return err
	}
	var lines []string
	var walk func(e *jsonschema.ValidationError)
	walk = func(e *jsonschema.ValidationError) {
		if len(e.Causes) == 0 {
			lines = append(lines, fmt.Sprintf("/%s: %s", strings.Join(e.InstanceLocation, "/"), e.Error()))
			return
		}
		for _, c := range e.Causes {
			walk(c)
		}
	}
	walk(verr)
	return errors.New(strings.Join(lines, "; "))
}
