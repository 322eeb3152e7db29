package validation

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/FrancisVarga/stupid-db-sub000/pkg/schema"
	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"
)

const (
	mappingSchemaURL    = "https://pipeline-builder.dev/schemas/mapping.json"
	definitionSchemaURL = "https://pipeline-builder.dev/schemas/pipeline.json"
)

// mappingSchemaJSON describes a step mapping: parameter name -> source expression.
const mappingSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$id": "https://pipeline-builder.dev/schemas/mapping.json",
  "type": "object",
  "propertyNames": { "minLength": 1 },
  "additionalProperties": { "type": "string" }
}`

// definitionSchemaJSON is the JSON Schema for PipelineDefinition documents.
const definitionSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$id": "https://pipeline-builder.dev/schemas/pipeline.json",
  "type": "object",
  "required": ["name", "steps"],
  "properties": {
    "name": { "type": "string", "minLength": 1 },
    "description": { "type": "string" },
    "steps": {
      "type": ["array", "null"],
      "items": { "$ref": "#/$defs/step" }
    }
  },
  "additionalProperties": false,
  "$defs": {
    "step": {
      "type": "object",
      "required": ["order"],
      "properties": {
        "id": { "type": "string" },
        "order": { "type": "integer", "minimum": 0 },
        "agent_ref": { "type": "string" },
        "parallel_group": { "type": "integer", "minimum": 0 },
        "input_mapping": { "$ref": "#/$defs/mapping" },
        "output_mapping": { "$ref": "#/$defs/mapping" },
        "data_source_ref": { "type": "string" }
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

// JSONSchemaValidator checks mapping text and pipeline documents against the
// embedded JSON Schemas. It is safe for concurrent use.
type JSONSchemaValidator struct {
	mappingSchema    *jsonschema.Schema
	definitionSchema *jsonschema.Schema
}

var (
	defaultOnce      sync.Once
	defaultValidator *JSONSchemaValidator
	defaultErr       error
)

// Default returns a process-wide validator, compiling the schemas on first use.
func Default() (*JSONSchemaValidator, error) {
	defaultOnce.Do(func() {
		defaultValidator, defaultErr = NewJSONSchemaValidator()
	})
	return defaultValidator, defaultErr
}

// NewJSONSchemaValidator compiles the mapping and pipeline schemas.
func NewJSONSchemaValidator() (*JSONSchemaValidator, error) {
	c := jsonschema.NewCompiler()
	c.AssertFormat()

	if err := addResource(c, mappingSchemaURL, mappingSchemaJSON); err != nil {
		return nil, err
	}
	if err := addResource(c, definitionSchemaURL, definitionSchemaJSON); err != nil {
		return nil, err
	}

	mappingSchema, err := c.Compile(mappingSchemaURL)
	if err != nil {
		return nil, fmt.Errorf("compile mapping schema: %w", err)
	}
	definitionSchema, err := c.Compile(definitionSchemaURL)
	if err != nil {
		return nil, fmt.Errorf("compile pipeline schema: %w", err)
	}

	return &JSONSchemaValidator{
		mappingSchema:    mappingSchema,
		definitionSchema: definitionSchema,
	}, nil
}

func addResource(c *jsonschema.Compiler, url, doc string) error {
	parsed, err := jsonschema.UnmarshalJSON(strings.NewReader(doc))
	if err != nil {
		return fmt.Errorf("unmarshal schema %s: %w", url, err)
	}
	if err := c.AddResource(url, parsed); err != nil {
		return fmt.Errorf("add schema resource %s: %w", url, err)
	}
	return nil
}

// ValidateMappingText parses raw text as JSON and checks it is a key -> string object.
// Every failure, syntactic or structural, is reported as INVALID_MAPPING.
func (v *JSONSchemaValidator) ValidateMappingText(raw []byte) (map[string]any, error) {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(string(raw)))
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeInvalidMapping,
			"mapping is not well-formed JSON: %s", err.Error()).WithCause(err)
	}

	if err := v.mappingSchema.Validate(doc); err != nil {
		return nil, toPipelineError(schema.ErrCodeInvalidMapping, err)
	}

	obj, ok := doc.(map[string]any)
	if !ok {
		return nil, schema.NewError(schema.ErrCodeInvalidMapping, "mapping must be a JSON object")
	}
	return obj, nil
}

// ValidateDefinition validates a PipelineDefinition against the pipeline schema.
func (v *JSONSchemaValidator) ValidateDefinition(def *schema.PipelineDefinition) error {
	if def == nil {
		return schema.NewError(schema.ErrCodeValidation, "pipeline definition is nil")
	}

	doc, err := toJSONValue(def)
	if err != nil {
		return schema.NewError(schema.ErrCodeValidation, "failed to serialize pipeline definition").WithCause(err)
	}

	if err := v.definitionSchema.Validate(doc); err != nil {
		return toPipelineError(schema.ErrCodeValidation, err)
	}
	return nil
}

// toJSONValue round-trips a Go value through JSON encoding/decoding so that
// numeric values become json.Number (required by the jsonschema library).
func toJSONValue(v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return jsonschema.UnmarshalJSON(strings.NewReader(string(b)))
}

// Violation is one failing leaf of a schema check. Path uses the same
// notation as ValidationIssue, e.g. "steps[0].order".
type Violation struct {
	Path    string `json:"path"`
	Message string `json:"message"`
}

func (v Violation) String() string {
	return v.Path + ": " + v.Message
}

// toPipelineError flattens a jsonschema.ValidationError. The violations are
// kept in the details; a lone violation also becomes the message.
func toPipelineError(code string, err error) *schema.PipelineError {
	var verr *jsonschema.ValidationError
	if !errors.As(err, &verr) {
		return schema.NewError(code, err.Error()).WithCause(err)
	}

	violations := collectViolations(verr, nil)
	msg := verr.Error()
	switch len(violations) {
	case 0:
		return schema.NewError(code, msg).WithCause(err)
	case 1:
		msg = violations[0].String()
	default:
		msg = fmt.Sprintf("validation failed with %d errors", len(violations))
	}
	return schema.NewError(code, msg).
		WithCause(err).
		WithDetails(map[string]any{"violations": violations})
}

func collectViolations(verr *jsonschema.ValidationError, out []Violation) []Violation {
	if len(verr.Causes) == 0 {
		return append(out, Violation{Path: issuePath(verr.InstanceLocation), Message: verr.Error()})
	}
	for _, cause := range verr.Causes {
		out = collectViolations(cause, out)
	}
	return out
}

// issuePath renders an instance location: ["steps","0","order"] becomes
// "steps[0].order" and the document root becomes "/".
func issuePath(loc []string) string {
	if len(loc) == 0 {
		return "/"
	}
	var b strings.Builder
	for _, tok := range loc {
		if _, err := strconv.Atoi(tok); err == nil {
			b.WriteString("[" + tok + "]")
			continue
		}
		if b.Len() > 0 {
			b.WriteByte('.')
		}
		b.WriteString(tok)
	}
	return b.String()
}
