package mapping

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/FrancisVarga/stupid-db-sub000/internal/validation"
	"github.com/FrancisVarga/stupid-db-sub000/pkg/schema"
)

// Parse turns caller-supplied text into a mapping. Blank text is the empty
// mapping. Anything that is not a JSON object of non-empty keys to string
// values fails with INVALID_MAPPING.
func Parse(raw []byte) (schema.Mapping, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return schema.Mapping{}, nil
	}

	v, err := validation.Default()
	if err != nil {
		return nil, fmt.Errorf("load mapping schema: %w", err)
	}

	obj, err := v.ValidateMappingText(raw)
	if err != nil {
		return nil, err
	}

	m := make(schema.Mapping, len(obj))
	for k, val := range obj {
		s, ok := val.(string)
		if !ok {
			return nil, schema.NewErrorf(schema.ErrCodeInvalidMapping,
				"value for %q must be a string, got %T", k, val).
				WithDetails(map[string]any{"key": k})
		}
		m[k] = s
	}
	return m, nil
}

// Format renders a mapping as indented JSON with sorted keys, the text form
// Parse accepts.
func Format(m schema.Mapping) ([]byte, error) {
	if m == nil {
		m = schema.Mapping{}
	}
	return json.MarshalIndent(m, "", "  ")
}
