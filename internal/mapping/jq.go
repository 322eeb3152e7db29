package mapping

import (
	"context"
	"encoding/json"
	"math"
	"math/big"
	"strings"

	"github.com/itchyny/gojq"
)

// JQEngine evaluates jq filters with the whole scope object as input, so
// `.steps.fetch.rows | length` reads an upstream output.
type JQEngine struct {
	programs *programs[*gojq.Code]
}

func NewJQEngine() *JQEngine {
	return &JQEngine{programs: newPrograms[*gojq.Code]()}
}

func (e *JQEngine) Name() string { return "jq" }

func (e *JQEngine) Compile(expression string) error {
	_, err := e.program(expression)
	return err
}

// Evaluate returns a single output as is, several outputs as a []any and
// nil when the filter produces nothing.
func (e *JQEngine) Evaluate(ctx context.Context, expression string, data map[string]any) (any, error) {
	code, err := e.program(expression)
	if err != nil {
		return nil, err
	}

	var results []any
	iter := code.RunWithContext(ctx, toJQValue(data))
	for v, ok := iter.Next(); ok; v, ok = iter.Next() {
		if err, isErr := v.(error); isErr {
			return nil, evalError(e.Name(), expression, err)
		}
		results = append(results, v)
	}

	switch len(results) {
	case 0:
		return nil, nil
	case 1:
		return results[0], nil
	}
	return results, nil
}

func (e *JQEngine) program(expression string) (*gojq.Code, error) {
	if expression == "" {
		return nil, emptyExpression(e.Name())
	}
	return e.programs.get(expression, func(src string) (*gojq.Code, error) {
		query, err := gojq.Parse(src)
		if err != nil {
			return nil, compileError(e.Name(), src, err)
		}
		// $ENV stays empty in mapping previews.
		code, err := gojq.Compile(query, gojq.WithEnvironLoader(func() []string { return nil }))
		if err != nil {
			return nil, compileError(e.Name(), src, err)
		}
		return code, nil
	})
}

// toJQValue converts sample data into the value types gojq evaluates:
// integers become int, or *big.Int when they overflow it, and json.Number
// is decoded the way gojq decodes its own JSON input.
func toJQValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = toJQValue(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = toJQValue(item)
		}
		return out
	case int8:
		return int(val)
	case int16:
		return int(val)
	case int32:
		return int(val)
	case int64:
		if math.MinInt <= val && val <= math.MaxInt {
			return int(val)
		}
		return big.NewInt(val)
	case uint:
		return fromUint64(uint64(val))
	case uint8:
		return int(val)
	case uint16:
		return int(val)
	case uint32:
		return fromUint64(uint64(val))
	case uint64:
		return fromUint64(val)
	case float32:
		return float64(val)
	case json.Number:
		return fromJSONNumber(val)
	}
	return v
}

func fromUint64(u uint64) any {
	if u <= math.MaxInt {
		return int(u)
	}
	return new(big.Int).SetUint64(u)
}

func fromJSONNumber(n json.Number) any {
	text := n.String()
	if !strings.ContainsAny(text, ".eE") {
		if i, err := n.Int64(); err == nil && math.MinInt <= i && i <= math.MaxInt {
			return int(i)
		}
		if bi, ok := new(big.Int).SetString(text, 10); ok {
			return bi
		}
	}
	if f, err := n.Float64(); err == nil {
		return f
	}
	if strings.HasPrefix(text, "-") {
		return math.Inf(-1)
	}
	return math.Inf(1)
}

var _ Engine = (*JQEngine)(nil)
