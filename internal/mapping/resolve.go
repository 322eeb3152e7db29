package mapping

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strings"

	"github.com/FrancisVarga/stupid-db-sub000/pkg/schema"
)

// Scope is the sample data a mapping preview is resolved against.
type Scope struct {
	Steps    map[string]any // step id -> sample output
	Inputs   map[string]any // pipeline run inputs
	Pipeline map[string]any // pipeline metadata (name, description, ...)
	// StepIDs lists step ids by position so steps.<n> references resolve.
	StepIDs []string
}

// Resolver previews the input a step would receive for a given scope.
type Resolver struct {
	engines *Registry
}

func NewResolver(engines *Registry) *Resolver {
	return &Resolver{engines: engines}
}

// Resolve evaluates every value of m. A value that is exactly one token
// keeps the referenced value's type; other values are interpolated into a
// string. Values without tokens are returned as is.
func (r *Resolver) Resolve(ctx context.Context, m schema.Mapping, scope *Scope) (map[string]any, error) {
	if scope == nil {
		scope = &Scope{}
	}

	out := make(map[string]any, len(m))
	for _, key := range sortedKeys(m) {
		val, err := r.resolveValue(ctx, m[key], scope)
		if err != nil {
			if pe, ok := err.(*schema.PipelineError); ok && pe.Details == nil {
				pe.WithDetails(map[string]any{"key": key})
			}
			return nil, fmt.Errorf("resolve %q: %w", key, err)
		}
		out[key] = val
	}
	return out, nil
}

func (r *Resolver) resolveValue(ctx context.Context, value string, scope *Scope) (any, error) {
	tokens, err := Scan(value)
	if err != nil {
		return nil, err
	}
	if len(tokens) == 0 {
		return value, nil
	}
	if len(tokens) == 1 && tokens[0].Whole(value) {
		return r.evaluate(ctx, tokens[0].Expr, scope)
	}

	var b strings.Builder
	b.Grow(len(value))
	last := 0
	for _, tok := range tokens {
		b.WriteString(value[last:tok.Start])
		v, err := r.evaluate(ctx, tok.Expr, scope)
		if err != nil {
			return nil, err
		}
		b.WriteString(marshalInline(v))
		last = tok.End
	}
	b.WriteString(value[last:])
	return b.String(), nil
}

func (r *Resolver) evaluate(ctx context.Context, expr string, scope *Scope) (any, error) {
	ref, err := ParseReference(expr)
	if err != nil {
		return nil, err
	}

	switch ref.Kind {
	case KindEngine:
		if r.engines == nil {
			return nil, schema.NewErrorf(schema.ErrCodeEvaluation, "no expression engines configured for %q", ref.Engine)
		}
		engine, ok := r.engines.Get(ref.Engine)
		if !ok {
			return nil, schema.NewErrorf(schema.ErrCodeEvaluation, "expression engine %q is not available", ref.Engine)
		}
		return engine.Evaluate(ctx, ref.Source, engineData(scope))
	case KindStep:
		return resolveStep(expr, ref, scope)
	case KindInput:
		return resolveFromMap(scope.Inputs, ref.Path, expr, "inputs")
	default:
		return resolveFromMap(scope.Pipeline, ref.Path, expr, "pipeline")
	}
}

func resolveStep(expr string, ref Reference, scope *Scope) (any, error) {
	output, ok := scope.Steps[ref.Step]
	if !ok {
		if n, isIndex := ref.StepIndex(); isIndex && n < len(scope.StepIDs) {
			output, ok = scope.Steps[scope.StepIDs[n]]
		}
	}
	if !ok {
		available := sortedKeys(scope.Steps)
		return nil, schema.NewErrorf(schema.ErrCodeEvaluation,
			"step %q has no sample output in ${{%s}}; available steps: [%s]", ref.Step, expr, strings.Join(available, ", ")).
			WithDetails(map[string]any{"expression": expr, "available_steps": available})
	}

	if ref.Path == "" {
		return output, nil
	}
	return traversePath(output, ref.Path, expr)
}

// resolveFromMap tries the whole path as a key before walking segments so
// keys containing dots stay reachable.
func resolveFromMap(data map[string]any, path, expr, namespace string) (any, error) {
	if data == nil {
		return nil, schema.NewErrorf(schema.ErrCodeEvaluation,
			"cannot resolve %q: %s scope is empty", expr, namespace).
			WithDetails(map[string]any{"expression": expr})
	}
	if val, ok := data[path]; ok {
		return val, nil
	}
	return traversePath(data, path, expr)
}

func traversePath(root any, path, expr string) (any, error) {
	current := root
	for _, seg := range strings.Split(path, ".") {
		obj, ok := current.(map[string]any)
		if !ok {
			return nil, schema.NewErrorf(schema.ErrCodeEvaluation,
				"cannot traverse into non-object at %q in %q (type: %T)", seg, expr, current).
				WithDetails(map[string]any{"expression": expr})
		}
		val, ok := obj[seg]
		if !ok {
			available := sortedKeys(obj)
			return nil, schema.NewErrorf(schema.ErrCodeEvaluation,
				"field %q not found in %q; available: [%s]", seg, expr, strings.Join(available, ", ")).
				WithDetails(map[string]any{"expression": expr, "available_fields": available})
		}
		current = val
	}
	return current, nil
}

// marshalInline renders a value for embedding inside a larger string.
func marshalInline(val any) string {
	switch v := val.(type) {
	case string:
		return v
	case nil:
		return "null"
	case bool, int, int64, float64:
		return fmt.Sprintf("%v", v)
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(b)
	}
}

func sortedKeys[M ~map[string]V, V any](m M) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// Resolve previews m with the default engine registry.
func Resolve(ctx context.Context, m schema.Mapping, scope *Scope) (map[string]any, error) {
	r, err := DefaultRegistry()
	if err != nil {
		return nil, err
	}
	return NewResolver(r).Resolve(ctx, m, scope)
}
