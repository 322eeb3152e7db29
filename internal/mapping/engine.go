package mapping

import (
	"context"
	"sync"
)

// Engine checks and evaluates the engine-prefixed expressions found inside
// mapping values (cel:, expr:, jq:).
type Engine interface {
	Name() string
	// Compile reports syntax and type errors without evaluating.
	Compile(expression string) error
	Evaluate(ctx context.Context, expression string, data map[string]any) (any, error)
}

// Registry holds the expression engines keyed by prefix name.
type Registry struct {
	engines map[string]Engine
}

// NewRegistry builds a registry with the CEL, Expr and jq engines.
func NewRegistry() (*Registry, error) {
	celEngine, err := NewCELEngine()
	if err != nil {
		return nil, err
	}
	return NewRegistryWith(celEngine, NewExprEngine(), NewJQEngine()), nil
}

// NewRegistryWith builds a registry from explicit engines. Later engines
// replace earlier ones with the same name.
func NewRegistryWith(engines ...Engine) *Registry {
	r := &Registry{engines: make(map[string]Engine, len(engines))}
	for _, e := range engines {
		r.engines[e.Name()] = e
	}
	return r
}

// Get returns the engine registered under name.
func (r *Registry) Get(name string) (Engine, bool) {
	e, ok := r.engines[name]
	return e, ok
}

// Names returns the registered engine names, sorted.
func (r *Registry) Names() []string {
	return sortedKeys(r.engines)
}

var (
	defaultRegistryOnce sync.Once
	defaultRegistry     *Registry
	defaultRegistryErr  error
)

// DefaultRegistry returns the process-wide registry, built on first use.
func DefaultRegistry() (*Registry, error) {
	defaultRegistryOnce.Do(func() {
		defaultRegistry, defaultRegistryErr = NewRegistry()
	})
	return defaultRegistry, defaultRegistryErr
}

// engineData is the variable set every engine evaluates against.
func engineData(scope *Scope) map[string]any {
	data := map[string]any{
		"steps":    map[string]any{},
		"inputs":   map[string]any{},
		"pipeline": map[string]any{},
	}
	if scope == nil {
		return data
	}
	if scope.Steps != nil {
		data["steps"] = scope.Steps
	}
	if scope.Inputs != nil {
		data["inputs"] = scope.Inputs
	}
	if scope.Pipeline != nil {
		data["pipeline"] = scope.Pipeline
	}
	return data
}
