package mapping

import (
	"sync"

	"github.com/FrancisVarga/stupid-db-sub000/pkg/schema"
)

// programs caches compiled expressions by source text. Lookups take the
// read lock; a miss compiles under the write lock so each source text is
// compiled once.
type programs[P any] struct {
	mu    sync.RWMutex
	byKey map[string]P
}

func newPrograms[P any]() *programs[P] {
	return &programs[P]{byKey: make(map[string]P)}
}

func (c *programs[P]) get(expression string, compile func(string) (P, error)) (P, error) {
	c.mu.RLock()
	p, ok := c.byKey[expression]
	c.mu.RUnlock()
	if ok {
		return p, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if p, ok := c.byKey[expression]; ok {
		return p, nil
	}

	p, err := compile(expression)
	if err != nil {
		return p, err
	}
	c.byKey[expression] = p
	return p, nil
}

func (c *programs[P]) len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.byKey)
}

// compileError reports an expression an engine rejected before running it.
func compileError(engine, expression string, err error) *schema.PipelineError {
	return schema.NewErrorf(schema.ErrCodeInvalidExpression,
		"%s: cannot compile %q: %s", engine, expression, err.Error()).
		WithCause(err).
		WithDetails(map[string]any{"engine": engine, "expression": expression})
}

// evalError reports a failure while running a compiled expression.
func evalError(engine, expression string, err error) *schema.PipelineError {
	return schema.NewErrorf(schema.ErrCodeEvaluation,
		"%s: evaluating %q: %s", engine, expression, err.Error()).
		WithCause(err).
		WithDetails(map[string]any{"engine": engine, "expression": expression})
}

func emptyExpression(engine string) *schema.PipelineError {
	return schema.NewErrorf(schema.ErrCodeInvalidExpression, "%s: empty expression", engine)
}
