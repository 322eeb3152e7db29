package mapping

import (
	"context"
	"fmt"

	"github.com/google/cel-go/cel"
)

// CELEngine evaluates Common Expression Language snippets such as
// `size(steps.fetch.rows) > 0`.
type CELEngine struct {
	env      *cel.Env
	programs *programs[cel.Program]
}

// NewCELEngine declares steps, inputs and pipeline as map(string, dyn)
// variables.
func NewCELEngine() (*CELEngine, error) {
	scope := cel.MapType(cel.StringType, cel.DynType)
	env, err := cel.NewEnv(
		cel.Variable("steps", scope),
		cel.Variable("inputs", scope),
		cel.Variable("pipeline", scope),
	)
	if err != nil {
		return nil, fmt.Errorf("create CEL environment: %w", err)
	}
	return &CELEngine{env: env, programs: newPrograms[cel.Program]()}, nil
}

func (e *CELEngine) Name() string { return "cel" }

func (e *CELEngine) Compile(expression string) error {
	_, err := e.program(expression)
	return err
}

func (e *CELEngine) Evaluate(ctx context.Context, expression string, data map[string]any) (any, error) {
	prg, err := e.program(expression)
	if err != nil {
		return nil, err
	}
	out, _, err := prg.ContextEval(ctx, data)
	if err != nil {
		return nil, evalError(e.Name(), expression, err)
	}
	return out.Value(), nil
}

func (e *CELEngine) program(expression string) (cel.Program, error) {
	if expression == "" {
		return nil, emptyExpression(e.Name())
	}
	return e.programs.get(expression, func(src string) (cel.Program, error) {
		ast, issues := e.env.Compile(src)
		if err := issues.Err(); err != nil {
			return nil, compileError(e.Name(), src, err)
		}
		prg, err := e.env.Program(ast)
		if err != nil {
			return nil, compileError(e.Name(), src, err)
		}
		return prg, nil
	})
}

var _ Engine = (*CELEngine)(nil)
