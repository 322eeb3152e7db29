package mapping

import (
	"context"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// ExprEngine evaluates expr-lang expressions. It suits reshaping: nil
// coalescing (??), optional chaining (?.), array builtins and pipes.
type ExprEngine struct {
	programs *programs[*vm.Program]
}

func NewExprEngine() *ExprEngine {
	return &ExprEngine{programs: newPrograms[*vm.Program]()}
}

func (e *ExprEngine) Name() string { return "expr" }

func (e *ExprEngine) Compile(expression string) error {
	_, err := e.program(expression)
	return err
}

// Evaluate runs the program to completion; ctx is only checked before the
// run since the expr VM does not take a context.
func (e *ExprEngine) Evaluate(ctx context.Context, expression string, data map[string]any) (any, error) {
	prg, err := e.program(expression)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if data == nil {
		data = map[string]any{}
	}

	out, err := vm.Run(prg, data)
	if err != nil {
		return nil, evalError(e.Name(), expression, err)
	}
	return out, nil
}

// program compiles against an untyped map environment so one program
// serves every scope.
func (e *ExprEngine) program(expression string) (*vm.Program, error) {
	if expression == "" {
		return nil, emptyExpression(e.Name())
	}
	return e.programs.get(expression, func(src string) (*vm.Program, error) {
		prg, err := expr.Compile(src, expr.Env(map[string]any{}), expr.AllowUndefinedVariables())
		if err != nil {
			return nil, compileError(e.Name(), src, err)
		}
		return prg, nil
	})
}

var _ Engine = (*ExprEngine)(nil)
