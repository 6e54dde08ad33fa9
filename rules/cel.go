package rules

import (
	"fmt"

	"github.com/google/cel-go/cel"
)

// CEL variable names a rendered condition refers to
const (
	varTotalValue       = "totalValue"
	varItemQuantity     = "itemQuantity"
	varCustomerCategory = "customerCategory"
	varIsFirstPurchase  = "isFirstPurchase"
)

// celCostLimit bounds the work a compiled expression may do
const celCostLimit = 1000000

// NewCartEnv creates a CEL environment declaring the cart fields as typed variables
func NewCartEnv() (*cel.Env, error) {
	env, err := cel.NewEnv(
		cel.Variable(varTotalValue, cel.DoubleType),
		cel.Variable(varItemQuantity, cel.IntType),
		cel.Variable(varCustomerCategory, cel.StringType),
		cel.Variable(varIsFirstPurchase, cel.BoolType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}
	return env, nil
}

// CompileCondition type-checks the CEL rendering of c and builds a program for it.
// State tracking is on so evaluations can be inspected.
func CompileCondition(env *cel.Env, c Condition) (cel.Program, error) {
	expr := render(c)

	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compile error for %q: %w", expr, issues.Err())
	}

	if !ast.OutputType().IsExactType(cel.BoolType) {
		return nil, fmt.Errorf("expression %q has type %s, want bool", expr, ast.OutputType())
	}

	prog, err := env.Program(ast,
		cel.EvalOptions(cel.OptTrackState),
		cel.CostLimit(celCostLimit),
	)
	if err != nil {
		return nil, fmt.Errorf("program creation error: %w", err)
	}

	return prog, nil
}

// EvalProgram runs a compiled condition against the cart.
// Totals are converted to float64, so values beyond double precision may round.
func EvalProgram(prog cel.Program, cart Cart) (bool, error) {
	out, _, err := prog.Eval(cartActivation(cart))
	if err != nil {
		return false, err
	}

	matched, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("expression returned %T, want bool", out.Value())
	}
	return matched, nil
}

func cartActivation(cart Cart) map[string]any {
	return map[string]any{
		varTotalValue:       cart.TotalValue.InexactFloat64(),
		varItemQuantity:     int64(cart.ItemQuantity),
		varCustomerCategory: cart.CustomerCategory,
		varIsFirstPurchase:  cart.IsFirstPurchase,
	}
}
