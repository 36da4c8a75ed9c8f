// Package cel wraps github.com/google/cel-go behind the small surface strata
// needs: per-structure value-validation expressions, compiled once at structure
// creation and evaluated on each value write.
package cel

import (
	"fmt"
	"reflect"

	"github.com/google/cel-go/cel"
)

// Validator contains the CEL expression & the cel program used to evaluate the expression
// vs. a structure's candidate value.
type Validator struct {
	Expression string
	program    cel.Program
}

// NewValidator compiles a validation expression for the named structure. The
// expression sees one variable, "value", holding the candidate materialized
// value, and must evaluate to a boolean.
func NewValidator(name string, expression string) (*Validator, error) {
	if name == "" {
		return nil, fmt.Errorf("name can't be empty string")
	}
	if expression == "" {
		return nil, fmt.Errorf("expression can't be empty string")
	}

	env, err := cel.NewEnv(
		// The candidate value is JSON-shaped data: maps, strings, numbers, bools.
		cel.Variable("value", cel.AnyType),
	)
	if err != nil {
		return nil, fmt.Errorf("error creating CEL environment: %v", err)
	}

	ast, issues := env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("error compiling CEL expression: %v", issues.Err())
	}
	p, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("error creating Program: %v", err)
	}
	return &Validator{
		Expression: expression,
		program:    p,
	}, nil
}

// Validate evaluates the compiled expression against the candidate value and
// reports whether it passed.
func (v *Validator) Validate(value any) (bool, error) {
	out, _, err := v.program.Eval(map[string]any{
		"value": value,
	})
	if err != nil {
		return false, fmt.Errorf("error evaluating CEL expression: %v", err)
	}
	nv, err := out.ConvertToNative(reflect.TypeOf(true))
	if err != nil {
		return false, fmt.Errorf("error ConvertToNative, got err: %v", err)
	}

	if b, ok := nv.(bool); !ok {
		return false, fmt.Errorf("error converting to bool, nv: %v", nv)
	} else {
		return b, nil
	}
}
