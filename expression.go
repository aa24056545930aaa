package lawfit

import (
	"fmt"
	"math"
	"regexp"
	"sort"
	"strconv"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// FeatureVariable is the identifier equations use for the feature value.
const FeatureVariable = "x"

var mathEnv = map[string]any{
	"exp": math.Exp,
	"log": math.Log,
	"sin": math.Sin,
	"cos": math.Cos,
	"tan": math.Tan,
	"pi":  math.Pi,
}

// Equation is a compiled function definition ready for evaluation.
type Equation struct {
	Name    string
	Source  string
	params  []Parameter
	program *vm.Program
}

// CompileFunction parses the parameters of f and compiles its equation.
func CompileFunction(f FunctionDefinition) (*Equation, error) {
	params, err := f.Params()
	if err != nil {
		return nil, err
	}
	for _, p := range params {
		if _, reserved := mathEnv[p.Name]; reserved || p.Name == FeatureVariable {
			return nil, &ValidationError{Function: f.Name, Parameter: p.Name, Reason: "shadows a reserved name"}
		}
	}

	program, err := expr.Compile(f.Equation, expr.Env(newEnv(params, 0, nil)))
	if err != nil {
		return nil, fmt.Errorf("compile equation of %q: %w", f.Name, err)
	}
	return &Equation{Name: f.Name, Source: f.Equation, params: params, program: program}, nil
}

func newEnv(params []Parameter, x float64, values []float64) map[string]any {
	env := make(map[string]any, len(mathEnv)+len(params)+1)
	for k, v := range mathEnv {
		env[k] = v
	}
	env[FeatureVariable] = x
	for i, p := range params {
		if values != nil {
			env[p.Name] = values[i]
		} else {
			env[p.Name] = p.Value
		}
	}
	return env
}

// ParamNames returns parameter names in declaration order.
func (e *Equation) ParamNames() []string {
	names := make([]string, len(e.params))
	for i, p := range e.params {
		names[i] = p.Name
	}
	return names
}

// Defaults returns the declared parameter values.
func (e *Equation) Defaults() []float64 {
	values := make([]float64, len(e.params))
	for i, p := range e.params {
		values[i] = p.Value
	}
	return values
}

// NumParams is the number of free parameters of the equation.
func (e *Equation) NumParams() int { return len(e.params) }

// Eval evaluates the equation at x. A nil values slice uses the declared
// parameter values.
func (e *Equation) Eval(x float64, values []float64) (float64, error) {
	if values != nil && len(values) != len(e.params) {
		return 0, fmt.Errorf("equation %q: expected %d parameters, got %d", e.Name, len(e.params), len(values))
	}
	out, err := expr.Run(e.program, newEnv(e.params, x, values))
	if err != nil {
		return 0, fmt.Errorf("evaluate %q: %w", e.Name, err)
	}
	switch v := out.(type) {
	case float64:
		return v, nil
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case bool:
		if v {
			return 1, nil
		}
		return 0, nil
	default:
		return 0, fmt.Errorf("evaluate %q: unexpected result type %T", e.Name, out)
	}
}

// SubstitutedEquation renders an equation with parameter values and the
// feature name written in place of their identifiers. Longer parameter names
// are substituted first so that, for example, "x0" is not clobbered by "x".
func SubstitutedEquation(equation string, params []Parameter, feature string) string {
	ordered := make([]Parameter, len(params))
	copy(ordered, params)
	sort.SliceStable(ordered, func(i, j int) bool {
		return len(ordered[i].Name) > len(ordered[j].Name)
	})

	out := "(" + equation + ")"
	for _, p := range ordered {
		re := regexp.MustCompile(`\b` + regexp.QuoteMeta(p.Name) + `\b`)
		out = re.ReplaceAllLiteralString(out, strconv.FormatFloat(p.Value, 'g', -1, 64))
	}
	if feature != "" {
		re := regexp.MustCompile(`\b` + FeatureVariable + `\b`)
		out = re.ReplaceAllLiteralString(out, feature)
	}
	return out
}
