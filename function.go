package lawfit

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
)

// FittingMethod selects how the terms assigned to one target are combined.
type FittingMethod string

const (
	CombineLinearly FittingMethod = "linear"
	Multiply        FittingMethod = "multiply"
)

// ParseFittingMethod maps wire and legacy spellings onto a FittingMethod.
// Anything unrecognized falls back to CombineLinearly.
func ParseFittingMethod(s string) FittingMethod {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "multiply", "product", "乗積":
		return Multiply
	default:
		return CombineLinearly
	}
}

// Operator returns the infix operator used when rendering combined equations.
func (m FittingMethod) Operator() string {
	if m == Multiply {
		return " * "
	}
	return " + "
}

// Label is the human readable name shown next to the method toggle.
func (m FittingMethod) Label() string {
	if m == Multiply {
		return "Multiply"
	}
	return "Combine linearly"
}

// FunctionDefinition is a named model function. Equation is written in terms
// of x (the feature value) and the parameters listed as "name=value" pairs.
type FunctionDefinition struct {
	Name       string `json:"name"`
	Equation   string `json:"equation"`
	Parameters string `json:"parameters"`
}

// Parameter is a single parsed "name=value" pair.
type Parameter struct {
	Name  string
	Value float64
}

var (
	functionNamePattern  = regexp.MustCompile(`^[A-Za-z0-9_]+$`)
	parameterNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)
)

// ValidationError names the function, and the parameter when relevant,
// that failed validation.
type ValidationError struct {
	Function  string
	Parameter string
	Reason    string
}

func (e *ValidationError) Error() string {
	if e.Parameter != "" {
		return fmt.Sprintf("function %q: parameter %q %s", e.Function, e.Parameter, e.Reason)
	}
	return fmt.Sprintf("function %q: %s", e.Function, e.Reason)
}

// Params parses the parameter text. Empty text yields no parameters.
func (f FunctionDefinition) Params() ([]Parameter, error) {
	text := strings.TrimSpace(f.Parameters)
	if text == "" {
		return nil, nil
	}

	var params []Parameter
	for _, part := range strings.Split(text, ",") {
		part = strings.TrimSpace(part)
		name, value, ok := strings.Cut(part, "=")
		if !ok || strings.Contains(value, "=") {
			return nil, &ValidationError{Function: f.Name, Parameter: part, Reason: `must be written as "name=value"`}
		}
		name = strings.TrimSpace(name)
		value = strings.TrimSpace(value)

		if !parameterNamePattern.MatchString(name) {
			return nil, &ValidationError{Function: f.Name, Parameter: name, Reason: "is not a valid variable name"}
		}
		v, err := strconv.ParseFloat(value, 64)
		if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, &ValidationError{Function: f.Name, Parameter: name, Reason: "must have a numeric value"}
		}
		params = append(params, Parameter{Name: name, Value: v})
	}
	return params, nil
}

// Validate checks the save-time invariants of a function definition.
func (f FunctionDefinition) Validate() error {
	if !functionNamePattern.MatchString(f.Name) {
		return &ValidationError{Function: f.Name, Reason: "name may only contain letters, digits and underscores"}
	}
	if strings.TrimSpace(f.Equation) == "" {
		return &ValidationError{Function: f.Name, Reason: "equation must not be empty"}
	}
	_, err := f.Params()
	return err
}

// ValidateFunctions returns the first validation failure in fns.
func ValidateFunctions(fns []FunctionDefinition) error {
	for _, f := range fns {
		if err := f.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// DefaultFunctions returns a fresh copy of the built-in example functions.
func DefaultFunctions() []FunctionDefinition {
	return []FunctionDefinition{
		{Name: "Exp_Decay", Equation: "A * exp(-x / tau) + C", Parameters: "A=1.0, tau=100.0, C=0.5"},
		{Name: "Gaussian", Equation: "Amp * exp(-(x - mu)**2 / (2 * sigma**2))", Parameters: "Amp=1.0, mu=0.0, sigma=1.0"},
		{Name: "Power_Law", Equation: "alpha * x**beta", Parameters: "alpha=1.0, beta=0.7"},
		{Name: "Linear", Equation: "m * x + b", Parameters: "m=0.1, b=0.0"},
		{Name: "Polynomial_2nd", Equation: "a * x**2 + b * x + c", Parameters: "a=0.01, b=0.1, c=0.0"},
		{Name: "Log_Growth", Equation: "K / (1 + exp(-r * (x - x0)))", Parameters: "K=1.0, r=0.1, x0=0.0"},
	}
}

// FunctionNames lists the non-empty names of fns in order, without duplicates.
func FunctionNames(fns []FunctionDefinition) []string {
	seen := make(map[string]bool, len(fns))
	names := make([]string, 0, len(fns))
	for _, f := range fns {
		if f.Name == "" || seen[f.Name] {
			continue
		}
		seen[f.Name] = true
		names = append(names, f.Name)
	}
	return names
}
