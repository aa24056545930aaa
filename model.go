package lawfit

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
)

// ErrNoTerms is returned when a target has no feature with an assigned function.
var ErrNoTerms = errors.New("no functions assigned")

// Assignments is a two level map from an outer header to an inner header to
// a function name. Which side is outer depends on context: the wire format
// is feature-keyed, stored models are target-keyed.
type Assignments map[string]map[string]string

// Get returns the function assigned to (outer, inner), or "".
func (a Assignments) Get(outer, inner string) string {
	if a == nil {
		return ""
	}
	return a[outer][inner]
}

// Set records name at (outer, inner), creating the inner map when needed.
func (a Assignments) Set(outer, inner, name string) {
	row, ok := a[outer]
	if !ok {
		row = make(map[string]string)
		a[outer] = row
	}
	row[inner] = name
}

// Transpose swaps the outer and inner keys.
func (a Assignments) Transpose() Assignments {
	out := make(Assignments, len(a))
	for outer, row := range a {
		for inner, name := range row {
			out.Set(inner, outer, name)
		}
	}
	return out
}

// Clone returns a deep copy.
func (a Assignments) Clone() Assignments {
	out := make(Assignments, len(a))
	for outer, row := range a {
		inner := make(map[string]string, len(row))
		for k, v := range row {
			inner[k] = v
		}
		out[outer] = inner
	}
	return out
}

// Project returns the full outers x inners matrix, filling cells that a has
// no entry for with "".
func (a Assignments) Project(outers, inners []string) Assignments {
	out := make(Assignments, len(outers))
	for _, o := range outers {
		row := make(map[string]string, len(inners))
		for _, i := range inners {
			row[i] = a.Get(o, i)
		}
		out[o] = row
	}
	return out
}

// ModelConfig is the savable model configuration exchanged with the backend.
// FittingConfig is feature-keyed.
type ModelConfig struct {
	ModelName     string               `json:"modelName"`
	FittingMethod FittingMethod        `json:"fittingMethod"`
	FittingConfig Assignments          `json:"fittingConfig"`
	Functions     []FunctionDefinition `json:"functions"`
}

// Term is one feature's contribution to a combined model.
type Term struct {
	Feature  string
	Function string
	equation *Equation
	offset   int
}

// Equation returns the compiled function, or nil for a pass-through term.
func (t Term) Equation() *Equation { return t.equation }

// CombinedModel predicts one target from several features, each passed
// through its assigned function and then summed or multiplied.
type CombinedModel struct {
	Target string
	Method FittingMethod
	Terms  []Term

	initial []float64
	labels  []string
}

// NewCombinedModel builds the model of target from a target-keyed row of
// assignments (feature -> function name). Features with an empty function
// name are skipped. A function name without a definition passes the raw
// feature value through.
func NewCombinedModel(target string, method FittingMethod, row map[string]string, functions []FunctionDefinition) (*CombinedModel, error) {
	byName := make(map[string]FunctionDefinition, len(functions))
	for _, f := range functions {
		if _, ok := byName[f.Name]; !ok {
			byName[f.Name] = f
		}
	}

	features := make([]string, 0, len(row))
	for feature, name := range row {
		if name != "" {
			features = append(features, feature)
		}
	}
	sort.Strings(features)

	m := &CombinedModel{Target: target, Method: method}
	for _, feature := range features {
		name := row[feature]
		term := Term{Feature: feature, Function: name, offset: len(m.initial)}
		if def, ok := byName[name]; ok {
			eq, err := CompileFunction(def)
			if err != nil {
				return nil, fmt.Errorf("target %q: %w", target, err)
			}
			term.equation = eq
			m.initial = append(m.initial, eq.Defaults()...)
			for _, p := range eq.ParamNames() {
				m.labels = append(m.labels, feature+":"+name+"."+p)
			}
		}
		m.Terms = append(m.Terms, term)
	}
	if len(m.Terms) == 0 {
		return nil, fmt.Errorf("target %q: %w", target, ErrNoTerms)
	}
	return m, nil
}

// Features lists the features the model reads.
func (m *CombinedModel) Features() []string {
	out := make([]string, len(m.Terms))
	for i, t := range m.Terms {
		out[i] = t.Feature
	}
	return out
}

// InitialParams returns a copy of the declared parameter values of all terms.
func (m *CombinedModel) InitialParams() []float64 {
	out := make([]float64, len(m.initial))
	copy(out, m.initial)
	return out
}

// ParamLabels names each entry of the flattened parameter vector as
// "feature:Function.param".
func (m *CombinedModel) ParamLabels() []string {
	out := make([]string, len(m.labels))
	copy(out, m.labels)
	return out
}

// Eval computes the target value from feature values. A nil params slice
// uses the declared parameter values.
func (m *CombinedModel) Eval(values map[string]float64, params []float64) (float64, error) {
	if params != nil && len(params) != len(m.initial) {
		return 0, fmt.Errorf("target %q: expected %d parameters, got %d", m.Target, len(m.initial), len(params))
	}

	result := 0.0
	if m.Method == Multiply {
		result = 1.0
	}
	for _, t := range m.Terms {
		x, ok := values[t.Feature]
		if !ok {
			return 0, fmt.Errorf("target %q: missing value for feature %q", m.Target, t.Feature)
		}
		v := x
		if t.equation != nil {
			var p []float64
			if params != nil {
				p = params[t.offset : t.offset+t.equation.NumParams()]
			}
			var err error
			v, err = t.equation.Eval(x, p)
			if err != nil {
				return 0, err
			}
		}
		if m.Method == Multiply {
			result *= v
		} else {
			result += v
		}
	}
	return result, nil
}

// String renders the combined equation with declared parameter values
// substituted, e.g. "(0.1 * Temp + 0) + (1 * Pressure**0.7)".
func (m *CombinedModel) String() string {
	parts := make([]string, len(m.Terms))
	for i, t := range m.Terms {
		if t.equation == nil {
			parts[i] = t.Feature
			continue
		}
		parts[i] = SubstitutedEquation(t.equation.Source, t.equation.params, t.Feature)
	}
	return strings.Join(parts, m.Method.Operator())
}

// CalculateTargets evaluates every target of a target-keyed assignment set
// against one row of feature values. Targets without terms are skipped.
func CalculateTargets(method FittingMethod, functions []FunctionDefinition, byTarget Assignments, values map[string]float64) (map[string]float64, error) {
	out := make(map[string]float64, len(byTarget))
	for target, row := range byTarget {
		model, err := NewCombinedModel(target, method, row, functions)
		if errors.Is(err, ErrNoTerms) {
			continue
		}
		if err != nil {
			return nil, err
		}
		v, err := model.Eval(values, nil)
		if err != nil {
			return nil, err
		}
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, fmt.Errorf("target %q: result is not finite", target)
		}
		out[target] = v
	}
	return out, nil
}
