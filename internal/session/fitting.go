package session

import (
	"fmt"

	"github.com/kacperjurak/lawfit"
)

// SetAssignment stores fn for (feature, target). The name is not checked
// against the live function list on write; the matrix re-render that
// follows reconciles it, so a name without a definition is erased and
// cannot reappear when a function of that name is added later.
func (s *State) SetAssignment(feature, target, fn string) error {
	if !contains(s.featureHeaders, feature) {
		return fmt.Errorf("%w: feature %q", ErrUnknownHeader, feature)
	}
	if !contains(s.targetHeaders, target) {
		return fmt.Errorf("%w: target %q", ErrUnknownHeader, target)
	}
	s.assignments.Set(feature, target, fn)
	s.Emit(EventMatrixChanged, nil)
	s.Reconcile()
	return nil
}

// Assignment returns the function assigned to (feature, target) if it names
// a current function, else "".
func (s *State) Assignment(feature, target string) string {
	name := s.assignments.Get(feature, target)
	if name == "" || !contains(lawfit.FunctionNames(s.functions), name) {
		return ""
	}
	return name
}

// Reconcile erases assignments naming functions that no longer exist, so a
// later rename back to the old name does not resurrect them.
func (s *State) Reconcile() {
	names := lawfit.FunctionNames(s.functions)
	changed := false
	for _, row := range s.assignments {
		for target, name := range row {
			if name != "" && !contains(names, name) {
				row[target] = ""
				changed = true
			}
		}
	}
	if changed {
		s.Emit(EventMatrixChanged, nil)
	}
}

// Matrix is the render model of the fitting assignment table.
type Matrix struct {
	// Placeholder is set when either header list is empty; no table is shown.
	Placeholder  bool
	Features     []string
	Targets      []string
	Options      []string
	Cells        [][]string
	ApplyEnabled bool
}

// Matrix builds the table of features x targets.
func (s *State) Matrix() Matrix {
	if len(s.featureHeaders) == 0 || len(s.targetHeaders) == 0 {
		return Matrix{Placeholder: true}
	}
	m := Matrix{
		Features:     s.FeatureHeaders(),
		Targets:      s.TargetHeaders(),
		Options:      lawfit.FunctionNames(s.functions),
		Cells:        make([][]string, len(s.featureHeaders)),
		ApplyEnabled: true,
	}
	for i, f := range s.featureHeaders {
		m.Cells[i] = make([]string, len(s.targetHeaders))
		for j, t := range s.targetHeaders {
			m.Cells[i][j] = s.Assignment(f, t)
		}
	}
	return m
}

// WireAssignments is the feature-keyed fitting config sent on save. It covers
// every visible cell; entries for absent headers are left out.
func (s *State) WireAssignments() lawfit.Assignments {
	out := make(lawfit.Assignments, len(s.featureHeaders))
	for _, f := range s.featureHeaders {
		row := make(map[string]string, len(s.targetHeaders))
		for _, t := range s.targetHeaders {
			row[t] = s.Assignment(f, t)
		}
		out[f] = row
	}
	return out
}
