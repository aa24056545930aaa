package session

import (
	"fmt"
	"strings"

	"github.com/kacperjurak/lawfit"
)

// Field names one editable column of the function table.
type Field int

const (
	FieldName Field = iota
	FieldEquation
	FieldParameters
)

// ParseField accepts "name", "equation" and "parameters".
func ParseField(s string) (Field, error) {
	switch s {
	case "name":
		return FieldName, nil
	case "equation":
		return FieldEquation, nil
	case "parameters":
		return FieldParameters, nil
	}
	return FieldName, fmt.Errorf("unknown function field %q", s)
}

// Functions returns a copy of the function definitions in order.
func (s *State) Functions() []lawfit.FunctionDefinition {
	return append([]lawfit.FunctionDefinition(nil), s.functions...)
}

// AddFunction appends an empty definition.
func (s *State) AddFunction() {
	s.functions = append(s.functions, lawfit.FunctionDefinition{})
	s.Emit(EventFunctionsChanged, len(s.functions)-1)
}

// RemoveFunction drops the last definition. It is a no-op on an empty table.
func (s *State) RemoveFunction() {
	if len(s.functions) == 0 {
		return
	}
	s.functions = s.functions[:len(s.functions)-1]
	s.Emit(EventFunctionsChanged, len(s.functions))
	s.Reconcile()
}

// EditFunction sets one field of the definition at index. Values are trimmed.
// Renaming reconciles the fitting matrix, so cells pointing at the old name
// become empty.
func (s *State) EditFunction(index int, field Field, value string) error {
	if index < 0 || index >= len(s.functions) {
		return fmt.Errorf("function index %d out of range", index)
	}
	value = strings.TrimSpace(value)
	f := &s.functions[index]
	switch field {
	case FieldName:
		f.Name = value
	case FieldEquation:
		f.Equation = value
	case FieldParameters:
		f.Parameters = value
	}
	s.Emit(EventFunctionsChanged, index)
	if field == FieldName {
		s.Reconcile()
	}
	return nil
}

// Method returns the fitting method.
func (s *State) Method() lawfit.FittingMethod { return s.method }

// SetFittingMethod switches between combining terms linearly and multiplying them.
func (s *State) SetFittingMethod(m lawfit.FittingMethod) {
	s.method = m
}

// ModelName returns the model name typed by the user.
func (s *State) ModelName() string { return s.modelName }

// SetModelName records the name used when saving.
func (s *State) SetModelName(name string) {
	s.modelName = strings.TrimSpace(name)
}

// ModelConfig returns the savable configuration with a feature-keyed
// fitting config covering every visible feature and target.
func (s *State) ModelConfig() lawfit.ModelConfig {
	return lawfit.ModelConfig{
		ModelName:     s.modelName,
		FittingMethod: s.method,
		FittingConfig: s.WireAssignments(),
		Functions:     s.Functions(),
	}
}

// ApplyModelConfig replaces the model wholesale with a loaded configuration
// and marks it loaded. A configuration with no functions list at all falls
// back to the defaults; an empty list is kept empty.
func (s *State) ApplyModelConfig(file string, cfg lawfit.ModelConfig) {
	if cfg.Functions == nil {
		s.functions = lawfit.DefaultFunctions()
	} else {
		s.functions = make([]lawfit.FunctionDefinition, len(cfg.Functions))
		copy(s.functions, cfg.Functions)
	}
	s.method = lawfit.ParseFittingMethod(string(cfg.FittingMethod))
	s.assignments = cfg.FittingConfig.Clone()
	s.modelName = cfg.ModelName
	if s.modelName == "" {
		s.modelName = strings.TrimSuffix(file, ".json")
	}
	s.modelFile = file
	s.loaded = true

	s.Emit(EventFunctionsChanged, nil)
	s.Reconcile()
	s.Emit(EventModelLoaded, file)
	s.Emit(EventSelectionChanged, nil)
	s.applyGating()
}

// Reset restores the default functions, clears assignments and the model
// name, selects CombineLinearly and marks nothing loaded. Calling it twice
// leaves the same state as calling it once.
func (s *State) Reset() {
	s.resetModel()
	s.Emit(EventReset, nil)
	s.Emit(EventFunctionsChanged, nil)
	s.Emit(EventMatrixChanged, nil)
	s.Emit(EventSelectionChanged, nil)
	s.applyGating()
}

func (s *State) resetModel() {
	s.functions = lawfit.DefaultFunctions()
	s.assignments = make(lawfit.Assignments)
	s.method = lawfit.CombineLinearly
	s.modelName = ""
	s.loaded = false
	s.overlap = false
	s.thresholdActive = false
}

// SelectModelFile records the model file chosen in the selector.
func (s *State) SelectModelFile(name string) {
	s.modelFile = name
}

// AfterDelete clears the selector and resets the model after the selected
// configuration was deleted.
func (s *State) AfterDelete() {
	s.modelFile = ""
	s.Reset()
}

// MarkSaved records the outcome of a save. A failed save leaves nothing loaded.
func (s *State) MarkSaved(ok bool, file string) {
	s.loaded = ok
	if ok && file != "" {
		s.modelFile = file
	}
	s.applyGating()
}
