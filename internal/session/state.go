// Package session holds the front-end configuration state: uploaded file
// names and headers, axis selections, function definitions, the fitting
// assignment matrix and action gating. It performs no I/O; the controller
// drives it and reacts to the events it emits.
//
// State is not safe for concurrent use. The controller serializes access.
package session

import (
	"github.com/kacperjurak/lawfit"
	"github.com/kacperjurak/lawfit/internal/dataset"
)

// Role identifies one of the two uploaded files.
type Role string

const (
	Feature Role = "feature"
	Target  Role = "target"
)

// EventType identifies state changes listeners can react to.
type EventType int

const (
	// EventSelectionChanged fires when anything affecting the plot changed.
	EventSelectionChanged EventType = iota
	EventHeadersChanged
	EventFunctionsChanged
	EventMatrixChanged
	EventModelLoaded
	EventReset
	EventGatingChanged
)

// EventListener is called when an event occurs.
type EventListener func(data interface{})

// State is the single active front-end session.
type State struct {
	featureFile    string
	targetFile     string
	featureHeaders []string
	targetHeaders  []string

	selections map[string]FeatureSelection
	target     string

	modelName   string
	method      lawfit.FittingMethod
	functions   []lawfit.FunctionDefinition
	assignments lawfit.Assignments

	modelFile       string
	loaded          bool
	overlap         bool
	thresholdActive bool
	thresholdValue  string

	listeners map[EventType][]EventListener
}

// New returns a state with default functions and nothing uploaded.
func New() *State {
	s := &State{
		selections: make(map[string]FeatureSelection),
		listeners:  make(map[EventType][]EventListener),
	}
	s.resetModel()
	return s
}

// On registers an event listener for the specified event type.
func (s *State) On(event EventType, listener EventListener) {
	s.listeners[event] = append(s.listeners[event], listener)
}

// Emit triggers all listeners for the specified event type.
func (s *State) Emit(event EventType, data interface{}) {
	for _, listener := range s.listeners[event] {
		listener(data)
	}
}

// SetHeaders records a successful upload for role. Sentinel headers are
// dropped. That side's selections and every fitting assignment are reset.
// With either header list empty the model no longer counts as loaded.
func (s *State) SetHeaders(role Role, filename string, headers []string) {
	filtered := dataset.FilterHeaders(headers)
	switch role {
	case Feature:
		s.featureFile = filename
		s.featureHeaders = filtered
	case Target:
		s.targetFile = filename
		s.targetHeaders = filtered
	default:
		return
	}
	s.resetSide(role)
	if len(s.featureHeaders) == 0 || len(s.targetHeaders) == 0 {
		s.loaded = false
	}
	s.Emit(EventHeadersChanged, role)
	s.Emit(EventSelectionChanged, role)
	s.applyGating()
}

// ClearCSV forgets the file and headers of role with the same cascade as an
// upload.
func (s *State) ClearCSV(role Role) {
	s.SetHeaders(role, "", nil)
}

func (s *State) resetSide(role Role) {
	if role == Feature {
		s.selections = make(map[string]FeatureSelection, len(s.featureHeaders))
		for _, h := range s.featureHeaders {
			s.selections[h] = FeatureSelection{Kind: Constant}
		}
	} else {
		s.target = ""
	}
	s.assignments = make(lawfit.Assignments)
	s.Emit(EventMatrixChanged, nil)
}

// FeatureFile returns the name of the uploaded feature file, or "".
func (s *State) FeatureFile() string { return s.featureFile }

// TargetFile returns the name of the uploaded target file, or "".
func (s *State) TargetFile() string { return s.targetFile }

// FeatureHeaders returns a copy of the selectable feature headers.
func (s *State) FeatureHeaders() []string { return append([]string(nil), s.featureHeaders...) }

// TargetHeaders returns a copy of the selectable target headers.
func (s *State) TargetHeaders() []string { return append([]string(nil), s.targetHeaders...) }

// ModelFile returns the model file currently chosen in the selector.
func (s *State) ModelFile() string { return s.modelFile }

// Loaded reports whether the current configuration came from a successful
// load or save.
func (s *State) Loaded() bool { return s.loaded }

// Overlap reports whether the overlap toggle is on.
func (s *State) Overlap() bool { return s.overlap }

// FeatureRow is one line of the selection table.
type FeatureRow struct {
	Header string
	Kind   Kind
	Value  string
}

// Snapshot is a read-only copy of everything needed to render the page.
type Snapshot struct {
	FeatureFile    string
	TargetFile     string
	FeatureRows    []FeatureRow
	TargetHeaders  []string
	Target         string
	ModelName      string
	Method         lawfit.FittingMethod
	Functions      []lawfit.FunctionDefinition
	Matrix         Matrix
	ModelFile      string
	Loaded         bool
	Overlap        bool
	ThresholdOn    bool
	ThresholdValue string
	Gating         Gating
	PlotReady      bool
}

// Snapshot copies the current state for rendering.
func (s *State) Snapshot() Snapshot {
	rows := make([]FeatureRow, len(s.featureHeaders))
	for i, h := range s.featureHeaders {
		sel := s.selections[h]
		rows[i] = FeatureRow{Header: h, Kind: sel.Kind, Value: sel.Value}
	}
	return Snapshot{
		FeatureFile:    s.featureFile,
		TargetFile:     s.targetFile,
		FeatureRows:    rows,
		TargetHeaders:  s.TargetHeaders(),
		Target:         s.target,
		ModelName:      s.modelName,
		Method:         s.method,
		Functions:      s.Functions(),
		Matrix:         s.Matrix(),
		ModelFile:      s.modelFile,
		Loaded:         s.loaded,
		Overlap:        s.overlap,
		ThresholdOn:    s.thresholdActive,
		ThresholdValue: s.thresholdValue,
		Gating:         s.Gating(),
		PlotReady:      s.PlotReady(),
	}
}
