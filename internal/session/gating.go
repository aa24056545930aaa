package session

import (
	"errors"
	"strings"
)

var ErrDisabled = errors.New("control is disabled")

// Gating is the enabled state of the action controls.
type Gating struct {
	Overlap   bool
	Learning  bool
	Threshold bool
	ModelFile bool
	Apply     bool
}

// ComputeGating derives control states from the session flags.
func ComputeGating(loaded, overlap bool, featureFile, targetFile string, headersPresent bool) Gating {
	active := overlap && loaded
	return Gating{
		Overlap:   loaded,
		Learning:  active,
		Threshold: active,
		ModelFile: featureFile != "" && targetFile != "",
		Apply:     headersPresent,
	}
}

// Gating returns the current control states.
func (s *State) Gating() Gating {
	return ComputeGating(s.loaded, s.overlap, s.featureFile, s.targetFile,
		len(s.featureHeaders) > 0 && len(s.targetHeaders) > 0)
}

// applyGating forces disabled toggles off.
func (s *State) applyGating() {
	g := s.Gating()
	if !g.Overlap {
		s.overlap = false
	}
	if !g.Threshold {
		s.thresholdActive = false
	}
	s.Emit(EventGatingChanged, s.Gating())
}

// SetOverlap turns the overlap toggle on or off. Turning it on requires a
// loaded model.
func (s *State) SetOverlap(on bool) error {
	if on && !s.Gating().Overlap {
		return ErrDisabled
	}
	s.overlap = on
	s.applyGating()
	return nil
}

// ToggleThreshold flips the threshold toggle while it is enabled.
func (s *State) ToggleThreshold() error {
	if !s.Gating().Threshold {
		return ErrDisabled
	}
	s.thresholdActive = !s.thresholdActive
	s.Emit(EventGatingChanged, s.Gating())
	return nil
}

// ThresholdActive reports whether the threshold toggle is on.
func (s *State) ThresholdActive() bool { return s.thresholdActive }

// SetThresholdValue records the threshold text box.
func (s *State) SetThresholdValue(v string) {
	s.thresholdValue = strings.TrimSpace(v)
}
