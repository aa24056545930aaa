package session

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/kacperjurak/lawfit/pkg/models"
)

// Kind is how a feature participates in the plot.
type Kind int

const (
	Constant Kind = iota
	XAxis
	YAxis
)

func (k Kind) String() string {
	switch k {
	case XAxis:
		return models.ParamXAxis
	case YAxis:
		return models.ParamYAxis
	default:
		return models.ParamConstant
	}
}

// ParseKind accepts the wire names Constant, X_axis and Y_axis.
func ParseKind(s string) (Kind, error) {
	switch s {
	case models.ParamConstant:
		return Constant, nil
	case models.ParamXAxis:
		return XAxis, nil
	case models.ParamYAxis:
		return YAxis, nil
	}
	return Constant, fmt.Errorf("unknown selection kind %q", s)
}

// FeatureSelection is the role of one feature header. Value is only
// meaningful for Constant.
type FeatureSelection struct {
	Kind  Kind
	Value string
}

var (
	ErrUnknownHeader = errors.New("unknown header")
	ErrNotReady      = errors.New("select an X axis, a Y axis, a target and every constant value")
)

// SetSelection assigns kind to header. XAxis and YAxis are exclusive: any
// other header holding the same kind falls back to an empty Constant.
func (s *State) SetSelection(header string, kind Kind, value string) error {
	if _, ok := s.selections[header]; !ok {
		return fmt.Errorf("%w: %q", ErrUnknownHeader, header)
	}
	if kind != Constant {
		for h, sel := range s.selections {
			if h != header && sel.Kind == kind {
				s.selections[h] = FeatureSelection{Kind: Constant}
			}
		}
		value = ""
	}
	s.selections[header] = FeatureSelection{Kind: kind, Value: strings.TrimSpace(value)}
	s.Emit(EventSelectionChanged, header)
	return nil
}

// SetConstantValue edits the value of a Constant header. It is a no-op for
// headers currently used as an axis.
func (s *State) SetConstantValue(header, value string) error {
	sel, ok := s.selections[header]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownHeader, header)
	}
	if sel.Kind != Constant {
		return nil
	}
	s.selections[header] = FeatureSelection{Kind: Constant, Value: strings.TrimSpace(value)}
	s.Emit(EventSelectionChanged, header)
	return nil
}

// SetTarget selects the plotted target. An empty name clears it.
func (s *State) SetTarget(target string) error {
	if target != "" && !contains(s.targetHeaders, target) {
		return fmt.Errorf("%w: %q", ErrUnknownHeader, target)
	}
	s.target = target
	s.Emit(EventSelectionChanged, target)
	return nil
}

// Selection returns the current selection of header.
func (s *State) Selection(header string) (FeatureSelection, bool) {
	sel, ok := s.selections[header]
	return sel, ok
}

// Target returns the selected target, or "".
func (s *State) Target() string { return s.target }

// PlotReady reports whether a plot request can be made: exactly one X axis,
// exactly one Y axis, a target, and a value for every constant.
func (s *State) PlotReady() bool {
	if s.target == "" {
		return false
	}
	var xs, ys int
	for _, h := range s.featureHeaders {
		sel := s.selections[h]
		switch sel.Kind {
		case XAxis:
			xs++
		case YAxis:
			ys++
		default:
			if sel.Value == "" {
				return false
			}
		}
	}
	return xs == 1 && ys == 1
}

// PlotRequest builds the backend request for the current selection. Constant
// values must parse as numbers.
func (s *State) PlotRequest() (models.PlotRequest, error) {
	if !s.PlotReady() {
		return models.PlotRequest{}, ErrNotReady
	}
	req := models.PlotRequest{TargetParam: s.target}
	for _, h := range s.featureHeaders {
		sel := s.selections[h]
		if sel.Kind == Constant {
			if _, err := strconv.ParseFloat(sel.Value, 64); err != nil {
				return models.PlotRequest{}, fmt.Errorf("constant value for %q must be a number", h)
			}
		}
		req.FeatureParams = append(req.FeatureParams, models.FeatureParam{Name: h, Type: sel.Kind.String(), Value: sel.Value})
	}
	return req, nil
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
