// Package plot builds the scatter chart of a target against two features,
// either as Plotly figure JSON or as a PNG image.
package plot

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/kacperjurak/lawfit/internal/dataset"
)

// Series is the data of one scatter: target Z colored over the X/Y plane.
type Series struct {
	X, Y, Z             []float64
	XName, YName, ZName string
}

func (s Series) validate() error {
	if len(s.X) == 0 {
		return errors.New("plot: empty series")
	}
	if len(s.X) != len(s.Y) || len(s.X) != len(s.Z) {
		return fmt.Errorf("plot: series length mismatch: x=%d y=%d z=%d", len(s.X), len(s.Y), len(s.Z))
	}
	return nil
}

// Title is the chart heading shared by both renderings.
func (s Series) Title() string {
	return fmt.Sprintf("Scatter Plot: %s vs %s and %s", s.ZName, s.XName, s.YName)
}

type text struct {
	Text string `json:"text"`
}

type colorBar struct {
	Title text `json:"title"`
}

type marker struct {
	Size       int       `json:"size"`
	Color      []float64 `json:"color"`
	Colorscale string    `json:"colorscale"`
	ColorBar   colorBar  `json:"colorbar"`
	CMin       float64   `json:"cmin"`
	CMax       float64   `json:"cmax"`
	ShowScale  bool      `json:"showscale"`
}

type trace struct {
	Type          string    `json:"type"`
	X             []float64 `json:"x"`
	Y             []float64 `json:"y"`
	Mode          string    `json:"mode"`
	Marker        marker    `json:"marker"`
	HoverInfo     string    `json:"hoverinfo"`
	HoverTemplate string    `json:"hovertemplate"`
}

type axis struct {
	Title      text `json:"title"`
	AutoMargin bool `json:"automargin"`
}

type margin struct {
	T int `json:"t"`
	B int `json:"b"`
	L int `json:"l"`
	R int `json:"r"`
}

type layout struct {
	Title      text   `json:"title"`
	XAxis      axis   `json:"xaxis"`
	YAxis      axis   `json:"yaxis"`
	HoverMode  string `json:"hovermode"`
	Margin     margin `json:"margin"`
	UIRevision string `json:"uirevision"`
}

// Scatter returns the Plotly data array and layout object as JSON strings.
func Scatter(s Series) (graphJSON, layoutJSON string, err error) {
	if err := s.validate(); err != nil {
		return "", "", err
	}
	zMin, zMax := dataset.Range(s.Z)

	data := []trace{{
		Type: "scattergl",
		X:    s.X,
		Y:    s.Y,
		Mode: "markers",
		Marker: marker{
			Size:       10,
			Color:      s.Z,
			Colorscale: "Jet",
			ColorBar:   colorBar{Title: text{Text: s.ZName}},
			CMin:       zMin,
			CMax:       zMax,
			ShowScale:  true,
		},
		HoverInfo:     "x+y+z",
		HoverTemplate: fmt.Sprintf("<b>%s:</b> %%{x}<br><b>%s:</b> %%{y}<br><b>%s:</b> %%{marker.color}<extra></extra>", s.XName, s.YName, s.ZName),
	}}

	lay := layout{
		Title:      text{Text: s.Title()},
		XAxis:      axis{Title: text{Text: s.XName}, AutoMargin: true},
		YAxis:      axis{Title: text{Text: s.YName}, AutoMargin: true},
		HoverMode:  "closest",
		Margin:     margin{T: 50, B: 50, L: 50, R: 50},
		UIRevision: "true",
	}

	g, err := json.Marshal(data)
	if err != nil {
		return "", "", fmt.Errorf("marshal plot data: %w", err)
	}
	l, err := json.Marshal(lay)
	if err != nil {
		return "", "", fmt.Errorf("marshal plot layout: %w", err)
	}
	return string(g), string(l), nil
}
