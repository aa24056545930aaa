package plot

import (
	"fmt"
	"io"

	"github.com/wcharczuk/go-chart/v2"
	"github.com/wcharczuk/go-chart/v2/drawing"

	"github.com/kacperjurak/lawfit/internal/dataset"
)

const (
	DefaultWidth  = 800
	DefaultHeight = 600
)

// RenderPNG draws the series as a dot chart. Dot color runs along the
// viridis ramp from the smallest to the largest Z value.
func RenderPNG(w io.Writer, s Series, width, height int) error {
	if err := s.validate(); err != nil {
		return err
	}
	if width <= 0 {
		width = DefaultWidth
	}
	if height <= 0 {
		height = DefaultHeight
	}
	zMin, zMax := dataset.Range(s.Z)

	colorByZ := func(_, _ chart.Range, index int, _, _ float64) drawing.Color {
		if zMax == zMin {
			return chart.Viridis(0.5, 0, 1)
		}
		return chart.Viridis(s.Z[index], zMin, zMax)
	}

	graph := chart.Chart{
		Title:  s.Title(),
		Width:  width,
		Height: height,
		Background: chart.Style{
			Padding: chart.Box{Top: 50, Left: 20, Right: 20, Bottom: 20},
		},
		XAxis: chart.XAxis{Name: s.XName},
		YAxis: chart.YAxis{Name: s.YName},
		Series: []chart.Series{
			chart.ContinuousSeries{
				Name: s.ZName,
				Style: chart.Style{
					StrokeWidth:      chart.Disabled,
					DotWidth:         5,
					DotColorProvider: colorByZ,
				},
				XValues: s.X,
				YValues: s.Y,
			},
		},
	}

	if err := graph.Render(chart.PNG, w); err != nil {
		return fmt.Errorf("render png: %w", err)
	}
	return nil
}
