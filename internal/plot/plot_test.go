package plot

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sample() Series {
	return Series{
		X:     []float64{1, 2, 3},
		Y:     []float64{10, 20, 15},
		Z:     []float64{100, 300, 200},
		XName: "Temp",
		YName: "Pressure",
		ZName: "Strength",
	}
}

// TestScatterFigure checks the Plotly trace and layout fields the front-end
// relies on.
func TestScatterFigure(t *testing.T) {
	graph, layout, err := Scatter(sample())
	require.NoError(t, err)

	var data []map[string]any
	require.NoError(t, json.Unmarshal([]byte(graph), &data))
	require.Len(t, data, 1)
	assert.Equal(t, "scattergl", data[0]["type"])
	assert.Equal(t, "markers", data[0]["mode"])

	m := data[0]["marker"].(map[string]any)
	assert.Equal(t, "Jet", m["colorscale"])
	assert.Equal(t, 100.0, m["cmin"])
	assert.Equal(t, 300.0, m["cmax"])
	assert.Equal(t, "Strength", m["colorbar"].(map[string]any)["title"].(map[string]any)["text"])

	var lay map[string]any
	require.NoError(t, json.Unmarshal([]byte(layout), &lay))
	assert.Equal(t, "Scatter Plot: Strength vs Temp and Pressure", lay["title"].(map[string]any)["text"])
	assert.Equal(t, "closest", lay["hovermode"])
	assert.Equal(t, "true", lay["uirevision"])
}

func TestScatterRejectsBadSeries(t *testing.T) {
	_, _, err := Scatter(Series{})
	assert.Error(t, err)

	s := sample()
	s.Z = s.Z[:2]
	_, _, err = Scatter(s)
	assert.Error(t, err)
}

func TestRenderPNG(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, RenderPNG(&buf, sample(), 320, 240))
	assert.True(t, bytes.HasPrefix(buf.Bytes(), []byte("\x89PNG\r\n\x1a\n")))
}
