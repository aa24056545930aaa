package controller

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kacperjurak/lawfit"
	"github.com/kacperjurak/lawfit/internal/session"
	"github.com/kacperjurak/lawfit/pkg/gateway"
	"github.com/kacperjurak/lawfit/pkg/models"
)

type fakeBackend struct {
	mu sync.Mutex

	headers      map[string][]string
	tableHeaders *models.HeadersResponse
	load         *models.LoadModelResponse
	files        []string

	uploadErr, plotErr, saveErr, loadErr, deleteErr, demoErr, fitErr error

	plotRequests []models.PlotRequest
	saved        []lawfit.ModelConfig
	deleted      []string
	fitMethods   []string
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		headers: map[string][]string{
			"feature": {"main_id", "a", "b", "c"},
			"target":  {"main_id", "y", "z"},
		},
	}
}

func (f *fakeBackend) UploadCSV(ctx context.Context, role, filename string, data []byte) (*models.UploadResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.uploadErr != nil {
		return nil, f.uploadErr
	}
	return &models.UploadResponse{Filename: filename, Headers: f.headers[role], FileType: role}, nil
}

func (f *fakeBackend) GetPlotData(ctx context.Context, req models.PlotRequest) (*models.PlotResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.plotRequests = append(f.plotRequests, req)
	if f.plotErr != nil {
		return nil, f.plotErr
	}
	return &models.PlotResponse{GraphJSON: "[]", LayoutJSON: "{}"}, nil
}

func (f *fakeBackend) GetModelTableHeaders(ctx context.Context) (*models.HeadersResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.tableHeaders == nil {
		return &models.HeadersResponse{FeatureHeaders: []string{"a", "b", "c"}, TargetHeaders: []string{"y", "z"}}, nil
	}
	return f.tableHeaders, nil
}

func (f *fakeBackend) SaveModelConfig(ctx context.Context, cfg lawfit.ModelConfig) (*models.SaveModelResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.saveErr != nil {
		return nil, f.saveErr
	}
	f.saved = append(f.saved, cfg)
	name := cfg.ModelName + ".json"
	f.files = append(f.files, name)
	return &models.SaveModelResponse{Message: "saved", Filepath: "/data/settings/json/" + name}, nil
}

func (f *fakeBackend) LoadModelConfig(ctx context.Context, filename string) (*models.LoadModelResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.loadErr != nil {
		return nil, f.loadErr
	}
	return f.load, nil
}

func (f *fakeBackend) DeleteModelConfig(ctx context.Context, modelName string) (*models.MessageResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deleteErr != nil {
		return nil, f.deleteErr
	}
	f.deleted = append(f.deleted, modelName)
	return &models.MessageResponse{Message: "deleted"}, nil
}

func (f *fakeBackend) ListModelConfigs(ctx context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.files...), nil
}

func (f *fakeBackend) RunCalculationDemo(ctx context.Context) (*models.DemoResponse, error) {
	if f.demoErr != nil {
		return nil, f.demoErr
	}
	return &models.DemoResponse{Message: "demo", Targets: map[string]float64{"y": 1}}, nil
}

func (f *fakeBackend) FitModel(ctx context.Context, method string) (*models.FitResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fitErr != nil {
		return nil, f.fitErr
	}
	f.fitMethods = append(f.fitMethods, method)
	return &models.FitResponse{Message: "fitted", Results: []models.TargetFit{
		{Target: "y", Status: lawfit.OK},
		{Target: "z", Status: lawfit.ERROR, Error: "no data"},
	}}, nil
}

func (f *fakeBackend) plotCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.plotRequests)
}

var ctx = context.Background()

func uploaded(t *testing.T) (*Controller, *fakeBackend) {
	t.Helper()
	fb := newFakeBackend()
	c := New(fb, Options{Quiet: true})
	require.NoError(t, c.UploadCSV(ctx, session.Feature, "features.csv", []byte("x")))
	require.NoError(t, c.UploadCSV(ctx, session.Target, "targets.csv", []byte("x")))
	return c, fb
}

func loaded(t *testing.T) (*Controller, *fakeBackend) {
	t.Helper()
	c, fb := uploaded(t)
	fb.load = &models.LoadModelResponse{ModelConfig: lawfit.ModelConfig{
		ModelName:     "m",
		FittingMethod: lawfit.Multiply,
		FittingConfig: lawfit.Assignments{"a": {"y": "Linear", "z": "Gone"}},
		Functions:     lawfit.DefaultFunctions(),
	}}
	require.NoError(t, c.SelectModelFile(ctx, "m.json"))
	return c, fb
}

func TestUploadDropsSentinel(t *testing.T) {
	c, _ := uploaded(t)
	v := c.View()

	var headers []string
	for _, r := range v.FeatureRows {
		headers = append(headers, r.Header)
	}
	assert.Equal(t, []string{"a", "b", "c"}, headers)
	assert.Equal(t, []string{"y", "z"}, v.TargetHeaders)
	assert.Equal(t, []string{"a", "b", "c"}, v.Matrix.Features)
	assert.True(t, v.Gating.ModelFile)
	assert.False(t, v.Gating.Overlap)
}

// TestPlotRefreshOnlyWhenReady requests a plot only once every selection is
// complete, and hides it again when a constant is not numeric.
func TestPlotRefreshOnlyWhenReady(t *testing.T) {
	c, fb := uploaded(t)

	require.NoError(t, c.SetSelection(ctx, "a", "X_axis", ""))
	require.NoError(t, c.SetSelection(ctx, "b", "Y_axis", ""))
	require.NoError(t, c.SetConstantValue(ctx, "c", "5"))
	assert.Equal(t, 0, fb.plotCalls())
	assert.False(t, c.Plot().Visible)

	require.NoError(t, c.SetTarget(ctx, "y"))
	assert.Equal(t, 1, fb.plotCalls())
	assert.True(t, c.Plot().Visible)
	assert.Equal(t, "[]", c.Plot().GraphJSON)
	assert.Equal(t, models.PlotRequest{
		FeatureParams: []models.FeatureParam{
			{Name: "a", Type: "X_axis"},
			{Name: "b", Type: "Y_axis"},
			{Name: "c", Type: "Constant", Value: "5"},
		},
		TargetParam: "y",
	}, fb.plotRequests[0])

	require.NoError(t, c.SetConstantValue(ctx, "c", "abc"))
	assert.Equal(t, 1, fb.plotCalls())
	assert.False(t, c.Plot().Visible)
	assert.NotEmpty(t, c.Plot().Error)

	require.NoError(t, c.SetSelection(ctx, "c", "X_axis", ""))
	assert.False(t, c.Plot().Visible, "a fell back to an empty constant")
	assert.Equal(t, 1, fb.plotCalls())
}

func TestPlotFailureHidesPlot(t *testing.T) {
	c, fb := uploaded(t)
	fb.plotErr = &gateway.APIError{Op: "/get_plot_data", StatusCode: http.StatusBadRequest, Message: "No data"}

	require.NoError(t, c.SetSelection(ctx, "a", "X_axis", ""))
	require.NoError(t, c.SetSelection(ctx, "b", "Y_axis", ""))
	require.NoError(t, c.SetConstantValue(ctx, "c", "1"))
	require.NoError(t, c.SetTarget(ctx, "y"))

	assert.False(t, c.Plot().Visible)
	notices := c.Notices()
	require.Len(t, notices, 1)
	assert.Equal(t, Error, notices[0].Level)
	assert.Contains(t, notices[0].Message, "No data")
	assert.Empty(t, c.Notices())
}

func TestUploadRejectedClearsSide(t *testing.T) {
	c, fb := uploaded(t)
	fb.uploadErr = &gateway.APIError{Op: "/upload_csv", StatusCode: http.StatusBadRequest, Message: "bad csv"}

	assert.Error(t, c.UploadCSV(ctx, session.Target, "t2.csv", []byte("x")))
	v := c.View()
	assert.Empty(t, v.TargetHeaders)
	assert.Equal(t, "", v.TargetFile)
	assert.True(t, v.Matrix.Placeholder)

	fb.uploadErr = fmt.Errorf("perform request: %w", errors.New("connection refused"))
	assert.Error(t, c.UploadCSV(ctx, session.Feature, "f2.csv", []byte("x")))
	assert.Equal(t, "features.csv", c.View().FeatureFile, "transport failures keep state")
}

func TestApplyRejectsInvalidFunction(t *testing.T) {
	c, fb := uploaded(t)
	require.NoError(t, c.EditFunction(0, "name", "f 1"))

	err := c.Apply(ctx)
	var verr *lawfit.ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Empty(t, fb.saved)
	assert.Contains(t, c.Notices()[0].Message, "f 1")

	require.NoError(t, c.EditFunction(0, "name", "Exp_Decay"))
	require.NoError(t, c.EditFunction(0, "parameters", "A=abc"))
	err = c.Apply(ctx)
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, "A", verr.Parameter)
	assert.Empty(t, fb.saved)
}

func TestApplySavesWireFormat(t *testing.T) {
	c, fb := uploaded(t)
	c.SetModelName("model")
	c.SetFittingMethod("multiply")
	require.NoError(t, c.SetAssignment("a", "y", "Linear"))

	require.NoError(t, c.Apply(ctx))
	require.Len(t, fb.saved, 1)
	cfg := fb.saved[0]
	assert.Equal(t, "model", cfg.ModelName)
	assert.Equal(t, lawfit.Multiply, cfg.FittingMethod)
	assert.Equal(t, lawfit.Assignments{
		"a": {"y": "Linear", "z": ""},
		"b": {"y": "", "z": ""},
		"c": {"y": "", "z": ""},
	}, cfg.FittingConfig)

	v := c.View()
	assert.True(t, v.Loaded)
	assert.Equal(t, "model.json", v.ModelFile)
	assert.Equal(t, []string{"model.json"}, v.ModelFiles)
	assert.True(t, v.Gating.Overlap)
}

func TestApplyFailureMarksNotLoaded(t *testing.T) {
	c, fb := loaded(t)
	fb.saveErr = &gateway.APIError{Op: "/save_model_config", StatusCode: http.StatusInternalServerError, Message: "disk full"}

	require.Error(t, c.Apply(ctx))
	v := c.View()
	assert.False(t, v.Loaded)
	assert.False(t, v.Gating.Overlap)
}

func TestApplyDisabledWithoutHeaders(t *testing.T) {
	c := New(newFakeBackend(), Options{Quiet: true})
	assert.ErrorIs(t, c.Apply(ctx), session.ErrDisabled)
}

// TestLoadWithMissingFunction shows an empty cell for a function name the
// loaded configuration does not define.
func TestLoadWithMissingFunction(t *testing.T) {
	c, _ := loaded(t)
	v := c.View()

	assert.True(t, v.Loaded)
	assert.Equal(t, "m", v.ModelName)
	assert.Equal(t, lawfit.Multiply, v.Method)
	assert.Equal(t, "Linear", v.Matrix.Cells[0][0])
	assert.Equal(t, "", v.Matrix.Cells[0][1])
	assert.True(t, v.Gating.Overlap)
	assert.False(t, v.Gating.Learning)
}

func TestLoadFailureResets(t *testing.T) {
	c, fb := loaded(t)
	fb.loadErr = &gateway.APIError{Op: "/load_model_config", StatusCode: http.StatusBadRequest, Message: "different CSV files"}

	require.Error(t, c.SelectModelFile(ctx, "other.json"))
	v := c.View()
	assert.False(t, v.Loaded)
	assert.Equal(t, "", v.ModelFile)
	assert.Equal(t, lawfit.DefaultFunctions(), v.Functions)
	assert.Equal(t, lawfit.CombineLinearly, v.Method)
}

func TestLoadAdoptsDriftedHeaders(t *testing.T) {
	c, fb := uploaded(t)
	fb.tableHeaders = &models.HeadersResponse{FeatureHeaders: []string{"a", "d"}, TargetHeaders: []string{"y", "z"}}
	fb.load = &models.LoadModelResponse{ModelConfig: lawfit.ModelConfig{
		FittingConfig: lawfit.Assignments{"d": {"y": "Linear"}},
		Functions:     lawfit.DefaultFunctions(),
	}}

	require.NoError(t, c.SelectModelFile(ctx, "m.json"))
	v := c.View()
	assert.Equal(t, []string{"a", "d"}, v.Matrix.Features)
	assert.Equal(t, "Linear", v.Matrix.Cells[1][0])
	assert.Equal(t, "features.csv", v.FeatureFile)
	assert.Equal(t, "m", v.ModelName)
}

func TestSelectEmptyModelResets(t *testing.T) {
	c, _ := loaded(t)
	require.NoError(t, c.SelectModelFile(ctx, ""))
	assert.False(t, c.View().Loaded)
}

func TestLoadDisabledWithoutFiles(t *testing.T) {
	c := New(newFakeBackend(), Options{Quiet: true})
	assert.ErrorIs(t, c.SelectModelFile(ctx, "m.json"), session.ErrDisabled)
}

// TestDeleteLoadedModel resets the model and forces overlap off.
func TestDeleteLoadedModel(t *testing.T) {
	c, fb := loaded(t)
	require.NoError(t, c.SetOverlap(ctx, true))
	require.NotNil(t, c.View().Demo)

	require.NoError(t, c.DeleteModel(ctx))
	assert.Equal(t, []string{"m.json"}, fb.deleted)

	v := c.View()
	assert.False(t, v.Loaded)
	assert.False(t, v.Overlap)
	assert.False(t, v.Gating.Overlap)
	assert.False(t, v.Gating.Learning)
	assert.Equal(t, "", v.ModelFile)
	assert.Equal(t, "", v.ModelName)
	assert.Nil(t, v.Demo)
	assert.Equal(t, lawfit.DefaultFunctions(), v.Functions)
}

func TestDeleteFailureLeavesState(t *testing.T) {
	c, fb := loaded(t)
	require.NoError(t, c.SetOverlap(ctx, true))
	fb.deleteErr = &gateway.APIError{Op: "/delete_model_config", StatusCode: http.StatusNotFound, Message: "not found"}

	require.Error(t, c.DeleteModel(ctx))
	v := c.View()
	assert.True(t, v.Loaded)
	assert.True(t, v.Overlap)
	assert.Equal(t, "m.json", v.ModelFile)
}

func TestDeleteWithoutSelection(t *testing.T) {
	c, fb := uploaded(t)
	assert.Error(t, c.DeleteModel(ctx))
	assert.Empty(t, fb.deleted)
}

// TestDeleteIgnoresTypedName never sends the typed model name, which need
// not match the sanitized file name the backend stored.
func TestDeleteIgnoresTypedName(t *testing.T) {
	c, fb := uploaded(t)
	c.SetModelName("my model")
	require.Error(t, c.DeleteModel(ctx))
	assert.Empty(t, fb.deleted)
	assert.Equal(t, "my model", c.View().ModelName)
}

func TestClearCSVUnloadsModel(t *testing.T) {
	c, fb := loaded(t)
	require.NoError(t, c.SetOverlap(ctx, true))
	require.NoError(t, c.ToggleThreshold())
	require.NotNil(t, c.View().Demo)

	c.ClearCSV(ctx, session.Target)
	v := c.View()
	assert.Equal(t, "", v.TargetFile)
	assert.False(t, v.Loaded)
	assert.False(t, v.Overlap)
	assert.False(t, v.ThresholdOn)
	assert.Equal(t, session.Gating{}, v.Gating)
	assert.Nil(t, v.Demo)

	assert.ErrorIs(t, c.Learn(ctx, "nm"), session.ErrDisabled)
	assert.Empty(t, fb.fitMethods)
}

func TestOverlapThresholdAndLearn(t *testing.T) {
	c, _ := uploaded(t)
	assert.ErrorIs(t, c.SetOverlap(ctx, true), session.ErrDisabled)
	assert.ErrorIs(t, c.ToggleThreshold(), session.ErrDisabled)
	assert.ErrorIs(t, c.Learn(ctx, "nm"), session.ErrDisabled)

	c, fb := loaded(t)
	require.NoError(t, c.SetOverlap(ctx, true))
	require.NoError(t, c.ToggleThreshold())
	c.SetThresholdValue(" 0.5 ")
	v := c.View()
	assert.True(t, v.ThresholdOn)
	assert.Equal(t, "0.5", v.ThresholdValue)

	require.NoError(t, c.Learn(ctx, "lm"))
	assert.Equal(t, []string{"lm"}, fb.fitMethods)
	require.NotNil(t, c.View().Fit)
	notices := c.Notices()
	require.Len(t, notices, 2)
	assert.Equal(t, "fitted", notices[0].Message)
	assert.Contains(t, notices[1].Message, "z")

	require.NoError(t, c.SetOverlap(ctx, false))
	v = c.View()
	assert.False(t, v.ThresholdOn)
	assert.False(t, v.Gating.Learning)
	assert.Nil(t, v.Demo)
}

func TestDemoFailureKeepsOverlap(t *testing.T) {
	c, fb := loaded(t)
	fb.demoErr = errors.New("boom")
	require.Error(t, c.SetOverlap(ctx, true))
	assert.True(t, c.View().Overlap)
	assert.Nil(t, c.View().Demo)
}

func TestResetIsIdempotent(t *testing.T) {
	c, _ := loaded(t)
	c.Reset(ctx)
	first := c.View()
	c.Reset(ctx)
	assert.Equal(t, first, c.View())
	assert.False(t, first.Loaded)
	assert.Equal(t, "", first.ModelFile)
}

func TestRenameClearsMatrixCell(t *testing.T) {
	c, _ := loaded(t)
	require.NoError(t, c.EditFunction(3, "name", "Line"))
	assert.Equal(t, "", c.View().Matrix.Cells[0][0])
	require.NoError(t, c.EditFunction(3, "name", "Linear"))
	assert.Equal(t, "", c.View().Matrix.Cells[0][0])
}

// TestConcurrentEvents keeps axis exclusivity when events arrive from many
// goroutines at once.
func TestConcurrentEvents(t *testing.T) {
	c, _ := uploaded(t)
	headers := []string{"a", "b", "c"}
	kinds := []string{"Constant", "X_axis", "Y_axis"}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				_ = c.SetSelection(ctx, headers[(i+j)%3], kinds[(i*j)%3], "1")
				_ = c.View()
			}
		}(i)
	}
	wg.Wait()

	var xs, ys int
	for _, r := range c.View().FeatureRows {
		switch r.Kind {
		case session.XAxis:
			xs++
		case session.YAxis:
			ys++
		}
	}
	assert.LessOrEqual(t, xs, 1)
	assert.LessOrEqual(t, ys, 1)
}
