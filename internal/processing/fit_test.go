package processing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kacperjurak/lawfit"
	"github.com/kacperjurak/lawfit/pkg/models"
)

func linearJob(t *testing.T, method string) models.FitJob {
	t.Helper()
	model, err := lawfit.NewCombinedModel("Strength", lawfit.CombineLinearly, map[string]string{"Temp": "Linear"}, lawfit.DefaultFunctions())
	require.NoError(t, err)

	var inputs []map[string]float64
	var observed []float64
	for i := 0; i < 15; i++ {
		x := float64(i)
		inputs = append(inputs, map[string]float64{"Temp": x})
		observed = append(observed, 3*x-2)
	}
	return models.FitJob{ID: 1, RequestID: "r1", Model: model, Inputs: inputs, Observed: observed, Method: method}
}

func quietProcessor() *FitProcessor {
	p := NewFitProcessor()
	p.Quiet = true
	return p
}

func TestProcessFitsLinearTarget(t *testing.T) {
	for _, method := range []string{"lm", "nelder-mead", MethodAll} {
		t.Run(method, func(t *testing.T) {
			res, r2, err := quietProcessor().Process(linearJob(t, method))
			require.NoError(t, err)
			require.Len(t, res.Params, 2)
			assert.InDelta(t, 3.0, res.Params[0], 1e-2)
			assert.InDelta(t, 1.0, r2, 1e-4)
		})
	}
}

func TestProcessRejectsBadJobs(t *testing.T) {
	p := quietProcessor()

	_, _, err := p.Process(models.FitJob{})
	assert.Error(t, err)

	job := linearJob(t, "newton")
	_, _, err = p.Process(job)
	assert.Error(t, err, "unknown method")

	job = linearJob(t, "lm")
	job.Observed = job.Observed[:2]
	_, _, err = p.Process(job)
	assert.Error(t, err)
}

func TestProcessorFuncReportsOutcome(t *testing.T) {
	outcome := quietProcessor().ProcessorFunc()(linearJob(t, "lm"))
	assert.True(t, outcome.Success)
	assert.Equal(t, "Strength", outcome.Target)
	assert.Equal(t, "r1", outcome.RequestID)
	assert.NoError(t, outcome.Err)
}

func TestNormalizeMethod(t *testing.T) {
	m, err := NormalizeMethod("levenberg-marquardt")
	require.NoError(t, err)
	assert.Equal(t, lawfit.ModeLM, m)
	_, err = NormalizeMethod("gd")
	assert.Error(t, err)
}
