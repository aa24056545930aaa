package processing

import (
	"fmt"
	"log"
	"math"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/kacperjurak/lawfit"
	"github.com/kacperjurak/lawfit/pkg/models"
)

const (
	defaultMinFunc       = 1e-10
	defaultMaxIterations = 10
)

// MethodAll runs every solver mode and keeps the lowest chi-square.
const MethodAll = "all"

// FitProcessor fits the combined model of one target.
type FitProcessor struct {
	MinFunc       float64
	MaxIterations int
	Weighting     lawfit.Weighting
	DefaultMethod string
	Quiet         bool
}

// NewFitProcessor creates a processor with default tolerances.
func NewFitProcessor() *FitProcessor {
	return &FitProcessor{
		MinFunc:       defaultMinFunc,
		MaxIterations: defaultMaxIterations,
		Weighting:     lawfit.UNITY,
		DefaultMethod: lawfit.ModeNM,
	}
}

// NormalizeMethod maps long and short optimizer names onto solver modes.
func NormalizeMethod(method string) (string, error) {
	switch method {
	case "nelder-mead", "nm":
		return lawfit.ModeNM, nil
	case "levenberg-marquardt", "lm":
		return lawfit.ModeLM, nil
	case "lbfgs":
		return lawfit.ModeLBFGS, nil
	case MethodAll:
		return MethodAll, nil
	}
	return "", fmt.Errorf("unknown optimization method %q", method)
}

// Process fits job.Model to job.Inputs/job.Observed.
func (p *FitProcessor) Process(job models.FitJob) (lawfit.Result, float64, error) {
	if job.Model == nil {
		return lawfit.Result{}, 0, fmt.Errorf("no model provided")
	}
	if len(job.Observed) == 0 {
		return lawfit.Result{}, 0, fmt.Errorf("target %q: no data points", job.Model.Target)
	}
	if len(job.Inputs) != len(job.Observed) {
		return lawfit.Result{}, 0, fmt.Errorf("input and observed data length mismatch: %d vs %d", len(job.Inputs), len(job.Observed))
	}

	method := job.Method
	if method == "" {
		method = p.DefaultMethod
	}
	method, err := NormalizeMethod(method)
	if err != nil {
		return lawfit.Result{}, 0, err
	}

	if !p.Quiet {
		log.Printf("🔧 Fitting %q with %d points: %s", job.Model.Target, len(job.Observed), job.Model)
	}

	var res lawfit.Result
	if method == MethodAll {
		res, err = p.runAllOptimizationMethods(job)
	} else {
		res, err = p.runSingleOptimizationMethod(job, method)
	}
	if err != nil {
		return res, 0, err
	}

	r2 := p.rSquared(job, res.Params)
	return res, r2, nil
}

func (p *FitProcessor) newSolver(job models.FitJob, method string) *lawfit.Solver {
	solver := lawfit.NewSolver(job.Model, job.Inputs, job.Observed)
	solver.SmartMode = method
	solver.Weighting = p.Weighting
	solver.Quiet = p.Quiet
	return solver
}

func (p *FitProcessor) runSingleOptimizationMethod(job models.FitJob, method string) (lawfit.Result, error) {
	startTime := time.Now()
	res := p.newSolver(job, method).Solve(p.MinFunc, p.MaxIterations)
	duration := time.Since(startTime)

	if res.Status == lawfit.ERROR {
		log.Printf("❌ Fit of %q FAILED - Method: %s", job.Model.Target, method)
		return res, fmt.Errorf("target %q: %s optimization failed", job.Model.Target, method)
	}
	if !p.Quiet {
		log.Printf("Method: %s, Min=%.12e, Params=%v, Time=%v", method, res.Min, res.Params, duration)
	}
	return res, nil
}

func (p *FitProcessor) runAllOptimizationMethods(job models.FitJob) (lawfit.Result, error) {
	methods := []string{lawfit.ModeNM, lawfit.ModeLM, lawfit.ModeLBFGS}
	best := lawfit.Result{Min: math.Inf(1), Status: lawfit.ERROR}

	for _, method := range methods {
		res, err := p.runSingleOptimizationMethod(job, method)
		if err != nil {
			continue
		}
		if res.Min < best.Min {
			best = res
		}
	}

	if best.Status == lawfit.ERROR {
		return best, fmt.Errorf("target %q: all optimization methods failed", job.Model.Target)
	}
	return best, nil
}

func (p *FitProcessor) rSquared(job models.FitJob, params []float64) float64 {
	if len(params) == 0 {
		params = nil
	}
	estimates, err := p.newSolver(job, lawfit.ModeNM).Predict(params)
	if err != nil {
		return math.NaN()
	}
	return stat.RSquaredFrom(estimates, job.Observed, nil)
}

// ProcessorFunc adapts the processor to the worker pool.
func (p *FitProcessor) ProcessorFunc() func(job models.FitJob) models.FitOutcome {
	return func(job models.FitJob) models.FitOutcome {
		start := time.Now()
		res, r2, err := p.Process(job)
		outcome := models.FitOutcome{
			ID:             job.ID,
			RequestID:      job.RequestID,
			Result:         res,
			RSquared:       r2,
			ProcessingTime: time.Since(start),
			Success:        err == nil && res.Solved,
			Err:            err,
		}
		if job.Model != nil {
			outcome.Target = job.Model.Target
		}
		if err != nil {
			log.Printf("❌ Fit processing error: %v", err)
		}
		return outcome
	}
}
