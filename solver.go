package lawfit

import (
	"fmt"
	"log"
	"math"
	"time"

	"github.com/maorshutman/lm"
	"gonum.org/v1/gonum/diff/fd"
	"gonum.org/v1/gonum/optimize"
)

type Weighting int

const (
	UNITY Weighting = iota
	RELATIVE
)

// ParseWeighting maps "unity" and "relative" onto a Weighting.
func ParseWeighting(s string) (Weighting, error) {
	switch s {
	case "", "unity":
		return UNITY, nil
	case "relative":
		return RELATIVE, nil
	}
	return UNITY, fmt.Errorf("unknown weighting %q", s)
}

// Result of a single fit.
type Result struct {
	Min      float64
	Params   []float64
	Status   string
	Solved   bool
	Iters    int
	FuncEval int
	Method   string
	MinUnit  string
	Runtime  float64
}

const (
	OK    = "OK"
	ERROR = "ERROR"
)

// Solver mode names.
const (
	ModeNM    = "nm"
	ModeLM    = "lm"
	ModeLBFGS = "lbfgs"
)

// Solver fits the parameters of a CombinedModel to observed target values.
type Solver struct {
	model      *CombinedModel
	Inputs     []map[string]float64
	Observed   []float64
	InitValues []float64
	SmartMode  string
	Weighting  Weighting
	Quiet      bool
}

// NewSolver starts from the model's declared parameter values.
func NewSolver(model *CombinedModel, inputs []map[string]float64, observed []float64) *Solver {
	return &Solver{
		model:      model,
		Inputs:     inputs,
		Observed:   observed,
		InitValues: model.InitialParams(),
		SmartMode:  ModeNM,
		Weighting:  UNITY,
	}
}

func (s *Solver) logf(format string, args ...interface{}) {
	if !s.Quiet {
		log.Printf(format, args...)
	}
}

// Predict evaluates the model for every input row.
func (s *Solver) Predict(x []float64) ([]float64, error) {
	out := make([]float64, len(s.Inputs))
	for i, in := range s.Inputs {
		v, err := s.model.Eval(in, x)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (s *Solver) problem(x []float64) float64 {
	calculated, err := s.Predict(x)
	if err != nil {
		return math.Inf(1)
	}
	v := ChiSq(s.Observed, calculated, s.Weighting)
	if math.IsNaN(v) {
		return math.Inf(1)
	}
	return v
}

// Solve runs the configured mode. Modes that restart (nm, lm) stop early once
// the objective drops below minFunc.
func (s *Solver) Solve(minFunc float64, maxIterations int) Result {
	if len(s.Observed) == 0 || len(s.Inputs) != len(s.Observed) {
		return errorResult(s.SmartMode)
	}
	if len(s.InitValues) == 0 {
		return s.evaluateFixed()
	}

	start := time.Now()
	var res Result
	switch s.SmartMode {
	case ModeLM:
		res = s.restart(minFunc, maxIterations, s.baseLMSolve)
	case ModeLBFGS:
		res = s.baseLBFGSSolve()
	default:
		res = s.restart(minFunc, maxIterations, s.baseNMSolve)
	}
	res.Method = s.SmartMode
	res.Runtime = time.Since(start).Seconds()
	res.Solved = res.Status == OK && !math.IsInf(res.Min, 0)
	return res
}

// evaluateFixed handles models made only of pass-through terms.
func (s *Solver) evaluateFixed() Result {
	return Result{
		Params:  []float64{},
		Min:     s.problem(nil),
		MinUnit: "ChiSq",
		Status:  OK,
		Solved:  true,
		Method:  s.SmartMode,
	}
}

func errorResult(mode string) Result {
	return Result{
		Params:  []float64{},
		Min:     math.Inf(1),
		MinUnit: "ChiSq",
		Status:  ERROR,
		Method:  mode,
	}
}

func (s *Solver) restart(minFunc float64, maxIterations int, solve func() Result) Result {
	if maxIterations < 1 {
		maxIterations = 1
	}

	var (
		primaryValues = append([]float64(nil), s.InitValues...)
		bestRes       = Result{Min: math.Inf(1), Status: ERROR, Params: []float64{}}
		iterations    = 0
	)

	for iterations < maxIterations {
		res := s.baseRes(solve)
		res.Iters = iterations + 1
		if res.Min < bestRes.Min {
			bestRes = res
		}
		s.logf("🔧 %s iter %d: chi2=%g best=%g", s.SmartMode, iterations, res.Min, bestRes.Min)

		if res.Min < minFunc || res.Status != OK {
			break
		}
		s.InitValues = perturbParams(res.Params, primaryValues)
		iterations++
	}
	return bestRes
}

func (s *Solver) baseRes(solve func() Result) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			s.logf("⚠️ %s optimization panicked: %v", s.SmartMode, r)
			res = errorResult(s.SmartMode)
		}
	}()
	return solve()
}

// perturbParams nudges the previous optimum so a restart explores a nearby
// basin. Non-finite values revert to the starting point.
func perturbParams(values, primaryValues []float64) []float64 {
	out := make([]float64, len(values))
	for i, v := range values {
		switch {
		case math.IsNaN(v) || math.IsInf(v, 0):
			out[i] = primaryValues[i]
		case v == 0:
			out[i] = primaryValues[i] * 0.1
		default:
			out[i] = v * 1.1
		}
	}
	return out
}

func (s *Solver) baseNMSolve() Result {
	problem := optimize.Problem{
		Func: s.problem,
	}

	settings := &optimize.Settings{
		Concurrent: 0,
	}

	res, err := optimize.Minimize(problem, s.InitValues, settings, &optimize.NelderMead{})
	if err != nil {
		s.logf("⚠️ Nelder-Mead optimization failed: %v", err)
		if res == nil {
			return errorResult(ModeNM)
		}
	}

	return Result{
		Params:   res.X,
		Min:      res.F,
		MinUnit:  "ChiSq",
		FuncEval: res.FuncEvaluations,
		Status:   OK,
	}
}

func (s *Solver) residuals(dst, x []float64) {
	calculated, err := s.Predict(x)
	if err != nil {
		panic(fmt.Sprintf("solver: %v", err))
	}
	for i, o := range s.Observed {
		d := o - calculated[i]
		if s.Weighting == RELATIVE && o != 0 {
			d /= o
		}
		if math.IsNaN(d) || math.IsInf(d, 0) {
			d = math.MaxFloat32
		}
		dst[i] = d
	}
}

func (s *Solver) baseLMSolve() Result {
	jac := lm.NumJac{Func: s.residuals}

	problem := lm.LMProblem{
		Dim:        len(s.InitValues),
		Size:       len(s.Observed),
		Func:       s.residuals,
		Jac:        jac.Jac,
		InitParams: s.InitValues,
		Tau:        1e-6,
		Eps1:       1e-8,
		Eps2:       1e-8,
	}

	res, err := lm.LM(problem, &lm.Settings{Iterations: 10000, ObjectiveTol: 1e-16})
	if err != nil {
		s.logf("⚠️ LM optimization failed: %v", err)
		return errorResult(ModeLM)
	}

	return Result{
		Params:  res.X,
		Min:     s.problem(res.X),
		MinUnit: "ChiSq",
		Status:  OK,
	}
}

func (s *Solver) baseLBFGSSolve() Result {
	grad := func(grad, x []float64) {
		fd.Gradient(grad, s.problem, x, nil)
	}

	problem := optimize.Problem{
		Func: s.problem,
		Grad: grad,
	}

	res, err := optimize.Minimize(problem, s.InitValues, &optimize.Settings{}, &optimize.LBFGS{})
	if err != nil {
		s.logf("⚠️ LBFGS optimization error: %v", err)
		if res == nil {
			return errorResult(ModeLBFGS)
		}
	}

	return Result{
		Params:   res.X,
		Min:      res.F,
		MinUnit:  "ChiSq",
		Iters:    res.MajorIterations,
		FuncEval: res.FuncEvaluations,
		Status:   OK,
	}
}

// ChiSq is the mean squared residual. RELATIVE weighting divides each
// residual by the observed value where it is non-zero.
func ChiSq(observed, calculated []float64, weighting Weighting) float64 {
	if len(observed) != len(calculated) {
		panic("solver chiSq: slice length mismatch")
	}
	if len(observed) == 0 {
		return 0
	}
	chiSq := 0.0
	for i, o := range observed {
		d2 := math.Pow(o-calculated[i], 2)
		if weighting == RELATIVE && o != 0 {
			d2 /= o * o
		}
		chiSq += d2
	}
	return chiSq / float64(len(observed))
}

func (s *Solver) Clone() *Solver {
	newS := *s
	newS.Observed = append([]float64(nil), s.Observed...)
	newS.Inputs = append([]map[string]float64(nil), s.Inputs...)
	newS.InitValues = append([]float64(nil), s.InitValues...)
	return &newS
}
