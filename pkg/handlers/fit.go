package handlers

import (
	"errors"
	"fmt"
	"log"
	"net/http"
	"sort"
	"time"

	"github.com/kacperjurak/lawfit"
	"github.com/kacperjurak/lawfit/internal/dataset"
	"github.com/kacperjurak/lawfit/internal/processing"
	"github.com/kacperjurak/lawfit/internal/utils"
	"github.com/kacperjurak/lawfit/pkg/config"
	"github.com/kacperjurak/lawfit/pkg/models"
	"github.com/kacperjurak/lawfit/pkg/store"
	"github.com/kacperjurak/lawfit/pkg/worker"
)

// FitHandler fits the loaded model configuration to the uploaded data
type FitHandler struct {
	config     *config.Config
	store      *store.Store
	workerPool *worker.Pool
}

// NewFitHandler creates a new fit handler
func NewFitHandler(cfg *config.Config, st *store.Store, pool *worker.Pool) *FitHandler {
	return &FitHandler{config: cfg, store: st, workerPool: pool}
}

// ServeHTTP implements the http.Handler interface
func (h *FitHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodPost) {
		return
	}
	var req models.FitRequest
	if err := decodeJSON(r, &req, true); err != nil {
		writeFailure(w, err)
		return
	}
	method := req.Method
	if method == "" {
		method = h.config.FitMethod
	}
	if _, err := processing.NormalizeMethod(method); err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	stored, err := h.store.Loaded()
	if err != nil {
		writeFailure(w, err)
		return
	}
	feature, target, err := h.store.Tables()
	if err != nil {
		writeFailure(w, err)
		return
	}
	merged, err := dataset.Merge(feature, target)
	if err != nil {
		writeFailure(w, err)
		return
	}

	requestID := utils.RequestID(r.Context())
	if requestID == "" {
		requestID = utils.GenerateID()
	}

	jobs, results := h.buildJobs(requestID, method, stored, feature, merged)
	if len(jobs) == 0 && len(results) == 0 {
		writeError(w, "No functions assigned to any target", http.StatusBadRequest)
		return
	}

	if !h.config.Quiet {
		log.Printf("HTTP fit request - ID: %s, Targets: %d, Method: %s", requestID, len(jobs), method)
	}

	start := time.Now()
	outcomes, err := h.workerPool.Run(r.Context(), jobs)
	if err != nil {
		writeError(w, fmt.Sprintf("fitting interrupted: %v", err), http.StatusServiceUnavailable)
		return
	}
	for i, o := range outcomes {
		results = append(results, targetFit(jobs[i], o))
	}
	sort.Slice(results, func(i, j int) bool { return results[i].Target < results[j].Target })

	log.Printf("✅ Fit %s finished: %d targets in %v", requestID, len(results), time.Since(start))
	writeJSON(w, models.FitResponse{
		Message: fmt.Sprintf("Fitted %d targets", len(results)),
		Results: results,
	}, http.StatusOK)
}

// buildJobs creates one job per target that has assigned functions. Targets
// whose data cannot be prepared are reported directly as failed fits.
func (h *FitHandler) buildJobs(requestID, method string, stored *store.StoredModel, feature, merged *dataset.Table) ([]models.FitJob, []models.TargetFit) {
	targets := make([]string, 0, len(stored.FittingConfig))
	for t := range stored.FittingConfig {
		if !dataset.IsSentinel(t) {
			targets = append(targets, t)
		}
	}
	sort.Strings(targets)

	fitMethod := lawfit.ParseFittingMethod(string(stored.FittingMethod))
	var jobs []models.FitJob
	var failed []models.TargetFit
	for _, target := range targets {
		m, err := lawfit.NewCombinedModel(target, fitMethod, stored.FittingConfig[target], stored.Functions)
		if errors.Is(err, lawfit.ErrNoTerms) {
			continue
		}
		if err != nil {
			failed = append(failed, models.TargetFit{Target: target, Method: method, Status: lawfit.ERROR, Error: err.Error()})
			continue
		}

		features := m.Features()
		cols, err := dataset.NumericColumns(merged, append(features, dataset.TargetColumn(feature, target))...)
		if err == nil && len(cols[0]) == 0 {
			err = dataset.ErrNoNumericRows
		}
		if err != nil {
			failed = append(failed, models.TargetFit{Target: target, Equation: m.String(), Method: method, Status: lawfit.ERROR, Error: err.Error()})
			continue
		}

		observed := cols[len(features)]
		inputs := make([]map[string]float64, len(observed))
		for i := range observed {
			row := make(map[string]float64, len(features))
			for j, f := range features {
				row[f] = cols[j][i]
			}
			inputs[i] = row
		}

		jobs = append(jobs, models.FitJob{
			ID:        len(jobs),
			RequestID: requestID,
			Model:     m,
			Inputs:    inputs,
			Observed:  observed,
			Method:    method,
			StartTime: time.Now(),
		})
	}
	return jobs, failed
}

func targetFit(job models.FitJob, o models.FitOutcome) models.TargetFit {
	fit := models.TargetFit{
		Target:    job.Model.Target,
		Equation:  job.Model.String(),
		Method:    o.Result.Method,
		Status:    o.Result.Status,
		Points:    len(job.Observed),
		ChiSquare: finite(o.Result.Min),
		RSquared:  finite(o.RSquared),
		Runtime:   o.ProcessingTime.Seconds(),
	}
	if fit.Method == "" {
		fit.Method = job.Method
	}
	if o.Err != nil {
		fit.Error = o.Err.Error()
		fit.Status = lawfit.ERROR
	}

	labels := job.Model.ParamLabels()
	initial := job.Model.InitialParams()
	for i, label := range labels {
		p := models.FittedParameter{Label: label, Initial: initial[i]}
		if i < len(o.Result.Params) {
			p.Value = finite(o.Result.Params[i])
		}
		fit.Parameters = append(fit.Parameters, p)
	}
	return fit
}
