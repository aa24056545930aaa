package handlers

import (
	"errors"
	"log"
	"net/http"
	"sort"
	"strings"

	"github.com/kacperjurak/lawfit"
	"github.com/kacperjurak/lawfit/internal/dataset"
	"github.com/kacperjurak/lawfit/pkg/config"
	"github.com/kacperjurak/lawfit/pkg/models"
	"github.com/kacperjurak/lawfit/pkg/store"
)

// ModelHandler serves model configuration persistence and the calculation demo
type ModelHandler struct {
	config *config.Config
	store  *store.Store
}

// NewModelHandler creates a new model handler
func NewModelHandler(cfg *config.Config, st *store.Store) *ModelHandler {
	return &ModelHandler{config: cfg, store: st}
}

// Save validates and stores a feature-keyed model configuration
func (h *ModelHandler) Save(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodPost) {
		return
	}
	var cfg lawfit.ModelConfig
	if err := decodeJSON(r, &cfg, false); err != nil {
		writeFailure(w, err)
		return
	}
	if cfg.FittingConfig == nil {
		writeError(w, "Invalid data format", http.StatusBadRequest)
		return
	}
	if err := lawfit.ValidateFunctions(cfg.Functions); err != nil {
		writeFailure(w, err)
		return
	}
	cfg.FittingMethod = lawfit.ParseFittingMethod(string(cfg.FittingMethod))

	filename, path, err := h.store.SaveModel(cfg)
	if err != nil {
		log.Printf("❌ Failed to save model %q: %v", cfg.ModelName, err)
		writeFailure(w, err)
		return
	}
	log.Printf("💾 Model configuration saved to %s", path)
	writeJSON(w, models.SaveModelResponse{
		Message:  "Model configuration saved successfully as " + filename,
		Filepath: path,
	}, http.StatusOK)
}

// Load reads a stored configuration and returns it feature-keyed with a
// cell for every current feature/target pair
func (h *ModelHandler) Load(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodPost) {
		return
	}
	var req models.LoadModelRequest
	if err := decodeJSON(r, &req, false); err != nil {
		writeFailure(w, err)
		return
	}
	if strings.TrimSpace(req.Filename) == "" {
		writeError(w, "Filename not provided", http.StatusBadRequest)
		return
	}

	stored, err := h.store.LoadModel(req.Filename)
	if err != nil {
		log.Printf("❌ Failed to load model %q: %v", req.Filename, err)
		writeFailure(w, err)
		return
	}

	featureHeaders, targetHeaders := h.store.Headers()
	resp := models.LoadModelResponse{Message: "Model configuration loaded successfully"}
	resp.ModelName = stored.ModelName
	resp.FittingMethod = lawfit.ParseFittingMethod(string(stored.FittingMethod))
	resp.Functions = stored.Functions
	if resp.Functions == nil {
		resp.Functions = []lawfit.FunctionDefinition{}
	}
	resp.FittingConfig = stored.FittingConfig.Transpose().Project(featureHeaders, targetHeaders)

	if !h.config.Quiet {
		h.logEquations(stored)
	}
	writeJSON(w, resp, http.StatusOK)
}

// logEquations prints each target's combined equation with parameter
// values and feature names substituted.
func (h *ModelHandler) logEquations(stored *store.StoredModel) {
	targets := make([]string, 0, len(stored.FittingConfig))
	for target := range stored.FittingConfig {
		targets = append(targets, target)
	}
	sort.Strings(targets)

	method := lawfit.ParseFittingMethod(string(stored.FittingMethod))
	for _, target := range targets {
		m, err := lawfit.NewCombinedModel(target, method, stored.FittingConfig[target], stored.Functions)
		if errors.Is(err, lawfit.ErrNoTerms) {
			continue
		}
		if err != nil {
			log.Printf("⚠️  %v", err)
			continue
		}
		log.Printf("🧮 %s = %s", target, m)
	}
}

// Delete removes a stored configuration
func (h *ModelHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodPost) {
		return
	}
	var req models.DeleteModelRequest
	if err := decodeJSON(r, &req, false); err != nil {
		writeFailure(w, err)
		return
	}
	if strings.TrimSpace(req.ModelName) == "" {
		writeError(w, "Model name not provided", http.StatusBadRequest)
		return
	}
	if err := h.store.DeleteModel(req.ModelName); err != nil {
		log.Printf("❌ Failed to delete model %q: %v", req.ModelName, err)
		writeFailure(w, err)
		return
	}
	log.Printf("🗑️  Model configuration %s deleted", req.ModelName)
	writeJSON(w, models.MessageResponse{Message: "Model configuration deleted successfully"}, http.StatusOK)
}

// List returns the stored configuration file names
func (h *ModelHandler) List(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodGet) {
		return
	}
	names, err := h.store.ListModels()
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, models.ModelListResponse{Models: names}, http.StatusOK)
}

// CalculationDemo evaluates the loaded model on the first feature row and
// reports the actual target values of the matching row
func (h *ModelHandler) CalculationDemo(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodPost) {
		return
	}
	stored, err := h.store.Loaded()
	if err != nil {
		writeFailure(w, err)
		return
	}
	fu, ok := h.store.Upload(store.Feature)
	if !ok {
		writeFailure(w, store.ErrUploadsMissing)
		return
	}
	feature, err := dataset.ReadFile(fu.Path)
	if err != nil {
		writeFailure(w, err)
		return
	}
	if feature.Len() == 0 {
		writeError(w, "Feature CSV has no rows", http.StatusBadRequest)
		return
	}

	inputs := feature.NumericRow(0)
	method := lawfit.ParseFittingMethod(string(stored.FittingMethod))
	targets, err := lawfit.CalculateTargets(method, stored.Functions, stored.FittingConfig, inputs)
	if err != nil {
		log.Printf("❌ Calculation demo failed: %v", err)
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	actual := h.actualTargets(feature)
	log.Printf("🧪 Demo inputs: %v", inputs)
	log.Printf("🧪 Demo calculated targets: %v", targets)
	if actual != nil {
		log.Printf("🧪 Demo actual targets: %v", actual)
	}

	for k, v := range inputs {
		inputs[k] = finite(v)
	}
	writeJSON(w, models.DemoResponse{
		Message: "Calculation demo executed",
		Inputs:  inputs,
		Targets: targets,
		Actual:  actual,
	}, http.StatusOK)
}

// actualTargets returns the target row whose main_id matches the first
// feature row, or nil.
func (h *ModelHandler) actualTargets(feature *dataset.Table) map[string]string {
	tu, ok := h.store.Upload(store.Target)
	if !ok {
		return nil
	}
	id := feature.Cell(feature.Rows[0], dataset.Sentinel)
	if id == "" {
		return nil
	}
	target, err := dataset.ReadFile(tu.Path)
	if err != nil {
		log.Printf("⚠️  Failed to read target CSV: %v", err)
		return nil
	}
	row, ok := target.Lookup(id)
	if !ok {
		return nil
	}
	out := make(map[string]string, len(target.Headers))
	for _, header := range dataset.FilterHeaders(target.Headers) {
		out[header] = target.Cell(row, header)
	}
	return out
}
