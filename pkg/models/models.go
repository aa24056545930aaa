package models

import (
	"time"

	"github.com/kacperjurak/lawfit"
)

// Parameter selection kinds as they appear on the wire.
const (
	ParamConstant = "Constant"
	ParamXAxis    = "X_axis"
	ParamYAxis    = "Y_axis"
)

// File roles accepted by the upload endpoint.
const (
	RoleFeature = "feature"
	RoleTarget  = "target"
)

// FeatureParam describes how one feature column is used by a plot request
type FeatureParam struct {
	Name  string `json:"name"`
	Type  string `json:"type"`
	Value string `json:"value"`
}

// PlotRequest selects the axes, constant filters and target of a plot
type PlotRequest struct {
	FeatureParams []FeatureParam `json:"featureParams"`
	TargetParam   string         `json:"targetParam"`
}

// PlotResponse carries Plotly figure data and layout as JSON strings
type PlotResponse struct {
	GraphJSON  string `json:"graph_json"`
	LayoutJSON string `json:"layout_json"`
}

// UploadResponse describes a stored CSV upload
type UploadResponse struct {
	Filename string   `json:"filename"`
	Headers  []string `json:"headers"`
	Filepath string   `json:"filepath"`
	FileType string   `json:"file_type"`
}

// HeadersResponse lists the selectable headers of both uploads
type HeadersResponse struct {
	FeatureHeaders []string `json:"featureHeaders"`
	TargetHeaders  []string `json:"targetHeaders"`
}

// SaveModelResponse reports where a model configuration was written
type SaveModelResponse struct {
	Message  string `json:"message"`
	Filepath string `json:"filepath"`
}

// LoadModelRequest names a saved model configuration
type LoadModelRequest struct {
	Filename string `json:"filename"`
}

// LoadModelResponse is a feature-keyed model configuration plus a status message
type LoadModelResponse struct {
	lawfit.ModelConfig
	Message string `json:"message"`
}

// DeleteModelRequest names the model configuration to remove
type DeleteModelRequest struct {
	ModelName string `json:"modelName"`
}

// MessageResponse is a plain status message
type MessageResponse struct {
	Message string `json:"message"`
}

// ModelListResponse lists saved model configuration files
type ModelListResponse struct {
	Models []string `json:"models"`
}

// DemoResponse is the result of evaluating the loaded model on the first feature row
type DemoResponse struct {
	Message string             `json:"message"`
	Inputs  map[string]float64 `json:"inputs"`
	Targets map[string]float64 `json:"targets"`
	Actual  map[string]string  `json:"actual,omitempty"`
}

// FitRequest selects the optimizer used by /fit_model
type FitRequest struct {
	Method string `json:"method"`
}

// FittedParameter is one fitted entry of a combined model's parameter vector
type FittedParameter struct {
	Label   string  `json:"label"`
	Initial float64 `json:"initial"`
	Value   float64 `json:"value"`
}

// TargetFit is the fit outcome of one target
type TargetFit struct {
	Target     string            `json:"target"`
	Equation   string            `json:"equation"`
	Method     string            `json:"method"`
	Status     string            `json:"status"`
	Points     int               `json:"points"`
	ChiSquare  float64           `json:"chiSquare"`
	RSquared   float64           `json:"rSquared"`
	Parameters []FittedParameter `json:"parameters"`
	Runtime    float64           `json:"runtime"`
	Error      string            `json:"error,omitempty"`
}

// FitResponse reports the fit of every configured target
type FitResponse struct {
	Message string      `json:"message"`
	Results []TargetFit `json:"results"`
}

// HealthResponse is returned by /health
type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// ErrorResponse is the body of every failed request
type ErrorResponse struct {
	Error string `json:"error"`
}

// FitJob is a single target fitting task
type FitJob struct {
	ID        int
	RequestID string
	Model     *lawfit.CombinedModel
	Inputs    []map[string]float64
	Observed  []float64
	Method    string
	StartTime time.Time
}

// FitOutcome contains the result of a FitJob
type FitOutcome struct {
	ID             int
	RequestID      string
	Target         string
	Result         lawfit.Result
	RSquared       float64
	ProcessingTime time.Duration
	Success        bool
	Err            error
}
