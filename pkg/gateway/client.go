// Package gateway is the front-end's client for the lawfit backend service.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"mime/multipart"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/kacperjurak/lawfit"
	"github.com/kacperjurak/lawfit/internal/utils"
	"github.com/kacperjurak/lawfit/pkg/config"
	"github.com/kacperjurak/lawfit/pkg/models"
)

// APIError is an application error reported by the backend, either through
// an "error" field in the body or a 4xx/5xx status.
type APIError struct {
	Op         string
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s failed with status %d", e.Op, e.StatusCode)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Message)
}

type apiError struct {
	Error string `json:"error"`
}

// Client calls the backend routes with a pooled transport
type Client struct {
	baseURL    string
	httpClient *http.Client
	config     *config.UIConfig
	bufferPool sync.Pool
}

// NewClient creates a backend client. cfg may be nil.
func NewClient(baseURL string, cfg *config.UIConfig) *Client {
	if cfg == nil {
		cfg = config.DefaultUIConfig()
	}

	transport := &http.Transport{
		MaxIdleConns:        20,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout: 10 * time.Second,
	}

	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		config:  cfg,
		httpClient: &http.Client{
			Timeout:   cfg.RequestTimeout,
			Transport: transport,
		},
		bufferPool: sync.Pool{
			New: func() interface{} {
				return bytes.NewBuffer(make([]byte, 0, 1024))
			},
		},
	}
}

func (c *Client) doJSON(ctx context.Context, method, path string, payload any, out any) error {
	var body io.Reader
	if payload != nil {
		buf := c.bufferPool.Get().(*bytes.Buffer)
		buf.Reset()
		defer c.bufferPool.Put(buf)

		if err := json.NewEncoder(buf).Encode(payload); err != nil {
			return fmt.Errorf("marshal request payload: %w", err)
		}
		body = bytes.NewReader(buf.Bytes())
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.do(req, path, out)
}

func (c *Client) do(req *http.Request, path string, out any) error {
	req.Header.Set("Accept", "application/json")
	if id := utils.RequestID(req.Context()); id != "" {
		req.Header.Set("X-Request-ID", id)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	blob, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if !c.config.Quiet {
		log.Printf("%s %s -> %d (%v)", req.Method, path, resp.StatusCode, time.Since(start).Round(time.Millisecond))
	}

	var apiErr apiError
	_ = json.Unmarshal(blob, &apiErr)
	if msg := strings.TrimSpace(apiErr.Error); msg != "" {
		return &APIError{Op: path, StatusCode: resp.StatusCode, Message: msg}
	}
	if resp.StatusCode >= 400 {
		return &APIError{Op: path, StatusCode: resp.StatusCode}
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(blob, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// UploadCSV sends a CSV file as multipart form data for role "feature" or "target".
func (c *Client) UploadCSV(ctx context.Context, role, filename string, data []byte) (*models.UploadResponse, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if err := mw.WriteField("file_type", role); err != nil {
		return nil, fmt.Errorf("write form: %w", err)
	}
	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return nil, fmt.Errorf("write form: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return nil, fmt.Errorf("write form: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("write form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/upload_csv", &body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	var out models.UploadResponse
	if err := c.do(req, "/upload_csv", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetPlotData requests the Plotly figure for a plot request.
func (c *Client) GetPlotData(ctx context.Context, plotReq models.PlotRequest) (*models.PlotResponse, error) {
	var out models.PlotResponse
	if err := c.doJSON(ctx, http.MethodPost, "/get_plot_data", plotReq, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetModelTableHeaders returns the selectable headers of both uploads.
func (c *Client) GetModelTableHeaders(ctx context.Context) (*models.HeadersResponse, error) {
	var out models.HeadersResponse
	if err := c.doJSON(ctx, http.MethodGet, "/get_model_table_headers", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SaveModelConfig stores cfg, whose fitting config is feature-keyed.
func (c *Client) SaveModelConfig(ctx context.Context, cfg lawfit.ModelConfig) (*models.SaveModelResponse, error) {
	var out models.SaveModelResponse
	if err := c.doJSON(ctx, http.MethodPost, "/save_model_config", cfg, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// loadEnvelope accepts both the camelCase body and the legacy snake_case one.
type loadEnvelope struct {
	ModelName           string                      `json:"modelName"`
	FittingMethod       string                      `json:"fittingMethod"`
	FittingConfig       lawfit.Assignments          `json:"fittingConfig"`
	Functions           []lawfit.FunctionDefinition `json:"functions"`
	LegacyModelName     string                      `json:"model_name"`
	LegacyFittingMethod string                      `json:"fitting_method"`
	LegacyFittingConfig lawfit.Assignments          `json:"fitting_config"`
	Message             string                      `json:"message"`
}

func (e loadEnvelope) normalize() *models.LoadModelResponse {
	out := &models.LoadModelResponse{Message: e.Message}
	out.ModelName = e.ModelName
	if out.ModelName == "" {
		out.ModelName = e.LegacyModelName
	}
	method := e.FittingMethod
	if method == "" {
		method = e.LegacyFittingMethod
	}
	out.FittingMethod = lawfit.ParseFittingMethod(method)
	out.FittingConfig = e.FittingConfig
	if out.FittingConfig == nil {
		out.FittingConfig = e.LegacyFittingConfig
	}
	out.Functions = e.Functions
	return out
}

// LoadModelConfig loads a saved configuration by file name.
func (c *Client) LoadModelConfig(ctx context.Context, filename string) (*models.LoadModelResponse, error) {
	var env loadEnvelope
	if err := c.doJSON(ctx, http.MethodPost, "/load_model_config", models.LoadModelRequest{Filename: filename}, &env); err != nil {
		return nil, err
	}
	return env.normalize(), nil
}

// DeleteModelConfig removes a saved configuration.
func (c *Client) DeleteModelConfig(ctx context.Context, modelName string) (*models.MessageResponse, error) {
	var out models.MessageResponse
	if err := c.doJSON(ctx, http.MethodPost, "/delete_model_config", models.DeleteModelRequest{ModelName: modelName}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListModelConfigs returns the saved configuration file names.
func (c *Client) ListModelConfigs(ctx context.Context) ([]string, error) {
	var out models.ModelListResponse
	if err := c.doJSON(ctx, http.MethodGet, "/list_model_configs", nil, &out); err != nil {
		return nil, err
	}
	return out.Models, nil
}

// RunCalculationDemo evaluates the loaded model on the first feature row.
func (c *Client) RunCalculationDemo(ctx context.Context) (*models.DemoResponse, error) {
	var out models.DemoResponse
	if err := c.doJSON(ctx, http.MethodPost, "/run_calculation_demo", struct{}{}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// FitModel fits the loaded model to the uploaded data.
func (c *Client) FitModel(ctx context.Context, method string) (*models.FitResponse, error) {
	var out models.FitResponse
	if err := c.doJSON(ctx, http.MethodPost, "/fit_model", models.FitRequest{Method: method}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
