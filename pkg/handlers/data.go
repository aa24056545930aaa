package handlers

import (
	"bytes"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"

	"github.com/cespare/xxhash/v2"

	"github.com/kacperjurak/lawfit/internal/dataset"
	"github.com/kacperjurak/lawfit/internal/plot"
	"github.com/kacperjurak/lawfit/pkg/config"
	"github.com/kacperjurak/lawfit/pkg/models"
	"github.com/kacperjurak/lawfit/pkg/store"
)

const maxUploadBytes = 32 << 20

// DataHandler serves CSV uploads, headers and plots
type DataHandler struct {
	config *config.Config
	store  *store.Store
}

// NewDataHandler creates a new data handler
func NewDataHandler(cfg *config.Config, st *store.Store) *DataHandler {
	return &DataHandler{config: cfg, store: st}
}

// UploadCSV stores a feature or target CSV sent as multipart form data
func (h *DataHandler) UploadCSV(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodPost) {
		return
	}
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeError(w, "No file part", http.StatusBadRequest)
		return
	}
	role, err := store.ParseRole(r.FormValue("file_type"))
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, "No file part", http.StatusBadRequest)
		return
	}
	defer file.Close()
	if header.Filename == "" {
		writeError(w, "No selected file", http.StatusBadRequest)
		return
	}

	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, "Failed to read upload", http.StatusBadRequest)
		return
	}

	up, err := h.store.SaveUpload(role, header.Filename, data)
	if err != nil {
		log.Printf("⚠️  Upload of %s %q rejected: %v", role, header.Filename, err)
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if !h.config.Quiet {
		log.Printf("📁 Stored %s CSV %s (%d bytes, %d headers, fingerprint %016x)", role, up.Filename, len(data), len(up.Headers), up.Fingerprint)
	}

	writeJSON(w, models.UploadResponse{
		Filename: up.Filename,
		Headers:  up.Headers,
		Filepath: up.Path,
		FileType: string(up.Role),
	}, http.StatusOK)
}

// ModelTableHeaders lists the selectable headers of both uploads
func (h *DataHandler) ModelTableHeaders(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodGet) {
		return
	}
	feature, target := h.store.Headers()
	if feature == nil {
		feature = []string{}
	}
	if target == nil {
		target = []string{}
	}
	writeJSON(w, models.HeadersResponse{FeatureHeaders: feature, TargetHeaders: target}, http.StatusOK)
}

// PlotData returns the Plotly figure for a plot request
func (h *DataHandler) PlotData(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodPost) {
		return
	}
	series, etag, err := h.series(r)
	if err != nil {
		writeFailure(w, err)
		return
	}
	if notModified(w, r, etag) {
		return
	}

	graphJSON, layoutJSON, err := plot.Scatter(series)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, models.PlotResponse{GraphJSON: graphJSON, LayoutJSON: layoutJSON}, http.StatusOK)
}

// PlotImage renders the same scatter as a PNG
func (h *DataHandler) PlotImage(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodPost) {
		return
	}
	series, etag, err := h.series(r)
	if err != nil {
		writeFailure(w, err)
		return
	}
	if notModified(w, r, etag) {
		return
	}

	var buf bytes.Buffer
	if err := plot.RenderPNG(&buf, series, h.config.PlotWidth, h.config.PlotHeight); err != nil {
		writeFailure(w, err)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

// series decodes a plot request and extracts the filtered X/Y/Z columns. The
// returned ETag covers the request body and both uploads.
func (h *DataHandler) series(r *http.Request) (plot.Series, string, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return plot.Series{}, "", badRequest("failed to read request")
	}
	r.Body = io.NopCloser(bytes.NewReader(body))

	var req models.PlotRequest
	if err := decodeJSON(r, &req, false); err != nil {
		return plot.Series{}, "", err
	}

	s, err := h.buildSeries(req)
	if err != nil {
		return plot.Series{}, "", err
	}

	d := xxhash.New()
	_, _ = d.Write(body)
	fmt.Fprintf(d, "|%x", h.store.Fingerprint())
	return s, fmt.Sprintf(`"%016x"`, d.Sum64()), nil
}

func (h *DataHandler) buildSeries(req models.PlotRequest) (plot.Series, error) {
	var xName, yName string
	var constraints []dataset.Constraint
	for _, p := range req.FeatureParams {
		switch p.Type {
		case models.ParamXAxis:
			xName = p.Name
		case models.ParamYAxis:
			yName = p.Name
		case models.ParamConstant:
			constraints = append(constraints, dataset.Constraint{Column: p.Name, Value: p.Value})
		default:
			return plot.Series{}, badRequest("unknown parameter type %q for %q", p.Type, p.Name)
		}
	}
	if xName == "" || yName == "" {
		return plot.Series{}, badRequest("X_axis and Y_axis must be selected")
	}
	if req.TargetParam == "" {
		return plot.Series{}, badRequest("target parameter must be selected")
	}

	feature, target, err := h.store.Tables()
	if err != nil {
		return plot.Series{}, err
	}
	merged, err := dataset.Merge(feature, target)
	if err != nil {
		return plot.Series{}, err
	}
	filtered, err := dataset.FilterConstants(merged, constraints)
	if err != nil {
		return plot.Series{}, badRequest("%v", err)
	}
	if filtered.Len() == 0 {
		return plot.Series{}, dataset.ErrNoMatchingRows
	}

	zCol := dataset.TargetColumn(feature, req.TargetParam)
	cols, err := dataset.NumericColumns(filtered, xName, yName, zCol)
	if err != nil {
		return plot.Series{}, err
	}
	if len(cols[0]) == 0 {
		return plot.Series{}, dataset.ErrNoNumericRows
	}

	if !h.config.Quiet {
		log.Printf("📊 Plot %s vs %s and %s: %d points (%d constants)", req.TargetParam, xName, yName, len(cols[0]), len(constraints))
	}
	return plot.Series{
		X: cols[0], Y: cols[1], Z: cols[2],
		XName: xName, YName: yName, ZName: req.TargetParam,
	}, nil
}

func notModified(w http.ResponseWriter, r *http.Request, etag string) bool {
	w.Header().Set("ETag", etag)
	if r.Header.Get("If-None-Match") == etag {
		w.WriteHeader(http.StatusNotModified)
		return true
	}
	return false
}
