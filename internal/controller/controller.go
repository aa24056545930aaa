// Package controller drives the front-end session: every user event is
// applied to session.State under one lock, backend calls go through the
// gateway, and the plot is refreshed before the next event is accepted.
package controller

import (
	"context"
	"errors"
	"fmt"
	"log"
	"path/filepath"
	"sync"

	"github.com/kacperjurak/lawfit"
	"github.com/kacperjurak/lawfit/internal/session"
	"github.com/kacperjurak/lawfit/pkg/gateway"
	"github.com/kacperjurak/lawfit/pkg/models"
)

// Backend is the set of backend calls the controller makes. *gateway.Client
// implements it.
type Backend interface {
	UploadCSV(ctx context.Context, role, filename string, data []byte) (*models.UploadResponse, error)
	GetPlotData(ctx context.Context, req models.PlotRequest) (*models.PlotResponse, error)
	GetModelTableHeaders(ctx context.Context) (*models.HeadersResponse, error)
	SaveModelConfig(ctx context.Context, cfg lawfit.ModelConfig) (*models.SaveModelResponse, error)
	LoadModelConfig(ctx context.Context, filename string) (*models.LoadModelResponse, error)
	DeleteModelConfig(ctx context.Context, modelName string) (*models.MessageResponse, error)
	ListModelConfigs(ctx context.Context) ([]string, error)
	RunCalculationDemo(ctx context.Context) (*models.DemoResponse, error)
	FitModel(ctx context.Context, method string) (*models.FitResponse, error)
}

var _ Backend = (*gateway.Client)(nil)

// Level is the severity of a notice.
type Level string

const (
	Info  Level = "info"
	Error Level = "error"
)

// Notice is a message shown once to the user.
type Notice struct {
	Level   Level
	Message string
}

// PlotView is the plot area. It is hidden whenever the selection is not
// ready or the last plot request failed.
type PlotView struct {
	Visible    bool
	GraphJSON  string
	LayoutJSON string
	Error      string
}

// View is everything the page renders.
type View struct {
	session.Snapshot
	Plot       PlotView
	ModelFiles []string
	Demo       *models.DemoResponse
	Fit        *models.FitResponse
}

// Options configures a Controller.
type Options struct {
	Quiet bool
}

// Controller serializes events against one session.
type Controller struct {
	mu      sync.Mutex
	backend Backend
	state   *session.State
	quiet   bool

	plot       PlotView
	plotDirty  bool
	notices    []Notice
	modelFiles []string
	demo       *models.DemoResponse
	fit        *models.FitResponse
}

// New creates a controller over a fresh session.
func New(backend Backend, opts Options) *Controller {
	c := &Controller{
		backend: backend,
		state:   session.New(),
		quiet:   opts.Quiet,
	}
	markPlot := func(interface{}) { c.plotDirty = true }
	c.state.On(session.EventSelectionChanged, markPlot)
	c.state.On(session.EventHeadersChanged, markPlot)
	c.state.On(session.EventReset, func(interface{}) {
		c.demo = nil
		c.fit = nil
	})
	c.state.On(session.EventModelLoaded, func(interface{}) {
		c.demo = nil
		c.fit = nil
	})
	c.state.On(session.EventGatingChanged, func(data interface{}) {
		if g, ok := data.(session.Gating); ok && !g.Learning {
			c.demo = nil
		}
	})
	return c
}

func (c *Controller) logf(format string, args ...interface{}) {
	if !c.quiet {
		log.Printf(format, args...)
	}
}

func (c *Controller) info(format string, args ...interface{}) {
	c.notices = append(c.notices, Notice{Level: Info, Message: fmt.Sprintf(format, args...)})
}

// fail logs err, queues a notice and returns err.
func (c *Controller) fail(op string, err error) error {
	log.Printf("❌ %s: %v", op, err)
	c.notices = append(c.notices, Notice{Level: Error, Message: fmt.Sprintf("%s: %v", op, err)})
	return err
}

// settle runs the plot refresh queued by the event just applied.
func (c *Controller) settle(ctx context.Context) {
	if c.plotDirty {
		c.refreshPlot(ctx)
	}
}

func (c *Controller) refreshPlot(ctx context.Context) {
	c.plotDirty = false
	req, err := c.state.PlotRequest()
	if errors.Is(err, session.ErrNotReady) {
		c.plot = PlotView{}
		return
	}
	if err != nil {
		c.plot = PlotView{Error: err.Error()}
		return
	}

	resp, err := c.backend.GetPlotData(ctx, req)
	if err != nil {
		c.plot = PlotView{Error: err.Error()}
		_ = c.fail("Error fetching plot data", err)
		return
	}
	c.plot = PlotView{Visible: true, GraphJSON: resp.GraphJSON, LayoutJSON: resp.LayoutJSON}
}

func (c *Controller) refreshModelFiles(ctx context.Context) error {
	files, err := c.backend.ListModelConfigs(ctx)
	if err != nil {
		return c.fail("Error listing model files", err)
	}
	c.modelFiles = files
	return nil
}

// UploadCSV sends a file for role and adopts its headers. An upload the
// backend rejects clears that side, as the backend has forgotten it too.
func (c *Controller) UploadCSV(ctx context.Context, role session.Role, filename string, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	defer c.settle(ctx)

	resp, err := c.backend.UploadCSV(ctx, string(role), filename, data)
	if err != nil {
		var apiErr *gateway.APIError
		if errors.As(err, &apiErr) {
			c.state.ClearCSV(role)
		}
		return c.fail("Error uploading "+string(role)+" CSV", err)
	}
	c.state.SetHeaders(role, resp.Filename, resp.Headers)
	c.logf("📁 %s CSV %s: %d headers", role, resp.Filename, len(resp.Headers))
	return nil
}

// ClearCSV forgets the file of role.
func (c *Controller) ClearCSV(ctx context.Context, role session.Role) {
	c.mu.Lock()
	defer c.mu.Unlock()
	defer c.settle(ctx)
	c.state.ClearCSV(role)
}

// SetSelection assigns Constant, X_axis or Y_axis to a feature header.
func (c *Controller) SetSelection(ctx context.Context, header, kind, value string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	defer c.settle(ctx)

	k, err := session.ParseKind(kind)
	if err != nil {
		return c.fail("Invalid selection", err)
	}
	if err := c.state.SetSelection(header, k, value); err != nil {
		return c.fail("Invalid selection", err)
	}
	return nil
}

// SetConstantValue edits the value of a constant feature.
func (c *Controller) SetConstantValue(ctx context.Context, header, value string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	defer c.settle(ctx)

	if err := c.state.SetConstantValue(header, value); err != nil {
		return c.fail("Invalid constant", err)
	}
	return nil
}

// SetTarget selects the plotted target.
func (c *Controller) SetTarget(ctx context.Context, target string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	defer c.settle(ctx)

	if err := c.state.SetTarget(target); err != nil {
		return c.fail("Invalid target", err)
	}
	return nil
}

// AddFunction appends an empty function row.
func (c *Controller) AddFunction() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state.AddFunction()
}

// RemoveFunction drops the last function row.
func (c *Controller) RemoveFunction() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state.RemoveFunction()
}

// EditFunction sets the name, equation or parameters of function index.
func (c *Controller) EditFunction(index int, field, value string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	f, err := session.ParseField(field)
	if err != nil {
		return c.fail("Invalid function field", err)
	}
	if err := c.state.EditFunction(index, f, value); err != nil {
		return c.fail("Invalid function", err)
	}
	return nil
}

// SetAssignment picks the function of one matrix cell.
func (c *Controller) SetAssignment(feature, target, fn string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.state.SetAssignment(feature, target, fn); err != nil {
		return c.fail("Invalid assignment", err)
	}
	return nil
}

// SetFittingMethod switches between linear and multiplicative combination.
func (c *Controller) SetFittingMethod(method string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state.SetFittingMethod(lawfit.ParseFittingMethod(method))
}

// SetModelName records the name used by Apply.
func (c *Controller) SetModelName(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state.SetModelName(name)
}

// Apply validates every function and saves the configuration. Nothing is
// sent when a function is invalid.
func (c *Controller) Apply(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	defer c.settle(ctx)

	if !c.state.Gating().Apply {
		return c.fail("Cannot apply", fmt.Errorf("%w: upload both CSV files first", session.ErrDisabled))
	}
	cfg := c.state.ModelConfig()
	if err := lawfit.ValidateFunctions(cfg.Functions); err != nil {
		return c.fail("Invalid function definition", err)
	}

	resp, err := c.backend.SaveModelConfig(ctx, cfg)
	if err != nil {
		c.state.MarkSaved(false, "")
		return c.fail("Error saving model configuration", err)
	}
	c.state.MarkSaved(true, filepath.Base(resp.Filepath))
	c.info("%s", resp.Message)
	c.logf("💾 Saved model configuration to %s", resp.Filepath)
	_ = c.refreshModelFiles(ctx)
	return nil
}

// SelectModelFile loads the named configuration. An empty name, or a
// failed load, resets the model to defaults.
func (c *Controller) SelectModelFile(ctx context.Context, name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	defer c.settle(ctx)

	if name != "" && !c.state.Gating().ModelFile {
		return c.fail("Cannot load model", fmt.Errorf("%w: upload both CSV files first", session.ErrDisabled))
	}
	if name == "" {
		c.state.SelectModelFile("")
		c.state.Reset()
		return nil
	}

	resp, err := c.backend.LoadModelConfig(ctx, name)
	if err != nil {
		c.state.SelectModelFile("")
		c.state.Reset()
		return c.fail("Error loading model configuration", err)
	}
	c.syncHeaders(ctx)
	c.state.ApplyModelConfig(name, resp.ModelConfig)
	if resp.Message != "" {
		c.info("%s", resp.Message)
	}
	c.logf("📂 Loaded model configuration %s", name)
	return nil
}

// syncHeaders adopts the backend's headers for a side whose headers drifted
// from what this session recorded, keeping the file name.
func (c *Controller) syncHeaders(ctx context.Context) {
	resp, err := c.backend.GetModelTableHeaders(ctx)
	if err != nil {
		log.Printf("⚠️  Could not verify table headers: %v", err)
		return
	}
	if !equalStrings(resp.FeatureHeaders, c.state.FeatureHeaders()) {
		c.state.SetHeaders(session.Feature, c.state.FeatureFile(), resp.FeatureHeaders)
	}
	if !equalStrings(resp.TargetHeaders, c.state.TargetHeaders()) {
		c.state.SetHeaders(session.Target, c.state.TargetFile(), resp.TargetHeaders)
	}
}

// DeleteModel deletes the configuration chosen in the model selector, or
// the one just saved. The typed model name is not used, since the stored
// file name is a sanitized form of it. On failure the session is left
// untouched.
func (c *Controller) DeleteModel(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	defer c.settle(ctx)

	name := c.state.ModelFile()
	if name == "" {
		return c.fail("Cannot delete model", errors.New("no model file selected"))
	}

	resp, err := c.backend.DeleteModelConfig(ctx, name)
	if err != nil {
		return c.fail("Error deleting model configuration", err)
	}
	c.state.AfterDelete()
	c.info("%s", resp.Message)
	c.logf("🗑️  Deleted model configuration %s", name)
	_ = c.refreshModelFiles(ctx)
	return nil
}

// Reset restores the default model and clears the model selector.
func (c *Controller) Reset(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	defer c.settle(ctx)

	c.state.SelectModelFile("")
	c.state.Reset()
}

// SetOverlap switches the overlap toggle. Turning it on runs the
// calculation demo against the loaded model.
func (c *Controller) SetOverlap(ctx context.Context, on bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.state.SetOverlap(on); err != nil {
		return c.fail("Cannot enable overlap", err)
	}
	if !on {
		c.demo = nil
		return nil
	}

	demo, err := c.backend.RunCalculationDemo(ctx)
	if err != nil {
		return c.fail("Error running calculation demo", err)
	}
	c.demo = demo
	c.logf("🧪 %s: %v", demo.Message, demo.Targets)
	return nil
}

// ToggleThreshold flips the threshold toggle.
func (c *Controller) ToggleThreshold() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.state.ToggleThreshold(); err != nil {
		return c.fail("Cannot toggle threshold", err)
	}
	return nil
}

// SetThresholdValue records the threshold text.
func (c *Controller) SetThresholdValue(v string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state.SetThresholdValue(v)
}

// Learn fits the loaded model on the backend.
func (c *Controller) Learn(ctx context.Context, method string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.state.Gating().Learning {
		return c.fail("Cannot start learning", session.ErrDisabled)
	}
	resp, err := c.backend.FitModel(ctx, method)
	if err != nil {
		return c.fail("Error fitting model", err)
	}
	c.fit = resp
	c.info("%s", resp.Message)
	for _, r := range resp.Results {
		if r.Error != "" {
			c.notices = append(c.notices, Notice{Level: Error, Message: fmt.Sprintf("Fit of %s failed: %s", r.Target, r.Error)})
		}
	}
	return nil
}

// RefreshModelFiles reloads the model selector options.
func (c *Controller) RefreshModelFiles(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.refreshModelFiles(ctx)
}

// View returns a read-only copy of what the page shows.
func (c *Controller) View() View {
	c.mu.Lock()
	defer c.mu.Unlock()
	return View{
		Snapshot:   c.state.Snapshot(),
		Plot:       c.plot,
		ModelFiles: append([]string(nil), c.modelFiles...),
		Demo:       c.demo,
		Fit:        c.fit,
	}
}

// Plot returns the current plot area.
func (c *Controller) Plot() PlotView {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.plot
}

// Notices returns and clears the queued notices.
func (c *Controller) Notices() []Notice {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := c.notices
	c.notices = nil
	return out
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
