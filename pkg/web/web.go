// Package web serves the front-end page. Every control posts a form that
// maps onto one controller event and redirects back to the page.
package web

import (
	"context"
	"embed"
	"encoding/json"
	"fmt"
	"html/template"
	"io"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/klauspost/compress/gzhttp"

	"github.com/kacperjurak/lawfit"
	"github.com/kacperjurak/lawfit/internal/controller"
	"github.com/kacperjurak/lawfit/internal/session"
	"github.com/kacperjurak/lawfit/internal/utils"
	"github.com/kacperjurak/lawfit/pkg/config"
	"github.com/kacperjurak/lawfit/pkg/models"
	"github.com/kacperjurak/lawfit/pkg/profiling"
)

//go:embed templates/index.html
var templatesFS embed.FS

const maxUploadBytes = 32 << 20

// Server is the front-end HTTP server
type Server struct {
	config     *config.UIConfig
	controller *controller.Controller
	page       *template.Template
	handler    http.Handler
}

type pageData struct {
	controller.View
	Notices    []controller.Notice
	Kinds      []string
	FitMethods []string
	Linear     lawfit.FittingMethod
	Multiply   lawfit.FittingMethod
}

// New creates the front-end server over ctrl
func New(cfg *config.UIConfig, ctrl *controller.Controller) (*Server, error) {
	if cfg == nil {
		cfg = config.DefaultUIConfig()
	}
	page, err := template.New("index.html").Funcs(template.FuncMap{
		"kind": func(k session.Kind) string { return k.String() },
	}).ParseFS(templatesFS, "templates/index.html")
	if err != nil {
		return nil, fmt.Errorf("parse templates: %w", err)
	}

	s := &Server{config: cfg, controller: ctrl, page: page}
	s.setupRoutes()
	return s, nil
}

// Handler returns the routed, gzip-wrapped handler
func (s *Server) Handler() http.Handler { return s.handler }

func (s *Server) setupRoutes() {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /{$}", s.index)
	mux.HandleFunc("GET /plot.json", s.plotJSON)
	mux.HandleFunc("GET /health", s.health)

	mux.HandleFunc("POST /upload", s.upload)
	mux.HandleFunc("POST /clear", s.event(func(ctx context.Context, r *http.Request) error {
		role, err := parseRole(r.FormValue("role"))
		if err != nil {
			return err
		}
		s.controller.ClearCSV(ctx, role)
		return nil
	}))
	mux.HandleFunc("POST /selection", s.event(func(ctx context.Context, r *http.Request) error {
		return s.controller.SetSelection(ctx, r.FormValue("header"), r.FormValue("kind"), r.FormValue("value"))
	}))
	mux.HandleFunc("POST /constant", s.event(func(ctx context.Context, r *http.Request) error {
		return s.controller.SetConstantValue(ctx, r.FormValue("header"), r.FormValue("value"))
	}))
	mux.HandleFunc("POST /target", s.event(func(ctx context.Context, r *http.Request) error {
		return s.controller.SetTarget(ctx, r.FormValue("target"))
	}))
	mux.HandleFunc("POST /functions/add", s.event(func(ctx context.Context, r *http.Request) error {
		s.controller.AddFunction()
		return nil
	}))
	mux.HandleFunc("POST /functions/remove", s.event(func(ctx context.Context, r *http.Request) error {
		s.controller.RemoveFunction()
		return nil
	}))
	mux.HandleFunc("POST /functions/edit", s.event(func(ctx context.Context, r *http.Request) error {
		index, err := strconv.Atoi(r.FormValue("index"))
		if err != nil {
			return fmt.Errorf("invalid function index %q", r.FormValue("index"))
		}
		for _, field := range []string{"name", "equation", "parameters"} {
			if _, ok := r.Form[field]; !ok {
				continue
			}
			if err := s.controller.EditFunction(index, field, r.FormValue(field)); err != nil {
				return err
			}
		}
		return nil
	}))
	mux.HandleFunc("POST /assignment", s.event(func(ctx context.Context, r *http.Request) error {
		return s.controller.SetAssignment(r.FormValue("feature"), r.FormValue("target"), r.FormValue("function"))
	}))
	mux.HandleFunc("POST /method", s.event(func(ctx context.Context, r *http.Request) error {
		s.controller.SetFittingMethod(r.FormValue("method"))
		return nil
	}))
	mux.HandleFunc("POST /model-name", s.event(func(ctx context.Context, r *http.Request) error {
		s.controller.SetModelName(r.FormValue("name"))
		return nil
	}))
	mux.HandleFunc("POST /apply", s.event(func(ctx context.Context, r *http.Request) error {
		if _, ok := r.Form["name"]; ok {
			s.controller.SetModelName(r.FormValue("name"))
		}
		return s.controller.Apply(ctx)
	}))
	mux.HandleFunc("POST /model/select", s.event(func(ctx context.Context, r *http.Request) error {
		return s.controller.SelectModelFile(ctx, r.FormValue("file"))
	}))
	mux.HandleFunc("POST /model/delete", s.event(func(ctx context.Context, r *http.Request) error {
		return s.controller.DeleteModel(ctx)
	}))
	mux.HandleFunc("POST /models/refresh", s.event(func(ctx context.Context, r *http.Request) error {
		return s.controller.RefreshModelFiles(ctx)
	}))
	mux.HandleFunc("POST /reset", s.event(func(ctx context.Context, r *http.Request) error {
		s.controller.Reset(ctx)
		return nil
	}))
	mux.HandleFunc("POST /overlap", s.event(func(ctx context.Context, r *http.Request) error {
		return s.controller.SetOverlap(ctx, r.FormValue("on") == "on")
	}))
	mux.HandleFunc("POST /threshold/toggle", s.event(func(ctx context.Context, r *http.Request) error {
		return s.controller.ToggleThreshold()
	}))
	mux.HandleFunc("POST /threshold/value", s.event(func(ctx context.Context, r *http.Request) error {
		s.controller.SetThresholdValue(r.FormValue("value"))
		return nil
	}))
	mux.HandleFunc("POST /learn", s.event(func(ctx context.Context, r *http.Request) error {
		return s.controller.Learn(ctx, r.FormValue("method"))
	}))

	mw := profiling.NewMiddleware(false, s.config.Quiet)
	s.handler = gzhttp.GzipHandler(mw.ProfiledHandler("ui", mux))
}

// requestContext bounds backend calls made for r and tags them with a
// request id.
func (s *Server) requestContext(r *http.Request) (context.Context, context.CancelFunc) {
	ctx := r.Context()
	if utils.RequestID(ctx) == "" {
		ctx = utils.WithRequestID(ctx, utils.GenerateID())
	}
	if s.config.RequestTimeout > 0 {
		return context.WithTimeout(ctx, s.config.RequestTimeout)
	}
	return context.WithCancel(ctx)
}

// event adapts a controller call to a form post. Failures are already
// queued as notices by the controller, so the page is shown either way.
func (s *Server) event(fn func(ctx context.Context, r *http.Request) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			http.Error(w, "invalid form", http.StatusBadRequest)
			return
		}
		ctx, cancel := s.requestContext(r)
		defer cancel()
		_ = fn(ctx, r)
		http.Redirect(w, r, "/", http.StatusSeeOther)
	}
}

func (s *Server) upload(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		http.Error(w, "invalid upload", http.StatusBadRequest)
		return
	}
	role, err := parseRole(r.FormValue("role"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		http.Error(w, "no file selected", http.StatusBadRequest)
		return
	}
	defer file.Close()
	data, err := io.ReadAll(file)
	if err != nil {
		http.Error(w, "failed to read upload", http.StatusBadRequest)
		return
	}

	ctx, cancel := s.requestContext(r)
	defer cancel()
	if err := s.controller.UploadCSV(ctx, role, header.Filename, data); err == nil {
		_ = s.controller.RefreshModelFiles(ctx)
	}
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func (s *Server) index(w http.ResponseWriter, r *http.Request) {
	data := pageData{
		View:       s.controller.View(),
		Notices:    s.controller.Notices(),
		Kinds:      []string{models.ParamConstant, models.ParamXAxis, models.ParamYAxis},
		FitMethods: []string{"nm", "lm", "lbfgs", "all"},
		Linear:     lawfit.CombineLinearly,
		Multiply:   lawfit.Multiply,
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := s.page.Execute(w, data); err != nil {
		log.Printf("❌ Failed to render page: %v", err)
	}
}

// plotView is the /plot.json body.
type plotView struct {
	Visible    bool   `json:"visible"`
	GraphJSON  string `json:"graph_json,omitempty"`
	LayoutJSON string `json:"layout_json,omitempty"`
	Error      string `json:"error,omitempty"`
}

func (s *Server) plotJSON(w http.ResponseWriter, r *http.Request) {
	p := s.controller.Plot()
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	if err := json.NewEncoder(w).Encode(plotView{
		Visible:    p.Visible,
		GraphJSON:  p.GraphJSON,
		LayoutJSON: p.LayoutJSON,
		Error:      p.Error,
	}); err != nil {
		log.Printf("❌ Failed to encode plot: %v", err)
	}
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(models.HealthResponse{Status: "healthy", Timestamp: time.Now().UTC()})
}

func parseRole(s string) (session.Role, error) {
	switch session.Role(s) {
	case session.Feature, session.Target:
		return session.Role(s), nil
	}
	return "", fmt.Errorf("invalid file role %q", s)
}
