package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/klauspost/compress/gzhttp"

	"github.com/kacperjurak/lawfit"
	"github.com/kacperjurak/lawfit/internal/processing"
	"github.com/kacperjurak/lawfit/pkg/config"
	"github.com/kacperjurak/lawfit/pkg/handlers"
	"github.com/kacperjurak/lawfit/pkg/models"
	"github.com/kacperjurak/lawfit/pkg/profiling"
	"github.com/kacperjurak/lawfit/pkg/store"
	"github.com/kacperjurak/lawfit/pkg/worker"
)

// Server represents the HTTP server with all dependencies
type Server struct {
	config      *config.Config
	store       *store.Store
	workerPool  *worker.Pool
	httpServer  *http.Server
	profiler    *profiling.Profiler
	middleware  *profiling.Middleware
	memProfiler *profiling.MemoryProfiler
	fitStats    *profiling.FitStats
}

// Options holds configuration for creating a new server
type Options struct {
	Config *config.Config
	Store  *store.Store
}

// New creates a new server instance
func New(opts Options) (*Server, error) {
	if opts.Config == nil {
		opts.Config = config.DefaultConfig()
	}
	cfg := opts.Config
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	st := opts.Store
	if st == nil {
		var err error
		if st, err = store.New(cfg.DataDir); err != nil {
			return nil, err
		}
	}

	processor, err := newProcessor(cfg)
	if err != nil {
		return nil, err
	}
	fitStats := profiling.NewFitStats()
	workerPool := worker.New(worker.Options{
		Workers:   cfg.WorkerCount,
		Processor: processor.ProcessorFunc(),
		Profile:   cfg.EnableProfiling,
		Stats:     fitStats,
	})

	server := &Server{
		config:     cfg,
		store:      st,
		workerPool: workerPool,
		profiler:   profiling.New(cfg, fitStats),
		fitStats:   fitStats,
		middleware: profiling.NewMiddleware(cfg.EnableProfiling, cfg.Quiet),
	}
	if cfg.EnableProfiling {
		server.memProfiler = profiling.NewMemoryProfiler(30*time.Second, fitStats)
	}

	server.setupRoutes()
	return server, nil
}

func newProcessor(cfg *config.Config) (*processing.FitProcessor, error) {
	method, err := processing.NormalizeMethod(cfg.FitMethod)
	if err != nil {
		return nil, err
	}
	weighting, err := lawfit.ParseWeighting(cfg.Weighting)
	if err != nil {
		return nil, err
	}

	p := processing.NewFitProcessor()
	p.DefaultMethod = method
	p.Weighting = weighting
	p.MinFunc = cfg.MinFunc
	p.MaxIterations = cfg.MaxIterations
	p.Quiet = cfg.Quiet
	return p, nil
}

// setupRoutes configures HTTP routes and handlers
func (s *Server) setupRoutes() {
	mux := http.NewServeMux()

	dataHandler := handlers.NewDataHandler(s.config, s.store)
	modelHandler := handlers.NewModelHandler(s.config, s.store)
	fitHandler := handlers.NewFitHandler(s.config, s.store, s.workerPool)

	mux.Handle("/upload_csv", s.middleware.ProfiledHandlerFunc("upload-csv", dataHandler.UploadCSV))
	mux.Handle("/get_plot_data", s.middleware.ProfiledHandlerFunc("plot-data", dataHandler.PlotData))
	mux.Handle("/get_plot_image", s.middleware.ProfiledHandlerFunc("plot-image", dataHandler.PlotImage))
	mux.Handle("/get_model_table_headers", s.middleware.ProfiledHandlerFunc("table-headers", dataHandler.ModelTableHeaders))
	mux.Handle("/save_model_config", s.middleware.ProfiledHandlerFunc("save-model", modelHandler.Save))
	mux.Handle("/load_model_config", s.middleware.ProfiledHandlerFunc("load-model", modelHandler.Load))
	mux.Handle("/delete_model_config", s.middleware.ProfiledHandlerFunc("delete-model", modelHandler.Delete))
	mux.Handle("/list_model_configs", s.middleware.ProfiledHandlerFunc("list-models", modelHandler.List))
	mux.Handle("/run_calculation_demo", s.middleware.ProfiledHandlerFunc("calculation-demo", modelHandler.CalculationDemo))
	mux.Handle("/fit_model", s.middleware.ProfiledHandler("fit-model", fitHandler))
	mux.HandleFunc("/health", s.healthHandler)
	mux.HandleFunc("/debug/gc", s.gcHandler)
	mux.HandleFunc("/debug/memory", s.memoryHandler)

	s.httpServer = &http.Server{
		Addr:         ":" + s.config.Port,
		Handler:      gzhttp.GzipHandler(mux),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}
}

// Handler exposes the routed handler, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// healthHandler provides a simple health check endpoint
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, models.HealthResponse{Status: "healthy", Timestamp: time.Now().UTC()})
}

// gcHandler triggers garbage collection and returns stats
func (s *Server) gcHandler(w http.ResponseWriter, r *http.Request) {
	stats := profiling.ForceGC()
	writeJSON(w, map[string]interface{}{
		"gc_runs":         stats.NumGC,
		"pause_total_ms":  float64(stats.PauseTotal.Nanoseconds()) / 1000000.0,
		"pause_recent_us": float64(stats.PauseRecent.Nanoseconds()) / 1000.0,
		"cpu_percent":     stats.GCCPUPercent,
		"last_gc":         stats.LastGC.Format(time.RFC3339),
		"timestamp":       time.Now().Format(time.RFC3339),
	})
}

// memoryHandler returns runtime memory info and per-target fit timings
func (s *Server) memoryHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, profiling.RuntimeInfo(s.fitStats))
}

func writeJSON(w http.ResponseWriter, value interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(value); err != nil {
		log.Printf("❌ Failed to encode response: %v", err)
	}
}

// Start starts the HTTP server. It blocks until the server stops and
// returns nil after a graceful Shutdown.
func (s *Server) Start() error {
	if err := s.profiler.Start(); err != nil {
		log.Printf("❌ Failed to start profiler: %v", err)
	}
	if s.memProfiler != nil {
		s.memProfiler.Start()
	}

	log.Println("🚀 Starting HTTP server on port", s.config.Port)
	log.Printf("📂 Data directory: %s", s.config.DataDir)
	log.Println("📡 Endpoints available:")
	log.Printf("  - Upload:  http://localhost:%s/upload_csv", s.config.Port)
	log.Printf("  - Plot:    http://localhost:%s/get_plot_data", s.config.Port)
	log.Printf("  - Models:  http://localhost:%s/list_model_configs", s.config.Port)
	log.Printf("  - Fit:     http://localhost:%s/fit_model", s.config.Port)
	log.Printf("  - Health:  http://localhost:%s/health", s.config.Port)
	log.Printf("  - GC:      http://localhost:%s/debug/gc", s.config.Port)
	log.Printf("  - Memory:  http://localhost:%s/debug/memory", s.config.Port)

	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	log.Println("🛑 Shutting down server...")

	err := s.httpServer.Shutdown(ctx)
	if err != nil {
		log.Printf("⚠️ HTTP server shutdown error: %v", err)
	}

	if err := s.profiler.Stop(); err != nil {
		log.Printf("⚠️ Profiler shutdown error: %v", err)
	}
	if s.memProfiler != nil {
		s.memProfiler.Stop()
	}

	s.workerPool.Shutdown()

	log.Println("✅ Server shutdown complete")
	return err
}
