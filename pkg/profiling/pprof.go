package profiling

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/http/pprof"
	"runtime"
	"time"

	"github.com/kacperjurak/lawfit/pkg/config"
)

// Profiler serves pprof and the fit report on the profiling port.
type Profiler struct {
	config *config.Config
	fits   *FitStats
	server *http.Server
}

// New creates a profiler reporting fits from stats. stats may be nil.
func New(cfg *config.Config, stats *FitStats) *Profiler {
	return &Profiler{config: cfg, fits: stats}
}

// Handler returns the profiling routes.
func (p *Profiler) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	mux.HandleFunc("/debug/info", p.infoHandler)
	return mux
}

// Start serves the profiling routes in the background when profiling is
// enabled. Block and mutex sampling are switched on with it.
func (p *Profiler) Start() error {
	if !p.config.EnableProfiling {
		log.Println("📊 Profiling disabled")
		return nil
	}

	runtime.SetBlockProfileRate(1)
	runtime.SetMutexProfileFraction(1)

	p.server = &http.Server{
		Addr:              ":" + p.config.ProfilingPort,
		Handler:           p.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	log.Printf("📊 Profiling on http://localhost:%s/debug/pprof/ (fit report at /debug/info)", p.config.ProfilingPort)

	go func() {
		if err := p.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("❌ Profiling server error: %v", err)
		}
	}()
	return nil
}

// Stop shuts the profiling server down, if it was started.
func (p *Profiler) Stop() error {
	if p.server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := p.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("profiling server shutdown: %w", err)
	}
	log.Println("✅ Profiling server stopped")
	return nil
}

func (p *Profiler) infoHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(RuntimeInfo(p.fits)); err != nil {
		log.Printf("❌ Failed to encode runtime info: %v", err)
	}
}

// MemoryReport is the heap part of a Report.
type MemoryReport struct {
	AllocMB      float64 `json:"alloc_mb"`
	TotalAllocMB float64 `json:"total_alloc_mb"`
	SysMB        float64 `json:"sys_mb"`
	HeapObjects  uint64  `json:"heap_objects"`
	NumGC        uint32  `json:"num_gc"`
}

// Report is the body of /debug/info and /debug/memory.
type Report struct {
	Timestamp  string        `json:"timestamp"`
	Goroutines int           `json:"goroutines"`
	GOMAXPROCS int           `json:"gomaxprocs"`
	Version    string        `json:"version"`
	Memory     MemoryReport  `json:"memory"`
	Fits       []TargetStats `json:"fits"`
}

// RuntimeInfo snapshots the runtime counters and the fit stats.
func RuntimeInfo(fits *FitStats) Report {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return Report{
		Timestamp:  time.Now().Format(time.RFC3339),
		Goroutines: runtime.NumGoroutine(),
		GOMAXPROCS: runtime.GOMAXPROCS(0),
		Version:    runtime.Version(),
		Memory: MemoryReport{
			AllocMB:      bToMb(m.Alloc),
			TotalAllocMB: bToMb(m.TotalAlloc),
			SysMB:        bToMb(m.Sys),
			HeapObjects:  m.HeapObjects,
			NumGC:        m.NumGC,
		},
		Fits: fits.Snapshot(),
	}
}
