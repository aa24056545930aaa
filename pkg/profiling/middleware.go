package profiling

import (
	"log"
	"net/http"
	"runtime"
	"time"

	"github.com/kacperjurak/lawfit/internal/utils"
)

// Middleware tags every request with an id and, when profiling is enabled,
// measures handler duration and memory.
type Middleware struct {
	enableProfiling bool
	quiet           bool
}

// NewMiddleware creates a new profiling middleware
func NewMiddleware(enableProfiling, quiet bool) *Middleware {
	return &Middleware{
		enableProfiling: enableProfiling,
		quiet:           quiet,
	}
}

// ProfiledHandler wraps an HTTP handler with request ids and optional profiling
func (m *Middleware) ProfiledHandler(name string, handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = utils.GenerateID()
		}
		w.Header().Set("X-Request-ID", requestID)
		r = r.WithContext(utils.WithRequestID(r.Context(), requestID))

		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		if !m.enableProfiling {
			handler.ServeHTTP(wrapped, r)
			if !m.quiet {
				log.Printf("%s %s [%s] %d", r.Method, r.URL.Path, requestID, wrapped.statusCode)
			}
			return
		}

		profiler := NewRequestProfiler(name)
		startGoroutines := runtime.NumGoroutine()
		w.Header().Set("X-Profiling-Enabled", "true")
		w.Header().Set("X-Handler-Name", name)

		handler.ServeHTTP(wrapped, r)

		metrics := profiler.Finish()
		log.Printf("⚡ %s %s [%s] %d: %.3fms, memory: %+d bytes, goroutines: %+d",
			r.Method, r.URL.Path, requestID, wrapped.statusCode,
			float64(metrics.Duration.Nanoseconds())/1000000.0,
			metrics.MemoryDelta,
			metrics.Goroutines-startGoroutines)
	})
}

// ProfiledHandlerFunc wraps an HTTP handler function with profiling capabilities
func (m *Middleware) ProfiledHandlerFunc(name string, handlerFunc http.HandlerFunc) http.Handler {
	return m.ProfiledHandler(name, handlerFunc)
}

// responseWriter wraps http.ResponseWriter to capture the status code
type responseWriter struct {
	http.ResponseWriter
	statusCode  int
	wroteHeader bool
}

func (rw *responseWriter) WriteHeader(code int) {
	if !rw.wroteHeader {
		rw.statusCode = code
		rw.wroteHeader = true
	}
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	rw.wroteHeader = true
	return rw.ResponseWriter.Write(b)
}

// Flush forwards to the underlying writer when it supports flushing.
func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// RequestProfiler provides per-request profiling information
type RequestProfiler struct {
	StartTime   time.Time
	StartMemory uint64
	Name        string
}

// NewRequestProfiler creates a new request profiler
func NewRequestProfiler(name string) *RequestProfiler {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	return &RequestProfiler{
		StartTime:   time.Now(),
		StartMemory: m.Alloc,
		Name:        name,
	}
}

// Finish completes the profiling and returns metrics
func (rp *RequestProfiler) Finish() ProfileMetrics {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	return ProfileMetrics{
		Name:        rp.Name,
		Duration:    time.Since(rp.StartTime),
		MemoryDelta: int64(m.Alloc) - int64(rp.StartMemory),
		FinalMemory: m.Alloc,
		Goroutines:  runtime.NumGoroutine(),
	}
}

// ProfileMetrics holds profiling metrics for a request
type ProfileMetrics struct {
	Name        string
	Duration    time.Duration
	MemoryDelta int64
	FinalMemory uint64
	Goroutines  int
}
