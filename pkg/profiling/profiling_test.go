package profiling

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kacperjurak/lawfit/internal/utils"
	"github.com/kacperjurak/lawfit/pkg/config"
)

func TestProfiledHandlerAssignsRequestID(t *testing.T) {
	var seen string
	h := NewMiddleware(false, true).ProfiledHandlerFunc("test", func(w http.ResponseWriter, r *http.Request) {
		seen = utils.RequestID(r.Context())
		w.WriteHeader(http.StatusTeapot)
	})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/x", nil))

	assert.Equal(t, http.StatusTeapot, rec.Code)
	id := rec.Header().Get("X-Request-ID")
	assert.Equal(t, id, seen)
	_, err := uuid.Parse(id)
	require.NoError(t, err)
}

func TestProfiledHandlerKeepsIncomingID(t *testing.T) {
	h := NewMiddleware(true, true).ProfiledHandler("test", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	}))

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("X-Request-ID", "fixed")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, "fixed", rec.Header().Get("X-Request-ID"))
	assert.Equal(t, "true", rec.Header().Get("X-Profiling-Enabled"))
	assert.Equal(t, "test", rec.Header().Get("X-Handler-Name"))
}

func TestFitStatsAggregatesPerTarget(t *testing.T) {
	stats := NewFitStats()
	stats.Record(FitTiming{Target: "y", Params: 2, OK: true, Duration: 2 * time.Millisecond})
	stats.Record(FitTiming{Target: "y", Params: 2, OK: false, Duration: 4 * time.Millisecond})
	stats.Record(FitTiming{Target: "a", Params: 3, OK: true, Duration: time.Millisecond})

	snap := stats.Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, "a", snap[0].Target)
	y := snap[1]
	assert.Equal(t, 2, y.Fits)
	assert.Equal(t, 1, y.Failures)
	assert.Equal(t, 2, y.Params)
	assert.InDelta(t, 4.0, y.LastMs, 1e-9)
	assert.InDelta(t, 4.0, y.MaxMs, 1e-9)
	assert.InDelta(t, 3.0, y.MeanMs, 1e-9)
	assert.Equal(t, 3, stats.Total())
}

func TestNilFitStatsIgnoresRecords(t *testing.T) {
	var stats *FitStats
	stats.Record(FitTiming{Target: "y"})
	assert.Empty(t, stats.Snapshot())
	assert.Zero(t, stats.Total())
}

func TestFitProfiler(t *testing.T) {
	fp := StartFit(3, "y", 2, true)
	time.Sleep(time.Millisecond)
	timing := fp.Finish(true)
	assert.Equal(t, 3, timing.Worker)
	assert.Equal(t, "y", timing.Target)
	assert.Equal(t, 2, timing.Params)
	assert.True(t, timing.OK)
	assert.GreaterOrEqual(t, timing.Duration, time.Millisecond)
}

func TestForceGCAndMemoryProfiler(t *testing.T) {
	before := readGCStats()
	after := ForceGC()
	assert.Greater(t, after.NumGC, before.NumGC)

	mp := NewMemoryProfiler(time.Millisecond, NewFitStats())
	mp.Start()
	time.Sleep(3 * time.Millisecond)
	mp.Stop()
	mp.Stop()
}

func TestInfoReportsFits(t *testing.T) {
	stats := NewFitStats()
	stats.Record(FitTiming{Target: "y", Params: 2, OK: true, Duration: time.Millisecond})
	p := New(config.DefaultConfig(), stats)

	rec := httptest.NewRecorder()
	p.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/debug/info", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var report Report
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.Positive(t, report.Goroutines)
	require.Len(t, report.Fits, 1)
	assert.Equal(t, "y", report.Fits[0].Target)
	assert.Equal(t, 1, report.Fits[0].Fits)
}
