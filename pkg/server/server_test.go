package server

import (
	"compress/gzip"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kacperjurak/lawfit/pkg/config"
	"github.com/kacperjurak/lawfit/pkg/models"
	"github.com/kacperjurak/lawfit/pkg/profiling"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.DataDir = t.TempDir()
	cfg.Quiet = true
	cfg.WorkerCount = 1

	s, err := New(Options{Config: cfg})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Shutdown(context.Background()) })

	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t)
	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	var health models.HealthResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	assert.Equal(t, "healthy", health.Status)
}

func TestRoutesCarryRequestIDAndGzip(t *testing.T) {
	ts := newTestServer(t)

	req, err := http.NewRequest(http.MethodGet, ts.URL+"/list_model_configs", nil)
	require.NoError(t, err)
	req.Header.Set("Accept-Encoding", "gzip")
	resp, err := http.DefaultTransport.RoundTrip(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))

	body := io.Reader(resp.Body)
	if resp.Header.Get("Content-Encoding") == "gzip" {
		zr, err := gzip.NewReader(resp.Body)
		require.NoError(t, err)
		body = zr
	}
	blob, err := io.ReadAll(body)
	require.NoError(t, err)
	assert.JSONEq(t, `{"models":[]}`, strings.TrimSpace(string(blob)))
}

func TestNewRejectsBadConfig(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.DataDir = t.TempDir()
	cfg.FitMethod = "simulated-annealing"
	_, err := New(Options{Config: cfg})
	assert.Error(t, err)

	cfg.FitMethod = "lm"
	cfg.Weighting = "modulus"
	_, err = New(Options{Config: cfg})
	assert.Error(t, err)
}

func TestDebugMemoryReportsFits(t *testing.T) {
	ts := newTestServer(t)
	resp, err := http.Get(ts.URL + "/debug/memory")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var report profiling.Report
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&report))
	assert.Positive(t, report.Goroutines)
	assert.NotNil(t, report.Fits)
	assert.Empty(t, report.Fits)
}
