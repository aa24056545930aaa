package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

// TestLoadOverlaysDefaults keeps defaults for keys the file does not set.
func TestLoadOverlaysDefaults(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, Load(writeFile(t, "port: \"9090\"\nworker_count: 2\nfit_method: lm\n"), cfg))

	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, 2, cfg.WorkerCount)
	assert.Equal(t, "lm", cfg.FitMethod)
	assert.Equal(t, "user_data", cfg.DataDir)
	assert.NoError(t, cfg.Validate())
}

func TestLoadUIConfigDuration(t *testing.T) {
	cfg := DefaultUIConfig()
	require.NoError(t, Load(writeFile(t, "backend_url: http://backend:8080\nrequest_timeout: 30s\n"), cfg))
	assert.Equal(t, "http://backend:8080", cfg.BackendURL)
	assert.Equal(t, 30*time.Second, cfg.RequestTimeout)
	assert.Equal(t, "3000", cfg.Port)
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	err := Load(writeFile(t, "prot: 1\n"), DefaultConfig())
	assert.Error(t, err)

	err = Load(filepath.Join(t.TempDir(), "missing.yaml"), DefaultConfig())
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	cfg := DefaultConfig()
	cfg.WorkerCount = 0
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.DataDir = ""
	assert.Error(t, cfg.Validate())
}
