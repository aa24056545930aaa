package config

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration settings for the backend service
type Config struct {
	Port            string  `yaml:"port"`
	DataDir         string  `yaml:"data_dir"`
	WorkerCount     int     `yaml:"worker_count"`
	FitMethod       string  `yaml:"fit_method"`
	Weighting       string  `yaml:"weighting"`
	MinFunc         float64 `yaml:"min_func"`
	MaxIterations   int     `yaml:"max_iterations"`
	PlotWidth       int     `yaml:"plot_width"`
	PlotHeight      int     `yaml:"plot_height"`
	Quiet           bool    `yaml:"quiet"`
	EnableProfiling bool    `yaml:"enable_profiling"`
	ProfilingPort   string  `yaml:"profiling_port"`
}

// UIConfig holds settings for the web front-end
type UIConfig struct {
	Port           string        `yaml:"port"`
	BackendURL     string        `yaml:"backend_url"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	Quiet          bool          `yaml:"quiet"`
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Port:            "8080",
		DataDir:         "user_data",
		WorkerCount:     5,
		FitMethod:       "nm",
		Weighting:       "unity",
		MinFunc:         1e-10,
		MaxIterations:   10,
		PlotWidth:       800,
		PlotHeight:      600,
		Quiet:           false,
		EnableProfiling: false,
		ProfilingPort:   "6060",
	}
}

// DefaultUIConfig returns front-end configuration with sensible defaults.
// A zero RequestTimeout means backend calls are bounded only by the caller.
func DefaultUIConfig() *UIConfig {
	return &UIConfig{
		Port:           "3000",
		BackendURL:     "http://localhost:8080",
		RequestTimeout: 0,
		Quiet:          false,
	}
}

// Load overlays the YAML file at path onto out. Unknown keys are rejected.
func Load(path string, out interface{}) error {
	blob, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(blob))
	dec.KnownFields(true)
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

// Validate checks values that would otherwise fail later at startup
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("port must not be empty")
	}
	if c.DataDir == "" {
		return fmt.Errorf("data_dir must not be empty")
	}
	if c.WorkerCount <= 0 {
		return fmt.Errorf("worker_count must be positive, got %d", c.WorkerCount)
	}
	if c.MaxIterations <= 0 {
		return fmt.Errorf("max_iterations must be positive, got %d", c.MaxIterations)
	}
	return nil
}
