// Package store keeps the backend workspace: the uploaded feature and target
// CSV files and the saved model configurations on disk.
package store

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/kacperjurak/lawfit"
	"github.com/kacperjurak/lawfit/internal/dataset"
)

var (
	ErrNotFound       = errors.New("not found")
	ErrUploadsMissing = errors.New("feature or target CSV files not loaded")
	ErrCSVMismatch    = errors.New("the configuration file was saved with different CSV files, load the matching CSVs first")
	ErrNoModelLoaded  = errors.New("no model configuration loaded")
	ErrInvalidName    = errors.New("invalid file name")
)

// Role is the side of an upload.
type Role string

const (
	Feature Role = "feature"
	Target  Role = "target"
)

// ParseRole accepts "feature" and "target".
func ParseRole(s string) (Role, error) {
	switch Role(s) {
	case Feature, Target:
		return Role(s), nil
	}
	return "", fmt.Errorf("invalid file type %q", s)
}

// Upload is a stored CSV file.
type Upload struct {
	Role        Role
	Filename    string
	Path        string
	Headers     []string
	Fingerprint uint64
	UploadedAt  time.Time
}

// StoredModel is the on-disk model configuration. FittingConfig is
// target-keyed.
type StoredModel struct {
	Timestamp      string                      `json:"timestamp"`
	ModelName      string                      `json:"model_name"`
	FeatureCSVPath string                      `json:"feature_csv_path"`
	TargetCSVPath  string                      `json:"target_csv_path"`
	FittingMethod  lawfit.FittingMethod        `json:"fitting_method"`
	FittingConfig  lawfit.Assignments          `json:"fitting_config"`
	Functions      []lawfit.FunctionDefinition `json:"functions"`
}

// Store is the single process-wide workspace.
type Store struct {
	mu         sync.RWMutex
	uploadDir  string
	modelDir   string
	uploads    map[Role]*Upload
	loaded     *StoredModel
	loadedFile string
	now        func() time.Time
}

// New creates the data directory layout under dataDir.
func New(dataDir string) (*Store, error) {
	s := &Store{
		uploadDir: filepath.Join(dataDir, "uploads"),
		modelDir:  filepath.Join(dataDir, "settings", "json"),
		uploads:   make(map[Role]*Upload),
		now:       time.Now,
	}
	for _, dir := range []string{s.uploadDir, s.modelDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create %s: %w", dir, err)
		}
	}
	return s, nil
}

// ModelDir is where model configurations are written.
func (s *Store) ModelDir() string { return s.modelDir }

// SaveUpload writes a CSV upload for role and records its headers. A file
// that cannot be parsed clears whatever was recorded for role.
func (s *Store) SaveUpload(role Role, filename string, data []byte) (*Upload, error) {
	name := filepath.Base(filename)
	if name == "." || name == string(filepath.Separator) || !strings.HasSuffix(strings.ToLower(name), ".csv") {
		return nil, fmt.Errorf("%w: %q is not a .csv file", ErrInvalidName, filename)
	}

	path, err := filepath.Abs(filepath.Join(s.uploadDir, name))
	if err != nil {
		return nil, fmt.Errorf("resolve upload path: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return nil, fmt.Errorf("write %s: %w", path, err)
	}

	table, err := dataset.ReadCSV(bytes.NewReader(data))
	if err != nil {
		delete(s.uploads, role)
		return nil, fmt.Errorf("failed to read CSV or extract headers: %w", err)
	}

	up := &Upload{
		Role:        role,
		Filename:    name,
		Path:        path,
		Headers:     dataset.FilterHeaders(table.Headers),
		Fingerprint: xxhash.Sum64(data),
		UploadedAt:  s.now(),
	}
	s.uploads[role] = up
	return up, nil
}

// Upload returns the current upload of role.
func (s *Store) Upload(role Role) (Upload, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	up, ok := s.uploads[role]
	if !ok {
		return Upload{}, false
	}
	return *up, true
}

// Headers returns the selectable headers of both uploads.
func (s *Store) Headers() (feature, target []string) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if up, ok := s.uploads[Feature]; ok {
		feature = append([]string(nil), up.Headers...)
	}
	if up, ok := s.uploads[Target]; ok {
		target = append([]string(nil), up.Headers...)
	}
	return feature, target
}

// Tables reads both uploaded files.
func (s *Store) Tables() (feature, target *dataset.Table, err error) {
	fu, fok := s.Upload(Feature)
	tu, tok := s.Upload(Target)
	if !fok || !tok {
		return nil, nil, ErrUploadsMissing
	}
	if feature, err = dataset.ReadFile(fu.Path); err != nil {
		return nil, nil, err
	}
	if target, err = dataset.ReadFile(tu.Path); err != nil {
		return nil, nil, err
	}
	return feature, target, nil
}

// Fingerprint combines the fingerprints of both uploads; it changes whenever
// either file does.
func (s *Store) Fingerprint() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d := xxhash.New()
	for _, role := range []Role{Feature, Target} {
		if up, ok := s.uploads[role]; ok {
			fmt.Fprintf(d, "%s:%x;", role, up.Fingerprint)
		}
	}
	return d.Sum64()
}

var unsafeName = regexp.MustCompile(`[^A-Za-z0-9_-]+`)

func (s *Store) fileName(modelName string) string {
	name := strings.Trim(unsafeName.ReplaceAllString(strings.TrimSpace(modelName), "_"), "_")
	if name == "" {
		name = "LAW_MODEL_" + s.now().Format("20060102150405")
	}
	return name + ".json"
}

func (s *Store) modelPath(filename string) (string, error) {
	name := strings.TrimSpace(filename)
	if name == "" || filepath.Base(name) != name || strings.HasPrefix(name, ".") {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, filename)
	}
	if !strings.HasSuffix(name, ".json") {
		name += ".json"
	}
	return filepath.Join(s.modelDir, name), nil
}

// SaveModel writes cfg, whose fitting config is feature-keyed, to disk with
// a target-keyed fitting config and remembers it as the loaded model.
func (s *Store) SaveModel(cfg lawfit.ModelConfig) (filename, path string, err error) {
	fu, fok := s.Upload(Feature)
	tu, tok := s.Upload(Target)
	if !fok || !tok {
		return "", "", ErrUploadsMissing
	}

	byTarget := make(lawfit.Assignments)
	for feature, row := range cfg.FittingConfig {
		if dataset.IsSentinel(feature) {
			continue
		}
		for target, fn := range row {
			if dataset.IsSentinel(target) {
				continue
			}
			byTarget.Set(target, feature, fn)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	stored := &StoredModel{
		Timestamp:      s.now().Format(time.RFC3339),
		ModelName:      cfg.ModelName,
		FeatureCSVPath: fu.Path,
		TargetCSVPath:  tu.Path,
		FittingMethod:  cfg.FittingMethod,
		FittingConfig:  byTarget,
		Functions:      cfg.Functions,
	}

	filename = s.fileName(cfg.ModelName)
	path = filepath.Join(s.modelDir, filename)
	if err := writeJSON(path, stored); err != nil {
		return "", "", err
	}
	s.loaded = stored
	s.loadedFile = filename
	return filename, path, nil
}

// LoadModel reads a saved configuration. It must have been saved against
// the currently uploaded files. On success it becomes the loaded model.
func (s *Store) LoadModel(filename string) (*StoredModel, error) {
	path, err := s.modelPath(filename)
	if err != nil {
		return nil, err
	}
	fu, fok := s.Upload(Feature)
	tu, tok := s.Upload(Target)
	if !fok || !tok {
		return nil, ErrUploadsMissing
	}

	var stored StoredModel
	if err := readJSON(path, &stored); err != nil {
		return nil, err
	}
	if filepath.Clean(stored.FeatureCSVPath) != filepath.Clean(fu.Path) ||
		filepath.Clean(stored.TargetCSVPath) != filepath.Clean(tu.Path) {
		return nil, ErrCSVMismatch
	}

	s.mu.Lock()
	s.loaded = &stored
	s.loadedFile = filepath.Base(path)
	s.mu.Unlock()
	return &stored, nil
}

// Loaded returns the model configuration last saved or loaded.
func (s *Store) Loaded() (*StoredModel, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.loaded == nil {
		return nil, ErrNoModelLoaded
	}
	cp := *s.loaded
	return &cp, nil
}

// DeleteModel removes a saved configuration by model or file name.
func (s *Store) DeleteModel(name string) error {
	path, err := s.modelPath(name)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.Remove(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrNotFound, filepath.Base(path))
		}
		return fmt.Errorf("delete %s: %w", path, err)
	}
	if filepath.Base(path) == s.loadedFile {
		s.loaded = nil
		s.loadedFile = ""
	}
	return nil
}

// ListModels returns saved configuration file names, sorted.
func (s *Store) ListModels() ([]string, error) {
	entries, err := os.ReadDir(s.modelDir)
	if err != nil {
		return nil, fmt.Errorf("read model dir: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names, nil
}

func writeJSON(path string, value any) error {
	blob, err := json.MarshalIndent(value, "", "    ")
	if err != nil {
		return fmt.Errorf("marshal json for %s: %w", path, err)
	}
	if err := os.WriteFile(path, blob, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

func readJSON(path string, out any) error {
	blob, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrNotFound, filepath.Base(path))
		}
		return fmt.Errorf("read %s: %w", path, err)
	}
	if err := json.Unmarshal(blob, out); err != nil {
		return fmt.Errorf("invalid JSON format in %s: %w", filepath.Base(path), err)
	}
	return nil
}
