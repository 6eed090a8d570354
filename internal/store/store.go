// Package store persists the devhost document as a single JSON file.
//
// Every mutation is load -> validate -> mutate -> save. The store does not
// lock across that sequence; callers that share a Store between goroutines
// serialize calls themselves (see orchestrator.Orchestrator).
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/MrSnakeDoc/devhost/internal/domain"
	"github.com/MrSnakeDoc/devhost/internal/logger"
	"github.com/go-playground/validator/v10"
)

var (
	ErrNotFound            = errors.New("not found")
	ErrPortConflict        = errors.New("port conflict")
	ErrSubdomainConflict   = errors.New("subdomain conflict")
	ErrInvalidReference    = errors.New("invalid reference")
	ErrInvalid             = errors.New("invalid entity")
	ErrInUse               = errors.New("still in use")
	ErrVersionNotInstalled = errors.New("version not installed")
)

type Store struct {
	path     string
	dataDir  string
	validate *validator.Validate
	log      logger.Logger
	now      func() time.Time
}

// New returns a store backed by path. Instance data directories are created
// under dataDir.
func New(path, dataDir string, log logger.Logger) *Store {
	return &Store{
		path:     path,
		dataDir:  dataDir,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		log:      log,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (s *Store) Path() string { return s.path }

// InstanceDataDir returns the data directory for an instance id.
func (s *Store) InstanceDataDir(id string) string {
	return filepath.Join(s.dataDir, id)
}

// Load reads the document. A missing file yields a fresh default document.
// Legacy master_key fields are migrated into admin_key and the result is
// written back immediately.
func (s *Store) Load() (*domain.Config, error) {
	raw, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return domain.NewConfig(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	cfg := &domain.Config{}
	if err := json.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", s.path, err)
	}
	cfg.Normalize()

	if migrateMasterKeys(cfg) > 0 {
		if err := s.Save(cfg); err != nil {
			return nil, fmt.Errorf("failed to save migrated config: %w", err)
		}
		s.log.Info("migrated legacy master_key fields", logger.String("path", s.path))
	}

	return cfg, nil
}

// Save writes the document atomically: temp file in the same directory,
// fsync, rename over the real file.
func (s *Store) Save(cfg *domain.Config) error {
	cfg.Normalize()

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	data = append(data, '\n')

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".config-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp config: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("failed to write temp config: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("failed to sync temp config: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("failed to close temp config: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		cleanup()
		return fmt.Errorf("failed to replace config: %w", err)
	}
	return nil
}

// update runs fn against a freshly loaded document and saves it when fn
// succeeds. fn must validate everything before touching cfg.
func (s *Store) update(fn func(cfg *domain.Config) error) error {
	cfg, err := s.Load()
	if err != nil {
		return err
	}
	if err := fn(cfg); err != nil {
		return err
	}
	return s.Save(cfg)
}

func (s *Store) check(v any) error {
	if err := s.validate.Struct(v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return nil
}

func migrateMasterKeys(cfg *domain.Config) int {
	n := 0
	for i := range cfg.Instances {
		inst := &cfg.Instances[i]
		if inst.MasterKey == "" {
			continue
		}
		if inst.AdminKey == "" {
			inst.AdminKey = inst.MasterKey
		}
		inst.MasterKey = ""
		n++
	}
	return n
}
