package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// Store holds the in-memory ProjectConfig and mediates all access to its
// durable representation on disk.
//
// Mutation (AddPluginConfig, RemovePluginConfig, SetProject) and persistence
// are decoupled: mutations only touch the in-memory aggregate until Save is
// called explicitly. Save writes atomically (write-temp-then-rename), so a
// crash mid-write cannot corrupt the existing file and a failed save leaves
// the prior on-disk file untouched.
//
// Thread-safety: all methods are safe for concurrent use; a single
// store-wide mutex serializes load/save against concurrent mutation.
type Store struct {
	mu      sync.Mutex
	project ProjectConfig
}

// NewStore creates a store holding the given project configuration.
// Returns ErrMalformed if the configuration fails validation.
func NewStore(cfg ProjectConfig) (*Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Store{project: cfg.clone()}, nil
}

// NewDefaultStore creates a store with a minimal default project
// configuration.
func NewDefaultStore() *Store {
	return &Store{project: Default("default", ".")}
}

// LoadFile reads and parses a project configuration file.
// Returns ErrNotFound if the file does not exist, and ErrMalformed if the
// document cannot be parsed into the expected shape or fails validation.
// No partial configuration is ever returned on failure.
func LoadFile(path string) (ProjectConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return ProjectConfig{}, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return ProjectConfig{}, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg ProjectConfig
	if isYAMLPath(path) {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return ProjectConfig{}, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
	} else {
		if err := json.Unmarshal(data, &cfg); err != nil {
			return ProjectConfig{}, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return ProjectConfig{}, err
	}

	return cfg, nil
}

// Load replaces the store's in-memory configuration with the contents of
// the given file. On failure the in-memory configuration is unchanged.
func (s *Store) Load(path string) error {
	cfg, err := LoadFile(path)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.project = cfg
	s.mu.Unlock()
	return nil
}

// Save serializes the current configuration to the given path atomically.
// The format follows the file extension (YAML for .yaml/.yml, JSON
// otherwise).
func (s *Store) Save(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var (
		data []byte
		err  error
	)
	if isYAMLPath(path) {
		data, err = yaml.Marshal(&s.project)
	} else {
		data, err = json.MarshalIndent(&s.project, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("failed to serialize config: %w", err)
	}
	if !isYAMLPath(path) {
		data = append(data, '\n')
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".plm-config-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write config: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to write config: %w", err)
	}

	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace config file: %w", err)
	}

	return nil
}

// Project returns a copy of the current project configuration.
func (s *Store) Project() ProjectConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.project.clone()
}

// SetProject replaces the in-memory project configuration.
// Returns ErrMalformed if the configuration fails validation.
func (s *Store) SetProject(cfg ProjectConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	s.project = cfg.clone()
	s.mu.Unlock()
	return nil
}

// AddPluginConfig adds or replaces a plugin configuration in memory.
// Returns ErrMalformed if the entry has no name.
func (s *Store) AddPluginConfig(pc PluginConfig) error {
	if pc.Name == "" {
		return fmt.Errorf("%w: plugin config name is required", ErrMalformed)
	}

	s.mu.Lock()
	s.project.AddPlugin(pc)
	s.mu.Unlock()
	return nil
}

// RemovePluginConfig removes the named plugin configuration from memory.
// Returns true if an entry was removed.
func (s *Store) RemovePluginConfig(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.project.RemovePlugin(name)
}

// GetPluginConfig returns the named plugin configuration.
func (s *Store) GetPluginConfig(name string) (PluginConfig, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.project.GetPlugin(name)
}

// PluginConfigs returns all plugin configurations in insertion order.
func (s *Store) PluginConfigs() []PluginConfig {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]PluginConfig, len(s.project.Plugins))
	copy(out, s.project.Plugins)
	return out
}

func isYAMLPath(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	default:
		return false
	}
}
