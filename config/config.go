package config

import (
	"errors"
	"fmt"
)

// Sentinel errors for configuration failures.
// These can be matched with errors.Is() after any load or save call.
var (
	// ErrNotFound indicates the configuration file does not exist.
	ErrNotFound = errors.New("config file not found")

	// ErrMalformed indicates the configuration document could not be parsed
	// into the expected shape, or fails structural validation.
	ErrMalformed = errors.New("malformed config")
)

// Project identifies the project that owns a plugin set.
type Project struct {
	// Name is the project name. Required.
	Name string `json:"name" yaml:"name"`

	// Version is the project version string.
	Version string `json:"version,omitempty" yaml:"version,omitempty"`

	// RootPath is the filesystem root the project operates under.
	RootPath string `json:"root_path,omitempty" yaml:"root_path,omitempty"`
}

// PluginConfig is the declared configuration for a single plugin. It lives
// independently of whether the plugin is currently registered; entries may
// be added or removed before discovery runs.
type PluginConfig struct {
	// Name must match the name the plugin reports in its metadata. Required.
	Name string `json:"name" yaml:"name"`

	// Version is the version the project pins the plugin to.
	Version string `json:"version,omitempty" yaml:"version,omitempty"`

	// Enabled controls whether discovery registers the plugin.
	Enabled bool `json:"enabled" yaml:"enabled"`

	// Config is the plugin-owned opaque payload. PLM never interprets it.
	Config map[string]any `json:"config,omitempty" yaml:"config,omitempty"`
}

// ProjectConfig is the root configuration aggregate and the sole unit of
// durable PLM state. Plugin entries keep their insertion order; names are
// unique within the set.
type ProjectConfig struct {
	Project Project        `json:"project" yaml:"project"`
	Plugins []PluginConfig `json:"plugins" yaml:"plugins"`
}

// Default returns a minimal valid project configuration for the given
// project name and root path.
func Default(name, rootPath string) ProjectConfig {
	return ProjectConfig{
		Project: Project{
			Name:     name,
			Version:  "0.1.0",
			RootPath: rootPath,
		},
	}
}

// Validate checks the configuration's structural rules: a non-empty project
// name, a non-empty name on every plugin entry, and no duplicate plugin
// names. Violations are reported as ErrMalformed.
func (c *ProjectConfig) Validate() error {
	if c.Project.Name == "" {
		return fmt.Errorf("%w: project.name is required", ErrMalformed)
	}

	seen := make(map[string]struct{}, len(c.Plugins))
	for i, p := range c.Plugins {
		if p.Name == "" {
			return fmt.Errorf("%w: plugins[%d].name is required", ErrMalformed, i)
		}
		if _, dup := seen[p.Name]; dup {
			return fmt.Errorf("%w: duplicate plugin name %q", ErrMalformed, p.Name)
		}
		seen[p.Name] = struct{}{}
	}

	return nil
}

// AddPlugin adds a plugin configuration, replacing any existing entry with
// the same name in place so insertion order is preserved.
func (c *ProjectConfig) AddPlugin(pc PluginConfig) {
	for i, existing := range c.Plugins {
		if existing.Name == pc.Name {
			c.Plugins[i] = pc
			return
		}
	}
	c.Plugins = append(c.Plugins, pc)
}

// RemovePlugin removes the named plugin configuration.
// Returns true if an entry was removed.
func (c *ProjectConfig) RemovePlugin(name string) bool {
	for i, existing := range c.Plugins {
		if existing.Name == name {
			c.Plugins = append(c.Plugins[:i], c.Plugins[i+1:]...)
			return true
		}
	}
	return false
}

// GetPlugin returns the named plugin configuration.
func (c *ProjectConfig) GetPlugin(name string) (PluginConfig, bool) {
	for _, existing := range c.Plugins {
		if existing.Name == name {
			return existing, true
		}
	}
	return PluginConfig{}, false
}

// clone returns a copy of the configuration with its own plugin slice.
// The opaque per-plugin payloads are shared; PLM treats them as read-only.
func (c *ProjectConfig) clone() ProjectConfig {
	out := ProjectConfig{Project: c.Project}
	if c.Plugins != nil {
		out.Plugins = make([]PluginConfig, len(c.Plugins))
		copy(out.Plugins, c.Plugins)
	}
	return out
}
