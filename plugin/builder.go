package plugin

import (
	"context"
	"fmt"
)

// InitFunc is called to initialize the plugin.
type InitFunc func(ctx context.Context) error

// ShutdownFunc is called to gracefully shut the plugin down.
type ShutdownFunc func(ctx context.Context) error

// InstallFunc performs the version-specific installation action and returns
// a descriptor of what was installed.
type InstallFunc func(ctx context.Context, version string, opts InstallOptions) (string, error)

// UninstallFunc removes the given installed version.
type UninstallFunc func(ctx context.Context, version string) error

// Config holds the configuration for building a plugin.
// Use NewConfig to create a new configuration, then use the setter methods
// to configure the plugin before calling New to build it.
type Config struct {
	metadata      Metadata
	initFunc      InitFunc
	shutdownFunc  ShutdownFunc
	installFunc   InstallFunc
	uninstallFunc UninstallFunc
}

// NewConfig creates a new plugin configuration with default values.
// The default hooks succeed without side effects; the default install hook
// returns a "name version installed" descriptor.
func NewConfig() *Config {
	return &Config{
		initFunc:     func(ctx context.Context) error { return nil },
		shutdownFunc: func(ctx context.Context) error { return nil },
		uninstallFunc: func(ctx context.Context, version string) error {
			return nil
		},
	}
}

// SetMetadata replaces the full plugin metadata.
func (c *Config) SetMetadata(md Metadata) {
	c.metadata = md
}

// SetName sets the plugin name.
func (c *Config) SetName(name string) {
	c.metadata.Name = name
}

// SetVersion sets the plugin version.
func (c *Config) SetVersion(version string) {
	c.metadata.Version = version
}

// SetDescription sets the plugin description.
func (c *Config) SetDescription(desc string) {
	c.metadata.Description = desc
}

// SetAuthor sets the plugin author.
func (c *Config) SetAuthor(author string) {
	c.metadata.Author = author
}

// SetInitFunc sets the initialization hook.
func (c *Config) SetInitFunc(fn InitFunc) {
	c.initFunc = fn
}

// SetShutdownFunc sets the shutdown hook.
func (c *Config) SetShutdownFunc(fn ShutdownFunc) {
	c.shutdownFunc = fn
}

// SetInstallFunc sets the install hook.
func (c *Config) SetInstallFunc(fn InstallFunc) {
	c.installFunc = fn
}

// SetUninstallFunc sets the uninstall hook.
func (c *Config) SetUninstallFunc(fn UninstallFunc) {
	c.uninstallFunc = fn
}

// New creates a new Plugin from the configuration.
// Returns an error if the configuration is invalid.
func New(cfg *Config) (Plugin, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}

	if cfg.metadata.Name == "" {
		return nil, fmt.Errorf("plugin name is required")
	}

	if cfg.metadata.Version == "" {
		return nil, fmt.Errorf("plugin version is required")
	}

	p := &builtPlugin{
		metadata:      cfg.metadata,
		initFunc:      cfg.initFunc,
		shutdownFunc:  cfg.shutdownFunc,
		installFunc:   cfg.installFunc,
		uninstallFunc: cfg.uninstallFunc,
	}

	if p.initFunc == nil {
		p.initFunc = func(ctx context.Context) error { return nil }
	}
	if p.shutdownFunc == nil {
		p.shutdownFunc = func(ctx context.Context) error { return nil }
	}
	if p.installFunc == nil {
		name := cfg.metadata.Name
		p.installFunc = func(ctx context.Context, version string, opts InstallOptions) (string, error) {
			return fmt.Sprintf("%s %s installed", name, version), nil
		}
	}
	if p.uninstallFunc == nil {
		p.uninstallFunc = func(ctx context.Context, version string) error { return nil }
	}

	return p, nil
}

// builtPlugin is the private closure-backed implementation of Plugin.
type builtPlugin struct {
	metadata      Metadata
	initFunc      InitFunc
	shutdownFunc  ShutdownFunc
	installFunc   InstallFunc
	uninstallFunc UninstallFunc
}

// Metadata returns the plugin's identifying metadata.
func (p *builtPlugin) Metadata() Metadata {
	return p.metadata
}

// Initialize runs the configured initialization hook.
func (p *builtPlugin) Initialize(ctx context.Context) error {
	return p.initFunc(ctx)
}

// Shutdown runs the configured shutdown hook.
func (p *builtPlugin) Shutdown(ctx context.Context) error {
	return p.shutdownFunc(ctx)
}

// Install runs the configured install hook.
func (p *builtPlugin) Install(ctx context.Context, version string, opts InstallOptions) (string, error) {
	return p.installFunc(ctx, version, opts)
}

// Uninstall runs the configured uninstall hook.
func (p *builtPlugin) Uninstall(ctx context.Context, version string) error {
	return p.uninstallFunc(ctx, version)
}
