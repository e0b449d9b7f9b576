package plm

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"

	"github.com/zero-day-ai/plm/config"
	"github.com/zero-day-ai/plm/plugin"
)

// Factory constructs a capability instance from a plugin's configuration.
// Discovery calls it once per enabled config entry that is not yet registered.
type Factory interface {
	Create(ctx context.Context, cfg config.PluginConfig) (plugin.Plugin, error)
}

// FactoryFunc adapts a function to the Factory interface.
type FactoryFunc func(ctx context.Context, cfg config.PluginConfig) (plugin.Plugin, error)

// Create implements Factory.
func (f FactoryFunc) Create(ctx context.Context, cfg config.PluginConfig) (plugin.Plugin, error) {
	return f(ctx, cfg)
}

// DiscoveryFailure records one config entry discovery could not register.
type DiscoveryFailure struct {
	// Name is the config entry's plugin name.
	Name string `json:"name"`

	// Reason describes why registration did not happen.
	Reason string `json:"reason"`
}

// DiscoveryReport summarizes one discovery pass over the project config.
type DiscoveryReport struct {
	// Registered lists plugins newly registered by this pass.
	Registered []string `json:"registered,omitempty"`

	// SkippedDisabled lists config entries skipped because they are disabled.
	SkippedDisabled []string `json:"skipped_disabled,omitempty"`

	// AlreadyRegistered lists config entries whose name was already active.
	AlreadyRegistered []string `json:"already_registered,omitempty"`

	// Failures lists config entries the factory or registry rejected.
	// Failures do not abort the pass; the remaining entries are still tried.
	Failures []DiscoveryFailure `json:"failures,omitempty"`

	// Unmanaged lists artifacts found in the plugins directory that no
	// config entry references. They are reported, never touched.
	Unmanaged []string `json:"unmanaged,omitempty"`
}

// Total returns the number of config entries the pass examined.
func (r DiscoveryReport) Total() int {
	return len(r.Registered) + len(r.SkippedDisabled) + len(r.AlreadyRegistered) + len(r.Failures)
}

// discoverer walks the project config and registers every enabled plugin the
// factory can construct. Discovery is idempotent: a second pass over the same
// config registers nothing new and reports the existing entries as already
// registered.
type discoverer struct {
	registry   *Registry
	store      *config.Store
	factory    Factory
	pluginsDir string
	logger     *slog.Logger
}

func newDiscoverer(registry *Registry, store *config.Store, factory Factory, pluginsDir string, logger *slog.Logger) *discoverer {
	return &discoverer{
		registry:   registry,
		store:      store,
		factory:    factory,
		pluginsDir: pluginsDir,
		logger:     logger,
	}
}

// Discover runs one discovery pass and returns its report.
func (d *discoverer) Discover(ctx context.Context) (DiscoveryReport, error) {
	const op = "Manager.DiscoverPlugins"

	if d.factory == nil {
		return DiscoveryReport{}, NewConfigurationError(op,
			fmt.Errorf("%w: discovery requires a plugin factory", ErrInvalidConfig))
	}

	var report DiscoveryReport
	for _, cfg := range d.store.PluginConfigs() {
		if !cfg.Enabled {
			report.SkippedDisabled = append(report.SkippedDisabled, cfg.Name)
			continue
		}
		if d.registry.active(cfg.Name) {
			report.AlreadyRegistered = append(report.AlreadyRegistered, cfg.Name)
			continue
		}

		p, err := d.factory.Create(ctx, cfg)
		if err != nil {
			d.logger.Warn("plugin factory failed",
				slog.String("name", cfg.Name),
				slog.String("error", err.Error()),
			)
			report.Failures = append(report.Failures, DiscoveryFailure{
				Name:   cfg.Name,
				Reason: fmt.Sprintf("factory: %v", err),
			})
			continue
		}

		cfgCopy := cfg
		if err := d.registry.Register(ctx, cfg.Name, p, &cfgCopy); err != nil {
			report.Failures = append(report.Failures, DiscoveryFailure{
				Name:   cfg.Name,
				Reason: fmt.Sprintf("register: %v", err),
			})
			continue
		}
		report.Registered = append(report.Registered, cfg.Name)
	}

	if d.pluginsDir != "" {
		report.Unmanaged = d.scanUnmanaged()
	}

	d.logger.Info("plugin discovery complete",
		slog.Int("registered", len(report.Registered)),
		slog.Int("skipped_disabled", len(report.SkippedDisabled)),
		slog.Int("already_registered", len(report.AlreadyRegistered)),
		slog.Int("failures", len(report.Failures)),
		slog.Int("unmanaged", len(report.Unmanaged)),
	)
	return report, nil
}

// scanUnmanaged lists plugins directory entries with no matching config.
// A missing or unreadable directory is not an error; the scan is best-effort.
func (d *discoverer) scanUnmanaged() []string {
	dirEntries, err := os.ReadDir(d.pluginsDir)
	if err != nil {
		if !os.IsNotExist(err) {
			d.logger.Warn("failed to scan plugins directory",
				slog.String("dir", d.pluginsDir),
				slog.String("error", err.Error()),
			)
		}
		return nil
	}

	managed := make(map[string]bool)
	for _, cfg := range d.store.PluginConfigs() {
		managed[cfg.Name] = true
	}

	var unmanaged []string
	for _, de := range dirEntries {
		name := de.Name()
		if strings.HasPrefix(name, ".") {
			continue
		}
		if !de.IsDir() {
			if idx := strings.LastIndex(name, "."); idx > 0 {
				name = name[:idx]
			}
		}
		if !managed[name] {
			unmanaged = append(unmanaged, name)
		}
	}
	sort.Strings(unmanaged)
	return unmanaged
}
