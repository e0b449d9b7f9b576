package plm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/zero-day-ai/plm/announce"
	"github.com/zero-day-ai/plm/config"
	"github.com/zero-day-ai/plm/journal"
	"github.com/zero-day-ai/plm/plugin"
)

// Manager is the single entry point for plugin lifecycle management.
//
// It composes the registry, the install orchestrator, discovery, validation,
// and the config store behind one façade, and fans committed state
// transitions out to the optional journal and presence announcer. A Manager
// is safe for concurrent use.
type Manager struct {
	logger     *slog.Logger
	store      *config.Store
	registry   *Registry
	orch       *orchestrator
	validator  *validator
	disc       *discoverer
	journal    journal.Recorder
	announcer  announce.Announcer
	factory    Factory
	instanceID string
}

// NewManager creates a manager from the given options.
//
// The config store is resolved in precedence order: WithStore, then
// WithProjectConfig, then WithConfigFile, falling back to an empty default
// project. Construction fails if a provided config file is missing or
// malformed, or if a provided project configuration fails validation.
func NewManager(opts ...ManagerOption) (*Manager, error) {
	const op = "NewManager"

	o := defaultManagerOptions()
	for _, apply := range opts {
		apply(o)
	}

	store := o.store
	switch {
	case store != nil:
	case o.projectConfig != nil:
		var err error
		if store, err = config.NewStore(*o.projectConfig); err != nil {
			return nil, NewConfigurationError(op, err)
		}
	case o.configFile != "":
		cfg, err := config.LoadFile(o.configFile)
		if err != nil {
			return nil, NewConfigurationError(op, err)
		}
		if store, err = config.NewStore(cfg); err != nil {
			return nil, NewConfigurationError(op, err)
		}
	default:
		store = config.NewDefaultStore()
	}

	instanceID := o.instanceID
	if instanceID == "" {
		instanceID = uuid.NewString()
	}

	m := &Manager{
		logger:     o.logger,
		store:      store,
		journal:    o.journal,
		announcer:  o.announcer,
		factory:    o.factory,
		instanceID: instanceID,
	}

	m.registry = newRegistry(o.logger, m.observeTransition)
	m.orch = newOrchestrator(m.registry, o.logger,
		o.tracerProvider.Tracer("github.com/zero-day-ai/plm"),
		o.meterProvider.Meter("github.com/zero-day-ai/plm"),
	)
	m.validator = newValidator(m.registry, o.logger, o.rules)
	m.disc = newDiscoverer(m.registry, store, o.factory, o.pluginsDir, o.logger)

	return m, nil
}

// observeTransition fans a committed state change out to the journal and the
// presence announcer. Both are best effort: failures are logged and never
// affect the lifecycle operation that produced the event. The context is
// detached from the caller's cancellation so events survive an impatient
// caller.
func (m *Manager) observeTransition(ctx context.Context, ev transitionEvent) {
	ctx = context.WithoutCancel(ctx)
	now := time.Now().UTC()

	if m.journal != nil {
		err := m.journal.Record(ctx, journal.Event{
			OpID:    ev.OpID,
			Plugin:  ev.Name,
			Version: ev.Version,
			Op:      ev.Op,
			From:    ev.From.String(),
			To:      ev.To.String(),
			Detail:  ev.Detail,
			At:      now,
		})
		if err != nil {
			m.logger.Warn("failed to record lifecycle event",
				slog.String("name", ev.Name),
				slog.String("op", ev.Op),
				slog.String("error", err.Error()),
			)
		}
	}

	if m.announcer != nil {
		var err error
		if ev.To == StateShutdown {
			err = m.announcer.Withdraw(ctx, ev.Name)
		} else {
			err = m.announcer.Announce(ctx, announce.Presence{
				Name:       ev.Name,
				Version:    ev.Version,
				State:      ev.To.String(),
				InstanceID: m.instanceID,
				UpdatedAt:  now,
			})
		}
		if err != nil {
			m.logger.Warn("failed to announce plugin state",
				slog.String("name", ev.Name),
				slog.String("state", ev.To.String()),
				slog.String("error", err.Error()),
			)
		}
	}
}

// Initialize brings the manager to a running state: it runs a discovery pass
// when a factory is configured, then initializes every registered plugin.
//
// Per-plugin initialization failures are collected and returned together;
// failed plugins remain registered so initialization can be retried.
func (m *Manager) Initialize(ctx context.Context) error {
	if m.factory != nil {
		if _, err := m.disc.Discover(ctx); err != nil {
			return err
		}
	}

	var errs []error
	for _, info := range m.registry.List() {
		if info.State != StateRegistered {
			continue
		}
		if err := m.registry.InitializeOne(ctx, info.Name); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", info.Name, err))
		}
	}
	return errors.Join(errs...)
}

// Shutdown retires every non-terminal plugin, collecting per-plugin failures.
// The journal and announcer are owned by the caller and are not closed.
func (m *Manager) Shutdown(ctx context.Context) error {
	return m.registry.ShutdownAll(ctx)
}

// RegisterPlugin registers a capability instance under its metadata name.
// If the config store holds an entry for that name it becomes the plugin's
// config back-reference.
func (m *Manager) RegisterPlugin(ctx context.Context, p plugin.Plugin) error {
	const op = "Manager.RegisterPlugin"

	if p == nil {
		return NewValidationError(op, fmt.Errorf("plugin cannot be nil"))
	}

	name := p.Metadata().Name
	var cfg *config.PluginConfig
	if pc, ok := m.store.GetPluginConfig(name); ok {
		cfg = &pc
	}
	return m.registry.Register(ctx, name, p, cfg)
}

// InitializePlugin runs the named plugin's initialize hook.
func (m *Manager) InitializePlugin(ctx context.Context, name string) error {
	return m.registry.InitializeOne(ctx, name)
}

// ShutdownPlugin retires the named plugin, running its shutdown hook.
func (m *Manager) ShutdownPlugin(ctx context.Context, name string) error {
	return m.registry.ShutdownOne(ctx, name)
}

// InstallPlugin installs a version of the named plugin and returns the
// hook's result detail. An empty version resolves to the plugin's declared
// metadata version.
func (m *Manager) InstallPlugin(ctx context.Context, name, version string, opts plugin.InstallOptions) (string, error) {
	return m.orch.Install(ctx, name, version, opts)
}

// UninstallPlugin removes an installed version of the named plugin.
func (m *Manager) UninstallPlugin(ctx context.Context, name, version string, opts plugin.InstallOptions) error {
	return m.orch.Uninstall(ctx, name, version, opts)
}

// ListVersions returns the versions the named plugin reports as installable.
// Fails for plugins that do not implement version listing.
func (m *Manager) ListVersions(ctx context.Context, name string) ([]plugin.VersionInfo, error) {
	return m.orch.ListVersions(ctx, name)
}

// ListPlugins returns listing views for every registry entry, including
// retired ones, in registration order.
func (m *Manager) ListPlugins() []PluginInfo {
	return m.registry.List()
}

// PluginState returns the lifecycle state of the named plugin.
func (m *Manager) PluginState(name string) (State, error) {
	return m.registry.PluginState(name)
}

// DiscoverPlugins runs one discovery pass over the project config and
// returns its report. Requires a factory.
func (m *Manager) DiscoverPlugins(ctx context.Context) (DiscoveryReport, error) {
	return m.disc.Discover(ctx)
}

// ValidateAllPlugins validates every registry entry and returns a summary.
// Validation never mutates state.
func (m *Manager) ValidateAllPlugins(ctx context.Context) ValidationSummary {
	return m.validator.ValidateAll(ctx)
}

// History returns up to limit journal events, newest first. Fails when the
// manager has no journal configured.
func (m *Manager) History(ctx context.Context, limit int) ([]journal.Event, error) {
	const op = "Manager.History"

	if m.journal == nil {
		return nil, NewConfigurationError(op,
			fmt.Errorf("%w: no journal configured", ErrInvalidConfig))
	}
	return m.journal.History(ctx, limit)
}

// ProjectConfig returns a copy of the current project configuration.
func (m *Manager) ProjectConfig() config.ProjectConfig {
	return m.store.Project()
}

// GetPluginConfig returns the named plugin's configuration entry.
func (m *Manager) GetPluginConfig(name string) (config.PluginConfig, bool) {
	return m.store.GetPluginConfig(name)
}

// AddPluginConfig adds or replaces a plugin configuration entry. If the
// plugin is registered, its config back-reference is refreshed so validation
// sees the new entry.
func (m *Manager) AddPluginConfig(pc config.PluginConfig) error {
	const op = "Manager.AddPluginConfig"

	if err := m.store.AddPluginConfig(pc); err != nil {
		return NewConfigurationError(op, err)
	}
	m.registry.attachConfig(pc.Name, &pc)
	return nil
}

// RemovePluginConfig removes the named plugin configuration entry, clearing
// any registered plugin's back-reference. Returns true if an entry was
// removed.
func (m *Manager) RemovePluginConfig(name string) bool {
	removed := m.store.RemovePluginConfig(name)
	if removed {
		m.registry.attachConfig(name, nil)
	}
	return removed
}

// SaveConfig persists the current project configuration to the given path
// atomically.
func (m *Manager) SaveConfig(path string) error {
	const op = "Manager.SaveConfig"

	if err := m.store.Save(path); err != nil {
		return NewConfigurationError(op, err)
	}
	return nil
}

// LoadConfigFile replaces the in-memory project configuration with the
// contents of the given file and refreshes registered plugins' config
// back-references. On failure the in-memory configuration is unchanged.
func (m *Manager) LoadConfigFile(path string) error {
	const op = "Manager.LoadConfigFile"

	if err := m.store.Load(path); err != nil {
		return NewConfigurationError(op, err)
	}

	for _, info := range m.registry.List() {
		if pc, ok := m.store.GetPluginConfig(info.Name); ok {
			m.registry.attachConfig(info.Name, &pc)
		} else {
			m.registry.attachConfig(info.Name, nil)
		}
	}
	return nil
}
