package plm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/zero-day-ai/plm/config"
	"github.com/zero-day-ai/plm/plugin"
)

// PluginInfo is the listing view of a registry entry.
type PluginInfo struct {
	plugin.Descriptor

	// State is the entry's current lifecycle state.
	State State `json:"state"`
}

// transitionEvent describes one committed lifecycle state change.
type transitionEvent struct {
	OpID    string
	Name    string
	Version string
	Op      string
	From    State
	To      State
	Detail  string
}

// transitionObserver is notified after each committed state change. The
// registry invokes it while holding the affected entry's operation lock, so
// observers see a plugin's transitions in order.
type transitionObserver func(ctx context.Context, ev transitionEvent)

// entry is one registry row. It owns the capability instance, the current
// lifecycle state, and a back-reference to the plugin's declared
// configuration if one exists.
type entry struct {
	name   string
	plugin plugin.Plugin

	// opMu is the per-plugin lock. It is held for the full duration of
	// read-state → hook-call → write-state, guaranteeing at most one
	// in-flight lifecycle operation per plugin. Waiters queue in arrival
	// order rather than being rejected.
	opMu sync.Mutex

	// stateMu guards state and cfg so listings and validation can read them
	// without blocking on an in-flight hook.
	stateMu sync.Mutex
	state   State
	cfg     *config.PluginConfig
}

func (e *entry) currentState() State {
	e.stateMu.Lock()
	defer e.stateMu.Unlock()
	return e.state
}

func (e *entry) setState(s State) {
	e.stateMu.Lock()
	e.state = s
	e.stateMu.Unlock()
}

func (e *entry) pluginConfig() *config.PluginConfig {
	e.stateMu.Lock()
	defer e.stateMu.Unlock()
	return e.cfg
}

func (e *entry) setPluginConfig(cfg *config.PluginConfig) {
	e.stateMu.Lock()
	e.cfg = cfg
	e.stateMu.Unlock()
}

// Registry owns the mapping from plugin name to registry entry and enforces
// name uniqueness and state-transition legality.
//
// The registry-wide lock guards only structural changes to the mapping and
// the read needed to locate an entry; it is never held across a plugin hook
// call. Per-entry operation locks serialize lifecycle operations on a single
// plugin while operations on different plugins proceed fully in parallel.
type Registry struct {
	logger  *slog.Logger
	observe transitionObserver

	mu      sync.RWMutex
	entries map[string]*entry
	order   []string
}

func newRegistry(logger *slog.Logger, observe transitionObserver) *Registry {
	if observe == nil {
		observe = func(context.Context, transitionEvent) {}
	}
	return &Registry{
		logger:  logger,
		observe: observe,
		entries: make(map[string]*entry),
	}
}

// Register adds a plugin under the given name in state Registered.
//
// Fails with AlreadyRegistered if the name exists and is not retired. A
// retired (Shutdown) entry is replaced in place, so a re-registered plugin
// can run through a fresh lifecycle.
func (r *Registry) Register(ctx context.Context, name string, p plugin.Plugin, cfg *config.PluginConfig) error {
	const op = "Registry.Register"

	if name == "" {
		return NewValidationError(op, fmt.Errorf("plugin name cannot be empty"))
	}
	if p == nil {
		return NewValidationError(op, fmt.Errorf("plugin cannot be nil"))
	}
	if cfg != nil && cfg.Name != name {
		return NewConfigurationError(op,
			fmt.Errorf("%w: config name %q does not match plugin name %q", ErrInvalidConfig, cfg.Name, name))
	}

	r.mu.Lock()
	existing, exists := r.entries[name]
	if exists && existing.currentState() != StateShutdown {
		r.mu.Unlock()
		return NewAlreadyRegisteredError(op, fmt.Errorf("%w: %s", ErrAlreadyRegistered, name))
	}

	e := &entry{
		name:   name,
		plugin: p,
		state:  StateRegistered,
		cfg:    cfg,
	}
	r.entries[name] = e
	if !exists {
		r.order = append(r.order, name)
	}
	r.mu.Unlock()

	r.logger.Info("plugin registered",
		slog.String("name", name),
		slog.String("version", p.Metadata().Version),
	)
	r.observe(ctx, transitionEvent{
		OpID:    uuid.NewString(),
		Name:    name,
		Version: p.Metadata().Version,
		Op:      "register",
		From:    StateUnregistered,
		To:      StateRegistered,
	})
	return nil
}

// lookup locates an entry by name. The registry-wide lock is held only for
// the duration of the map read.
func (r *Registry) lookup(op, name string) (*entry, error) {
	r.mu.RLock()
	e, ok := r.entries[name]
	r.mu.RUnlock()

	if !ok {
		return nil, NewNotFoundError(op, fmt.Errorf("%w: %s", ErrPluginNotFound, name))
	}
	return e, nil
}

// InitializeOne runs the plugin's initialize hook, transitioning
// Registered → Initialized. On hook failure the entry remains Registered so
// the caller can retry.
func (r *Registry) InitializeOne(ctx context.Context, name string) error {
	const op = "Registry.InitializeOne"

	e, err := r.lookup(op, name)
	if err != nil {
		return err
	}

	e.opMu.Lock()
	defer e.opMu.Unlock()

	if s := e.currentState(); s != StateRegistered {
		return NewInvalidStateError(op,
			fmt.Errorf("%w: %s is %s, initialize requires %s", ErrInvalidState, name, s, StateRegistered))
	}

	if err := e.plugin.Initialize(ctx); err != nil {
		r.logger.Warn("plugin initialization failed",
			slog.String("name", name),
			slog.String("error", err.Error()),
		)
		return NewInitFailedError(op, err).WithContext(map[string]any{"plugin": name})
	}

	e.setState(StateInitialized)
	r.logger.Info("plugin initialized", slog.String("name", name))
	r.observe(ctx, transitionEvent{
		OpID:    uuid.NewString(),
		Name:    name,
		Version: e.plugin.Metadata().Version,
		Op:      "initialize",
		From:    StateRegistered,
		To:      StateInitialized,
	})
	return nil
}

// ShutdownOne retires an initialized or installed plugin, invoking its
// shutdown hook exactly once via ShuttingDown. The entry is retained for
// audit listing but accepts no further operations; the name must be
// re-registered to participate again.
//
// If the hook fails the entry is still retired: re-running shutdown would
// violate the hook's exactly-once contract, so the failure is reported
// without leaving the entry operable.
func (r *Registry) ShutdownOne(ctx context.Context, name string) error {
	const op = "Registry.ShutdownOne"

	e, err := r.lookup(op, name)
	if err != nil {
		return err
	}

	e.opMu.Lock()
	defer e.opMu.Unlock()

	return r.shutdownLocked(ctx, op, e, true)
}

// shutdownLocked performs the ShuttingDown → Shutdown sequence.
// The caller must hold e.opMu.
func (r *Registry) shutdownLocked(ctx context.Context, op string, e *entry, invokeHook bool) error {
	from := e.currentState()
	switch from {
	case StateInitialized, StateInstalled:
		// Hook must run: the plugin holds resources.
	case StateRegistered:
		if invokeHook {
			return NewInvalidStateError(op,
				fmt.Errorf("%w: %s is %s, shutdown requires %s or %s",
					ErrInvalidState, e.name, from, StateInitialized, StateInstalled))
		}
		// Never initialized, nothing to release.
	default:
		return NewInvalidStateError(op,
			fmt.Errorf("%w: %s is %s, shutdown requires %s or %s",
				ErrInvalidState, e.name, from, StateInitialized, StateInstalled))
	}

	version := e.plugin.Metadata().Version
	opID := uuid.NewString()

	e.setState(StateShuttingDown)
	r.observe(ctx, transitionEvent{
		OpID: opID, Name: e.name, Version: version,
		Op: "shutdown", From: from, To: StateShuttingDown,
	})

	var hookErr error
	if from != StateRegistered {
		hookErr = e.plugin.Shutdown(ctx)
	}

	e.setState(StateShutdown)
	r.observe(ctx, transitionEvent{
		OpID: opID, Name: e.name, Version: version,
		Op: "shutdown", From: StateShuttingDown, To: StateShutdown,
	})

	if hookErr != nil {
		r.logger.Warn("plugin shutdown failed",
			slog.String("name", e.name),
			slog.String("error", hookErr.Error()),
		)
		return NewShutdownFailedError(op, hookErr).WithContext(map[string]any{"plugin": e.name})
	}

	r.logger.Info("plugin shut down", slog.String("name", e.name))
	return nil
}

// ShutdownAll retires every non-terminal entry. Entries still in Registered
// are retired without invoking their shutdown hook, since their initialize
// hook never ran. Per-plugin failures are collected and reported together
// rather than aborting the remaining shutdowns.
func (r *Registry) ShutdownAll(ctx context.Context) error {
	const op = "Registry.ShutdownAll"

	r.mu.RLock()
	snapshot := make([]*entry, 0, len(r.order))
	for _, name := range r.order {
		snapshot = append(snapshot, r.entries[name])
	}
	r.mu.RUnlock()

	var errs []error
	for _, e := range snapshot {
		e.opMu.Lock()
		if e.currentState().Terminal() {
			e.opMu.Unlock()
			continue
		}
		if err := r.shutdownLocked(ctx, op, e, false); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", e.name, err))
		}
		e.opMu.Unlock()
	}

	return errors.Join(errs...)
}

// PluginState returns the entry's current lifecycle state.
func (r *Registry) PluginState(name string) (State, error) {
	e, err := r.lookup("Registry.PluginState", name)
	if err != nil {
		return StateUnregistered, err
	}
	return e.currentState(), nil
}

// List returns listing views for all entries in registration order,
// including retired ones. It is a pure read and never changes state.
func (r *Registry) List() []PluginInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	infos := make([]PluginInfo, 0, len(r.order))
	for _, name := range r.order {
		e := r.entries[name]
		infos = append(infos, PluginInfo{
			Descriptor: plugin.ToDescriptor(e.plugin),
			State:      e.currentState(),
		})
	}
	return infos
}

// active reports whether the name has a non-retired entry.
func (r *Registry) active(name string) bool {
	r.mu.RLock()
	e, ok := r.entries[name]
	r.mu.RUnlock()
	return ok && e.currentState() != StateShutdown
}

// attachConfig refreshes (or clears) the config back-reference of a
// registered plugin so the entry and the store stay consistent.
func (r *Registry) attachConfig(name string, cfg *config.PluginConfig) {
	r.mu.RLock()
	e, ok := r.entries[name]
	r.mu.RUnlock()
	if ok {
		e.setPluginConfig(cfg)
	}
}
