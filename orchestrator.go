package plm

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/mod/semver"

	"github.com/zero-day-ai/plm/plugin"
)

// orchestrator drives install and uninstall operations against the registry.
//
// It adds the concerns the raw state machine does not carry: operation IDs,
// tracing spans, counters, version resolution, dry-run evaluation, and the
// cancellation contract. Per-plugin serialization comes from the entry's
// operation lock; concurrent requests for the same plugin queue in arrival
// order and each sees the state left behind by its predecessor.
type orchestrator struct {
	registry *Registry
	logger   *slog.Logger
	tracer   trace.Tracer

	installs   metric.Int64Counter
	uninstalls metric.Int64Counter
	failures   metric.Int64Counter
}

func newOrchestrator(registry *Registry, logger *slog.Logger, tracer trace.Tracer, meter metric.Meter) *orchestrator {
	o := &orchestrator{
		registry: registry,
		logger:   logger,
		tracer:   tracer,
	}

	var err error
	if o.installs, err = meter.Int64Counter("plm.installs",
		metric.WithDescription("Completed plugin install operations")); err != nil {
		logger.Warn("failed to create install counter", slog.String("error", err.Error()))
	}
	if o.uninstalls, err = meter.Int64Counter("plm.uninstalls",
		metric.WithDescription("Completed plugin uninstall operations")); err != nil {
		logger.Warn("failed to create uninstall counter", slog.String("error", err.Error()))
	}
	if o.failures, err = meter.Int64Counter("plm.operation.failures",
		metric.WithDescription("Failed plugin lifecycle operations")); err != nil {
		logger.Warn("failed to create failure counter", slog.String("error", err.Error()))
	}

	return o
}

func (o *orchestrator) count(ctx context.Context, c metric.Int64Counter, attrs ...attribute.KeyValue) {
	if c != nil {
		c.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
}

// resolveVersion fills in the plugin's declared version when the caller
// passed none and rejects versions that are not well-formed semver. Versions
// are accepted with or without a leading "v".
func resolveVersion(op string, e *entry, version string) (string, error) {
	if version == "" {
		version = e.plugin.Metadata().Version
	}
	if version == "" {
		return "", NewValidationError(op,
			fmt.Errorf("no version requested and plugin %s declares none", e.name))
	}

	canonical := version
	if !strings.HasPrefix(canonical, "v") {
		canonical = "v" + canonical
	}
	if !semver.IsValid(canonical) {
		return "", NewValidationError(op,
			fmt.Errorf("invalid version %q for plugin %s", version, e.name))
	}
	return version, nil
}

// installResult carries the hook outcome across the cancellation boundary.
type installResult struct {
	detail string
	err    error
}

// Install runs the install flow for a named plugin and returns the hook's
// result detail.
//
// The hook itself runs under the plugin's operation lock with a context
// detached from the caller's cancellation: once started, an install runs to
// completion and its state change commits even if the caller gives up. A
// cancelled caller receives a timeout error while the operation finishes in
// the background.
func (o *orchestrator) Install(ctx context.Context, name, version string, opts plugin.InstallOptions) (string, error) {
	const op = "Manager.InstallPlugin"

	opID := uuid.NewString()
	ctx, span := o.tracer.Start(ctx, "plm.install", trace.WithAttributes(
		attribute.String("plm.op_id", opID),
		attribute.String("plm.plugin", name),
		attribute.String("plm.version", version),
		attribute.Bool("plm.force", opts.Force),
		attribute.Bool("plm.dry_run", opts.DryRun),
	))
	defer span.End()

	e, err := o.registry.lookup(op, name)
	if err != nil {
		return "", o.fail(ctx, span, op, err)
	}

	done := make(chan installResult, 1)
	go func() {
		done <- o.runInstall(ctx, op, opID, e, version, opts)
	}()

	select {
	case res := <-done:
		if res.err != nil {
			return "", o.fail(ctx, span, op, res.err)
		}
		span.SetStatus(codes.Ok, "")
		o.count(ctx, o.installs, attribute.String("plm.plugin", name))
		return res.detail, nil
	case <-ctx.Done():
		o.logger.Warn("install caller cancelled, operation continues in background",
			slog.String("op_id", opID),
			slog.String("name", name),
		)
		err := NewTimeoutError(op, ctx.Err()).WithContext(map[string]any{"plugin": name, "op_id": opID})
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}
}

// runInstall holds the operation lock for the full read-check-hook-commit
// sequence. The hook context is detached from caller cancellation so a
// started install always commits or fails on its own terms.
func (o *orchestrator) runInstall(ctx context.Context, op, opID string, e *entry, version string, opts plugin.InstallOptions) installResult {
	span := trace.SpanFromContext(ctx)

	e.opMu.Lock()
	defer e.opMu.Unlock()
	span.AddEvent("lock acquired")

	resolved, err := resolveVersion(op, e, version)
	if err != nil {
		return installResult{err: err}
	}

	state := e.currentState()
	switch {
	case state == StateInitialized:
	case state == StateInstalled && opts.Force:
		// Reinstall over an existing installation.
	case state == StateInstalled:
		return installResult{err: NewInvalidStateError(op,
			fmt.Errorf("%w: %s is already %s, use force to reinstall", ErrInvalidState, e.name, state))}
	default:
		return installResult{err: NewInvalidStateError(op,
			fmt.Errorf("%w: %s is %s, install requires %s", ErrInvalidState, e.name, state, StateInitialized))}
	}

	if opts.Verbose {
		o.logger.Info("install state check passed",
			slog.String("op_id", opID),
			slog.String("name", e.name),
			slog.String("version", resolved),
			slog.String("state", state.String()),
		)
	}

	if opts.DryRun {
		// Dry run reports what would happen without invoking the hook or
		// changing state.
		return installResult{detail: fmt.Sprintf("dry run: would install %s %s", e.name, resolved)}
	}

	if !opts.Force {
		if checker, ok := e.plugin.(plugin.InstalledChecker); ok {
			installed, err := checker.IsInstalled(ctx, resolved)
			if err != nil {
				o.logger.Warn("installed check failed, proceeding with install",
					slog.String("op_id", opID),
					slog.String("name", e.name),
					slog.String("error", err.Error()),
				)
			} else if installed {
				return installResult{err: NewInstallFailedError(op,
					fmt.Errorf("%s %s is already installed, use force to reinstall", e.name, resolved))}
			}
		}
	}

	span.AddEvent("hook invoked", trace.WithAttributes(
		attribute.String("plm.version", resolved),
	))
	hookCtx := context.WithoutCancel(ctx)
	detail, err := e.plugin.Install(hookCtx, resolved, opts)
	if err != nil {
		// Hook failed: state is unchanged, the caller can retry.
		return installResult{err: NewInstallFailedError(op, err).WithContext(map[string]any{
			"plugin":  e.name,
			"version": resolved,
		})}
	}

	from := state
	e.setState(StateInstalled)
	span.AddEvent("state committed")
	o.registry.observe(hookCtx, transitionEvent{
		OpID: opID, Name: e.name, Version: resolved,
		Op: "install", From: from, To: StateInstalled,
		Detail: detail,
	})

	o.logger.Info("plugin installed",
		slog.String("op_id", opID),
		slog.String("name", e.name),
		slog.String("version", resolved),
	)
	return installResult{detail: detail}
}

// Uninstall runs the uninstall flow for a named plugin. The cancellation
// contract matches Install: a started hook runs to completion and commits
// even if the caller gives up.
func (o *orchestrator) Uninstall(ctx context.Context, name, version string, opts plugin.InstallOptions) error {
	const op = "Manager.UninstallPlugin"

	opID := uuid.NewString()
	ctx, span := o.tracer.Start(ctx, "plm.uninstall", trace.WithAttributes(
		attribute.String("plm.op_id", opID),
		attribute.String("plm.plugin", name),
		attribute.String("plm.version", version),
		attribute.Bool("plm.force", opts.Force),
		attribute.Bool("plm.dry_run", opts.DryRun),
	))
	defer span.End()

	e, err := o.registry.lookup(op, name)
	if err != nil {
		return o.fail(ctx, span, op, err)
	}

	done := make(chan installResult, 1)
	go func() {
		done <- o.runUninstall(ctx, op, opID, e, version, opts)
	}()

	select {
	case res := <-done:
		if res.err != nil {
			return o.fail(ctx, span, op, res.err)
		}
		span.SetStatus(codes.Ok, "")
		o.count(ctx, o.uninstalls, attribute.String("plm.plugin", name))
		return nil
	case <-ctx.Done():
		o.logger.Warn("uninstall caller cancelled, operation continues in background",
			slog.String("op_id", opID),
			slog.String("name", name),
		)
		err := NewTimeoutError(op, ctx.Err()).WithContext(map[string]any{"plugin": name, "op_id": opID})
		span.SetStatus(codes.Error, err.Error())
		return err
	}
}

func (o *orchestrator) runUninstall(ctx context.Context, op, opID string, e *entry, version string, opts plugin.InstallOptions) installResult {
	span := trace.SpanFromContext(ctx)

	e.opMu.Lock()
	defer e.opMu.Unlock()
	span.AddEvent("lock acquired")

	resolved, err := resolveVersion(op, e, version)
	if err != nil {
		return installResult{err: err}
	}

	state := e.currentState()
	switch {
	case state == StateInstalled:
	case opts.Force && state == StateInitialized:
		// Force tolerates a plugin that never recorded an install, letting
		// the hook clean up artifacts left by an earlier run.
	default:
		return installResult{err: NewInvalidStateError(op,
			fmt.Errorf("%w: %s is %s, uninstall requires %s", ErrInvalidState, e.name, state, StateInstalled))}
	}

	if opts.Verbose {
		o.logger.Info("uninstall state check passed",
			slog.String("op_id", opID),
			slog.String("name", e.name),
			slog.String("version", resolved),
			slog.String("state", state.String()),
		)
	}

	if opts.DryRun {
		return installResult{detail: fmt.Sprintf("dry run: would uninstall %s %s", e.name, resolved)}
	}

	span.AddEvent("hook invoked", trace.WithAttributes(
		attribute.String("plm.version", resolved),
	))
	hookCtx := context.WithoutCancel(ctx)
	if err := e.plugin.Uninstall(hookCtx, resolved); err != nil {
		return installResult{err: NewUninstallFailedError(op, err).WithContext(map[string]any{
			"plugin":  e.name,
			"version": resolved,
		})}
	}

	if state == StateInstalled {
		e.setState(StateInitialized)
		o.registry.observe(hookCtx, transitionEvent{
			OpID: opID, Name: e.name, Version: resolved,
			Op: "uninstall", From: state, To: StateInitialized,
		})
	}

	o.logger.Info("plugin uninstalled",
		slog.String("op_id", opID),
		slog.String("name", e.name),
		slog.String("version", resolved),
	)
	return installResult{}
}

// ListVersions surfaces the optional version listing capability.
func (o *orchestrator) ListVersions(ctx context.Context, name string) ([]plugin.VersionInfo, error) {
	const op = "Manager.ListVersions"

	e, err := o.registry.lookup(op, name)
	if err != nil {
		return nil, err
	}

	lister, ok := e.plugin.(plugin.VersionLister)
	if !ok {
		return nil, NewValidationError(op,
			fmt.Errorf("plugin %s does not support version listing", name))
	}

	versions, err := lister.ListVersions(ctx)
	if err != nil {
		return nil, NewInternalError(op, err).WithContext(map[string]any{"plugin": name})
	}
	return versions, nil
}

func (o *orchestrator) fail(ctx context.Context, span trace.Span, op string, err error) error {
	span.SetStatus(codes.Error, err.Error())
	o.count(ctx, o.failures, attribute.String("plm.op", op))
	return err
}
