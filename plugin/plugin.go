package plugin

import "context"

// Plugin is the interface for PLM plugins.
// A plugin is a named, versioned capability whose lifecycle (initialize,
// install, uninstall, shutdown) is driven by the plugin manager. The four
// mutating operations may suspend on arbitrary I/O; implementations should
// honor the provided context where they are able to.
type Plugin interface {
	// Metadata returns the plugin's identifying metadata.
	// It must be pure and side-effect free, callable in any lifecycle state.
	Metadata() Metadata

	// Initialize prepares the plugin for use, acquiring whatever resources
	// it needs. The manager guarantees Initialize is called at most once
	// before a matching Shutdown; implementations need not guard against
	// double initialization themselves.
	Initialize(ctx context.Context) error

	// Shutdown releases resources acquired by the plugin. The manager only
	// invokes Shutdown on an initialized or installed plugin, and exactly
	// once per lifecycle.
	Shutdown(ctx context.Context) error

	// Install performs the version-specific installation action and returns
	// a human-readable descriptor of what was installed. It may fail for any
	// domain reason (network, filesystem, validation).
	Install(ctx context.Context, version string, opts InstallOptions) (string, error)

	// Uninstall is the inverse of Install for the given version.
	Uninstall(ctx context.Context, version string) error
}

// VersionLister is an optional capability for plugins that can enumerate
// the versions available for installation.
type VersionLister interface {
	ListVersions(ctx context.Context) ([]VersionInfo, error)
}

// InstalledChecker is an optional capability for plugins that can report
// whether a specific version is currently installed. The orchestrator uses
// it for the already-installed guard when present.
type InstalledChecker interface {
	IsInstalled(ctx context.Context, version string) (bool, error)
}
