// Package plugin defines the capability contract that every PLM plugin
// implementation satisfies, along with the metadata and option types that
// travel with lifecycle operations.
//
// A plugin is an opaque capability implementation supplied by the host
// application. PLM never interprets what a plugin actually does during
// install or uninstall; it only drives the plugin through its lifecycle
// and records the outcome.
//
// # Implementing a Plugin
//
// Hosts can implement the Plugin interface directly, or assemble one from
// closures using the builder:
//
//	cfg := plugin.NewConfig()
//	cfg.SetName("terraform")
//	cfg.SetVersion("1.0.0")
//	cfg.SetDescription("Manages terraform binary versions")
//	cfg.SetInstallFunc(func(ctx context.Context, version string, opts plugin.InstallOptions) (string, error) {
//	    // version-specific installation action
//	    return "terraform " + version + " installed", nil
//	})
//
//	p, err := plugin.New(cfg)
//
// # Optional Capabilities
//
// Plugins may additionally implement VersionLister or InstalledChecker.
// PLM detects these with type assertions and uses them to enrich
// orchestration (for example, the already-installed guard consults
// InstalledChecker when available).
package plugin
