// Package plm implements plugin lifecycle management: a registry that tracks
// each plugin through an explicit state machine, an orchestrator for install
// and uninstall operations, config-driven discovery, and validation.
//
// Plugins implement the plugin.Plugin capability interface (or are assembled
// with the plugin package's builder) and advance through:
//
//	Unregistered → Registered → Initialized ⇄ Installed → ShuttingDown → Shutdown
//
// The Manager is the single entry point:
//
//	m, err := plm.NewManager(
//		plm.WithConfigFile("plm.json"),
//		plm.WithFactory(myFactory),
//	)
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	if err := m.Initialize(ctx); err != nil {
//		log.Fatal(err)
//	}
//	defer m.Shutdown(context.Background())
//
//	detail, err := m.InstallPlugin(ctx, "terraform", "1.5.0", plugin.InstallOptions{})
//
// Lifecycle operations on a single plugin are serialized; operations on
// different plugins run in parallel. Every committed state transition can be
// fanned out to a Redis-backed journal (package journal) and an etcd-backed
// presence announcer (package announce), both best effort.
//
// All errors returned by the package are *PLMError values carrying the
// failing operation and an error kind, and unwrap to sentinel errors such as
// ErrPluginNotFound for use with errors.Is.
package plm
