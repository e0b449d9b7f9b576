package plm

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zero-day-ai/plm/config"
	"github.com/zero-day-ai/plm/journal"
	"github.com/zero-day-ai/plm/plugin"
)

// TestFullLifecycle drives one plugin set from a config file through
// discovery, initialization, install, uninstall, and shutdown, checking the
// journal and the persisted config along the way.
func TestFullLifecycle(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	configPath := filepath.Join(dir, "plm.yaml")
	seed := `project:
  name: infra
  version: 0.1.0
  root_path: .
plugins:
  - name: terraform
    version: 1.5.0
    enabled: true
    config:
      region: eu-west-1
  - name: vault
    version: 1.14.0
    enabled: false
  - name: consul
    version: 1.16.0
    enabled: true
`
	require.NoError(t, os.WriteFile(configPath, []byte(seed), 0o644))

	mr := miniredis.RunT(t)
	rec, err := journal.NewRedisJournal(journal.Options{URL: "redis://" + mr.Addr()})
	require.NoError(t, err)
	defer rec.Close()

	m, err := NewManager(
		WithLogger(testLogger()),
		WithConfigFile(configPath),
		WithFactory(builderFactory()),
		WithJournal(rec),
		WithRules(MustCompileRule("has-version", `version != ""`)),
	)
	require.NoError(t, err)

	// Discovery registers the two enabled plugins, then everything
	// registered is initialized.
	require.NoError(t, m.Initialize(ctx))

	infos := m.ListPlugins()
	require.Len(t, infos, 2)
	assert.Equal(t, "terraform", infos[0].Name)
	assert.Equal(t, "consul", infos[1].Name)
	for _, info := range infos {
		assert.Equal(t, StateInitialized, info.State, info.Name)
	}

	summary := m.ValidateAllPlugins(ctx)
	assert.True(t, summary.AllValid())
	assert.Equal(t, 2, summary.TotalPlugins())

	// Dry run first, then the real install.
	detail, err := m.InstallPlugin(ctx, "terraform", "1.5.0", plugin.InstallOptions{DryRun: true})
	require.NoError(t, err)
	assert.Equal(t, "dry run: would install terraform 1.5.0", detail)

	detail, err = m.InstallPlugin(ctx, "terraform", "1.5.0", plugin.InstallOptions{Verbose: true})
	require.NoError(t, err)
	assert.Equal(t, "terraform 1.5.0 installed", detail)

	state, err := m.PluginState("terraform")
	require.NoError(t, err)
	assert.Equal(t, StateInstalled, state)

	// Uninstall returns the plugin to initialized.
	require.NoError(t, m.UninstallPlugin(ctx, "terraform", "1.5.0", plugin.InstallOptions{}))
	state, err = m.PluginState("terraform")
	require.NoError(t, err)
	assert.Equal(t, StateInitialized, state)

	// Pin a new version in the config and persist it.
	require.NoError(t, m.AddPluginConfig(config.PluginConfig{
		Name:    "terraform",
		Version: "1.6.0",
		Enabled: true,
		Config:  map[string]any{"region": "eu-west-1"},
	}))
	require.NoError(t, m.SaveConfig(configPath))

	reloaded, err := config.LoadFile(configPath)
	require.NoError(t, err)
	pc, ok := reloaded.GetPlugin("terraform")
	require.True(t, ok)
	assert.Equal(t, "1.6.0", pc.Version)

	// Shut everything down; the dry run left no extra transitions behind.
	require.NoError(t, m.Shutdown(ctx))
	for _, info := range m.ListPlugins() {
		assert.Equal(t, StateShutdown, info.State, info.Name)
	}

	events, err := m.History(ctx, 50)
	require.NoError(t, err)

	// terraform: register, initialize, install, uninstall, 2x shutdown;
	// consul: register, initialize, 2x shutdown.
	assert.Len(t, events, 10)

	var terraformOps []string
	for i := len(events) - 1; i >= 0; i-- {
		if events[i].Plugin == "terraform" {
			terraformOps = append(terraformOps, events[i].Op)
		}
	}
	assert.Equal(t,
		[]string{"register", "initialize", "install", "uninstall", "shutdown", "shutdown"},
		terraformOps)
}

// TestLifecycleAfterShutdown verifies that a retired plugin rejects further
// operations until it is re-registered.
func TestLifecycleAfterShutdown(t *testing.T) {
	ctx := context.Background()

	m := newTestManager(t)
	require.NoError(t, m.RegisterPlugin(ctx, newTestPlugin(t, "alpha", "1.0.0")))
	require.NoError(t, m.InitializePlugin(ctx, "alpha"))
	require.NoError(t, m.ShutdownPlugin(ctx, "alpha"))

	assert.ErrorIs(t, m.InitializePlugin(ctx, "alpha"), ErrInvalidState)
	_, err := m.InstallPlugin(ctx, "alpha", "1.0.0", plugin.InstallOptions{})
	assert.ErrorIs(t, err, ErrInvalidState)

	// Re-registration starts a fresh lifecycle in the same slot.
	require.NoError(t, m.RegisterPlugin(ctx, newTestPlugin(t, "alpha", "1.1.0")))
	require.NoError(t, m.InitializePlugin(ctx, "alpha"))

	infos := m.ListPlugins()
	require.Len(t, infos, 1)
	assert.Equal(t, "1.1.0", infos[0].Version)
	assert.Equal(t, StateInitialized, infos[0].State)
}

// TestMalformedConfigRejected verifies that a config file that parses but
// violates structural rules never reaches the manager.
func TestMalformedConfigRejected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plm.json")
	data := `{"project": {"name": ""}, "plugins": []}`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))

	_, err := NewManager(WithLogger(testLogger()), WithConfigFile(path))
	assert.ErrorIs(t, err, config.ErrMalformed)
	assert.ErrorIs(t, err, &PLMError{Kind: KindConfiguration})
}
