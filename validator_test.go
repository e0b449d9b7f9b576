package plm

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zero-day-ai/plm/config"
)

func TestCompileRule(t *testing.T) {
	t.Run("compiles boolean expression", func(t *testing.T) {
		r, err := CompileRule("has-version", `version != ""`)
		require.NoError(t, err)
		assert.Equal(t, "has-version", r.Name())
	})

	t.Run("rejects empty name", func(t *testing.T) {
		_, err := CompileRule("", "true")
		require.Error(t, err)
	})

	t.Run("rejects syntax error", func(t *testing.T) {
		_, err := CompileRule("broken", "version ==")
		require.Error(t, err)
	})

	t.Run("rejects unknown variable", func(t *testing.T) {
		_, err := CompileRule("unknown", "platform == 'linux'")
		require.Error(t, err)
	})

	t.Run("rejects non-boolean expression", func(t *testing.T) {
		_, err := CompileRule("not-bool", "version")
		require.Error(t, err)
	})
}

func TestMustCompileRule_Panics(t *testing.T) {
	assert.Panics(t, func() {
		MustCompileRule("broken", "version ==")
	})
}

func TestValidator_ValidateAll(t *testing.T) {
	ctx := context.Background()

	t.Run("all valid", func(t *testing.T) {
		r := newRegistry(testLogger(), nil)
		require.NoError(t, r.Register(ctx, "alpha", newTestPlugin(t, "alpha", "1.0.0"), nil))
		require.NoError(t, r.Register(ctx, "beta", newTestPlugin(t, "beta", "2.0.0"), nil))

		summary := newValidator(r, testLogger(), nil).ValidateAll(ctx)
		assert.Equal(t, 2, summary.ValidPlugins)
		assert.Equal(t, 0, summary.InvalidPlugins)
		assert.Equal(t, 2, summary.TotalPlugins())
		assert.True(t, summary.AllValid())
		assert.Empty(t, summary.Failures)
	})

	t.Run("metadata name mismatch", func(t *testing.T) {
		r := newRegistry(testLogger(), nil)
		// Registered under a key that differs from the metadata name.
		require.NoError(t, r.Register(ctx, "renamed", newTestPlugin(t, "alpha", "1.0.0"), nil))

		summary := newValidator(r, testLogger(), nil).ValidateAll(ctx)
		require.Len(t, summary.Failures, 1)
		assert.Equal(t, "renamed", summary.Failures[0].Name)
		assert.Contains(t, summary.Failures[0].Reason, "does not match registry key")
		assert.False(t, summary.AllValid())
	})

	t.Run("invalid version", func(t *testing.T) {
		r := newRegistry(testLogger(), nil)
		require.NoError(t, r.Register(ctx, "alpha", newTestPlugin(t, "alpha", "not-semver"), nil))

		summary := newValidator(r, testLogger(), nil).ValidateAll(ctx)
		require.Len(t, summary.Failures, 1)
		assert.Contains(t, summary.Failures[0].Reason, "not valid semver")
	})

	t.Run("config name mismatch", func(t *testing.T) {
		r := newRegistry(testLogger(), nil)
		require.NoError(t, r.Register(ctx, "alpha", newTestPlugin(t, "alpha", "1.0.0"), nil))
		// Simulate a stale back-reference.
		r.attachConfig("alpha", &config.PluginConfig{Name: "beta", Enabled: true})

		summary := newValidator(r, testLogger(), nil).ValidateAll(ctx)
		require.Len(t, summary.Failures, 1)
		assert.Contains(t, summary.Failures[0].Reason, `config name "beta"`)
	})

	t.Run("rule failure names the rule", func(t *testing.T) {
		rule := MustCompileRule("enabled-only", "enabled")

		r := newRegistry(testLogger(), nil)
		require.NoError(t, r.Register(ctx, "alpha", newTestPlugin(t, "alpha", "1.0.0"),
			&config.PluginConfig{Name: "alpha", Enabled: false}))

		summary := newValidator(r, testLogger(), []Rule{rule}).ValidateAll(ctx)
		require.Len(t, summary.Failures, 1)
		assert.Equal(t, "rule enabled-only failed", summary.Failures[0].Reason)
	})

	t.Run("rules see config settings", func(t *testing.T) {
		rule := MustCompileRule("requires-region", `"region" in config && config["region"] != ""`)

		r := newRegistry(testLogger(), nil)
		require.NoError(t, r.Register(ctx, "alpha", newTestPlugin(t, "alpha", "1.0.0"),
			&config.PluginConfig{
				Name:    "alpha",
				Enabled: true,
				Config:  map[string]any{"region": "eu-west-1"},
			}))
		require.NoError(t, r.Register(ctx, "beta", newTestPlugin(t, "beta", "1.0.0"),
			&config.PluginConfig{Name: "beta", Enabled: true}))

		summary := newValidator(r, testLogger(), []Rule{rule}).ValidateAll(ctx)
		assert.Equal(t, 1, summary.ValidPlugins)
		require.Len(t, summary.Failures, 1)
		assert.Equal(t, "beta", summary.Failures[0].Name)
	})

	t.Run("plugin without config defaults to enabled", func(t *testing.T) {
		rule := MustCompileRule("enabled-only", "enabled")

		r := newRegistry(testLogger(), nil)
		require.NoError(t, r.Register(ctx, "alpha", newTestPlugin(t, "alpha", "1.0.0"), nil))

		summary := newValidator(r, testLogger(), []Rule{rule}).ValidateAll(ctx)
		assert.True(t, summary.AllValid())
	})

	t.Run("rules see lifecycle state", func(t *testing.T) {
		rule := MustCompileRule("no-stuck-shutdown", `state != "shutting_down"`)

		r := newRegistry(testLogger(), nil)
		require.NoError(t, r.Register(ctx, "alpha", newTestPlugin(t, "alpha", "1.0.0"), nil))
		require.NoError(t, r.InitializeOne(ctx, "alpha"))

		summary := newValidator(r, testLogger(), []Rule{rule}).ValidateAll(ctx)
		assert.True(t, summary.AllValid())
	})

	t.Run("validation never mutates state", func(t *testing.T) {
		r := newRegistry(testLogger(), nil)
		require.NoError(t, r.Register(ctx, "alpha", newTestPlugin(t, "alpha", "1.0.0"), nil))
		require.NoError(t, r.InitializeOne(ctx, "alpha"))

		newValidator(r, testLogger(), nil).ValidateAll(ctx)

		state, err := r.PluginState("alpha")
		require.NoError(t, err)
		assert.Equal(t, StateInitialized, state)
	})
}
