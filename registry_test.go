package plm

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zero-day-ai/plm/config"
	"github.com/zero-day-ai/plm/plugin"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestPlugin builds a plugin with the given identity; mutate hooks can
// override the default no-op behavior.
func newTestPlugin(t *testing.T, name, version string, mutate ...func(*plugin.Config)) plugin.Plugin {
	t.Helper()

	cfg := plugin.NewConfig()
	cfg.SetName(name)
	cfg.SetVersion(version)
	for _, m := range mutate {
		m(cfg)
	}

	p, err := plugin.New(cfg)
	require.NoError(t, err)
	return p
}

// eventSink collects observed transitions for assertions.
type eventSink struct {
	mu     sync.Mutex
	events []transitionEvent
}

func (s *eventSink) observe(_ context.Context, ev transitionEvent) {
	s.mu.Lock()
	s.events = append(s.events, ev)
	s.mu.Unlock()
}

func (s *eventSink) all() []transitionEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]transitionEvent, len(s.events))
	copy(out, s.events)
	return out
}

func TestRegistry_Register(t *testing.T) {
	ctx := context.Background()

	t.Run("registers in registered state", func(t *testing.T) {
		r := newRegistry(testLogger(), nil)
		require.NoError(t, r.Register(ctx, "alpha", newTestPlugin(t, "alpha", "1.0.0"), nil))

		state, err := r.PluginState("alpha")
		require.NoError(t, err)
		assert.Equal(t, StateRegistered, state)
	})

	t.Run("rejects empty name", func(t *testing.T) {
		r := newRegistry(testLogger(), nil)
		err := r.Register(ctx, "", newTestPlugin(t, "alpha", "1.0.0"), nil)
		assert.ErrorIs(t, err, &PLMError{Kind: KindValidation})
	})

	t.Run("rejects nil plugin", func(t *testing.T) {
		r := newRegistry(testLogger(), nil)
		err := r.Register(ctx, "alpha", nil, nil)
		assert.ErrorIs(t, err, &PLMError{Kind: KindValidation})
	})

	t.Run("rejects config name mismatch", func(t *testing.T) {
		r := newRegistry(testLogger(), nil)
		err := r.Register(ctx, "alpha", newTestPlugin(t, "alpha", "1.0.0"),
			&config.PluginConfig{Name: "beta"})
		assert.ErrorIs(t, err, ErrInvalidConfig)
	})

	t.Run("rejects duplicate name", func(t *testing.T) {
		r := newRegistry(testLogger(), nil)
		require.NoError(t, r.Register(ctx, "alpha", newTestPlugin(t, "alpha", "1.0.0"), nil))

		err := r.Register(ctx, "alpha", newTestPlugin(t, "alpha", "2.0.0"), nil)
		assert.ErrorIs(t, err, ErrAlreadyRegistered)
	})

	t.Run("replaces retired entry", func(t *testing.T) {
		r := newRegistry(testLogger(), nil)
		require.NoError(t, r.Register(ctx, "alpha", newTestPlugin(t, "alpha", "1.0.0"), nil))
		require.NoError(t, r.InitializeOne(ctx, "alpha"))
		require.NoError(t, r.ShutdownOne(ctx, "alpha"))

		require.NoError(t, r.Register(ctx, "alpha", newTestPlugin(t, "alpha", "2.0.0"), nil))

		state, err := r.PluginState("alpha")
		require.NoError(t, err)
		assert.Equal(t, StateRegistered, state)

		// The replaced entry keeps its original slot in registration order.
		infos := r.List()
		require.Len(t, infos, 1)
		assert.Equal(t, "2.0.0", infos[0].Version)
	})
}

func TestRegistry_InitializeOne(t *testing.T) {
	ctx := context.Background()

	t.Run("transitions to initialized", func(t *testing.T) {
		r := newRegistry(testLogger(), nil)
		require.NoError(t, r.Register(ctx, "alpha", newTestPlugin(t, "alpha", "1.0.0"), nil))
		require.NoError(t, r.InitializeOne(ctx, "alpha"))

		state, err := r.PluginState("alpha")
		require.NoError(t, err)
		assert.Equal(t, StateInitialized, state)
	})

	t.Run("unknown plugin", func(t *testing.T) {
		r := newRegistry(testLogger(), nil)
		err := r.InitializeOne(ctx, "ghost")
		assert.ErrorIs(t, err, ErrPluginNotFound)
	})

	t.Run("hook failure leaves entry registered for retry", func(t *testing.T) {
		attempts := 0
		p := newTestPlugin(t, "alpha", "1.0.0", func(cfg *plugin.Config) {
			cfg.SetInitFunc(func(ctx context.Context) error {
				attempts++
				if attempts == 1 {
					return errors.New("db unavailable")
				}
				return nil
			})
		})

		r := newRegistry(testLogger(), nil)
		require.NoError(t, r.Register(ctx, "alpha", p, nil))

		err := r.InitializeOne(ctx, "alpha")
		assert.ErrorIs(t, err, &PLMError{Kind: KindInitFailed})

		state, err := r.PluginState("alpha")
		require.NoError(t, err)
		assert.Equal(t, StateRegistered, state)

		// Retry succeeds.
		require.NoError(t, r.InitializeOne(ctx, "alpha"))
	})

	t.Run("rejects double initialization", func(t *testing.T) {
		r := newRegistry(testLogger(), nil)
		require.NoError(t, r.Register(ctx, "alpha", newTestPlugin(t, "alpha", "1.0.0"), nil))
		require.NoError(t, r.InitializeOne(ctx, "alpha"))

		err := r.InitializeOne(ctx, "alpha")
		assert.ErrorIs(t, err, ErrInvalidState)
	})
}

func TestRegistry_ShutdownOne(t *testing.T) {
	ctx := context.Background()

	t.Run("retires initialized plugin", func(t *testing.T) {
		hookRan := false
		p := newTestPlugin(t, "alpha", "1.0.0", func(cfg *plugin.Config) {
			cfg.SetShutdownFunc(func(ctx context.Context) error {
				hookRan = true
				return nil
			})
		})

		r := newRegistry(testLogger(), nil)
		require.NoError(t, r.Register(ctx, "alpha", p, nil))
		require.NoError(t, r.InitializeOne(ctx, "alpha"))
		require.NoError(t, r.ShutdownOne(ctx, "alpha"))

		assert.True(t, hookRan)
		state, err := r.PluginState("alpha")
		require.NoError(t, err)
		assert.Equal(t, StateShutdown, state)
	})

	t.Run("hook failure still retires entry", func(t *testing.T) {
		p := newTestPlugin(t, "alpha", "1.0.0", func(cfg *plugin.Config) {
			cfg.SetShutdownFunc(func(ctx context.Context) error {
				return errors.New("connection leak")
			})
		})

		r := newRegistry(testLogger(), nil)
		require.NoError(t, r.Register(ctx, "alpha", p, nil))
		require.NoError(t, r.InitializeOne(ctx, "alpha"))

		err := r.ShutdownOne(ctx, "alpha")
		assert.ErrorIs(t, err, &PLMError{Kind: KindShutdownFailed})

		state, stateErr := r.PluginState("alpha")
		require.NoError(t, stateErr)
		assert.Equal(t, StateShutdown, state)

		// A retired entry accepts no further operations, so the hook cannot
		// run a second time.
		err = r.ShutdownOne(ctx, "alpha")
		assert.ErrorIs(t, err, ErrInvalidState)
	})

	t.Run("rejects registered plugin", func(t *testing.T) {
		r := newRegistry(testLogger(), nil)
		require.NoError(t, r.Register(ctx, "alpha", newTestPlugin(t, "alpha", "1.0.0"), nil))

		err := r.ShutdownOne(ctx, "alpha")
		assert.ErrorIs(t, err, ErrInvalidState)
	})

	t.Run("unknown plugin", func(t *testing.T) {
		r := newRegistry(testLogger(), nil)
		err := r.ShutdownOne(ctx, "ghost")
		assert.ErrorIs(t, err, ErrPluginNotFound)
	})
}

func TestRegistry_ShutdownAll(t *testing.T) {
	ctx := context.Background()

	t.Run("retires registered entries without invoking hook", func(t *testing.T) {
		hookRan := false
		p := newTestPlugin(t, "alpha", "1.0.0", func(cfg *plugin.Config) {
			cfg.SetShutdownFunc(func(ctx context.Context) error {
				hookRan = true
				return nil
			})
		})

		r := newRegistry(testLogger(), nil)
		require.NoError(t, r.Register(ctx, "alpha", p, nil))
		require.NoError(t, r.ShutdownAll(ctx))

		assert.False(t, hookRan)
		state, err := r.PluginState("alpha")
		require.NoError(t, err)
		assert.Equal(t, StateShutdown, state)
	})

	t.Run("collects per-plugin failures and continues", func(t *testing.T) {
		bad := newTestPlugin(t, "bad", "1.0.0", func(cfg *plugin.Config) {
			cfg.SetShutdownFunc(func(ctx context.Context) error {
				return errors.New("stuck")
			})
		})
		goodRan := false
		good := newTestPlugin(t, "good", "1.0.0", func(cfg *plugin.Config) {
			cfg.SetShutdownFunc(func(ctx context.Context) error {
				goodRan = true
				return nil
			})
		})

		r := newRegistry(testLogger(), nil)
		require.NoError(t, r.Register(ctx, "bad", bad, nil))
		require.NoError(t, r.Register(ctx, "good", good, nil))
		require.NoError(t, r.InitializeOne(ctx, "bad"))
		require.NoError(t, r.InitializeOne(ctx, "good"))

		err := r.ShutdownAll(ctx)
		require.Error(t, err)
		assert.ErrorIs(t, err, &PLMError{Kind: KindShutdownFailed})
		assert.True(t, goodRan)

		for _, name := range []string{"bad", "good"} {
			state, stateErr := r.PluginState(name)
			require.NoError(t, stateErr)
			assert.Equal(t, StateShutdown, state, name)
		}
	})

	t.Run("second pass is a no-op", func(t *testing.T) {
		r := newRegistry(testLogger(), nil)
		require.NoError(t, r.Register(ctx, "alpha", newTestPlugin(t, "alpha", "1.0.0"), nil))
		require.NoError(t, r.InitializeOne(ctx, "alpha"))
		require.NoError(t, r.ShutdownAll(ctx))
		require.NoError(t, r.ShutdownAll(ctx))
	})
}

func TestRegistry_List(t *testing.T) {
	ctx := context.Background()
	r := newRegistry(testLogger(), nil)

	require.NoError(t, r.Register(ctx, "alpha", newTestPlugin(t, "alpha", "1.0.0"), nil))
	require.NoError(t, r.Register(ctx, "beta", newTestPlugin(t, "beta", "2.0.0"), nil))
	require.NoError(t, r.Register(ctx, "gamma", newTestPlugin(t, "gamma", "3.0.0"), nil))
	require.NoError(t, r.InitializeOne(ctx, "beta"))
	require.NoError(t, r.ShutdownAll(ctx))

	infos := r.List()
	require.Len(t, infos, 3)
	assert.Equal(t, []string{"alpha", "beta", "gamma"},
		[]string{infos[0].Name, infos[1].Name, infos[2].Name})

	// Retired entries stay visible for audit.
	for _, info := range infos {
		assert.Equal(t, StateShutdown, info.State, info.Name)
	}
}

func TestRegistry_PluginState_Unknown(t *testing.T) {
	r := newRegistry(testLogger(), nil)
	state, err := r.PluginState("ghost")
	assert.ErrorIs(t, err, ErrPluginNotFound)
	assert.Equal(t, StateUnregistered, state)
}

func TestRegistry_ObserverSeesOrderedTransitions(t *testing.T) {
	ctx := context.Background()
	sink := &eventSink{}
	r := newRegistry(testLogger(), sink.observe)

	require.NoError(t, r.Register(ctx, "alpha", newTestPlugin(t, "alpha", "1.0.0"), nil))
	require.NoError(t, r.InitializeOne(ctx, "alpha"))
	require.NoError(t, r.ShutdownOne(ctx, "alpha"))

	events := sink.all()
	require.Len(t, events, 4)

	type edge struct{ from, to State }
	want := []edge{
		{StateUnregistered, StateRegistered},
		{StateRegistered, StateInitialized},
		{StateInitialized, StateShuttingDown},
		{StateShuttingDown, StateShutdown},
	}
	for i, ev := range events {
		assert.Equal(t, "alpha", ev.Name)
		assert.Equal(t, want[i].from, ev.From, "event %d", i)
		assert.Equal(t, want[i].to, ev.To, "event %d", i)
		assert.NotEmpty(t, ev.OpID)
	}

	// The two shutdown events share one operation ID.
	assert.Equal(t, events[2].OpID, events[3].OpID)
}
