package plm

import (
	"log/slog"
	"os"

	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"

	"github.com/zero-day-ai/plm/announce"
	"github.com/zero-day-ai/plm/config"
	"github.com/zero-day-ai/plm/journal"
)

// managerOptions holds the resolved manager configuration.
type managerOptions struct {
	logger         *slog.Logger
	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider

	store         *config.Store
	projectConfig *config.ProjectConfig
	configFile    string

	factory    Factory
	pluginsDir string

	journal   journal.Recorder
	announcer announce.Announcer
	rules     []Rule

	instanceID string
}

func defaultManagerOptions() *managerOptions {
	return &managerOptions{
		logger: slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		})),
		tracerProvider: tracenoop.NewTracerProvider(),
		meterProvider:  metricnoop.NewMeterProvider(),
	}
}

// ManagerOption configures a Manager during construction.
type ManagerOption func(*managerOptions)

// WithLogger sets the structured logger. Defaults to a JSON slog logger on
// stderr at info level.
func WithLogger(logger *slog.Logger) ManagerOption {
	return func(o *managerOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithTracerProvider sets the OpenTelemetry tracer provider used for
// install and uninstall spans. Defaults to a no-op provider.
func WithTracerProvider(tp trace.TracerProvider) ManagerOption {
	return func(o *managerOptions) {
		if tp != nil {
			o.tracerProvider = tp
		}
	}
}

// WithMeterProvider sets the OpenTelemetry meter provider used for
// operation counters. Defaults to a no-op provider.
func WithMeterProvider(mp metric.MeterProvider) ManagerOption {
	return func(o *managerOptions) {
		if mp != nil {
			o.meterProvider = mp
		}
	}
}

// WithStore sets the config store directly, taking precedence over
// WithProjectConfig and WithConfigFile.
func WithStore(store *config.Store) ManagerOption {
	return func(o *managerOptions) {
		o.store = store
	}
}

// WithProjectConfig seeds the manager's config store with the given project
// configuration.
func WithProjectConfig(cfg config.ProjectConfig) ManagerOption {
	return func(o *managerOptions) {
		o.projectConfig = &cfg
	}
}

// WithConfigFile loads the project configuration from the given file during
// construction. Construction fails if the file is missing or malformed.
func WithConfigFile(path string) ManagerOption {
	return func(o *managerOptions) {
		o.configFile = path
	}
}

// WithFactory sets the factory discovery uses to construct capability
// instances from config entries. Without a factory, DiscoverPlugins fails
// and Initialize skips the discovery pass.
func WithFactory(f Factory) ManagerOption {
	return func(o *managerOptions) {
		o.factory = f
	}
}

// WithPluginsDir sets a directory discovery scans for artifacts that no
// config entry references.
func WithPluginsDir(dir string) ManagerOption {
	return func(o *managerOptions) {
		o.pluginsDir = dir
	}
}

// WithJournal sets the lifecycle event journal. The manager records every
// committed state transition through it; recording failures are logged, not
// propagated. The manager does not close the journal, the caller owns it.
func WithJournal(rec journal.Recorder) ManagerOption {
	return func(o *managerOptions) {
		o.journal = rec
	}
}

// WithAnnouncer sets the presence announcer. The manager publishes each
// plugin's state after every transition and withdraws it on shutdown;
// failures are logged, not propagated. The manager does not close the
// announcer, the caller owns it.
func WithAnnouncer(a announce.Announcer) ManagerOption {
	return func(o *managerOptions) {
		o.announcer = a
	}
}

// WithRules adds compiled validation rules evaluated by ValidateAllPlugins.
func WithRules(rules ...Rule) ManagerOption {
	return func(o *managerOptions) {
		o.rules = append(o.rules, rules...)
	}
}

// WithInstanceID overrides the manager's instance identifier used in
// presence announcements. Defaults to a random UUID.
func WithInstanceID(id string) ManagerOption {
	return func(o *managerOptions) {
		o.instanceID = id
	}
}
