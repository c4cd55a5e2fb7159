package httptelemetry

import (
	"github.com/go-chi/chi"
	"github.com/joeshaw/envdecode"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/zenithlabs/telemetry/promregistry"
)

// DefaultMetricsPath is the route the scrape handler is mounted on.
const DefaultMetricsPath = "/metrics"

// Config holds the environment-sourced settings recognized by
// Instrument.
type Config struct {
	// MultiprocessDir, when set, activates the multiprocess metric
	// registry backed by shard files in that directory.
	MultiprocessDir string `env:"PROMETHEUS_MULTIPROC_DIR"`
}

// ConfigFromEnv decodes Config from the environment.
func ConfigFromEnv() (Config, error) {
	var cfg Config
	if err := envdecode.Decode(&cfg); err != nil && err != envdecode.ErrNoTargetFieldsAreSet {
		return Config{}, errors.Wrap(err, "decode telemetry config")
	}
	return cfg, nil
}

// Options configure Instrument.
type Options struct {
	// Registry to report into. When nil, one is built: multiprocess if
	// MultiprocessDir is set, in-memory otherwise.
	Registry *promregistry.Registry

	// MultiprocessDir selects the multiprocess registry mode. An
	// invalid directory fails Instrument; the service should not start
	// half-configured.
	MultiprocessDir string

	// DurationBuckets overrides the latency histogram buckets.
	DurationBuckets []float64

	// ExtraHandlers are invoked after the reference handlers for each
	// completed request.
	ExtraHandlers []Handler

	// MetricsPath overrides DefaultMetricsPath.
	MetricsPath string

	// SkipPaths lists additional request paths excluded from
	// telemetry. The metrics path is always excluded.
	SkipPaths []string

	// Logger used for handler-panic and scrape warnings. Defaults to
	// the logrus standard logger.
	Logger logrus.FieldLogger
}

// Instrument wires request telemetry onto r: it builds the handler list
// bound to serviceName, installs the timing middleware ahead of routes
// registered afterwards, and mounts the scrape route. It returns the
// registry so the caller can Close it on shutdown.
//
// Instrument is not idempotent; instrumenting the same router twice
// double-counts every request. Call it exactly once, before
// registering application routes.
func Instrument(r chi.Router, serviceName string, o Options) (*promregistry.Registry, error) {
	if o.Logger == nil {
		o.Logger = logrus.StandardLogger()
	}
	if o.MetricsPath == "" {
		o.MetricsPath = DefaultMetricsPath
	}

	reg := o.Registry
	if reg == nil {
		if o.MultiprocessDir != "" {
			var err error
			reg, err = promregistry.NewMultiprocess(o.MultiprocessDir, promregistry.WithLogger(o.Logger))
			if err != nil {
				return nil, errors.Wrap(err, "configure multiprocess metrics")
			}
		} else {
			reg = promregistry.New(promregistry.WithLogger(o.Logger))
		}
	}

	handlers := append([]Handler{
		NewRequestCounter(reg, serviceName),
		NewLatencyHistogram(reg, serviceName, o.DurationBuckets),
	}, o.ExtraHandlers...)

	skip := append([]string{o.MetricsPath}, o.SkipPaths...)

	r.Use(Middleware(handlers, WithLogger(o.Logger), SkipPaths(skip...)))
	r.Method("GET", o.MetricsPath, reg.Handler())

	return reg, nil
}
