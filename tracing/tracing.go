// Package tracing instruments an HTTP server with OpenTelemetry
// tracing. Every request gets a server span, and a configurable
// allowlist of request headers is surfaced as span attributes.
package tracing

import (
	"context"
	"net/http"
	"strings"

	"github.com/joeshaw/envdecode"
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
)

// headerMissing is recorded when an allowlisted header is absent from a
// request.
const headerMissing = "not set"

// Config holds the environment-sourced tracing settings.
type Config struct {
	// Endpoint of the OTLP gRPC collector.
	Endpoint string `env:"OTEL_EXPORTER_OTLP_ENDPOINT,default=localhost:4317"`

	// Headers lists request header names surfaced as span attributes.
	Headers []string `env:"TRACE_HEADERS"`
}

// ConfigFromEnv decodes Config from the environment.
func ConfigFromEnv() (Config, error) {
	var cfg Config
	if err := envdecode.Decode(&cfg); err != nil && err != envdecode.ErrNoTargetFieldsAreSet {
		return Config{}, errors.Wrap(err, "decode tracing config")
	}
	return cfg, nil
}

// Instrument bootstraps an OpenTelemetry pipeline exporting to the OTLP
// collector in cfg and returns the tracing middleware plus a shutdown
// func flushing buffered spans. Make sure to call shutdown for proper
// cleanup if err is nil.
func Instrument(ctx context.Context, serviceName string, cfg Config) (func(http.Handler) http.Handler, func(context.Context) error, error) {
	exporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(cfg.Endpoint),
		otlptracegrpc.WithInsecure(),
	)
	if err != nil {
		return nil, nil, errors.Wrap(err, "create otlp exporter")
	}

	res := resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(serviceName),
	)

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return Middleware(tp, cfg.Headers), tp.Shutdown, nil
}

// Middleware returns an HTTP middleware starting a server span per
// request on the given provider. Each allowlisted header is set as a
// span attribute; missing headers record the "not set" sentinel. The
// scrape route produces no spans.
func Middleware(tp trace.TracerProvider, headers []string, opts ...Option) func(http.Handler) http.Handler {
	o := options{skip: map[string]struct{}{"/metrics": {}}}
	for _, opt := range opts {
		opt(&o)
	}

	tracer := tp.Tracer("github.com/zenithlabs/telemetry/tracing")

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := o.skip[r.URL.Path]; ok {
				next.ServeHTTP(w, r)
				return
			}

			ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))
			ctx, span := tracer.Start(ctx, r.Method+" "+r.URL.Path,
				trace.WithSpanKind(trace.SpanKindServer),
			)
			defer span.End()

			for _, h := range headers {
				v := r.Header.Get(h)
				if v == "" {
					v = headerMissing
				}
				span.SetAttributes(attribute.String(strings.ToLower(h), v))
			}

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// Option configures the tracing middleware.
type Option func(*options)

// SkipPaths replaces the set of request paths excluded from tracing.
func SkipPaths(paths ...string) Option {
	return func(o *options) {
		o.skip = make(map[string]struct{}, len(paths))
		for _, p := range paths {
			o.skip[p] = struct{}{}
		}
	}
}

type options struct {
	skip map[string]struct{}
}
