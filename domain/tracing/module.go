// Package tracing installs the OTel tracer provider and the echo middleware
// that opens a server span per request.
package tracing

import (
	"context"
	"log/slog"
	"strings"

	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/fx"

	"github.com/emergent-company/tether/internal/config"
	"github.com/emergent-company/tether/internal/version"
	"github.com/emergent-company/tether/pkg/logger"
)

var Module = fx.Module("tracing",
	fx.Invoke(Install),
	fx.Invoke(RegisterEchoMiddleware),
)

// Install registers the global tracer provider. Without an exporter
// endpoint the provider is a no-op and pkg/tracing spans cost nothing.
func Install(lc fx.Lifecycle, cfg *config.Config, log *slog.Logger) error {
	log = log.With(logger.Scope("tracing"))
	oc := cfg.Otel
	if !oc.Enabled() {
		otel.SetTracerProvider(noop.NewTracerProvider())
		log.Info("trace export disabled")
		return nil
	}

	tp, err := newProvider(context.Background(), oc, log)
	if err != nil {
		return err
	}
	otel.SetTracerProvider(tp)
	log.Info("trace export enabled",
		slog.String("endpoint", oc.ExporterEndpoint),
		slog.Float64("sampling_rate", oc.SamplingRate))

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return tp.Shutdown(ctx)
		},
	})
	return nil
}

func newProvider(ctx context.Context, oc config.OtelConfig, log *slog.Logger) (*sdktrace.TracerProvider, error) {
	opts := []otlptracehttp.Option{otlptracehttp.WithEndpointURL(oc.ExporterEndpoint)}
	if oc.Insecure {
		opts = append(opts, otlptracehttp.WithInsecure())
	}
	exp, err := otlptracehttp.New(ctx, opts...)
	if err != nil {
		return nil, err
	}

	res, err := resource.New(ctx,
		resource.WithSchemaURL(semconv.SchemaURL),
		resource.WithAttributes(
			semconv.ServiceName(oc.ServiceName),
			semconv.ServiceVersion(version.Get().Version),
		),
		resource.WithFromEnv(),
		resource.WithProcess(),
	)
	if err != nil {
		log.Warn("resource detection failed, exporting without process attributes", logger.Error(err))
		res = resource.NewSchemaless(semconv.ServiceName(oc.ServiceName))
	}

	return sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(samplerFor(oc.SamplingRate)),
	), nil
}

// samplerFor follows the caller's decision when there is a parent span and
// samples root spans at rate.
func samplerFor(rate float64) sdktrace.Sampler {
	root := sdktrace.TraceIDRatioBased(rate)
	if rate >= 1 {
		root = sdktrace.AlwaysSample()
	}
	return sdktrace.ParentBased(root)
}

// untraced reports paths that get no server span: probes, the metrics
// scrape and long-lived event streams.
func untraced(path string) bool {
	switch path {
	case "/health", "/healthz", "/ready", "/metrics", "/api/health":
		return true
	}
	return strings.HasSuffix(path, "/stream")
}

func RegisterEchoMiddleware(e *echo.Echo, cfg *config.Config) {
	if !cfg.Otel.Enabled() {
		return
	}
	e.Use(otelecho.Middleware(cfg.Otel.ServiceName,
		otelecho.WithSkipper(func(c echo.Context) bool {
			return untraced(c.Request().URL.Path)
		}),
	))
}
