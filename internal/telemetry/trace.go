// Package telemetry installs the OpenTelemetry tracer provider that the
// summarization spans are exported through.
package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
)

// Exporter names accepted by Start.
const (
	ExporterNone = "none"
	ExporterOTLP = "otlp"
)

const serviceName = "kurzfassung"

// Config selects where spans go.
type Config struct {
	Exporter string
	// Endpoint is the OTLP/HTTP collector as host:port. Empty defers to
	// OTEL_EXPORTER_OTLP_ENDPOINT and then localhost:4318.
	Endpoint string
	Insecure bool
	Version  string
}

// Start installs a global tracer provider for cfg and returns its shutdown
// function. With ExporterNone the global no-op provider stays in place.
func Start(ctx context.Context, cfg Config) (func(context.Context) error, error) {
	switch cfg.Exporter {
	case "", ExporterNone:
		return func(context.Context) error { return nil }, nil
	case ExporterOTLP:
	default:
		return nil, fmt.Errorf("unknown trace exporter %q (want %s or %s)", cfg.Exporter, ExporterNone, ExporterOTLP)
	}

	var opts []otlptracehttp.Option
	if cfg.Endpoint != "" {
		opts = append(opts, otlptracehttp.WithEndpoint(cfg.Endpoint))
	}
	if cfg.Insecure {
		opts = append(opts, otlptracehttp.WithInsecure())
	}
	exporter, err := otlptracehttp.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create trace exporter: %w", err)
	}

	res, err := resource.New(ctx, resource.WithAttributes(
		semconv.ServiceName(serviceName),
		semconv.ServiceVersion(cfg.Version),
	))
	if err != nil {
		return nil, fmt.Errorf("create resource: %w", err)
	}

	return Install(sdktrace.NewBatchSpanProcessor(exporter), res), nil
}

// Install registers a provider that hands every span to sp.
func Install(sp sdktrace.SpanProcessor, res *resource.Resource) func(context.Context) error {
	opts := []sdktrace.TracerProviderOption{
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithSpanProcessor(sp),
	}
	if res != nil {
		opts = append(opts, sdktrace.WithResource(res))
	}
	tp := sdktrace.NewTracerProvider(opts...)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.TraceContext{})
	return tp.Shutdown
}
