package observe

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

const defaultServiceName = "tutorlive"

// ProviderConfig configures the process-wide telemetry providers.
type ProviderConfig struct {
	// ServiceName defaults to "tutorlive".
	ServiceName    string
	ServiceVersion string

	// TraceExporter receives finished spans in batches. Nil keeps spans
	// in-process only, which is enough for correlation IDs.
	TraceExporter sdktrace.SpanExporter
}

func (c ProviderConfig) resource() (*resource.Resource, error) {
	name := c.ServiceName
	if name == "" {
		name = defaultServiceName
	}
	return resource.Merge(resource.Default(), resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(name),
		semconv.ServiceVersion(c.ServiceVersion),
	))
}

// InitProvider installs the global meter and tracer providers. Instruments
// created afterwards are exported to the default Prometheus registry that
// [MetricsHandler] serves.
//
// The returned function flushes and stops both providers.
func InitProvider(_ context.Context, cfg ProviderConfig) (func(context.Context) error, error) {
	res, err := cfg.resource()
	if err != nil {
		return nil, fmt.Errorf("observe: build resource: %w", err)
	}

	reader, err := promexporter.New()
	if err != nil {
		return nil, fmt.Errorf("observe: prometheus exporter: %w", err)
	}
	meters := sdkmetric.NewMeterProvider(sdkmetric.WithResource(res), sdkmetric.WithReader(reader))

	traceOpts := []sdktrace.TracerProviderOption{sdktrace.WithResource(res)}
	if cfg.TraceExporter != nil {
		traceOpts = append(traceOpts, sdktrace.WithBatcher(cfg.TraceExporter))
	}
	tracers := sdktrace.NewTracerProvider(traceOpts...)

	otel.SetMeterProvider(meters)
	otel.SetTracerProvider(tracers)

	return func(ctx context.Context) error {
		return errors.Join(meters.Shutdown(ctx), tracers.Shutdown(ctx))
	}, nil
}

// MetricsHandler serves the Prometheus text exposition.
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
