// Package exporters builds OpenTelemetry exporters by name.
//
// Names are the values accepted by observe.Config: stdout, otlp, jaeger and
// none for traces; stdout, otlp, prometheus and none for metrics. The empty
// name is treated as none.
package exporters

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"

	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// ErrUnknownExporter is returned for an exporter name with no constructor.
var ErrUnknownExporter = errors.New("exporters: unknown exporter")

// ErrEndpointNotConfigured is returned when a network exporter is selected
// without its endpoint environment variable.
var ErrEndpointNotConfigured = errors.New("exporters: endpoint not configured")

type spanExporterFunc func(ctx context.Context) (sdktrace.SpanExporter, error)

type metricReaderFunc func(ctx context.Context) (sdkmetric.Reader, error)

var tracing = map[string]spanExporterFunc{
	"stdout": func(context.Context) (sdktrace.SpanExporter, error) {
		return stdouttrace.New(stdouttrace.WithWriter(os.Stdout))
	},
	"otlp": func(ctx context.Context) (sdktrace.SpanExporter, error) {
		if err := requireEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "OTEL_EXPORTER_OTLP_TRACES_ENDPOINT"); err != nil {
			return nil, err
		}
		return otlptracegrpc.New(ctx)
	},
	// Jaeger ingests OTLP natively.
	"jaeger": func(ctx context.Context) (sdktrace.SpanExporter, error) {
		if err := requireEnv("OTEL_EXPORTER_JAEGER_ENDPOINT"); err != nil {
			return nil, err
		}
		return otlptracegrpc.New(ctx)
	},
	"none": func(context.Context) (sdktrace.SpanExporter, error) {
		return stdouttrace.New(stdouttrace.WithWriter(io.Discard))
	},
}

var metrics = map[string]metricReaderFunc{
	"stdout": func(context.Context) (sdkmetric.Reader, error) {
		return periodic(stdoutmetric.New(stdoutmetric.WithWriter(os.Stdout)))
	},
	"otlp": func(ctx context.Context) (sdkmetric.Reader, error) {
		if err := requireEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "OTEL_EXPORTER_OTLP_METRICS_ENDPOINT"); err != nil {
			return nil, err
		}
		return periodic(otlpmetricgrpc.New(ctx))
	},
	"prometheus": func(context.Context) (sdkmetric.Reader, error) {
		exp, err := prometheus.New()
		if err != nil {
			return nil, fmt.Errorf("exporters: prometheus: %w", err)
		}
		return exp, nil
	},
	"none": func(context.Context) (sdkmetric.Reader, error) {
		return periodic(stdoutmetric.New(stdoutmetric.WithWriter(io.Discard)))
	},
}

// NewTracingExporter creates the span exporter registered under name.
func NewTracingExporter(ctx context.Context, name string) (sdktrace.SpanExporter, error) {
	fn, ok := tracing[normalize(name)]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownExporter, name)
	}
	return fn(ctx)
}

// NewMetricsReader creates the metrics reader registered under name.
func NewMetricsReader(ctx context.Context, name string) (sdkmetric.Reader, error) {
	fn, ok := metrics[normalize(name)]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownExporter, name)
	}
	return fn(ctx)
}

// IsTracingExporter reports whether name selects a known span exporter.
func IsTracingExporter(name string) bool {
	_, ok := tracing[normalize(name)]
	return ok
}

// IsMetricsExporter reports whether name selects a known metrics reader.
func IsMetricsExporter(name string) bool {
	_, ok := metrics[normalize(name)]
	return ok
}

// TracingExporters returns the registered span exporter names, sorted.
func TracingExporters() []string {
	return names(tracing)
}

// MetricsExporters returns the registered metrics reader names, sorted.
func MetricsExporters() []string {
	return names(metrics)
}

func normalize(name string) string {
	if name == "" {
		return "none"
	}
	return name
}

func names[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func requireEnv(keys ...string) error {
	for _, k := range keys {
		if os.Getenv(k) != "" {
			return nil
		}
	}
	return fmt.Errorf("%w: set %v", ErrEndpointNotConfigured, keys)
}

func periodic(exp sdkmetric.Exporter, err error) (sdkmetric.Reader, error) {
	if err != nil {
		return nil, fmt.Errorf("exporters: metrics exporter: %w", err)
	}
	return sdkmetric.NewPeriodicReader(exp), nil
}
