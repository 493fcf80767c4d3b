package observe

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metric instrument names.
const (
	MetricExecTotal     = "querycache.exec.total"
	MetricExecErrors    = "querycache.exec.errors"
	MetricExecCancelled = "querycache.exec.cancelled"
	MetricExecDuration  = "querycache.exec.duration_ms"
)

// Outcome values of the op.outcome attribute.
const (
	OutcomeOK        = "ok"
	OutcomeError     = "error"
	OutcomeCancelled = "cancelled"
)

// Metrics records execution metrics for cache operations.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Errors: implementations must not panic.
type Metrics interface {
	// RecordExecution records one attempt. An error observed after ctx
	// ended counts as a cancellation, not a failure.
	RecordExecution(ctx context.Context, meta OperationMeta, duration time.Duration, err error)
}

type metricsImpl struct {
	total     metric.Int64Counter
	errors    metric.Int64Counter
	cancelled metric.Int64Counter
	duration  metric.Float64Histogram
}

// NewMetrics creates the operation instruments on meter.
func NewMetrics(meter metric.Meter) (Metrics, error) {
	var (
		m   metricsImpl
		err error
	)
	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
		unit string
	}{
		{&m.total, MetricExecTotal, "Query function and mutation function executions", "{call}"},
		{&m.errors, MetricExecErrors, "Executions that returned an error", "{error}"},
		{&m.cancelled, MetricExecCancelled, "Executions abandoned because their fetch was cancelled", "{call}"},
	}
	for _, c := range counters {
		*c.dst, err = meter.Int64Counter(c.name, metric.WithDescription(c.desc), metric.WithUnit(c.unit))
		if err != nil {
			return nil, err
		}
	}

	m.duration, err = meter.Float64Histogram(
		MetricExecDuration,
		metric.WithDescription("Execution duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (m *metricsImpl) RecordExecution(ctx context.Context, meta OperationMeta, duration time.Duration, err error) {
	outcome := outcomeOf(ctx, err)
	base := metric.WithAttributes(meta.attributes()...)

	m.total.Add(ctx, 1, base)
	switch outcome {
	case OutcomeError:
		m.errors.Add(ctx, 1, base)
	case OutcomeCancelled:
		m.cancelled.Add(ctx, 1, base)
	}

	attrs := append(meta.attributes(), attribute.String("op.outcome", outcome))
	m.duration.Record(ctx, float64(duration.Microseconds())/1000, metric.WithAttributes(attrs...))
}

func outcomeOf(ctx context.Context, err error) string {
	switch {
	case err == nil:
		return OutcomeOK
	case ctx.Err() != nil:
		return OutcomeCancelled
	default:
		return OutcomeError
	}
}

// NopMetrics returns a Metrics that records nothing.
func NopMetrics() Metrics {
	return nopMetrics{}
}

type nopMetrics struct{}

func (nopMetrics) RecordExecution(context.Context, OperationMeta, time.Duration, error) {}
