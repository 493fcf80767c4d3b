package observe

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/trace"
)

// ExecuteFunc is the signature of an instrumented operation: one query
// function attempt or one mutation function call.
type ExecuteFunc func(ctx context.Context, meta OperationMeta) (any, error)

// Middleware wraps operations with tracing, metrics and logging.
//
// Contract:
//   - Concurrency: Wrap returns a func safe for concurrent use.
//   - Context: the span context is passed to the wrapped func.
//   - Errors: errors are recorded and returned unchanged; a panic is
//     returned as an error wrapping ErrPanicked.
type Middleware struct {
	tracer  Tracer
	metrics Metrics
	logger  Logger
}

// NewMiddleware creates a Middleware. Nil components are replaced by no-op
// implementations.
func NewMiddleware(tracer Tracer, metrics Metrics, logger Logger) *Middleware {
	if tracer == nil {
		tracer = NewNoopTracer()
	}
	if metrics == nil {
		metrics = NopMetrics()
	}
	if logger == nil {
		logger = NopLogger()
	}
	return &Middleware{tracer: tracer, metrics: metrics, logger: logger}
}

// Wrap instruments fn. An attempt that fails because its context ended, as
// when a fetch is cancelled or superseded, is logged at debug level rather
// than as a failure.
func (m *Middleware) Wrap(fn ExecuteFunc) ExecuteFunc {
	return func(ctx context.Context, meta OperationMeta) (result any, err error) {
		ctx, span := m.tracer.StartSpan(ctx, meta)
		start := time.Now()
		defer func() {
			if r := recover(); r != nil {
				result, err = nil, fmt.Errorf("%w: %v", ErrPanicked, r)
			}
			m.finish(ctx, span, meta, time.Since(start), err)
		}()
		return fn(ctx, meta)
	}
}

func (m *Middleware) finish(ctx context.Context, span trace.Span, meta OperationMeta, d time.Duration, err error) {
	m.tracer.EndSpan(span, err)
	m.metrics.RecordExecution(ctx, meta, d, err)

	logger := m.logger.WithOperation(meta)
	fields := []Field{{Key: "duration_ms", Value: d}}
	if meta.Attempt > 0 {
		fields = append(fields, Field{Key: "attempt", Value: meta.Attempt})
	}

	switch outcomeOf(ctx, err) {
	case OutcomeOK:
		logger.Debug(ctx, meta.Kind+" execution completed", fields...)
	case OutcomeCancelled:
		logger.Debug(ctx, meta.Kind+" execution cancelled", append(fields, Field{Key: "error", Value: err})...)
	default:
		logger.Warn(ctx, meta.Kind+" execution failed", append(fields, Field{Key: "error", Value: err})...)
	}
}

// MiddlewareFromObserver builds a Middleware from the primitives of obs.
func MiddlewareFromObserver(obs Observer) (*Middleware, error) {
	if obs == nil {
		return nil, ErrNilObserver
	}
	metrics, err := NewMetrics(obs.Meter())
	if err != nil {
		return nil, err
	}
	return NewMiddleware(NewTracer(obs.Tracer()), metrics, obs.Logger()), nil
}
