package observe

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

// Operation kinds.
const (
	KindQuery    = "query"
	KindMutation = "mutation"
)

// OperationMeta describes one instrumented cache operation.
type OperationMeta struct {
	Kind    string // KindQuery or KindMutation
	Scope   string // Table or first key segment (may be empty)
	Key     string // Canonical query key hash or mutation key (may be empty)
	Attempt int    // 1-based attempt number (0 when not retried)
}

// SpanName returns the deterministic span name for this operation.
// Format: <kind>.exec.<scope> or <kind>.exec
func (m OperationMeta) SpanName() string {
	kind := m.Kind
	if kind == "" {
		kind = KindQuery
	}
	if m.Scope != "" {
		return kind + ".exec." + m.Scope
	}
	return kind + ".exec"
}

func (m OperationMeta) attributes() []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String("op.kind", m.Kind),
	}
	if m.Scope != "" {
		attrs = append(attrs, attribute.String("op.scope", m.Scope))
	}
	return attrs
}

// Tracer wraps OpenTelemetry tracing with operation-specific span management.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Errors: EndSpan must be best-effort and must not panic.
type Tracer interface {
	// StartSpan starts a new span for an operation.
	StartSpan(ctx context.Context, meta OperationMeta) (context.Context, trace.Span)

	// EndSpan ends the span, recording any error.
	EndSpan(span trace.Span, err error)
}

type tracerImpl struct {
	tracer trace.Tracer
}

// NewTracer creates a Tracer wrapping the given OpenTelemetry tracer.
func NewTracer(t trace.Tracer) Tracer {
	return &tracerImpl{tracer: t}
}

// StartSpan starts a new span with operation metadata as attributes.
func (t *tracerImpl) StartSpan(ctx context.Context, meta OperationMeta) (context.Context, trace.Span) {
	attrs := append(meta.attributes(), attribute.Bool("op.error", false))
	if meta.Key != "" {
		attrs = append(attrs, attribute.String("op.key", meta.Key))
	}
	if meta.Attempt > 0 {
		attrs = append(attrs, attribute.Int("op.attempt", meta.Attempt))
	}

	return t.tracer.Start(ctx, meta.SpanName(),
		trace.WithAttributes(attrs...),
		trace.WithSpanKind(trace.SpanKindClient),
	)
}

// EndSpan ends the span and records the error status if present. Context
// cancellation leaves the status unset and adds a "cancelled" event.
func (t *tracerImpl) EndSpan(span trace.Span, err error) {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		span.AddEvent("cancelled", trace.WithAttributes(attribute.String("reason", err.Error())))
	case err != nil:
		span.SetStatus(codes.Error, err.Error())
		span.SetAttributes(attribute.Bool("op.error", true))
		span.RecordError(err)
	default:
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

type noopTracer struct {
	noop trace.Tracer
}

// NewNoopTracer creates a tracer that records nothing.
func NewNoopTracer() Tracer {
	return &noopTracer{
		noop: tracenoop.NewTracerProvider().Tracer("noop"),
	}
}

func (t *noopTracer) StartSpan(ctx context.Context, meta OperationMeta) (context.Context, trace.Span) {
	return t.noop.Start(ctx, meta.SpanName())
}

func (t *noopTracer) EndSpan(span trace.Span, _ error) {
	span.End()
}
