package observe

import (
	"context"
	"io"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// BenchmarkMiddleware_Wrap_Noop measures the wrapper with no-op components.
func BenchmarkMiddleware_Wrap_Noop(b *testing.B) {
	mw := NewMiddleware(nil, nil, nil)
	fn := mw.Wrap(func(context.Context, OperationMeta) (any, error) { return "ok", nil })
	meta := OperationMeta{Kind: KindQuery, Scope: "posts", Key: `["posts"]`, Attempt: 1}
	ctx := context.Background()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = fn(ctx, meta)
	}
}

// BenchmarkMiddleware_Wrap_Instrumented measures the wrapper with real
// metrics and a debug logger writing to io.Discard.
func BenchmarkMiddleware_Wrap_Instrumented(b *testing.B) {
	reader := sdkmetric.NewManualReader()
	metrics, err := NewMetrics(sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)).Meter("bench"))
	if err != nil {
		b.Fatal(err)
	}
	tracer, _ := newRecordingTracer()
	mw := NewMiddleware(tracer, metrics, NewLoggerWithWriter("debug", io.Discard))
	fn := mw.Wrap(func(context.Context, OperationMeta) (any, error) { return "ok", nil })
	meta := OperationMeta{Kind: KindMutation, Scope: "posts", Attempt: 1}
	ctx := context.Background()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = fn(ctx, meta)
	}
}

// BenchmarkLogger_Filtered measures a log call below the configured level.
func BenchmarkLogger_Filtered(b *testing.B) {
	logger := NewLoggerWithWriter("warn", io.Discard)
	ctx := context.Background()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		logger.Debug(ctx, "query execution completed", Field{Key: "duration_ms", Value: time.Millisecond})
	}
}

// BenchmarkLogger_Concurrent measures parallel writes through one logger.
func BenchmarkLogger_Concurrent(b *testing.B) {
	logger := NewLoggerWithWriter("info", io.Discard).WithOperation(OperationMeta{Kind: KindQuery, Scope: "posts"})
	ctx := context.Background()

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			logger.Info(ctx, "fetch", Field{Key: "attempt", Value: 1})
		}
	})
}
