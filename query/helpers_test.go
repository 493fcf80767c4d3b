package query

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonwraymond/querycache/observe"
	"github.com/jonwraymond/querycache/querykey"
)

var errUpstream = errors.New("upstream unavailable")

// fastRetry retries with a negligible delay.
func fastRetry(int, error) time.Duration { return time.Millisecond }

// waitFor polls cond until it holds or a deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

// counted returns a QueryFunc that counts its calls and returns v.
func counted(calls *atomic.Int32, v any) QueryFunc {
	return func(context.Context, querykey.Key) (any, error) {
		calls.Add(1)
		return v, nil
	}
}

// gated returns a QueryFunc that counts its calls and blocks until release
// is closed or the fetch is cancelled.
func gated(calls *atomic.Int32, release <-chan struct{}, v any) QueryFunc {
	return func(ctx context.Context, _ querykey.Key) (any, error) {
		calls.Add(1)
		select {
		case <-release:
			return v, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func failing(calls *atomic.Int32) QueryFunc {
	return func(context.Context, querykey.Key) (any, error) {
		calls.Add(1)
		return nil, errUpstream
	}
}

func buildQuery(t *testing.T, client *Client, opts QueryOptions) *Query {
	t.Helper()
	q, err := client.QueryCache().Build(client, opts)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	return q
}

// recorder collects values delivered to a listener.
type recorder[T any] struct {
	mu   sync.Mutex
	vals []T
}

func (r *recorder[T]) add(v T) {
	r.mu.Lock()
	r.vals = append(r.vals, v)
	r.mu.Unlock()
}

func (r *recorder[T]) all() []T {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]T(nil), r.vals...)
}

func (r *recorder[T]) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.vals)
}

// syncBuffer is a bytes.Buffer safe for concurrent writes and reads.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func newTestLogger(w io.Writer) observe.Logger {
	return observe.NewLoggerWithWriter("debug", w)
}
