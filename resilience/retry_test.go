package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

var errBoom = errors.New("boom")

func TestNewRetry_Defaults(t *testing.T) {
	cfg := NewRetry(RetryConfig{}).Config()

	if cfg.MaxAttempts != DefaultMaxAttempts {
		t.Errorf("MaxAttempts = %d, want %d", cfg.MaxAttempts, DefaultMaxAttempts)
	}
	if cfg.InitialDelay != DefaultInitialDelay {
		t.Errorf("InitialDelay = %v, want %v", cfg.InitialDelay, DefaultInitialDelay)
	}
	if cfg.MaxDelay != DefaultMaxDelay {
		t.Errorf("MaxDelay = %v, want %v", cfg.MaxDelay, DefaultMaxDelay)
	}
}

func TestRetry_Attempts(t *testing.T) {
	tests := []struct {
		name         string
		config       RetryConfig
		failUntil    int // attempts that fail before success; -1 fails forever
		wantAttempts int
		wantErr      bool
	}{
		{"success first", RetryConfig{}, 0, 1, false},
		{"success on third", RetryConfig{MaxAttempts: 3}, 2, 3, false},
		{"exhausted", RetryConfig{MaxAttempts: 3}, -1, 3, true},
		{
			name: "should retry replaces max attempts",
			config: RetryConfig{
				MaxAttempts: 1,
				ShouldRetry: func(failureCount int, _ error) bool { return failureCount < 4 },
			},
			failUntil:    -1,
			wantAttempts: 4,
			wantErr:      true,
		},
		{
			name:         "never retry",
			config:       RetryConfig{ShouldRetry: func(int, error) bool { return false }},
			failUntil:    -1,
			wantAttempts: 1,
			wantErr:      true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.config.InitialDelay = time.Millisecond
			r := NewRetry(tt.config)

			attempts := 0
			err := r.Execute(context.Background(), func(context.Context) error {
				attempts++
				if tt.failUntil < 0 || attempts <= tt.failUntil {
					return errBoom
				}
				return nil
			})

			if (err != nil) != tt.wantErr {
				t.Fatalf("Execute() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, errBoom) {
				t.Errorf("Execute() error = %v, want the last attempt's error", err)
			}
			if attempts != tt.wantAttempts {
				t.Errorf("attempts = %d, want %d", attempts, tt.wantAttempts)
			}
		})
	}
}

func TestRetry_ContextCancelledWhileWaiting(t *testing.T) {
	r := NewRetry(RetryConfig{MaxAttempts: 10, InitialDelay: 100 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	err := r.Execute(ctx, func(context.Context) error { return errBoom })
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Execute() error = %v, want context.Canceled", err)
	}
}

func TestRetry_NoRetryAfterContextEnds(t *testing.T) {
	r := NewRetry(RetryConfig{MaxAttempts: 5, InitialDelay: time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	attempts := 0
	err := r.Execute(ctx, func(context.Context) error {
		attempts++
		cancel()
		return errBoom
	})

	if !errors.Is(err, errBoom) {
		t.Errorf("Execute() error = %v, want %v", err, errBoom)
	}
	if attempts != 1 {
		t.Errorf("attempts = %d, want 1", attempts)
	}
}

func TestRetry_Callbacks(t *testing.T) {
	var failures, retries []int
	var delays []time.Duration
	r := NewRetry(RetryConfig{
		MaxAttempts:  3,
		InitialDelay: time.Millisecond,
		OnFailure:    func(failureCount int, _ error) { failures = append(failures, failureCount) },
		OnRetry: func(failureCount int, _ error, delay time.Duration) {
			retries = append(retries, failureCount)
			delays = append(delays, delay)
		},
	})

	_ = r.Execute(context.Background(), func(context.Context) error { return errBoom })

	if diff := cmp.Diff([]int{1, 2, 3}, failures); diff != "" {
		t.Errorf("OnFailure counts mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]int{1, 2}, retries); diff != "" {
		t.Errorf("OnRetry counts mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]time.Duration{time.Millisecond, 2 * time.Millisecond}, delays); diff != "" {
		t.Errorf("delays mismatch (-want +got):\n%s", diff)
	}
}

func TestRetry_Delay(t *testing.T) {
	tests := []struct {
		name     string
		config   RetryConfig
		failures int
		want     time.Duration
	}{
		{"first backoff", RetryConfig{}, 1, time.Second},
		{"doubles", RetryConfig{InitialDelay: 10 * time.Millisecond}, 3, 40 * time.Millisecond},
		{"capped", RetryConfig{MaxDelay: 5 * time.Second}, 10, 5 * time.Second},
		{"default cap", RetryConfig{}, 20, DefaultMaxDelay},
		{
			name: "delay func",
			config: RetryConfig{Delay: func(failureCount int, _ error) time.Duration {
				return time.Duration(failureCount) * 20 * time.Millisecond
			}},
			failures: 2,
			want:     40 * time.Millisecond,
		},
		{
			name: "delay func capped",
			config: RetryConfig{MaxDelay: 50 * time.Millisecond, Delay: func(int, error) time.Duration {
				return time.Hour
			}},
			failures: 1,
			want:     50 * time.Millisecond,
		},
		{
			name:     "negative delay",
			config:   RetryConfig{Delay: func(int, error) time.Duration { return -time.Second }},
			failures: 1,
			want:     0,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NewRetry(tt.config).delay(tt.failures, nil); got != tt.want {
				t.Errorf("delay(%d) = %v, want %v", tt.failures, got, tt.want)
			}
		})
	}
}

func TestRetry_JitterBounds(t *testing.T) {
	r := NewRetry(RetryConfig{InitialDelay: 100 * time.Millisecond, Jitter: true})
	for range 50 {
		d := r.delay(1, nil)
		if d < 100*time.Millisecond || d >= 125*time.Millisecond {
			t.Fatalf("delay = %v, want within [100ms, 125ms)", d)
		}
	}
}

func TestRetry_BeforeAttemptStops(t *testing.T) {
	offline := errors.New("offline")
	var seen []int
	r := NewRetry(RetryConfig{
		MaxAttempts:  5,
		InitialDelay: time.Millisecond,
		BeforeAttempt: func(_ context.Context, attempt int) error {
			seen = append(seen, attempt)
			if attempt == 2 {
				return offline
			}
			return nil
		},
	})

	attempts := 0
	err := r.Execute(context.Background(), func(context.Context) error {
		attempts++
		return errBoom
	})

	if !errors.Is(err, offline) {
		t.Errorf("Execute() error = %v, want %v", err, offline)
	}
	if attempts != 1 {
		t.Errorf("attempts = %d, want 1", attempts)
	}
	if diff := cmp.Diff([]int{1, 2}, seen); diff != "" {
		t.Errorf("BeforeAttempt attempts mismatch (-want +got):\n%s", diff)
	}
}
