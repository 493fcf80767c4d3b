package resilience

import (
	"context"
	"math"
	"math/rand/v2"
	"time"
)

// Backoff defaults.
const (
	DefaultMaxAttempts  = 3
	DefaultInitialDelay = time.Second
	DefaultMaxDelay     = 30 * time.Second
)

// RetryConfig configures a Retry. Every field is optional.
type RetryConfig struct {
	// ShouldRetry decides, after failureCount consecutive failures, whether
	// another attempt is made.
	// Default: retry until MaxAttempts attempts were made.
	ShouldRetry func(failureCount int, err error) bool

	// MaxAttempts bounds the attempts when ShouldRetry is nil.
	// Default: DefaultMaxAttempts
	MaxAttempts int

	// Delay returns the wait before the next attempt. MaxDelay caps it.
	// Default: exponential backoff from InitialDelay, doubling per failure.
	Delay func(failureCount int, err error) time.Duration

	// InitialDelay is the first exponential backoff step.
	// Default: DefaultInitialDelay
	InitialDelay time.Duration

	// MaxDelay caps every delay.
	// Default: DefaultMaxDelay
	MaxDelay time.Duration

	// Jitter adds up to 25% randomness to delays.
	Jitter bool

	// BeforeAttempt runs before every attempt, including the first. A
	// non-nil error stops the loop and is returned. It may block, for
	// example while the network is unavailable.
	BeforeAttempt func(ctx context.Context, attempt int) error

	// OnFailure is called after every failed attempt with the number of
	// consecutive failures so far.
	OnFailure func(failureCount int, err error)

	// OnRetry is called before waiting for the next attempt.
	OnRetry func(failureCount int, err error, delay time.Duration)
}

// Retry runs an operation until it succeeds or the policy gives up.
//
// Contract:
//   - Concurrency: a Retry holds no per-call state and may be shared.
//   - Context: the wait between attempts ends early when ctx ends.
type Retry struct {
	config RetryConfig
}

// NewRetry creates a retry loop with defaults applied to config.
func NewRetry(config RetryConfig) *Retry {
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = DefaultMaxAttempts
	}
	if config.InitialDelay <= 0 {
		config.InitialDelay = DefaultInitialDelay
	}
	if config.MaxDelay <= 0 {
		config.MaxDelay = DefaultMaxDelay
	}
	return &Retry{config: config}
}

// Execute runs op and returns the error of the last attempt, or ctx.Err()
// if ctx ends while waiting for the next one.
func (r *Retry) Execute(ctx context.Context, op func(context.Context) error) error {
	for failures := 0; ; {
		if r.config.BeforeAttempt != nil {
			if err := r.config.BeforeAttempt(ctx, failures+1); err != nil {
				return err
			}
		}

		err := op(ctx)
		if err == nil {
			return nil
		}
		failures++

		if r.config.OnFailure != nil {
			r.config.OnFailure(failures, err)
		}

		// An attempt that failed because ctx ended is not retried.
		if ctx.Err() != nil || !r.shouldRetry(failures, err) {
			return err
		}

		delay := r.delay(failures, err)
		if r.config.OnRetry != nil {
			r.config.OnRetry(failures, err, delay)
		}
		if err := sleep(ctx, delay); err != nil {
			return err
		}
	}
}

func (r *Retry) shouldRetry(failures int, err error) bool {
	if r.config.ShouldRetry != nil {
		return r.config.ShouldRetry(failures, err)
	}
	return failures < r.config.MaxAttempts
}

// delay returns the wait after the given number of failures.
func (r *Retry) delay(failures int, err error) time.Duration {
	var d time.Duration
	if r.config.Delay != nil {
		d = r.config.Delay(failures, err)
	} else {
		d = time.Duration(float64(r.config.InitialDelay) * math.Pow(2, float64(failures-1)))
	}

	d = min(max(d, 0), r.config.MaxDelay)
	if r.config.Jitter && d >= 4 {
		// #nosec G404 -- jitter is non-cryptographic timing variance.
		d += time.Duration(rand.Int64N(int64(d / 4)))
	}
	return d
}

// Config returns the configuration with defaults applied.
func (r *Retry) Config() RetryConfig {
	return r.config
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
