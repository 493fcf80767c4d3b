package resilience_test

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jonwraymond/querycache/resilience"
)

func ExampleNewRetry() {
	retry := resilience.NewRetry(resilience.RetryConfig{
		MaxAttempts:  3,
		InitialDelay: time.Millisecond,
	})

	attempts := 0
	err := retry.Execute(context.Background(), func(ctx context.Context) error {
		attempts++
		if attempts < 3 {
			return errors.New("temporary failure")
		}
		return nil
	})

	fmt.Println(attempts, err)
	// Output:
	// 3 <nil>
}

func ExampleRetryConfig_onRetry() {
	retry := resilience.NewRetry(resilience.RetryConfig{
		ShouldRetry: func(failureCount int, err error) bool { return failureCount < 2 },
		Delay:       func(int, error) time.Duration { return time.Millisecond },
		OnRetry: func(failureCount int, err error, delay time.Duration) {
			fmt.Printf("retry after failure %d: %v\n", failureCount, err)
		},
	})

	err := retry.Execute(context.Background(), func(ctx context.Context) error {
		return errors.New("unavailable")
	})
	fmt.Println(err)
	// Output:
	// retry after failure 1: unavailable
	// unavailable
}
