// Package resilience provides the retry loop behind query and mutation
// functions.
//
// A Retry runs an operation until it succeeds or its policy gives up,
// waiting between attempts with exponential backoff (1s, 2s, 4s, ... capped
// at 30s by default) or a caller-supplied delay. Hooks observe every
// failure and can hold an attempt back, which is how fetches pause while
// the client is offline.
//
//	retry := resilience.NewRetry(resilience.RetryConfig{
//	    ShouldRetry: func(failureCount int, err error) bool { return failureCount < 3 },
//	    BeforeAttempt: func(ctx context.Context, attempt int) error {
//	        return waitOnline(ctx)
//	    },
//	})
//
//	err := retry.Execute(ctx, func(ctx context.Context) error {
//	    return callExternalService(ctx)
//	})
package resilience
