package query

import (
	"errors"
	"fmt"

	"github.com/jonwraymond/querycache/querykey"
)

// Error classes. Every configuration or parameter error returned by this
// package matches one of them with errors.Is.
var (
	// ErrConfiguration marks a misconfigured client, query or mutation.
	ErrConfiguration = errors.New("query: configuration error")

	// ErrParameter marks a malformed key or filter.
	ErrParameter = errors.New("query: invalid parameter")
)

// Sentinel errors.
var (
	// ErrNilClient is returned when a cache or observer is used without a client.
	ErrNilClient = fmt.Errorf("%w: client is nil", ErrConfiguration)

	// ErrMissingQueryFn is returned when a fetch is requested for a query
	// that has no query function.
	ErrMissingQueryFn = fmt.Errorf("%w: missing query function", ErrConfiguration)

	// ErrMissingMutationFn is returned when a mutation has no mutation function.
	ErrMissingMutationFn = fmt.Errorf("%w: missing mutation function", ErrConfiguration)

	// ErrInvalidFilter is returned when a filter holds a malformed key.
	ErrInvalidFilter = fmt.Errorf("%w: invalid filter", ErrParameter)

	// ErrCancelled is returned to callers waiting on a fetch that was cancelled.
	// It is never stored as a query's error.
	ErrCancelled = errors.New("query: fetch cancelled")
)

// FetchError is the error stored on a query after its query function failed
// and every retry was used up.
type FetchError struct {
	Key      querykey.Key
	Attempts int
	Err      error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("query: fetch %s failed after %d attempt(s): %v", e.Key, e.Attempts, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

func invalidKey(err error) error {
	return fmt.Errorf("%w: %w", ErrParameter, err)
}

func isUsageError(err error) bool {
	return errors.Is(err, ErrConfiguration) || errors.Is(err, ErrParameter)
}
