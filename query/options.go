package query

import (
	"context"
	"math"
	"time"

	"github.com/jonwraymond/querycache/querykey"
)

// Status is the lifecycle status of a query or mutation.
type Status string

const (
	// StatusIdle means nothing has run yet and there is no data.
	StatusIdle Status = "idle"
	// StatusPending means the first fetch or the mutation is in progress.
	StatusPending Status = "pending"
	// StatusSuccess means data is available.
	StatusSuccess Status = "success"
	// StatusError means the last fetch or mutation failed.
	StatusError Status = "error"
)

// FetchStatus reports whether a query function is currently running.
type FetchStatus string

const (
	FetchIdle     FetchStatus = "idle"
	FetchFetching FetchStatus = "fetching"
	// FetchPaused means a fetch is waiting for the network to come back.
	FetchPaused FetchStatus = "paused"
)

// NetworkMode controls how fetches react to the OnlineManager.
type NetworkMode int

const (
	// NetworkModeOnline pauses attempts while offline.
	NetworkModeOnline NetworkMode = iota
	// NetworkModeAlways runs attempts regardless of connectivity.
	NetworkModeAlways
)

// Durations with special meaning.
const (
	// StaleTimeInfinite keeps data fresh until it is invalidated.
	StaleTimeInfinite time.Duration = math.MaxInt64

	// CacheTimeInfinite disables garbage collection.
	CacheTimeInfinite time.Duration = math.MaxInt64

	// CacheTimeImmediate removes an unused entry as soon as it has no observers.
	CacheTimeImmediate time.Duration = -1

	// DefaultCacheTime is used when CacheTime is zero.
	DefaultCacheTime = 5 * time.Minute
)

// QueryFunc fetches the data addressed by key. It should honor ctx.
type QueryFunc func(ctx context.Context, key querykey.Key) (any, error)

// RetryPolicy reports whether another attempt is made after failureCount
// consecutive failures, the last one being err.
type RetryPolicy func(failureCount int, err error) bool

// RetryDelayFunc returns the wait before the next attempt.
type RetryDelayFunc func(failureCount int, err error) time.Duration

// RetryCount retries up to n times after the first failure.
func RetryCount(n int) RetryPolicy {
	return func(failureCount int, _ error) bool {
		return failureCount <= n
	}
}

// RetryNever never retries.
func RetryNever(int, error) bool {
	return false
}

// DefaultRetry makes at most three attempts in total.
var DefaultRetry = RetryCount(2)

// Updater computes new cache data from the current data. The current data is
// nil when the query has none. Returning nil leaves the cache unchanged.
type Updater func(old any) any

// Value returns an Updater that replaces the data with v.
func Value(v any) Updater {
	return func(any) any { return v }
}

// QueryOptions configures a query. Zero fields fall back to client and
// per-key defaults.
type QueryOptions struct {
	// QueryKey addresses the query. Required.
	QueryKey querykey.Key

	// QueryFn fetches the data. Required before the first fetch.
	QueryFn QueryFunc

	// StaleTime is how long data stays fresh after it was written.
	// Default: 0 (stale immediately)
	StaleTime time.Duration

	// CacheTime is how long an unobserved query stays cached.
	// Default: DefaultCacheTime
	CacheTime time.Duration

	// Retry decides whether a failed attempt is retried.
	// Default: DefaultRetry
	Retry RetryPolicy

	// RetryDelay returns the backoff before a retry.
	// Default: min(1s * 2^(failureCount-1), 30s)
	RetryDelay RetryDelayFunc

	// NetworkMode controls pausing while offline.
	// Default: NetworkModeOnline
	NetworkMode NetworkMode

	// InitialData seeds a query that is created by these options.
	InitialData any

	// InitialDataUpdatedAt stamps InitialData. Default: creation time.
	InitialDataUpdatedAt time.Time

	// DisableStructuralSharing stores fetched data as returned.
	DisableStructuralSharing bool
}

// merge returns o with every non-zero field of over applied on top.
func (o QueryOptions) merge(over QueryOptions) QueryOptions {
	if over.QueryKey != nil {
		o.QueryKey = over.QueryKey
	}
	if over.QueryFn != nil {
		o.QueryFn = over.QueryFn
	}
	if over.StaleTime != 0 {
		o.StaleTime = over.StaleTime
	}
	if over.CacheTime != 0 {
		o.CacheTime = over.CacheTime
	}
	if over.Retry != nil {
		o.Retry = over.Retry
	}
	if over.RetryDelay != nil {
		o.RetryDelay = over.RetryDelay
	}
	if over.NetworkMode != NetworkModeOnline {
		o.NetworkMode = over.NetworkMode
	}
	if over.InitialData != nil {
		o.InitialData = over.InitialData
	}
	if !over.InitialDataUpdatedAt.IsZero() {
		o.InitialDataUpdatedAt = over.InitialDataUpdatedAt
	}
	if over.DisableStructuralSharing {
		o.DisableStructuralSharing = true
	}
	return o
}

func (o QueryOptions) withDefaults() QueryOptions {
	if o.CacheTime == 0 {
		o.CacheTime = DefaultCacheTime
	}
	if o.Retry == nil {
		o.Retry = DefaultRetry
	}
	return o
}

// FetchOptions configures a single Query.Fetch call.
type FetchOptions struct {
	// CancelRefetch cancels a fetch already in flight and starts a new one
	// instead of joining it.
	CancelRefetch bool
}

// CancelOptions configures cancellation of an in-flight fetch.
type CancelOptions struct {
	// Revert restores the state the query had before the fetch started.
	Revert bool
}

// SetDataOptions configures Query.SetData.
type SetDataOptions struct {
	// UpdatedAt stamps the data. Default: now.
	UpdatedAt time.Time

	// Manual leaves the fetch status and failure count untouched.
	Manual bool
}

// RefetchOptions configures refetch operations.
type RefetchOptions struct {
	// CancelRefetch restarts fetches that are already in flight.
	CancelRefetch bool

	// ThrowOnError returns the first fetch error instead of swallowing it.
	ThrowOnError bool
}

// InvalidateOptions configures Client.InvalidateQueries.
type InvalidateOptions struct {
	// RefetchInactive also refetches invalidated queries without enabled
	// observers. By default only active queries are refetched.
	RefetchInactive bool

	// SkipRefetch only marks queries invalidated.
	SkipRefetch bool

	CancelRefetch bool
	ThrowOnError  bool
}
