package query

import (
	"context"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/jonwraymond/querycache/observe"
	"github.com/jonwraymond/querycache/querykey"
	"github.com/jonwraymond/querycache/resilience"
	"github.com/jonwraymond/querycache/structural"
)

// QueryState is a snapshot of a query's state.
type QueryState struct {
	Status      Status
	FetchStatus FetchStatus

	// Data is the last successfully fetched or written value. Errors never
	// clear it.
	Data             any
	DataUpdatedAt    time.Time
	DataUpdateCount  int
	Error            error
	ErrorUpdatedAt   time.Time
	ErrorUpdateCount int

	// FailureCount is the number of failed attempts of the current fetch.
	FailureCount  int
	FailureReason error

	IsInvalidated bool
}

// HasData reports whether data was ever fetched or written.
func (s QueryState) HasData() bool {
	return !s.DataUpdatedAt.IsZero()
}

// IsStaleByTime reports whether the data is older than staleTime. Missing or
// invalidated data is always stale.
func (s QueryState) IsStaleByTime(staleTime time.Duration) bool {
	if s.IsInvalidated || !s.HasData() {
		return true
	}
	if staleTime == StaleTimeInfinite {
		return false
	}
	return !time.Now().Before(s.DataUpdatedAt.Add(staleTime))
}

func initialQueryState(opts QueryOptions) QueryState {
	if opts.InitialData == nil {
		return QueryState{Status: StatusIdle, FetchStatus: FetchIdle}
	}
	updatedAt := opts.InitialDataUpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now()
	}
	return QueryState{
		Status:        StatusSuccess,
		FetchStatus:   FetchIdle,
		Data:          opts.InitialData,
		DataUpdatedAt: updatedAt,
	}
}

// Query is the cache entry for one key. It owns the fetch lifecycle: at most
// one fetch runs at a time, concurrent fetch requests join it, failures are
// retried, and unobserved queries are garbage collected after CacheTime.
//
// Queries are created by a QueryCache and must not be copied.
type Query struct {
	key    querykey.Key
	hash   string
	scope  string
	client *Client
	cache  *QueryCache

	mu           sync.Mutex
	options      QueryOptions
	state        QueryState
	initialState QueryState
	observers    []*QueryObserver
	gcTimer      *time.Timer

	flight      singleflight.Group
	inflight    bool
	fetchGen    uint64
	cancelFetch context.CancelFunc
	abort       chan struct{}
	revertState QueryState
	orphaned    bool
}

func newQuery(client *Client, cache *QueryCache, hash string, opts QueryOptions) *Query {
	q := &Query{
		key:     opts.QueryKey,
		hash:    hash,
		scope:   scopeOf(opts.QueryKey),
		client:  client,
		cache:   cache,
		options: opts,
	}
	q.initialState = initialQueryState(opts)
	q.state = q.initialState
	return q
}

// scopeOf names the operation for instrumentation: the first key segment
// when it is a string.
func scopeOf(key querykey.Key) string {
	if len(key) == 0 {
		return ""
	}
	if s, ok := key[0].(string); ok {
		return s
	}
	return ""
}

// Key returns the query key.
func (q *Query) Key() querykey.Key { return q.key }

// Hash returns the canonical hash of the query key.
func (q *Query) Hash() string { return q.hash }

// State returns a snapshot of the query state.
func (q *Query) State() QueryState {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.state
}

// Options returns the options the query currently runs with.
func (q *Query) Options() QueryOptions {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.options
}

// ObserverCount returns the number of observers bound to the query.
func (q *Query) ObserverCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.observers)
}

func (q *Query) observerSnapshot() []*QueryObserver {
	q.mu.Lock()
	defer q.mu.Unlock()
	return slices.Clone(q.observers)
}

// IsActive reports whether at least one enabled observer is bound.
func (q *Query) IsActive() bool {
	for _, o := range q.observerSnapshot() {
		if o.enabled() {
			return true
		}
	}
	return false
}

// isDisabled reports whether refetch operations should skip the query.
func (q *Query) isDisabled() bool {
	if q.ObserverCount() > 0 {
		return !q.IsActive()
	}
	return q.Options().QueryFn == nil
}

// IsStale reports whether the data is stale. With observers bound, the data
// is stale when it is stale for any of them; otherwise the query's own
// StaleTime applies.
func (q *Query) IsStale() bool {
	q.mu.Lock()
	state := q.state
	staleTime := q.options.StaleTime
	observers := slices.Clone(q.observers)
	q.mu.Unlock()

	if len(observers) == 0 {
		return state.IsStaleByTime(staleTime)
	}
	for _, o := range observers {
		if state.IsStaleByTime(o.staleTime()) {
			return true
		}
	}
	return false
}

// IsStaleByTime reports whether the data is older than staleTime.
func (q *Query) IsStaleByTime(staleTime time.Duration) bool {
	return q.State().IsStaleByTime(staleTime)
}

// isFetching reports whether a fetch is in flight on behalf of an observer
// or an explicit caller. Fetches left behind by their last observer do not
// count.
func (q *Query) isFetching() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.inflight && !q.orphaned && q.state.FetchStatus == FetchFetching
}

// updateOptions applies the non-zero fields of opts. The query function is
// kept when opts has none.
func (q *Query) updateOptions(opts QueryOptions) {
	q.mu.Lock()
	q.options = q.options.merge(opts.withDefaults())
	q.mu.Unlock()
}

// pendingFetch is a handle on an in-flight fetch.
type pendingFetch struct {
	ch    <-chan singleflight.Result
	abort <-chan struct{}
}

func (f pendingFetch) wait(ctx context.Context) (any, error) {
	select {
	case r := <-f.ch:
		return r.Val, r.Err
	case <-f.abort:
		return nil, ErrCancelled
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Fetch runs the query function and returns the fetched data. When a fetch
// is already in flight the call joins it and returns the same result, unless
// opts.CancelRefetch asks for a restart.
//
// The query function runs detached from ctx: if ctx ends first, Fetch
// returns ctx.Err() and the fetch still completes and populates the cache.
func (q *Query) Fetch(ctx context.Context, opts FetchOptions) (any, error) {
	f, err := q.startFetch(ctx, opts)
	if err != nil {
		return nil, err
	}
	return f.wait(ctx)
}

// startFetch moves the query to fetching before it returns, so observers see
// the transition synchronously.
func (q *Query) startFetch(ctx context.Context, opts FetchOptions) (pendingFetch, error) {
	q.mu.Lock()
	if q.options.QueryFn == nil {
		q.mu.Unlock()
		return pendingFetch{}, ErrMissingQueryFn
	}

	superseded := false
	if q.inflight {
		if !opts.CancelRefetch || !q.state.HasData() {
			f := pendingFetch{
				ch:    q.flight.DoChan(q.hash, func() (any, error) { return nil, ErrCancelled }),
				abort: q.abort,
			}
			q.mu.Unlock()
			return f, nil
		}
		q.supersedeLocked()
		superseded = true
	}

	q.fetchGen++
	gen := q.fetchGen
	fetchCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	q.cancelFetch = cancel
	q.abort = make(chan struct{})
	q.inflight = true
	q.orphaned = false
	q.clearGCLocked()

	if !superseded {
		q.revertState = q.state
	}
	q.state.FetchStatus = FetchFetching
	q.state.FailureCount = 0
	q.state.FailureReason = nil
	if !q.state.HasData() {
		q.state.Status = StatusPending
		q.state.Error = nil
	}

	f := pendingFetch{
		ch:    q.flight.DoChan(q.hash, func() (any, error) { return q.run(fetchCtx, gen) }),
		abort: q.abort,
	}
	q.dispatchLocked(ActionFetch)
	q.mu.Unlock()

	q.client.notify.flush()
	return f, nil
}

// supersedeLocked detaches the in-flight fetch. Its waiters get ErrCancelled
// and its result is discarded when it arrives.
func (q *Query) supersedeLocked() {
	q.fetchGen++
	q.inflight = false
	q.orphaned = false
	q.flight.Forget(q.hash)
	if q.cancelFetch != nil {
		q.cancelFetch()
		q.cancelFetch = nil
	}
	if q.abort != nil {
		close(q.abort)
		q.abort = nil
	}
}

func (q *Query) current(gen uint64) bool {
	return q.inflight && q.fetchGen == gen
}

// run executes the query function with retries and settles the result.
func (q *Query) run(ctx context.Context, gen uint64) (any, error) {
	q.mu.Lock()
	opts := q.options
	q.mu.Unlock()

	logger := q.client.logger.WithOperation(observe.OperationMeta{
		Kind:  observe.KindQuery,
		Scope: q.scope,
		Key:   q.hash,
	})

	attempts := 0
	var data any

	policy := opts.Retry
	if policy == nil {
		policy = DefaultRetry
	}

	retry := resilience.NewRetry(resilience.RetryConfig{
		ShouldRetry: func(failureCount int, err error) bool {
			if q.isOrphaned(gen) {
				return false
			}
			return policy(failureCount, err)
		},
		Delay: opts.RetryDelay,
		BeforeAttempt: func(ctx context.Context, _ int) error {
			return q.client.awaitNetwork(ctx, opts.NetworkMode, func(paused bool) {
				q.setPaused(gen, paused)
			})
		},
		OnFailure: func(failureCount int, err error) {
			q.recordFailure(gen, failureCount, err)
		},
		OnRetry: func(attempt int, err error, delay time.Duration) {
			logger.Debug(ctx, "retrying query",
				observe.Field{Key: "attempt", Value: attempt},
				observe.Field{Key: "delay_ms", Value: delay.Milliseconds()},
				observe.Field{Key: "error", Value: err},
			)
		},
	})

	err := retry.Execute(ctx, func(ctx context.Context) error {
		attempts++
		meta := observe.OperationMeta{
			Kind:    observe.KindQuery,
			Scope:   q.scope,
			Key:     q.hash,
			Attempt: attempts,
		}
		v, err := q.client.execute(ctx, meta, func(ctx context.Context) (any, error) {
			return opts.QueryFn(ctx, q.key)
		})
		if err != nil {
			return err
		}
		data = v
		return nil
	})

	return q.settle(gen, attempts, data, err)
}

func (q *Query) isOrphaned(gen uint64) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.current(gen) && q.orphaned
}

func (q *Query) setPaused(gen uint64, paused bool) {
	q.mu.Lock()
	if !q.current(gen) {
		q.mu.Unlock()
		return
	}
	action := ActionContinue
	q.state.FetchStatus = FetchFetching
	if paused {
		action = ActionPause
		q.state.FetchStatus = FetchPaused
	}
	q.dispatchLocked(action)
	q.mu.Unlock()
	q.client.notify.flush()
}

func (q *Query) recordFailure(gen uint64, failureCount int, err error) {
	q.mu.Lock()
	if !q.current(gen) {
		q.mu.Unlock()
		return
	}
	q.state.FailureCount = failureCount
	q.state.FailureReason = err
	q.dispatchLocked(ActionFailed)
	q.mu.Unlock()
	q.client.notify.flush()
}

// settle applies the outcome of fetch gen. Outcomes of superseded fetches
// are dropped.
func (q *Query) settle(gen uint64, attempts int, data any, err error) (any, error) {
	q.mu.Lock()
	if !q.current(gen) {
		q.mu.Unlock()
		return nil, ErrCancelled
	}

	cancel := q.cancelFetch
	q.inflight = false
	q.orphaned = false
	q.cancelFetch = nil
	q.abort = nil
	q.flight.Forget(q.hash)

	now := time.Now()
	action := ActionSuccess
	if err == nil {
		data = q.applyDataLocked(data, now, false)
	} else {
		action = ActionError
		cause := err
		err = &FetchError{Key: q.key, Attempts: attempts, Err: cause}
		q.state.Status = StatusError
		q.state.FetchStatus = FetchIdle
		q.state.Error = err
		q.state.ErrorUpdatedAt = now
		q.state.ErrorUpdateCount++
		q.state.FailureCount = attempts
		q.state.FailureReason = cause
	}
	q.dispatchLocked(action)
	if len(q.observers) == 0 {
		q.scheduleGCLocked()
	}
	q.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	q.client.notify.flush()

	if err != nil {
		q.client.logger.WithOperation(observe.OperationMeta{
			Kind:  observe.KindQuery,
			Scope: q.scope,
			Key:   q.hash,
		}).Warn(context.Background(), "query fetch failed",
			observe.Field{Key: "attempts", Value: attempts},
			observe.Field{Key: "error", Value: err},
		)
	}
	q.cache.settled(q, data, err)
	return data, err
}

// applyDataLocked stores data as a successful result and returns the stored
// value, which is structurally shared with the previous data.
func (q *Query) applyDataLocked(data any, updatedAt time.Time, manual bool) any {
	if !q.options.DisableStructuralSharing {
		data = structural.Merge(q.state.Data, data)
	}
	q.state.Status = StatusSuccess
	q.state.Data = data
	q.state.DataUpdatedAt = updatedAt
	q.state.DataUpdateCount++
	q.state.Error = nil
	q.state.IsInvalidated = false
	if !manual {
		q.state.FetchStatus = FetchIdle
		q.state.FailureCount = 0
		q.state.FailureReason = nil
	}
	return data
}

// SetData writes data to the query without fetching and returns the stored
// value.
func (q *Query) SetData(data any, opts SetDataOptions) any {
	updatedAt := opts.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now()
	}

	q.mu.Lock()
	stored := q.applyDataLocked(data, updatedAt, opts.Manual)
	q.dispatchLocked(ActionSuccess)
	q.mu.Unlock()

	q.client.notify.flush()
	return stored
}

// Cancel stops the in-flight fetch, if any. Callers waiting on it get
// ErrCancelled. With opts.Revert the state from before the fetch is
// restored; the cancellation itself is never recorded as an error.
func (q *Query) Cancel(opts CancelOptions) {
	q.mu.Lock()
	if !q.inflight {
		q.mu.Unlock()
		return
	}
	q.supersedeLocked()
	if opts.Revert {
		q.state = q.revertState
	}
	q.state.FetchStatus = FetchIdle
	q.dispatchLocked(ActionCancel)
	if len(q.observers) == 0 {
		q.scheduleGCLocked()
	}
	q.mu.Unlock()

	q.client.notify.flush()
}

// Invalidate marks the data stale regardless of StaleTime.
func (q *Query) Invalidate() {
	q.mu.Lock()
	if q.state.IsInvalidated {
		q.mu.Unlock()
		return
	}
	q.state.IsInvalidated = true
	q.dispatchLocked(ActionInvalidate)
	q.mu.Unlock()

	q.client.notify.flush()
}

// Reset cancels any fetch and restores the state the query was created with.
func (q *Query) Reset() {
	q.mu.Lock()
	if q.inflight {
		q.supersedeLocked()
	}
	q.state = q.initialState
	q.dispatchLocked(ActionReset)
	q.mu.Unlock()

	q.client.notify.flush()
}

func (q *Query) addObserver(o *QueryObserver) {
	q.mu.Lock()
	if slices.Contains(q.observers, o) {
		q.mu.Unlock()
		return
	}
	q.observers = append(q.observers, o)
	q.orphaned = false
	q.clearGCLocked()
	q.enqueueEventLocked(QueryCacheEvent{Type: EventObserverAdded, Query: q, Observer: o})
	q.mu.Unlock()

	q.client.notify.flush()
}

// removeObserver unbinds o. When it was the last observer, a fetch in flight
// is left to complete without further retries and the GC timer is armed.
func (q *Query) removeObserver(o *QueryObserver) {
	q.mu.Lock()
	i := slices.Index(q.observers, o)
	if i < 0 {
		q.mu.Unlock()
		return
	}
	q.observers = slices.Delete(q.observers, i, i+1)
	if len(q.observers) == 0 {
		if q.inflight {
			q.orphaned = true
		}
		q.scheduleGCLocked()
	}
	q.enqueueEventLocked(QueryCacheEvent{Type: EventObserverRemoved, Query: q, Observer: o})
	q.mu.Unlock()

	q.client.notify.flush()
}

// destroy stops the GC timer and detaches any fetch in flight.
func (q *Query) destroy() {
	q.mu.Lock()
	q.clearGCLocked()
	if q.inflight {
		q.supersedeLocked()
		q.state.FetchStatus = FetchIdle
	}
	q.mu.Unlock()
}

func (q *Query) scheduleGCLocked() {
	q.clearGCLocked()
	d := q.options.CacheTime
	if d == CacheTimeInfinite {
		return
	}
	if d < 0 {
		d = 0
	}
	q.gcTimer = time.AfterFunc(d, func() { q.cache.collect(q) })
}

func (q *Query) clearGCLocked() {
	if q.gcTimer != nil {
		q.gcTimer.Stop()
		q.gcTimer = nil
	}
}

// collectableLocked reports whether GC may remove the query now.
func (q *Query) collectableLocked() bool {
	return len(q.observers) == 0 && !q.inflight
}

func (q *Query) enqueueEventLocked(ev QueryCacheEvent) {
	q.client.notify.enqueue(func() { q.cache.emit(ev) })
}

// dispatchLocked queues a notification for every bound observer and the
// cache listeners. The caller flushes after unlocking.
func (q *Query) dispatchLocked(action Action) {
	observers := slices.Clone(q.observers)
	q.client.notify.enqueue(func() {
		for _, o := range observers {
			o.onQueryUpdate(q)
		}
		q.cache.emit(QueryCacheEvent{Type: EventUpdated, Query: q, Action: action})
	})
}
