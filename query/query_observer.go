package query

import (
	"context"
	"sync"
	"time"

	"github.com/jonwraymond/querycache/observe"
	"github.com/jonwraymond/querycache/querykey"
	"github.com/jonwraymond/querycache/structural"
)

// RefetchOnMount controls fetching when an observer binds to a query that
// already has data.
type RefetchOnMount int

const (
	// RefetchIfStale fetches when the data is stale.
	RefetchIfStale RefetchOnMount = iota
	// RefetchAlways fetches on every mount.
	RefetchAlways
	// RefetchNever only fetches queries without data.
	RefetchNever
)

// QueryObserverOptions configures a QueryObserver.
type QueryObserverOptions struct {
	QueryOptions

	// Disabled stops automatic fetching. Refetch still works.
	Disabled bool

	// Select derives the result data from the query data. It is only
	// called again when the query data changes.
	Select func(data any) any

	// PlaceholderData is shown while the query has no data. It is never
	// written to the cache.
	PlaceholderData any

	// KeepPreviousData keeps showing the data of the previous key while the
	// new key loads.
	KeepPreviousData bool

	// RefetchInterval refetches periodically while subscribed.
	RefetchInterval time.Duration

	RefetchOnMount RefetchOnMount

	// NotifyOnChangeProps limits notifications to changes of the named
	// result fields: "status", "fetchStatus", "data", "dataUpdatedAt",
	// "error", "errorUpdatedAt", "failureCount", "failureReason", "isStale",
	// "isPlaceholderData", "isPreviousData". Empty means every field.
	NotifyOnChangeProps []string
}

// QueryObserverResult is the derived view of a query handed to consumers.
// Data is structurally shared with the previous result, so unchanged data
// keeps its identity across results.
type QueryObserverResult struct {
	Status         Status
	FetchStatus    FetchStatus
	Data           any
	DataUpdatedAt  time.Time
	Error          error
	ErrorUpdatedAt time.Time
	FailureCount   int
	FailureReason  error

	IsStale           bool
	IsFetching        bool
	IsPending         bool
	IsLoading         bool
	IsSuccess         bool
	IsError           bool
	IsRefetching      bool
	IsPaused          bool
	IsPlaceholderData bool
	IsPreviousData    bool
}

var resultProps = map[string]func(a, b QueryObserverResult) bool{
	"status":            func(a, b QueryObserverResult) bool { return a.Status == b.Status },
	"fetchStatus":       func(a, b QueryObserverResult) bool { return a.FetchStatus == b.FetchStatus },
	"data":              func(a, b QueryObserverResult) bool { return structural.Identical(a.Data, b.Data) },
	"dataUpdatedAt":     func(a, b QueryObserverResult) bool { return a.DataUpdatedAt.Equal(b.DataUpdatedAt) },
	"error":             func(a, b QueryObserverResult) bool { return structural.Identical(a.Error, b.Error) },
	"errorUpdatedAt":    func(a, b QueryObserverResult) bool { return a.ErrorUpdatedAt.Equal(b.ErrorUpdatedAt) },
	"failureCount":      func(a, b QueryObserverResult) bool { return a.FailureCount == b.FailureCount },
	"failureReason":     func(a, b QueryObserverResult) bool { return structural.Identical(a.FailureReason, b.FailureReason) },
	"isStale":           func(a, b QueryObserverResult) bool { return a.IsStale == b.IsStale },
	"isPlaceholderData": func(a, b QueryObserverResult) bool { return a.IsPlaceholderData == b.IsPlaceholderData },
	"isPreviousData":    func(a, b QueryObserverResult) bool { return a.IsPreviousData == b.IsPreviousData },
}

func resultChanged(prev, next QueryObserverResult, props []string) bool {
	if len(props) == 0 {
		for _, equal := range resultProps {
			if !equal(prev, next) {
				return true
			}
		}
		return false
	}
	for _, name := range props {
		if equal, ok := resultProps[name]; ok && !equal(prev, next) {
			return true
		}
	}
	return false
}

// QueryObserver binds a consumer to one query at a time and derives a
// stable result from it.
//
// Contract:
//   - Concurrency: safe for concurrent use. Listeners are called one at a
//     time, in the order the underlying state changed.
//   - Ownership: the consumer owns the observer and must call Destroy, or
//     drop every subscription, to release the query.
type QueryObserver struct {
	client *Client

	mu         sync.Mutex
	options    QueryObserverOptions
	query      *Query
	result     QueryObserverResult
	hasResult  bool
	prevQuery  *Query
	prevResult QueryObserverResult
	selectIn   any
	selectOut  any
	selected   bool
	subscribed bool
	destroyed  bool

	staleTimer   *time.Timer
	stopInterval chan struct{}

	listeners listeners[QueryObserverResult]
}

// NewQueryObserver creates an observer for opts. The query is created in the
// client's cache when missing; nothing is fetched until the first Subscribe.
func NewQueryObserver(client *Client, opts QueryObserverOptions) (*QueryObserver, error) {
	if client == nil {
		return nil, ErrNilClient
	}
	o := &QueryObserver{client: client}
	full, q, err := o.resolve(opts)
	if err != nil {
		return nil, err
	}
	o.options = full
	o.query = q
	o.updateResult()
	return o, nil
}

// resolve applies client defaults to opts and builds the query.
func (o *QueryObserver) resolve(opts QueryObserverOptions) (QueryObserverOptions, *Query, error) {
	opts.QueryOptions = o.client.DefaultQueryOptions(opts.QueryOptions)
	if err := querykey.Validate(opts.QueryKey); err != nil {
		return opts, nil, invalidKey(err)
	}
	if opts.QueryFn == nil && !opts.Disabled {
		existing := o.client.queryCache.Find(opts.QueryKey)
		if existing == nil || existing.Options().QueryFn == nil {
			return opts, nil, ErrMissingQueryFn
		}
	}
	q, err := o.client.queryCache.Build(o.client, opts.QueryOptions)
	if err != nil {
		return opts, nil, err
	}
	q.updateOptions(opts.QueryOptions)
	return opts, q, nil
}

// Subscribe registers fn for result changes. The first subscription binds
// the observer to its query and fetches in the background when the data is
// missing or stale; the cached result stays available meanwhile.
func (o *QueryObserver) Subscribe(fn func(QueryObserverResult)) (unsubscribe func()) {
	id, first := o.listeners.add(fn)
	if first {
		o.onSubscribe()
	}
	return func() {
		if removed, empty := o.listeners.remove(id); removed && empty {
			o.onUnsubscribe()
		}
	}
}

func (o *QueryObserver) onSubscribe() {
	o.mu.Lock()
	if o.subscribed || o.destroyed {
		o.mu.Unlock()
		return
	}
	o.subscribed = true
	q, opts := o.query, o.options
	o.mu.Unlock()

	bound := o.attach(q, opts.QueryOptions)
	if bound != q {
		o.mu.Lock()
		if o.query == q {
			o.query = bound
			o.selected = false
		}
		o.mu.Unlock()
	}
	if shouldFetchOnMount(bound.State(), opts) {
		o.executeFetch(bound)
	}
	o.updateResult()
	o.updateInterval()
}

// attach registers o on q and returns the query it ended up bound to. A
// query the cache no longer holds, because it was collected while the
// observer had no listeners, is replaced by the cache's current entry for
// the same key.
func (o *QueryObserver) attach(q *Query, opts QueryOptions) *Query {
	cache := o.client.queryCache
	for {
		q.addObserver(o)
		if cache.Get(q.hash) == q {
			return q
		}
		q.removeObserver(o)
		next, err := cache.Build(o.client, opts)
		if err != nil {
			o.client.logger.Warn(context.Background(), "observer rebind failed",
				observe.Field{Key: "query.hash", Value: q.hash},
				observe.Field{Key: "error", Value: err},
			)
			q.addObserver(o)
			return q
		}
		q = next
	}
}

func (o *QueryObserver) onUnsubscribe() {
	o.mu.Lock()
	if !o.subscribed {
		o.mu.Unlock()
		return
	}
	o.subscribed = false
	q := o.query
	o.clearTimersLocked()
	o.mu.Unlock()

	q.removeObserver(o)
}

// Destroy drops every listener and unbinds the observer from its query.
func (o *QueryObserver) Destroy() {
	o.listeners.clear()
	o.onUnsubscribe()
	o.mu.Lock()
	o.destroyed = true
	o.mu.Unlock()
}

// GetSnapshot returns the current result.
func (o *QueryObserver) GetSnapshot() QueryObserverResult {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.result
}

// GetCurrentQuery returns the query the observer is bound to.
func (o *QueryObserver) GetCurrentQuery() *Query {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.query
}

// Options returns the observer options with client defaults applied.
func (o *QueryObserver) Options() QueryObserverOptions {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.options
}

// SetOptions replaces the options. A different key, or a same-key query the
// cache has since collected, rebinds the observer to the cache's current
// entry, fetching it when stale.
func (o *QueryObserver) SetOptions(opts QueryObserverOptions) error {
	full, q, err := o.resolve(opts)
	if err != nil {
		return err
	}

	o.mu.Lock()
	prevQuery, prevOpts := o.query, o.options
	o.options = full
	o.query = q
	changed := q != prevQuery
	if changed && q.hash != prevQuery.hash {
		o.prevQuery = prevQuery
		o.prevResult = o.result
	}
	if changed || prevOpts.Select == nil || full.Select == nil {
		o.selected = false
	}
	subscribed := o.subscribed
	o.mu.Unlock()

	if subscribed {
		if changed {
			prevQuery.removeObserver(o)
			if bound := o.attach(q, full.QueryOptions); bound != q {
				o.mu.Lock()
				if o.query == q {
					o.query = bound
				}
				o.mu.Unlock()
				q = bound
			}
		}
		enabledNow := prevOpts.Disabled && !full.Disabled
		if (changed || enabledNow) && !full.Disabled && q.State().IsStaleByTime(full.StaleTime) {
			o.executeFetch(q)
		}
	}
	o.updateResult()
	o.updateInterval()
	return nil
}

// Refetch fetches the current query, joining a fetch in flight unless
// opts.CancelRefetch is set, and returns the updated result. Fetch failures
// are part of the result; they are only returned as an error with
// opts.ThrowOnError.
func (o *QueryObserver) Refetch(ctx context.Context, opts RefetchOptions) (QueryObserverResult, error) {
	q := o.GetCurrentQuery()
	_, err := q.Fetch(ctx, FetchOptions{CancelRefetch: opts.CancelRefetch})
	o.updateResult()
	if err != nil && (opts.ThrowOnError || isUsageError(err)) {
		return o.GetSnapshot(), err
	}
	return o.GetSnapshot(), nil
}

func (o *QueryObserver) enabled() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return !o.options.Disabled
}

func (o *QueryObserver) staleTime() time.Duration {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.options.StaleTime
}

func shouldFetchOnMount(state QueryState, opts QueryObserverOptions) bool {
	if opts.Disabled {
		return false
	}
	if !state.HasData() {
		return true
	}
	switch opts.RefetchOnMount {
	case RefetchAlways:
		return true
	case RefetchNever:
		return false
	default:
		return state.IsStaleByTime(opts.StaleTime)
	}
}

// executeFetch starts a background fetch. Its outcome reaches the observer
// through query notifications.
func (o *QueryObserver) executeFetch(q *Query) {
	if _, err := q.startFetch(context.Background(), FetchOptions{}); err != nil {
		o.client.logger.Debug(context.Background(), "background fetch not started",
			observe.Field{Key: "query.hash", Value: q.hash},
			observe.Field{Key: "error", Value: err},
		)
	}
}

// onQueryUpdate is called by q for every state transition.
func (o *QueryObserver) onQueryUpdate(q *Query) {
	if o.GetCurrentQuery() != q {
		return
	}
	o.updateResult()
}

// updateResult recomputes the result and notifies listeners when a tracked
// field changed.
func (o *QueryObserver) updateResult() {
	o.mu.Lock()
	q := o.query
	state := q.State()
	next := o.createResultLocked(state)
	prev, hadResult := o.result, o.hasResult
	o.result = next
	o.hasResult = true
	notify := hadResult && resultChanged(prev, next, o.options.NotifyOnChangeProps)
	o.armStaleTimerLocked(state)
	o.mu.Unlock()

	if !notify {
		return
	}
	o.client.notify.schedule(func() {
		o.listeners.emit(o.client.notify, "query observer", next)
		q.cache.emit(QueryCacheEvent{Type: EventObserverResults, Query: q, Observer: o})
	})
}

func (o *QueryObserver) createResultLocked(state QueryState) QueryObserverResult {
	opts := o.options
	res := QueryObserverResult{
		Status:         state.Status,
		FetchStatus:    state.FetchStatus,
		Data:           state.Data,
		DataUpdatedAt:  state.DataUpdatedAt,
		Error:          state.Error,
		ErrorUpdatedAt: state.ErrorUpdatedAt,
		FailureCount:   state.FailureCount,
		FailureReason:  state.FailureReason,
		IsStale:        state.IsStaleByTime(opts.StaleTime),
	}

	waiting := !state.HasData() && (state.Status == StatusPending || state.Status == StatusIdle)
	switch {
	case waiting && opts.KeepPreviousData && o.prevQuery != nil && o.prevResult.Status == StatusSuccess:
		res.Data = o.prevResult.Data
		res.DataUpdatedAt = o.prevResult.DataUpdatedAt
		res.Status = StatusSuccess
		res.IsPreviousData = true
	case waiting && opts.PlaceholderData != nil:
		res.Data = opts.PlaceholderData
		res.Status = StatusSuccess
		res.IsPlaceholderData = true
	}

	hasData := state.HasData() || res.IsPlaceholderData
	if opts.Select != nil && hasData && !res.IsPreviousData {
		if o.selected && structural.Identical(o.selectIn, res.Data) {
			res.Data = o.selectOut
		} else {
			in := res.Data
			res.Data = opts.Select(in)
			o.selectIn, o.selectOut, o.selected = in, res.Data, true
		}
	}

	if !opts.DisableStructuralSharing && o.hasResult {
		res.Data = structural.Merge(o.result.Data, res.Data)
	}

	res.IsFetching = res.FetchStatus == FetchFetching
	res.IsPaused = res.FetchStatus == FetchPaused
	res.IsPending = res.Status == StatusPending || res.Status == StatusIdle
	res.IsLoading = res.IsPending && res.IsFetching
	res.IsSuccess = res.Status == StatusSuccess
	res.IsError = res.Status == StatusError
	res.IsRefetching = res.IsFetching && !res.IsPending
	return res
}

// armStaleTimerLocked schedules a result update for the moment fresh data
// turns stale, so IsStale flips without a query transition.
func (o *QueryObserver) armStaleTimerLocked(state QueryState) {
	if o.staleTimer != nil {
		o.staleTimer.Stop()
		o.staleTimer = nil
	}
	staleTime := o.options.StaleTime
	if !o.subscribed || staleTime == StaleTimeInfinite || state.IsStaleByTime(staleTime) {
		return
	}
	wait := time.Until(state.DataUpdatedAt.Add(staleTime)) + time.Millisecond
	o.staleTimer = time.AfterFunc(wait, o.updateResult)
}

func (o *QueryObserver) updateInterval() {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.stopInterval != nil {
		close(o.stopInterval)
		o.stopInterval = nil
	}
	interval := o.options.RefetchInterval
	if !o.subscribed || o.options.Disabled || interval <= 0 {
		return
	}

	stop := make(chan struct{})
	o.stopInterval = stop
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				o.executeFetch(o.GetCurrentQuery())
			}
		}
	}()
}

func (o *QueryObserver) clearTimersLocked() {
	if o.staleTimer != nil {
		o.staleTimer.Stop()
		o.staleTimer = nil
	}
	if o.stopInterval != nil {
		close(o.stopInterval)
		o.stopInterval = nil
	}
}
