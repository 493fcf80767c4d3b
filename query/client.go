package query

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/jonwraymond/querycache/observe"
	"github.com/jonwraymond/querycache/querykey"
)

// ClientConfig configures a Client. Every field is optional.
type ClientConfig struct {
	// QueryCache holds the queries. Default: a new empty cache.
	QueryCache *QueryCache

	// MutationCache holds the mutations. Default: a new empty cache.
	MutationCache *MutationCache

	// DefaultQueryOptions apply to every query before per-key defaults.
	DefaultQueryOptions QueryOptions

	// DefaultMutationOptions apply to every mutation before per-key defaults.
	DefaultMutationOptions MutationOptions

	// Logger receives retry, failure, eviction and listener panic events.
	// Default: observe.NopLogger()
	Logger observe.Logger

	// Instrumentation wraps every query and mutation function attempt.
	// Default: no instrumentation.
	Instrumentation *observe.Middleware

	// OnlineManager reports connectivity. Default: always online.
	OnlineManager *OnlineManager
}

type queryDefaults struct {
	key     querykey.Key
	options QueryOptions
}

type mutationDefaults struct {
	key     querykey.Key
	options MutationOptions
}

// Client is the imperative entry point to a query cache and a mutation
// cache. Construct it with NewClient; it is safe for concurrent use.
type Client struct {
	queryCache    *QueryCache
	mutationCache *MutationCache
	logger        observe.Logger
	instrument    *observe.Middleware
	online        *OnlineManager
	notify        *notifier

	mu               sync.RWMutex
	defaultQuery     QueryOptions
	defaultMutation  MutationOptions
	queryDefaults    []queryDefaults
	mutationDefaults []mutationDefaults

	mountMu           sync.Mutex
	mountCount        int
	unsubscribeOnline func()
}

// NewClient creates a client from cfg.
func NewClient(cfg ClientConfig) *Client {
	if cfg.QueryCache == nil {
		cfg.QueryCache = NewQueryCache(QueryCacheConfig{})
	}
	if cfg.MutationCache == nil {
		cfg.MutationCache = NewMutationCache(MutationCacheConfig{})
	}
	if cfg.Logger == nil {
		cfg.Logger = observe.NopLogger()
	}
	if cfg.Instrumentation == nil {
		cfg.Instrumentation = observe.NewMiddleware(nil, nil, nil)
	}
	if cfg.OnlineManager == nil {
		cfg.OnlineManager = NewOnlineManager()
	}

	c := &Client{
		queryCache:      cfg.QueryCache,
		mutationCache:   cfg.MutationCache,
		logger:          cfg.Logger,
		instrument:      cfg.Instrumentation,
		online:          cfg.OnlineManager,
		notify:          newNotifier(cfg.Logger),
		defaultQuery:    cfg.DefaultQueryOptions,
		defaultMutation: cfg.DefaultMutationOptions,
	}
	c.queryCache.attach(c.notify, c.logger)
	c.mutationCache.attach(c.notify)
	return c
}

// QueryCache returns the client's query cache.
func (c *Client) QueryCache() *QueryCache { return c.queryCache }

// MutationCache returns the client's mutation cache.
func (c *Client) MutationCache() *MutationCache { return c.mutationCache }

// OnlineManager returns the client's connectivity tracker.
func (c *Client) OnlineManager() *OnlineManager { return c.online }

// Mount starts refetching stale active queries whenever the OnlineManager
// comes back online. Calls nest; each Mount needs an Unmount.
func (c *Client) Mount() {
	c.mountMu.Lock()
	defer c.mountMu.Unlock()
	c.mountCount++
	if c.mountCount != 1 {
		return
	}
	c.unsubscribeOnline = c.online.Subscribe(func(online bool) {
		if !online {
			return
		}
		stale := true
		_, _ = c.startRefetch(QueryFilters{Type: QueryTypeActive, Stale: &stale}, false)
	})
}

// Unmount undoes one Mount.
func (c *Client) Unmount() {
	c.mountMu.Lock()
	defer c.mountMu.Unlock()
	if c.mountCount == 0 {
		return
	}
	c.mountCount--
	if c.mountCount == 0 && c.unsubscribeOnline != nil {
		c.unsubscribeOnline()
		c.unsubscribeOnline = nil
	}
}

// SetQueryDefaults registers options for every query whose key starts with
// key. Later registrations for the same key replace earlier ones.
func (c *Client) SetQueryDefaults(key querykey.Key, opts QueryOptions) error {
	if err := querykey.Validate(key); err != nil {
		return invalidKey(err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, d := range c.queryDefaults {
		if querykey.Equal(d.key, key) {
			c.queryDefaults[i].options = opts
			return nil
		}
	}
	c.queryDefaults = append(c.queryDefaults, queryDefaults{key: key, options: opts})
	return nil
}

// GetQueryDefaults returns the merged per-key defaults that apply to key.
func (c *Client) GetQueryDefaults(key querykey.Key) QueryOptions {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out QueryOptions
	for _, d := range c.queryDefaults {
		if querykey.Matches(key, d.key, false) {
			out = out.merge(d.options)
		}
	}
	return out
}

// DefaultQueryOptions layers client defaults, per-key defaults and opts.
func (c *Client) DefaultQueryOptions(opts QueryOptions) QueryOptions {
	c.mu.RLock()
	base := c.defaultQuery
	c.mu.RUnlock()
	return base.merge(c.GetQueryDefaults(opts.QueryKey)).merge(opts)
}

// SetMutationDefaults registers options for every mutation whose key starts
// with key.
func (c *Client) SetMutationDefaults(key querykey.Key, opts MutationOptions) error {
	if err := querykey.Validate(key); err != nil {
		return invalidKey(err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, d := range c.mutationDefaults {
		if querykey.Equal(d.key, key) {
			c.mutationDefaults[i].options = opts
			return nil
		}
	}
	c.mutationDefaults = append(c.mutationDefaults, mutationDefaults{key: key, options: opts})
	return nil
}

// DefaultMutationOptions layers client defaults, per-key defaults and opts.
func (c *Client) DefaultMutationOptions(opts MutationOptions) MutationOptions {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := c.defaultMutation
	if len(opts.MutationKey) > 0 {
		for _, d := range c.mutationDefaults {
			if querykey.Matches(opts.MutationKey, d.key, false) {
				out = out.merge(d.options)
			}
		}
	}
	return out.merge(opts)
}

// GetQueryData returns the cached data for key. It reports false when the
// query is missing, has no data, or key is malformed.
func (c *Client) GetQueryData(key querykey.Key) (any, bool) {
	q := c.queryCache.Find(key)
	if q == nil {
		return nil, false
	}
	state := q.State()
	if !state.HasData() {
		return nil, false
	}
	return state.Data, true
}

// QueryDataAs returns the cached data for key as a T.
func QueryDataAs[T any](c *Client, key querykey.Key) (T, bool) {
	var zero T
	data, ok := c.GetQueryData(key)
	if !ok {
		return zero, false
	}
	v, ok := data.(T)
	if !ok {
		return zero, false
	}
	return v, true
}

// GetQueryState returns the state of the query for key.
func (c *Client) GetQueryState(key querykey.Key) (QueryState, bool) {
	q := c.queryCache.Find(key)
	if q == nil {
		return QueryState{}, false
	}
	return q.State(), true
}

// SetQueryData writes updater's result to the query for key, creating the
// query when missing, and returns the stored value. The write is
// structurally shared with the previous data and notifies observers without
// fetching. A nil result leaves the cache unchanged.
func (c *Client) SetQueryData(key querykey.Key, updater Updater) (any, error) {
	if updater == nil {
		return nil, fmt.Errorf("%w: nil updater", ErrParameter)
	}
	if err := querykey.Validate(key); err != nil {
		return nil, invalidKey(err)
	}

	var old any
	q := c.queryCache.Find(key)
	if q != nil {
		if state := q.State(); state.HasData() {
			old = state.Data
		}
	}
	data := updater(old)
	if data == nil {
		return old, nil
	}

	if q == nil {
		var err error
		q, err = c.queryCache.Build(c, c.DefaultQueryOptions(QueryOptions{QueryKey: key}))
		if err != nil {
			return nil, err
		}
	}
	return q.SetData(data, SetDataOptions{Manual: true}), nil
}

// SetQueriesData applies updater to every query selected by filters.
func (c *Client) SetQueriesData(filters QueryFilters, updater Updater) error {
	queries, err := c.queryCache.FindAll(filters)
	if err != nil {
		return err
	}
	var firstErr error
	c.notify.batch(func() {
		for _, q := range queries {
			if _, err := c.SetQueryData(q.Key(), updater); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	})
	return firstErr
}

// FetchQuery returns the cached data when it is fresh by opts.StaleTime, and
// fetches otherwise. Unless opts.Retry is set, failures are not retried.
func (c *Client) FetchQuery(ctx context.Context, opts QueryOptions) (any, error) {
	opts = c.DefaultQueryOptions(opts)
	if opts.Retry == nil {
		opts.Retry = RetryNever
	}
	q, err := c.queryCache.Build(c, opts)
	if err != nil {
		return nil, err
	}
	q.updateOptions(opts)

	if state := q.State(); !state.IsStaleByTime(opts.StaleTime) {
		return state.Data, nil
	}
	return q.Fetch(ctx, FetchOptions{})
}

// PrefetchQuery is FetchQuery for warming the cache: fetch failures are
// recorded on the query and not returned. Configuration and parameter
// errors are still returned.
func (c *Client) PrefetchQuery(ctx context.Context, opts QueryOptions) error {
	if _, err := c.FetchQuery(ctx, opts); err != nil && isUsageError(err) {
		return err
	}
	return nil
}

// EnsureQueryData returns cached data regardless of staleness, fetching only
// when the query has none.
func (c *Client) EnsureQueryData(ctx context.Context, opts QueryOptions) (any, error) {
	if data, ok := c.GetQueryData(opts.QueryKey); ok {
		return data, nil
	}
	return c.FetchQuery(ctx, opts)
}

// InvalidateQueries marks the selected queries stale and refetches the
// active ones. It waits for the refetches; fetch errors are returned only
// with opts.ThrowOnError.
func (c *Client) InvalidateQueries(ctx context.Context, filters QueryFilters, opts InvalidateOptions) error {
	queries, err := c.queryCache.FindAll(filters)
	if err != nil {
		return err
	}
	c.notify.batch(func() {
		for _, q := range queries {
			q.Invalidate()
		}
	})
	if opts.SkipRefetch {
		return nil
	}

	refetch := filters
	if !opts.RefetchInactive {
		refetch.Type = QueryTypeActive
	}
	return c.RefetchQueries(ctx, refetch, RefetchOptions{
		CancelRefetch: opts.CancelRefetch,
		ThrowOnError:  opts.ThrowOnError,
	})
}

// invalidateInBackground invalidates the selected queries and starts
// refetching the active ones without waiting.
func (c *Client) invalidateInBackground(filters QueryFilters) {
	queries, err := c.queryCache.FindAll(filters)
	if err != nil {
		return
	}
	c.notify.batch(func() {
		for _, q := range queries {
			q.Invalidate()
		}
	})
	filters.Type = QueryTypeActive
	_, _ = c.startRefetch(filters, false)
}

// RefetchQueries fetches the selected queries concurrently, skipping
// disabled and paused ones, and waits for them.
func (c *Client) RefetchQueries(ctx context.Context, filters QueryFilters, opts RefetchOptions) error {
	pending, err := c.startRefetch(filters, opts.CancelRefetch)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, f := range pending {
		g.Go(func() error {
			if _, err := f.wait(gctx); err != nil && opts.ThrowOnError {
				return err
			}
			return nil
		})
	}
	return g.Wait()
}

func (c *Client) startRefetch(filters QueryFilters, cancelRefetch bool) ([]pendingFetch, error) {
	queries, err := c.queryCache.FindAll(filters)
	if err != nil {
		return nil, err
	}

	var pending []pendingFetch
	c.notify.batch(func() {
		for _, q := range queries {
			if q.isDisabled() || q.State().FetchStatus == FetchPaused {
				continue
			}
			f, err := q.startFetch(context.Background(), FetchOptions{CancelRefetch: cancelRefetch})
			if err != nil {
				continue
			}
			pending = append(pending, f)
		}
	})
	return pending, nil
}

// ResetQueries restores the selected queries to their initial state and
// refetches the active ones.
func (c *Client) ResetQueries(ctx context.Context, filters QueryFilters, opts RefetchOptions) error {
	queries, err := c.queryCache.FindAll(filters)
	if err != nil {
		return err
	}
	c.notify.batch(func() {
		for _, q := range queries {
			q.Reset()
		}
	})
	filters.Type = QueryTypeActive
	return c.RefetchQueries(ctx, filters, opts)
}

// CancelQueries cancels the fetches of the selected queries.
func (c *Client) CancelQueries(filters QueryFilters, opts CancelOptions) error {
	queries, err := c.queryCache.FindAll(filters)
	if err != nil {
		return err
	}
	c.notify.batch(func() {
		for _, q := range queries {
			q.Cancel(opts)
		}
	})
	return nil
}

// RemoveQueries drops the selected queries from the cache.
func (c *Client) RemoveQueries(filters QueryFilters) error {
	queries, err := c.queryCache.FindAll(filters)
	if err != nil {
		return err
	}
	c.notify.batch(func() {
		for _, q := range queries {
			c.queryCache.Remove(q)
		}
	})
	return nil
}

// IsFetching counts the selected queries with a fetch in flight. Fetches
// abandoned by their last observer are not counted. Malformed filters count
// nothing.
func (c *Client) IsFetching(filters QueryFilters) int {
	queries, err := c.queryCache.FindAll(filters)
	if err != nil {
		return 0
	}
	n := 0
	for _, q := range queries {
		if q.isFetching() {
			n++
		}
	}
	return n
}

// IsMutating counts the selected mutations that are pending. Malformed
// filters count nothing.
func (c *Client) IsMutating(filters MutationFilters) int {
	filters.Status = StatusPending
	mutations, err := c.mutationCache.FindAll(filters)
	if err != nil {
		return 0
	}
	return len(mutations)
}

// Clear empties both caches.
func (c *Client) Clear() {
	c.queryCache.Clear()
	c.mutationCache.Clear()
}

// execute runs one attempt through the instrumentation middleware. A panic
// in fn is returned as an error.
func (c *Client) execute(ctx context.Context, meta observe.OperationMeta, fn func(context.Context) (any, error)) (any, error) {
	wrapped := c.instrument.Wrap(func(ctx context.Context, _ observe.OperationMeta) (any, error) {
		return fn(ctx)
	})
	return wrapped(ctx, meta)
}

// awaitNetwork blocks while offline in NetworkModeOnline, reporting the
// pause and the resume through onPause.
func (c *Client) awaitNetwork(ctx context.Context, mode NetworkMode, onPause func(paused bool)) error {
	if mode == NetworkModeAlways || c.online.IsOnline() {
		return nil
	}
	onPause(true)
	if err := c.online.waitOnline(ctx); err != nil {
		return err
	}
	onPause(false)
	return nil
}
