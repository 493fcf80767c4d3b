package query

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/jonwraymond/querycache/observe"
	"github.com/jonwraymond/querycache/querykey"
	"github.com/jonwraymond/querycache/resilience"
)

// MutationFunc performs a write with the given variables.
type MutationFunc func(ctx context.Context, variables any) (any, error)

// OptimisticUpdate writes the expected outcome of a mutation into a query
// before the mutation runs.
type OptimisticUpdate struct {
	QueryKey querykey.Key

	// Update returns the optimistic data given the current data (nil when
	// the query has none) and the mutation variables.
	Update func(old, variables any) any
}

// MutationOptions configures a mutation. Hooks are optional; the
// mutationContext they receive is the value returned by OnMutate.
type MutationOptions struct {
	// MutationKey optionally groups mutations for filters and defaults.
	MutationKey querykey.Key

	// MutationFn performs the write. Required.
	MutationFn MutationFunc

	// OnMutate runs before MutationFn. A non-nil error fails the mutation
	// without calling MutationFn.
	OnMutate  func(ctx context.Context, variables any) (mutationContext any, err error)
	OnSuccess func(ctx context.Context, data, variables, mutationContext any)
	OnError   func(ctx context.Context, err error, variables, mutationContext any)
	OnSettled func(ctx context.Context, data any, err error, variables, mutationContext any)

	// Retry decides whether a failed attempt is retried.
	// Default: RetryNever
	Retry      RetryPolicy
	RetryDelay RetryDelayFunc

	NetworkMode NetworkMode

	// OptimisticUpdates are applied after OnMutate. When the mutation fails,
	// every updated query is invalidated so it is refetched from the source.
	OptimisticUpdates []OptimisticUpdate

	// RollbackOnError restores the pre-mutation data of optimistically
	// updated queries before invalidating them.
	RollbackOnError bool

	// InvalidateKeys are invalidated after a successful mutation; active
	// matching queries are refetched in the background.
	InvalidateKeys []querykey.Key

	// CacheTime is how long a settled, unobserved mutation stays cached.
	// Default: DefaultCacheTime
	CacheTime time.Duration
}

func (o MutationOptions) merge(over MutationOptions) MutationOptions {
	if over.MutationKey != nil {
		o.MutationKey = over.MutationKey
	}
	if over.MutationFn != nil {
		o.MutationFn = over.MutationFn
	}
	if over.OnMutate != nil {
		o.OnMutate = over.OnMutate
	}
	if over.OnSuccess != nil {
		o.OnSuccess = over.OnSuccess
	}
	if over.OnError != nil {
		o.OnError = over.OnError
	}
	if over.OnSettled != nil {
		o.OnSettled = over.OnSettled
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
	if over.OptimisticUpdates != nil {
		o.OptimisticUpdates = over.OptimisticUpdates
	}
	if over.RollbackOnError {
		o.RollbackOnError = true
	}
	if over.InvalidateKeys != nil {
		o.InvalidateKeys = over.InvalidateKeys
	}
	if over.CacheTime != 0 {
		o.CacheTime = over.CacheTime
	}
	return o
}

func (o MutationOptions) withDefaults() MutationOptions {
	if o.Retry == nil {
		o.Retry = RetryNever
	}
	if o.CacheTime == 0 {
		o.CacheTime = DefaultCacheTime
	}
	return o
}

// validate checks every key the options carry.
func (o MutationOptions) validate() error {
	if o.MutationFn == nil {
		return ErrMissingMutationFn
	}
	if len(o.MutationKey) > 0 {
		if err := querykey.Validate(o.MutationKey); err != nil {
			return invalidKey(err)
		}
	}
	for _, u := range o.OptimisticUpdates {
		if err := querykey.Validate(u.QueryKey); err != nil {
			return invalidKey(err)
		}
	}
	for _, k := range o.InvalidateKeys {
		if err := querykey.Validate(k); err != nil {
			return invalidKey(err)
		}
	}
	return nil
}

// MutationState is a snapshot of a mutation's state.
type MutationState struct {
	Status    Status
	Variables any
	Data      any
	Error     error

	// Context is the value returned by OnMutate.
	Context any

	SubmittedAt   time.Time
	FailureCount  int
	FailureReason error
	IsPaused      bool
}

func idleMutationState() MutationState {
	return MutationState{Status: StatusIdle}
}

// Mutation is one invocation of a mutation function. Mutations are never
// de-duplicated: every Execute runs independently.
type Mutation struct {
	id     int64
	client *Client
	cache  *MutationCache

	mu        sync.Mutex
	options   MutationOptions
	state     MutationState
	observers []*MutationObserver
	gcTimer   *time.Timer
}

// ID returns the mutation's invocation id.
func (m *Mutation) ID() int64 { return m.id }

// State returns a snapshot of the mutation state.
func (m *Mutation) State() MutationState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Options returns the mutation options.
func (m *Mutation) Options() MutationOptions {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.options
}

type optimisticSnapshot struct {
	key     querykey.Key
	data    any
	hadData bool
}

// Execute runs the mutation with variables and returns its data.
//
// Order: OnMutate, optimistic writes, MutationFn with retries, then on
// success OnSuccess, OnSettled and invalidation of InvalidateKeys; on
// failure invalidation of optimistically written queries, OnError,
// OnSettled, and the error is returned. Cache hooks run before the matching
// option hooks.
func (m *Mutation) Execute(ctx context.Context, variables any) (any, error) {
	opts := m.Options()
	if opts.MutationFn == nil {
		return nil, ErrMissingMutationFn
	}

	m.dispatch(func(s *MutationState) {
		*s = MutationState{
			Status:      StatusPending,
			Variables:   variables,
			SubmittedAt: time.Now(),
		}
	})
	m.cache.onMutate(variables, m)

	var mutationContext any
	if opts.OnMutate != nil {
		v, err := callOnMutate(ctx, opts.OnMutate, variables)
		if err != nil {
			return nil, m.fail(ctx, opts, variables, nil, nil, err)
		}
		mutationContext = v
		m.dispatch(func(s *MutationState) { s.Context = v })
	}

	snapshots := m.applyOptimistic(opts, variables)

	data, err := m.run(ctx, opts, variables)
	if err != nil {
		return nil, m.fail(ctx, opts, variables, mutationContext, snapshots, err)
	}

	m.dispatch(func(s *MutationState) {
		s.Status = StatusSuccess
		s.Data = data
		s.Error = nil
		s.FailureCount = 0
		s.FailureReason = nil
		s.IsPaused = false
	})
	m.settleGC()

	m.cache.onSuccess(data, variables, mutationContext, m)
	if opts.OnSuccess != nil {
		m.hook("mutation OnSuccess", func() { opts.OnSuccess(ctx, data, variables, mutationContext) })
	}
	m.cache.onSettled(data, nil, variables, mutationContext, m)
	if opts.OnSettled != nil {
		m.hook("mutation OnSettled", func() { opts.OnSettled(ctx, data, nil, variables, mutationContext) })
	}

	for _, key := range opts.InvalidateKeys {
		m.client.invalidateInBackground(QueryFilters{QueryKey: key})
	}
	return data, nil
}

// applyOptimistic cancels outgoing fetches of each optimistically updated
// query, so they cannot overwrite the write, and applies the update.
func (m *Mutation) applyOptimistic(opts MutationOptions, variables any) []optimisticSnapshot {
	if len(opts.OptimisticUpdates) == 0 {
		return nil
	}
	snapshots := make([]optimisticSnapshot, 0, len(opts.OptimisticUpdates))
	for _, u := range opts.OptimisticUpdates {
		exact := QueryFilters{QueryKey: u.QueryKey, Exact: true}
		_ = m.client.CancelQueries(exact, CancelOptions{})

		old, had := m.client.GetQueryData(u.QueryKey)
		update := u.Update
		if _, err := m.client.SetQueryData(u.QueryKey, func(old any) any {
			return update(old, variables)
		}); err != nil {
			continue
		}
		snapshots = append(snapshots, optimisticSnapshot{key: u.QueryKey, data: old, hadData: had})
	}
	return snapshots
}

func (m *Mutation) run(ctx context.Context, opts MutationOptions, variables any) (any, error) {
	meta := observe.OperationMeta{
		Kind:  observe.KindMutation,
		Scope: scopeOf(opts.MutationKey),
	}
	if len(opts.MutationKey) > 0 {
		meta.Key = opts.MutationKey.String()
	}

	policy := opts.Retry
	if policy == nil {
		policy = RetryNever
	}

	var data any
	retry := resilience.NewRetry(resilience.RetryConfig{
		ShouldRetry: policy,
		Delay:       opts.RetryDelay,
		BeforeAttempt: func(ctx context.Context, _ int) error {
			return m.client.awaitNetwork(ctx, opts.NetworkMode, func(paused bool) {
				m.dispatch(func(s *MutationState) { s.IsPaused = paused })
			})
		},
		OnFailure: func(failureCount int, err error) {
			m.dispatch(func(s *MutationState) {
				s.FailureCount = failureCount
				s.FailureReason = err
			})
		},
	})

	err := retry.Execute(ctx, func(ctx context.Context) error {
		meta.Attempt++
		v, err := m.client.execute(ctx, meta, func(ctx context.Context) (any, error) {
			return opts.MutationFn(ctx, variables)
		})
		if err != nil {
			return err
		}
		data = v
		return nil
	})
	return data, err
}

// fail records err, recovers optimistically written queries and runs the
// error hooks. It returns err.
func (m *Mutation) fail(ctx context.Context, opts MutationOptions, variables, mutationContext any, snapshots []optimisticSnapshot, err error) error {
	for _, snap := range snapshots {
		if opts.RollbackOnError && snap.hadData {
			_, _ = m.client.SetQueryData(snap.key, Value(snap.data))
		}
		m.client.invalidateInBackground(QueryFilters{QueryKey: snap.key, Exact: true})
	}

	m.dispatch(func(s *MutationState) {
		s.Status = StatusError
		s.Error = err
		s.FailureReason = err
		s.IsPaused = false
	})
	m.settleGC()

	m.client.logger.WithOperation(observe.OperationMeta{
		Kind:  observe.KindMutation,
		Scope: scopeOf(opts.MutationKey),
	}).Warn(ctx, "mutation failed",
		observe.Field{Key: "mutation.id", Value: m.id},
		observe.Field{Key: "error", Value: err},
	)

	m.cache.onError(err, variables, mutationContext, m)
	if opts.OnError != nil {
		m.hook("mutation OnError", func() { opts.OnError(ctx, err, variables, mutationContext) })
	}
	m.cache.onSettled(nil, err, variables, mutationContext, m)
	if opts.OnSettled != nil {
		m.hook("mutation OnSettled", func() { opts.OnSettled(ctx, nil, err, variables, mutationContext) })
	}
	return err
}

// hook runs a settlement hook. A panicking hook is logged and does not stop
// the hooks after it.
func (m *Mutation) hook(name string, fn func()) {
	m.cache.notifier().call(name, fn)
}

// callOnMutate runs fn, reporting a panic as an error that fails the
// mutation.
func callOnMutate(ctx context.Context, fn func(context.Context, any) (any, error), variables any) (v any, err error) {
	defer func() {
		if r := recover(); r != nil {
			v, err = nil, fmt.Errorf("%w: OnMutate: %v", observe.ErrPanicked, r)
		}
	}()
	return fn(ctx, variables)
}

// dispatch applies fn to the state and notifies observers and cache
// listeners.
func (m *Mutation) dispatch(fn func(*MutationState)) {
	m.mu.Lock()
	fn(&m.state)
	observers := slices.Clone(m.observers)
	m.client.notify.enqueue(func() {
		for _, o := range observers {
			o.onMutationUpdate(m)
		}
		m.cache.emit(MutationCacheEvent{Type: EventUpdated, Mutation: m})
	})
	m.mu.Unlock()

	m.client.notify.flush()
}

func (m *Mutation) addObserver(o *MutationObserver) {
	m.mu.Lock()
	if slices.Contains(m.observers, o) {
		m.mu.Unlock()
		return
	}
	m.observers = append(m.observers, o)
	m.clearGCLocked()
	m.client.notify.enqueue(func() {
		m.cache.emit(MutationCacheEvent{Type: EventObserverAdded, Mutation: m, Observer: o})
	})
	m.mu.Unlock()

	m.client.notify.flush()
}

func (m *Mutation) removeObserver(o *MutationObserver) {
	m.mu.Lock()
	i := slices.Index(m.observers, o)
	if i < 0 {
		m.mu.Unlock()
		return
	}
	m.observers = slices.Delete(m.observers, i, i+1)
	m.scheduleGCLocked()
	m.client.notify.enqueue(func() {
		m.cache.emit(MutationCacheEvent{Type: EventObserverRemoved, Mutation: m, Observer: o})
	})
	m.mu.Unlock()

	m.client.notify.flush()
}

func (m *Mutation) settleGC() {
	m.mu.Lock()
	m.scheduleGCLocked()
	m.mu.Unlock()
}

// scheduleGCLocked arms the GC timer for a settled mutation without
// observers.
func (m *Mutation) scheduleGCLocked() {
	m.clearGCLocked()
	if len(m.observers) > 0 || m.state.Status == StatusPending {
		return
	}
	d := m.options.CacheTime
	if d == CacheTimeInfinite {
		return
	}
	if d < 0 {
		d = 0
	}
	m.gcTimer = time.AfterFunc(d, func() { m.cache.collect(m) })
}

func (m *Mutation) clearGCLocked() {
	if m.gcTimer != nil {
		m.gcTimer.Stop()
		m.gcTimer = nil
	}
}

func (m *Mutation) collectableLocked() bool {
	return len(m.observers) == 0 && m.state.Status != StatusPending
}
