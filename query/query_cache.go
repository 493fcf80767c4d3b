package query

import (
	"context"
	"slices"
	"sync"

	"github.com/jonwraymond/querycache/observe"
	"github.com/jonwraymond/querycache/querykey"
)

// Action names the state transition behind an EventUpdated.
type Action string

const (
	ActionFetch      Action = "fetch"
	ActionSuccess    Action = "success"
	ActionError      Action = "error"
	ActionFailed     Action = "failed"
	ActionPause      Action = "pause"
	ActionContinue   Action = "continue"
	ActionInvalidate Action = "invalidate"
	ActionCancel     Action = "cancel"
	ActionReset      Action = "reset"
)

// EventType identifies a cache event.
type EventType string

const (
	EventAdded           EventType = "added"
	EventRemoved         EventType = "removed"
	EventUpdated         EventType = "updated"
	EventObserverAdded   EventType = "observerAdded"
	EventObserverRemoved EventType = "observerRemoved"
	EventObserverResults EventType = "observerResultsUpdated"
)

// QueryCacheEvent is delivered to QueryCache subscribers.
type QueryCacheEvent struct {
	Type     EventType
	Query    *Query
	Action   Action         // set for EventUpdated
	Observer *QueryObserver // set for observer events
}

// QueryCacheConfig holds cache-wide hooks. Each runs once per settled fetch.
type QueryCacheConfig struct {
	OnSuccess func(data any, q *Query)
	OnError   func(err error, q *Query)
}

// QueryCache owns every Query of a client, keyed by key hash.
//
// Contract:
//   - Concurrency: safe for concurrent use.
//   - Errors: lookups never fail for missing entries; only malformed keys
//     and filters are reported.
type QueryCache struct {
	config QueryCacheConfig

	mu      sync.RWMutex
	queries map[string]*Query
	order   []*Query
	notify  *notifier
	logger  observe.Logger

	listeners listeners[QueryCacheEvent]
}

// NewQueryCache creates an empty cache. It becomes usable once passed to
// NewClient.
func NewQueryCache(config QueryCacheConfig) *QueryCache {
	return &QueryCache{
		config:  config,
		queries: make(map[string]*Query),
		notify:  newNotifier(nil),
		logger:  observe.NopLogger(),
	}
}

func (c *QueryCache) attach(n *notifier, logger observe.Logger) {
	c.mu.Lock()
	c.notify = n
	c.logger = logger
	c.mu.Unlock()
}

func (c *QueryCache) notifier() *notifier {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.notify
}

// Build returns the query for opts.QueryKey, creating it with opts when
// missing. An existing query is returned unchanged.
func (c *QueryCache) Build(client *Client, opts QueryOptions) (*Query, error) {
	if client == nil {
		return nil, ErrNilClient
	}
	hash, err := querykey.Hash(opts.QueryKey)
	if err != nil {
		return nil, invalidKey(err)
	}
	opts = opts.withDefaults()

	c.mu.Lock()
	if q, ok := c.queries[hash]; ok {
		c.mu.Unlock()
		return q, nil
	}

	q := newQuery(client, c, hash, opts)
	c.queries[hash] = q
	c.order = append(c.order, q)
	// With CacheTimeImmediate the timer is first armed by a settle or the
	// last unsubscribe.
	if opts.CacheTime != CacheTimeImmediate {
		q.mu.Lock()
		q.scheduleGCLocked()
		q.mu.Unlock()
	}
	c.enqueueLocked(QueryCacheEvent{Type: EventAdded, Query: q})
	n := c.notify
	c.mu.Unlock()

	n.flush()
	return q, nil
}

// Get returns the query with the given hash, or nil.
func (c *QueryCache) Get(hash string) *Query {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.queries[hash]
}

// Find returns the query whose key equals key, or nil. Malformed keys find
// nothing.
func (c *QueryCache) Find(key querykey.Key) *Query {
	hash, err := querykey.Hash(key)
	if err != nil {
		return nil
	}
	return c.Get(hash)
}

// All returns every query in insertion order.
func (c *QueryCache) All() []*Query {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Clone(c.order)
}

// Len returns the number of cached queries.
func (c *QueryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.queries)
}

// FindAll returns the queries selected by filters, in insertion order.
func (c *QueryCache) FindAll(filters QueryFilters) ([]*Query, error) {
	cf, err := filters.compile()
	if err != nil {
		return nil, err
	}
	var out []*Query
	for _, q := range c.All() {
		if cf.matches(q) {
			out = append(out, q)
		}
	}
	return out, nil
}

// Remove drops q from the cache and cancels its fetch. Observers still bound
// to it keep their last result.
func (c *QueryCache) Remove(q *Query) {
	c.mu.Lock()
	removed := c.removeLocked(q)
	n := c.notify
	c.mu.Unlock()

	if removed {
		q.destroy()
		n.flush()
	}
}

// Clear removes every query.
func (c *QueryCache) Clear() {
	n := c.notifier()
	n.batch(func() {
		for _, q := range c.All() {
			c.Remove(q)
		}
	})
}

func (c *QueryCache) removeLocked(q *Query) bool {
	if c.queries[q.hash] != q {
		return false
	}
	delete(c.queries, q.hash)
	if i := slices.Index(c.order, q); i >= 0 {
		c.order = slices.Delete(c.order, i, i+1)
	}
	c.enqueueLocked(QueryCacheEvent{Type: EventRemoved, Query: q})
	return true
}

// collect is the GC timer callback.
func (c *QueryCache) collect(q *Query) {
	c.mu.Lock()
	q.mu.Lock()
	ok := q.collectableLocked() && c.queries[q.hash] == q
	if ok {
		q.clearGCLocked()
	}
	q.mu.Unlock()
	if ok {
		c.removeLocked(q)
	}
	n, logger := c.notify, c.logger
	c.mu.Unlock()

	if ok {
		logger.Debug(context.Background(), "query evicted",
			observe.Field{Key: "query.hash", Value: q.hash},
		)
		n.flush()
	}
}

// Subscribe registers fn for every cache event.
func (c *QueryCache) Subscribe(fn func(QueryCacheEvent)) (unsubscribe func()) {
	id, _ := c.listeners.add(fn)
	return func() { c.listeners.remove(id) }
}

func (c *QueryCache) enqueueLocked(ev QueryCacheEvent) {
	c.notify.enqueue(func() { c.emit(ev) })
}

func (c *QueryCache) emit(ev QueryCacheEvent) {
	c.listeners.emit(c.notifier(), "query cache", ev)
}

// settled runs the cache hooks for a finished fetch.
func (c *QueryCache) settled(q *Query, data any, err error) {
	n := c.notifier()
	if err != nil {
		if c.config.OnError != nil {
			n.call("query cache OnError", func() { c.config.OnError(err, q) })
		}
		return
	}
	if c.config.OnSuccess != nil {
		n.call("query cache OnSuccess", func() { c.config.OnSuccess(data, q) })
	}
}
