package query

import (
	"slices"
	"sync"
	"sync/atomic"
)

// MutationCacheEvent is delivered to MutationCache subscribers.
type MutationCacheEvent struct {
	Type     EventType
	Mutation *Mutation
	Observer *MutationObserver // set for observer events
}

// MutationCacheConfig holds cache-wide hooks. They run before the hooks of
// the mutation's own options.
type MutationCacheConfig struct {
	OnMutate  func(variables any, m *Mutation)
	OnSuccess func(data, variables, mutationContext any, m *Mutation)
	OnError   func(err error, variables, mutationContext any, m *Mutation)
	OnSettled func(data any, err error, variables, mutationContext any, m *Mutation)
}

// MutationCache is a flat registry of mutations by invocation id.
//
// Contract:
//   - Concurrency: safe for concurrent use.
//   - Ownership: mutations are removed by Remove, Clear, or after CacheTime
//     once settled and unobserved.
type MutationCache struct {
	config MutationCacheConfig
	nextID atomic.Int64

	mu        sync.RWMutex
	mutations []*Mutation
	notify    *notifier

	listeners listeners[MutationCacheEvent]
}

// NewMutationCache creates an empty cache. It becomes usable once passed to
// NewClient.
func NewMutationCache(config MutationCacheConfig) *MutationCache {
	return &MutationCache{
		config: config,
		notify: newNotifier(nil),
	}
}

func (c *MutationCache) attach(n *notifier) {
	c.mu.Lock()
	c.notify = n
	c.mu.Unlock()
}

func (c *MutationCache) notifier() *notifier {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.notify
}

// Build creates a mutation with a fresh id and adds it to the cache.
func (c *MutationCache) Build(client *Client, opts MutationOptions) (*Mutation, error) {
	if client == nil {
		return nil, ErrNilClient
	}
	if err := opts.validate(); err != nil {
		return nil, err
	}
	m := &Mutation{
		id:      c.nextID.Add(1),
		client:  client,
		cache:   c,
		options: opts.withDefaults(),
		state:   idleMutationState(),
	}
	c.Add(m)
	return m, nil
}

// Add registers m.
func (c *MutationCache) Add(m *Mutation) {
	c.mu.Lock()
	if slices.Contains(c.mutations, m) {
		c.mu.Unlock()
		return
	}
	c.mutations = append(c.mutations, m)
	n := c.notify
	n.enqueue(func() { c.emit(MutationCacheEvent{Type: EventAdded, Mutation: m}) })
	c.mu.Unlock()

	n.flush()
}

// Remove drops m from the cache.
func (c *MutationCache) Remove(m *Mutation) {
	c.mu.Lock()
	removed := c.removeLocked(m)
	n := c.notify
	c.mu.Unlock()

	if removed {
		m.mu.Lock()
		m.clearGCLocked()
		m.mu.Unlock()
		n.flush()
	}
}

func (c *MutationCache) removeLocked(m *Mutation) bool {
	i := slices.Index(c.mutations, m)
	if i < 0 {
		return false
	}
	c.mutations = slices.Delete(c.mutations, i, i+1)
	c.notify.enqueue(func() { c.emit(MutationCacheEvent{Type: EventRemoved, Mutation: m}) })
	return true
}

// collect is the GC timer callback.
func (c *MutationCache) collect(m *Mutation) {
	c.mu.Lock()
	m.mu.Lock()
	ok := m.collectableLocked()
	if ok {
		m.clearGCLocked()
	}
	m.mu.Unlock()
	if ok {
		ok = c.removeLocked(m)
	}
	n := c.notify
	c.mu.Unlock()

	if ok {
		n.flush()
	}
}

// Clear removes every mutation.
func (c *MutationCache) Clear() {
	c.notifier().batch(func() {
		for _, m := range c.All() {
			c.Remove(m)
		}
	})
}

// All returns every mutation in id order.
func (c *MutationCache) All() []*Mutation {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Clone(c.mutations)
}

// Len returns the number of cached mutations.
func (c *MutationCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.mutations)
}

// Find returns the first mutation selected by filters, or nil.
func (c *MutationCache) Find(filters MutationFilters) *Mutation {
	found, err := c.FindAll(filters)
	if err != nil || len(found) == 0 {
		return nil
	}
	return found[0]
}

// FindAll returns the mutations selected by filters, in id order.
func (c *MutationCache) FindAll(filters MutationFilters) ([]*Mutation, error) {
	if err := filters.validate(); err != nil {
		return nil, err
	}
	var out []*Mutation
	for _, m := range c.All() {
		if filters.matches(m) {
			out = append(out, m)
		}
	}
	return out, nil
}

// Subscribe registers fn for every cache event.
func (c *MutationCache) Subscribe(fn func(MutationCacheEvent)) (unsubscribe func()) {
	id, _ := c.listeners.add(fn)
	return func() { c.listeners.remove(id) }
}

func (c *MutationCache) emit(ev MutationCacheEvent) {
	c.listeners.emit(c.notifier(), "mutation cache", ev)
}

func (c *MutationCache) onMutate(variables any, m *Mutation) {
	if c.config.OnMutate != nil {
		c.notifier().call("mutation cache OnMutate", func() { c.config.OnMutate(variables, m) })
	}
}

func (c *MutationCache) onSuccess(data, variables, mutationContext any, m *Mutation) {
	if c.config.OnSuccess != nil {
		c.notifier().call("mutation cache OnSuccess", func() { c.config.OnSuccess(data, variables, mutationContext, m) })
	}
}

func (c *MutationCache) onError(err error, variables, mutationContext any, m *Mutation) {
	if c.config.OnError != nil {
		c.notifier().call("mutation cache OnError", func() { c.config.OnError(err, variables, mutationContext, m) })
	}
}

func (c *MutationCache) onSettled(data any, err error, variables, mutationContext any, m *Mutation) {
	if c.config.OnSettled != nil {
		c.notifier().call("mutation cache OnSettled", func() { c.config.OnSettled(data, err, variables, mutationContext, m) })
	}
}
