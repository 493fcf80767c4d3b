package query

import (
	"context"
	"sync"

	"github.com/jonwraymond/querycache/observe"
)

// MutateOptions holds per-call hooks. They run after the mutation's own
// hooks, and only while the observer still tracks that mutation.
type MutateOptions struct {
	OnSuccess func(data, variables, mutationContext any)
	OnError   func(err error, variables, mutationContext any)
	OnSettled func(data any, err error, variables, mutationContext any)
}

// MutationObserverResult is the observer's view of its current mutation.
type MutationObserverResult struct {
	MutationState

	IsIdle    bool
	IsPending bool
	IsSuccess bool
	IsError   bool
}

func newMutationResult(state MutationState) MutationObserverResult {
	return MutationObserverResult{
		MutationState: state,
		IsIdle:        state.Status == StatusIdle,
		IsPending:     state.Status == StatusPending,
		IsSuccess:     state.Status == StatusSuccess,
		IsError:       state.Status == StatusError,
	}
}

// MutationObserver runs mutations for one consumer. Each Mutate call creates
// a new Mutation; the observer tracks the latest one.
type MutationObserver struct {
	client *Client

	mu       sync.Mutex
	options  MutationOptions
	mutation *Mutation
	result   MutationObserverResult

	listeners listeners[MutationObserverResult]
}

// NewMutationObserver creates an observer for opts with client defaults
// applied.
func NewMutationObserver(client *Client, opts MutationOptions) (*MutationObserver, error) {
	if client == nil {
		return nil, ErrNilClient
	}
	full := client.DefaultMutationOptions(opts)
	if err := full.validate(); err != nil {
		return nil, err
	}
	return &MutationObserver{
		client:  client,
		options: full,
		result:  newMutationResult(idleMutationState()),
	}, nil
}

// SetOptions replaces the options used by later Mutate calls.
func (o *MutationObserver) SetOptions(opts MutationOptions) error {
	full := o.client.DefaultMutationOptions(opts)
	if err := full.validate(); err != nil {
		return err
	}
	o.mu.Lock()
	o.options = full
	o.mu.Unlock()
	return nil
}

// Subscribe registers fn for result changes.
func (o *MutationObserver) Subscribe(fn func(MutationObserverResult)) (unsubscribe func()) {
	id, _ := o.listeners.add(fn)
	return func() {
		if removed, empty := o.listeners.remove(id); removed && empty {
			o.mu.Lock()
			m := o.mutation
			o.mu.Unlock()
			if m != nil {
				m.removeObserver(o)
			}
		}
	}
}

// GetSnapshot returns the current result.
func (o *MutationObserver) GetSnapshot() MutationObserverResult {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.result
}

// Mutate starts the mutation and returns without waiting for it. The
// outcome lands in the observer's result and the per-call hooks; errors are
// not returned, use MutateAsync for that. The mutation is created before
// Mutate returns, so of two Mutate calls the later one is the tracked one.
// ctx bounds the mutation's run.
func (o *MutationObserver) Mutate(ctx context.Context, variables any, opts MutateOptions) {
	m, err := o.bind()
	if err != nil {
		o.client.logger.Warn(ctx, "mutation not started", observe.Field{Key: "error", Value: err})
		return
	}
	go o.settle(ctx, m, variables, opts)
}

func (o *MutationObserver) settle(ctx context.Context, m *Mutation, variables any, opts MutateOptions) {
	data, err := m.Execute(ctx, variables)
	if !o.tracks(m) {
		return
	}

	n := o.client.notify
	mutationContext := m.State().Context
	if err != nil {
		if opts.OnError != nil {
			n.call("mutate OnError", func() { opts.OnError(err, variables, mutationContext) })
		}
	} else if opts.OnSuccess != nil {
		n.call("mutate OnSuccess", func() { opts.OnSuccess(data, variables, mutationContext) })
	}
	if opts.OnSettled != nil {
		n.call("mutate OnSettled", func() { opts.OnSettled(data, err, variables, mutationContext) })
	}
}

// MutateAsync runs the mutation and returns its data or error. It blocks
// until the mutation settles.
func (o *MutationObserver) MutateAsync(ctx context.Context, variables any) (any, error) {
	m, err := o.bind()
	if err != nil {
		return nil, err
	}
	return m.Execute(ctx, variables)
}

// bind creates a mutation from the current options and makes it the
// tracked one.
func (o *MutationObserver) bind() (*Mutation, error) {
	o.mu.Lock()
	prev, opts := o.mutation, o.options
	o.mu.Unlock()

	if prev != nil {
		prev.removeObserver(o)
	}
	m, err := o.client.mutationCache.Build(o.client, opts)
	if err != nil {
		return nil, err
	}

	o.mu.Lock()
	o.mutation = m
	o.mu.Unlock()
	m.addObserver(o)
	return m, nil
}

func (o *MutationObserver) tracks(m *Mutation) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.mutation == m
}

// Reset detaches the current mutation and returns the result to idle.
func (o *MutationObserver) Reset() {
	o.mu.Lock()
	m := o.mutation
	o.mutation = nil
	o.mu.Unlock()

	if m != nil {
		m.removeObserver(o)
	}
	o.publish(newMutationResult(idleMutationState()))
}

func (o *MutationObserver) onMutationUpdate(m *Mutation) {
	if !o.tracks(m) {
		return
	}
	o.publish(newMutationResult(m.State()))
}

func (o *MutationObserver) publish(result MutationObserverResult) {
	o.mu.Lock()
	o.result = result
	o.mu.Unlock()

	o.client.notify.schedule(func() {
		o.listeners.emit(o.client.notify, "mutation observer", result)
	})
}

var (
	_ Store[QueryObserverResult]    = (*QueryObserver)(nil)
	_ Store[MutationObserverResult] = (*MutationObserver)(nil)
)
