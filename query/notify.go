package query

import (
	"context"
	"fmt"
	"sync"

	"github.com/jonwraymond/querycache/observe"
)

// notifier delivers notifications in the order they were queued. One
// goroutine flushes at a time; notifications queued while a flush is running,
// including from inside a listener, are delivered by that flush.
//
// Callers must queue while holding the lock that guards the state they
// report on, and must flush after releasing every lock.
type notifier struct {
	mu         sync.Mutex
	queue      []func()
	flushing   bool
	batchDepth int
	logger     observe.Logger
}

func newNotifier(logger observe.Logger) *notifier {
	if logger == nil {
		logger = observe.NopLogger()
	}
	return &notifier{logger: logger}
}

func (n *notifier) enqueue(fn func()) {
	n.mu.Lock()
	n.queue = append(n.queue, fn)
	n.mu.Unlock()
}

// schedule queues fn and flushes.
func (n *notifier) schedule(fn func()) {
	n.enqueue(fn)
	n.flush()
}

func (n *notifier) flush() {
	n.mu.Lock()
	if n.flushing || n.batchDepth > 0 {
		n.mu.Unlock()
		return
	}
	n.flushing = true
	for len(n.queue) > 0 {
		fn := n.queue[0]
		n.queue[0] = nil
		n.queue = n.queue[1:]
		n.mu.Unlock()
		n.call("notification", fn)
		n.mu.Lock()
	}
	n.queue = nil
	n.flushing = false
	n.mu.Unlock()
}

// batch holds back delivery until fn returns.
func (n *notifier) batch(fn func()) {
	n.mu.Lock()
	n.batchDepth++
	n.mu.Unlock()

	defer func() {
		n.mu.Lock()
		n.batchDepth--
		n.mu.Unlock()
		n.flush()
	}()
	fn()
}

// call runs fn and logs instead of propagating a panic.
func (n *notifier) call(what string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			n.logger.Error(context.Background(), "listener panicked",
				observe.Field{Key: "listener", Value: what},
				observe.Field{Key: "panic", Value: fmt.Sprint(r)},
			)
		}
	}()
	fn()
}

// listeners is an ordered set of callbacks.
type listeners[T any] struct {
	mu     sync.Mutex
	nextID int
	ids    []int
	fns    map[int]func(T)
}

func (l *listeners[T]) add(fn func(T)) (id int, first bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.fns == nil {
		l.fns = make(map[int]func(T))
	}
	l.nextID++
	l.fns[l.nextID] = fn
	l.ids = append(l.ids, l.nextID)
	return l.nextID, len(l.ids) == 1
}

// remove reports whether id was removed and no listeners are left.
func (l *listeners[T]) remove(id int) (removed, empty bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.fns[id]; !ok {
		return false, len(l.ids) == 0
	}
	delete(l.fns, id)
	for i, v := range l.ids {
		if v == id {
			l.ids = append(l.ids[:i], l.ids[i+1:]...)
			break
		}
	}
	return true, len(l.ids) == 0
}

func (l *listeners[T]) clear() {
	l.mu.Lock()
	l.ids = nil
	l.fns = nil
	l.mu.Unlock()
}

func (l *listeners[T]) len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.ids)
}

func (l *listeners[T]) snapshot() []func(T) {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]func(T), 0, len(l.ids))
	for _, id := range l.ids {
		out = append(out, l.fns[id])
	}
	return out
}

// emit calls every listener with v, recovering panics one listener at a time.
func (l *listeners[T]) emit(n *notifier, what string, v T) {
	for _, fn := range l.snapshot() {
		n.call(what, func() { fn(v) })
	}
}
