package query

import (
	"context"
	"sync"
)

// OnlineManager tracks network connectivity. Fetches in NetworkModeOnline
// pause while it reports offline and resume when it reports online again.
//
// The zero value is not usable; use NewOnlineManager.
type OnlineManager struct {
	mu        sync.Mutex
	online    bool
	wake      chan struct{}
	listeners listeners[bool]
	notify    *notifier
}

// NewOnlineManager returns a manager that starts online.
func NewOnlineManager() *OnlineManager {
	return &OnlineManager{
		online: true,
		wake:   make(chan struct{}),
		notify: newNotifier(nil),
	}
}

// SetOnline records the connectivity state and notifies subscribers when it
// changed.
func (m *OnlineManager) SetOnline(online bool) {
	m.mu.Lock()
	if m.online == online {
		m.mu.Unlock()
		return
	}
	m.online = online
	if online {
		close(m.wake)
		m.wake = make(chan struct{})
	}
	m.mu.Unlock()

	m.listeners.emit(m.notify, "online", online)
}

// IsOnline reports the current connectivity state.
func (m *OnlineManager) IsOnline() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// Subscribe registers fn for connectivity changes.
func (m *OnlineManager) Subscribe(fn func(online bool)) (unsubscribe func()) {
	id, _ := m.listeners.add(fn)
	return func() { m.listeners.remove(id) }
}

// waitOnline blocks until the manager reports online or ctx ends.
func (m *OnlineManager) waitOnline(ctx context.Context) error {
	for {
		m.mu.Lock()
		if m.online {
			m.mu.Unlock()
			return nil
		}
		wake := m.wake
		m.mu.Unlock()

		select {
		case <-wake:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
