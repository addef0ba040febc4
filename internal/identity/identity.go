// Package identity gates work on identity resolution. The presentation
// pipeline suspends until the identity layer signals that the user is
// known; no timeout is imposed here, callers bound the wait with their
// context.
package identity

import (
	"context"
	"sync"
)

// Manager signals identity readiness to waiters.
type Manager struct {
	mu    sync.Mutex
	ready chan struct{}
}

// New creates a Manager in the not-ready state.
func New() *Manager {
	return &Manager{ready: make(chan struct{})}
}

// SetReady marks identity as resolved, releasing all waiters. Safe to
// call more than once.
func (m *Manager) SetReady() {
	m.mu.Lock()
	defer m.mu.Unlock()

	select {
	case <-m.ready:
	default:
		close(m.ready)
	}
}

// Reset returns the manager to the not-ready state, e.g. after an
// identity reset while a new identity is being resolved.
func (m *Manager) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	select {
	case <-m.ready:
		m.ready = make(chan struct{})
	default:
	}
}

// WaitFor blocks until identity is ready or the context is done.
func (m *Manager) WaitFor(ctx context.Context) error {
	m.mu.Lock()
	ready := m.ready
	m.mu.Unlock()

	select {
	case <-ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
