// Package subscription tracks per-user subscription status as reported
// by the billing layer. The decision engine only ever asks "is it
// active"; verification is out of scope.
package subscription

import (
	"context"
	"sync"
)

// Registry is an in-memory subscription status source.
type Registry struct {
	mu     sync.RWMutex
	active map[string]bool
}

// NewRegistry creates an empty registry; unknown users are inactive.
func NewRegistry() *Registry {
	return &Registry{active: make(map[string]bool)}
}

// Set records the user's subscription status.
func (r *Registry) Set(userID string, active bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.active[userID] = active
}

// IsActive reports whether the user holds an active subscription.
func (r *Registry) IsActive(_ context.Context, userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.active[userID]
}
