package assignments

import (
	"context"
	"fmt"
	"sync"

	"github.com/TimurManjosov/gopaywall/internal/campaign"
)

// Persistence stores confirmed assignments per user. Implementations
// must be safe for concurrent use.
type Persistence interface {
	// LoadConfirmed returns the user's confirmed assignments, or an
	// empty map if none are stored.
	LoadConfirmed(ctx context.Context, userID string) (map[string]campaign.Variant, error)

	// SaveConfirmed replaces the user's confirmed assignments.
	SaveConfirmed(ctx context.Context, userID string, confirmed map[string]campaign.Variant) error

	// DeleteConfirmed removes every confirmed assignment for the user.
	// Deleting an unknown user is not an error (idempotent).
	DeleteConfirmed(ctx context.Context, userID string) error

	// Close releases any resources held by the persistence layer.
	Close() error
}

// NewPersistence creates a persistence backend of the given type.
// Supported types: "memory", "postgres".
func NewPersistence(ctx context.Context, storeType, dsn string) (Persistence, error) {
	switch storeType {
	case "memory":
		return NewMemoryPersistence(), nil
	case "postgres":
		return NewPostgresPersistence(ctx, dsn)
	default:
		return nil, fmt.Errorf("unsupported store type: %s", storeType)
	}
}

// MemoryPersistence keeps confirmed assignments in a map guarded by an
// RWMutex. Suitable for development, testing, or single-instance
// deployments.
type MemoryPersistence struct {
	mu    sync.RWMutex
	users map[string]map[string]campaign.Variant
}

// NewMemoryPersistence creates an empty in-memory persistence layer.
func NewMemoryPersistence() *MemoryPersistence {
	return &MemoryPersistence{
		users: make(map[string]map[string]campaign.Variant),
	}
}

// LoadConfirmed returns a copy of the user's confirmed assignments.
func (m *MemoryPersistence) LoadConfirmed(_ context.Context, userID string) (map[string]campaign.Variant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return cloneVariants(m.users[userID]), nil
}

// SaveConfirmed replaces the user's confirmed assignments with a copy.
func (m *MemoryPersistence) SaveConfirmed(_ context.Context, userID string, confirmed map[string]campaign.Variant) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.users[userID] = cloneVariants(confirmed)
	return nil
}

// DeleteConfirmed removes the user's confirmed assignments.
func (m *MemoryPersistence) DeleteConfirmed(_ context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.users, userID)
	return nil
}

// Close is a no-op for the in-memory persistence layer.
func (m *MemoryPersistence) Close() error { return nil }
