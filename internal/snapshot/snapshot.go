// Package snapshot holds the current campaign configuration in memory.
// Readers get an immutable snapshot via Load; writers replace it
// atomically via Update, which also notifies subscribers so dependent
// state (assignment reconciliation, preload caches) can react.
package snapshot

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sync/atomic"
	"time"

	"github.com/TimurManjosov/gopaywall/internal/campaign"
)

// Snapshot is one immutable view of the campaign configuration.
type Snapshot struct {
	ETag      string                      `json:"etag"`
	Triggers  map[string]campaign.Trigger `json:"triggers"`
	Paywalls  map[string]campaign.Paywall `json:"paywalls,omitempty"`
	UpdatedAt time.Time                   `json:"updatedAt"`
}

var current atomic.Pointer[Snapshot]

// Load returns the current snapshot. Before the first Update it returns
// an empty snapshot rather than nil so callers need no nil checks.
func Load() *Snapshot {
	if s := current.Load(); s != nil {
		return s
	}
	return &Snapshot{
		Triggers:  map[string]campaign.Trigger{},
		Paywalls:  map[string]campaign.Paywall{},
		UpdatedAt: time.Now().UTC(),
	}
}

// Build constructs a snapshot from a campaign configuration document.
// The ETag is a weak hash of the document so unchanged pushes are
// detectable by clients.
func Build(cfg campaign.Config) *Snapshot {
	blob, _ := json.Marshal(cfg)
	sum := sha256.Sum256(blob)
	etag := `W/"` + hex.EncodeToString(sum[:]) + `"`

	return &Snapshot{
		ETag:      etag,
		Triggers:  cfg.TriggersByEventName(),
		Paywalls:  cfg.PaywallsByIdentifier(),
		UpdatedAt: time.Now().UTC(),
	}
}

// Update atomically replaces the current snapshot and notifies
// watchers.
func Update(s *Snapshot) {
	current.Store(s)
	publishUpdate(s)
}
