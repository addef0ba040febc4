// Package paywall acquires hydrated paywall content for presentation.
package paywall

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/TimurManjosov/gopaywall/internal/campaign"
	"github.com/TimurManjosov/gopaywall/internal/snapshot"
)

// ErrAlreadyPresented means a paywall is currently on screen; the new
// request is rejected early. This is a legitimate early-exit, not a
// failure.
var ErrAlreadyPresented = errors.New("a paywall is already being presented")

// ErrPaywallNotFound means the requested identifier is not part of the
// current configuration. Surfaced as an acquisition error.
var ErrPaywallNotFound = errors.New("paywall not found")

// Manager hands out paywall content from the configuration snapshot and
// guards against concurrent presentation.
type Manager struct {
	presenting atomic.Bool
}

// NewManager creates a Manager with nothing presenting.
func NewManager() *Manager {
	return &Manager{}
}

// PresentationCondition returns the paywall's presentation condition,
// defaulting to checking the user's subscription when the paywall is
// unknown or the field is unset.
func (m *Manager) PresentationCondition(identifier string) campaign.PresentationCondition {
	paywall, ok := snapshot.Load().Paywalls[identifier]
	if !ok || paywall.PresentationCondition == "" {
		return campaign.ConditionCheckUserSubscription
	}
	return paywall.PresentationCondition
}

// GetPaywall returns the hydrated paywall for the identifier and marks
// it as presenting. Callers must call Release once the paywall leaves
// the screen. Returns ErrAlreadyPresented while another paywall holds
// the slot.
func (m *Manager) GetPaywall(ctx context.Context, identifier string, _ *campaign.Experiment) (campaign.Paywall, error) {
	if err := ctx.Err(); err != nil {
		return campaign.Paywall{}, err
	}

	if !m.presenting.CompareAndSwap(false, true) {
		return campaign.Paywall{}, ErrAlreadyPresented
	}

	paywall, ok := snapshot.Load().Paywalls[identifier]
	if !ok {
		m.presenting.Store(false)
		return campaign.Paywall{}, fmt.Errorf("%w: %s", ErrPaywallNotFound, identifier)
	}

	return paywall, nil
}

// Release frees the presentation slot after a dismissal.
func (m *Manager) Release() {
	m.presenting.Store(false)
}
