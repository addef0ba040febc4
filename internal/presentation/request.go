package presentation

import (
	"context"

	"github.com/TimurManjosov/gopaywall/internal/campaign"
	"github.com/TimurManjosov/gopaywall/internal/outcome"
)

// Request is one attempt to resolve and display a paywall, either for a
// fired event or, from the debugging entry point, for an explicit
// paywall identifier.
type Request struct {
	// Key identifies the logical kind of request for single-flight
	// supersession; empty falls back to the paywall id or event name.
	Key         string
	UserID      string
	EventName   string
	EventParams map[string]any

	// Debug short-circuits rule evaluation with a synthetic treatment
	// experiment bound to PaywallID.
	Debug     bool
	PaywallID string
}

// EffectiveKey reports the supersession key the pipeline will use for
// this request. Callers pass it back to Dismiss.
func (r Request) EffectiveKey() string {
	if r.Key != "" {
		return r.Key
	}
	if r.Debug {
		return "paywall:" + r.PaywallID
	}
	return "event:" + r.EventName
}

// IdentityWaiter suspends until identity resolution has completed.
type IdentityWaiter interface {
	WaitFor(ctx context.Context) error
}

// OutcomeSource is the decision stage: it classifies an event against
// the current campaign configuration and assignments.
type OutcomeSource interface {
	GetOutcome(ctx context.Context, userID, eventName string, eventParams map[string]any, triggers map[string]campaign.Trigger) (outcome.Outcome, error)
}

// SubscriptionStatus reports whether the user holds an active
// subscription or entitlement.
type SubscriptionStatus interface {
	IsActive(ctx context.Context, userID string) bool
}

// PaywallProvider hands out hydrated paywall content and guards the
// single presentation slot.
type PaywallProvider interface {
	PresentationCondition(identifier string) campaign.PresentationCondition
	GetPaywall(ctx context.Context, identifier string, experiment *campaign.Experiment) (campaign.Paywall, error)
	Release()
}

// ConfirmationSink accepts assignments for best-effort remote
// confirmation. Dispatch must never block the pipeline.
type ConfirmationSink interface {
	Dispatch(userID string, assignment campaign.ConfirmableAssignment)
}
