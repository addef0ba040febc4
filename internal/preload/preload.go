// Package preload derives the set of paywall identifiers that should be
// proactively fetched for a user.
package preload

import (
	"context"

	"github.com/TimurManjosov/gopaywall/internal/assignments"
	"github.com/TimurManjosov/gopaywall/internal/campaign"
	"github.com/TimurManjosov/gopaywall/internal/expression"
)

// Evaluator answers preload queries from the current assignments.
type Evaluator struct {
	Store *assignments.Store
	Eval  expression.Evaluator
}

// ActivePaywallIDs returns the treatment paywall ids for every
// experiment referenced by a trigger, ignoring preload policy. Missing
// assignments are rolled fresh so preloading works before any event has
// fired for the user.
func (e *Evaluator) ActivePaywallIDs(ctx context.Context, userID string, triggers map[string]campaign.Trigger) (map[string]struct{}, error) {
	maps, err := e.Store.EnsureAssignments(ctx, userID, triggers)
	if err != nil {
		return nil, err
	}
	return assignments.ActiveTreatmentPaywallIDs(triggers, maps.Confirmed, maps.Unconfirmed), nil
}

// AllActivePaywallIDs applies each rule's preload policy on top of the
// active-treatment resolution. It is the preload-aware variant: if_true
// rules are probed against a neutral context through the expression
// evaluator.
func (e *Evaluator) AllActivePaywallIDs(ctx context.Context, userID string, triggers map[string]campaign.Trigger) (map[string]struct{}, error) {
	maps, err := e.Store.EnsureAssignments(ctx, userID, triggers)
	if err != nil {
		return nil, err
	}
	return assignments.AllActiveTreatmentPaywallIDs(ctx, triggers, maps.Confirmed, maps.Unconfirmed, e.Eval)
}
