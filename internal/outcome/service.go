package outcome

import (
	"context"

	"github.com/TimurManjosov/gopaywall/internal/assignments"
	"github.com/TimurManjosov/gopaywall/internal/campaign"
	"github.com/TimurManjosov/gopaywall/internal/expression"
)

// Resolver binds outcome resolution to the assignment store so that
// resolution and reconciliation run in the same exclusion domain: the
// read of the assignment maps, any fresh variant pick and its recording
// as unconfirmed happen under one lock.
type Resolver struct {
	Store *assignments.Store
	Eval  expression.Evaluator
}

// GetOutcome resolves the outcome of an event for a user. A freshly
// rolled variant is recorded as an unconfirmed assignment before this
// returns, so a cancelled caller still leaves a consistent store.
func (r *Resolver) GetOutcome(
	ctx context.Context,
	userID string,
	eventName string,
	eventParams map[string]any,
	triggers map[string]campaign.Trigger,
) (Outcome, error) {
	var out Outcome
	err := r.Store.Exclusive(ctx, userID, func(confirmed, unconfirmed map[string]campaign.Variant) (*campaign.ConfirmableAssignment, error) {
		resolved, fresh, err := Resolve(ctx, eventName, eventParams, triggers, confirmed, unconfirmed, r.Eval, r.Store.DrawsFor(userID))
		if err != nil {
			return nil, err
		}
		out = resolved
		if fresh {
			return resolved.Confirmable, nil
		}
		return nil, nil
	})
	return out, err
}
