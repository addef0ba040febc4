// Package presentation turns one presentation request into a terminal
// PaywallState through a fixed sequence of asynchronous stages:
//
//	1. await identity readiness
//	2. evaluate rules (the outcome resolver)
//	3. check user subscription
//	4. acquire paywall content
//
// Each stage may terminate early with a PaywallState instead of
// forwarding to the next. Requests are single-flight per key: a newer
// request of the same kind supersedes an older pending one, which is
// abandoned without emitting further states.
package presentation

import (
	"context"
	"errors"
	"log"
	"sync"

	"github.com/TimurManjosov/gopaywall/internal/campaign"
	"github.com/TimurManjosov/gopaywall/internal/outcome"
	"github.com/TimurManjosov/gopaywall/internal/paywall"
	"github.com/TimurManjosov/gopaywall/internal/snapshot"
)

// Pipeline sequences the engine's decision against identity readiness,
// subscription state and a paywall content fetch.
type Pipeline struct {
	identity      IdentityWaiter
	outcomes      OutcomeSource
	subscriptions SubscriptionStatus
	paywalls      PaywallProvider
	confirmations ConfirmationSink

	mu       sync.Mutex
	inflight map[string]*run
}

type run struct {
	cancel    context.CancelFunc
	states    chan PaywallState
	presented bool
}

// New wires a Pipeline from its collaborators.
func New(
	identity IdentityWaiter,
	outcomes OutcomeSource,
	subscriptions SubscriptionStatus,
	paywalls PaywallProvider,
	confirmations ConfirmationSink,
) *Pipeline {
	return &Pipeline{
		identity:      identity,
		outcomes:      outcomes,
		subscriptions: subscriptions,
		paywalls:      paywalls,
		confirmations: confirmations,
		inflight:      make(map[string]*run),
	}
}

// Present starts a presentation request and returns its state stream.
// The stream delivers at most one of Skipped/PresentationError, or a
// Presented followed later by a Dismissed, and is then closed. A
// superseded or cancelled request's stream closes without further
// states.
func (p *Pipeline) Present(ctx context.Context, req Request) <-chan PaywallState {
	runCtx, cancel := context.WithCancel(ctx)
	r := &run{
		cancel: cancel,
		states: make(chan PaywallState, 2),
	}

	key := req.EffectiveKey()
	p.mu.Lock()
	if old, ok := p.inflight[key]; ok {
		if old.presented {
			// The prior request of this kind is on screen and owns the
			// presentation slot until Dismiss. Supersession only applies
			// to pending runs; reject the newcomer instead.
			p.mu.Unlock()
			cancel()
			log.Printf("[presentation] rejecting request key=%s: %v", key, paywall.ErrAlreadyPresented)
			close(r.states)
			return r.states
		}
		// Newer request of the same kind wins; the old pending run is
		// abandoned and emits nothing further.
		old.cancel()
	}
	p.inflight[key] = r
	p.mu.Unlock()

	go p.execute(runCtx, req, r, key)
	return r.states
}

// Dismiss reports that the renderer closed the paywall for the given
// request key, emitting Dismissed and ending the stream.
func (p *Pipeline) Dismiss(key string, result DismissResult) {
	p.mu.Lock()
	r, ok := p.inflight[key]
	if ok && r.presented {
		delete(p.inflight, key)
	}
	p.mu.Unlock()

	if !ok || !r.presented {
		return
	}

	p.paywalls.Release()
	r.states <- Dismissed{Result: result}
	close(r.states)
}

func (p *Pipeline) execute(ctx context.Context, req Request, r *run, key string) {
	terminal := func(state PaywallState) {
		p.finish(key, r)
		if ctx.Err() != nil {
			// Superseded or cancelled: no partial terminal states.
			close(r.states)
			return
		}
		r.states <- state
		close(r.states)
	}

	// Stage 1: await identity. No timeout at this layer; the request
	// context bounds the wait.
	if err := p.identity.WaitFor(ctx); err != nil {
		p.finish(key, r)
		close(r.states)
		return
	}

	// Stage 2: evaluate rules.
	exp, confirmable, state := p.evaluateRules(ctx, req)
	if state != nil {
		terminal(state)
		return
	}

	// Stage 3: check user subscription. Holdouts skip unconditionally;
	// their assignment is still confirmed so the exclusion is sticky.
	if exp.Variant.Type == campaign.VariantTypeHoldout {
		p.dispatchConfirmation(req.UserID, confirmable)
		terminal(Skipped{Reason: SkipHoldout, Experiment: exp})
		return
	}

	paywallID := ""
	if exp.Variant.PaywallID != nil {
		paywallID = *exp.Variant.PaywallID
	}

	if !req.Debug &&
		p.subscriptions.IsActive(ctx, req.UserID) &&
		p.paywalls.PresentationCondition(paywallID) == campaign.ConditionCheckUserSubscription {
		terminal(Skipped{Reason: SkipUserIsSubscribed, Experiment: exp})
		return
	}

	p.dispatchConfirmation(req.UserID, confirmable)

	// Stage 4: acquire paywall content.
	content, err := p.paywalls.GetPaywall(ctx, paywallID, exp)
	if err != nil {
		if errors.Is(err, paywall.ErrAlreadyPresented) {
			// Legitimate early exit: another paywall holds the screen.
			log.Printf("[presentation] rejecting request key=%s: %v", key, err)
			p.finish(key, r)
			close(r.states)
			return
		}
		terminal(PresentationError{Err: err})
		return
	}

	// Supersession cancels under the same lock, so checking the context
	// and flipping presented in one critical section guarantees a
	// superseding request either sees the presented flag or this run
	// sees the cancellation and gives the slot back.
	p.mu.Lock()
	if ctx.Err() != nil {
		p.mu.Unlock()
		p.paywalls.Release()
		p.finish(key, r)
		close(r.states)
		return
	}
	// The run stays registered so Dismiss can complete the lifecycle.
	r.presented = true
	p.mu.Unlock()
	r.states <- Presented{Paywall: content, Experiment: exp}
}

// evaluateRules is stage 2. Debug requests bypass the resolver with a
// synthetic always-treatment experiment bound to the requested paywall.
func (p *Pipeline) evaluateRules(ctx context.Context, req Request) (*campaign.Experiment, *campaign.ConfirmableAssignment, PaywallState) {
	if req.Debug {
		paywallID := req.PaywallID
		return &campaign.Experiment{
			ID:      "debug",
			GroupID: "debug",
			Variant: campaign.Variant{
				ID:        "debug",
				Type:      campaign.VariantTypeTreatment,
				PaywallID: &paywallID,
			},
		}, nil, nil
	}

	out, err := p.outcomes.GetOutcome(ctx, req.UserID, req.EventName, req.EventParams, snapshot.Load().Triggers)
	if err != nil {
		return nil, nil, PresentationError{Err: err}
	}

	switch out.Result.Kind {
	case outcome.KindEventNotFound:
		return nil, nil, Skipped{Reason: SkipEventNotFound}
	case outcome.KindNoRuleMatch:
		return nil, nil, Skipped{Reason: SkipNoRuleMatch}
	}
	return out.Result.Experiment, out.Confirmable, nil
}

// dispatchConfirmation hands a pending assignment to the confirmation
// sink. Fire-and-forget: the pipeline never waits for the remote
// acknowledgment, and failures are retried independently.
func (p *Pipeline) dispatchConfirmation(userID string, confirmable *campaign.ConfirmableAssignment) {
	if confirmable == nil {
		return
	}
	p.confirmations.Dispatch(userID, *confirmable)
}

// finish deregisters the run if it is still the current one for key.
func (p *Pipeline) finish(key string, r *run) {
	p.mu.Lock()
	if current, ok := p.inflight[key]; ok && current == r {
		delete(p.inflight, key)
	}
	p.mu.Unlock()
}
