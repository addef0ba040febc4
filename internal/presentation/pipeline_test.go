package presentation

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/TimurManjosov/gopaywall/internal/campaign"
	"github.com/TimurManjosov/gopaywall/internal/outcome"
	"github.com/TimurManjosov/gopaywall/internal/paywall"
	"github.com/TimurManjosov/gopaywall/internal/snapshot"
	"github.com/TimurManjosov/gopaywall/internal/testutil"
)

type readyIdentity struct{}

func (readyIdentity) WaitFor(context.Context) error { return nil }

type stubOutcomes struct {
	out  outcome.Outcome
	err  error
	gate chan struct{} // when set, resolution blocks until closed
}

func (s *stubOutcomes) GetOutcome(ctx context.Context, _, _ string, _ map[string]any, _ map[string]campaign.Trigger) (outcome.Outcome, error) {
	if s.gate != nil {
		select {
		case <-s.gate:
		case <-ctx.Done():
		}
	}
	return s.out, s.err
}

type stubSubs struct{ active bool }

func (s stubSubs) IsActive(context.Context, string) bool { return s.active }

type stubPaywalls struct {
	mu        sync.Mutex
	condition campaign.PresentationCondition
	err       error
	released  int
}

func (s *stubPaywalls) PresentationCondition(string) campaign.PresentationCondition {
	if s.condition == "" {
		return campaign.ConditionCheckUserSubscription
	}
	return s.condition
}

func (s *stubPaywalls) GetPaywall(_ context.Context, identifier string, _ *campaign.Experiment) (campaign.Paywall, error) {
	if s.err != nil {
		return campaign.Paywall{}, s.err
	}
	return campaign.Paywall{Identifier: identifier}, nil
}

func (s *stubPaywalls) Release() {
	s.mu.Lock()
	s.released++
	s.mu.Unlock()
}

func (s *stubPaywalls) releaseCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.released
}

type recordSink struct {
	mu         sync.Mutex
	dispatched []campaign.ConfirmableAssignment
}

func (s *recordSink) Dispatch(_ string, assignment campaign.ConfirmableAssignment) {
	s.mu.Lock()
	s.dispatched = append(s.dispatched, assignment)
	s.mu.Unlock()
}

func (s *recordSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.dispatched)
}

func paywallOutcome(experimentID, paywallID string, confirmable bool) outcome.Outcome {
	variant := campaign.Variant{ID: "v1", Type: campaign.VariantTypeTreatment, PaywallID: testutil.StringPtr(paywallID)}
	out := outcome.Outcome{
		Result: outcome.Result{
			Kind:       outcome.KindPaywall,
			Experiment: &campaign.Experiment{ID: experimentID, GroupID: "group-1", Variant: variant},
		},
	}
	if confirmable {
		out.Confirmable = &campaign.ConfirmableAssignment{ExperimentID: experimentID, Variant: variant}
	}
	return out
}

func holdoutOutcome(experimentID string) outcome.Outcome {
	variant := campaign.Variant{ID: "control", Type: campaign.VariantTypeHoldout}
	return outcome.Outcome{
		Result: outcome.Result{
			Kind:       outcome.KindHoldout,
			Experiment: &campaign.Experiment{ID: experimentID, GroupID: "group-1", Variant: variant},
		},
		Confirmable: &campaign.ConfirmableAssignment{ExperimentID: experimentID, Variant: variant},
	}
}

func waitState(t *testing.T, states <-chan PaywallState) (PaywallState, bool) {
	t.Helper()
	select {
	case state, ok := <-states:
		return state, ok
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a pipeline state")
		return nil, false
	}
}

func TestPipeline_EventNotFoundSkip(t *testing.T) {
	p := New(readyIdentity{}, &stubOutcomes{out: outcome.Outcome{Result: outcome.Result{Kind: outcome.KindEventNotFound}}},
		stubSubs{}, &stubPaywalls{}, &recordSink{})

	states := p.Present(context.Background(), Request{UserID: "user-1", EventName: "nope"})
	state, ok := waitState(t, states)
	if !ok {
		t.Fatal("Expected a terminal state")
	}
	skipped, isSkip := state.(Skipped)
	if !isSkip || skipped.Reason != SkipEventNotFound {
		t.Errorf("Expected Skipped(event_not_found), got %#v", state)
	}
	if _, open := <-states; open {
		t.Error("Expected stream closed after terminal state")
	}
}

func TestPipeline_NoRuleMatchSkip(t *testing.T) {
	p := New(readyIdentity{}, &stubOutcomes{out: outcome.Outcome{Result: outcome.Result{Kind: outcome.KindNoRuleMatch}}},
		stubSubs{}, &stubPaywalls{}, &recordSink{})

	states := p.Present(context.Background(), Request{UserID: "user-1", EventName: "ev"})
	state, _ := waitState(t, states)
	skipped, isSkip := state.(Skipped)
	if !isSkip || skipped.Reason != SkipNoRuleMatch {
		t.Errorf("Expected Skipped(no_rule_match), got %#v", state)
	}
}

func TestPipeline_HoldoutSkipsAndConfirms(t *testing.T) {
	sink := &recordSink{}
	p := New(readyIdentity{}, &stubOutcomes{out: holdoutOutcome("exp-1")}, stubSubs{}, &stubPaywalls{}, sink)

	states := p.Present(context.Background(), Request{UserID: "user-1", EventName: "ev"})
	state, _ := waitState(t, states)
	skipped, isSkip := state.(Skipped)
	if !isSkip || skipped.Reason != SkipHoldout {
		t.Fatalf("Expected Skipped(holdout), got %#v", state)
	}
	if skipped.Experiment == nil || skipped.Experiment.ID != "exp-1" {
		t.Errorf("Expected holdout skip to carry the experiment, got %#v", skipped.Experiment)
	}
	// Holdout exclusion is still confirmed so it stays sticky.
	if sink.count() != 1 {
		t.Errorf("Expected 1 confirmation dispatch, got %d", sink.count())
	}
}

func TestPipeline_SubscribedUserSkip(t *testing.T) {
	sink := &recordSink{}
	p := New(readyIdentity{}, &stubOutcomes{out: paywallOutcome("exp-1", "pw1", true)},
		stubSubs{active: true}, &stubPaywalls{}, sink)

	states := p.Present(context.Background(), Request{UserID: "user-1", EventName: "ev"})
	state, _ := waitState(t, states)
	skipped, isSkip := state.(Skipped)
	if !isSkip || skipped.Reason != SkipUserIsSubscribed {
		t.Errorf("Expected Skipped(user_is_subscribed), got %#v", state)
	}
	// The assignment is not confirmed when presentation is suppressed
	// before the confirmation point.
	if sink.count() != 0 {
		t.Errorf("Expected no confirmation dispatch, got %d", sink.count())
	}
}

func TestPipeline_ConditionAlwaysIgnoresSubscription(t *testing.T) {
	p := New(readyIdentity{}, &stubOutcomes{out: paywallOutcome("exp-1", "pw1", true)},
		stubSubs{active: true}, &stubPaywalls{condition: campaign.ConditionAlways}, &recordSink{})

	states := p.Present(context.Background(), Request{UserID: "user-1", EventName: "ev"})
	state, _ := waitState(t, states)
	presented, isPresented := state.(Presented)
	if !isPresented {
		t.Fatalf("Expected Presented, got %#v", state)
	}
	if presented.Paywall.Identifier != "pw1" {
		t.Errorf("Expected pw1, got %s", presented.Paywall.Identifier)
	}
}

func TestPipeline_PresentedAndDismissed(t *testing.T) {
	sink := &recordSink{}
	paywalls := &stubPaywalls{}
	p := New(readyIdentity{}, &stubOutcomes{out: paywallOutcome("exp-1", "pw1", true)},
		stubSubs{}, paywalls, sink)

	req := Request{UserID: "user-1", EventName: "ev"}
	states := p.Present(context.Background(), req)

	state, _ := waitState(t, states)
	if _, isPresented := state.(Presented); !isPresented {
		t.Fatalf("Expected Presented, got %#v", state)
	}
	if sink.count() != 1 {
		t.Errorf("Expected confirmation dispatched on presentation, got %d", sink.count())
	}

	p.Dismiss(req.EffectiveKey(), DismissPurchased)

	state, ok := waitState(t, states)
	if !ok {
		t.Fatal("Expected Dismissed before close")
	}
	dismissed, isDismissed := state.(Dismissed)
	if !isDismissed || dismissed.Result != DismissPurchased {
		t.Errorf("Expected Dismissed(purchased), got %#v", state)
	}
	if _, open := <-states; open {
		t.Error("Expected stream closed after dismissal")
	}
	if paywalls.releaseCount() != 1 {
		t.Errorf("Expected one release, got %d", paywalls.releaseCount())
	}
}

func TestPipeline_DebugBypassesRulesAndSubscription(t *testing.T) {
	sink := &recordSink{}
	outcomes := &stubOutcomes{err: errors.New("resolver must not be called for debug requests")}
	p := New(readyIdentity{}, outcomes, stubSubs{active: true}, &stubPaywalls{}, sink)

	states := p.Present(context.Background(), Request{UserID: "user-1", Debug: true, PaywallID: "pw-debug"})
	state, _ := waitState(t, states)
	presented, isPresented := state.(Presented)
	if !isPresented {
		t.Fatalf("Expected Presented, got %#v", state)
	}
	if presented.Paywall.Identifier != "pw-debug" {
		t.Errorf("Expected pw-debug, got %s", presented.Paywall.Identifier)
	}
	if presented.Experiment == nil || presented.Experiment.ID != "debug" {
		t.Errorf("Expected synthetic debug experiment, got %#v", presented.Experiment)
	}
	// Debug presentations never confirm anything.
	if sink.count() != 0 {
		t.Errorf("Expected no confirmation dispatch for debug, got %d", sink.count())
	}
}

func TestPipeline_FetchError(t *testing.T) {
	fetchErr := errors.New("content fetch failed")
	p := New(readyIdentity{}, &stubOutcomes{out: paywallOutcome("exp-1", "pw1", false)},
		stubSubs{}, &stubPaywalls{err: fetchErr}, &recordSink{})

	states := p.Present(context.Background(), Request{UserID: "user-1", EventName: "ev"})
	state, _ := waitState(t, states)
	perr, isErr := state.(PresentationError)
	if !isErr || !errors.Is(perr.Err, fetchErr) {
		t.Errorf("Expected PresentationError, got %#v", state)
	}
}

func TestPipeline_AlreadyPresentedClosesSilently(t *testing.T) {
	p := New(readyIdentity{}, &stubOutcomes{out: paywallOutcome("exp-1", "pw1", false)},
		stubSubs{}, &stubPaywalls{err: paywall.ErrAlreadyPresented}, &recordSink{})

	states := p.Present(context.Background(), Request{UserID: "user-1", EventName: "ev"})
	select {
	case _, open := <-states:
		if open {
			t.Error("Expected silent close for a rejected request, got a state")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for stream close")
	}
}

func TestPipeline_SupersededRequestEmitsNothing(t *testing.T) {
	gate := make(chan struct{})
	outcomes := &stubOutcomes{out: paywallOutcome("exp-1", "pw1", false), gate: gate}
	p := New(readyIdentity{}, outcomes, stubSubs{}, &stubPaywalls{}, &recordSink{})

	req := Request{UserID: "user-1", EventName: "ev"}
	first := p.Present(context.Background(), req)

	// The second request with the same key supersedes the first while it
	// is blocked in resolution.
	second := p.Present(context.Background(), req)
	close(gate)

	select {
	case state, open := <-first:
		if open {
			t.Errorf("Expected superseded stream to close without states, got %#v", state)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for superseded stream close")
	}

	state, ok := waitState(t, second)
	if !ok {
		t.Fatal("Expected winning request to deliver a state")
	}
	if _, isPresented := state.(Presented); !isPresented {
		t.Errorf("Expected Presented from winning request, got %#v", state)
	}
}

func TestPipeline_PresentedRunSurvivesSameKeyRequest(t *testing.T) {
	snapshot.Update(snapshot.Build(campaign.Config{Paywalls: []campaign.Paywall{{Identifier: "pw1"}}}))
	manager := paywall.NewManager()
	p := New(readyIdentity{}, &stubOutcomes{out: paywallOutcome("exp-1", "pw1", false)},
		stubSubs{}, manager, &recordSink{})

	req := Request{UserID: "user-1", EventName: "ev"}
	first := p.Present(context.Background(), req)
	state, _ := waitState(t, first)
	if _, isPresented := state.(Presented); !isPresented {
		t.Fatalf("Expected Presented, got %#v", state)
	}

	// A same-key request must not displace the run that is on screen;
	// it is rejected with a silent close.
	second := p.Present(context.Background(), req)
	select {
	case state, open := <-second:
		if open {
			t.Fatalf("Expected rejected stream to close without states, got %#v", state)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for rejected stream close")
	}

	// The original run still owns the slot and dismisses normally.
	p.Dismiss(req.EffectiveKey(), DismissDeclined)
	state, ok := waitState(t, first)
	if !ok {
		t.Fatal("Expected Dismissed on the presented stream")
	}
	if _, isDismissed := state.(Dismissed); !isDismissed {
		t.Fatalf("Expected Dismissed, got %#v", state)
	}

	// The dismissal released the slot for later presentations.
	third := p.Present(context.Background(), Request{UserID: "user-1", EventName: "other"})
	state, ok = waitState(t, third)
	if !ok {
		t.Fatal("Expected a presentation after dismissal, got a closed stream")
	}
	if _, isPresented := state.(Presented); !isPresented {
		t.Fatalf("Expected Presented after dismissal, got %#v", state)
	}
	p.Dismiss(Request{UserID: "user-1", EventName: "other"}.EffectiveKey(), DismissDeclined)
}

func TestPipeline_CancelledContextEmitsNothing(t *testing.T) {
	gate := make(chan struct{})
	defer close(gate)
	outcomes := &stubOutcomes{out: paywallOutcome("exp-1", "pw1", false), gate: gate}
	p := New(readyIdentity{}, outcomes, stubSubs{}, &stubPaywalls{}, &recordSink{})

	ctx, cancel := context.WithCancel(context.Background())
	states := p.Present(ctx, Request{UserID: "user-1", EventName: "ev"})
	cancel()

	select {
	case state, open := <-states:
		if open {
			t.Errorf("Expected cancelled stream to close without states, got %#v", state)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for cancelled stream close")
	}
}

func TestPipeline_DismissUnknownKeyIsNoop(t *testing.T) {
	paywalls := &stubPaywalls{}
	p := New(readyIdentity{}, &stubOutcomes{}, stubSubs{}, paywalls, &recordSink{})

	p.Dismiss("event:never-presented", DismissDeclined)
	if paywalls.releaseCount() != 0 {
		t.Error("Expected no release for an unknown key")
	}
}
