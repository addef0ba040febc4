package preload

import (
	"context"
	"testing"

	"github.com/TimurManjosov/gopaywall/internal/assignments"
	"github.com/TimurManjosov/gopaywall/internal/campaign"
	"github.com/TimurManjosov/gopaywall/internal/experiment"
	"github.com/TimurManjosov/gopaywall/internal/testutil"
)

func newEvaluator(draws experiment.DrawFactory) (*Evaluator, *assignments.Store) {
	store := assignments.NewStore(assignments.NewMemoryPersistence(),
		func(string) experiment.DrawFactory { return draws })
	return &Evaluator{Store: store, Eval: testutil.MatchAll()}, store
}

func TestActivePaywallIDs(t *testing.T) {
	eval, store := newEvaluator(testutil.FixedDraws(0))
	ctx := context.Background()

	neverRule := testutil.Rule("exp-never", "group-2", nil, testutil.Option("v1", 100, "pw-never"))
	neverRule.Preload = campaign.PreloadNever

	triggers := testutil.Triggers(
		testutil.Trigger("event_a", testutil.Rule("exp-1", "group-1", nil, testutil.Option("v1", 100, "pw1"))),
		testutil.Trigger("event_b", neverRule),
	)
	if err := store.Reconcile(ctx, "user-1", triggers); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Policy-ignoring listing includes both treatments.
	ids, err := eval.ActivePaywallIDs(ctx, "user-1", triggers)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(ids) != 2 {
		t.Errorf("Expected 2 paywalls ignoring policy, got %v", ids)
	}

	// Policy-aware listing drops the preload=never rule.
	ids, err = eval.AllActivePaywallIDs(ctx, "user-1", triggers)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := ids["pw-never"]; ok {
		t.Error("Expected preload=never paywall excluded")
	}
	if _, ok := ids["pw1"]; !ok {
		t.Error("Expected pw1 included")
	}
}

func TestActivePaywallIDs_FreshUser(t *testing.T) {
	// A user who has never fired an event gets assignments rolled on the
	// spot; preloading must work before any event.
	eval, store := newEvaluator(testutil.FixedDraws(0))

	triggers := testutil.Triggers(
		testutil.Trigger("event_a", testutil.Rule("exp-1", "group-1", nil, testutil.Option("v1", 100, "pw1"))),
	)

	ids, err := eval.ActivePaywallIDs(context.Background(), "user-1", triggers)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := ids["pw1"]; !ok || len(ids) != 1 {
		t.Errorf("Expected [pw1] for a fresh user, got %v", ids)
	}

	// The roll is recorded as unconfirmed, not just computed.
	maps, err := store.Snapshot(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if variant, ok := maps.Unconfirmed["exp-1"]; !ok || variant.ID != "v1" {
		t.Errorf("Expected unconfirmed v1 for exp-1, got %+v", maps.Unconfirmed)
	}
}

func TestAllActivePaywallIDs_FreshUser(t *testing.T) {
	eval, _ := newEvaluator(testutil.FixedDraws(0))

	neverRule := testutil.Rule("exp-never", "group-2", nil, testutil.Option("v1", 100, "pw-never"))
	neverRule.Preload = campaign.PreloadNever

	triggers := testutil.Triggers(
		testutil.Trigger("event_a", testutil.Rule("exp-1", "group-1", nil, testutil.Option("v1", 100, "pw1"))),
		testutil.Trigger("event_b", neverRule),
	)

	ids, err := eval.AllActivePaywallIDs(context.Background(), "user-1", triggers)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := ids["pw1"]; !ok {
		t.Errorf("Expected pw1 for a fresh user, got %v", ids)
	}
	if _, ok := ids["pw-never"]; ok {
		t.Error("Expected preload=never paywall excluded for a fresh user")
	}
}
