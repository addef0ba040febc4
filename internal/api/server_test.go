package api

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/TimurManjosov/gopaywall/internal/assignments"
	"github.com/TimurManjosov/gopaywall/internal/auth"
	"github.com/TimurManjosov/gopaywall/internal/campaign"
	"github.com/TimurManjosov/gopaywall/internal/experiment"
	"github.com/TimurManjosov/gopaywall/internal/identity"
	"github.com/TimurManjosov/gopaywall/internal/outcome"
	"github.com/TimurManjosov/gopaywall/internal/paywall"
	"github.com/TimurManjosov/gopaywall/internal/preload"
	"github.com/TimurManjosov/gopaywall/internal/presentation"
	"github.com/TimurManjosov/gopaywall/internal/snapshot"
	"github.com/TimurManjosov/gopaywall/internal/subscription"
	"github.com/TimurManjosov/gopaywall/internal/testutil"
)

const testAdminKey = "admin-123"

type nopSink struct{ dispatched int }

func (s *nopSink) Dispatch(string, campaign.ConfirmableAssignment) { s.dispatched++ }

// newTestServer wires a full server over in-memory state with
// deterministic draws (always the first variant band).
func newTestServer(t *testing.T) (http.Handler, *assignments.Store, *subscription.Registry) {
	t.Helper()

	store := assignments.NewStore(assignments.NewMemoryPersistence(), func(string) experiment.DrawFactory {
		return testutil.FixedDraws(0)
	})
	resolver := &outcome.Resolver{Store: store, Eval: testutil.MatchAll()}
	preloader := &preload.Evaluator{Store: store, Eval: testutil.MatchAll()}

	ident := identity.New()
	ident.SetReady()
	subs := subscription.NewRegistry()
	pipeline := presentation.New(ident, resolver, subs, paywall.NewManager(), &nopSink{})

	srv := NewServer(store, resolver, preloader, pipeline, subs, auth.NewAuthenticator(testAdminKey, nil))
	return srv.Router(), store, subs
}

func installTestSnapshot(t *testing.T) {
	t.Helper()
	cfg := campaign.Config{
		Triggers: []campaign.Trigger{
			testutil.Trigger("campaign_trigger",
				testutil.Rule("exp_1", "group_1", nil, testutil.Option("v_treat", 100, "pw_main")),
			),
		},
		Paywalls: []campaign.Paywall{{Identifier: "pw_main", Name: "Main"}},
	}
	snapshot.Update(snapshot.Build(campaign.Normalize(cfg)))
}

func decodeBody(t *testing.T, body []byte) map[string]any {
	t.Helper()
	var m map[string]any
	if err := json.Unmarshal(body, &m); err != nil {
		t.Fatalf("invalid response JSON: %v\n%s", err, body)
	}
	return m
}

func TestHealthz(t *testing.T) {
	router, _, _ := newTestServer(t)

	rr := (&testutil.HTTPRequest{Method: http.MethodGet, Path: "/healthz"}).Do(t, router)
	if rr.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rr.Code)
	}
}

func TestSnapshotETag(t *testing.T) {
	installTestSnapshot(t)
	router, _, _ := newTestServer(t)

	rr := (&testutil.HTTPRequest{Method: http.MethodGet, Path: "/v1/campaigns/snapshot"}).Do(t, router)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	etag := rr.Header().Get("ETag")
	if etag == "" {
		t.Fatal("missing ETag header")
	}

	rr = (&testutil.HTTPRequest{
		Method:  http.MethodGet,
		Path:    "/v1/campaigns/snapshot",
		Headers: map[string]string{"If-None-Match": etag},
	}).Do(t, router)
	if rr.Code != http.StatusNotModified {
		t.Errorf("status with matching If-None-Match = %d, want 304", rr.Code)
	}
}

func TestUpsertCampaigns(t *testing.T) {
	router, _, _ := newTestServer(t)
	body := `{
		"triggers": [{
			"eventName": "campaign_trigger",
			"rules": [{
				"experiment": {
					"id": "exp_1",
					"groupId": "group_1",
					"variants": [{"id": "v_treat", "type": "treatment", "percentage": 100, "paywallId": "pw_main"}]
				},
				"preload": "always"
			}]
		}],
		"paywalls": [{"identifier": "pw_main"}]
	}`

	// No credentials.
	rr := (&testutil.HTTPRequest{Method: http.MethodPost, Path: "/v1/campaigns", Body: body}).Do(t, router)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("status without auth = %d, want 401", rr.Code)
	}

	admin := map[string]string{"Authorization": "Bearer " + testAdminKey}

	// Invalid configuration.
	rr = (&testutil.HTTPRequest{
		Method: http.MethodPost, Path: "/v1/campaigns",
		Body:    `{"triggers": [{"eventName": "", "rules": []}]}`,
		Headers: admin,
	}).Do(t, router)
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status for invalid config = %d, want 422", rr.Code)
	}

	rr = (&testutil.HTTPRequest{Method: http.MethodPost, Path: "/v1/campaigns", Body: body, Headers: admin}).Do(t, router)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rr.Code, rr.Body.String())
	}
	resp := decodeBody(t, rr.Body.Bytes())
	if resp["triggers"] != float64(1) {
		t.Errorf("triggers = %v, want 1", resp["triggers"])
	}
	if resp["etag"] == "" {
		t.Error("missing etag in response")
	}
	if snapshot.Load().ETag != resp["etag"] {
		t.Error("snapshot not updated")
	}
}

func TestEvents(t *testing.T) {
	installTestSnapshot(t)
	router, _, _ := newTestServer(t)

	rr := (&testutil.HTTPRequest{Method: http.MethodPost, Path: "/v1/events", Body: `{"userId": "u1"}`}).Do(t, router)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status without event = %d, want 400", rr.Code)
	}

	rr = (&testutil.HTTPRequest{
		Method: http.MethodPost, Path: "/v1/events",
		Body: `{"userId": "u1", "event": "campaign_trigger"}`,
	}).Do(t, router)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rr.Code, rr.Body.String())
	}

	var out outcome.Outcome
	if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil {
		t.Fatalf("invalid outcome JSON: %v", err)
	}
	if out.Result.Kind != outcome.KindPaywall {
		t.Errorf("kind = %v, want paywall", out.Result.Kind)
	}
	if out.Result.Experiment == nil || out.Result.Experiment.Variant.ID != "v_treat" {
		t.Errorf("experiment = %+v", out.Result.Experiment)
	}

	rr = (&testutil.HTTPRequest{
		Method: http.MethodPost, Path: "/v1/events",
		Body: `{"userId": "u1", "event": "unknown_event"}`,
	}).Do(t, router)
	var missed outcome.Outcome
	if err := json.Unmarshal(rr.Body.Bytes(), &missed); err != nil {
		t.Fatalf("invalid outcome JSON: %v", err)
	}
	if missed.Result.Kind != outcome.KindEventNotFound {
		t.Errorf("kind = %v, want event_not_found", missed.Result.Kind)
	}
}

func TestPresentAndDismiss(t *testing.T) {
	installTestSnapshot(t)
	router, _, _ := newTestServer(t)

	rr := (&testutil.HTTPRequest{
		Method: http.MethodPost, Path: "/v1/present",
		Body: `{"userId": "u1", "event": "campaign_trigger"}`,
	}).Do(t, router)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rr.Code, rr.Body.String())
	}
	resp := decodeBody(t, rr.Body.Bytes())
	if resp["state"] != "presented" {
		t.Fatalf("state = %v, body = %s", resp["state"], rr.Body.String())
	}
	key, _ := resp["key"].(string)
	if key == "" {
		t.Fatal("missing presentation key")
	}

	// Bad result value.
	rr = (&testutil.HTTPRequest{
		Method: http.MethodPost, Path: "/v1/dismiss",
		Body: `{"key": "` + key + `", "result": "whatever"}`,
	}).Do(t, router)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("status for bad result = %d, want 400", rr.Code)
	}

	rr = (&testutil.HTTPRequest{
		Method: http.MethodPost, Path: "/v1/dismiss",
		Body: `{"key": "` + key + `", "result": "purchased"}`,
	}).Do(t, router)
	if rr.Code != http.StatusOK {
		t.Errorf("dismiss status = %d, body = %s", rr.Code, rr.Body.String())
	}
}

func TestPresentSkipped(t *testing.T) {
	installTestSnapshot(t)
	router, _, subs := newTestServer(t)

	rr := (&testutil.HTTPRequest{
		Method: http.MethodPost, Path: "/v1/present",
		Body: `{"userId": "u1", "event": "unknown_event"}`,
	}).Do(t, router)
	resp := decodeBody(t, rr.Body.Bytes())
	if resp["state"] != "skipped" || resp["reason"] != "event_not_found" {
		t.Errorf("unexpected response: %s", rr.Body.String())
	}

	subs.Set("u2", true)
	rr = (&testutil.HTTPRequest{
		Method: http.MethodPost, Path: "/v1/present",
		Body: `{"userId": "u2", "event": "campaign_trigger"}`,
	}).Do(t, router)
	resp = decodeBody(t, rr.Body.Bytes())
	if resp["state"] != "skipped" || resp["reason"] != "user_is_subscribed" {
		t.Errorf("unexpected response: %s", rr.Body.String())
	}
}

func TestPresentValidation(t *testing.T) {
	router, _, _ := newTestServer(t)

	rr := (&testutil.HTTPRequest{Method: http.MethodPost, Path: "/v1/present", Body: `{"userId": "u1"}`}).Do(t, router)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("status without event = %d, want 400", rr.Code)
	}
}

func TestPreload(t *testing.T) {
	installTestSnapshot(t)
	router, _, _ := newTestServer(t)

	rr := (&testutil.HTTPRequest{Method: http.MethodGet, Path: "/v1/preload/paywalls?userId=u1&policy=ignore"}).Do(t, router)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rr.Code, rr.Body.String())
	}
	var resp struct {
		PaywallIDs []string `json:"paywallIds"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if len(resp.PaywallIDs) != 1 || resp.PaywallIDs[0] != "pw_main" {
		t.Errorf("paywallIds = %v, want [pw_main]", resp.PaywallIDs)
	}
}

func TestAssignmentsLifecycle(t *testing.T) {
	installTestSnapshot(t)
	router, store, _ := newTestServer(t)
	admin := map[string]string{"Authorization": "Bearer " + testAdminKey}

	// Track an event so the user holds an assignment.
	(&testutil.HTTPRequest{
		Method: http.MethodPost, Path: "/v1/events",
		Body: `{"userId": "u1", "event": "campaign_trigger"}`,
	}).Do(t, router)

	rr := (&testutil.HTTPRequest{Method: http.MethodGet, Path: "/v1/assignments?userId=u1"}).Do(t, router)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	var view struct {
		Confirmed   map[string]campaign.Variant `json:"confirmed"`
		Unconfirmed map[string]campaign.Variant `json:"unconfirmed"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &view); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if _, ok := view.Unconfirmed["exp_1"]; !ok {
		t.Errorf("expected unconfirmed assignment for exp_1, got %s", rr.Body.String())
	}

	// Push from the server side promotes to confirmed.
	rr = (&testutil.HTTPRequest{
		Method: http.MethodPost, Path: "/v1/assignments",
		Body:    `{"userId": "u1", "assignments": [{"experimentId": "exp_1", "variantId": "v_treat"}]}`,
		Headers: admin,
	}).Do(t, router)
	if rr.Code != http.StatusOK {
		t.Fatalf("push status = %d, body = %s", rr.Code, rr.Body.String())
	}
	maps, err := store.Snapshot(t.Context(), "u1")
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := maps.Confirmed["exp_1"]; !ok {
		t.Errorf("expected confirmed assignment after push, got %+v", maps)
	}

	// Reset requires admin credentials.
	rr = (&testutil.HTTPRequest{Method: http.MethodDelete, Path: "/v1/assignments?userId=u1"}).Do(t, router)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("reset without auth = %d, want 401", rr.Code)
	}
	rr = (&testutil.HTTPRequest{Method: http.MethodDelete, Path: "/v1/assignments?userId=u1", Headers: admin}).Do(t, router)
	if rr.Code != http.StatusOK {
		t.Fatalf("reset status = %d", rr.Code)
	}
	maps, err = store.Snapshot(t.Context(), "u1")
	if err != nil {
		t.Fatal(err)
	}
	if len(maps.Confirmed) != 0 || len(maps.Unconfirmed) != 0 {
		t.Errorf("assignments survived reset: %+v", maps)
	}
}

func TestSetSubscription(t *testing.T) {
	router, _, subs := newTestServer(t)
	admin := map[string]string{"Authorization": "Bearer " + testAdminKey}

	rr := (&testutil.HTTPRequest{
		Method: http.MethodPost, Path: "/v1/subscriptions",
		Body:    `{"userId": "u1", "active": true}`,
		Headers: admin,
	}).Do(t, router)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	if !subs.IsActive(t.Context(), "u1") {
		t.Error("subscription not recorded")
	}
}
