package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/TimurManjosov/gopaywall/internal/assignments"
	"github.com/TimurManjosov/gopaywall/internal/auth"
	"github.com/TimurManjosov/gopaywall/internal/campaign"
	"github.com/TimurManjosov/gopaywall/internal/outcome"
	"github.com/TimurManjosov/gopaywall/internal/preload"
	"github.com/TimurManjosov/gopaywall/internal/presentation"
	"github.com/TimurManjosov/gopaywall/internal/snapshot"
	"github.com/TimurManjosov/gopaywall/internal/subscription"
	"github.com/TimurManjosov/gopaywall/internal/telemetry"
)

// Server exposes the decision engine over HTTP.
type Server struct {
	store         *assignments.Store
	resolver      *outcome.Resolver
	preloader     *preload.Evaluator
	pipeline      *presentation.Pipeline
	subscriptions *subscription.Registry
	authn         *auth.Authenticator
}

// NewServer wires the HTTP surface from its collaborators.
func NewServer(
	store *assignments.Store,
	resolver *outcome.Resolver,
	preloader *preload.Evaluator,
	pipeline *presentation.Pipeline,
	subscriptions *subscription.Registry,
	authn *auth.Authenticator,
) *Server {
	return &Server{
		store:         store,
		resolver:      resolver,
		preloader:     preloader,
		pipeline:      pipeline,
		subscriptions: subscriptions,
		authn:         authn,
	}
}

// Router builds the chi router with all routes mounted.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Recoverer)
	r.Use(telemetry.Middleware)
	r.Use(middleware.Timeout(15 * time.Second))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	// public: campaign snapshot (ETag)
	r.Get("/v1/campaigns/snapshot", s.handleSnapshot)

	// decision surface
	r.Post("/v1/events", s.handleEvent)
	r.Post("/v1/present", s.handlePresent)
	r.Post("/v1/dismiss", s.handleDismiss)
	r.Get("/v1/preload/paywalls", s.handlePreload)
	r.Get("/v1/assignments", s.handleGetAssignments)

	// admin (protected)
	r.Post("/v1/campaigns", s.authn.RequireAdmin(s.handleUpsertCampaigns))
	r.Post("/v1/assignments", s.authn.RequireAdmin(s.handlePushAssignments))
	r.Delete("/v1/assignments", s.authn.RequireAdmin(s.handleResetAssignments))
	r.Post("/v1/subscriptions", s.authn.RequireAdmin(s.handleSetSubscription))

	return r
}

// ---- campaign configuration ----

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	snap := snapshot.Load()
	if inm := r.Header.Get("If-None-Match"); inm != "" && inm == snap.ETag {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	w.Header().Set("ETag", snap.ETag)
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleUpsertCampaigns(w http.ResponseWriter, r *http.Request) {
	var cfg campaign.Config
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if err := campaign.Validate(cfg); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	cfg = campaign.Normalize(cfg)

	// Update notifies snapshot watchers; the server's watcher loop owns
	// re-reconciling loaded users against the new configuration.
	snap := snapshot.Build(cfg)
	snapshot.Update(snap)
	telemetry.SnapshotTriggers.Set(float64(len(snap.Triggers)))

	writeJSON(w, http.StatusOK, map[string]any{
		"ok":       true,
		"etag":     snap.ETag,
		"triggers": len(snap.Triggers),
	})
}

// ---- decision surface ----

type eventRequest struct {
	UserID string         `json:"userId"`
	Event  string         `json:"event"`
	Params map[string]any `json:"params,omitempty"`
}

func (s *Server) handleEvent(w http.ResponseWriter, r *http.Request) {
	var req eventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.UserID == "" || req.Event == "" {
		writeError(w, http.StatusBadRequest, "userId and event are required")
		return
	}

	out, err := s.resolver.GetOutcome(r.Context(), req.UserID, req.Event, req.Params, snapshot.Load().Triggers)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	telemetry.OutcomeTotal.WithLabelValues(string(out.Result.Kind)).Inc()
	writeJSON(w, http.StatusOK, out)
}

type presentRequest struct {
	UserID    string         `json:"userId"`
	Event     string         `json:"event,omitempty"`
	Params    map[string]any `json:"params,omitempty"`
	PaywallID string         `json:"paywallId,omitempty"`
	Debug     bool           `json:"debug,omitempty"`
}

type presentResponse struct {
	State      string               `json:"state"`
	Key        string               `json:"key,omitempty"`
	Reason     string               `json:"reason,omitempty"`
	Paywall    *campaign.Paywall    `json:"paywall,omitempty"`
	Experiment *campaign.Experiment `json:"experiment,omitempty"`
	Message    string               `json:"message,omitempty"`
}

func (s *Server) handlePresent(w http.ResponseWriter, r *http.Request) {
	var req presentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.UserID == "" {
		writeError(w, http.StatusBadRequest, "userId is required")
		return
	}
	if req.Event == "" && !req.Debug {
		writeError(w, http.StatusBadRequest, "event is required unless debug is set")
		return
	}

	preq := presentation.Request{
		UserID:      req.UserID,
		EventName:   req.Event,
		EventParams: req.Params,
		Debug:       req.Debug,
		PaywallID:   req.PaywallID,
	}
	states := s.pipeline.Present(r.Context(), preq)

	state, ok := <-states
	if !ok {
		// Superseded by a newer request of the same kind, or rejected
		// while another paywall holds the screen.
		writeError(w, http.StatusConflict, "presentation request was superseded or rejected")
		return
	}

	switch st := state.(type) {
	case presentation.Presented:
		telemetry.PresentationStates.WithLabelValues("presented").Inc()
		writeJSON(w, http.StatusOK, presentResponse{
			State:      "presented",
			Key:        preq.EffectiveKey(),
			Paywall:    &st.Paywall,
			Experiment: st.Experiment,
		})
	case presentation.Skipped:
		telemetry.PresentationStates.WithLabelValues("skipped").Inc()
		writeJSON(w, http.StatusOK, presentResponse{
			State:      "skipped",
			Reason:     string(st.Reason),
			Experiment: st.Experiment,
		})
	case presentation.PresentationError:
		telemetry.PresentationStates.WithLabelValues("error").Inc()
		writeJSON(w, http.StatusBadGateway, presentResponse{
			State:   "error",
			Message: st.Err.Error(),
		})
	case presentation.Dismissed:
		// Not reachable as the first state; handled for exhaustiveness.
		telemetry.PresentationStates.WithLabelValues("dismissed").Inc()
		writeJSON(w, http.StatusOK, presentResponse{State: "dismissed"})
	}
}

type dismissRequest struct {
	Key    string `json:"key"`
	Result string `json:"result"`
}

func (s *Server) handleDismiss(w http.ResponseWriter, r *http.Request) {
	var req dismissRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.Key == "" {
		writeError(w, http.StatusBadRequest, "key is required")
		return
	}

	result := presentation.DismissResult(req.Result)
	switch result {
	case presentation.DismissPurchased, presentation.DismissRestored, presentation.DismissDeclined:
	default:
		writeError(w, http.StatusBadRequest, "result must be purchased, restored or declined")
		return
	}

	s.pipeline.Dismiss(req.Key, result)
	telemetry.PresentationStates.WithLabelValues("dismissed").Inc()
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handlePreload(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("userId")
	if userID == "" {
		writeError(w, http.StatusBadRequest, "userId is required")
		return
	}

	triggers := snapshot.Load().Triggers

	var ids map[string]struct{}
	var err error
	if r.URL.Query().Get("policy") == "ignore" {
		ids, err = s.preloader.ActivePaywallIDs(r.Context(), userID, triggers)
	} else {
		ids, err = s.preloader.AllActivePaywallIDs(r.Context(), userID, triggers)
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"paywallIds": sortedIDs(ids)})
}

// ---- assignments ----

func (s *Server) handleGetAssignments(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("userId")
	if userID == "" {
		writeError(w, http.StatusBadRequest, "userId is required")
		return
	}

	maps, err := s.store.Snapshot(r.Context(), userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"confirmed":   maps.Confirmed,
		"unconfirmed": maps.Unconfirmed,
	})
}

type pushAssignmentsRequest struct {
	UserID      string                `json:"userId"`
	Assignments []campaign.Assignment `json:"assignments"`
}

func (s *Server) handlePushAssignments(w http.ResponseWriter, r *http.Request) {
	var req pushAssignmentsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.UserID == "" {
		writeError(w, http.StatusBadRequest, "userId is required")
		return
	}

	err := s.store.TransferFromServer(r.Context(), req.UserID, req.Assignments, snapshot.Load().Triggers)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleResetAssignments(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("userId")
	if userID == "" {
		writeError(w, http.StatusBadRequest, "userId is required")
		return
	}

	if err := s.store.Reset(r.Context(), userID); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

type subscriptionRequest struct {
	UserID string `json:"userId"`
	Active bool   `json:"active"`
}

func (s *Server) handleSetSubscription(w http.ResponseWriter, r *http.Request) {
	var req subscriptionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.UserID == "" {
		writeError(w, http.StatusBadRequest, "userId is required")
		return
	}

	s.subscriptions.Set(req.UserID, req.Active)
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}
