package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gopkg.in/yaml.v3"

	"github.com/TimurManjosov/gopaywall/internal/api"
	"github.com/TimurManjosov/gopaywall/internal/assignments"
	"github.com/TimurManjosov/gopaywall/internal/auth"
	"github.com/TimurManjosov/gopaywall/internal/campaign"
	"github.com/TimurManjosov/gopaywall/internal/config"
	"github.com/TimurManjosov/gopaywall/internal/confirm"
	"github.com/TimurManjosov/gopaywall/internal/experiment"
	"github.com/TimurManjosov/gopaywall/internal/expression"
	"github.com/TimurManjosov/gopaywall/internal/identity"
	"github.com/TimurManjosov/gopaywall/internal/outcome"
	"github.com/TimurManjosov/gopaywall/internal/paywall"
	"github.com/TimurManjosov/gopaywall/internal/preload"
	"github.com/TimurManjosov/gopaywall/internal/presentation"
	"github.com/TimurManjosov/gopaywall/internal/snapshot"
	"github.com/TimurManjosov/gopaywall/internal/subscription"
	"github.com/TimurManjosov/gopaywall/internal/telemetry"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("config: %v", err)
	}

	telemetry.Init()

	ctx := context.Background()
	persistence, err := assignments.NewPersistence(ctx, cfg.StoreType, cfg.DatabaseDSN)
	if err != nil {
		log.Fatalf("persistence: %v", err)
	}
	defer persistence.Close()

	store := assignments.NewStore(persistence, drawFactory(cfg.AssignmentSalt))

	// initial snapshot
	if cfg.CampaignFile != "" {
		campaignCfg, err := loadCampaignFile(cfg.CampaignFile)
		if err != nil {
			log.Fatalf("campaigns: %v", err)
		}
		s := snapshot.Build(*campaignCfg)
		snapshot.Update(s)
		telemetry.SnapshotTriggers.Set(float64(len(s.Triggers)))
		log.Printf("snapshot: %d triggers, etag=%s", len(s.Triggers), s.ETag)
	}

	eval := expression.JSONLogic{}
	resolver := &outcome.Resolver{Store: store, Eval: eval}
	preloader := &preload.Evaluator{Store: store, Eval: eval}
	subscriptions := subscription.NewRegistry()

	dispatcher := confirm.NewDispatcher(store, cfg.ConfirmEndpoint, cfg.ConfirmAPIKey, cfg.ConfirmMaxTries)
	dispatcher.Start()
	defer dispatcher.Close()

	// The service has no deferred login flow; identity is ready as soon
	// as the process is up.
	ident := identity.New()
	ident.SetReady()

	pipeline := presentation.New(ident, resolver, subscriptions, paywall.NewManager(), dispatcher)

	authn := auth.NewAuthenticator(cfg.AdminAPIKey, nil)
	srvAPI := api.NewServer(store, resolver, preloader, pipeline, subscriptions, authn)

	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      srvAPI.Router(),
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
	}
	go func() {
		log.Printf("listening on %s", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server: %v", err)
		}
	}()

	metricsSrv := &http.Server{Addr: cfg.MetricsAddr, Handler: promhttp.Handler()}
	go func() {
		log.Printf("metrics on %s", cfg.MetricsAddr)
		if err := metricsSrv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("metrics server: %v", err)
		}
	}()

	// keep gauges roughly current
	go pollGauges(store, dispatcher)

	// re-reconcile loaded users whenever the snapshot changes
	updates, unsubscribe := snapshot.Subscribe()
	defer unsubscribe()
	go func() {
		for snap := range updates {
			for _, userID := range store.LoadedUsers() {
				if err := store.Reconcile(context.Background(), userID, snap.Triggers); err != nil {
					log.Printf("[main] reconcile user=%s after snapshot %s: %v", userID, snap.ETag, err)
				}
			}
		}
	}()

	// graceful shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	ctxShut, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctxShut)
	_ = metricsSrv.Shutdown(ctxShut)
	log.Println("stopped")
}

// drawFactory returns the per-user variant draw source. With a salt
// configured, draws are deterministic per (user, experiment) so the
// same user lands in the same bucket across restarts; otherwise they
// are uniformly random.
func drawFactory(salt string) func(userID string) experiment.DrawFactory {
	if salt == "" {
		return func(string) experiment.DrawFactory { return experiment.RandomDraws }
	}
	return func(userID string) experiment.DrawFactory {
		return func(experimentID string) experiment.Draw {
			return experiment.NewBucketDraw(userID, experimentID, salt)
		}
	}
}

// loadCampaignFile reads, validates and normalizes a campaign
// configuration from a YAML or JSON file.
func loadCampaignFile(path string) (*campaign.Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// YAML is a JSON superset, so .json files parse too.
	var cfg campaign.Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	if err := campaign.Validate(cfg); err != nil {
		return nil, err
	}
	cfg = campaign.Normalize(cfg)
	return &cfg, nil
}

// pollGauges refreshes the assignment and confirmation gauges.
func pollGauges(store *assignments.Store, dispatcher *confirm.Dispatcher) {
	for range time.Tick(10 * time.Second) {
		users, _, _ := store.Counts()
		telemetry.AssignmentUsers.Set(float64(users))
		telemetry.ConfirmQueueDepth.Set(float64(dispatcher.QueueDepth()))
	}
}
