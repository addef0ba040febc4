package assignments

import (
	"context"
	"fmt"
	"sync"

	"github.com/TimurManjosov/gopaywall/internal/campaign"
	"github.com/TimurManjosov/gopaywall/internal/experiment"
)

// Store owns the confirmed and unconfirmed assignment maps for every
// loaded user. All read-modify-write access runs under one mutex so two
// concurrently firing triggers can never independently roll two
// different fresh variants for the same experiment.
//
// Confirmed assignments are persisted; unconfirmed ones live in memory
// until the remote authority acknowledges them.
type Store struct {
	mu          sync.Mutex
	users       map[string]*Maps
	persistence Persistence
	draws       func(userID string) experiment.DrawFactory
}

// NewStore creates a Store backed by the given persistence. draws
// yields the per-user draw factory; nil means random draws for every
// user.
func NewStore(p Persistence, draws func(userID string) experiment.DrawFactory) *Store {
	if draws == nil {
		draws = func(string) experiment.DrawFactory { return experiment.RandomDraws }
	}
	return &Store{
		users:       make(map[string]*Maps),
		persistence: p,
		draws:       draws,
	}
}

// load returns the user's maps, reading confirmed assignments from
// persistence on first access. Caller must hold s.mu.
func (s *Store) load(ctx context.Context, userID string) (*Maps, error) {
	if user, ok := s.users[userID]; ok {
		return user, nil
	}

	confirmed, err := s.persistence.LoadConfirmed(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load confirmed assignments: %w", err)
	}
	if confirmed == nil {
		confirmed = make(map[string]campaign.Variant)
	}

	user := &Maps{
		Confirmed:   confirmed,
		Unconfirmed: make(map[string]campaign.Variant),
	}
	s.users[userID] = user
	return user, nil
}

// Reconcile re-runs assignment selection for the user against the
// given triggers. Must be called whenever the campaign configuration
// changes so stale confirmed variants are demoted.
func (s *Store) Reconcile(ctx context.Context, userID string, triggers map[string]campaign.Trigger) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, err := s.load(ctx, userID)
	if err != nil {
		return err
	}

	out := ChooseAssignments(triggers, user.Confirmed, s.draws(userID))
	user.Confirmed = out.Confirmed
	user.Unconfirmed = out.Unconfirmed

	return s.persistence.SaveConfirmed(ctx, userID, user.Confirmed)
}

// TransferFromServer applies server-pushed assignments for the user.
func (s *Store) TransferFromServer(
	ctx context.Context,
	userID string,
	serverAssignments []campaign.Assignment,
	triggers map[string]campaign.Trigger,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, err := s.load(ctx, userID)
	if err != nil {
		return err
	}

	out := TransferFromServer(serverAssignments, triggers, user.Confirmed, user.Unconfirmed)
	user.Confirmed = out.Confirmed
	user.Unconfirmed = out.Unconfirmed

	return s.persistence.SaveConfirmed(ctx, userID, user.Confirmed)
}

// Confirm moves an acknowledged assignment from unconfirmed to
// confirmed and persists it. Confirmation always removes the
// unconfirmed entry for the experiment id.
func (s *Store) Confirm(ctx context.Context, userID string, assignment campaign.ConfirmableAssignment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, err := s.load(ctx, userID)
	if err != nil {
		return err
	}

	user.Confirmed[assignment.ExperimentID] = assignment.Variant
	delete(user.Unconfirmed, assignment.ExperimentID)

	return s.persistence.SaveConfirmed(ctx, userID, user.Confirmed)
}

// Exclusive runs fn with direct access to the user's maps under the
// store lock. If fn returns an assignment, it is recorded as
// unconfirmed before the lock is released; this is how a fresh variant
// pick during outcome resolution becomes visible to later requests even
// if the request that made it is cancelled.
func (s *Store) Exclusive(
	ctx context.Context,
	userID string,
	fn func(confirmed, unconfirmed map[string]campaign.Variant) (*campaign.ConfirmableAssignment, error),
) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, err := s.load(ctx, userID)
	if err != nil {
		return err
	}

	record, err := fn(user.Confirmed, user.Unconfirmed)
	if err != nil {
		return err
	}
	if record != nil {
		user.Unconfirmed[record.ExperimentID] = record.Variant
	}
	return nil
}

// EnsureAssignments rolls a fresh unconfirmed variant for every
// experiment the triggers reference that the user holds no entry for,
// then returns copies of the maps. Entries in either mapping are left
// untouched, so repeated calls are sticky. Preload queries use this so
// a user who has never fired an event still resolves to concrete
// paywalls.
func (s *Store) EnsureAssignments(ctx context.Context, userID string, triggers map[string]campaign.Trigger) (Maps, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, err := s.load(ctx, userID)
	if err != nil {
		return Maps{}, err
	}

	draws := s.draws(userID)
	for _, rules := range RulesPerCampaign(triggers) {
		for _, rule := range rules {
			exp := rule.Experiment
			if _, ok := user.Confirmed[exp.ID]; ok {
				continue
			}
			if _, ok := user.Unconfirmed[exp.ID]; ok {
				continue
			}
			variant, err := experiment.ChooseVariant(exp.Variants, draws(exp.ID))
			if err != nil {
				continue
			}
			user.Unconfirmed[exp.ID] = variant
		}
	}

	return Maps{
		Confirmed:   cloneVariants(user.Confirmed),
		Unconfirmed: cloneVariants(user.Unconfirmed),
	}, nil
}

// Snapshot returns copies of the user's maps for read-only consumers.
func (s *Store) Snapshot(ctx context.Context, userID string) (Maps, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, err := s.load(ctx, userID)
	if err != nil {
		return Maps{}, err
	}

	return Maps{
		Confirmed:   cloneVariants(user.Confirmed),
		Unconfirmed: cloneVariants(user.Unconfirmed),
	}, nil
}

// Reset clears both mappings for the user, in memory and on disk. This
// backs an explicit identity reset.
func (s *Store) Reset(ctx context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.users, userID)
	return s.persistence.DeleteConfirmed(ctx, userID)
}

// DrawsFor exposes the user's draw factory for callers that run the
// variant selector themselves under Exclusive.
func (s *Store) DrawsFor(userID string) experiment.DrawFactory {
	return s.draws(userID)
}

// Counts reports the number of loaded users and their confirmed and
// unconfirmed entries, for metrics.
func (s *Store) Counts() (users, confirmed, unconfirmed int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	users = len(s.users)
	for _, user := range s.users {
		confirmed += len(user.Confirmed)
		unconfirmed += len(user.Unconfirmed)
	}
	return users, confirmed, unconfirmed
}

// LoadedUsers returns the ids of all users with in-memory state, used
// to re-reconcile after a configuration change.
func (s *Store) LoadedUsers() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]string, 0, len(s.users))
	for id := range s.users {
		ids = append(ids, id)
	}
	return ids
}
