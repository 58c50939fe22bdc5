// Package memory is an in-process repository.Store.
//
// It backs the service and handler tests and the STORE_DRIVER=memory mode
// for local demos. A single RWMutex guards everything, which gives the same
// atomic conditional update the SQL stores get from their WHERE clauses.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/sakif/resize-credits/internal/apperror"
	"github.com/sakif/resize-credits/internal/model"
	"github.com/sakif/resize-credits/internal/repository"
)

var _ repository.Store = (*Store)(nil)

type Store struct {
	mu sync.RWMutex

	users         map[string]*model.User
	history       map[string][]model.CreditTransaction // per user, oldest first
	subscriptions map[string]*model.Subscription
	owners        map[string]string
	events        map[string]model.WebhookEvent
	reservations  map[string]*model.Reservation
}

func New() *Store {
	return &Store{
		users:         make(map[string]*model.User),
		history:       make(map[string][]model.CreditTransaction),
		subscriptions: make(map[string]*model.Subscription),
		owners:        make(map[string]string),
		events:        make(map[string]model.WebhookEvent),
		reservations:  make(map[string]*model.Reservation),
	}
}

func (s *Store) Ping(context.Context) error { return nil }
func (s *Store) Close() error               { return nil }

// ==================== Users ====================

func (s *Store) Upsert(_ context.Context, user *model.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	existing, ok := s.users[user.ID]
	if !ok {
		existing = &model.User{
			ID:                 user.ID,
			Credits:            user.Credits,
			SubscriptionStatus: model.StatusNone,
			CreatedAt:          now,
		}
		s.users[user.ID] = existing
	}
	existing.Provider = user.Provider
	existing.Email = user.Email
	existing.Name = user.Name
	existing.UpdatedAt = now

	*user = *existing
	return nil
}

func (s *Store) GetUserByID(_ context.Context, id string) (*model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[id]
	if !ok {
		return nil, apperror.NotFound("user", id)
	}
	copied := *u
	return &copied, nil
}

func (s *Store) SetUserSubscription(_ context.Context, userID, subscriptionID string, status model.SubscriptionStatus, plan model.PlanID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[userID]
	if !ok {
		return apperror.NotFound("user", userID)
	}
	u.SubscriptionID = subscriptionID
	u.SubscriptionStatus = status
	u.SubscriptionPlan = plan
	u.UpdatedAt = time.Now().UTC()
	return nil
}

// ==================== Credits ====================

func (s *Store) GetCredits(_ context.Context, userID string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[userID]
	if !ok {
		return 0, apperror.NotFound("user", userID)
	}
	return u.Credits, nil
}

func (s *Store) AddCredits(_ context.Context, userID string, delta int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[userID]
	if !ok {
		return 0, apperror.NotFound("user", userID)
	}
	if u.Credits+delta < 0 {
		return 0, apperror.InsufficientCredits(u.Credits, -delta)
	}
	u.Credits += delta
	u.UpdatedAt = time.Now().UTC()
	return u.Credits, nil
}

func (s *Store) AppendTransaction(_ context.Context, tx *model.CreditTransaction, keep int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := append(s.history[tx.UserID], *tx)
	if keep > 0 && len(entries) > keep {
		entries = append([]model.CreditTransaction(nil), entries[len(entries)-keep:]...)
	}
	s.history[tx.UserID] = entries
	return nil
}

func (s *Store) ListTransactions(_ context.Context, userID string, limit int) ([]model.CreditTransaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := s.history[userID]
	out := make([]model.CreditTransaction, 0, min(limit, len(entries)))
	for i := len(entries) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, entries[i])
	}
	return out, nil
}

// ==================== Subscriptions ====================

func (s *Store) SaveSubscription(_ context.Context, sub *model.Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	existing, ok := s.subscriptions[sub.ID]
	if !ok {
		copied := *sub
		if copied.CreatedAt.IsZero() {
			copied.CreatedAt = now
		}
		copied.UpdatedAt = now
		s.subscriptions[sub.ID] = &copied
		return nil
	}

	fresh := sub.LastEventAt.IsZero() || !sub.LastEventAt.Before(existing.LastEventAt)
	existing.UserID = sub.UserID
	if fresh {
		existing.Status = sub.Status
	}
	if sub.Plan != "" && (fresh || existing.Plan == "") {
		existing.Plan = sub.Plan
	}
	if sub.PriceID != "" && (fresh || existing.PriceID == "") {
		existing.PriceID = sub.PriceID
	}
	if sub.LastEventAt.After(existing.LastEventAt) {
		existing.LastEventAt = sub.LastEventAt
	}
	existing.UpdatedAt = now
	return nil
}

func (s *Store) GetSubscription(_ context.Context, id string) (*model.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sub, ok := s.subscriptions[id]
	if !ok {
		return nil, apperror.NotFound("subscription", id)
	}
	copied := *sub
	return &copied, nil
}

func (s *Store) ApplySubscriptionChange(_ context.Context, id string, status model.SubscriptionStatus, plan model.PlanID, occurredAt time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub, ok := s.subscriptions[id]
	if !ok {
		return false, apperror.NotFound("subscription", id)
	}
	if !occurredAt.IsZero() && occurredAt.Before(sub.LastEventAt) {
		return false, nil
	}
	sub.Status = status
	if plan != "" {
		sub.Plan = plan
	}
	if occurredAt.After(sub.LastEventAt) {
		sub.LastEventAt = occurredAt
	}
	sub.UpdatedAt = time.Now().UTC()
	return true, nil
}

func (s *Store) SetSubscriptionOwner(_ context.Context, subscriptionID, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.owners[subscriptionID] = userID
	return nil
}

func (s *Store) GetSubscriptionOwner(_ context.Context, subscriptionID string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	userID, ok := s.owners[subscriptionID]
	if !ok {
		return "", apperror.NotFound("subscription owner", subscriptionID)
	}
	return userID, nil
}

// ==================== Webhook events ====================

func (s *Store) ClaimEvent(_ context.Context, event *model.WebhookEvent) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := event.Provider + "/" + event.EventID
	if _, seen := s.events[key]; seen {
		return false, nil
	}
	if event.ReceivedAt.IsZero() {
		event.ReceivedAt = time.Now().UTC()
	}
	s.events[key] = *event
	return true, nil
}

func (s *Store) ReleaseEvent(_ context.Context, provider, eventID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.events, provider+"/"+eventID)
	return nil
}

// ClaimedEvents lists claimed event ids sorted, for assertions in tests.
func (s *Store) ClaimedEvents() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]string, 0, len(s.events))
	for k := range s.events {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// ==================== Reservations ====================

func (s *Store) CreateReservation(_ context.Context, r *model.Reservation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.reservations[r.ID]; exists {
		return apperror.Conflict("reservation", r.ID)
	}
	now := time.Now().UTC()
	r.CreatedAt = now
	r.UpdatedAt = now
	copied := *r
	s.reservations[r.ID] = &copied
	return nil
}

func (s *Store) GetReservation(_ context.Context, id string) (*model.Reservation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.reservations[id]
	if !ok {
		return nil, apperror.NotFound("reservation", id)
	}
	copied := *r
	return &copied, nil
}

func (s *Store) TransitionReservation(_ context.Context, id string, from, to model.ReservationStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.reservations[id]
	if !ok {
		return apperror.NotFound("reservation", id)
	}
	if r.Status != from {
		return apperror.Conflict("reservation", id)
	}
	r.Status = to
	r.UpdatedAt = time.Now().UTC()
	return nil
}
