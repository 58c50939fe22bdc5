// Package repository defines the storage contracts the services depend on.
//
// Every backend (sqlite, postgres, mongo, memory) implements Store. Services
// take the narrowest interface they need so tests can hand them a fake.
//
// ATOMICITY CONTRACT:
// AddCredits must apply its delta as a single conditional write in the
// backend (e.g. UPDATE ... WHERE credits + delta >= 0). Services never do
// read-check-write on balances, two concurrent debits against a balance of
// one must leave exactly one winner.
package repository

import (
	"context"
	"time"

	"github.com/sakif/resize-credits/internal/model"
)

type UserRepository interface {
	// Upsert creates the user on first login or refreshes Email, Name and
	// Provider on later logins. Credits and subscription fields of an
	// existing user are left untouched. user is filled in from the stored row.
	Upsert(ctx context.Context, user *model.User) error
	GetUserByID(ctx context.Context, id string) (*model.User, error)

	// SetUserSubscription mirrors the subscription onto the user row.
	SetUserSubscription(ctx context.Context, userID, subscriptionID string, status model.SubscriptionStatus, plan model.PlanID) error
}

type CreditRepository interface {
	// GetCredits returns apperror.ErrNotFound for an unknown user.
	GetCredits(ctx context.Context, userID string) (int64, error)

	// AddCredits atomically adds delta (negative for a debit) and returns
	// the new balance. A debit that would go below zero fails with
	// apperror.ErrInsufficientCredits and changes nothing.
	AddCredits(ctx context.Context, userID string, delta int64) (int64, error)

	// AppendTransaction stores tx and evicts the oldest entries beyond keep.
	AppendTransaction(ctx context.Context, tx *model.CreditTransaction, keep int) error

	// ListTransactions returns up to limit entries, newest first.
	ListTransactions(ctx context.Context, userID string, limit int) ([]model.CreditTransaction, error)
}

type SubscriptionRepository interface {
	// SaveSubscription inserts the record keyed by sub.ID or merges into it.
	// Status, plan and price are only taken from a sub whose LastEventAt is
	// not older than the stored one (zero always applies); an older sub may
	// still fill in a plan or price that is empty.
	SaveSubscription(ctx context.Context, sub *model.Subscription) error
	GetSubscription(ctx context.Context, id string) (*model.Subscription, error)

	// ApplySubscriptionChange sets status (and plan, unless empty) only when
	// occurredAt is not older than the stored LastEventAt, then advances
	// LastEventAt. It reports whether the record changed and returns
	// apperror.ErrNotFound for an unknown subscription.
	ApplySubscriptionChange(ctx context.Context, id string, status model.SubscriptionStatus, plan model.PlanID, occurredAt time.Time) (bool, error)

	SetSubscriptionOwner(ctx context.Context, subscriptionID, userID string) error
	GetSubscriptionOwner(ctx context.Context, subscriptionID string) (string, error)
}

type WebhookEventRepository interface {
	// ClaimEvent records the event and returns true, or returns false if the
	// (provider, event id) pair was already claimed.
	ClaimEvent(ctx context.Context, event *model.WebhookEvent) (bool, error)

	// ReleaseEvent forgets a claim so a provider retry is processed again.
	ReleaseEvent(ctx context.Context, provider, eventID string) error
}

type ReservationRepository interface {
	CreateReservation(ctx context.Context, r *model.Reservation) error
	GetReservation(ctx context.Context, id string) (*model.Reservation, error)

	// TransitionReservation moves id from one status to another. It fails
	// with apperror.ErrConflict if the reservation is not currently in from.
	TransitionReservation(ctx context.Context, id string, from, to model.ReservationStatus) error
}

// Store is everything a backend provides.
type Store interface {
	UserRepository
	CreditRepository
	SubscriptionRepository
	WebhookEventRepository
	ReservationRepository

	Ping(ctx context.Context) error
	Close() error
}
