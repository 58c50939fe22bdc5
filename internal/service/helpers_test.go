package service

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/sakif/resize-credits/internal/model"
	"github.com/sakif/resize-credits/internal/repository/memory"
)

// =========================================================================
// FAKES AND HELPERS
// =========================================================================
//
// The memory store is the real thing for these tests. faultyStore wraps it
// and fails exactly the calls a test asks it to, everything else goes
// through to the embedded store.

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type faultyStore struct {
	*memory.Store

	upsertErr      error
	addErr         error
	appendErr      error
	listErr        error
	claimErr       error
	releaseErr     error
	applyErr       error
	reservationErr error
}

func newFaultyStore() *faultyStore {
	return &faultyStore{Store: memory.New()}
}

func (f *faultyStore) Upsert(ctx context.Context, u *model.User) error {
	if f.upsertErr != nil {
		return f.upsertErr
	}
	return f.Store.Upsert(ctx, u)
}

func (f *faultyStore) AddCredits(ctx context.Context, userID string, delta int64) (int64, error) {
	if f.addErr != nil {
		return 0, f.addErr
	}
	return f.Store.AddCredits(ctx, userID, delta)
}

func (f *faultyStore) AppendTransaction(ctx context.Context, tx *model.CreditTransaction, keep int) error {
	if f.appendErr != nil {
		return f.appendErr
	}
	return f.Store.AppendTransaction(ctx, tx, keep)
}

func (f *faultyStore) ListTransactions(ctx context.Context, userID string, limit int) ([]model.CreditTransaction, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.Store.ListTransactions(ctx, userID, limit)
}

func (f *faultyStore) ClaimEvent(ctx context.Context, ev *model.WebhookEvent) (bool, error) {
	if f.claimErr != nil {
		return false, f.claimErr
	}
	return f.Store.ClaimEvent(ctx, ev)
}

func (f *faultyStore) ReleaseEvent(ctx context.Context, provider, eventID string) error {
	if f.releaseErr != nil {
		return f.releaseErr
	}
	return f.Store.ReleaseEvent(ctx, provider, eventID)
}

func (f *faultyStore) ApplySubscriptionChange(ctx context.Context, id string, status model.SubscriptionStatus, plan model.PlanID, at time.Time) (bool, error) {
	if f.applyErr != nil {
		return false, f.applyErr
	}
	return f.Store.ApplySubscriptionChange(ctx, id, status, plan, at)
}

func (f *faultyStore) CreateReservation(ctx context.Context, r *model.Reservation) error {
	if f.reservationErr != nil {
		return f.reservationErr
	}
	return f.Store.CreateReservation(ctx, r)
}

// seedUser creates a user with the given balance.
func seedUser(t *testing.T, store *faultyStore, id string, credits int64) {
	t.Helper()
	if err := store.Store.Upsert(context.Background(), &model.User{ID: id, Provider: "github", Credits: credits}); err != nil {
		t.Fatalf("seedUser(%s): %v", id, err)
	}
}

func newTestLedger(store *faultyStore) *LedgerService {
	return NewLedgerService(store, 0, nil, testLogger())
}

// testPriceIDs are the price ids the test catalog sells under.
var testPriceIDs = map[model.PlanID]string{
	model.PlanStarter:  "pri_starter",
	model.PlanPro:      "pri_pro",
	model.PlanBusiness: "pri_business",
}

func newTestCatalog(t *testing.T) *PlanCatalog {
	t.Helper()
	c, err := NewPlanCatalog(testPriceIDs)
	if err != nil {
		t.Fatalf("NewPlanCatalog: %v", err)
	}
	return c
}
