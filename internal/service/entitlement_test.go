package service

import (
	"context"
	"errors"
	"testing"

	"github.com/sakif/resize-credits/internal/apperror"
	"github.com/sakif/resize-credits/internal/model"
)

func newTestEntitlement(store *faultyStore) (*EntitlementService, *LedgerService) {
	ledger := newTestLedger(store)
	return NewEntitlementService(ledger, store, testLogger()), ledger
}

// =========================================================================
// Charge TESTS
// =========================================================================

func TestCharge(t *testing.T) {
	tests := []struct {
		name        string
		userID      string
		start       int64
		amount      int64
		wantBalance int64
		wantErr     error
	}{
		{"charges one", "u1", 3, 1, 2, nil},
		{"zero amount charges one", "u1", 3, 0, 2, nil},
		{"no user", "", 3, 1, 0, apperror.ErrUnauthorized},
		{"insufficient", "u1", 0, 1, 0, apperror.ErrInsufficientCredits},
		{"unknown user reads as empty", "ghost", 0, 1, 0, apperror.ErrInsufficientCredits},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newFaultyStore()
			seedUser(t, store, "u1", tt.start)
			svc, _ := newTestEntitlement(store)

			res, err := svc.Charge(context.Background(), tt.userID, tt.amount, model.ReasonImageProcessing)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("Charge() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Charge() error = %v", err)
			}
			if res.NewBalance != tt.wantBalance {
				t.Errorf("NewBalance = %d, want %d", res.NewBalance, tt.wantBalance)
			}
		})
	}
}

func TestCharge_StoreFailureIsDebitFailed(t *testing.T) {
	store := newFaultyStore()
	seedUser(t, store, "u1", 3)
	store.addErr = errors.New("connection refused")
	svc, _ := newTestEntitlement(store)

	_, err := svc.Charge(context.Background(), "u1", 1, model.ReasonImageProcessing)
	if !errors.Is(err, apperror.ErrDebitFailed) {
		t.Fatalf("Charge() error = %v, want ErrDebitFailed", err)
	}
}

func TestCharge_ThenInsufficient(t *testing.T) {
	store := newFaultyStore()
	seedUser(t, store, "u1", 1)
	svc, _ := newTestEntitlement(store)
	ctx := context.Background()

	if _, err := svc.Charge(ctx, "u1", 1, model.ReasonImageProcessing); err != nil {
		t.Fatalf("first Charge() error = %v", err)
	}

	_, err := svc.Charge(ctx, "u1", 1, model.ReasonImageProcessing)
	var appErr *apperror.AppError
	if !errors.As(err, &appErr) || !errors.Is(err, apperror.ErrInsufficientCredits) {
		t.Fatalf("second Charge() error = %v, want InsufficientCredits", err)
	}
	if appErr.Balance != 0 {
		t.Errorf("reported balance = %d, want 0", appErr.Balance)
	}
}

// =========================================================================
// Reserve / Commit / Release TESTS
// =========================================================================

func TestPrecheck(t *testing.T) {
	store := newFaultyStore()
	seedUser(t, store, "u1", 2)
	svc, ledger := newTestEntitlement(store)
	ctx := context.Background()

	if err := svc.Precheck(ctx, "u1", 2); err != nil {
		t.Errorf("Precheck(2) error = %v", err)
	}

	err := svc.Precheck(ctx, "u1", 3)
	var appErr *apperror.AppError
	if !errors.As(err, &appErr) || !errors.Is(err, apperror.ErrInsufficientCredits) {
		t.Fatalf("Precheck(3) error = %v, want ErrInsufficientCredits", err)
	}
	if appErr.Balance != 2 {
		t.Errorf("Balance = %d, want 2", appErr.Balance)
	}
	if err := svc.Precheck(ctx, "", 1); !errors.Is(err, apperror.ErrUnauthorized) {
		t.Errorf("Precheck(no user) error = %v, want ErrUnauthorized", err)
	}
	if got := ledger.Balance(ctx, "u1"); got != 2 {
		t.Errorf("balance = %d, Precheck must not debit", got)
	}
}

func TestReserveCommit(t *testing.T) {
	store := newFaultyStore()
	seedUser(t, store, "u1", 2)
	svc, ledger := newTestEntitlement(store)
	ctx := context.Background()

	r, balance, err := svc.Reserve(ctx, "u1", 1, model.ReasonImageProcessing)
	if err != nil {
		t.Fatalf("Reserve() error = %v", err)
	}
	if balance != 1 {
		t.Errorf("balance after reserve = %d, want 1", balance)
	}
	if err := svc.Commit(ctx, r.ID); err != nil {
		t.Fatalf("Commit() error = %v", err)
	}
	if got := ledger.Balance(ctx, "u1"); got != 1 {
		t.Errorf("balance after commit = %d, want 1", got)
	}

	// A committed reservation cannot be refunded.
	if _, err := svc.Release(ctx, r.ID); !errors.Is(err, apperror.ErrConflict) {
		t.Errorf("Release(committed) error = %v, want ErrConflict", err)
	}
}

func TestReserveRelease_RefundsOnce(t *testing.T) {
	store := newFaultyStore()
	seedUser(t, store, "u1", 1)
	svc, ledger := newTestEntitlement(store)
	ctx := context.Background()

	r, _, err := svc.Reserve(ctx, "u1", 1, model.ReasonImageProcessing)
	if err != nil {
		t.Fatalf("Reserve() error = %v", err)
	}

	balance, err := svc.Release(ctx, r.ID)
	if err != nil {
		t.Fatalf("Release() error = %v", err)
	}
	if balance != 1 {
		t.Errorf("balance after release = %d, want 1", balance)
	}

	if _, err := svc.Release(ctx, r.ID); !errors.Is(err, apperror.ErrConflict) {
		t.Fatalf("second Release() error = %v, want ErrConflict", err)
	}
	if got := ledger.Balance(ctx, "u1"); got != 1 {
		t.Errorf("balance after double release = %d, want 1", got)
	}

	h := ledger.History(ctx, "u1", 10)
	if len(h) != 2 || h[0].Reason != "refund:image_processing" {
		t.Errorf("history = %+v, want refund on top of the debit", h)
	}
}

func TestRelease_FailedRefundCanBeRetried(t *testing.T) {
	store := newFaultyStore()
	seedUser(t, store, "u1", 1)
	svc, ledger := newTestEntitlement(store)
	ctx := context.Background()

	r, _, err := svc.Reserve(ctx, "u1", 1, model.ReasonImageProcessing)
	if err != nil {
		t.Fatalf("Reserve() error = %v", err)
	}

	store.addErr = apperror.ErrStoreUnavailable
	if _, err := svc.Release(ctx, r.ID); err == nil {
		t.Fatal("Release() with a failing ledger succeeded")
	}
	got, err := store.GetReservation(ctx, r.ID)
	if err != nil {
		t.Fatalf("GetReservation() error = %v", err)
	}
	if got.Status != model.ReservationPending {
		t.Errorf("status after failed refund = %s, want pending", got.Status)
	}

	store.addErr = nil
	balance, err := svc.Release(ctx, r.ID)
	if err != nil {
		t.Fatalf("retried Release() error = %v", err)
	}
	if balance != 1 || ledger.Balance(ctx, "u1") != 1 {
		t.Errorf("balance after retried release = %d, want 1", balance)
	}
	got, _ = store.GetReservation(ctx, r.ID)
	if got.Status != model.ReservationReleased {
		t.Errorf("status = %s, want released", got.Status)
	}
}

func TestReserve_RecordFailureRefunds(t *testing.T) {
	store := newFaultyStore()
	seedUser(t, store, "u1", 1)
	store.reservationErr = errors.New("reservations table missing")
	svc, ledger := newTestEntitlement(store)
	ctx := context.Background()

	_, _, err := svc.Reserve(ctx, "u1", 1, model.ReasonImageProcessing)
	if !errors.Is(err, apperror.ErrDebitFailed) {
		t.Fatalf("Reserve() error = %v, want ErrDebitFailed", err)
	}
	if got := ledger.Balance(ctx, "u1"); got != 1 {
		t.Errorf("balance = %d, want the debit refunded", got)
	}
}

func TestRelease_UnknownReservation(t *testing.T) {
	svc, _ := newTestEntitlement(newFaultyStore())

	if _, err := svc.Release(context.Background(), "nope"); !errors.Is(err, apperror.ErrNotFound) {
		t.Fatalf("Release() error = %v, want ErrNotFound", err)
	}
}
