package service

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/sakif/resize-credits/internal/apperror"
	"github.com/sakif/resize-credits/internal/model"
)

// =========================================================================
// Balance / HasSufficientCredits TESTS
// =========================================================================

func TestBalance(t *testing.T) {
	store := newFaultyStore()
	seedUser(t, store, "u1", 7)
	ledger := newTestLedger(store)
	ctx := context.Background()

	if got := ledger.Balance(ctx, "u1"); got != 7 {
		t.Errorf("Balance(u1) = %d, want 7", got)
	}
	if got := ledger.Balance(ctx, "nobody"); got != 0 {
		t.Errorf("Balance(unknown) = %d, want 0", got)
	}
	if got := ledger.Balance(ctx, ""); got != 0 {
		t.Errorf("Balance(\"\") = %d, want 0", got)
	}
}

func TestHasSufficientCredits(t *testing.T) {
	store := newFaultyStore()
	seedUser(t, store, "u1", 2)
	ledger := newTestLedger(store)

	tests := []struct {
		name    string
		amount  int64
		want    bool
		wantErr bool
	}{
		{"zero means one", 0, true, false},
		{"exact balance", 2, true, false},
		{"above balance", 3, false, false},
		{"negative", -1, false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ledger.HasSufficientCredits(context.Background(), "u1", tt.amount)
			if (err != nil) != tt.wantErr {
				t.Fatalf("error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("HasSufficientCredits(%d) = %v, want %v", tt.amount, got, tt.want)
			}
		})
	}
}

// =========================================================================
// Debit / Credit TESTS
// =========================================================================

func TestDebit(t *testing.T) {
	tests := []struct {
		name        string
		start       int64
		amount      int64
		wantBalance int64
		wantErr     error
	}{
		{"normal debit", 5, 2, 3, nil},
		{"debit to zero", 1, 1, 0, nil},
		{"insufficient", 1, 2, 0, apperror.ErrInsufficientCredits},
		{"zero amount", 5, 0, 0, apperror.ErrValidation},
		{"negative amount", 5, -3, 0, apperror.ErrValidation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newFaultyStore()
			seedUser(t, store, "u1", tt.start)
			ledger := newTestLedger(store)

			got, err := ledger.Debit(context.Background(), "u1", tt.amount, model.ReasonImageProcessing)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("Debit() error = %v, want %v", err, tt.wantErr)
				}
				if bal := ledger.Balance(context.Background(), "u1"); bal != tt.start {
					t.Errorf("balance after failed debit = %d, want unchanged %d", bal, tt.start)
				}
				return
			}
			if err != nil {
				t.Fatalf("Debit() error = %v", err)
			}
			if got != tt.wantBalance {
				t.Errorf("Debit() = %d, want %d", got, tt.wantBalance)
			}
		})
	}
}

func TestDebit_InsufficientCarriesBalance(t *testing.T) {
	store := newFaultyStore()
	seedUser(t, store, "u1", 1)
	ledger := newTestLedger(store)

	_, err := ledger.Debit(context.Background(), "u1", 5, model.ReasonImageProcessing)

	var appErr *apperror.AppError
	if !errors.As(err, &appErr) || appErr.Balance != 1 {
		t.Fatalf("Debit() error = %v, want InsufficientCredits with balance 1", err)
	}
}

func TestDebit_UnknownUser(t *testing.T) {
	ledger := newTestLedger(newFaultyStore())

	_, err := ledger.Debit(context.Background(), "ghost", 1, model.ReasonImageProcessing)
	if !errors.Is(err, apperror.ErrNotFound) {
		t.Fatalf("Debit() error = %v, want ErrNotFound", err)
	}
}

func TestDebit_StoreFailure(t *testing.T) {
	store := newFaultyStore()
	seedUser(t, store, "u1", 5)
	store.addErr = errors.New("connection reset")
	ledger := newTestLedger(store)

	_, err := ledger.Debit(context.Background(), "u1", 1, model.ReasonImageProcessing)
	if !errors.Is(err, apperror.ErrStoreUnavailable) {
		t.Fatalf("Debit() error = %v, want ErrStoreUnavailable", err)
	}
}

// Two debits of 1 race for a single credit: exactly one may win.
func TestDebit_ConcurrentSingleCredit(t *testing.T) {
	for round := 0; round < 50; round++ {
		store := newFaultyStore()
		seedUser(t, store, "u1", 1)
		ledger := newTestLedger(store)

		var wg sync.WaitGroup
		errs := make([]error, 2)
		for i := range errs {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, errs[i] = ledger.Debit(context.Background(), "u1", 1, model.ReasonImageProcessing)
			}()
		}
		wg.Wait()

		succeeded := 0
		for _, err := range errs {
			switch {
			case err == nil:
				succeeded++
			case !errors.Is(err, apperror.ErrInsufficientCredits):
				t.Fatalf("round %d: unexpected error %v", round, err)
			}
		}
		if succeeded != 1 {
			t.Fatalf("round %d: %d debits succeeded, want exactly 1", round, succeeded)
		}
		if bal := ledger.Balance(context.Background(), "u1"); bal != 0 {
			t.Fatalf("round %d: final balance = %d, want 0", round, bal)
		}
	}
}

func TestCredit(t *testing.T) {
	store := newFaultyStore()
	seedUser(t, store, "u1", 0)
	ledger := newTestLedger(store)
	ctx := context.Background()

	got, err := ledger.Credit(ctx, "u1", 100, "subscription:pro")
	if err != nil {
		t.Fatalf("Credit() error = %v", err)
	}
	if got != 100 {
		t.Errorf("Credit() = %d, want 100", got)
	}

	if _, err := ledger.Credit(ctx, "u1", 0, "noop"); !errors.Is(err, apperror.ErrValidation) {
		t.Errorf("Credit(0) error = %v, want ErrValidation", err)
	}
	if _, err := ledger.Credit(ctx, "ghost", 1, "x"); !errors.Is(err, apperror.ErrNotFound) {
		t.Errorf("Credit(unknown) error = %v, want ErrNotFound", err)
	}
}

// =========================================================================
// History TESTS
// =========================================================================

func TestHistory_NewestFirstWithBalances(t *testing.T) {
	store := newFaultyStore()
	seedUser(t, store, "u1", 0)
	ledger := newTestLedger(store)
	ctx := context.Background()

	ledger.Credit(ctx, "u1", 10, "subscription:starter")
	ledger.Debit(ctx, "u1", 1, model.ReasonImageProcessing)
	ledger.Debit(ctx, "u1", 2, model.ReasonImageProcessing)

	got := ledger.History(ctx, "u1", 0)
	if len(got) != 3 {
		t.Fatalf("History() returned %d entries, want 3", len(got))
	}

	want := []struct {
		typ     model.TransactionType
		amount  int64
		balance int64
	}{
		{model.TransactionDeduction, 2, 7},
		{model.TransactionDeduction, 1, 9},
		{model.TransactionAddition, 10, 10},
	}
	for i, w := range want {
		if got[i].Type != w.typ || got[i].Amount != w.amount || got[i].Balance != w.balance {
			t.Errorf("History()[%d] = %s %d -> %d, want %s %d -> %d",
				i, got[i].Type, got[i].Amount, got[i].Balance, w.typ, w.amount, w.balance)
		}
	}
}

func TestHistory_RetentionAndLimit(t *testing.T) {
	store := newFaultyStore()
	seedUser(t, store, "u1", 0)
	ledger := NewLedgerService(store, 5, nil, testLogger())
	ctx := context.Background()

	for i := 0; i < 8; i++ {
		ledger.Credit(ctx, "u1", 1, "refund:test")
	}

	if got := ledger.History(ctx, "u1", 100); len(got) != 5 {
		t.Errorf("History(limit 100) returned %d entries, want retention 5", len(got))
	}
	got := ledger.History(ctx, "u1", 2)
	if len(got) != 2 {
		t.Fatalf("History(limit 2) returned %d entries, want 2", len(got))
	}
	if got[0].Balance != 8 {
		t.Errorf("newest entry balance = %d, want 8", got[0].Balance)
	}
}

func TestHistory_ErrorsReadAsEmpty(t *testing.T) {
	store := newFaultyStore()
	store.listErr = errors.New("disk gone")
	ledger := newTestLedger(store)

	got := ledger.History(context.Background(), "u1", 10)
	if got == nil || len(got) != 0 {
		t.Fatalf("History() = %v, want empty non-nil slice", got)
	}
}

// A lost history entry must not undo the balance change it describes.
func TestCredit_AppendFailureKeepsBalance(t *testing.T) {
	store := newFaultyStore()
	seedUser(t, store, "u1", 4)
	store.appendErr = errors.New("history table locked")
	ledger := newTestLedger(store)
	ctx := context.Background()

	got, err := ledger.Debit(ctx, "u1", 1, model.ReasonImageProcessing)
	if err != nil {
		t.Fatalf("Debit() error = %v, want success despite history failure", err)
	}
	if got != 3 || ledger.Balance(ctx, "u1") != 3 {
		t.Errorf("balance = %d, want 3", ledger.Balance(ctx, "u1"))
	}
	if h := ledger.History(ctx, "u1", 10); len(h) != 0 {
		t.Errorf("History() has %d entries, want none recorded", len(h))
	}
}
