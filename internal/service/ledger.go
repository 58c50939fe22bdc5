// Package service — credit ledger.
//
// LedgerService owns every change to a user's balance:
//
//	EntitlementService ─┐
//	                    ├─▶ LedgerService ─▶ CreditRepository (atomic add + history)
//	Reconciler ─────────┘
//
// READS DEGRADE, WRITES PROPAGATE:
// Balance and History never fail. A missing user or a store outage reads as
// zero credits and an empty history, which is what a UI wants to render.
// Debit and Credit return every error, the caller must know whether money
// moved.
//
// HISTORY IS BEST-EFFORT:
// The balance update is the commit point. The history entry is written
// afterwards and a failure there is only logged, it never undoes the
// balance change.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/rs/xid"

	"github.com/sakif/resize-credits/internal/apperror"
	"github.com/sakif/resize-credits/internal/metrics"
	"github.com/sakif/resize-credits/internal/model"
	"github.com/sakif/resize-credits/internal/repository"
)

const (
	// DefaultHistoryLimit is used when the caller does not ask for a size.
	DefaultHistoryLimit = 50
	// DefaultHistoryRetention is how many entries a user keeps.
	DefaultHistoryRetention = 100
)

type LedgerService struct {
	credits   repository.CreditRepository
	retention int
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

// NewLedgerService creates a ledger. retention <= 0 uses DefaultHistoryRetention.
// m may be nil.
func NewLedgerService(credits repository.CreditRepository, retention int, m *metrics.Metrics, logger *slog.Logger) *LedgerService {
	if retention <= 0 {
		retention = DefaultHistoryRetention
	}
	return &LedgerService{
		credits:   credits,
		retention: retention,
		metrics:   m,
		logger:    logger,
	}
}

// Balance returns the user's credits, or 0 if the user is unknown or the
// store cannot be read.
func (s *LedgerService) Balance(ctx context.Context, userID string) int64 {
	if userID == "" {
		return 0
	}
	credits, err := s.credits.GetCredits(ctx, userID)
	if err != nil {
		if !errors.Is(err, apperror.ErrNotFound) {
			s.logger.Error("reading balance failed",
				slog.String("userID", userID),
				slog.String("error", err.Error()),
			)
		}
		return 0
	}
	return credits
}

// HasSufficientCredits reports whether Balance(userID) >= amount.
// An amount of 0 means 1, a negative amount is a validation error.
func (s *LedgerService) HasSufficientCredits(ctx context.Context, userID string, amount int64) (bool, error) {
	if amount == 0 {
		amount = 1
	}
	if amount < 0 {
		return false, apperror.ValidationFailed("amount", "amount must be a positive integer")
	}
	return s.Balance(ctx, userID) >= amount, nil
}

// Debit removes amount credits and returns the new balance.
//
// Errors: ErrValidation for a non-positive amount, ErrNotFound for an unknown
// user, ErrInsufficientCredits (with the current balance) when the balance is
// too low, ErrStoreUnavailable for anything else. Nothing changes on error.
func (s *LedgerService) Debit(ctx context.Context, userID string, amount int64, reason string) (int64, error) {
	if amount <= 0 {
		return 0, apperror.ValidationFailed("amount", "amount must be a positive integer")
	}

	balance, err := s.credits.AddCredits(ctx, userID, -amount)
	if err != nil {
		if errors.Is(err, apperror.ErrInsufficientCredits) {
			s.metrics.Rejected()
			s.logger.Info("debit rejected",
				slog.String("userID", userID),
				slog.Int64("amount", amount),
				slog.String("reason", reason),
			)
		}
		return 0, s.writeError("debit", userID, err)
	}

	s.metrics.Debited(reason, amount)
	s.logger.Info("credits debited",
		slog.String("userID", userID),
		slog.Int64("amount", amount),
		slog.Int64("balance", balance),
		slog.String("reason", reason),
	)
	s.record(ctx, userID, model.TransactionDeduction, amount, reason, balance)
	return balance, nil
}

// Credit adds amount credits and returns the new balance.
// There is no upper bound on a balance.
func (s *LedgerService) Credit(ctx context.Context, userID string, amount int64, reason string) (int64, error) {
	if amount <= 0 {
		return 0, apperror.ValidationFailed("amount", "amount must be a positive integer")
	}

	balance, err := s.credits.AddCredits(ctx, userID, amount)
	if err != nil {
		return 0, s.writeError("credit", userID, err)
	}

	s.metrics.Granted(reason, amount)
	s.logger.Info("credits granted",
		slog.String("userID", userID),
		slog.Int64("amount", amount),
		slog.Int64("balance", balance),
		slog.String("reason", reason),
	)
	s.record(ctx, userID, model.TransactionAddition, amount, reason, balance)
	return balance, nil
}

// History returns up to limit entries, newest first. limit <= 0 means
// DefaultHistoryLimit and anything above the retention is clamped to it.
// Errors read as an empty history.
func (s *LedgerService) History(ctx context.Context, userID string, limit int) []model.CreditTransaction {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	if limit > s.retention {
		limit = s.retention
	}

	txs, err := s.credits.ListTransactions(ctx, userID, limit)
	if err != nil {
		s.logger.Error("reading history failed",
			slog.String("userID", userID),
			slog.String("error", err.Error()),
		)
		return []model.CreditTransaction{}
	}
	if txs == nil {
		txs = []model.CreditTransaction{}
	}
	return txs
}

// record appends a history entry. Failure is logged, the balance change it
// describes has already happened.
func (s *LedgerService) record(ctx context.Context, userID string, typ model.TransactionType, amount int64, reason string, balance int64) {
	tx := &model.CreditTransaction{
		ID:        xid.New().String(),
		UserID:    userID,
		Type:      typ,
		Amount:    amount,
		Reason:    reason,
		Balance:   balance,
		Timestamp: time.Now().UTC(),
	}
	if err := s.credits.AppendTransaction(ctx, tx, s.retention); err != nil {
		s.logger.Warn("recording credit transaction failed",
			slog.String("userID", userID),
			slog.String("type", string(typ)),
			slog.Int64("amount", amount),
			slog.String("error", err.Error()),
		)
	}
}

// writeError passes domain errors through and turns driver errors into
// ErrStoreUnavailable after logging them.
func (s *LedgerService) writeError(op, userID string, err error) error {
	if errors.Is(err, apperror.ErrNotFound) || errors.Is(err, apperror.ErrInsufficientCredits) {
		return fmt.Errorf("service/ledger: %s: %w", op, err)
	}
	s.logger.Error("ledger write failed",
		slog.String("op", op),
		slog.String("userID", userID),
		slog.String("error", err.Error()),
	)
	return fmt.Errorf("service/ledger: %s: %w", op, apperror.StoreUnavailable(op))
}
