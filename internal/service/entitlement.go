package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/rs/xid"

	"github.com/sakif/resize-credits/internal/apperror"
	"github.com/sakif/resize-credits/internal/model"
	"github.com/sakif/resize-credits/internal/repository"
)

// EntitlementService gates billable operations on the caller's balance.
//
// TWO WAYS TO CHARGE:
//
//	Charge              debit first, then the caller does the work. If the
//	                    work fails the credits are gone.
//	Reserve/Commit/     debit first and remember it as a pending reservation.
//	Release             Commit when the work succeeds, Release (refund) when
//	                    it fails. The image pipeline uses this one.
//
// Either way the debit is the single atomic step. There is no window where
// two requests both see enough credits and both spend them.
type EntitlementService struct {
	ledger       *LedgerService
	reservations repository.ReservationRepository
	logger       *slog.Logger
}

func NewEntitlementService(ledger *LedgerService, reservations repository.ReservationRepository, logger *slog.Logger) *EntitlementService {
	return &EntitlementService{
		ledger:       ledger,
		reservations: reservations,
		logger:       logger,
	}
}

// ChargeResult is what a successful charge reports back to the client.
type ChargeResult struct {
	NewBalance int64 `json:"newBalance"`
}

// Charge debits amount for reason.
//
// Errors: ErrUnauthorized without a user, ErrInsufficientCredits carrying the
// current balance, ErrDebitFailed when the ledger could not be written.
func (s *EntitlementService) Charge(ctx context.Context, userID string, amount int64, reason string) (*ChargeResult, error) {
	balance, err := s.debit(ctx, userID, amount, reason)
	if err != nil {
		return nil, err
	}
	return &ChargeResult{NewBalance: balance}, nil
}

// Precheck fails with ErrInsufficientCredits when the balance is already too
// low for amount. It is advisory, the debit in Charge or Reserve is what
// actually decides.
func (s *EntitlementService) Precheck(ctx context.Context, userID string, amount int64) error {
	if userID == "" {
		return apperror.Unauthorized()
	}
	ok, err := s.ledger.HasSufficientCredits(ctx, userID, amount)
	if err != nil {
		return err
	}
	if !ok {
		return apperror.InsufficientCredits(s.ledger.Balance(ctx, userID), amount)
	}
	return nil
}

// Reserve debits amount and records a pending reservation. The returned
// balance is the one after the debit.
func (s *EntitlementService) Reserve(ctx context.Context, userID string, amount int64, reason string) (*model.Reservation, int64, error) {
	balance, err := s.debit(ctx, userID, amount, reason)
	if err != nil {
		return nil, 0, err
	}

	r := &model.Reservation{
		ID:     xid.New().String(),
		UserID: userID,
		Amount: amount,
		Reason: reason,
		Status: model.ReservationPending,
	}
	if err := s.reservations.CreateReservation(ctx, r); err != nil {
		// Without a record nobody could release it later. Give the credits
		// back now and fail the request.
		s.logger.Error("creating reservation failed, refunding",
			slog.String("userID", userID),
			slog.String("error", err.Error()),
		)
		if _, refundErr := s.ledger.Credit(ctx, userID, amount, model.ReasonRefundPrefix+reason); refundErr != nil {
			s.logger.Error("refund after failed reservation failed",
				slog.String("userID", userID),
				slog.Int64("amount", amount),
				slog.String("error", refundErr.Error()),
			)
		}
		return nil, 0, fmt.Errorf("service/entitlement: reserve: %w", apperror.DebitFailed(userID))
	}

	s.logger.Debug("credits reserved",
		slog.String("reservationID", r.ID),
		slog.String("userID", userID),
		slog.Int64("amount", amount),
	)
	return r, balance, nil
}

// Commit marks a pending reservation as spent.
func (s *EntitlementService) Commit(ctx context.Context, reservationID string) error {
	if err := s.reservations.TransitionReservation(ctx, reservationID, model.ReservationPending, model.ReservationCommitted); err != nil {
		return fmt.Errorf("service/entitlement: commit %s: %w", reservationID, err)
	}
	return nil
}

// Release refunds a pending reservation and returns the balance afterwards.
//
// The status flip happens first and is a compare-and-set, so a reservation
// can be refunded at most once even if Release is called twice. If the refund
// write fails the reservation goes back to pending so Release can be retried.
func (s *EntitlementService) Release(ctx context.Context, reservationID string) (int64, error) {
	r, err := s.reservations.GetReservation(ctx, reservationID)
	if err != nil {
		return 0, fmt.Errorf("service/entitlement: release %s: %w", reservationID, err)
	}
	if err := s.reservations.TransitionReservation(ctx, reservationID, model.ReservationPending, model.ReservationReleased); err != nil {
		return 0, fmt.Errorf("service/entitlement: release %s: %w", reservationID, err)
	}

	balance, err := s.ledger.Credit(ctx, r.UserID, r.Amount, model.ReasonRefundPrefix+r.Reason)
	if err != nil {
		s.logger.Error("refund failed after release",
			slog.String("reservationID", reservationID),
			slog.String("userID", r.UserID),
			slog.Int64("amount", r.Amount),
			slog.String("error", err.Error()),
		)
		if revertErr := s.reservations.TransitionReservation(context.WithoutCancel(ctx), reservationID,
			model.ReservationReleased, model.ReservationPending); revertErr != nil {
			s.logger.Error("reservation stuck as released without refund",
				slog.String("reservationID", reservationID),
				slog.String("userID", r.UserID),
				slog.Int64("amount", r.Amount),
				slog.String("error", revertErr.Error()),
			)
		}
		return 0, fmt.Errorf("service/entitlement: refund %s: %w", reservationID, err)
	}

	s.logger.Info("reservation released",
		slog.String("reservationID", reservationID),
		slog.String("userID", r.UserID),
		slog.Int64("amount", r.Amount),
	)
	return balance, nil
}

// debit is the shared front half of Charge and Reserve.
func (s *EntitlementService) debit(ctx context.Context, userID string, amount int64, reason string) (int64, error) {
	if userID == "" {
		return 0, apperror.Unauthorized()
	}
	if amount <= 0 {
		amount = 1
	}

	balance, err := s.ledger.Debit(ctx, userID, amount, reason)
	switch {
	case err == nil:
		return balance, nil
	case errors.Is(err, apperror.ErrInsufficientCredits):
		return 0, err
	case errors.Is(err, apperror.ErrNotFound):
		// A valid session for a user row that is gone: treat as zero credits.
		return 0, fmt.Errorf("service/entitlement: %w", apperror.InsufficientCredits(0, amount))
	default:
		return 0, fmt.Errorf("service/entitlement: %w: %w", apperror.DebitFailed(userID), err)
	}
}
