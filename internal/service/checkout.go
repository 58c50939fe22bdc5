package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/sakif/resize-credits/internal/apperror"
	"github.com/sakif/resize-credits/internal/billing"
	"github.com/sakif/resize-credits/internal/metrics"
	"github.com/sakif/resize-credits/internal/model"
	"github.com/sakif/resize-credits/internal/repository"
)

// CheckoutService starts hosted checkouts for a plan. Credits are granted
// later by the Reconciler when the provider reports the payment, never here.
type CheckoutService struct {
	provider billing.Provider
	catalog  *PlanCatalog
	users    repository.UserRepository
	baseURL  string
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

// NewCheckoutService creates a checkout service. baseURL is where the
// provider sends the browser back to. m may be nil.
func NewCheckoutService(provider billing.Provider, catalog *PlanCatalog, users repository.UserRepository, baseURL string, m *metrics.Metrics, logger *slog.Logger) *CheckoutService {
	return &CheckoutService{
		provider: provider,
		catalog:  catalog,
		users:    users,
		baseURL:  baseURL,
		metrics:  m,
		logger:   logger,
	}
}

// CheckoutSession is returned to the browser, which redirects to URL.
type CheckoutSession struct {
	URL  string     `json:"checkoutUrl"`
	Plan model.Plan `json:"plan"`
}

// CreateCheckout opens a checkout for planID on behalf of userID.
//
// Errors: ErrUnauthorized without a user, ErrInvalidPlan for an unknown plan
// or one with no price configured, otherwise the provider's error.
func (s *CheckoutService) CreateCheckout(ctx context.Context, userID string, planID model.PlanID) (*CheckoutSession, error) {
	if userID == "" {
		return nil, apperror.Unauthorized()
	}

	plan, err := s.catalog.Get(planID)
	if err != nil {
		return nil, err
	}
	if plan.PriceID == "" {
		return nil, apperror.InvalidPlan(string(planID))
	}

	var email string
	user, err := s.users.GetUserByID(ctx, userID)
	switch {
	case err == nil:
		email = user.Email
	case errors.Is(err, apperror.ErrNotFound):
		return nil, apperror.Unauthorized()
	default:
		// The email only pre-fills the form. Carry on without it.
		s.logger.Warn("loading user for checkout failed",
			slog.String("userID", userID),
			slog.String("error", err.Error()),
		)
	}

	url, err := s.provider.CreateCheckout(ctx, billing.CheckoutRequest{
		PriceID:    plan.PriceID,
		UserID:     userID,
		Email:      email,
		SuccessURL: s.baseURL + "/?checkout=success",
		CancelURL:  s.baseURL + "/?checkout=cancelled",
	})
	if err != nil {
		s.logger.Error("creating checkout failed",
			slog.String("provider", s.provider.Name()),
			slog.String("userID", userID),
			slog.String("plan", string(plan.ID)),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("service/checkout: %s: %w", s.provider.Name(), err)
	}

	s.metrics.Checkout(string(plan.ID))
	s.logger.Info("checkout started",
		slog.String("provider", s.provider.Name()),
		slog.String("userID", userID),
		slog.String("plan", string(plan.ID)),
	)
	return &CheckoutSession{URL: url, Plan: plan}, nil
}
