// Package service — subscription reconciler.
//
// The Reconciler turns verified provider webhooks into subscription state and
// credit grants:
//
//	WebhookHandler → billing.Provider.ParseWebhook → Reconciler.HandleEvent
//	                                                   ├─▶ SubscriptionRepository
//	                                                   ├─▶ UserRepository
//	                                                   └─▶ LedgerService (grants)
//
// DELIVERY SEMANTICS:
// Providers deliver at least once, in any order. Each event id is claimed
// before processing, so a redelivery is a no-op. If processing fails the
// claim is released and the error goes back to the provider as a 5xx, so
// its retry gets a clean second attempt.
//
// Status changes carry the event's occurred-at time. The store refuses to
// apply an event older than the newest one already applied, so a late
// "past_due" cannot overwrite a fresher "active". Grants ignore ordering: a
// paid invoice is money received whenever it arrives.
//
// Within one event the credit grant is always the last write. A failure
// before it leaves nothing to undo, and the retry reapplies idempotent
// status writes before granting once.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sakif/resize-credits/internal/apperror"
	"github.com/sakif/resize-credits/internal/billing"
	"github.com/sakif/resize-credits/internal/metrics"
	"github.com/sakif/resize-credits/internal/model"
	"github.com/sakif/resize-credits/internal/repository"
)

// Outcomes recorded per webhook event.
const (
	outcomeProcessed    = "processed"
	outcomeDuplicate    = "duplicate"
	outcomeIgnored      = "ignored"
	outcomeUnresolvable = "unresolvable"
	outcomeFailed       = "failed"
	outcomeClaimStuck   = "claim_stuck"
)

// ReconcilerStore is the slice of the store the reconciler writes to.
type ReconcilerStore interface {
	repository.UserRepository
	repository.SubscriptionRepository
	repository.WebhookEventRepository
}

type Reconciler struct {
	store   ReconcilerStore
	ledger  *LedgerService
	catalog *PlanCatalog
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewReconciler wires a reconciler. m may be nil.
func NewReconciler(store ReconcilerStore, ledger *LedgerService, catalog *PlanCatalog, m *metrics.Metrics, logger *slog.Logger) *Reconciler {
	return &Reconciler{
		store:   store,
		ledger:  ledger,
		catalog: catalog,
		metrics: m,
		logger:  logger,
	}
}

// HandleEvent processes one verified event.
//
// A nil return means the provider may stop retrying: the event was applied,
// was a duplicate, was of a type we ignore, or could not be tied to a user
// (logged and dropped). A non-nil error means nothing should be considered
// done and the event will be accepted again on redelivery.
func (r *Reconciler) HandleEvent(ctx context.Context, ev *billing.Event) error {
	log := r.logger.With(
		slog.String("provider", ev.Provider),
		slog.String("eventID", ev.ID),
		slog.String("eventType", string(ev.Type)),
		slog.String("subscriptionID", ev.SubscriptionID),
	)

	claimed := ev.ID != ""
	if !claimed {
		log.Warn("webhook event without id, processing without dedupe")
	} else {
		ok, err := r.store.ClaimEvent(ctx, &model.WebhookEvent{
			Provider:   ev.Provider,
			EventID:    ev.ID,
			EventType:  string(ev.Type),
			ReceivedAt: time.Now().UTC(),
		})
		if err != nil {
			r.metrics.Webhook(string(ev.Type), outcomeFailed)
			return fmt.Errorf("service/reconciler: claim %s: %w", ev.ID, err)
		}
		if !ok {
			log.Info("duplicate webhook event skipped")
			r.metrics.Webhook(string(ev.Type), outcomeDuplicate)
			return nil
		}
	}

	outcome, err := r.dispatch(ctx, log, ev)
	switch {
	case err == nil:
		r.metrics.Webhook(string(ev.Type), outcome)
		return nil

	case errors.Is(err, apperror.ErrUnresolvableSubscription):
		// Retrying cannot fix this, so the claim stays.
		log.Warn("webhook event dropped, no user for subscription", slog.String("error", err.Error()))
		r.metrics.Webhook(string(ev.Type), outcomeUnresolvable)
		return nil

	default:
		log.Error("webhook event failed", slog.String("error", err.Error()))
		r.metrics.Webhook(string(ev.Type), outcomeFailed)
		if claimed {
			// Still claimed means the provider's retry is skipped as a
			// duplicate; the counter is the operator's cue to replay it.
			if relErr := r.store.ReleaseEvent(ctx, ev.Provider, ev.ID); relErr != nil {
				log.Error("releasing webhook claim failed, retries will be skipped",
					slog.String("error", relErr.Error()))
				r.metrics.Webhook(string(ev.Type), outcomeClaimStuck)
			}
		}
		return fmt.Errorf("service/reconciler: %s %s: %w", ev.Type, ev.ID, err)
	}
}

func (r *Reconciler) dispatch(ctx context.Context, log *slog.Logger, ev *billing.Event) (string, error) {
	switch ev.Type {
	case billing.SubscriptionCreated:
		return r.subscriptionCreated(ctx, log, ev)
	case billing.SubscriptionUpdated:
		return r.subscriptionUpdated(ctx, log, ev)
	case billing.SubscriptionCanceled:
		return r.statusChange(ctx, log, ev, model.StatusCancelled)
	case billing.SubscriptionResumed:
		return r.statusChange(ctx, log, ev, model.StatusActive)
	case billing.SubscriptionPastDue:
		return r.statusChange(ctx, log, ev, model.StatusPastDue)
	case billing.TransactionCompleted:
		return r.transactionCompleted(ctx, log, ev)
	case billing.TransactionFailed:
		log.Warn("payment failed", slog.String("transactionID", ev.TransactionID))
		return outcomeProcessed, nil
	default:
		log.Debug("ignoring webhook event type")
		return outcomeIgnored, nil
	}
}

// ==================== Event handlers ====================

func (r *Reconciler) subscriptionCreated(ctx context.Context, log *slog.Logger, ev *billing.Event) (string, error) {
	if ev.SubscriptionID == "" {
		log.Warn("subscription event without subscription id")
		return outcomeIgnored, nil
	}

	userID, err := r.resolveUser(ctx, ev)
	if err != nil {
		return "", err
	}
	plan, err := r.catalog.ResolvePrice(ev.PriceID)
	if err != nil {
		return "", err
	}

	status, ok := billing.NormalizeStatus(ev.Status)
	if !ok {
		status = model.StatusActive
	}

	sub := &model.Subscription{
		ID:          ev.SubscriptionID,
		UserID:      userID,
		Plan:        plan.ID,
		Status:      status,
		PriceID:     ev.PriceID,
		LastEventAt: ev.OccurredAt,
	}
	stored, err := r.save(ctx, sub)
	if err != nil {
		return "", err
	}

	// A created event that arrives after a cancellation still grants, but
	// the cancellation keeps its status.
	if err := r.grant(ctx, userID, plan, sub.ID); err != nil {
		return "", err
	}
	log.Info("subscription created",
		slog.String("userID", userID),
		slog.String("plan", string(plan.ID)),
		slog.String("status", string(stored.Status)),
	)
	return outcomeProcessed, nil
}

func (r *Reconciler) subscriptionUpdated(ctx context.Context, log *slog.Logger, ev *billing.Event) (string, error) {
	if ev.SubscriptionID == "" {
		log.Warn("subscription event without subscription id")
		return outcomeIgnored, nil
	}

	userID, err := r.resolveUser(ctx, ev)
	if err != nil {
		return "", err
	}

	// No price id means the plan did not change.
	var plan model.PlanID
	if ev.PriceID != "" {
		p, err := r.catalog.ResolvePrice(ev.PriceID)
		if err != nil {
			return "", err
		}
		plan = p.ID
	}

	status, ok := billing.NormalizeStatus(ev.Status)
	if !ok {
		existing, err := r.store.GetSubscription(ctx, ev.SubscriptionID)
		switch {
		case err == nil:
			status = existing.Status
		case errors.Is(err, apperror.ErrNotFound):
			status = model.StatusActive
		default:
			return "", fmt.Errorf("load subscription: %w", err)
		}
	}

	return r.apply(ctx, log, ev, userID, status, plan)
}

func (r *Reconciler) statusChange(ctx context.Context, log *slog.Logger, ev *billing.Event, status model.SubscriptionStatus) (string, error) {
	if ev.SubscriptionID == "" {
		log.Warn("subscription event without subscription id")
		return outcomeIgnored, nil
	}

	userID, err := r.resolveUser(ctx, ev)
	if err != nil {
		return "", err
	}
	return r.apply(ctx, log, ev, userID, status, "")
}

// transactionCompleted handles a paid invoice, which is how renewals arrive.
// A payment on a cancelled subscription still grants and reactivates it.
func (r *Reconciler) transactionCompleted(ctx context.Context, log *slog.Logger, ev *billing.Event) (string, error) {
	if ev.SubscriptionID == "" {
		log.Debug("one-off transaction ignored", slog.String("transactionID", ev.TransactionID))
		return outcomeIgnored, nil
	}

	userID, err := r.resolveUser(ctx, ev)
	if err != nil {
		return "", err
	}
	plan, err := r.planFor(ctx, ev)
	if err != nil {
		return "", err
	}

	// Status first so a retry after a failed grant only repeats idempotent
	// writes. A stale event still grants below.
	if _, err := r.apply(ctx, log, ev, userID, model.StatusActive, plan.ID); err != nil {
		return "", err
	}

	if err := r.grant(ctx, userID, plan, ev.SubscriptionID); err != nil {
		return "", err
	}
	log.Info("subscription renewed",
		slog.String("userID", userID),
		slog.String("plan", string(plan.ID)),
		slog.String("transactionID", ev.TransactionID),
	)
	return outcomeProcessed, nil
}

// ==================== Helpers ====================

// resolveUser finds the owner of the event's subscription: the user id the
// checkout attached, then the owner index, then the stored subscription.
func (r *Reconciler) resolveUser(ctx context.Context, ev *billing.Event) (string, error) {
	if ev.UserID != "" {
		return ev.UserID, nil
	}

	owner, err := r.store.GetSubscriptionOwner(ctx, ev.SubscriptionID)
	switch {
	case err == nil && owner != "":
		return owner, nil
	case err != nil && !errors.Is(err, apperror.ErrNotFound):
		return "", fmt.Errorf("lookup subscription owner: %w", err)
	}

	sub, err := r.store.GetSubscription(ctx, ev.SubscriptionID)
	switch {
	case err == nil && sub.UserID != "":
		return sub.UserID, nil
	case err != nil && !errors.Is(err, apperror.ErrNotFound):
		return "", fmt.Errorf("load subscription: %w", err)
	}

	return "", apperror.UnresolvableSubscription(ev.SubscriptionID)
}

// planFor prefers the plan on our stored subscription and falls back to the
// event's price id.
func (r *Reconciler) planFor(ctx context.Context, ev *billing.Event) (model.Plan, error) {
	sub, err := r.store.GetSubscription(ctx, ev.SubscriptionID)
	switch {
	case err == nil && sub.Plan != "":
		return r.catalog.Get(sub.Plan)
	case err != nil && !errors.Is(err, apperror.ErrNotFound):
		return model.Plan{}, fmt.Errorf("load subscription: %w", err)
	}
	return r.catalog.ResolvePrice(ev.PriceID)
}

// apply moves the subscription to status (and plan, if set) unless the event
// is stale, creating the record if this is the first we hear of it.
func (r *Reconciler) apply(ctx context.Context, log *slog.Logger, ev *billing.Event, userID string, status model.SubscriptionStatus, plan model.PlanID) (string, error) {
	changed, err := r.store.ApplySubscriptionChange(ctx, ev.SubscriptionID, status, plan, ev.OccurredAt)
	if errors.Is(err, apperror.ErrNotFound) {
		// An update overtook its created event.
		sub := &model.Subscription{
			ID:          ev.SubscriptionID,
			UserID:      userID,
			Plan:        plan,
			Status:      status,
			PriceID:     ev.PriceID,
			LastEventAt: ev.OccurredAt,
		}
		stored, err := r.save(ctx, sub)
		if err != nil {
			return "", err
		}
		log.Info("subscription recorded from update", slog.String("userID", userID), slog.String("status", string(stored.Status)))
		return outcomeProcessed, nil
	}
	if err != nil {
		return "", fmt.Errorf("apply subscription change: %w", err)
	}

	if !changed {
		log.Info("stale subscription event ignored", slog.Time("occurredAt", ev.OccurredAt))
		return outcomeIgnored, nil
	}

	sub, err := r.store.GetSubscription(ctx, ev.SubscriptionID)
	if err != nil {
		return "", fmt.Errorf("load subscription: %w", err)
	}
	if err := r.mirrorToUser(ctx, userID, sub); err != nil {
		return "", err
	}
	log.Info("subscription status updated", slog.String("userID", userID), slog.String("status", string(sub.Status)))
	return outcomeProcessed, nil
}

// save upserts sub, indexes its owner and mirrors whatever the store kept,
// which is not sub when a newer event got there first.
func (r *Reconciler) save(ctx context.Context, sub *model.Subscription) (*model.Subscription, error) {
	if err := r.store.SaveSubscription(ctx, sub); err != nil {
		return nil, fmt.Errorf("save subscription: %w", err)
	}
	if err := r.store.SetSubscriptionOwner(ctx, sub.ID, sub.UserID); err != nil {
		return nil, fmt.Errorf("index subscription owner: %w", err)
	}
	stored, err := r.store.GetSubscription(ctx, sub.ID)
	if err != nil {
		return nil, fmt.Errorf("load subscription: %w", err)
	}
	if err := r.mirrorToUser(ctx, sub.UserID, stored); err != nil {
		return nil, err
	}
	return stored, nil
}

func (r *Reconciler) mirrorToUser(ctx context.Context, userID string, sub *model.Subscription) error {
	err := r.store.SetUserSubscription(ctx, userID, sub.ID, sub.Status, sub.Plan)
	if errors.Is(err, apperror.ErrNotFound) {
		return fmt.Errorf("%w: %w", apperror.UnresolvableSubscription(sub.ID), err)
	}
	if err != nil {
		return fmt.Errorf("update user subscription: %w", err)
	}
	return nil
}

func (r *Reconciler) grant(ctx context.Context, userID string, plan model.Plan, subscriptionID string) error {
	_, err := r.ledger.Credit(ctx, userID, plan.Credits, model.ReasonSubscription+string(plan.ID))
	if errors.Is(err, apperror.ErrNotFound) {
		return fmt.Errorf("%w: %w", apperror.UnresolvableSubscription(subscriptionID), err)
	}
	if err != nil {
		return fmt.Errorf("grant %d credits: %w", plan.Credits, err)
	}
	return nil
}
