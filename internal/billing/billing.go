// Package billing defines the payment provider seam.
//
// Each provider (paddle, stripe) turns its own webhook format into an Event
// and its own checkout API into a URL. Everything downstream, the reconciler
// in particular, only ever sees these types.
//
//	POST /webhooks/paddle ─▶ paddle.Client.ParseWebhook ─┐
//	                                                      ├─▶ *billing.Event ─▶ service.Reconciler
//	POST /webhooks/stripe ─▶ stripe.Client.ParseWebhook ─┘
package billing

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/sakif/resize-credits/internal/model"
)

// EventType is the provider-neutral name of a webhook event.
type EventType string

const (
	SubscriptionCreated  EventType = "subscription.created"
	SubscriptionUpdated  EventType = "subscription.updated"
	SubscriptionCanceled EventType = "subscription.canceled"
	SubscriptionResumed  EventType = "subscription.resumed"
	SubscriptionPastDue  EventType = "subscription.past_due"
	TransactionCompleted EventType = "transaction.completed"
	TransactionFailed    EventType = "transaction.payment_failed"
)

// Event is a verified, normalised webhook delivery.
//
// Fields the provider did not send are empty. UserID is whatever the
// checkout attached as custom data, it is absent on most renewal events.
type Event struct {
	Provider       string
	ID             string
	Type           EventType
	OccurredAt     time.Time
	SubscriptionID string
	TransactionID  string
	UserID         string
	PriceID        string
	Status         string // provider status, see NormalizeStatus
}

// CheckoutRequest describes one checkout session for one plan.
type CheckoutRequest struct {
	PriceID    string
	UserID     string
	Email      string
	SuccessURL string
	CancelURL  string
}

// Provider is implemented by each payment processor.
type Provider interface {
	Name() string

	// CreateCheckout starts a hosted checkout and returns its URL.
	CreateCheckout(ctx context.Context, req CheckoutRequest) (string, error)

	// ParseWebhook verifies the signature on body and decodes it. A bad or
	// missing signature returns apperror.ErrSignatureInvalid.
	ParseWebhook(header http.Header, body []byte) (*Event, error)
}

// NormalizeStatus maps a provider status string to our status set.
// ok is false for statuses we do not track.
func NormalizeStatus(status string) (model.SubscriptionStatus, bool) {
	switch strings.ToLower(status) {
	case "active", "trialing":
		return model.StatusActive, true
	case "past_due", "unpaid":
		return model.StatusPastDue, true
	case "canceled", "cancelled", "paused", "incomplete_expired":
		return model.StatusCancelled, true
	default:
		return "", false
	}
}
