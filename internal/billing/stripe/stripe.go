// Package stripe is the Stripe Billing provider, built on stripe-go.
//
// Checkout uses a Checkout Session in subscription mode. The user id is sent
// twice: as client_reference_id for the session and as subscription metadata,
// which is what later subscription and invoice webhooks carry.
package stripe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	stripeapi "github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/client"
	"github.com/stripe/stripe-go/v79/webhook"

	"github.com/sakif/resize-credits/internal/apperror"
	"github.com/sakif/resize-credits/internal/billing"
)

const (
	name = "stripe"

	// metadataUserID is the subscription metadata key holding our user id.
	metadataUserID = "user_id"
)

type Config struct {
	SecretKey     string
	WebhookSecret string

	// Backends overrides the Stripe API hosts. Nil uses the real API.
	Backends *stripeapi.Backends
}

type Client struct {
	api           *client.API
	webhookSecret string
}

var _ billing.Provider = (*Client)(nil)

func New(cfg Config) (*Client, error) {
	if cfg.SecretKey == "" {
		return nil, errors.New("stripe: secret key is required")
	}
	if cfg.WebhookSecret == "" {
		return nil, errors.New("stripe: webhook secret is required")
	}
	return &Client{
		api:           client.New(cfg.SecretKey, cfg.Backends),
		webhookSecret: cfg.WebhookSecret,
	}, nil
}

func (c *Client) Name() string { return name }

func (c *Client) CreateCheckout(ctx context.Context, req billing.CheckoutRequest) (string, error) {
	params := &stripeapi.CheckoutSessionParams{
		Mode: stripeapi.String(string(stripeapi.CheckoutSessionModeSubscription)),
		LineItems: []*stripeapi.CheckoutSessionLineItemParams{
			{
				Price:    stripeapi.String(req.PriceID),
				Quantity: stripeapi.Int64(1),
			},
		},
		ClientReferenceID: stripeapi.String(req.UserID),
		SubscriptionData: &stripeapi.CheckoutSessionSubscriptionDataParams{
			Metadata: map[string]string{metadataUserID: req.UserID},
		},
		SuccessURL: stripeapi.String(req.SuccessURL),
		CancelURL:  stripeapi.String(req.CancelURL),
	}
	if req.Email != "" {
		params.CustomerEmail = stripeapi.String(req.Email)
	}
	params.Context = ctx

	sess, err := c.api.CheckoutSessions.New(params)
	if err != nil {
		return "", fmt.Errorf("stripe: creating checkout session: %w", err)
	}
	if sess.URL == "" {
		return "", fmt.Errorf("stripe: checkout session %s has no url", sess.ID)
	}
	return sess.URL, nil
}

// ParseWebhook verifies the Stripe-Signature header and maps the event.
// Event types we do not use are passed through under their Stripe name so
// the reconciler can ignore them.
func (c *Client) ParseWebhook(header http.Header, body []byte) (*billing.Event, error) {
	event, err := webhook.ConstructEventWithOptions(
		body,
		header.Get("Stripe-Signature"),
		c.webhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true},
	)
	if err != nil {
		if isSignatureError(err) {
			return nil, apperror.SignatureInvalid(err.Error())
		}
		return nil, apperror.ValidationFailed("body", "webhook body is not a Stripe event")
	}

	ev := &billing.Event{
		Provider:   name,
		ID:         event.ID,
		Type:       billing.EventType(event.Type),
		OccurredAt: time.Unix(event.Created, 0).UTC(),
	}
	if event.Data == nil {
		return ev, nil
	}

	switch event.Type {
	case "customer.subscription.created",
		"customer.subscription.updated",
		"customer.subscription.deleted",
		"customer.subscription.paused",
		"customer.subscription.resumed":
		var sub stripeapi.Subscription
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			return nil, apperror.ValidationFailed("data", "invalid subscription payload")
		}
		ev.Type = subscriptionEventTypes[event.Type]
		ev.SubscriptionID = sub.ID
		ev.Status = string(sub.Status)
		ev.UserID = sub.Metadata[metadataUserID]
		if sub.Items != nil && len(sub.Items.Data) > 0 && sub.Items.Data[0].Price != nil {
			ev.PriceID = sub.Items.Data[0].Price.ID
		}

	case "invoice.paid", "invoice.payment_failed":
		var inv stripeapi.Invoice
		if err := json.Unmarshal(event.Data.Raw, &inv); err != nil {
			return nil, apperror.ValidationFailed("data", "invalid invoice payload")
		}
		ev.Type = billing.TransactionCompleted
		if event.Type == "invoice.payment_failed" {
			ev.Type = billing.TransactionFailed
		}
		ev.TransactionID = inv.ID
		ev.Status = string(inv.Status)
		if inv.Subscription != nil {
			ev.SubscriptionID = inv.Subscription.ID
		}
		if inv.SubscriptionDetails != nil {
			ev.UserID = inv.SubscriptionDetails.Metadata[metadataUserID]
		}
		if inv.Lines != nil && len(inv.Lines.Data) > 0 && inv.Lines.Data[0].Price != nil {
			ev.PriceID = inv.Lines.Data[0].Price.ID
		}
	}
	return ev, nil
}

var subscriptionEventTypes = map[stripeapi.EventType]billing.EventType{
	"customer.subscription.created": billing.SubscriptionCreated,
	"customer.subscription.updated": billing.SubscriptionUpdated,
	"customer.subscription.deleted": billing.SubscriptionCanceled,
	"customer.subscription.paused":  billing.SubscriptionCanceled,
	"customer.subscription.resumed": billing.SubscriptionResumed,
}

func isSignatureError(err error) bool {
	return errors.Is(err, webhook.ErrNotSigned) ||
		errors.Is(err, webhook.ErrInvalidHeader) ||
		errors.Is(err, webhook.ErrNoValidSignature) ||
		errors.Is(err, webhook.ErrTooOld)
}
