package model

import "time"

// SubscriptionStatus is the lifecycle state mirrored from the payment provider.
type SubscriptionStatus string

const (
	StatusNone      SubscriptionStatus = "none"
	StatusActive    SubscriptionStatus = "active"
	StatusPastDue   SubscriptionStatus = "past_due"
	StatusCancelled SubscriptionStatus = "cancelled"
)

// Subscription is our copy of a provider subscription.
//
// ID is the provider's subscription id. Records are never deleted, a
// cancelled subscription stays around so later renewals can still find
// their owner.
//
// LastEventAt is the occurred-at time of the newest lifecycle event applied
// to Status. Older events that arrive late must not overwrite newer state.
type Subscription struct {
	ID          string             `json:"id"          db:"id"`
	UserID      string             `json:"userId"      db:"user_id"`
	Plan        PlanID             `json:"plan"        db:"plan"`
	Status      SubscriptionStatus `json:"status"      db:"status"`
	PriceID     string             `json:"priceId"     db:"price_id"`
	LastEventAt time.Time          `json:"lastEventAt" db:"last_event_at"`
	CreatedAt   time.Time          `json:"createdAt"   db:"created_at"`
	UpdatedAt   time.Time          `json:"updatedAt"   db:"updated_at"`
}

// WebhookEvent records that a provider event id has been claimed for
// processing. The (Provider, EventID) pair is unique.
type WebhookEvent struct {
	Provider   string    `json:"provider"   db:"provider"`
	EventID    string    `json:"eventId"    db:"event_id"`
	EventType  string    `json:"eventType"  db:"event_type"`
	ReceivedAt time.Time `json:"receivedAt" db:"received_at"`
}
