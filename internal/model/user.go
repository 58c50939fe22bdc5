// Package model defines the data structures used throughout the application.
package model

import (
	"fmt"
	"time"
)

// User is an account created on first OAuth login.
//
// WHY A COMPOSITE ID?
// The ID is "<provider>:<provider-native-id>" (e.g. "github:583231"). The same
// person logging in through GitHub and Google gets two accounts; we never try
// to merge identities across providers. The ID never changes once created.
//
// OWNERSHIP OF FIELDS:
//   - Email, Name, Provider: overwritten on every login from the OAuth profile
//   - Credits: only ever changed by the ledger (atomic add in the store)
//   - Subscription*: only ever changed by the subscription reconciler
type User struct {
	ID                 string             `json:"id"                 db:"id"`
	Provider           string             `json:"provider"           db:"provider"`
	Email              string             `json:"email"              db:"email"`
	Name               string             `json:"name"               db:"name"`
	Credits            int64              `json:"credits"            db:"credits"`
	SubscriptionID     string             `json:"subscriptionId"     db:"subscription_id"`
	SubscriptionStatus SubscriptionStatus `json:"subscriptionStatus" db:"subscription_status"`
	SubscriptionPlan   PlanID             `json:"subscriptionPlan"   db:"subscription_plan"`
	CreatedAt          time.Time          `json:"createdAt"          db:"created_at"`
	UpdatedAt          time.Time          `json:"updatedAt"          db:"updated_at"`
}

// UserID builds the canonical user id for a provider identity.
func UserID(provider, providerID string) string {
	return fmt.Sprintf("%s:%s", provider, providerID)
}
