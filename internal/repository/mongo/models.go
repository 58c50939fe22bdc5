package mongo

import (
	"time"

	"github.com/sakif/resize-credits/internal/model"
)

// Collection name constants.
const (
	colUsers              = "users"
	colTransactions       = "credit_transactions"
	colSubscriptions      = "subscriptions"
	colSubscriptionOwners = "subscription_owners"
	colWebhookEvents      = "webhook_events"
	colReservations       = "reservations"
)

type userModel struct {
	ID                 string    `bson:"_id"`
	Provider           string    `bson:"provider"`
	Email              string    `bson:"email"`
	Name               string    `bson:"name"`
	Credits            int64     `bson:"credits"`
	SubscriptionID     string    `bson:"subscription_id"`
	SubscriptionStatus string    `bson:"subscription_status"`
	SubscriptionPlan   string    `bson:"subscription_plan"`
	CreatedAt          time.Time `bson:"created_at"`
	UpdatedAt          time.Time `bson:"updated_at"`
}

func fromUserModel(m *userModel) *model.User {
	return &model.User{
		ID:                 m.ID,
		Provider:           m.Provider,
		Email:              m.Email,
		Name:               m.Name,
		Credits:            m.Credits,
		SubscriptionID:     m.SubscriptionID,
		SubscriptionStatus: model.SubscriptionStatus(m.SubscriptionStatus),
		SubscriptionPlan:   model.PlanID(m.SubscriptionPlan),
		CreatedAt:          m.CreatedAt,
		UpdatedAt:          m.UpdatedAt,
	}
}

type transactionModel struct {
	ID        string    `bson:"_id"`
	UserID    string    `bson:"user_id"`
	Type      string    `bson:"type"`
	Amount    int64     `bson:"amount"`
	Reason    string    `bson:"reason"`
	Balance   int64     `bson:"balance"`
	Timestamp time.Time `bson:"timestamp"`
}

func toTransactionModel(tx *model.CreditTransaction) *transactionModel {
	return &transactionModel{
		ID:        tx.ID,
		UserID:    tx.UserID,
		Type:      string(tx.Type),
		Amount:    tx.Amount,
		Reason:    tx.Reason,
		Balance:   tx.Balance,
		Timestamp: tx.Timestamp.UTC(),
	}
}

func fromTransactionModel(m *transactionModel) model.CreditTransaction {
	return model.CreditTransaction{
		ID:        m.ID,
		UserID:    m.UserID,
		Type:      model.TransactionType(m.Type),
		Amount:    m.Amount,
		Reason:    m.Reason,
		Balance:   m.Balance,
		Timestamp: m.Timestamp,
	}
}

type subscriptionModel struct {
	ID          string     `bson:"_id"`
	UserID      string     `bson:"user_id"`
	Plan        string     `bson:"plan"`
	Status      string     `bson:"status"`
	PriceID     string     `bson:"price_id"`
	LastEventAt *time.Time `bson:"last_event_at,omitempty"`
	CreatedAt   time.Time  `bson:"created_at"`
	UpdatedAt   time.Time  `bson:"updated_at"`
}

func fromSubscriptionModel(m *subscriptionModel) *model.Subscription {
	sub := &model.Subscription{
		ID:        m.ID,
		UserID:    m.UserID,
		Plan:      model.PlanID(m.Plan),
		Status:    model.SubscriptionStatus(m.Status),
		PriceID:   m.PriceID,
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}
	if m.LastEventAt != nil {
		sub.LastEventAt = m.LastEventAt.UTC()
	}
	return sub
}

type ownerModel struct {
	SubscriptionID string `bson:"_id"`
	UserID         string `bson:"user_id"`
}

type webhookEventModel struct {
	ID         string    `bson:"_id"`
	Provider   string    `bson:"provider"`
	EventID    string    `bson:"event_id"`
	EventType  string    `bson:"event_type"`
	ReceivedAt time.Time `bson:"received_at"`
}

// eventKey is the _id of a claimed event. Using the pair as the primary key
// makes the duplicate check the insert itself.
func eventKey(provider, eventID string) string {
	return provider + "/" + eventID
}

type reservationModel struct {
	ID        string    `bson:"_id"`
	UserID    string    `bson:"user_id"`
	Amount    int64     `bson:"amount"`
	Reason    string    `bson:"reason"`
	Status    string    `bson:"status"`
	CreatedAt time.Time `bson:"created_at"`
	UpdatedAt time.Time `bson:"updated_at"`
}

func fromReservationModel(m *reservationModel) *model.Reservation {
	return &model.Reservation{
		ID:        m.ID,
		UserID:    m.UserID,
		Amount:    m.Amount,
		Reason:    m.Reason,
		Status:    model.ReservationStatus(m.Status),
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}
}
