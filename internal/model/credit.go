package model

import "time"

// TransactionType is the direction of a balance change.
type TransactionType string

const (
	TransactionAddition  TransactionType = "addition"
	TransactionDeduction TransactionType = "deduction"
)

// Common transaction reasons. Subscription grants use "subscription:<plan>".
const (
	ReasonImageProcessing = "image_processing"
	ReasonRefundPrefix    = "refund:"
	ReasonSubscription    = "subscription:"
)

// CreditTransaction is one entry in a user's credit history.
//
// The history is for display only. The balance on User is the source of
// truth; a missing history row never means the balance is wrong.
// Amount is always positive, Type carries the sign.
type CreditTransaction struct {
	ID        string          `json:"id"        db:"id"`
	UserID    string          `json:"userId"    db:"user_id"`
	Type      TransactionType `json:"type"      db:"type"`
	Amount    int64           `json:"amount"    db:"amount"`
	Reason    string          `json:"reason"    db:"reason"`
	Balance   int64           `json:"balance"   db:"balance"`
	Timestamp time.Time       `json:"timestamp" db:"timestamp"`
}
