package model

import "time"

// ReservationStatus tracks a hold on credits during a billable operation.
type ReservationStatus string

const (
	ReservationPending   ReservationStatus = "pending"
	ReservationCommitted ReservationStatus = "committed"
	ReservationReleased  ReservationStatus = "released"
)

// Reservation is created when credits are debited ahead of external work.
//
// LIFECYCLE:
//
//	pending ──commit──▶ committed   (work succeeded, credits stay spent)
//	   │
//	   └────release───▶ released    (work failed, credits refunded once)
//
// Transitions only leave pending, so a reservation is refunded at most once.
type Reservation struct {
	ID        string            `json:"id"        db:"id"`
	UserID    string            `json:"userId"    db:"user_id"`
	Amount    int64             `json:"amount"    db:"amount"`
	Reason    string            `json:"reason"    db:"reason"`
	Status    ReservationStatus `json:"status"    db:"status"`
	CreatedAt time.Time         `json:"createdAt" db:"created_at"`
	UpdatedAt time.Time         `json:"updatedAt" db:"updated_at"`
}
