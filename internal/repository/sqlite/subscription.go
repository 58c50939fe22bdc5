package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/sakif/resize-credits/internal/apperror"
	"github.com/sakif/resize-credits/internal/model"
)

// SaveSubscription inserts a subscription record, or merges into the stored
// one. Status, plan and price only move forward in event time; an empty plan
// or price never overwrites a known one, and a stored empty one is filled in
// even by an older event.
func (db *DB) SaveSubscription(ctx context.Context, sub *model.Subscription) error {
	now := time.Now().UTC()
	if sub.CreatedAt.IsZero() {
		sub.CreatedAt = now
	}
	sub.UpdatedAt = now

	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO subscriptions (id, user_id, plan, status, price_id, last_event_at, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			user_id = excluded.user_id,
			status = CASE
				WHEN excluded.last_event_at = 0 OR excluded.last_event_at >= subscriptions.last_event_at
				THEN excluded.status ELSE subscriptions.status END,
			plan = CASE
				WHEN excluded.plan <> '' AND (excluded.last_event_at = 0
					OR excluded.last_event_at >= subscriptions.last_event_at OR subscriptions.plan = '')
				THEN excluded.plan ELSE subscriptions.plan END,
			price_id = CASE
				WHEN excluded.price_id <> '' AND (excluded.last_event_at = 0
					OR excluded.last_event_at >= subscriptions.last_event_at OR subscriptions.price_id = '')
				THEN excluded.price_id ELSE subscriptions.price_id END,
			last_event_at = MAX(subscriptions.last_event_at, excluded.last_event_at),
			updated_at = excluded.updated_at`,
		sub.ID, sub.UserID, sub.Plan, sub.Status, sub.PriceID,
		toNanos(sub.LastEventAt), sub.CreatedAt, sub.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("sqlite: saving subscription %s: %w", sub.ID, err)
	}
	return nil
}

func (db *DB) GetSubscription(ctx context.Context, id string) (*model.Subscription, error) {
	var (
		sub         model.Subscription
		lastEventNs int64
	)
	err := db.conn.QueryRowContext(ctx,
		`SELECT id, user_id, plan, status, price_id, last_event_at, created_at, updated_at
		 FROM subscriptions WHERE id = ?`, id,
	).Scan(
		&sub.ID,
		&sub.UserID,
		&sub.Plan,
		&sub.Status,
		&sub.PriceID,
		&lastEventNs,
		&sub.CreatedAt,
		&sub.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("subscription", id)
		}
		return nil, fmt.Errorf("sqlite: getting subscription %s: %w", id, err)
	}
	sub.LastEventAt = fromNanos(lastEventNs)
	return &sub, nil
}

// ApplySubscriptionChange updates status in place unless occurredAt is older
// than what is already applied. A zero occurredAt carries no ordering
// information and always applies.
func (db *DB) ApplySubscriptionChange(ctx context.Context, id string, status model.SubscriptionStatus, plan model.PlanID, occurredAt time.Time) (bool, error) {
	ns := toNanos(occurredAt)
	res, err := db.conn.ExecContext(ctx,
		`UPDATE subscriptions
		 SET status = ?,
			plan = CASE WHEN ? = '' THEN plan ELSE ? END,
			last_event_at = MAX(last_event_at, ?),
			updated_at = ?
		 WHERE id = ? AND (? = 0 OR last_event_at <= ?)`,
		status, plan, plan, ns, time.Now().UTC(), id, ns, ns,
	)
	if err != nil {
		return false, fmt.Errorf("sqlite: updating subscription %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("sqlite: checking rows affected: %w", err)
	}
	if n > 0 {
		return true, nil
	}

	// Nothing changed: either the event is stale or the record is missing.
	if _, err := db.GetSubscription(ctx, id); err != nil {
		return false, err
	}
	return false, nil
}

func (db *DB) SetSubscriptionOwner(ctx context.Context, subscriptionID, userID string) error {
	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO subscription_owners (subscription_id, user_id) VALUES (?, ?)
		 ON CONFLICT(subscription_id) DO UPDATE SET user_id = excluded.user_id`,
		subscriptionID, userID,
	)
	if err != nil {
		return fmt.Errorf("sqlite: indexing subscription %s: %w", subscriptionID, err)
	}
	return nil
}

func (db *DB) GetSubscriptionOwner(ctx context.Context, subscriptionID string) (string, error) {
	var userID string
	err := db.conn.QueryRowContext(ctx,
		`SELECT user_id FROM subscription_owners WHERE subscription_id = ?`, subscriptionID,
	).Scan(&userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", apperror.NotFound("subscription owner", subscriptionID)
		}
		return "", fmt.Errorf("sqlite: looking up owner of %s: %w", subscriptionID, err)
	}
	return userID, nil
}

func toNanos(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromNanos(ns int64) time.Time {
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns).UTC()
}
