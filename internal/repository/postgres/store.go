package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/sakif/resize-credits/internal/apperror"
	"github.com/sakif/resize-credits/internal/model"
)

// ==================== Users ====================

func (db *DB) Upsert(ctx context.Context, user *model.User) error {
	status := user.SubscriptionStatus
	if status == "" {
		status = model.StatusNone
	}
	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO users (id, provider, email, name, credits, subscription_status)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (id) DO UPDATE SET
			provider = EXCLUDED.provider,
			email = EXCLUDED.email,
			name = EXCLUDED.name,
			updated_at = NOW()`,
		user.ID, user.Provider, user.Email, user.Name, user.Credits, status,
	)
	if err != nil {
		return fmt.Errorf("postgres: upserting user %s: %w", user.ID, err)
	}

	stored, err := db.GetUserByID(ctx, user.ID)
	if err != nil {
		return err
	}
	*user = *stored
	return nil
}

func (db *DB) GetUserByID(ctx context.Context, id string) (*model.User, error) {
	var u model.User
	err := db.conn.QueryRowContext(ctx,
		`SELECT id, provider, email, name, credits, subscription_id,
			subscription_status, subscription_plan, created_at, updated_at
		 FROM users WHERE id = $1`, id,
	).Scan(&u.ID, &u.Provider, &u.Email, &u.Name, &u.Credits, &u.SubscriptionID,
		&u.SubscriptionStatus, &u.SubscriptionPlan, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("user", id)
		}
		return nil, fmt.Errorf("postgres: getting user %s: %w", id, err)
	}
	return &u, nil
}

func (db *DB) SetUserSubscription(ctx context.Context, userID, subscriptionID string, status model.SubscriptionStatus, plan model.PlanID) error {
	res, err := db.conn.ExecContext(ctx,
		`UPDATE users
		 SET subscription_id = $1, subscription_status = $2, subscription_plan = $3, updated_at = NOW()
		 WHERE id = $4`,
		subscriptionID, status, plan, userID,
	)
	if err != nil {
		return fmt.Errorf("postgres: updating subscription of user %s: %w", userID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperror.NotFound("user", userID)
	}
	return nil
}

// ==================== Credits ====================

func (db *DB) GetCredits(ctx context.Context, userID string) (int64, error) {
	var credits int64
	err := db.conn.QueryRowContext(ctx, `SELECT credits FROM users WHERE id = $1`, userID).Scan(&credits)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, apperror.NotFound("user", userID)
		}
		return 0, fmt.Errorf("postgres: getting credits of %s: %w", userID, err)
	}
	return credits, nil
}

// AddCredits is a single conditional UPDATE. Postgres takes a row lock for the
// update and re-evaluates the WHERE clause against the committed row, so two
// racing debits cannot both pass the balance check.
func (db *DB) AddCredits(ctx context.Context, userID string, delta int64) (int64, error) {
	var balance int64
	err := db.conn.QueryRowContext(ctx,
		`UPDATE users SET credits = credits + $1, updated_at = NOW()
		 WHERE id = $2 AND credits + $1 >= 0
		 RETURNING credits`,
		delta, userID,
	).Scan(&balance)
	if err == nil {
		return balance, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("postgres: adding %d credits to %s: %w", delta, userID, err)
	}

	current, err := db.GetCredits(ctx, userID)
	if err != nil {
		return 0, err
	}
	return 0, apperror.InsufficientCredits(current, -delta)
}

func (db *DB) AppendTransaction(ctx context.Context, tx *model.CreditTransaction, keep int) error {
	sqlTx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("postgres: beginning transaction: %w", err)
	}
	defer sqlTx.Rollback()

	_, err = sqlTx.ExecContext(ctx,
		`INSERT INTO credit_transactions (id, user_id, type, amount, reason, balance, timestamp)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		tx.ID, tx.UserID, tx.Type, tx.Amount, tx.Reason, tx.Balance, tx.Timestamp.UTC(),
	)
	if err != nil {
		return fmt.Errorf("postgres: inserting credit transaction %s: %w", tx.ID, err)
	}

	if keep > 0 {
		_, err = sqlTx.ExecContext(ctx,
			`DELETE FROM credit_transactions
			 WHERE user_id = $1 AND seq NOT IN (
				SELECT seq FROM credit_transactions
				WHERE user_id = $1 ORDER BY seq DESC LIMIT $2
			 )`,
			tx.UserID, keep,
		)
		if err != nil {
			return fmt.Errorf("postgres: trimming history of %s: %w", tx.UserID, err)
		}
	}

	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("postgres: committing credit transaction: %w", err)
	}
	return nil
}

func (db *DB) ListTransactions(ctx context.Context, userID string, limit int) ([]model.CreditTransaction, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT id, user_id, type, amount, reason, balance, timestamp
		 FROM credit_transactions
		 WHERE user_id = $1
		 ORDER BY seq DESC
		 LIMIT $2`,
		userID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: listing transactions of %s: %w", userID, err)
	}
	defer rows.Close()

	var txs []model.CreditTransaction
	for rows.Next() {
		var tx model.CreditTransaction
		if err := rows.Scan(&tx.ID, &tx.UserID, &tx.Type, &tx.Amount, &tx.Reason, &tx.Balance, &tx.Timestamp); err != nil {
			return nil, fmt.Errorf("postgres: scanning transaction: %w", err)
		}
		txs = append(txs, tx)
	}
	return txs, rows.Err()
}

// ==================== Subscriptions ====================

// SaveSubscription upserts; an older event never moves status or plan back.
func (db *DB) SaveSubscription(ctx context.Context, sub *model.Subscription) error {
	now := time.Now().UTC()
	if sub.CreatedAt.IsZero() {
		sub.CreatedAt = now
	}
	sub.UpdatedAt = now

	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO subscriptions (id, user_id, plan, status, price_id, last_event_at, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (id) DO UPDATE SET
			user_id = EXCLUDED.user_id,
			status = CASE
				WHEN EXCLUDED.last_event_at IS NULL OR subscriptions.last_event_at IS NULL
					OR EXCLUDED.last_event_at >= subscriptions.last_event_at
				THEN EXCLUDED.status ELSE subscriptions.status END,
			plan = CASE
				WHEN EXCLUDED.plan <> '' AND (EXCLUDED.last_event_at IS NULL OR subscriptions.last_event_at IS NULL
					OR EXCLUDED.last_event_at >= subscriptions.last_event_at OR subscriptions.plan = '')
				THEN EXCLUDED.plan ELSE subscriptions.plan END,
			price_id = CASE
				WHEN EXCLUDED.price_id <> '' AND (EXCLUDED.last_event_at IS NULL OR subscriptions.last_event_at IS NULL
					OR EXCLUDED.last_event_at >= subscriptions.last_event_at OR subscriptions.price_id = '')
				THEN EXCLUDED.price_id ELSE subscriptions.price_id END,
			last_event_at = GREATEST(subscriptions.last_event_at, EXCLUDED.last_event_at),
			updated_at = EXCLUDED.updated_at`,
		sub.ID, sub.UserID, sub.Plan, sub.Status, sub.PriceID,
		nullTime(sub.LastEventAt), sub.CreatedAt, sub.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: saving subscription %s: %w", sub.ID, err)
	}
	return nil
}

func (db *DB) GetSubscription(ctx context.Context, id string) (*model.Subscription, error) {
	var (
		sub       model.Subscription
		lastEvent sql.NullTime
	)
	err := db.conn.QueryRowContext(ctx,
		`SELECT id, user_id, plan, status, price_id, last_event_at, created_at, updated_at
		 FROM subscriptions WHERE id = $1`, id,
	).Scan(&sub.ID, &sub.UserID, &sub.Plan, &sub.Status, &sub.PriceID, &lastEvent, &sub.CreatedAt, &sub.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("subscription", id)
		}
		return nil, fmt.Errorf("postgres: getting subscription %s: %w", id, err)
	}
	if lastEvent.Valid {
		sub.LastEventAt = lastEvent.Time.UTC()
	}
	return &sub, nil
}

// ApplySubscriptionChange skips the write when the stored event is newer.
// GREATEST ignores NULLs, so the first timestamped event simply sets it.
func (db *DB) ApplySubscriptionChange(ctx context.Context, id string, status model.SubscriptionStatus, plan model.PlanID, occurredAt time.Time) (bool, error) {
	res, err := db.conn.ExecContext(ctx,
		`UPDATE subscriptions
		 SET status = $1,
			plan = COALESCE(NULLIF($2, ''), plan),
			last_event_at = GREATEST(last_event_at, $3::timestamptz),
			updated_at = NOW()
		 WHERE id = $4
		   AND ($3::timestamptz IS NULL OR last_event_at IS NULL OR last_event_at <= $3::timestamptz)`,
		status, string(plan), nullTime(occurredAt), id,
	)
	if err != nil {
		return false, fmt.Errorf("postgres: updating subscription %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return true, nil
	}
	if _, err := db.GetSubscription(ctx, id); err != nil {
		return false, err
	}
	return false, nil
}

func (db *DB) SetSubscriptionOwner(ctx context.Context, subscriptionID, userID string) error {
	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO subscription_owners (subscription_id, user_id) VALUES ($1, $2)
		 ON CONFLICT (subscription_id) DO UPDATE SET user_id = EXCLUDED.user_id`,
		subscriptionID, userID,
	)
	if err != nil {
		return fmt.Errorf("postgres: indexing subscription %s: %w", subscriptionID, err)
	}
	return nil
}

func (db *DB) GetSubscriptionOwner(ctx context.Context, subscriptionID string) (string, error) {
	var userID string
	err := db.conn.QueryRowContext(ctx,
		`SELECT user_id FROM subscription_owners WHERE subscription_id = $1`, subscriptionID,
	).Scan(&userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", apperror.NotFound("subscription owner", subscriptionID)
		}
		return "", fmt.Errorf("postgres: looking up owner of %s: %w", subscriptionID, err)
	}
	return userID, nil
}

// ==================== Webhook events ====================

func (db *DB) ClaimEvent(ctx context.Context, event *model.WebhookEvent) (bool, error) {
	if event.ReceivedAt.IsZero() {
		event.ReceivedAt = time.Now().UTC()
	}
	res, err := db.conn.ExecContext(ctx,
		`INSERT INTO webhook_events (provider, event_id, event_type, received_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (provider, event_id) DO NOTHING`,
		event.Provider, event.EventID, event.EventType, event.ReceivedAt,
	)
	if err != nil {
		return false, fmt.Errorf("postgres: claiming event %s: %w", event.EventID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("postgres: checking rows affected: %w", err)
	}
	return n == 1, nil
}

func (db *DB) ReleaseEvent(ctx context.Context, provider, eventID string) error {
	_, err := db.conn.ExecContext(ctx,
		`DELETE FROM webhook_events WHERE provider = $1 AND event_id = $2`, provider, eventID)
	if err != nil {
		return fmt.Errorf("postgres: releasing event %s: %w", eventID, err)
	}
	return nil
}

// ==================== Reservations ====================

func (db *DB) CreateReservation(ctx context.Context, r *model.Reservation) error {
	now := time.Now().UTC()
	r.CreatedAt = now
	r.UpdatedAt = now
	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO reservations (id, user_id, amount, reason, status, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		r.ID, r.UserID, r.Amount, r.Reason, r.Status, r.CreatedAt, r.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: creating reservation %s: %w", r.ID, err)
	}
	return nil
}

func (db *DB) GetReservation(ctx context.Context, id string) (*model.Reservation, error) {
	var r model.Reservation
	err := db.conn.QueryRowContext(ctx,
		`SELECT id, user_id, amount, reason, status, created_at, updated_at
		 FROM reservations WHERE id = $1`, id,
	).Scan(&r.ID, &r.UserID, &r.Amount, &r.Reason, &r.Status, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("reservation", id)
		}
		return nil, fmt.Errorf("postgres: getting reservation %s: %w", id, err)
	}
	return &r, nil
}

func (db *DB) TransitionReservation(ctx context.Context, id string, from, to model.ReservationStatus) error {
	res, err := db.conn.ExecContext(ctx,
		`UPDATE reservations SET status = $1, updated_at = NOW() WHERE id = $2 AND status = $3`,
		to, id, from,
	)
	if err != nil {
		return fmt.Errorf("postgres: transitioning reservation %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 1 {
		return nil
	}
	if _, err := db.GetReservation(ctx, id); err != nil {
		return err
	}
	return apperror.Conflict("reservation", id)
}
