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

const userColumns = `id, provider, email, name, credits, subscription_id,
	subscription_status, subscription_plan, created_at, updated_at`

// Upsert inserts a new user or refreshes the profile of an existing one.
//
// ON CONFLICT DO UPDATE only touches the profile columns. Credits and the
// subscription mirror belong to the ledger and the reconciler, a login must
// never reset them. user.Credits is only used as the opening balance.
func (db *DB) Upsert(ctx context.Context, user *model.User) error {
	now := time.Now().UTC()
	status := user.SubscriptionStatus
	if status == "" {
		status = model.StatusNone
	}

	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO users (id, provider, email, name, credits, subscription_status, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			provider = excluded.provider,
			email = excluded.email,
			name = excluded.name,
			updated_at = excluded.updated_at`,
		user.ID, user.Provider, user.Email, user.Name, user.Credits, status, now, now,
	)
	if err != nil {
		return fmt.Errorf("sqlite: upserting user %s: %w", user.ID, err)
	}

	stored, err := db.GetUserByID(ctx, user.ID)
	if err != nil {
		return err
	}
	*user = *stored
	return nil
}

// GetUserByID retrieves a user by id.
// Returns apperror.ErrNotFound if no user exists with that id.
func (db *DB) GetUserByID(ctx context.Context, id string) (*model.User, error) {
	var u model.User
	err := db.conn.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = ?`, id,
	).Scan(
		&u.ID,
		&u.Provider,
		&u.Email,
		&u.Name,
		&u.Credits,
		&u.SubscriptionID,
		&u.SubscriptionStatus,
		&u.SubscriptionPlan,
		&u.CreatedAt,
		&u.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("user", id)
		}
		return nil, fmt.Errorf("sqlite: getting user %s: %w", id, err)
	}
	return &u, nil
}

func (db *DB) SetUserSubscription(ctx context.Context, userID, subscriptionID string, status model.SubscriptionStatus, plan model.PlanID) error {
	res, err := db.conn.ExecContext(ctx,
		`UPDATE users
		 SET subscription_id = ?, subscription_status = ?, subscription_plan = ?, updated_at = ?
		 WHERE id = ?`,
		subscriptionID, status, plan, time.Now().UTC(), userID,
	)
	if err != nil {
		return fmt.Errorf("sqlite: updating subscription of user %s: %w", userID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: checking rows affected: %w", err)
	}
	if n == 0 {
		return apperror.NotFound("user", userID)
	}
	return nil
}
