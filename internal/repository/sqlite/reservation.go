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

func (db *DB) CreateReservation(ctx context.Context, r *model.Reservation) error {
	now := time.Now().UTC()
	r.CreatedAt = now
	r.UpdatedAt = now

	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO reservations (id, user_id, amount, reason, status, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.UserID, r.Amount, r.Reason, r.Status, r.CreatedAt, r.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("sqlite: creating reservation %s: %w", r.ID, err)
	}
	return nil
}

func (db *DB) GetReservation(ctx context.Context, id string) (*model.Reservation, error) {
	var r model.Reservation
	err := db.conn.QueryRowContext(ctx,
		`SELECT id, user_id, amount, reason, status, created_at, updated_at
		 FROM reservations WHERE id = ?`, id,
	).Scan(&r.ID, &r.UserID, &r.Amount, &r.Reason, &r.Status, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("reservation", id)
		}
		return nil, fmt.Errorf("sqlite: getting reservation %s: %w", id, err)
	}
	return &r, nil
}

// TransitionReservation is a compare-and-set on status.
func (db *DB) TransitionReservation(ctx context.Context, id string, from, to model.ReservationStatus) error {
	res, err := db.conn.ExecContext(ctx,
		`UPDATE reservations SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
		to, time.Now().UTC(), id, from,
	)
	if err != nil {
		return fmt.Errorf("sqlite: transitioning reservation %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: checking rows affected: %w", err)
	}
	if n == 1 {
		return nil
	}

	if _, err := db.GetReservation(ctx, id); err != nil {
		return err
	}
	return apperror.Conflict("reservation", id)
}
