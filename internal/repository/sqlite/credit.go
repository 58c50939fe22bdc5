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

func (db *DB) GetCredits(ctx context.Context, userID string) (int64, error) {
	var credits int64
	err := db.conn.QueryRowContext(ctx,
		`SELECT credits FROM users WHERE id = ?`, userID,
	).Scan(&credits)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, apperror.NotFound("user", userID)
		}
		return 0, fmt.Errorf("sqlite: getting credits of %s: %w", userID, err)
	}
	return credits, nil
}

// AddCredits applies delta in one statement.
//
// The WHERE clause is the whole concurrency story: the row only changes if
// the result stays non-negative, and SQLite evaluates the condition and the
// write together. No rows back means either no user or not enough credits,
// a second read tells the two apart for the error.
func (db *DB) AddCredits(ctx context.Context, userID string, delta int64) (int64, error) {
	var balance int64
	err := db.conn.QueryRowContext(ctx,
		`UPDATE users SET credits = credits + ?, updated_at = ?
		 WHERE id = ? AND credits + ? >= 0
		 RETURNING credits`,
		delta, time.Now().UTC(), userID, delta,
	).Scan(&balance)
	if err == nil {
		return balance, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("sqlite: adding %d credits to %s: %w", delta, userID, err)
	}

	current, err := db.GetCredits(ctx, userID)
	if err != nil {
		return 0, err
	}
	return 0, apperror.InsufficientCredits(current, -delta)
}

// AppendTransaction inserts tx and trims the user's history to keep rows.
func (db *DB) AppendTransaction(ctx context.Context, tx *model.CreditTransaction, keep int) error {
	sqlTx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: beginning transaction: %w", err)
	}
	defer sqlTx.Rollback()

	_, err = sqlTx.ExecContext(ctx,
		`INSERT INTO credit_transactions (id, user_id, type, amount, reason, balance, timestamp)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		tx.ID, tx.UserID, tx.Type, tx.Amount, tx.Reason, tx.Balance, tx.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("sqlite: inserting credit transaction %s: %w", tx.ID, err)
	}

	if keep > 0 {
		_, err = sqlTx.ExecContext(ctx,
			`DELETE FROM credit_transactions
			 WHERE user_id = ? AND seq NOT IN (
				SELECT seq FROM credit_transactions
				WHERE user_id = ? ORDER BY seq DESC LIMIT ?
			 )`,
			tx.UserID, tx.UserID, keep,
		)
		if err != nil {
			return fmt.Errorf("sqlite: trimming history of %s: %w", tx.UserID, err)
		}
	}

	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("sqlite: committing credit transaction: %w", err)
	}
	return nil
}

func (db *DB) ListTransactions(ctx context.Context, userID string, limit int) ([]model.CreditTransaction, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT id, user_id, type, amount, reason, balance, timestamp
		 FROM credit_transactions
		 WHERE user_id = ?
		 ORDER BY seq DESC
		 LIMIT ?`,
		userID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing transactions of %s: %w", userID, err)
	}
	defer rows.Close()

	var txs []model.CreditTransaction
	for rows.Next() {
		var tx model.CreditTransaction
		if err := rows.Scan(&tx.ID, &tx.UserID, &tx.Type, &tx.Amount, &tx.Reason, &tx.Balance, &tx.Timestamp); err != nil {
			return nil, fmt.Errorf("sqlite: scanning transaction: %w", err)
		}
		txs = append(txs, tx)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterating transactions: %w", err)
	}
	return txs, nil
}
