package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/sakif/resize-credits/internal/model"
)

// ClaimEvent relies on the (provider, event_id) primary key. DO NOTHING turns
// a duplicate into zero affected rows instead of an error.
func (db *DB) ClaimEvent(ctx context.Context, event *model.WebhookEvent) (bool, error) {
	if event.ReceivedAt.IsZero() {
		event.ReceivedAt = time.Now().UTC()
	}
	res, err := db.conn.ExecContext(ctx,
		`INSERT INTO webhook_events (provider, event_id, event_type, received_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(provider, event_id) DO NOTHING`,
		event.Provider, event.EventID, event.EventType, event.ReceivedAt,
	)
	if err != nil {
		return false, fmt.Errorf("sqlite: claiming event %s: %w", event.EventID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("sqlite: checking rows affected: %w", err)
	}
	return n == 1, nil
}

func (db *DB) ReleaseEvent(ctx context.Context, provider, eventID string) error {
	_, err := db.conn.ExecContext(ctx,
		`DELETE FROM webhook_events WHERE provider = ? AND event_id = ?`,
		provider, eventID,
	)
	if err != nil {
		return fmt.Errorf("sqlite: releasing event %s: %w", eventID, err)
	}
	return nil
}
