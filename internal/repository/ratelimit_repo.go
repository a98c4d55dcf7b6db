package repository

import (
	"context"
	"fmt"
	"time"

	"usergate/internal/database"
	"usergate/internal/ratelimit"
)

// RatelimitRepository is the durable event log behind the rate limiters
type RatelimitRepository struct {
	db database.Querier
}

var _ ratelimit.Store = (*RatelimitRepository)(nil)

// NewRatelimitRepository creates a new ratelimit repository
func NewRatelimitRepository(db database.Querier) *RatelimitRepository {
	return &RatelimitRepository{db: db}
}

// Log inserts an event
func (r *RatelimitRepository) Log(ctx context.Context, e ratelimit.Event) error {
	query := `INSERT INTO ratelimit_events (name, event_key, occurred_at, expires) VALUES (?, ?, ?, ?)`
	if _, err := r.db.ExecContext(ctx, query, e.Name, e.Key, e.Timestamp.UTC(), e.Expires.UTC()); err != nil {
		return fmt.Errorf("failed to log ratelimit event: %w", err)
	}
	return nil
}

// Unexpired returns the events of (name, key) expiring after now, oldest first
func (r *RatelimitRepository) Unexpired(ctx context.Context, name, key string, now time.Time) ([]ratelimit.Event, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT name, event_key, occurred_at, expires
		FROM ratelimit_events
		WHERE name = ? AND event_key = ? AND expires > ?
		ORDER BY occurred_at, id
	`, name, key, now.UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to query ratelimit events: %w", err)
	}
	defer rows.Close()

	var events []ratelimit.Event
	for rows.Next() {
		var e ratelimit.Event
		if err := rows.Scan(&e.Name, &e.Key, &e.Timestamp, &e.Expires); err != nil {
			return nil, fmt.Errorf("failed to scan ratelimit event: %w", err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// Purge deletes expired events
func (r *RatelimitRepository) Purge(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM ratelimit_events WHERE expires <= ?`, now.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to purge ratelimit events: %w", err)
	}
	return res.RowsAffected()
}
