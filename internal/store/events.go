// ABOUTME: Scheduled conversation event store for the task runner
// ABOUTME: Pending events are claimed with a lock timestamp, completed events are deleted

package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// run_at and locked_at are stored as second-precision RFC3339 UTC strings,
// which sort lexicographically in time order.
func formatEventTime(t time.Time) string {
	return t.UTC().Truncate(time.Second).Format(time.RFC3339)
}

// CreateEvent inserts a pending scheduled event. It never deduplicates.
func (s *SQLiteStore) CreateEvent(ctx context.Context, event *ScheduledEvent) error {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = s.now()
	}
	event.RunAt = event.RunAt.UTC().Truncate(time.Second)

	query := `
		INSERT INTO scheduled_events (id, task, conversation, username, run_at, created_at, locked_at)
		VALUES (?, ?, ?, ?, ?, ?, NULL)
	`
	_, err := s.db.ExecContext(ctx, query,
		event.ID,
		event.Task,
		event.Conversation,
		event.Username,
		formatEventTime(event.RunAt),
		event.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("inserting scheduled event: %w", err)
	}

	s.logger.Debug("created scheduled event",
		"event_id", event.ID,
		"task", event.Task,
		"conversation", event.Conversation,
		"username", event.Username,
		"run_at", event.RunAt,
	)
	return nil
}

// ListPendingEvents returns all events that have not completed, soonest first.
func (s *SQLiteStore) ListPendingEvents(ctx context.Context) ([]*ScheduledEvent, error) {
	query := `
		SELECT id, task, conversation, username, run_at, created_at, locked_at
		FROM scheduled_events
		ORDER BY run_at ASC, rowid ASC
	`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("querying scheduled events: %w", err)
	}
	defer rows.Close()

	var events []*ScheduledEvent
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating scheduled event rows: %w", err)
	}
	return events, nil
}

// DeleteEvents removes every pending event matching task, conversation and username.
// Returns the number of events removed.
func (s *SQLiteStore) DeleteEvents(ctx context.Context, task, conversation, username string) (int64, error) {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM scheduled_events
		WHERE task = ? AND conversation = ? AND username = ?
	`, task, conversation, username)
	if err != nil {
		return 0, fmt.Errorf("deleting scheduled events: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("getting rows affected: %w", err)
	}

	s.logger.Debug("deleted scheduled events", "conversation", conversation, "username", username, "count", n)
	return n, nil
}

// ClaimNextDue locks and returns the earliest event with run_at <= now.
// Events locked longer than lockTimeout ago are considered abandoned and
// may be claimed again. Returns ErrNotFound when nothing is due.
func (s *SQLiteStore) ClaimNextDue(ctx context.Context, now time.Time, lockTimeout time.Duration) (*ScheduledEvent, error) {
	nowStr := formatEventTime(now)
	staleStr := formatEventTime(now.Add(-lockTimeout))

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	row := tx.QueryRowContext(ctx, `
		SELECT id, task, conversation, username, run_at, created_at, locked_at
		FROM scheduled_events
		WHERE run_at <= ? AND (locked_at IS NULL OR locked_at < ?)
		ORDER BY run_at ASC, rowid ASC
		LIMIT 1
	`, nowStr, staleStr)

	event, err := scanEvent(row)
	if err != nil {
		return nil, err
	}

	if event.LockedAt != nil {
		s.logger.Warn("reclaiming abandoned scheduled event", "event_id", event.ID, "locked_at", *event.LockedAt)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE scheduled_events SET locked_at = ? WHERE id = ?`, nowStr, event.ID,
	); err != nil {
		return nil, fmt.Errorf("locking scheduled event: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing claim: %w", err)
	}

	locked := now.UTC().Truncate(time.Second)
	event.LockedAt = &locked
	return event, nil
}

// CompleteEvent removes a fired event.
func (s *SQLiteStore) CompleteEvent(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM scheduled_events WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("completing scheduled event: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func scanEvent(row rowScanner) (*ScheduledEvent, error) {
	var e ScheduledEvent
	var runAt, createdAt string
	var lockedAt sql.NullString

	err := row.Scan(
		&e.ID,
		&e.Task,
		&e.Conversation,
		&e.Username,
		&runAt,
		&createdAt,
		&lockedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning scheduled event: %w", err)
	}

	e.RunAt, err = time.Parse(time.RFC3339, runAt)
	if err != nil {
		return nil, fmt.Errorf("parsing run_at: %w", err)
	}
	e.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	e.LockedAt, err = parseNullTime(lockedAt)
	if err != nil {
		return nil, fmt.Errorf("parsing locked_at: %w", err)
	}

	return &e, nil
}
