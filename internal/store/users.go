// ABOUTME: User and profile persistence for the SQLite store
// ABOUTME: Users and their profiles are always created together in one transaction

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

const userColumns = `
	u.username, u.first_name, u.last_name, u.email, u.created_at,
	p.sub_id, p.push_id, p.config, p.config_completed_at
`

const userFrom = `
	FROM users u
	LEFT JOIN profiles p ON p.username = u.username
`

// CreateUserWithProfile inserts a user and its profile atomically.
// Returns ErrDuplicate if the username is taken.
func (s *SQLiteStore) CreateUserWithProfile(ctx context.Context, user *User) error {
	if user.CreatedAt.IsZero() {
		user.CreatedAt = s.now()
	}

	cfg, err := encodeSettings(user.Config)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	_, err = tx.ExecContext(ctx, `
		INSERT INTO users (username, first_name, last_name, email, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, user.Username, user.FirstName, user.LastName, user.Email,
		user.CreatedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		if isConstraintViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("inserting user: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO profiles (username, sub_id, push_id, config, config_completed_at)
		VALUES (?, ?, ?, ?, ?)
	`, user.Username, nullString(user.SubID), nullString(user.PushID), cfg, nullTime(user.ConfigCompletedAt))
	if err != nil {
		return fmt.Errorf("inserting profile: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing user: %w", err)
	}

	s.logger.Debug("created user", "username", user.Username)
	return nil
}

// EnsureUser returns the stored user, creating it from the given template when absent.
func (s *SQLiteStore) EnsureUser(ctx context.Context, user *User) (*User, error) {
	existing, err := s.GetUser(ctx, user.Username)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	err = s.CreateUserWithProfile(ctx, user)
	if errors.Is(err, ErrDuplicate) {
		// Lost a creation race; the winner's row is authoritative
		return s.GetUser(ctx, user.Username)
	}
	if err != nil {
		return nil, err
	}
	return s.GetUser(ctx, user.Username)
}

// GetUser retrieves a user with its profile by username.
func (s *SQLiteStore) GetUser(ctx context.Context, username string) (*User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userColumns+userFrom+` WHERE u.username = ?`, username)
	return scanUser(row)
}

// GetUserBySubID retrieves the user whose profile carries the given subject id.
func (s *SQLiteStore) GetUserBySubID(ctx context.Context, subID string) (*User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userColumns+userFrom+` WHERE p.sub_id = ? LIMIT 1`, subID)
	return scanUser(row)
}

// GetUserByPushID retrieves the user whose profile carries the given push id.
func (s *SQLiteStore) GetUserByPushID(ctx context.Context, pushID string) (*User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userColumns+userFrom+` WHERE p.push_id = ? LIMIT 1`, pushID)
	return scanUser(row)
}

// ListUsers returns all users in creation order.
func (s *SQLiteStore) ListUsers(ctx context.Context) ([]*User, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+userColumns+userFrom+` ORDER BY u.rowid ASC`)
	if err != nil {
		return nil, fmt.Errorf("querying users: %w", err)
	}
	defer rows.Close()

	var users []*User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating user rows: %w", err)
	}
	return users, nil
}

// SaveProfileConfig stores the user's settings and marks config complete.
func (s *SQLiteStore) SaveProfileConfig(ctx context.Context, username string, cfg Settings, completedAt time.Time) error {
	encoded, err := encodeSettings(cfg)
	if err != nil {
		return err
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE profiles SET config = ?, config_completed_at = ? WHERE username = ?
	`, encoded, completedAt.UTC().Format(time.RFC3339), username)
	if err != nil {
		return fmt.Errorf("updating profile config: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}

	s.logger.Debug("saved profile config", "username", username)
	return nil
}

// SetPushID updates the push target id for a user.
func (s *SQLiteStore) SetPushID(ctx context.Context, username, pushID string) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE profiles SET push_id = ? WHERE username = ?`, nullString(pushID), username)
	if err != nil {
		return fmt.Errorf("updating push id: %w", err)
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

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*User, error) {
	var u User
	var createdAt string
	var subID, pushID, cfg, completedAt sql.NullString

	err := row.Scan(
		&u.Username,
		&u.FirstName,
		&u.LastName,
		&u.Email,
		&createdAt,
		&subID,
		&pushID,
		&cfg,
		&completedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning user: %w", err)
	}

	u.SubID = subID.String
	u.PushID = pushID.String

	u.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}

	u.ConfigCompletedAt, err = parseNullTime(completedAt)
	if err != nil {
		return nil, fmt.Errorf("parsing config_completed_at: %w", err)
	}

	if cfg.Valid && cfg.String != "" {
		if err := json.Unmarshal([]byte(cfg.String), &u.Config); err != nil {
			return nil, fmt.Errorf("decoding profile config: %w", err)
		}
	}

	return &u, nil
}

func encodeSettings(cfg Settings) (sql.NullString, error) {
	if cfg == nil {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(cfg)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("encoding settings: %w", err)
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}
