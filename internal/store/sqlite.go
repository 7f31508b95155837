// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Provides message log persistence with automatic schema creation and migrations

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
	now    func() time.Time
}

// Compile-time check that SQLiteStore implements Store
var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	// Pragmas in the DSN apply to every pooled connection
	db, err := sql.Open("sqlite", path+"?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
		now:    time.Now,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS messages (
			seq       INTEGER PRIMARY KEY AUTOINCREMENT,
			id        TEXT NOT NULL UNIQUE,
			room      TEXT NOT NULL,
			sender    TEXT NOT NULL,
			text      TEXT NOT NULL,
			buttons   TEXT,
			timestamp INTEGER NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_messages_room_timestamp
			ON messages(room, timestamp, seq);

		CREATE TABLE IF NOT EXISTS users (
			username   TEXT PRIMARY KEY,
			first_name TEXT NOT NULL DEFAULT '',
			last_name  TEXT NOT NULL DEFAULT '',
			email      TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS profiles (
			username TEXT PRIMARY KEY,
			sub_id   TEXT,
			push_id  TEXT,
			config   TEXT,
			FOREIGN KEY (username) REFERENCES users(username) ON DELETE CASCADE
		);

		CREATE INDEX IF NOT EXISTS idx_profiles_sub_id ON profiles(sub_id);
		CREATE INDEX IF NOT EXISTS idx_profiles_push_id ON profiles(push_id);

		CREATE TABLE IF NOT EXISTS scheduled_events (
			id           TEXT PRIMARY KEY,
			task         TEXT NOT NULL,
			conversation TEXT NOT NULL,
			username     TEXT NOT NULL DEFAULT '',
			run_at       TEXT NOT NULL,
			created_at   TEXT NOT NULL,
			locked_at    TEXT,

			CHECK (task IN ('start_conversation', 'schedule_conversation'))
		);

		CREATE INDEX IF NOT EXISTS idx_scheduled_events_run_at ON scheduled_events(run_at);
		CREATE INDEX IF NOT EXISTS idx_scheduled_events_match
			ON scheduled_events(task, conversation, username);

		CREATE TABLE IF NOT EXISTS web_pings (
			username   TEXT PRIMARY KEY,
			created_at TEXT NOT NULL
		);
	`

	_, err := s.db.Exec(schema)
	return err
}

// runMigrations adds columns introduced after the initial schema
func (s *SQLiteStore) runMigrations() error {
	migrations := []struct {
		table  string
		column string
		apply  string
	}{
		{
			table:  "messages",
			column: "style",
			apply:  `ALTER TABLE messages ADD COLUMN style TEXT NOT NULL DEFAULT ''`,
		},
		{
			table:  "profiles",
			column: "config_completed_at",
			apply:  `ALTER TABLE profiles ADD COLUMN config_completed_at TEXT`,
		},
	}

	for _, m := range migrations {
		var exists int
		err := s.db.QueryRow(
			`SELECT 1 FROM pragma_table_info(?) WHERE name = ?`, m.table, m.column,
		).Scan(&exists)
		if err == nil {
			continue
		}
		if _, err := s.db.Exec(m.apply); err != nil {
			return fmt.Errorf("adding %s column to %s: %w", m.column, m.table, err)
		}
		s.logger.Info("applied migration", "column", m.column, "table", m.table)
	}

	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing SQLite store")
	return s.db.Close()
}

// Ping checks that the database answers queries
func (s *SQLiteStore) Ping(ctx context.Context) error {
	var one int
	if err := s.db.QueryRowContext(ctx, "SELECT 1").Scan(&one); err != nil {
		return fmt.Errorf("pinging database: %w", err)
	}
	return nil
}

// isConstraintViolation checks if the error is a SQLite UNIQUE constraint violation
func isConstraintViolation(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "UNIQUE constraint failed") ||
		strings.Contains(errStr, "constraint failed")
}

// AppendMessage adds a message to its room's log.
// ID and Timestamp are filled in when empty.
func (s *SQLiteStore) AppendMessage(ctx context.Context, msg *Message) error {
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	if msg.Timestamp == 0 {
		msg.Timestamp = s.now().UnixMilli()
	}

	var buttons sql.NullString
	if len(msg.Buttons) > 0 {
		data, err := json.Marshal(msg.Buttons)
		if err != nil {
			return fmt.Errorf("encoding buttons: %w", err)
		}
		buttons = sql.NullString{String: string(data), Valid: true}
	}

	query := `
		INSERT INTO messages (id, room, sender, text, buttons, timestamp, style)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query,
		msg.ID,
		msg.Room,
		msg.Sender,
		msg.Text,
		buttons,
		msg.Timestamp,
		msg.Style,
	)
	if err != nil {
		return fmt.Errorf("inserting message: %w", err)
	}

	s.logger.Debug("appended message", "room", msg.Room, "sender", msg.Sender, "id", msg.ID)
	return nil
}

// RoomMessagesSince returns messages in room with timestamp strictly greater
// than from, oldest first. Equal timestamps keep insertion order.
func (s *SQLiteStore) RoomMessagesSince(ctx context.Context, room string, from int64) ([]*Message, error) {
	query := `
		SELECT id, room, sender, text, buttons, timestamp, style
		FROM messages
		WHERE room = ? AND timestamp > ?
		ORDER BY timestamp ASC, seq ASC
	`

	rows, err := s.db.QueryContext(ctx, query, room, from)
	if err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}
	defer rows.Close()

	var messages []*Message
	for rows.Next() {
		var msg Message
		var buttons sql.NullString

		if err := rows.Scan(
			&msg.ID,
			&msg.Room,
			&msg.Sender,
			&msg.Text,
			&buttons,
			&msg.Timestamp,
			&msg.Style,
		); err != nil {
			return nil, fmt.Errorf("scanning message row: %w", err)
		}

		if buttons.Valid && buttons.String != "" {
			if err := json.Unmarshal([]byte(buttons.String), &msg.Buttons); err != nil {
				return nil, fmt.Errorf("decoding buttons for message %s: %w", msg.ID, err)
			}
		}

		messages = append(messages, &msg)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating message rows: %w", err)
	}

	return messages, nil
}

// ListRooms returns every room that has at least one message, sorted by name
func (s *SQLiteStore) ListRooms(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT room FROM messages ORDER BY room`)
	if err != nil {
		return nil, fmt.Errorf("querying rooms: %w", err)
	}
	defer rows.Close()

	var rooms []string
	for rows.Next() {
		var room string
		if err := rows.Scan(&room); err != nil {
			return nil, fmt.Errorf("scanning room: %w", err)
		}
		rooms = append(rooms, room)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating rooms: %w", err)
	}
	return rooms, nil
}

// AddWebPing marks that username has something new to fetch.
// Adding an existing marker is a no-op.
func (s *SQLiteStore) AddWebPing(ctx context.Context, username string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO web_pings (username, created_at) VALUES (?, ?)`,
		username, s.now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("adding web ping: %w", err)
	}
	return nil
}

// ConsumeWebPing deletes the marker for username and reports whether one existed.
// Two concurrent consumers never both see true.
func (s *SQLiteStore) ConsumeWebPing(ctx context.Context, username string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM web_pings WHERE username = ?`, username)
	if err != nil {
		return false, fmt.Errorf("consuming web ping: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("getting rows affected: %w", err)
	}
	return n > 0, nil
}

// nullString converts an empty string to sql.NullString{Valid: false}
func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// nullTime formats t as RFC3339, or NULL when t is nil
func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(time.RFC3339), Valid: true}
}

// parseNullTime parses an optional RFC3339 column
func parseNullTime(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
