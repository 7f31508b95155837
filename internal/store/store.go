// ABOUTME: Store interface and data types for parley persistence
// ABOUTME: Defines Message, User, ScheduledEvent structs and the Store interface

package store

import (
	"context"
	"errors"
	"strings"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrDuplicate is returned when trying to create a user that already exists
var ErrDuplicate = errors.New("already exists")

// Message styles. A style is the color tag wrapped around bot text.
const (
	StyleNone     = ""
	StyleOptional = "blue"
	StyleRequired = "darkgreen"
	StyleSystem   = "black"
)

// Button is a quick-reply attached to a bot message
type Button struct {
	Title   string `json:"title"`
	Payload string `json:"payload"`
}

// Message is a single immutable entry in a room's log.
// Timestamp is Unix milliseconds.
type Message struct {
	ID        string
	Room      string
	Sender    string
	Text      string
	Buttons   []Button
	Timestamp int64
	Style     string
}

// Settings is a user's submitted configuration, keyed by field name.
// A nil value means the field was sent but not answered.
type Settings map[string]*string

// Equal reports whether two settings maps carry identical values.
func (s Settings) Equal(other Settings) bool {
	if len(s) != len(other) {
		return false
	}
	for k, v := range s {
		o, ok := other[k]
		if !ok {
			return false
		}
		if (v == nil) != (o == nil) {
			return false
		}
		if v != nil && *v != *o {
			return false
		}
	}
	return true
}

// Get returns the value for key, or "" when absent or nil.
func (s Settings) Get(key string) string {
	if v, ok := s[key]; ok && v != nil {
		return *v
	}
	return ""
}

// Clone returns a deep copy.
func (s Settings) Clone() Settings {
	if s == nil {
		return nil
	}
	out := make(Settings, len(s))
	for k, v := range s {
		if v == nil {
			out[k] = nil
			continue
		}
		val := *v
		out[k] = &val
	}
	return out
}

// User is an end user together with their profile.
// Username doubles as the user's room id.
type User struct {
	Username          string
	FirstName         string
	LastName          string
	Email             string
	SubID             string // identity provider subject
	PushID            string // push target id, empty when unknown
	Config            Settings
	ConfigCompletedAt *time.Time
	CreatedAt         time.Time
}

// FullName joins first and last name. Demo identities carry an institution
// postfix as last name, which is glued on without a space.
func (u *User) FullName() string {
	full := strings.TrimSpace(u.FirstName + " " + u.LastName)
	if strings.Contains(u.LastName, "@") {
		full = strings.ReplaceAll(full, " ", "")
	}
	return full
}

// Task kinds for scheduled events
const (
	TaskStartConversation    = "start_conversation"
	TaskScheduleConversation = "schedule_conversation"
)

// ScheduledEvent is a pending conversation trigger.
// An empty Username on a schedule_conversation event means broadcast.
type ScheduledEvent struct {
	ID           string
	Task         string
	Conversation string
	Username     string
	RunAt        time.Time
	CreatedAt    time.Time
	LockedAt     *time.Time
}

// Store defines the persistence operations parley needs
type Store interface {
	// Message log
	AppendMessage(ctx context.Context, msg *Message) error
	RoomMessagesSince(ctx context.Context, room string, from int64) ([]*Message, error)
	ListRooms(ctx context.Context) ([]string, error)

	// Users and profiles
	CreateUserWithProfile(ctx context.Context, user *User) error
	EnsureUser(ctx context.Context, user *User) (*User, error)
	GetUser(ctx context.Context, username string) (*User, error)
	GetUserBySubID(ctx context.Context, subID string) (*User, error)
	GetUserByPushID(ctx context.Context, pushID string) (*User, error)
	ListUsers(ctx context.Context) ([]*User, error)
	SaveProfileConfig(ctx context.Context, username string, cfg Settings, completedAt time.Time) error
	SetPushID(ctx context.Context, username, pushID string) error

	// Scheduled events
	CreateEvent(ctx context.Context, event *ScheduledEvent) error
	ListPendingEvents(ctx context.Context) ([]*ScheduledEvent, error)
	DeleteEvents(ctx context.Context, task, conversation, username string) (int64, error)
	ClaimNextDue(ctx context.Context, now time.Time, lockTimeout time.Duration) (*ScheduledEvent, error)
	CompleteEvent(ctx context.Context, id string) error

	// Web ping markers
	AddWebPing(ctx context.Context, username string) error
	ConsumeWebPing(ctx context.Context, username string) (bool, error)

	// Ping checks that the storage backend is reachable
	Ping(ctx context.Context) error

	// Close releases any resources held by the store
	Close() error
}
