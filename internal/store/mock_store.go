// ABOUTME: Mock Store implementation for testing
// ABOUTME: Allows tests to run without SQLite

package store

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MockStore is an in-memory Store implementation for testing.
type MockStore struct {
	mu        sync.RWMutex
	messages  map[string][]*Message // keyed by room, insertion order
	users     map[string]*User      // keyed by username
	userOrder []string
	events    []*ScheduledEvent
	pings     map[string]time.Time

	writes  int   // mutating calls, so tests can assert no storage was touched
	pingErr error // returned by Ping and ClaimNextDue when set

	Now func() time.Time
}

var _ Store = (*MockStore)(nil)

// NewMockStore creates a new MockStore.
func NewMockStore() *MockStore {
	return &MockStore{
		messages: make(map[string][]*Message),
		users:    make(map[string]*User),
		pings:    make(map[string]time.Time),
		Now:      time.Now,
	}
}

// AppendMessage stores a copy of msg.
func (m *MockStore) AppendMessage(ctx context.Context, msg *Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	if msg.Timestamp == 0 {
		msg.Timestamp = m.Now().UnixMilli()
	}
	cp := *msg
	cp.Buttons = append([]Button(nil), msg.Buttons...)
	m.messages[msg.Room] = append(m.messages[msg.Room], &cp)
	m.writes++
	return nil
}

// RoomMessagesSince returns messages newer than from, ordered by timestamp then insertion.
func (m *MockStore) RoomMessagesSince(ctx context.Context, room string, from int64) ([]*Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*Message
	for _, msg := range m.messages[room] {
		if msg.Timestamp > from {
			cp := *msg
			out = append(out, &cp)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp < out[j].Timestamp
	})
	return out, nil
}

// ListRooms returns rooms with messages, sorted.
func (m *MockStore) ListRooms(ctx context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rooms := make([]string, 0, len(m.messages))
	for room := range m.messages {
		rooms = append(rooms, room)
	}
	sort.Strings(rooms)
	return rooms, nil
}

// CreateUserWithProfile stores a user.
func (m *MockStore) CreateUserWithProfile(ctx context.Context, user *User) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.users[user.Username]; ok {
		return ErrDuplicate
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = m.Now()
	}
	m.users[user.Username] = copyUser(user)
	m.userOrder = append(m.userOrder, user.Username)
	m.writes++
	return nil
}

// EnsureUser returns the stored user or creates it.
func (m *MockStore) EnsureUser(ctx context.Context, user *User) (*User, error) {
	existing, err := m.GetUser(ctx, user.Username)
	if err == nil {
		return existing, nil
	}
	if err := m.CreateUserWithProfile(ctx, user); err != nil && !errors.Is(err, ErrDuplicate) {
		return nil, err
	}
	return m.GetUser(ctx, user.Username)
}

// GetUser retrieves a user by username.
func (m *MockStore) GetUser(ctx context.Context, username string) (*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	u, ok := m.users[username]
	if !ok {
		return nil, ErrNotFound
	}
	return copyUser(u), nil
}

// GetUserBySubID finds a user by subject id.
func (m *MockStore) GetUserBySubID(ctx context.Context, subID string) (*User, error) {
	return m.findUser(func(u *User) bool { return subID != "" && u.SubID == subID })
}

// GetUserByPushID finds a user by push id.
func (m *MockStore) GetUserByPushID(ctx context.Context, pushID string) (*User, error) {
	return m.findUser(func(u *User) bool { return pushID != "" && u.PushID == pushID })
}

func (m *MockStore) findUser(match func(*User) bool) (*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, name := range m.userOrder {
		if u := m.users[name]; match(u) {
			return copyUser(u), nil
		}
	}
	return nil, ErrNotFound
}

// ListUsers returns users in creation order.
func (m *MockStore) ListUsers(ctx context.Context) ([]*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*User, 0, len(m.userOrder))
	for _, name := range m.userOrder {
		out = append(out, copyUser(m.users[name]))
	}
	return out, nil
}

// SaveProfileConfig stores settings and the completion marker.
func (m *MockStore) SaveProfileConfig(ctx context.Context, username string, cfg Settings, completedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.users[username]
	if !ok {
		return ErrNotFound
	}
	u.Config = cfg.Clone()
	at := completedAt
	u.ConfigCompletedAt = &at
	m.writes++
	return nil
}

// SetPushID updates a user's push id.
func (m *MockStore) SetPushID(ctx context.Context, username, pushID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.users[username]
	if !ok {
		return ErrNotFound
	}
	u.PushID = pushID
	m.writes++
	return nil
}

// CreateEvent stores a scheduled event.
func (m *MockStore) CreateEvent(ctx context.Context, event *ScheduledEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = m.Now()
	}
	event.RunAt = event.RunAt.UTC().Truncate(time.Second)
	cp := *event
	m.events = append(m.events, &cp)
	m.writes++
	return nil
}

// ListPendingEvents returns events ordered by run_at then insertion.
func (m *MockStore) ListPendingEvents(ctx context.Context) ([]*ScheduledEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*ScheduledEvent, 0, len(m.events))
	for _, e := range m.events {
		cp := *e
		out = append(out, &cp)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].RunAt.Before(out[j].RunAt) })
	return out, nil
}

// DeleteEvents removes matching events.
func (m *MockStore) DeleteEvents(ctx context.Context, task, conversation, username string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var n int64
	kept := m.events[:0]
	for _, e := range m.events {
		if e.Task == task && e.Conversation == conversation && e.Username == username {
			n++
			continue
		}
		kept = append(kept, e)
	}
	m.events = kept
	m.writes++
	return n, nil
}

// ClaimNextDue locks the earliest due event.
func (m *MockStore) ClaimNextDue(ctx context.Context, now time.Time, lockTimeout time.Duration) (*ScheduledEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.pingErr != nil {
		return nil, m.pingErr
	}

	var next *ScheduledEvent
	for _, e := range m.events {
		if e.RunAt.After(now) {
			continue
		}
		if e.LockedAt != nil && !e.LockedAt.Before(now.Add(-lockTimeout)) {
			continue
		}
		if next == nil || e.RunAt.Before(next.RunAt) {
			next = e
		}
	}
	if next == nil {
		return nil, ErrNotFound
	}
	locked := now
	next.LockedAt = &locked
	cp := *next
	return &cp, nil
}

// CompleteEvent deletes an event by id.
func (m *MockStore) CompleteEvent(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i, e := range m.events {
		if e.ID == id {
			m.events = append(m.events[:i], m.events[i+1:]...)
			return nil
		}
	}
	return ErrNotFound
}

// AddWebPing sets a ping marker.
func (m *MockStore) AddWebPing(ctx context.Context, username string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.pings[username]; !ok {
		m.pings[username] = m.Now()
	}
	return nil
}

// ConsumeWebPing removes a ping marker, reporting whether it existed.
func (m *MockStore) ConsumeWebPing(ctx context.Context, username string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, ok := m.pings[username]
	delete(m.pings, username)
	return ok, nil
}

// Ping returns the error set by SetPingErr.
func (m *MockStore) Ping(ctx context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.pingErr
}

// SetPingErr makes Ping and ClaimNextDue fail, simulating a lost database.
func (m *MockStore) SetPingErr(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pingErr = err
}

// WriteCount returns the number of mutating calls so far.
func (m *MockStore) WriteCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.writes
}

// Close is a no-op.
func (m *MockStore) Close() error {
	return nil
}

func copyUser(u *User) *User {
	cp := *u
	cp.Config = u.Config.Clone()
	if u.ConfigCompletedAt != nil {
		at := *u.ConfigCompletedAt
		cp.ConfigCompletedAt = &at
	}
	return &cp
}
