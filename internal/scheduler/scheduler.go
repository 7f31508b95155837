// ABOUTME: Conversation scheduler: schedule, cancel, fan out and fire conversation triggers
// ABOUTME: Fired events become synthetic user turns handed to the dialogue bridge

package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/2389/parley/internal/chat"
	"github.com/2389/parley/internal/metrics"
	"github.com/2389/parley/internal/onboarding"
	"github.com/2389/parley/internal/store"
)

// ErrUnknownTask is returned when an event carries a task kind the scheduler
// does not execute.
var ErrUnknownTask = errors.New("unknown task")

// Store is the subset of store.Store the scheduler needs
type Store interface {
	GetUser(ctx context.Context, username string) (*store.User, error)
	ListUsers(ctx context.Context) ([]*store.User, error)
	CreateEvent(ctx context.Context, event *store.ScheduledEvent) error
	ListPendingEvents(ctx context.Context) ([]*store.ScheduledEvent, error)
	DeleteEvents(ctx context.Context, task, conversation, username string) (int64, error)
}

// Bridge starts conversations with the dialogue engine
type Bridge interface {
	Converse(ctx context.Context, req chat.ConverseRequest) int
	SetNames(ctx context.Context, user *store.User, language string)
}

// Options configures a Scheduler
type Options struct {
	// Stagger spaces broadcast triggers per scheduled user
	Stagger time.Duration
}

// Scheduler manages scheduled conversation events
type Scheduler struct {
	store  Store
	bridge Bridge
	audit  chat.Auditor
	opts   Options
	logger *slog.Logger

	// reconcileMu serializes Reconcile between the periodic job and the file watcher
	reconcileMu sync.Mutex

	now func() time.Time
}

// New creates a Scheduler
func New(st Store, bridge Bridge, audit chat.Auditor, opts Options, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Stagger <= 0 {
		opts.Stagger = 10 * time.Second
	}
	return &Scheduler{
		store:  st,
		bridge: bridge,
		audit:  audit,
		opts:   opts,
		logger: logger.With("component", "scheduler"),
		now:    time.Now,
	}
}

// Schedule inserts a pending start_conversation event. It never deduplicates.
func (s *Scheduler) Schedule(ctx context.Context, conversation, username string, runAt time.Time) (*store.ScheduledEvent, error) {
	event := &store.ScheduledEvent{
		Task:         store.TaskStartConversation,
		Conversation: conversation,
		Username:     username,
		RunAt:        runAt,
	}
	if err := s.store.CreateEvent(ctx, event); err != nil {
		return nil, fmt.Errorf("scheduling %s for %s: %w", conversation, username, err)
	}
	s.logger.Info("conversation scheduled",
		"event_id", event.ID,
		"conversation", conversation,
		"username", username,
		"run_at", event.RunAt,
	)
	return event, nil
}

// Cancel removes every pending start_conversation event for the pair.
func (s *Scheduler) Cancel(ctx context.Context, conversation, username string) (int64, error) {
	n, err := s.store.DeleteEvents(ctx, store.TaskStartConversation, conversation, username)
	if err != nil {
		return 0, fmt.Errorf("cancelling %s for %s: %w", conversation, username, err)
	}
	s.logger.Info("conversation cancelled", "conversation", conversation, "username", username, "removed", n)
	return n, nil
}

// Execute runs a claimed event according to its task kind.
func (s *Scheduler) Execute(ctx context.Context, event *store.ScheduledEvent) error {
	switch event.Task {
	case store.TaskStartConversation:
		return s.Fire(ctx, event.Conversation, event.Username)
	case store.TaskScheduleConversation:
		_, err := s.ScheduleBulk(ctx, event.Conversation, event.Username)
		return err
	default:
		return fmt.Errorf("event %s: %w: %q", event.ID, ErrUnknownTask, event.Task)
	}
}

// Fire starts conversation for username. Users who have not finished
// onboarding are skipped silently.
func (s *Scheduler) Fire(ctx context.Context, conversation, username string) error {
	user, err := s.store.GetUser(ctx, username)
	if err != nil {
		metrics.EventsFired.WithLabelValues(store.TaskStartConversation, "failed").Inc()
		return fmt.Errorf("loading user %s: %w", username, err)
	}

	if user.ConfigCompletedAt == nil {
		metrics.EventsFired.WithLabelValues(store.TaskStartConversation, "dropped").Inc()
		s.logger.Debug("config incomplete, not starting conversation",
			"conversation", conversation,
			"username", username,
		)
		return nil
	}

	language := user.Config.Get(onboarding.FieldLanguage)
	if conversation != chat.RestartConversation {
		s.bridge.SetNames(ctx, user, language)
	}

	s.audit.Append(username, username, conversation, s.now())

	stored := s.bridge.Converse(ctx, chat.ConverseRequest{
		Room:     username,
		Text:     conversation,
		Language: language,
		Notify:   true,
	})
	metrics.EventsFired.WithLabelValues(store.TaskStartConversation, "fired").Inc()
	s.logger.Info("conversation started",
		"conversation", conversation,
		"username", username,
		"utterances", stored,
	)
	return nil
}

// ScheduleBulk schedules conversation for username right away, or, when
// username is empty, for every user with a push id, staggered in creation
// order. Restarts go to every user at once. Returns the number scheduled.
func (s *Scheduler) ScheduleBulk(ctx context.Context, conversation, username string) (int, error) {
	now := s.now()

	if username != "" {
		if _, err := s.store.GetUser(ctx, username); err != nil {
			return 0, fmt.Errorf("loading user %s: %w", username, err)
		}
		if _, err := s.Schedule(ctx, conversation, username, now); err != nil {
			return 0, err
		}
		metrics.EventsFired.WithLabelValues(store.TaskScheduleConversation, "fired").Inc()
		return 1, nil
	}

	users, err := s.store.ListUsers(ctx)
	if err != nil {
		return 0, fmt.Errorf("listing users: %w", err)
	}

	restart := conversation == chat.RestartConversation
	var delay time.Duration
	scheduled := 0
	for _, u := range users {
		if u.PushID == "" && !restart {
			continue
		}
		if !restart {
			delay += s.opts.Stagger
		}
		if _, err := s.Schedule(ctx, conversation, u.Username, now.Add(delay)); err != nil {
			return scheduled, err
		}
		scheduled++
	}

	metrics.EventsFired.WithLabelValues(store.TaskScheduleConversation, "fired").Inc()
	s.logger.Info("broadcast scheduled", "conversation", conversation, "users", scheduled)
	return scheduled, nil
}

type reconcileKey struct {
	conversation string
	runAt        int64
}

func keyOf(conversation string, runAt time.Time) reconcileKey {
	return reconcileKey{conversation: conversation, runAt: runAt.Truncate(time.Second).Unix()}
}

// Reconcile inserts a broadcast event for every future entry whose
// (conversation, run_at) is not already pending. Past entries are dropped.
// Returns the number of events inserted.
func (s *Scheduler) Reconcile(ctx context.Context, entries []Entry, now time.Time) (int, error) {
	s.reconcileMu.Lock()
	defer s.reconcileMu.Unlock()

	pending, err := s.store.ListPendingEvents(ctx)
	if err != nil {
		return 0, fmt.Errorf("listing pending events: %w", err)
	}

	seen := make(map[reconcileKey]struct{}, len(pending))
	for _, e := range pending {
		seen[keyOf(e.Conversation, e.RunAt)] = struct{}{}
	}

	inserted := 0
	for _, entry := range entries {
		if entry.RunAt.Before(now) {
			s.logger.Debug("skipping past schedule entry", "conversation", entry.Conversation, "run_at", entry.RunAt)
			continue
		}
		key := keyOf(entry.Conversation, entry.RunAt)
		if _, ok := seen[key]; ok {
			continue
		}

		event := &store.ScheduledEvent{
			Task:         store.TaskScheduleConversation,
			Conversation: entry.Conversation,
			RunAt:        entry.RunAt,
		}
		if err := s.store.CreateEvent(ctx, event); err != nil {
			return inserted, fmt.Errorf("inserting broadcast %s: %w", entry.Conversation, err)
		}
		seen[key] = struct{}{}
		inserted++
	}

	metrics.ReconcileInserted.Add(float64(inserted))
	if inserted > 0 {
		s.logger.Info("schedule reconciled", "entries", len(entries), "inserted", inserted)
	}
	return inserted, nil
}

// ReconcileFile loads the schedule at path and reconciles it against now.
func (s *Scheduler) ReconcileFile(ctx context.Context, path string) (int, error) {
	entries, err := LoadSchedule(path)
	if err != nil {
		return 0, err
	}
	return s.Reconcile(ctx, entries, s.now())
}
