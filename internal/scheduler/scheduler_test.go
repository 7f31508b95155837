// ABOUTME: Tests for scheduling, cancelling, firing, fan-out and reconciliation
// ABOUTME: Uses MockStore with a recording bridge and a fixed clock

package scheduler

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/parley/internal/chat"
	"github.com/2389/parley/internal/store"
)

type fakeBridge struct {
	mu       sync.Mutex
	turns    []chat.ConverseRequest
	named    []string
	utterNum int
}

func (f *fakeBridge) Converse(ctx context.Context, req chat.ConverseRequest) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.turns = append(f.turns, req)
	return f.utterNum
}

func (f *fakeBridge) SetNames(ctx context.Context, user *store.User, language string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.named = append(f.named, user.Username+":"+language)
}

type auditLine struct {
	Room, Sender, Text string
}

type recordingAudit struct {
	mu    sync.Mutex
	lines []auditLine
}

func (r *recordingAudit) Append(room, sender, text string, at time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lines = append(r.lines, auditLine{Room: room, Sender: sender, Text: text})
}

var fixedNow = time.Date(2026, 10, 1, 9, 0, 0, 0, time.UTC)

func newTestScheduler(t *testing.T, users ...*store.User) (*Scheduler, *store.MockStore, *fakeBridge, *recordingAudit) {
	t.Helper()
	st := store.NewMockStore()
	st.Now = func() time.Time { return fixedNow }
	for _, u := range users {
		require.NoError(t, st.CreateUserWithProfile(context.Background(), u))
	}
	bridge := &fakeBridge{}
	audit := &recordingAudit{}
	s := New(st, bridge, audit, Options{}, nil)
	s.now = func() time.Time { return fixedNow }
	return s, st, bridge, audit
}

func lang(code string) *string { return &code }

func onboarded(username, pushID string) *store.User {
	done := fixedNow.Add(-24 * time.Hour)
	return &store.User{
		Username:          username,
		FirstName:         "Jane",
		LastName:          "Doe",
		PushID:            pushID,
		Config:            store.Settings{"language": lang("NL")},
		ConfigCompletedAt: &done,
	}
}

func pending(t *testing.T, st *store.MockStore) []*store.ScheduledEvent {
	t.Helper()
	events, err := st.ListPendingEvents(context.Background())
	require.NoError(t, err)
	return events
}

func TestScheduleAndCancel(t *testing.T) {
	ctx := context.Background()
	s, st, _, _ := newTestScheduler(t)
	runAt := fixedNow.Add(time.Hour)

	_, err := s.Schedule(ctx, "/request_tam", "a@eur.nl", runAt)
	require.NoError(t, err)
	_, err = s.Schedule(ctx, "/request_tam", "a@eur.nl", runAt.Add(time.Hour))
	require.NoError(t, err)
	_, err = s.Schedule(ctx, "/request_tam", "b@eur.nl", runAt)
	require.NoError(t, err)
	assert.Len(t, pending(t, st), 3, "schedule never deduplicates")

	n, err := s.Cancel(ctx, "/request_tam", "a@eur.nl")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	left := pending(t, st)
	require.Len(t, left, 1)
	assert.Equal(t, "b@eur.nl", left[0].Username)
	assert.Equal(t, store.TaskStartConversation, left[0].Task)
}

func TestFire(t *testing.T) {
	ctx := context.Background()
	s, _, bridge, audit := newTestScheduler(t, onboarded("jd@eur.nl", "p1"))

	require.NoError(t, s.Fire(ctx, "/request_diary_01", "jd@eur.nl"))

	assert.Equal(t, []chat.ConverseRequest{{
		Room: "jd@eur.nl", Text: "/request_diary_01", Language: "NL", Notify: true,
	}}, bridge.turns)
	assert.Equal(t, []string{"jd@eur.nl:NL"}, bridge.named)
	assert.Equal(t, []auditLine{{Room: "jd@eur.nl", Sender: "jd@eur.nl", Text: "/request_diary_01"}}, audit.lines)
}

func TestFire_RestartSkipsNames(t *testing.T) {
	s, _, bridge, _ := newTestScheduler(t, onboarded("jd@eur.nl", ""))

	require.NoError(t, s.Fire(context.Background(), chat.RestartConversation, "jd@eur.nl"))
	assert.Empty(t, bridge.named)
	assert.Len(t, bridge.turns, 1)
}

func TestFire_IncompleteConfigDropsSilently(t *testing.T) {
	s, _, bridge, audit := newTestScheduler(t, &store.User{Username: "new@eur.nl"})

	require.NoError(t, s.Fire(context.Background(), "/request_tam", "new@eur.nl"))
	assert.Empty(t, bridge.turns)
	assert.Empty(t, audit.lines)
}

func TestFire_UnknownUser(t *testing.T) {
	s, _, _, _ := newTestScheduler(t)

	err := s.Fire(context.Background(), "/request_tam", "ghost@eur.nl")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestScheduleBulk_StaggersUsersWithPushID(t *testing.T) {
	s, st, _, _ := newTestScheduler(t,
		onboarded("a@eur.nl", ""),
		onboarded("b@eur.nl", "push-b"),
		onboarded("c@eur.nl", "push-c"),
	)

	n, err := s.ScheduleBulk(context.Background(), "/request_check_in", "")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	events := pending(t, st)
	require.Len(t, events, 2)
	assert.Equal(t, "b@eur.nl", events[0].Username)
	assert.Equal(t, fixedNow.Add(10*time.Second), events[0].RunAt)
	assert.Equal(t, "c@eur.nl", events[1].Username)
	assert.Equal(t, fixedNow.Add(20*time.Second), events[1].RunAt)
}

func TestScheduleBulk_RestartReachesEveryoneAtOnce(t *testing.T) {
	s, st, _, _ := newTestScheduler(t,
		onboarded("a@eur.nl", ""),
		onboarded("b@eur.nl", "push-b"),
	)

	n, err := s.ScheduleBulk(context.Background(), chat.RestartConversation, "")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	events := pending(t, st)
	require.Len(t, events, 2)
	for _, e := range events {
		assert.Equal(t, fixedNow, e.RunAt)
	}
	assert.ElementsMatch(t, []string{"a@eur.nl", "b@eur.nl"}, []string{events[0].Username, events[1].Username})
}

func TestScheduleBulk_SingleUser(t *testing.T) {
	ctx := context.Background()
	s, st, _, _ := newTestScheduler(t, onboarded("a@eur.nl", ""))

	n, err := s.ScheduleBulk(ctx, "/request_tam", "a@eur.nl")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	events := pending(t, st)
	require.Len(t, events, 1)
	assert.Equal(t, fixedNow, events[0].RunAt, "a named user is scheduled now, push id or not")

	_, err = s.ScheduleBulk(ctx, "/request_tam", "ghost@eur.nl")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestExecute(t *testing.T) {
	ctx := context.Background()
	s, st, bridge, _ := newTestScheduler(t, onboarded("a@eur.nl", "p"))

	require.NoError(t, s.Execute(ctx, &store.ScheduledEvent{
		Task: store.TaskScheduleConversation, Conversation: "/request_tam",
	}))
	assert.Len(t, pending(t, st), 1, "broadcast fans out into start events")

	require.NoError(t, s.Execute(ctx, &store.ScheduledEvent{
		Task: store.TaskStartConversation, Conversation: "/request_tam", Username: "a@eur.nl",
	}))
	assert.Len(t, bridge.turns, 1)

	err := s.Execute(ctx, &store.ScheduledEvent{ID: "x", Task: "send_email"})
	assert.ErrorIs(t, err, ErrUnknownTask)
}

func TestReconcile(t *testing.T) {
	ctx := context.Background()
	s, st, _, _ := newTestScheduler(t)

	entries := []Entry{
		{RunAt: fixedNow.Add(-time.Hour), Conversation: "/request_tam"},
		{RunAt: fixedNow.Add(time.Hour), Conversation: "/request_tam"},
		{RunAt: fixedNow.Add(time.Hour), Conversation: "/request_tam"},
		{RunAt: fixedNow.Add(time.Hour), Conversation: "/request_feedback"},
		{RunAt: fixedNow.Add(2 * time.Hour), Conversation: "/request_tam"},
	}

	n, err := s.Reconcile(ctx, entries, fixedNow)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	n, err = s.Reconcile(ctx, entries, fixedNow)
	require.NoError(t, err)
	assert.Equal(t, 0, n, "reconciling twice adds nothing")

	seen := map[string]bool{}
	for _, e := range pending(t, st) {
		key := e.Conversation + "@" + e.RunAt.Format(time.RFC3339)
		if seen[key] {
			t.Errorf("duplicate event for %s", key)
		}
		seen[key] = true
		assert.Equal(t, store.TaskScheduleConversation, e.Task)
		assert.Empty(t, e.Username, "reconciled events are broadcasts")
		assert.True(t, e.RunAt.After(fixedNow))
	}
	assert.Len(t, seen, 3)
}

func TestReconcile_MatchesAnyPendingTask(t *testing.T) {
	ctx := context.Background()
	s, _, _, _ := newTestScheduler(t)
	runAt := fixedNow.Add(time.Hour)

	_, err := s.Schedule(ctx, "/request_tam", "a@eur.nl", runAt)
	require.NoError(t, err)

	n, err := s.Reconcile(ctx, []Entry{{RunAt: runAt, Conversation: "/request_tam"}}, fixedNow)
	require.NoError(t, err)
	assert.Equal(t, 0, n, "dedup compares (conversation, run_at) only")
}

func TestReconcile_ConcurrentCallersInsertOnce(t *testing.T) {
	ctx := context.Background()
	st, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "parley.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	s := New(st, nil, nil, Options{}, nil)

	var entries []Entry
	for i := 0; i < 20; i++ {
		entries = append(entries, Entry{
			RunAt:        fixedNow.Add(time.Duration(i+1) * time.Hour),
			Conversation: fmt.Sprintf("/request_diary_%02d", i),
		})
	}

	var wg sync.WaitGroup
	counts := make([]int, 4)
	for i := range counts {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			n, err := s.Reconcile(ctx, entries, fixedNow)
			assert.NoError(t, err)
			counts[i] = n
		}(i)
	}
	wg.Wait()

	total := 0
	for _, n := range counts {
		total += n
	}
	assert.Equal(t, len(entries), total)

	events, err := st.ListPendingEvents(ctx)
	require.NoError(t, err)
	assert.Len(t, events, len(entries), "the job and the watcher share one reconcile")
}
