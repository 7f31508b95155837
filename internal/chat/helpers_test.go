// ABOUTME: Shared fakes for chat tests: scripted engine, recording notifier and auditor
// ABOUTME: Builds a Service wired to a MockStore and a real onboarding negotiator

package chat

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/2389/parley/internal/config"
	"github.com/2389/parley/internal/dialogue"
	"github.com/2389/parley/internal/onboarding"
	"github.com/2389/parley/internal/store"
)

type engineCall struct {
	Language string
	Sender   string
	Text     string
}

type fakeEngine struct {
	mu      sync.Mutex
	replies map[string][]dialogue.Utterance
	err     error
	delay   time.Duration
	calls   []engineCall
	slots   []dialogue.Names
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{replies: make(map[string][]dialogue.Utterance)}
}

func (f *fakeEngine) Converse(ctx context.Context, language, sender, text string) ([]dialogue.Utterance, error) {
	f.mu.Lock()
	delay := f.delay
	f.mu.Unlock()
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, engineCall{Language: language, Sender: sender, Text: text})
	if f.err != nil {
		return nil, f.err
	}
	return f.replies[text], nil
}

func (f *fakeEngine) SetNameSlots(ctx context.Context, language, sender string, names dialogue.Names) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.slots = append(f.slots, names)
	return f.err
}

func (f *fakeEngine) converseCalls() []engineCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]engineCall(nil), f.calls...)
}

type dispatch struct {
	Username string
	AddPing  bool
}

type recordingNotifier struct {
	mu    sync.Mutex
	calls []dispatch
}

func (r *recordingNotifier) Dispatch(username, message string, addPing bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, dispatch{Username: username, AddPing: addPing})
}

func (r *recordingNotifier) all() []dispatch {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]dispatch(nil), r.calls...)
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

type harness struct {
	store    *store.MockStore
	engine   *fakeEngine
	notifier *recordingNotifier
	audit    *recordingAudit
	bridge   *Bridge
	service  *Service
}

func newHarness(t *testing.T, users ...*store.User) *harness {
	t.Helper()
	h := &harness{
		store:    store.NewMockStore(),
		engine:   newFakeEngine(),
		notifier: &recordingNotifier{},
		audit:    &recordingAudit{},
	}
	for _, u := range users {
		require.NoError(t, h.store.CreateUserWithProfile(context.Background(), u))
	}

	langs := dialogue.NewLanguages(config.DefaultLanguages, "EN")
	h.bridge = NewBridge(h.store, h.engine, langs, h.notifier, h.audit, BridgeOptions{BotIdentity: "bot"}, nil)
	negotiator := onboarding.NewNegotiator(h.store, []onboarding.Field{onboarding.LanguageField(langs)}, nil)
	h.service = NewService(h.store, h.bridge, negotiator, h.notifier, h.audit, ServiceOptions{}, nil)
	return h
}

func strPtr(s string) *string { return &s }

func english() store.Settings {
	return store.Settings{"language": strPtr("EN")}
}

func completedUser(username string) *store.User {
	at := time.Now()
	return &store.User{
		Username:          username,
		FirstName:         "Jane",
		LastName:          "Doe",
		Config:            english(),
		ConfigCompletedAt: &at,
	}
}

func texts(msgs []*store.Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.Text
	}
	return out
}
