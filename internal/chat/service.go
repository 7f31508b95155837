// ABOUTME: Watermark sync: ingest the user's text, return everything newer than the client's watermark
// ABOUTME: Also runs onboarding negotiation and triggers the welcome conversation on first contact

package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/2389/parley/internal/metrics"
	"github.com/2389/parley/internal/onboarding"
	"github.com/2389/parley/internal/store"
)

const (
	// TestText makes the server answer with an unstored echo
	TestText = "TEST"
	// TestReply is the bot half of the echo
	TestReply = "THIS IS JUST A TEST"
	// WelcomeConversation starts the first-contact interaction
	WelcomeConversation = "/request_welcome"
	// RestartConversation resets the user's dialogue state
	RestartConversation = "/restart"

	externalPrefix = "EXTERNAL: "
)

// Store is the subset of store.Store the sync service needs
type Store interface {
	BridgeStore
	RoomMessagesSince(ctx context.Context, room string, from int64) ([]*store.Message, error)
}

// Negotiator reports outstanding onboarding prompts
type Negotiator interface {
	Outstanding(ctx context.Context, username string, submitted store.Settings) ([]onboarding.Prompt, error)
}

// SyncRequest is one client sync. The room is the username.
type SyncRequest struct {
	Username      string
	Text          string
	FromTimestamp int64
	Settings      store.Settings
}

// SyncResponse carries messages newer than the watermark plus open prompts
type SyncResponse struct {
	Messages []*store.Message
	Prompts  []onboarding.Prompt
}

// ServiceOptions configures a Service
type ServiceOptions struct {
	// AsyncBridge hands the user's turn to the bridge without waiting for
	// the engine, so replies show up on a later sync.
	AsyncBridge bool
}

// Service implements watermark sync
type Service struct {
	store      Store
	bridge     *Bridge
	negotiator Negotiator
	notifier   Notifier
	audit      Auditor
	opts       ServiceOptions
	logger     *slog.Logger

	now func() time.Time
}

// NewService creates a Service
func NewService(st Store, bridge *Bridge, negotiator Negotiator, notifier Notifier, audit Auditor, opts ServiceOptions, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:      st,
		bridge:     bridge,
		negotiator: negotiator,
		notifier:   notifier,
		audit:      audit,
		opts:       opts,
		logger:     logger.With("component", "chat"),
		now:        time.Now,
	}
}

// Sanitize neutralizes text that would let a user invoke privileged intents
// directly. It returns "" and true when the text was dropped.
func Sanitize(text string) (string, bool) {
	if strings.HasPrefix(text, RestartConversation) || strings.HasPrefix(text, externalPrefix) {
		return "", true
	}
	return text, false
}

// Sync ingests req.Text when present, then returns every message in the
// user's room newer than req.FromTimestamp, ascending, together with any
// outstanding onboarding prompts. Dialogue engine failures never fail a sync.
func (s *Service) Sync(ctx context.Context, req SyncRequest) (*SyncResponse, error) {
	text, dropped := Sanitize(strings.TrimSpace(req.Text))
	if dropped {
		s.logger.Warn("neutralized privileged input", "username", req.Username, "text", req.Text)
	}

	if text == TestText {
		return s.testEcho(req.Username), nil
	}

	language := req.Settings.Get(onboarding.FieldLanguage)

	if text != "" {
		if err := s.ingest(ctx, req.Username, text, language); err != nil {
			return nil, err
		}
	}

	messages, err := s.store.RoomMessagesSince(ctx, req.Username, req.FromTimestamp)
	if err != nil {
		return nil, fmt.Errorf("fetching messages: %w", err)
	}

	prompts, err := s.negotiator.Outstanding(ctx, req.Username, req.Settings)
	if err != nil {
		return nil, fmt.Errorf("negotiating config: %w", err)
	}

	// A zero watermark is the only first-contact signal clients give
	if len(prompts) == 0 && len(messages) == 0 && req.FromTimestamp == 0 {
		messages, err = s.welcome(ctx, req.Username, language)
		if err != nil {
			return nil, err
		}
	}

	return &SyncResponse{Messages: messages, Prompts: prompts}, nil
}

func (s *Service) ingest(ctx context.Context, username, text, language string) error {
	msg := &store.Message{Room: username, Sender: username, Text: text}
	if err := s.store.AppendMessage(ctx, msg); err != nil {
		return fmt.Errorf("storing user message: %w", err)
	}
	metrics.MessagesAppended.WithLabelValues("user").Inc()
	s.audit.Append(username, username, text, time.UnixMilli(msg.Timestamp))

	turn := ConverseRequest{Room: username, Text: text, Language: language, Notify: false}
	if s.opts.AsyncBridge {
		s.bridge.ConverseAsync(turn)
	} else {
		s.bridge.ConverseDetached(ctx, turn)
	}
	return nil
}

func (s *Service) welcome(ctx context.Context, username, language string) ([]*store.Message, error) {
	user, err := s.store.GetUser(ctx, username)
	switch {
	case err == nil:
		s.bridge.SetNames(ctx, user, language)
	case !errors.Is(err, store.ErrNotFound):
		s.logger.Warn("loading user for welcome failed", "username", username, "error", err)
	}

	s.logger.Info("first contact, starting welcome", "username", username)
	s.bridge.ConverseDetached(ctx, ConverseRequest{
		Room:     username,
		Text:     WelcomeConversation,
		Language: language,
		Notify:   true,
	})

	messages, err := s.store.RoomMessagesSince(ctx, username, 0)
	if err != nil {
		return nil, fmt.Errorf("fetching welcome messages: %w", err)
	}
	return messages, nil
}

// testEcho answers the TEST probe: a push plus an echo that is never stored.
func (s *Service) testEcho(username string) *SyncResponse {
	s.notifier.Dispatch(username, "", true)

	now := s.now().UnixMilli()
	return &SyncResponse{
		Messages: []*store.Message{
			{Room: username, Sender: username, Text: TestText, Timestamp: now},
			{Room: username, Sender: s.bridge.BotIdentity(), Text: TestReply, Timestamp: now},
		},
	}
}
