// ABOUTME: Dialogue bridge: forwards a user turn to the engine and persists each reply
// ABOUTME: Engine failures are logged and swallowed so callers always degrade gracefully

package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/2389/parley/internal/dialogue"
	"github.com/2389/parley/internal/metrics"
	"github.com/2389/parley/internal/onboarding"
	"github.com/2389/parley/internal/store"
)

// Engine is the dialogue engine as the bridge uses it
type Engine interface {
	Converse(ctx context.Context, language, sender, text string) ([]dialogue.Utterance, error)
	SetNameSlots(ctx context.Context, language, sender string, names dialogue.Names) error
}

// Notifier dispatches best-effort notifications
type Notifier interface {
	Dispatch(username, message string, addPing bool)
}

// Auditor records exchanges in the human-readable audit trail
type Auditor interface {
	Append(room, sender, text string, at time.Time)
}

// BridgeStore is the subset of store.Store the bridge needs
type BridgeStore interface {
	AppendMessage(ctx context.Context, msg *store.Message) error
	GetUser(ctx context.Context, username string) (*store.User, error)
}

// BridgeOptions configures a Bridge
type BridgeOptions struct {
	BotIdentity string
	Timeout     time.Duration // bound on ConverseAsync calls
}

// ConverseRequest is one turn sent to the engine on behalf of a room
type ConverseRequest struct {
	Room     string
	Text     string
	Language string // empty uses the profile's language, then the default
	Notify   bool   // also set the web ping marker
}

// Bridge relays turns between rooms and the dialogue engine
type Bridge struct {
	store     BridgeStore
	engine    Engine
	languages *dialogue.Languages
	notifier  Notifier
	audit     Auditor
	opts      BridgeOptions
	logger    *slog.Logger

	wg sync.WaitGroup
}

// NewBridge creates a Bridge
func NewBridge(st BridgeStore, engine Engine, languages *dialogue.Languages, notifier Notifier, audit Auditor, opts BridgeOptions, logger *slog.Logger) *Bridge {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.BotIdentity == "" {
		opts.BotIdentity = "bot"
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	return &Bridge{
		store:     st,
		engine:    engine,
		languages: languages,
		notifier:  notifier,
		audit:     audit,
		opts:      opts,
		logger:    logger.With("component", "bridge"),
	}
}

// BotIdentity is the sender of every engine reply
func (b *Bridge) BotIdentity() string {
	return b.opts.BotIdentity
}

// Converse sends req to the engine and appends every utterance to the room in
// engine order. One notification follows when at least one utterance was
// stored. Returns the number of stored utterances; failures yield 0 and are
// only logged.
func (b *Bridge) Converse(ctx context.Context, req ConverseRequest) int {
	lang := b.Language(ctx, req.Room, req.Language)

	start := time.Now()
	utterances, err := b.engine.Converse(ctx, lang, req.Room, req.Text)
	metrics.DialogueLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.DialogueFailures.Inc()
		b.logger.Warn("dialogue engine call failed",
			"room", req.Room,
			"language", lang,
			"payload", req.Text,
			"error", err)
		return 0
	}

	stored := 0
	for _, u := range utterances {
		msg := &store.Message{
			Room:    req.Room,
			Sender:  b.opts.BotIdentity,
			Text:    StyleText(u.Text, store.StyleOptional),
			Buttons: u.Buttons,
			Style:   store.StyleOptional,
		}
		if err := b.store.AppendMessage(ctx, msg); err != nil {
			b.logger.Error("storing engine reply failed", "room", req.Room, "error", err)
			break
		}
		metrics.MessagesAppended.WithLabelValues("bot").Inc()
		b.audit.Append(req.Room, msg.Sender, msg.Text, time.UnixMilli(msg.Timestamp))
		stored++
	}

	if stored > 0 {
		b.notifier.Dispatch(req.Room, "", req.Notify)
	}

	b.logger.Debug("conversed", "room", req.Room, "utterances", len(utterances), "stored", stored)
	return stored
}

// ConverseDetached runs Converse for a caller that waits on the result but
// may go away first: the caller's cancellation does not reach the engine
// call, which is bounded by the bridge timeout instead.
func (b *Bridge) ConverseDetached(ctx context.Context, req ConverseRequest) int {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), b.opts.Timeout)
	defer cancel()
	return b.Converse(ctx, req)
}

// ConverseAsync runs Converse detached from the caller, bounded by the
// bridge timeout.
func (b *Bridge) ConverseAsync(req ConverseRequest) {
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), b.opts.Timeout)
		defer cancel()
		b.Converse(ctx, req)
	}()
}

// Wait blocks until every ConverseAsync call has finished.
func (b *Bridge) Wait() {
	b.wg.Wait()
}

// SetNames pushes the user's name slots to the engine. Failures are logged.
func (b *Bridge) SetNames(ctx context.Context, user *store.User, language string) {
	lang := b.Language(ctx, user.Username, language)
	if err := b.engine.SetNameSlots(ctx, lang, user.Username, dialogue.NamesOf(user)); err != nil {
		metrics.DialogueFailures.Inc()
		b.logger.Warn("setting name slots failed", "username", user.Username, "error", err)
	}
}

// Ingest stores a message the engine pushed outside a conversation call and
// notifies the room's user.
func (b *Bridge) Ingest(ctx context.Context, room, text string, buttons []store.Button) error {
	msg := &store.Message{
		Room:    room,
		Sender:  b.opts.BotIdentity,
		Text:    text,
		Buttons: buttons,
	}
	if err := b.store.AppendMessage(ctx, msg); err != nil {
		return fmt.Errorf("storing ingress message: %w", err)
	}
	metrics.MessagesAppended.WithLabelValues("ingress").Inc()
	b.audit.Append(room, msg.Sender, msg.Text, time.UnixMilli(msg.Timestamp))
	b.notifier.Dispatch(room, "", true)
	return nil
}

// Language picks the engine language for room: the requested code when
// known, else the language saved on the profile, else the default.
func (b *Bridge) Language(ctx context.Context, room, requested string) string {
	if b.languages.Known(requested) {
		return b.languages.Lookup(requested).Code
	}
	user, err := b.store.GetUser(ctx, room)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			b.logger.Warn("loading profile language failed", "room", room, "error", err)
		}
		return b.languages.Default().Code
	}
	return b.languages.Lookup(user.Config.Get(onboarding.FieldLanguage)).Code
}

// StyleText wraps text in a colored span unless it already carries a style.
func StyleText(text, color string) string {
	if color == "" || strings.Contains(text, "<span style=") {
		return text
	}
	return "<span style='color: " + color + ";'>" + text + "</span>"
}
