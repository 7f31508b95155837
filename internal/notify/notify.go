// ABOUTME: Best-effort user notification: web ping marker plus push delivery
// ABOUTME: Unknown users are an error unless the identity is an anonymous demo address

package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/2389/parley/internal/auth"
	"github.com/2389/parley/internal/metrics"
	"github.com/2389/parley/internal/store"
)

// ErrUnknownUser is returned when notifying a username that has no account
var ErrUnknownUser = errors.New("unknown user")

// Sender delivers a push message to one device or channel
type Sender interface {
	Send(ctx context.Context, pushID, message string) error
}

// Store is the subset of store.Store notifications need
type Store interface {
	GetUser(ctx context.Context, username string) (*store.User, error)
	AddWebPing(ctx context.Context, username string) error
}

// Options configures a Service
type Options struct {
	DefaultMessage string
	Timeout        time.Duration // bound on one asynchronous dispatch
}

// Service sends notifications to users
type Service struct {
	users  Store
	sender Sender
	hub    *PingHub
	opts   Options
	logger *slog.Logger

	wg sync.WaitGroup
}

// NewService creates a Service. hub may be nil when no in-process waiters exist.
func NewService(users Store, sender Sender, hub *PingHub, opts Options, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if sender == nil {
		sender = NopSender{}
	}
	if opts.DefaultMessage == "" {
		opts.DefaultMessage = "New message"
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	return &Service{
		users:  users,
		sender: sender,
		hub:    hub,
		opts:   opts,
		logger: logger.With("component", "notify"),
	}
}

// Notify alerts username. With addPing the web ping marker is set first so
// browser clients long-polling the ping endpoint see the message too.
func (s *Service) Notify(ctx context.Context, username, message string, addPing bool) error {
	if message == "" {
		message = s.opts.DefaultMessage
	}

	if addPing {
		if err := s.users.AddWebPing(ctx, username); err != nil {
			s.logger.Warn("setting web ping failed", "username", username, "error", err)
		} else if s.hub != nil {
			s.hub.Publish(username)
		}
	}

	user, err := s.users.GetUser(ctx, username)
	if errors.Is(err, store.ErrNotFound) {
		if auth.IsAnonymousIdentity(username) {
			metrics.Notifications.WithLabelValues("anonymous").Inc()
			return nil
		}
		metrics.Notifications.WithLabelValues("unknown_user").Inc()
		return fmt.Errorf("%w: %q", ErrUnknownUser, username)
	}
	if err != nil {
		return fmt.Errorf("looking up user: %w", err)
	}

	if user.PushID == "" {
		metrics.Notifications.WithLabelValues("no_push_id").Inc()
		s.logger.Warn("user has no push id", "username", username)
		return nil
	}

	if err := s.sender.Send(ctx, user.PushID, message); err != nil {
		metrics.Notifications.WithLabelValues("failed").Inc()
		return fmt.Errorf("sending push: %w", err)
	}
	metrics.Notifications.WithLabelValues("sent").Inc()
	return nil
}

// Dispatch runs Notify in the background, bounded by the configured timeout.
// Failures are logged; the caller never waits on delivery.
func (s *Service) Dispatch(username, message string, addPing bool) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		ctx, cancel := context.WithTimeout(context.Background(), s.opts.Timeout)
		defer cancel()

		if err := s.Notify(ctx, username, message, addPing); err != nil {
			s.logger.Warn("notification failed", "username", username, "error", err)
		}
	}()
}

// Wait blocks until every dispatched notification has finished.
func (s *Service) Wait() {
	s.wg.Wait()
}

// NopSender drops every push. Used when no backend is configured.
type NopSender struct{}

// Send does nothing.
func (NopSender) Send(ctx context.Context, pushID, message string) error {
	return nil
}
