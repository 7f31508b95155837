// ABOUTME: Web ping long-poll: waits for a user's ping marker and consumes it once
// ABOUTME: PingHub wakes in-process waiters early; the store marker stays authoritative

package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// PingHub provides in-memory wakeups for users with a pending web ping.
// Subscribers register per username and receive a signal when a marker is set
// in this process. Markers set by another process are found by polling.
type PingHub struct {
	mu          sync.RWMutex
	subscribers map[string]map[string]chan struct{} // username -> subID -> ch
	logger      *slog.Logger
}

// NewPingHub creates a hub. Pass nil logger for default.
func NewPingHub(logger *slog.Logger) *PingHub {
	if logger == nil {
		logger = slog.Default()
	}
	return &PingHub{
		subscribers: make(map[string]map[string]chan struct{}),
		logger:      logger.With("component", "ping_hub"),
	}
}

// Subscribe registers for wakeups on username. The subscription is removed
// when ctx is cancelled.
func (h *PingHub) Subscribe(ctx context.Context, username string) (<-chan struct{}, string) {
	subID := uuid.New().String()
	ch := make(chan struct{}, 1)

	h.mu.Lock()
	if _, ok := h.subscribers[username]; !ok {
		h.subscribers[username] = make(map[string]chan struct{})
	}
	h.subscribers[username][subID] = ch
	h.mu.Unlock()

	go func() {
		<-ctx.Done()
		h.Unsubscribe(username, subID)
	}()

	return ch, subID
}

// Publish wakes every waiter for username. Never blocks: a waiter that
// already has a pending wakeup keeps just the one.
func (h *PingHub) Publish(username string) {
	h.mu.RLock()
	subs := h.subscribers[username]
	targets := make([]chan struct{}, 0, len(subs))
	for _, ch := range subs {
		targets = append(targets, ch)
	}
	h.mu.RUnlock()

	for _, ch := range targets {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// Unsubscribe removes a subscription and closes its channel.
func (h *PingHub) Unsubscribe(username, subID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	subs, ok := h.subscribers[username]
	if !ok {
		return
	}
	ch, exists := subs[subID]
	if !exists {
		return
	}

	delete(subs, subID)
	close(ch)
	if len(subs) == 0 {
		delete(h.subscribers, username)
	}
}

// Close closes all subscriber channels.
func (h *PingHub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for username, subs := range h.subscribers {
		for subID, ch := range subs {
			close(ch)
			delete(subs, subID)
		}
		delete(h.subscribers, username)
	}
	h.logger.Debug("ping hub closed")
}

// PingStore consumes ping markers
type PingStore interface {
	ConsumeWebPing(ctx context.Context, username string) (bool, error)
}

// PingWaiter implements the ping long-poll
type PingWaiter struct {
	store    PingStore
	hub      *PingHub
	wait     time.Duration
	interval time.Duration
}

// NewPingWaiter creates a waiter that gives up after wait, checking every interval.
func NewPingWaiter(store PingStore, hub *PingHub, wait, interval time.Duration) *PingWaiter {
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	return &PingWaiter{store: store, hub: hub, wait: wait, interval: interval}
}

// Wait blocks until a ping marker for username is consumed (true), the wait
// elapses (false), or ctx ends.
func (w *PingWaiter) Wait(ctx context.Context, username string) (bool, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wake <-chan struct{}
	if w.hub != nil {
		wake, _ = w.hub.Subscribe(ctx, username)
	}

	deadline := time.NewTimer(w.wait)
	defer deadline.Stop()
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		found, err := w.store.ConsumeWebPing(ctx, username)
		if err != nil {
			return false, err
		}
		if found {
			return true, nil
		}

		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-deadline.C:
			return false, nil
		case <-ticker.C:
		case _, ok := <-wake:
			if !ok {
				wake = nil
			}
		}
	}
}
