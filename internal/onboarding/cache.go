// ABOUTME: Thread-safe cache of users whose onboarding config is complete
// ABOUTME: Holds the last complete submission per user for cheap repeat checks

package onboarding

import (
	"sync"

	"github.com/2389/parley/internal/store"
)

// CompletionCache maps username to the last complete settings submission.
// Read by every sync, written on completion and at start.
type CompletionCache struct {
	mu   sync.RWMutex
	done map[string]store.Settings
}

// NewCompletionCache creates an empty cache.
func NewCompletionCache() *CompletionCache {
	return &CompletionCache{done: make(map[string]store.Settings)}
}

// Get returns a copy of the cached settings for username.
func (c *CompletionCache) Get(username string) (store.Settings, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	s, ok := c.done[username]
	return s.Clone(), ok
}

// Matches reports whether username is complete and submitted equals the
// cached settings exactly.
func (c *CompletionCache) Matches(username string, submitted store.Settings) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	s, ok := c.done[username]
	return ok && s.Equal(submitted)
}

// Set replaces the entry for username with a copy of settings.
func (c *CompletionCache) Set(username string, settings store.Settings) {
	cp := settings.Clone()

	c.mu.Lock()
	defer c.mu.Unlock()
	c.done[username] = cp
}

// Invalidate drops username so the next sync re-checks the submission.
func (c *CompletionCache) Invalidate(username string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.done, username)
}

// Len returns the number of cached users.
func (c *CompletionCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.done)
}
