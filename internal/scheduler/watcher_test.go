// ABOUTME: Tests for the schedule file watcher
// ABOUTME: Writes the watched file and expects one debounced callback

package scheduler

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestScheduleWatcher_CallsOnChange(t *testing.T) {
	defer goleak.VerifyNone(t)

	dir := t.TempDir()
	path := filepath.Join(dir, "tasks.csv")
	other := filepath.Join(dir, "notes.txt")

	changed := make(chan struct{}, 8)
	w := NewScheduleWatcher(path, func(ctx context.Context) { changed <- struct{}{} }, nil)
	w.debounce = 20 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	// The watch is registered asynchronously; keep writing until it is seen.
	deadline := time.After(5 * time.Second)
	tick := time.NewTicker(100 * time.Millisecond)
	defer tick.Stop()
loop:
	for {
		require.NoError(t, os.WriteFile(path, []byte("run_at;conversation\n"), 0o644))
		select {
		case <-changed:
			break loop
		case <-tick.C:
		case <-deadline:
			t.Fatal("no change callback")
		}
	}

	// Drain callbacks from the burst above, then check unrelated files are ignored.
	time.Sleep(100 * time.Millisecond)
	for len(changed) > 0 {
		<-changed
	}
	require.NoError(t, os.WriteFile(other, []byte("x"), 0o644))
	time.Sleep(100 * time.Millisecond)
	assert.Empty(t, changed)

	cancel()
	assert.NoError(t, <-done)
}

func TestScheduleWatcher_MissingDirectory(t *testing.T) {
	w := NewScheduleWatcher(filepath.Join(t.TempDir(), "nope", "tasks.csv"), func(context.Context) {}, nil)
	assert.Error(t, w.Run(context.Background()))
}
