// ABOUTME: Watches the declarative schedule file and reconciles when it changes
// ABOUTME: Watches the parent directory so editor rename-and-replace saves are seen

package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

const watchDebounce = 500 * time.Millisecond

// ScheduleWatcher calls onChange after the schedule file is written,
// created or replaced. Bursts of events are collapsed into one call.
type ScheduleWatcher struct {
	path     string
	onChange func(ctx context.Context)
	debounce time.Duration
	logger   *slog.Logger
}

// NewScheduleWatcher creates a watcher for path
func NewScheduleWatcher(path string, onChange func(ctx context.Context), logger *slog.Logger) *ScheduleWatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &ScheduleWatcher{
		path:     filepath.Clean(path),
		onChange: onChange,
		debounce: watchDebounce,
		logger:   logger.With("component", "schedule_watcher"),
	}
}

// Run watches until ctx is cancelled.
func (w *ScheduleWatcher) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating file watcher: %w", err)
	}
	defer watcher.Close()

	dir := filepath.Dir(w.path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watching %s: %w", dir, err)
	}
	w.logger.Info("watching schedule", "path", w.path)

	timer := time.NewTimer(w.debounce)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			w.logger.Debug("schedule changed", "op", event.Op.String())
			timer.Reset(w.debounce)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("schedule watcher error", "error", err)

		case <-timer.C:
			w.onChange(ctx)
		}
	}
}
