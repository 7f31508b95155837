// ABOUTME: Task runner loop: claims due scheduled events one at a time and executes them
// ABOUTME: Exits with ErrStorageUnreachable when the database stops answering

package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/2389/parley/internal/store"
)

// ErrStorageUnreachable means the runner lost its database. The process
// should exit and let the supervisor restart it.
var ErrStorageUnreachable = errors.New("storage unreachable")

// RunnerStore is the subset of store.Store the runner needs
type RunnerStore interface {
	ClaimNextDue(ctx context.Context, now time.Time, lockTimeout time.Duration) (*store.ScheduledEvent, error)
	CompleteEvent(ctx context.Context, id string) error
	Ping(ctx context.Context) error
}

// Executor runs one claimed event
type Executor interface {
	Execute(ctx context.Context, event *store.ScheduledEvent) error
}

// RunnerOptions configures a Runner
type RunnerOptions struct {
	BusyInterval time.Duration // pause after an event ran
	IdleInterval time.Duration // pause when nothing was due
	LockTimeout  time.Duration // claims older than this are redelivered
}

// Runner polls for due events
type Runner struct {
	store  RunnerStore
	exec   Executor
	opts   RunnerOptions
	logger *slog.Logger

	now func() time.Time
}

// NewRunner creates a Runner
func NewRunner(st RunnerStore, exec Executor, opts RunnerOptions, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.BusyInterval <= 0 {
		opts.BusyInterval = 100 * time.Millisecond
	}
	if opts.IdleInterval <= 0 {
		opts.IdleInterval = time.Second
	}
	if opts.LockTimeout <= 0 {
		opts.LockTimeout = 10 * time.Minute
	}
	return &Runner{
		store:  st,
		exec:   exec,
		opts:   opts,
		logger: logger.With("component", "runner"),
		now:    time.Now,
	}
}

// Run executes due events until ctx is cancelled or storage becomes
// unreachable. Cancellation returns nil.
func (r *Runner) Run(ctx context.Context) error {
	r.logger.Info("task runner started",
		"busy_interval", r.opts.BusyInterval,
		"idle_interval", r.opts.IdleInterval,
	)

	for {
		ran, err := r.RunNext(ctx)
		if err != nil {
			return err
		}

		pause := r.opts.IdleInterval
		if ran {
			pause = r.opts.BusyInterval
		}

		select {
		case <-ctx.Done():
			r.logger.Info("task runner stopped")
			return nil
		case <-time.After(pause):
		}
	}
}

// RunNext claims and executes at most one due event. It reports whether an
// event ran. A fired event is completed even when it failed; there is no
// retry.
func (r *Runner) RunNext(ctx context.Context) (bool, error) {
	event, err := r.store.ClaimNextDue(ctx, r.now(), r.opts.LockTimeout)
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		if ctx.Err() != nil {
			return false, nil
		}
		if pingErr := r.store.Ping(ctx); pingErr != nil {
			r.logger.Error("database unreachable, stopping task runner", "error", pingErr)
			return false, fmt.Errorf("%w: %w", ErrStorageUnreachable, pingErr)
		}
		r.logger.Warn("claiming scheduled event failed", "error", err)
		return false, nil
	}

	logger := r.logger.With(
		"event_id", event.ID,
		"task", event.Task,
		"conversation", event.Conversation,
		"username", event.Username,
	)
	logger.Debug("running scheduled event", "run_at", event.RunAt)

	if err := r.exec.Execute(ctx, event); err != nil {
		logger.Error("scheduled event failed", "error", err)
	}

	if err := r.store.CompleteEvent(ctx, event.ID); err != nil && !errors.Is(err, store.ErrNotFound) {
		logger.Error("completing scheduled event failed", "error", err)
	}
	return true, nil
}
