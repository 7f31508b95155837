// ABOUTME: Periodic task-runner jobs (schedule reconciliation, push id refresh) on gocron
// ABOUTME: Each job runs once at start, then every interval, never overlapping itself

package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-co-op/gocron/v2"
)

// Job is a named periodic function
type Job struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context) error
}

// Jobs owns the gocron scheduler running the periodic jobs
type Jobs struct {
	cron   gocron.Scheduler
	logger *slog.Logger
}

// StartJobs registers jobs and starts them. Jobs with a zero interval are
// skipped. ctx is handed to every run; call Shutdown to stop.
func StartJobs(ctx context.Context, jobs []Job, logger *slog.Logger) (*Jobs, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "jobs")

	cron, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("creating job scheduler: %w", err)
	}

	for _, job := range jobs {
		if job.Interval <= 0 {
			logger.Info("job disabled", "job", job.Name)
			continue
		}

		run := job.Run
		name := job.Name
		_, err := cron.NewJob(
			gocron.DurationJob(job.Interval),
			gocron.NewTask(func() {
				start := time.Now()
				if err := run(ctx); err != nil {
					logger.Error("job failed", "job", name, "error", err)
					return
				}
				logger.Debug("job finished", "job", name, "duration", time.Since(start))
			}),
			gocron.WithName(name),
			gocron.WithStartAt(gocron.WithStartImmediately()),
			gocron.WithSingletonMode(gocron.LimitModeReschedule),
		)
		if err != nil {
			_ = cron.Shutdown()
			return nil, fmt.Errorf("registering job %s: %w", name, err)
		}
		logger.Info("job registered", "job", name, "interval", job.Interval)
	}

	cron.Start()
	return &Jobs{cron: cron, logger: logger}, nil
}

// Shutdown stops the jobs and waits for running ones to finish.
func (j *Jobs) Shutdown() error {
	if err := j.cron.Shutdown(); err != nil {
		return fmt.Errorf("stopping jobs: %w", err)
	}
	return nil
}
