// Package scheduler runs the coordinator's periodic jobs: the filesystem
// scan on its cron schedule and the two liveness sweeps on fixed intervals.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// Job is a named periodic function. Jobs receive a background context; they
// are expected to handle their own per-item failures.
type Job func(ctx context.Context)

// Runner wraps robfig/cron with panic isolation and logging.
type Runner struct {
	cron   *cron.Cron
	logger *slog.Logger
}

// New creates a Runner using the standard 5-field cron format.
func New(logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		cron:   cron.New(),
		logger: logger,
	}
}

// AddCron schedules a job on a cron expression ("5 * * * *").
func (r *Runner) AddCron(spec, name string, job Job) error {
	if _, err := r.cron.AddFunc(spec, r.wrap(name, job)); err != nil {
		return fmt.Errorf("scheduling %s (%q): %w", name, spec, err)
	}
	r.logger.Info("job scheduled", slog.String("job", name), slog.String("cron", spec))
	return nil
}

// AddInterval schedules a job on a fixed interval.
func (r *Runner) AddInterval(interval time.Duration, name string, job Job) error {
	spec := fmt.Sprintf("@every %s", interval)
	if _, err := r.cron.AddFunc(spec, r.wrap(name, job)); err != nil {
		return fmt.Errorf("scheduling %s (%s): %w", name, interval, err)
	}
	r.logger.Info("job scheduled", slog.String("job", name), slog.String("interval", interval.String()))
	return nil
}

// wrap isolates panics so one bad run cannot kill the scheduler thread.
func (r *Runner) wrap(name string, job Job) func() {
	return func() {
		defer func() {
			if rec := recover(); rec != nil {
				r.logger.Error("job panicked",
					slog.String("job", name),
					slog.Any("panic", rec),
				)
			}
		}()
		job(context.Background())
	}
}

// Start begins running scheduled jobs in the cron goroutine.
func (r *Runner) Start() {
	r.cron.Start()
	r.logger.Info("scheduler started")
}

// Stop halts scheduling and waits for running jobs to finish.
func (r *Runner) Stop() {
	ctx := r.cron.Stop()
	<-ctx.Done()
	r.logger.Info("scheduler stopped")
}
