package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Job is a named unit of background work run on a fixed interval.
type Job struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context) error
}

// Runner executes registered jobs on their intervals. Each job runs once
// immediately on start and then on every tick. A failing job is logged and
// retried on the next tick; it never stops the runner.
type Runner struct {
	jobs   []Job
	logger zerolog.Logger
}

func New(logger zerolog.Logger) *Runner {
	return &Runner{logger: logger}
}

// Add registers a job. Must be called before Start.
func (r *Runner) Add(job Job) {
	r.jobs = append(r.jobs, job)
}

// Start runs all registered jobs. It blocks until ctx is cancelled and every
// job loop has exited.
func (r *Runner) Start(ctx context.Context) {
	var wg sync.WaitGroup
	for _, job := range r.jobs {
		wg.Add(1)
		go func(job Job) {
			defer wg.Done()
			r.runLoop(ctx, job)
		}(job)
	}
	wg.Wait()
}

func (r *Runner) runLoop(ctx context.Context, job Job) {
	r.runJob(ctx, job)

	ticker := time.NewTicker(job.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.runJob(ctx, job)
		}
	}
}

func (r *Runner) runJob(ctx context.Context, job Job) {
	start := time.Now()
	if err := job.Run(ctx); err != nil {
		if ctx.Err() != nil {
			return
		}
		r.logger.Error().Err(err).
			Str("job", job.Name).
			Dur("duration", time.Since(start)).
			Msg("scheduled job failed")
		return
	}
	r.logger.Debug().
		Str("job", job.Name).
		Dur("duration", time.Since(start)).
		Msg("scheduled job completed")
}
