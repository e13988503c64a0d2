package jobs

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// Job is one run of a background task. It returns how many items it removed.
type Job func(ctx context.Context) (int, error)

// Runner executes jobs and records their outcome. metrics may be nil.
type Runner struct {
	metrics *Metrics
	logger  *slog.Logger
}

// NewRunner creates a Runner.
func NewRunner(metrics *Metrics, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{metrics: metrics, logger: logger}
}

// RunOnce executes job once and records its duration and outcome.
func (r *Runner) RunOnce(ctx context.Context, jobType string, job Job) error {
	start := time.Now()
	n, err := job(ctx)
	elapsed := time.Since(start)

	if r.metrics != nil {
		r.metrics.observe(jobType, elapsed, n, err)
	}
	if err != nil {
		r.logger.ErrorContext(ctx, "background job failed",
			slog.String("job_type", jobType),
			slog.String("error", err.Error()),
		)
		return err
	}
	if n > 0 {
		r.logger.InfoContext(ctx, "background job finished",
			slog.String("job_type", jobType),
			slog.Int("items", n),
			slog.Duration("duration", elapsed),
		)
	}
	return nil
}

// Every runs job every interval until ctx is done. Failures are recorded and
// the schedule continues. It blocks; run it in a goroutine.
func (r *Runner) Every(ctx context.Context, jobType string, interval time.Duration, job Job) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = r.RunOnce(ctx, jobType, job)
		}
	}
}

func errorType(err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	default:
		return "error"
	}
}
