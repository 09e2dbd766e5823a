// Package jobs tracks asynchronous pipeline work. Completed, failed, and
// cancelled jobs are immutable history; a retry is always a fresh job row.
package jobs

import (
	"context"
	"log/slog"
	"time"

	"postflow/internal/logging"
	"postflow/internal/project"
	"postflow/internal/store"
)

// Tracker records job lifecycle changes against the store.
type Tracker struct {
	store  *store.Store
	logger *slog.Logger
}

// NewTracker wires a tracker to the store.
func NewTracker(st *store.Store, logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Tracker{store: st, logger: logger.With(logging.String(logging.FieldComponent, "jobs"))}
}

// Enqueue creates a queued job for a pipeline step.
func (t *Tracker) Enqueue(ctx context.Context, projectID string, jobType project.JobType, maxRetries int) (*project.Job, error) {
	job, err := t.store.CreateJob(ctx, projectID, jobType, maxRetries)
	if err != nil {
		return nil, err
	}
	t.logger.Info("job enqueued",
		logging.String(logging.FieldJobID, job.ID),
		logging.String(logging.FieldProjectID, projectID),
		logging.String(logging.FieldStep, string(jobType)))
	return job, nil
}

// EnqueueRetry creates the replacement job for a failed attempt. The new job
// becomes visible to the queue poller only after the backoff delay.
func (t *Tracker) EnqueueRetry(ctx context.Context, prev *project.Job, now time.Time) (*project.Job, error) {
	attempt := prev.RetryCount + 1
	runAt := now.Add(RetryDelay(attempt))
	job, err := t.store.CreateRetryJob(ctx, prev, runAt)
	if err != nil {
		return nil, err
	}
	t.logger.Info("job retry scheduled",
		logging.String(logging.FieldJobID, job.ID),
		logging.String(logging.FieldProjectID, job.ProjectID),
		logging.String(logging.FieldStep, string(job.Type)),
		logging.Int("attempt", attempt),
		logging.Time("run_at", runAt))
	return job, nil
}

// UpdateProgress records step progress on a processing job.
func (t *Tracker) UpdateProgress(ctx context.Context, job *project.Job, progress int) error {
	if progress < 0 {
		progress = 0
	}
	if progress > 100 {
		progress = 100
	}
	job.Progress = progress
	return t.store.UpdateJob(ctx, job)
}

// Complete finalizes a successful job with its produced item count.
func (t *Tracker) Complete(ctx context.Context, job *project.Job, resultCount int, now time.Time) error {
	job.Status = project.JobCompleted
	job.Progress = 100
	job.ResultCount = resultCount
	job.CompletedAt = &now
	if job.StartedAt != nil {
		job.DurationMS = now.Sub(*job.StartedAt).Milliseconds()
	}
	if err := t.store.UpdateJob(ctx, job); err != nil {
		return err
	}
	t.logger.Info("job completed",
		logging.String(logging.FieldJobID, job.ID),
		logging.String(logging.FieldProjectID, job.ProjectID),
		logging.String(logging.FieldStep, string(job.Type)),
		logging.Int("result_count", resultCount),
		logging.Int64("duration_ms", job.DurationMS))
	return nil
}

// Fail finalizes a job that exhausted its attempt.
func (t *Tracker) Fail(ctx context.Context, job *project.Job, cause error, now time.Time) error {
	job.Status = project.JobFailed
	if cause != nil {
		job.ErrorMessage = cause.Error()
	}
	job.CompletedAt = &now
	if job.StartedAt != nil {
		job.DurationMS = now.Sub(*job.StartedAt).Milliseconds()
	}
	if err := t.store.UpdateJob(ctx, job); err != nil {
		return err
	}
	t.logger.Warn("job failed",
		logging.String(logging.FieldJobID, job.ID),
		logging.String(logging.FieldProjectID, job.ProjectID),
		logging.String(logging.FieldStep, string(job.Type)),
		logging.Error(cause))
	return nil
}

// Cancel marks a job cancelled, typically when its project is archived.
func (t *Tracker) Cancel(ctx context.Context, job *project.Job, now time.Time) error {
	job.Status = project.JobCancelled
	job.CompletedAt = &now
	return t.store.UpdateJob(ctx, job)
}
