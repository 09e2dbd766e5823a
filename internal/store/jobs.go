package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"

	"postflow/internal/project"
)

const jobColumns = "id, project_id, job_type, status, progress, retry_count, max_retries, result_count, error_message, created_at, started_at, completed_at, duration_ms, updated_at"

// CreateJob enqueues a new processing job for a project step.
func (s *Store) CreateJob(ctx context.Context, projectID string, jobType project.JobType, maxRetries int) (*project.Job, error) {
	now := time.Now().UTC()
	job := &project.Job{
		ID:         uuid.NewString(),
		ProjectID:  projectID,
		Type:       jobType,
		Status:     project.JobQueued,
		MaxRetries: maxRetries,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	_, err := s.execWithRetry(
		ctx,
		`INSERT INTO processing_jobs (`+jobColumns+`)
         VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID,
		job.ProjectID,
		job.Type,
		job.Status,
		job.Progress,
		job.RetryCount,
		job.MaxRetries,
		job.ResultCount,
		nullableString(job.ErrorMessage),
		formatTime(job.CreatedAt),
		nullableTime(job.StartedAt),
		nullableTime(job.CompletedAt),
		job.DurationMS,
		formatTime(job.UpdatedAt),
	)
	if err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}
	return job, nil
}

// CreateRetryJob enqueues the replacement for a failed job. The created_at
// timestamp doubles as the earliest pickup time, so a runAt in the future
// keeps the job invisible to the poller until the backoff elapses.
func (s *Store) CreateRetryJob(ctx context.Context, prev *project.Job, runAt time.Time) (*project.Job, error) {
	now := time.Now().UTC()
	job := &project.Job{
		ID:         uuid.NewString(),
		ProjectID:  prev.ProjectID,
		Type:       prev.Type,
		Status:     project.JobQueued,
		RetryCount: prev.RetryCount + 1,
		MaxRetries: prev.MaxRetries,
		CreatedAt:  runAt.UTC(),
		UpdatedAt:  now,
	}
	_, err := s.execWithRetry(
		ctx,
		`INSERT INTO processing_jobs (`+jobColumns+`)
         VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID,
		job.ProjectID,
		job.Type,
		job.Status,
		job.Progress,
		job.RetryCount,
		job.MaxRetries,
		job.ResultCount,
		nullableString(job.ErrorMessage),
		formatTime(job.CreatedAt),
		nullableTime(job.StartedAt),
		nullableTime(job.CompletedAt),
		job.DurationMS,
		formatTime(job.UpdatedAt),
	)
	if err != nil {
		return nil, fmt.Errorf("create retry job: %w", err)
	}
	return job, nil
}

// GetJob fetches one job by identifier. Returns nil when absent.
func (s *Store) GetJob(ctx context.Context, id string) (*project.Job, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM processing_jobs WHERE id = ?`, id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

// UpdateJob persists the full mutable state of a job.
func (s *Store) UpdateJob(ctx context.Context, job *project.Job) error {
	job.UpdatedAt = time.Now().UTC()
	_, err := s.execWithRetry(
		ctx,
		`UPDATE processing_jobs
         SET status = ?, progress = ?, retry_count = ?, result_count = ?,
             error_message = ?, started_at = ?, completed_at = ?, duration_ms = ?, updated_at = ?
         WHERE id = ?`,
		job.Status,
		job.Progress,
		job.RetryCount,
		job.ResultCount,
		nullableString(job.ErrorMessage),
		nullableTime(job.StartedAt),
		nullableTime(job.CompletedAt),
		job.DurationMS,
		formatTime(job.UpdatedAt),
		job.ID,
	)
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	return nil
}

// NextQueuedJob claims the oldest queued job and moves it to processing.
// Returns nil when nothing is queued. The claim happens in one transaction
// so concurrent pollers never pick the same job.
func (s *Store) NextQueuedJob(ctx context.Context) (*project.Job, error) {
	var job *project.Job
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(
			ctx,
			`SELECT `+jobColumns+` FROM processing_jobs
             WHERE status = ? AND created_at <= ? ORDER BY created_at, id LIMIT 1`,
			project.JobQueued,
			formatTime(time.Now().UTC()),
		)
		candidate, err := scanJob(row)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("select queued job: %w", err)
		}
		now := time.Now().UTC()
		res, err := tx.ExecContext(
			ctx,
			`UPDATE processing_jobs SET status = ?, started_at = ?, updated_at = ?
             WHERE id = ? AND status = ?`,
			project.JobProcessing,
			formatTime(now),
			formatTime(now),
			candidate.ID,
			project.JobQueued,
		)
		if err != nil {
			return fmt.Errorf("claim job: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if affected != 1 {
			return nil
		}
		candidate.Status = project.JobProcessing
		candidate.StartedAt = &now
		candidate.UpdatedAt = now
		job = candidate
		return nil
	})
	return job, err
}

// JobsByProject returns a project's jobs, newest first.
func (s *Store) JobsByProject(ctx context.Context, projectID string) ([]*project.Job, error) {
	return s.queryJobs(ctx, qb.Select(jobColumns).
		From("processing_jobs").
		Where(sq.Eq{"project_id": projectID}).
		OrderBy("created_at DESC", "id DESC"))
}

// ActiveJobs returns jobs currently queued or processing across projects.
func (s *Store) ActiveJobs(ctx context.Context) ([]*project.Job, error) {
	return s.queryJobs(ctx, qb.Select(jobColumns).
		From("processing_jobs").
		Where(sq.Eq{"status": []string{string(project.JobQueued), string(project.JobProcessing)}}).
		OrderBy("created_at", "id"))
}

// ReclaimStaleJobs re-queues processing jobs whose start time is older than
// the cutoff. Covers crashed workers that never finished their claim.
func (s *Store) ReclaimStaleJobs(ctx context.Context, startedBefore time.Time) (int64, error) {
	now := time.Now().UTC()
	res, err := s.execWithRetry(
		ctx,
		`UPDATE processing_jobs
         SET status = ?, started_at = NULL, updated_at = ?
         WHERE status = ? AND started_at IS NOT NULL AND started_at < ?`,
		project.JobQueued,
		formatTime(now),
		project.JobProcessing,
		formatTime(startedBefore),
	)
	if err != nil {
		return 0, fmt.Errorf("reclaim stale jobs: %w", err)
	}
	return res.RowsAffected()
}

// ClearCompletedJobs removes completed job records.
func (s *Store) ClearCompletedJobs(ctx context.Context) (int64, error) {
	res, err := s.execWithRetry(ctx, `DELETE FROM processing_jobs WHERE status = ?`, project.JobCompleted)
	if err != nil {
		return 0, fmt.Errorf("clear completed jobs: %w", err)
	}
	return res.RowsAffected()
}

// ClearFailedJobs removes failed job records.
func (s *Store) ClearFailedJobs(ctx context.Context) (int64, error) {
	res, err := s.execWithRetry(ctx, `DELETE FROM processing_jobs WHERE status = ?`, project.JobFailed)
	if err != nil {
		return 0, fmt.Errorf("clear failed jobs: %w", err)
	}
	return res.RowsAffected()
}

// JobCounts returns the number of jobs per status, for health reporting.
func (s *Store) JobCounts(ctx context.Context) (map[project.JobStatus]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM processing_jobs GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("count jobs: %w", err)
	}
	defer rows.Close()

	counts := make(map[project.JobStatus]int)
	for rows.Next() {
		var (
			status string
			count  int
		)
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		counts[project.JobStatus(status)] = count
	}
	return counts, rows.Err()
}

func (s *Store) queryJobs(ctx context.Context, builder sq.SelectBuilder) ([]*project.Job, error) {
	query, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build job query: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var result []*project.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, job)
	}
	return result, rows.Err()
}

func scanJob(scanner interface{ Scan(dest ...any) error }) (*project.Job, error) {
	var (
		job          project.Job
		typeStr      string
		statusStr    string
		errorMsg     sql.NullString
		createdRaw   string
		startedRaw   sql.NullString
		completedRaw sql.NullString
		updatedRaw   string
	)
	if err := scanner.Scan(
		&job.ID,
		&job.ProjectID,
		&typeStr,
		&statusStr,
		&job.Progress,
		&job.RetryCount,
		&job.MaxRetries,
		&job.ResultCount,
		&errorMsg,
		&createdRaw,
		&startedRaw,
		&completedRaw,
		&job.DurationMS,
		&updatedRaw,
	); err != nil {
		return nil, err
	}
	job.Type = project.JobType(typeStr)
	job.Status = project.JobStatus(statusStr)
	job.ErrorMessage = errorMsg.String
	if created, err := parseTimeString(createdRaw); err == nil {
		job.CreatedAt = created
	}
	job.StartedAt = parseOptionalTime(startedRaw.String)
	job.CompletedAt = parseOptionalTime(completedRaw.String)
	if updated, err := parseTimeString(updatedRaw); err == nil {
		job.UpdatedAt = updated
	}
	return &job, nil
}
