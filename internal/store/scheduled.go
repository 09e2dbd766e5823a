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

const scheduledColumns = "id, project_id, post_id, platform, content, scheduled_time, status, retry_count, last_attempt, external_post_id, published_at, created_at, updated_at"

// InsertScheduledPosts persists newly assigned scheduled posts in one transaction.
func (s *Store) InsertScheduledPosts(ctx context.Context, scheduled []*project.ScheduledPost) error {
	if len(scheduled) == 0 {
		return nil
	}
	now := time.Now().UTC()
	return s.withTx(ctx, func(tx *sql.Tx) error {
		for _, sp := range scheduled {
			if sp.ID == "" {
				sp.ID = uuid.NewString()
			}
			if sp.Status == "" {
				sp.Status = project.ScheduledPending
			}
			sp.CreatedAt = now
			sp.UpdatedAt = now
			if err := upsertScheduledPostTx(ctx, tx, sp); err != nil {
				return err
			}
		}
		return nil
	})
}

// GetScheduledPost fetches one scheduled post by identifier. Returns nil when absent.
func (s *Store) GetScheduledPost(ctx context.Context, id string) (*project.ScheduledPost, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+scheduledColumns+` FROM scheduled_posts WHERE id = ?`, id)
	sp, err := scanScheduledPost(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get scheduled post: %w", err)
	}
	return sp, nil
}

// ScheduledPostsByProject returns a project's scheduled posts ordered by publish time.
func (s *Store) ScheduledPostsByProject(ctx context.Context, projectID string) ([]*project.ScheduledPost, error) {
	return scheduledByProjectQ(ctx, s.db, projectID)
}

func scheduledByProjectQ(ctx context.Context, q querier, projectID string) ([]*project.ScheduledPost, error) {
	return queryScheduled(ctx, q, qb.Select(scheduledColumns).
		From("scheduled_posts").
		Where(sq.Eq{"project_id": projectID}).
		OrderBy("scheduled_time", "platform"))
}

// DueScheduledPosts selects dispatchable posts whose publish time falls
// inside the look-ahead window, ordered by (scheduled_time, platform) and
// capped at batchSize. Both pending and retry items are eligible.
func (s *Store) DueScheduledPosts(ctx context.Context, cutoff time.Time, batchSize int) ([]*project.ScheduledPost, error) {
	return queryScheduled(ctx, s.db, qb.Select(scheduledColumns).
		From("scheduled_posts").
		Where(sq.Eq{"status": []string{string(project.ScheduledPending), string(project.ScheduledRetry)}}).
		Where(sq.LtOrEq{"scheduled_time": formatTime(cutoff)}).
		OrderBy("scheduled_time", "platform").
		Limit(uint64(batchSize)))
}

// ClaimScheduledPost atomically moves a dispatchable post to the in-flight
// publishing status and returns the row as of the claim. The compare-and-set
// guards against double dispatch from overlapping sweep invocations: exactly
// one claimer gets a non-nil row. The cutoff guard rejects items whose
// publish time has moved past the dispatch window, such as a retry backoff
// written after the batch query that selected the item.
func (s *Store) ClaimScheduledPost(ctx context.Context, id string, cutoff, now time.Time) (*project.ScheduledPost, error) {
	var claimed *project.ScheduledPost
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		claimed = nil
		res, err := tx.ExecContext(
			ctx,
			`UPDATE scheduled_posts
             SET status = ?, last_attempt = ?, updated_at = ?
             WHERE id = ? AND status IN (?, ?) AND scheduled_time <= ?`,
			project.ScheduledPublishing,
			formatTime(now),
			formatTime(now),
			id,
			project.ScheduledPending,
			project.ScheduledRetry,
			formatTime(cutoff),
		)
		if err != nil {
			return fmt.Errorf("claim scheduled post: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("rows affected: %w", err)
		}
		if affected != 1 {
			return nil
		}
		row := tx.QueryRowContext(ctx, `SELECT `+scheduledColumns+` FROM scheduled_posts WHERE id = ?`, id)
		sp, err := scanScheduledPost(row)
		if err != nil {
			return fmt.Errorf("read claimed post: %w", err)
		}
		claimed = sp
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

// MarkScheduledPublished finalizes a successful publish attempt.
func (s *Store) MarkScheduledPublished(ctx context.Context, id, externalPostID string, now time.Time) error {
	_, err := s.execWithRetry(
		ctx,
		`UPDATE scheduled_posts
         SET status = ?, external_post_id = ?, published_at = ?, updated_at = ?
         WHERE id = ? AND status = ?`,
		project.ScheduledPublished,
		externalPostID,
		formatTime(now),
		formatTime(now),
		id,
		project.ScheduledPublishing,
	)
	if err != nil {
		return fmt.Errorf("mark scheduled published: %w", err)
	}
	return nil
}

// MarkScheduledRetry reschedules a failed attempt with its backoff delay.
func (s *Store) MarkScheduledRetry(ctx context.Context, id string, retryCount int, nextTime time.Time, now time.Time) error {
	_, err := s.execWithRetry(
		ctx,
		`UPDATE scheduled_posts
         SET status = ?, retry_count = ?, scheduled_time = ?, updated_at = ?
         WHERE id = ? AND status = ?`,
		project.ScheduledRetry,
		retryCount,
		formatTime(nextTime),
		formatTime(now),
		id,
		project.ScheduledPublishing,
	)
	if err != nil {
		return fmt.Errorf("mark scheduled retry: %w", err)
	}
	return nil
}

// MarkScheduledFailed records a permanent publish failure.
func (s *Store) MarkScheduledFailed(ctx context.Context, id string, retryCount int, now time.Time) error {
	_, err := s.execWithRetry(
		ctx,
		`UPDATE scheduled_posts
         SET status = ?, retry_count = ?, updated_at = ?
         WHERE id = ? AND status = ?`,
		project.ScheduledFailed,
		retryCount,
		formatTime(now),
		id,
		project.ScheduledPublishing,
	)
	if err != nil {
		return fmt.Errorf("mark scheduled failed: %w", err)
	}
	return nil
}

// CancelScheduledPosts cancels every non-terminal scheduled post for a project.
func (s *Store) CancelScheduledPosts(ctx context.Context, projectID string, now time.Time) (int64, error) {
	res, err := s.execWithRetry(
		ctx,
		`UPDATE scheduled_posts
         SET status = ?, updated_at = ?
         WHERE project_id = ? AND status IN (?, ?)`,
		project.ScheduledCancelled,
		formatTime(now),
		projectID,
		project.ScheduledPending,
		project.ScheduledRetry,
	)
	if err != nil {
		return 0, fmt.Errorf("cancel scheduled posts: %w", err)
	}
	return res.RowsAffected()
}

// RequeueFailedScheduled is the slow safety net behind immediate retries: it
// moves permanently failed posts whose retry budget is not exhausted and
// whose last attempt is older than the cutoff back to pending at nextTime.
func (s *Store) RequeueFailedScheduled(ctx context.Context, maxRetries int, lastAttemptBefore, nextTime time.Time) (int64, error) {
	now := time.Now().UTC()
	res, err := s.execWithRetry(
		ctx,
		`UPDATE scheduled_posts
         SET status = ?, scheduled_time = ?, updated_at = ?
         WHERE status = ? AND retry_count < ?
           AND last_attempt IS NOT NULL AND last_attempt < ?`,
		project.ScheduledPending,
		formatTime(nextTime),
		formatTime(now),
		project.ScheduledFailed,
		maxRetries,
		formatTime(lastAttemptBefore),
	)
	if err != nil {
		return 0, fmt.Errorf("requeue failed scheduled posts: %w", err)
	}
	return res.RowsAffected()
}

func queryScheduled(ctx context.Context, q querier, builder sq.SelectBuilder) ([]*project.ScheduledPost, error) {
	query, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build scheduled post query: %w", err)
	}
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list scheduled posts: %w", err)
	}
	defer rows.Close()

	var scheduled []*project.ScheduledPost
	for rows.Next() {
		sp, err := scanScheduledPost(rows)
		if err != nil {
			return nil, err
		}
		scheduled = append(scheduled, sp)
	}
	return scheduled, rows.Err()
}

func upsertScheduledPostTx(ctx context.Context, tx *sql.Tx, sp *project.ScheduledPost) error {
	_, err := tx.ExecContext(
		ctx,
		`INSERT INTO scheduled_posts (`+scheduledColumns+`)
         VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
         ON CONFLICT(id) DO UPDATE SET
             content = excluded.content,
             scheduled_time = excluded.scheduled_time,
             status = excluded.status,
             retry_count = excluded.retry_count,
             last_attempt = excluded.last_attempt,
             external_post_id = excluded.external_post_id,
             published_at = excluded.published_at,
             updated_at = excluded.updated_at`,
		sp.ID,
		sp.ProjectID,
		sp.PostID,
		sp.Platform,
		sp.Content,
		formatTime(sp.ScheduledTime),
		sp.Status,
		sp.RetryCount,
		nullableTime(sp.LastAttempt),
		nullableString(sp.ExternalPostID),
		nullableTime(sp.PublishedAt),
		formatTime(sp.CreatedAt),
		formatTime(sp.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("upsert scheduled post: %w", err)
	}
	return nil
}

func scanScheduledPost(scanner interface{ Scan(dest ...any) error }) (*project.ScheduledPost, error) {
	var (
		sp             project.ScheduledPost
		platformStr    string
		scheduledRaw   string
		statusStr      string
		lastAttemptRaw sql.NullString
		externalID     sql.NullString
		publishedRaw   sql.NullString
		createdRaw     string
		updatedRaw     string
	)
	if err := scanner.Scan(
		&sp.ID,
		&sp.ProjectID,
		&sp.PostID,
		&platformStr,
		&sp.Content,
		&scheduledRaw,
		&statusStr,
		&sp.RetryCount,
		&lastAttemptRaw,
		&externalID,
		&publishedRaw,
		&createdRaw,
		&updatedRaw,
	); err != nil {
		return nil, err
	}
	sp.Platform = project.Platform(platformStr)
	sp.Status = project.ScheduledStatus(statusStr)
	sp.ExternalPostID = externalID.String
	if scheduled, err := parseTimeString(scheduledRaw); err == nil {
		sp.ScheduledTime = scheduled
	}
	sp.LastAttempt = parseOptionalTime(lastAttemptRaw.String)
	sp.PublishedAt = parseOptionalTime(publishedRaw.String)
	if created, err := parseTimeString(createdRaw); err == nil {
		sp.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw); err == nil {
		sp.UpdatedAt = updated
	}
	return &sp, nil
}
