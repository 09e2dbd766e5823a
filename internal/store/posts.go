package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"postflow/internal/project"
)

const postColumns = "id, project_id, insight_id, platform, content, hashtags_json, status, reject_reason, created_at, updated_at"

// InsertPosts persists newly generated post drafts in one transaction.
func (s *Store) InsertPosts(ctx context.Context, posts []*project.Post) error {
	if len(posts) == 0 {
		return nil
	}
	now := time.Now().UTC()
	return s.withTx(ctx, func(tx *sql.Tx) error {
		for _, post := range posts {
			if post.ID == "" {
				post.ID = uuid.NewString()
			}
			if post.Status == "" {
				post.Status = project.PostDraft
			}
			post.CreatedAt = now
			post.UpdatedAt = now
			if err := upsertPostTx(ctx, tx, post); err != nil {
				return err
			}
		}
		return nil
	})
}

// PostsByProject returns a project's posts in creation order.
func (s *Store) PostsByProject(ctx context.Context, projectID string) ([]*project.Post, error) {
	return postsByProjectQ(ctx, s.db, projectID)
}

func postsByProjectQ(ctx context.Context, q querier, projectID string) ([]*project.Post, error) {
	rows, err := q.QueryContext(
		ctx,
		`SELECT `+postColumns+` FROM posts WHERE project_id = ? ORDER BY created_at, id`,
		projectID,
	)
	if err != nil {
		return nil, fmt.Errorf("list posts: %w", err)
	}
	defer rows.Close()

	var posts []*project.Post
	for rows.Next() {
		post, err := scanPost(rows)
		if err != nil {
			return nil, err
		}
		posts = append(posts, post)
	}
	return posts, rows.Err()
}

// MarkPostPublished flips a single post to the published status. Targeted so
// dispatch workers never have to write a whole-aggregate snapshot.
func (s *Store) MarkPostPublished(ctx context.Context, id string, now time.Time) error {
	_, err := s.execWithRetry(
		ctx,
		`UPDATE posts SET status = ?, updated_at = ? WHERE id = ? AND status != ?`,
		project.PostPublished,
		formatTime(now),
		id,
		project.PostPublished,
	)
	if err != nil {
		return fmt.Errorf("mark post published: %w", err)
	}
	return nil
}

func upsertPostTx(ctx context.Context, tx *sql.Tx, post *project.Post) error {
	var hashtagsJSON any
	if len(post.Hashtags) > 0 {
		data, err := json.Marshal(post.Hashtags)
		if err != nil {
			return fmt.Errorf("marshal hashtags: %w", err)
		}
		hashtagsJSON = string(data)
	}
	_, err := tx.ExecContext(
		ctx,
		`INSERT INTO posts (`+postColumns+`)
         VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
         ON CONFLICT(id) DO UPDATE SET
             content = excluded.content,
             hashtags_json = excluded.hashtags_json,
             status = excluded.status,
             reject_reason = excluded.reject_reason,
             updated_at = excluded.updated_at`,
		post.ID,
		post.ProjectID,
		nullableString(post.InsightID),
		post.Platform,
		post.Content,
		hashtagsJSON,
		post.Status,
		nullableString(post.RejectReason),
		formatTime(post.CreatedAt),
		formatTime(post.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("upsert post: %w", err)
	}
	return nil
}

func scanPost(scanner interface{ Scan(dest ...any) error }) (*project.Post, error) {
	var (
		post         project.Post
		insightID    sql.NullString
		platformStr  string
		hashtagsJSON sql.NullString
		statusStr    string
		rejectReason sql.NullString
		createdRaw   string
		updatedRaw   string
	)
	if err := scanner.Scan(
		&post.ID,
		&post.ProjectID,
		&insightID,
		&platformStr,
		&post.Content,
		&hashtagsJSON,
		&statusStr,
		&rejectReason,
		&createdRaw,
		&updatedRaw,
	); err != nil {
		return nil, err
	}
	post.InsightID = insightID.String
	post.Platform = project.Platform(platformStr)
	post.Status = project.PostStatus(statusStr)
	post.RejectReason = rejectReason.String
	if hashtagsJSON.Valid && hashtagsJSON.String != "" {
		if err := json.Unmarshal([]byte(hashtagsJSON.String), &post.Hashtags); err != nil {
			return nil, fmt.Errorf("unmarshal hashtags: %w", err)
		}
	}
	if created, err := parseTimeString(createdRaw); err == nil {
		post.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw); err == nil {
		post.UpdatedAt = updated
	}
	return &post, nil
}
