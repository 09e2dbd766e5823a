package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"postflow/internal/project"
)

const insightColumns = "id, project_id, content, urgency, relatability, specificity, authority, total_score, status, reject_reason, created_at, updated_at"

// InsertInsights persists newly extracted insights in one transaction.
// IDs and timestamps are assigned here; total scores are recomputed from the
// bounded sub-scores.
func (s *Store) InsertInsights(ctx context.Context, insights []*project.Insight) error {
	if len(insights) == 0 {
		return nil
	}
	now := time.Now().UTC()
	return s.withTx(ctx, func(tx *sql.Tx) error {
		for _, insight := range insights {
			if insight.ID == "" {
				insight.ID = uuid.NewString()
			}
			if insight.Status == "" {
				insight.Status = project.InsightDraft
			}
			insight.TotalScore = insight.ComputeTotalScore()
			insight.CreatedAt = now
			insight.UpdatedAt = now
			if err := upsertInsightTx(ctx, tx, insight); err != nil {
				return err
			}
		}
		return nil
	})
}

// InsightsByProject returns a project's insights in creation order.
func (s *Store) InsightsByProject(ctx context.Context, projectID string) ([]*project.Insight, error) {
	return insightsByProjectQ(ctx, s.db, projectID)
}

func insightsByProjectQ(ctx context.Context, q querier, projectID string) ([]*project.Insight, error) {
	rows, err := q.QueryContext(
		ctx,
		`SELECT `+insightColumns+` FROM insights WHERE project_id = ? ORDER BY created_at, id`,
		projectID,
	)
	if err != nil {
		return nil, fmt.Errorf("list insights: %w", err)
	}
	defer rows.Close()

	var insights []*project.Insight
	for rows.Next() {
		insight, err := scanInsight(rows)
		if err != nil {
			return nil, err
		}
		insights = append(insights, insight)
	}
	return insights, rows.Err()
}

func upsertInsightTx(ctx context.Context, tx *sql.Tx, insight *project.Insight) error {
	_, err := tx.ExecContext(
		ctx,
		`INSERT INTO insights (`+insightColumns+`)
         VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
         ON CONFLICT(id) DO UPDATE SET
             content = excluded.content,
             urgency = excluded.urgency,
             relatability = excluded.relatability,
             specificity = excluded.specificity,
             authority = excluded.authority,
             total_score = excluded.total_score,
             status = excluded.status,
             reject_reason = excluded.reject_reason,
             updated_at = excluded.updated_at`,
		insight.ID,
		insight.ProjectID,
		insight.Content,
		insight.Urgency,
		insight.Relatability,
		insight.Specificity,
		insight.Authority,
		insight.TotalScore,
		insight.Status,
		nullableString(insight.RejectReason),
		formatTime(insight.CreatedAt),
		formatTime(insight.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("upsert insight: %w", err)
	}
	return nil
}

func scanInsight(scanner interface{ Scan(dest ...any) error }) (*project.Insight, error) {
	var (
		insight      project.Insight
		statusStr    string
		rejectReason sql.NullString
		createdRaw   string
		updatedRaw   string
	)
	if err := scanner.Scan(
		&insight.ID,
		&insight.ProjectID,
		&insight.Content,
		&insight.Urgency,
		&insight.Relatability,
		&insight.Specificity,
		&insight.Authority,
		&insight.TotalScore,
		&statusStr,
		&rejectReason,
		&createdRaw,
		&updatedRaw,
	); err != nil {
		return nil, err
	}
	insight.Status = project.InsightStatus(statusStr)
	insight.RejectReason = rejectReason.String
	if created, err := parseTimeString(createdRaw); err == nil {
		insight.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw); err == nil {
		insight.UpdatedAt = updated
	}
	return &insight, nil
}
