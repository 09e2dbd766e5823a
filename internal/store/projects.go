package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"

	"postflow/internal/project"
	"postflow/internal/stages"
)

const projectColumns = "id, title, stage, progress, raw_transcript, cleaned_content, workflow_json, metrics_json, created_at, updated_at, last_activity_at"

// CreateProject inserts a new project in the raw content stage.
func (s *Store) CreateProject(ctx context.Context, title, rawTranscript string, workflow project.WorkflowConfig) (*project.Project, error) {
	now := time.Now().UTC()
	p := &project.Project{
		ID:             uuid.NewString(),
		Title:          title,
		Stage:          stages.StageRawContent,
		Progress:       0,
		RawTranscript:  rawTranscript,
		Workflow:       workflow,
		CreatedAt:      now,
		UpdatedAt:      now,
		LastActivityAt: now,
	}
	p.Metrics = project.ComputeMetrics(p, nil, nil, nil)

	workflowJSON, err := json.Marshal(p.Workflow)
	if err != nil {
		return nil, fmt.Errorf("marshal workflow config: %w", err)
	}
	metricsJSON, err := json.Marshal(p.Metrics)
	if err != nil {
		return nil, fmt.Errorf("marshal metrics: %w", err)
	}

	_, err = s.execWithRetry(
		ctx,
		`INSERT INTO projects (`+projectColumns+`)
         VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID,
		p.Title,
		p.Stage,
		p.Progress,
		nullableString(p.RawTranscript),
		nullableString(p.CleanedContent),
		string(workflowJSON),
		string(metricsJSON),
		formatTime(p.CreatedAt),
		formatTime(p.UpdatedAt),
		formatTime(p.LastActivityAt),
	)
	if err != nil {
		return nil, fmt.Errorf("insert project: %w", err)
	}
	return p, nil
}

// GetProject fetches a project by identifier. Returns nil when absent.
func (s *Store) GetProject(ctx context.Context, id string) (*project.Project, error) {
	return getProjectQ(ctx, s.db, id)
}

func getProjectQ(ctx context.Context, q querier, id string) (*project.Project, error) {
	row := q.QueryRowContext(ctx, `SELECT `+projectColumns+` FROM projects WHERE id = ?`, id)
	p, err := scanProject(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get project: %w", err)
	}
	return p, nil
}

// ListProjects returns projects filtered by stage set (or all projects when
// no stage is provided), newest activity first.
func (s *Store) ListProjects(ctx context.Context, stageFilter ...stages.Stage) ([]*project.Project, error) {
	builder := qb.Select(projectColumns).From("projects").OrderBy("last_activity_at DESC")
	if len(stageFilter) > 0 {
		values := make([]string, len(stageFilter))
		for i, stage := range stageFilter {
			values[i] = string(stage)
		}
		builder = builder.Where(sq.Eq{"stage": values})
	}
	query, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build project list query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	defer rows.Close()

	var projects []*project.Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		projects = append(projects, p)
	}
	return projects, rows.Err()
}

// UpdateProject persists changes to an existing project row.
func (s *Store) UpdateProject(ctx context.Context, p *project.Project) error {
	if p == nil {
		return errors.New("project is nil")
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		return updateProjectTx(ctx, tx, p)
	})
}

// DeleteProject removes a project and, via cascade, every child row.
func (s *Store) DeleteProject(ctx context.Context, id string) (bool, error) {
	res, err := s.execWithRetry(ctx, `DELETE FROM projects WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("delete project: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected > 0, nil
}

// LoadAggregate fetches a project with all child collections.
func (s *Store) LoadAggregate(ctx context.Context, id string) (*project.Aggregate, error) {
	return loadAggregateQ(ctx, s.db, id)
}

func loadAggregateQ(ctx context.Context, q querier, id string) (*project.Aggregate, error) {
	p, err := getProjectQ(ctx, q, id)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, nil
	}
	insights, err := insightsByProjectQ(ctx, q, id)
	if err != nil {
		return nil, err
	}
	posts, err := postsByProjectQ(ctx, q, id)
	if err != nil {
		return nil, err
	}
	scheduled, err := scheduledByProjectQ(ctx, q, id)
	if err != nil {
		return nil, err
	}
	return &project.Aggregate{
		Project:   p,
		Insights:  insights,
		Posts:     posts,
		Scheduled: scheduled,
	}, nil
}

// ResolveAggregate loads the aggregate inside one transaction, applies fn,
// and persists only the project row plus the events fn returns. Child rows
// are never written back, so a stale in-memory snapshot cannot overwrite
// state committed by a concurrent worker. fn sees the child rows as of the
// transaction and may be retried when the database is busy; a nil aggregate
// (project deleted) skips fn entirely.
func (s *Store) ResolveAggregate(ctx context.Context, projectID string, fn func(agg *project.Aggregate) ([]project.Event, error)) error {
	var emitted []project.Event
	if err := s.withTx(ctx, func(tx *sql.Tx) error {
		emitted = nil
		agg, err := loadAggregateQ(ctx, tx, projectID)
		if err != nil {
			return err
		}
		if agg == nil {
			return nil
		}
		events, err := fn(agg)
		if err != nil {
			return err
		}
		if err := updateProjectTx(ctx, tx, agg.Project); err != nil {
			return err
		}
		if err := appendEventsTx(ctx, tx, events); err != nil {
			return err
		}
		emitted = events
		return nil
	}); err != nil {
		return err
	}
	s.emitEvents(emitted)
	return nil
}

// SaveAggregate persists a mutated aggregate and its emitted events in one
// transaction: project row, child upserts, then the event append.
func (s *Store) SaveAggregate(ctx context.Context, agg *project.Aggregate, events []project.Event) error {
	if agg == nil || agg.Project == nil {
		return errors.New("aggregate is nil")
	}
	if err := s.withTx(ctx, func(tx *sql.Tx) error {
		if err := updateProjectTx(ctx, tx, agg.Project); err != nil {
			return err
		}
		for _, insight := range agg.Insights {
			if err := upsertInsightTx(ctx, tx, insight); err != nil {
				return err
			}
		}
		for _, post := range agg.Posts {
			if err := upsertPostTx(ctx, tx, post); err != nil {
				return err
			}
		}
		for _, sp := range agg.Scheduled {
			if err := upsertScheduledPostTx(ctx, tx, sp); err != nil {
				return err
			}
		}
		return appendEventsTx(ctx, tx, events)
	}); err != nil {
		return err
	}
	s.emitEvents(events)
	return nil
}

func updateProjectTx(ctx context.Context, tx *sql.Tx, p *project.Project) error {
	p.UpdatedAt = time.Now().UTC()
	workflowJSON, err := json.Marshal(p.Workflow)
	if err != nil {
		return fmt.Errorf("marshal workflow config: %w", err)
	}
	metricsJSON, err := json.Marshal(p.Metrics)
	if err != nil {
		return fmt.Errorf("marshal metrics: %w", err)
	}
	_, err = tx.ExecContext(
		ctx,
		`UPDATE projects
         SET title = ?, stage = ?, progress = ?, raw_transcript = ?, cleaned_content = ?,
             workflow_json = ?, metrics_json = ?, updated_at = ?, last_activity_at = ?
         WHERE id = ?`,
		p.Title,
		p.Stage,
		p.Progress,
		nullableString(p.RawTranscript),
		nullableString(p.CleanedContent),
		string(workflowJSON),
		string(metricsJSON),
		formatTime(p.UpdatedAt),
		formatTime(p.LastActivityAt),
		p.ID,
	)
	if err != nil {
		return fmt.Errorf("update project: %w", err)
	}
	return nil
}

func scanProject(scanner interface{ Scan(dest ...any) error }) (*project.Project, error) {
	var (
		id            string
		title         string
		stageStr      string
		progress      int
		rawTranscript sql.NullString
		cleaned       sql.NullString
		workflowJSON  sql.NullString
		metricsJSON   sql.NullString
		createdRaw    string
		updatedRaw    string
		activityRaw   string
	)
	if err := scanner.Scan(
		&id,
		&title,
		&stageStr,
		&progress,
		&rawTranscript,
		&cleaned,
		&workflowJSON,
		&metricsJSON,
		&createdRaw,
		&updatedRaw,
		&activityRaw,
	); err != nil {
		return nil, err
	}

	p := &project.Project{
		ID:             id,
		Title:          title,
		Stage:          stages.Stage(stageStr),
		Progress:       progress,
		RawTranscript:  rawTranscript.String,
		CleanedContent: cleaned.String,
	}
	if workflowJSON.Valid && workflowJSON.String != "" {
		if err := json.Unmarshal([]byte(workflowJSON.String), &p.Workflow); err != nil {
			return nil, fmt.Errorf("unmarshal workflow config: %w", err)
		}
	}
	if metricsJSON.Valid && metricsJSON.String != "" {
		if err := json.Unmarshal([]byte(metricsJSON.String), &p.Metrics); err != nil {
			return nil, fmt.Errorf("unmarshal metrics: %w", err)
		}
	}
	if created, err := parseTimeString(createdRaw); err == nil {
		p.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw); err == nil {
		p.UpdatedAt = updated
	}
	if activity, err := parseTimeString(activityRaw); err == nil {
		p.LastActivityAt = activity
	}
	return p, nil
}
