package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"

	"postflow/internal/project"
)

const eventColumns = "id, project_id, event_type, event_name, data_json, occurred_at, user_id"

// AppendEvents records audit events outside of an aggregate save, such as
// dispatcher outcomes.
func (s *Store) AppendEvents(ctx context.Context, events []project.Event) error {
	if len(events) == 0 {
		return nil
	}
	if err := s.withTx(ctx, func(tx *sql.Tx) error {
		return appendEventsTx(ctx, tx, events)
	}); err != nil {
		return err
	}
	s.emitEvents(events)
	return nil
}

// EventsByProject returns a project's event log, newest first.
func (s *Store) EventsByProject(ctx context.Context, projectID string, limit int) ([]project.Event, error) {
	builder := qb.Select(eventColumns).
		From("project_events").
		Where(sq.Eq{"project_id": projectID}).
		OrderBy("occurred_at DESC", "id DESC")
	if limit > 0 {
		builder = builder.Limit(uint64(limit))
	}
	query, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build event query: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var events []project.Event
	for rows.Next() {
		var (
			ev          project.Event
			dataRaw     sql.NullString
			occurredRaw string
			userID      sql.NullString
		)
		if err := rows.Scan(&ev.ID, &ev.ProjectID, &ev.Type, &ev.Name, &dataRaw, &occurredRaw, &userID); err != nil {
			return nil, err
		}
		if dataRaw.Valid && dataRaw.String != "" {
			if err := json.Unmarshal([]byte(dataRaw.String), &ev.Data); err != nil {
				return nil, fmt.Errorf("decode event data: %w", err)
			}
		}
		if occurred, err := parseTimeString(occurredRaw); err == nil {
			ev.OccurredAt = occurred
		}
		ev.UserID = userID.String
		events = append(events, ev)
	}
	return events, rows.Err()
}

func appendEventsTx(ctx context.Context, tx *sql.Tx, events []project.Event) error {
	for _, ev := range events {
		if ev.ID == "" {
			ev.ID = uuid.NewString()
		}
		if ev.OccurredAt.IsZero() {
			ev.OccurredAt = time.Now().UTC()
		}
		var dataJSON any
		if len(ev.Data) > 0 {
			encoded, err := json.Marshal(ev.Data)
			if err != nil {
				return fmt.Errorf("encode event data: %w", err)
			}
			dataJSON = string(encoded)
		}
		if _, err := tx.ExecContext(
			ctx,
			`INSERT INTO project_events (`+eventColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)`,
			ev.ID,
			ev.ProjectID,
			ev.Type,
			ev.Name,
			dataJSON,
			formatTime(ev.OccurredAt),
			nullableString(ev.UserID),
		); err != nil {
			return fmt.Errorf("append event: %w", err)
		}
	}
	return nil
}
