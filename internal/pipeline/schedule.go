package pipeline

import (
	"context"
	"time"

	"github.com/google/uuid"

	"postflow/internal/project"
	"postflow/internal/publish"
	"postflow/internal/stages"
)

// scheduleStep assigns publish slots to the approved posts and hands the
// project to the dispatcher.
type scheduleStep struct{}

func (s *scheduleStep) JobType() project.JobType { return project.JobSchedulePosts }

func (s *scheduleStep) Run(ctx context.Context, agg *project.Aggregate, now time.Time) (stepResult, error) {
	if err := agg.RequireStage("schedule_posts", stages.StagePostsApproved); err != nil {
		return stepResult{}, err
	}
	scheduled, err := publish.AssignScheduleTimes(agg, now)
	if err != nil {
		return stepResult{}, err
	}
	for _, sp := range scheduled {
		sp.ID = uuid.NewString()
		sp.CreatedAt = now
		sp.UpdatedAt = now
		agg.Scheduled = append(agg.Scheduled, sp)
	}

	events, err := agg.TransitionTo(stages.StageScheduled, now)
	if err != nil {
		return stepResult{}, err
	}
	events = append(events, project.Event{
		ProjectID:  agg.Project.ID,
		Type:       project.EventPostsScheduled,
		Name:       "PostsScheduled",
		Data:       map[string]any{"count": len(scheduled)},
		OccurredAt: now,
	})
	agg.RecomputeMetrics()

	return stepResult{
		resultCount: len(scheduled),
		events:      events,
	}, nil
}
