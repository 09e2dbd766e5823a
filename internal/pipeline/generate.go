package pipeline

import (
	"context"
	"time"

	"github.com/google/uuid"

	"postflow/internal/project"
	"postflow/internal/services"
	"postflow/internal/stages"
)

// generateStep drafts one post per approved insight and target platform.
type generateStep struct {
	gen Generator
}

func (s *generateStep) JobType() project.JobType { return project.JobGeneratePosts }

func (s *generateStep) Run(ctx context.Context, agg *project.Aggregate, now time.Time) (stepResult, error) {
	if err := agg.RequireStage("generate_posts", stages.StageInsightsApproved); err != nil {
		return stepResult{}, err
	}
	approved := agg.ApprovedInsights()
	if len(approved) == 0 {
		return stepResult{}, services.Wrap(services.ErrInvalidOperation, "pipeline", "generate_posts",
			"no approved insights to generate posts from", nil)
	}
	platforms := agg.Project.Workflow.TargetPlatforms
	if len(platforms) == 0 {
		return stepResult{}, services.Wrap(services.ErrValidation, "pipeline", "generate_posts",
			"no target platforms configured", nil)
	}

	var generated int
	for _, insight := range approved {
		for _, platform := range platforms {
			draft, err := s.gen.GeneratePost(ctx, insight.Content, platform)
			if err != nil {
				return stepResult{}, services.Wrap(services.ErrExternal, "pipeline", "generate_posts", "generation call failed", err)
			}
			agg.Posts = append(agg.Posts, &project.Post{
				ID:        uuid.NewString(),
				ProjectID: agg.Project.ID,
				InsightID: insight.ID,
				Platform:  platform,
				Content:   draft.Content,
				Hashtags:  draft.Hashtags,
				Status:    project.PostDraft,
				CreatedAt: now,
				UpdatedAt: now,
			})
			generated++
		}
	}

	events, err := agg.TransitionTo(stages.StagePostsGenerated, now)
	if err != nil {
		return stepResult{}, err
	}
	agg.RecomputeMetrics()

	return stepResult{
		resultCount: generated,
		events:      events,
	}, nil
}
