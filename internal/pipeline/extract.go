package pipeline

import (
	"context"
	"time"

	"github.com/google/uuid"

	"postflow/internal/project"
	"postflow/internal/services"
	"postflow/internal/stages"
)

// extractStep mines scored insights out of the cleaned content and moves the
// project into review. With auto-approval enabled, insights at or above the
// configured score are approved immediately.
type extractStep struct {
	gen         Generator
	maxInsights int
}

func (s *extractStep) JobType() project.JobType { return project.JobExtractInsights }

func (s *extractStep) Run(ctx context.Context, agg *project.Aggregate, now time.Time) (stepResult, error) {
	if err := agg.RequireStage("extract_insights", stages.StageProcessingContent); err != nil {
		return stepResult{}, err
	}
	source := agg.Project.CleanedContent
	if source == "" {
		source = agg.Project.RawTranscript
	}
	drafts, err := s.gen.ExtractInsights(ctx, source, s.maxInsights)
	if err != nil {
		return stepResult{}, services.Wrap(services.ErrExternal, "pipeline", "extract_insights", "generation call failed", err)
	}

	for _, draft := range drafts {
		insight := &project.Insight{
			ID:           uuid.NewString(),
			ProjectID:    agg.Project.ID,
			Content:      draft.Content,
			Urgency:      draft.Urgency,
			Relatability: draft.Relatability,
			Specificity:  draft.Specificity,
			Authority:    draft.Authority,
			Status:       project.InsightDraft,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		insight.TotalScore = insight.ComputeTotalScore()
		agg.Insights = append(agg.Insights, insight)
	}

	events, err := agg.TransitionTo(stages.StageInsightsReady, now)
	if err != nil {
		return stepResult{}, err
	}

	if agg.Project.Workflow.AutoApproveInsights {
		threshold := agg.Project.Workflow.MinInsightScore
		for _, insight := range agg.Insights {
			if insight.Status != project.InsightDraft || insight.TotalScore < threshold {
				continue
			}
			approveEvents, err := agg.ApproveInsight(insight.ID, now)
			if err != nil {
				return stepResult{}, err
			}
			events = append(events, approveEvents...)
		}
	}
	agg.RecomputeMetrics()

	result := stepResult{
		resultCount: len(drafts),
		events:      events,
	}
	if agg.Project.Stage == stages.StageInsightsApproved && agg.Project.Workflow.AutoGeneratePosts {
		result.followUp = project.JobGeneratePosts
	}
	return result, nil
}
