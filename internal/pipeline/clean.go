package pipeline

import (
	"context"
	"time"

	"postflow/internal/project"
	"postflow/internal/services"
	"postflow/internal/stages"
)

// cleanStep rewrites the raw transcript into cleaned content and chains
// straight into insight extraction.
type cleanStep struct {
	gen Generator
}

func (s *cleanStep) JobType() project.JobType { return project.JobCleanTranscript }

func (s *cleanStep) Run(ctx context.Context, agg *project.Aggregate, now time.Time) (stepResult, error) {
	if err := agg.RequireStage("clean_transcript", stages.StageProcessingContent); err != nil {
		return stepResult{}, err
	}
	cleaned, err := s.gen.CleanTranscript(ctx, agg.Project.RawTranscript)
	if err != nil {
		return stepResult{}, services.Wrap(services.ErrExternal, "pipeline", "clean_transcript", "generation call failed", err)
	}
	agg.Project.CleanedContent = cleaned
	agg.Project.LastActivityAt = now
	agg.Project.UpdatedAt = now
	agg.RecomputeMetrics()

	return stepResult{
		resultCount: 1,
		followUp:    project.JobExtractInsights,
	}, nil
}
