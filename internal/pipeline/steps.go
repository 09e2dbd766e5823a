package pipeline

import (
	"context"
	"time"

	"postflow/internal/project"
	"postflow/internal/services/content"
)

// Generator is the content generation dependency behind the automated steps.
type Generator interface {
	CleanTranscript(ctx context.Context, raw string) (string, error)
	ExtractInsights(ctx context.Context, cleaned string, maxInsights int) ([]content.InsightDraft, error)
	GeneratePost(ctx context.Context, insight string, platform project.Platform) (content.PostDraft, error)
}

// stepResult carries what a completed step produced: the number of items for
// the job record, the events to append, and an optional next job to enqueue.
type stepResult struct {
	resultCount int
	events      []project.Event
	followUp    project.JobType
}

// stepHandler executes one typed pipeline step against a loaded aggregate.
// The manager persists the mutated aggregate and events on success; a
// handler must not write to the store itself.
type stepHandler interface {
	JobType() project.JobType
	Run(ctx context.Context, agg *project.Aggregate, now time.Time) (stepResult, error)
}
