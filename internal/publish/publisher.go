package publish

import (
	"context"

	"postflow/internal/project"
)

// Publisher is the per-platform adapter the dispatcher hands claimed posts
// to. A timed-out attempt is a failed attempt, never a silent drop.
type Publisher interface {
	Platform() project.Platform
	Publish(ctx context.Context, post *project.ScheduledPost) (externalID string, err error)
	ValidateCredentials(ctx context.Context) error
}
