package project

import (
	"fmt"
	"time"

	"postflow/internal/services"
	"postflow/internal/stages"
)

// Aggregate is a loaded project with its child collections. Mutating
// operations validate invariants, update state in place, and return the
// events the mutation produced; the caller owns durable persistence of both
// the state and the events.
type Aggregate struct {
	Project   *Project
	Insights  []*Insight
	Posts     []*Post
	Scheduled []*ScheduledPost
}

// TransitionTo moves the project to the target stage after validating the
// edge against the lifecycle graph. Invalid transitions mutate nothing.
func (a *Aggregate) TransitionTo(to stages.Stage, now time.Time) ([]Event, error) {
	from := a.Project.Stage
	if !stages.IsValidTransition(from, to) {
		return nil, services.Wrap(services.ErrInvalidTransition, "project", "transition",
			fmt.Sprintf("%s -> %s", from, to), nil)
	}
	a.Project.Stage = to
	a.Project.Progress = stages.ProgressFor(to, a.Project.Progress)
	a.Project.LastActivityAt = now
	a.Project.UpdatedAt = now

	return []Event{{
		ProjectID:  a.Project.ID,
		Type:       EventStageChanged,
		Name:       "StageChanged",
		Data:       map[string]any{"from": string(from), "to": string(to)},
		OccurredAt: now,
	}}, nil
}

// RequireStage fails with InvalidOperation unless the current stage matches
// one of the allowed source stages. Stage-gated operations call this first so
// a stale caller gets an error, not a silent no-op.
func (a *Aggregate) RequireStage(operation string, allowed ...stages.Stage) error {
	for _, stage := range allowed {
		if a.Project.Stage == stage {
			return nil
		}
	}
	return services.Wrap(services.ErrInvalidOperation, "project", operation,
		fmt.Sprintf("stage %s does not allow this operation", a.Project.Stage), nil)
}

// StartProcessing begins transcript cleanup. The project must still be in
// raw content.
func (a *Aggregate) StartProcessing(now time.Time) ([]Event, error) {
	if err := a.RequireStage("start_processing", stages.StageRawContent); err != nil {
		return nil, err
	}
	return a.TransitionTo(stages.StageProcessingContent, now)
}

// ApproveInsight marks one insight approved. When that review leaves every
// insight reviewed with at least one approval, the project auto-advances to
// insights approved.
func (a *Aggregate) ApproveInsight(id string, now time.Time) ([]Event, error) {
	insight, err := a.findInsight(id)
	if err != nil {
		return nil, err
	}
	insight.Status = InsightApproved
	insight.RejectReason = ""
	insight.UpdatedAt = now
	a.Project.LastActivityAt = now

	events := []Event{{
		ProjectID:  a.Project.ID,
		Type:       EventInsightApproved,
		Name:       "InsightApproved",
		Data:       map[string]any{"insight_id": id, "total_score": insight.TotalScore},
		OccurredAt: now,
	}}
	advance, err := a.maybeAdvanceAfterInsightReview(now)
	if err != nil {
		return nil, err
	}
	return append(events, advance...), nil
}

// RejectInsight marks one insight rejected with a reason.
func (a *Aggregate) RejectInsight(id, reason string, now time.Time) ([]Event, error) {
	insight, err := a.findInsight(id)
	if err != nil {
		return nil, err
	}
	insight.Status = InsightRejected
	insight.RejectReason = reason
	insight.UpdatedAt = now
	a.Project.LastActivityAt = now

	events := []Event{{
		ProjectID:  a.Project.ID,
		Type:       EventInsightRejected,
		Name:       "InsightRejected",
		Data:       map[string]any{"insight_id": id, "reason": reason},
		OccurredAt: now,
	}}
	advance, err := a.maybeAdvanceAfterInsightReview(now)
	if err != nil {
		return nil, err
	}
	return append(events, advance...), nil
}

// ApprovePost marks one post approved, auto-advancing to posts approved once
// every post is reviewed and at least one survived.
func (a *Aggregate) ApprovePost(id string, now time.Time) ([]Event, error) {
	post, err := a.findPost(id)
	if err != nil {
		return nil, err
	}
	if post.Status == PostPublished {
		return nil, services.Wrap(services.ErrInvalidOperation, "project", "approve_post",
			"post already published", nil)
	}
	post.Status = PostApproved
	post.RejectReason = ""
	post.UpdatedAt = now
	a.Project.LastActivityAt = now

	events := []Event{{
		ProjectID:  a.Project.ID,
		Type:       EventPostApproved,
		Name:       "PostApproved",
		Data:       map[string]any{"post_id": id, "platform": string(post.Platform)},
		OccurredAt: now,
	}}
	advance, err := a.maybeAdvanceAfterPostReview(now)
	if err != nil {
		return nil, err
	}
	return append(events, advance...), nil
}

// RejectPost marks one post rejected with a reason.
func (a *Aggregate) RejectPost(id, reason string, now time.Time) ([]Event, error) {
	post, err := a.findPost(id)
	if err != nil {
		return nil, err
	}
	if post.Status == PostPublished {
		return nil, services.Wrap(services.ErrInvalidOperation, "project", "reject_post",
			"post already published", nil)
	}
	post.Status = PostRejected
	post.RejectReason = reason
	post.UpdatedAt = now
	a.Project.LastActivityAt = now

	events := []Event{{
		ProjectID:  a.Project.ID,
		Type:       EventPostRejected,
		Name:       "PostRejected",
		Data:       map[string]any{"post_id": id, "reason": reason},
		OccurredAt: now,
	}}
	advance, err := a.maybeAdvanceAfterPostReview(now)
	if err != nil {
		return nil, err
	}
	return append(events, advance...), nil
}

// Archive moves the project to the archived stage, freezing its progress.
func (a *Aggregate) Archive(reason string, now time.Time) ([]Event, error) {
	if a.Project.Stage == stages.StageArchived {
		return nil, services.Wrap(services.ErrInvalidOperation, "project", "archive",
			"project already archived", nil)
	}
	events, err := a.TransitionTo(stages.StageArchived, now)
	if err != nil {
		return nil, err
	}
	events = append(events, Event{
		ProjectID:  a.Project.ID,
		Type:       EventProjectArchived,
		Name:       "ProjectArchived",
		Data:       map[string]any{"reason": reason},
		OccurredAt: now,
	})
	return events, nil
}

// Restore returns an archived project to raw content.
func (a *Aggregate) Restore(now time.Time) ([]Event, error) {
	if err := a.RequireStage("restore", stages.StageArchived); err != nil {
		return nil, err
	}
	events, err := a.TransitionTo(stages.StageRawContent, now)
	if err != nil {
		return nil, err
	}
	events = append(events, Event{
		ProjectID:  a.Project.ID,
		Type:       EventProjectRestored,
		Name:       "ProjectRestored",
		OccurredAt: now,
	})
	return events, nil
}

// ApprovedInsights returns the approved subset in creation order.
func (a *Aggregate) ApprovedInsights() []*Insight {
	var approved []*Insight
	for _, insight := range a.Insights {
		if insight.Status == InsightApproved {
			approved = append(approved, insight)
		}
	}
	return approved
}

// ApprovedPosts returns the approved subset in creation order.
func (a *Aggregate) ApprovedPosts() []*Post {
	var approved []*Post
	for _, post := range a.Posts {
		if post.Status == PostApproved {
			approved = append(approved, post)
		}
	}
	return approved
}

// RecomputeMetrics refreshes the rollup snapshot from the loaded children.
func (a *Aggregate) RecomputeMetrics() Metrics {
	a.Project.Metrics = ComputeMetrics(a.Project, a.Insights, a.Posts, a.Scheduled)
	return a.Project.Metrics
}

func (a *Aggregate) maybeAdvanceAfterInsightReview(now time.Time) ([]Event, error) {
	if a.Project.Stage != stages.StageInsightsReady {
		return nil, nil
	}
	reviewed, approved := reviewProgress(a.Insights)
	if !reviewed || approved == 0 {
		return nil, nil
	}
	return a.TransitionTo(stages.StageInsightsApproved, now)
}

func (a *Aggregate) maybeAdvanceAfterPostReview(now time.Time) ([]Event, error) {
	if a.Project.Stage != stages.StagePostsGenerated {
		return nil, nil
	}
	allReviewed := len(a.Posts) > 0
	approvedCount := 0
	for _, post := range a.Posts {
		switch post.Status {
		case PostApproved:
			approvedCount++
		case PostRejected, PostPublished:
		default:
			allReviewed = false
		}
	}
	if !allReviewed || approvedCount == 0 {
		return nil, nil
	}
	return a.TransitionTo(stages.StagePostsApproved, now)
}

func reviewProgress(insights []*Insight) (allReviewed bool, approved int) {
	allReviewed = len(insights) > 0
	for _, insight := range insights {
		switch insight.Status {
		case InsightApproved:
			approved++
		case InsightRejected:
		default:
			allReviewed = false
		}
	}
	return allReviewed, approved
}

func (a *Aggregate) findInsight(id string) (*Insight, error) {
	for _, insight := range a.Insights {
		if insight.ID == id {
			return insight, nil
		}
	}
	return nil, services.Wrap(services.ErrNotFound, "project", "insight", id, nil)
}

func (a *Aggregate) findPost(id string) (*Post, error) {
	for _, post := range a.Posts {
		if post.ID == id {
			return post, nil
		}
	}
	return nil, services.Wrap(services.ErrNotFound, "project", "post", id, nil)
}
