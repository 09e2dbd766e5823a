package project_test

import (
	"errors"
	"reflect"
	"testing"
	"time"

	"postflow/internal/project"
	"postflow/internal/services"
	"postflow/internal/stages"
)

var testNow = time.Date(2026, time.March, 10, 12, 0, 0, 0, time.UTC)

func newAggregate(stage stages.Stage) *project.Aggregate {
	return &project.Aggregate{
		Project: &project.Project{
			ID:       "proj-1",
			Title:    "Launch recap",
			Stage:    stage,
			Progress: stages.ProgressFor(stage, 0),
		},
	}
}

func TestTransitionToValidEdge(t *testing.T) {
	agg := newAggregate(stages.StageRawContent)
	events, err := agg.TransitionTo(stages.StageProcessingContent, testNow)
	if err != nil {
		t.Fatalf("TransitionTo: %v", err)
	}
	if agg.Project.Stage != stages.StageProcessingContent {
		t.Fatalf("stage = %s", agg.Project.Stage)
	}
	if agg.Project.Progress != 10 {
		t.Fatalf("progress = %d, want 10", agg.Project.Progress)
	}
	if len(events) != 1 || events[0].Type != project.EventStageChanged {
		t.Fatalf("unexpected events: %+v", events)
	}
	if events[0].Data["from"] != "raw_content" || events[0].Data["to"] != "processing_content" {
		t.Fatalf("unexpected event data: %+v", events[0].Data)
	}
}

func TestTransitionToInvalidEdgeMutatesNothing(t *testing.T) {
	agg := newAggregate(stages.StageRawContent)
	before := *agg.Project
	events, err := agg.TransitionTo(stages.StagePublished, testNow)
	if !errors.Is(err, services.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
	if len(events) != 0 {
		t.Fatalf("expected no events, got %d", len(events))
	}
	if !reflect.DeepEqual(*agg.Project, before) {
		t.Fatal("invalid transition mutated project state")
	}
}

func TestArchiveFreezesProgressAndRestoreResets(t *testing.T) {
	agg := newAggregate(stages.StageScheduled)
	if agg.Project.Progress != 85 {
		t.Fatalf("precondition: progress = %d", agg.Project.Progress)
	}
	if _, err := agg.Archive("cleanup", testNow); err != nil {
		t.Fatalf("Archive: %v", err)
	}
	if agg.Project.Stage != stages.StageArchived {
		t.Fatalf("stage = %s", agg.Project.Stage)
	}
	if agg.Project.Progress != 85 {
		t.Fatalf("archive changed progress to %d", agg.Project.Progress)
	}

	if _, err := agg.Archive("again", testNow); !errors.Is(err, services.ErrInvalidOperation) {
		t.Fatalf("double archive should fail with ErrInvalidOperation, got %v", err)
	}

	if _, err := agg.Restore(testNow); err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if agg.Project.Stage != stages.StageRawContent || agg.Project.Progress != 0 {
		t.Fatalf("restore: stage=%s progress=%d", agg.Project.Stage, agg.Project.Progress)
	}
}

func TestRestoreRequiresArchived(t *testing.T) {
	agg := newAggregate(stages.StageScheduled)
	if _, err := agg.Restore(testNow); !errors.Is(err, services.ErrInvalidOperation) {
		t.Fatalf("expected ErrInvalidOperation, got %v", err)
	}
}

func TestStartProcessingGuard(t *testing.T) {
	agg := newAggregate(stages.StageRawContent)
	if _, err := agg.StartProcessing(testNow); err != nil {
		t.Fatalf("StartProcessing: %v", err)
	}
	if agg.Project.Stage != stages.StageProcessingContent {
		t.Fatalf("stage = %s", agg.Project.Stage)
	}

	stale := newAggregate(stages.StagePublishing)
	if _, err := stale.StartProcessing(testNow); !errors.Is(err, services.ErrInvalidOperation) {
		t.Fatalf("expected ErrInvalidOperation, got %v", err)
	}
}

func TestApproveLastInsightAutoAdvances(t *testing.T) {
	agg := newAggregate(stages.StageInsightsReady)
	agg.Insights = []*project.Insight{
		{ID: "i-1", ProjectID: "proj-1", Status: project.InsightApproved},
		{ID: "i-2", ProjectID: "proj-1", Status: project.InsightApproved},
		{ID: "i-3", ProjectID: "proj-1", Status: project.InsightDraft},
	}

	events, err := agg.ApproveInsight("i-3", testNow)
	if err != nil {
		t.Fatalf("ApproveInsight: %v", err)
	}
	if agg.Project.Stage != stages.StageInsightsApproved {
		t.Fatalf("expected auto-advance to insights_approved, got %s", agg.Project.Stage)
	}

	var sawStageChange bool
	for _, event := range events {
		if event.Type == project.EventStageChanged {
			sawStageChange = true
		}
	}
	if !sawStageChange {
		t.Fatal("expected a stage change event from auto-advance")
	}
}

func TestRejectAllInsightsDoesNotAdvance(t *testing.T) {
	agg := newAggregate(stages.StageInsightsReady)
	agg.Insights = []*project.Insight{
		{ID: "i-1", Status: project.InsightRejected},
		{ID: "i-2", Status: project.InsightDraft},
	}
	if _, err := agg.RejectInsight("i-2", "off topic", testNow); err != nil {
		t.Fatalf("RejectInsight: %v", err)
	}
	if agg.Project.Stage != stages.StageInsightsReady {
		t.Fatalf("stage advanced with zero approvals: %s", agg.Project.Stage)
	}
}

func TestApproveInsightNotFound(t *testing.T) {
	agg := newAggregate(stages.StageInsightsReady)
	if _, err := agg.ApproveInsight("missing", testNow); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestPostReviewAutoAdvance(t *testing.T) {
	agg := newAggregate(stages.StagePostsGenerated)
	agg.Posts = []*project.Post{
		{ID: "p-1", Platform: project.PlatformLinkedIn, Status: project.PostApproved},
		{ID: "p-2", Platform: project.PlatformX, Status: project.PostDraft},
	}

	if _, err := agg.RejectPost("p-2", "too long", testNow); err != nil {
		t.Fatalf("RejectPost: %v", err)
	}
	if agg.Project.Stage != stages.StagePostsApproved {
		t.Fatalf("expected auto-advance to posts_approved, got %s", agg.Project.Stage)
	}
}

func TestRequireStageStaleCaller(t *testing.T) {
	agg := newAggregate(stages.StagePublishing)
	err := agg.RequireStage("schedule_posts", stages.StagePostsApproved)
	if !errors.Is(err, services.ErrInvalidOperation) {
		t.Fatalf("expected ErrInvalidOperation for stale caller, got %v", err)
	}
}

func TestComputeMetricsIdempotent(t *testing.T) {
	p := &project.Project{RawTranscript: "one two three four"}
	insights := []*project.Insight{
		{Status: project.InsightApproved},
		{Status: project.InsightRejected},
		{Status: project.InsightDraft},
	}
	posts := []*project.Post{
		{Status: project.PostApproved},
		{Status: project.PostPublished},
	}
	scheduled := []*project.ScheduledPost{
		{Status: project.ScheduledPending},
		{Status: project.ScheduledFailed},
		{Status: project.ScheduledPublished},
	}

	first := project.ComputeMetrics(p, insights, posts, scheduled)
	second := project.ComputeMetrics(p, insights, posts, scheduled)
	if first != second {
		t.Fatalf("metrics not idempotent: %+v vs %+v", first, second)
	}
	if first.InsightApproved != 1 || first.InsightRejected != 1 || first.InsightDraft != 1 {
		t.Fatalf("insight counts wrong: %+v", first)
	}
	if first.PostPublished != 1 || first.PostApproved != 1 {
		t.Fatalf("post counts wrong: %+v", first)
	}
	if first.ScheduledPending != 1 || first.ScheduledFailed != 1 || first.ScheduledPublished != 1 {
		t.Fatalf("scheduled counts wrong: %+v", first)
	}
	if first.TranscriptWords != 4 {
		t.Fatalf("transcript words = %d, want 4", first.TranscriptWords)
	}
}

func TestAllScheduledResolved(t *testing.T) {
	if project.AllScheduledResolved(nil) {
		t.Fatal("no scheduled posts should not count as resolved")
	}
	unresolved := []*project.ScheduledPost{
		{Status: project.ScheduledPublished},
		{Status: project.ScheduledRetry},
	}
	if project.AllScheduledResolved(unresolved) {
		t.Fatal("retry item should block resolution")
	}
	resolved := []*project.ScheduledPost{
		{Status: project.ScheduledPublished},
		{Status: project.ScheduledFailed},
		{Status: project.ScheduledCancelled},
	}
	if !project.AllScheduledResolved(resolved) {
		t.Fatal("terminal statuses should resolve")
	}
	if !project.AnyScheduledFailed(resolved) {
		t.Fatal("expected failed detection")
	}
}

func TestInsightTotalScoreBounds(t *testing.T) {
	insight := &project.Insight{Urgency: 12, Relatability: -3, Specificity: 7, Authority: 10}
	if got := insight.ComputeTotalScore(); got != 27 {
		t.Fatalf("total score = %d, want 27", got)
	}
}
