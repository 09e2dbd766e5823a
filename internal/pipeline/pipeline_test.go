package pipeline_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"postflow/internal/config"
	"postflow/internal/pipeline"
	"postflow/internal/project"
	"postflow/internal/services"
	"postflow/internal/services/content"
	"postflow/internal/stages"
	"postflow/internal/store"
	"postflow/internal/testsupport"
)

type fakeGenerator struct {
	cleanErr    error
	extractErr  error
	generateErr error
	insights    []content.InsightDraft
}

func (f *fakeGenerator) CleanTranscript(ctx context.Context, raw string) (string, error) {
	if f.cleanErr != nil {
		return "", f.cleanErr
	}
	return "cleaned: " + raw, nil
}

func (f *fakeGenerator) ExtractInsights(ctx context.Context, cleaned string, maxInsights int) ([]content.InsightDraft, error) {
	if f.extractErr != nil {
		return nil, f.extractErr
	}
	if len(f.insights) > maxInsights {
		return f.insights[:maxInsights], nil
	}
	return f.insights, nil
}

func (f *fakeGenerator) GeneratePost(ctx context.Context, insight string, platform project.Platform) (content.PostDraft, error) {
	if f.generateErr != nil {
		return content.PostDraft{}, f.generateErr
	}
	return content.PostDraft{
		Content:  string(platform) + ": " + insight,
		Hashtags: []string{"#growth"},
	}, nil
}

func defaultInsights() []content.InsightDraft {
	return []content.InsightDraft{
		{Content: "Ship smaller batches", Urgency: 7, Relatability: 6, Specificity: 7, Authority: 6},
		{Content: "Measure cycle time", Urgency: 3, Relatability: 3, Specificity: 3, Authority: 3},
	}
}

func autoWorkflow() project.WorkflowConfig {
	workflow := testsupport.DefaultWorkflow()
	workflow.AutoApproveInsights = true
	workflow.MinInsightScore = 20
	workflow.AutoGeneratePosts = true
	workflow.AutoSchedulePosts = true
	return workflow
}

// drainJobs processes queued jobs until the queue is empty.
func drainJobs(t *testing.T, mgr *pipeline.Manager, st *store.Store) {
	t.Helper()
	ctx := context.Background()
	for i := 0; i < 20; i++ {
		job, err := st.NextQueuedJob(ctx)
		if err != nil {
			t.Fatalf("NextQueuedJob failed: %v", err)
		}
		if job == nil {
			return
		}
		mgr.ProcessJob(ctx, job)
	}
	t.Fatal("job queue never drained")
}

func TestPipelineRunsThroughScheduling(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	gen := &fakeGenerator{insights: defaultInsights()}
	mgr := pipeline.NewManager(cfg, st, gen, nil, nil)
	svc := pipeline.NewService(cfg, st, mgr.Tracker(), nil, nil)

	ctx := context.Background()
	p, err := st.CreateProject(ctx, "Episode 12", "raw transcript words", autoWorkflow())
	if err != nil {
		t.Fatalf("CreateProject failed: %v", err)
	}

	if _, err := svc.StartProcessing(ctx, p.ID); err != nil {
		t.Fatalf("StartProcessing failed: %v", err)
	}
	drainJobs(t, mgr, st)

	agg, err := svc.Get(ctx, p.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if agg.Project.Stage != stages.StagePostsGenerated {
		t.Fatalf("expected posts_generated after automated steps, got %s", agg.Project.Stage)
	}
	if !strings.HasPrefix(agg.Project.CleanedContent, "cleaned:") {
		t.Fatalf("cleaned content not persisted: %q", agg.Project.CleanedContent)
	}
	if len(agg.Insights) != 2 {
		t.Fatalf("expected 2 insights, got %d", len(agg.Insights))
	}
	if len(agg.ApprovedInsights()) != 1 {
		t.Fatalf("expected 1 auto-approved insight, got %d", len(agg.ApprovedInsights()))
	}
	// One approved insight across both target platforms.
	if len(agg.Posts) != 2 {
		t.Fatalf("expected 2 generated posts, got %d", len(agg.Posts))
	}

	decisions := make([]pipeline.ReviewDecision, 0, len(agg.Posts))
	for _, post := range agg.Posts {
		decisions = append(decisions, pipeline.ReviewDecision{ID: post.ID, Approve: true})
	}
	if _, err := svc.ReviewPosts(ctx, p.ID, decisions); err != nil {
		t.Fatalf("ReviewPosts failed: %v", err)
	}
	drainJobs(t, mgr, st)

	agg, err = svc.Get(ctx, p.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if agg.Project.Stage != stages.StageScheduled {
		t.Fatalf("expected scheduled after auto-chain, got %s", agg.Project.Stage)
	}
	if len(agg.Scheduled) != 2 {
		t.Fatalf("expected 2 scheduled posts, got %d", len(agg.Scheduled))
	}
	for _, sp := range agg.Scheduled {
		if sp.Status != project.ScheduledPending {
			t.Fatalf("scheduled post not pending: %s", sp.Status)
		}
		if !sp.ScheduledTime.After(time.Now().UTC()) {
			t.Fatalf("scheduled time not in the future: %s", sp.ScheduledTime)
		}
	}
	if agg.Project.Progress != 85 {
		t.Fatalf("expected progress 85 at scheduled, got %d", agg.Project.Progress)
	}
}

func TestExtractInsightsRequiresCleanedTranscript(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	gen := &fakeGenerator{insights: defaultInsights()}
	mgr := pipeline.NewManager(cfg, st, gen, nil, nil)
	svc := pipeline.NewService(cfg, st, mgr.Tracker(), nil, nil)

	ctx := context.Background()
	p, err := st.CreateProject(ctx, "Episode 14", "raw transcript words", testsupport.DefaultWorkflow())
	if err != nil {
		t.Fatalf("CreateProject failed: %v", err)
	}
	if _, err := svc.StartProcessing(ctx, p.ID); err != nil {
		t.Fatalf("StartProcessing failed: %v", err)
	}

	if _, err := svc.ExtractInsights(ctx, p.ID); !errors.Is(err, services.ErrInvalidOperation) {
		t.Fatalf("expected invalid operation before cleaning, got %v", err)
	}

	// Run just the queued clean job, then a manual extract is legal.
	job, err := st.NextQueuedJob(ctx)
	if err != nil || job == nil {
		t.Fatalf("expected queued clean job, got %v (err %v)", job, err)
	}
	mgr.ProcessJob(ctx, job)

	extract, err := svc.ExtractInsights(ctx, p.ID)
	if err != nil {
		t.Fatalf("ExtractInsights failed: %v", err)
	}
	if extract.Type != project.JobExtractInsights {
		t.Fatalf("expected extract job, got %s", extract.Type)
	}
}

func TestRetryableFailureQueuesBackoffJob(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	gen := &fakeGenerator{cleanErr: errors.New("upstream 503")}
	mgr := pipeline.NewManager(cfg, st, gen, nil, nil)
	svc := pipeline.NewService(cfg, st, mgr.Tracker(), nil, nil)

	ctx := context.Background()
	p, err := st.CreateProject(ctx, "Flaky", "words", autoWorkflow())
	if err != nil {
		t.Fatalf("CreateProject failed: %v", err)
	}
	if _, err := svc.StartProcessing(ctx, p.ID); err != nil {
		t.Fatalf("StartProcessing failed: %v", err)
	}

	job, err := st.NextQueuedJob(ctx)
	if err != nil || job == nil {
		t.Fatalf("expected a queued clean job, got %v (err %v)", job, err)
	}
	mgr.ProcessJob(ctx, job)

	history, err := st.JobsByProject(ctx, p.ID)
	if err != nil {
		t.Fatalf("JobsByProject failed: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("expected failed job plus retry, got %d jobs", len(history))
	}
	var failed, retry *project.Job
	for _, j := range history {
		switch j.Status {
		case project.JobFailed:
			failed = j
		case project.JobQueued:
			retry = j
		}
	}
	if failed == nil || failed.ErrorMessage == "" {
		t.Fatalf("expected failed job with error message, got %#v", failed)
	}
	if retry == nil || retry.RetryCount != 1 {
		t.Fatalf("expected queued retry with retry_count 1, got %#v", retry)
	}

	// The retry sits behind its backoff window.
	if next, err := st.NextQueuedJob(ctx); err != nil {
		t.Fatalf("NextQueuedJob failed: %v", err)
	} else if next != nil {
		t.Fatalf("retry job visible before backoff elapsed: %#v", next)
	}

	agg, err := svc.Get(ctx, p.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if agg.Project.Stage != stages.StageProcessingContent {
		t.Fatalf("stage should stay processing_content during retries, got %s", agg.Project.Stage)
	}
}

func TestTerminalFailureRollsBackToRawContent(t *testing.T) {
	cfg := testsupport.NewConfig(t, func(c *config.Config) {
		c.Workflow.JobMaxRetries = 0
	})
	st := testsupport.MustOpenStore(t, cfg)
	gen := &fakeGenerator{cleanErr: errors.New("upstream down")}
	mgr := pipeline.NewManager(cfg, st, gen, nil, nil)
	svc := pipeline.NewService(cfg, st, mgr.Tracker(), nil, nil)

	ctx := context.Background()
	p, err := st.CreateProject(ctx, "Doomed", "words", autoWorkflow())
	if err != nil {
		t.Fatalf("CreateProject failed: %v", err)
	}
	if _, err := svc.StartProcessing(ctx, p.ID); err != nil {
		t.Fatalf("StartProcessing failed: %v", err)
	}
	drainJobs(t, mgr, st)

	agg, err := svc.Get(ctx, p.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if agg.Project.Stage != stages.StageRawContent {
		t.Fatalf("expected rollback to raw_content, got %s", agg.Project.Stage)
	}

	events, err := st.EventsByProject(ctx, p.ID, 50)
	if err != nil {
		t.Fatalf("EventsByProject failed: %v", err)
	}
	failures := 0
	for _, ev := range events {
		if ev.Type == project.EventProcessingFailed {
			failures++
		}
	}
	if failures != 1 {
		t.Fatalf("expected exactly one processing_failed event, got %d", failures)
	}
}

func TestGeneratePostsRequiresApprovedInsights(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	mgr := pipeline.NewManager(cfg, st, &fakeGenerator{}, nil, nil)
	svc := pipeline.NewService(cfg, st, mgr.Tracker(), nil, nil)

	ctx := context.Background()
	p := testsupport.NewProject(t, st, "Empty", "words")
	agg, err := st.LoadAggregate(ctx, p.ID)
	if err != nil {
		t.Fatalf("LoadAggregate failed: %v", err)
	}
	now := time.Now().UTC()
	for _, stage := range []stages.Stage{stages.StageProcessingContent, stages.StageInsightsReady, stages.StageInsightsApproved} {
		if _, err := agg.TransitionTo(stage, now); err != nil {
			t.Fatalf("TransitionTo(%s) failed: %v", stage, err)
		}
	}
	if err := st.SaveAggregate(ctx, agg, nil); err != nil {
		t.Fatalf("SaveAggregate failed: %v", err)
	}

	if _, err := svc.GeneratePosts(ctx, p.ID); !errors.Is(err, services.ErrInvalidOperation) {
		t.Fatalf("expected invalid operation, got %v", err)
	}

	agg, err = svc.Get(ctx, p.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if agg.Project.Stage != stages.StageInsightsApproved {
		t.Fatalf("stage changed on rejected operation: %s", agg.Project.Stage)
	}
	if jobs, err := st.JobsByProject(ctx, p.ID); err != nil || len(jobs) != 0 {
		t.Fatalf("expected no jobs enqueued, got %d (err %v)", len(jobs), err)
	}
}

func TestPublishNowSchedulesImmediately(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	mgr := pipeline.NewManager(cfg, st, &fakeGenerator{}, nil, nil)
	svc := pipeline.NewService(cfg, st, mgr.Tracker(), nil, nil)

	ctx := context.Background()
	p := testsupport.NewProject(t, st, "Immediate", "words")
	agg, err := st.LoadAggregate(ctx, p.ID)
	if err != nil {
		t.Fatalf("LoadAggregate failed: %v", err)
	}
	now := time.Now().UTC()
	for _, stage := range []stages.Stage{
		stages.StageProcessingContent, stages.StageInsightsReady,
		stages.StageInsightsApproved, stages.StagePostsGenerated,
	} {
		if _, err := agg.TransitionTo(stage, now); err != nil {
			t.Fatalf("TransitionTo(%s) failed: %v", stage, err)
		}
	}
	agg.Posts = append(agg.Posts, &project.Post{
		ProjectID: p.ID,
		Platform:  project.PlatformX,
		Content:   "Short update",
		Status:    project.PostApproved,
	})
	if _, err := agg.TransitionTo(stages.StagePostsApproved, now); err != nil {
		t.Fatalf("TransitionTo(posts_approved) failed: %v", err)
	}
	if err := st.SaveAggregate(ctx, agg, nil); err != nil {
		t.Fatalf("SaveAggregate failed: %v", err)
	}

	agg, err = svc.PublishNow(ctx, p.ID)
	if err != nil {
		t.Fatalf("PublishNow failed: %v", err)
	}
	if agg.Project.Stage != stages.StagePublishing {
		t.Fatalf("expected publishing via the direct-publish edge, got %s", agg.Project.Stage)
	}
	if len(agg.Scheduled) != 1 {
		t.Fatalf("expected 1 scheduled post, got %d", len(agg.Scheduled))
	}
	if agg.Scheduled[0].ScheduledTime.After(time.Now().UTC()) {
		t.Fatalf("immediate scheduled time in the future: %s", agg.Scheduled[0].ScheduledTime)
	}
}

func TestArchiveCancelsPendingWork(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	mgr := pipeline.NewManager(cfg, st, &fakeGenerator{insights: defaultInsights()}, nil, nil)
	svc := pipeline.NewService(cfg, st, mgr.Tracker(), nil, nil)

	ctx := context.Background()
	p, err := st.CreateProject(ctx, "Shelved", "words", autoWorkflow())
	if err != nil {
		t.Fatalf("CreateProject failed: %v", err)
	}
	if _, err := svc.StartProcessing(ctx, p.ID); err != nil {
		t.Fatalf("StartProcessing failed: %v", err)
	}
	drainJobs(t, mgr, st)

	agg, err := svc.Archive(ctx, p.ID, "shelved for later")
	if err != nil {
		t.Fatalf("Archive failed: %v", err)
	}
	if agg.Project.Stage != stages.StageArchived {
		t.Fatalf("expected archived, got %s", agg.Project.Stage)
	}

	agg, err = svc.Restore(ctx, p.ID)
	if err != nil {
		t.Fatalf("Restore failed: %v", err)
	}
	if agg.Project.Stage != stages.StageRawContent {
		t.Fatalf("expected restore to raw_content, got %s", agg.Project.Stage)
	}
}
