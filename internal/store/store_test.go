package store_test

import (
	"context"
	"testing"
	"time"

	"postflow/internal/project"
	"postflow/internal/stages"
	"postflow/internal/store"
	"postflow/internal/testsupport"
)

func TestOpenAppliesSchema(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	p := testsupport.NewProject(t, st, "Sample Project", "one two three")
	if p.ID == "" {
		t.Fatal("expected project ID to be assigned")
	}
	if p.Stage != stages.StageRawContent {
		t.Fatalf("expected raw content stage, got %s", p.Stage)
	}

	fetched, err := st.GetProject(ctx, p.ID)
	if err != nil {
		t.Fatalf("GetProject failed: %v", err)
	}
	if fetched == nil || fetched.Title != "Sample Project" {
		t.Fatalf("unexpected fetched project: %#v", fetched)
	}
	if fetched.Metrics.TranscriptWords != 3 {
		t.Fatalf("expected transcript words recorded, got %d", fetched.Metrics.TranscriptWords)
	}

	missing, err := st.GetProject(ctx, "no-such-id")
	if err != nil {
		t.Fatalf("GetProject for missing id failed: %v", err)
	}
	if missing != nil {
		t.Fatalf("expected nil for missing project, got %#v", missing)
	}
}

func TestListProjectsFiltersByStage(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	first := testsupport.NewProject(t, st, "First", "words")
	testsupport.NewProject(t, st, "Second", "words")

	first.Stage = stages.StageProcessingContent
	if err := st.UpdateProject(ctx, first); err != nil {
		t.Fatalf("UpdateProject failed: %v", err)
	}

	processing, err := st.ListProjects(ctx, stages.StageProcessingContent)
	if err != nil {
		t.Fatalf("ListProjects failed: %v", err)
	}
	if len(processing) != 1 || processing[0].ID != first.ID {
		t.Fatalf("expected only the processing project, got %#v", processing)
	}

	all, err := st.ListProjects(ctx)
	if err != nil {
		t.Fatalf("ListProjects failed: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected two projects, got %d", len(all))
	}
}

func TestSaveAggregateRoundTrip(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	p := testsupport.NewProject(t, st, "Aggregate", "raw transcript words")

	insights := []*project.Insight{
		{ProjectID: p.ID, Content: "Insight one", Urgency: 8, Relatability: 7, Specificity: 6, Authority: 5},
	}
	if err := st.InsertInsights(ctx, insights); err != nil {
		t.Fatalf("InsertInsights failed: %v", err)
	}
	posts := []*project.Post{
		{ProjectID: p.ID, InsightID: insights[0].ID, Platform: project.PlatformLinkedIn, Content: "Post body", Hashtags: []string{"go"}},
	}
	if err := st.InsertPosts(ctx, posts); err != nil {
		t.Fatalf("InsertPosts failed: %v", err)
	}

	agg, err := st.LoadAggregate(ctx, p.ID)
	if err != nil {
		t.Fatalf("LoadAggregate failed: %v", err)
	}
	if len(agg.Insights) != 1 || len(agg.Posts) != 1 {
		t.Fatalf("unexpected aggregate children: %d insights, %d posts", len(agg.Insights), len(agg.Posts))
	}
	if agg.Insights[0].TotalScore != 26 {
		t.Fatalf("expected computed total score 26, got %d", agg.Insights[0].TotalScore)
	}

	now := time.Now().UTC()
	events, err := agg.StartProcessing(now)
	if err != nil {
		t.Fatalf("StartProcessing failed: %v", err)
	}
	if err := st.SaveAggregate(ctx, agg, events); err != nil {
		t.Fatalf("SaveAggregate failed: %v", err)
	}

	reloaded, err := st.LoadAggregate(ctx, p.ID)
	if err != nil {
		t.Fatalf("LoadAggregate after save failed: %v", err)
	}
	if reloaded.Project.Stage != stages.StageProcessingContent {
		t.Fatalf("expected processing stage persisted, got %s", reloaded.Project.Stage)
	}

	log, err := st.EventsByProject(ctx, p.ID, 0)
	if err != nil {
		t.Fatalf("EventsByProject failed: %v", err)
	}
	if len(log) == 0 {
		t.Fatal("expected stage change event recorded")
	}
	if log[0].Type != project.EventStageChanged {
		t.Fatalf("expected stage_changed event, got %s", log[0].Type)
	}
}

func TestClaimScheduledPostIsExclusive(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	now := time.Now().UTC()
	sp := insertScheduledFixture(t, st, now.Add(-time.Minute))

	claimed, err := st.ClaimScheduledPost(ctx, sp.ID, now, now)
	if err != nil {
		t.Fatalf("ClaimScheduledPost failed: %v", err)
	}
	if claimed == nil {
		t.Fatal("expected first claim to succeed")
	}
	if claimed.Status != project.ScheduledPublishing {
		t.Fatalf("expected claimed row in publishing status, got %s", claimed.Status)
	}

	again, err := st.ClaimScheduledPost(ctx, sp.ID, now, now)
	if err != nil {
		t.Fatalf("second ClaimScheduledPost failed: %v", err)
	}
	if again != nil {
		t.Fatal("expected second claim to lose the compare-and-set")
	}
}

func TestClaimScheduledPostReturnsFreshRow(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	now := time.Now().UTC()
	sp := insertScheduledFixture(t, st, now)

	claimed, err := st.ClaimScheduledPost(ctx, sp.ID, now, now)
	if err != nil || claimed == nil {
		t.Fatalf("first claim failed: %v (%v)", claimed, err)
	}
	next := now.Add(5 * time.Minute)
	if err := st.MarkScheduledRetry(ctx, sp.ID, 1, next, now); err != nil {
		t.Fatalf("MarkScheduledRetry failed: %v", err)
	}

	// The backoff moved the publish time past the cutoff, so a sweep still
	// holding the pre-retry batch row must not claim it early.
	early, err := st.ClaimScheduledPost(ctx, sp.ID, now, now)
	if err != nil {
		t.Fatalf("early claim failed: %v", err)
	}
	if early != nil {
		t.Fatalf("expected claim rejected before the backoff elapses, got %#v", early)
	}

	reclaimed, err := st.ClaimScheduledPost(ctx, sp.ID, next.Add(time.Minute), next.Add(time.Minute))
	if err != nil || reclaimed == nil {
		t.Fatalf("claim after backoff failed: %v (%v)", reclaimed, err)
	}
	if reclaimed.RetryCount != 1 {
		t.Fatalf("expected claim to return the current retry count, got %d", reclaimed.RetryCount)
	}
}

func TestResolveAggregateLeavesChildRowsAlone(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	now := time.Now().UTC()
	p := testsupport.NewProject(t, st, "Resolve", "words")

	scheduled := make([]*project.ScheduledPost, 2)
	for i := range scheduled {
		post := &project.Post{ProjectID: p.ID, Platform: project.PlatformLinkedIn, Content: "Body", Status: project.PostApproved}
		if err := st.InsertPosts(ctx, []*project.Post{post}); err != nil {
			t.Fatalf("InsertPosts failed: %v", err)
		}
		scheduled[i] = &project.ScheduledPost{
			ProjectID:     p.ID,
			PostID:        post.ID,
			Platform:      project.PlatformLinkedIn,
			Content:       post.Content,
			ScheduledTime: now,
		}
		if err := st.InsertScheduledPosts(ctx, []*project.ScheduledPost{scheduled[i]}); err != nil {
			t.Fatalf("InsertScheduledPosts failed: %v", err)
		}
	}

	// One worker finalized the first item and another holds an in-flight
	// claim on the second.
	if _, err := st.ClaimScheduledPost(ctx, scheduled[0].ID, now, now); err != nil {
		t.Fatalf("claim failed: %v", err)
	}
	if err := st.MarkScheduledPublished(ctx, scheduled[0].ID, "ext-done", now); err != nil {
		t.Fatalf("MarkScheduledPublished failed: %v", err)
	}
	if _, err := st.ClaimScheduledPost(ctx, scheduled[1].ID, now, now); err != nil {
		t.Fatalf("claim failed: %v", err)
	}

	// Even a resolution that mutates the child slices in memory must not
	// write those rows back.
	err := st.ResolveAggregate(ctx, p.ID, func(agg *project.Aggregate) ([]project.Event, error) {
		if len(agg.Scheduled) != 2 {
			t.Fatalf("expected fresh scheduled rows inside the transaction, got %d", len(agg.Scheduled))
		}
		if agg.Scheduled[0].Status != project.ScheduledPublished && agg.Scheduled[1].Status != project.ScheduledPublished {
			t.Fatal("expected the finalized row visible inside the transaction")
		}
		for _, sp := range agg.Scheduled {
			sp.Status = project.ScheduledPending
			sp.ExternalPostID = ""
		}
		agg.Project.LastActivityAt = now
		return nil, nil
	})
	if err != nil {
		t.Fatalf("ResolveAggregate failed: %v", err)
	}

	done, err := st.GetScheduledPost(ctx, scheduled[0].ID)
	if err != nil {
		t.Fatalf("GetScheduledPost failed: %v", err)
	}
	if done.Status != project.ScheduledPublished || done.ExternalPostID != "ext-done" {
		t.Fatalf("terminal row lost: status=%s external_post_id=%q", done.Status, done.ExternalPostID)
	}
	inFlight, err := st.GetScheduledPost(ctx, scheduled[1].ID)
	if err != nil {
		t.Fatalf("GetScheduledPost failed: %v", err)
	}
	if inFlight.Status != project.ScheduledPublishing {
		t.Fatalf("in-flight claim reopened: status=%s", inFlight.Status)
	}
}

func TestDueScheduledPostsWindowAndOrder(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	base := time.Date(2026, time.March, 3, 9, 0, 0, 0, time.UTC)

	early := insertScheduledFixture(t, st, base)
	late := insertScheduledFixture(t, st, base.Add(2*time.Minute))
	insertScheduledFixture(t, st, base.Add(time.Hour))

	due, err := st.DueScheduledPosts(ctx, base.Add(5*time.Minute), 20)
	if err != nil {
		t.Fatalf("DueScheduledPosts failed: %v", err)
	}
	if len(due) != 2 {
		t.Fatalf("expected two due posts inside window, got %d", len(due))
	}
	if due[0].ID != early.ID || due[1].ID != late.ID {
		t.Fatal("expected due posts ordered by scheduled time")
	}

	capped, err := st.DueScheduledPosts(ctx, base.Add(5*time.Minute), 1)
	if err != nil {
		t.Fatalf("DueScheduledPosts with cap failed: %v", err)
	}
	if len(capped) != 1 || capped[0].ID != early.ID {
		t.Fatal("expected batch cap to keep the earliest post")
	}
}

func TestScheduledPublishOutcomes(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	now := time.Now().UTC()

	success := insertScheduledFixture(t, st, now)
	if _, err := st.ClaimScheduledPost(ctx, success.ID, now, now); err != nil {
		t.Fatalf("claim failed: %v", err)
	}
	if err := st.MarkScheduledPublished(ctx, success.ID, "ext-123", now); err != nil {
		t.Fatalf("MarkScheduledPublished failed: %v", err)
	}
	got, err := st.GetScheduledPost(ctx, success.ID)
	if err != nil {
		t.Fatalf("GetScheduledPost failed: %v", err)
	}
	if got.Status != project.ScheduledPublished || got.ExternalPostID != "ext-123" || got.PublishedAt == nil {
		t.Fatalf("unexpected published state: %#v", got)
	}

	retry := insertScheduledFixture(t, st, now)
	if _, err := st.ClaimScheduledPost(ctx, retry.ID, now, now); err != nil {
		t.Fatalf("claim failed: %v", err)
	}
	next := now.Add(5 * time.Minute)
	if err := st.MarkScheduledRetry(ctx, retry.ID, 1, next, now); err != nil {
		t.Fatalf("MarkScheduledRetry failed: %v", err)
	}
	got, err = st.GetScheduledPost(ctx, retry.ID)
	if err != nil {
		t.Fatalf("GetScheduledPost failed: %v", err)
	}
	if got.Status != project.ScheduledRetry || got.RetryCount != 1 {
		t.Fatalf("unexpected retry state: %#v", got)
	}
	if !got.ScheduledTime.Equal(next) {
		t.Fatalf("expected rescheduled time %v, got %v", next, got.ScheduledTime)
	}

	failed := insertScheduledFixture(t, st, now)
	if _, err := st.ClaimScheduledPost(ctx, failed.ID, now, now); err != nil {
		t.Fatalf("claim failed: %v", err)
	}
	if err := st.MarkScheduledFailed(ctx, failed.ID, 3, now); err != nil {
		t.Fatalf("MarkScheduledFailed failed: %v", err)
	}
	got, err = st.GetScheduledPost(ctx, failed.ID)
	if err != nil {
		t.Fatalf("GetScheduledPost failed: %v", err)
	}
	if got.Status != project.ScheduledFailed || got.RetryCount != 3 {
		t.Fatalf("unexpected failed state: %#v", got)
	}
}

func TestRequeueFailedScheduled(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	now := time.Now().UTC()
	old := now.Add(-2 * time.Hour)

	stale := insertScheduledFixture(t, st, old)
	if _, err := st.ClaimScheduledPost(ctx, stale.ID, old, old); err != nil {
		t.Fatalf("claim failed: %v", err)
	}
	if err := st.MarkScheduledFailed(ctx, stale.ID, 3, old); err != nil {
		t.Fatalf("MarkScheduledFailed failed: %v", err)
	}

	exhausted := insertScheduledFixture(t, st, old)
	if _, err := st.ClaimScheduledPost(ctx, exhausted.ID, old, old); err != nil {
		t.Fatalf("claim failed: %v", err)
	}
	if err := st.MarkScheduledFailed(ctx, exhausted.ID, 5, old); err != nil {
		t.Fatalf("MarkScheduledFailed failed: %v", err)
	}

	requeued, err := st.RequeueFailedScheduled(ctx, 5, now.Add(-time.Hour), now)
	if err != nil {
		t.Fatalf("RequeueFailedScheduled failed: %v", err)
	}
	if requeued != 1 {
		t.Fatalf("expected one requeued post, got %d", requeued)
	}

	got, err := st.GetScheduledPost(ctx, stale.ID)
	if err != nil {
		t.Fatalf("GetScheduledPost failed: %v", err)
	}
	if got.Status != project.ScheduledPending {
		t.Fatalf("expected requeued post pending, got %s", got.Status)
	}

	got, err = st.GetScheduledPost(ctx, exhausted.ID)
	if err != nil {
		t.Fatalf("GetScheduledPost failed: %v", err)
	}
	if got.Status != project.ScheduledFailed {
		t.Fatalf("expected exhausted post to stay failed, got %s", got.Status)
	}
}

func TestNextQueuedJobClaims(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	p := testsupport.NewProject(t, st, "Jobs", "words")

	first, err := st.CreateJob(ctx, p.ID, project.JobCleanTranscript, 3)
	if err != nil {
		t.Fatalf("CreateJob failed: %v", err)
	}
	if _, err := st.CreateJob(ctx, p.ID, project.JobExtractInsights, 3); err != nil {
		t.Fatalf("CreateJob failed: %v", err)
	}

	claimed, err := st.NextQueuedJob(ctx)
	if err != nil {
		t.Fatalf("NextQueuedJob failed: %v", err)
	}
	if claimed == nil || claimed.ID != first.ID {
		t.Fatalf("expected oldest job claimed first, got %#v", claimed)
	}
	if claimed.Status != project.JobProcessing || claimed.StartedAt == nil {
		t.Fatalf("expected claimed job processing, got %#v", claimed)
	}

	second, err := st.NextQueuedJob(ctx)
	if err != nil {
		t.Fatalf("NextQueuedJob failed: %v", err)
	}
	if second == nil || second.ID == first.ID {
		t.Fatalf("expected the remaining job, got %#v", second)
	}

	none, err := st.NextQueuedJob(ctx)
	if err != nil {
		t.Fatalf("NextQueuedJob failed: %v", err)
	}
	if none != nil {
		t.Fatalf("expected empty queue, got %#v", none)
	}
}

func TestReclaimStaleJobs(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	p := testsupport.NewProject(t, st, "Stale", "words")

	job, err := st.CreateJob(ctx, p.ID, project.JobGeneratePosts, 3)
	if err != nil {
		t.Fatalf("CreateJob failed: %v", err)
	}
	claimed, err := st.NextQueuedJob(ctx)
	if err != nil || claimed == nil {
		t.Fatalf("NextQueuedJob failed: %v", err)
	}
	stale := time.Now().UTC().Add(-time.Hour)
	claimed.StartedAt = &stale
	if err := st.UpdateJob(ctx, claimed); err != nil {
		t.Fatalf("UpdateJob failed: %v", err)
	}

	reclaimed, err := st.ReclaimStaleJobs(ctx, time.Now().UTC().Add(-30*time.Minute))
	if err != nil {
		t.Fatalf("ReclaimStaleJobs failed: %v", err)
	}
	if reclaimed != 1 {
		t.Fatalf("expected one reclaimed job, got %d", reclaimed)
	}

	got, err := st.GetJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetJob failed: %v", err)
	}
	if got.Status != project.JobQueued || got.StartedAt != nil {
		t.Fatalf("expected job back in the queue, got %#v", got)
	}
}

func TestDeleteProjectCascades(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	sp := insertScheduledFixture(t, st, time.Now().UTC())

	deleted, err := st.DeleteProject(ctx, sp.ProjectID)
	if err != nil {
		t.Fatalf("DeleteProject failed: %v", err)
	}
	if !deleted {
		t.Fatal("expected project deletion to report success")
	}

	got, err := st.GetScheduledPost(ctx, sp.ID)
	if err != nil {
		t.Fatalf("GetScheduledPost failed: %v", err)
	}
	if got != nil {
		t.Fatalf("expected scheduled post removed with project, got %#v", got)
	}
}

func insertScheduledFixture(t testing.TB, st *store.Store, when time.Time) *project.ScheduledPost {
	t.Helper()

	ctx := context.Background()
	p, err := st.CreateProject(ctx, "Scheduled Fixture", "words", testsupport.DefaultWorkflow())
	if err != nil {
		t.Fatalf("CreateProject failed: %v", err)
	}
	post := &project.Post{ProjectID: p.ID, Platform: project.PlatformLinkedIn, Content: "Body", Status: project.PostApproved}
	if err := st.InsertPosts(ctx, []*project.Post{post}); err != nil {
		t.Fatalf("InsertPosts failed: %v", err)
	}
	sp := &project.ScheduledPost{
		ProjectID:     p.ID,
		PostID:        post.ID,
		Platform:      project.PlatformLinkedIn,
		Content:       post.Content,
		ScheduledTime: when,
	}
	if err := st.InsertScheduledPosts(ctx, []*project.ScheduledPost{sp}); err != nil {
		t.Fatalf("InsertScheduledPosts failed: %v", err)
	}
	return sp
}
