package jobs_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"postflow/internal/jobs"
	"postflow/internal/project"
	"postflow/internal/testsupport"
)

func TestRetryDelayEscalates(t *testing.T) {
	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{0, time.Minute},
		{1, time.Minute},
		{2, 5 * time.Minute},
		{3, 15 * time.Minute},
		{9, 15 * time.Minute},
	}
	for _, tc := range cases {
		if got := jobs.RetryDelay(tc.attempt); got != tc.want {
			t.Fatalf("RetryDelay(%d) = %v, want %v", tc.attempt, got, tc.want)
		}
	}
}

func TestTrackerLifecycle(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	tracker := jobs.NewTracker(st, nil)

	ctx := context.Background()
	p := testsupport.NewProject(t, st, "Tracked", "words")

	job, err := tracker.Enqueue(ctx, p.ID, project.JobCleanTranscript, 3)
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	claimed, err := st.NextQueuedJob(ctx)
	if err != nil || claimed == nil {
		t.Fatalf("NextQueuedJob failed: %v", err)
	}

	if err := tracker.UpdateProgress(ctx, claimed, 150); err != nil {
		t.Fatalf("UpdateProgress failed: %v", err)
	}
	if claimed.Progress != 100 {
		t.Fatalf("expected progress clamped to 100, got %d", claimed.Progress)
	}

	now := time.Now().UTC()
	if err := tracker.Complete(ctx, claimed, 4, now); err != nil {
		t.Fatalf("Complete failed: %v", err)
	}

	got, err := st.GetJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetJob failed: %v", err)
	}
	if got.Status != project.JobCompleted || got.ResultCount != 4 || got.CompletedAt == nil {
		t.Fatalf("unexpected completed job: %#v", got)
	}
}

func TestTrackerFailAndRetry(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	tracker := jobs.NewTracker(st, nil)

	ctx := context.Background()
	p := testsupport.NewProject(t, st, "Retried", "words")

	if _, err := tracker.Enqueue(ctx, p.ID, project.JobExtractInsights, 3); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	claimed, err := st.NextQueuedJob(ctx)
	if err != nil || claimed == nil {
		t.Fatalf("NextQueuedJob failed: %v", err)
	}

	now := time.Now().UTC()
	if err := tracker.Fail(ctx, claimed, errors.New("upstream unavailable"), now); err != nil {
		t.Fatalf("Fail failed: %v", err)
	}

	retry, err := tracker.EnqueueRetry(ctx, claimed, now)
	if err != nil {
		t.Fatalf("EnqueueRetry failed: %v", err)
	}
	if retry.RetryCount != 1 {
		t.Fatalf("expected retry count 1, got %d", retry.RetryCount)
	}

	// Backoff keeps the retry invisible to the poller until its run time.
	next, err := st.NextQueuedJob(ctx)
	if err != nil {
		t.Fatalf("NextQueuedJob failed: %v", err)
	}
	if next != nil {
		t.Fatalf("expected no job visible before backoff elapses, got %#v", next)
	}
}
