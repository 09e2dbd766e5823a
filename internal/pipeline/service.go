package pipeline

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"postflow/internal/config"
	"postflow/internal/jobs"
	"postflow/internal/logging"
	"postflow/internal/project"
	"postflow/internal/services"
	"postflow/internal/stages"
	"postflow/internal/store"
	"postflow/internal/telemetry"
)

// Service exposes the user-facing project operations. It performs the
// synchronous aggregate mutations itself and hands long-running content
// work to the job queue.
type Service struct {
	cfg     *config.Config
	store   *store.Store
	tracker *jobs.Tracker
	logger  *slog.Logger
	metrics *telemetry.Collector
}

// NewService wires a service around the manager's job tracker.
func NewService(cfg *config.Config, st *store.Store, tracker *jobs.Tracker, logger *slog.Logger, metrics *telemetry.Collector) *Service {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Service{
		cfg:     cfg,
		store:   st,
		tracker: tracker,
		logger:  logger.With(logging.String(logging.FieldComponent, "service")),
		metrics: metrics,
	}
}

// CreateProject registers a new project in the raw content stage.
func (s *Service) CreateProject(ctx context.Context, title, rawTranscript string, workflow project.WorkflowConfig) (*project.Project, error) {
	p, err := s.store.CreateProject(ctx, title, rawTranscript, workflow)
	if err != nil {
		return nil, err
	}
	s.logger.Info("project created",
		logging.String(logging.FieldProjectID, p.ID),
		logging.String("title", p.Title))
	return p, nil
}

// StartProcessing moves a project into content processing and queues the
// transcript cleaning step.
func (s *Service) StartProcessing(ctx context.Context, projectID string) (*project.Aggregate, error) {
	agg, err := s.loadAggregate(ctx, projectID)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	events, err := agg.StartProcessing(now)
	if err != nil {
		return nil, err
	}
	if err := s.store.SaveAggregate(ctx, agg, events); err != nil {
		return nil, err
	}
	s.recordTransition(agg)
	if _, err := s.tracker.Enqueue(ctx, projectID, project.JobCleanTranscript, s.cfg.Workflow.JobMaxRetries); err != nil {
		return nil, err
	}
	return agg, nil
}

// GeneratePosts queues post generation for a project with approved insights.
func (s *Service) GeneratePosts(ctx context.Context, projectID string) (*project.Job, error) {
	agg, err := s.loadAggregate(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if err := agg.RequireStage("generate posts", stages.StageInsightsApproved); err != nil {
		return nil, err
	}
	if len(agg.ApprovedInsights()) == 0 {
		return nil, services.Wrap(services.ErrInvalidOperation, "service", "generate",
			"no approved insights to generate posts from", nil)
	}
	return s.tracker.Enqueue(ctx, projectID, project.JobGeneratePosts, s.cfg.Workflow.JobMaxRetries)
}

// ExtractInsights re-queues insight extraction for a project that already
// has a cleaned transcript. Normally extraction chains automatically after
// cleaning; this covers manual re-runs.
func (s *Service) ExtractInsights(ctx context.Context, projectID string) (*project.Job, error) {
	agg, err := s.loadAggregate(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if err := agg.RequireStage("extract insights", stages.StageProcessingContent); err != nil {
		return nil, err
	}
	if agg.Project.CleanedContent == "" {
		return nil, services.Wrap(services.ErrInvalidOperation, "service", "extract",
			"transcript has not been cleaned yet", nil)
	}
	return s.tracker.Enqueue(ctx, projectID, project.JobExtractInsights, s.cfg.Workflow.JobMaxRetries)
}

// SchedulePosts queues scheduling for a project with approved posts.
func (s *Service) SchedulePosts(ctx context.Context, projectID string) (*project.Job, error) {
	agg, err := s.loadAggregate(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if err := agg.RequireStage("schedule posts", stages.StagePostsApproved); err != nil {
		return nil, err
	}
	if len(agg.ApprovedPosts()) == 0 {
		return nil, services.Wrap(services.ErrInvalidOperation, "service", "schedule",
			"no approved posts to schedule", nil)
	}
	return s.tracker.Enqueue(ctx, projectID, project.JobSchedulePosts, s.cfg.Workflow.JobMaxRetries)
}

// PublishNow schedules every approved post for immediate dispatch, skipping
// the preferred publishing slots.
func (s *Service) PublishNow(ctx context.Context, projectID string) (*project.Aggregate, error) {
	agg, err := s.loadAggregate(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if err := agg.RequireStage("publish now", stages.StagePostsApproved); err != nil {
		return nil, err
	}
	approved := agg.ApprovedPosts()
	if len(approved) == 0 {
		return nil, services.Wrap(services.ErrInvalidOperation, "service", "publish",
			"no approved posts to publish", nil)
	}

	now := time.Now().UTC()
	for _, post := range approved {
		agg.Scheduled = append(agg.Scheduled, &project.ScheduledPost{
			ID:            uuid.NewString(),
			ProjectID:     agg.Project.ID,
			PostID:        post.ID,
			Platform:      post.Platform,
			Content:       post.Content,
			ScheduledTime: now,
			Status:        project.ScheduledPending,
			CreatedAt:     now,
			UpdatedAt:     now,
		})
	}
	// Direct publish takes the bypass edge straight into Publishing; the
	// dispatcher picks the due items up on its next cycle.
	events, err := agg.TransitionTo(stages.StagePublishing, now)
	if err != nil {
		return nil, err
	}
	events = append(events, project.Event{
		ProjectID:  agg.Project.ID,
		Type:       project.EventPostsScheduled,
		Name:       "PostsScheduled",
		Data:       map[string]any{"count": len(approved), "immediate": true},
		OccurredAt: now,
	})
	agg.RecomputeMetrics()
	if err := s.store.SaveAggregate(ctx, agg, events); err != nil {
		return nil, err
	}
	s.recordTransition(agg)
	s.logger.Info("posts queued for immediate publishing",
		logging.String(logging.FieldProjectID, projectID),
		logging.Int("count", len(approved)))
	return agg, nil
}

// ApproveInsight marks one insight approved, advancing the project when the
// review round completes.
func (s *Service) ApproveInsight(ctx context.Context, projectID, insightID string) (*project.Aggregate, error) {
	return s.reviewOp(ctx, projectID, func(agg *project.Aggregate, now time.Time) ([]project.Event, error) {
		return agg.ApproveInsight(insightID, now)
	})
}

// RejectInsight marks one insight rejected with a reason.
func (s *Service) RejectInsight(ctx context.Context, projectID, insightID, reason string) (*project.Aggregate, error) {
	return s.reviewOp(ctx, projectID, func(agg *project.Aggregate, now time.Time) ([]project.Event, error) {
		return agg.RejectInsight(insightID, reason, now)
	})
}

// ApprovePost marks one generated post approved.
func (s *Service) ApprovePost(ctx context.Context, projectID, postID string) (*project.Aggregate, error) {
	return s.reviewOp(ctx, projectID, func(agg *project.Aggregate, now time.Time) ([]project.Event, error) {
		return agg.ApprovePost(postID, now)
	})
}

// RejectPost marks one generated post rejected with a reason.
func (s *Service) RejectPost(ctx context.Context, projectID, postID, reason string) (*project.Aggregate, error) {
	return s.reviewOp(ctx, projectID, func(agg *project.Aggregate, now time.Time) ([]project.Event, error) {
		return agg.RejectPost(postID, reason, now)
	})
}

// ReviewDecision is one item of a bulk review request.
type ReviewDecision struct {
	ID      string
	Approve bool
	Reason  string
}

// ReviewInsights applies a batch of insight decisions in one transaction.
func (s *Service) ReviewInsights(ctx context.Context, projectID string, decisions []ReviewDecision) (*project.Aggregate, error) {
	if len(decisions) == 0 {
		return nil, services.Wrap(services.ErrValidation, "service", "review", "no decisions supplied", nil)
	}
	return s.reviewOp(ctx, projectID, func(agg *project.Aggregate, now time.Time) ([]project.Event, error) {
		var events []project.Event
		for _, d := range decisions {
			var (
				evs []project.Event
				err error
			)
			if d.Approve {
				evs, err = agg.ApproveInsight(d.ID, now)
			} else {
				evs, err = agg.RejectInsight(d.ID, d.Reason, now)
			}
			if err != nil {
				return nil, err
			}
			events = append(events, evs...)
		}
		return events, nil
	})
}

// ReviewPosts applies a batch of post decisions in one transaction.
func (s *Service) ReviewPosts(ctx context.Context, projectID string, decisions []ReviewDecision) (*project.Aggregate, error) {
	if len(decisions) == 0 {
		return nil, services.Wrap(services.ErrValidation, "service", "review", "no decisions supplied", nil)
	}
	return s.reviewOp(ctx, projectID, func(agg *project.Aggregate, now time.Time) ([]project.Event, error) {
		var events []project.Event
		for _, d := range decisions {
			var (
				evs []project.Event
				err error
			)
			if d.Approve {
				evs, err = agg.ApprovePost(d.ID, now)
			} else {
				evs, err = agg.RejectPost(d.ID, d.Reason, now)
			}
			if err != nil {
				return nil, err
			}
			events = append(events, evs...)
		}
		return events, nil
	})
}

// Archive freezes a project, cancelling pending scheduled posts and any
// jobs still in flight.
func (s *Service) Archive(ctx context.Context, projectID, reason string) (*project.Aggregate, error) {
	agg, err := s.loadAggregate(ctx, projectID)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	events, err := agg.Archive(reason, now)
	if err != nil {
		return nil, err
	}
	if err := s.store.SaveAggregate(ctx, agg, events); err != nil {
		return nil, err
	}
	s.recordTransition(agg)

	cancelled, err := s.store.CancelScheduledPosts(ctx, projectID, now)
	if err != nil {
		return nil, err
	}
	active, err := s.store.ActiveJobs(ctx)
	if err != nil {
		return nil, err
	}
	for _, job := range active {
		if job.ProjectID != projectID {
			continue
		}
		if err := s.tracker.Cancel(ctx, job, now); err != nil {
			s.logger.Warn("cancel job failed",
				logging.String(logging.FieldJobID, job.ID),
				logging.Error(err))
		}
	}
	s.logger.Info("project archived",
		logging.String(logging.FieldProjectID, projectID),
		logging.Int64("scheduled_cancelled", cancelled))
	return agg, nil
}

// Restore returns an archived project to the raw content stage.
func (s *Service) Restore(ctx context.Context, projectID string) (*project.Aggregate, error) {
	agg, err := s.loadAggregate(ctx, projectID)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	events, err := agg.Restore(now)
	if err != nil {
		return nil, err
	}
	if err := s.store.SaveAggregate(ctx, agg, events); err != nil {
		return nil, err
	}
	s.recordTransition(agg)
	return agg, nil
}

// Get loads the full aggregate for one project.
func (s *Service) Get(ctx context.Context, projectID string) (*project.Aggregate, error) {
	return s.loadAggregate(ctx, projectID)
}

// List returns project summaries, optionally filtered by stage.
func (s *Service) List(ctx context.Context, stageFilter ...stages.Stage) ([]*project.Project, error) {
	return s.store.ListProjects(ctx, stageFilter...)
}

// Events returns the most recent events for one project, newest first.
func (s *Service) Events(ctx context.Context, projectID string, limit int) ([]project.Event, error) {
	if _, err := s.loadAggregate(ctx, projectID); err != nil {
		return nil, err
	}
	return s.store.EventsByProject(ctx, projectID, limit)
}

// Jobs returns the job history for one project, newest first.
func (s *Service) Jobs(ctx context.Context, projectID string) ([]*project.Job, error) {
	return s.store.JobsByProject(ctx, projectID)
}

// JobCounts reports queue depth by status for health reporting.
func (s *Service) JobCounts(ctx context.Context) (map[project.JobStatus]int, error) {
	return s.store.JobCounts(ctx)
}

// RecomputeMetrics refreshes and persists a project's derived metrics.
func (s *Service) RecomputeMetrics(ctx context.Context, projectID string) (*project.Aggregate, error) {
	agg, err := s.loadAggregate(ctx, projectID)
	if err != nil {
		return nil, err
	}
	agg.RecomputeMetrics()
	if err := s.store.SaveAggregate(ctx, agg, nil); err != nil {
		return nil, err
	}
	return agg, nil
}

// reviewOp applies a review mutation and chains the next automated step when
// the workflow allows it.
func (s *Service) reviewOp(ctx context.Context, projectID string, op func(*project.Aggregate, time.Time) ([]project.Event, error)) (*project.Aggregate, error) {
	agg, err := s.loadAggregate(ctx, projectID)
	if err != nil {
		return nil, err
	}
	before := agg.Project.Stage
	now := time.Now().UTC()
	events, err := op(agg, now)
	if err != nil {
		return nil, err
	}
	if err := s.store.SaveAggregate(ctx, agg, events); err != nil {
		return nil, err
	}
	if agg.Project.Stage != before {
		s.recordTransition(agg)
		if err := s.autoChain(ctx, agg); err != nil {
			return nil, err
		}
	}
	return agg, nil
}

// autoChain enqueues the follow-up step after a stage advance driven by
// review decisions.
func (s *Service) autoChain(ctx context.Context, agg *project.Aggregate) error {
	workflow := agg.Project.Workflow
	switch agg.Project.Stage {
	case stages.StageInsightsApproved:
		if !workflow.AutoGeneratePosts {
			return nil
		}
		_, err := s.tracker.Enqueue(ctx, agg.Project.ID, project.JobGeneratePosts, s.cfg.Workflow.JobMaxRetries)
		return err
	case stages.StagePostsApproved:
		if !workflow.AutoSchedulePosts {
			return nil
		}
		_, err := s.tracker.Enqueue(ctx, agg.Project.ID, project.JobSchedulePosts, s.cfg.Workflow.JobMaxRetries)
		return err
	}
	return nil
}

func (s *Service) loadAggregate(ctx context.Context, projectID string) (*project.Aggregate, error) {
	agg, err := s.store.LoadAggregate(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if agg == nil {
		return nil, services.Wrap(services.ErrNotFound, "service", "load", "project "+projectID, nil)
	}
	return agg, nil
}

func (s *Service) recordTransition(agg *project.Aggregate) {
	if s.metrics != nil {
		s.metrics.RecordStageTransition(agg.Project.Stage)
	}
}
