package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"postflow/internal/config"
	"postflow/internal/jobs"
	"postflow/internal/logging"
	"postflow/internal/project"
	"postflow/internal/services"
	"postflow/internal/stages"
	"postflow/internal/store"
	"postflow/internal/telemetry"
)

// Manager drains the processing job queue and executes typed step handlers.
type Manager struct {
	cfg     *config.Config
	store   *store.Store
	tracker *jobs.Tracker
	logger  *slog.Logger
	metrics *telemetry.Collector
	steps   map[project.JobType]stepHandler

	pollInterval  time.Duration
	errorInterval time.Duration
	staleTimeout  time.Duration

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewManager constructs a pipeline manager with the automated step handlers.
func NewManager(cfg *config.Config, st *store.Store, gen Generator, logger *slog.Logger, metrics *telemetry.Collector) *Manager {
	if logger == nil {
		logger = logging.NewNop()
	}
	logger = logger.With(logging.String(logging.FieldComponent, "pipeline"))

	handlers := []stepHandler{
		&cleanStep{gen: gen},
		&extractStep{gen: gen, maxInsights: cfg.Workflow.MaxInsights},
		&generateStep{gen: gen},
		&scheduleStep{},
	}
	steps := make(map[project.JobType]stepHandler, len(handlers))
	for _, handler := range handlers {
		steps[handler.JobType()] = handler
	}

	return &Manager{
		cfg:           cfg,
		store:         st,
		tracker:       jobs.NewTracker(st, logger),
		logger:        logger,
		metrics:       metrics,
		steps:         steps,
		pollInterval:  time.Duration(cfg.Workflow.JobPollInterval) * time.Second,
		errorInterval: time.Duration(cfg.Workflow.ErrorRetryInterval) * time.Second,
		staleTimeout:  time.Duration(cfg.Workflow.StaleJobTimeout) * time.Second,
	}
}

// Tracker exposes the job tracker for callers that enqueue work.
func (m *Manager) Tracker() *jobs.Tracker {
	return m.tracker
}

// Start begins background queue processing.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return errors.New("pipeline already running")
	}
	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.running = true
	m.wg.Add(1)
	go m.run(runCtx)
	return nil
}

// Stop terminates background processing and waits for completion.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	cancel := m.cancel
	m.running = false
	m.cancel = nil
	m.mu.Unlock()

	cancel()
	m.wg.Wait()
}

func (m *Manager) run(ctx context.Context) {
	defer m.wg.Done()
	m.logger.Info("pipeline started", logging.Duration("poll_interval", m.pollInterval))

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("pipeline stopped")
			return
		default:
		}

		if m.staleTimeout > 0 {
			cutoff := time.Now().UTC().Add(-m.staleTimeout)
			if reclaimed, err := m.store.ReclaimStaleJobs(ctx, cutoff); err != nil {
				m.logger.Warn("reclaim stale jobs failed", logging.Error(err))
			} else if reclaimed > 0 {
				m.logger.Info("reclaimed stale jobs", logging.Int64("count", reclaimed))
			}
		}

		job, err := m.store.NextQueuedJob(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			m.logger.Error("fetch queued job failed", logging.Error(err))
			m.wait(ctx, m.errorInterval)
			continue
		}
		if job == nil {
			m.wait(ctx, m.pollInterval)
			continue
		}

		m.ProcessJob(ctx, job)
	}
}

// ProcessJob runs one claimed job through its step handler, persisting the
// outcome. Exported so tests and manual triggers can drive single jobs.
func (m *Manager) ProcessJob(ctx context.Context, job *project.Job) {
	ctx = services.WithProjectID(ctx, job.ProjectID)
	ctx = services.WithJobID(ctx, job.ID)
	ctx = services.WithStep(ctx, string(job.Type))
	logger := logging.WithContext(ctx, m.logger)
	now := time.Now().UTC()

	handler, ok := m.steps[job.Type]
	if !ok {
		m.finishFailure(ctx, logger, job,
			services.Wrap(services.ErrInvalidOperation, "pipeline", "process",
				"no handler for job type "+string(job.Type), nil), now)
		return
	}

	agg, err := m.store.LoadAggregate(ctx, job.ProjectID)
	if err != nil {
		m.finishFailure(ctx, logger, job, err, now)
		return
	}
	if agg == nil {
		m.finishFailure(ctx, logger, job,
			services.Wrap(services.ErrNotFound, "pipeline", "process", "project "+job.ProjectID, nil), now)
		return
	}

	logger.Info("step started")
	if err := m.tracker.UpdateProgress(ctx, job, 25); err != nil {
		logger.Warn("progress update failed", logging.Error(err))
	}

	result, err := handler.Run(ctx, agg, now)
	if err != nil {
		m.finishFailure(ctx, logger, job, err, time.Now().UTC())
		return
	}

	if err := m.store.SaveAggregate(ctx, agg, result.events); err != nil {
		m.finishFailure(ctx, logger, job, err, time.Now().UTC())
		return
	}
	done := time.Now().UTC()
	if err := m.tracker.Complete(ctx, job, result.resultCount, done); err != nil {
		logger.Error("complete job failed", logging.Error(err))
		return
	}
	if m.metrics != nil {
		m.metrics.RecordJobCompleted(job.Type, time.Duration(job.DurationMS)*time.Millisecond)
		m.metrics.RecordStageTransition(agg.Project.Stage)
	}
	logger.Info("step completed", logging.Int("result_count", result.resultCount))

	if result.followUp != "" {
		if _, err := m.tracker.Enqueue(ctx, job.ProjectID, result.followUp, m.cfg.Workflow.JobMaxRetries); err != nil {
			logger.Error("enqueue follow-up failed",
				logging.String("follow_up", string(result.followUp)),
				logging.Error(err))
		}
	}
}

// finishFailure records a failed attempt and either schedules a retry or
// rolls the project back and emits the terminal failure event.
func (m *Manager) finishFailure(ctx context.Context, logger *slog.Logger, job *project.Job, cause error, now time.Time) {
	if err := m.tracker.Fail(ctx, job, cause, now); err != nil {
		logger.Error("record job failure failed", logging.Error(err))
	}
	if m.metrics != nil {
		m.metrics.RecordJobFailed(job.Type)
	}

	if services.IsRetryable(cause) && job.RetryCount < job.MaxRetries {
		if _, err := m.tracker.EnqueueRetry(ctx, job, now); err != nil {
			logger.Error("enqueue retry failed", logging.Error(err))
		}
		return
	}

	// Terminal: roll back the enclosing transition and emit exactly one
	// ProcessingFailed event. Reload the aggregate so partial handler
	// mutations are never persisted.
	agg, loadErr := m.store.LoadAggregate(ctx, job.ProjectID)
	if loadErr != nil || agg == nil {
		logger.Error("terminal failure without aggregate", logging.Error(cause))
		return
	}

	var events []project.Event
	if agg.Project.Stage == stages.StageProcessingContent &&
		(job.Type == project.JobCleanTranscript || job.Type == project.JobExtractInsights) {
		rollback, err := agg.TransitionTo(stages.StageRawContent, now)
		if err != nil {
			logger.Error("rollback transition failed", logging.Error(err))
		} else {
			events = append(events, rollback...)
		}
	}
	events = append(events, project.Event{
		ProjectID:  job.ProjectID,
		Type:       project.EventProcessingFailed,
		Name:       "ProcessingFailed",
		Data:       map[string]any{"job_type": string(job.Type), "error": cause.Error(), "retry_count": job.RetryCount},
		OccurredAt: now,
	})
	agg.RecomputeMetrics()
	if err := m.store.SaveAggregate(ctx, agg, events); err != nil {
		logger.Error("persist terminal failure failed", logging.Error(err))
	}
	logger.Error("step failed permanently", logging.Error(cause))
}

func (m *Manager) wait(ctx context.Context, d time.Duration) {
	if d <= 0 {
		d = time.Second
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
