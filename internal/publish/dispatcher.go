package publish

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"postflow/internal/config"
	"postflow/internal/logging"
	"postflow/internal/project"
	"postflow/internal/services"
	"postflow/internal/stages"
	"postflow/internal/store"
	"postflow/internal/telemetry"
)

const (
	maxImmediateRetries = 3
	sweepRequeueDelay   = time.Minute
	sweepMinIdle        = time.Hour
)

// Dispatcher periodically scans for due scheduled posts and publishes them
// through the platform adapters. Sweeps are safe to trigger concurrently:
// the store-level compare-and-set claim guarantees at-most-once dispatch
// per item.
type Dispatcher struct {
	store      *store.Store
	publishers map[project.Platform]Publisher
	cfg        config.Publishing
	logger     *slog.Logger
	metrics    *telemetry.Collector

	clock func() time.Time
	sem   chan struct{}
}

// DispatcherOption customizes dispatcher construction.
type DispatcherOption func(*Dispatcher)

// WithClock overrides the time source (useful for tests).
func WithClock(clock func() time.Time) DispatcherOption {
	return func(d *Dispatcher) {
		if clock != nil {
			d.clock = clock
		}
	}
}

// NewDispatcher wires a dispatcher to the store and platform adapters. The
// worker pool is sized once from configuration.
func NewDispatcher(st *store.Store, cfg config.Publishing, publishers []Publisher, logger *slog.Logger, metrics *telemetry.Collector, opts ...DispatcherOption) *Dispatcher {
	if logger == nil {
		logger = logging.NewNop()
	}
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 5
	}
	byPlatform := make(map[project.Platform]Publisher, len(publishers))
	for _, pub := range publishers {
		byPlatform[pub.Platform()] = pub
	}
	d := &Dispatcher{
		store:      st,
		publishers: byPlatform,
		cfg:        cfg,
		logger:     logger.With(logging.String(logging.FieldComponent, "dispatcher")),
		metrics:    metrics,
		clock:      func() time.Time { return time.Now().UTC() },
		sem:        make(chan struct{}, concurrency),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Run drives the dispatch and retry-sweep tickers until the context ends.
func (d *Dispatcher) Run(ctx context.Context) error {
	dispatchEvery := time.Duration(d.cfg.DispatchInterval) * time.Second
	if dispatchEvery <= 0 {
		dispatchEvery = time.Minute
	}
	sweepEvery := time.Duration(d.cfg.SweepInterval) * time.Second
	if sweepEvery <= 0 {
		sweepEvery = 10 * time.Minute
	}

	dispatchTicker := time.NewTicker(dispatchEvery)
	defer dispatchTicker.Stop()
	sweepTicker := time.NewTicker(sweepEvery)
	defer sweepTicker.Stop()

	d.logger.Info("dispatcher started",
		logging.Duration("dispatch_interval", dispatchEvery),
		logging.Duration("sweep_interval", sweepEvery))

	for {
		select {
		case <-ctx.Done():
			d.logger.Info("dispatcher stopped")
			return ctx.Err()
		case <-dispatchTicker.C:
			if _, err := d.DispatchOnce(ctx); err != nil && ctx.Err() == nil {
				d.logger.Error("dispatch sweep failed", logging.Error(err))
			}
		case <-sweepTicker.C:
			if _, err := d.RetrySweep(ctx); err != nil && ctx.Err() == nil {
				d.logger.Error("retry sweep failed", logging.Error(err))
			}
		}
	}
}

// DispatchOnce performs one sweep: select due posts, bucket them by time,
// and publish each bucket in order under the bounded pool. It returns how
// many posts this invocation claimed.
func (d *Dispatcher) DispatchOnce(ctx context.Context) (int, error) {
	start := d.clock()
	window := d.window()
	batch := d.cfg.BatchSize
	if batch <= 0 {
		batch = 20
	}

	due, err := d.store.DueScheduledPosts(ctx, start.Add(window), batch)
	if err != nil {
		return 0, err
	}
	if len(due) == 0 {
		return 0, nil
	}

	bucketSize := time.Duration(d.cfg.BucketMinutes) * time.Minute
	if bucketSize <= 0 {
		bucketSize = 5 * time.Minute
	}
	buckets := make(map[time.Time][]*project.ScheduledPost)
	for _, sp := range due {
		key := sp.ScheduledTime.UTC().Truncate(bucketSize)
		buckets[key] = append(buckets[key], sp)
	}
	keys := make([]time.Time, 0, len(buckets))
	for key := range buckets {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].Before(keys[j]) })

	var claimed atomic.Int64
	for _, key := range keys {
		// Future buckets wait their turn; buckets run strictly in time order.
		if err := d.sleepUntil(ctx, key); err != nil {
			return int(claimed.Load()), err
		}
		var wg sync.WaitGroup
		for _, sp := range buckets[key] {
			select {
			case d.sem <- struct{}{}:
			case <-ctx.Done():
				wg.Wait()
				return int(claimed.Load()), ctx.Err()
			}
			wg.Add(1)
			go func(sp *project.ScheduledPost) {
				defer wg.Done()
				defer func() { <-d.sem }()
				if d.dispatchOne(ctx, sp) {
					claimed.Add(1)
				}
			}(sp)
		}
		wg.Wait()
	}

	total := int(claimed.Load())
	if d.metrics != nil {
		d.metrics.RecordDispatchCycle(d.clock().Sub(start), total)
	}
	return total, nil
}

// RetrySweep is the slow safety net: permanently failed posts with retry
// budget left and no attempt within the idle threshold go back to pending.
func (d *Dispatcher) RetrySweep(ctx context.Context) (int64, error) {
	maxRetries := d.cfg.SweepMaxRetries
	if maxRetries <= 0 {
		maxRetries = 5
	}
	now := d.clock()
	requeued, err := d.store.RequeueFailedScheduled(ctx, maxRetries, now.Add(-sweepMinIdle), now.Add(sweepRequeueDelay))
	if err != nil {
		return 0, err
	}
	if requeued > 0 {
		d.logger.Info("retry sweep requeued failed posts", logging.Int64("count", requeued))
	}
	return requeued, nil
}

// ValidateCredentials checks every configured platform adapter.
func (d *Dispatcher) ValidateCredentials(ctx context.Context) error {
	for platform, pub := range d.publishers {
		if err := pub.ValidateCredentials(ctx); err != nil {
			return fmt.Errorf("validate %s credentials: %w", platform, err)
		}
	}
	return nil
}

// dispatchOne claims a due post and runs the publish attempt. Returns false
// when another invocation won the claim. The attempt uses the row returned
// by the claim, not the batch snapshot: an overlapping sweep may have
// requeued the item with a new retry count since the batch query.
func (d *Dispatcher) dispatchOne(ctx context.Context, due *project.ScheduledPost) bool {
	now := d.clock()
	sp, err := d.store.ClaimScheduledPost(ctx, due.ID, now.Add(d.window()), now)
	if err != nil {
		d.logger.Error("claim failed",
			logging.String(logging.FieldProjectID, due.ProjectID),
			logging.Error(err))
		return false
	}
	if sp == nil {
		return false
	}
	d.markProjectPublishing(ctx, sp.ProjectID, now)

	var (
		externalID string
		publishErr error
	)
	if pub, ok := d.publishers[sp.Platform]; ok {
		externalID, publishErr = pub.Publish(ctx, sp)
	} else {
		publishErr = services.Wrap(services.ErrExternal, "dispatcher", "publish",
			fmt.Sprintf("no adapter for platform %s", sp.Platform), nil)
	}

	if publishErr != nil {
		d.handleFailure(ctx, sp, publishErr)
	} else {
		d.handleSuccess(ctx, sp, externalID)
	}
	return true
}

func (d *Dispatcher) handleSuccess(ctx context.Context, sp *project.ScheduledPost, externalID string) {
	now := d.clock()
	if err := d.store.MarkScheduledPublished(ctx, sp.ID, externalID, now); err != nil {
		d.logger.Error("mark published failed",
			logging.String(logging.FieldProjectID, sp.ProjectID),
			logging.Error(err))
		return
	}
	if d.metrics != nil {
		d.metrics.RecordPublishOutcome(sp.Platform, telemetry.OutcomePublished)
	}
	d.logger.Info("post published",
		logging.String(logging.FieldProjectID, sp.ProjectID),
		logging.String(logging.FieldPlatform, string(sp.Platform)),
		logging.String("external_post_id", externalID))

	event := project.Event{
		ProjectID:  sp.ProjectID,
		Type:       project.EventPostPublished,
		Name:       "PostPublished",
		Data:       map[string]any{"scheduled_post_id": sp.ID, "platform": string(sp.Platform), "external_post_id": externalID},
		OccurredAt: now,
	}
	d.resolveProject(ctx, sp, &event, true, now)
}

func (d *Dispatcher) handleFailure(ctx context.Context, sp *project.ScheduledPost, publishErr error) {
	now := d.clock()
	attempt := sp.RetryCount + 1

	if attempt < maxImmediateRetries {
		next := now.Add(retryDelay(attempt))
		if err := d.store.MarkScheduledRetry(ctx, sp.ID, attempt, next, now); err != nil {
			d.logger.Error("mark retry failed",
				logging.String(logging.FieldProjectID, sp.ProjectID),
				logging.Error(err))
			return
		}
		if d.metrics != nil {
			d.metrics.RecordPublishOutcome(sp.Platform, telemetry.OutcomeRetried)
		}
		d.logger.Warn("publish attempt failed, retry scheduled",
			logging.String(logging.FieldProjectID, sp.ProjectID),
			logging.String(logging.FieldPlatform, string(sp.Platform)),
			logging.Int("attempt", attempt),
			logging.Time("next_attempt", next),
			logging.Error(publishErr))
		d.resolveProject(ctx, sp, nil, false, now)
		return
	}

	if err := d.store.MarkScheduledFailed(ctx, sp.ID, attempt, now); err != nil {
		d.logger.Error("mark failed failed",
			logging.String(logging.FieldProjectID, sp.ProjectID),
			logging.Error(err))
		return
	}
	if d.metrics != nil {
		d.metrics.RecordPublishOutcome(sp.Platform, telemetry.OutcomeFailed)
	}
	d.logger.Error("publish failed permanently",
		logging.String(logging.FieldProjectID, sp.ProjectID),
		logging.String(logging.FieldPlatform, string(sp.Platform)),
		logging.Int("attempt", attempt),
		logging.Error(publishErr))

	event := project.Event{
		ProjectID:  sp.ProjectID,
		Type:       project.EventPostPublishFailed,
		Name:       "PostPublishFailed",
		Data:       map[string]any{"scheduled_post_id": sp.ID, "platform": string(sp.Platform), "error": publishErr.Error(), "retry_count": attempt},
		OccurredAt: now,
	}
	d.resolveProject(ctx, sp, &event, false, now)
}

// resolveProject records the attempt outcome at the project level: event
// append, metrics rollup, and stage movement. Child rows are re-read inside
// the store transaction and never written back, so a worker cannot clobber a
// claim or terminal status committed by a concurrent attempt. Once no
// pending or retry items remain the project advances to Published; a project
// with some permanently failed posts still advances, with the partial
// outcome visible in the metrics and the event log. While retries remain
// and no attempt is in flight, a project in Publishing moves back to
// Scheduled until the next attempt is due.
func (d *Dispatcher) resolveProject(ctx context.Context, sp *project.ScheduledPost, event *project.Event, published bool, now time.Time) {
	if published {
		if err := d.store.MarkPostPublished(ctx, sp.PostID, now); err != nil {
			d.logger.Error("mark post published failed",
				logging.String(logging.FieldProjectID, sp.ProjectID),
				logging.Error(err))
		}
	}

	var advanced []stages.Stage
	err := d.store.ResolveAggregate(ctx, sp.ProjectID, func(agg *project.Aggregate) ([]project.Event, error) {
		advanced = advanced[:0]
		var events []project.Event
		if event != nil {
			events = append(events, *event)
		}
		agg.RecomputeMetrics()
		agg.Project.LastActivityAt = now

		switch {
		case project.AllScheduledResolved(agg.Scheduled):
			for _, target := range []stages.Stage{stages.StagePublishing, stages.StagePublished} {
				if agg.Project.Stage == target || !stages.IsValidTransition(agg.Project.Stage, target) {
					continue
				}
				transitionEvents, err := agg.TransitionTo(target, now)
				if err != nil {
					return nil, err
				}
				events = append(events, transitionEvents...)
				advanced = append(advanced, target)
			}
			if project.AnyScheduledFailed(agg.Scheduled) && len(events) > 0 {
				last := &events[len(events)-1]
				if last.Data == nil {
					last.Data = map[string]any{}
				}
				last.Data["partial_failure"] = true
			}
		case agg.Project.Stage == stages.StagePublishing && !project.AnyScheduledInFlight(agg.Scheduled):
			transitionEvents, err := agg.TransitionTo(stages.StageScheduled, now)
			if err != nil {
				return nil, err
			}
			events = append(events, transitionEvents...)
			advanced = append(advanced, stages.StageScheduled)
		}
		return events, nil
	})
	if err != nil {
		d.logger.Error("resolve project failed",
			logging.String(logging.FieldProjectID, sp.ProjectID),
			logging.Error(err))
		return
	}
	if d.metrics != nil {
		for _, target := range advanced {
			d.metrics.RecordStageTransition(target)
		}
	}
}

// markProjectPublishing moves a project from Scheduled into Publishing when
// one of its posts is claimed. Best effort: a lost race just means another
// claimer already moved it.
func (d *Dispatcher) markProjectPublishing(ctx context.Context, projectID string, now time.Time) {
	var moved bool
	err := d.store.ResolveAggregate(ctx, projectID, func(agg *project.Aggregate) ([]project.Event, error) {
		moved = false
		if agg.Project.Stage != stages.StageScheduled {
			return nil, nil
		}
		events, err := agg.TransitionTo(stages.StagePublishing, now)
		if err != nil {
			return nil, err
		}
		moved = true
		return events, nil
	})
	if err != nil {
		d.logger.Error("save publishing stage failed",
			logging.String(logging.FieldProjectID, projectID),
			logging.Error(err))
		return
	}
	if moved && d.metrics != nil {
		d.metrics.RecordStageTransition(stages.StagePublishing)
	}
}

// window is the dispatch look-ahead: items whose publish time falls inside
// it are due.
func (d *Dispatcher) window() time.Duration {
	window := time.Duration(d.cfg.WindowMinutes) * time.Minute
	if window <= 0 {
		window = 5 * time.Minute
	}
	return window
}

func (d *Dispatcher) sleepUntil(ctx context.Context, when time.Time) error {
	wait := when.Sub(d.clock())
	if wait <= 0 {
		return nil
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// retryDelay is the exponential wait before re-dispatching a failed post:
// 5, 25, 125 minutes for attempts 1, 2, 3.
func retryDelay(attempt int) time.Duration {
	delay := 5 * time.Minute
	for i := 1; i < attempt; i++ {
		delay *= 5
	}
	return delay
}
