// Package telemetry collects and exposes Prometheus metrics for the
// pipeline manager and the publishing dispatcher.
package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"postflow/internal/project"
	"postflow/internal/stages"
)

// Collector records pipeline and publish metrics against one registry.
type Collector struct {
	jobCompleted     *prometheus.CounterVec
	jobFailed        *prometheus.CounterVec
	jobDuration      prometheus.Histogram
	publishOutcomes  *prometheus.CounterVec
	dispatchClaimed  prometheus.Counter
	dispatchDuration prometheus.Histogram
	stageTransitions *prometheus.CounterVec
}

// NewCollector builds a collector and registers its metrics.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		jobCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "postflow_jobs_completed_total",
			Help: "Completed pipeline jobs by step.",
		}, []string{"job_type"}),
		jobFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "postflow_jobs_failed_total",
			Help: "Failed pipeline jobs by step.",
		}, []string{"job_type"}),
		jobDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "postflow_job_duration_seconds",
			Help:    "Wall-clock duration of pipeline jobs.",
			Buckets: prometheus.ExponentialBuckets(0.1, 4, 8),
		}),
		publishOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "postflow_publish_attempts_total",
			Help: "Publish attempts by platform and outcome.",
		}, []string{"platform", "outcome"}),
		dispatchClaimed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "postflow_dispatch_claimed_total",
			Help: "Scheduled posts claimed by dispatch sweeps.",
		}),
		dispatchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "postflow_dispatch_cycle_seconds",
			Help:    "Duration of one dispatch sweep.",
			Buckets: prometheus.DefBuckets,
		}),
		stageTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "postflow_stage_transitions_total",
			Help: "Project stage transitions by target stage.",
		}, []string{"to_stage"}),
	}

	reg.MustRegister(
		c.jobCompleted,
		c.jobFailed,
		c.jobDuration,
		c.publishOutcomes,
		c.dispatchClaimed,
		c.dispatchDuration,
		c.stageTransitions,
	)
	return c
}

// RecordJobCompleted counts a finished pipeline job and its duration.
func (c *Collector) RecordJobCompleted(jobType project.JobType, duration time.Duration) {
	c.jobCompleted.WithLabelValues(string(jobType)).Inc()
	c.jobDuration.Observe(duration.Seconds())
}

// RecordJobFailed counts a pipeline job that exhausted its attempt.
func (c *Collector) RecordJobFailed(jobType project.JobType) {
	c.jobFailed.WithLabelValues(string(jobType)).Inc()
}

// Publish attempt outcomes.
const (
	OutcomePublished = "published"
	OutcomeRetried   = "retried"
	OutcomeFailed    = "failed"
)

// RecordPublishOutcome counts one publish attempt result.
func (c *Collector) RecordPublishOutcome(platform project.Platform, outcome string) {
	c.publishOutcomes.WithLabelValues(string(platform), outcome).Inc()
}

// RecordDispatchCycle counts one dispatch sweep and the posts it claimed.
func (c *Collector) RecordDispatchCycle(duration time.Duration, claimed int) {
	c.dispatchDuration.Observe(duration.Seconds())
	c.dispatchClaimed.Add(float64(claimed))
}

// RecordStageTransition counts a project moving into a stage.
func (c *Collector) RecordStageTransition(to stages.Stage) {
	c.stageTransitions.WithLabelValues(string(to)).Inc()
}

// Handler returns the Prometheus scrape handler for a gatherer.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
