package project

import (
	"strings"
	"time"

	"postflow/internal/stages"
)

// Platform identifies a publishing destination.
type Platform string

const (
	PlatformLinkedIn Platform = "linkedin"
	PlatformX        Platform = "x"
)

var allPlatforms = []Platform{PlatformLinkedIn, PlatformX}

// AllPlatforms returns the known publishing platforms.
func AllPlatforms() []Platform {
	cp := make([]Platform, len(allPlatforms))
	copy(cp, allPlatforms)
	return cp
}

// ParsePlatform converts a string into a known Platform.
func ParsePlatform(value string) (Platform, bool) {
	normalized := Platform(strings.ToLower(strings.TrimSpace(value)))
	for _, p := range allPlatforms {
		if p == normalized {
			return p, true
		}
	}
	return "", false
}

// InsightStatus is the review state of an extracted insight.
type InsightStatus string

const (
	InsightDraft    InsightStatus = "draft"
	InsightApproved InsightStatus = "approved"
	InsightRejected InsightStatus = "rejected"
)

// PostStatus is the review/publish state of a generated post.
type PostStatus string

const (
	PostDraft     PostStatus = "draft"
	PostApproved  PostStatus = "approved"
	PostRejected  PostStatus = "rejected"
	PostPublished PostStatus = "published"
)

// ScheduledStatus is the lifecycle state of a scheduled post.
// StatusPublishing is the in-flight claim marker set atomically before a
// dispatch attempt; published, failed, and cancelled are terminal.
type ScheduledStatus string

const (
	ScheduledPending    ScheduledStatus = "pending"
	ScheduledRetry      ScheduledStatus = "retry"
	ScheduledPublishing ScheduledStatus = "publishing"
	ScheduledPublished  ScheduledStatus = "published"
	ScheduledFailed     ScheduledStatus = "failed"
	ScheduledCancelled  ScheduledStatus = "cancelled"
)

// IsTerminal reports whether no further dispatch may touch the item.
func (s ScheduledStatus) IsTerminal() bool {
	switch s {
	case ScheduledPublished, ScheduledFailed, ScheduledCancelled:
		return true
	default:
		return false
	}
}

// JobType identifies one asynchronous pipeline step.
type JobType string

const (
	JobCleanTranscript JobType = "clean_transcript"
	JobExtractInsights JobType = "extract_insights"
	JobGeneratePosts   JobType = "generate_posts"
	JobSchedulePosts   JobType = "schedule_posts"
	JobPublishPost     JobType = "publish_post"
)

// JobStatus is the lifecycle state of a processing job. Completed, failed,
// and cancelled jobs are immutable; retries create a new job.
type JobStatus string

const (
	JobQueued     JobStatus = "queued"
	JobProcessing JobStatus = "processing"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
	JobCancelled  JobStatus = "cancelled"
)

// PublishingSchedule is the recurring time-slot policy for a project.
// It is a value object: the scheduler reads it once per computation and
// never mutates it.
type PublishingSchedule struct {
	PreferredDays        []time.Weekday `json:"preferred_days"`
	PreferredTime        string         `json:"preferred_time"` // "15:04"
	TimeZone             string         `json:"time_zone"`
	MinimumIntervalHours int            `json:"minimum_interval_hours"`
}

// WorkflowConfig controls automatic behaviour per project.
type WorkflowConfig struct {
	AutoApproveInsights bool               `json:"auto_approve_insights"`
	MinInsightScore     int                `json:"min_insight_score"`
	AutoGeneratePosts   bool               `json:"auto_generate_posts"`
	AutoSchedulePosts   bool               `json:"auto_schedule_posts"`
	TargetPlatforms     []Platform         `json:"target_platforms"`
	Schedule            PublishingSchedule `json:"publishing_schedule"`
}

// Metrics is the rollup snapshot recomputed from child collections.
type Metrics struct {
	InsightTotal    int `json:"insight_total"`
	InsightDraft    int `json:"insight_draft"`
	InsightApproved int `json:"insight_approved"`
	InsightRejected int `json:"insight_rejected"`

	PostTotal     int `json:"post_total"`
	PostDraft     int `json:"post_draft"`
	PostApproved  int `json:"post_approved"`
	PostRejected  int `json:"post_rejected"`
	PostPublished int `json:"post_published"`

	ScheduledTotal     int `json:"scheduled_total"`
	ScheduledPending   int `json:"scheduled_pending"`
	ScheduledRetry     int `json:"scheduled_retry"`
	ScheduledPublished int `json:"scheduled_published"`
	ScheduledFailed    int `json:"scheduled_failed"`
	ScheduledCancelled int `json:"scheduled_cancelled"`

	TranscriptWords int `json:"transcript_words"`
}

// Project is the aggregate root. Children (insights, posts, scheduled posts,
// jobs, events) cannot outlive it.
type Project struct {
	ID             string
	Title          string
	Stage          stages.Stage
	Progress       int
	RawTranscript  string
	CleanedContent string
	Workflow       WorkflowConfig
	Metrics        Metrics
	CreatedAt      time.Time
	UpdatedAt      time.Time
	LastActivityAt time.Time
}

// Insight is one extracted content insight with its scoring breakdown.
type Insight struct {
	ID           string
	ProjectID    string
	Content      string
	Urgency      int
	Relatability int
	Specificity  int
	Authority    int
	TotalScore   int
	Status       InsightStatus
	RejectReason string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// ScoreBound is the inclusive upper bound for each insight sub-score.
const ScoreBound = 10

// ComputeTotalScore sums the bounded sub-scores.
func (i *Insight) ComputeTotalScore() int {
	return clampScore(i.Urgency) + clampScore(i.Relatability) + clampScore(i.Specificity) + clampScore(i.Authority)
}

func clampScore(v int) int {
	if v < 0 {
		return 0
	}
	if v > ScoreBound {
		return ScoreBound
	}
	return v
}

// Post is one generated social post draft. InsightID is a nullable
// back-reference, never an ownership edge.
type Post struct {
	ID           string
	ProjectID    string
	InsightID    string
	Platform     Platform
	Content      string
	Hashtags     []string
	Status       PostStatus
	RejectReason string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// ScheduledPost is a (post, platform) pair with an assigned publish time.
// Content is a snapshot and may diverge from the post after optimization.
type ScheduledPost struct {
	ID             string
	ProjectID      string
	PostID         string
	Platform       Platform
	Content        string
	ScheduledTime  time.Time
	Status         ScheduledStatus
	RetryCount     int
	LastAttempt    *time.Time
	ExternalPostID string
	PublishedAt    *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Job is a tracked unit of asynchronous work tied to one pipeline step.
type Job struct {
	ID           string
	ProjectID    string
	Type         JobType
	Status       JobStatus
	Progress     int
	RetryCount   int
	MaxRetries   int
	ResultCount  int
	ErrorMessage string
	CreatedAt    time.Time
	StartedAt    *time.Time
	CompletedAt  *time.Time
	DurationMS   int64
	UpdatedAt    time.Time
}

// Event is one append-only record in the project event log.
type Event struct {
	ID         string
	ProjectID  string
	Type       string
	Name       string
	Data       map[string]any
	OccurredAt time.Time
	UserID     string
}

// Event types recorded by aggregate operations and the dispatcher.
const (
	EventStageChanged      = "stage_changed"
	EventInsightApproved   = "insight_approved"
	EventInsightRejected   = "insight_rejected"
	EventPostApproved      = "post_approved"
	EventPostRejected      = "post_rejected"
	EventPostPublished     = "post_published"
	EventPostPublishFailed = "post_publish_failed"
	EventProcessingFailed  = "processing_failed"
	EventProjectArchived   = "project_archived"
	EventProjectRestored   = "project_restored"
	EventPostsScheduled    = "posts_scheduled"
)

// CountWords returns the whitespace-separated word count of a transcript.
func CountWords(text string) int {
	return len(strings.Fields(text))
}
