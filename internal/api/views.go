package api

import (
	"time"

	"postflow/internal/project"
	"postflow/internal/stages"
)

// ProjectView is the wire representation of a project row.
type ProjectView struct {
	ID             string                 `json:"id"`
	Title          string                 `json:"title"`
	Stage          stages.Stage           `json:"stage"`
	Progress       int                    `json:"progress"`
	Workflow       project.WorkflowConfig `json:"workflow"`
	Metrics        project.Metrics        `json:"metrics"`
	CreatedAt      time.Time              `json:"created_at"`
	UpdatedAt      time.Time              `json:"updated_at"`
	LastActivityAt time.Time              `json:"last_activity_at"`
}

// AggregateView is the full project state including children.
type AggregateView struct {
	Project        ProjectView     `json:"project"`
	RawTranscript  string          `json:"raw_transcript"`
	CleanedContent string          `json:"cleaned_content,omitempty"`
	Insights       []InsightView   `json:"insights"`
	Posts          []PostView      `json:"posts"`
	Scheduled      []ScheduledView `json:"scheduled"`
}

type InsightView struct {
	ID           string                `json:"id"`
	Content      string                `json:"content"`
	Urgency      int                   `json:"urgency"`
	Relatability int                   `json:"relatability"`
	Specificity  int                   `json:"specificity"`
	Authority    int                   `json:"authority"`
	TotalScore   int                   `json:"total_score"`
	Status       project.InsightStatus `json:"status"`
	RejectReason string                `json:"reject_reason,omitempty"`
}

type PostView struct {
	ID           string             `json:"id"`
	InsightID    string             `json:"insight_id,omitempty"`
	Platform     project.Platform   `json:"platform"`
	Content      string             `json:"content"`
	Hashtags     []string           `json:"hashtags,omitempty"`
	Status       project.PostStatus `json:"status"`
	RejectReason string             `json:"reject_reason,omitempty"`
}

type ScheduledView struct {
	ID             string                  `json:"id"`
	PostID         string                  `json:"post_id"`
	Platform       project.Platform        `json:"platform"`
	ScheduledTime  time.Time               `json:"scheduled_time"`
	Status         project.ScheduledStatus `json:"status"`
	RetryCount     int                     `json:"retry_count"`
	ExternalPostID string                  `json:"external_post_id,omitempty"`
	PublishedAt    *time.Time              `json:"published_at,omitempty"`
}

type JobView struct {
	ID           string            `json:"id"`
	Type         project.JobType   `json:"type"`
	Status       project.JobStatus `json:"status"`
	Progress     int               `json:"progress"`
	RetryCount   int               `json:"retry_count"`
	MaxRetries   int               `json:"max_retries"`
	ResultCount  int               `json:"result_count"`
	ErrorMessage string            `json:"error_message,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
	StartedAt    *time.Time        `json:"started_at,omitempty"`
	CompletedAt  *time.Time        `json:"completed_at,omitempty"`
	DurationMS   int64             `json:"duration_ms,omitempty"`
}

type EventView struct {
	ID         string         `json:"id"`
	ProjectID  string         `json:"project_id"`
	Type       string         `json:"type"`
	Name       string         `json:"name"`
	Data       map[string]any `json:"data,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
}

func fromProject(p *project.Project) ProjectView {
	return ProjectView{
		ID:             p.ID,
		Title:          p.Title,
		Stage:          p.Stage,
		Progress:       p.Progress,
		Workflow:       p.Workflow,
		Metrics:        p.Metrics,
		CreatedAt:      p.CreatedAt,
		UpdatedAt:      p.UpdatedAt,
		LastActivityAt: p.LastActivityAt,
	}
}

func fromAggregate(agg *project.Aggregate) AggregateView {
	view := AggregateView{
		Project:        fromProject(agg.Project),
		RawTranscript:  agg.Project.RawTranscript,
		CleanedContent: agg.Project.CleanedContent,
		Insights:       make([]InsightView, 0, len(agg.Insights)),
		Posts:          make([]PostView, 0, len(agg.Posts)),
		Scheduled:      make([]ScheduledView, 0, len(agg.Scheduled)),
	}
	for _, insight := range agg.Insights {
		view.Insights = append(view.Insights, InsightView{
			ID:           insight.ID,
			Content:      insight.Content,
			Urgency:      insight.Urgency,
			Relatability: insight.Relatability,
			Specificity:  insight.Specificity,
			Authority:    insight.Authority,
			TotalScore:   insight.TotalScore,
			Status:       insight.Status,
			RejectReason: insight.RejectReason,
		})
	}
	for _, post := range agg.Posts {
		view.Posts = append(view.Posts, PostView{
			ID:           post.ID,
			InsightID:    post.InsightID,
			Platform:     post.Platform,
			Content:      post.Content,
			Hashtags:     post.Hashtags,
			Status:       post.Status,
			RejectReason: post.RejectReason,
		})
	}
	for _, sp := range agg.Scheduled {
		view.Scheduled = append(view.Scheduled, ScheduledView{
			ID:             sp.ID,
			PostID:         sp.PostID,
			Platform:       sp.Platform,
			ScheduledTime:  sp.ScheduledTime,
			Status:         sp.Status,
			RetryCount:     sp.RetryCount,
			ExternalPostID: sp.ExternalPostID,
			PublishedAt:    sp.PublishedAt,
		})
	}
	return view
}

func fromJobs(jobs []*project.Job) []JobView {
	views := make([]JobView, 0, len(jobs))
	for _, job := range jobs {
		views = append(views, JobView{
			ID:           job.ID,
			Type:         job.Type,
			Status:       job.Status,
			Progress:     job.Progress,
			RetryCount:   job.RetryCount,
			MaxRetries:   job.MaxRetries,
			ResultCount:  job.ResultCount,
			ErrorMessage: job.ErrorMessage,
			CreatedAt:    job.CreatedAt,
			StartedAt:    job.StartedAt,
			CompletedAt:  job.CompletedAt,
			DurationMS:   job.DurationMS,
		})
	}
	return views
}

func fromEvents(events []project.Event) []EventView {
	views := make([]EventView, 0, len(events))
	for _, ev := range events {
		views = append(views, fromEvent(ev))
	}
	return views
}

func fromEvent(ev project.Event) EventView {
	return EventView{
		ID:         ev.ID,
		ProjectID:  ev.ProjectID,
		Type:       ev.Type,
		Name:       ev.Name,
		Data:       ev.Data,
		OccurredAt: ev.OccurredAt,
	}
}
