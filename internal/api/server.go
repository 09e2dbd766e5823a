package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"

	"postflow/internal/logging"
	"postflow/internal/pipeline"
	"postflow/internal/project"
	"postflow/internal/stages"
	"postflow/internal/telemetry"
)

// Dispatcher is the publishing surface the API can trigger manually.
type Dispatcher interface {
	DispatchOnce(ctx context.Context) (int, error)
	RetrySweep(ctx context.Context) (int64, error)
}

// Server routes HTTP requests onto the pipeline service and dispatcher.
type Server struct {
	svc        *pipeline.Service
	dispatcher Dispatcher
	hub        *Hub
	logger     *slog.Logger
	gatherer   prometheus.Gatherer
}

// NewServer builds the API server. The hub and dispatcher may be nil, in
// which case their endpoints report unavailability.
func NewServer(svc *pipeline.Service, dispatcher Dispatcher, hub *Hub, logger *slog.Logger, gatherer prometheus.Gatherer) *Server {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Server{
		svc:        svc,
		dispatcher: dispatcher,
		hub:        hub,
		logger:     logger.With(logging.String(logging.FieldComponent, "api")),
		gatherer:   gatherer,
	}
}

// Router assembles the chi route tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(s.requestLogger)

	r.Get("/healthz", s.handleHealthz)
	if s.gatherer != nil {
		r.Method(http.MethodGet, "/metrics", telemetry.Handler(s.gatherer))
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/status", s.handleStatus)
		r.Post("/dispatch", s.handleDispatch)
		r.Post("/dispatch/sweep", s.handleSweep)
		if s.hub != nil {
			r.Get("/events/stream", s.hub.ServeHTTP)
		}

		r.Route("/projects", func(r chi.Router) {
			r.Post("/", s.handleCreateProject)
			r.Get("/", s.handleListProjects)

			r.Route("/{projectID}", func(r chi.Router) {
				r.Get("/", s.handleGetProject)
				r.Get("/events", s.handleProjectEvents)
				r.Get("/jobs", s.handleProjectJobs)

				r.Post("/process", s.handleStartProcessing)
				r.Post("/extract", s.handleExtractInsights)
				r.Post("/generate", s.handleGeneratePosts)
				r.Post("/schedule", s.handleSchedulePosts)
				r.Post("/publish-now", s.handlePublishNow)
				r.Post("/archive", s.handleArchive)
				r.Post("/restore", s.handleRestore)
				r.Post("/metrics/recompute", s.handleRecomputeMetrics)

				r.Post("/insights/review", s.handleReviewInsights)
				r.Post("/insights/{insightID}/approve", s.handleApproveInsight)
				r.Post("/insights/{insightID}/reject", s.handleRejectInsight)

				r.Post("/posts/review", s.handleReviewPosts)
				r.Post("/posts/{postID}/approve", s.handleApprovePost)
				r.Post("/posts/{postID}/reject", s.handleRejectPost)
			})
		})
	})
	return r
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug("request",
			logging.String("method", r.Method),
			logging.String("path", r.URL.Path),
			logging.Duration("elapsed", time.Since(start)))
	})
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	counts, err := s.svc.JobCounts(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	jobs := make(map[string]int, len(counts))
	for status, count := range counts {
		jobs[string(status)] = count
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": jobs})
}

type createProjectRequest struct {
	Title      string                  `json:"title"`
	Transcript string                  `json:"transcript"`
	Workflow   *project.WorkflowConfig `json:"workflow,omitempty"`
}

func (s *Server) handleCreateProject(w http.ResponseWriter, r *http.Request) {
	var req createProjectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid request body")
		return
	}
	var workflow project.WorkflowConfig
	if req.Workflow != nil {
		workflow = *req.Workflow
	}
	p, err := s.svc.CreateProject(r.Context(), req.Title, req.Transcript, workflow)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, fromProject(p))
}

func (s *Server) handleListProjects(w http.ResponseWriter, r *http.Request) {
	var filter []stages.Stage
	if raw := strings.TrimSpace(r.URL.Query().Get("stage")); raw != "" {
		for _, part := range strings.Split(raw, ",") {
			stage := stages.Stage(strings.TrimSpace(part))
			if !stages.IsValid(stage) {
				writeBadRequest(w, "unknown stage "+string(stage))
				return
			}
			filter = append(filter, stage)
		}
	}
	projects, err := s.svc.List(r.Context(), filter...)
	if err != nil {
		writeError(w, err)
		return
	}
	views := make([]ProjectView, 0, len(projects))
	for _, p := range projects {
		views = append(views, fromProject(p))
	}
	writeJSON(w, http.StatusOK, views)
}

func (s *Server) handleGetProject(w http.ResponseWriter, r *http.Request) {
	agg, err := s.svc.Get(r.Context(), chi.URLParam(r, "projectID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, fromAggregate(agg))
}

func (s *Server) handleProjectEvents(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			writeBadRequest(w, "limit must be a positive integer")
			return
		}
		limit = parsed
	}
	events, err := s.svc.Events(r.Context(), chi.URLParam(r, "projectID"), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, fromEvents(events))
}

func (s *Server) handleProjectJobs(w http.ResponseWriter, r *http.Request) {
	jobs, err := s.svc.Jobs(r.Context(), chi.URLParam(r, "projectID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, fromJobs(jobs))
}

func (s *Server) handleStartProcessing(w http.ResponseWriter, r *http.Request) {
	agg, err := s.svc.StartProcessing(r.Context(), chi.URLParam(r, "projectID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, fromAggregate(agg))
}

func (s *Server) handleExtractInsights(w http.ResponseWriter, r *http.Request) {
	job, err := s.svc.ExtractInsights(r.Context(), chi.URLParam(r, "projectID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, fromJobs([]*project.Job{job})[0])
}

func (s *Server) handleGeneratePosts(w http.ResponseWriter, r *http.Request) {
	job, err := s.svc.GeneratePosts(r.Context(), chi.URLParam(r, "projectID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, fromJobs([]*project.Job{job})[0])
}

func (s *Server) handleSchedulePosts(w http.ResponseWriter, r *http.Request) {
	job, err := s.svc.SchedulePosts(r.Context(), chi.URLParam(r, "projectID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, fromJobs([]*project.Job{job})[0])
}

func (s *Server) handlePublishNow(w http.ResponseWriter, r *http.Request) {
	agg, err := s.svc.PublishNow(r.Context(), chi.URLParam(r, "projectID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, fromAggregate(agg))
}

type reasonRequest struct {
	Reason string `json:"reason"`
}

func (s *Server) handleArchive(w http.ResponseWriter, r *http.Request) {
	var req reasonRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeBadRequest(w, "invalid request body")
			return
		}
	}
	agg, err := s.svc.Archive(r.Context(), chi.URLParam(r, "projectID"), req.Reason)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, fromAggregate(agg))
}

func (s *Server) handleRestore(w http.ResponseWriter, r *http.Request) {
	agg, err := s.svc.Restore(r.Context(), chi.URLParam(r, "projectID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, fromAggregate(agg))
}

func (s *Server) handleRecomputeMetrics(w http.ResponseWriter, r *http.Request) {
	agg, err := s.svc.RecomputeMetrics(r.Context(), chi.URLParam(r, "projectID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, fromAggregate(agg))
}

func (s *Server) handleApproveInsight(w http.ResponseWriter, r *http.Request) {
	agg, err := s.svc.ApproveInsight(r.Context(), chi.URLParam(r, "projectID"), chi.URLParam(r, "insightID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, fromAggregate(agg))
}

func (s *Server) handleRejectInsight(w http.ResponseWriter, r *http.Request) {
	var req reasonRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeBadRequest(w, "invalid request body")
			return
		}
	}
	agg, err := s.svc.RejectInsight(r.Context(), chi.URLParam(r, "projectID"), chi.URLParam(r, "insightID"), req.Reason)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, fromAggregate(agg))
}

func (s *Server) handleApprovePost(w http.ResponseWriter, r *http.Request) {
	agg, err := s.svc.ApprovePost(r.Context(), chi.URLParam(r, "projectID"), chi.URLParam(r, "postID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, fromAggregate(agg))
}

func (s *Server) handleRejectPost(w http.ResponseWriter, r *http.Request) {
	var req reasonRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeBadRequest(w, "invalid request body")
			return
		}
	}
	agg, err := s.svc.RejectPost(r.Context(), chi.URLParam(r, "projectID"), chi.URLParam(r, "postID"), req.Reason)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, fromAggregate(agg))
}

type reviewRequest struct {
	Decisions []reviewDecision `json:"decisions"`
}

type reviewDecision struct {
	ID      string `json:"id"`
	Approve bool   `json:"approve"`
	Reason  string `json:"reason,omitempty"`
}

func decodeReview(r *http.Request) ([]pipeline.ReviewDecision, bool) {
	var req reviewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return nil, false
	}
	decisions := make([]pipeline.ReviewDecision, 0, len(req.Decisions))
	for _, d := range req.Decisions {
		decisions = append(decisions, pipeline.ReviewDecision{ID: d.ID, Approve: d.Approve, Reason: d.Reason})
	}
	return decisions, true
}

func (s *Server) handleReviewInsights(w http.ResponseWriter, r *http.Request) {
	decisions, ok := decodeReview(r)
	if !ok {
		writeBadRequest(w, "invalid request body")
		return
	}
	agg, err := s.svc.ReviewInsights(r.Context(), chi.URLParam(r, "projectID"), decisions)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, fromAggregate(agg))
}

func (s *Server) handleReviewPosts(w http.ResponseWriter, r *http.Request) {
	decisions, ok := decodeReview(r)
	if !ok {
		writeBadRequest(w, "invalid request body")
		return
	}
	agg, err := s.svc.ReviewPosts(r.Context(), chi.URLParam(r, "projectID"), decisions)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, fromAggregate(agg))
}

func (s *Server) handleDispatch(w http.ResponseWriter, r *http.Request) {
	if s.dispatcher == nil {
		writeJSON(w, http.StatusServiceUnavailable,
			errorEnvelope{Error: errorBody{Code: "unavailable", Message: "dispatcher not running"}})
		return
	}
	claimed, err := s.dispatcher.DispatchOnce(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"claimed": claimed})
}

func (s *Server) handleSweep(w http.ResponseWriter, r *http.Request) {
	if s.dispatcher == nil {
		writeJSON(w, http.StatusServiceUnavailable,
			errorEnvelope{Error: errorBody{Code: "unavailable", Message: "dispatcher not running"}})
		return
	}
	requeued, err := s.dispatcher.RetrySweep(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"requeued": requeued})
}
