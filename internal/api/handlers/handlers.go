package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/dvloznov/bizledger/internal/api/middleware"
	"github.com/dvloznov/bizledger/internal/bigquery"
	"github.com/dvloznov/bizledger/internal/domain"
	"github.com/dvloznov/bizledger/internal/jobs"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
)

const (
	defaultRunsLimit = 50
	maxRunsLimit     = 500
)

// JobsHandler queues auto reconciliation and reports job state.
type JobsHandler struct {
	publisher jobs.Publisher
	store     jobs.JobStore
	log       zerolog.Logger
}

// NewJobsHandler creates a new jobs handler.
func NewJobsHandler(publisher jobs.Publisher, store jobs.JobStore, log zerolog.Logger) *JobsHandler {
	return &JobsHandler{
		publisher: publisher,
		store:     store,
		log:       log,
	}
}

// EnqueueAutoReconcile handles POST /api/businesses/{businessId}/auto-reconcile
func (h *JobsHandler) EnqueueAutoReconcile(w http.ResponseWriter, r *http.Request) {
	businessID := mux.Vars(r)["businessId"]
	if businessID == "" {
		middleware.WriteError(w, http.StatusBadRequest, "businessId is required")
		return
	}

	job := &jobs.AutoReconcileJob{BusinessID: businessID, Trigger: "api"}
	if err := h.publisher.PublishAutoReconcile(r.Context(), job); err != nil {
		h.log.Error().Err(err).Str("business_id", businessID).Msg("Failed to enqueue auto reconciliation")
		middleware.WriteError(w, http.StatusServiceUnavailable, "Failed to enqueue auto reconciliation. Please try again later")
		return
	}

	h.log.Info().Str("job_id", job.JobID).Str("business_id", businessID).Msg("Auto reconciliation enqueued")

	middleware.WriteJSON(w, http.StatusAccepted, map[string]string{
		"job_id":      job.JobID,
		"business_id": businessID,
		"status":      string(job.Status),
	})
}

// GetJob handles GET /api/jobs/{id}
func (h *JobsHandler) GetJob(w http.ResponseWriter, r *http.Request) {
	jobID := mux.Vars(r)["id"]

	job, err := h.store.GetJob(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, jobs.ErrJobNotFound) {
			middleware.WriteError(w, http.StatusNotFound, "Job not found")
			return
		}
		h.log.Error().Err(err).Str("job_id", jobID).Msg("Failed to get job")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to get job")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, job)
}

// ListJobs handles GET /api/jobs
func (h *JobsHandler) ListJobs(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	filter := jobs.JobFilter{
		BusinessID: query.Get("businessId"),
		Status:     jobs.JobStatus(query.Get("status")),
		Limit:      intParam(query.Get("limit"), 0),
		Offset:     intParam(query.Get("offset"), 0),
	}

	jobsList, err := h.store.ListJobs(r.Context(), filter)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to list jobs")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to list jobs")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"jobs":  jobsList,
		"count": len(jobsList),
	})
}

// RunsHandler exposes the ingestion audit trail. A nil lister means auditing
// is disabled.
type RunsHandler struct {
	lister bigquery.RunLister
	log    zerolog.Logger
}

func NewRunsHandler(lister bigquery.RunLister, log zerolog.Logger) *RunsHandler {
	return &RunsHandler{lister: lister, log: log}
}

// ListRuns handles GET /api/businesses/{businessId}/ingestion-runs
func (h *RunsHandler) ListRuns(w http.ResponseWriter, r *http.Request) {
	if h.lister == nil {
		middleware.WriteError(w, http.StatusNotFound, "Ingestion auditing is not enabled")
		return
	}
	businessID := mux.Vars(r)["businessId"]

	limit := intParam(r.URL.Query().Get("limit"), defaultRunsLimit)
	if limit <= 0 {
		limit = defaultRunsLimit
	}
	if limit > maxRunsLimit {
		limit = maxRunsLimit
	}

	runs, err := h.lister.ListRuns(r.Context(), businessID, limit)
	if err != nil {
		h.log.Error().Err(err).Str("business_id", businessID).Msg("Failed to list ingestion runs")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to list ingestion runs")
		return
	}
	if runs == nil {
		runs = []bigquery.IngestionRun{}
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"runs":  runs,
		"count": len(runs),
	})
}

// Pinger reports whether a dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Health handles GET /health. The database is checked when db is non-nil.
func Health(db Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status, code := "healthy", http.StatusOK
		if db != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := db.Ping(ctx); err != nil {
				status, code = "degraded", http.StatusServiceUnavailable
			}
		}
		middleware.WriteJSON(w, code, map[string]string{
			"status": status,
			"time":   time.Now().Format(time.RFC3339),
		})
	}
}

// intParam parses s, returning def when it is empty or malformed.
func intParam(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}

func writeErr(w http.ResponseWriter, log zerolog.Logger, err error, msg string) {
	ev := log.Warn()
	if middleware.StatusFor(err) >= http.StatusInternalServerError {
		ev = log.Error()
	}
	ev.Err(err).Str("kind", string(domain.KindOf(err))).Msg(msg)
	middleware.WriteDomainError(w, err)
}
