package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"strconv"

	"tunespace/core/events"
	"tunespace/core/executor"
	"tunespace/core/models"
	"tunespace/core/scheduler"
	"tunespace/core/spec"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
)

// JobService is the job orchestration surface used by the HTTP API
type JobService interface {
	Submit(modelName, datasetPath string, cfg models.TrainingConfig) (string, error)
	Status(jobID string) (models.Job, error)
	ListJobs() []models.Job
	Cancel(jobID string) bool
}

// ArtifactLister finds checkpoints and saved models in an output directory
type ArtifactLister interface {
	ListArtifacts(outputDir string) ([]models.JobArtifact, error)
}

// JobHandler handles job-related HTTP requests
type JobHandler struct {
	jobs             JobService
	events           events.Lister
	artifacts        ArtifactLister
	defaultOutputDir string
	log              *zerolog.Logger
}

// NewJobHandler creates a new job handler
func NewJobHandler(jobs JobService, ev events.Lister, artifacts ArtifactLister, defaultOutputDir string, log *zerolog.Logger) *JobHandler {
	if log == nil {
		nop := zerolog.Nop()
		log = &nop
	}
	return &JobHandler{jobs: jobs, events: ev, artifacts: artifacts, defaultOutputDir: defaultOutputDir, log: log}
}

// StartTrainingRequest is the body of POST /api/tuning/start. Either the
// fields are given inline or SpecYAML carries a YAML training document.
type StartTrainingRequest struct {
	spec.TrainingSpec
	SpecYAML string `json:"spec_yaml,omitempty"`
}

// StartTrainingResponse represents the response after submitting a job
type StartTrainingResponse struct {
	JobID  string `json:"job_id"`
	Status string `json:"status"`
}

// StartTraining handles POST /api/tuning/start
func (h *JobHandler) StartTraining(w http.ResponseWriter, r *http.Request) {
	var req StartTrainingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	ts := &req.TrainingSpec
	if req.SpecYAML != "" {
		parsed, err := spec.ParseTrainingSpec([]byte(req.SpecYAML))
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		ts = parsed
	}

	cfg, err := ts.ToConfig(h.defaultOutputDir)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	jobID, err := h.jobs.Submit(cfg.ModelName, cfg.DatasetPath, cfg)
	if err != nil {
		if errors.Is(err, scheduler.ErrShuttingDown) {
			writeError(w, http.StatusServiceUnavailable, err.Error())
			return
		}
		h.log.Error().Err(err).Msg("failed to submit job")
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusAccepted, StartTrainingResponse{JobID: jobID, Status: "started"})
}

// ListJobs handles GET /api/tuning/jobs
func (h *JobHandler) ListJobs(w http.ResponseWriter, r *http.Request) {
	var filter models.JobStatus
	if s := r.URL.Query().Get("status"); s != "" {
		filter = models.JobStatus(s)
		if !filter.Valid() {
			writeError(w, http.StatusBadRequest, "Invalid status filter")
			return
		}
	}

	all := h.jobs.ListJobs()
	jobs := make([]models.Job, 0, len(all))
	for _, job := range all {
		if filter == "" || job.Status == filter {
			jobs = append(jobs, job)
		}
	}
	sortNewestFirst(jobs)

	writeJSON(w, http.StatusOK, map[string]interface{}{"jobs": jobs})
}

// GetJob handles GET /api/tuning/jobs/{id}
func (h *JobHandler) GetJob(w http.ResponseWriter, r *http.Request) {
	job, err := h.jobs.Status(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, http.StatusNotFound, "Job not found")
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// CancelJob handles DELETE /api/tuning/jobs/{id} and POST /api/tuning/jobs/{id}/cancel
func (h *JobHandler) CancelJob(w http.ResponseWriter, r *http.Request) {
	jobID := mux.Vars(r)["id"]

	if h.jobs.Cancel(jobID) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
		return
	}

	// unknown and already finished jobs are both reported as not found
	writeError(w, http.StatusNotFound, "Job not found")
}

// GetJobEvents handles GET /api/tuning/jobs/{id}/events
func (h *JobHandler) GetJobEvents(w http.ResponseWriter, r *http.Request) {
	jobID := mux.Vars(r)["id"]

	if _, err := h.jobs.Status(jobID); err != nil {
		writeError(w, http.StatusNotFound, "Job not found")
		return
	}

	limit := 100
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "Invalid limit")
			return
		}
		limit = n
	}

	evs, err := h.events.GetJobEvents(r.Context(), jobID, limit)
	if err != nil {
		h.log.Error().Err(err).Str("job_id", jobID).Msg("failed to fetch events")
		writeError(w, http.StatusInternalServerError, "Failed to fetch events")
		return
	}
	if evs == nil {
		evs = []models.JobEvent{}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"items": evs})
}

// GetJobArtifacts handles GET /api/tuning/jobs/{id}/artifacts
func (h *JobHandler) GetJobArtifacts(w http.ResponseWriter, r *http.Request) {
	job, err := h.jobs.Status(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, http.StatusNotFound, "Job not found")
		return
	}

	items := []models.JobArtifact{}
	if !executor.IsRemote(job.Config.OutputDir) {
		items, err = h.artifacts.ListArtifacts(job.Config.OutputDir)
		if err != nil {
			h.log.Error().Err(err).Str("job_id", job.ID).Msg("failed to list artifacts")
			writeError(w, http.StatusInternalServerError, "Failed to list artifacts")
			return
		}
	}

	if t := r.URL.Query().Get("type"); t != "" {
		filtered := items[:0]
		for _, a := range items {
			if string(a.Type) == t {
				filtered = append(filtered, a)
			}
		}
		items = filtered
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"items": items})
}

func sortNewestFirst(jobs []models.Job) {
	sort.Slice(jobs, func(i, j int) bool {
		if jobs[i].CreatedAt.Equal(jobs[j].CreatedAt) {
			return jobs[i].ID < jobs[j].ID
		}
		return jobs[i].CreatedAt.After(jobs[j].CreatedAt)
	})
}
