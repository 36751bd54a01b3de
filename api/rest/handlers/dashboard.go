package handlers

import (
	"net/http"
	"time"

	"tunespace/core/models"
	"tunespace/core/monitoring"
)

// JobLister provides job snapshots for the dashboard
type JobLister interface {
	ListJobs() []models.Job
}

// DashboardHandler handles dashboard API requests
type DashboardHandler struct {
	jobs JobLister
	now  func() time.Time
}

// NewDashboardHandler creates a new dashboard handler
func NewDashboardHandler(jobs JobLister) *DashboardHandler {
	return &DashboardHandler{jobs: jobs, now: time.Now}
}

// SummaryResponse is the dashboard overview
type SummaryResponse struct {
	Total   int                         `json:"total"`
	Counts  map[models.JobStatus]int    `json:"counts"`
	Active  []*monitoring.JobMetrics    `json:"active"`
	Recent  []models.Job                `json:"recent"`
	Metrics map[string]*metricsSnapshot `json:"latest_metrics,omitempty"`
}

type metricsSnapshot struct {
	CompletedAt *time.Time         `json:"completed_at"`
	Values      map[string]float64 `json:"values"`
}

const recentJobs = 10

// GetSummary handles GET /api/tuning/summary
func (h *DashboardHandler) GetSummary(w http.ResponseWriter, r *http.Request) {
	jobs := h.jobs.ListJobs()
	sortNewestFirst(jobs)
	now := h.now()

	resp := SummaryResponse{
		Total:  len(jobs),
		Counts: make(map[models.JobStatus]int, len(models.AllStatuses)),
		Active: []*monitoring.JobMetrics{},
		Recent: []models.Job{},
	}
	for _, s := range models.AllStatuses {
		resp.Counts[s] = 0
	}

	var latest *models.Job
	for i, job := range jobs {
		resp.Counts[job.Status]++
		if job.Status == models.JobStatusRunning || job.Status == models.JobStatusPending {
			resp.Active = append(resp.Active, monitoring.NewJobMetrics(job, now))
		}
		if i < recentJobs {
			resp.Recent = append(resp.Recent, job)
		}
		if job.Status == models.JobStatusCompleted && len(job.Metrics) > 0 {
			if latest == nil || job.CompletedAt.After(*latest.CompletedAt) {
				latest = &jobs[i]
			}
		}
	}

	if latest != nil {
		resp.Metrics = map[string]*metricsSnapshot{
			latest.ID: {CompletedAt: latest.CompletedAt, Values: latest.Metrics},
		}
	}

	writeJSON(w, http.StatusOK, resp)
}
