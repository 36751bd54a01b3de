package monitoring

import (
	"time"

	"tunespace/core/models"

	"github.com/prometheus/client_golang/prometheus"
)

func init() {
	register(
		jobsSubmittedTotal,
		jobsFinishedTotal,
		jobsRunning,
		jobsByStatus,
		registryJobs,
		jobDurationSeconds,
		progressUpdatesTotal,
		eventsDroppedTotal,
	)
}

var (
	jobsSubmittedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tunespace_jobs_submitted_total",
			Help: "Total number of fine-tuning jobs accepted.",
		},
	)

	jobsFinishedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tunespace_jobs_finished_total",
			Help: "Jobs that reached a terminal status.",
		},
		[]string{"status"}, // 'completed', 'failed', 'cancelled'
	)

	jobsRunning = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "tunespace_jobs_running",
			Help: "Jobs currently executing.",
		},
	)

	jobsByStatus = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "tunespace_jobs",
			Help: "Jobs held in the registry by status.",
		},
		[]string{"status"},
	)

	registryJobs = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "tunespace_registry_jobs",
			Help: "Jobs held in the registry, terminal jobs included.",
		},
	)

	jobDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tunespace_job_duration_seconds",
			Help:    "Time from start of execution to terminal status.",
			Buckets: []float64{1, 10, 60, 300, 900, 1800, 3600, 7200, 21600, 86400},
		},
		[]string{"status"},
	)

	progressUpdatesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tunespace_progress_updates_total",
			Help: "Progress reports accepted from training executors.",
		},
	)

	eventsDroppedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tunespace_events_dropped_total",
			Help: "Job events discarded because the dispatch buffer was full.",
		},
	)
)

func IncJobSubmitted() {
	jobsSubmittedTotal.Inc()
}

func JobStarted() {
	jobsRunning.Inc()
}

// JobFinished records a terminal transition. wasRunning is false for jobs cancelled while pending.
func JobFinished(status models.JobStatus, wasRunning bool, elapsed time.Duration) {
	jobsFinishedTotal.WithLabelValues(string(status)).Inc()
	if wasRunning {
		jobsRunning.Dec()
		jobDurationSeconds.WithLabelValues(string(status)).Observe(elapsed.Seconds())
	}
}

func IncProgressUpdate() {
	progressUpdatesTotal.Inc()
}

func IncEventsDropped() {
	eventsDroppedTotal.Inc()
}

// SetJobCounts sets the per-status gauge, zeroing statuses absent from counts
func SetJobCounts(counts map[models.JobStatus]int) {
	for _, status := range models.AllStatuses {
		jobsByStatus.WithLabelValues(string(status)).Set(float64(counts[status]))
	}
}

func SetRegistrySize(n int) {
	registryJobs.Set(float64(n))
}
