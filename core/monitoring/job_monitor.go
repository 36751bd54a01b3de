package monitoring

import (
	"context"
	"sync"
	"time"

	"tunespace/core/models"

	"github.com/rs/zerolog"
)

// JobSource is the job store the monitor watches
type JobSource interface {
	List() []models.Job
	Delete(id string) bool
	Len() int
}

// JobMonitor periodically inspects jobs: it refreshes the job gauges,
// warns about running jobs whose step counter stopped moving and prunes
// terminal jobs past the retention period.
type JobMonitor struct {
	jobs       JobSource
	interval   time.Duration
	stallAfter time.Duration
	retention  time.Duration
	onPrune    func(jobID string)
	now        func() time.Time
	log        *zerolog.Logger

	mu    sync.Mutex
	marks map[string]stepMark
}

type stepMark struct {
	step   int
	at     time.Time
	warned bool
}

// MonitorOptions tunes the job monitor. Zero StallAfter or Retention disables that check.
type MonitorOptions struct {
	Interval   time.Duration
	StallAfter time.Duration
	Retention  time.Duration
	// OnPrune is called for every job removed by retention
	OnPrune func(jobID string)
}

// NewJobMonitor creates a new job monitor
func NewJobMonitor(jobs JobSource, opts MonitorOptions, log *zerolog.Logger) *JobMonitor {
	if opts.Interval <= 0 {
		opts.Interval = 30 * time.Second
	}
	if log == nil {
		nop := zerolog.Nop()
		log = &nop
	}
	return &JobMonitor{
		jobs:       jobs,
		interval:   opts.Interval,
		stallAfter: opts.StallAfter,
		retention:  opts.Retention,
		onPrune:    opts.OnPrune,
		now:        time.Now,
		log:        log,
		marks:      make(map[string]stepMark),
	}
}

// Start runs the monitoring loop until ctx is cancelled
func (jm *JobMonitor) Start(ctx context.Context) {
	ticker := time.NewTicker(jm.interval)
	defer ticker.Stop()

	jm.Check()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			jm.Check()
		}
	}
}

// Check performs a single monitoring pass and returns how many jobs were pruned
func (jm *JobMonitor) Check() int {
	now := jm.now()
	jobs := jm.jobs.List()

	counts := make(map[models.JobStatus]int, len(models.AllStatuses))
	running := make(map[string]bool)
	pruned := 0

	for _, job := range jobs {
		if jm.expired(job, now) && jm.jobs.Delete(job.ID) {
			pruned++
			if jm.onPrune != nil {
				jm.onPrune(job.ID)
			}
			continue
		}
		counts[job.Status]++
		if job.Status == models.JobStatusRunning {
			running[job.ID] = true
			jm.checkJobProgress(job, now)
		}
	}

	jm.mu.Lock()
	for id := range jm.marks {
		if !running[id] {
			delete(jm.marks, id)
		}
	}
	jm.mu.Unlock()

	SetJobCounts(counts)
	SetRegistrySize(jm.jobs.Len())
	if pruned > 0 {
		jm.log.Info().Int("pruned", pruned).Msg("removed expired jobs")
	}
	return pruned
}

func (jm *JobMonitor) expired(job models.Job, now time.Time) bool {
	if jm.retention <= 0 || !job.Status.IsTerminal() || job.CompletedAt == nil {
		return false
	}
	return now.Sub(*job.CompletedAt) > jm.retention
}

// checkJobProgress warns once when a running job's step counter has not moved for stallAfter
func (jm *JobMonitor) checkJobProgress(job models.Job, now time.Time) {
	if jm.stallAfter <= 0 {
		return
	}

	jm.mu.Lock()
	defer jm.mu.Unlock()

	mark, seen := jm.marks[job.ID]
	if !seen || job.CurrentStep != mark.step {
		jm.marks[job.ID] = stepMark{step: job.CurrentStep, at: now}
		return
	}
	if mark.warned || now.Sub(mark.at) < jm.stallAfter {
		return
	}

	mark.warned = true
	jm.marks[job.ID] = mark
	jm.log.Warn().
		Str("job_id", job.ID).
		Int("current_step", job.CurrentStep).
		Int("total_steps", job.TotalSteps).
		Dur("stalled_for", now.Sub(mark.at)).
		Msg("job progress stalled")
}

// JobMetrics represents job monitoring metrics
type JobMetrics struct {
	JobID        string           `json:"job_id"`
	Status       models.JobStatus `json:"status"`
	Progress     float64          `json:"progress"`
	CurrentStep  int              `json:"current_step"`
	TotalSteps   int              `json:"total_steps"`
	StartTime    *time.Time       `json:"start_time,omitempty"`
	ElapsedTime  time.Duration    `json:"elapsed_ns"`
	StepsPerHour float64          `json:"steps_per_hour,omitempty"`
	// Remaining is the estimated time left, zero when unknown
	Remaining time.Duration `json:"remaining_ns,omitempty"`
}

// NewJobMetrics derives elapsed time, throughput and an ETA from a job snapshot
func NewJobMetrics(job models.Job, now time.Time) *JobMetrics {
	m := &JobMetrics{
		JobID:       job.ID,
		Status:      job.Status,
		Progress:    job.Progress,
		CurrentStep: job.CurrentStep,
		TotalSteps:  job.TotalSteps,
		StartTime:   job.StartedAt,
	}
	if job.StartedAt == nil {
		return m
	}

	end := now
	if job.CompletedAt != nil {
		end = *job.CompletedAt
	}
	m.ElapsedTime = end.Sub(*job.StartedAt)

	if hours := m.ElapsedTime.Hours(); hours > 0 && job.CurrentStep > 0 {
		m.StepsPerHour = float64(job.CurrentStep) / hours
		if job.Status == models.JobStatusRunning && job.TotalSteps > job.CurrentStep {
			left := float64(job.TotalSteps-job.CurrentStep) / m.StepsPerHour
			m.Remaining = time.Duration(left * float64(time.Hour))
		}
	}
	return m
}
