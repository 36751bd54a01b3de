package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"tunespace/core/events"
	"tunespace/core/executor"
	"tunespace/core/models"
	"tunespace/core/monitoring"
	"tunespace/core/registry"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"
)

// ErrShuttingDown is returned by Submit once Shutdown has been called
var ErrShuttingDown = errors.New("scheduler is shutting down")

// Scheduler admits fine-tuning jobs and runs each one on its own goroutine.
//
// Job state lives in the registry; the scheduler only keeps a cancel handle per
// live job. At most maxConcurrent jobs train at once, the rest wait as pending.
type Scheduler struct {
	registry *registry.Registry
	executor executor.TrainingExecutor
	events   events.Publisher
	slots    *semaphore.Weighted
	handles  sync.Map // job id -> *handle
	wg       sync.WaitGroup
	now      func() time.Time
	log      *zerolog.Logger

	admit  sync.RWMutex
	closed bool
}

type handle struct {
	cancel context.CancelFunc
}

// Option configures a Scheduler
type Option func(*Scheduler)

// WithMaxConcurrent bounds how many jobs may be running at once
func WithMaxConcurrent(n int) Option {
	return func(s *Scheduler) {
		if n > 0 {
			s.slots = semaphore.NewWeighted(int64(n))
		}
	}
}

// WithEvents sets where transition events are published
func WithEvents(p events.Publisher) Option {
	return func(s *Scheduler) {
		if p != nil {
			s.events = p
		}
	}
}

// WithLogger sets the scheduler logger
func WithLogger(l *zerolog.Logger) Option {
	return func(s *Scheduler) {
		if l != nil {
			s.log = l
		}
	}
}

// NewScheduler creates a new scheduler
func NewScheduler(reg *registry.Registry, exec executor.TrainingExecutor, opts ...Option) *Scheduler {
	nop := zerolog.Nop()
	s := &Scheduler{
		registry: reg,
		executor: exec,
		events:   events.Nop{},
		slots:    semaphore.NewWeighted(1),
		now:      time.Now,
		log:      &nop,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Submit registers a new job and starts its execution unit. It never waits for training.
func (s *Scheduler) Submit(modelName, datasetPath string, cfg models.TrainingConfig) (string, error) {
	s.admit.RLock()
	defer s.admit.RUnlock()
	if s.closed {
		return "", ErrShuttingDown
	}

	cfg.ModelName = modelName
	cfg.DatasetPath = datasetPath
	id := s.registry.Create(cfg)

	job, err := s.registry.Get(id)
	if err != nil {
		return "", fmt.Errorf("reading new job: %w", err)
	}
	s.events.Publish(models.NewTransitionEvent(id, nil, models.JobStatusPending, models.ReasonJobCreated, job.CreatedAt))
	monitoring.IncJobSubmitted()

	ctx, cancel := context.WithCancel(context.Background())
	h := &handle{cancel: cancel}
	s.handles.Store(id, h)

	s.wg.Add(1)
	go s.run(ctx, h, executor.TrainingRequest{JobID: id, Config: job.Config})

	s.log.Info().Str("job_id", id).Str("model", modelName).Str("dataset", datasetPath).Msg("job submitted")
	return id, nil
}

// Status returns a snapshot of the job
func (s *Scheduler) Status(jobID string) (models.Job, error) {
	return s.registry.Get(jobID)
}

// ListJobs returns a snapshot of every known job in no particular order
func (s *Scheduler) ListJobs() []models.Job {
	return s.registry.List()
}

// Cancel stops a pending or running job. It reports true only if the job
// became cancelled; unknown and already finished jobs return false.
func (s *Scheduler) Cancel(jobID string) bool {
	return s.cancelJob(jobID, models.ReasonUserCancelled)
}

func (s *Scheduler) cancelJob(jobID, reason string) bool {
	v, ok := s.handles.LoadAndDelete(jobID)
	if !ok {
		return false
	}
	v.(*handle).cancel()

	now := s.now()
	var prev models.JobStatus
	_, err := s.registry.Update(jobID, func(j *models.Job) error {
		prev = j.Status
		if err := j.MarkCancelled(now); err != nil {
			return err
		}
		s.finished(*j, prev, reason, nil)
		return nil
	})
	if err != nil {
		// the execution unit reached a terminal state first
		return false
	}

	s.log.Info().Str("job_id", jobID).Str("reason", reason).Str("from", string(prev)).Msg("job cancelled")
	return true
}

// Shutdown refuses new submissions, cancels every live job and waits for the
// execution units to return or ctx to expire.
func (s *Scheduler) Shutdown(ctx context.Context) error {
	s.admit.Lock()
	s.closed = true
	s.admit.Unlock()

	cancelled := 0
	s.handles.Range(func(key, _ any) bool {
		if s.cancelJob(key.(string), models.ReasonShutdown) {
			cancelled++
		}
		return true
	})
	s.log.Info().Int("cancelled", cancelled).Msg("scheduler shutting down")

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for jobs to stop: %w", ctx.Err())
	}
}

// run is the execution unit of a single job
func (s *Scheduler) run(ctx context.Context, h *handle, req executor.TrainingRequest) {
	defer s.wg.Done()
	defer s.handles.CompareAndDelete(req.JobID, h)

	logger := s.log.With().Str("job_id", req.JobID).Logger()

	if err := s.slots.Acquire(ctx, 1); err != nil {
		logger.Debug().Msg("job cancelled while waiting for a slot")
		return
	}
	defer s.slots.Release(1)
	if ctx.Err() != nil {
		return
	}

	_, err := s.registry.Update(req.JobID, func(j *models.Job) error {
		if err := j.MarkRunning(s.now()); err != nil {
			return err
		}
		s.started(*j)
		return nil
	})
	if err != nil {
		logger.Debug().Err(err).Msg("job no longer pending")
		return
	}
	logger.Info().Str("model", req.Config.ModelName).Msg("training started")

	metrics, trainErr := s.train(ctx, req, s.progressFunc(req.JobID, req.Config.LoggingSteps, &logger))

	if ctx.Err() != nil {
		// Cancel already recorded the terminal state
		logger.Info().Msg("training stopped after cancellation")
		return
	}

	now := s.now()
	if trainErr != nil {
		msg := trainErr.Error()
		if msg == "" {
			msg = "training failed"
		}
		_, err = s.registry.Update(req.JobID, func(j *models.Job) error {
			if err := j.MarkFailed(now, msg); err != nil {
				return err
			}
			s.finished(*j, models.JobStatusRunning, models.ReasonTrainingFailed, map[string]interface{}{"error": msg})
			return nil
		})
		if err != nil {
			return
		}
		logger.Error().Str("error", msg).Msg("training failed")
		return
	}

	meta := make(map[string]interface{}, len(metrics))
	for k, v := range metrics {
		meta[k] = v
	}
	_, err = s.registry.Update(req.JobID, func(j *models.Job) error {
		if err := j.MarkCompleted(now, metrics); err != nil {
			return err
		}
		s.finished(*j, models.JobStatusRunning, models.ReasonTrainingCompleted, meta)
		return nil
	})
	if err != nil {
		return
	}
	logger.Info().Interface("metrics", metrics).Msg("training completed")
}

// train calls the executor, turning a panic into an error
func (s *Scheduler) train(ctx context.Context, req executor.TrainingRequest, progress executor.ProgressFunc) (metrics map[string]float64, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("training executor panicked: %v", r)
		}
	}()
	return s.executor.Train(ctx, req, progress)
}

// started and finished run inside Registry.Update so a job's events are
// published in the same order as its transitions
func (s *Scheduler) started(job models.Job) {
	from := models.JobStatusPending
	at := s.now()
	if job.StartedAt != nil {
		at = *job.StartedAt
	}
	s.events.Publish(models.NewTransitionEvent(job.ID, &from, models.JobStatusRunning, models.ReasonExecutionStarted, at))
	monitoring.JobStarted()
}

func (s *Scheduler) finished(job models.Job, from models.JobStatus, reason string, meta map[string]interface{}) {
	at := s.now()
	if job.CompletedAt != nil {
		at = *job.CompletedAt
	}
	ev := models.NewTransitionEvent(job.ID, &from, job.Status, reason, at)
	ev.Meta = meta
	s.events.Publish(ev)

	var elapsed time.Duration
	if job.StartedAt != nil {
		elapsed = at.Sub(*job.StartedAt)
	}
	monitoring.JobFinished(job.Status, from == models.JobStatusRunning, elapsed)
}
