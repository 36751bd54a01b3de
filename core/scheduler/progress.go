package scheduler

import (
	"sync/atomic"

	"tunespace/core/executor"
	"tunespace/core/models"
	"tunespace/core/monitoring"

	"github.com/rs/zerolog"
)

// progressFunc builds the callback handed to the executor for one job. It only
// captures the job id and the registry, so a late call after the job finished
// is a harmless no-op.
func (s *Scheduler) progressFunc(jobID string, loggingSteps int, logger *zerolog.Logger) executor.ProgressFunc {
	reg := s.registry
	var lastLogged atomic.Int64

	return func(currentStep, totalSteps int) {
		job, err := reg.Update(jobID, func(j *models.Job) error {
			return j.ApplyProgress(currentStep, totalSteps)
		})
		if err != nil {
			return
		}
		monitoring.IncProgressUpdate()

		if loggingSteps <= 0 {
			return
		}
		last := lastLogged.Load()
		if int64(job.CurrentStep)-last >= int64(loggingSteps) && lastLogged.CompareAndSwap(last, int64(job.CurrentStep)) {
			logger.Debug().
				Int("current_step", job.CurrentStep).
				Int("total_steps", job.TotalSteps).
				Float64("progress", job.Progress).
				Msg("training progress")
		}
	}
}
