package executor

import (
	"context"

	"tunespace/core/models"
)

// ProgressFunc receives step reports from a running training routine.
// It may be called from any goroutine.
type ProgressFunc func(currentStep, totalSteps int)

// TrainingRequest is everything a training routine needs to run one job
type TrainingRequest struct {
	JobID  string
	Config models.TrainingConfig
}

// TrainingExecutor runs a single fine-tuning job to completion.
//
// Train blocks until training finishes, fails or ctx is cancelled. On success it
// returns the final metrics. Implementations must stop promptly once ctx is done.
type TrainingExecutor interface {
	Train(ctx context.Context, req TrainingRequest, progress ProgressFunc) (map[string]float64, error)
}

// Func adapts a plain function to TrainingExecutor
type Func func(ctx context.Context, req TrainingRequest, progress ProgressFunc) (map[string]float64, error)

// Train calls f
func (f Func) Train(ctx context.Context, req TrainingRequest, progress ProgressFunc) (map[string]float64, error) {
	return f(ctx, req, progress)
}
