package executor

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// ErrDatasetNotFound is returned when the dataset path does not exist
var ErrDatasetNotFound = errors.New("dataset not found")

// Simulated executes training jobs without a model, ticking through the steps a
// real run would take. It is used for local development and demos.
type Simulated struct {
	StepInterval  time.Duration
	StepsPerEpoch int
	// RequireDataset makes the run fail when the dataset file is missing
	RequireDataset bool

	log *zerolog.Logger
}

// NewSimulated creates a simulated training executor
func NewSimulated(stepInterval time.Duration, stepsPerEpoch int, log *zerolog.Logger) *Simulated {
	if stepsPerEpoch <= 0 {
		stepsPerEpoch = 100
	}
	if log == nil {
		nop := zerolog.Nop()
		log = &nop
	}
	return &Simulated{
		StepInterval:  stepInterval,
		StepsPerEpoch: stepsPerEpoch,
		log:           log,
	}
}

// Train walks num_epochs * steps_per_epoch steps, reporting each one
func (s *Simulated) Train(ctx context.Context, req TrainingRequest, progress ProgressFunc) (map[string]float64, error) {
	cfg := req.Config
	if s.RequireDataset {
		if _, err := os.Stat(cfg.DatasetPath); err != nil {
			return nil, fmt.Errorf("%w: %s", ErrDatasetNotFound, cfg.DatasetPath)
		}
	}

	epochs := cfg.NumEpochs
	if epochs <= 0 {
		epochs = 1
	}
	total := epochs * s.StepsPerEpoch

	logger := s.log.With().Str("job_id", req.JobID).Int("total_steps", total).Logger()
	logger.Info().Str("model", cfg.ModelName).Msg("simulating training execution")

	start := time.Now()
	var ticker *time.Ticker
	if s.StepInterval > 0 {
		ticker = time.NewTicker(s.StepInterval)
		defer ticker.Stop()
	}

	for step := 1; step <= total; step++ {
		if ticker != nil {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-ticker.C:
			}
		} else if err := ctx.Err(); err != nil {
			return nil, err
		}
		if progress != nil {
			progress(step, total)
		}
	}

	runtime := time.Since(start).Seconds()
	metrics := map[string]float64{
		"train_loss":    simulatedLoss(total, total),
		"eval_loss":     simulatedLoss(total, total) * 1.08,
		"epoch":         float64(epochs),
		"global_step":   float64(total),
		"train_runtime": runtime,
	}
	if runtime > 0 {
		metrics["train_samples_per_second"] = float64(total*max(cfg.BatchSize, 1)) / runtime
	}

	logger.Info().Float64("train_loss", metrics["train_loss"]).Msg("simulated training completed")
	return metrics, nil
}

// simulatedLoss decays from roughly 2.8 towards 0.3 over the run
func simulatedLoss(step, total int) float64 {
	if total <= 0 {
		return 0
	}
	frac := float64(step) / float64(total)
	return math.Round((2.5*math.Exp(-3*frac)+0.3)*1e4) / 1e4
}
