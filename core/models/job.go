package models

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrInvalidTransition is returned when a job cannot move to the requested status
	ErrInvalidTransition = errors.New("invalid job status transition")
	// ErrNotRunning is returned when progress is reported for a job that is not running
	ErrNotRunning = errors.New("job is not running")
)

// Job represents a fine-tuning job submitted to the platform
type Job struct {
	ID           string             `json:"job_id"`
	Status       JobStatus          `json:"status"`
	Config       TrainingConfig     `json:"config"`
	CreatedAt    time.Time          `json:"created_at"`
	StartedAt    *time.Time         `json:"started_at"`
	CompletedAt  *time.Time         `json:"completed_at"`
	ErrorMessage string             `json:"error_message,omitempty"`
	Metrics      map[string]float64 `json:"metrics,omitempty"`
	Progress     float64            `json:"progress"`
	CurrentStep  int                `json:"current_step"`
	TotalSteps   int                `json:"total_steps"`
}

// JobStatus represents the current status of a job
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// AllStatuses lists every job status in lifecycle order
var AllStatuses = []JobStatus{
	JobStatusPending,
	JobStatusRunning,
	JobStatusCompleted,
	JobStatusFailed,
	JobStatusCancelled,
}

// IsTerminal reports whether no further transitions are possible from s
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	}
	return false
}

// Valid reports whether s is a known status
func (s JobStatus) Valid() bool {
	for _, known := range AllStatuses {
		if s == known {
			return true
		}
	}
	return false
}

// CanTransition reports whether the state machine has an edge from s to next
func (s JobStatus) CanTransition(next JobStatus) bool {
	switch s {
	case JobStatusPending:
		return next == JobStatusRunning || next == JobStatusCancelled
	case JobStatusRunning:
		return next == JobStatusCompleted || next == JobStatusFailed || next == JobStatusCancelled
	}
	return false
}

// TrainingConfig is the immutable set of training parameters captured at submission
type TrainingConfig struct {
	ModelName          string  `json:"model_name" yaml:"model_name"`
	DatasetPath        string  `json:"dataset_path" yaml:"dataset_path"`
	OutputDir          string  `json:"output_dir" yaml:"output_dir"`
	LearningRate       float64 `json:"learning_rate" yaml:"learning_rate"`
	BatchSize          int     `json:"batch_size" yaml:"batch_size"`
	NumEpochs          int     `json:"num_epochs" yaml:"num_epochs"`
	MaxLength          int     `json:"max_length" yaml:"max_length"`
	WarmupSteps        int     `json:"warmup_steps" yaml:"warmup_steps"`
	LoggingSteps       int     `json:"logging_steps" yaml:"logging_steps"`
	SaveSteps          int     `json:"save_steps" yaml:"save_steps"`
	EvaluationStrategy string  `json:"evaluation_strategy" yaml:"evaluation_strategy"`
	EvalSteps          int     `json:"eval_steps" yaml:"eval_steps"`
	UseLoRA            bool    `json:"use_lora" yaml:"use_lora"`
	LoRAR              int     `json:"lora_r" yaml:"lora_r"`
	LoRAAlpha          int     `json:"lora_alpha" yaml:"lora_alpha"`
	LoRADropout        float64 `json:"lora_dropout" yaml:"lora_dropout"`
}

// DefaultTrainingConfig returns the hyperparameter defaults used when a request omits them
func DefaultTrainingConfig() TrainingConfig {
	return TrainingConfig{
		LearningRate:       2e-5,
		BatchSize:          4,
		NumEpochs:          3,
		MaxLength:          512,
		WarmupSteps:        500,
		LoggingSteps:       50,
		SaveSteps:          1000,
		EvaluationStrategy: "steps",
		EvalSteps:          500,
		UseLoRA:            true,
		LoRAR:              16,
		LoRAAlpha:          32,
		LoRADropout:        0.1,
	}
}

// Clone returns a deep copy of the job so callers never share pointers with the registry
func (j Job) Clone() Job {
	out := j
	if j.StartedAt != nil {
		t := *j.StartedAt
		out.StartedAt = &t
	}
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		out.CompletedAt = &t
	}
	if j.Metrics != nil {
		out.Metrics = make(map[string]float64, len(j.Metrics))
		for k, v := range j.Metrics {
			out.Metrics[k] = v
		}
	}
	return out
}

func (j *Job) transition(next JobStatus) error {
	if !j.Status.CanTransition(next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, j.Status, next)
	}
	j.Status = next
	return nil
}

// MarkRunning moves a pending job to running and stamps started_at
func (j *Job) MarkRunning(now time.Time) error {
	if err := j.transition(JobStatusRunning); err != nil {
		return err
	}
	j.StartedAt = &now
	return nil
}

// MarkCompleted moves a running job to completed, pins progress to 100 and stores metrics
func (j *Job) MarkCompleted(now time.Time, metrics map[string]float64) error {
	if err := j.transition(JobStatusCompleted); err != nil {
		return err
	}
	j.CompletedAt = &now
	j.Progress = 100.0
	if j.TotalSteps > 0 {
		j.CurrentStep = j.TotalSteps
	}
	if len(metrics) > 0 {
		j.Metrics = make(map[string]float64, len(metrics))
		for k, v := range metrics {
			j.Metrics[k] = v
		}
	}
	return nil
}

// MarkFailed moves a running job to failed and records the failure description
func (j *Job) MarkFailed(now time.Time, message string) error {
	if err := j.transition(JobStatusFailed); err != nil {
		return err
	}
	j.CompletedAt = &now
	j.ErrorMessage = message
	j.Metrics = nil
	return nil
}

// MarkCancelled moves a pending or running job to cancelled
func (j *Job) MarkCancelled(now time.Time) error {
	if err := j.transition(JobStatusCancelled); err != nil {
		return err
	}
	j.CompletedAt = &now
	return nil
}

// ApplyProgress records a step report from the training executor.
// current_step and progress never move backwards; current_step is capped at total_steps.
func (j *Job) ApplyProgress(step, total int) error {
	if j.Status != JobStatusRunning {
		return ErrNotRunning
	}
	// a shrinking total that would strand current_step above it is ignored
	if total > 0 && total >= j.CurrentStep {
		j.TotalSteps = total
	}
	if step < 0 {
		step = 0
	}
	if j.TotalSteps > 0 && step > j.TotalSteps {
		step = j.TotalSteps
	}
	if step > j.CurrentStep {
		j.CurrentStep = step
	}
	if j.TotalSteps > 0 {
		p := 100 * float64(j.CurrentStep) / float64(j.TotalSteps)
		if p > 100 {
			p = 100
		}
		if p > j.Progress {
			j.Progress = p
		}
	}
	return nil
}
