package models

import "time"

// JobEvent represents a state transition event for a job
type JobEvent struct {
	ID         int64                  `json:"id,omitempty"`
	JobID      string                 `json:"job_id"`
	At         time.Time              `json:"at"`
	FromStatus *JobStatus             `json:"from_status,omitempty"`
	ToStatus   JobStatus              `json:"to_status"`
	Reason     string                 `json:"reason"`
	Meta       map[string]interface{} `json:"meta,omitempty"`
}

// Transition reasons recorded on job events
const (
	ReasonJobCreated        = "job_created"
	ReasonExecutionStarted  = "execution_started"
	ReasonTrainingCompleted = "training_completed"
	ReasonTrainingFailed    = "training_failed"
	ReasonUserCancelled     = "user_cancelled"
	ReasonShutdown          = "shutdown"
)

// NewTransitionEvent builds the event for a job moving from one status to another.
// from is nil for the creation event.
func NewTransitionEvent(jobID string, from *JobStatus, to JobStatus, reason string, at time.Time) JobEvent {
	ev := JobEvent{
		JobID:    jobID,
		At:       at,
		ToStatus: to,
		Reason:   reason,
	}
	if from != nil {
		f := *from
		ev.FromStatus = &f
	}
	return ev
}

// ArtifactType represents the type of job artifact
type ArtifactType string

const (
	ArtifactTypeCheckpoint ArtifactType = "checkpoint"
	ArtifactTypeOutput     ArtifactType = "output"
)

// JobArtifact is a file or directory a job left in its output location
type JobArtifact struct {
	Type      ArtifactType `json:"type"`
	URI       string       `json:"uri"`
	Step      int          `json:"step,omitempty"`
	CreatedAt time.Time    `json:"created_at"`
}

// DatasetInfo describes an uploaded dataset file
type DatasetInfo struct {
	Name   string `json:"name"`
	Path   string `json:"path"`
	Size   int64  `json:"size"`
	Format string `json:"format"`
}
