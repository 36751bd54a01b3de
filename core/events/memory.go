package events

import (
	"context"
	"sync"

	"tunespace/core/models"
)

// MemoryLog keeps the transition history of every job in memory
type MemoryLog struct {
	mu     sync.RWMutex
	nextID int64
	byJob  map[string][]models.JobEvent
}

// NewMemoryLog creates an empty event log
func NewMemoryLog() *MemoryLog {
	return &MemoryLog{byJob: make(map[string][]models.JobEvent)}
}

// RecordEvent appends ev to its job's history
func (m *MemoryLog) RecordEvent(_ context.Context, ev models.JobEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	ev.ID = m.nextID
	m.byJob[ev.JobID] = append(m.byJob[ev.JobID], ev)
	return nil
}

// GetJobEvents returns the most recent limit events for a job, oldest first. limit <= 0 returns all.
func (m *MemoryLog) GetJobEvents(_ context.Context, jobID string, limit int) ([]models.JobEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	evs := m.byJob[jobID]
	if limit > 0 && len(evs) > limit {
		evs = evs[len(evs)-limit:]
	}
	out := make([]models.JobEvent, len(evs))
	copy(out, evs)
	return out, nil
}

// Forget drops the history of a job
func (m *MemoryLog) Forget(jobID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.byJob, jobID)
}
