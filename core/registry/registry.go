package registry

import (
	"errors"
	"sync"
	"time"

	"tunespace/core/models"

	"github.com/google/uuid"
)

// ErrNotFound is returned for job ids the registry does not know
var ErrNotFound = errors.New("job not found")

// Registry is the in-memory record of every submitted job.
//
// Entries are kept in a sync.Map and each entry carries its own lock, so
// writers on different jobs never contend and writers on the same job are
// serialized. Readers always receive a complete copy.
type Registry struct {
	entries sync.Map // job id -> *entry
	now     func() time.Time
}

type entry struct {
	mu  sync.RWMutex
	job models.Job
}

// New creates an empty registry
func New() *Registry {
	return &Registry{now: time.Now}
}

// Create stores a new pending job and returns its id
func (r *Registry) Create(cfg models.TrainingConfig) string {
	id := uuid.New().String()
	e := &entry{job: models.Job{
		ID:        id,
		Status:    models.JobStatusPending,
		Config:    cfg,
		CreatedAt: r.now().UTC(),
	}}
	r.entries.Store(id, e)
	return id
}

// Get returns a snapshot of the job
func (r *Registry) Get(id string) (models.Job, error) {
	e, ok := r.lookup(id)
	if !ok {
		return models.Job{}, ErrNotFound
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.job.Clone(), nil
}

// List returns a snapshot of all jobs in no particular order
func (r *Registry) List() []models.Job {
	var jobs []models.Job
	r.entries.Range(func(_, v any) bool {
		e := v.(*entry)
		e.mu.RLock()
		jobs = append(jobs, e.job.Clone())
		e.mu.RUnlock()
		return true
	})
	return jobs
}

// Update applies fn to a copy of the job and publishes the copy only if fn
// succeeds. The returned job is the stored snapshot after the update.
func (r *Registry) Update(id string, fn func(*models.Job) error) (models.Job, error) {
	e, ok := r.lookup(id)
	if !ok {
		return models.Job{}, ErrNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	next := e.job.Clone()
	if err := fn(&next); err != nil {
		return e.job.Clone(), err
	}
	// identity, creation time and config are immutable
	next.ID = e.job.ID
	next.CreatedAt = e.job.CreatedAt
	next.Config = e.job.Config
	e.job = next
	return e.job.Clone(), nil
}

// Delete removes a job. Only terminal jobs may be removed; it reports whether
// the job was deleted.
func (r *Registry) Delete(id string) bool {
	e, ok := r.lookup(id)
	if !ok {
		return false
	}
	e.mu.RLock()
	terminal := e.job.Status.IsTerminal()
	e.mu.RUnlock()
	if !terminal {
		return false
	}
	return r.entries.CompareAndDelete(id, e)
}

// Len returns the number of stored jobs
func (r *Registry) Len() int {
	n := 0
	r.entries.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

func (r *Registry) lookup(id string) (*entry, bool) {
	v, ok := r.entries.Load(id)
	if !ok {
		return nil, false
	}
	return v.(*entry), true
}
