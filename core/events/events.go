package events

import (
	"context"
	"sync"
	"time"

	"tunespace/core/models"
	"tunespace/core/monitoring"

	"github.com/rs/zerolog"
)

// Publisher accepts job transition events. Publish must not block.
type Publisher interface {
	Publish(ev models.JobEvent)
}

// Recorder is a destination for job events (memory, postgres, redis)
type Recorder interface {
	RecordEvent(ctx context.Context, ev models.JobEvent) error
}

// Lister serves the transition history of a job, oldest first
type Lister interface {
	GetJobEvents(ctx context.Context, jobID string, limit int) ([]models.JobEvent, error)
}

// Nop discards every event
type Nop struct{}

// Publish does nothing
func (Nop) Publish(models.JobEvent) {}

// Dispatcher fans events out to recorders from a single background goroutine
// so slow sinks never delay job transitions. When the buffer is full new events
// are dropped and counted.
type Dispatcher struct {
	sinks   []Recorder
	timeout time.Duration
	log     *zerolog.Logger

	mu     sync.RWMutex
	closed bool
	ch     chan models.JobEvent
	done   chan struct{}
}

// NewDispatcher creates a dispatcher and starts its delivery goroutine
func NewDispatcher(buffer int, log *zerolog.Logger, sinks ...Recorder) *Dispatcher {
	if buffer <= 0 {
		buffer = 256
	}
	if log == nil {
		nop := zerolog.Nop()
		log = &nop
	}
	d := &Dispatcher{
		sinks:   sinks,
		timeout: 5 * time.Second,
		log:     log,
		ch:      make(chan models.JobEvent, buffer),
		done:    make(chan struct{}),
	}
	go d.loop()
	return d
}

// Publish enqueues ev for delivery
func (d *Dispatcher) Publish(ev models.JobEvent) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return
	}
	select {
	case d.ch <- ev:
	default:
		monitoring.IncEventsDropped()
		d.log.Warn().Str("job_id", ev.JobID).Str("to_status", string(ev.ToStatus)).Msg("event buffer full, dropping event")
	}
}

// Close stops accepting events and waits for queued ones to be delivered or ctx to expire
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.ch)
	}
	d.mu.Unlock()

	select {
	case <-d.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) loop() {
	defer close(d.done)
	for ev := range d.ch {
		for _, sink := range d.sinks {
			d.deliver(sink, ev)
		}
	}
}

func (d *Dispatcher) deliver(sink Recorder, ev models.JobEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()
	if err := sink.RecordEvent(ctx, ev); err != nil {
		d.log.Error().Err(err).Str("job_id", ev.JobID).Msg("failed to record job event")
	}
}
