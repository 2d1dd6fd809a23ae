package queue

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/videoapp/api/internal/model"
)

const subscriberBuffer = 64

type slot struct {
	pending *model.OverlayJob
	running *model.OverlayJob
	cancel  context.CancelFunc
}

// MemoryQueue is an in-process Queue. A single executor goroutine runs jobs,
// so no two executions ever overlap. Jobs do not survive a restart.
type MemoryQueue struct {
	mu     sync.Mutex
	slots  map[string]*slot
	jobs   map[string]*model.OverlayJob
	latest map[string]string
	subs   map[string]map[chan model.JobStatusEvent]struct{}
	order  []string
	wake   chan struct{}
	now    func() time.Time

	// Finished jobs older than retention are forgotten, except the latest per key.
	retention time.Duration
}

// NewMemoryQueue creates an empty queue. Jobs only execute once Run is called.
func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{
		slots:  make(map[string]*slot),
		jobs:   make(map[string]*model.OverlayJob),
		latest: make(map[string]string),
		subs:   make(map[string]map[chan model.JobStatusEvent]struct{}),
		wake:   make(chan struct{}, 1),
		now:    time.Now,

		retention: jobTTL,
	}
}

// SubmitUnique files a job under key according to policy
func (q *MemoryQueue) SubmitUnique(ctx context.Context, key string, policy Policy, payload []byte) (*model.OverlayJob, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	s, ok := q.slots[key]
	if !ok {
		s = &slot{}
		q.slots[key] = s
		q.order = append(q.order, key)
	}

	switch policy {
	case PolicyReplace:
	case PolicyKeep:
		if s.pending != nil {
			return clone(s.pending), nil
		}
		if s.running != nil {
			return clone(s.running), nil
		}
	default:
		return nil, fmt.Errorf("unsupported policy: %s", policy)
	}

	now := q.now()
	job := newJob(key, payload, now)

	if s.pending != nil {
		q.emit(apply(s.pending, model.JobStatusCanceled, nil, model.FailureReasonSuperseded, "superseded by "+job.ID, now))
		s.pending = nil
	}
	if s.running != nil {
		// The executor records the cancellation once the handler returns.
		s.running.Reason = model.FailureReasonSuperseded
		s.cancel()
	}

	s.pending = job
	q.jobs[job.ID] = job
	q.latest[key] = job.ID
	q.emit(apply(job, model.JobStatusQueued, nil, model.FailureReasonNone, "", now))
	q.prune(now)

	select {
	case q.wake <- struct{}{}:
	default:
	}

	return clone(job), nil
}

// Run executes jobs with h until ctx is done
func (q *MemoryQueue) Run(ctx context.Context, h Handler) {
	for {
		for q.step(ctx, h) {
		}

		select {
		case <-ctx.Done():
			return
		case <-q.wake:
		}
	}
}

// step runs the next pending job, reporting false when none is pending
func (q *MemoryQueue) step(ctx context.Context, h Handler) bool {
	if ctx.Err() != nil {
		return false
	}

	q.mu.Lock()
	var (
		job *model.OverlayJob
		s   *slot
	)
	for _, key := range q.order {
		if candidate := q.slots[key]; candidate.pending != nil {
			s = candidate
			job = candidate.pending
			break
		}
	}
	if job == nil {
		q.mu.Unlock()
		return false
	}

	jobCtx, cancel := context.WithCancel(ctx)
	s.pending = nil
	s.running = job
	s.cancel = cancel
	q.emit(apply(job, model.JobStatusRunning, nil, model.FailureReasonNone, "", q.now()))
	payload := []byte(job.Payload)
	q.mu.Unlock()

	result := h(WithJobID(jobCtx, job.ID), payload)

	q.mu.Lock()
	defer q.mu.Unlock()
	superseded := job.Reason == model.FailureReasonSuperseded
	cancel()
	s.running = nil
	s.cancel = nil

	now := q.now()
	switch {
	case superseded:
		q.emit(apply(job, model.JobStatusCanceled, nil, model.FailureReasonSuperseded, "superseded while running", now))
	case ctx.Err() != nil:
		q.emit(apply(job, model.JobStatusCanceled, nil, model.FailureReasonNone, "queue stopped", now))
	case result.Success:
		q.emit(apply(job, model.JobStatusSucceeded, &result, model.FailureReasonNone, "", now))
	default:
		q.emit(apply(job, model.JobStatusFailed, &result, model.FailureReasonNone, "", now))
	}
	q.prune(now)
	return true
}

// prune must be called with q.mu held
func (q *MemoryQueue) prune(now time.Time) {
	for id, job := range q.jobs {
		if job.CompletedAt == nil || now.Sub(*job.CompletedAt) < q.retention {
			continue
		}
		if q.latest[job.Key] == id {
			continue
		}
		delete(q.jobs, id)
	}
}

// ObserveStatus streams status events for key until ctx is done
func (q *MemoryQueue) ObserveStatus(ctx context.Context, key string) (<-chan model.JobStatusEvent, error) {
	ch := make(chan model.JobStatusEvent, subscriberBuffer)

	q.mu.Lock()
	if q.subs[key] == nil {
		q.subs[key] = make(map[chan model.JobStatusEvent]struct{})
	}
	q.subs[key][ch] = struct{}{}
	q.mu.Unlock()

	go func() {
		<-ctx.Done()
		q.mu.Lock()
		delete(q.subs[key], ch)
		close(ch)
		q.mu.Unlock()
	}()

	return ch, nil
}

// Latest returns the most recently submitted job under key
func (q *MemoryQueue) Latest(ctx context.Context, key string) (*model.OverlayJob, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	id, ok := q.latest[key]
	if !ok {
		return nil, ErrJobNotFound
	}
	return clone(q.jobs[id]), nil
}

// Get returns a job by ID
func (q *MemoryQueue) Get(ctx context.Context, jobID string) (*model.OverlayJob, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	job, ok := q.jobs[jobID]
	if !ok {
		return nil, ErrJobNotFound
	}
	return clone(job), nil
}

// emit must be called with q.mu held
func (q *MemoryQueue) emit(ev model.JobStatusEvent) {
	for ch := range q.subs[ev.Key] {
		select {
		case ch <- ev:
		default:
			log.Printf("Status subscriber for %s is full, dropping %s event", ev.Key, ev.Status)
		}
	}
}
