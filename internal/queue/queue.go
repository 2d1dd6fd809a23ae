// Package queue submits deduplicated background jobs and reports their status.
//
// Every job is filed under a key. With PolicyReplace at most one job per key
// is outstanding: a new submission supersedes the queued or running job under
// the same key, and executions for one key never overlap.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/videoapp/api/internal/model"
)

// Policy decides what happens to an outstanding job under the same key
type Policy int

const (
	// PolicyReplace cancels the outstanding job and queues the new one
	PolicyReplace Policy = iota
	// PolicyKeep leaves the outstanding job untouched and drops the new one
	PolicyKeep
)

func (p Policy) String() string {
	switch p {
	case PolicyReplace:
		return "replace"
	case PolicyKeep:
		return "keep"
	default:
		return "unknown"
	}
}

// ErrJobNotFound is returned when no job was ever submitted under a key
var ErrJobNotFound = errors.New("job not found")

// Handler executes one job payload
type Handler func(ctx context.Context, payload []byte) model.JobResult

type jobIDKey struct{}

// WithJobID attaches the executing job's ID to ctx
func WithJobID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, jobIDKey{}, id)
}

// JobIDFromContext returns the ID of the job being executed, if any
func JobIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(jobIDKey{}).(string)
	return id, ok && id != ""
}

// Queue is the job execution service used by the overlay dispatcher
type Queue interface {
	SubmitUnique(ctx context.Context, key string, policy Policy, payload []byte) (*model.OverlayJob, error)
	ObserveStatus(ctx context.Context, key string) (<-chan model.JobStatusEvent, error)
	Latest(ctx context.Context, key string) (*model.OverlayJob, error)
}

func newJob(key string, payload []byte, now time.Time) *model.OverlayJob {
	return &model.OverlayJob{
		ID:        uuid.New().String(),
		Key:       key,
		Type:      model.JobTypeOverlay,
		Status:    model.JobStatusQueued,
		Payload:   json.RawMessage(payload),
		CreatedAt: now,
	}
}

// apply moves job to status and returns the matching event
func apply(job *model.OverlayJob, status model.JobStatus, result *model.JobResult, reason model.FailureReason, message string, now time.Time) model.JobStatusEvent {
	job.Status = status
	switch status {
	case model.JobStatusRunning:
		if job.StartedAt == nil {
			job.StartedAt = &now
		}
	case model.JobStatusSucceeded, model.JobStatusFailed, model.JobStatusCanceled:
		job.CompletedAt = &now
	}

	if result != nil {
		job.Result = result
		if !result.Success {
			reason = result.Reason
			message = result.Message
		}
	}
	job.Reason = reason
	if message != "" && status != model.JobStatusSucceeded {
		msg := message
		job.Error = &msg
	}

	return model.JobStatusEvent{
		JobID:   job.ID,
		Key:     job.Key,
		Status:  status,
		Reason:  reason,
		Message: message,
		At:      now,
	}
}

func clone(job *model.OverlayJob) *model.OverlayJob {
	if job == nil {
		return nil
	}
	c := *job
	if job.Result != nil {
		r := *job.Result
		c.Result = &r
	}
	return &c
}
