package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/videoapp/api/internal/model"
)

// TaskTypeOverlay is the asynq task type for overlay jobs
const TaskTypeOverlay = "overlay:process"

const jobTTL = 24 * time.Hour

// AsynqOptions tunes how tasks are enqueued
type AsynqOptions struct {
	Queue     string
	MaxRetry  int
	Retention time.Duration
}

// AsynqQueue persists jobs in Redis through asynq. Job records live under
// job:<id>, the outstanding job per key under overlay:current:<key>, and
// status transitions are published on jobstatus:<key>.
type AsynqQueue struct {
	redis     *redis.Client
	client    *asynq.Client
	inspector *asynq.Inspector
	opts      AsynqOptions
}

type taskEnvelope struct {
	JobID   string          `json:"jobId"`
	Key     string          `json:"key"`
	Payload json.RawMessage `json:"payload"`
}

// NewAsynqQueue creates a Redis backed queue
func NewAsynqQueue(redisClient *redis.Client, client *asynq.Client, inspector *asynq.Inspector, opts AsynqOptions) *AsynqQueue {
	if opts.Queue == "" {
		opts.Queue = "overlay"
	}
	if opts.Retention == 0 {
		opts.Retention = jobTTL
	}
	return &AsynqQueue{
		redis:     redisClient,
		client:    client,
		inspector: inspector,
		opts:      opts,
	}
}

// SubmitUnique saves the job record, claims key for it and enqueues the task.
// The previous job under key is only superseded once the enqueue succeeded;
// a failed enqueue restores the previous claim and fails the new record.
func (q *AsynqQueue) SubmitUnique(ctx context.Context, key string, policy Policy, payload []byte) (*model.OverlayJob, error) {
	switch policy {
	case PolicyReplace:
	case PolicyKeep:
		current, err := q.Latest(ctx, key)
		if err == nil && !current.Status.Terminal() {
			return current, nil
		}
		if err != nil && !errors.Is(err, ErrJobNotFound) {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unsupported policy: %s", policy)
	}

	job := newJob(key, payload, time.Now())
	ev := apply(job, model.JobStatusQueued, nil, model.FailureReasonNone, "", job.CreatedAt)

	data, err := json.Marshal(taskEnvelope{JobID: job.ID, Key: key, Payload: job.Payload})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal task: %w", err)
	}

	if err := q.saveJob(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to save job: %w", err)
	}

	// Claim before enqueueing so the worker never sees the new task as stale.
	prev, err := q.redis.SetArgs(ctx, currentKey(key), job.ID, redis.SetArgs{Get: true}).Result()
	if err != nil && err != redis.Nil {
		q.transition(context.WithoutCancel(ctx), job.ID, model.JobStatusFailed, nil, model.FailureReasonNone, "failed to claim job key")
		return nil, fmt.Errorf("failed to claim job key: %w", err)
	}

	_, err = q.client.EnqueueContext(ctx, asynq.NewTask(TaskTypeOverlay, data),
		asynq.TaskID(job.ID),
		asynq.Queue(q.opts.Queue),
		asynq.MaxRetry(q.opts.MaxRetry),
		asynq.Retention(q.opts.Retention),
	)
	if err != nil {
		q.release(context.WithoutCancel(ctx), key, job.ID, prev, err)
		return nil, fmt.Errorf("failed to enqueue task: %w", err)
	}

	q.publish(ctx, ev)
	if prev != "" && prev != job.ID {
		q.supersede(ctx, prev, job.ID)
	}
	return job, nil
}

// restoreClaim points key back at the previous job, but only while the
// failed job still holds it.
var restoreClaim = redis.NewScript(`
if redis.call("GET", KEYS[1]) ~= ARGV[1] then
	return 0
end
if ARGV[2] == "" then
	redis.call("DEL", KEYS[1])
else
	redis.call("SET", KEYS[1], ARGV[2])
end
return 1
`)

// release undoes the claim of a job whose task never reached the queue
func (q *AsynqQueue) release(ctx context.Context, key, jobID, prevID string, cause error) {
	if err := restoreClaim.Run(ctx, q.redis, []string{currentKey(key)}, jobID, prevID).Err(); err != nil {
		log.Printf("Failed to restore job key %s: %v", key, err)
	}
	q.transition(ctx, jobID, model.JobStatusFailed, nil, model.FailureReasonNone, "enqueue failed: "+cause.Error())
}

// supersede removes a queued task or cancels an active one
func (q *AsynqQueue) supersede(ctx context.Context, prevID, nextID string) {
	err := q.inspector.DeleteTask(q.opts.Queue, prevID)
	switch {
	case err == nil:
		q.transition(ctx, prevID, model.JobStatusCanceled, nil, model.FailureReasonSuperseded, "superseded by "+nextID)
	case errors.Is(err, asynq.ErrTaskNotFound), errors.Is(err, asynq.ErrQueueNotFound):
		// Already finished, or never reached the queue.
	default:
		// Active tasks cannot be deleted; the handler notices the cancellation.
		if cerr := q.inspector.CancelProcessing(prevID); cerr != nil {
			log.Printf("Failed to cancel superseded job %s: %v", prevID, cerr)
		}
	}
}

// ProcessTask adapts h to an asynq handler
func (q *AsynqQueue) ProcessTask(h Handler) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var env taskEnvelope
		if err := json.Unmarshal(t.Payload(), &env); err != nil {
			return fmt.Errorf("failed to unmarshal task payload: %v: %w", err, asynq.SkipRetry)
		}

		current, err := q.isCurrent(ctx, env.Key, env.JobID)
		if err != nil {
			return fmt.Errorf("failed to check job key: %w", err)
		}
		if !current {
			log.Printf("Skipping superseded overlay job: %s", env.JobID)
			q.transition(ctx, env.JobID, model.JobStatusCanceled, nil, model.FailureReasonSuperseded, "superseded before start")
			return nil
		}

		q.transition(ctx, env.JobID, model.JobStatusRunning, nil, model.FailureReasonNone, "")
		result := h(WithJobID(ctx, env.JobID), env.Payload)

		if ctx.Err() != nil {
			if current, err := q.isCurrent(context.Background(), env.Key, env.JobID); err == nil && !current {
				q.transition(context.Background(), env.JobID, model.JobStatusCanceled, nil, model.FailureReasonSuperseded, "superseded while running")
				return nil
			}
			return ctx.Err()
		}

		if result.Success {
			q.transition(ctx, env.JobID, model.JobStatusSucceeded, &result, model.FailureReasonNone, "")
			return nil
		}

		q.transition(ctx, env.JobID, model.JobStatusFailed, &result, model.FailureReasonNone, "")
		if result.Reason == model.FailureReasonCommandsNotFound {
			return fmt.Errorf("%s: %w", result.Message, asynq.SkipRetry)
		}
		return errors.New(result.Message)
	}
}

// ObserveStatus subscribes to status transitions under key
func (q *AsynqQueue) ObserveStatus(ctx context.Context, key string) (<-chan model.JobStatusEvent, error) {
	pubsub := q.redis.Subscribe(ctx, statusChannel(key))
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe to job status: %w", err)
	}

	out := make(chan model.JobStatusEvent, subscriberBuffer)
	go func() {
		defer close(out)
		defer pubsub.Close()

		messages := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-messages:
				if !ok {
					return
				}
				var ev model.JobStatusEvent
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					log.Printf("Failed to decode job status: %v", err)
					continue
				}
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, nil
}

// Latest returns the most recently submitted job under key
func (q *AsynqQueue) Latest(ctx context.Context, key string) (*model.OverlayJob, error) {
	id, err := q.redis.Get(ctx, currentKey(key)).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, ErrJobNotFound
		}
		return nil, err
	}
	return q.getJob(ctx, id)
}

func (q *AsynqQueue) isCurrent(ctx context.Context, key, jobID string) (bool, error) {
	id, err := q.redis.Get(ctx, currentKey(key)).Result()
	if err == redis.Nil {
		// Without the pointer nothing can supersede the job.
		return true, nil
	}
	if err != nil {
		return false, err
	}
	return id == jobID, nil
}

func (q *AsynqQueue) transition(ctx context.Context, jobID string, status model.JobStatus, result *model.JobResult, reason model.FailureReason, message string) {
	job, err := q.getJob(ctx, jobID)
	if err != nil {
		log.Printf("Failed to get job: %v", err)
		return
	}

	ev := apply(job, status, result, reason, message, time.Now())
	if err := q.saveJob(ctx, job); err != nil {
		log.Printf("Failed to save job: %v", err)
		return
	}
	q.publish(ctx, ev)
}

func (q *AsynqQueue) publish(ctx context.Context, ev model.JobStatusEvent) {
	data, err := json.Marshal(ev)
	if err != nil {
		log.Printf("Failed to marshal job status: %v", err)
		return
	}
	if err := q.redis.Publish(ctx, statusChannel(ev.Key), data).Err(); err != nil {
		log.Printf("Failed to publish job status: %v", err)
	}
}

// Helper methods

func (q *AsynqQueue) saveJob(ctx context.Context, job *model.OverlayJob) error {
	data, err := json.Marshal(job)
	if err != nil {
		return err
	}
	return q.redis.Set(ctx, jobKey(job.ID), data, jobTTL).Err()
}

func (q *AsynqQueue) getJob(ctx context.Context, jobID string) (*model.OverlayJob, error) {
	data, err := q.redis.Get(ctx, jobKey(jobID)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, ErrJobNotFound
		}
		return nil, err
	}

	var job model.OverlayJob
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, err
	}

	return &job, nil
}

func jobKey(id string) string {
	return fmt.Sprintf("job:%s", id)
}

func currentKey(key string) string {
	return fmt.Sprintf("overlay:current:%s", key)
}

func statusChannel(key string) string {
	return fmt.Sprintf("jobstatus:%s", key)
}
