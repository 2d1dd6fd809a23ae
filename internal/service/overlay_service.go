package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"

	"github.com/videoapp/api/internal/model"
	"github.com/videoapp/api/internal/queue"
)

// ErrJobNotCompleted is returned when a result is requested before success
var ErrJobNotCompleted = errors.New("job not completed")

// ErrNoCommands is returned when Dispatch is called with nothing to run
var ErrNoCommands = errors.New("no overlay commands")

// OverlayService submits overlay jobs under a single key. At most one overlay
// job is outstanding per key: every dispatch replaces the previous one.
type OverlayService struct {
	queue  queue.Queue
	jobKey string
}

func NewOverlayService(q queue.Queue, jobKey string) *OverlayService {
	return &OverlayService{
		queue:  q,
		jobKey: jobKey,
	}
}

// JobKey returns the key overlay jobs are filed under
func (s *OverlayService) JobKey() string {
	return s.jobKey
}

// Dispatch queues commands as one job and returns without waiting for it
func (s *OverlayService) Dispatch(ctx context.Context, commands []model.OverlayCommand) (*model.OverlayJob, error) {
	if len(commands) == 0 {
		return nil, ErrNoCommands
	}

	payload, err := json.Marshal(model.NewOverlayJobPayload(commands))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}

	job, err := s.queue.SubmitUnique(ctx, s.jobKey, queue.PolicyReplace, payload)
	if err != nil {
		return nil, fmt.Errorf("failed to submit overlay job: %w", err)
	}

	for _, cmd := range commands {
		log.Printf("Overlay job %s: %s", job.ID, cmd)
	}
	return job, nil
}

// GetStatus returns the status of the latest overlay job
func (s *OverlayService) GetStatus(ctx context.Context) (*model.OverlayStatusResponse, error) {
	job, err := s.queue.Latest(ctx, s.jobKey)
	if err != nil {
		return nil, err
	}

	resp := &model.OverlayStatusResponse{
		JobID:       job.ID,
		Key:         job.Key,
		Status:      job.Status,
		Reason:      job.Reason,
		Error:       job.Error,
		CreatedAt:   job.CreatedAt,
		StartedAt:   job.StartedAt,
		CompletedAt: job.CompletedAt,
	}

	var payload model.OverlayJobPayload
	if err := json.Unmarshal(job.Payload, &payload); err == nil {
		for _, args := range payload.Commands {
			resp.Commands = append(resp.Commands, model.OverlayCommand{Args: args}.String())
		}
	}

	return resp, nil
}

// GetResult returns the outputs of the latest overlay job once it succeeded
func (s *OverlayService) GetResult(ctx context.Context) (*model.OverlayResultResponse, error) {
	job, err := s.queue.Latest(ctx, s.jobKey)
	if err != nil {
		return nil, err
	}

	if job.Status != model.JobStatusSucceeded || job.Result == nil {
		return nil, ErrJobNotCompleted
	}

	return &model.OverlayResultResponse{
		JobID:      job.ID,
		Outputs:    job.Result.Outputs,
		PublicURLs: job.Result.PublicURLs,
	}, nil
}
