package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"

	"github.com/videoapp/api/internal/client"
	"github.com/videoapp/api/internal/model"
	"github.com/videoapp/api/internal/queue"
)

// ErrCommandsNotFound is returned when job input carries no commands
var ErrCommandsNotFound = errors.New(model.CommandsNotFoundMessage)

// MediaTool is the external binary that applies the overlay
type MediaTool interface {
	Load(ctx context.Context) error
	Execute(ctx context.Context, commands [][]string, progress func(line string)) error
}

// OverlayWorker processes overlay jobs
type OverlayWorker struct {
	tool    MediaTool
	storage client.StorageClient

	loadOnce sync.Once
	loadErr  error
}

// NewOverlayWorker creates a new overlay worker. storage may be nil, in which
// case outputs stay on local disk.
func NewOverlayWorker(tool MediaTool, storage client.StorageClient) *OverlayWorker {
	return &OverlayWorker{
		tool:    tool,
		storage: storage,
	}
}

// Execute handles one overlay job payload
func (w *OverlayWorker) Execute(ctx context.Context, payload []byte) model.JobResult {
	input, err := decodePayload(payload)
	if err != nil {
		log.Printf("Overlay job rejected: %v", err)
		return model.Failed(model.FailureReasonCommandsNotFound, model.CommandsNotFoundMessage)
	}

	if err := w.ensureLoaded(ctx); err != nil {
		return model.Failed(model.FailureReasonToolExecutionFailed, fmt.Sprintf("media tool failed to load: %v", err))
	}

	log.Printf("Starting overlay job: %d command(s)", len(input.Commands))
	lines := 0
	err = w.tool.Execute(ctx, input.Commands, func(line string) {
		lines++
		if lines%50 == 1 {
			log.Printf("ffmpeg: %s", line)
		}
	})
	if err != nil {
		log.Printf("Overlay job failed: %v", err)
		return model.Failed(model.FailureReasonToolExecutionFailed, err.Error())
	}

	result := model.Succeeded(input.Outputs)
	if w.storage != nil {
		urls, err := w.publish(ctx, input.Outputs)
		if err != nil {
			// The overlay itself succeeded; publishing is best effort.
			log.Printf("Failed to publish overlay output: %v", err)
		}
		result.PublicURLs = urls
	}

	log.Printf("Overlay job completed")
	return result
}

// ensureLoaded loads the media tool once per worker and returns the outcome
func (w *OverlayWorker) ensureLoaded(ctx context.Context) error {
	w.loadOnce.Do(func() {
		// The outcome is shared by every later job, so a superseded first job
		// must not cancel it.
		w.loadErr = w.tool.Load(context.WithoutCancel(ctx))
		if w.loadErr != nil {
			log.Printf("Media tool load failed: %v", w.loadErr)
			return
		}
		log.Printf("Media tool loaded")
	})
	return w.loadErr
}

func (w *OverlayWorker) publish(ctx context.Context, outputs []string) ([]string, error) {
	prefix, ok := queue.JobIDFromContext(ctx)
	if !ok {
		prefix = uuid.New().String()
	}
	var urls []string
	for _, path := range outputs {
		f, err := os.Open(path)
		if err != nil {
			return urls, fmt.Errorf("failed to open output: %w", err)
		}

		key := fmt.Sprintf("overlays/%s/%s", prefix, filepath.Base(path))
		url, err := w.storage.Upload(ctx, key, f, "video/mp4")
		f.Close()
		if err != nil {
			return urls, err
		}
		urls = append(urls, url)
	}
	return urls, nil
}

func decodePayload(payload []byte) (*model.OverlayJobPayload, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(payload, &fields); err != nil {
		return nil, fmt.Errorf("invalid payload: %w", err)
	}

	raw, ok := fields[model.CommandsPayloadKey]
	if !ok {
		return nil, ErrCommandsNotFound
	}

	var input model.OverlayJobPayload
	if err := json.Unmarshal(payload, &input); err != nil {
		return nil, fmt.Errorf("malformed %s: %w", model.CommandsPayloadKey, err)
	}
	if len(input.Commands) == 0 || string(raw) == "null" {
		return nil, ErrCommandsNotFound
	}
	for _, args := range input.Commands {
		if len(args) == 0 {
			return nil, fmt.Errorf("malformed %s: empty command", model.CommandsPayloadKey)
		}
	}

	return &input, nil
}
