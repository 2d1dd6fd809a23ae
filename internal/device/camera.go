// Package device drives the capture hardware through ffmpeg.
package device

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/exec"
	"strings"
	"sync"

	"github.com/videoapp/api/internal/model"
)

// ErrNotBound is returned when recording is prepared before Bind succeeded
var ErrNotBound = errors.New("camera not bound")

// ErrNoDevice is returned by Unavailable
var ErrNoDevice = errors.New("no capture device configured")

// stopExitCode is what ffmpeg exits with when asked to quit mid-stream
const stopExitCode = 255

// Camera is a capture device that can hand out recordings
type Camera interface {
	Bind(ctx context.Context) error
	PrepareRecording(target model.OutputTarget) (Recording, error)
}

// Recording is one prepared capture. Start returns a channel that delivers a
// start event followed by exactly one finalize event, then closes.
type Recording interface {
	Start(ctx context.Context, audio bool) (<-chan model.RecordEvent, error)
	Stop() error
}

// Options selects the ffmpeg inputs
type Options struct {
	Binary      string
	InputFormat string
	InputDevice string
	AudioFormat string
	AudioDevice string
}

// FFmpegCamera records from a local video (and optional audio) input
type FFmpegCamera struct {
	opts Options

	mu    sync.Mutex
	path  string
	bound bool
}

// NewFFmpegCamera creates a camera backed by the ffmpeg binary
func NewFFmpegCamera(opts Options) *FFmpegCamera {
	if opts.Binary == "" {
		opts.Binary = "ffmpeg"
	}
	return &FFmpegCamera{opts: opts}
}

// Bind resolves the binary and checks the video input exists
func (c *FFmpegCamera) Bind(ctx context.Context) error {
	path, err := exec.LookPath(c.opts.Binary)
	if err != nil {
		return fmt.Errorf("ffmpeg binary not found: %w", err)
	}

	if c.opts.InputFormat == "v4l2" {
		if _, err := os.Stat(c.opts.InputDevice); err != nil {
			return fmt.Errorf("video device unavailable: %w", err)
		}
	}

	c.mu.Lock()
	c.path = path
	c.bound = true
	c.mu.Unlock()

	log.Printf("Camera bound: %s %s", c.opts.InputFormat, c.opts.InputDevice)
	return nil
}

// PrepareRecording creates a recording that writes to target.Path
func (c *FFmpegCamera) PrepareRecording(target model.OutputTarget) (Recording, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.bound {
		return nil, ErrNotBound
	}
	return &ffmpegRecording{
		binary: c.path,
		opts:   c.opts,
		target: target,
	}, nil
}

// Args returns the capture command line for output
func (o Options) Args(binary, output string, audio bool) []string {
	args := []string{binary, "-hide_banner", "-loglevel", "error"}
	args = append(args, "-f", o.InputFormat, "-i", o.InputDevice)
	if audio {
		args = append(args, "-f", o.AudioFormat, "-i", o.AudioDevice)
	}
	args = append(args,
		"-c:v", "libx264",
		"-pix_fmt", "yuv420p",
		"-preset", "ultrafast",
	)
	if audio {
		args = append(args, "-c:a", "aac")
	}
	return append(args, "-y", output)
}

type ffmpegRecording struct {
	binary string
	opts   Options
	target model.OutputTarget

	mu      sync.Mutex
	stdin   io.WriteCloser
	started bool
	stopped bool
}

func (r *ffmpegRecording) Start(ctx context.Context, audio bool) (<-chan model.RecordEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.started {
		return nil, errors.New("recording already started")
	}

	args := r.opts.Args(r.binary, r.target.Path, audio)
	cmd := exec.Command(args[0], args[1:]...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to get stdin pipe: %w", err)
	}
	stderr := &tailBuffer{}
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start ffmpeg: %w", err)
	}
	r.stdin = stdin
	r.started = true

	events := make(chan model.RecordEvent, 2)
	events <- model.RecordEvent{Kind: model.RecordEventStart, OutputLocation: r.target.URI}

	exited := make(chan struct{})
	go func() {
		defer close(events)
		err := cmd.Wait()
		close(exited)

		r.mu.Lock()
		stopped := r.stopped
		r.mu.Unlock()

		var exitErr *exec.ExitError
		if err != nil && stopped && errors.As(err, &exitErr) && exitErr.ExitCode() == stopExitCode {
			err = nil
		}
		if err == nil && !stopped {
			err = errors.New("capture ended unexpectedly")
		}
		if err != nil {
			if tail := strings.TrimSpace(stderr.String()); tail != "" {
				err = fmt.Errorf("%w: %s", err, tail)
			}
		}

		events <- model.RecordEvent{
			Kind:           model.RecordEventFinalize,
			OutputLocation: r.target.URI,
			Err:            err,
		}
	}()

	go func() {
		select {
		case <-ctx.Done():
			_ = r.Stop()
		case <-exited:
		}
	}()

	return events, nil
}

// Stop asks ffmpeg to finish the file and exit
func (r *ffmpegRecording) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.started {
		return errors.New("recording not started")
	}
	if r.stopped {
		return nil
	}
	r.stopped = true

	_, err := r.stdin.Write([]byte("q\n"))
	r.stdin.Close()
	if err != nil {
		return fmt.Errorf("failed to signal ffmpeg: %w", err)
	}
	return nil
}

// tailBuffer keeps the last bytes ffmpeg wrote to stderr
type tailBuffer struct {
	mu  sync.Mutex
	buf []byte
}

const tailLimit = 2048

func (b *tailBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf = append(b.buf, p...)
	if len(b.buf) > tailLimit {
		b.buf = b.buf[len(b.buf)-tailLimit:]
	}
	return len(p), nil
}

func (b *tailBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(b.buf)
}

// Unavailable is used when no capture device is configured. Bind always fails.
type Unavailable struct{}

func (Unavailable) Bind(ctx context.Context) error { return ErrNoDevice }

func (Unavailable) PrepareRecording(target model.OutputTarget) (Recording, error) {
	return nil, ErrNoDevice
}
