// Package ffmpeg runs the external media tool.
package ffmpeg

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
)

const stderrTailLines = 20

// ExecError describes a failed invocation
type ExecError struct {
	Args     []string
	ExitCode int
	Stderr   string
	Err      error
}

func (e *ExecError) Error() string {
	msg := fmt.Sprintf("%s exited with code %d", e.Args[0], e.ExitCode)
	if e.Stderr != "" {
		msg += ": " + e.Stderr
	}
	return msg
}

func (e *ExecError) Unwrap() error { return e.Err }

// Tool invokes the ffmpeg binary found on PATH or at an explicit location
type Tool struct {
	Binary string

	mu   sync.Mutex
	path string
}

// NewTool creates a tool for binary, which may be a name or a path
func NewTool(binary string) *Tool {
	if binary == "" {
		binary = "ffmpeg"
	}
	return &Tool{Binary: binary}
}

// Load resolves the binary and checks that it runs
func (t *Tool) Load(ctx context.Context) error {
	path, err := exec.LookPath(t.Binary)
	if err != nil {
		return fmt.Errorf("ffmpeg binary not found: %w", err)
	}

	out, err := exec.CommandContext(ctx, path, "-hide_banner", "-version").CombinedOutput()
	if err != nil {
		return fmt.Errorf("ffmpeg -version failed: %w: %s", err, strings.TrimSpace(string(out)))
	}

	t.mu.Lock()
	t.path = path
	t.mu.Unlock()
	return nil
}

// Execute runs each argv in order, stopping at the first failure. argv[0] is
// replaced by the resolved binary. Every stderr line is passed to progress.
func (t *Tool) Execute(ctx context.Context, commands [][]string, progress func(line string)) error {
	t.mu.Lock()
	path := t.path
	t.mu.Unlock()
	if path == "" {
		return errors.New("ffmpeg not loaded")
	}

	for _, args := range commands {
		if len(args) == 0 {
			return errors.New("empty command")
		}
		if err := t.run(ctx, path, args, progress); err != nil {
			return err
		}
	}
	return nil
}

func (t *Tool) run(ctx context.Context, path string, args []string, progress func(string)) error {
	cmd := exec.CommandContext(ctx, path, args[1:]...)

	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("failed to get stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return &ExecError{Args: args, ExitCode: -1, Err: err}
	}

	tail := scanLines(stderr, progress)
	err = cmd.Wait()
	if err == nil {
		return nil
	}

	code := -1
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		code = exitErr.ExitCode()
	}
	return &ExecError{
		Args:     args,
		ExitCode: code,
		Stderr:   strings.Join(tail, "\n"),
		Err:      err,
	}
}

// scanLines drains r, forwarding lines and keeping the last few for errors.
// ffmpeg separates progress updates with carriage returns.
func scanLines(r io.Reader, progress func(string)) []string {
	scanner := bufio.NewScanner(r)
	scanner.Split(splitLines)

	var tail []string
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if progress != nil {
			progress(line)
		}
		tail = append(tail, line)
		if len(tail) > stderrTailLines {
			tail = tail[1:]
		}
	}
	if err := scanner.Err(); err != nil {
		tail = append(tail, fmt.Sprintf("stderr truncated: %v", err))
	}
	// Keep the pipe empty so the process never blocks on a full buffer.
	_, _ = io.Copy(io.Discard, r)
	return tail
}

func splitLines(data []byte, atEOF bool) (int, []byte, error) {
	for i, b := range data {
		if b == '\n' || b == '\r' {
			return i + 1, data[:i], nil
		}
	}
	if atEOF && len(data) > 0 {
		return len(data), data, nil
	}
	return 0, nil, nil
}
