package model

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// Job types
const (
	JobTypeOverlay = "overlay"
)

// CommandsPayloadKey is the input field holding the ffmpeg argument lists
const CommandsPayloadKey = "ffmpeg_commands"

// CommandsNotFoundMessage is reported when a job arrives without commands
const CommandsNotFoundMessage = "Something went wrong: Commands not found."

// OverlayCommand is one media tool invocation. Args[0] is the binary name.
type OverlayCommand struct {
	Args        []string `json:"args"`
	InputPath   string   `json:"inputPath"`
	OverlayPath string   `json:"overlayPath"`
	OutputPath  string   `json:"outputPath"`
	SourceURI   string   `json:"sourceUri,omitempty"`
}

// String renders the command line with shell-style quoting for display only.
func (c OverlayCommand) String() string {
	parts := make([]string, len(c.Args))
	for i, arg := range c.Args {
		if arg == "" || strings.ContainsAny(arg, " \t\n\"'()$:;&|<>*?\\") {
			parts[i] = strconv.Quote(arg)
		} else {
			parts[i] = arg
		}
	}
	return strings.Join(parts, " ")
}

// OverlayJobPayload is the input data handed to the overlay worker
type OverlayJobPayload struct {
	Commands [][]string `json:"ffmpeg_commands"`
	Outputs  []string   `json:"outputs,omitempty"`
}

// NewOverlayJobPayload packages commands in execution order.
func NewOverlayJobPayload(commands []OverlayCommand) *OverlayJobPayload {
	p := &OverlayJobPayload{
		Commands: make([][]string, 0, len(commands)),
	}
	for _, cmd := range commands {
		p.Commands = append(p.Commands, cmd.Args)
		if cmd.OutputPath != "" {
			p.Outputs = append(p.Outputs, cmd.OutputPath)
		}
	}
	return p
}

// OverlayJob represents a deduplicated background job record
type OverlayJob struct {
	ID          string          `json:"id"`
	Key         string          `json:"key"`
	Type        string          `json:"type"`
	Status      JobStatus       `json:"status"`
	Reason      FailureReason   `json:"reason,omitempty"`
	Error       *string         `json:"error,omitempty"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	Result      *JobResult      `json:"result,omitempty"`
	CreatedAt   time.Time       `json:"createdAt"`
	StartedAt   *time.Time      `json:"startedAt,omitempty"`
	CompletedAt *time.Time      `json:"completedAt,omitempty"`
}

// JobResult is produced by the overlay worker
type JobResult struct {
	Success    bool          `json:"success"`
	Reason     FailureReason `json:"reason,omitempty"`
	Message    string        `json:"message,omitempty"`
	Outputs    []string      `json:"outputs,omitempty"`
	PublicURLs []string      `json:"publicUrls,omitempty"`
}

// Succeeded builds a successful result
func Succeeded(outputs []string) JobResult {
	return JobResult{Success: true, Outputs: outputs}
}

// Failed builds a failed result with a reason code
func Failed(reason FailureReason, message string) JobResult {
	return JobResult{Reason: reason, Message: message}
}

// JobStatusEvent is one transition of a job under a key
type JobStatusEvent struct {
	JobID   string        `json:"jobId"`
	Key     string        `json:"key"`
	Status  JobStatus     `json:"status"`
	Reason  FailureReason `json:"reason,omitempty"`
	Message string        `json:"message,omitempty"`
	At      time.Time     `json:"at"`
}
