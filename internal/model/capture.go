package model

import "time"

// Capture actions
const (
	CaptureActionStart  = "start"
	CaptureActionStop   = "stop"
	CaptureActionToggle = "toggle"
)

// CaptureActionRequest is the body of POST /api/capture
type CaptureActionRequest struct {
	Action string `json:"action" validate:"omitempty,oneof=start stop toggle"`
}

// CaptureStateResponse describes the capture state machine
type CaptureStateResponse struct {
	State   CaptureState      `json:"state"`
	Bound   bool              `json:"bound"`
	Session *RecordingSession `json:"session,omitempty"`
}

// OverlayStatusResponse represents the status of the latest overlay job
type OverlayStatusResponse struct {
	JobID       string        `json:"jobId"`
	Key         string        `json:"key"`
	Status      JobStatus     `json:"status"`
	Reason      FailureReason `json:"reason,omitempty"`
	Error       *string       `json:"error"`
	Commands    []string      `json:"commands,omitempty"`
	CreatedAt   time.Time     `json:"createdAt"`
	StartedAt   *time.Time    `json:"startedAt"`
	CompletedAt *time.Time    `json:"completedAt"`
}

// OverlayResultResponse represents the output of a succeeded overlay job
type OverlayResultResponse struct {
	JobID      string   `json:"jobId"`
	Outputs    []string `json:"outputs"`
	PublicURLs []string `json:"publicUrls,omitempty"`
}
