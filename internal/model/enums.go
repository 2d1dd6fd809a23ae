package model

// Capture states
type CaptureState string

const (
	CaptureStateIdle       CaptureState = "idle"
	CaptureStateRecording  CaptureState = "recording"
	CaptureStateFinalizing CaptureState = "finalizing"
)

// Job status
type JobStatus string

const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusSucceeded JobStatus = "succeeded"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCanceled  JobStatus = "canceled"
)

// Terminal reports whether no further transitions follow this status.
func (s JobStatus) Terminal() bool {
	return s == JobStatusSucceeded || s == JobStatusFailed || s == JobStatusCanceled
}

// Failure reasons carried by a failed job
type FailureReason string

const (
	FailureReasonNone                FailureReason = ""
	FailureReasonCommandsNotFound    FailureReason = "commands_not_found"
	FailureReasonToolExecutionFailed FailureReason = "tool_execution_failed"
	FailureReasonSuperseded          FailureReason = "superseded"
)

// Capabilities checked before a capture may start
type Capability string

const (
	CapabilityCamera     Capability = "camera"
	CapabilityMicrophone Capability = "microphone"
	CapabilityStorage    Capability = "storage"
)

// Notice kinds pushed to the capture topic
type NoticeKind string

const (
	NoticeInfo  NoticeKind = "info"
	NoticeError NoticeKind = "error"
)

// Record event kinds emitted by a capture device
type RecordEventKind string

const (
	RecordEventStart    RecordEventKind = "start"
	RecordEventFinalize RecordEventKind = "finalize"
)
