package model

import "time"

// RecordingSession identifies one in-progress or completed capture
type RecordingSession struct {
	Name           string       `json:"name"`
	State          CaptureState `json:"state"`
	OutputLocation string       `json:"outputLocation,omitempty"`
	Error          string       `json:"error,omitempty"`
	AudioEnabled   bool         `json:"audioEnabled"`
	StartedAt      time.Time    `json:"startedAt"`
}

// RecordEvent is emitted by a capture device for a running recording.
// Err is only meaningful for finalize events.
type RecordEvent struct {
	Kind           RecordEventKind
	OutputLocation string
	Err            error
}

// OutputDescriptor describes the file a recording should be written to
type OutputDescriptor struct {
	DisplayName  string
	MimeType     string
	RelativePath string
}

// OutputTarget is a writable location handed out by the media store
type OutputTarget struct {
	URI  string
	Path string
}
