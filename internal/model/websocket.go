package model

// WebSocket message types
const (
	WSMessageTypeNotice = "notice"
	WSMessageTypeState  = "state"
	WSMessageTypeStatus = "status"
	WSMessageTypePing   = "ping"
	WSMessageTypePong   = "pong"
)

// TopicCapture carries capture notices and state changes
const TopicCapture = "capture"

// WSMessage represents a generic WebSocket message
type WSMessage struct {
	Type string `json:"type"`
}

// WSNoticeMessage is a short transient user-visible notice
type WSNoticeMessage struct {
	Type    string     `json:"type"`
	Kind    NoticeKind `json:"kind"`
	Message string     `json:"message"`
}

// WSStateMessage reports a capture state transition
type WSStateMessage struct {
	Type    string       `json:"type"`
	State   CaptureState `json:"state"`
	Session string       `json:"session,omitempty"`
}

// WSStatusMessage reports a job status transition
type WSStatusMessage struct {
	Type  string         `json:"type"`
	Event JobStatusEvent `json:"event"`
}
