package events

import "time"

// Type is the kind of progress event emitted while a turn runs.
type Type string

const (
	TypeStart         Type = "start"
	TypeContent       Type = "content"
	TypeActionRequest Type = "action_request"
	TypeActionResult  Type = "action_result"
	TypeError         Type = "error"
	TypeComplete      Type = "complete"
)

// Event represents one step of an orchestrated turn
type Event struct {
	Type          Type           `json:"type"`
	SessionID     string         `json:"session_id,omitempty"`
	Round         int            `json:"round,omitempty"`
	CorrelationID string         `json:"correlation_id,omitempty"`
	Action        string         `json:"action,omitempty"`
	Content       string         `json:"content,omitempty"`
	Arguments     map[string]any `json:"arguments,omitempty"`
	Payload       map[string]any `json:"payload,omitempty"`
	Error         *ErrorInfo     `json:"error,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
	Timestamp     time.Time      `json:"timestamp"`
}

// ErrorInfo represents error information
type ErrorInfo struct {
	Code     string `json:"code"`
	Category string `json:"category,omitempty"`
	Message  string `json:"message"`
}

// TaskState represents task execution state
type TaskState string

const (
	TaskStateWorking      TaskState = "WORKING"
	TaskStateAuthRequired TaskState = "AUTH_REQUIRED"
	TaskStateFailed       TaskState = "FAILED"
	TaskStateCompleted    TaskState = "COMPLETED"
)
