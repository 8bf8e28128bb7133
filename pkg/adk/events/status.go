package events

import (
	"context"
	"fmt"
	"time"
)

// StatusUpdate is the client-facing rendering of an Event, streamed by the
// session API as newline-delimited JSON.
type StatusUpdate struct {
	SessionID string         `json:"session_id"`
	State     TaskState      `json:"state"`
	Final     bool           `json:"final"`
	Message   string         `json:"message,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// ToStatus converts an event into a status update.
func ToStatus(e *Event) *StatusUpdate {
	u := &StatusUpdate{
		SessionID: e.SessionID,
		State:     DetermineState(e),
		Timestamp: e.Timestamp,
		Metadata:  map[string]any{"event": string(e.Type)},
	}
	if u.Timestamp.IsZero() {
		u.Timestamp = time.Now()
	}
	if e.Round > 0 {
		u.Metadata["round"] = e.Round
	}

	switch e.Type {
	case TypeContent:
		u.Message = e.Content
	case TypeActionRequest:
		u.Message = fmt.Sprintf("Calling %s", e.Action)
		u.Metadata["action"] = e.Action
		u.Metadata["correlation_id"] = e.CorrelationID
	case TypeActionResult:
		u.Metadata["action"] = e.Action
		u.Metadata["correlation_id"] = e.CorrelationID
		if e.Error != nil {
			u.Message = fmt.Sprintf("%s failed [%s]: %s", e.Action, e.Error.Code, e.Error.Message)
			u.Metadata["error_code"] = e.Error.Code
		} else {
			u.Message = fmt.Sprintf("%s succeeded", e.Action)
		}
	case TypeError:
		if e.Error != nil {
			u.Message = fmt.Sprintf("Error [%s]: %s", e.Error.Code, e.Error.Message)
			u.Metadata["error_code"] = e.Error.Code
		}
	case TypeComplete:
		u.Message = e.Content
	}
	u.Final = u.State == TaskStateCompleted || u.State == TaskStateFailed
	return u
}

// DetermineState maps an event to the task state a client should show.
func DetermineState(e *Event) TaskState {
	switch e.Type {
	case TypeComplete:
		return TaskStateCompleted
	case TypeError:
		return TaskStateFailed
	case TypeActionResult:
		if e.Error != nil && e.Error.Category == "authorization" {
			return TaskStateAuthRequired
		}
	}
	return TaskStateWorking
}

// Stream converts events until in is closed or ctx is done.
func Stream(ctx context.Context, in <-chan *Event) <-chan *StatusUpdate {
	out := make(chan *StatusUpdate, cap(in))
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case e, ok := <-in:
				if !ok {
					return
				}
				select {
				case out <- ToStatus(e):
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out
}
