package session

import (
	"time"

	adkerrors "github.com/kagent-dev/supportagent/pkg/adk/errors"
)

// Role is the kind of a conversation turn.
type Role string

const (
	RoleUser          Role = "user"
	RoleAssistant     Role = "assistant"
	RoleActionRequest Role = "action_request"
	RoleActionResult  Role = "action_result"
)

// ActionCall is the action request as recorded in the transcript. Name and
// Arguments are empty when the engine output could not be parsed; Raw keeps
// what it sent instead.
type ActionCall struct {
	CorrelationID string         `json:"correlation_id"`
	Name          string         `json:"name"`
	Arguments     map[string]any `json:"arguments,omitempty"`
	Raw           string         `json:"raw,omitempty"`
}

// ActionResult is fed back to the engine keyed by correlation id. Exactly one
// of Payload and Error is set.
type ActionResult struct {
	CorrelationID string                `json:"correlation_id"`
	Action        string                `json:"action"`
	Success       bool                  `json:"success"`
	Payload       map[string]any        `json:"payload,omitempty"`
	Error         *adkerrors.Descriptor `json:"error,omitempty"`
}

// Turn is one entry of the transcript. Round is the engine round that
// produced it; user turns carry the round that will consume them.
type Turn struct {
	Seq       int           `json:"seq"`
	Round     int           `json:"round"`
	Role      Role          `json:"role"`
	Content   string        `json:"content,omitempty"`
	Request   *ActionCall   `json:"request,omitempty"`
	Result    *ActionResult `json:"result,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
}

// CreateSessionRequest represents a request to create a new session
type CreateSessionRequest struct {
	AppName string `json:"app_name"`
	UserID  string `json:"user_id"`
	// Token is the caller's backend credential; it is resolved once at
	// creation and never echoed back.
	Token string `json:"token,omitempty"`
}

// SendMessageRequest carries one user message.
type SendMessageRequest struct {
	Message string `json:"message"`
}

// SendMessageResponse is the outcome of one orchestrated exchange.
type SendMessageResponse struct {
	SessionID string `json:"session_id"`
	Message   string `json:"message"`
	Rounds    int    `json:"rounds"`
	Turns     []Turn `json:"turns"`
}

// View is the serializable snapshot of a session.
type View struct {
	ID        string    `json:"id"`
	AppName   string    `json:"app_name"`
	UserID    string    `json:"user_id"`
	Identity  string    `json:"identity"`
	Scopes    []string  `json:"scopes"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Turns     []Turn    `json:"turns,omitempty"`
}
