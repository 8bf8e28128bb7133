package llm

import (
	"context"
	"errors"
	"strings"

	jsoniter "github.com/json-iterator/go"

	"github.com/kagent-dev/supportagent/pkg/adk/catalog"
	"github.com/kagent-dev/supportagent/pkg/adk/session"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ErrMalformedOutput is returned when the engine reply cannot be used at all,
// for example an empty completion with neither text nor requests.
var ErrMalformedOutput = errors.New("malformed engine output")

// Client defines the interface for reasoning engine clients
type Client interface {
	// Generate runs one engine round over the transcript.
	Generate(ctx context.Context, in Input) (*Decision, error)

	// ModelName returns the name of the model being used
	ModelName() string
}

// Input is what the engine sees in one round.
type Input struct {
	Instruction string
	Turns       []session.Turn
	Tools       []ToolDefinition
}

// Decision is the engine's reply: a final message, action requests, or both.
// A decision without requests ends the exchange.
type Decision struct {
	Message      string          `json:"message,omitempty"`
	Requests     []ActionRequest `json:"-"`
	Usage        *Usage          `json:"usage,omitempty"`
	FinishReason string          `json:"finish_reason,omitempty"`
}

// Final reports whether the decision ends the exchange.
func (d *Decision) Final() bool { return len(d.Requests) == 0 }

// ActionRequest is either a KnownAction or an UnparseableRequest.
type ActionRequest interface {
	ID() string
	ActionName() string
	isActionRequest()
}

// KnownAction is a well-formed request to invoke a catalog action. The name
// is not yet checked against the catalog.
type KnownAction struct {
	CorrelationID string
	Name          string
	Arguments     map[string]any
}

func (k KnownAction) ID() string         { return k.CorrelationID }
func (k KnownAction) ActionName() string { return k.Name }
func (KnownAction) isActionRequest()     {}

// UnparseableRequest is engine output that looked like a request but could
// not be decoded.
type UnparseableRequest struct {
	CorrelationID string
	Name          string
	Raw           string
	Reason        string
}

func (u UnparseableRequest) ID() string         { return u.CorrelationID }
func (u UnparseableRequest) ActionName() string { return u.Name }
func (UnparseableRequest) isActionRequest()     {}

// WithID returns a copy of r carrying id.
func WithID(r ActionRequest, id string) ActionRequest {
	switch v := r.(type) {
	case KnownAction:
		v.CorrelationID = id
		return v
	case UnparseableRequest:
		v.CorrelationID = id
		return v
	}
	return r
}

// Usage represents token usage information
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

// ToolDefinition defines a tool that can be called by the LLM
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"` // JSON Schema
}

// ToolsFromCatalog renders every catalog action as a tool definition.
func ToolsFromCatalog(cat *catalog.Catalog) []ToolDefinition {
	schemas := cat.DescribeAll()
	out := make([]ToolDefinition, 0, len(schemas))
	for _, s := range schemas {
		out = append(out, ToolDefinition{
			Name:        s.Name,
			Description: s.Description,
			Parameters:  s.JSONSchema(),
		})
	}
	return out
}

// decodeArguments turns raw tool-call JSON into a request. Empty input is an
// empty argument object.
func decodeArguments(id, name, raw string) ActionRequest {
	if name == "" {
		return UnparseableRequest{CorrelationID: id, Raw: raw, Reason: "missing action name"}
	}
	if strings.TrimSpace(raw) == "" {
		return KnownAction{CorrelationID: id, Name: name, Arguments: map[string]any{}}
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return UnparseableRequest{CorrelationID: id, Name: name, Raw: raw, Reason: "arguments are not a JSON object: " + err.Error()}
	}
	if args == nil {
		args = map[string]any{}
	}
	return KnownAction{CorrelationID: id, Name: name, Arguments: args}
}
