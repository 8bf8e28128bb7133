package llm

import (
	"context"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/kagent-dev/supportagent/pkg/adk/config"
	apperrors "github.com/kagent-dev/supportagent/pkg/adk/errors"
	"github.com/kagent-dev/supportagent/pkg/adk/session"
)

const defaultAnthropicMaxTokens = 4096

// AnthropicClient implements the Client interface for Anthropic
type AnthropicClient struct {
	client anthropic.Client
	config *config.AnthropicConfig
}

// NewAnthropicClient creates a new Anthropic client
func NewAnthropicClient(cfg *config.AnthropicConfig, extra ...option.RequestOption) (*AnthropicClient, error) {
	if cfg == nil {
		return nil, apperrors.New(apperrors.ErrCodeAgentConfig, "Anthropic config is required", nil)
	}

	if cfg.APIKey == nil || *cfg.APIKey == "" {
		return nil, apperrors.New(apperrors.ErrCodeAgentConfig, "API key is required", nil)
	}

	opts := []option.RequestOption{option.WithAPIKey(*cfg.APIKey)}
	if cfg.BaseURL != nil && *cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(*cfg.BaseURL))
	}
	if cfg.Timeout > 0 {
		opts = append(opts, option.WithRequestTimeout(cfg.Timeout))
	}
	opts = append(opts, extra...)

	return &AnthropicClient{
		client: anthropic.NewClient(opts...),
		config: cfg,
	}, nil
}

// ModelName returns the name of the model being used
func (c *AnthropicClient) ModelName() string {
	return c.config.Model
}

// Generate runs one engine round
func (c *AnthropicClient) Generate(ctx context.Context, in Input) (*Decision, error) {
	// Set max tokens (required by Anthropic)
	maxTokens := defaultAnthropicMaxTokens
	if c.config.MaxTokens != nil {
		maxTokens = *c.config.MaxTokens
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(c.config.Model),
		Messages:  c.convertMessages(in.Turns),
		MaxTokens: int64(maxTokens),
	}
	if c.config.Temperature != nil {
		params.Temperature = anthropic.Float(*c.config.Temperature)
	}
	if c.config.TopP != nil {
		params.TopP = anthropic.Float(*c.config.TopP)
	}
	if c.config.TopK != nil {
		params.TopK = anthropic.Int(int64(*c.config.TopK))
	}
	if in.Instruction != "" {
		params.System = []anthropic.TextBlockParam{{Text: in.Instruction}}
	}
	if len(in.Tools) > 0 {
		params.Tools = c.convertTools(in.Tools)
	}

	message, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return nil, apperrors.New(apperrors.ErrCodeEngineFailed, "Anthropic API call failed", err)
	}
	return c.convertResponse(message)
}

// convertMessages maps the transcript onto alternating user and assistant
// messages. Tool results travel in the user message after the tool use.
func (c *AnthropicClient) convertMessages(turns []session.Turn) []anthropic.MessageParam {
	messages := make([]anthropic.MessageParam, 0, len(turns))
	for _, ex := range groupTurns(turns) {
		switch ex.role {
		case session.RoleUser:
			messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(ex.text)))
		case session.RoleAssistant:
			blocks := make([]anthropic.ContentBlockParamUnion, 0, len(ex.calls)+1)
			if ex.text != "" {
				blocks = append(blocks, anthropic.NewTextBlock(ex.text))
			}
			for _, call := range ex.calls {
				blocks = append(blocks, anthropic.NewToolUseBlock(call.CorrelationID, callArgumentMap(call), callName(call)))
			}
			if len(blocks) == 0 {
				continue
			}
			messages = append(messages, anthropic.NewAssistantMessage(blocks...))
			if len(ex.results) > 0 {
				results := make([]anthropic.ContentBlockParamUnion, 0, len(ex.results))
				for _, r := range ex.results {
					results = append(results, anthropic.NewToolResultBlock(r.CorrelationID, ResultContent(r), !r.Success))
				}
				messages = append(messages, anthropic.NewUserMessage(results...))
			}
		}
	}
	return messages
}

func (c *AnthropicClient) convertTools(tools []ToolDefinition) []anthropic.ToolUnionParam {
	out := make([]anthropic.ToolUnionParam, 0, len(tools))
	for _, tool := range tools {
		schema := anthropic.ToolInputSchemaParam{Properties: tool.Parameters["properties"]}
		if req, ok := tool.Parameters["required"].([]string); ok {
			schema.Required = req
		}
		tp := anthropic.ToolParam{
			Name:        tool.Name,
			Description: anthropic.String(tool.Description),
			InputSchema: schema,
		}
		out = append(out, anthropic.ToolUnionParam{OfTool: &tp})
	}
	return out
}

func (c *AnthropicClient) convertResponse(message *anthropic.Message) (*Decision, error) {
	decision := &Decision{
		FinishReason: string(message.StopReason),
		Usage: &Usage{
			InputTokens:  int(message.Usage.InputTokens),
			OutputTokens: int(message.Usage.OutputTokens),
			TotalTokens:  int(message.Usage.InputTokens + message.Usage.OutputTokens),
		},
	}

	var text strings.Builder
	for _, block := range message.Content {
		switch block.Type {
		case "text":
			text.WriteString(block.Text)
		case "tool_use":
			decision.Requests = append(decision.Requests, decodeArguments(block.ID, block.Name, string(block.Input)))
		}
	}
	decision.Message = text.String()

	if decision.Message == "" && len(decision.Requests) == 0 {
		return nil, ErrMalformedOutput
	}
	return decision, nil
}
