package llm

import (
	"context"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"

	"github.com/kagent-dev/supportagent/pkg/adk/config"
	apperrors "github.com/kagent-dev/supportagent/pkg/adk/errors"
	"github.com/kagent-dev/supportagent/pkg/adk/session"
)

// OpenAIClient implements the Client interface for OpenAI
type OpenAIClient struct {
	client openai.Client
	config *config.OpenAIConfig
}

// NewOpenAIClient creates a new OpenAI client. Extra request options are
// applied after the ones derived from cfg.
func NewOpenAIClient(cfg *config.OpenAIConfig, extra ...option.RequestOption) (*OpenAIClient, error) {
	if cfg == nil {
		return nil, apperrors.New(apperrors.ErrCodeAgentConfig, "OpenAI config is required", nil)
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

	return &OpenAIClient{
		client: openai.NewClient(opts...),
		config: cfg,
	}, nil
}

// ModelName returns the name of the model being used
func (c *OpenAIClient) ModelName() string {
	return c.config.Model
}

// Generate runs one engine round
func (c *OpenAIClient) Generate(ctx context.Context, in Input) (*Decision, error) {
	params := openai.ChatCompletionNewParams{
		Model:    shared.ChatModel(c.config.Model),
		Messages: c.convertMessages(in),
	}
	if c.config.MaxTokens != nil {
		params.MaxCompletionTokens = openai.Int(int64(*c.config.MaxTokens))
	}
	if c.config.Temperature != nil {
		params.Temperature = openai.Float(*c.config.Temperature)
	}
	if c.config.TopP != nil {
		params.TopP = openai.Float(*c.config.TopP)
	}
	if c.config.FrequencyPenalty != nil {
		params.FrequencyPenalty = openai.Float(*c.config.FrequencyPenalty)
	}
	if len(in.Tools) > 0 {
		params.Tools = c.convertTools(in.Tools)
	}

	completion, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, apperrors.New(apperrors.ErrCodeEngineFailed, "OpenAI API call failed", err)
	}
	return c.convertResponse(completion)
}

func (c *OpenAIClient) convertMessages(in Input) []openai.ChatCompletionMessageParamUnion {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(in.Turns)+1)
	if in.Instruction != "" {
		messages = append(messages, openai.SystemMessage(in.Instruction))
	}

	for _, ex := range groupTurns(in.Turns) {
		switch ex.role {
		case session.RoleUser:
			messages = append(messages, openai.UserMessage(ex.text))
		case session.RoleAssistant:
			if len(ex.calls) == 0 {
				messages = append(messages, openai.AssistantMessage(ex.text))
				continue
			}
			assistant := openai.ChatCompletionAssistantMessageParam{}
			if ex.text != "" {
				assistant.Content.OfString = openai.String(ex.text)
			}
			for _, call := range ex.calls {
				assistant.ToolCalls = append(assistant.ToolCalls, openai.ChatCompletionMessageToolCallParam{
					ID: call.CorrelationID,
					Function: openai.ChatCompletionMessageToolCallFunctionParam{
						Name:      callName(call),
						Arguments: callArguments(call),
					},
				})
			}
			messages = append(messages, openai.ChatCompletionMessageParamUnion{OfAssistant: &assistant})
			for _, r := range ex.results {
				messages = append(messages, openai.ToolMessage(ResultContent(r), r.CorrelationID))
			}
		}
	}
	return messages
}

func (c *OpenAIClient) convertTools(tools []ToolDefinition) []openai.ChatCompletionToolParam {
	out := make([]openai.ChatCompletionToolParam, 0, len(tools))
	for _, tool := range tools {
		out = append(out, openai.ChatCompletionToolParam{
			Function: shared.FunctionDefinitionParam{
				Name:        tool.Name,
				Description: openai.String(tool.Description),
				Parameters:  shared.FunctionParameters(tool.Parameters),
			},
		})
	}
	return out
}

func (c *OpenAIClient) convertResponse(completion *openai.ChatCompletion) (*Decision, error) {
	if len(completion.Choices) == 0 {
		return nil, ErrMalformedOutput
	}

	choice := completion.Choices[0]
	decision := &Decision{
		Message:      choice.Message.Content,
		FinishReason: choice.FinishReason,
		Usage: &Usage{
			InputTokens:  int(completion.Usage.PromptTokens),
			OutputTokens: int(completion.Usage.CompletionTokens),
			TotalTokens:  int(completion.Usage.TotalTokens),
		},
	}
	for _, tc := range choice.Message.ToolCalls {
		decision.Requests = append(decision.Requests, decodeArguments(tc.ID, tc.Function.Name, tc.Function.Arguments))
	}
	if decision.Message == "" && len(decision.Requests) == 0 {
		return nil, ErrMalformedOutput
	}
	return decision, nil
}
