package llm

import (
	"context"
	"strings"

	"google.golang.org/genai"

	"github.com/kagent-dev/supportagent/pkg/adk/config"
	apperrors "github.com/kagent-dev/supportagent/pkg/adk/errors"
	"github.com/kagent-dev/supportagent/pkg/adk/session"
)

// GeminiClient implements the Client interface for Google Gemini
type GeminiClient struct {
	client *genai.Client
	config *config.GeminiConfig
}

// NewGeminiClient creates a new Gemini client against the Gemini API.
func NewGeminiClient(cfg *config.GeminiConfig) (*GeminiClient, error) {
	return newGeminiClient(cfg, genai.HTTPOptions{})
}

func newGeminiClient(cfg *config.GeminiConfig, httpOpts genai.HTTPOptions) (*GeminiClient, error) {
	if cfg == nil {
		return nil, apperrors.New(apperrors.ErrCodeAgentConfig, "config is required", nil)
	}

	if cfg.APIKey == nil || *cfg.APIKey == "" {
		return nil, apperrors.New(apperrors.ErrCodeAgentConfig, "API key is required", nil)
	}
	if cfg.Timeout > 0 && httpOpts.Timeout == nil {
		timeout := cfg.Timeout
		httpOpts.Timeout = &timeout
	}

	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey:      *cfg.APIKey,
		Backend:     genai.BackendGeminiAPI,
		HTTPOptions: httpOpts,
	})
	if err != nil {
		return nil, apperrors.New(apperrors.ErrCodeAgentConfig, "failed to create Gemini client", err)
	}

	return &GeminiClient{
		client: client,
		config: cfg,
	}, nil
}

// ModelName returns the name of the model being used
func (c *GeminiClient) ModelName() string {
	return c.config.Model
}

// Generate runs one engine round
func (c *GeminiClient) Generate(ctx context.Context, in Input) (*Decision, error) {
	resp, err := c.client.Models.GenerateContent(ctx, c.config.Model, c.convertMessages(in.Turns), c.buildConfig(in))
	if err != nil {
		return nil, apperrors.New(apperrors.ErrCodeEngineFailed, "Gemini API call failed", err)
	}
	return c.convertResponse(resp)
}

func (c *GeminiClient) buildConfig(in Input) *genai.GenerateContentConfig {
	cfg := &genai.GenerateContentConfig{}
	if in.Instruction != "" {
		cfg.SystemInstruction = genai.NewContentFromText(in.Instruction, genai.RoleUser)
	}
	if c.config.Temperature != nil {
		t := float32(*c.config.Temperature)
		cfg.Temperature = &t
	}
	if c.config.TopP != nil {
		p := float32(*c.config.TopP)
		cfg.TopP = &p
	}
	if c.config.TopK != nil {
		k := float32(*c.config.TopK)
		cfg.TopK = &k
	}
	if c.config.MaxTokens != nil {
		cfg.MaxOutputTokens = int32(*c.config.MaxTokens)
	}
	if len(in.Tools) > 0 {
		decls := make([]*genai.FunctionDeclaration, 0, len(in.Tools))
		for _, tool := range in.Tools {
			decls = append(decls, &genai.FunctionDeclaration{
				Name:                 tool.Name,
				Description:          tool.Description,
				ParametersJsonSchema: tool.Parameters,
			})
		}
		cfg.Tools = []*genai.Tool{{FunctionDeclarations: decls}}
	}
	return cfg
}

func (c *GeminiClient) convertMessages(turns []session.Turn) []*genai.Content {
	contents := make([]*genai.Content, 0, len(turns))
	for _, ex := range groupTurns(turns) {
		switch ex.role {
		case session.RoleUser:
			contents = append(contents, genai.NewContentFromText(ex.text, genai.RoleUser))
		case session.RoleAssistant:
			parts := make([]*genai.Part, 0, len(ex.calls)+1)
			if ex.text != "" {
				parts = append(parts, genai.NewPartFromText(ex.text))
			}
			names := make(map[string]string, len(ex.calls))
			for _, call := range ex.calls {
				part := genai.NewPartFromFunctionCall(callName(call), callArgumentMap(call))
				part.FunctionCall.ID = call.CorrelationID
				parts = append(parts, part)
				names[call.CorrelationID] = callName(call)
			}
			if len(parts) == 0 {
				continue
			}
			contents = append(contents, genai.NewContentFromParts(parts, genai.RoleModel))

			if len(ex.results) > 0 {
				responses := make([]*genai.Part, 0, len(ex.results))
				for _, r := range ex.results {
					part := genai.NewPartFromFunctionResponse(names[r.CorrelationID], resultObject(r))
					part.FunctionResponse.ID = r.CorrelationID
					responses = append(responses, part)
				}
				contents = append(contents, genai.NewContentFromParts(responses, genai.RoleUser))
			}
		}
	}
	return contents
}

func (c *GeminiClient) convertResponse(resp *genai.GenerateContentResponse) (*Decision, error) {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return nil, ErrMalformedOutput
	}

	candidate := resp.Candidates[0]
	decision := &Decision{FinishReason: string(candidate.FinishReason)}
	if u := resp.UsageMetadata; u != nil {
		decision.Usage = &Usage{
			InputTokens:  int(u.PromptTokenCount),
			OutputTokens: int(u.CandidatesTokenCount),
			TotalTokens:  int(u.TotalTokenCount),
		}
	}

	var text strings.Builder
	for _, part := range candidate.Content.Parts {
		switch {
		case part.FunctionCall != nil:
			// Gemini does not always assign call ids; the orchestrator fills
			// empty ones.
			fc := part.FunctionCall
			id := fc.ID
			if fc.Name == "" {
				decision.Requests = append(decision.Requests, UnparseableRequest{CorrelationID: id, Reason: "missing action name"})
				continue
			}
			args := fc.Args
			if args == nil {
				args = map[string]any{}
			}
			decision.Requests = append(decision.Requests, KnownAction{CorrelationID: id, Name: fc.Name, Arguments: args})
		case part.Text != "" && !part.Thought:
			text.WriteString(part.Text)
		}
	}
	decision.Message = text.String()

	if decision.Message == "" && len(decision.Requests) == 0 {
		return nil, ErrMalformedOutput
	}
	return decision, nil
}
