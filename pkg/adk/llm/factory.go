package llm

import (
	"fmt"

	"github.com/kagent-dev/supportagent/pkg/adk/config"
	apperrors "github.com/kagent-dev/supportagent/pkg/adk/errors"
)

// NewClientFromConfig creates an LLM client from model configuration
func NewClientFromConfig(cfg config.ModelConfig) (Client, error) {
	if cfg == nil {
		return nil, apperrors.New(apperrors.ErrCodeAgentConfig, "model config is required", nil)
	}

	switch cfg.Type() {
	case config.ModelTypeOpenAI:
		openaiCfg, ok := cfg.(*config.OpenAIConfig)
		if !ok {
			return nil, apperrors.New(apperrors.ErrCodeAgentConfig, "invalid OpenAI config", nil)
		}
		client, err := NewOpenAIClient(openaiCfg)
		if err != nil {
			return nil, err
		}
		return client, nil

	case config.ModelTypeAnthropic:
		anthropicCfg, ok := cfg.(*config.AnthropicConfig)
		if !ok {
			return nil, apperrors.New(apperrors.ErrCodeAgentConfig, "invalid Anthropic config", nil)
		}
		client, err := NewAnthropicClient(anthropicCfg)
		if err != nil {
			return nil, err
		}
		return client, nil

	case config.ModelTypeGemini:
		geminiCfg, ok := cfg.(*config.GeminiConfig)
		if !ok {
			return nil, apperrors.New(apperrors.ErrCodeAgentConfig, "invalid Gemini config", nil)
		}
		client, err := NewGeminiClient(geminiCfg)
		if err != nil {
			return nil, err
		}
		return client, nil

	default:
		return nil, apperrors.New(apperrors.ErrCodeAgentConfig,
			fmt.Sprintf("unsupported model type: %s", cfg.Type()), nil)
	}
}
