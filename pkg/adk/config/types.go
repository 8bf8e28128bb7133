package config

import (
	"fmt"
	"os"
	"time"

	"dario.cat/mergo"

	adkerrors "github.com/kagent-dev/supportagent/pkg/adk/errors"
)

// Model types accepted in model.type.
const (
	ModelTypeOpenAI    = "OpenAI"
	ModelTypeAnthropic = "Anthropic"
	ModelTypeGemini    = "Gemini"
)

// ModelConfig is an interface for different model configurations
type ModelConfig interface {
	Type() string
	Validate() error
}

// BaseModelConfig contains common fields for all models
type BaseModelConfig struct {
	ModelType string        `json:"type" yaml:"type"`
	Timeout   time.Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`
}

func (b *BaseModelConfig) Type() string {
	return b.ModelType
}

func (b *BaseModelConfig) Validate() error {
	return adkerrors.New(adkerrors.ErrCodeAgentConfig, fmt.Sprintf("unsupported model type: %s", b.ModelType), nil)
}

// OpenAIConfig represents OpenAI model configuration
type OpenAIConfig struct {
	BaseModelConfig
	Model            string   `json:"model"`
	BaseURL          *string  `json:"base_url,omitempty"`
	FrequencyPenalty *float64 `json:"frequency_penalty,omitempty"`
	MaxTokens        *int     `json:"max_tokens,omitempty"`
	Temperature      *float64 `json:"temperature,omitempty"`
	TopP             *float64 `json:"top_p,omitempty"`
	APIKey           *string  `json:"api_key,omitempty"`
}

func (o *OpenAIConfig) Validate() error {
	if o.Model == "" {
		return adkerrors.New(adkerrors.ErrCodeAgentConfig, "model name is required", nil)
	}
	return nil
}

// AnthropicConfig represents Anthropic model configuration
type AnthropicConfig struct {
	BaseModelConfig
	Model       string   `json:"model"`
	BaseURL     *string  `json:"base_url,omitempty"`
	MaxTokens   *int     `json:"max_tokens,omitempty"`
	Temperature *float64 `json:"temperature,omitempty"`
	TopP        *float64 `json:"top_p,omitempty"`
	TopK        *int     `json:"top_k,omitempty"`
	APIKey      *string  `json:"api_key,omitempty"`
}

func (a *AnthropicConfig) Validate() error {
	if a.Model == "" {
		return adkerrors.New(adkerrors.ErrCodeAgentConfig, "model name is required", nil)
	}
	return nil
}

// GeminiConfig represents Google Gemini model configuration
type GeminiConfig struct {
	BaseModelConfig
	Model       string   `json:"model"`
	MaxTokens   *int     `json:"max_tokens,omitempty"`
	Temperature *float64 `json:"temperature,omitempty"`
	TopP        *float64 `json:"top_p,omitempty"`
	TopK        *int     `json:"top_k,omitempty"`
	APIKey      *string  `json:"api_key,omitempty"`
}

func (g *GeminiConfig) Validate() error {
	if g.Model == "" {
		return adkerrors.New(adkerrors.ErrCodeAgentConfig, "model name is required", nil)
	}
	return nil
}

// ModelSettings is the model section of the config file. Build turns it
// into the provider specific ModelConfig.
type ModelSettings struct {
	Type             string        `mapstructure:"type" yaml:"type"`
	Model            string        `mapstructure:"model" yaml:"model"`
	BaseURL          string        `mapstructure:"base_url" yaml:"base_url,omitempty"`
	APIKey           string        `mapstructure:"api_key" yaml:"-"`
	APIKeyEnv        string        `mapstructure:"api_key_env" yaml:"api_key_env,omitempty"`
	MaxTokens        int           `mapstructure:"max_tokens" yaml:"max_tokens,omitempty"`
	Temperature      *float64      `mapstructure:"temperature" yaml:"temperature,omitempty"`
	TopP             *float64      `mapstructure:"top_p" yaml:"top_p,omitempty"`
	TopK             int           `mapstructure:"top_k" yaml:"top_k,omitempty"`
	FrequencyPenalty *float64      `mapstructure:"frequency_penalty" yaml:"frequency_penalty,omitempty"`
	Timeout          time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// Build returns the typed configuration for the selected provider.
func (m ModelSettings) Build() (ModelConfig, error) {
	base := BaseModelConfig{ModelType: m.Type, Timeout: m.Timeout}

	apiKey := m.APIKey
	if apiKey == "" && m.APIKeyEnv != "" {
		apiKey = os.Getenv(m.APIKeyEnv)
	}
	var maxTokens, topK *int
	if m.MaxTokens > 0 {
		maxTokens = &m.MaxTokens
	}
	if m.TopK > 0 {
		topK = &m.TopK
	}

	var cfg ModelConfig
	switch m.Type {
	case ModelTypeOpenAI:
		cfg = &OpenAIConfig{
			BaseModelConfig:  base,
			Model:            m.Model,
			BaseURL:          optional(m.BaseURL),
			FrequencyPenalty: m.FrequencyPenalty,
			MaxTokens:        maxTokens,
			Temperature:      m.Temperature,
			TopP:             m.TopP,
			APIKey:           optional(apiKey),
		}
	case ModelTypeAnthropic:
		cfg = &AnthropicConfig{
			BaseModelConfig: base,
			Model:           m.Model,
			BaseURL:         optional(m.BaseURL),
			MaxTokens:       maxTokens,
			Temperature:     m.Temperature,
			TopP:            m.TopP,
			TopK:            topK,
			APIKey:          optional(apiKey),
		}
	case ModelTypeGemini:
		cfg = &GeminiConfig{
			BaseModelConfig: base,
			Model:           m.Model,
			MaxTokens:       maxTokens,
			Temperature:     m.Temperature,
			TopP:            m.TopP,
			TopK:            topK,
			APIKey:          optional(apiKey),
		}
	default:
		return nil, adkerrors.New(adkerrors.ErrCodeAgentConfig, fmt.Sprintf("unsupported model type: %s", m.Type), nil)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// providerDefaults are the per-provider values for model settings the config
// file leaves empty.
var providerDefaults = map[string]ModelSettings{
	ModelTypeOpenAI:    {Model: "gpt-4o-mini", APIKeyEnv: "OPENAI_API_KEY"},
	ModelTypeAnthropic: {Model: "claude-sonnet-4-5", APIKeyEnv: "ANTHROPIC_API_KEY"},
	ModelTypeGemini:    {Model: "gemini-2.0-flash", APIKeyEnv: "GOOGLE_API_KEY"},
}

// WithProviderDefaults fills the fields left empty with the defaults of the
// selected provider. Fields already set are kept.
func (m ModelSettings) WithProviderDefaults() (ModelSettings, error) {
	defaults, ok := providerDefaults[m.Type]
	if !ok {
		return m, nil
	}
	if err := mergo.Merge(&m, defaults); err != nil {
		return m, fmt.Errorf("failed to apply %s model defaults: %w", m.Type, err)
	}
	return m, nil
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
