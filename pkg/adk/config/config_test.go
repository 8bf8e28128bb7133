package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kagent-dev/supportagent/pkg/adk/policy"
)

const sampleConfig = `
agent:
  name: refunds
  max_rounds: 6
model:
  type: Anthropic
  model: claude-sonnet-4-5
  api_key_env: TEST_SUPPORTAGENT_MODEL_KEY
backend:
  mode: http
  url: http://crm.internal:8000
  token_env: TEST_SUPPORTAGENT_BACKEND_TOKEN
auth:
  grants:
    - token: super-agent-secret
      identity: Agent-007
      scopes: [read:orders, write:refunds]
    - token_env: TEST_SUPPORTAGENT_JUNIOR
      identity: Intern-Bot
      scopes: [read:orders]
policy:
  ttl: 2m
  rules:
    - name: damaged
      when: 'policy.contains("damaged")'
      verdict: permit
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0600))
	return path
}

func TestLoad_FileAndEnv(t *testing.T) {
	t.Setenv("TEST_SUPPORTAGENT_MODEL_KEY", "sk-test")
	t.Setenv("TEST_SUPPORTAGENT_BACKEND_TOKEN", "backend-token")
	t.Setenv("TEST_SUPPORTAGENT_JUNIOR", "junior-agent-secret")
	t.Setenv("SUPPORTAGENT_SERVER_ADDR", ":9999")

	cfg, err := Load(viper.New(), writeConfig(t, sampleConfig))
	require.NoError(t, err)

	assert.Equal(t, "refunds", cfg.Agent.Name)
	assert.Equal(t, 6, cfg.Agent.MaxRounds)
	assert.Equal(t, BackendHTTP, cfg.Backend.Mode)
	assert.Equal(t, "backend-token", cfg.Backend.Token)
	assert.Equal(t, ":9999", cfg.Server.Addr)
	assert.Equal(t, 2*time.Minute, cfg.Policy.TTL)
	// defaults survive
	assert.Equal(t, 2, cfg.Knowledge.TopK)
	assert.Equal(t, "company_policies", cfg.Knowledge.Collection)

	grants := cfg.Grants()
	require.Len(t, grants, 2)
	assert.Equal(t, "junior-agent-secret", grants[1].Token)
	assert.Equal(t, []string{"read:orders"}, grants[1].Scopes)

	rules := cfg.Rules()
	require.Len(t, rules, 1)
	assert.Equal(t, policy.VerdictPermit, rules[0].Verdict)

	mc, err := cfg.Model.Build()
	require.NoError(t, err)
	ac, ok := mc.(*AnthropicConfig)
	require.True(t, ok)
	require.NotNil(t, ac.APIKey)
	assert.Equal(t, "sk-test", *ac.APIKey)
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	_, err := Load(viper.New(), filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read config file")
}

func TestValidate_ReportsEveryProblem(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Model.Type = ""
	cfg.Agent.MaxRounds = 0
	cfg.Backend.Mode = "carrier-pigeon"
	cfg.Policy.Rules = []RuleConfig{{Name: "x", When: "true", Verdict: "maybe"}}

	err := cfg.Validate()
	require.Error(t, err)
	msg := err.Error()
	assert.Contains(t, msg, "agent.max_rounds")
	assert.Contains(t, msg, "backend.mode")
	assert.Contains(t, msg, "at least one grant")
	assert.Contains(t, msg, `unknown verdict "maybe"`)
}

func TestValidate_HTTPBackendNeedsURL(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Model.Type = ""
	cfg.Auth.Grants = []GrantConfig{{Token: "t", Identity: "a"}}
	cfg.Backend.Mode = BackendHTTP
	cfg.Backend.URL = "crm.internal"

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "backend.url")

	cfg.Backend.URL = "https://crm.internal"
	assert.NoError(t, cfg.Validate())
}

func TestRules_DefaultWhenEmpty(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, policy.DefaultRules(), cfg.Rules())
}

func TestSaveConfig_OmitsSecrets(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Model.APIKey = "sk-secret"
	cfg.Backend.Token = "backend-secret"
	cfg.Auth.JWT.Secret = "jwt-secret"

	path := filepath.Join(t.TempDir(), "out.yaml")
	require.NoError(t, SaveConfig(cfg, path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "sk-secret")
	assert.NotContains(t, string(data), "backend-secret")
	assert.NotContains(t, string(data), "jwt-secret")
	assert.Contains(t, string(data), "support-agent")
}

func TestModelSettings_Build(t *testing.T) {
	tests := []struct {
		name    string
		in      ModelSettings
		want    string
		wantErr string
	}{
		{name: "openai", in: ModelSettings{Type: ModelTypeOpenAI, Model: "gpt-4o"}, want: ModelTypeOpenAI},
		{name: "gemini", in: ModelSettings{Type: ModelTypeGemini, Model: "gemini-2.0-flash"}, want: ModelTypeGemini},
		{name: "missing model", in: ModelSettings{Type: ModelTypeOpenAI}, wantErr: "model"},
		{name: "unknown type", in: ModelSettings{Type: "Llama", Model: "x"}, wantErr: "unsupported"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mc, err := tt.in.Build()
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, mc.Type())
		})
	}
}

func TestLoad_ProviderDefaults(t *testing.T) {
	tests := []struct {
		name       string
		model      string
		wantModel  string
		wantKeyEnv string
	}{
		{name: "openai", model: "type: OpenAI", wantModel: "gpt-4o-mini", wantKeyEnv: "OPENAI_API_KEY"},
		{name: "anthropic", model: "type: Anthropic", wantModel: "claude-sonnet-4-5", wantKeyEnv: "ANTHROPIC_API_KEY"},
		{name: "gemini", model: "type: Gemini", wantModel: "gemini-2.0-flash", wantKeyEnv: "GOOGLE_API_KEY"},
		{name: "explicit values win", model: "type: Gemini\n  model: gemini-2.5-pro\n  api_key_env: MY_KEY", wantModel: "gemini-2.5-pro", wantKeyEnv: "MY_KEY"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body := "model:\n  " + tt.model + "\nauth:\n  grants:\n    - token: t\n      identity: Agent-007\n"
			cfg, err := Load(viper.New(), writeConfig(t, body))
			require.NoError(t, err)
			assert.Equal(t, tt.wantModel, cfg.Model.Model)
			assert.Equal(t, tt.wantKeyEnv, cfg.Model.APIKeyEnv)
		})
	}
}
