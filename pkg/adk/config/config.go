package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/kagent-dev/supportagent/pkg/adk/auth"
	"github.com/kagent-dev/supportagent/pkg/adk/policy"
)

// EnvPrefix prefixes every environment override, e.g.
// SUPPORTAGENT_BACKEND_URL for backend.url.
const EnvPrefix = "SUPPORTAGENT"

// DefaultConfigPath is used when no --config flag is given.
const DefaultConfigPath = "~/.supportagent/config.yaml"

// Backend modes.
const (
	BackendLocal = "local"
	BackendHTTP  = "http"
)

// Config represents the agent configuration
type Config struct {
	Agent     AgentConfig     `mapstructure:"agent" yaml:"agent"`
	Model     ModelSettings   `mapstructure:"model" yaml:"model"`
	Backend   BackendConfig   `mapstructure:"backend" yaml:"backend"`
	Auth      AuthConfig      `mapstructure:"auth" yaml:"auth"`
	Knowledge KnowledgeConfig `mapstructure:"knowledge" yaml:"knowledge"`
	Policy    PolicyConfig    `mapstructure:"policy" yaml:"policy"`
	Server    ServerConfig    `mapstructure:"server" yaml:"server"`
	Logging   LoggingConfig   `mapstructure:"logging" yaml:"logging"`
}

// AgentConfig holds orchestrator settings
type AgentConfig struct {
	Name        string `mapstructure:"name" yaml:"name"`
	Description string `mapstructure:"description" yaml:"description,omitempty"`
	// Instruction replaces the built-in refund workflow prompt when set.
	Instruction string        `mapstructure:"instruction" yaml:"instruction,omitempty"`
	MaxRounds   int           `mapstructure:"max_rounds" yaml:"max_rounds"`
	TurnTimeout time.Duration `mapstructure:"turn_timeout" yaml:"turn_timeout"`
	// KeepAlive is the idle interval after which a streamed turn emits a
	// heartbeat update.
	KeepAlive time.Duration `mapstructure:"keepalive" yaml:"keepalive"`
}

// BackendConfig selects and tunes the action backend
type BackendConfig struct {
	Mode       string        `mapstructure:"mode" yaml:"mode"`
	URL        string        `mapstructure:"url" yaml:"url,omitempty"`
	Token      string        `mapstructure:"token" yaml:"-"`
	TokenEnv   string        `mapstructure:"token_env" yaml:"token_env,omitempty"`
	TokenFile  string        `mapstructure:"token_file" yaml:"token_file,omitempty"`
	Timeout    time.Duration `mapstructure:"timeout" yaml:"timeout"`
	MaxRetries int           `mapstructure:"max_retries" yaml:"max_retries"`
	RateLimit  float64       `mapstructure:"rate_limit" yaml:"rate_limit,omitempty"`
	Burst      int           `mapstructure:"burst" yaml:"burst,omitempty"`
	// Discover fetches the catalog from the backend instead of using the
	// built-in one. CatalogVersion constrains the remote version.
	Discover       bool   `mapstructure:"discover" yaml:"discover"`
	CatalogVersion string `mapstructure:"catalog_version" yaml:"catalog_version,omitempty"`
}

// GrantConfig is one entry of the credential table.
type GrantConfig struct {
	Token    string   `mapstructure:"token" yaml:"token,omitempty"`
	TokenEnv string   `mapstructure:"token_env" yaml:"token_env,omitempty"`
	Identity string   `mapstructure:"identity" yaml:"identity"`
	Scopes   []string `mapstructure:"scopes" yaml:"scopes"`
}

// JWTConfig enables bearer JWTs as credentials
type JWTConfig struct {
	Secret    string `mapstructure:"secret" yaml:"-"`
	SecretEnv string `mapstructure:"secret_env" yaml:"secret_env,omitempty"`
	Issuer    string `mapstructure:"issuer" yaml:"issuer,omitempty"`
	Audience  string `mapstructure:"audience" yaml:"audience,omitempty"`
}

// AuthConfig holds the credential table
type AuthConfig struct {
	Grants []GrantConfig `mapstructure:"grants" yaml:"grants"`
	JWT    JWTConfig     `mapstructure:"jwt" yaml:"jwt,omitempty"`
}

// KnowledgeConfig holds policy store settings
type KnowledgeConfig struct {
	Driver        string        `mapstructure:"driver" yaml:"driver"`
	DSN           string        `mapstructure:"dsn" yaml:"dsn"`
	Collection    string        `mapstructure:"collection" yaml:"collection"`
	DocumentsFile string        `mapstructure:"documents_file" yaml:"documents_file,omitempty"`
	TopK          int           `mapstructure:"top_k" yaml:"top_k"`
	Timeout       time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// RuleConfig is a policy rule as written in the config file.
type RuleConfig struct {
	Name    string `mapstructure:"name" yaml:"name"`
	When    string `mapstructure:"when" yaml:"when"`
	Verdict string `mapstructure:"verdict" yaml:"verdict"`
	Reason  string `mapstructure:"reason" yaml:"reason,omitempty"`
}

// PolicyConfig holds gatekeeper settings
type PolicyConfig struct {
	Rules    []RuleConfig        `mapstructure:"rules" yaml:"rules,omitempty"`
	TTL      time.Duration       `mapstructure:"ttl" yaml:"ttl"`
	Keywords map[string][]string `mapstructure:"keywords" yaml:"keywords,omitempty"`
}

// ServerConfig holds listener addresses
type ServerConfig struct {
	Addr    string `mapstructure:"addr" yaml:"addr"`
	CRMAddr string `mapstructure:"crm_addr" yaml:"crm_addr"`
	MCPAddr string `mapstructure:"mcp_addr" yaml:"mcp_addr"`
	// MCPSensitive lets MCP clients call sensitive actions, which bypass
	// the policy gate on that surface.
	MCPSensitive bool `mapstructure:"mcp_sensitive" yaml:"mcp_sensitive"`
}

// LoggingConfig holds logger settings
type LoggingConfig struct {
	Level      string `mapstructure:"level" yaml:"level"`
	Format     string `mapstructure:"format" yaml:"format"`
	File       string `mapstructure:"file" yaml:"file,omitempty"`
	MaxSize    int    `mapstructure:"max_size" yaml:"max_size,omitempty"`
	MaxBackups int    `mapstructure:"max_backups" yaml:"max_backups,omitempty"`
	MaxAge     int    `mapstructure:"max_age" yaml:"max_age,omitempty"`
	Compress   bool   `mapstructure:"compress" yaml:"compress,omitempty"`
}

// SetDefaults registers default values for every key so environment
// overrides work for keys absent from the file.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("agent.name", "support-agent")
	v.SetDefault("agent.description", "")
	v.SetDefault("agent.instruction", "")
	v.SetDefault("agent.max_rounds", 10)
	v.SetDefault("agent.turn_timeout", 5*time.Minute)
	v.SetDefault("agent.keepalive", 30*time.Second)

	v.SetDefault("model.type", ModelTypeOpenAI)
	v.SetDefault("model.model", "")
	v.SetDefault("model.base_url", "")
	v.SetDefault("model.api_key", "")
	v.SetDefault("model.api_key_env", "")
	v.SetDefault("model.max_tokens", 0)
	v.SetDefault("model.top_k", 0)
	v.SetDefault("model.timeout", 60*time.Second)

	v.SetDefault("backend.mode", BackendLocal)
	v.SetDefault("backend.url", "http://localhost:8000")
	v.SetDefault("backend.token", "")
	v.SetDefault("backend.token_env", "")
	v.SetDefault("backend.token_file", "")
	v.SetDefault("backend.timeout", 10*time.Second)
	v.SetDefault("backend.max_retries", 3)
	v.SetDefault("backend.rate_limit", 0.0)
	v.SetDefault("backend.burst", 1)
	v.SetDefault("backend.discover", false)
	v.SetDefault("backend.catalog_version", "^1.0")

	v.SetDefault("auth.jwt.secret", "")
	v.SetDefault("auth.jwt.secret_env", "")
	v.SetDefault("auth.jwt.issuer", "")
	v.SetDefault("auth.jwt.audience", "")

	v.SetDefault("knowledge.driver", "sqlite")
	v.SetDefault("knowledge.dsn", "file:policies.db?cache=shared")
	v.SetDefault("knowledge.collection", "company_policies")
	v.SetDefault("knowledge.documents_file", "")
	v.SetDefault("knowledge.top_k", 2)
	v.SetDefault("knowledge.timeout", 5*time.Second)

	v.SetDefault("policy.ttl", 10*time.Minute)

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.crm_addr", ":8000")
	v.SetDefault("server.mcp_addr", ":8081")
	v.SetDefault("server.mcp_sensitive", false)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
	v.SetDefault("logging.file", "")
	v.SetDefault("logging.max_size", 100)
	v.SetDefault("logging.max_backups", 3)
	v.SetDefault("logging.max_age", 28)
}

// Load reads configuration from path (or the default path when it exists),
// applies environment overrides and defaults, and validates the result.
// Flags bound to v before calling Load take precedence.
func Load(v *viper.Viper, path string) (*Config, error) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	SetDefaults(v)

	explicit := path != ""
	if !explicit {
		path = DefaultConfigPath
	}
	expanded, err := homedir.Expand(path)
	if err != nil {
		return nil, fmt.Errorf("failed to expand config path: %w", err)
	}
	v.SetConfigFile(expanded)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		missing := errors.As(err, &notFound) || errors.Is(err, os.ErrNotExist)
		if explicit || !missing {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if cfg.Model, err = cfg.Model.WithProviderDefaults(); err != nil {
		return nil, err
	}
	cfg.resolveEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// resolveEnv fills secrets referenced through *_env keys.
func (c *Config) resolveEnv() {
	if c.Backend.Token == "" && c.Backend.TokenEnv != "" {
		c.Backend.Token = os.Getenv(c.Backend.TokenEnv)
	}
	for i := range c.Auth.Grants {
		g := &c.Auth.Grants[i]
		if g.Token == "" && g.TokenEnv != "" {
			g.Token = os.Getenv(g.TokenEnv)
		}
	}
	if c.Auth.JWT.Secret == "" && c.Auth.JWT.SecretEnv != "" {
		c.Auth.JWT.Secret = os.Getenv(c.Auth.JWT.SecretEnv)
	}
}

// Validate reports every problem at once.
func (c *Config) Validate() error {
	var result *multierror.Error
	add := func(format string, args ...any) {
		result = multierror.Append(result, fmt.Errorf(format, args...))
	}

	if c.Agent.MaxRounds <= 0 {
		add("agent.max_rounds must be positive")
	}

	switch c.Backend.Mode {
	case BackendLocal:
	case BackendHTTP:
		u, err := url.Parse(c.Backend.URL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			add("backend.url %q must be an http(s) URL", c.Backend.URL)
		}
	default:
		add("backend.mode must be %q or %q, got %q", BackendLocal, BackendHTTP, c.Backend.Mode)
	}
	if c.Backend.MaxRetries < 0 {
		add("backend.max_retries must not be negative")
	}

	if len(c.Auth.Grants) == 0 && c.Auth.JWT.Secret == "" {
		add("auth: at least one grant or a jwt secret is required")
	}
	for i, g := range c.Auth.Grants {
		if g.Token == "" {
			add("auth.grants[%d]: token is empty", i)
		}
		if g.Identity == "" {
			add("auth.grants[%d]: identity is required", i)
		}
	}

	if c.Knowledge.TopK <= 0 {
		add("knowledge.top_k must be positive")
	}
	if c.Knowledge.Collection == "" {
		add("knowledge.collection is required")
	}

	for i, r := range c.Policy.Rules {
		if r.When == "" {
			add("policy.rules[%d]: when is required", i)
		}
		switch policy.Verdict(strings.ToUpper(r.Verdict)) {
		case policy.VerdictPermit, policy.VerdictDeny, policy.VerdictUndetermined:
		default:
			add("policy.rules[%d]: unknown verdict %q", i, r.Verdict)
		}
	}

	if c.Model.Type != "" {
		if _, err := c.Model.Build(); err != nil {
			result = multierror.Append(result, fmt.Errorf("model: %w", err))
		}
	}

	return result.ErrorOrNil()
}

// Grants converts the credential table for the authorization gate.
func (c *Config) Grants() []auth.Grant {
	out := make([]auth.Grant, 0, len(c.Auth.Grants))
	for _, g := range c.Auth.Grants {
		out = append(out, auth.Grant{Token: g.Token, Identity: g.Identity, Scopes: g.Scopes})
	}
	return out
}

// Rules returns the configured policy rules, or the built-in refund rules
// when none are configured.
func (c *Config) Rules() []policy.Rule {
	if len(c.Policy.Rules) == 0 {
		return policy.DefaultRules()
	}
	out := make([]policy.Rule, 0, len(c.Policy.Rules))
	for _, r := range c.Policy.Rules {
		out = append(out, policy.Rule{
			Name:    r.Name,
			When:    r.When,
			Verdict: policy.Verdict(strings.ToUpper(r.Verdict)),
			Reason:  r.Reason,
		})
	}
	return out
}

// DefaultConfig returns a configuration with every default applied and an
// empty credential table.
func DefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)
	var cfg Config
	_ = v.Unmarshal(&cfg)
	cfg.Model, _ = cfg.Model.WithProviderDefaults()
	return &cfg
}

// SaveConfig saves configuration to a YAML file. Secrets are not written.
func SaveConfig(cfg *Config, filePath string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(filePath, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}
