package agent

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/kagent-dev/supportagent/pkg/adk/config"
	"github.com/kagent-dev/supportagent/pkg/adk/logging"
)

// options is shared by every subcommand.
type options struct {
	configPath string
	v          *viper.Viper
}

// NewRootCmd creates the supportagent command tree
func NewRootCmd() *cobra.Command {
	o := &options{v: viper.New()}

	cmd := &cobra.Command{
		Use:   "supportagent",
		Short: "Policy-gated customer support agent",
		Long: `supportagent runs an LLM driven support agent whose actions are checked
against the caller's scopes and, for sensitive actions, against the
company's written policies.

Available subcommands:
  init        Write a starter config file
  serve       Run the session API, CRM backend and MCP server
  ask         Send one message and print the reply
  chat        Chat with the agent interactively
  catalog     Show the action catalog
  policies    Ingest or search the policy knowledge base

Examples:
  supportagent serve --config ./examples/config.yaml
  supportagent ask --token super-agent-secret "ORD-123 was lost in transit, please refund it"
  supportagent chat --server http://localhost:8080 --token junior-agent-secret
  supportagent policies search "refund for cosmetic damage"`,
		SilenceUsage: true,
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&o.configPath, "config", "", "Path to the config file (default: "+config.DefaultConfigPath+")")
	flags.String("log-level", "info", "Log level (debug, info, warn, error)")
	flags.String("log-format", "console", "Log format (console, json)")
	cobra.CheckErr(bindFlags(o.v, flags, map[string]string{
		"logging.level":  "log-level",
		"logging.format": "log-format",
	}))

	cmd.AddCommand(newInitCmd(o))
	cmd.AddCommand(newServeCmd(o))
	cmd.AddCommand(newAskCmd(o))
	cmd.AddCommand(newChatCmd(o))
	cmd.AddCommand(newCatalogCmd(o))
	cmd.AddCommand(newPoliciesCmd(o))

	return cmd
}

// bindFlags binds config keys to flags so a flag set on the command line
// overrides the file and environment.
func bindFlags(v *viper.Viper, fs *pflag.FlagSet, keys map[string]string) error {
	for key, name := range keys {
		f := fs.Lookup(name)
		if f == nil {
			return fmt.Errorf("unknown flag %q", name)
		}
		if err := v.BindPFlag(key, f); err != nil {
			return fmt.Errorf("failed to bind flag %q: %w", name, err)
		}
	}
	return nil
}

// load reads and validates the full configuration and builds the logger.
func (o *options) load(cmd *cobra.Command) (*config.Config, *logging.Logger, error) {
	cfg, err := config.Load(o.v, o.configPath)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logging.New(cfg.Logging, cmd.ErrOrStderr()), nil
}

// logger builds a logger from the flags alone, for commands that talk to a
// remote server and need no local configuration.
func (o *options) logger(cmd *cobra.Command) *logging.Logger {
	return logging.New(config.LoggingConfig{
		Level:  o.v.GetString("logging.level"),
		Format: o.v.GetString("logging.format"),
	}, cmd.ErrOrStderr())
}
