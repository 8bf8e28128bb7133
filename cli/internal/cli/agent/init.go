package agent

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/cobra"

	"github.com/kagent-dev/supportagent/pkg/adk/catalog"
	"github.com/kagent-dev/supportagent/pkg/adk/config"
)

// demoGrants are the credentials of the bundled order book demo.
func demoGrants() []config.GrantConfig {
	return []config.GrantConfig{
		{Token: "super-agent-secret", Identity: "Agent-007", Scopes: []string{catalog.ScopeReadOrders, catalog.ScopeWriteRefunds}},
		{Token: "junior-agent-secret", Identity: "Intern-Bot", Scopes: []string{catalog.ScopeReadOrders}},
	}
}

func newInitCmd(o *options) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a starter config file",
		Long: `Write a config file with the default settings and the demo credentials
(super-agent-secret and junior-agent-secret) to --config or ` + config.DefaultConfigPath + `.

Examples:
  supportagent init
  supportagent init --config ./agent.yaml --force`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path := o.configPath
			if path == "" {
				path = config.DefaultConfigPath
			}
			path, err := homedir.Expand(path)
			if err != nil {
				return err
			}
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists, use --force to overwrite", path)
			}
			if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
				return fmt.Errorf("failed to create config directory: %w", err)
			}

			cfg := config.DefaultConfig()
			cfg.Auth.Grants = demoGrants()
			if err := config.SaveConfig(cfg, path); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), doneColor.Sprintf("Configuration written to %s", path))
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing file")

	return cmd
}
