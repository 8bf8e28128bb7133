package agent

import (
	"net/http"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"

	"github.com/kagent-dev/supportagent/pkg/adk/backend"
	"github.com/kagent-dev/supportagent/pkg/adk/catalog"
)

type catalogOptions struct {
	backendURL string
	constraint string
	asJSON     bool
}

func newCatalogCmd(_ *options) *cobra.Command {
	co := &catalogOptions{}

	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "Show the action catalog",
		Long: `Print the actions the agent may request, with their scopes and parameters.

With --backend the catalog is discovered from a running CRM backend and
checked against --version.

Examples:
  supportagent catalog
  supportagent catalog --json
  supportagent catalog --backend http://localhost:8000 --version "^1.0"`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cat := catalog.Default()
			if co.backendURL != "" {
				var err error
				cat, err = backend.DiscoverCatalog(cmd.Context(), &http.Client{Timeout: 10 * time.Second}, co.backendURL, co.constraint)
				if err != nil {
					return err
				}
			}
			if co.asJSON {
				enc := jsoniter.ConfigCompatibleWithStandardLibrary.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(cat.DescribeAll())
			}
			renderCatalog(cmd.OutOrStdout(), cat)
			return nil
		},
	}

	cmd.Flags().StringVar(&co.backendURL, "backend", "", "Discover the catalog from this CRM backend URL")
	cmd.Flags().StringVar(&co.constraint, "version", "^1.0", "Catalog version constraint for discovery")
	cmd.Flags().BoolVar(&co.asJSON, "json", false, "Print the catalog as JSON")

	return cmd
}
