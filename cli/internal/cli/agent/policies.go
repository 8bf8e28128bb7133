package agent

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kagent-dev/supportagent/pkg/adk"
	"github.com/kagent-dev/supportagent/pkg/adk/config"
	"github.com/kagent-dev/supportagent/pkg/adk/knowledge"
	"github.com/kagent-dev/supportagent/pkg/adk/logging"
)

func newPoliciesCmd(o *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "policies",
		Short: "Ingest or search the policy knowledge base",
	}
	cmd.AddCommand(newIngestCmd(o))
	cmd.AddCommand(newListPoliciesCmd(o))
	cmd.AddCommand(newSearchCmd(o))
	return cmd
}

// withRepository opens the configured policy store for the duration of fn.
func withRepository(cmd *cobra.Command, o *options, fn func(cfg *config.Config, repo *knowledge.Repository, log *logging.Logger) error) error {
	cfg, logger, err := o.load(cmd)
	if err != nil {
		return err
	}
	defer logger.Sync()

	repo, err := knowledge.OpenRepository(cfg.Knowledge.Driver, cfg.Knowledge.DSN, logger.WithName("knowledge"))
	if err != nil {
		return err
	}
	defer repo.Close()
	return fn(cfg, repo, logger)
}

func newIngestCmd(o *options) *cobra.Command {
	var defaults bool

	cmd := &cobra.Command{
		Use:   "ingest [file]",
		Short: "Replace the policy collection with the documents in file",
		Long: `Replace the configured policy collection with the documents of a YAML file.
Ingesting the same file twice leaves the same state.

Examples:
  supportagent policies ingest ./examples/policies.yaml
  supportagent policies ingest --defaults`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 && !defaults {
				return fmt.Errorf("a documents file or --defaults is required")
			}
			return withRepository(cmd, o, func(cfg *config.Config, repo *knowledge.Repository, _ *logging.Logger) error {
				docs := knowledge.DefaultDocuments()
				if len(args) == 1 {
					var err error
					if docs, err = knowledge.LoadDocumentsFile(args[0]); err != nil {
						return err
					}
				}
				if err := repo.Ingest(cmd.Context(), cfg.Knowledge.Collection, docs); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), doneColor.Sprintf("Ingested %d documents into %q", len(docs), cfg.Knowledge.Collection))
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&defaults, "defaults", false, "Ingest the built-in refund policies")

	return cmd
}

func newListPoliciesCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the stored policy documents",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withRepository(cmd, o, func(cfg *config.Config, repo *knowledge.Repository, _ *logging.Logger) error {
				docs, err := repo.Documents(cmd.Context(), cfg.Knowledge.Collection)
				if err != nil {
					return err
				}
				snippets := make([]knowledge.Snippet, len(docs))
				for i, d := range docs {
					snippets[i] = knowledge.Snippet{DocumentID: d.ID, Text: d.Text, Topic: d.Topic}
				}
				renderSnippets(cmd.OutOrStdout(), snippets)
				return nil
			})
		},
	}
}

func newSearchCmd(o *options) *cobra.Command {
	var topK int

	cmd := &cobra.Command{
		Use:   "search [query]",
		Short: "Rank policy documents against a query",
		Long: `Run a query against the policy index the way the agent's
search_knowledge_base action does.

Examples:
  supportagent policies search "Are full refunds allowed for items lost in transit?"
  supportagent policies search --top-k 5 warranty`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepository(cmd, o, func(cfg *config.Config, repo *knowledge.Repository, log *logging.Logger) error {
				index, err := adk.LoadKnowledge(cmd.Context(), repo, cfg.Knowledge, log.Logger)
				if err != nil {
					return err
				}
				defer index.Close()

				k := topK
				if k <= 0 {
					k = cfg.Knowledge.TopK
				}
				res, err := index.Query(cmd.Context(), strings.Join(args, " "), k)
				if err != nil {
					return err
				}
				snippets, err := knowledge.Collect(res)
				if err != nil {
					return err
				}
				if len(snippets) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No relevant policy found.")
					return nil
				}
				renderSnippets(cmd.OutOrStdout(), snippets)
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&topK, "top-k", 0, "Number of snippets to return (default: knowledge.top_k)")

	return cmd
}
