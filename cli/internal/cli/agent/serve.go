package agent

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/kagent-dev/supportagent/pkg/adk"
)

const shutdownTimeout = 30 * time.Second

type serveOptions struct {
	noCRM bool
	noMCP bool
}

func newServeCmd(o *options) *cobra.Command {
	so := &serveOptions{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the session API, CRM backend and MCP server",
		Long: `Run the support agent.

Three listeners are started:
  - the session API (server.addr), where clients open sessions and send messages
  - the CRM backend (server.crm_addr), serving the catalog actions over HTTP
  - the MCP server (server.mcp_addr), exposing the catalog as MCP tools;
    sensitive tools are refused unless --mcp-sensitive is set

Examples:
  supportagent serve --config ./examples/config.yaml
  supportagent serve --addr :9090 --no-mcp`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd, o, so)
		},
	}

	cmd.Flags().String("addr", ":8080", "Session API listen address")
	cmd.Flags().String("crm-addr", ":8000", "CRM backend listen address")
	cmd.Flags().String("mcp-addr", ":8081", "MCP server listen address")
	cmd.Flags().BoolVar(&so.noCRM, "no-crm", false, "Do not start the CRM backend")
	cmd.Flags().BoolVar(&so.noMCP, "no-mcp", false, "Do not start the MCP server")
	cmd.Flags().Bool("mcp-sensitive", false, "Let MCP clients call sensitive actions without a policy check")
	cobra.CheckErr(bindFlags(o.v, cmd.Flags(), map[string]string{
		"server.addr":          "addr",
		"server.crm_addr":      "crm-addr",
		"server.mcp_addr":      "mcp-addr",
		"server.mcp_sensitive": "mcp-sensitive",
	}))

	return cmd
}

func runServe(cmd *cobra.Command, o *options, so *serveOptions) error {
	cfg, logger, err := o.load(cmd)
	if err != nil {
		return err
	}
	defer logger.Sync()
	log := logger.WithName("serve")

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := adk.Build(ctx, cfg, logger.Logger)
	if err != nil {
		return fmt.Errorf("failed to build agent: %w", err)
	}
	defer func() {
		if err := app.Close(); err != nil {
			log.Error(err, "Failed to release resources")
		}
	}()

	servers := map[string]*http.Server{
		"session-api": adk.Server(cfg.Server.Addr, app.Handler()),
	}
	if !so.noCRM {
		servers["crm"] = adk.Server(cfg.Server.CRMAddr, app.CRMHandler())
	}
	if !so.noMCP {
		h, err := app.MCPHandler()
		if err != nil {
			return fmt.Errorf("failed to create MCP server: %w", err)
		}
		servers["mcp"] = adk.Server(cfg.Server.MCPAddr, h)
	}

	g, gctx := errgroup.WithContext(ctx)
	for name, srv := range servers {
		g.Go(func() error {
			log.Info("Listening", "server", name, "addr", srv.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("%s server failed: %w", name, err)
			}
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		log.Info("Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		var errs []error
		for name, srv := range servers {
			if err := srv.Shutdown(shutdownCtx); err != nil {
				errs = append(errs, fmt.Errorf("%s shutdown: %w", name, err))
			}
		}
		return errors.Join(errs...)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	log.Info("Agent stopped")
	return nil
}
