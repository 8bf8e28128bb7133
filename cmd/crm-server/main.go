// Command crm-server runs the order book behind the agent's HTTP backend
// mode: the catalog actions over plain HTTP plus the same actions as MCP
// tools. No reasoning engine is involved.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/viper"
	_ "go.uber.org/automaxprocs"

	"github.com/kagent-dev/supportagent/pkg/adk"
	"github.com/kagent-dev/supportagent/pkg/adk/backend"
	"github.com/kagent-dev/supportagent/pkg/adk/catalog"
	"github.com/kagent-dev/supportagent/pkg/adk/config"
	"github.com/kagent-dev/supportagent/pkg/adk/knowledge"
	"github.com/kagent-dev/supportagent/pkg/adk/logging"
	"github.com/kagent-dev/supportagent/pkg/adk/mcp"
	"github.com/kagent-dev/supportagent/pkg/adk/tools"
)

func main() {
	// Parse command line arguments
	configPath := ""
	if len(os.Args) > 1 {
		configPath = os.Args[1]
	}

	if err := run(configPath); err != nil {
		fmt.Fprintf(os.Stderr, "crm-server: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(viper.New(), configPath)
	if err != nil {
		return err
	}
	logger := logging.New(cfg.Logging, nil)
	defer logger.Sync()
	log := logger.WithName("crm-server")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	resolver, err := adk.BuildResolver(cfg, logger.Logger)
	if err != nil {
		return err
	}

	repo, err := knowledge.OpenRepository(cfg.Knowledge.Driver, cfg.Knowledge.DSN, logger.WithName("knowledge"))
	if err != nil {
		return err
	}
	defer repo.Close()
	index, err := adk.LoadKnowledge(ctx, repo, cfg.Knowledge, logger.Logger)
	if err != nil {
		return err
	}
	defer index.Close()

	cat := catalog.Default()
	crm, err := backend.NewDefaultLocalBackend(cat, tools.NewOrderStore(tools.DefaultOrders()...), logger.WithName("orders"))
	if err != nil {
		return err
	}
	mcpServer, err := mcp.NewServer(cat, resolver, crm, index, logger.WithName("mcp"),
		mcp.WithSensitiveActions(cfg.Server.MCPSensitive))
	if err != nil {
		return err
	}

	servers := []*http.Server{
		adk.Server(cfg.Server.CRMAddr, backend.NewServer(cat, resolver, crm, log).Handler()),
		adk.Server(cfg.Server.MCPAddr, mcpServer.Handler()),
	}

	errChan := make(chan error, len(servers))
	for _, srv := range servers {
		go func() {
			log.Info("HTTP server listening", "addr", srv.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errChan <- err
			}
		}()
	}

	// Wait for shutdown signal or a listener failure
	var runErr error
	select {
	case <-ctx.Done():
		log.Info("Shutdown signal received, gracefully stopping")
	case runErr = <-errChan:
		log.Error(runErr, "HTTP server failed")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for _, srv := range servers {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error(err, "HTTP server shutdown error", "addr", srv.Addr)
		}
	}

	log.Info("Shutdown complete")
	return runErr
}
