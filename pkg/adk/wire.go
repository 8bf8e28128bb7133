package adk

import (
	"context"
	"fmt"
	"time"

	"github.com/go-logr/logr"
	"golang.org/x/time/rate"

	"github.com/kagent-dev/supportagent/pkg/adk/auth"
	"github.com/kagent-dev/supportagent/pkg/adk/backend"
	"github.com/kagent-dev/supportagent/pkg/adk/catalog"
	"github.com/kagent-dev/supportagent/pkg/adk/config"
	apperrors "github.com/kagent-dev/supportagent/pkg/adk/errors"
	"github.com/kagent-dev/supportagent/pkg/adk/knowledge"
	"github.com/kagent-dev/supportagent/pkg/adk/llm"
)

// Build assembles an App from configuration: the credential table, the
// policy store, the catalog, the action backend and the reasoning engine.
func Build(ctx context.Context, cfg *config.Config, log logr.Logger) (*App, error) {
	var closers []func() error
	fail := func(err error) (*App, error) {
		for i := len(closers) - 1; i >= 0; i-- {
			_ = closers[i]()
		}
		return nil, err
	}

	resolver, err := BuildResolver(cfg, log)
	if err != nil {
		return fail(err)
	}

	repo, err := knowledge.OpenRepository(cfg.Knowledge.Driver, cfg.Knowledge.DSN, log.WithName("knowledge"))
	if err != nil {
		return fail(apperrors.New(apperrors.ErrCodeAgentConfig, "failed to open policy store", err))
	}
	closers = append(closers, repo.Close)
	index, err := LoadKnowledge(ctx, repo, cfg.Knowledge, log)
	if err != nil {
		return fail(err)
	}

	cat := catalog.Default()
	var b backend.Backend
	if cfg.Backend.Mode == config.BackendHTTP {
		if cfg.Backend.Discover {
			cat, err = backend.DiscoverCatalog(ctx, nil, cfg.Backend.URL, cfg.Backend.CatalogVersion)
			if err != nil {
				return fail(fmt.Errorf("catalog discovery failed: %w", err))
			}
			log.Info("Discovered catalog", "url", cfg.Backend.URL, "version", cat.Version().String(), "actions", cat.Len())
		}
		creds, stop, err := backendCredentials(ctx, cfg.Backend, log)
		if err != nil {
			return fail(err)
		}
		if stop != nil {
			closers = append(closers, stop)
		}
		hb, err := backend.NewHTTPBackend(cfg.Backend.URL, cat, backend.HTTPOptions{
			Timeout:     cfg.Backend.Timeout,
			MaxRetries:  uint(cfg.Backend.MaxRetries),
			RateLimit:   rate.Limit(cfg.Backend.RateLimit),
			Burst:       cfg.Backend.Burst,
			AgentName:   cfg.Agent.Name,
			Credentials: creds,
			Logger:      log.WithName("backend"),
		})
		if err != nil {
			return fail(apperrors.New(apperrors.ErrCodeAgentConfig, "invalid backend configuration", err))
		}
		if err := probeBackend(ctx, hb, cfg.Backend.Timeout); err != nil {
			return fail(err)
		}
		b = hb
	}

	modelCfg, err := cfg.Model.Build()
	if err != nil {
		return fail(err)
	}
	engine, err := llm.NewClientFromConfig(modelCfg)
	if err != nil {
		return fail(err)
	}

	app, err := NewApp(cfg, Components{
		Engine:   engine,
		Resolver: resolver,
		Store:    index,
		Catalog:  cat,
		Backend:  b,
	}, log)
	if err != nil {
		return fail(err)
	}
	for _, c := range closers {
		app.OnClose(c)
	}
	return app, nil
}

// probeBackend refuses to start against a backend that does not answer its
// health check within timeout.
func probeBackend(ctx context.Context, b *backend.HTTPBackend, timeout time.Duration) error {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	if err := b.Probe(ctx); err != nil {
		return fmt.Errorf("action backend unreachable at startup: %w", err)
	}
	return nil
}

// BuildResolver returns the credential table, chained with a JWT resolver
// when a signing secret is configured.
func BuildResolver(cfg *config.Config, log logr.Logger) (auth.Resolver, error) {
	gate := auth.NewGate(cfg.Grants(), log.WithName("auth"))
	if cfg.Auth.JWT.Secret == "" {
		return gate, nil
	}
	jwtResolver, err := auth.NewJWTResolver([]byte(cfg.Auth.JWT.Secret), cfg.Auth.JWT.Issuer, cfg.Auth.JWT.Audience, log.WithName("jwt"))
	if err != nil {
		return nil, apperrors.New(apperrors.ErrCodeAgentConfig, "invalid jwt configuration", err)
	}
	return auth.ChainResolver{gate, jwtResolver}, nil
}

// LoadKnowledge seeds an empty collection, from the documents file when one
// is configured or the built-in policies otherwise, and indexes it.
func LoadKnowledge(ctx context.Context, repo *knowledge.Repository, cfg config.KnowledgeConfig, log logr.Logger) (*knowledge.Index, error) {
	n, err := repo.Count(ctx, cfg.Collection)
	if err != nil {
		return nil, &apperrors.StoreUnavailableError{Cause: err}
	}
	if n == 0 {
		docs := knowledge.DefaultDocuments()
		if cfg.DocumentsFile != "" {
			if docs, err = knowledge.LoadDocumentsFile(cfg.DocumentsFile); err != nil {
				return nil, err
			}
		}
		if err := repo.Ingest(ctx, cfg.Collection, docs); err != nil {
			return nil, err
		}
	}
	index, err := knowledge.LoadIndex(ctx, repo, cfg.Collection)
	if err != nil {
		return nil, err
	}
	log.Info("Policy index loaded", "collection", cfg.Collection, "documents", index.Len())
	return index, nil
}

// backendCredentials picks the agent's fallback backend credential: a static
// token, or a token file refreshed in the background.
func backendCredentials(ctx context.Context, cfg config.BackendConfig, log logr.Logger) (auth.CredentialSource, func() error, error) {
	switch {
	case cfg.Token != "":
		return auth.StaticCredential{Token: cfg.Token}, nil, nil
	case cfg.TokenFile != "":
		ts := auth.NewTokenService("supportagent", cfg.TokenFile, log.WithName("token"))
		if err := ts.Start(ctx); err != nil {
			return nil, nil, err
		}
		return ts, func() error { ts.Stop(); return nil }, nil
	default:
		return nil, nil, nil
	}
}
