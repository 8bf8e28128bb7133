// Package adk assembles the support agent: the session API in front of the
// conversation orchestrator, plus the CRM and MCP surfaces over the action
// backend.
package adk

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-logr/logr"
	"github.com/gorilla/mux"
	jsoniter "github.com/json-iterator/go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kagent-dev/supportagent/pkg/adk/auth"
	"github.com/kagent-dev/supportagent/pkg/adk/backend"
	"github.com/kagent-dev/supportagent/pkg/adk/catalog"
	"github.com/kagent-dev/supportagent/pkg/adk/config"
	apperrors "github.com/kagent-dev/supportagent/pkg/adk/errors"
	"github.com/kagent-dev/supportagent/pkg/adk/events"
	"github.com/kagent-dev/supportagent/pkg/adk/executor"
	"github.com/kagent-dev/supportagent/pkg/adk/knowledge"
	"github.com/kagent-dev/supportagent/pkg/adk/llm"
	"github.com/kagent-dev/supportagent/pkg/adk/mcp"
	"github.com/kagent-dev/supportagent/pkg/adk/policy"
	"github.com/kagent-dev/supportagent/pkg/adk/session"
	"github.com/kagent-dev/supportagent/pkg/adk/tools"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Components are the collaborators an App is built from. Engine, Resolver
// and Store are required; the rest default to the built-in catalog and an
// in-process order book.
type Components struct {
	Engine    llm.Client
	Resolver  auth.Resolver
	Store     knowledge.Store
	Evaluator policy.Evaluator
	Catalog   *catalog.Catalog
	// Backend is what the orchestrator dispatches to. It defaults to the
	// local CRM backend.
	Backend backend.Backend
	Orders  *tools.OrderStore
}

// App represents the support agent application
type App struct {
	Config       *config.Config
	Catalog      *catalog.Catalog
	Sessions     *session.InMemoryService
	Orchestrator *executor.Orchestrator
	Registry     *prometheus.Registry
	Orders       *tools.OrderStore

	engine   llm.Client
	resolver auth.Resolver
	store    knowledge.Store
	crm      backend.Backend
	log      logr.Logger
	router   *mux.Router
	closers  []func() error
}

// NewApp wires the orchestrator and session registry from c.
func NewApp(cfg *config.Config, c Components, log logr.Logger) (*App, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if c.Engine == nil || c.Resolver == nil || c.Store == nil {
		return nil, apperrors.New(apperrors.ErrCodeAgentConfig, "engine, resolver and store are required", nil)
	}
	if c.Catalog == nil {
		c.Catalog = catalog.Default()
	}
	if c.Orders == nil {
		c.Orders = tools.NewOrderStore(tools.DefaultOrders()...)
	}
	if c.Evaluator == nil {
		eval, err := policy.NewCELEvaluator(cfg.Rules())
		if err != nil {
			return nil, apperrors.New(apperrors.ErrCodeAgentConfig, "invalid policy rules", err)
		}
		c.Evaluator = eval
	}

	crm, err := backend.NewDefaultLocalBackend(c.Catalog, c.Orders, log.WithName("crm"))
	if err != nil {
		return nil, apperrors.New(apperrors.ErrCodeAgentConfig, "failed to build CRM backend", err)
	}
	if c.Backend == nil {
		c.Backend = crm
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	a := &App{
		Config:   cfg,
		Catalog:  c.Catalog,
		Registry: reg,
		Orders:   c.Orders,
		engine:   c.Engine,
		resolver: c.Resolver,
		store:    c.Store,
		crm:      crm,
		log:      log,
	}

	gkOpts := []policy.Option{
		policy.WithTopK(cfg.Knowledge.TopK),
		policy.WithTTL(cfg.Policy.TTL),
		policy.WithLogger(log.WithName("gatekeeper")),
	}
	if len(cfg.Policy.Keywords) > 0 {
		gkOpts = append(gkOpts, policy.WithMatcher(policy.AnyMatcher{
			policy.TagMatcher{},
			policy.KeywordMatcher{Keywords: cfg.Policy.Keywords},
		}))
	}
	a.Sessions = session.NewInMemoryService(c.Resolver, func() *policy.Gatekeeper {
		return policy.NewGatekeeper(c.Store, c.Evaluator, gkOpts...)
	}, log.WithName("sessions"))

	opts := []executor.Option{
		executor.WithMaxRounds(cfg.Agent.MaxRounds),
		executor.WithTimeouts(cfg.Model.Timeout, cfg.Backend.Timeout, cfg.Knowledge.Timeout),
		executor.WithMetrics(executor.NewMetrics(reg)),
		executor.WithLogger(log.WithName("orchestrator")),
	}
	if cfg.Agent.Instruction != "" {
		opts = append(opts, executor.WithInstruction(cfg.Agent.Instruction))
	}
	a.Orchestrator = executor.New(c.Catalog, c.Engine, c.Backend, opts...)

	a.router = mux.NewRouter()
	a.setupRoutes()
	return a, nil
}

// OnClose registers cleanup run by Close in reverse order.
func (a *App) OnClose(fn func() error) {
	a.closers = append(a.closers, fn)
}

// Close releases resources acquired while building the app.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Handler returns the session API.
func (a *App) Handler() http.Handler {
	return a.router
}

// CRMHandler serves the order book as the HTTP action backend.
func (a *App) CRMHandler() http.Handler {
	return backend.NewServer(a.Catalog, a.resolver, a.crm, a.log.WithName("crm-server")).Handler()
}

// MCPHandler serves the catalog as MCP tools over streamable HTTP.
func (a *App) MCPHandler() (http.Handler, error) {
	s, err := mcp.NewServer(a.Catalog, a.resolver, a.crm, a.store, a.log.WithName("mcp"),
		mcp.WithSensitiveActions(a.Config.Server.MCPSensitive))
	if err != nil {
		return nil, err
	}
	return s.Handler(), nil
}

// Server wraps a handler with the listener timeouts used for every surface.
// Message turns may take several engine rounds, so writes are not bounded.
func Server(addr string, h http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 15 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       2 * time.Minute,
	}
}

func (a *App) setupRoutes() {
	a.router.HandleFunc("/health", a.handleHealth).Methods("GET")
	a.router.HandleFunc("/info", a.handleInfo).Methods("GET")
	a.router.Handle("/metrics", promhttp.HandlerFor(a.Registry, promhttp.HandlerOpts{})).Methods("GET")

	api := a.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/sessions", a.handleCreateSession).Methods("POST")
	api.HandleFunc("/sessions", a.handleListSessions).Methods("GET")
	api.HandleFunc("/sessions/{id}", a.handleGetSession).Methods("GET")
	api.HandleFunc("/sessions/{id}", a.handleDeleteSession).Methods("DELETE")
	api.HandleFunc("/sessions/{id}/turns", a.handleTurns).Methods("GET")
	api.HandleFunc("/sessions/{id}/messages", a.handleSendMessage).Methods("POST")
}

func (a *App) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
		"app":    a.Config.Agent.Name,
	})
}

func (a *App) handleInfo(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"app_name":        a.Config.Agent.Name,
		"description":     a.Config.Agent.Description,
		"model":           a.engine.ModelName(),
		"model_type":      a.Config.Model.Type,
		"catalog_version": a.Catalog.Version().String(),
		"actions":         a.Catalog.Names(),
		"sessions":        a.Sessions.Len(),
	})
}

func (a *App) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req session.CreateSessionRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, apperrors.New(apperrors.ErrCodeInvalidInput, "invalid JSON body", err))
			return
		}
	}
	if req.Token == "" {
		if cred, ok := auth.ParseBearer(r.Header.Get("Authorization")); ok {
			req.Token = cred.Token
		}
	}

	sess, err := a.Sessions.CreateSession(r.Context(), &req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, sess.View(false))
}

func (a *App) handleListSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := a.Sessions.ListSessions(r.Context(), r.URL.Query().Get("user_id"))
	if err != nil {
		writeError(w, err)
		return
	}
	views := make([]session.View, 0, len(sessions))
	for _, s := range sessions {
		views = append(views, s.View(false))
	}
	writeJSON(w, http.StatusOK, views)
}

// lockedSession resolves the path session and takes its turn lock.
func (a *App) lockedSession(r *http.Request) (*session.Session, error) {
	sess, err := a.Sessions.GetSession(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		return nil, err
	}
	if err := sess.Acquire(r.Context()); err != nil {
		return nil, err
	}
	return sess, nil
}

func (a *App) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, err := a.lockedSession(r)
	if err != nil {
		writeError(w, err)
		return
	}
	view := sess.View(true)
	sess.Release()
	writeJSON(w, http.StatusOK, view)
}

func (a *App) handleTurns(w http.ResponseWriter, r *http.Request) {
	since := 0
	if s := r.URL.Query().Get("since"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			writeError(w, apperrors.New(apperrors.ErrCodeInvalidInput, "since must be a non-negative integer", err))
			return
		}
		since = n
	}
	sess, err := a.lockedSession(r)
	if err != nil {
		writeError(w, err)
		return
	}
	turns := sess.State.Since(since)
	sess.Release()
	if turns == nil {
		turns = []session.Turn{}
	}
	writeJSON(w, http.StatusOK, turns)
}

func (a *App) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	if err := a.Sessions.DeleteSession(r.Context(), mux.Vars(r)["id"]); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *App) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	sess, err := a.Sessions.GetSession(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	var req session.SendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Message == "" {
		writeError(w, apperrors.New(apperrors.ErrCodeInvalidInput, "a non-empty message is required", err))
		return
	}

	ctx := r.Context()
	if d := a.Config.Agent.TurnTimeout; d > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}

	if r.URL.Query().Get("stream") == "true" {
		a.streamMessage(ctx, w, sess, req.Message)
		return
	}

	result, err := a.Orchestrator.Run(ctx, sess, req.Message, nil)
	if err != nil && !errors.Is(err, executor.ErrMaxRounds) {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, session.SendMessageResponse{
		SessionID: sess.ID,
		Message:   result.Message,
		Rounds:    result.Rounds,
		Turns:     result.Turns,
	})
}

// streamMessage runs the turn and writes one StatusUpdate per line.
func (a *App) streamMessage(ctx context.Context, w http.ResponseWriter, sess *session.Session, message string) {
	ch := make(chan *events.Event, 16)
	sink := events.SinkFunc(func(e *events.Event) {
		select {
		case ch <- e:
		case <-ctx.Done():
		}
	})

	done := make(chan struct{})
	go func() {
		defer close(done)
		defer close(ch)
		if _, err := a.Orchestrator.Run(ctx, sess, message, sink); err != nil {
			a.log.Info("Streamed turn failed", "session", sess.ID, "error", err.Error())
		}
	}()

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.WriteHeader(http.StatusOK)
	flusher, _ := w.(http.Flusher)
	enc := json.NewEncoder(w)
	updates := events.KeepAlive(logr.NewContext(ctx, a.log), events.Stream(ctx, ch), sess.ID, a.Config.Agent.KeepAlive)
	broken := false
	for u := range updates {
		if broken {
			continue
		}
		if err := enc.Encode(u); err != nil {
			a.log.V(1).Info("Stream client went away", "session", sess.ID, "error", err.Error())
			broken = true
			continue
		}
		if flusher != nil {
			flusher.Flush()
		}
	}
	<-done
}

type errorBody struct {
	Error apperrors.Descriptor `json:"error"`
}

func statusFor(err error) int {
	if errors.Is(err, context.DeadlineExceeded) {
		return http.StatusGatewayTimeout
	}
	switch apperrors.CodeOf(err) {
	case apperrors.ErrCodeNotFound:
		return http.StatusNotFound
	case apperrors.ErrCodeInvalidCredential:
		return http.StatusUnauthorized
	case apperrors.ErrCodeAuthorizationDenied:
		return http.StatusForbidden
	case apperrors.ErrCodeInvalidInput, apperrors.ErrCodeSessionCreate:
		return http.StatusBadRequest
	case apperrors.ErrCodeEngineFailed:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, statusFor(err), errorBody{Error: apperrors.Describe(err)})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
