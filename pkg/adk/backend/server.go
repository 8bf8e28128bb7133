package backend

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/go-logr/logr"
	"github.com/gorilla/mux"

	"github.com/kagent-dev/supportagent/pkg/adk/auth"
	"github.com/kagent-dev/supportagent/pkg/adk/catalog"
	adkerrors "github.com/kagent-dev/supportagent/pkg/adk/errors"
)

// Listing is the discovery document served on GET /actions.
type Listing struct {
	Version     string                 `json:"version"`
	Fingerprint string                 `json:"fingerprint"`
	Actions     []catalog.ActionSchema `json:"actions"`
}

// Server is the CRM API. Every backend action with an endpoint is routed;
// requests need a bearer credential holding the action's scope.
type Server struct {
	catalog  *catalog.Catalog
	resolver auth.Resolver
	backend  Backend
	log      logr.Logger
	router   *mux.Router
}

// NewServer creates the CRM API over an in-process backend.
func NewServer(cat *catalog.Catalog, resolver auth.Resolver, b Backend, log logr.Logger) *Server {
	s := &Server{
		catalog:  cat,
		resolver: resolver,
		backend:  b,
		log:      log,
		router:   mux.NewRouter(),
	}
	s.setupRoutes()
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Router exposes the router so callers can mount more routes.
func (s *Server) Router() *mux.Router {
	return s.router
}

func (s *Server) setupRoutes() {
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
	s.router.HandleFunc("/actions", s.handleActions).Methods("GET")

	for _, schema := range s.catalog.DescribeAll() {
		if schema.Kind != catalog.KindBackend || schema.Endpoint == nil {
			continue
		}
		s.router.Handle(schema.Endpoint.Path, s.actionHandler(schema)).Methods(strings.ToUpper(schema.Endpoint.Method))
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (s *Server) handleActions(w http.ResponseWriter, _ *http.Request) {
	fp, err := s.catalog.Fingerprint()
	if err != nil {
		writeDetail(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, Listing{
		Version:     s.catalog.Version().String(),
		Fingerprint: fp,
		Actions:     s.catalog.DescribeAll(),
	})
}

func (s *Server) actionHandler(schema catalog.ActionSchema) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		cred, ok := auth.ParseBearer(r.Header.Get("Authorization"))
		if !ok {
			writeDetail(w, http.StatusUnauthorized, "Invalid Authentication Token")
			return
		}
		principal, err := s.resolver.Resolve(r.Context(), cred)
		if err != nil {
			writeDetail(w, http.StatusUnauthorized, "Invalid Authentication Token")
			return
		}
		if d := auth.Authorize(s.log, principal, schema.RequiredScope); !d.Allowed {
			writeDetail(w, http.StatusForbidden, d.Err().Error())
			return
		}

		raw, err := requestArgs(r)
		if err != nil {
			writeDetail(w, http.StatusBadRequest, err.Error())
			return
		}
		args, err := s.catalog.Validate(schema.Name, raw)
		if err != nil {
			writeDetail(w, http.StatusUnprocessableEntity, err.Error())
			return
		}

		payload, err := s.backend.Execute(r.Context(), schema.Name, args, principal)
		if err != nil {
			s.writeError(w, err)
			return
		}
		s.log.Info("Action served", "action", schema.Name, "identity", principal.Identity)
		writeJSON(w, http.StatusOK, payload)
	}
}

func requestArgs(r *http.Request) (map[string]any, error) {
	args := map[string]any{}
	if r.Body != nil && r.ContentLength != 0 {
		data, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
		if err != nil {
			return nil, fmt.Errorf("failed to read body: %w", err)
		}
		if len(strings.TrimSpace(string(data))) > 0 {
			if err := json.Unmarshal(data, &args); err != nil {
				return nil, fmt.Errorf("invalid JSON body: %w", err)
			}
		}
	}
	for k, v := range r.URL.Query() {
		if len(v) > 0 {
			args[k] = v[0]
		}
	}
	for k, v := range mux.Vars(r) {
		args[k] = v
	}
	return args, nil
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	var notFound *adkerrors.NotFoundError
	if errors.As(err, &notFound) {
		kind := notFound.Kind
		if kind == "" {
			kind = "resource"
		}
		writeDetail(w, http.StatusNotFound, strings.ToUpper(kind[:1])+kind[1:]+" not found")
		return
	}

	switch adkerrors.CodeOf(err) {
	case adkerrors.ErrCodeConflict:
		writeDetail(w, http.StatusConflict, err.Error())
	case adkerrors.ErrCodeAuthorizationDenied:
		writeDetail(w, http.StatusForbidden, err.Error())
	case adkerrors.ErrCodeInvalidCredential:
		writeDetail(w, http.StatusUnauthorized, "Invalid Authentication Token")
	default:
		s.log.Error(err, "Action failed")
		writeDetail(w, http.StatusInternalServerError, "internal error")
	}
}

func writeDetail(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, errorBody{Detail: detail})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
