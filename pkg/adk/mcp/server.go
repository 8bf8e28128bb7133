// Package mcp serves the action catalog over the Model Context Protocol and
// rebuilds catalogs from MCP servers.
package mcp

import (
	"context"
	"fmt"
	"net/http"

	"github.com/go-logr/logr"
	jsoniter "github.com/json-iterator/go"
	mcpgo "github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kagent-dev/supportagent/pkg/adk/auth"
	"github.com/kagent-dev/supportagent/pkg/adk/backend"
	"github.com/kagent-dev/supportagent/pkg/adk/catalog"
	adkerrors "github.com/kagent-dev/supportagent/pkg/adk/errors"
	"github.com/kagent-dev/supportagent/pkg/adk/knowledge"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	// ServerName is the implementation name announced to MCP clients.
	ServerName = "supportagent-crm"
	// ListingURI is the resource holding the full catalog listing.
	ListingURI = "catalog://actions"
	// DefaultTopK is how many snippets a knowledge tool call returns.
	DefaultTopK = 2
)

// Server exposes every catalog action as an MCP tool. Calls carry the
// caller's bearer credential and are authorized against the action scope.
// Sensitive actions are listed but refused unless explicitly allowed, since
// no policy gate sits in front of this surface.
type Server struct {
	catalog        *catalog.Catalog
	resolver       auth.Resolver
	backend        backend.Backend
	store          knowledge.Store
	topK           int
	allowSensitive bool
	log            logr.Logger
	mcp            *server.MCPServer
}

// Option configures a Server.
type Option func(*Server)

// WithSensitiveActions lets callers dispatch sensitive actions directly.
func WithSensitiveActions(allow bool) Option {
	return func(s *Server) { s.allowSensitive = allow }
}

// NewServer builds the MCP server. store serves policy-query actions and may
// be nil when the catalog has none.
func NewServer(cat *catalog.Catalog, resolver auth.Resolver, b backend.Backend, store knowledge.Store, log logr.Logger, opts ...Option) (*Server, error) {
	s := &Server{
		catalog:  cat,
		resolver: resolver,
		backend:  b,
		store:    store,
		topK:     DefaultTopK,
		log:      log,
		mcp: server.NewMCPServer(ServerName, cat.Version().String(),
			server.WithToolCapabilities(false),
			server.WithResourceCapabilities(false, false),
			server.WithRecovery(),
		),
	}
	for _, opt := range opts {
		opt(s)
	}

	for _, schema := range cat.DescribeAll() {
		tool, err := toolFor(schema)
		if err != nil {
			return nil, err
		}
		s.mcp.AddTool(tool, s.handler(schema))
	}
	s.mcp.AddResource(
		mcpgo.NewResource(ListingURI, "action catalog",
			mcpgo.WithResourceDescription("Versioned listing of every action with its full schema."),
			mcpgo.WithMIMEType("application/json"),
		),
		s.readListing,
	)
	return s, nil
}

// MCPServer returns the underlying protocol server.
func (s *Server) MCPServer() *server.MCPServer { return s.mcp }

// Handler serves the protocol over streamable HTTP. The Authorization header
// of each request becomes the call credential.
func (s *Server) Handler() http.Handler {
	return server.NewStreamableHTTPServer(s.mcp,
		server.WithHTTPContextFunc(func(ctx context.Context, r *http.Request) context.Context {
			if cred, ok := auth.ParseBearer(r.Header.Get("Authorization")); ok {
				return auth.ContextWithCredential(ctx, cred)
			}
			return ctx
		}),
	)
}

func toolFor(schema catalog.ActionSchema) (mcpgo.Tool, error) {
	raw, err := json.Marshal(schema.JSONSchema())
	if err != nil {
		return mcpgo.Tool{}, err
	}
	tool := mcpgo.NewToolWithRawSchema(schema.Name, schema.Description, raw)
	readOnly := !schema.Sensitive && schema.Kind == catalog.KindPolicyQuery || schema.Endpoint != nil && schema.Endpoint.Method == http.MethodGet
	tool.Annotations = mcpgo.ToolAnnotation{
		Title:           schema.Name,
		ReadOnlyHint:    mcpgo.ToBoolPtr(readOnly),
		DestructiveHint: mcpgo.ToBoolPtr(schema.Sensitive),
		IdempotentHint:  mcpgo.ToBoolPtr(schema.Idempotent),
		OpenWorldHint:   mcpgo.ToBoolPtr(false),
	}
	return tool, nil
}

func (s *Server) readListing(_ context.Context, _ mcpgo.ReadResourceRequest) ([]mcpgo.ResourceContents, error) {
	fp, err := s.catalog.Fingerprint()
	if err != nil {
		return nil, err
	}
	data, err := json.Marshal(backend.Listing{
		Version:     s.catalog.Version().String(),
		Fingerprint: fp,
		Actions:     s.catalog.DescribeAll(),
	})
	if err != nil {
		return nil, err
	}
	return []mcpgo.ResourceContents{
		mcpgo.TextResourceContents{URI: ListingURI, MIMEType: "application/json", Text: string(data)},
	}, nil
}

func (s *Server) handler(schema catalog.ActionSchema) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
		payload, err := s.call(ctx, schema, req)
		if err != nil {
			d := adkerrors.Describe(err)
			s.log.Info("MCP tool call failed", "action", schema.Name, "code", d.Code)
			res := mcpgo.NewToolResultStructured(map[string]any{"error": d}, d.Code+": "+d.Message)
			res.IsError = true
			return res, nil
		}
		text, err := json.MarshalToString(payload)
		if err != nil {
			return nil, err
		}
		return mcpgo.NewToolResultStructured(payload, text), nil
	}
}

func (s *Server) call(ctx context.Context, schema catalog.ActionSchema, req mcpgo.CallToolRequest) (map[string]any, error) {
	cred, ok := auth.CredentialFromContext(ctx)
	if !ok {
		cred, ok = auth.ParseBearer(req.Header.Get("Authorization"))
	}
	if !ok {
		return nil, &adkerrors.InvalidCredentialError{}
	}
	principal, err := s.resolver.Resolve(ctx, cred)
	if err != nil {
		return nil, err
	}

	args, err := s.catalog.Validate(schema.Name, req.GetArguments())
	if err != nil {
		return nil, err
	}
	if d := auth.Authorize(s.log, principal, schema.RequiredScope); !d.Allowed {
		return nil, d.Err()
	}
	if schema.Sensitive && !s.allowSensitive {
		s.log.Info("Refused sensitive MCP action", "action", schema.Name, "identity", principal.Identity)
		return nil, adkerrors.New(adkerrors.ErrCodePolicyGateNotSatisfied,
			fmt.Sprintf("%s is sensitive and is only dispatched through a policy-checked agent session", schema.Name), nil)
	}

	if schema.Kind == catalog.KindPolicyQuery {
		return s.query(ctx, args)
	}
	payload, err := s.backend.Execute(ctx, schema.Name, args, principal)
	if err != nil {
		return nil, err
	}
	s.log.Info("MCP action served", "action", schema.Name, "identity", principal.Identity)
	return payload, nil
}

func (s *Server) query(ctx context.Context, args map[string]any) (map[string]any, error) {
	if s.store == nil {
		return nil, &adkerrors.StoreUnavailableError{}
	}
	text, _ := args["query"].(string)
	res, err := s.store.Query(ctx, text, s.topK)
	if err != nil {
		return nil, err
	}
	snippets, err := knowledge.Collect(res)
	if err != nil {
		return nil, err
	}
	texts := make([]any, 0, len(snippets))
	for _, sn := range snippets {
		texts = append(texts, sn.Text)
	}
	return map[string]any{"results": texts}, nil
}
