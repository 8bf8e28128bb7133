package mcp

import (
	"context"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	mcpgo "github.com/mark3labs/mcp-go/mcp"

	"github.com/kagent-dev/supportagent/pkg/adk/backend"
	"github.com/kagent-dev/supportagent/pkg/adk/catalog"
)

const clientName = "supportagent"

// NewInProcessClient connects to s without a transport.
func NewInProcessClient(ctx context.Context, s *Server) (*client.Client, error) {
	c, err := client.NewInProcessClient(s.MCPServer())
	if err != nil {
		return nil, err
	}
	if err := connect(ctx, c); err != nil {
		_ = c.Close()
		return nil, err
	}
	return c, nil
}

// NewHTTPClient connects to a streamable HTTP MCP endpoint. token is sent as
// the bearer credential of every call.
func NewHTTPClient(ctx context.Context, url, token string, timeout time.Duration) (*client.Client, error) {
	opts := []transport.StreamableHTTPCOption{transport.WithHTTPTimeout(timeout)}
	if token != "" {
		opts = append(opts, transport.WithHTTPHeaders(map[string]string{"Authorization": "Bearer " + token}))
	}
	c, err := client.NewStreamableHttpClient(url, opts...)
	if err != nil {
		return nil, err
	}
	if err := connect(ctx, c); err != nil {
		_ = c.Close()
		return nil, err
	}
	return c, nil
}

func connect(ctx context.Context, c *client.Client) error {
	if err := c.Start(ctx); err != nil {
		return fmt.Errorf("failed to start MCP client: %w", err)
	}
	req := mcpgo.InitializeRequest{}
	req.Params.ProtocolVersion = mcpgo.LATEST_PROTOCOL_VERSION
	req.Params.ClientInfo = mcpgo.Implementation{Name: clientName, Version: catalog.DefaultVersion}
	if _, err := c.Initialize(ctx, req); err != nil {
		return fmt.Errorf("failed to initialize MCP session: %w", err)
	}
	return nil
}

// Discover rebuilds a published catalog from an MCP server's listing
// resource and checks that every listed action is served as a tool. It only
// reads and may be repeated.
func Discover(ctx context.Context, c *client.Client, constraint string) (*catalog.Catalog, error) {
	res, err := c.ReadResource(ctx, mcpgo.ReadResourceRequest{Params: mcpgo.ReadResourceParams{URI: ListingURI}})
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", ListingURI, err)
	}
	if len(res.Contents) == 0 {
		return nil, fmt.Errorf("resource %s is empty", ListingURI)
	}
	text, ok := mcpgo.AsTextResourceContents(res.Contents[0])
	if !ok {
		return nil, fmt.Errorf("resource %s is not text", ListingURI)
	}

	var listing backend.Listing
	if err := json.UnmarshalFromString(text.Text, &listing); err != nil {
		return nil, fmt.Errorf("failed to decode action listing: %w", err)
	}
	cat, err := backend.FromListing(listing, constraint)
	if err != nil {
		return nil, err
	}

	tools, err := c.ListTools(ctx, mcpgo.ListToolsRequest{})
	if err != nil {
		return nil, fmt.Errorf("failed to list tools: %w", err)
	}
	served := make(map[string]bool, len(tools.Tools))
	for _, t := range tools.Tools {
		served[t.Name] = true
	}
	for _, name := range cat.Names() {
		if !served[name] {
			return nil, fmt.Errorf("action %q is listed but not served as a tool", name)
		}
	}
	return cat, nil
}
