package mcp

import (
	"context"
	"fmt"
	"net/url"

	"github.com/mark3labs/mcp-go/client"
	mcpgo "github.com/mark3labs/mcp-go/mcp"
	"github.com/rs/zerolog"
)

// HTTPClient implements Client for HTTP transport.
type HTTPClient struct {
	client  *client.Client
	baseURL string
	logger  zerolog.Logger
}

// NewHTTPClient creates a new HTTP MCP client.
func NewHTTPClient(logger zerolog.Logger, baseURL string) (*HTTPClient, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("baseURL is required for HTTP MCP client")
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("invalid baseURL: %w", err)
	}

	mcpClient, err := client.NewStreamableHttpClient(baseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP MCP client: %w", err)
	}

	return &HTTPClient{
		client:  mcpClient,
		baseURL: baseURL,
		logger:  logger.With().Str("component", "mcpHTTPClient").Str("baseURL", baseURL).Logger(),
	}, nil
}

// Start initializes the MCP client connection. Some servers initialize as part
// of Start; older ones need an explicit Initialize handshake first, so on
// failure each known protocol version is tried before giving up.
func (c *HTTPClient) Start(ctx context.Context) error {
	if err := c.client.Start(ctx); err == nil {
		c.logger.Info().Msg("MCP client started")
		return nil
	}

	protocolVersions := []string{
		"2024-11-05",
		mcpgo.LATEST_PROTOCOL_VERSION,
	}

	var lastErr error
	for _, protocolVersion := range protocolVersions {
		initReq := mcpgo.InitializeRequest{
			Params: mcpgo.InitializeParams{
				ProtocolVersion: protocolVersion,
				Capabilities:    mcpgo.ClientCapabilities{},
				ClientInfo: mcpgo.Implementation{
					Name:    clientName,
					Version: clientVersion,
				},
			},
		}

		if _, err := c.client.Initialize(ctx, initReq); err != nil {
			lastErr = err
			c.logger.Warn().Str("protocolVersion", protocolVersion).Err(err).Msg("Initialize failed, trying next protocol version")
			continue
		}
		if err := c.client.Start(ctx); err != nil {
			lastErr = err
			continue
		}

		c.logger.Info().Str("protocolVersion", protocolVersion).Msg("MCP client started after explicit initialization")
		return nil
	}

	return fmt.Errorf("failed to start HTTP MCP client: %w", lastErr)
}

// ListTools returns all tools available from the MCP server.
func (c *HTTPClient) ListTools(ctx context.Context) ([]ToolDefinition, error) {
	result, err := c.client.ListTools(ctx, mcpgo.ListToolsRequest{})
	if err != nil {
		return nil, fmt.Errorf("failed to list tools: %w", err)
	}
	c.logger.Debug().Int("toolCount", len(result.Tools)).Msg("Received tools from MCP server")
	return toToolDefinitions(result.Tools), nil
}

// InvokeTool invokes a tool on the MCP server.
func (c *HTTPClient) InvokeTool(ctx context.Context, name string, input map[string]any) (map[string]any, error) {
	req := mcpgo.CallToolRequest{
		Params: mcpgo.CallToolParams{
			Name:      name,
			Arguments: input,
		},
	}

	result, err := c.client.CallTool(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("failed to invoke tool %s: %w", name, err)
	}
	return decodeCallResult(result), nil
}

// Close closes the connection to the MCP server.
func (c *HTTPClient) Close() error {
	if c.client != nil {
		return c.client.Close()
	}
	return nil
}
