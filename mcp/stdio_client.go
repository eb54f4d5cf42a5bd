package mcp

import (
	"context"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/client"
	mcpgo "github.com/mark3labs/mcp-go/mcp"
	"github.com/rs/zerolog"
)

// StdioClient implements Client for STDIO transport.
type StdioClient struct {
	client  *client.Client
	command string
	logger  zerolog.Logger
}

// NewStdioClient creates a new STDIO MCP client. The command string may carry
// its own arguments; extra args are appended after them.
func NewStdioClient(logger zerolog.Logger, command string, args, env []string) (*StdioClient, error) {
	if command == "" {
		return nil, fmt.Errorf("command is required for STDIO MCP client")
	}

	parts := strings.Fields(command)
	cmd := parts[0]
	cmdArgs := append(parts[1:], args...)

	mcpClient, err := client.NewStdioMCPClient(cmd, env, cmdArgs...)
	if err != nil {
		return nil, fmt.Errorf("failed to create stdio MCP client: %w", err)
	}

	return &StdioClient{
		client:  mcpClient,
		command: cmd,
		logger:  logger.With().Str("component", "mcpStdioClient").Str("command", cmd).Logger(),
	}, nil
}

// Start initializes the MCP client connection. Initialize and Start run in
// goroutines so a hung server process cannot block past the context deadline.
func (c *StdioClient) Start(ctx context.Context) error {
	initReq := mcpgo.InitializeRequest{
		Params: mcpgo.InitializeParams{
			ProtocolVersion: mcpgo.LATEST_PROTOCOL_VERSION,
			Capabilities:    mcpgo.ClientCapabilities{},
			ClientInfo: mcpgo.Implementation{
				Name:    clientName,
				Version: clientVersion,
			},
		},
	}

	initDone := make(chan error, 1)
	go func() {
		_, initErr := c.client.Initialize(ctx, initReq)
		initDone <- initErr
	}()

	select {
	case err := <-initDone:
		if err != nil {
			return fmt.Errorf("failed to initialize MCP client: %w", err)
		}
	case <-ctx.Done():
		return fmt.Errorf("context cancelled during initialize: %w", ctx.Err())
	}

	startDone := make(chan error, 1)
	go func() {
		startDone <- c.client.Start(ctx)
	}()

	select {
	case err := <-startDone:
		if err != nil {
			return fmt.Errorf("failed to start MCP client: %w", err)
		}
	case <-ctx.Done():
		return fmt.Errorf("context cancelled during start: %w", ctx.Err())
	}

	c.logger.Info().Msg("MCP client started")
	return nil
}

// ListTools returns all tools available from the MCP server.
func (c *StdioClient) ListTools(ctx context.Context) ([]ToolDefinition, error) {
	result, err := c.client.ListTools(ctx, mcpgo.ListToolsRequest{})
	if err != nil {
		return nil, fmt.Errorf("failed to list tools: %w", err)
	}
	c.logger.Debug().Int("toolCount", len(result.Tools)).Msg("Received tools from MCP server")
	return toToolDefinitions(result.Tools), nil
}

// InvokeTool invokes a tool on the MCP server.
func (c *StdioClient) InvokeTool(ctx context.Context, name string, input map[string]any) (map[string]any, error) {
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
func (c *StdioClient) Close() error {
	if c.client != nil {
		return c.client.Close()
	}
	return nil
}
