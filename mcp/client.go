// Package mcp connects to Model Context Protocol servers and exposes their
// tools to the pipeline's tool registry.
package mcp

import (
	"context"

	mcpgo "github.com/mark3labs/mcp-go/mcp"
	"github.com/samber/lo"
)

// ToolDefinition represents an MCP tool definition.
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"inputSchema"`
}

// Client is the interface for interacting with MCP servers.
type Client interface {
	// Start initializes and starts the MCP client connection.
	Start(ctx context.Context) error

	// ListTools returns all tools available from the MCP server.
	ListTools(ctx context.Context) ([]ToolDefinition, error)

	// InvokeTool invokes a tool on the MCP server with the given input.
	InvokeTool(ctx context.Context, name string, input map[string]any) (map[string]any, error)

	// Close closes the connection to the MCP server.
	Close() error
}

const clientName = "turnstile"
const clientVersion = "1.0.0"

func toToolDefinitions(raw []mcpgo.Tool) []ToolDefinition {
	return lo.Map(raw, func(tool mcpgo.Tool, _ int) ToolDefinition {
		inputSchema := map[string]any{"type": tool.InputSchema.Type}
		if tool.InputSchema.Properties != nil {
			inputSchema["properties"] = tool.InputSchema.Properties
		}
		if len(tool.InputSchema.Required) > 0 {
			inputSchema["required"] = tool.InputSchema.Required
		}
		if len(tool.InputSchema.Defs) > 0 {
			inputSchema["$defs"] = tool.InputSchema.Defs
		}

		return ToolDefinition{
			Name:        tool.Name,
			Description: tool.Description,
			InputSchema: inputSchema,
		}
	})
}

// decodeCallResult flattens an MCP call result into a plain map the pipeline
// can fold into the conversation.
func decodeCallResult(result *mcpgo.CallToolResult) map[string]any {
	output := make(map[string]any)
	if len(result.Content) > 0 {
		var texts []string
		for _, content := range result.Content {
			if textContent, ok := mcpgo.AsTextContent(content); ok {
				texts = append(texts, textContent.Text)
			} else if contentStr := mcpgo.GetTextFromContent(content); contentStr != "" {
				texts = append(texts, contentStr)
			}
		}
		switch len(texts) {
		case 0:
		case 1:
			output["text"] = texts[0]
		default:
			output["text"] = texts
		}
	}

	if result.IsError {
		output["error"] = true
		if len(result.Content) > 0 {
			if textContent, ok := mcpgo.AsTextContent(result.Content[0]); ok {
				output["error_message"] = textContent.Text
			}
		}
	}

	return output
}
