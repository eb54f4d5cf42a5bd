package mcp

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/turnstile-ai/turnstile/config"
	"github.com/turnstile-ai/turnstile/llm"
	"github.com/turnstile-ai/turnstile/tools"
)

// Manager owns the connections to configured MCP servers and registers their
// tools into the tool registry under provider-safe names.
type Manager struct {
	clients []Client
	adapter *NameAdapter
	logger  zerolog.Logger
}

// NewManager creates an MCP manager.
func NewManager(logger zerolog.Logger) *Manager {
	return &Manager{
		adapter: NewNameAdapter(),
		logger:  logger.With().Str("component", "mcpManager").Logger(),
	}
}

// Connect starts a client for each configured server and registers its tools.
// A server that fails to start is logged and skipped; the rest still load.
func (m *Manager) Connect(ctx context.Context, servers map[string]*config.MCPServerConfig, registry *tools.Registry) error {
	for name, serverCfg := range servers {
		if serverCfg == nil {
			continue
		}
		client, err := m.buildClient(serverCfg)
		if err != nil {
			m.logger.Error().Str("server", name).Err(err).Msg("Failed to create MCP client")
			continue
		}
		if err := client.Start(ctx); err != nil {
			m.logger.Error().Str("server", name).Err(err).Msg("Failed to start MCP client")
			continue
		}
		m.clients = append(m.clients, client)

		if err := m.registerTools(ctx, name, client, registry); err != nil {
			m.logger.Error().Str("server", name).Err(err).Msg("Failed to register MCP tools")
		}
	}
	return nil
}

func (m *Manager) buildClient(cfg *config.MCPServerConfig) (Client, error) {
	switch {
	case cfg.URL != "":
		return NewHTTPClient(m.logger, cfg.URL)
	case cfg.Command != "":
		return NewStdioClient(m.logger, cfg.Command, cfg.Args, cfg.Env)
	default:
		return nil, fmt.Errorf("MCP server config needs either url or command")
	}
}

func (m *Manager) registerTools(ctx context.Context, serverName string, client Client, registry *tools.Registry) error {
	defs, err := client.ListTools(ctx)
	if err != nil {
		return err
	}

	for _, def := range defs {
		safeName := m.adapter.GetSafeName(def.Name)
		spec := llm.ToolSpec{
			Name:        safeName,
			Description: def.Description,
			Schema:      toToolSchema(def.InputSchema),
		}
		registry.RegisterMCPTool(spec, def.Name, client)
		m.logger.Info().Str("server", serverName).Str("tool", safeName).Msg("Registered MCP tool")
	}
	return nil
}

// toToolSchema lifts the well-known schema fields out of the raw MCP input
// schema; anything else rides along in ExtraFields.
func toToolSchema(raw map[string]any) llm.ToolSchema {
	schema := llm.ToolSchema{Type: "object"}
	extra := make(map[string]any)
	for key, value := range raw {
		switch key {
		case "type":
			if t, ok := value.(string); ok {
				schema.Type = t
			}
		case "properties":
			if props, ok := value.(map[string]any); ok {
				schema.Properties = props
			}
		case "required":
			switch req := value.(type) {
			case []string:
				schema.Required = req
			case []any:
				for _, item := range req {
					if s, ok := item.(string); ok {
						schema.Required = append(schema.Required, s)
					}
				}
			}
		default:
			extra[key] = value
		}
	}
	if len(extra) > 0 {
		schema.ExtraFields = extra
	}
	return schema
}

// Close shuts down all server connections.
func (m *Manager) Close() {
	for _, client := range m.clients {
		if err := client.Close(); err != nil {
			m.logger.Warn().Err(err).Msg("Error closing MCP client")
		}
	}
	m.clients = nil
}
