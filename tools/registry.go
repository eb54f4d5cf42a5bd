// Package tools holds the tool registry and the executor the pipeline uses
// to run model-requested tool calls against external integrations.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/rs/zerolog"
	"github.com/samber/lo"
	"github.com/turnstile-ai/turnstile/llm"
)

// Handler handles a tool call for a specific agent.
type Handler func(ctx context.Context, agentID string, args json.RawMessage) (any, error)

// Registry maps tool names to handlers and their schemas.
type Registry struct {
	handlers map[string]Handler
	specs    map[string]llm.ToolSpec
	logger   zerolog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger zerolog.Logger) *Registry {
	return &Registry{
		handlers: make(map[string]Handler),
		specs:    make(map[string]llm.ToolSpec),
		logger:   logger.With().Str("component", "toolRegistry").Logger(),
	}
}

// Register registers a handler and its schema under the spec's name.
func (r *Registry) Register(spec llm.ToolSpec, h Handler) {
	r.logger.Debug().Str("name", spec.Name).Msg("Registering tool handler")
	r.handlers[spec.Name] = h
	r.specs[spec.Name] = spec
}

// Specs returns the schemas of every registered tool, for inclusion in
// provider requests. Order is deterministic so identical turns produce
// identical requests.
func (r *Registry) Specs() []llm.ToolSpec {
	names := lo.Keys(r.specs)
	sort.Strings(names)
	out := make([]llm.ToolSpec, 0, len(names))
	for _, name := range names {
		out = append(out, r.specs[name])
	}
	return out
}

// Has reports whether a tool name is registered.
func (r *Registry) Has(name string) bool {
	_, ok := r.handlers[name]
	return ok
}

// Handle dispatches a tool call to its registered handler.
func (r *Registry) Handle(ctx context.Context, toolName, agentID string, args json.RawMessage) (any, error) {
	h, ok := r.handlers[toolName]
	if !ok {
		r.logger.Error().Str("tool", toolName).Msg("Unknown tool requested")
		return nil, fmt.Errorf("unknown tool: %s", toolName)
	}

	r.logger.Info().Str("tool", toolName).Str("agentID", agentID).Msg("Executing tool")
	if r.logger.GetLevel() <= zerolog.DebugLevel {
		var pretty any
		if err := json.Unmarshal(args, &pretty); err == nil {
			if prettyBytes, err := json.MarshalIndent(pretty, "", "  "); err == nil {
				r.logger.Debug().Str("tool", toolName).Str("args", string(prettyBytes)).Msg("Tool called with arguments")
			}
		}
	}

	result, err := h(ctx, agentID, args)
	if err != nil {
		r.logger.Warn().Str("tool", toolName).Str("agentID", agentID).Err(err).Msg("Tool returned error")
		return nil, err
	}

	if resultBytes, e := json.Marshal(result); e == nil {
		strResult := string(resultBytes)
		if len(strResult) > 500 {
			strResult = strResult[:500] + "... (truncated)"
		}
		r.logger.Debug().Str("tool", toolName).Str("agentID", agentID).Str("result", strResult).Msg("Tool returned result")
	}
	return result, nil
}

// RemoteCaller represents something that can call a remote tool backend.
type RemoteCaller interface {
	Call(ctx context.Context, toolName string, args json.RawMessage) (json.RawMessage, error)
}

// RegisterRemoteTool registers a tool whose implementation is provided by a
// RemoteCaller.
func (r *Registry) RegisterRemoteTool(spec llm.ToolSpec, caller RemoteCaller) {
	r.logger.Info().Str("name", spec.Name).Msg("Registering remote tool")
	r.Register(spec, func(ctx context.Context, agentID string, args json.RawMessage) (any, error) {
		resp, err := caller.Call(ctx, spec.Name, args)
		if err != nil {
			r.logger.Error().Str("name", spec.Name).Err(err).Msg("Remote tool call failed")
			return nil, err
		}
		if len(resp) == 0 {
			return nil, nil
		}
		var out any
		if err := json.Unmarshal(resp, &out); err != nil {
			// Not valid JSON; return the raw payload.
			r.logger.Warn().Str("name", spec.Name).Err(err).Msg("Remote tool returned non-JSON; returning raw")
			return string(resp), nil
		}
		return out, nil
	})
}

// MCPToolInvoker represents something that can invoke an MCP tool.
type MCPToolInvoker interface {
	InvokeTool(ctx context.Context, originalName string, input map[string]interface{}) (map[string]interface{}, error)
}

// RegisterMCPTool registers a tool whose implementation is provided by an MCP
// client. The spec carries the safe name (no dots); originalName is the
// MCP-side tool name.
func (r *Registry) RegisterMCPTool(spec llm.ToolSpec, originalName string, invoker MCPToolInvoker) {
	r.logger.Debug().Str("safeName", spec.Name).Str("originalName", originalName).Msg("Registering MCP tool")
	r.Register(spec, func(ctx context.Context, agentID string, args json.RawMessage) (any, error) {
		var input map[string]interface{}
		if err := json.Unmarshal(args, &input); err != nil {
			return nil, fmt.Errorf("failed to unmarshal tool arguments: %w", err)
		}

		result, err := invoker.InvokeTool(ctx, originalName, input)
		if err != nil {
			r.logger.Error().Str("safeName", spec.Name).Str("originalName", originalName).Err(err).Msg("MCP tool call failed")
			return nil, err
		}
		return result, nil
	})
}
