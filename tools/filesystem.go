package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/turnstile-ai/turnstile/llm"
)

// validateWorkspacePath resolves targetPath against the workspace directory
// and rejects anything that escapes it.
func validateWorkspacePath(workspacePath, targetPath string) (string, error) {
	absWorkspace, err := filepath.Abs(filepath.Clean(workspacePath))
	if err != nil {
		return "", fmt.Errorf("invalid workspace path: %w", err)
	}

	var absTarget string
	if filepath.IsAbs(targetPath) {
		absTarget = filepath.Clean(targetPath)
	} else {
		absTarget, err = filepath.Abs(filepath.Join(absWorkspace, targetPath))
		if err != nil {
			return "", fmt.Errorf("invalid path: %w", err)
		}
	}

	if absTarget != absWorkspace && !strings.HasPrefix(absTarget, absWorkspace+string(filepath.Separator)) {
		return "", fmt.Errorf("path outside workspace: %s", targetPath)
	}
	return absTarget, nil
}

// RegisterFilesystemTools registers file tools scoped to the agent workspace.
func (r *Registry) RegisterFilesystemTools(workspacePath string) {
	r.logger.Info().Str("workspace", workspacePath).Msg("Registering filesystem tools in registry")

	pathProp := map[string]any{
		"type":        "string",
		"description": "Path relative to the agent workspace",
	}

	r.Register(llm.ToolSpec{
		Name:        "read_file",
		Description: "Read a file from the agent workspace.",
		Schema: llm.ToolSchema{
			Type: "object",
			Properties: map[string]any{
				"path": pathProp,
				"max_bytes": map[string]any{
					"type":        "integer",
					"description": "Optional byte limit on the returned content",
				},
			},
			Required: []string{"path"},
		},
	}, func(ctx context.Context, agentID string, args json.RawMessage) (any, error) {
		var payload struct {
			Path     string `json:"path"`
			MaxBytes int    `json:"max_bytes"`
		}
		if err := json.Unmarshal(args, &payload); err != nil {
			return nil, fmt.Errorf("failed to unmarshal arguments: %w", err)
		}

		validPath, err := validateWorkspacePath(workspacePath, payload.Path)
		if err != nil {
			return nil, err
		}

		info, err := os.Stat(validPath)
		if err != nil {
			return nil, fmt.Errorf("failed to stat file: %w", err)
		}
		if info.IsDir() {
			return nil, fmt.Errorf("path is a directory, not a file: %s", payload.Path)
		}

		content, err := os.ReadFile(validPath) //#nosec 304 -- validated above
		if err != nil {
			return nil, fmt.Errorf("failed to read file: %w", err)
		}
		if payload.MaxBytes > 0 && len(content) > payload.MaxBytes {
			content = content[:payload.MaxBytes]
		}

		return map[string]any{
			"path":    payload.Path,
			"content": string(content),
			"size":    len(content),
		}, nil
	})

	r.Register(llm.ToolSpec{
		Name:        "write_file",
		Description: "Write a file inside the agent workspace, creating parent directories as needed.",
		Schema: llm.ToolSchema{
			Type: "object",
			Properties: map[string]any{
				"path": pathProp,
				"content": map[string]any{
					"type":        "string",
					"description": "File content to write",
				},
			},
			Required: []string{"path", "content"},
		},
	}, func(ctx context.Context, agentID string, args json.RawMessage) (any, error) {
		var payload struct {
			Path    string `json:"path"`
			Content string `json:"content"`
		}
		if err := json.Unmarshal(args, &payload); err != nil {
			return nil, fmt.Errorf("failed to unmarshal arguments: %w", err)
		}

		validPath, err := validateWorkspacePath(workspacePath, payload.Path)
		if err != nil {
			return nil, err
		}

		if err := os.MkdirAll(filepath.Dir(validPath), 0o750); err != nil {
			return nil, fmt.Errorf("failed to create parent directories: %w", err)
		}
		if err := os.WriteFile(validPath, []byte(payload.Content), 0o600); err != nil {
			return nil, fmt.Errorf("failed to write file: %w", err)
		}

		return map[string]any{
			"path":    payload.Path,
			"size":    len(payload.Content),
			"written": true,
		}, nil
	})

	r.Register(llm.ToolSpec{
		Name:        "list_directory",
		Description: "List the contents of a directory in the agent workspace.",
		Schema: llm.ToolSchema{
			Type: "object",
			Properties: map[string]any{
				"path": pathProp,
				"include_hidden": map[string]any{
					"type":        "boolean",
					"description": "Include dotfiles in the listing",
				},
			},
		},
	}, func(ctx context.Context, agentID string, args json.RawMessage) (any, error) {
		var payload struct {
			Path          string `json:"path"`
			IncludeHidden bool   `json:"include_hidden"`
		}
		if err := json.Unmarshal(args, &payload); err != nil {
			return nil, fmt.Errorf("failed to unmarshal arguments: %w", err)
		}
		if payload.Path == "" {
			payload.Path = "."
		}

		validPath, err := validateWorkspacePath(workspacePath, payload.Path)
		if err != nil {
			return nil, err
		}

		dirEntries, err := os.ReadDir(validPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read directory: %w", err)
		}

		var entries []map[string]any
		for _, entry := range dirEntries {
			name := entry.Name()
			if !payload.IncludeHidden && strings.HasPrefix(name, ".") {
				continue
			}
			info, err := entry.Info()
			if err != nil {
				continue
			}
			entries = append(entries, map[string]any{
				"path":     filepath.Join(payload.Path, name),
				"name":     name,
				"is_dir":   entry.IsDir(),
				"size":     info.Size(),
				"mod_time": info.ModTime().Unix(),
			})
		}

		return map[string]any{
			"path":    payload.Path,
			"entries": entries,
			"count":   len(entries),
		}, nil
	})
}
