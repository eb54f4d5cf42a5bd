package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/turnstile-ai/turnstile/llm"
)

// Command patterns that are never executed on behalf of a model.
var dangerousPatterns = []string{
	"rm ", "rm -", "rmdir", "unlink",
	"mkfs", "fdisk", "dd if=", "dd of=",
	"sudo ",
	"chmod 777", "chmod 000",
	"> /dev/sd", "of=/dev/sd", "of=/dev/hd",
}

func isDangerousCommand(command string) bool {
	cmdLower := strings.ToLower(command)
	for _, pattern := range dangerousPatterns {
		if strings.Contains(cmdLower, pattern) {
			return true
		}
	}
	// Block curl/wget pipelines that execute shells, even with args between.
	if (strings.Contains(cmdLower, "curl") || strings.Contains(cmdLower, "wget")) &&
		strings.Contains(cmdLower, "|") &&
		(strings.Contains(cmdLower, "| sh") || strings.Contains(cmdLower, "| bash")) {
		return true
	}
	return false
}

const (
	defaultCommandTimeout = 30 * time.Second
	maxCommandTimeout     = 5 * time.Minute
	maxCommandOutput      = 1 << 20
)

// RegisterSystemTools registers the execute_command tool, scoped to the
// agent workspace.
func (r *Registry) RegisterSystemTools(workspacePath string) {
	r.logger.Info().Msg("Registering system tools in registry")

	r.Register(llm.ToolSpec{
		Name:        "execute_command",
		Description: "Run a shell command in the agent workspace and return its output.",
		Schema: llm.ToolSchema{
			Type: "object",
			Properties: map[string]any{
				"command": map[string]any{
					"type":        "string",
					"description": "The command to run",
				},
				"args": map[string]any{
					"type":        "array",
					"items":       map[string]any{"type": "string"},
					"description": "Command arguments",
				},
				"timeout": map[string]any{
					"type":        "integer",
					"description": "Timeout in seconds (max 300)",
				},
			},
			Required: []string{"command"},
		},
	}, func(ctx context.Context, agentID string, args json.RawMessage) (any, error) {
		var payload struct {
			Command string   `json:"command"`
			Args    []string `json:"args"`
			Timeout int      `json:"timeout"`
		}
		if err := json.Unmarshal(args, &payload); err != nil {
			return nil, fmt.Errorf("failed to unmarshal arguments: %w", err)
		}

		fullCommand := payload.Command
		if len(payload.Args) > 0 {
			fullCommand += " " + strings.Join(payload.Args, " ")
		}
		if isDangerousCommand(fullCommand) {
			r.logger.Warn().Str("agentID", agentID).Str("command", fullCommand).Msg("Blocked dangerous command from agent")
			return nil, fmt.Errorf("command blocked: this command could damage the system or delete files")
		}

		timeout := defaultCommandTimeout
		if payload.Timeout > 0 {
			timeout = time.Duration(payload.Timeout) * time.Second
		}
		if timeout > maxCommandTimeout {
			timeout = maxCommandTimeout
		}

		cmdCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		argv := payload.Args
		name := payload.Command
		if len(argv) == 0 {
			parts := strings.Fields(payload.Command)
			name = parts[0]
			argv = parts[1:]
		}

		cmd := exec.CommandContext(cmdCtx, name, argv...) //#nosec G204 -- intentional command execution
		cmd.Dir = workspacePath

		var stdout, stderr bytes.Buffer
		cmd.Stdout = &stdout
		cmd.Stderr = &stderr

		runErr := cmd.Run()
		if cmdCtx.Err() == context.DeadlineExceeded {
			return nil, fmt.Errorf("command timed out after %s", timeout)
		}

		exitCode := 0
		if runErr != nil {
			exitError, ok := runErr.(*exec.ExitError)
			if !ok {
				return nil, fmt.Errorf("command failed: %w", runErr)
			}
			exitCode = exitError.ExitCode()
		}

		return map[string]any{
			"command":   fullCommand,
			"exit_code": exitCode,
			"stdout":    truncateOutput(stdout.String()),
			"stderr":    truncateOutput(stderr.String()),
			"success":   exitCode == 0,
		}, nil
	})
}

func truncateOutput(s string) string {
	if len(s) > maxCommandOutput {
		return s[:maxCommandOutput] + "... (truncated)"
	}
	return s
}
