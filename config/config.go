// Package config loads turnstiled configuration from YAML with environment
// overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"

	"github.com/turnstile-ai/turnstile/llm"
)

// AnthropicConfig represents configuration for the Anthropic provider.
type AnthropicConfig struct {
	APIKey string `yaml:"api_key,omitempty"`
}

// OpenAIConfig represents configuration for the OpenAI provider.
type OpenAIConfig struct {
	APIKey       string `yaml:"api_key,omitempty"`
	BaseURL      string `yaml:"base_url,omitempty"`     // Custom base URL (default: official API)
	Model        string `yaml:"model,omitempty"`        // Default model name
	Organization string `yaml:"organization,omitempty"` // Organization ID
}

// GeminiConfig represents configuration for the Gemini provider.
type GeminiConfig struct {
	APIKey string `yaml:"api_key,omitempty"`
	Model  string `yaml:"model,omitempty"`
}

// OllamaConfig represents configuration for the Ollama provider.
type OllamaConfig struct {
	Host  string `yaml:"host,omitempty"` // default: http://localhost:11434
	Model string `yaml:"model,omitempty"`
}

// MCPServerConfig represents configuration for an MCP server.
type MCPServerConfig struct {
	Name    string   `yaml:"name,omitempty"`
	Command string   `yaml:"command,omitempty"` // For STDIO transport
	URL     string   `yaml:"url,omitempty"`     // For HTTP transport
	Args    []string `yaml:"args,omitempty"`    // Additional args for STDIO command
	Env     []string `yaml:"env,omitempty"`     // Environment variables for STDIO
}

// RemoteToolsConfig represents configuration for an HTTP tool backend.
type RemoteToolsConfig struct {
	BaseURL   string `yaml:"base_url,omitempty"`
	AuthToken string `yaml:"auth_token,omitempty"`
}

// TracesConfig controls debug trace retention.
type TracesConfig struct {
	Retention     string `yaml:"retention,omitempty"`      // e.g. "168h"
	PurgeSchedule string `yaml:"purge_schedule,omitempty"` // cron spec
}

// ServerConfig represents configuration for the turnstiled daemon.
type ServerConfig struct {
	Server struct {
		Addr string `yaml:"addr,omitempty"` // HTTP listen address (default: localhost:8321)
	} `yaml:"server,omitempty"`

	DBPath         string `yaml:"db_path,omitempty"`
	MigrationsPath string `yaml:"migrations_path,omitempty"`
	WorkspacePath  string `yaml:"workspace_path,omitempty"`
	LogFile        string `yaml:"log_file,omitempty"`

	// LLM provider configurations
	Anthropic AnthropicConfig `yaml:"anthropic,omitempty"`
	OpenAI    OpenAIConfig    `yaml:"openai,omitempty"`
	Gemini    GeminiConfig    `yaml:"gemini,omitempty"`
	Ollama    OllamaConfig    `yaml:"ollama,omitempty"`

	LLMProviders []string `yaml:"llm_providers,omitempty"`

	StageTimeout int `yaml:"stage_timeout,omitempty"` // Per-stage timeout in seconds
	ToolTimeout  int `yaml:"tool_timeout,omitempty"`  // Per-tool-call timeout in seconds

	Traces      TracesConfig                `yaml:"traces,omitempty"`
	MCPServers  map[string]*MCPServerConfig `yaml:"mcp_servers,omitempty"`
	RemoteTools RemoteToolsConfig           `yaml:"remote_tools,omitempty"`
}

// GetServerConfigPath returns the default config file path.
// Can be overridden via TURNSTILE_CONFIG_PATH environment variable.
func GetServerConfigPath() string {
	if envPath := os.Getenv("TURNSTILE_CONFIG_PATH"); envPath != "" {
		return expandPath(envPath)
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "./.turnstile/config.yaml"
	}
	return filepath.Join(homeDir, ".turnstile", "config.yaml")
}

// expandPath expands ~ to the user's home directory.
func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(homeDir, path[2:])
	}
	return path
}

// LoadServerConfig loads daemon configuration, merging the config file over
// built-in defaults. A missing file yields the defaults.
func LoadServerConfig(path string) (*ServerConfig, error) {
	defaults := ServerConfig{
		DBPath:         "~/.turnstile/turnstile.db",
		MigrationsPath: "migrations",
		WorkspacePath:  "~/.turnstile/workspace",
		LLMProviders:   []string{"anthropic"},
		OpenAI: OpenAIConfig{
			BaseURL: "https://api.openai.com/v1",
		},
		Ollama: OllamaConfig{
			Host: "http://localhost:11434",
		},
		StageTimeout: 30,
		ToolTimeout:  60,
		Traces: TracesConfig{
			Retention:     "168h",
			PurgeSchedule: "0 0 * * * *",
		},
		MCPServers: make(map[string]*MCPServerConfig),
	}
	defaults.Server.Addr = "localhost:8321"

	expandedPath := expandPath(path)
	if _, err := os.Stat(expandedPath); err == nil {
		configYAML, err := os.ReadFile(expandedPath) //#nosec 304 -- intentional file read for config
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %q: %w", expandedPath, err)
		}

		var fileConfig ServerConfig
		if err := yaml.Unmarshal(configYAML, &fileConfig); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}

		if err := mergo.Merge(&defaults, fileConfig, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge config: %w", err)
		}
	}

	applyEnvOverrides(&defaults)

	if defaults.MCPServers == nil {
		defaults.MCPServers = make(map[string]*MCPServerConfig)
	}
	defaults.DBPath = expandPath(defaults.DBPath)
	defaults.WorkspacePath = expandPath(defaults.WorkspacePath)

	return &defaults, nil
}

// SaveServerConfig saves the configuration to the specified path.
func SaveServerConfig(cfg *ServerConfig, path string) error {
	expandedPath := expandPath(path)

	dir := filepath.Dir(expandedPath)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(expandedPath, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// applyEnvOverrides lets deployment environments inject secrets without
// writing them to the config file.
func applyEnvOverrides(cfg *ServerConfig) {
	if v := os.Getenv("ANTHROPIC_API_KEY"); v != "" && cfg.Anthropic.APIKey == "" {
		cfg.Anthropic.APIKey = v
	}
	if v := os.Getenv("OPENAI_API_KEY"); v != "" && cfg.OpenAI.APIKey == "" {
		cfg.OpenAI.APIKey = v
	}
	if v := os.Getenv("GEMINI_API_KEY"); v != "" && cfg.Gemini.APIKey == "" {
		cfg.Gemini.APIKey = v
	}
	if v := os.Getenv("OLLAMA_HOST"); v != "" {
		cfg.Ollama.Host = v
	}
	if v := os.Getenv("TURNSTILE_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
	if v := os.Getenv("TURNSTILE_DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("TURNSTILE_WORKSPACE"); v != "" {
		cfg.WorkspacePath = v
	}
}

// ProviderConfig converts the loaded config into the provider registry's
// configuration type.
func (c *ServerConfig) ProviderConfig() *llm.ProviderConfig {
	return &llm.ProviderConfig{
		AnthropicAPIKey: c.Anthropic.APIKey,
		OpenAIAPIKey:    c.OpenAI.APIKey,
		OpenAIBaseURL:   c.OpenAI.BaseURL,
		OpenAIModel:     c.OpenAI.Model,
		OpenAIOrg:       c.OpenAI.Organization,
		GeminiAPIKey:    c.Gemini.APIKey,
		GeminiModel:     c.Gemini.Model,
		OllamaHost:      c.Ollama.Host,
		OllamaModel:     c.Ollama.Model,
	}
}

// CredentialKeys returns the static provider key map for the credential store.
func (c *ServerConfig) CredentialKeys() map[string]string {
	return map[string]string{
		"anthropic": c.Anthropic.APIKey,
		"openai":    c.OpenAI.APIKey,
		"gemini":    c.Gemini.APIKey,
	}
}

// TraceRetention parses the configured retention window, falling back to
// seven days on a bad value.
func (c *ServerConfig) TraceRetention() time.Duration {
	d, err := time.ParseDuration(c.Traces.Retention)
	if err != nil || d <= 0 {
		return 7 * 24 * time.Hour
	}
	return d
}
