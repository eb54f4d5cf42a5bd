package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadServerConfig_Defaults(t *testing.T) {
	cfg, err := LoadServerConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("LoadServerConfig: %v", err)
	}

	if cfg.Server.Addr != "localhost:8321" {
		t.Errorf("Addr = %s", cfg.Server.Addr)
	}
	if cfg.Ollama.Host != "http://localhost:11434" {
		t.Errorf("Ollama.Host = %s", cfg.Ollama.Host)
	}
	if cfg.StageTimeout != 30 || cfg.ToolTimeout != 60 {
		t.Errorf("timeouts = %d/%d", cfg.StageTimeout, cfg.ToolTimeout)
	}
	if len(cfg.LLMProviders) != 1 || cfg.LLMProviders[0] != "anthropic" {
		t.Errorf("LLMProviders = %v", cfg.LLMProviders)
	}
}

func TestLoadServerConfig_FileOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
server:
  addr: 0.0.0.0:9000
llm_providers:
  - anthropic
  - openai
openai:
  api_key: sk-test
stage_timeout: 10
traces:
  retention: 24h
`)

	cfg, err := LoadServerConfig(path)
	if err != nil {
		t.Fatalf("LoadServerConfig: %v", err)
	}

	if cfg.Server.Addr != "0.0.0.0:9000" {
		t.Errorf("Addr = %s", cfg.Server.Addr)
	}
	if len(cfg.LLMProviders) != 2 {
		t.Errorf("LLMProviders = %v", cfg.LLMProviders)
	}
	if cfg.OpenAI.APIKey != "sk-test" {
		t.Errorf("OpenAI.APIKey = %s", cfg.OpenAI.APIKey)
	}
	if cfg.StageTimeout != 10 {
		t.Errorf("StageTimeout = %d", cfg.StageTimeout)
	}
	// Untouched defaults survive the merge.
	if cfg.OpenAI.BaseURL != "https://api.openai.com/v1" {
		t.Errorf("OpenAI.BaseURL = %s", cfg.OpenAI.BaseURL)
	}
	if got := cfg.TraceRetention(); got != 24*time.Hour {
		t.Errorf("TraceRetention = %s", got)
	}
}

func TestLoadServerConfig_EnvOverrides(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "sk-ant-env")
	t.Setenv("TURNSTILE_ADDR", "localhost:7777")

	cfg, err := LoadServerConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("LoadServerConfig: %v", err)
	}

	if cfg.Anthropic.APIKey != "sk-ant-env" {
		t.Errorf("Anthropic.APIKey = %s", cfg.Anthropic.APIKey)
	}
	if cfg.Server.Addr != "localhost:7777" {
		t.Errorf("Addr = %s", cfg.Server.Addr)
	}
}

func TestTraceRetention_BadValueFallsBack(t *testing.T) {
	cfg := &ServerConfig{Traces: TracesConfig{Retention: "soon"}}
	if got := cfg.TraceRetention(); got != 7*24*time.Hour {
		t.Errorf("TraceRetention = %s, want 168h", got)
	}
}

func TestProviderConfig(t *testing.T) {
	cfg := &ServerConfig{
		Anthropic: AnthropicConfig{APIKey: "a"},
		OpenAI:    OpenAIConfig{APIKey: "b", BaseURL: "http://proxy", Organization: "org"},
		Gemini:    GeminiConfig{APIKey: "c"},
		Ollama:    OllamaConfig{Host: "http://box:11434", Model: "llama3.2"},
	}

	pc := cfg.ProviderConfig()
	if pc.AnthropicAPIKey != "a" || pc.OpenAIAPIKey != "b" || pc.GeminiAPIKey != "c" {
		t.Errorf("provider config = %+v", pc)
	}
	if pc.OpenAIBaseURL != "http://proxy" || pc.OllamaModel != "llama3.2" {
		t.Errorf("provider config = %+v", pc)
	}
}
