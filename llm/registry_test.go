package llm

import (
	"testing"
)

func TestProviderRegistry_IsProviderEnabled(t *testing.T) {
	registry := NewProviderRegistry(&ProviderConfig{}, []string{"anthropic", "ollama"})

	if !registry.IsProviderEnabled("anthropic") {
		t.Error("anthropic should be enabled")
	}
	if !registry.IsProviderEnabled("ollama") {
		t.Error("ollama should be enabled")
	}
	if registry.IsProviderEnabled("openai") {
		t.Error("openai should not be enabled")
	}
}

func TestProviderRegistry_IsProviderConfigured(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "")
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("GEMINI_API_KEY", "")

	// Anthropic requires an API key
	registry := NewProviderRegistry(&ProviderConfig{}, []string{"anthropic"})
	if registry.IsProviderConfigured("anthropic") {
		t.Error("anthropic should not be configured without API key")
	}

	registry2 := NewProviderRegistry(&ProviderConfig{AnthropicAPIKey: "test-key"}, []string{"anthropic"})
	if !registry2.IsProviderConfigured("anthropic") {
		t.Error("anthropic should be configured with API key")
	}

	// Ollama is always configured (no API key required)
	registry3 := NewProviderRegistry(&ProviderConfig{}, []string{"ollama"})
	if !registry3.IsProviderConfigured("ollama") {
		t.Error("ollama should always be configured")
	}

	// OpenAI requires an API key
	registry4 := NewProviderRegistry(&ProviderConfig{}, []string{"openai"})
	if registry4.IsProviderConfigured("openai") {
		t.Error("openai should not be configured without API key")
	}

	registry5 := NewProviderRegistry(&ProviderConfig{OpenAIAPIKey: "test-key"}, []string{"openai"})
	if !registry5.IsProviderConfigured("openai") {
		t.Error("openai should be configured with API key")
	}

	// Gemini requires an API key
	registry6 := NewProviderRegistry(&ProviderConfig{GeminiAPIKey: "test-key"}, []string{"gemini"})
	if !registry6.IsProviderConfigured("gemini") {
		t.Error("gemini should be configured with API key")
	}
}

func TestProviderRegistry_ResolveClientKey(t *testing.T) {
	registry := NewProviderRegistry(&ProviderConfig{
		AnthropicAPIKey: "anthropic-key",
		GeminiAPIKey:    "gemini-key",
		OllamaHost:      "http://localhost:11434",
		OllamaModel:     "mistral:20b",
	}, []string{"anthropic", "gemini", "ollama"})

	key, err := registry.ResolveClientKey(ProviderAnthropic, "claude-sonnet-4-20250514")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if key.Provider != ProviderAnthropic {
		t.Errorf("Provider: got %q, want %q", key.Provider, ProviderAnthropic)
	}
	if key.Model != "claude-sonnet-4-20250514" {
		t.Errorf("Model: got %q, want %q", key.Model, "claude-sonnet-4-20250514")
	}
	if key.APIKey != "anthropic-key" {
		t.Errorf("APIKey: got %q, want %q", key.APIKey, "anthropic-key")
	}
}

func TestProviderRegistry_ResolveClientKey_Defaults(t *testing.T) {
	registry := NewProviderRegistry(&ProviderConfig{
		GeminiAPIKey: "gemini-key",
		OllamaModel:  "llama3.2:3b",
	}, []string{"gemini", "ollama"})

	key, err := registry.ResolveClientKey(ProviderGemini, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if key.Model != "gemini-2.0-flash" {
		t.Errorf("Model: got %q, want default gemini-2.0-flash", key.Model)
	}

	key, err = registry.ResolveClientKey(ProviderOllama, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if key.Host != "http://localhost:11434" {
		t.Errorf("Host: got %q, want default localhost host", key.Host)
	}
	if key.Model != "llama3.2:3b" {
		t.Errorf("Model: got %q, want configured default", key.Model)
	}
}

func TestProviderRegistry_ResolveClientKey_DisabledProvider(t *testing.T) {
	registry := NewProviderRegistry(&ProviderConfig{OpenAIAPIKey: "key"}, []string{"openai"})

	if _, err := registry.ResolveClientKey(ProviderAnthropic, "claude-haiku-4-5"); err == nil {
		t.Error("expected error for disabled provider")
	}
}
