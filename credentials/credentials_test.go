package credentials

import (
	"context"
	"testing"
)

func TestConfigStore_ConfiguredKey(t *testing.T) {
	store := NewConfigStore(map[string]string{"Anthropic": "sk-ant-config"})

	key, err := store.APIKey(context.Background(), "user-1", "anthropic")
	if err != nil {
		t.Fatalf("APIKey: %v", err)
	}
	if key != "sk-ant-config" {
		t.Errorf("key = %s", key)
	}
}

func TestConfigStore_EnvFallback(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-env")
	store := NewConfigStore(nil)

	key, err := store.APIKey(context.Background(), "user-1", "openai")
	if err != nil {
		t.Fatalf("APIKey: %v", err)
	}
	if key != "sk-env" {
		t.Errorf("key = %s", key)
	}
}

func TestConfigStore_GeminiChecksBothEnvVars(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "")
	t.Setenv("GOOGLE_API_KEY", "sk-google")
	store := NewConfigStore(nil)

	key, err := store.APIKey(context.Background(), "user-1", "gemini")
	if err != nil {
		t.Fatalf("APIKey: %v", err)
	}
	if key != "sk-google" {
		t.Errorf("key = %s", key)
	}
}

func TestConfigStore_MissingKey(t *testing.T) {
	store := NewConfigStore(nil)

	if _, err := store.APIKey(context.Background(), "user-1", "nonesuch"); err == nil {
		t.Error("expected error for unknown provider")
	}
}

func TestConfigStore_SetKey(t *testing.T) {
	store := NewConfigStore(nil)
	store.SetKey("Anthropic", "sk-later")

	key, err := store.APIKey(context.Background(), "user-1", "anthropic")
	if err != nil {
		t.Fatalf("APIKey: %v", err)
	}
	if key != "sk-later" {
		t.Errorf("key = %s", key)
	}
}
