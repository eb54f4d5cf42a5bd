package prefs

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"

	"github.com/turnstile-ai/turnstile/migrations"
	"github.com/turnstile-ai/turnstile/resolver"

	_ "github.com/mattn/go-sqlite3"
)

func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	if err := migrations.RunMigrations(db, filepath.Join("..", "migrations"), zerolog.Nop()); err != nil {
		t.Fatalf("failed to run migrations: %v", err)
	}
	return db
}

func TestStore_MissingPreferenceReturnsNil(t *testing.T) {
	store := NewStore(setupTestDB(t))

	pref, err := store.AgentModelPreference(context.Background(), "nobody")
	if err != nil {
		t.Fatalf("AgentModelPreference: %v", err)
	}
	if pref != nil {
		t.Errorf("pref = %+v, want nil", pref)
	}
}

func TestStore_SetAndGetPreference(t *testing.T) {
	ctx := context.Background()
	store := NewStore(setupTestDB(t))

	want := resolver.Preference{
		Provider:       "openai",
		Model:          "gpt-4o",
		Params:         map[string]any{"temperature": 0.2},
		EmbeddingModel: "text-embedding-3-large",
	}
	if err := store.SetPreference(ctx, "agent-1", want); err != nil {
		t.Fatalf("SetPreference: %v", err)
	}

	got, err := store.AgentModelPreference(ctx, "agent-1")
	if err != nil {
		t.Fatalf("AgentModelPreference: %v", err)
	}
	if got == nil {
		t.Fatal("pref is nil")
	}
	if got.Provider != want.Provider || got.Model != want.Model || got.EmbeddingModel != want.EmbeddingModel {
		t.Errorf("pref = %+v, want %+v", got, want)
	}
	if temp, ok := got.Params["temperature"].(float64); !ok || temp != 0.2 {
		t.Errorf("params = %+v", got.Params)
	}
}

func TestStore_SetPreferenceUpserts(t *testing.T) {
	ctx := context.Background()
	store := NewStore(setupTestDB(t))

	if err := store.SetPreference(ctx, "agent-1", resolver.Preference{Provider: "anthropic", Model: "claude-opus-4-1"}); err != nil {
		t.Fatalf("SetPreference: %v", err)
	}
	if err := store.SetPreference(ctx, "agent-1", resolver.Preference{Provider: "gemini", Model: "gemini-2.5-pro"}); err != nil {
		t.Fatalf("SetPreference overwrite: %v", err)
	}

	got, err := store.AgentModelPreference(ctx, "agent-1")
	if err != nil {
		t.Fatalf("AgentModelPreference: %v", err)
	}
	if got.Provider != "gemini" || got.Model != "gemini-2.5-pro" {
		t.Errorf("pref = %+v, want overwritten values", got)
	}
}

func TestStore_SetPreferenceRequiresProviderAndModel(t *testing.T) {
	store := NewStore(setupTestDB(t))

	if err := store.SetPreference(context.Background(), "agent-1", resolver.Preference{Provider: "openai"}); err == nil {
		t.Error("expected error for missing model")
	}
	if err := store.SetPreference(context.Background(), "agent-1", resolver.Preference{Model: "gpt-4o"}); err == nil {
		t.Error("expected error for missing provider")
	}
}

func TestStore_DeletePreference(t *testing.T) {
	ctx := context.Background()
	store := NewStore(setupTestDB(t))

	if err := store.SetPreference(ctx, "agent-1", resolver.Preference{Provider: "openai", Model: "gpt-4o"}); err != nil {
		t.Fatalf("SetPreference: %v", err)
	}
	if err := store.DeletePreference(ctx, "agent-1"); err != nil {
		t.Fatalf("DeletePreference: %v", err)
	}

	got, err := store.AgentModelPreference(ctx, "agent-1")
	if err != nil {
		t.Fatalf("AgentModelPreference: %v", err)
	}
	if got != nil {
		t.Errorf("pref = %+v, want nil after delete", got)
	}
}
