package mcp

import (
	"testing"
)

func TestToSafeName(t *testing.T) {
	tests := []struct {
		original string
		want     string
	}{
		{"gmail.messages.list", "gmail_messages_list"},
		{"no_dots_here", "no_dots_here"},
		{"trailing.", "trailing_"},
	}
	for _, tt := range tests {
		if got := ToSafeName(tt.original); got != tt.want {
			t.Errorf("ToSafeName(%q) = %q, want %q", tt.original, got, tt.want)
		}
	}
}

func TestNameAdapter_RoundTrip(t *testing.T) {
	adapter := NewNameAdapter()

	safe := adapter.GetSafeName("gmail.messages.list")
	if safe != "gmail_messages_list" {
		t.Fatalf("safe = %q", safe)
	}

	original, ok := adapter.ToOriginalName(safe)
	if !ok {
		t.Fatal("mapping not found")
	}
	if original != "gmail.messages.list" {
		t.Errorf("original = %q", original)
	}

	// Repeated lookups reuse the stored mapping.
	if again := adapter.GetSafeName("gmail.messages.list"); again != safe {
		t.Errorf("second GetSafeName = %q, want %q", again, safe)
	}
}

func TestNameAdapter_UnknownSafeName(t *testing.T) {
	adapter := NewNameAdapter()
	if _, ok := adapter.ToOriginalName("never_registered"); ok {
		t.Error("expected no mapping")
	}
}

func TestToToolSchema(t *testing.T) {
	raw := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"query": map[string]any{"type": "string"},
		},
		"required": []any{"query"},
		"$defs":    map[string]any{"Thing": map[string]any{}},
	}

	schema := toToolSchema(raw)
	if schema.Type != "object" {
		t.Errorf("Type = %s", schema.Type)
	}
	if _, ok := schema.Properties["query"]; !ok {
		t.Errorf("Properties = %+v", schema.Properties)
	}
	if len(schema.Required) != 1 || schema.Required[0] != "query" {
		t.Errorf("Required = %v", schema.Required)
	}
	if _, ok := schema.ExtraFields["$defs"]; !ok {
		t.Errorf("ExtraFields = %+v", schema.ExtraFields)
	}
}

func TestToToolSchema_DefaultsType(t *testing.T) {
	schema := toToolSchema(map[string]any{})
	if schema.Type != "object" {
		t.Errorf("Type = %s, want object", schema.Type)
	}
	if schema.ExtraFields != nil {
		t.Errorf("ExtraFields = %+v, want nil", schema.ExtraFields)
	}
}
