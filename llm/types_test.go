package llm

import (
	"encoding/json"
	"testing"
)

func TestNewTextMessage(t *testing.T) {
	msg := NewTextMessage(RoleUser, "Hello, world!")
	if msg.Role != RoleUser {
		t.Errorf("Role = %v, want %v", msg.Role, RoleUser)
	}
	if len(msg.Content) != 1 {
		t.Fatalf("len(Content) = %d, want 1", len(msg.Content))
	}
	if msg.Content[0].Type != ContentBlockTypeText || msg.Content[0].Text != "Hello, world!" {
		t.Errorf("block = %+v", msg.Content[0])
	}
}

func TestNewToolUseMessage(t *testing.T) {
	msg := NewToolUseMessage([]ToolUseBlock{
		{ID: "tool-1", Name: "test_tool", Input: map[string]interface{}{"arg": "value"}},
	})
	if msg.Role != RoleAssistant {
		t.Errorf("Role = %v, want assistant", msg.Role)
	}
	if len(msg.Content) != 1 {
		t.Fatalf("len(Content) = %d, want 1", len(msg.Content))
	}
	block := msg.Content[0]
	if block.Type != ContentBlockTypeToolUse || block.ToolUse == nil {
		t.Fatalf("block = %+v", block)
	}
	if block.ToolUse.ID != "tool-1" || block.ToolUse.Name != "test_tool" {
		t.Errorf("tool use = %+v", block.ToolUse)
	}
}

func TestNewToolResultMessage(t *testing.T) {
	msg := NewToolResultMessage([]ToolResultBlock{
		{ID: "tool-1", Content: `{"result": "success"}`, IsError: false},
	})
	if msg.Role != RoleUser {
		t.Errorf("Role = %v, want user", msg.Role)
	}
	if len(msg.Content) != 1 {
		t.Fatalf("len(Content) = %d, want 1", len(msg.Content))
	}
	block := msg.Content[0]
	if block.Type != ContentBlockTypeToolResult || block.ToolResult == nil {
		t.Fatalf("block = %+v", block)
	}
	if block.ToolResult.ID != "tool-1" || block.ToolResult.IsError {
		t.Errorf("tool result = %+v", block.ToolResult)
	}
}

func TestMessageText(t *testing.T) {
	multi := Message{
		Role: RoleAssistant,
		Content: []ContentBlock{
			{Type: ContentBlockTypeText, Text: "part one"},
			{Type: ContentBlockTypeToolUse, ToolUse: &ToolUseBlock{ID: "t1", Name: "x"}},
			{Type: ContentBlockTypeText, Text: " part two"},
		},
	}
	if got := multi.Text(); got != "part one part two" {
		t.Errorf("Text() = %q", got)
	}

	if got := NewToolUseMessage([]ToolUseBlock{{ID: "t1"}}).Text(); got != "" {
		t.Errorf("Text() on tool-only message = %q, want empty", got)
	}
}

func TestMessageToJSON(t *testing.T) {
	msg := NewTextMessage(RoleUser, "Test message")
	jsonData, err := msg.ToJSON()
	if err != nil {
		t.Fatalf("ToJSON: %v", err)
	}

	var decoded Message
	if err := json.Unmarshal(jsonData, &decoded); err != nil {
		t.Fatalf("unmarshal round trip: %v", err)
	}
	if decoded.Role != msg.Role || decoded.Text() != "Test message" {
		t.Errorf("decoded = %+v", decoded)
	}
}
