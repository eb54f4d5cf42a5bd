package llm

import (
	"reflect"
	"testing"

	"github.com/samber/lo"
)

func TestAdapt_StripsUnsupportedFields(t *testing.T) {
	table := DefaultCapabilityTable()

	req := &Request{
		Messages:    []Message{NewTextMessage(RoleUser, "send this email")},
		Tools:       []ToolSpec{{Name: "send_email"}},
		Temperature: lo.ToPtr(0.7),
		MaxTokens:   1200,
	}

	adapted, warnings := table.Adapt(req, "o1-preview")

	if adapted.Tools != nil {
		t.Error("expected tools to be stripped for o1-preview")
	}
	if adapted.Temperature != nil {
		t.Error("expected temperature to be stripped for o1-preview")
	}
	if adapted.MaxTokens != 1200 {
		t.Errorf("MaxTokens: got %d, want 1200", adapted.MaxTokens)
	}
	if adapted.TokenParam != TokenParamMaxCompletionTokens {
		t.Errorf("TokenParam: got %q, want %q", adapted.TokenParam, TokenParamMaxCompletionTokens)
	}

	if len(warnings) != 2 {
		t.Fatalf("expected 2 warnings, got %d: %+v", len(warnings), warnings)
	}
	fields := lo.Map(warnings, func(w AdapterWarning, _ int) string { return w.Field })
	if !lo.Contains(fields, "tools") || !lo.Contains(fields, "temperature") {
		t.Errorf("expected warnings for tools and temperature, got %v", fields)
	}
	for _, w := range warnings {
		if w.Reason != "unsupported" {
			t.Errorf("warning reason: got %q, want unsupported", w.Reason)
		}
		if w.Model != "o1-preview" {
			t.Errorf("warning model: got %q, want o1-preview", w.Model)
		}
	}
}

func TestAdapt_KeepsSupportedFields(t *testing.T) {
	table := DefaultCapabilityTable()

	req := &Request{
		Messages:       []Message{NewTextMessage(RoleUser, "hi")},
		Tools:          []ToolSpec{{Name: "lookup"}},
		Temperature:    lo.ToPtr(0.2),
		ResponseFormat: ResponseFormatJSON,
		MaxTokens:      800,
	}

	adapted, warnings := table.Adapt(req, "gpt-4o")

	if len(warnings) != 0 {
		t.Errorf("expected no warnings, got %+v", warnings)
	}
	if len(adapted.Tools) != 1 {
		t.Error("expected tools to be preserved")
	}
	if adapted.Temperature == nil || *adapted.Temperature != 0.2 {
		t.Error("expected temperature to be preserved")
	}
	if adapted.ResponseFormat != ResponseFormatJSON {
		t.Error("expected response format to be preserved")
	}
}

func TestAdapt_StripsResponseFormatForClaude(t *testing.T) {
	table := DefaultCapabilityTable()

	req := &Request{
		Messages:       []Message{NewTextMessage(RoleUser, "hi")},
		ResponseFormat: ResponseFormatJSON,
	}

	adapted, warnings := table.Adapt(req, "claude-haiku-4-5")
	if adapted.ResponseFormat != "" {
		t.Error("expected response_format to be stripped for claude family")
	}
	if len(warnings) != 1 || warnings[0].Field != "response_format" {
		t.Errorf("expected single response_format warning, got %+v", warnings)
	}
}

func TestAdapt_Idempotent(t *testing.T) {
	table := DefaultCapabilityTable()

	models := []string{"o1-preview", "gpt-4o", "claude-sonnet-4-20250514", "gemini-2.0-flash", "unknown-model"}
	req := &Request{
		Messages:       []Message{NewTextMessage(RoleUser, "hello")},
		Tools:          []ToolSpec{{Name: "send_email"}},
		Temperature:    lo.ToPtr(0.9),
		ResponseFormat: ResponseFormatJSON,
		MaxTokens:      512,
	}

	for _, model := range models {
		once, _ := table.Adapt(req, model)
		twice, warnings := table.Adapt(once, model)
		if !reflect.DeepEqual(once, twice) {
			t.Errorf("Adapt not idempotent for %q: %+v != %+v", model, once, twice)
		}
		if len(warnings) != 0 {
			t.Errorf("second Adapt for %q produced warnings: %+v", model, warnings)
		}
	}
}

func TestAdapt_DoesNotMutateInput(t *testing.T) {
	table := DefaultCapabilityTable()

	req := &Request{
		Messages:    []Message{NewTextMessage(RoleUser, "hello")},
		Tools:       []ToolSpec{{Name: "send_email"}},
		Temperature: lo.ToPtr(0.9),
		MaxTokens:   512,
	}

	_, _ = table.Adapt(req, "o1-preview")

	if len(req.Tools) != 1 {
		t.Error("input request tools were mutated")
	}
	if req.Temperature == nil {
		t.Error("input request temperature was mutated")
	}
	if req.TokenParam != "" {
		t.Error("input request token param was mutated")
	}
}
