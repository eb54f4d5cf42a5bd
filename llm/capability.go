package llm

import (
	"strings"
)

// Capability describes the request parameters a model family accepts.
type Capability struct {
	SupportsTools          bool
	SupportsTemperature    bool
	SupportsResponseFormat bool
	TokenParam             TokenParam
}

// CapabilityRule binds a set of model-name prefixes to a Capability.
// Rules are evaluated in order, first match wins, so narrower families
// (e.g. reasoning-only sub-families) must be listed before broader ones
// sharing a prefix.
type CapabilityRule struct {
	// Patterns are case-insensitive model-name prefixes.
	Patterns []string

	Capability Capability

	// ToolFallback names the best generally available tool-capable model
	// in the same provider family. Empty when the family itself supports
	// tools.
	ToolFallback string
}

// CapabilityTable is an ordered list of capability rules plus a
// conservative default for unknown models. Read-only after construction.
type CapabilityTable struct {
	rules        []CapabilityRule
	legacy       Capability
	toolFallback string
}

// legacyCapability is the most conservative descriptor: the long-standing
// dialect every provider family started from. Unseen future models degrade
// to this rather than crash.
var legacyCapability = Capability{
	SupportsTools:          true,
	SupportsTemperature:    true,
	SupportsResponseFormat: false,
	TokenParam:             TokenParamMaxTokens,
}

// defaultToolFallback is used when a tool-capable model is needed and the
// matched rule names no family-specific fallback.
const defaultToolFallback = "gpt-4o"

// NewCapabilityTable builds a table from ordered rules.
func NewCapabilityTable(rules []CapabilityRule) *CapabilityTable {
	return &CapabilityTable{
		rules:        rules,
		legacy:       legacyCapability,
		toolFallback: defaultToolFallback,
	}
}

// DefaultCapabilityTable returns the built-in table covering the OpenAI,
// Anthropic, Gemini, and Ollama families. Ordered most-specific-first.
func DefaultCapabilityTable() *CapabilityTable {
	return NewCapabilityTable([]CapabilityRule{
		{
			// Early reasoning previews: no tools, no temperature, no
			// response_format, renamed token limit.
			Patterns: []string{"o1-preview", "o1-mini"},
			Capability: Capability{
				SupportsTools:          false,
				SupportsTemperature:    false,
				SupportsResponseFormat: false,
				TokenParam:             TokenParamMaxCompletionTokens,
			},
			ToolFallback: "gpt-4o",
		},
		{
			// Later reasoning models accept tools and response_format but
			// still reject temperature.
			Patterns: []string{"o1", "o3", "o4-mini"},
			Capability: Capability{
				SupportsTools:          true,
				SupportsTemperature:    false,
				SupportsResponseFormat: true,
				TokenParam:             TokenParamMaxCompletionTokens,
			},
		},
		{
			Patterns: []string{"gpt-5", "gpt-4.1", "gpt-4o"},
			Capability: Capability{
				SupportsTools:          true,
				SupportsTemperature:    true,
				SupportsResponseFormat: true,
				TokenParam:             TokenParamMaxCompletionTokens,
			},
		},
		{
			// Older chat completions dialect.
			Patterns: []string{"gpt-"},
			Capability: Capability{
				SupportsTools:          true,
				SupportsTemperature:    true,
				SupportsResponseFormat: true,
				TokenParam:             TokenParamMaxTokens,
			},
		},
		{
			Patterns: []string{"claude-"},
			Capability: Capability{
				SupportsTools:          true,
				SupportsTemperature:    true,
				SupportsResponseFormat: false,
				TokenParam:             TokenParamMaxTokens,
			},
		},
		{
			Patterns: []string{"gemini-"},
			Capability: Capability{
				SupportsTools:          true,
				SupportsTemperature:    true,
				SupportsResponseFormat: true,
				TokenParam:             TokenParamMaxTokens,
			},
		},
	})
}

// Lookup returns the capability descriptor for a model name.
// It never fails: unknown models fall back to the legacy descriptor.
func (t *CapabilityTable) Lookup(model string) Capability {
	cap, _ := t.lookupRule(model)
	return cap
}

// ReasoningFallback returns the best generally available tool-capable model
// for the given model's provider family. If the model itself supports
// tools it is returned unchanged.
func (t *CapabilityTable) ReasoningFallback(model string) string {
	cap, rule := t.lookupRule(model)
	if cap.SupportsTools {
		return model
	}
	if rule != nil && rule.ToolFallback != "" {
		return rule.ToolFallback
	}
	return t.toolFallback
}

func (t *CapabilityTable) lookupRule(model string) (Capability, *CapabilityRule) {
	name := strings.ToLower(model)
	for i := range t.rules {
		for _, pattern := range t.rules[i].Patterns {
			if strings.HasPrefix(name, pattern) {
				return t.rules[i].Capability, &t.rules[i]
			}
		}
	}
	return t.legacy, nil
}
