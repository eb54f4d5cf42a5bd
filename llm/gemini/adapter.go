package gemini

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/turnstile-ai/turnstile/llm"
	"google.golang.org/genai"
)

// ToGeminiContents converts llm.Messages to Gemini content format.
// System messages are skipped; they are carried via SystemInstruction in
// the generation config.
func ToGeminiContents(msgs []llm.Message) ([]*genai.Content, error) {
	var result []*genai.Content

	// Gemini function responses are keyed by function name, not call ID,
	// so track the name each tool-use ID resolved to.
	toolNames := make(map[string]string)

	for _, msg := range msgs {
		if msg.Role == llm.RoleSystem {
			continue
		}

		content := &genai.Content{}
		switch msg.Role {
		case llm.RoleUser:
			content.Role = genai.RoleUser
		case llm.RoleAssistant:
			content.Role = genai.RoleModel
		default:
			content.Role = genai.RoleUser
		}

		for _, block := range msg.Content {
			switch block.Type {
			case llm.ContentBlockTypeText:
				if block.Text != "" {
					content.Parts = append(content.Parts, &genai.Part{
						Text: block.Text,
					})
				}
			case llm.ContentBlockTypeToolUse:
				if block.ToolUse != nil {
					toolNames[block.ToolUse.ID] = block.ToolUse.Name
					content.Parts = append(content.Parts, &genai.Part{
						FunctionCall: &genai.FunctionCall{
							Name: block.ToolUse.Name,
							Args: block.ToolUse.Input,
						},
					})
				}
			case llm.ContentBlockTypeToolResult:
				if block.ToolResult != nil {
					// Parse result content as JSON if possible
					var response map[string]any
					if err := json.Unmarshal([]byte(block.ToolResult.Content), &response); err != nil {
						response = map[string]any{
							"result": block.ToolResult.Content,
							"error":  block.ToolResult.IsError,
						}
					}
					content.Parts = append(content.Parts, &genai.Part{
						FunctionResponse: &genai.FunctionResponse{
							Name:     toolNames[block.ToolResult.ID],
							Response: response,
						},
					})
				}
			}
		}

		if len(content.Parts) > 0 {
			result = append(result, content)
		}
	}

	return result, nil
}

// ToGeminiTools converts llm.ToolSpecs to Gemini Tool format.
func ToGeminiTools(specs []llm.ToolSpec) []*genai.Tool {
	if len(specs) == 0 {
		return nil
	}

	declarations := make([]*genai.FunctionDeclaration, 0, len(specs))
	for i := range specs {
		declarations = append(declarations, &genai.FunctionDeclaration{
			Name:        specs[i].Name,
			Description: specs[i].Description,
			Parameters:  toGeminiSchema(schemaToMap(specs[i].Schema)),
		})
	}

	return []*genai.Tool{
		{
			FunctionDeclarations: declarations,
		},
	}
}

// schemaToMap flattens a ToolSchema into a plain JSON-schema map.
func schemaToMap(schema llm.ToolSchema) map[string]any {
	out := map[string]any{
		"type": schema.Type,
	}
	if schema.Properties != nil {
		out["properties"] = schema.Properties
	}
	if len(schema.Required) > 0 {
		required := make([]any, len(schema.Required))
		for i, r := range schema.Required {
			required[i] = r
		}
		out["required"] = required
	}
	for k, v := range schema.ExtraFields {
		out[k] = v
	}
	return out
}

// toGeminiSchema converts a JSON Schema map to Gemini's Schema type.
func toGeminiSchema(schemaMap map[string]any) *genai.Schema {
	if schemaMap == nil {
		return nil
	}

	schema := &genai.Schema{}

	if t, ok := schemaMap["type"].(string); ok {
		schema.Type = genai.Type(strings.ToUpper(t))
	}

	if desc, ok := schemaMap["description"].(string); ok {
		schema.Description = desc
	}

	if enum, ok := schemaMap["enum"].([]any); ok {
		for _, e := range enum {
			if s, ok := e.(string); ok {
				schema.Enum = append(schema.Enum, s)
			}
		}
	}

	if props, ok := schemaMap["properties"].(map[string]any); ok {
		schema.Properties = make(map[string]*genai.Schema)
		for name, prop := range props {
			if propMap, ok := prop.(map[string]any); ok {
				schema.Properties[name] = toGeminiSchema(propMap)
			}
		}
	}

	if required, ok := schemaMap["required"].([]any); ok {
		for _, r := range required {
			if s, ok := r.(string); ok {
				schema.Required = append(schema.Required, s)
			}
		}
	}

	if items, ok := schemaMap["items"].(map[string]any); ok {
		schema.Items = toGeminiSchema(items)
	}

	return schema
}

// FromGeminiFunctionCall converts a Gemini function call to llm.ToolUseBlock.
// Gemini doesn't supply call IDs, so one is synthesized from the function
// name and position.
func FromGeminiFunctionCall(call *genai.FunctionCall, index int) *llm.ToolUseBlock {
	input := make(map[string]interface{})
	for k, v := range call.Args {
		input[k] = v
	}
	return &llm.ToolUseBlock{
		ID:    fmt.Sprintf("call_%s_%d", call.Name, index),
		Name:  call.Name,
		Input: input,
	}
}
