package gemini

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/turnstile-ai/turnstile/llm"
	"google.golang.org/genai"
)

// GeminiClient implements the llm.Client interface for Google's Gemini API.
type GeminiClient struct {
	client *genai.Client
	model  string // Default model to use if not specified in request
}

// NewGeminiClient creates a new GeminiClient with the given API key.
func NewGeminiClient(ctx context.Context, apiKey, model string) (*GeminiClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("api key is required")
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}

	return &GeminiClient{
		client: client,
		model:  model,
	}, nil
}

// Complete implements llm.Client.Complete.
func (c *GeminiClient) Complete(ctx context.Context, req *llm.Request) (*llm.Response, error) {
	if req == nil {
		return nil, fmt.Errorf("request is required")
	}

	// Determine model to use
	model := req.Model
	if model == "" {
		model = c.model
	}
	if model == "" {
		return nil, fmt.Errorf("model is required")
	}

	// Convert messages
	contents, err := ToGeminiContents(req.Messages)
	if err != nil {
		return nil, fmt.Errorf("failed to convert messages: %w", err)
	}

	// Build generation config
	config := &genai.GenerateContentConfig{}

	if req.System != "" {
		config.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{
				{Text: req.System},
			},
		}
	}

	if req.MaxTokens > 0 {
		config.MaxOutputTokens = int32(req.MaxTokens)
	}

	if req.Temperature != nil {
		config.Temperature = genai.Ptr(float32(*req.Temperature))
	}

	if req.ResponseFormat == llm.ResponseFormatJSON {
		config.ResponseMIMEType = "application/json"
	}

	if len(req.Tools) > 0 {
		config.Tools = ToGeminiTools(req.Tools)
	}

	// Make API call
	resp, err := c.client.Models.GenerateContent(ctx, model, contents, config)
	if err != nil {
		return nil, convertGeminiError(err)
	}

	if len(resp.Candidates) == 0 {
		return nil, llm.NewProviderError("gemini returned no candidates", nil)
	}

	candidate := resp.Candidates[0]
	if candidate.FinishReason == genai.FinishReasonSafety {
		return nil, llm.NewSafetyError("gemini blocked the response for safety reasons", nil)
	}

	// Convert response
	content := make([]llm.ContentBlock, 0)
	if candidate.Content != nil {
		for i, part := range candidate.Content.Parts {
			if part.Text != "" {
				content = append(content, llm.ContentBlock{
					Type: llm.ContentBlockTypeText,
					Text: part.Text,
				})
			}
			if part.FunctionCall != nil {
				content = append(content, llm.ContentBlock{
					Type:    llm.ContentBlockTypeToolUse,
					ToolUse: FromGeminiFunctionCall(part.FunctionCall, i),
				})
			}
		}
	}

	// Convert usage
	usage := &llm.Usage{}
	if resp.UsageMetadata != nil {
		usage.InputTokens = int64(resp.UsageMetadata.PromptTokenCount)
		usage.OutputTokens = int64(resp.UsageMetadata.CandidatesTokenCount)
	}

	// Determine stop reason
	stopReason := "stop"
	switch candidate.FinishReason {
	case genai.FinishReasonMaxTokens:
		stopReason = "max_tokens"
	case genai.FinishReasonStop:
		stopReason = "stop"
	default:
		// leave as default "stop"
	}
	if len(content) > 0 {
		for _, block := range content {
			if block.Type == llm.ContentBlockTypeToolUse {
				stopReason = "tool_calls"
				break
			}
		}
	}

	return &llm.Response{
		Content:    content,
		Usage:      usage,
		StopReason: stopReason,
	}, nil
}

// convertGeminiError converts Gemini API errors to llm.Error types.
func convertGeminiError(err error) error {
	if err == nil {
		return nil
	}

	var apiErr genai.APIError
	if !errors.As(err, &apiErr) {
		return llm.NewProviderError("Gemini API error", err)
	}

	switch apiErr.Code {
	case http.StatusTooManyRequests:
		// Gemini reports both rate limits and exhausted quota as 429
		// RESOURCE_EXHAUSTED
		return llm.NewRateLimitError(
			fmt.Sprintf("Gemini rate limit: %s", apiErr.Message),
			nil,
			err,
		)
	case http.StatusBadRequest:
		return llm.NewInvalidRequestError(
			fmt.Sprintf("Gemini invalid request: %s", apiErr.Message),
			err,
		)
	case http.StatusInternalServerError, http.StatusBadGateway, http.StatusServiceUnavailable:
		return &llm.Error{
			Type:        llm.ErrorTypeProvider,
			Message:     fmt.Sprintf("Gemini server error: %s", apiErr.Message),
			Retryable:   true,
			StatusCode:  apiErr.Code,
			ProviderErr: err,
		}
	default:
		return &llm.Error{
			Type:        llm.ErrorTypeProvider,
			Message:     fmt.Sprintf("Gemini API error: %s", apiErr.Message),
			Retryable:   false,
			StatusCode:  apiErr.Code,
			ProviderErr: err,
		}
	}
}
