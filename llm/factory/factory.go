// Package factory constructs provider-specific llm.Client implementations
// from resolved client keys. It lives outside package llm so that llm itself
// never imports the provider subpackages.
package factory

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"github.com/turnstile-ai/turnstile/llm"
	"github.com/turnstile-ai/turnstile/llm/anthropic"
	"github.com/turnstile-ai/turnstile/llm/gemini"
	"github.com/turnstile-ai/turnstile/llm/ollama"
	"github.com/turnstile-ai/turnstile/llm/openai"
)

// Factory builds and caches one client per distinct ClientKey.
// Clients are safe for concurrent use, so caching them is as well.
type Factory struct {
	mu      sync.Mutex
	clients map[llm.ClientKey]llm.Client
	logger  zerolog.Logger
}

// New creates a client factory.
func New(logger zerolog.Logger) *Factory {
	return &Factory{
		clients: make(map[llm.ClientKey]llm.Client),
		logger:  logger.With().Str("component", "llmFactory").Logger(),
	}
}

// Client returns a provider client for the given key, creating it on first use.
func (f *Factory) Client(ctx context.Context, key *llm.ClientKey) (llm.Client, error) {
	if key == nil {
		return nil, fmt.Errorf("client key is required")
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if client, ok := f.clients[*key]; ok {
		return client, nil
	}

	client, err := f.build(ctx, key)
	if err != nil {
		return nil, err
	}

	requestLogger := f.logger.With().Str("provider", key.Provider).Logger()
	client = llm.WrapWithMiddleware(client, loggingMiddleware(requestLogger))

	f.clients[*key] = client
	f.logger.Debug().Str("provider", key.Provider).Str("model", key.Model).Msg("Created LLM client")
	return client, nil
}

// loggingMiddleware logs every provider round trip with model, timing, and
// token usage. It never modifies the request or response.
func loggingMiddleware(logger zerolog.Logger) llm.Middleware {
	return llm.MiddlewareFunc{
		BeforeRequestFunc: func(ctx context.Context, req *llm.Request) (*llm.Request, error) {
			logger.Debug().
				Str("model", req.Model).
				Int("messages", len(req.Messages)).
				Int("tools", len(req.Tools)).
				Msg("Sending provider request")
			return req, nil
		},
		AfterResponseFunc: func(ctx context.Context, req *llm.Request, resp *llm.Response) (*llm.Response, error) {
			event := logger.Debug().
				Str("model", req.Model).
				Str("stopReason", resp.StopReason)
			if resp.Usage != nil {
				event = event.
					Int64("inputTokens", resp.Usage.InputTokens).
					Int64("outputTokens", resp.Usage.OutputTokens)
			}
			event.Msg("Provider request completed")
			return resp, nil
		},
		OnErrorFunc: func(ctx context.Context, req *llm.Request, err error) error {
			logger.Warn().
				Str("model", req.Model).
				Err(err).
				Msg("Provider request failed")
			return err
		},
	}
}

func (f *Factory) build(ctx context.Context, key *llm.ClientKey) (llm.Client, error) {
	switch key.Provider {
	case llm.ProviderAnthropic:
		return anthropic.NewAnthropicClient(key.APIKey, f.logger)
	case llm.ProviderOpenAI:
		return openai.NewOpenAIClient(key.APIKey, key.BaseURL, key.Model, key.Organization)
	case llm.ProviderGemini:
		return gemini.NewGeminiClient(ctx, key.APIKey, key.Model)
	case llm.ProviderOllama:
		return ollama.NewOllamaClient(key.Host, key.Model)
	default:
		return nil, fmt.Errorf("unknown provider: %s", key.Provider)
	}
}
