package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/samber/lo"
	"github.com/turnstile-ai/turnstile/llm"
	"github.com/turnstile-ai/turnstile/resolver"
	"github.com/turnstile-ai/turnstile/retry"
)

// ClientSource yields a provider client for a resolved client key. The
// factory package's Factory satisfies this.
type ClientSource interface {
	Client(ctx context.Context, key *llm.ClientKey) (llm.Client, error)
}

// ContextResult is the output of the contextual-awareness stage.
type ContextResult struct {
	InterpretedMeaning string   `json:"interpretedMeaning"`
	UserIntent         string   `json:"userIntent"`
	ResolvedReferences []string `json:"resolvedReferences"`
}

// IntentResult is the output of the intent-classifier stage.
type IntentResult struct {
	NeedsTools bool    `json:"needsTools"`
	Confidence float64 `json:"confidence"`
	Reasoning  string  `json:"reasoning"`
}

// RetryDecision is the output of the retry-analyzer stage.
type RetryDecision struct {
	Retry              bool           `json:"retry"`
	CorrectedArguments map[string]any `json:"correctedArguments,omitempty"`
	Reason             string         `json:"reason"`
}

const (
	contextSystemPrompt = `You resolve references in user messages against conversation history.
Given the conversation so far and the latest user message, respond with JSON:
{"interpretedMeaning": "the message with pronouns and ellipsis resolved",
 "userIntent": "one sentence describing what the user wants",
 "resolvedReferences": ["each reference you resolved, as 'X -> Y'"]}
Respond with JSON only.`

	intentSystemPrompt = `You decide whether answering a user message requires calling external tools.
Available tools: %s
Respond with JSON:
{"needsTools": true|false,
 "confidence": 0.0-1.0,
 "reasoning": "one sentence"}
Respond with JSON only.`

	retrySystemPrompt = `A tool call failed. Decide whether correcting the arguments could make it succeed.
Respond with JSON:
{"retry": true|false,
 "correctedArguments": {...} (only when retry is true),
 "reason": "one sentence"}
Only suggest a retry when the error indicates a fixable argument problem. Respond with JSON only.`
)

const (
	fastStageMaxTokens = 1024
	mainCallMaxTokens  = 4096
)

// Stages runs individual pipeline stages: model resolution, adaptation,
// provider invocation, and trace recording.
type Stages struct {
	resolver  *resolver.Resolver
	providers *llm.ProviderRegistry
	clients   ClientSource
	table     *llm.CapabilityTable
	policy    *retry.Policy
	timeout   time.Duration
	logger    zerolog.Logger
}

// NewStages creates the stage runner. timeout bounds each provider call
// independently; zero means no per-stage bound.
func NewStages(
	res *resolver.Resolver,
	providers *llm.ProviderRegistry,
	clients ClientSource,
	table *llm.CapabilityTable,
	policy *retry.Policy,
	timeout time.Duration,
	logger zerolog.Logger,
) *Stages {
	return &Stages{
		resolver:  res,
		providers: providers,
		clients:   clients,
		table:     table,
		policy:    policy,
		timeout:   timeout,
		logger:    logger.With().Str("component", "pipelineStages").Logger(),
	}
}

// invoke resolves a model, adapts the request, calls the provider under the
// retry policy, and appends a stage record to the trace. modelOverride, when
// set, replaces the resolved model name (capability fallback).
func (s *Stages) invoke(
	ctx context.Context,
	trace *DebugTrace,
	stage StageName,
	agentID string,
	rctx resolver.ResolveContext,
	modelOverride string,
	req *llm.Request,
) (*llm.Response, error) {
	resolved, err := s.resolver.AgentModel(ctx, agentID, rctx)
	if err != nil {
		return nil, err
	}

	provider := resolved.Provider
	model := resolved.Model
	if modelOverride != "" {
		model = modelOverride
		provider = providerForModel(modelOverride, provider)
	}

	adapted, warnings := s.table.Adapt(req, model)
	for _, w := range warnings {
		s.logger.Warn().
			Str("stage", string(stage)).
			Str("model", w.Model).
			Str("field", w.Field).
			Msg("Adapter stripped unsupported field")
	}

	rec := StageRecord{
		Stage:     stage,
		Provider:  provider,
		Model:     model,
		Warnings:  warnings,
		StartedAt: time.Now(),
	}

	resp, err := s.complete(ctx, provider, model, adapted)
	rec.DurationMs = time.Since(rec.StartedAt).Milliseconds()
	if err != nil {
		rec.Error = err.Error()
		trace.AddStage(rec)
		return nil, err
	}
	if resp.Usage != nil {
		rec.InputTokens = resp.Usage.InputTokens
		rec.OutputTokens = resp.Usage.OutputTokens
	}
	trace.AddStage(rec)
	return resp, nil
}

func (s *Stages) complete(ctx context.Context, provider, model string, req *llm.Request) (*llm.Response, error) {
	key, err := s.providers.ResolveClientKey(provider, model)
	if err != nil {
		return nil, err
	}
	client, err := s.clients.Client(ctx, key)
	if err != nil {
		return nil, err
	}

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	return s.policy.Complete(ctx, client, req)
}

// ContextualAwareness interprets the raw user message against recent history.
func (s *Stages) ContextualAwareness(
	ctx context.Context,
	trace *DebugTrace,
	agentID, userMessage string,
	history []llm.Message,
) (*ContextResult, error) {
	var prompt strings.Builder
	if transcript := renderTranscript(history, 20); transcript != "" {
		prompt.WriteString("Conversation so far:\n")
		prompt.WriteString(transcript)
		prompt.WriteString("\n\n")
	}
	prompt.WriteString("Latest user message:\n")
	prompt.WriteString(userMessage)

	req := &llm.Request{
		System:         contextSystemPrompt,
		Messages:       []llm.Message{llm.NewTextMessage(llm.RoleUser, prompt.String())},
		MaxTokens:      fastStageMaxTokens,
		Temperature:    lo.ToPtr(0.0),
		ResponseFormat: llm.ResponseFormatJSON,
	}

	resp, err := s.invoke(ctx, trace, StageContextualAwareness, agentID, resolver.ContextFast, "", req)
	if err != nil {
		return nil, err
	}

	var result ContextResult
	if err := decodeStageJSON(resp.Text(), &result); err != nil {
		return nil, fmt.Errorf("contextual awareness returned unparseable output: %w", err)
	}
	if result.InterpretedMeaning == "" {
		result.InterpretedMeaning = userMessage
	}
	return &result, nil
}

// IntentClassifier decides whether the turn needs tools.
func (s *Stages) IntentClassifier(
	ctx context.Context,
	trace *DebugTrace,
	agentID string,
	interpreted *ContextResult,
	toolNames []string,
) (*IntentResult, error) {
	available := "none"
	if len(toolNames) > 0 {
		available = strings.Join(toolNames, ", ")
	}

	req := &llm.Request{
		System:         fmt.Sprintf(intentSystemPrompt, available),
		Messages:       []llm.Message{llm.NewTextMessage(llm.RoleUser, interpreted.InterpretedMeaning)},
		MaxTokens:      fastStageMaxTokens,
		Temperature:    lo.ToPtr(0.0),
		ResponseFormat: llm.ResponseFormatJSON,
	}

	resp, err := s.invoke(ctx, trace, StageIntentClassifier, agentID, resolver.ContextFast, "", req)
	if err != nil {
		return nil, err
	}

	var result IntentResult
	if err := decodeStageJSON(resp.Text(), &result); err != nil {
		return nil, fmt.Errorf("intent classifier returned unparseable output: %w", err)
	}
	if len(toolNames) == 0 {
		result.NeedsTools = false
	}
	return &result, nil
}

// MainCall runs the main model over the full conversation. When needsTools
// is set and the resolved model cannot call tools, the capability table's
// reasoning fallback is substituted before adapting.
func (s *Stages) MainCall(
	ctx context.Context,
	trace *DebugTrace,
	agentID string,
	systemPrompt string,
	messages []llm.Message,
	toolSpecs []llm.ToolSpec,
	needsTools bool,
) (*llm.Response, error) {
	resolved, err := s.resolver.AgentModel(ctx, agentID, resolver.ContextMain)
	if err != nil {
		return nil, err
	}

	var modelOverride string
	if needsTools && !s.table.Lookup(resolved.Model).SupportsTools {
		modelOverride = s.table.ReasoningFallback(resolved.Model)
		s.logger.Info().
			Str("agentID", agentID).
			Str("model", resolved.Model).
			Str("fallback", modelOverride).
			Msg("Preferred model cannot call tools, substituting fallback")
	}

	req := &llm.Request{
		System:    systemPrompt,
		Messages:  messages,
		MaxTokens: mainCallMaxTokens,
	}
	if needsTools {
		req.Tools = toolSpecs
	}
	applyParams(req, resolved.Params)

	return s.invoke(ctx, trace, StageMainCaller, agentID, resolver.ContextMain, modelOverride, req)
}

// RetryAnalyzer diagnoses a failed tool call and proposes corrected
// arguments or a terminal verdict.
func (s *Stages) RetryAnalyzer(
	ctx context.Context,
	trace *DebugTrace,
	agentID, toolName string,
	arguments map[string]any,
	errorMessage string,
) (*RetryDecision, error) {
	argsJSON, err := json.Marshal(arguments)
	if err != nil {
		argsJSON = []byte("{}")
	}

	prompt := fmt.Sprintf("Tool: %s\nArguments: %s\nError: %s", toolName, argsJSON, errorMessage)
	req := &llm.Request{
		System:         retrySystemPrompt,
		Messages:       []llm.Message{llm.NewTextMessage(llm.RoleUser, prompt)},
		MaxTokens:      fastStageMaxTokens,
		Temperature:    lo.ToPtr(0.0),
		ResponseFormat: llm.ResponseFormatJSON,
	}

	resp, err := s.invoke(ctx, trace, StageRetryAnalyzer, agentID, resolver.ContextFast, "", req)
	if err != nil {
		return nil, err
	}

	var decision RetryDecision
	if err := decodeStageJSON(resp.Text(), &decision); err != nil {
		return nil, fmt.Errorf("retry analyzer returned unparseable output: %w", err)
	}
	if decision.Retry && decision.CorrectedArguments == nil {
		decision.Retry = false
	}
	return &decision, nil
}

// applyParams overlays the agent's stored parameter bag onto the request.
func applyParams(req *llm.Request, params map[string]any) {
	if params == nil {
		return
	}
	if temp, ok := asFloat(params["temperature"]); ok {
		req.Temperature = &temp
	}
	if maxTokens, ok := asFloat(params["max_tokens"]); ok && maxTokens > 0 {
		req.MaxTokens = int64(maxTokens)
	}
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

// providerForModel infers the provider family from a model name, falling
// back to the current provider for unknown names.
func providerForModel(model, current string) string {
	lower := strings.ToLower(model)
	switch {
	case strings.HasPrefix(lower, "claude"):
		return llm.ProviderAnthropic
	case strings.HasPrefix(lower, "gpt"), strings.HasPrefix(lower, "o1"),
		strings.HasPrefix(lower, "o3"), strings.HasPrefix(lower, "o4"):
		return llm.ProviderOpenAI
	case strings.HasPrefix(lower, "gemini"):
		return llm.ProviderGemini
	default:
		return current
	}
}

// decodeStageJSON parses a stage's JSON output, tolerating markdown fences.
func decodeStageJSON(text string, out any) error {
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```json")
		text = strings.TrimPrefix(text, "```")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
		text = strings.TrimSpace(text)
	}
	return json.Unmarshal([]byte(text), out)
}

// renderTranscript flattens the most recent messages into plain text for the
// fast stages, which do not need full block structure.
func renderTranscript(history []llm.Message, limit int) string {
	if len(history) > limit {
		history = history[len(history)-limit:]
	}
	var b strings.Builder
	for _, msg := range history {
		text := msg.Text()
		if text == "" {
			continue
		}
		fmt.Fprintf(&b, "%s: %s\n", msg.Role, text)
	}
	return strings.TrimSpace(b.String())
}
