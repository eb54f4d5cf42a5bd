package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/turnstile-ai/turnstile/llm"
	"github.com/turnstile-ai/turnstile/resolver"
	"github.com/turnstile-ai/turnstile/retry"
	"github.com/turnstile-ai/turnstile/tools"
)

// fakeClient scripts stage responses by inspecting the request. Fast-stage
// requests are recognized by their system prompts; main-call responses are
// consumed from a queue.
type fakeClient struct {
	mu            sync.Mutex
	needsTools    bool
	retryDecision *RetryDecision
	mainResponses []*llm.Response
	mainErr       error
	requests      []*llm.Request
}

func textResponse(text string) *llm.Response {
	return &llm.Response{
		Content:    []llm.ContentBlock{{Type: llm.ContentBlockTypeText, Text: text}},
		Usage:      &llm.Usage{InputTokens: 10, OutputTokens: 5},
		StopReason: "stop",
	}
}

func jsonResponse(v any) *llm.Response {
	b, _ := json.Marshal(v)
	return textResponse(string(b))
}

func (c *fakeClient) Complete(_ context.Context, req *llm.Request) (*llm.Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.requests = append(c.requests, req)

	switch {
	case strings.Contains(req.System, "resolve references"):
		return jsonResponse(ContextResult{
			InterpretedMeaning: "send the report to Jon",
			UserIntent:         "send a report",
			ResolvedReferences: []string{"it -> the report"},
		}), nil
	case strings.Contains(req.System, "requires calling external tools"):
		return jsonResponse(IntentResult{NeedsTools: c.needsTools, Confidence: 0.9, Reasoning: "scripted"}), nil
	case strings.Contains(req.System, "A tool call failed"):
		decision := c.retryDecision
		if decision == nil {
			decision = &RetryDecision{Retry: false, Reason: "not fixable"}
		}
		return jsonResponse(decision), nil
	default:
		if c.mainErr != nil {
			return nil, c.mainErr
		}
		if len(c.mainResponses) == 0 {
			return textResponse("done"), nil
		}
		resp := c.mainResponses[0]
		c.mainResponses = c.mainResponses[1:]
		return resp, nil
	}
}

func (c *fakeClient) mainRequests() []*llm.Request {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []*llm.Request
	for _, req := range c.requests {
		if !strings.Contains(req.System, "Respond with JSON only.") {
			out = append(out, req)
		}
	}
	return out
}

type fakeClientSource struct {
	client *fakeClient
}

func (s *fakeClientSource) Client(context.Context, *llm.ClientKey) (llm.Client, error) {
	return s.client, nil
}

type staticPrefs struct {
	pref *resolver.Preference
}

func (s *staticPrefs) AgentModelPreference(context.Context, string) (*resolver.Preference, error) {
	return s.pref, nil
}

// fakeTools is both the Invoker and ToolSource for orchestrator tests.
type fakeTools struct {
	mu                 sync.Mutex
	specs              []llm.ToolSpec
	results            map[string]any
	errs               map[string]error
	failUntilCorrected bool
	delays             map[string]time.Duration
	calls              []string
}

func (f *fakeTools) Specs() []llm.ToolSpec { return f.specs }

func (f *fakeTools) Handle(ctx context.Context, toolName, agentID string, args json.RawMessage) (any, error) {
	f.mu.Lock()
	delay := f.delays[toolName]
	f.mu.Unlock()
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, toolName)

	if f.failUntilCorrected {
		var parsed map[string]any
		_ = json.Unmarshal(args, &parsed)
		if parsed["corrected"] != true {
			return nil, errors.New("invalid recipient domain")
		}
		return f.results[toolName], nil
	}
	if err, ok := f.errs[toolName]; ok {
		return nil, err
	}
	return f.results[toolName], nil
}

func (f *fakeTools) callCount(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c == name {
			n++
		}
	}
	return n
}

func toolSpec(name string) llm.ToolSpec {
	return llm.ToolSpec{
		Name:        name,
		Description: "test tool",
		Schema:      llm.ToolSchema{Type: "object"},
	}
}

func toolUseResponse(uses ...llm.ToolUseBlock) *llm.Response {
	content := make([]llm.ContentBlock, len(uses))
	for i := range uses {
		content[i] = llm.ContentBlock{Type: llm.ContentBlockTypeToolUse, ToolUse: &uses[i]}
	}
	return &llm.Response{
		Content:    content,
		Usage:      &llm.Usage{InputTokens: 20, OutputTokens: 10},
		StopReason: "tool_calls",
	}
}

func newTestOrchestrator(t *testing.T, client *fakeClient, ft *fakeTools, pref *resolver.Preference) *Orchestrator {
	t.Helper()

	res := resolver.New(&staticPrefs{pref: pref}, zerolog.Nop())
	providers := llm.NewProviderRegistry(&llm.ProviderConfig{
		AnthropicAPIKey: "test-key",
		OpenAIAPIKey:    "test-key",
		GeminiAPIKey:    "test-key",
	}, []string{llm.ProviderAnthropic, llm.ProviderOpenAI, llm.ProviderGemini})
	policy := retry.NewPolicy(0, time.Millisecond, time.Millisecond, zerolog.Nop())
	stages := NewStages(res, providers, &fakeClientSource{client: client}, llm.DefaultCapabilityTable(), policy, 0, zerolog.Nop())
	executor := tools.NewExecutor(ft, 0, zerolog.Nop())
	return NewOrchestrator(stages, executor, ft, zerolog.Nop())
}

func TestRunTurn_PlainTextAnswer(t *testing.T) {
	client := &fakeClient{
		needsTools:    false,
		mainResponses: []*llm.Response{textResponse("Here is your answer.")},
	}
	ft := &fakeTools{specs: []llm.ToolSpec{toolSpec("send_email")}}
	orch := newTestOrchestrator(t, client, ft, &resolver.Preference{Provider: "anthropic", Model: "claude-sonnet-4-5"})

	result := orch.RunTurn(context.Background(), Turn{AgentID: "agent-1", UserMessage: "hello"})

	if result.State != StateDone {
		t.Fatalf("state = %s, want done", result.State)
	}
	if result.Message != "Here is your answer." {
		t.Errorf("message = %q", result.Message)
	}

	stages := result.Trace.Stages()
	if len(stages) != 3 {
		t.Fatalf("got %d stage records, want 3", len(stages))
	}
	wantOrder := []StageName{StageContextualAwareness, StageIntentClassifier, StageMainCaller}
	for i, want := range wantOrder {
		if stages[i].Stage != want {
			t.Errorf("stage[%d] = %s, want %s", i, stages[i].Stage, want)
		}
		if stages[i].DurationMs < 0 {
			t.Errorf("stage[%d] missing duration", i)
		}
	}

	// Tools were not needed, so the main request must not carry tool schemas.
	mains := client.mainRequests()
	if len(mains) != 1 {
		t.Fatalf("got %d main requests, want 1", len(mains))
	}
	if len(mains[0].Tools) != 0 {
		t.Errorf("main request carries %d tools, want 0", len(mains[0].Tools))
	}
	// Contextual awareness output is injected into the main system prompt.
	if !strings.Contains(mains[0].System, "send the report to Jon") {
		t.Errorf("main system prompt missing interpreted context: %q", mains[0].System)
	}
}

func TestRunTurn_ToolCallSuccess(t *testing.T) {
	client := &fakeClient{
		needsTools: true,
		mainResponses: []*llm.Response{
			toolUseResponse(llm.ToolUseBlock{ID: "call_1", Name: "send_email", Input: map[string]any{"to": "jon@example.com"}}),
			textResponse("Email sent."),
		},
	}
	ft := &fakeTools{
		specs:   []llm.ToolSpec{toolSpec("send_email")},
		results: map[string]any{"send_email": map[string]any{"sent": true}},
	}
	orch := newTestOrchestrator(t, client, ft, &resolver.Preference{Provider: "anthropic", Model: "claude-sonnet-4-5"})

	result := orch.RunTurn(context.Background(), Turn{AgentID: "agent-1", UserMessage: "send it"})

	if result.State != StateDone {
		t.Fatalf("state = %s, want done", result.State)
	}
	if result.Message != "Email sent." {
		t.Errorf("message = %q", result.Message)
	}

	toolCalls := result.Trace.ToolCalls()
	if len(toolCalls) != 1 {
		t.Fatalf("got %d tool records, want 1", len(toolCalls))
	}
	if !toolCalls[0].Success || toolCalls[0].Attempt != 1 {
		t.Errorf("tool record = %+v", toolCalls[0])
	}

	// Second main request folds the tool result back in.
	mains := client.mainRequests()
	if len(mains) != 2 {
		t.Fatalf("got %d main requests, want 2", len(mains))
	}
	last := mains[1].Messages[len(mains[1].Messages)-1]
	if last.Content[0].Type != llm.ContentBlockTypeToolResult {
		t.Fatalf("last message is not a tool result: %+v", last)
	}
	if last.Content[0].ToolResult.IsError {
		t.Error("tool result folded as error")
	}
}

func TestRunTurn_FailedToolRetriedWithCorrectedArgs(t *testing.T) {
	client := &fakeClient{
		needsTools: true,
		retryDecision: &RetryDecision{
			Retry:              true,
			CorrectedArguments: map[string]any{"corrected": true},
			Reason:             "fix the domain",
		},
		mainResponses: []*llm.Response{
			toolUseResponse(llm.ToolUseBlock{ID: "call_1", Name: "send_email", Input: map[string]any{"to": "jon@x"}}),
			textResponse("Sent after fixing the address."),
		},
	}
	ft := &fakeTools{
		specs:              []llm.ToolSpec{toolSpec("send_email")},
		results:            map[string]any{"send_email": map[string]any{"sent": true}},
		failUntilCorrected: true,
	}
	orch := newTestOrchestrator(t, client, ft, &resolver.Preference{Provider: "anthropic", Model: "claude-sonnet-4-5"})

	result := orch.RunTurn(context.Background(), Turn{AgentID: "agent-1", UserMessage: "send it"})

	if result.State != StateDone {
		t.Fatalf("state = %s, want done", result.State)
	}

	// Two records for the same logical call: failed original, successful retry.
	toolCalls := result.Trace.ToolCalls()
	if len(toolCalls) != 2 {
		t.Fatalf("got %d tool records, want 2", len(toolCalls))
	}
	if toolCalls[0].ID != "call_1" || toolCalls[1].ID != "call_1" {
		t.Errorf("records do not share the call ID: %+v", toolCalls)
	}
	if toolCalls[0].Success || toolCalls[0].Attempt != 1 {
		t.Errorf("first record = %+v, want failed attempt 1", toolCalls[0])
	}
	if !toolCalls[1].Success || toolCalls[1].Attempt != 2 {
		t.Errorf("second record = %+v, want successful attempt 2", toolCalls[1])
	}
	if ft.callCount("send_email") != 2 {
		t.Errorf("tool executed %d times, want 2", ft.callCount("send_email"))
	}
}

func TestRunTurn_TerminalToolFailureFoldedIntoContext(t *testing.T) {
	client := &fakeClient{
		needsTools:    true,
		retryDecision: &RetryDecision{Retry: false, Reason: "auth expired"},
		mainResponses: []*llm.Response{
			toolUseResponse(llm.ToolUseBlock{ID: "call_1", Name: "send_email", Input: map[string]any{"to": "jon@example.com"}}),
			textResponse("I could not send the email because the integration failed."),
		},
	}
	ft := &fakeTools{
		specs: []llm.ToolSpec{toolSpec("send_email")},
		errs:  map[string]error{"send_email": errors.New("auth expired")},
	}
	orch := newTestOrchestrator(t, client, ft, &resolver.Preference{Provider: "anthropic", Model: "claude-sonnet-4-5"})

	result := orch.RunTurn(context.Background(), Turn{AgentID: "agent-1", UserMessage: "send it"})

	if result.State != StateDone {
		t.Fatalf("state = %s, want done", result.State)
	}
	// Bounded retry: terminal verdict means exactly one execution.
	if ft.callCount("send_email") != 1 {
		t.Errorf("tool executed %d times, want 1", ft.callCount("send_email"))
	}

	// The failure is folded back as an error tool result for the next pass.
	mains := client.mainRequests()
	if len(mains) != 2 {
		t.Fatalf("got %d main requests, want 2", len(mains))
	}
	last := mains[1].Messages[len(mains[1].Messages)-1]
	if !last.Content[0].ToolResult.IsError {
		t.Error("failed tool result not marked as error")
	}
	if !strings.Contains(last.Content[0].ToolResult.Content, "auth expired") {
		t.Errorf("failure reason not folded into context: %q", last.Content[0].ToolResult.Content)
	}
}

func TestRunTurn_ReasoningFallbackForToolIncapableModel(t *testing.T) {
	client := &fakeClient{
		needsTools: true,
		mainResponses: []*llm.Response{
			toolUseResponse(llm.ToolUseBlock{ID: "call_1", Name: "send_email", Input: map[string]any{}}),
			textResponse("Sent."),
		},
	}
	ft := &fakeTools{
		specs:   []llm.ToolSpec{toolSpec("send_email")},
		results: map[string]any{"send_email": "ok"},
	}
	// o1-preview cannot call tools; the main call must fall back.
	orch := newTestOrchestrator(t, client, ft, &resolver.Preference{Provider: "openai", Model: "o1-preview"})

	result := orch.RunTurn(context.Background(), Turn{AgentID: "agent-1", UserMessage: "send it"})

	if result.State != StateDone {
		t.Fatalf("state = %s, want done", result.State)
	}
	mains := client.mainRequests()
	if len(mains) == 0 {
		t.Fatal("no main requests recorded")
	}
	if mains[0].Model != "gpt-4o" {
		t.Errorf("main model = %q, want fallback gpt-4o", mains[0].Model)
	}
	if len(mains[0].Tools) == 0 {
		t.Error("fallback main request carries no tools")
	}

	stages := result.Trace.Stages()
	for _, rec := range stages {
		if rec.Stage == StageMainCaller && rec.Model != "gpt-4o" {
			t.Errorf("main stage recorded model %q, want gpt-4o", rec.Model)
		}
	}
}

func TestRunTurn_ConcurrentToolResultsKeepModelOrder(t *testing.T) {
	client := &fakeClient{
		needsTools: true,
		mainResponses: []*llm.Response{
			toolUseResponse(
				llm.ToolUseBlock{ID: "call_slow", Name: "slow_tool", Input: map[string]any{}},
				llm.ToolUseBlock{ID: "call_fast", Name: "fast_tool", Input: map[string]any{}},
			),
			textResponse("done"),
		},
	}
	ft := &fakeTools{
		specs: []llm.ToolSpec{toolSpec("slow_tool"), toolSpec("fast_tool")},
		results: map[string]any{
			"slow_tool": "slow result",
			"fast_tool": "fast result",
		},
		delays: map[string]time.Duration{"slow_tool": 50 * time.Millisecond},
	}
	orch := newTestOrchestrator(t, client, ft, &resolver.Preference{Provider: "anthropic", Model: "claude-sonnet-4-5"})

	result := orch.RunTurn(context.Background(), Turn{AgentID: "agent-1", UserMessage: "go"})
	if result.State != StateDone {
		t.Fatalf("state = %s, want done", result.State)
	}

	// Folded results follow the model's original call order even though the
	// first call finished last.
	mains := client.mainRequests()
	last := mains[1].Messages[len(mains[1].Messages)-1]
	if len(last.Content) != 2 {
		t.Fatalf("got %d folded results, want 2", len(last.Content))
	}
	if last.Content[0].ToolResult.ID != "call_slow" {
		t.Errorf("first folded result = %s, want call_slow", last.Content[0].ToolResult.ID)
	}
	if last.Content[1].ToolResult.ID != "call_fast" {
		t.Errorf("second folded result = %s, want call_fast", last.Content[1].ToolResult.ID)
	}
}

func TestRunTurn_TerminalStageFailureProducesApology(t *testing.T) {
	client := &fakeClient{
		needsTools: false,
		mainErr:    llm.NewSafetyError("blocked: graphic content policy violation xyz123", nil),
	}
	ft := &fakeTools{}
	orch := newTestOrchestrator(t, client, ft, &resolver.Preference{Provider: "anthropic", Model: "claude-sonnet-4-5"})

	result := orch.RunTurn(context.Background(), Turn{AgentID: "agent-1", UserMessage: "hello"})

	if result.State != StateDone {
		t.Fatalf("state = %s, want done", result.State)
	}
	if result.Message == "" {
		t.Fatal("no user-visible message for terminal failure")
	}
	// The raw provider error string never reaches the user.
	if strings.Contains(result.Message, "xyz123") {
		t.Errorf("raw provider error leaked: %q", result.Message)
	}

	// The failed stage is still recorded with its duration.
	stages := result.Trace.Stages()
	var mainRec *StageRecord
	for i := range stages {
		if stages[i].Stage == StageMainCaller {
			mainRec = &stages[i]
		}
	}
	if mainRec == nil {
		t.Fatal("no main stage record for failed stage")
	}
	if mainRec.Error == "" {
		t.Error("failed stage record missing error")
	}
}

func TestRunTurn_CancellationFlushesPartialTrace(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	client := &fakeClient{needsTools: false}
	// Cancel as soon as the main call begins.
	client.mainErr = context.Canceled
	ft := &fakeTools{}
	orch := newTestOrchestrator(t, client, ft, &resolver.Preference{Provider: "anthropic", Model: "claude-sonnet-4-5"})

	cancel()
	result := orch.RunTurn(ctx, Turn{AgentID: "agent-1", UserMessage: "hello"})

	if result.State != StateCanceled {
		t.Fatalf("state = %s, want canceled", result.State)
	}
	if result.Trace == nil {
		t.Fatal("canceled turn missing trace")
	}
	snapshot := result.Trace.Snapshot()
	if snapshot.TotalDurationMs < 0 {
		t.Error("snapshot missing duration")
	}
}

func TestTraceExportShape(t *testing.T) {
	trace := NewTrace()
	trace.AddStage(StageRecord{Stage: StageMainCaller, Model: "gpt-4o", InputTokens: 100, OutputTokens: 50, DurationMs: 12})
	trace.AddToolCall(tools.Result{ID: "call_1", Name: "send_email", Success: true, DurationMs: 3})

	data, err := json.Marshal(trace)
	if err != nil {
		t.Fatalf("marshal trace: %v", err)
	}

	var export map[string]json.RawMessage
	if err := json.Unmarshal(data, &export); err != nil {
		t.Fatalf("unmarshal trace: %v", err)
	}
	for _, key := range []string{"stages", "toolCalls", "totalTokens", "totalDurationMs"} {
		if _, ok := export[key]; !ok {
			t.Errorf("export missing key %q", key)
		}
	}

	var parsed Export
	if err := json.Unmarshal(data, &parsed); err != nil {
		t.Fatalf("unmarshal export: %v", err)
	}
	if parsed.TotalTokens != 150 {
		t.Errorf("totalTokens = %d, want 150", parsed.TotalTokens)
	}
	if len(parsed.Stages) != 1 || len(parsed.ToolCalls) != 1 {
		t.Errorf("export shape = %d stages, %d toolCalls", len(parsed.Stages), len(parsed.ToolCalls))
	}
}

func TestUserFacingFailureMessages(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"safety", llm.NewSafetyError("raw", nil), "safety system"},
		{"rate limit", llm.NewRateLimitError("raw", nil, nil), "too many requests"},
		{"invalid request", llm.NewInvalidRequestError("raw", nil), "rephrasing"},
		{"unknown", fmt.Errorf("boom"), "something went wrong"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := userFacingFailure(tt.err)
			if !strings.Contains(got, tt.want) {
				t.Errorf("userFacingFailure() = %q, want substring %q", got, tt.want)
			}
			if strings.Contains(got, "raw") {
				t.Errorf("raw error text leaked: %q", got)
			}
		})
	}
}
