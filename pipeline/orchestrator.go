package pipeline

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"github.com/turnstile-ai/turnstile/llm"
	"github.com/turnstile-ai/turnstile/tools"
)

// State is the orchestrator's position in the turn state machine.
type State string

const (
	StateAwaitingContext       State = "awaiting_context"
	StateAwaitingIntent        State = "awaiting_intent"
	StateAwaitingMainResponse  State = "awaiting_main_response"
	StateAwaitingToolExecution State = "awaiting_tool_execution"
	StateAwaitingRetryDecision State = "awaiting_retry_decision"
	StateDone                  State = "done"
	StateCanceled              State = "canceled"
)

// Turn is one user message to process.
type Turn struct {
	AgentID      string
	ThreadID     string
	UserMessage  string
	SystemPrompt string
	History      []llm.Message
}

// TurnResult is the terminal outcome of a turn. Message is always user
// visible; raw provider errors never appear in it. Trace is complete for
// Done and partial for Canceled.
type TurnResult struct {
	State   State
	Message string
	Trace   *DebugTrace
}

// ToolSource supplies the tool schemas offered to the main model.
type ToolSource interface {
	Specs() []llm.ToolSpec
}

// Orchestrator drives a turn through the staged pipeline.
type Orchestrator struct {
	stages        *Stages
	executor      *tools.Executor
	toolSource    ToolSource
	maxToolRounds int
	logger        zerolog.Logger
}

const defaultMaxToolRounds = 8

// NewOrchestrator creates a turn orchestrator.
func NewOrchestrator(stages *Stages, executor *tools.Executor, toolSource ToolSource, logger zerolog.Logger) *Orchestrator {
	return &Orchestrator{
		stages:        stages,
		executor:      executor,
		toolSource:    toolSource,
		maxToolRounds: defaultMaxToolRounds,
		logger:        logger.With().Str("component", "orchestrator").Logger(),
	}
}

// RunTurn processes one user message to a terminal state. The returned
// result always carries the trace, including on cancellation.
func (o *Orchestrator) RunTurn(ctx context.Context, turn Turn) *TurnResult {
	trace := NewTrace()
	logger := o.logger.With().
		Str("turnID", trace.TurnID()).
		Str("agentID", turn.AgentID).
		Logger()

	// AwaitingContext
	interp, err := o.stages.ContextualAwareness(ctx, trace, turn.AgentID, turn.UserMessage, turn.History)
	if err != nil {
		return o.finishFailed(ctx, trace, StateAwaitingContext, err, logger)
	}

	// AwaitingIntent
	specs := o.toolSource.Specs()
	toolNames := make([]string, len(specs))
	for i, spec := range specs {
		toolNames[i] = spec.Name
	}
	intent, err := o.stages.IntentClassifier(ctx, trace, turn.AgentID, interp, toolNames)
	if err != nil {
		return o.finishFailed(ctx, trace, StateAwaitingIntent, err, logger)
	}
	logger.Debug().
		Bool("needsTools", intent.NeedsTools).
		Float64("confidence", intent.Confidence).
		Msg("Intent classified")

	systemPrompt := buildSystemPrompt(turn.SystemPrompt, interp)
	messages := append(append([]llm.Message(nil), turn.History...),
		llm.NewTextMessage(llm.RoleUser, turn.UserMessage))

	// AwaitingMainResponse, looping through tool rounds as needed.
	for round := 0; round < o.maxToolRounds; round++ {
		resp, err := o.stages.MainCall(ctx, trace, turn.AgentID, systemPrompt, messages, specs, intent.NeedsTools)
		if err != nil {
			return o.finishFailed(ctx, trace, StateAwaitingMainResponse, err, logger)
		}

		toolUses := resp.ToolUses()
		if len(toolUses) == 0 {
			return &TurnResult{State: StateDone, Message: resp.Text(), Trace: trace}
		}

		// AwaitingToolExecution / AwaitingRetryDecision
		results := o.executeToolCalls(ctx, trace, turn.AgentID, toolUses)
		if ctx.Err() != nil {
			return o.finishCanceled(trace, logger)
		}

		messages = append(messages,
			llm.Message{Role: llm.RoleAssistant, Content: resp.Content},
			foldToolResults(toolUses, results))
	}

	logger.Warn().Int("rounds", o.maxToolRounds).Msg("Turn exceeded tool round limit")
	return &TurnResult{
		State:   StateDone,
		Message: "I wasn't able to finish this request: it required more tool calls than I'm allowed to make in one turn. Please try breaking it into smaller steps.",
		Trace:   trace,
	}
}

// executeToolCalls runs every tool call from one main response. Independent
// calls run concurrently; results are kept in the model's original call
// order. Each failed call gets at most one analyzer-guided retry.
func (o *Orchestrator) executeToolCalls(
	ctx context.Context,
	trace *DebugTrace,
	agentID string,
	toolUses []*llm.ToolUseBlock,
) []tools.Result {
	results := make([]tools.Result, len(toolUses))

	var wg sync.WaitGroup
	for i, use := range toolUses {
		wg.Add(1)
		go func(i int, use *llm.ToolUseBlock) {
			defer wg.Done()
			result := o.executor.Execute(ctx, tools.CallRequest{
				ID:        use.ID,
				Name:      use.Name,
				AgentID:   agentID,
				Arguments: use.Input,
			}, 1)
			trace.AddToolCall(result)
			results[i] = result
		}(i, use)
	}
	wg.Wait()

	// Retry decisions run after the whole batch so a slow analyzer call
	// never delays sibling executions.
	for i, use := range toolUses {
		if results[i].Success || ctx.Err() != nil {
			continue
		}
		retried := o.retryFailedCall(ctx, trace, agentID, use, results[i])
		if retried != nil {
			results[i] = *retried
		}
	}
	return results
}

// retryFailedCall consults the retry analyzer for a failed call and executes
// one corrected attempt when advised. Returns nil when the failure stands.
func (o *Orchestrator) retryFailedCall(
	ctx context.Context,
	trace *DebugTrace,
	agentID string,
	use *llm.ToolUseBlock,
	failed tools.Result,
) *tools.Result {
	decision, err := o.stages.RetryAnalyzer(ctx, trace, agentID, use.Name, use.Input, failed.ErrorMessage)
	if err != nil {
		// Analyzer failure is recovered locally: the tool call stays failed.
		o.logger.Warn().Err(err).Str("tool", use.Name).Msg("Retry analyzer failed, keeping tool failure")
		return nil
	}
	if !decision.Retry {
		o.logger.Info().
			Str("tool", use.Name).
			Str("reason", decision.Reason).
			Msg("Retry analyzer issued terminal verdict")
		return nil
	}

	result := o.executor.Execute(ctx, tools.CallRequest{
		ID:        use.ID,
		Name:      use.Name,
		AgentID:   agentID,
		Arguments: decision.CorrectedArguments,
	}, 2)
	trace.AddToolCall(result)
	return &result
}

func (o *Orchestrator) finishFailed(ctx context.Context, trace *DebugTrace, state State, err error, logger zerolog.Logger) *TurnResult {
	if ctx.Err() != nil {
		return o.finishCanceled(trace, logger)
	}
	logger.Error().Err(err).Str("state", string(state)).Msg("Stage failed terminally")
	return &TurnResult{
		State:   StateDone,
		Message: userFacingFailure(err),
		Trace:   trace,
	}
}

func (o *Orchestrator) finishCanceled(trace *DebugTrace, logger zerolog.Logger) *TurnResult {
	logger.Info().Msg("Turn canceled, flushing partial trace")
	return &TurnResult{State: StateCanceled, Trace: trace}
}

// userFacingFailure maps a terminal stage error to a message safe to show
// the user. Raw provider error strings never pass through.
func userFacingFailure(err error) string {
	switch {
	case llm.IsSafetyError(err):
		return "I wasn't able to respond to that message because it was declined by the model provider's safety system."
	case llm.IsRateLimitError(err):
		return "I'm receiving too many requests right now. Please wait a moment and try again."
	case llm.IsInvalidRequestError(err):
		return "I ran into a problem building the request for the language model. Please try rephrasing your message."
	default:
		return "I'm sorry, something went wrong while processing your message. Please try again."
	}
}

// buildSystemPrompt injects the contextual-awareness output as extra system
// context for the rest of the turn.
func buildSystemPrompt(base string, interp *ContextResult) string {
	var b strings.Builder
	if base != "" {
		b.WriteString(base)
		b.WriteString("\n\n")
	}
	b.WriteString("Context from this conversation:\n")
	fmt.Fprintf(&b, "- Interpreted message: %s\n", interp.InterpretedMeaning)
	if interp.UserIntent != "" {
		fmt.Fprintf(&b, "- User intent: %s\n", interp.UserIntent)
	}
	for _, ref := range interp.ResolvedReferences {
		fmt.Fprintf(&b, "- Resolved reference: %s\n", ref)
	}
	return strings.TrimSpace(b.String())
}

// foldToolResults builds the tool-result message in the model's original
// call order, regardless of completion order.
func foldToolResults(toolUses []*llm.ToolUseBlock, results []tools.Result) llm.Message {
	blocks := make([]llm.ToolResultBlock, len(toolUses))
	for i, use := range toolUses {
		blocks[i] = llm.ToolResultBlock{
			ID:      use.ID,
			Content: results[i].Content(),
			IsError: !results[i].Success,
		}
	}
	return llm.NewToolResultMessage(blocks)
}
