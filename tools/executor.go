package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// CallRequest is one model-requested tool invocation.
type CallRequest struct {
	// ID is the provider-assigned tool-use ID, stable across retries of the
	// same logical call.
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	AgentID   string         `json:"agentId"`
	Arguments map[string]any `json:"arguments"`
}

// Result is the outcome of one tool execution attempt. Arguments carries
// the arguments the attempt actually ran with, which differ from the
// original call's on a corrected retry.
type Result struct {
	ID           string         `json:"id"`
	Name         string         `json:"name"`
	Attempt      int            `json:"attempt"`
	Arguments    map[string]any `json:"arguments,omitempty"`
	Success      bool           `json:"success"`
	Payload      any            `json:"payload,omitempty"`
	ErrorMessage string         `json:"errorMessage,omitempty"`
	StartedAt    time.Time      `json:"startedAt"`
	DurationMs   int64          `json:"durationMs"`
}

// Content renders the result as a string for folding back into the
// conversation as a tool-result block.
func (r *Result) Content() string {
	if !r.Success {
		return r.ErrorMessage
	}
	if r.Payload == nil {
		return "{}"
	}
	b, err := json.Marshal(r.Payload)
	if err != nil {
		return fmt.Sprintf("%v", r.Payload)
	}
	return string(b)
}

// Invoker runs a named tool. The registry satisfies this.
type Invoker interface {
	Handle(ctx context.Context, toolName, agentID string, args json.RawMessage) (any, error)
}

// Executor runs tool calls against an Invoker. Execute never returns an
// error: every failure, including a panicking handler, is captured into the
// Result so the pipeline can decide what to do with it.
type Executor struct {
	invoker Invoker
	timeout time.Duration
	logger  zerolog.Logger
}

// NewExecutor creates an Executor. A zero timeout means calls inherit the
// caller's context deadline unchanged.
func NewExecutor(invoker Invoker, timeout time.Duration, logger zerolog.Logger) *Executor {
	return &Executor{
		invoker: invoker,
		timeout: timeout,
		logger:  logger.With().Str("component", "toolExecutor").Logger(),
	}
}

// Execute runs one tool call attempt and reports its outcome with wall-clock
// timing. attempt is 1 for the original call, 2 for a guided retry.
func (e *Executor) Execute(ctx context.Context, req CallRequest, attempt int) Result {
	result := Result{
		ID:        req.ID,
		Name:      req.Name,
		Attempt:   attempt,
		Arguments: req.Arguments,
		StartedAt: time.Now(),
	}

	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	payload, err := e.invoke(ctx, req)
	result.DurationMs = time.Since(result.StartedAt).Milliseconds()

	if err != nil {
		result.ErrorMessage = err.Error()
		e.logger.Warn().
			Str("tool", req.Name).
			Str("callID", req.ID).
			Int("attempt", attempt).
			Int64("durationMs", result.DurationMs).
			Err(err).
			Msg("Tool execution failed")
		return result
	}

	result.Success = true
	result.Payload = payload
	e.logger.Info().
		Str("tool", req.Name).
		Str("callID", req.ID).
		Int("attempt", attempt).
		Int64("durationMs", result.DurationMs).
		Msg("Tool execution succeeded")
	return result
}

func (e *Executor) invoke(ctx context.Context, req CallRequest) (payload any, err error) {
	defer func() {
		if r := recover(); r != nil {
			payload = nil
			err = fmt.Errorf("tool %s panicked: %v", req.Name, r)
		}
	}()

	args, err := json.Marshal(req.Arguments)
	if err != nil {
		return nil, fmt.Errorf("marshal arguments: %w", err)
	}
	return e.invoker.Handle(ctx, req.Name, req.AgentID, args)
}
