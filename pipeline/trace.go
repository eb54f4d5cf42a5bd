// Package pipeline implements the turn state machine: the staged LLM
// pipeline, tool execution with guided retry, and the per-turn debug trace.
package pipeline

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/turnstile-ai/turnstile/llm"
	"github.com/turnstile-ai/turnstile/tools"
)

// StageName identifies one pipeline stage.
type StageName string

const (
	StageContextualAwareness StageName = "contextual_awareness"
	StageIntentClassifier    StageName = "intent_classifier"
	StageMainCaller          StageName = "main_caller"
	StageRetryAnalyzer       StageName = "retry_analyzer"
)

// StageRecord is one stage invocation in the trace. A record is appended for
// every stage that was actually invoked, whether it succeeded or not.
type StageRecord struct {
	Stage        StageName            `json:"stage"`
	Provider     string               `json:"provider"`
	Model        string               `json:"model"`
	Warnings     []llm.AdapterWarning `json:"warnings,omitempty"`
	InputTokens  int64                `json:"inputTokens"`
	OutputTokens int64                `json:"outputTokens"`
	StartedAt    time.Time            `json:"startedAt"`
	DurationMs   int64                `json:"durationMs"`
	Error        string               `json:"error,omitempty"`
}

// DebugTrace records everything that happened during one turn. It is owned
// by the turn's orchestrator; concurrent tool executions may append to it,
// so mutation is guarded.
type DebugTrace struct {
	mu sync.Mutex

	turnID    string
	startedAt time.Time
	stages    []StageRecord
	toolCalls []tools.Result
}

// NewTrace starts an empty trace for a new turn.
func NewTrace() *DebugTrace {
	return &DebugTrace{
		turnID:    uuid.NewString(),
		startedAt: time.Now(),
	}
}

// TurnID returns the unique ID assigned to this turn.
func (t *DebugTrace) TurnID() string {
	return t.turnID
}

// AddStage appends a stage record.
func (t *DebugTrace) AddStage(rec StageRecord) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stages = append(t.stages, rec)
}

// AddToolCall appends a tool execution record. Records for retried calls
// share the same call ID with distinct attempt numbers.
func (t *DebugTrace) AddToolCall(result tools.Result) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.toolCalls = append(t.toolCalls, result)
}

// Stages returns a copy of the stage records.
func (t *DebugTrace) Stages() []StageRecord {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]StageRecord(nil), t.stages...)
}

// ToolCalls returns a copy of the tool execution records.
func (t *DebugTrace) ToolCalls() []tools.Result {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]tools.Result(nil), t.toolCalls...)
}

// TotalTokens sums token usage across all stage records.
func (t *DebugTrace) TotalTokens() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	var total int64
	for _, rec := range t.stages {
		total += rec.InputTokens + rec.OutputTokens
	}
	return total
}

// Export is the wire form of a trace.
type Export struct {
	Stages          []StageRecord  `json:"stages"`
	ToolCalls       []tools.Result `json:"toolCalls"`
	TotalTokens     int64          `json:"totalTokens"`
	TotalDurationMs int64          `json:"totalDurationMs"`
}

// Snapshot renders the trace for persistence or display. Safe to call on a
// partial trace (canceled turn).
func (t *DebugTrace) Snapshot() Export {
	t.mu.Lock()
	defer t.mu.Unlock()

	var totalTokens int64
	for _, rec := range t.stages {
		totalTokens += rec.InputTokens + rec.OutputTokens
	}

	return Export{
		Stages:          append([]StageRecord{}, t.stages...),
		ToolCalls:       append([]tools.Result{}, t.toolCalls...),
		TotalTokens:     totalTokens,
		TotalDurationMs: time.Since(t.startedAt).Milliseconds(),
	}
}

// MarshalJSON exports the trace snapshot.
func (t *DebugTrace) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.Snapshot())
}
