package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/turnstile-ai/turnstile/pipeline"
	"github.com/turnstile-ai/turnstile/tools"
)

const historyWindow = 40

type runTurnRequest struct {
	AgentID      string `json:"agentId"`
	ThreadID     string `json:"threadId"`
	Message      string `json:"message"`
	SystemPrompt string `json:"systemPrompt"`
}

type runTurnResponse struct {
	TurnID   string `json:"turnId"`
	ThreadID string `json:"threadId"`
	State    string `json:"state"`
	Message  string `json:"message"`
}

func (s *Server) handleRunTurn(w http.ResponseWriter, r *http.Request) {
	var req runTurnRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.AgentID == "" || req.Message == "" {
		respondError(w, http.StatusBadRequest, "agentId and message are required")
		return
	}
	if req.ThreadID == "" {
		req.ThreadID = uuid.NewString()
	}

	ctx := r.Context()
	history, err := s.conversations.History(ctx, req.AgentID, req.ThreadID, historyWindow)
	if err != nil {
		s.logger.Error().Err(err).Str("threadID", req.ThreadID).Msg("Failed to load conversation history")
		respondError(w, http.StatusInternalServerError, "failed to load conversation history")
		return
	}

	if err := s.conversations.AppendUserMessage(ctx, req.AgentID, req.ThreadID, req.Message); err != nil {
		s.logger.Error().Err(err).Msg("Failed to persist user message")
		respondError(w, http.StatusInternalServerError, "failed to persist message")
		return
	}

	result := s.orchestrator.RunTurn(ctx, pipeline.Turn{
		AgentID:      req.AgentID,
		ThreadID:     req.ThreadID,
		UserMessage:  req.Message,
		SystemPrompt: req.SystemPrompt,
		History:      history,
	})

	s.persistOutcome(req, result)

	respondJSON(w, http.StatusOK, runTurnResponse{
		TurnID:   result.Trace.TurnID(),
		ThreadID: req.ThreadID,
		State:    string(result.State),
		Message:  result.Message,
	})
}

// persistOutcome saves the tool transcript, the assistant reply, and the
// debug trace. It runs on a fresh context so a canceled turn still gets its
// partial trace flushed.
func (s *Server) persistOutcome(req runTurnRequest, result *pipeline.TurnResult) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Tool rows go in before the final assistant text so a reloaded
	// history replays the turn in order.
	s.persistToolTranscript(ctx, req, result.Trace.ToolCalls())

	if result.Message != "" {
		if err := s.conversations.AppendAssistantMessage(ctx, req.AgentID, req.ThreadID, result.Message); err != nil {
			s.logger.Error().Err(err).Msg("Failed to persist assistant message")
		}
	}

	export := result.Trace.Snapshot()
	if err := s.traces.Save(ctx, req.AgentID, req.ThreadID, result.Trace.TurnID(), string(result.State), export); err != nil {
		s.logger.Error().Err(err).Str("turnID", result.Trace.TurnID()).Msg("Failed to persist debug trace")
	}
}

// persistToolTranscript writes one tool-call and one tool-result row per
// logical call. Retried calls share an ID; the final attempt is the one
// that joins the conversation.
func (s *Server) persistToolTranscript(ctx context.Context, req runTurnRequest, calls []tools.Result) {
	final := make(map[string]tools.Result, len(calls))
	var order []string
	for _, call := range calls {
		if _, seen := final[call.ID]; !seen {
			order = append(order, call.ID)
		}
		final[call.ID] = call
	}

	for _, id := range order {
		call := final[id]
		if err := s.conversations.AppendToolCall(ctx, req.AgentID, req.ThreadID, call.ID, call.Name, call.Arguments); err != nil {
			s.logger.Error().Err(err).Str("tool", call.Name).Msg("Failed to persist tool call")
			continue
		}
		if err := s.conversations.AppendToolResult(ctx, req.AgentID, req.ThreadID, call.ID, call.Name, call.Content(), !call.Success); err != nil {
			s.logger.Error().Err(err).Str("tool", call.Name).Msg("Failed to persist tool result")
		}
	}
}
