// Package conversations persists turn history per agent thread.
package conversations

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/turnstile-ai/turnstile/llm"
)

// Store handles persistence of conversation messages and reconstructs
// provider-neutral history for the pipeline.
type Store struct {
	db *sql.DB
}

// NewStore creates a conversation store.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) append(ctx context.Context, agentID, threadID, role, content string, toolName, toolID any) error {
	query := sq.Insert("conversations").
		Columns("agent_id", "thread_id", "role", "content", "tool_name", "tool_id", "created_at").
		Values(agentID, threadID, role, content, toolName, toolID, time.Now().Unix())

	queryStr, args, err := query.ToSql()
	if err != nil {
		return fmt.Errorf("build query: %w", err)
	}
	if toolID != nil {
		// Unique index on (agent_id, thread_id, tool_id, role) makes
		// re-persisting after a crash a no-op.
		queryStr = strings.Replace(queryStr, "INSERT INTO", "INSERT OR IGNORE INTO", 1)
	}

	_, err = s.db.ExecContext(ctx, queryStr, args...)
	return err
}

// AppendUserMessage saves a user text message.
func (s *Store) AppendUserMessage(ctx context.Context, agentID, threadID, content string) error {
	return s.append(ctx, agentID, threadID, "user", content, nil, nil)
}

// AppendAssistantMessage saves an assistant text-only message.
func (s *Store) AppendAssistantMessage(ctx context.Context, agentID, threadID, content string) error {
	return s.append(ctx, agentID, threadID, "assistant", content, nil, nil)
}

// AppendToolCall saves an assistant tool-use block.
func (s *Store) AppendToolCall(ctx context.Context, agentID, threadID, toolID, toolName string, toolInput any) error {
	contentJSON, err := json.Marshal(map[string]any{
		"id":    toolID,
		"name":  toolName,
		"input": toolInput,
	})
	if err != nil {
		return fmt.Errorf("marshal tool use data: %w", err)
	}
	return s.append(ctx, agentID, threadID, "assistant", string(contentJSON), toolName, toolID)
}

// AppendToolResult saves a tool result block.
func (s *Store) AppendToolResult(ctx context.Context, agentID, threadID, toolID, toolName, result string, isError bool) error {
	contentJSON, err := json.Marshal(map[string]any{
		"id":       toolID,
		"result":   result,
		"is_error": isError,
	})
	if err != nil {
		return fmt.Errorf("marshal tool result data: %w", err)
	}
	return s.append(ctx, agentID, threadID, "tool", string(contentJSON), toolName, toolID)
}

// History loads the most recent messages of a thread, oldest first, as
// provider-neutral messages ready for the pipeline.
func (s *Store) History(ctx context.Context, agentID, threadID string, limit int) ([]llm.Message, error) {
	if limit <= 0 {
		limit = 100
	}

	query := sq.Select("role", "content", "tool_name", "tool_id").
		From("conversations").
		Where(sq.Eq{"agent_id": agentID, "thread_id": threadID}).
		OrderBy("created_at DESC", "id DESC").
		Limit(uint64(limit))

	queryStr, args, err := query.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, queryStr, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close() //nolint:errcheck // Rows close error can be ignored

	type storedRow struct {
		role     string
		content  string
		toolName sql.NullString
		toolID   sql.NullString
	}
	var stored []storedRow
	for rows.Next() {
		var r storedRow
		if err := rows.Scan(&r.role, &r.content, &r.toolName, &r.toolID); err != nil {
			return nil, err
		}
		stored = append(stored, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Rows came back newest first; history is consumed oldest first.
	messages := make([]llm.Message, 0, len(stored))
	for i := len(stored) - 1; i >= 0; i-- {
		msg, err := rowToMessage(stored[i].role, stored[i].content, stored[i].toolID.Valid)
		if err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}
	return messages, nil
}

func rowToMessage(role, content string, hasToolID bool) (llm.Message, error) {
	switch {
	case role == "tool":
		var payload struct {
			ID      string `json:"id"`
			Result  string `json:"result"`
			IsError bool   `json:"is_error"`
		}
		if err := json.Unmarshal([]byte(content), &payload); err != nil {
			return llm.Message{}, fmt.Errorf("decode tool result row: %w", err)
		}
		return llm.NewToolResultMessage([]llm.ToolResultBlock{{
			ID:      payload.ID,
			Content: payload.Result,
			IsError: payload.IsError,
		}}), nil

	case role == "assistant" && hasToolID:
		var payload struct {
			ID    string         `json:"id"`
			Name  string         `json:"name"`
			Input map[string]any `json:"input"`
		}
		if err := json.Unmarshal([]byte(content), &payload); err != nil {
			return llm.Message{}, fmt.Errorf("decode tool call row: %w", err)
		}
		return llm.NewToolUseMessage([]llm.ToolUseBlock{{
			ID:    payload.ID,
			Name:  payload.Name,
			Input: payload.Input,
		}}), nil

	case role == "assistant":
		return llm.NewTextMessage(llm.RoleAssistant, content), nil

	default:
		return llm.NewTextMessage(llm.RoleUser, content), nil
	}
}
