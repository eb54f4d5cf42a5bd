package tools

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/gen2brain/beeep"
	"github.com/turnstile-ai/turnstile/llm"
)

// RegisterNotificationTools registers the notify_user tool. Notifications are
// persisted to the inbox table and mirrored as a desktop notification.
func (r *Registry) RegisterNotificationTools(db *sql.DB) {
	r.logger.Info().Msg("Registering notification tools in registry")

	spec := llm.ToolSpec{
		Name:        "notify_user",
		Description: "Send the user a notification. Use for important updates that should reach the user even when they are not watching the conversation.",
		Schema: llm.ToolSchema{
			Type: "object",
			Properties: map[string]any{
				"message": map[string]any{
					"type":        "string",
					"description": "The notification body",
				},
				"title": map[string]any{
					"type":        "string",
					"description": "Optional notification title",
				},
				"thread_id": map[string]any{
					"type":        "string",
					"description": "Conversation thread the notification relates to",
				},
			},
			Required: []string{"message"},
		},
	}

	r.Register(spec, func(ctx context.Context, agentID string, args json.RawMessage) (any, error) {
		var payload struct {
			Message  string `json:"message"`
			Title    string `json:"title"`
			ThreadID string `json:"thread_id"`
		}
		if err := json.Unmarshal(args, &payload); err != nil {
			return nil, fmt.Errorf("failed to unmarshal arguments: %w", err)
		}
		if payload.Message == "" {
			return nil, fmt.Errorf("message cannot be empty")
		}

		now := time.Now().Unix()

		query := sq.Insert("inbox").
			Columns("agent_id", "thread_id", "message", "created_at").
			Values(agentID, payload.ThreadID, payload.Message, now)

		queryStr, queryArgs, err := query.ToSql()
		if err != nil {
			return nil, fmt.Errorf("build insert query: %w", err)
		}

		result, err := db.ExecContext(ctx, queryStr, queryArgs...)
		if err != nil {
			return nil, fmt.Errorf("failed to insert notification into inbox: %w", err)
		}

		inboxID, err := result.LastInsertId()
		if err != nil {
			r.logger.Warn().Err(err).Msg("Failed to get last insert ID for inbox")
		}

		title := payload.Title
		if title == "" {
			title = "Turnstile"
		}

		// Desktop delivery is best effort. The inbox row is the durable copy.
		notifErr := beeep.Notify(title, payload.Message, "")
		if notifErr != nil {
			r.logger.Warn().Err(notifErr).Msg("Failed to send desktop notification (still saved to inbox)")
		}

		return map[string]any{
			"id":                inboxID,
			"message":           payload.Message,
			"title":             title,
			"thread_id":         payload.ThreadID,
			"created_at":        now,
			"notification_sent": notifErr == nil,
		}, nil
	})
}
