// Package prefs persists per-agent model preferences.
package prefs

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/turnstile-ai/turnstile/resolver"
)

// Store reads and writes agent model preferences. It implements
// resolver.PreferenceStore.
type Store struct {
	db *sql.DB
}

// NewStore creates a preference store.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// AgentModelPreference loads the preference row for an agent. A missing row
// returns (nil, nil).
func (s *Store) AgentModelPreference(ctx context.Context, agentID string) (*resolver.Preference, error) {
	query := sq.Select("provider", "model", "params", "embedding_model").
		From("agent_model_preferences").
		Where(sq.Eq{"agent_id": agentID})

	queryStr, args, err := query.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	var (
		provider       string
		model          string
		paramsJSON     sql.NullString
		embeddingModel sql.NullString
	)
	row := s.db.QueryRowContext(ctx, queryStr, args...)
	if err := row.Scan(&provider, &model, &paramsJSON, &embeddingModel); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("load preference for agent %s: %w", agentID, err)
	}

	pref := &resolver.Preference{
		Provider:       provider,
		Model:          model,
		EmbeddingModel: embeddingModel.String,
	}
	if paramsJSON.Valid && paramsJSON.String != "" {
		if err := json.Unmarshal([]byte(paramsJSON.String), &pref.Params); err != nil {
			return nil, fmt.Errorf("decode params for agent %s: %w", agentID, err)
		}
	}
	return pref, nil
}

// SetPreference upserts an agent's model preference.
func (s *Store) SetPreference(ctx context.Context, agentID string, pref resolver.Preference) error {
	if pref.Provider == "" || pref.Model == "" {
		return fmt.Errorf("provider and model are required")
	}

	var paramsJSON any
	if pref.Params != nil {
		b, err := json.Marshal(pref.Params)
		if err != nil {
			return fmt.Errorf("encode params: %w", err)
		}
		paramsJSON = string(b)
	}

	now := time.Now().Unix()
	query := sq.Insert("agent_model_preferences").
		Columns("agent_id", "provider", "model", "params", "embedding_model", "created_at", "updated_at").
		Values(agentID, pref.Provider, pref.Model, paramsJSON, nullable(pref.EmbeddingModel), now, now)

	queryStr, args, err := query.ToSql()
	if err != nil {
		return fmt.Errorf("build query: %w", err)
	}

	// SQLite upsert keyed on agent_id.
	queryStr += " ON CONFLICT(agent_id) DO UPDATE SET provider = excluded.provider, model = excluded.model, params = excluded.params, embedding_model = excluded.embedding_model, updated_at = excluded.updated_at"

	_, err = s.db.ExecContext(ctx, queryStr, args...)
	return err
}

// DeletePreference removes an agent's preference row, returning the agent to
// system defaults.
func (s *Store) DeletePreference(ctx context.Context, agentID string) error {
	query := sq.Delete("agent_model_preferences").Where(sq.Eq{"agent_id": agentID})
	queryStr, args, err := query.ToSql()
	if err != nil {
		return fmt.Errorf("build query: %w", err)
	}
	_, err = s.db.ExecContext(ctx, queryStr, args...)
	return err
}

func nullable(s string) any {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return s
}
