// Package traces persists debug traces as conversation metadata.
package traces

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/rs/zerolog"
	"github.com/turnstile-ai/turnstile/pipeline"
)

// Record is one persisted trace.
type Record struct {
	TurnID    string          `json:"turnId"`
	AgentID   string          `json:"agentId"`
	ThreadID  string          `json:"threadId"`
	State     string          `json:"state"`
	Trace     pipeline.Export `json:"trace"`
	CreatedAt time.Time       `json:"createdAt"`
}

// ErrNotFound is returned when no trace exists for a turn ID.
var ErrNotFound = errors.New("trace not found")

// Store persists debug traces to SQLite.
type Store struct {
	db     *sql.DB
	logger zerolog.Logger
}

// NewStore creates a trace store.
func NewStore(db *sql.DB, logger zerolog.Logger) *Store {
	return &Store{
		db:     db,
		logger: logger.With().Str("component", "traceStore").Logger(),
	}
}

// Save writes the trace for a finished turn. Called for Done and Canceled
// turns alike.
func (s *Store) Save(ctx context.Context, agentID, threadID, turnID, state string, export pipeline.Export) error {
	traceJSON, err := json.Marshal(export)
	if err != nil {
		return fmt.Errorf("encode trace: %w", err)
	}

	query := sq.Insert("debug_traces").
		Columns("turn_id", "agent_id", "thread_id", "state", "trace", "total_tokens", "total_duration_ms", "created_at").
		Values(turnID, agentID, threadID, state, string(traceJSON), export.TotalTokens, export.TotalDurationMs, time.Now().Unix())

	queryStr, args, err := query.ToSql()
	if err != nil {
		return fmt.Errorf("build query: %w", err)
	}

	_, err = s.db.ExecContext(ctx, queryStr, args...)
	return err
}

// Get loads a trace by turn ID.
func (s *Store) Get(ctx context.Context, turnID string) (*Record, error) {
	query := sq.Select("turn_id", "agent_id", "thread_id", "state", "trace", "created_at").
		From("debug_traces").
		Where(sq.Eq{"turn_id": turnID})

	queryStr, args, err := query.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	var (
		rec       Record
		traceJSON string
		createdAt int64
	)
	row := s.db.QueryRowContext(ctx, queryStr, args...)
	if err := row.Scan(&rec.TurnID, &rec.AgentID, &rec.ThreadID, &rec.State, &traceJSON, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("load trace %s: %w", turnID, err)
	}
	if err := json.Unmarshal([]byte(traceJSON), &rec.Trace); err != nil {
		return nil, fmt.Errorf("decode trace %s: %w", turnID, err)
	}
	rec.CreatedAt = time.Unix(createdAt, 0)
	return &rec, nil
}

// ListByThread returns the most recent traces for a thread, newest first.
func (s *Store) ListByThread(ctx context.Context, threadID string, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 50
	}

	query := sq.Select("turn_id", "agent_id", "thread_id", "state", "trace", "created_at").
		From("debug_traces").
		Where(sq.Eq{"thread_id": threadID}).
		OrderBy("created_at DESC").
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

	var records []Record
	for rows.Next() {
		var (
			rec       Record
			traceJSON string
			createdAt int64
		)
		if err := rows.Scan(&rec.TurnID, &rec.AgentID, &rec.ThreadID, &rec.State, &traceJSON, &createdAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(traceJSON), &rec.Trace); err != nil {
			s.logger.Warn().Err(err).Str("turnID", rec.TurnID).Msg("Skipping trace with undecodable payload")
			continue
		}
		rec.CreatedAt = time.Unix(createdAt, 0)
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Purge deletes traces older than the retention window and returns the
// number removed.
func (s *Store) Purge(ctx context.Context, retention time.Duration) (int64, error) {
	cutoff := time.Now().Add(-retention).Unix()

	query := sq.Delete("debug_traces").Where(sq.Lt{"created_at": cutoff})
	queryStr, args, err := query.ToSql()
	if err != nil {
		return 0, fmt.Errorf("build query: %w", err)
	}

	result, err := s.db.ExecContext(ctx, queryStr, args...)
	if err != nil {
		return 0, err
	}
	removed, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}
	if removed > 0 {
		s.logger.Info().Int64("removed", removed).Msg("Purged expired debug traces")
	}
	return removed, nil
}
