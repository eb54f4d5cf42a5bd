package server

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/turnstile-ai/turnstile/traces"
)

func (s *Server) handleGetTrace(w http.ResponseWriter, r *http.Request) {
	turnID := chi.URLParam(r, "turnID")

	rec, err := s.traces.Get(r.Context(), turnID)
	if err != nil {
		if errors.Is(err, traces.ErrNotFound) {
			respondError(w, http.StatusNotFound, "trace not found")
			return
		}
		s.logger.Error().Err(err).Str("turnID", turnID).Msg("Failed to load trace")
		respondError(w, http.StatusInternalServerError, "failed to load trace")
		return
	}

	respondJSON(w, http.StatusOK, rec)
}

func (s *Server) handleListThreadTraces(w http.ResponseWriter, r *http.Request) {
	threadID := chi.URLParam(r, "threadID")

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			respondError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = parsed
	}

	records, err := s.traces.ListByThread(r.Context(), threadID, limit)
	if err != nil {
		s.logger.Error().Err(err).Str("threadID", threadID).Msg("Failed to list traces")
		respondError(w, http.StatusInternalServerError, "failed to list traces")
		return
	}
	if records == nil {
		records = []traces.Record{}
	}

	respondJSON(w, http.StatusOK, map[string]any{"traces": records})
}
