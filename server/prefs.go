package server

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/turnstile-ai/turnstile/resolver"
)

type preferenceBody struct {
	Provider       string         `json:"provider"`
	Model          string         `json:"model"`
	Params         map[string]any `json:"params,omitempty"`
	EmbeddingModel string         `json:"embeddingModel,omitempty"`
}

func (s *Server) handleGetPreference(w http.ResponseWriter, r *http.Request) {
	agentID := chi.URLParam(r, "agentID")

	pref, err := s.prefs.AgentModelPreference(r.Context(), agentID)
	if err != nil {
		s.logger.Error().Err(err).Str("agentID", agentID).Msg("Failed to load preference")
		respondError(w, http.StatusInternalServerError, "failed to load preference")
		return
	}
	if pref == nil {
		respondError(w, http.StatusNotFound, "no preference set for agent")
		return
	}

	respondJSON(w, http.StatusOK, preferenceBody{
		Provider:       pref.Provider,
		Model:          pref.Model,
		Params:         pref.Params,
		EmbeddingModel: pref.EmbeddingModel,
	})
}

func (s *Server) handleSetPreference(w http.ResponseWriter, r *http.Request) {
	agentID := chi.URLParam(r, "agentID")

	var body preferenceBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if body.Provider == "" || body.Model == "" {
		respondError(w, http.StatusBadRequest, "provider and model are required")
		return
	}

	err := s.prefs.SetPreference(r.Context(), agentID, resolver.Preference{
		Provider:       body.Provider,
		Model:          body.Model,
		Params:         body.Params,
		EmbeddingModel: body.EmbeddingModel,
	})
	if err != nil {
		s.logger.Error().Err(err).Str("agentID", agentID).Msg("Failed to save preference")
		respondError(w, http.StatusInternalServerError, "failed to save preference")
		return
	}

	// Cached resolutions for this agent are now stale.
	s.resolver.Invalidate(agentID)

	respondJSON(w, http.StatusOK, body)
}

func (s *Server) handleDeletePreference(w http.ResponseWriter, r *http.Request) {
	agentID := chi.URLParam(r, "agentID")

	if err := s.prefs.DeletePreference(r.Context(), agentID); err != nil {
		s.logger.Error().Err(err).Str("agentID", agentID).Msg("Failed to delete preference")
		respondError(w, http.StatusInternalServerError, "failed to delete preference")
		return
	}
	s.resolver.Invalidate(agentID)

	respondJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}
