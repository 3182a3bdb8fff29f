package api

import (
	"net/http"
	"slices"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/gray-logic-hub/internal/state"
)

// handleListStates returns current states, optionally filtered by domain.
//
// Query parameters:
//   - domain: only states of this entity domain (binary_sensor, media_player, ...)
func (s *Server) handleListStates(w http.ResponseWriter, r *http.Request) {
	states := s.states.All()
	if domain := r.URL.Query().Get("domain"); domain != "" {
		states = slices.DeleteFunc(states, func(st state.State) bool {
			return st.Domain() != domain
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"states": states, "count": len(states)})
}

// handleGetState returns the current state of one entity.
func (s *Server) handleGetState(w http.ResponseWriter, r *http.Request) {
	entityID := chi.URLParam(r, "entity_id")

	st, ok := s.states.Get(entityID)
	if !ok {
		writeNotFound(w, "state not found")
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// handleStateHistory returns recorded states of one entity, newest first.
//
// Query parameters:
//   - limit: maximum number of records (default and cap set by the recorder)
func (s *Server) handleStateHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeUnavailable(w, "state history is not recorded")
		return
	}
	entityID := chi.URLParam(r, "entity_id")

	limit, ok := parseLimit(w, r)
	if !ok {
		return
	}

	records, err := s.history.History(r.Context(), entityID, limit)
	if err != nil {
		s.logger.Warn("reading state history failed", "entity_id", entityID, "error", err)
		writeInternalError(w, "failed to read state history")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entity_id": entityID, "history": records, "count": len(records)})
}

// parseLimit reads the optional limit query parameter. It writes a 400 and
// returns false when the value is not a non-negative integer.
func parseLimit(w http.ResponseWriter, r *http.Request) (int, bool) {
	raw := strings.TrimSpace(r.URL.Query().Get("limit"))
	if raw == "" {
		return 0, true
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 0 {
		writeBadRequest(w, "limit must be a non-negative integer")
		return 0, false
	}
	return limit, true
}
