package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/gray-logic-hub/internal/automation"
)

// handleListAutomations returns the loaded automations.
func (s *Server) handleListAutomations(w http.ResponseWriter, _ *http.Request) {
	if s.engine == nil {
		writeUnavailable(w, "automation engine not available")
		return
	}
	automations := s.engine.Automations()
	writeJSON(w, http.StatusOK, map[string]any{"automations": automations, "count": len(automations)})
}

// handleRunAutomation runs an automation's actions immediately, as if one
// of its triggers had fired on behalf of the requesting user.
func (s *Server) handleRunAutomation(w http.ResponseWriter, r *http.Request) {
	if s.engine == nil {
		writeUnavailable(w, "automation engine not available")
		return
	}
	id := chi.URLParam(r, "id")

	vars := automation.Variables{"trigger": map[string]any{"platform": "manual", "description": "api"}}
	run, err := s.engine.Run(r.Context(), id, vars, busContext(r))
	if err != nil {
		if errors.Is(err, automation.ErrAutomationNotFound) {
			writeNotFound(w, "automation not found")
			return
		}
		writeInternalError(w, "failed to run automation")
		return
	}
	writeJSON(w, http.StatusOK, run)
}

// handleListRuns returns recent runs of an automation, newest first.
//
// Query parameters:
//   - limit: maximum number of runs (default 20)
func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	if s.runs == nil {
		writeUnavailable(w, "automation runs are not recorded")
		return
	}
	id := chi.URLParam(r, "id")
	if s.engine != nil {
		if _, err := s.engine.Get(id); errors.Is(err, automation.ErrAutomationNotFound) {
			writeNotFound(w, "automation not found")
			return
		}
	}

	limit, ok := parseLimit(w, r)
	if !ok {
		return
	}
	if limit == 0 {
		limit = 20
	}

	runs, err := s.runs.ListRuns(r.Context(), id, limit)
	if err != nil {
		s.logger.Warn("listing automation runs failed", "automation_id", id, "error", err)
		writeInternalError(w, "failed to list automation runs")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs, "count": len(runs)})
}
