package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/gray-logic-hub/internal/automation"
)

// handleListDeviceTriggers returns every device trigger the registered
// platforms offer for a device. Unknown devices yield an empty list.
func (s *Server) handleListDeviceTriggers(w http.ResponseWriter, r *http.Request) {
	deviceID := chi.URLParam(r, "id")

	triggers, err := s.platforms.GetTriggers(r.Context(), deviceID)
	if err != nil {
		s.logger.Warn("listing device triggers failed", "device_id", deviceID, "error", err)
		writeInternalError(w, "failed to list device triggers")
		return
	}

	out := make([]map[string]any, 0, len(triggers))
	for _, t := range triggers {
		out = append(out, t.Map())
	}
	writeJSON(w, http.StatusOK, map[string]any{"triggers": out, "count": len(out)})
}

// handleValidateTrigger checks a trigger config against its platform's
// schema and returns the normalised config.
func (s *Server) handleValidateTrigger(w http.ResponseWriter, r *http.Request) {
	var raw map[string]any
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	cfg, err := automation.TriggerConfigFromMap(raw)
	if err != nil {
		writeValidationError(w, err.Error())
		return
	}
	cfg, err = s.platforms.Validate(cfg)
	if err != nil {
		writeValidationError(w, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"trigger": cfg.Map()})
}
