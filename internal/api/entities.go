package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/gray-logic-hub/internal/entity"
)

// updateEntityRequest is the PATCH /entities/{entity_id} body.
type updateEntityRequest struct {
	Disabled *bool `json:"disabled"`
}

// handleListEntities returns registry entries, optionally for one device.
//
// Query parameters:
//   - device_id: only entities of this device, disabled ones included
func (s *Server) handleListEntities(w http.ResponseWriter, r *http.Request) {
	var entries []entity.Entry
	if deviceID := r.URL.Query().Get("device_id"); deviceID != "" {
		entries = s.entities.AllEntriesForDevice(deviceID)
	} else {
		entries = s.entities.List()
	}
	writeJSON(w, http.StatusOK, map[string]any{"entities": entries, "count": len(entries)})
}

// handleGetEntity returns one registry entry.
func (s *Server) handleGetEntity(w http.ResponseWriter, r *http.Request) {
	entry, err := s.entities.Get(chi.URLParam(r, "entity_id"))
	if err != nil {
		if errors.Is(err, entity.ErrEntityNotFound) {
			writeNotFound(w, "entity not found")
			return
		}
		writeInternalError(w, "failed to get entity")
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

// handleUpdateEntity enables or disables an entity. Enabling an entity
// disabled by its integration schedules a reload of its config entry.
func (s *Server) handleUpdateEntity(w http.ResponseWriter, r *http.Request) {
	var req updateEntityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.Disabled == nil {
		writeValidationError(w, "disabled is required")
		return
	}

	disabledBy := entity.DisabledByNone
	if *req.Disabled {
		disabledBy = entity.DisabledByUser
	}

	entry, err := s.entities.UpdateEntity(r.Context(), chi.URLParam(r, "entity_id"), entity.Update{DisabledBy: &disabledBy})
	if err != nil {
		if errors.Is(err, entity.ErrEntityNotFound) {
			writeNotFound(w, "entity not found")
			return
		}
		s.logger.Warn("updating entity failed", "entity_id", chi.URLParam(r, "entity_id"), "error", err)
		writeInternalError(w, "failed to update entity")
		return
	}
	writeJSON(w, http.StatusOK, entry)
}
