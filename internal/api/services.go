package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/gray-logic-hub/internal/service"
)

// handleListServices returns registered services grouped by domain.
func (s *Server) handleListServices(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"services": s.services.Services()})
}

// handleCallService invokes a service with the JSON body as service data.
// An empty body calls the service without data. The response carries the
// bus context the call ran under so clients can correlate the effects.
func (s *Server) handleCallService(w http.ResponseWriter, r *http.Request) {
	domain := chi.URLParam(r, "domain")
	name := chi.URLParam(r, "service")

	var data map[string]any
	if err := json.NewDecoder(r.Body).Decode(&data); err != nil && !errors.Is(err, io.EOF) {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	callCtx := busContext(r)
	if err := s.services.Call(r.Context(), domain, name, data, callCtx); err != nil {
		switch {
		case errors.Is(err, service.ErrServiceNotFound):
			writeNotFound(w, "service not found")
		case errors.Is(err, service.ErrInvalidService):
			writeBadRequest(w, err.Error())
		default:
			writeValidationError(w, err.Error())
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"context": callCtx})
}
