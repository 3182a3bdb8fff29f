package api

import (
	"net/http"
)

// handleHealth reports liveness and a few counters. It never fails; a
// disconnected broker is reported as degraded.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	status := "ok"
	resp := map[string]any{
		"version":    s.version,
		"states":     s.states.Count(),
		"entities":   s.entities.Count(),
		"ws_clients": s.hub.ClientCount(),
	}
	if s.mqtt != nil {
		connected := s.mqtt.IsConnected()
		resp["mqtt_connected"] = connected
		if !connected {
			status = "degraded"
		}
	}
	if s.engine != nil {
		resp["attached_triggers"] = s.engine.AttachedTriggers()
	}
	resp["status"] = status
	writeJSON(w, http.StatusOK, resp)
}
