package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	// Prometheus scrape endpoint (no auth required)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		// Health check (no auth required)
		r.Get("/health", s.handleHealth)

		// WebSocket authenticates with a single-use ticket instead of a header
		wsPath := s.wsCfg.Path
		if wsPath == "" {
			wsPath = "/ws"
		}
		r.Get(wsPath, s.handleWebSocket)

		// Protected routes
		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)

			r.Post("/auth/ws-ticket", s.handleWSTicket)

			r.Get("/devices/{id}/triggers", s.handleListDeviceTriggers)
			r.Post("/triggers/validate", s.handleValidateTrigger)

			r.Route("/states", func(r chi.Router) {
				r.Get("/", s.handleListStates)
				r.Get("/{entity_id}", s.handleGetState)
				r.Get("/{entity_id}/history", s.handleStateHistory)
			})

			r.Route("/entities", func(r chi.Router) {
				r.Get("/", s.handleListEntities)
				r.Get("/{entity_id}", s.handleGetEntity)
				r.Patch("/{entity_id}", s.handleUpdateEntity)
			})

			r.Get("/services", s.handleListServices)
			r.Post("/services/{domain}/{service}", s.handleCallService)

			r.Route("/automations", func(r chi.Router) {
				r.Get("/", s.handleListAutomations)
				r.Post("/{id}/trigger", s.handleRunAutomation)
				r.Get("/{id}/runs", s.handleListRuns)
			})
		})
	})

	return r
}
