package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/nerrad567/gray-logic-hub/internal/automation"
	"github.com/nerrad567/gray-logic-hub/internal/bus"
	"github.com/nerrad567/gray-logic-hub/internal/entity"
	"github.com/nerrad567/gray-logic-hub/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-hub/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-hub/internal/recorder"
	"github.com/nerrad567/gray-logic-hub/internal/service"
	"github.com/nerrad567/gray-logic-hub/internal/state"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// EventListener is the part of the bus the server relays to WebSocket clients.
type EventListener interface {
	Listen(eventType string, listener bus.Listener) bus.Unsubscribe
}

// HistoryReader serves recorded state history.
type HistoryReader interface {
	History(ctx context.Context, entityID string, limit int) ([]recorder.Record, error)
}

// ConnectionStatus reports broker connectivity for the health endpoint.
type ConnectionStatus interface {
	IsConnected() bool
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config    config.APIConfig
	WS        config.WebSocketConfig
	Security  config.SecurityConfig
	Logger    *logging.Logger
	Platforms *automation.Platforms
	States    *state.Machine
	Entities  *entity.Registry
	Services  *service.Registry
	Events    EventListener         // optional: state_changed relay to WebSocket clients
	Engine    *automation.Engine    // optional
	Runs      automation.Repository // optional
	History   HistoryReader         // optional
	MQTT      ConnectionStatus      // optional
	Version   string
}

// Server is the HTTP API server for the hub.
//
// It manages the HTTP listener, routes, middleware, and WebSocket hub.
// The server is created with New() and started with Start().
type Server struct {
	cfg       config.APIConfig
	wsCfg     config.WebSocketConfig
	secCfg    config.SecurityConfig
	logger    *logging.Logger
	platforms *automation.Platforms
	states    *state.Machine
	entities  *entity.Registry
	services  *service.Registry
	events    EventListener
	engine    *automation.Engine
	runs      automation.Repository
	history   HistoryReader
	mqtt      ConnectionStatus
	version   string

	server  *http.Server
	hub     *Hub
	tickets *ticketStore
	relay   bus.Unsubscribe
	cancel  context.CancelFunc // cancels background goroutines on Close()
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called; Handler() is usable
// straight away.
//
// Parameters:
//   - deps: Required dependencies (logger, platforms, states, entities, services)
//
// Returns:
//   - *Server: Configured server ready to start
//   - error: If required dependencies are missing
func New(deps Deps) (*Server, error) {
	switch {
	case deps.Logger == nil:
		return nil, fmt.Errorf("logger is required")
	case deps.Platforms == nil:
		return nil, fmt.Errorf("trigger platforms are required")
	case deps.States == nil:
		return nil, fmt.Errorf("state machine is required")
	case deps.Entities == nil:
		return nil, fmt.Errorf("entity registry is required")
	case deps.Services == nil:
		return nil, fmt.Errorf("service registry is required")
	}

	s := &Server{
		cfg:       deps.Config,
		wsCfg:     deps.WS,
		secCfg:    deps.Security,
		logger:    deps.Logger,
		platforms: deps.Platforms,
		states:    deps.States,
		entities:  deps.Entities,
		services:  deps.Services,
		events:    deps.Events,
		engine:    deps.Engine,
		runs:      deps.Runs,
		history:   deps.History,
		mqtt:      deps.MQTT,
		version:   deps.Version,
		tickets:   newTicketStore(),
	}
	s.hub = NewHub(s.wsCfg, s.logger, s.platforms)
	return s, nil
}

// Handler returns the routed HTTP handler with all middleware applied.
func (s *Server) Handler() http.Handler {
	return s.buildRouter()
}

// Hub returns the WebSocket hub.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Start begins listening for HTTP connections.
//
// It starts the WebSocket hub, relays state_changed events to WebSocket
// subscribers, and launches the HTTP listener in a background goroutine.
// The server can be stopped with Close().
//
// Parameters:
//   - ctx: Context for cancellation (not used for listener lifetime)
//
// Returns:
//   - error: If the server fails to start
func (s *Server) Start(ctx context.Context) error {
	// Create internal context so Close() can stop background goroutines
	// independently of the parent context.
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	go s.hub.Run(srvCtx)
	go s.cleanTicketsLoop(srvCtx)

	if s.events != nil {
		s.relay = s.events.Listen(bus.EventStateChanged, s.relayStateChanged)
	}

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	go func() {
		var err error
		if s.cfg.TLS.Enabled {
			s.logger.Info("API server starting with TLS",
				"address", s.server.Addr,
				"cert", s.cfg.TLS.CertFile,
			)
			err = s.server.ListenAndServeTLS(s.cfg.TLS.CertFile, s.cfg.TLS.KeyFile)
		} else {
			s.logger.Info("API server starting", "address", s.server.Addr)
			err = s.server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Close gracefully shuts down the API server.
//
// It waits up to 10 seconds for in-flight requests to complete, then
// disconnects WebSocket clients, releasing their trigger subscriptions.
//
// Returns:
//   - error: If shutdown encounters an error
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

	if s.relay != nil {
		s.relay()
	}
	// Cancel background goroutines (hub, ticket cleanup)
	if s.cancel != nil {
		s.cancel()
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck verifies the API server is running and responsive.
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("api health check: %w", ctx.Err())
	default:
	}

	if s.server == nil {
		return fmt.Errorf("api server not started")
	}

	return nil
}
