package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/gray-logic-hub/internal/automation"
	"github.com/nerrad567/gray-logic-hub/internal/bus"
	"github.com/nerrad567/gray-logic-hub/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-hub/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-hub/internal/state"
)

// WebSocket message types.
const (
	WSTypeSubscribe        = "subscribe"
	WSTypeSubscribeTrigger = "subscribe_trigger"
	WSTypeUnsubscribe      = "unsubscribe"
	WSTypePing             = "ping"
	WSTypePong             = "pong"
	WSTypeEvent            = "event"
	WSTypeResult           = "result"
	WSTypeError            = "error"

	// ChannelStateChanged carries every state_changed event.
	ChannelStateChanged = "state_changed"

	// wsSendBufferSize is the per-client outbound message buffer size.
	wsSendBufferSize = 256
)

// WSMessage represents a message sent to/from a WebSocket client.
type WSMessage struct {
	Type      string `json:"type"`
	ID        string `json:"id,omitempty"`
	EventType string `json:"event_type,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   any    `json:"payload,omitempty"`
}

// WSUnsubscribePayload names channels or a trigger subscription to drop.
type WSUnsubscribePayload struct {
	Channels     []string `json:"channels"`
	Subscription string   `json:"subscription"`
}

// TriggerAttacher validates and attaches device triggers.
type TriggerAttacher interface {
	Attach(ctx context.Context, cfg automation.TriggerConfig, action automation.Action, info automation.TriggerInfo) (bus.Unsubscribe, error)
}

// Hub manages WebSocket connections and broadcasts events.
type Hub struct {
	cfg      config.WebSocketConfig
	logger   *logging.Logger
	triggers TriggerAttacher
	clients  map[*WSClient]struct{}
	mu       sync.RWMutex
}

// WSClient represents a connected WebSocket client.
type WSClient struct {
	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte
	userID string

	mu            sync.RWMutex
	subscriptions map[string]struct{}
	triggers      map[string]bus.Unsubscribe
}

// upgrader configures the WebSocket upgrader.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		// Origin checking is handled by CORS middleware
		return true
	},
}

// NewHub creates a new WebSocket hub. triggers may be nil, in which case
// subscribe_trigger is refused.
func NewHub(cfg config.WebSocketConfig, logger *logging.Logger, triggers TriggerAttacher) *Hub {
	return &Hub{
		cfg:      cfg,
		logger:   logger,
		triggers: triggers,
		clients:  make(map[*WSClient]struct{}),
	}
}

func newClient(hub *Hub, conn *websocket.Conn, userID string) *WSClient {
	return &WSClient{
		hub:           hub,
		conn:          conn,
		send:          make(chan []byte, wsSendBufferSize),
		userID:        userID,
		subscriptions: make(map[string]struct{}),
		triggers:      make(map[string]bus.Unsubscribe),
	}
}

// Run blocks until the context is cancelled, then disconnects every client.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()
	h.closeAll()
}

// Register adds a client to the hub.
func (h *Hub) Register(client *WSClient) {
	h.mu.Lock()
	h.clients[client] = struct{}{}
	h.mu.Unlock()
	h.logger.Debug("websocket client connected", "clients", h.ClientCount())
}

// Unregister removes a client from the hub and releases its trigger
// subscriptions. Only the goroutine that removes the client from the map
// closes the send channel.
func (h *Hub) Unregister(client *WSClient) {
	h.mu.Lock()
	_, existed := h.clients[client]
	delete(h.clients, client)
	h.mu.Unlock()

	client.releaseTriggers()
	if existed {
		close(client.send)
	}
	h.logger.Debug("websocket client disconnected", "clients", h.ClientCount())
}

// Broadcast sends an event to all clients subscribed to the given channel.
func (h *Hub) Broadcast(channel string, payload any) {
	msg := WSMessage{
		Type:      WSTypeEvent,
		EventType: channel,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Payload:   payload,
	}

	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("failed to marshal broadcast message", "error", err)
		return
	}

	h.mu.RLock()
	clients := make([]*WSClient, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	h.mu.RUnlock()

	for _, client := range clients {
		if client.isSubscribed(channel) {
			client.trySend(data)
		}
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// closeAll disconnects all clients.
func (h *Hub) closeAll() {
	h.mu.Lock()
	clients := h.clients
	h.clients = make(map[*WSClient]struct{})
	h.mu.Unlock()

	for client := range clients {
		client.releaseTriggers()
		close(client.send)
		if client.conn != nil {
			client.conn.Close()
		}
	}
}

// relayStateChanged forwards state_changed bus events to subscribed clients.
func (s *Server) relayStateChanged(ev bus.Event) error {
	oldState, newState, ok := state.FromEvent(ev)
	if !ok {
		return nil
	}
	entityID, _ := ev.String("entity_id")
	s.hub.Broadcast(ChannelStateChanged, map[string]any{
		"entity_id": entityID,
		"old_state": oldState,
		"new_state": newState,
		"context":   ev.Context,
	})
	return nil
}

// handleWebSocket upgrades the HTTP connection to a WebSocket connection.
// Authentication is via ticket query parameter (obtained from POST /auth/ws-ticket).
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	ticket := r.URL.Query().Get("ticket")
	if ticket == "" {
		writeUnauthorized(w, "ticket query parameter is required")
		return
	}
	entry, ok := s.tickets.consume(ticket)
	if !ok {
		writeUnauthorized(w, "invalid or expired ticket")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	client := newClient(s.hub, conn, entry.userID)
	s.hub.Register(client)

	go client.writePump(s.wsCfg)
	go client.readPump(s.wsCfg)
}

// readPump reads messages from the WebSocket connection.
func (c *WSClient) readPump(cfg config.WebSocketConfig) {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(int64(cfg.MaxMessageSize))
	pingInterval := time.Duration(cfg.PingInterval) * time.Second
	pongWait := time.Duration(cfg.PongTimeout) * time.Second
	//nolint:errcheck // Best-effort deadline on connection setup
	c.conn.SetReadDeadline(time.Now().Add(pingInterval + pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pingInterval + pongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("websocket read error", "error", err)
			} else {
				c.hub.logger.Debug("websocket closed", "error", err)
			}
			return
		}
		//nolint:errcheck // Best-effort deadline reset
		c.conn.SetReadDeadline(time.Now().Add(pingInterval + pongWait))
		c.handleMessage(message)
	}
}

// writePump writes messages to the WebSocket connection.
func (c *WSClient) writePump(cfg config.WebSocketConfig) {
	pingInterval := time.Duration(cfg.PingInterval) * time.Second
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	pongWait := time.Duration(cfg.PongTimeout) * time.Second

	for {
		select {
		case message, ok := <-c.send:
			if !ok {
				//nolint:errcheck // Best-effort close message
				c.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			//nolint:errcheck // Best-effort deadline; write error caught below
			c.conn.SetWriteDeadline(time.Now().Add(pongWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			//nolint:errcheck // Best-effort deadline; ping error caught below
			c.conn.SetWriteDeadline(time.Now().Add(pongWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleMessage processes an incoming WebSocket message.
func (c *WSClient) handleMessage(data []byte) {
	var msg struct {
		Type    string          `json:"type"`
		ID      string          `json:"id"`
		Payload json.RawMessage `json:"payload"`
	}
	if err := json.Unmarshal(data, &msg); err != nil {
		c.sendError("", "invalid JSON message")
		return
	}

	switch msg.Type {
	case WSTypeSubscribe:
		c.handleSubscribe(msg.ID, msg.Payload)
	case WSTypeSubscribeTrigger:
		c.handleSubscribeTrigger(msg.ID, msg.Payload)
	case WSTypeUnsubscribe:
		c.handleUnsubscribe(msg.ID, msg.Payload)
	case WSTypePing:
		c.sendMessage(WSMessage{Type: WSTypePong, ID: msg.ID})
	default:
		c.sendError(msg.ID, "unknown message type: "+msg.Type)
	}
}

// handleSubscribe adds broadcast channels to the client's subscription list.
func (c *WSClient) handleSubscribe(id string, payload json.RawMessage) {
	var sub struct {
		Channels []string `json:"channels"`
	}
	if err := json.Unmarshal(payload, &sub); err != nil || len(sub.Channels) == 0 {
		c.sendError(id, "invalid subscribe payload")
		return
	}

	c.mu.Lock()
	for _, ch := range sub.Channels {
		c.subscriptions[ch] = struct{}{}
	}
	c.mu.Unlock()

	c.sendMessage(WSMessage{Type: WSTypeResult, ID: id, Payload: map[string]any{"subscribed": sub.Channels}})
}

// handleSubscribeTrigger attaches the device trigger in payload. Every
// firing is sent as an event message carrying the message id.
func (c *WSClient) handleSubscribeTrigger(id string, payload json.RawMessage) {
	if id == "" {
		c.sendError(id, "subscribe_trigger needs an id")
		return
	}
	if c.hub.triggers == nil {
		c.sendError(id, "device triggers are not available")
		return
	}

	var raw map[string]any
	if err := json.Unmarshal(payload, &raw); err != nil {
		c.sendError(id, "invalid trigger payload")
		return
	}
	cfg, err := automation.TriggerConfigFromMap(raw)
	if err != nil {
		c.sendError(id, err.Error())
		return
	}

	c.mu.RLock()
	_, taken := c.triggers[id]
	c.mu.RUnlock()
	if taken {
		c.sendError(id, "subscription id already in use")
		return
	}

	action := func(_ context.Context, vars automation.Variables, ctx bus.Context) {
		c.sendMessage(WSMessage{
			Type:      WSTypeEvent,
			ID:        id,
			EventType: "trigger",
			Payload:   map[string]any{"variables": vars, "context": ctx},
		})
	}
	info := automation.TriggerInfo{
		AutomationID: "websocket:" + id,
		Name:         "websocket trigger " + id,
		TriggerData:  map[string]any{"id": id, "idx": "0"},
	}

	unsub, err := c.hub.triggers.Attach(context.Background(), cfg, action, info)
	if err != nil {
		if unsub != nil {
			unsub()
		}
		c.sendError(id, err.Error())
		return
	}

	c.mu.Lock()
	c.triggers[id] = unsub
	c.mu.Unlock()
	wsTriggerSubscriptions.Inc()

	c.hub.logger.Debug("websocket trigger attached", "subscription", id, "user_id", c.userID, "domain", cfg.Domain, "type", cfg.Type)
	c.sendMessage(WSMessage{Type: WSTypeResult, ID: id, Payload: map[string]any{"subscription": id}})
}

// handleUnsubscribe drops channels and/or a trigger subscription.
func (c *WSClient) handleUnsubscribe(id string, payload json.RawMessage) {
	var sub WSUnsubscribePayload
	if err := json.Unmarshal(payload, &sub); err != nil {
		c.sendError(id, "invalid unsubscribe payload")
		return
	}

	c.mu.Lock()
	for _, ch := range sub.Channels {
		delete(c.subscriptions, ch)
	}
	unsub, found := c.triggers[sub.Subscription]
	delete(c.triggers, sub.Subscription)
	c.mu.Unlock()

	if sub.Subscription != "" {
		if !found {
			c.sendError(id, "unknown subscription: "+sub.Subscription)
			return
		}
		unsub()
		wsTriggerSubscriptions.Dec()
	}

	c.sendMessage(WSMessage{Type: WSTypeResult, ID: id, Payload: map[string]any{
		"unsubscribed": sub.Channels,
		"subscription": sub.Subscription,
	}})
}

// releaseTriggers detaches every trigger subscription of the client.
func (c *WSClient) releaseTriggers() {
	c.mu.Lock()
	triggers := c.triggers
	c.triggers = make(map[string]bus.Unsubscribe)
	c.mu.Unlock()

	for _, unsub := range triggers {
		unsub()
		wsTriggerSubscriptions.Dec()
	}
}

// TriggerCount returns the number of attached trigger subscriptions.
func (c *WSClient) TriggerCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.triggers)
}

// trySend queues data for the client. A closed channel (client gone) or
// a full buffer (slow client) drops the message.
func (c *WSClient) trySend(data []byte) {
	defer func() {
		recover() //nolint:errcheck // Absorb send-on-closed-channel panic
	}()

	select {
	case c.send <- data:
	default:
	}
}

// isSubscribed checks if the client is subscribed to a channel.
func (c *WSClient) isSubscribed(channel string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.subscriptions[channel]
	return ok
}

// sendMessage stamps and queues msg.
func (c *WSClient) sendMessage(msg WSMessage) {
	msg.Timestamp = time.Now().UTC().Format(time.RFC3339)
	data, err := json.Marshal(msg)
	if err != nil {
		c.hub.logger.Warn("failed to marshal websocket message", "type", msg.Type, "error", err)
		return
	}
	c.trySend(data)
}

// sendError sends an error message to the client.
func (c *WSClient) sendError(id, message string) {
	c.sendMessage(WSMessage{Type: WSTypeError, ID: id, Payload: map[string]string{"message": message}})
}
