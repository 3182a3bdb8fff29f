package kodi

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/nerrad567/gray-logic-hub/internal/bus"
	"github.com/nerrad567/gray-logic-hub/internal/platform"
	"github.com/nerrad567/gray-logic-hub/internal/state"
)

// Media player states reported by the Kodi bridge.
const (
	StateIdle    = "idle"
	StatePlaying = "playing"
	StatePaused  = "paused"
)

var knownStates = map[string]bool{
	state.StateOn:  true,
	state.StateOff: true,
	StateIdle:      true,
	StatePlaying:   true,
	StatePaused:    true,
}

// EventFirer is the part of the bus players fire their events on.
type EventFirer interface {
	Fire(eventType string, data map[string]any, origin bus.Origin, ctx bus.Context) error
}

// MediaPlayer is the media_player entity of one Kodi box.
type MediaPlayer struct {
	entryID  string
	deviceID string
	name     string
	events   EventFirer

	mu        sync.Mutex
	entityID  string
	state     string
	available bool
	notify    []func()
}

// NewMediaPlayer creates the player of a config entry. It starts off.
func NewMediaPlayer(entryID, deviceID, name string, events EventFirer) *MediaPlayer {
	return &MediaPlayer{
		entryID:   entryID,
		deviceID:  deviceID,
		name:      name,
		events:    events,
		state:     state.StateOff,
		available: true,
	}
}

// Describe implements platform.Entity.
func (m *MediaPlayer) Describe() platform.Description {
	return platform.Description{
		UniqueID:          m.entryID,
		Domain:            "media_player",
		SuggestedObjectID: m.name,
		Name:              m.name,
		DeviceID:          m.deviceID,
		Icon:              "mdi:kodi",
	}
}

// SetEntityID implements platform.Identifiable.
func (m *MediaPlayer) SetEntityID(entityID string) {
	m.mu.Lock()
	m.entityID = entityID
	m.mu.Unlock()
}

// EntityID returns the registered entity id, empty before registration.
func (m *MediaPlayer) EntityID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.entityID
}

// Available implements platform.Entity.
func (m *MediaPlayer) Available() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.available
}

// State implements platform.Entity.
func (m *MediaPlayer) State() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Attributes implements platform.Entity.
func (m *MediaPlayer) Attributes() map[string]any {
	return nil
}

// Subscribe implements platform.Entity.
func (m *MediaPlayer) Subscribe(notify func()) func() {
	m.mu.Lock()
	m.notify = append(m.notify, notify)
	idx := len(m.notify) - 1
	m.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			m.notify[idx] = nil
			m.mu.Unlock()
		})
	}
}

// SetState records a state reported for the player and notifies
// subscribers when something changed.
func (m *MediaPlayer) SetState(value string, available bool) {
	m.mu.Lock()
	if m.state == value && m.available == available {
		m.mu.Unlock()
		return
	}
	m.state = value
	m.available = available
	notify := make([]func(), 0, len(m.notify))
	for _, fn := range m.notify {
		if fn != nil {
			notify = append(notify, fn)
		}
	}
	m.mu.Unlock()

	for _, fn := range notify {
		fn()
	}
}

type stateMessage struct {
	State     string `json:"state"`
	Available *bool  `json:"available"`
}

// HandleStateMessage applies a bridge report such as
// {"state": "playing"} or {"available": false}.
func (m *MediaPlayer) HandleStateMessage(topic string, payload []byte) error {
	var msg stateMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return fmt.Errorf("kodi: decoding %s: %w", topic, err)
	}

	available := msg.Available == nil || *msg.Available
	value := msg.State
	if value == "" {
		value = m.State()
	}
	if !knownStates[value] {
		return fmt.Errorf("kodi: unknown player state %q on %s", value, topic)
	}
	m.SetState(value, available)
	return nil
}

// TurnOn asks the player to turn on. The request is announced as a
// kodi_turn_on event caused by ctx.
func (m *MediaPlayer) TurnOn(ctx bus.Context) error {
	return m.fire(EventTurnOn, ctx)
}

// TurnOff asks the player to turn off with a kodi_turn_off event.
func (m *MediaPlayer) TurnOff(ctx bus.Context) error {
	return m.fire(EventTurnOff, ctx)
}

func (m *MediaPlayer) fire(eventType string, ctx bus.Context) error {
	entityID := m.EntityID()
	if entityID == "" {
		return fmt.Errorf("%w: %s is not registered", ErrUnknownEntity, m.entryID)
	}
	if ctx.IsZero() {
		ctx = bus.NewContext()
	} else {
		ctx = ctx.Child()
	}
	return m.events.Fire(eventType, map[string]any{"entity_id": entityID}, bus.OriginLocal, ctx)
}
