// Package state holds the current state of every entity and announces
// each change on the event bus as a state_changed event.
package state

import (
	"errors"
	"fmt"
	"maps"
	"reflect"
	"slices"
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-hub/internal/bus"
	"github.com/nerrad567/gray-logic-hub/internal/clock"
	"github.com/nerrad567/gray-logic-hub/internal/entity"
)

// Common state values.
const (
	StateOn          = "on"
	StateOff         = "off"
	StateUnavailable = "unavailable"
	StateUnknown     = "unknown"
)

const maxStateLength = 255

var (
	// ErrInvalidEntityID is returned for ids not of the form domain.object_id.
	ErrInvalidEntityID = errors.New("state: invalid entity id")

	// ErrInvalidState is returned for empty or overlong state values.
	ErrInvalidState = errors.New("state: invalid state value")
)

// State is the current state of one entity.
type State struct {
	EntityID    string         `json:"entity_id"`
	State       string         `json:"state"`
	Attributes  map[string]any `json:"attributes"`
	LastChanged time.Time      `json:"last_changed"`
	LastUpdated time.Time      `json:"last_updated"`
	Context     bus.Context    `json:"context"`
}

// Domain returns the entity's domain.
func (s State) Domain() string {
	return entity.DomainOf(s.EntityID)
}

func (s State) clone() *State {
	s.Attributes = maps.Clone(s.Attributes)
	return &s
}

// EventFirer is the part of the bus the machine announces changes on.
type EventFirer interface {
	Fire(eventType string, data map[string]any, origin bus.Origin, ctx bus.Context) error
}

// Machine stores entity states.
//
// Thread Safety: all methods are safe for concurrent use. Events are fired
// after the internal lock is released, so listeners may read states.
type Machine struct {
	events EventFirer
	clock  clock.Clock

	mu     sync.RWMutex
	states map[string]State
}

// NewMachine creates an empty state machine. A nil clock uses the wall clock.
func NewMachine(events EventFirer, clk clock.Clock) *Machine {
	if clk == nil {
		clk = clock.Real{}
	}
	return &Machine{
		events: events,
		clock:  clk,
		states: make(map[string]State),
	}
}

// Set writes the state of entityID. Writing the same value and attributes
// again is a no-op and fires nothing.
//
// The state_changed event carries entity_id, old_state (*State, nil for a new
// entity) and new_state (*State). The returned error is the joined error of
// the event listeners; the state is stored regardless.
func (m *Machine) Set(entityID, value string, attrs map[string]any, ctx bus.Context) error {
	if !entity.ValidEntityID(entityID) {
		return fmt.Errorf("%w: %q", ErrInvalidEntityID, entityID)
	}
	if value == "" || len(value) > maxStateLength {
		return fmt.Errorf("%w: %q", ErrInvalidState, value)
	}
	if attrs == nil {
		attrs = map[string]any{}
	}
	if ctx.IsZero() {
		ctx = bus.NewContext()
	}

	m.mu.Lock()
	old, existed := m.states[entityID]
	if existed && old.State == value && reflect.DeepEqual(old.Attributes, attrs) {
		m.mu.Unlock()
		return nil
	}

	now := m.clock.Now().UTC()
	next := State{
		EntityID:    entityID,
		State:       value,
		Attributes:  maps.Clone(attrs),
		LastChanged: now,
		LastUpdated: now,
		Context:     ctx,
	}
	if existed && old.State == value {
		next.LastChanged = old.LastChanged
	}
	m.states[entityID] = next
	m.mu.Unlock()

	var oldState *State
	if existed {
		oldState = old.clone()
	}
	return m.fire(entityID, oldState, next.clone(), ctx)
}

// Get returns the state of entityID.
func (m *Machine) Get(entityID string) (State, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.states[entityID]
	if !ok {
		return State{}, false
	}
	return *s.clone(), true
}

// Remove deletes the state of entityID, firing state_changed with a nil
// new_state. Returns false when there was nothing to remove.
func (m *Machine) Remove(entityID string, ctx bus.Context) bool {
	m.mu.Lock()
	old, ok := m.states[entityID]
	if ok {
		delete(m.states, entityID)
	}
	m.mu.Unlock()

	if !ok {
		return false
	}
	if ctx.IsZero() {
		ctx = bus.NewContext()
	}
	_ = m.fire(entityID, old.clone(), nil, ctx) //nolint:errcheck // removal cannot be vetoed
	return true
}

// All returns every state ordered by entity id.
func (m *Machine) All() []State {
	m.mu.RLock()
	out := make([]State, 0, len(m.states))
	for _, s := range m.states {
		out = append(out, *s.clone())
	}
	m.mu.RUnlock()

	slices.SortFunc(out, func(a, b State) int {
		switch {
		case a.EntityID < b.EntityID:
			return -1
		case a.EntityID > b.EntityID:
			return 1
		}
		return 0
	})
	return out
}

// Count returns the number of entities with a state.
func (m *Machine) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.states)
}

func (m *Machine) fire(entityID string, oldState, newState *State, ctx bus.Context) error {
	if m.events == nil {
		return nil
	}
	return m.events.Fire(bus.EventStateChanged, map[string]any{
		"entity_id": entityID,
		"old_state": oldState,
		"new_state": newState,
	}, bus.OriginLocal, ctx)
}

// FromEvent extracts the old and new state of a locally fired
// state_changed event. Either may be nil.
func FromEvent(ev bus.Event) (oldState, newState *State, ok bool) {
	if ev.Type != bus.EventStateChanged {
		return nil, nil, false
	}
	oldState, okOld := ev.Data["old_state"].(*State)
	newState, okNew := ev.Data["new_state"].(*State)
	return oldState, newState, okOld || okNew
}
