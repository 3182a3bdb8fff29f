// Package platform connects integration entities to the entity registry and
// the state machine.
//
// An integration builds its entities and hands them to a Platform. The
// platform registers each one, skips those the registry marks disabled,
// writes the initial state and rewrites it every time the entity notifies.
// Reset undoes all of that when the config entry unloads.
package platform

import (
	"context"
	"fmt"
	"maps"
	"sync"

	"github.com/nerrad567/gray-logic-hub/internal/bus"
	"github.com/nerrad567/gray-logic-hub/internal/entity"
	"github.com/nerrad567/gray-logic-hub/internal/state"
)

// Description is the static part of an entity.
type Description struct {
	UniqueID          string
	Domain            string
	SuggestedObjectID string
	Name              string
	DeviceID          string
	Icon              string
	Category          entity.Category
	DisabledByDefault bool
}

// Entity is implemented by everything an integration exposes.
type Entity interface {
	Describe() Description
	Available() bool
	State() string
	Attributes() map[string]any

	// Subscribe registers notify to be called whenever the state may have
	// changed and returns the function that stops it.
	Subscribe(notify func()) (unsubscribe func())
}

// Identifiable entities are told the entity id they were registered under.
type Identifiable interface {
	SetEntityID(entityID string)
}

// Registry is the part of the entity registry a platform needs.
type Registry interface {
	GetOrCreate(ctx context.Context, reg entity.Registration) (entity.Entry, error)
}

// StateWriter is the part of the state machine a platform needs.
type StateWriter interface {
	Set(entityID, value string, attrs map[string]any, ctx bus.Context) error
	Remove(entityID string, ctx bus.Context) bool
}

// Logger defines the logging interface used by platforms.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Warn(string, ...any)  {}

// tracked is guarded by Platform.mu except for its immutable fields.
type tracked struct {
	entityID    string
	entity      Entity
	unsubscribe func()
	removed     bool
}

// Platform tracks the live entities of one config entry.
//
// Thread Safety: all methods are safe for concurrent use.
type Platform struct {
	name          string
	configEntryID string
	registry      Registry
	states        StateWriter

	mu      sync.Mutex
	logger  Logger
	entries []*tracked
}

// New creates a platform for the integration name and config entry.
func New(name, configEntryID string, registry Registry, states StateWriter) *Platform {
	return &Platform{
		name:          name,
		configEntryID: configEntryID,
		registry:      registry,
		states:        states,
		logger:        noopLogger{},
	}
}

// SetLogger sets the logger.
func (p *Platform) SetLogger(logger Logger) {
	if logger == nil {
		logger = noopLogger{}
	}
	p.mu.Lock()
	p.logger = logger
	p.mu.Unlock()
}

// AddEntities registers entities and starts tracking the enabled ones.
// Registration errors are collected; the remaining entities are still added.
func (p *Platform) AddEntities(ctx context.Context, entities ...Entity) error {
	var firstErr error
	for _, e := range entities {
		if err := p.add(ctx, e); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (p *Platform) add(ctx context.Context, e Entity) error {
	d := e.Describe()
	reg := entity.Registration{
		Domain:            d.Domain,
		Platform:          p.name,
		UniqueID:          d.UniqueID,
		SuggestedObjectID: d.SuggestedObjectID,
		DeviceID:          d.DeviceID,
		ConfigEntryID:     p.configEntryID,
		EntityCategory:    d.Category,
		OriginalName:      d.Name,
		Icon:              d.Icon,
	}
	if d.DisabledByDefault {
		reg.DisabledBy = entity.DisabledByIntegration
	}

	entry, err := p.registry.GetOrCreate(ctx, reg)
	if err != nil {
		return fmt.Errorf("registering %s entity %s: %w", p.name, d.UniqueID, err)
	}

	p.mu.Lock()
	logger := p.logger
	p.mu.Unlock()

	if entry.Disabled() {
		logger.Debug("entity disabled, not adding", "entity_id", entry.EntityID, "disabled_by", entry.DisabledBy)
		return nil
	}

	if idf, ok := e.(Identifiable); ok {
		idf.SetEntityID(entry.EntityID)
	}

	t := &tracked{entityID: entry.EntityID, entity: e}
	p.mu.Lock()
	p.entries = append(p.entries, t)
	p.mu.Unlock()

	p.writeState(t)
	unsubscribe := e.Subscribe(func() { p.writeState(t) })

	p.mu.Lock()
	removed := t.removed
	if !removed {
		t.unsubscribe = unsubscribe
	}
	p.mu.Unlock()
	if removed && unsubscribe != nil {
		unsubscribe()
	}
	return nil
}

// writeState writes the entity's current state. A write that races with
// Reset is undone once it lands, so a reset entity never keeps a state.
func (p *Platform) writeState(t *tracked) {
	p.mu.Lock()
	removed := t.removed
	p.mu.Unlock()
	if removed {
		return
	}

	e := t.entity
	d := e.Describe()

	attrs := maps.Clone(e.Attributes())
	if attrs == nil {
		attrs = map[string]any{}
	}
	if d.Name != "" {
		attrs["friendly_name"] = d.Name
	}
	if d.Icon != "" {
		attrs["icon"] = d.Icon
	}

	value := state.StateUnavailable
	if e.Available() {
		value = e.State()
	}

	err := p.states.Set(t.entityID, value, attrs, bus.Context{})

	p.mu.Lock()
	logger := p.logger
	removed = t.removed
	p.mu.Unlock()

	if err != nil {
		logger.Warn("writing entity state", "entity_id", t.entityID, "error", err)
	}
	if removed {
		p.states.Remove(t.entityID, bus.NewContext())
	}
}

// EntityIDs returns the ids of the tracked entities in the order added.
func (p *Platform) EntityIDs() []string {
	p.mu.Lock()
	defer p.mu.Unlock()

	ids := make([]string, 0, len(p.entries))
	for _, t := range p.entries {
		ids = append(ids, t.entityID)
	}
	return ids
}

// Reset stops following every tracked entity and removes its state.
func (p *Platform) Reset() {
	p.mu.Lock()
	entries := p.entries
	p.entries = nil
	unsubscribes := make([]func(), 0, len(entries))
	for _, t := range entries {
		t.removed = true
		if t.unsubscribe != nil {
			unsubscribes = append(unsubscribes, t.unsubscribe)
			t.unsubscribe = nil
		}
	}
	p.mu.Unlock()

	for _, unsubscribe := range unsubscribes {
		unsubscribe()
	}
	ctx := bus.NewContext()
	for _, t := range entries {
		p.states.Remove(t.entityID, ctx)
	}
}
