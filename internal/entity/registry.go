package entity

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-hub/internal/bus"
)

// Registry change actions carried in entity_registry_updated events.
const (
	ActionCreate = "create"
	ActionUpdate = "update"
	ActionRemove = "remove"
)

// Logger defines the logging interface used by the registry.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// EventFirer is the part of the event bus the registry announces changes on.
type EventFirer interface {
	Fire(eventType string, data map[string]any, origin bus.Origin, ctx bus.Context) error
}

// Registry keeps every registered entity in memory, in registration order,
// backed by a Repository.
//
// Thread Safety: all methods are safe for concurrent use.
type Registry struct {
	repo   Repository
	events EventFirer
	logger Logger
	now    func() time.Time

	mu       sync.RWMutex
	entries  map[string]Entry
	byUnique map[uniqueKey]string
	order    []string
}

type uniqueKey struct {
	domain   string
	platform string
	uniqueID string
}

// NewRegistry creates a registry over repo. events may be nil.
func NewRegistry(repo Repository, events EventFirer) *Registry {
	return &Registry{
		repo:     repo,
		events:   events,
		logger:   noopLogger{},
		now:      func() time.Time { return time.Now().UTC() },
		entries:  make(map[string]Entry),
		byUnique: make(map[uniqueKey]string),
	}
}

// SetLogger sets the logger for registry operations.
func (r *Registry) SetLogger(logger Logger) {
	if logger == nil {
		logger = noopLogger{}
	}
	r.mu.Lock()
	r.logger = logger
	r.mu.Unlock()
}

// Load replaces the cache with the repository contents.
func (r *Registry) Load(ctx context.Context) error {
	list, err := r.repo.List(ctx)
	if err != nil {
		return fmt.Errorf("loading entity registry: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.entries = make(map[string]Entry, len(list))
	r.byUnique = make(map[uniqueKey]string, len(list))
	r.order = r.order[:0]
	for _, e := range list {
		r.put(e)
	}
	r.logger.Info("entity registry loaded", "count", len(list))
	return nil
}

// put adds or replaces e in the cache. Caller holds r.mu.
func (r *Registry) put(e Entry) {
	if _, ok := r.entries[e.EntityID]; !ok {
		r.order = append(r.order, e.EntityID)
	}
	r.entries[e.EntityID] = e
	r.byUnique[uniqueKey{e.Domain, e.Platform, e.UniqueID}] = e.EntityID
}

// GetOrCreate returns the entry for (domain, platform, unique id), creating
// it when absent. For an existing entry the device, config entry, name,
// category and icon are refreshed from reg; DisabledBy is left alone so a
// user's choice survives restarts.
func (r *Registry) GetOrCreate(ctx context.Context, reg Registration) (Entry, error) {
	if reg.Domain == "" || reg.Platform == "" || reg.UniqueID == "" {
		return Entry{}, fmt.Errorf("%w: domain, platform and unique_id are required", ErrInvalidRegistration)
	}

	r.mu.Lock()
	key := uniqueKey{reg.Domain, reg.Platform, reg.UniqueID}
	if id, ok := r.byUnique[key]; ok {
		existing := r.entries[id]
		updated := existing
		updated.DeviceID = reg.DeviceID
		updated.ConfigEntryID = reg.ConfigEntryID
		updated.EntityCategory = reg.EntityCategory
		updated.OriginalName = reg.OriginalName
		updated.Icon = reg.Icon
		if updated == existing {
			r.mu.Unlock()
			return existing, nil
		}
		updated.UpdatedAt = r.now()
		if err := r.repo.Update(ctx, updated); err != nil {
			r.mu.Unlock()
			return Entry{}, fmt.Errorf("updating entity %s: %w", id, err)
		}
		r.put(updated)
		r.mu.Unlock()
		return updated, nil
	}

	now := r.now()
	e := Entry{
		EntityID:       r.generateEntityID(reg),
		UniqueID:       reg.UniqueID,
		Platform:       reg.Platform,
		Domain:         reg.Domain,
		DeviceID:       reg.DeviceID,
		ConfigEntryID:  reg.ConfigEntryID,
		DisabledBy:     reg.DisabledBy,
		EntityCategory: reg.EntityCategory,
		OriginalName:   reg.OriginalName,
		Icon:           reg.Icon,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := r.repo.Create(ctx, e); err != nil {
		r.mu.Unlock()
		return Entry{}, fmt.Errorf("creating entity %s: %w", e.EntityID, err)
	}
	r.put(e)
	logger := r.logger
	r.mu.Unlock()

	logger.Debug("entity registered", "entity_id", e.EntityID, "platform", e.Platform, "disabled_by", e.DisabledBy)
	r.announce(ActionCreate, e.EntityID, nil)
	return e, nil
}

// generateEntityID picks domain.slug for reg, suffixing _2, _3, ... when the
// id is taken. Caller holds r.mu.
func (r *Registry) generateEntityID(reg Registration) string {
	base := reg.SuggestedObjectID
	if base == "" {
		base = reg.OriginalName
	}
	slug := Slugify(base)
	if slug == "" {
		slug = Slugify(reg.Platform + " " + reg.UniqueID)
	}

	candidate := reg.Domain + "." + slug
	for n := 2; ; n++ {
		if _, taken := r.entries[candidate]; !taken {
			return candidate
		}
		candidate = fmt.Sprintf("%s.%s_%d", reg.Domain, slug, n)
	}
}

// Get returns the entry for entityID.
func (r *Registry) Get(entityID string) (Entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entries[entityID]
	if !ok {
		return Entry{}, fmt.Errorf("%w: %s", ErrEntityNotFound, entityID)
	}
	return e, nil
}

// EntityIDFor returns the entity id registered for (domain, platform, unique id).
func (r *Registry) EntityIDFor(domain, platform, uniqueID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.byUnique[uniqueKey{domain, platform, uniqueID}]
	return id, ok
}

// EntriesForDevice returns the enabled entries attached to deviceID in
// registration order. The slice is never nil.
func (r *Registry) EntriesForDevice(_ context.Context, deviceID string) ([]Entry, error) {
	return r.filter(func(e Entry) bool { return e.DeviceID == deviceID && !e.Disabled() }), nil
}

// AllEntriesForDevice is EntriesForDevice including disabled entries.
func (r *Registry) AllEntriesForDevice(deviceID string) []Entry {
	return r.filter(func(e Entry) bool { return e.DeviceID == deviceID })
}

// EntriesForConfigEntry returns every entry, enabled or not, created by the
// given config entry in registration order.
func (r *Registry) EntriesForConfigEntry(configEntryID string) []Entry {
	return r.filter(func(e Entry) bool { return e.ConfigEntryID == configEntryID })
}

// List returns every entry in registration order.
func (r *Registry) List() []Entry {
	return r.filter(func(Entry) bool { return true })
}

func (r *Registry) filter(keep func(Entry) bool) []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Entry, 0)
	for _, id := range r.order {
		if e := r.entries[id]; keep(e) {
			out = append(out, e)
		}
	}
	return out
}

// UpdateEntity applies upd to entityID and announces the change with the
// previous values of the changed fields.
func (r *Registry) UpdateEntity(ctx context.Context, entityID string, upd Update) (Entry, error) {
	r.mu.Lock()
	existing, ok := r.entries[entityID]
	if !ok {
		r.mu.Unlock()
		return Entry{}, fmt.Errorf("%w: %s", ErrEntityNotFound, entityID)
	}

	updated := existing
	changes := map[string]any{}
	if upd.DisabledBy != nil && *upd.DisabledBy != existing.DisabledBy {
		updated.DisabledBy = *upd.DisabledBy
		changes["disabled_by"] = string(existing.DisabledBy)
	}
	if len(changes) == 0 {
		r.mu.Unlock()
		return existing, nil
	}

	updated.UpdatedAt = r.now()
	if err := r.repo.Update(ctx, updated); err != nil {
		r.mu.Unlock()
		return Entry{}, fmt.Errorf("updating entity %s: %w", entityID, err)
	}
	r.put(updated)
	r.mu.Unlock()

	r.announce(ActionUpdate, entityID, changes)
	return updated, nil
}

// Remove deletes entityID from the registry.
func (r *Registry) Remove(ctx context.Context, entityID string) error {
	r.mu.Lock()
	e, ok := r.entries[entityID]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrEntityNotFound, entityID)
	}
	if err := r.repo.Delete(ctx, entityID); err != nil {
		r.mu.Unlock()
		return fmt.Errorf("removing entity %s: %w", entityID, err)
	}
	delete(r.entries, entityID)
	delete(r.byUnique, uniqueKey{e.Domain, e.Platform, e.UniqueID})
	r.order = slices.DeleteFunc(r.order, func(id string) bool { return id == entityID })
	r.mu.Unlock()

	r.announce(ActionRemove, entityID, nil)
	return nil
}

// Count returns the number of registered entities.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

func (r *Registry) announce(action, entityID string, changes map[string]any) {
	if r.events == nil {
		return
	}
	data := map[string]any{"action": action, "entity_id": entityID}
	if changes != nil {
		data["changes"] = changes
	}
	if err := r.events.Fire(bus.EventEntityRegistryUpdated, data, bus.OriginLocal, bus.NewContext()); err != nil {
		r.mu.RLock()
		logger := r.logger
		r.mu.RUnlock()
		logger.Warn("entity registry listener failed", "entity_id", entityID, "action", action, "error", err)
	}
}
