// Package configentry manages the lifecycle of configured integration
// instances.
//
// Each configured Kodi box or devolo adapter is one Entry. The Manager sets
// entries up through their Integration, retries entries whose device is not
// reachable yet, and reloads an entry when the user enables one of its
// entities so the newly enabled entity gets added.
//
// Lifecycle:
//
//	not_loaded ──Setup──▶ loaded ──Unload──▶ not_loaded
//	     │                  ▲
//	     └──ErrNotReady──▶ setup_retry ──timer──┘
package configentry

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-hub/internal/bus"
	"github.com/nerrad567/gray-logic-hub/internal/clock"
	"github.com/nerrad567/gray-logic-hub/internal/entity"
)

// ReloadAfterUpdateDelay is how long after an entity is enabled its config
// entry is reloaded. Further enables within the window restart the delay.
const ReloadAfterUpdateDelay = 30 * time.Second

const (
	retryBaseDelay = 5 * time.Second
	retryMaxDelay  = 80 * time.Second
)

// State of a config entry.
type State string

const (
	StateNotLoaded  State = "not_loaded"
	StateLoaded     State = "loaded"
	StateSetupRetry State = "setup_retry"
	StateSetupError State = "setup_error"
)

var (
	// ErrNotReady is wrapped by integrations whose device cannot be reached
	// yet. The entry moves to setup_retry and is retried with backoff.
	ErrNotReady = errors.New("configentry: not ready")

	// ErrEntryNotFound is returned for unknown entry ids.
	ErrEntryNotFound = errors.New("configentry: entry not found")

	// ErrEntryExists is returned when adding a duplicate entry id.
	ErrEntryExists = errors.New("configentry: entry already exists")

	// ErrIntegrationNotFound is returned when no integration is registered
	// for the entry's domain.
	ErrIntegrationNotFound = errors.New("configentry: integration not found")

	// ErrAlreadyLoaded is returned by Setup for a loaded entry.
	ErrAlreadyLoaded = errors.New("configentry: already loaded")
)

// Entry is one configured integration instance.
type Entry struct {
	ID     string         `json:"entry_id"`
	Domain string         `json:"domain"`
	Title  string         `json:"title"`
	Data   map[string]any `json:"data"`
	State  State          `json:"state"`
	Reason string         `json:"reason,omitempty"`
}

// Integration sets up and tears down entries of one domain.
type Integration interface {
	Setup(ctx context.Context, entry Entry) error
	Unload(ctx context.Context, entry Entry) error
}

// EntityLookup resolves entity ids to registry entries.
type EntityLookup interface {
	Get(entityID string) (entity.Entry, error)
}

// EventListener is the part of the bus the manager listens on.
type EventListener interface {
	Listen(eventType string, l bus.Listener) bus.Unsubscribe
}

// Logger defines the logging interface used by the manager.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

type managed struct {
	entry       Entry
	retries     int
	retryTimer  clock.Timer
	reloadTimer clock.Timer
}

// Manager owns every config entry.
//
// Thread Safety: all methods are safe for concurrent use. Integration
// callbacks run without the manager lock held.
type Manager struct {
	clock    clock.Clock
	entities EntityLookup

	mu           sync.Mutex
	logger       Logger
	integrations map[string]Integration
	entries      map[string]*managed
	order        []string
	stopListen   bus.Unsubscribe
}

// NewManager creates a manager. events and entities may be nil, in which
// case enabling an entity does not trigger reloads.
func NewManager(events EventListener, entities EntityLookup, clk clock.Clock) *Manager {
	if clk == nil {
		clk = clock.Real{}
	}
	m := &Manager{
		clock:        clk,
		entities:     entities,
		logger:       noopLogger{},
		integrations: make(map[string]Integration),
		entries:      make(map[string]*managed),
	}
	if events != nil && entities != nil {
		m.stopListen = events.Listen(bus.EventEntityRegistryUpdated, m.handleRegistryUpdate)
	}
	return m
}

// SetLogger sets the logger.
func (m *Manager) SetLogger(logger Logger) {
	if logger == nil {
		logger = noopLogger{}
	}
	m.mu.Lock()
	m.logger = logger
	m.mu.Unlock()
}

// RegisterIntegration makes integ responsible for entries of domain.
func (m *Manager) RegisterIntegration(domain string, integ Integration) {
	m.mu.Lock()
	m.integrations[domain] = integ
	m.mu.Unlock()
}

// Add stores a new entry in state not_loaded without setting it up.
func (m *Manager) Add(entry Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.entries[entry.ID]; ok {
		return fmt.Errorf("%w: %s", ErrEntryExists, entry.ID)
	}
	entry.Data = maps.Clone(entry.Data)
	entry.State = StateNotLoaded
	m.entries[entry.ID] = &managed{entry: entry}
	m.order = append(m.order, entry.ID)
	return nil
}

// Get returns a copy of the entry.
func (m *Manager) Get(id string) (Entry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	me, ok := m.entries[id]
	if !ok {
		return Entry{}, false
	}
	return me.copyEntry(), true
}

// Entries returns the entries of domain, or every entry when domain is "",
// in the order added.
func (m *Manager) Entries(domain string) []Entry {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Entry, 0, len(m.order))
	for _, id := range m.order {
		me := m.entries[id]
		if domain == "" || me.entry.Domain == domain {
			out = append(out, me.copyEntry())
		}
	}
	return out
}

func (me *managed) copyEntry() Entry {
	e := me.entry
	e.Data = maps.Clone(e.Data)
	return e
}

// Setup sets the entry up. An integration error wrapping ErrNotReady moves
// the entry to setup_retry and schedules another attempt; the error is still
// returned.
func (m *Manager) Setup(ctx context.Context, id string) error {
	m.mu.Lock()
	me, ok := m.entries[id]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrEntryNotFound, id)
	}
	if me.entry.State == StateLoaded {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrAlreadyLoaded, id)
	}
	integ, ok := m.integrations[me.entry.Domain]
	if !ok {
		me.entry.State = StateSetupError
		me.entry.Reason = "integration not found"
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrIntegrationNotFound, me.entry.Domain)
	}
	stopTimer(&me.retryTimer)
	entry := me.copyEntry()
	logger := m.logger
	m.mu.Unlock()

	err := integ.Setup(ctx, entry)

	m.mu.Lock()
	defer m.mu.Unlock()

	switch {
	case err == nil:
		me.entry.State = StateLoaded
		me.entry.Reason = ""
		me.retries = 0
		logger.Info("config entry loaded", "entry_id", id, "domain", entry.Domain)
	case errors.Is(err, ErrNotReady):
		me.entry.State = StateSetupRetry
		me.entry.Reason = err.Error()
		delay := retryDelay(me.retries)
		me.retries++
		me.retryTimer = m.clock.AfterFunc(delay, func() { m.retrySetup(id) })
		logger.Warn("config entry not ready, retrying", "entry_id", id, "retry_in", delay, "error", err)
	default:
		me.entry.State = StateSetupError
		me.entry.Reason = err.Error()
		logger.Error("config entry setup failed", "entry_id", id, "error", err)
	}
	if err != nil {
		return fmt.Errorf("setting up %s: %w", id, err)
	}
	return nil
}

func (m *Manager) retrySetup(id string) {
	m.mu.Lock()
	me, ok := m.entries[id]
	retry := ok && me.entry.State == StateSetupRetry
	m.mu.Unlock()

	if retry {
		_ = m.Setup(context.Background(), id) //nolint:errcheck // state and logs carry the outcome
	}
}

func retryDelay(retries int) time.Duration {
	d := retryBaseDelay << min(retries, 4)
	return min(d, retryMaxDelay)
}

// Unload tears the entry down. Entries that are not loaded only have their
// pending retry cancelled.
func (m *Manager) Unload(ctx context.Context, id string) error {
	m.mu.Lock()
	me, ok := m.entries[id]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrEntryNotFound, id)
	}
	stopTimer(&me.retryTimer)
	stopTimer(&me.reloadTimer)
	if me.entry.State != StateLoaded {
		me.entry.State = StateNotLoaded
		m.mu.Unlock()
		return nil
	}
	integ := m.integrations[me.entry.Domain]
	entry := me.copyEntry()
	m.mu.Unlock()

	if err := integ.Unload(ctx, entry); err != nil {
		return fmt.Errorf("unloading %s: %w", id, err)
	}

	m.mu.Lock()
	me.entry.State = StateNotLoaded
	me.entry.Reason = ""
	m.mu.Unlock()
	return nil
}

// Reload unloads and sets the entry up again.
func (m *Manager) Reload(ctx context.Context, id string) error {
	if err := m.Unload(ctx, id); err != nil {
		return err
	}
	return m.Setup(ctx, id)
}

// UnloadAll unloads every loaded entry in reverse order and stops listening
// for registry updates.
func (m *Manager) UnloadAll(ctx context.Context) error {
	if m.stopListen != nil {
		m.stopListen()
	}

	m.mu.Lock()
	ids := slices.Clone(m.order)
	m.mu.Unlock()
	slices.Reverse(ids)

	var errs []error
	for _, id := range ids {
		if err := m.Unload(ctx, id); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// handleRegistryUpdate schedules a reload when an entity of a loaded entry
// is enabled.
func (m *Manager) handleRegistryUpdate(ev bus.Event) error {
	if action, _ := ev.String("action"); action != entity.ActionUpdate {
		return nil
	}
	changes, _ := ev.Data["changes"].(map[string]any)
	if _, ok := changes["disabled_by"]; !ok {
		return nil
	}
	entityID, _ := ev.String("entity_id")
	e, err := m.entities.Get(entityID)
	if err != nil || e.Disabled() || e.ConfigEntryID == "" {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	me, ok := m.entries[e.ConfigEntryID]
	if !ok || me.entry.State != StateLoaded {
		return nil
	}
	stopTimer(&me.reloadTimer)
	id := e.ConfigEntryID
	me.reloadTimer = m.clock.AfterFunc(ReloadAfterUpdateDelay, func() {
		if err := m.Reload(context.Background(), id); err != nil {
			m.mu.Lock()
			logger := m.logger
			m.mu.Unlock()
			logger.Error("reloading config entry after entity enable", "entry_id", id, "error", err)
		}
	})
	m.logger.Info("entity enabled, reloading config entry", "entity_id", entityID, "entry_id", id, "delay", ReloadAfterUpdateDelay)
	return nil
}

func stopTimer(t *clock.Timer) {
	if *t != nil {
		(*t).Stop()
		*t = nil
	}
}
