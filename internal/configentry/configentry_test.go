package configentry

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-hub/internal/bus"
	"github.com/nerrad567/gray-logic-hub/internal/clock"
	"github.com/nerrad567/gray-logic-hub/internal/entity"
)

// ─── Mock Dependencies ──────────────────────────────────────────────

type mockIntegration struct {
	setupErrs []error
	setups    int
	unloads   int
	unloadErr error
}

func (m *mockIntegration) Setup(context.Context, Entry) error {
	var err error
	if m.setups < len(m.setupErrs) {
		err = m.setupErrs[m.setups]
	}
	m.setups++
	return err
}

func (m *mockIntegration) Unload(context.Context, Entry) error {
	m.unloads++
	return m.unloadErr
}

type mockEntities map[string]entity.Entry

func (m mockEntities) Get(entityID string) (entity.Entry, error) {
	e, ok := m[entityID]
	if !ok {
		return entity.Entry{}, entity.ErrEntityNotFound
	}
	return e, nil
}

func newTestManager(t *testing.T, entities mockEntities) (*Manager, *mockIntegration, *bus.Bus, *clock.Fake) {
	t.Helper()
	clk := clock.NewFake(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))
	b := bus.New(clk)
	m := NewManager(b, entities, clk)
	integ := &mockIntegration{}
	m.RegisterIntegration("devolo_home_network", integ)
	if err := m.Add(Entry{ID: "entry-1", Domain: "devolo_home_network", Title: "Office"}); err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	return m, integ, b, clk
}

func entryState(t *testing.T, m *Manager, id string) State {
	t.Helper()
	e, ok := m.Get(id)
	if !ok {
		t.Fatalf("Get(%s) not found", id)
	}
	return e.State
}

// ─── Tests ──────────────────────────────────────────────────────────

func TestManager_SetupAndUnload(t *testing.T) {
	m, integ, _, _ := newTestManager(t, nil)
	ctx := context.Background()

	if err := m.Setup(ctx, "entry-1"); err != nil {
		t.Fatalf("Setup() error = %v", err)
	}
	if got := entryState(t, m, "entry-1"); got != StateLoaded {
		t.Errorf("state = %q, want loaded", got)
	}
	if err := m.Setup(ctx, "entry-1"); !errors.Is(err, ErrAlreadyLoaded) {
		t.Errorf("second Setup() error = %v, want ErrAlreadyLoaded", err)
	}

	if err := m.Unload(ctx, "entry-1"); err != nil {
		t.Fatalf("Unload() error = %v", err)
	}
	if integ.unloads != 1 || entryState(t, m, "entry-1") != StateNotLoaded {
		t.Errorf("unloads = %d, state = %q", integ.unloads, entryState(t, m, "entry-1"))
	}
}

func TestManager_Add_Duplicate(t *testing.T) {
	m, _, _, _ := newTestManager(t, nil)
	if err := m.Add(Entry{ID: "entry-1", Domain: "kodi"}); !errors.Is(err, ErrEntryExists) {
		t.Errorf("Add() error = %v, want ErrEntryExists", err)
	}
}

func TestManager_Setup_UnknownIntegration(t *testing.T) {
	m, _, _, _ := newTestManager(t, nil)
	_ = m.Add(Entry{ID: "entry-2", Domain: "unknown"})

	if err := m.Setup(context.Background(), "entry-2"); !errors.Is(err, ErrIntegrationNotFound) {
		t.Errorf("Setup() error = %v, want ErrIntegrationNotFound", err)
	}
	if got := entryState(t, m, "entry-2"); got != StateSetupError {
		t.Errorf("state = %q, want setup_error", got)
	}
	if err := m.Setup(context.Background(), "missing"); !errors.Is(err, ErrEntryNotFound) {
		t.Errorf("Setup(missing) error = %v, want ErrEntryNotFound", err)
	}
}

func TestManager_Setup_RetriesWhenNotReady(t *testing.T) {
	m, integ, _, clk := newTestManager(t, nil)
	integ.setupErrs = []error{
		fmt.Errorf("%w: device offline", ErrNotReady),
		fmt.Errorf("%w: device offline", ErrNotReady),
	}

	err := m.Setup(context.Background(), "entry-1")
	if !errors.Is(err, ErrNotReady) {
		t.Fatalf("Setup() error = %v, want ErrNotReady", err)
	}
	if got := entryState(t, m, "entry-1"); got != StateSetupRetry {
		t.Fatalf("state = %q, want setup_retry", got)
	}

	clk.Advance(retryBaseDelay)
	if integ.setups != 2 || entryState(t, m, "entry-1") != StateSetupRetry {
		t.Fatalf("after first retry setups = %d, state = %q", integ.setups, entryState(t, m, "entry-1"))
	}

	clk.Advance(2 * retryBaseDelay)
	if integ.setups != 3 || entryState(t, m, "entry-1") != StateLoaded {
		t.Errorf("after second retry setups = %d, state = %q", integ.setups, entryState(t, m, "entry-1"))
	}
}

func TestManager_Setup_HardFailure(t *testing.T) {
	m, integ, _, clk := newTestManager(t, nil)
	integ.setupErrs = []error{errors.New("bad credentials")}

	if err := m.Setup(context.Background(), "entry-1"); err == nil {
		t.Fatal("Setup() error = nil, want error")
	}
	if got := entryState(t, m, "entry-1"); got != StateSetupError {
		t.Errorf("state = %q, want setup_error", got)
	}
	if clk.Pending() != 0 {
		t.Errorf("Pending() = %d, want no retry", clk.Pending())
	}
}

func TestManager_ReloadAfterEntityEnabled(t *testing.T) {
	entities := mockEntities{
		"binary_sensor.connected_to_router": {
			EntityID: "binary_sensor.connected_to_router", ConfigEntryID: "entry-1",
		},
	}
	m, integ, b, clk := newTestManager(t, entities)
	_ = m.Setup(context.Background(), "entry-1")

	fire := func() {
		_ = b.Fire(bus.EventEntityRegistryUpdated, map[string]any{
			"action":    entity.ActionUpdate,
			"entity_id": "binary_sensor.connected_to_router",
			"changes":   map[string]any{"disabled_by": "integration"},
		}, bus.OriginLocal, bus.Context{})
	}

	fire()
	clk.Advance(ReloadAfterUpdateDelay - time.Second)
	fire()
	clk.Advance(ReloadAfterUpdateDelay - time.Second)
	if integ.setups != 1 {
		t.Fatalf("reloaded before the delay elapsed; setups = %d", integ.setups)
	}

	clk.Advance(time.Second)
	if integ.setups != 2 || integ.unloads != 1 {
		t.Errorf("setups = %d, unloads = %d; want one reload", integ.setups, integ.unloads)
	}
	if got := entryState(t, m, "entry-1"); got != StateLoaded {
		t.Errorf("state = %q, want loaded", got)
	}
}

func TestManager_IgnoresOtherRegistryUpdates(t *testing.T) {
	entities := mockEntities{
		"sensor.other": {EntityID: "sensor.other", ConfigEntryID: "entry-1", DisabledBy: entity.DisabledByUser},
	}
	m, integ, b, clk := newTestManager(t, entities)
	_ = m.Setup(context.Background(), "entry-1")

	// Disabling is not a reason to reload.
	_ = b.Fire(bus.EventEntityRegistryUpdated, map[string]any{
		"action": entity.ActionUpdate, "entity_id": "sensor.other",
		"changes": map[string]any{"disabled_by": ""},
	}, bus.OriginLocal, bus.Context{})
	_ = b.Fire(bus.EventEntityRegistryUpdated, map[string]any{
		"action": entity.ActionCreate, "entity_id": "sensor.other",
	}, bus.OriginLocal, bus.Context{})

	clk.Advance(time.Minute)
	if integ.setups != 1 {
		t.Errorf("setups = %d, want 1", integ.setups)
	}
}

func TestManager_EntriesAndUnloadAll(t *testing.T) {
	m, integ, _, _ := newTestManager(t, nil)
	kodi := &mockIntegration{}
	m.RegisterIntegration("kodi", kodi)
	_ = m.Add(Entry{ID: "entry-2", Domain: "kodi"})

	if got := m.Entries("kodi"); len(got) != 1 || got[0].ID != "entry-2" {
		t.Errorf("Entries(kodi) = %+v", got)
	}
	if got := m.Entries(""); len(got) != 2 {
		t.Errorf("Entries(\"\") len = %d, want 2", len(got))
	}

	_ = m.Setup(context.Background(), "entry-1")
	_ = m.Setup(context.Background(), "entry-2")
	if err := m.UnloadAll(context.Background()); err != nil {
		t.Fatalf("UnloadAll() error = %v", err)
	}
	if integ.unloads != 1 || kodi.unloads != 1 {
		t.Errorf("unloads devolo=%d kodi=%d, want 1 each", integ.unloads, kodi.unloads)
	}
}
