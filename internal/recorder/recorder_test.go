package recorder

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-hub/internal/bus"
	"github.com/nerrad567/gray-logic-hub/internal/clock"
	"github.com/nerrad567/gray-logic-hub/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-hub/internal/infrastructure/influxdb"
	"github.com/nerrad567/gray-logic-hub/internal/state"
	"github.com/nerrad567/gray-logic-hub/migrations"
)

func setupTestDB(t *testing.T) *database.DB {
	t.Helper()
	db, err := database.Open(database.Config{Path: database.MemoryPath})
	if err != nil {
		t.Fatalf("database.Open() error = %v", err)
	}
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // Test cleanup

	if err := db.Migrate(context.Background(), migrations.FS); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	return db
}

// ─── Mock Dependencies ──────────────────────────────────────────────

type mockTelemetry struct {
	mu     sync.Mutex
	points []influxdb.EntityState
}

func (m *mockTelemetry) WriteEntityState(s influxdb.EntityState) {
	m.mu.Lock()
	m.points = append(m.points, s)
	m.mu.Unlock()
}

type failingRepository struct{ Repository }

func (failingRepository) Insert(context.Context, Record) error { return errors.New("disk full") }

type recordingLogger struct{ warnings int }

func (l *recordingLogger) Warn(string, ...any) { l.warnings++ }

// ─── Tests ──────────────────────────────────────────────────────────

func TestRecorder_RecordsStateChanges(t *testing.T) {
	db := setupTestDB(t)
	clk := clock.NewFake(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	b := bus.New(clk)
	states := state.NewMachine(b, clk)
	telemetry := &mockTelemetry{}

	rec := New(NewSQLiteRepository(db.DB), telemetry)
	rec.Start(b)
	rec.Start(b)
	defer rec.Stop()

	const id = "binary_sensor.connected_to_router"
	ctx := bus.NewContext()
	if err := states.Set(id, state.StateOff, map[string]any{"icon": "mdi:router-network"}, ctx); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	clk.Advance(5 * time.Minute)
	if err := states.Set(id, state.StateUnavailable, nil, bus.Context{}); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	clk.Advance(5 * time.Minute)
	if err := states.Set(id, state.StateOn, nil, bus.Context{}); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	states.Remove(id, bus.Context{})

	history, err := rec.History(context.Background(), id, 10)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	var got []string
	for _, h := range history {
		got = append(got, h.State)
	}
	want := []string{state.StateOn, state.StateUnavailable, state.StateOff}
	if len(got) != len(want) {
		t.Fatalf("History() states = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("History()[%d] = %q, want %q", i, got[i], want[i])
		}
	}
	oldest := history[2]
	if oldest.ContextID != ctx.ID || oldest.Attributes["icon"] != "mdi:router-network" {
		t.Errorf("oldest record = %+v", oldest)
	}
	if !oldest.RecordedAt.Equal(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)) {
		t.Errorf("RecordedAt = %v", oldest.RecordedAt)
	}

	if len(telemetry.points) != 3 {
		t.Fatalf("telemetry points = %d, want 3", len(telemetry.points))
	}
	if p := telemetry.points[1]; p.Available || p.Domain != "binary_sensor" {
		t.Errorf("unavailable point = %+v", p)
	}
}

func TestRecorder_Stop(t *testing.T) {
	db := setupTestDB(t)
	b := bus.New(nil)
	states := state.NewMachine(b, nil)
	rec := New(NewSQLiteRepository(db.DB), nil)

	rec.Start(b)
	rec.Stop()
	rec.Stop()

	if err := states.Set("media_player.lounge", state.StateOff, nil, bus.Context{}); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	history, err := rec.History(context.Background(), "media_player.lounge", 0)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(history) != 0 {
		t.Errorf("History() = %v, want empty after Stop()", history)
	}
}

func TestRecorder_StorageFailureIsLogged(t *testing.T) {
	b := bus.New(nil)
	states := state.NewMachine(b, nil)
	logger := &recordingLogger{}
	rec := New(failingRepository{}, nil)
	rec.SetLogger(logger)
	rec.Start(b)
	defer rec.Stop()

	if err := states.Set("media_player.lounge", state.StateOff, nil, bus.Context{}); err != nil {
		t.Fatalf("Set() error = %v, want nil despite storage failure", err)
	}
	if logger.warnings != 1 {
		t.Errorf("warnings = %d, want 1", logger.warnings)
	}
}

func TestSQLiteRepository_HistoryLimitAndPrune(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSQLiteRepository(db.DB)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	for i := range 5 {
		err := repo.Insert(ctx, Record{
			EntityID:   "media_player.lounge",
			State:      state.StateOff,
			RecordedAt: base.Add(time.Duration(i) * time.Hour),
		})
		if err != nil {
			t.Fatalf("Insert() error = %v", err)
		}
	}
	if err := repo.Insert(ctx, Record{State: "off"}); err == nil {
		t.Error("Insert() without entity id succeeded")
	}
	if _, err := repo.History(ctx, "", 1); err == nil {
		t.Error("History() without entity id succeeded")
	}

	history, err := repo.History(ctx, "media_player.lounge", 2)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(history) != 2 || !history[0].RecordedAt.Equal(base.Add(4*time.Hour)) {
		t.Errorf("History() = %+v, want the two newest", history)
	}

	n, err := repo.Prune(ctx, base.Add(2*time.Hour))
	if err != nil {
		t.Fatalf("Prune() error = %v", err)
	}
	if n != 2 {
		t.Errorf("Prune() = %d, want 2", n)
	}
	history, _ = repo.History(ctx, "media_player.lounge", 0)
	if len(history) != 3 {
		t.Errorf("History() after prune = %d records, want 3", len(history))
	}
}
