package automation

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestSQLiteRepository_RunLifecycle(t *testing.T) {
	ctx := context.Background()
	repo := NewSQLiteRepository(setupTestDB(t).DB)

	started := time.Date(2026, 3, 1, 20, 0, 0, 0, time.UTC)
	run := &AutomationRun{
		ID:                 GenerateID(),
		AutomationID:       "lights",
		TriggerDescription: "kodi_turn_on",
		ContextID:          "ctx-1",
		ParentContextID:    "event-1",
		Status:             RunRunning,
		StartedAt:          started,
		ActionsTotal:       2,
	}
	if err := repo.CreateRun(ctx, run); err != nil {
		t.Fatalf("CreateRun() error = %v", err)
	}

	completed := started.Add(time.Second)
	run.CompletedAt = &completed
	run.Status = RunPartial
	run.ActionsCompleted = 1
	run.ActionsFailed = 1
	run.Failures = []ActionFailure{{ActionIndex: 1, Target: "light.turn_on", ErrorMsg: "service: not found"}}
	if err := repo.UpdateRun(ctx, run); err != nil {
		t.Fatalf("UpdateRun() error = %v", err)
	}

	got, err := repo.GetRun(ctx, run.ID)
	if err != nil {
		t.Fatalf("GetRun() error = %v", err)
	}
	if got.Status != RunPartial || got.ParentContextID != "event-1" || got.TriggerDescription != "kodi_turn_on" {
		t.Errorf("GetRun() = %+v", got)
	}
	if got.CompletedAt == nil || !got.CompletedAt.Equal(completed) {
		t.Errorf("CompletedAt = %v, want %v", got.CompletedAt, completed)
	}
	if len(got.Failures) != 1 || got.Failures[0].Target != "light.turn_on" {
		t.Errorf("Failures = %+v", got.Failures)
	}
}

func TestSQLiteRepository_NotFound(t *testing.T) {
	ctx := context.Background()
	repo := NewSQLiteRepository(setupTestDB(t).DB)

	if _, err := repo.GetRun(ctx, "missing"); !errors.Is(err, ErrRunNotFound) {
		t.Errorf("GetRun() error = %v, want ErrRunNotFound", err)
	}
	if err := repo.UpdateRun(ctx, &AutomationRun{ID: "missing"}); !errors.Is(err, ErrRunNotFound) {
		t.Errorf("UpdateRun() error = %v, want ErrRunNotFound", err)
	}
}

func TestSQLiteRepository_ListRuns(t *testing.T) {
	ctx := context.Background()
	repo := NewSQLiteRepository(setupTestDB(t).DB)

	base := time.Date(2026, 3, 1, 20, 0, 0, 0, time.UTC)
	for i := range 3 {
		run := &AutomationRun{
			ID: GenerateID(), AutomationID: "lights", ContextID: "c",
			Status: RunCompleted, StartedAt: base.Add(time.Duration(i) * time.Minute),
		}
		if err := repo.CreateRun(ctx, run); err != nil {
			t.Fatalf("CreateRun() error = %v", err)
		}
	}
	_ = repo.CreateRun(ctx, &AutomationRun{ID: GenerateID(), AutomationID: "other", ContextID: "c", Status: RunCompleted, StartedAt: base})

	runs, err := repo.ListRuns(ctx, "lights", 2)
	if err != nil {
		t.Fatalf("ListRuns() error = %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("len(runs) = %d, want 2", len(runs))
	}
	if !runs[0].StartedAt.After(runs[1].StartedAt) {
		t.Errorf("runs not newest first: %v then %v", runs[0].StartedAt, runs[1].StartedAt)
	}

	empty, err := repo.ListRuns(ctx, "nobody", 0)
	if err != nil || empty == nil || len(empty) != 0 {
		t.Errorf("ListRuns(nobody) = %v, %v", empty, err)
	}
}
