package ledger_test

import (
	"context"
	"testing"

	"cubemill/internal/ledger"
	"cubemill/internal/testsupport"
)

func TestOpenCreatesSchema(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenLedger(t, cfg)

	ctx := context.Background()
	unit, err := store.StartUnit(ctx, "run-1", "33UUU_2024-05-01", "33UUU")
	if err != nil {
		t.Fatalf("StartUnit failed: %v", err)
	}
	if unit.ID == 0 {
		t.Fatal("expected unit ID to be assigned")
	}
	if unit.Status != ledger.StatusPending {
		t.Fatalf("unexpected status %q", unit.Status)
	}

	found, err := store.FindUnit(ctx, "run-1", "33UUU_2024-05-01")
	if err != nil {
		t.Fatalf("FindUnit failed: %v", err)
	}
	if found.ID != unit.ID || found.Tile != "33UUU" {
		t.Fatalf("unexpected fetched unit: %#v", found)
	}
}

func TestStartUnitIsIdempotent(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenLedger(t, cfg)

	ctx := context.Background()
	first, err := store.StartUnit(ctx, "run-1", "unit-a", "tile")
	if err != nil {
		t.Fatalf("StartUnit failed: %v", err)
	}
	if err := store.MarkCompleted(ctx, first.ID, "/out/unit-a_v1.tif"); err != nil {
		t.Fatalf("MarkCompleted failed: %v", err)
	}

	again, err := store.StartUnit(ctx, "run-1", "unit-a", "tile")
	if err != nil {
		t.Fatalf("second StartUnit failed: %v", err)
	}
	if again.ID != first.ID {
		t.Fatalf("expected same row, got %d and %d", first.ID, again.ID)
	}
	if again.Status != ledger.StatusCompleted {
		t.Fatalf("completed unit should stay completed, got %q", again.Status)
	}
}

func TestStartUnitResetsFailed(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenLedger(t, cfg)

	ctx := context.Background()
	unit, err := store.StartUnit(ctx, "run-1", "unit-a", "tile")
	if err != nil {
		t.Fatalf("StartUnit failed: %v", err)
	}
	if err := store.MarkFailed(ctx, unit.ID, "read window: truncated file"); err != nil {
		t.Fatalf("MarkFailed failed: %v", err)
	}

	retried, err := store.StartUnit(ctx, "run-1", "unit-a", "tile")
	if err != nil {
		t.Fatalf("retry StartUnit failed: %v", err)
	}
	if retried.Status != ledger.StatusPending {
		t.Fatalf("expected pending after retry, got %q", retried.Status)
	}
	if retried.ErrorMessage != "" {
		t.Fatalf("expected error cleared, got %q", retried.ErrorMessage)
	}
}

func TestProgressAndStats(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenLedger(t, cfg)

	ctx := context.Background()
	a, _ := store.StartUnit(ctx, "run-1", "unit-a", "tile")
	b, _ := store.StartUnit(ctx, "run-1", "unit-b", "tile")

	if err := store.SetStatus(ctx, a.ID, ledger.StatusProcessing); err != nil {
		t.Fatalf("SetStatus failed: %v", err)
	}
	if err := store.SetBlocks(ctx, a.ID, 12); err != nil {
		t.Fatalf("SetBlocks failed: %v", err)
	}
	if err := store.RecordProgress(ctx, a.ID, 7, 3); err != nil {
		t.Fatalf("RecordProgress failed: %v", err)
	}
	if err := store.MarkRecovered(ctx, b.ID, "/out/unit-b_v1.tif"); err != nil {
		t.Fatalf("MarkRecovered failed: %v", err)
	}

	got, err := store.FindUnit(ctx, "run-1", "unit-a")
	if err != nil {
		t.Fatalf("FindUnit failed: %v", err)
	}
	if got.BlocksTotal != 12 || got.BlocksDone != 7 || got.BlocksSkipped != 3 {
		t.Fatalf("unexpected counters: %#v", got)
	}
	if got.HeartbeatAt.IsZero() {
		t.Fatal("expected heartbeat to be set")
	}

	stats, err := store.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if stats[ledger.StatusProcessing] != 1 || stats[ledger.StatusRecovered] != 1 {
		t.Fatalf("unexpected stats: %v", stats)
	}
}

func TestSetStatusRejectsUnknown(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenLedger(t, cfg)

	unit, _ := store.StartUnit(context.Background(), "run-1", "unit-a", "tile")
	if err := store.SetStatus(context.Background(), unit.ID, ledger.Status("shipping")); err == nil {
		t.Fatal("expected error for unknown status")
	}
}

func TestMaintenance(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenLedger(t, cfg)

	ctx := context.Background()
	stuck, _ := store.StartUnit(ctx, "run-1", "unit-a", "tile")
	failed, _ := store.StartUnit(ctx, "run-1", "unit-b", "tile")
	done, _ := store.StartUnit(ctx, "run-1", "unit-c", "tile")

	if err := store.SetStatus(ctx, stuck.ID, ledger.StatusMerging); err != nil {
		t.Fatalf("SetStatus failed: %v", err)
	}
	if err := store.MarkFailed(ctx, failed.ID, "boom"); err != nil {
		t.Fatalf("MarkFailed failed: %v", err)
	}
	if err := store.MarkCompleted(ctx, done.ID, "/out/unit-c_v1.tif"); err != nil {
		t.Fatalf("MarkCompleted failed: %v", err)
	}

	reset, err := store.ResetStuck(ctx)
	if err != nil {
		t.Fatalf("ResetStuck failed: %v", err)
	}
	if reset != 1 {
		t.Fatalf("expected 1 stuck unit reset, got %d", reset)
	}

	retried, err := store.RetryFailed(ctx)
	if err != nil {
		t.Fatalf("RetryFailed failed: %v", err)
	}
	if retried != 1 {
		t.Fatalf("expected 1 failed unit retried, got %d", retried)
	}

	cleared, err := store.ClearCompleted(ctx)
	if err != nil {
		t.Fatalf("ClearCompleted failed: %v", err)
	}
	if cleared != 1 {
		t.Fatalf("expected 1 completed unit cleared, got %d", cleared)
	}

	remaining, err := store.List(ctx)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(remaining) != 2 {
		t.Fatalf("expected 2 remaining units, got %d", len(remaining))
	}
	for _, unit := range remaining {
		if unit.Status != ledger.StatusPending {
			t.Fatalf("expected pending, got %q for %s", unit.Status, unit.UnitID)
		}
	}
}
