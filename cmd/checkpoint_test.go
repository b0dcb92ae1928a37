package cmd

import (
	"os"
	"path/filepath"
	"testing"
)

func TestCheckpointLoadMissingFile(t *testing.T) {
	store := NewCheckpointStore(t.TempDir(), "db", "events")

	state := store.Load()
	if len(state.CompletedUnits) != 0 {
		t.Fatalf("expected empty state, got %v", state.CompletedUnits)
	}
	if state.LastProcessed != nil {
		t.Fatal("expected nil LastProcessed")
	}
}

func TestCheckpointLoadCorruptFile(t *testing.T) {
	dir := t.TempDir()
	store := NewCheckpointStore(dir, "db", "events")

	if err := os.WriteFile(store.Path(), []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}

	// A corrupt checkpoint degrades to full reprocessing, never an error
	state := store.Load()
	if len(state.CompletedUnits) != 0 {
		t.Fatalf("expected empty state from corrupt file, got %v", state.CompletedUnits)
	}
}

func TestCheckpointSaveLoadRoundtrip(t *testing.T) {
	dir := t.TempDir()
	store := NewCheckpointStore(dir, "db", "events")

	state := NewCheckpointState()
	state.MarkComplete("2024-02")
	state.MarkComplete("2024-01")

	if err := store.Save(state); err != nil {
		t.Fatal(err)
	}

	// The temp file from the atomic write must not linger
	if _, err := os.Stat(store.Path() + ".tmp"); !os.IsNotExist(err) {
		t.Fatal("temp file left behind after save")
	}

	loaded := store.Load()
	if len(loaded.CompletedUnits) != 2 {
		t.Fatalf("expected 2 units, got %v", loaded.CompletedUnits)
	}
	// Keys are kept sorted
	if loaded.CompletedUnits[0] != "2024-01" || loaded.CompletedUnits[1] != "2024-02" {
		t.Fatalf("unexpected order: %v", loaded.CompletedUnits)
	}
	if loaded.LastProcessed == nil {
		t.Fatal("LastProcessed should be stamped")
	}
}

func TestCheckpointMarkCompleteIdempotent(t *testing.T) {
	state := NewCheckpointState()
	state.MarkComplete("2024-01")
	state.MarkComplete("2024-01")

	if len(state.CompletedUnits) != 1 {
		t.Fatalf("expected 1 unit, got %v", state.CompletedUnits)
	}
	if !state.IsComplete("2024-01") {
		t.Fatal("unit should be complete")
	}
	if state.IsComplete("2024-02") {
		t.Fatal("unit should not be complete")
	}
}

func TestCheckpointRemove(t *testing.T) {
	state := NewCheckpointState()
	state.MarkComplete("2024-01")
	state.MarkComplete("2024-02")
	state.MarkComplete("2024-03")

	state.Remove("2024-02")

	if state.IsComplete("2024-02") {
		t.Fatal("removed unit should not be complete")
	}
	if !state.IsComplete("2024-01") || !state.IsComplete("2024-03") {
		t.Fatal("other units should remain complete")
	}

	// Removing an absent key is a no-op
	state.Remove("2024-09")
	if len(state.CompletedUnits) != 2 {
		t.Fatalf("expected 2 units, got %v", state.CompletedUnits)
	}
}

func TestCheckpointReset(t *testing.T) {
	dir := t.TempDir()
	store := NewCheckpointStore(dir, "db", "events")

	state := NewCheckpointState()
	state.MarkComplete("2024-01")
	if err := store.Save(state); err != nil {
		t.Fatal(err)
	}

	if err := store.Reset(); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(store.Path()); !os.IsNotExist(err) {
		t.Fatal("checkpoint file should be removed")
	}

	// Resetting an already-absent checkpoint succeeds
	if err := store.Reset(); err != nil {
		t.Fatal(err)
	}
}

func TestCheckpointPath(t *testing.T) {
	dir := t.TempDir()
	store := NewCheckpointStore(dir, "mydb", "orders")

	expected := filepath.Join(dir, "mydb_orders_checkpoint.json")
	if store.Path() != expected {
		t.Fatalf("expected path %s, got %s", expected, store.Path())
	}
}
