package cmd

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func testCleanConfig(dir string) *Config {
	return &Config{
		Mode: ModeClean,
		Database: DatabaseConfig{
			Host: "localhost",
			Port: 27017,
			Name: "db",
		},
		Collection: "events",
		OutputDir:  dir,
	}
}

func writeArtifactFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func saveCheckpoint(t *testing.T, store *CheckpointStore, keys ...string) {
	t.Helper()
	state := NewCheckpointState()
	for _, key := range keys {
		state.MarkComplete(key)
	}
	if err := store.Save(state); err != nil {
		t.Fatal(err)
	}
}

func TestCleanerDeletesOnlyCompletedArtifacts(t *testing.T) {
	dir := t.TempDir()
	store := NewCheckpointStore(dir, "db", "events")
	saveCheckpoint(t, store, "2024-01", "2024-02")

	completed1 := writeArtifactFile(t, dir, "db_events_2024-01.jsonl", `{"seq":1}`+"\n")
	completed2 := writeArtifactFile(t, dir, "db_events_2024-02.jsonl", `{"seq":2}`+"\n")
	orphan := writeArtifactFile(t, dir, "db_events_2024-03.jsonl", `{"seq":3}`+"\n")
	unrelated := writeArtifactFile(t, dir, "notes.txt", "keep me")

	sidecar := &IndexMetadata{Source: "db", Collection: "events", ExtractedAt: time.Now().UTC()}
	if err := writeIndexSidecar(dir, sidecar); err != nil {
		t.Fatal(err)
	}

	cleaner := NewCleaner(testCleanConfig(dir), store, testLogger())
	if err := cleaner.Run(context.Background()); err != nil {
		t.Fatal(err)
	}

	for _, path := range []string{completed1, completed2} {
		if _, err := os.Stat(path); !os.IsNotExist(err) {
			t.Errorf("completed artifact %s should be deleted", path)
		}
	}
	// Files the checkpoint does not cover are never touched
	for _, path := range []string{orphan, unrelated} {
		if _, err := os.Stat(path); err != nil {
			t.Errorf("%s should survive: %v", path, err)
		}
	}

	// Fully cleaned: checkpoint and sidecar removed
	if _, err := os.Stat(store.Path()); !os.IsNotExist(err) {
		t.Fatal("checkpoint should be removed after cleaning everything")
	}
	if _, err := os.Stat(sidecarPath(dir, "db", "events")); !os.IsNotExist(err) {
		t.Fatal("index sidecar should be removed after cleaning everything")
	}
}

func TestCleanerMissingArtifactSkipped(t *testing.T) {
	dir := t.TempDir()
	store := NewCheckpointStore(dir, "db", "events")
	saveCheckpoint(t, store, "2024-01", "2024-02")

	present := writeArtifactFile(t, dir, "db_events_2024-01.jsonl", `{"seq":1}`+"\n")

	cleaner := NewCleaner(testCleanConfig(dir), store, testLogger())
	if err := cleaner.Run(context.Background()); err != nil {
		t.Fatal(err)
	}

	// The valid candidate is still cleaned
	if _, err := os.Stat(present); !os.IsNotExist(err) {
		t.Fatal("2024-01 artifact should be deleted despite 2024-02 missing")
	}
	if cleaner.deleted != 1 || cleaner.skipped != 1 {
		t.Fatalf("expected 1 deleted and 1 skipped, got %d/%d", cleaner.deleted, cleaner.skipped)
	}

	// The unit without a file keeps its checkpoint entry
	state := store.Load()
	if state.IsComplete("2024-01") || !state.IsComplete("2024-02") {
		t.Fatalf("checkpoint should keep only 2024-02, got %v", state.CompletedUnits)
	}
}

func TestCleanerEmptyArtifactSkipped(t *testing.T) {
	dir := t.TempDir()
	store := NewCheckpointStore(dir, "db", "events")
	saveCheckpoint(t, store, "2024-01", "2024-02")

	empty := writeArtifactFile(t, dir, "db_events_2024-01.jsonl", "")
	valid := writeArtifactFile(t, dir, "db_events_2024-02.jsonl", `{"seq":2}`+"\n")

	cleaner := NewCleaner(testCleanConfig(dir), store, testLogger())
	if err := cleaner.Run(context.Background()); err != nil {
		t.Fatal(err)
	}

	if _, err := os.Stat(empty); err != nil {
		t.Fatal("empty artifact should be left in place")
	}
	if _, err := os.Stat(valid); !os.IsNotExist(err) {
		t.Fatal("valid artifact should be deleted")
	}
	if cleaner.skipped != 1 {
		t.Fatalf("expected 1 skipped, got %d", cleaner.skipped)
	}
	if !store.Load().IsComplete("2024-01") {
		t.Fatal("skipped unit should keep its checkpoint entry")
	}
}

func TestCleanerAllCandidatesInvalid(t *testing.T) {
	dir := t.TempDir()
	store := NewCheckpointStore(dir, "db", "events")
	saveCheckpoint(t, store, "2024-01")

	cleaner := NewCleaner(testCleanConfig(dir), store, testLogger())
	if err := cleaner.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	if cleaner.deleted != 0 || cleaner.skipped != 1 {
		t.Fatalf("expected 0 deleted and 1 skipped, got %d/%d", cleaner.deleted, cleaner.skipped)
	}
	if _, err := os.Stat(store.Path()); err != nil {
		t.Fatal("checkpoint must survive when nothing was cleaned")
	}
}

func TestCleanerDryRun(t *testing.T) {
	dir := t.TempDir()
	store := NewCheckpointStore(dir, "db", "events")
	saveCheckpoint(t, store, "2024-01")

	path := writeArtifactFile(t, dir, "db_events_2024-01.jsonl", `{"seq":1}`+"\n")

	config := testCleanConfig(dir)
	config.DryRun = true
	cleaner := NewCleaner(config, store, testLogger())
	if err := cleaner.Run(context.Background()); err != nil {
		t.Fatal(err)
	}

	if _, err := os.Stat(path); err != nil {
		t.Fatal("dry run must not delete files")
	}
	if !store.Load().IsComplete("2024-01") {
		t.Fatal("dry run must not touch the checkpoint")
	}
}

func TestCleanerConfirmationDeclined(t *testing.T) {
	dir := t.TempDir()
	store := NewCheckpointStore(dir, "db", "events")
	saveCheckpoint(t, store, "2024-01")

	path := writeArtifactFile(t, dir, "db_events_2024-01.jsonl", `{"seq":1}`+"\n")

	config := testCleanConfig(dir)
	config.RequireConfirmation = true
	cleaner := NewCleaner(config, store, testLogger())
	cleaner.confirm = func(_ string) bool { return false }

	if err := cleaner.Run(context.Background()); !errors.Is(err, ErrCleanAborted) {
		t.Fatalf("expected ErrCleanAborted, got %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatal("declined confirmation must not delete files")
	}
}

func TestCleanerUnitFilter(t *testing.T) {
	dir := t.TempDir()
	store := NewCheckpointStore(dir, "db", "events")
	saveCheckpoint(t, store, "2024-01", "2024-02")

	target := writeArtifactFile(t, dir, "db_events_2024-01.jsonl", `{"seq":1}`+"\n")
	kept := writeArtifactFile(t, dir, "db_events_2024-02.jsonl", `{"seq":2}`+"\n")

	config := testCleanConfig(dir)
	config.Units = []string{"2024-01"}
	cleaner := NewCleaner(config, store, testLogger())
	if err := cleaner.Run(context.Background()); err != nil {
		t.Fatal(err)
	}

	if _, err := os.Stat(target); !os.IsNotExist(err) {
		t.Fatal("filtered unit should be deleted")
	}
	if _, err := os.Stat(kept); err != nil {
		t.Fatal("unfiltered unit should survive")
	}

	state := store.Load()
	if state.IsComplete("2024-01") || !state.IsComplete("2024-02") {
		t.Fatalf("checkpoint should keep only 2024-02, got %v", state.CompletedUnits)
	}
}

func TestCleanerNothingToClean(t *testing.T) {
	dir := t.TempDir()
	store := NewCheckpointStore(dir, "db", "events")

	cleaner := NewCleaner(testCleanConfig(dir), store, testLogger())
	if err := cleaner.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
}
