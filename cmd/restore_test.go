package cmd

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/rightson/mongo-backup/cmd/compressors"
)

// fakeWriter records everything the restorer sends it. Documents carrying
// "dup": true are reported as duplicate-key collisions.
type fakeWriter struct {
	dropped    bool
	batches    [][]interface{}
	docs       []bson.M
	indexSpecs []bson.M
	insertErr  error
}

func (w *fakeWriter) Drop(_ context.Context) error {
	w.dropped = true
	return nil
}

func (w *fakeWriter) InsertBatch(_ context.Context, docs []interface{}) (int, int, error) {
	if w.insertErr != nil {
		return 0, 0, w.insertErr
	}
	w.batches = append(w.batches, docs)

	inserted, duplicates := 0, 0
	for _, doc := range docs {
		m, ok := doc.(bson.M)
		if ok {
			w.docs = append(w.docs, m)
		}
		if ok && m["dup"] == true {
			duplicates++
		} else {
			inserted++
		}
	}
	return inserted, duplicates, nil
}

func (w *fakeWriter) CreateIndexes(_ context.Context, specs []bson.M) error {
	w.indexSpecs = specs
	return nil
}

func testRestoreConfig(dir string) *Config {
	return &Config{
		Mode: ModeRestore,
		Database: DatabaseConfig{
			Host: "localhost",
			Port: 27017,
			Name: "db",
		},
		Collection: "events",
		InputDir:   dir,
		BatchSize:  2,
	}
}

func TestRestorerRunInsertsInUnitOrder(t *testing.T) {
	dir := t.TempDir()
	// Written out of order on purpose
	writeArtifactFile(t, dir, "db_events_2024-02.jsonl", `{"seq":3}`+"\n")
	writeArtifactFile(t, dir, "db_events_2024-01.jsonl", `{"seq":1}`+"\n"+`{"seq":2}`+"\n")
	writeArtifactFile(t, dir, "other_events_2024-01.jsonl", `{"seq":99}`+"\n")

	writer := &fakeWriter{}
	restorer := NewRestorer(testRestoreConfig(dir), writer, testLogger())
	if err := restorer.Run(context.Background()); err != nil {
		t.Fatal(err)
	}

	if len(writer.docs) != 3 {
		t.Fatalf("expected 3 documents, got %d", len(writer.docs))
	}
	for i, want := range []float64{1, 2, 3} {
		if writer.docs[i]["seq"] != want {
			t.Fatalf("document %d: expected seq %v, got %v", i, want, writer.docs[i]["seq"])
		}
	}
	if writer.dropped {
		t.Fatal("collection should not be dropped without --drop")
	}
	if restorer.inserted != 3 {
		t.Fatalf("expected 3 inserted, got %d", restorer.inserted)
	}
}

func TestRestorerBatchSizeBound(t *testing.T) {
	dir := t.TempDir()
	writeArtifactFile(t, dir, "db_events_2024-01.jsonl",
		`{"seq":1}`+"\n"+`{"seq":2}`+"\n"+`{"seq":3}`+"\n"+`{"seq":4}`+"\n"+`{"seq":5}`+"\n")

	writer := &fakeWriter{}
	restorer := NewRestorer(testRestoreConfig(dir), writer, testLogger())
	if err := restorer.Run(context.Background()); err != nil {
		t.Fatal(err)
	}

	for i, batch := range writer.batches {
		if len(batch) > 2 {
			t.Fatalf("batch %d exceeds configured size: %d", i, len(batch))
		}
	}
	if len(writer.docs) != 5 {
		t.Fatalf("expected 5 documents, got %d", len(writer.docs))
	}
}

func TestRestorerSkipsExportErrorRecords(t *testing.T) {
	dir := t.TempDir()
	writeArtifactFile(t, dir, "db_events_2024-01.jsonl",
		`{"seq":1}`+"\n"+`{"_exportError":"json: unsupported value"}`+"\n"+`{"seq":2}`+"\n")

	writer := &fakeWriter{}
	restorer := NewRestorer(testRestoreConfig(dir), writer, testLogger())
	if err := restorer.Run(context.Background()); err != nil {
		t.Fatal(err)
	}

	if len(writer.docs) != 2 {
		t.Fatalf("expected 2 documents, got %d", len(writer.docs))
	}
	if restorer.skipped != 1 {
		t.Fatalf("expected 1 skipped record, got %d", restorer.skipped)
	}
}

func TestRestorerCompressedArtifact(t *testing.T) {
	for _, name := range []string{"gzip", "zstd", "lz4"} {
		t.Run(name, func(t *testing.T) {
			dir := t.TempDir()
			comp, err := compressors.GetCompressor(name)
			if err != nil {
				t.Fatal(err)
			}

			path := filepath.Join(dir, ArtifactFilename("db", "events", "2024-01", comp.Extension()))
			sink, err := NewArtifactSink(path, comp, comp.DefaultLevel())
			if err != nil {
				t.Fatal(err)
			}
			if err := sink.WriteLine([]byte(`{"seq":1}`)); err != nil {
				t.Fatal(err)
			}
			if err := sink.Close(); err != nil {
				t.Fatal(err)
			}

			writer := &fakeWriter{}
			restorer := NewRestorer(testRestoreConfig(dir), writer, testLogger())
			if err := restorer.Run(context.Background()); err != nil {
				t.Fatal(err)
			}
			if len(writer.docs) != 1 || writer.docs[0]["seq"] != float64(1) {
				t.Fatalf("unexpected documents: %v", writer.docs)
			}
		})
	}
}

func TestRestorerDuplicatesCounted(t *testing.T) {
	dir := t.TempDir()
	writeArtifactFile(t, dir, "db_events_2024-01.jsonl",
		`{"seq":1}`+"\n"+`{"seq":2,"dup":true}`+"\n")

	writer := &fakeWriter{}
	restorer := NewRestorer(testRestoreConfig(dir), writer, testLogger())
	if err := restorer.Run(context.Background()); err != nil {
		t.Fatal(err)
	}

	if restorer.inserted != 1 || restorer.duplicates != 1 {
		t.Fatalf("expected 1 inserted and 1 duplicate, got %d/%d", restorer.inserted, restorer.duplicates)
	}
}

func TestRestorerDropBeforeRestore(t *testing.T) {
	dir := t.TempDir()
	writeArtifactFile(t, dir, "db_events_2024-01.jsonl", `{"seq":1}`+"\n")

	config := testRestoreConfig(dir)
	config.DropBeforeRestore = true
	writer := &fakeWriter{}
	restorer := NewRestorer(config, writer, testLogger())
	if err := restorer.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	if !writer.dropped {
		t.Fatal("collection should be dropped before restore")
	}
}

func TestRestorerUnitFilter(t *testing.T) {
	dir := t.TempDir()
	writeArtifactFile(t, dir, "db_events_2024-01.jsonl", `{"seq":1}`+"\n")
	writeArtifactFile(t, dir, "db_events_2024-02.jsonl", `{"seq":2}`+"\n")

	config := testRestoreConfig(dir)
	config.Units = []string{"2024-02"}
	writer := &fakeWriter{}
	restorer := NewRestorer(config, writer, testLogger())
	if err := restorer.Run(context.Background()); err != nil {
		t.Fatal(err)
	}

	if len(writer.docs) != 1 || writer.docs[0]["seq"] != float64(2) {
		t.Fatalf("expected only 2024-02 documents, got %v", writer.docs)
	}
}

func TestRestorerNoArtifacts(t *testing.T) {
	dir := t.TempDir()
	writer := &fakeWriter{}
	restorer := NewRestorer(testRestoreConfig(dir), writer, testLogger())

	if err := restorer.Run(context.Background()); !errors.Is(err, ErrNoArtifactsFound) {
		t.Fatalf("expected ErrNoArtifactsFound, got %v", err)
	}
}

func TestRestorerMalformedLine(t *testing.T) {
	dir := t.TempDir()
	writeArtifactFile(t, dir, "db_events_2024-01.jsonl", `{"seq":1}`+"\n"+"{broken\n")

	writer := &fakeWriter{}
	restorer := NewRestorer(testRestoreConfig(dir), writer, testLogger())
	if err := restorer.Run(context.Background()); err == nil {
		t.Fatal("expected error for malformed record")
	}
}

func TestRestorerRecreatesIndexesFromSidecar(t *testing.T) {
	dir := t.TempDir()
	writeArtifactFile(t, dir, "db_events_2024-01.jsonl", `{"seq":1}`+"\n")

	meta := &IndexMetadata{
		Source:     "db",
		Collection: "events",
		Indexes: []bson.M{
			{"name": "_id_", "key": bson.M{"_id": 1}},
			{"name": "createdAt_1", "key": bson.M{"createdAt": 1}},
		},
	}
	if err := writeIndexSidecar(dir, meta); err != nil {
		t.Fatal(err)
	}

	writer := &fakeWriter{}
	restorer := NewRestorer(testRestoreConfig(dir), writer, testLogger())
	if err := restorer.Run(context.Background()); err != nil {
		t.Fatal(err)
	}

	if len(writer.indexSpecs) != 2 {
		t.Fatalf("expected 2 index specs passed through, got %d", len(writer.indexSpecs))
	}
}

func TestRestorerDryRun(t *testing.T) {
	dir := t.TempDir()
	writeArtifactFile(t, dir, "db_events_2024-01.jsonl", `{"seq":1}`+"\n")

	config := testRestoreConfig(dir)
	config.DryRun = true
	writer := &fakeWriter{}
	restorer := NewRestorer(config, writer, testLogger())
	if err := restorer.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(writer.docs) != 0 {
		t.Fatal("dry run must not insert documents")
	}
}
