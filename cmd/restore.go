package cmd

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/rightson/mongo-backup/cmd/compressors"
)

var (
	ErrNoArtifactsFound   = errors.New("no archive files found for the given database and collection")
	ErrUnknownCompression = errors.New("archive has an unrecognized compression extension")
)

// restoreScanBufferSize caps the size of a single restorable record. Lines
// beyond this fail the scan rather than being silently truncated.
const restoreScanBufferSize = 64 * 1024 * 1024

// DocumentWriter is the narrow view of the target collection used by the
// restorer.
type DocumentWriter interface {
	// Drop removes the target collection if it exists
	Drop(ctx context.Context) error

	// InsertBatch inserts documents unordered. Duplicate-key collisions are
	// reported in the second return, not as an error.
	InsertBatch(ctx context.Context, docs []interface{}) (inserted int, duplicates int, err error)

	// CreateIndexes recreates the given index specifications
	CreateIndexes(ctx context.Context, specs []bson.M) error
}

// mongoWriter implements DocumentWriter over a live MongoDB collection
type mongoWriter struct {
	coll *mongo.Collection
}

func newMongoWriter(coll *mongo.Collection) *mongoWriter {
	return &mongoWriter{coll: coll}
}

func (w *mongoWriter) Drop(ctx context.Context) error {
	if err := w.coll.Drop(ctx); err != nil {
		return fmt.Errorf("failed to drop collection %s: %w", w.coll.Name(), err)
	}
	return nil
}

func (w *mongoWriter) InsertBatch(ctx context.Context, docs []interface{}) (int, int, error) {
	if len(docs) == 0 {
		return 0, 0, nil
	}

	res, err := w.coll.InsertMany(ctx, docs, options.InsertMany().SetOrdered(false))
	if err == nil {
		return len(res.InsertedIDs), 0, nil
	}

	// With unordered inserts a duplicate _id only skips that document; any
	// other write error is fatal
	var bulkErr mongo.BulkWriteException
	if errors.As(err, &bulkErr) {
		duplicates := 0
		for _, writeErr := range bulkErr.WriteErrors {
			if writeErr.Code != 11000 {
				return 0, 0, fmt.Errorf("insert failed: %w", err)
			}
			duplicates++
		}
		inserted := len(docs) - duplicates
		return inserted, duplicates, nil
	}

	return 0, 0, fmt.Errorf("insert failed: %w", err)
}

func (w *mongoWriter) CreateIndexes(ctx context.Context, specs []bson.M) error {
	var models []mongo.IndexModel
	for _, spec := range specs {
		name, _ := spec["name"].(string)
		if name == "_id_" {
			// The default index always exists on the target
			continue
		}

		model := mongo.IndexModel{Keys: spec["key"]}
		opts := options.Index()
		if name != "" {
			opts.SetName(name)
		}
		if unique, ok := spec["unique"].(bool); ok && unique {
			opts.SetUnique(true)
		}
		if sparse, ok := spec["sparse"].(bool); ok && sparse {
			opts.SetSparse(true)
		}
		switch ttl := spec["expireAfterSeconds"].(type) {
		case int32:
			opts.SetExpireAfterSeconds(ttl)
		case int64:
			opts.SetExpireAfterSeconds(int32(ttl))
		case float64:
			opts.SetExpireAfterSeconds(int32(ttl))
		}
		model.Options = opts
		models = append(models, model)
	}

	if len(models) == 0 {
		return nil
	}
	if _, err := w.coll.Indexes().CreateMany(ctx, models); err != nil {
		return fmt.Errorf("failed to recreate indexes: %w", err)
	}
	return nil
}

// Restorer loads archive files back into a collection. Files are processed in
// unit key order, each streamed line by line through the matching decompressor
// and inserted in bounded batches, so restore memory stays flat like export.
type Restorer struct {
	config *Config
	writer DocumentWriter
	logger *slog.Logger

	inserted   int64
	duplicates int64
	skipped    int64
}

// NewRestorer creates a restorer writing through the given writer
func NewRestorer(config *Config, writer DocumentWriter, logger *slog.Logger) *Restorer {
	return &Restorer{
		config: config,
		writer: writer,
		logger: logger,
	}
}

// Run restores all matching archives from the input directory
func (r *Restorer) Run(ctx context.Context) error {
	artifacts, err := r.discover()
	if err != nil {
		return err
	}
	if len(artifacts) == 0 {
		return ErrNoArtifactsFound
	}
	r.logger.Info(fmt.Sprintf("📋 Found %d archive files to restore", len(artifacts)))

	if r.config.DryRun {
		for _, a := range artifacts {
			r.logger.Info(fmt.Sprintf("  would restore %s", filepath.Base(a)))
		}
		return nil
	}

	if r.config.DropBeforeRestore {
		r.logger.Info("🗑️  Dropping target collection before restore")
		if err := r.writer.Drop(ctx); err != nil {
			return err
		}
	}

	for _, artifact := range artifacts {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		start := time.Now()
		if err := r.restoreFile(ctx, artifact); err != nil {
			return fmt.Errorf("restore of %s failed: %w", filepath.Base(artifact), err)
		}
		r.logger.Info(fmt.Sprintf("  ✅ %s restored in %v", filepath.Base(artifact), time.Since(start).Round(time.Millisecond)))
	}

	r.restoreIndexes(ctx)

	r.logger.Info("")
	r.logger.Info(fmt.Sprintf("📄 Documents inserted: %d", r.inserted))
	if r.duplicates > 0 {
		r.logger.Info(fmt.Sprintf("⚠️  Duplicates skipped: %d", r.duplicates))
	}
	if r.skipped > 0 {
		r.logger.Info(fmt.Sprintf("⚠️  Export-error records skipped: %d", r.skipped))
	}

	return nil
}

// discover lists matching artifact paths in unit key order, applying the
// optional unit filter
func (r *Restorer) discover() ([]string, error) {
	entries, err := os.ReadDir(r.config.InputDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read input directory: %w", err)
	}

	filter := map[string]bool{}
	for _, key := range r.config.Units {
		filter[key] = true
	}

	type artifact struct {
		path    string
		unitKey string
	}
	var found []artifact
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		unitKey, ok := ParseArtifactFilename(entry.Name(), r.config.Database.Name, r.config.Collection)
		if !ok {
			continue
		}
		if len(filter) > 0 && !filter[unitKey] {
			continue
		}
		found = append(found, artifact{path: filepath.Join(r.config.InputDir, entry.Name()), unitKey: unitKey})
	}

	sort.Slice(found, func(i, j int) bool { return found[i].unitKey < found[j].unitKey })

	paths := make([]string, len(found))
	for i, a := range found {
		paths[i] = a.path
	}
	return paths, nil
}

// restoreFile streams one archive into the writer in bounded batches
func (r *Restorer) restoreFile(ctx context.Context, path string) error {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()

	reader, err := openArtifactReader(file, path)
	if err != nil {
		return err
	}
	defer reader.Close()

	scanner := bufio.NewScanner(reader)
	scanner.Buffer(make([]byte, 1024*1024), restoreScanBufferSize)

	batch := make([]interface{}, 0, r.config.BatchSize)
	flush := func() error {
		inserted, duplicates, err := r.writer.InsertBatch(ctx, batch)
		if err != nil {
			return err
		}
		r.inserted += int64(inserted)
		r.duplicates += int64(duplicates)
		batch = batch[:0]
		return nil
	}

	line := 0
	for scanner.Scan() {
		line++
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		var doc bson.M
		if err := json.Unmarshal(scanner.Bytes(), &doc); err != nil {
			return fmt.Errorf("malformed record at line %d: %w", line, err)
		}

		// Diagnostic placeholders written when a source document could not
		// be serialized carry no restorable data
		if _, isErrRecord := doc[exportErrorField]; isErrRecord && len(doc) == 1 {
			r.skipped++
			r.logger.Warn(fmt.Sprintf("⚠️  Skipping export-error record at line %d of %s", line, filepath.Base(path)))
			continue
		}

		batch = append(batch, doc)
		if len(batch) >= r.config.BatchSize {
			if err := flush(); err != nil {
				return err
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("failed to read archive: %w", err)
	}

	return flush()
}

// openArtifactReader wraps the file in the decompressor its extension names
func openArtifactReader(file *os.File, path string) (io.ReadCloser, error) {
	ext := filepath.Ext(path)
	if ext == artifactExt {
		return io.NopCloser(file), nil
	}

	comp, ok := compressors.ForExtension(ext)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCompression, ext)
	}
	return comp.NewReader(file)
}

// restoreIndexes recreates indexes from the metadata sidecar. A missing
// sidecar downgrades to a warning: the documents are already restored.
func (r *Restorer) restoreIndexes(ctx context.Context) {
	meta, err := readIndexSidecar(r.config.InputDir, r.config.Database.Name, r.config.Collection)
	if err != nil {
		if os.IsNotExist(err) {
			r.logger.Warn("⚠️  No index sidecar found, skipping index recreation")
		} else {
			r.logger.Warn(fmt.Sprintf("⚠️  Failed to read index sidecar: %v", err))
		}
		return
	}

	r.logger.Info(fmt.Sprintf("🔧 Recreating %d indexes from sidecar", len(meta.Indexes)))
	if err := r.writer.CreateIndexes(ctx, meta.Indexes); err != nil {
		r.logger.Warn(fmt.Sprintf("⚠️  Index recreation failed: %v", err))
	}
}
