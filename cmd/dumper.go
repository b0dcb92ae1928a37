package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/rightson/mongo-backup/cmd/compressors"
)

// Dumper drives the export campaign: PLAN -> FILTER -> PROCESS_UNIT* ->
// FINALIZE. Units are processed strictly sequentially in chronological
// order; parallel units would multiply peak memory and complicate the
// checkpoint without correctness benefit, since source throughput is the
// usual bottleneck.
type Dumper struct {
	config   *Config
	source   CollectionSource
	store    *CheckpointStore
	uploader *s3Uploader
	logger   *slog.Logger
	progress ExportProgress
}

// NewDumper creates an export orchestrator. uploader may be nil when S3
// upload is not configured.
func NewDumper(config *Config, source CollectionSource, store *CheckpointStore, uploader *s3Uploader, logger *slog.Logger) *Dumper {
	return &Dumper{
		config:   config,
		source:   source,
		store:    store,
		uploader: uploader,
		logger:   logger,
	}
}

// Run executes one export run, resuming from the checkpoint if present
func (d *Dumper) Run(ctx context.Context) error {
	if err := os.MkdirAll(d.config.OutputDir, 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	lock, err := acquireRunLock(d.config.OutputDir, d.config.Database.Name, d.config.Collection)
	if err != nil {
		return err
	}
	defer func() {
		_ = lock.Release()
	}()

	// PLAN
	units, err := d.plan(ctx)
	if err != nil {
		return err
	}
	d.logger.Info(fmt.Sprintf("✅ Planned %d export units", len(units)))

	// Total count is best-effort and asynchronous: a failure degrades
	// progress reporting to counts-only, never aborts the run
	totalChan := make(chan int64, 1)
	go func() {
		total, err := d.source.CountTotal(ctx)
		if err != nil {
			d.logger.Debug(fmt.Sprintf("Total count unavailable: %v", err))
			total = -1
		}
		totalChan <- total
	}()

	// FILTER
	state := d.store.Load()
	var pending []TimeRange
	for _, unit := range units {
		if state.IsComplete(unit.Key) {
			d.logger.Debug(fmt.Sprintf("⏭️  Skipping %s (already checkpointed)", unit.Key))
			continue
		}
		pending = append(pending, unit)
	}

	if len(pending) == 0 {
		d.logger.Info("✅ All units already exported, nothing to resume")
		return d.finalize(units, state)
	}
	d.logger.Info(fmt.Sprintf("📋 %d of %d units remaining", len(pending), len(units)))

	if d.config.DryRun {
		for _, unit := range pending {
			d.logger.Info(fmt.Sprintf("  would export %s", unit))
		}
		return nil
	}

	// The index sidecar is a pass-through blob for the restore path;
	// extraction failure is a warning, not fatal
	d.writeSidecar(ctx)

	// PROCESS_UNIT
	compressor, err := compressors.GetCompressor(d.config.Compression)
	if err != nil {
		return err
	}
	exporter := NewExporter(d.source, newMemoryGovernor(d.logger), &d.progress, d.logger)

	total := int64(-1)
	for _, unit := range pending {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		select {
		case total = <-totalChan:
		default:
		}

		start := time.Now()
		d.logger.Info(fmt.Sprintf("Exporting unit %s...", unit.Key))

		filename := ArtifactFilename(d.config.Database.Name, d.config.Collection, unit.Key, compressor.Extension())
		sink, err := NewArtifactSink(filepath.Join(d.config.OutputDir, filename), compressor, d.config.CompressionLevel)
		if err != nil {
			return err
		}

		result, err := exporter.ExportUnit(ctx, unit, sink)
		if err != nil {
			// No partial-credit continuation: later units may assume
			// earlier ones succeeded for aggregation purposes
			return fmt.Errorf("unit %s failed: %w", unit.Key, err)
		}

		state.MarkComplete(unit.Key)
		if err := d.store.Save(state); err != nil {
			// Continuing without a durable checkpoint would risk losing
			// resumability, so this is fatal
			return fmt.Errorf("checkpoint persistence failed after %s: %w", unit.Key, err)
		}

		if d.uploader != nil {
			if err := d.uploader.UploadFile(ctx, sink.Path(), unit.Key); err != nil {
				return err
			}
		}

		if total > 0 {
			d.logger.Info(fmt.Sprintf("  ✅ %s: %d documents in %v (%d/%d total)",
				result.UnitKey, result.DocumentCount, time.Since(start).Round(time.Millisecond),
				d.progress.Documents, total))
		} else {
			d.logger.Info(fmt.Sprintf("  ✅ %s: %d documents in %v",
				result.UnitKey, result.DocumentCount, time.Since(start).Round(time.Millisecond)))
		}
	}

	d.printSummary()
	return d.finalize(units, state)
}

// plan computes the full unit set: monthly ranges over the live field
// bounds, each adaptively subdivided when its count exceeds the threshold
func (d *Dumper) plan(ctx context.Context) ([]TimeRange, error) {
	minDate, maxDate, err := d.source.FieldBounds(ctx)
	if err != nil {
		return nil, err
	}
	d.logger.Debug(fmt.Sprintf("Partition field spans %s to %s",
		minDate.Format("2006-01-02"), maxDate.Format("2006-01-02")))

	ranges, err := PlanMonthlyRanges(minDate, maxDate)
	if err != nil {
		return nil, err
	}

	var units []TimeRange
	for _, r := range ranges {
		count, err := d.source.CountRange(ctx, r.Start, r.End)
		if err != nil {
			return nil, fmt.Errorf("failed to count %s: %w", r.Key, err)
		}

		subranges, err := PlanAdaptiveSubranges(r, count, d.config.MaxDocsPerRange)
		if err != nil {
			return nil, err
		}
		if len(subranges) > 1 {
			d.logger.Info(fmt.Sprintf("  📊 %s has %d documents, split into %d sub-ranges", r.Key, count, len(subranges)))
		}
		units = append(units, subranges...)
	}

	return units, nil
}

func (d *Dumper) writeSidecar(ctx context.Context) {
	indexes, err := d.source.Indexes(ctx)
	if err != nil {
		d.logger.Warn(fmt.Sprintf("⚠️  Failed to extract index metadata: %v", err))
		return
	}

	meta := &IndexMetadata{
		Source:      d.config.Database.Name,
		Collection:  d.config.Collection,
		ExtractedAt: time.Now().UTC(),
		Indexes:     indexes,
	}
	if err := writeIndexSidecar(d.config.OutputDir, meta); err != nil {
		d.logger.Warn(fmt.Sprintf("⚠️  Failed to write index sidecar: %v", err))
	}
}

// finalize deletes the checkpoint file once every planned unit is complete,
// leaving a clean terminal state that signals "nothing to resume"
func (d *Dumper) finalize(units []TimeRange, state *CheckpointState) error {
	for _, unit := range units {
		if !state.IsComplete(unit.Key) {
			return nil
		}
	}
	d.logger.Debug("All planned units complete, removing checkpoint")
	return d.store.Reset()
}

func (d *Dumper) printSummary() {
	d.logger.Info("")
	d.logger.Info("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	d.logger.Info("📈 Summary")
	d.logger.Info(fmt.Sprintf("📄 Documents exported: %d", d.progress.Documents))
	d.logger.Info(fmt.Sprintf("💾 Serialized bytes: %.2f MB", float64(d.progress.Bytes)/(1024*1024)))
	d.logger.Info(fmt.Sprintf("📏 Largest record: %d bytes", d.progress.LargestRecord))
	if d.progress.Fallbacks > 0 {
		d.logger.Info(fmt.Sprintf("⚠️  Safe-serializer fallbacks: %d", d.progress.Fallbacks))
	}
}
