package cmd

import (
	"context"
	"fmt"
	"log/slog"

	"go.mongodb.org/mongo-driver/bson"
)

// ExportProgress holds the run's transient counters. It is owned by the
// orchestrator, threaded through the exporter rather than kept as global
// state, and discarded at process exit.
type ExportProgress struct {
	Documents     int64
	Bytes         int64
	LargestRecord int
	Fallbacks     int64
}

func (p *ExportProgress) record(recordSize int) {
	p.Documents++
	p.Bytes += int64(recordSize) + 1 // serialized line plus newline
	if recordSize > p.LargestRecord {
		p.LargestRecord = recordSize
	}
}

// UnitResult reports one completed unit export
type UnitResult struct {
	UnitKey       string
	DocumentCount int64
}

// Exporter streams one unit's documents from a cursor into an artifact sink.
// Iteration is explicit pull, one record at a time; combined with the sink's
// synchronous writes and the memory governor's advisory throttling, peak
// memory stays bounded regardless of unit size.
type Exporter struct {
	source   CollectionSource
	governor *memoryGovernor
	progress *ExportProgress
	logger   *slog.Logger
}

// NewExporter creates an exporter over the given source
func NewExporter(source CollectionSource, governor *memoryGovernor, progress *ExportProgress, logger *slog.Logger) *Exporter {
	return &Exporter{
		source:   source,
		governor: governor,
		progress: progress,
		logger:   logger,
	}
}

// ExportUnit exports all documents with the partition field in
// [unit.Start, unit.End), ordered by the partition field, into sink. On
// success the sink is flushed and closed before returning; only then may the
// caller mark the unit complete. On any unrecoverable error the cursor is
// closed, the partial artifact deleted, and the error propagated.
func (e *Exporter) ExportUnit(ctx context.Context, unit TimeRange, sink *ArtifactSink) (UnitResult, error) {
	result := UnitResult{UnitKey: unit.Key}

	cursor, err := e.source.OpenCursor(ctx, unit)
	if err != nil {
		_ = sink.Abort()
		return result, err
	}

	var count int64
	for cursor.Next(ctx) {
		// Cancellation is observed between records, never mid-serialization
		select {
		case <-ctx.Done():
			return result, e.abort(cursor, sink, ctx.Err())
		default:
		}

		var doc bson.M
		if err := cursor.Decode(&doc); err != nil {
			return result, e.abort(cursor, sink, fmt.Errorf("failed to decode document in %s: %w", unit.Key, err))
		}

		line, fellBack := marshalDocument(doc)
		if fellBack {
			e.progress.Fallbacks++
			e.logger.Warn(fmt.Sprintf("⚠️  Document in %s required safe serialization fallback", unit.Key))
		}

		if err := sink.WriteLine(line); err != nil {
			return result, e.abort(cursor, sink, err)
		}

		count++
		e.progress.record(len(line))

		if err := e.governor.maybeThrottle(ctx, count); err != nil {
			return result, e.abort(cursor, sink, err)
		}
	}

	if err := cursor.Err(); err != nil {
		return result, e.abort(cursor, sink, fmt.Errorf("cursor failed in %s: %w", unit.Key, err))
	}
	if err := cursor.Close(ctx); err != nil {
		// Iteration finished cleanly; a close failure does not compromise
		// the artifact
		e.logger.Warn(fmt.Sprintf("⚠️  Failed to close cursor for %s: %v", unit.Key, err))
	}

	if err := sink.Close(); err != nil {
		_ = sink.Abort()
		return result, fmt.Errorf("failed to finalize artifact for %s: %w", unit.Key, err)
	}

	result.DocumentCount = count
	return result, nil
}

// abort closes the cursor, deletes the partial artifact and returns err
func (e *Exporter) abort(cursor DocumentCursor, sink *ArtifactSink, err error) error {
	// The run context may already be cancelled; close with a fresh one
	_ = cursor.Close(context.Background())
	if abortErr := sink.Abort(); abortErr != nil {
		e.logger.Error(fmt.Sprintf("❌ Failed to remove partial artifact: %v", abortErr))
	}
	return err
}
