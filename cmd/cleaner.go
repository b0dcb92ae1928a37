package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

var ErrCleanAborted = errors.New("clean aborted by user")

// Cleaner deletes local artifacts whose units the checkpoint records as
// complete, reclaiming disk space after archives have been copied elsewhere.
// Only checkpointed artifacts are candidates: a file in the directory that the
// checkpoint does not cover is never touched, whatever its name looks like.
type Cleaner struct {
	config  *Config
	store   *CheckpointStore
	logger  *slog.Logger
	confirm func(prompt string) bool

	deleted int
	skipped int
}

// NewCleaner creates a cleaner. The confirmation prompt reads from stdin
// unless RequireConfirmation is off.
func NewCleaner(config *Config, store *CheckpointStore, logger *slog.Logger) *Cleaner {
	return &Cleaner{
		config:  config,
		store:   store,
		logger:  logger,
		confirm: confirmStdin,
	}
}

// confirmStdin asks y/N on the terminal
func confirmStdin(prompt string) bool {
	fmt.Printf("%s [y/N]: ", prompt)
	reader := bufio.NewReader(os.Stdin)
	answer, err := reader.ReadString('\n')
	if err != nil {
		return false
	}
	answer = strings.ToLower(strings.TrimSpace(answer))
	return answer == "y" || answer == "yes"
}

// Run deletes eligible artifacts and removes their keys from the checkpoint.
// A candidate that fails validation (missing or empty artifact) is skipped
// with a warning; the remaining candidates are still cleaned, and the skipped
// unit keeps its checkpoint entry.
func (c *Cleaner) Run(ctx context.Context) error {
	lock, err := acquireRunLock(c.config.OutputDir, c.config.Database.Name, c.config.Collection)
	if err != nil {
		return err
	}
	defer func() {
		_ = lock.Release()
	}()

	state := c.store.Load()
	if len(state.CompletedUnits) == 0 {
		c.logger.Info("No completed units in checkpoint, nothing to clean")
		return nil
	}

	candidates, err := c.discover(state)
	if err != nil {
		return err
	}
	if len(candidates) == 0 {
		if c.skipped > 0 {
			c.logger.Warn(fmt.Sprintf("⚠️  All %d candidates failed validation, nothing deleted", c.skipped))
		} else {
			c.logger.Info("No artifact files matched the completed units")
		}
		return nil
	}

	var totalSize int64
	for _, cand := range candidates {
		totalSize += cand.size
		c.logger.Info(fmt.Sprintf("  🗑️  %s (%.2f MB)", filepath.Base(cand.path), float64(cand.size)/(1024*1024)))
	}
	c.logger.Info(fmt.Sprintf("📊 %d files, %.2f MB total", len(candidates), float64(totalSize)/(1024*1024)))

	if c.config.DryRun {
		c.logger.Info("Dry run, no files deleted")
		return nil
	}

	if c.config.RequireConfirmation {
		if !c.confirm(fmt.Sprintf("Delete %d archive files?", len(candidates))) {
			return ErrCleanAborted
		}
	}

	for _, cand := range candidates {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if err := os.Remove(cand.path); err != nil {
			return fmt.Errorf("failed to delete %s: %w", cand.path, err)
		}
		state.Remove(cand.unitKey)
		if err := c.store.Save(state); err != nil {
			return fmt.Errorf("checkpoint persistence failed after deleting %s: %w", cand.unitKey, err)
		}
		c.deleted++
		c.logger.Debug(fmt.Sprintf("Deleted %s", filepath.Base(cand.path)))
	}

	c.logger.Info(fmt.Sprintf("✅ Deleted %d archive files", c.deleted))
	if c.skipped > 0 {
		c.logger.Warn(fmt.Sprintf("⚠️  Skipped %d candidates that failed validation", c.skipped))
	}

	// Once the last completed unit is cleaned the checkpoint and sidecar no
	// longer describe anything on disk
	if len(state.CompletedUnits) == 0 {
		if err := c.store.Reset(); err != nil {
			return err
		}
		if err := removeIndexSidecar(c.config.OutputDir, c.config.Database.Name, c.config.Collection); err != nil {
			c.logger.Warn(fmt.Sprintf("⚠️  Failed to remove index sidecar: %v", err))
		}
	}

	return nil
}

type cleanCandidate struct {
	path    string
	unitKey string
	size    int64
}

// discover scans the artifact directory for files whose names parse to a
// completed unit key, applying the optional unit filter. An invalid candidate
// (unreadable, zero size, or a checkpointed unit with no file at all) is
// reported and counted but never fails discovery.
func (c *Cleaner) discover(state *CheckpointState) ([]cleanCandidate, error) {
	entries, err := os.ReadDir(c.config.OutputDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read artifact directory: %w", err)
	}

	filter := map[string]bool{}
	for _, key := range c.config.Units {
		filter[key] = true
	}

	var candidates []cleanCandidate
	seen := map[string]bool{}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		unitKey, ok := ParseArtifactFilename(entry.Name(), c.config.Database.Name, c.config.Collection)
		if !ok {
			continue
		}
		if !state.IsComplete(unitKey) {
			c.logger.Debug(fmt.Sprintf("Skipping %s (unit not checkpointed)", entry.Name()))
			continue
		}
		if len(filter) > 0 && !filter[unitKey] {
			continue
		}
		seen[unitKey] = true

		info, err := entry.Info()
		if err != nil {
			c.logger.Warn(fmt.Sprintf("⚠️  Skipping %s: %v", entry.Name(), err))
			c.skipped++
			continue
		}
		if info.Size() == 0 {
			c.logger.Warn(fmt.Sprintf("⚠️  Skipping %s: artifact is empty", entry.Name()))
			c.skipped++
			continue
		}

		candidates = append(candidates, cleanCandidate{
			path:    filepath.Join(c.config.OutputDir, entry.Name()),
			unitKey: unitKey,
			size:    info.Size(),
		})
	}

	// A checkpointed unit with no artifact on disk keeps its checkpoint entry
	// so the inconsistency stays visible on the next run
	for _, key := range state.CompletedUnits {
		if len(filter) > 0 && !filter[key] {
			continue
		}
		if !seen[key] {
			c.logger.Warn(fmt.Sprintf("⚠️  Skipping unit %s: no artifact file on disk", key))
			c.skipped++
		}
	}

	sort.Slice(candidates, func(i, j int) bool { return candidates[i].unitKey < candidates[j].unitKey })
	return candidates, nil
}
