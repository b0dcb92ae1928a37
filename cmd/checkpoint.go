package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"
)

// CheckpointState records which export units have fully completed. A unit key
// is added only after its artifact has been flushed and closed without error.
type CheckpointState struct {
	CompletedUnits []string   `json:"completedUnits"`
	LastProcessed  *time.Time `json:"lastProcessed"`
}

// NewCheckpointState returns an empty state
func NewCheckpointState() *CheckpointState {
	return &CheckpointState{CompletedUnits: []string{}}
}

// IsComplete reports whether the unit key has been checkpointed
func (s *CheckpointState) IsComplete(unitKey string) bool {
	for _, key := range s.CompletedUnits {
		if key == unitKey {
			return true
		}
	}
	return false
}

// MarkComplete records a unit as fully exported and stamps LastProcessed
func (s *CheckpointState) MarkComplete(unitKey string) {
	if !s.IsComplete(unitKey) {
		s.CompletedUnits = append(s.CompletedUnits, unitKey)
		sort.Strings(s.CompletedUnits)
	}
	now := time.Now().UTC()
	s.LastProcessed = &now
}

// Remove deletes a unit key from the completed set (used by the cleaner)
func (s *CheckpointState) Remove(unitKey string) {
	for i, key := range s.CompletedUnits {
		if key == unitKey {
			s.CompletedUnits = append(s.CompletedUnits[:i], s.CompletedUnits[i+1:]...)
			return
		}
	}
}

// CheckpointStore persists CheckpointState as JSON in the artifact directory.
type CheckpointStore struct {
	path string
}

// NewCheckpointStore creates a store for the given source database and collection
func NewCheckpointStore(dir, source, collection string) *CheckpointStore {
	return &CheckpointStore{
		path: filepath.Join(dir, fmt.Sprintf("%s_%s_checkpoint.json", source, collection)),
	}
}

// Path returns the checkpoint file location
func (c *CheckpointStore) Path() string {
	return c.path
}

// Load reads the persisted state. A missing or corrupt checkpoint file must
// not abort the run, only cause full reprocessing, so any read or parse
// failure returns a fresh empty state.
func (c *CheckpointStore) Load() *CheckpointState {
	data, err := os.ReadFile(c.path)
	if err != nil {
		return NewCheckpointState()
	}

	var state CheckpointState
	if err := json.Unmarshal(data, &state); err != nil {
		return NewCheckpointState()
	}
	if state.CompletedUnits == nil {
		state.CompletedUnits = []string{}
	}

	return &state
}

// Save atomically overwrites the persisted state via temp-file + rename.
// It is called after every completed unit; this is the recovery granularity.
func (c *CheckpointStore) Save(state *CheckpointState) error {
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal checkpoint: %w", err)
	}

	tempPath := c.path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0o644); err != nil {
		return fmt.Errorf("failed to write checkpoint temp file: %w", err)
	}

	if err := os.Rename(tempPath, c.path); err != nil {
		_ = os.Remove(tempPath)
		return fmt.Errorf("failed to replace checkpoint file: %w", err)
	}

	return nil
}

// Reset removes the persisted state entirely. Used on full-campaign
// completion so a clean terminal state signals "nothing to resume".
func (c *CheckpointStore) Reset() error {
	if err := os.Remove(c.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove checkpoint file: %w", err)
	}
	return nil
}
