package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.mongodb.org/mongo-driver/bson"
)

// IndexMetadata is the sidecar written next to the artifacts. The index
// specifications are carried verbatim from the source and consumed verbatim
// by the restore path; the export core treats them as an opaque blob.
type IndexMetadata struct {
	Source      string    `json:"source"`
	Collection  string    `json:"collection"`
	ExtractedAt time.Time `json:"extractedAt"`
	Indexes     []bson.M  `json:"indexes"`
}

func sidecarPath(dir, source, collection string) string {
	return filepath.Join(dir, fmt.Sprintf("%s_%s_indexes.json", source, collection))
}

func writeIndexSidecar(dir string, meta *IndexMetadata) error {
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal index metadata: %w", err)
	}
	return os.WriteFile(sidecarPath(dir, meta.Source, meta.Collection), data, 0o644)
}

func readIndexSidecar(dir, source, collection string) (*IndexMetadata, error) {
	data, err := os.ReadFile(sidecarPath(dir, source, collection))
	if err != nil {
		return nil, err
	}

	var meta IndexMetadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("failed to parse index metadata: %w", err)
	}
	return &meta, nil
}

func removeIndexSidecar(dir, source, collection string) error {
	if err := os.Remove(sidecarPath(dir, source, collection)); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
