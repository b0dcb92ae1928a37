package cmd

import (
	"testing"
)

func TestArtifactFilename(t *testing.T) {
	tests := []struct {
		name           string
		source         string
		collection     string
		unitKey        string
		compressionExt string
		want           string
	}{
		{
			name:           "month key with zstd",
			source:         "mydb",
			collection:     "events",
			unitKey:        "2024-03",
			compressionExt: ".zst",
			want:           "mydb_events_2024-03.jsonl.zst",
		},
		{
			name:           "subrange key uncompressed",
			source:         "mydb",
			collection:     "events",
			unitKey:        "2024-03-part2",
			compressionExt: "",
			want:           "mydb_events_2024-03-part2.jsonl",
		},
		{
			name:           "gzip",
			source:         "archive",
			collection:     "logs",
			unitKey:        "2023-12",
			compressionExt: ".gz",
			want:           "archive_logs_2023-12.jsonl.gz",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ArtifactFilename(tt.source, tt.collection, tt.unitKey, tt.compressionExt)
			if got != tt.want {
				t.Fatalf("expected %s, got %s", tt.want, got)
			}
		})
	}
}

func TestParseArtifactFilename(t *testing.T) {
	tests := []struct {
		name     string
		filename string
		wantKey  string
		wantOK   bool
	}{
		{"zstd month", "mydb_events_2024-03.jsonl.zst", "2024-03", true},
		{"lz4 subrange", "mydb_events_2024-03-part12.jsonl.lz4", "2024-03-part12", true},
		{"uncompressed", "mydb_events_2024-03.jsonl", "2024-03", true},
		{"wrong prefix", "otherdb_events_2024-03.jsonl", "", false},
		{"wrong collection", "mydb_orders_2024-03.jsonl", "", false},
		{"checkpoint file", "mydb_events_checkpoint.json", "", false},
		{"index sidecar", "mydb_events_indexes.json", "", false},
		{"invalid unit key", "mydb_events_march.jsonl", "", false},
		{"missing jsonl ext", "mydb_events_2024-03.zst", "", false},
		{"unknown compression", "mydb_events_2024-03.jsonl.bz2", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key, ok := ParseArtifactFilename(tt.filename, "mydb", "events")
			if ok != tt.wantOK {
				t.Fatalf("expected ok=%v, got %v", tt.wantOK, ok)
			}
			if key != tt.wantKey {
				t.Fatalf("expected key %q, got %q", tt.wantKey, key)
			}
		})
	}
}

func TestParseArtifactFilenameUnderscoreNames(t *testing.T) {
	// Database and collection names may themselves contain underscores
	name := ArtifactFilename("my_db", "user_events", "2024-03", ".zst")
	key, ok := ParseArtifactFilename(name, "my_db", "user_events")
	if !ok || key != "2024-03" {
		t.Fatalf("expected 2024-03, got %q ok=%v", key, ok)
	}
}

func TestIsValidUnitKey(t *testing.T) {
	valid := []string{"2024-01", "1999-12", "2024-03-part1", "2024-03-part42"}
	invalid := []string{"", "2024", "2024-1", "2024-13-x", "2024-03-part", "2024-03part1", "march"}

	for _, key := range valid {
		if !IsValidUnitKey(key) {
			t.Errorf("expected %q to be valid", key)
		}
	}
	for _, key := range invalid {
		if IsValidUnitKey(key) {
			t.Errorf("expected %q to be invalid", key)
		}
	}
}
