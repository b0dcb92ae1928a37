package cmd

import (
	"fmt"
	"regexp"
	"strings"
)

const artifactExt = ".jsonl"

// unitKeyPattern matches top-level month keys (YYYY-MM) and adaptive
// sub-range keys (YYYY-MM-partN)
var unitKeyPattern = regexp.MustCompile(`^\d{4}-\d{2}(-part\d+)?$`)

// knownCompressionExts lists the compression suffixes an artifact may carry
var knownCompressionExts = []string{".zst", ".lz4", ".gz"}

// IsValidUnitKey reports whether key matches the unit key naming convention
func IsValidUnitKey(key string) bool {
	return unitKeyPattern.MatchString(key)
}

// ArtifactFilename builds the artifact name for one export unit:
// {source}_{collection}_{unitKey}.jsonl[.zst|.lz4|.gz]
func ArtifactFilename(source, collection, unitKey, compressionExt string) string {
	return fmt.Sprintf("%s_%s_%s%s%s", source, collection, unitKey, artifactExt, compressionExt)
}

// ParseArtifactFilename extracts the unit key from an artifact filename
// produced by ArtifactFilename. Returns false for files that do not follow
// the naming convention for the given source and collection.
func ParseArtifactFilename(filename, source, collection string) (string, bool) {
	prefix := source + "_" + collection + "_"
	if !strings.HasPrefix(filename, prefix) {
		return "", false
	}

	rest := strings.TrimPrefix(filename, prefix)
	for _, ext := range knownCompressionExts {
		if strings.HasSuffix(rest, ext) {
			rest = strings.TrimSuffix(rest, ext)
			break
		}
	}
	if !strings.HasSuffix(rest, artifactExt) {
		return "", false
	}

	unitKey := strings.TrimSuffix(rest, artifactExt)
	if !IsValidUnitKey(unitKey) {
		return "", false
	}

	return unitKey, true
}
