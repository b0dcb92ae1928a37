package compressors

import (
	"errors"
	"fmt"
	"io"
)

// ErrUnsupportedCompression is returned when an unsupported compression type is requested
var ErrUnsupportedCompression = errors.New("unsupported compression type")

// Compressor defines the interface for streaming compression handlers.
// Writers wrap the artifact file during export; readers wrap it during restore.
type Compressor interface {
	// NewWriter wraps w with a compressing writer at the given level
	NewWriter(w io.Writer, level int) (io.WriteCloser, error)

	// NewReader wraps r with a decompressing reader
	NewReader(r io.Reader) (io.ReadCloser, error)

	// Extension returns the file extension for this compression (e.g., ".zst", ".lz4", ".gz")
	Extension() string

	// DefaultLevel returns the default compression level
	DefaultLevel() int
}

// GetCompressor returns the appropriate compressor based on the compression string
func GetCompressor(compression string) (Compressor, error) {
	switch compression {
	case "zstd":
		return NewZstdCompressor(), nil
	case "lz4":
		return NewLZ4Compressor(), nil
	case "gzip":
		return NewGzipCompressor(), nil
	case "none":
		return NewNoneCompressor(), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedCompression, compression)
	}
}

// ForExtension maps an artifact filename extension to its compressor.
// Returns false for extensions that do not indicate compression.
func ForExtension(ext string) (Compressor, bool) {
	switch ext {
	case ".zst":
		return NewZstdCompressor(), true
	case ".lz4":
		return NewLZ4Compressor(), true
	case ".gz":
		return NewGzipCompressor(), true
	default:
		return nil, false
	}
}
