package cmd

import (
	"bufio"
	"fmt"
	"io"
	"os"

	"github.com/rightson/mongo-backup/cmd/compressors"
)

// sinkBufferSize bounds the in-memory staging buffer between the serializer
// and the compressor/file. Writes beyond this force a flush through to the
// destination before WriteLine returns.
const sinkBufferSize = 256 * 1024

// ArtifactSink streams serialized records into a single artifact file,
// optionally through a compressor. Writes are synchronous: WriteLine returns
// only once the buffer has accepted the bytes, flushing down to the
// destination whenever it fills, so memory stays bounded regardless of
// source volume or destination speed.
type ArtifactSink struct {
	path     string
	file     *os.File
	comp     io.WriteCloser
	buf      *bufio.Writer
	written  int64
	finished bool
}

// NewArtifactSink creates the artifact file and wires the write chain:
// buffer -> compressor -> file. A nil compressor chain is used for "none".
func NewArtifactSink(path string, comp compressors.Compressor, level int) (*ArtifactSink, error) {
	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create artifact %s: %w", path, err)
	}

	writer, err := comp.NewWriter(file, level)
	if err != nil {
		file.Close()
		_ = os.Remove(path)
		return nil, err
	}

	return &ArtifactSink{
		path: path,
		file: file,
		comp: writer,
		buf:  bufio.NewWriterSize(writer, sinkBufferSize),
	}, nil
}

// Path returns the artifact file location
func (s *ArtifactSink) Path() string {
	return s.path
}

// BytesWritten returns the cumulative serialized (pre-compression) bytes
func (s *ArtifactSink) BytesWritten() int64 {
	return s.written
}

// WriteLine writes one serialized record followed by a newline. The call
// blocks until the sink has accepted the data; a full buffer drains to the
// compressor and file before the write completes.
func (s *ArtifactSink) WriteLine(line []byte) error {
	if _, err := s.buf.Write(line); err != nil {
		return fmt.Errorf("artifact write failed: %w", err)
	}
	if err := s.buf.WriteByte('\n'); err != nil {
		return fmt.Errorf("artifact write failed: %w", err)
	}
	s.written += int64(len(line)) + 1
	return nil
}

// Close flushes all buffered data through the compressor, syncs the file to
// durable storage and closes it. Only after Close returns without error may
// the unit be marked complete.
func (s *ArtifactSink) Close() error {
	if s.finished {
		return nil
	}
	s.finished = true

	if err := s.buf.Flush(); err != nil {
		s.comp.Close()
		s.file.Close()
		return fmt.Errorf("failed to flush artifact buffer: %w", err)
	}
	if err := s.comp.Close(); err != nil {
		s.file.Close()
		return fmt.Errorf("failed to finalize compression: %w", err)
	}
	if err := s.file.Sync(); err != nil {
		s.file.Close()
		return fmt.Errorf("failed to sync artifact: %w", err)
	}
	if err := s.file.Close(); err != nil {
		return fmt.Errorf("failed to close artifact: %w", err)
	}

	return nil
}

// Abort closes the sink and deletes the partially written artifact. A
// partial artifact must never be mistaken for a complete one, so it is
// removed rather than left truncated.
func (s *ArtifactSink) Abort() error {
	if !s.finished {
		s.finished = true
		_ = s.comp.Close()
		_ = s.file.Close()
	}
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove partial artifact %s: %w", s.path, err)
	}
	return nil
}
