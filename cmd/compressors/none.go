package compressors

import "io"

// NoneCompressor passes data through without compression
type NoneCompressor struct{}

// NewNoneCompressor creates a new pass-through compressor
func NewNoneCompressor() *NoneCompressor {
	return &NoneCompressor{}
}

type nopWriteCloser struct {
	io.Writer
}

func (nopWriteCloser) Close() error { return nil }

// NewWriter returns a pass-through writer
func (c *NoneCompressor) NewWriter(w io.Writer, _ int) (io.WriteCloser, error) {
	return nopWriteCloser{w}, nil
}

// NewReader returns a pass-through reader
func (c *NoneCompressor) NewReader(r io.Reader) (io.ReadCloser, error) {
	return io.NopCloser(r), nil
}

// Extension returns an empty extension (no compression suffix)
func (c *NoneCompressor) Extension() string {
	return ""
}

// DefaultLevel returns the default compression level (none)
func (c *NoneCompressor) DefaultLevel() int {
	return 0
}
