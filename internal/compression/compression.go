// Package compression provides the stream codecs of compressed containers.
package compression

import "io"

// Codec wraps streams with a compression format. Closing a reader or writer
// returned by a codec does not close the underlying stream; closing a writer
// flushes it.
type Codec interface {
	Name() string
	NewReader(r io.Reader) (io.ReadCloser, error)
	NewWriter(w io.Writer) (io.WriteCloser, error)
}

var (
	_ Codec = (*Zstd)(nil)
	_ Codec = (*LZ4)(nil)
)
