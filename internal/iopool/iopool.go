// Package iopool provides pools of temporary I/O buffers.
package iopool

import (
	"fmt"
	"io"

	"github.com/aweris/archivefs/vfs"
)

// Kind names a pool implementation.
type Kind string

const (
	Memory   Kind = "memory"
	TempFile Kind = "tempfile"
)

// New returns a pool of the given kind. dir is only used by temp file pools;
// the empty string selects os.TempDir.
func New(kind Kind, dir string) (vfs.IOPool, error) {
	switch kind {
	case Memory, "":
		return NewMemory(), nil
	case TempFile:
		return NewTempFile(dir), nil
	default:
		return nil, fmt.Errorf("unknown io pool %q", kind)
	}
}

type readChannel struct {
	*io.SectionReader
}

func (readChannel) Close() error { return nil }

func newReadChannel(r io.ReaderAt, size int64) vfs.ReadChannel {
	return readChannel{io.NewSectionReader(r, 0, size)}
}
