package iopool

import (
	"io"
	"os"
	"sync"

	"github.com/aweris/archivefs/vfs"
)

// TempFilePool allocates buffers backed by anonymous temporary files.
type TempFilePool struct {
	dir string
}

func NewTempFile(dir string) *TempFilePool {
	if dir == "" {
		dir = os.TempDir()
	}
	return &TempFilePool{dir: dir}
}

func (p *TempFilePool) Allocate() (vfs.IOBuffer, error) {
	return &fileBuffer{pool: p}, nil
}

type fileBuffer struct {
	pool     *TempFilePool
	mu       sync.RWMutex
	file     *os.File
	size     int64
	released bool
}

func (b *fileBuffer) Writer() (io.WriteCloser, error) {
	b.mu.RLock()
	released := b.released
	b.mu.RUnlock()
	if released {
		return nil, errReleased
	}
	f, err := openTemp(b.pool.dir)
	if err != nil {
		return nil, err
	}
	return &fileWriter{b: b, f: f}, nil
}

func (b *fileBuffer) Reader() (vfs.ReadChannel, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.released {
		return nil, errReleased
	}
	if b.file == nil {
		return newReadChannel(emptyReaderAt{}, 0), nil
	}
	return newReadChannel(b.file, b.size), nil
}

func (b *fileBuffer) Size() int64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.size
}

func (b *fileBuffer) Release() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.released {
		return nil
	}
	b.released = true
	if b.file == nil {
		return nil
	}
	err := b.file.Close()
	b.file = nil
	return err
}

type fileWriter struct {
	b    *fileBuffer
	f    *os.File
	size int64
}

func (w *fileWriter) Write(p []byte) (int, error) {
	if w.f == nil {
		return 0, os.ErrClosed
	}
	n, err := w.f.Write(p)
	w.size += int64(n)
	return n, err
}

// Close publishes the written content. A replaced file stays open until it
// is garbage collected since readers may still refer to it.
func (w *fileWriter) Close() error {
	if w.f == nil {
		return nil
	}
	f := w.f
	w.f = nil

	b := w.b
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.released {
		_ = f.Close()
		return errReleased
	}
	b.file, b.size = f, w.size
	return nil
}

type emptyReaderAt struct{}

func (emptyReaderAt) ReadAt([]byte, int64) (int, error) { return 0, io.EOF }
