package iopool

import (
	"bytes"
	"errors"
	"io"
	"sync"

	"github.com/aweris/archivefs/vfs"
)

var errReleased = errors.New("iopool: buffer released")

// MemoryPool allocates buffers on the heap and recycles their storage.
type MemoryPool struct {
	bufs sync.Pool
}

func NewMemory() *MemoryPool {
	return &MemoryPool{bufs: sync.Pool{New: func() any { return new(bytes.Buffer) }}}
}

func (p *MemoryPool) Allocate() (vfs.IOBuffer, error) {
	return &memoryBuffer{pool: p}, nil
}

type memoryBuffer struct {
	pool     *MemoryPool
	mu       sync.RWMutex
	data     *bytes.Buffer
	released bool
}

func (b *memoryBuffer) Writer() (io.WriteCloser, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.released {
		return nil, errReleased
	}
	buf := b.pool.bufs.Get().(*bytes.Buffer)
	buf.Reset()
	return &memoryWriter{b: b, buf: buf}, nil
}

func (b *memoryBuffer) Reader() (vfs.ReadChannel, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.released {
		return nil, errReleased
	}
	var data []byte
	if b.data != nil {
		data = b.data.Bytes()
	}
	r := bytes.NewReader(data)
	return newReadChannel(r, r.Size()), nil
}

func (b *memoryBuffer) Size() int64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.data == nil {
		return 0
	}
	return int64(b.data.Len())
}

func (b *memoryBuffer) Release() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.released {
		return nil
	}
	b.released = true
	if b.data != nil {
		b.pool.bufs.Put(b.data)
		b.data = nil
	}
	return nil
}

type memoryWriter struct {
	b   *memoryBuffer
	buf *bytes.Buffer
}

func (w *memoryWriter) Write(p []byte) (int, error) {
	if w.buf == nil {
		return 0, io.ErrClosedPipe
	}
	return w.buf.Write(p)
}

// Close publishes the written content. Storage replaced by it is not
// recycled since readers may still refer to it.
func (w *memoryWriter) Close() error {
	if w.buf == nil {
		return nil
	}
	b := w.b
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.released {
		b.pool.bufs.Put(w.buf)
		w.buf = nil
		return errReleased
	}
	b.data, w.buf = w.buf, nil
	return nil
}
