package iopool

import (
	"io"
	"testing"

	"github.com/sourcegraph/conc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aweris/archivefs/vfs"
)

func pools(t *testing.T) map[string]vfs.IOPool {
	return map[string]vfs.IOPool{
		"memory":   NewMemory(),
		"tempfile": NewTempFile(t.TempDir()),
	}
}

func write(t *testing.T, b vfs.IOBuffer, s string) {
	t.Helper()
	w, err := b.Writer()
	require.NoError(t, err)
	_, err = io.WriteString(w, s)
	require.NoError(t, err)
	require.NoError(t, w.Close())
}

func read(t *testing.T, b vfs.IOBuffer) string {
	t.Helper()
	r, err := b.Reader()
	require.NoError(t, err)
	defer r.Close()
	data, err := io.ReadAll(r)
	require.NoError(t, err)
	return string(data)
}

func TestBuffer(t *testing.T) {
	for name, pool := range pools(t) {
		t.Run(name, func(t *testing.T) {
			b, err := pool.Allocate()
			require.NoError(t, err)

			assert.Equal(t, "", read(t, b))
			assert.Zero(t, b.Size())

			write(t, b, "hello world")
			assert.Equal(t, int64(11), b.Size())
			assert.Equal(t, "hello world", read(t, b))

			r, err := b.Reader()
			require.NoError(t, err)
			assert.Equal(t, int64(11), r.Size())
			p := make([]byte, 5)
			_, err = r.ReadAt(p, 6)
			require.NoError(t, err)
			assert.Equal(t, "world", string(p))
			require.NoError(t, r.Close())

			write(t, b, "replaced")
			assert.Equal(t, "replaced", read(t, b))

			require.NoError(t, b.Release())
			require.NoError(t, b.Release())
			_, err = b.Reader()
			assert.Error(t, err)
			_, err = b.Writer()
			assert.Error(t, err)
		})
	}
}

func TestBufferWriterInvisibleUntilClosed(t *testing.T) {
	for name, pool := range pools(t) {
		t.Run(name, func(t *testing.T) {
			b, err := pool.Allocate()
			require.NoError(t, err)
			defer b.Release()
			write(t, b, "old")

			w, err := b.Writer()
			require.NoError(t, err)
			_, err = io.WriteString(w, "new")
			require.NoError(t, err)

			assert.Equal(t, "old", read(t, b))
			require.NoError(t, w.Close())
			assert.Equal(t, "new", read(t, b))
		})
	}
}

func TestBufferConcurrentReaders(t *testing.T) {
	for name, pool := range pools(t) {
		t.Run(name, func(t *testing.T) {
			b, err := pool.Allocate()
			require.NoError(t, err)
			defer b.Release()
			write(t, b, "shared content")

			var wg conc.WaitGroup
			for range 8 {
				wg.Go(func() {
					assert.Equal(t, "shared content", read(t, b))
				})
			}
			wg.Wait()
		})
	}
}

func TestNew(t *testing.T) {
	p, err := New(Memory, "")
	require.NoError(t, err)
	assert.IsType(t, &MemoryPool{}, p)

	p, err = New(TempFile, t.TempDir())
	require.NoError(t, err)
	assert.IsType(t, &TempFilePool{}, p)

	_, err = New("disk", "")
	assert.Error(t, err)
}
