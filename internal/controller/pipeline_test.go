package controller

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aweris/archivefs/driver"
	"github.com/aweris/archivefs/internal/iopool"
	"github.com/aweris/archivefs/internal/store"
	"github.com/aweris/archivefs/vfs"
)

type fixture struct {
	dir    string
	host   *store.Host
	format driver.Format
	name   string
}

func newFixture(t *testing.T, format driver.Format) *fixture {
	t.Helper()
	dir := t.TempDir()
	mp, err := vfs.NewHierarchicalMountPoint("file", dir)
	require.NoError(t, err)
	host, err := store.NewHost(mp)
	require.NoError(t, err)
	return &fixture{dir: dir, host: host, format: format, name: "a" + format.Suffixes[0]}
}

func (f *fixture) pipeline(t *testing.T, strategy Strategy) *Pipeline {
	t.Helper()
	mp, err := vfs.NewMountPoint(f.format.Scheme, f.host.MountPoint(), f.name)
	require.NoError(t, err)
	d := driver.New(f.format, iopool.NewMemory())
	return New(NewModel(mp, f.host, nil), Config{Driver: d, Strategy: strategy})
}

func (f *fixture) exists(t *testing.T) bool {
	t.Helper()
	_, err := os.Stat(filepath.Join(f.dir, f.name))
	if errors.Is(err, os.ErrNotExist) {
		return false
	}
	require.NoError(t, err)
	return true
}

func TestPipelineStages(t *testing.T) {
	f := newFixture(t, driver.Zip)
	p := f.pipeline(t, WriteBack)
	assert.Equal(t, []string{"target", "resource", "cache", "lock", "sync", "driver", "finalize", "false-positive"}, p.Stages())
	assert.Equal(t, "a.zip", p.MountPoint().EntryName())
	assert.Same(t, f.host, p.Parent())
}

func TestPipelineRoundTrip(t *testing.T) {
	ctx := context.Background()
	for _, format := range driver.Formats {
		t.Run(format.Scheme, func(t *testing.T) {
			f := newFixture(t, format)
			p := f.pipeline(t, WriteBack)

			put(t, p, vfs.CreateParents, "docs/readme.txt", []byte("read me"))
			require.NoError(t, p.Make(ctx, vfs.CreateParents, "empty/dir", vfs.TypeDirectory, nil))
			assert.False(t, f.exists(t), "nothing is written before sync")

			require.NoError(t, p.Sync(ctx, vfs.SyncDefault))
			assert.True(t, f.exists(t))

			q := f.pipeline(t, WriteBack)
			root, err := q.Stat(ctx, 0, "")
			require.NoError(t, err)
			require.NotNil(t, root)
			assert.True(t, root.IsType(vfs.TypeDirectory))
			assert.Equal(t, []string{"docs", "empty"}, root.Members())

			n, err := q.Stat(ctx, 0, "empty")
			require.NoError(t, err)
			assert.Equal(t, []string{"dir"}, n.Members())

			assert.Equal(t, "read me", string(get(t, q, 0, "docs/readme.txt")))
			require.NoError(t, q.Sync(ctx, vfs.SyncUmount))
		})
	}
}

func TestPipelineRewriteSyncsFirst(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, driver.Zip)
	p := f.pipeline(t, WriteBack)

	put(t, p, vfs.CreateParents, "f", []byte("one"))
	put(t, p, 0, "f", []byte("two"))
	assert.True(t, f.exists(t), "rewriting an output entry syncs the container")

	assert.Equal(t, "two", string(get(t, p, 0, "f")))
	require.NoError(t, p.Sync(ctx, vfs.SyncDefault))
	assert.Equal(t, "two", string(get(t, f.pipeline(t, WriteBack), 0, "f")))
}

func TestPipelineAppend(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, driver.Tar)
	p := f.pipeline(t, WriteBack)

	put(t, p, vfs.CreateParents, "log", []byte("a"))
	require.NoError(t, p.Sync(ctx, vfs.SyncDefault))
	put(t, p, vfs.Append, "log", []byte("b"))
	require.NoError(t, p.Sync(ctx, vfs.SyncDefault))

	assert.Equal(t, "ab", string(get(t, f.pipeline(t, WriteBack), 0, "log")))
}

func TestPipelineCache(t *testing.T) {
	ctx := context.Background()
	for _, strategy := range []Strategy{WriteBack, WriteThrough} {
		t.Run(strategy.String(), func(t *testing.T) {
			f := newFixture(t, driver.Zip)
			p := f.pipeline(t, strategy)

			put(t, p, vfs.Cache|vfs.CreateParents, "c", []byte("cached"))
			put(t, p, vfs.Cache, "c", []byte("cached again"))
			assert.Equal(t, "cached again", string(get(t, p, vfs.Cache, "c")))

			require.NoError(t, p.Sync(ctx, vfs.SyncUmount))
			assert.Equal(t, "cached again", string(get(t, f.pipeline(t, WriteBack), 0, "c")))
		})
	}
}

func TestPipelineReset(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, driver.Zip)
	p := f.pipeline(t, WriteBack)

	put(t, p, vfs.Cache|vfs.CreateParents, "c", []byte("discarded"))
	require.NoError(t, p.Sync(ctx, vfs.SyncReset))
	assert.False(t, f.exists(t))

	n, err := p.Stat(ctx, 0, "c")
	require.NoError(t, err)
	assert.Nil(t, n)
}

func TestPipelineFalsePositive(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, driver.Zip)
	p := f.pipeline(t, WriteBack)

	n, err := p.Stat(ctx, 0, "")
	require.NoError(t, err)
	assert.Nil(t, n, "a missing container is served by the parent")

	require.NoError(t, os.WriteFile(filepath.Join(f.dir, f.name), []byte("plain text"), 0o644))
	n, err = p.Stat(ctx, 0, "")
	require.NoError(t, err)
	require.NotNil(t, n)
	assert.Equal(t, vfs.TypeFile, n.Type())
	assert.Equal(t, "plain text", string(get(t, p, 0, "")))

	_, err = p.Input(0, "inner").Stream(ctx)
	assert.ErrorIs(t, err, vfs.ErrNotDirectory)
	require.NoError(t, p.Sync(ctx, vfs.SyncUmount))
}

func TestPipelineMakeRoot(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, driver.Zip)
	p := f.pipeline(t, WriteBack)

	require.NoError(t, p.Make(ctx, 0, "", vfs.TypeDirectory, nil))
	assert.ErrorIs(t, p.Make(ctx, 0, "", vfs.TypeDirectory, nil), vfs.ErrFileExists)
	require.NoError(t, p.Sync(ctx, vfs.SyncDefault))
	assert.True(t, f.exists(t))

	root, err := f.pipeline(t, WriteBack).Stat(ctx, 0, "")
	require.NoError(t, err)
	assert.Empty(t, root.Members())
}

func TestPipelineUnlinkContainer(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, driver.Zip)
	p := f.pipeline(t, WriteBack)

	put(t, p, vfs.CreateParents, "f", []byte("x"))
	require.NoError(t, p.Sync(ctx, vfs.SyncDefault))

	assert.ErrorIs(t, p.Unlink(ctx, 0, ""), vfs.ErrDirectoryNotEmpty)
	require.NoError(t, p.Unlink(ctx, 0, "f"))
	require.NoError(t, p.Unlink(ctx, 0, ""))
	assert.False(t, f.exists(t))
}

func TestPipelineOpenStreams(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, driver.Zip)
	p := f.pipeline(t, WriteBack)

	put(t, p, vfs.CreateParents, "f", []byte("x"))
	r, err := p.Input(0, "f").Stream(ctx)
	if vfs.IsNeedsSync(err) {
		t.Fatal("needs sync escaped the pipeline")
	}
	require.NoError(t, err)

	err = p.Sync(ctx, vfs.SyncDefault)
	var ore *vfs.OpenResourceError
	require.ErrorAs(t, err, &ore)
	assert.Equal(t, 1, ore.Local)

	err = p.Sync(ctx, vfs.SyncUmount)
	require.Error(t, err)
	assert.True(t, vfs.IsSyncWarning(err), "forced close is a warning: %v", err)
	assert.True(t, f.exists(t))

	_ = r.Close()
	assert.Equal(t, "x", string(get(t, f.pipeline(t, WriteBack), 0, "f")))
}

func TestFalsePositiveTurnsSignalsIntoInternalErrors(t *testing.T) {
	ctx := context.Background()
	mem := newMemController()
	c := newFalsePositiveController(mem)

	mem.makeErr = []error{vfs.NeedsSync("a")}
	err := c.Make(ctx, 0, "a", vfs.TypeFile, nil)
	assert.ErrorIs(t, err, vfs.ErrInternal)

	l := NewLock()
	nctx, _ := withToken(ctx)
	require.NoError(t, l.Lock(nctx))
	defer l.Unlock(nctx)
	mem.makeErr = []error{vfs.ErrNeedsLockRetry}
	assert.ErrorIs(t, c.Make(nctx, 0, "a", vfs.TypeFile, nil), vfs.ErrNeedsLockRetry)
}

type countingCloser struct{ n int }

func (c *countingCloser) Close() error { c.n++; return nil }

func TestFinalizeLeaked(t *testing.T) {
	inner := &countingCloser{}
	s := &finalizeState{inner: inner}
	finalizeLeaked(s)
	finalizeLeaked(s)
	assert.Equal(t, 1, inner.n)

	closed := &countingCloser{}
	s = &finalizeState{inner: closed}
	require.NoError(t, s.close(context.Background()))
	finalizeLeaked(s)
	assert.Equal(t, 1, closed.n)
}

var _ io.Closer = (*countingCloser)(nil)
