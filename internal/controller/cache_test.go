package controller

import (
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aweris/archivefs/internal/iopool"
	"github.com/aweris/archivefs/internal/resource"
	"github.com/aweris/archivefs/vfs"
)

func newCache(strategy Strategy) (*cacheController, *memController) {
	mem := newMemController()
	return newCacheController(mem, resource.New(nil), iopool.NewMemory(), strategy), mem
}

func put(t *testing.T, c vfs.Controller, opts vfs.AccessOption, name string, data []byte) {
	t.Helper()
	w, err := c.Output(opts, name, nil).Stream(context.Background())
	require.NoError(t, err)
	_, err = w.Write(data)
	require.NoError(t, err)
	require.NoError(t, w.Close())
}

func get(t *testing.T, c vfs.Controller, opts vfs.AccessOption, name string) []byte {
	t.Helper()
	r, err := c.Input(opts, name).Stream(context.Background())
	require.NoError(t, err)
	defer r.Close()
	data, err := io.ReadAll(r)
	require.NoError(t, err)
	return data
}

func TestCacheServesWrittenContent(t *testing.T) {
	c, mem := newCache(WriteBack)
	data := bytes.Repeat([]byte("0123456789"), 1000)

	put(t, c, vfs.Cache, "e", data)
	first := get(t, c, vfs.Cache, "e")
	second := get(t, c, vfs.Cache, "e")

	assert.Equal(t, data, first)
	assert.Equal(t, data, second)
	assert.LessOrEqual(t, mem.inputs, 1)
	assert.Zero(t, mem.outputs, "write-back defers the output")
}

func TestCacheLoadsOnce(t *testing.T) {
	c, mem := newCache(WriteBack)
	mem.files["e"] = []byte("backing")

	assert.Equal(t, "backing", string(get(t, c, vfs.Cache, "e")))
	assert.Equal(t, "backing", string(get(t, c, vfs.Cache, "e")))
	assert.Equal(t, 1, mem.inputs)

	assert.Equal(t, "backing", string(get(t, c, 0, "e")))
	assert.Equal(t, 1, mem.inputs, "a cached entry is served from the cache")
}

func TestCachePassesThroughWithoutOption(t *testing.T) {
	c, mem := newCache(WriteBack)
	mem.files["e"] = []byte("backing")

	get(t, c, 0, "e")
	get(t, c, 0, "e")
	assert.Equal(t, 2, mem.inputs)

	put(t, c, 0, "f", []byte("direct"))
	assert.Equal(t, 1, mem.outputs)
	assert.Equal(t, "direct", string(mem.content("f")))
}

func TestCacheResetDiscards(t *testing.T) {
	c, mem := newCache(WriteBack)

	put(t, c, vfs.Cache, "e", []byte("never flushed"))
	require.NoError(t, c.Sync(context.Background(), vfs.SyncReset))

	assert.Zero(t, mem.outputs)
	assert.Empty(t, mem.content("e"))
	assert.Empty(t, c.caches)
}

func TestCacheSyncFlushes(t *testing.T) {
	ctx := context.Background()
	c, mem := newCache(WriteBack)

	put(t, c, vfs.Cache, "e", []byte("content"))
	require.NoError(t, c.Sync(ctx, vfs.SyncDefault))
	assert.Equal(t, 1, mem.outputs)
	assert.Equal(t, "content", string(mem.content("e")))
	assert.Len(t, c.caches, 1, "sync keeps the cache unless it is cleared")

	require.NoError(t, c.Sync(ctx, vfs.SyncDefault))
	assert.Equal(t, 1, mem.outputs, "clean entries are not flushed again")

	require.NoError(t, c.Sync(ctx, vfs.SyncUmount))
	assert.Empty(t, c.caches)
	assert.Equal(t, []vfs.SyncOption{vfs.SyncDefault, vfs.SyncDefault, vfs.ForceCloseIO}, mem.syncs)
}

func TestCacheWriteThrough(t *testing.T) {
	c, mem := newCache(WriteThrough)

	put(t, c, vfs.Cache, "e", []byte("through"))
	assert.Equal(t, 1, mem.outputs)
	assert.Equal(t, "through", string(mem.content("e")))
	assert.Equal(t, "through", string(get(t, c, vfs.Cache, "e")))
	assert.Zero(t, mem.inputs)
}

func TestCacheAppend(t *testing.T) {
	c, mem := newCache(WriteBack)
	mem.files["e"] = []byte("head-")

	put(t, c, vfs.Cache|vfs.Append, "e", []byte("tail"))
	assert.Equal(t, "head-tail", string(get(t, c, vfs.Cache, "e")))

	require.NoError(t, c.Sync(context.Background(), vfs.SyncDefault))
	assert.Equal(t, "head-tail", string(mem.content("e")))
}

func TestCacheReaderKeepsReplacedBuffer(t *testing.T) {
	ctx := context.Background()
	c, _ := newCache(WriteBack)

	put(t, c, vfs.Cache, "e", []byte("old"))
	r, err := c.Input(vfs.Cache, "e").Stream(ctx)
	require.NoError(t, err)

	put(t, c, vfs.Cache, "e", []byte("new"))
	data, err := io.ReadAll(r)
	require.NoError(t, err)
	require.NoError(t, r.Close())
	assert.Equal(t, "old", string(data))
	assert.Equal(t, "new", string(get(t, c, vfs.Cache, "e")))
}

func TestCacheMakeNodeGrows(t *testing.T) {
	c, mem := newCache(WriteBack)
	mem.makeErr = []error{vfs.NeedsSync("e")}

	put(t, c, vfs.Cache, "e", []byte("x"))
	require.Len(t, mem.makes, 2)
	assert.False(t, mem.makes[0].Has(vfs.Grow))
	assert.True(t, mem.makes[1].Has(vfs.Grow))
	assert.Empty(t, mem.syncs)
}

func TestCacheMakeNodeSyncs(t *testing.T) {
	c, mem := newCache(WriteBack)
	mem.makeErr = []error{vfs.NeedsSync("e"), vfs.NeedsSync("e")}

	put(t, c, vfs.Cache, "e", []byte("x"))
	assert.Len(t, mem.makes, 3)
	assert.Equal(t, []vfs.SyncOption{vfs.SyncDefault}, mem.syncs)
}

func TestCacheMakeNodeDefersSyncWithLocalStreams(t *testing.T) {
	c, mem := newCache(WriteBack)
	mem.makeErr = []error{vfs.NeedsSync("e"), vfs.NeedsSync("e")}
	mem.syncErr = []error{&vfs.OpenResourceError{Local: 1, Total: 1}}

	put(t, c, vfs.Cache, "e", []byte("x"))
	assert.Len(t, mem.makes, 2)
	assert.Equal(t, "x", string(get(t, c, vfs.Cache, "e")))
}

func TestCacheSyncRepeats(t *testing.T) {
	ctx := context.Background()

	c, mem := newCache(WriteBack)
	mem.syncErr = []error{vfs.NeedsSync(""), vfs.NeedsSync("")}
	require.NoError(t, c.Sync(ctx, vfs.SyncDefault))
	assert.Len(t, mem.syncs, 3)

	c, mem = newCache(WriteBack)
	for range maxSyncPasses {
		mem.syncErr = append(mem.syncErr, vfs.NeedsSync(""))
	}
	err := c.Sync(ctx, vfs.SyncDefault)
	var se *vfs.SyncError
	require.ErrorAs(t, err, &se)
	assert.ErrorIs(t, err, errSyncDiverges)
}

func TestCacheDropsOnUnlink(t *testing.T) {
	ctx := context.Background()
	c, mem := newCache(WriteBack)

	put(t, c, vfs.Cache, "e", []byte("x"))
	require.NoError(t, c.Unlink(ctx, 0, "e"))
	assert.Empty(t, c.caches)

	require.NoError(t, c.Sync(ctx, vfs.SyncDefault))
	assert.Zero(t, mem.outputs)
}

func TestCacheSyncWithOpenWriter(t *testing.T) {
	ctx := context.Background()
	c, mem := newCache(WriteBack)

	w, err := c.Output(vfs.Cache, "e", nil).Stream(ctx)
	require.NoError(t, err)
	_, err = w.Write([]byte("pending"))
	require.NoError(t, err)

	err = c.Sync(ctx, vfs.SyncDefault)
	var ore *vfs.OpenResourceError
	require.ErrorAs(t, err, &ore)
	assert.Equal(t, 1, ore.Local)
	assert.False(t, vfs.IsSyncWarning(err))
	assert.Zero(t, mem.outputs)
	assert.Empty(t, mem.syncs)

	err = c.Sync(ctx, vfs.SyncUmount)
	require.Error(t, err)
	assert.True(t, vfs.IsSyncWarning(err))
	assert.Equal(t, "pending", string(mem.content("e")))
	assert.Empty(t, c.caches)

	assert.NoError(t, w.Close())
	assert.Equal(t, "pending", string(mem.content("e")))
}

func TestCacheSyncWithOpenReader(t *testing.T) {
	ctx := context.Background()
	c, mem := newCache(WriteBack)
	put(t, c, vfs.Cache, "e", []byte("x"))

	r, err := c.Input(vfs.Cache, "e").Stream(ctx)
	require.NoError(t, err)

	err = c.Sync(ctx, vfs.SyncUmount)
	assert.True(t, vfs.IsSyncWarning(err))
	assert.Equal(t, "x", string(mem.content("e")))
	assert.Empty(t, c.caches)
	assert.NoError(t, r.Close())
}

func TestParseStrategy(t *testing.T) {
	for _, s := range []Strategy{WriteBack, WriteThrough} {
		got, err := ParseStrategy(s.String())
		require.NoError(t, err)
		assert.Equal(t, s, got)
	}
	_, err := ParseStrategy("write-around")
	assert.Error(t, err)
}
