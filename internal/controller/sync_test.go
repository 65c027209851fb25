package controller

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aweris/archivefs/vfs"
)

func TestSyncRetriesAfterSync(t *testing.T) {
	ctx := context.Background()
	mem := newMemController()
	mem.makeErr = []error{vfs.NeedsSync("a")}
	c := newSyncController(mem)

	require.NoError(t, c.Make(ctx, 0, "a", vfs.TypeFile, nil))
	assert.Len(t, mem.makes, 2)
	assert.Equal(t, []vfs.SyncOption{vfs.SyncDefault}, mem.syncs)
}

func TestSyncIgnoresWarnings(t *testing.T) {
	ctx := context.Background()
	mem := newMemController()
	mem.makeErr = []error{vfs.NeedsSync("a")}
	mem.syncErr = []error{vfs.NewSyncWarning(mem.mp, assert.AnError)}
	c := newSyncController(mem)

	require.NoError(t, c.Make(ctx, 0, "a", vfs.TypeFile, nil))
}

func TestSyncFailureStopsRetry(t *testing.T) {
	ctx := context.Background()
	mem := newMemController()
	mem.makeErr = []error{vfs.NeedsSync("a")}
	mem.syncErr = []error{vfs.NewSyncError(mem.mp, assert.AnError)}
	c := newSyncController(mem)

	err := c.Make(ctx, 0, "a", vfs.TypeFile, nil)
	var se *vfs.SyncError
	assert.ErrorAs(t, err, &se)
	assert.Len(t, mem.makes, 1)
}

func TestSyncNestedDoesNotWait(t *testing.T) {
	mem := newMemController()
	mem.makeErr = []error{vfs.NeedsSync("a")}
	c := newSyncController(mem)

	l := NewLock()
	ctx, _ := withToken(context.Background())
	require.NoError(t, l.Lock(ctx))
	defer l.Unlock(ctx)

	require.NoError(t, c.Make(ctx, 0, "a", vfs.TypeFile, nil))
	require.Len(t, mem.syncs, 1)
	assert.False(t, mem.syncs[0].Has(vfs.WaitCloseIO))
}

func TestSyncResetsAfterRootUnlink(t *testing.T) {
	ctx := context.Background()
	mem := newMemController()
	mem.files[""] = nil
	c := newSyncController(mem)

	require.NoError(t, c.Unlink(ctx, 0, ""))
	assert.Equal(t, []vfs.SyncOption{vfs.SyncReset}, mem.syncs)
}
