package archivefs

import (
	"context"
	"path/filepath"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aweris/archivefs/driver"
	"github.com/aweris/archivefs/internal/controller"
	"github.com/aweris/archivefs/internal/iopool"
	"github.com/aweris/archivefs/vfs"
)

func newManager(t *testing.T, opts ...Option) (*Manager, string) {
	t.Helper()
	dir := t.TempDir()
	m, err := New(append(opts, WithHostRoot(dir))...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close(context.Background()) })
	return m, dir
}

func TestManagerResolve(t *testing.T) {
	m, dir := newManager(t)
	root := m.Host().MountPoint().String()

	tests := []struct {
		path       string
		mountPoint string
		entry      string
	}{
		{path: "plain/file.txt", mountPoint: root, entry: "plain/file.txt"},
		{path: ".", mountPoint: root, entry: ""},
		{path: "a.zip", mountPoint: "zip:" + root + "a.zip!/", entry: ""},
		{path: "d/a.zip/c/b.tar/e.txt", mountPoint: "tar:zip:" + root + "d/a.zip!/c/b.tar!/", entry: "e.txt"},
		{path: "x.tar.zst/y.tar.lz4/z", mountPoint: "tar.lz4:tar.zst:" + root + "x.tar.zst!/y.tar.lz4!/", entry: "z"},
		{path: "lib/App.JAR/META-INF", mountPoint: "zip:" + root + "lib/App.JAR!/", entry: "META-INF"},
		{path: filepath.Join(dir, "abs.tar", "f"), mountPoint: "tar:" + root + "abs.tar!/", entry: "f"},
		{path: ".zip/f", mountPoint: root, entry: ".zip/f"},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			c, entry, err := m.Resolve(tt.path)
			require.NoError(t, err)
			assert.Equal(t, tt.mountPoint, c.MountPoint().String())
			assert.Equal(t, tt.entry, entry)
		})
	}
}

func TestManagerResolveOutsideRoot(t *testing.T) {
	m, _ := newManager(t)

	for _, p := range []string{"../x.zip", "/"} {
		_, _, err := m.Resolve(p)
		assert.ErrorIs(t, err, ErrOutsideRoot, p)
	}
}

func TestManagerControllerIdentity(t *testing.T) {
	m, _ := newManager(t)

	a, _, err := m.Resolve("a.zip/b.tar/c")
	require.NoError(t, err)
	b, _, err := m.Resolve("a.zip/b.tar/d")
	require.NoError(t, err)
	assert.Same(t, a, b)

	zip, _, err := m.Resolve("a.zip")
	require.NoError(t, err)
	assert.Same(t, zip, a.Parent())

	byMountPoint, err := m.Controller(a.MountPoint())
	require.NoError(t, err)
	assert.Same(t, a, byMountPoint)

	host, err := m.Controller(m.Host().MountPoint())
	require.NoError(t, err)
	assert.Same(t, m.Host(), host)

	assert.Equal(t, 2, m.Len())
}

func TestManagerCustomDriver(t *testing.T) {
	d := driver.New(driver.Zip, iopool.NewMemory())
	m, _ := newManager(t, WithDriver("bundle", d, ".bundle"), WithFormats(driver.Tar))

	c, entry, err := m.Resolve("x.bundle/y.tar/z")
	require.NoError(t, err)
	assert.Equal(t, "z", entry)
	assert.Equal(t, "tar", c.MountPoint().Scheme())
	assert.Equal(t, "bundle", c.Parent().MountPoint().Scheme())

	c, entry, err = m.Resolve("x.zip/y")
	require.NoError(t, err)
	assert.Equal(t, "x.zip/y", entry)
	assert.Same(t, m.Host(), c)
}

func TestManagerClosed(t *testing.T) {
	m, _ := newManager(t)
	require.NoError(t, m.Close(context.Background()))

	_, _, err := m.Resolve("a.zip/f")
	assert.ErrorIs(t, err, ErrClosed)

	c, _, err := m.Resolve("plain")
	require.NoError(t, err)
	assert.Same(t, m.Host(), c)
}

func TestChunkByDepth(t *testing.T) {
	m, _ := newManager(t)

	var pipelines []*controller.Pipeline
	for _, p := range []string{"a.zip/b.tar/c.zip/f", "a.zip/b.zip/f", "x.tar/f", "a.zip/f"} {
		c, _, err := m.Resolve(p)
		require.NoError(t, err)
		if p, ok := c.(*controller.Pipeline); ok && !slices.Contains(pipelines, p) {
			pipelines = append(pipelines, p)
		}
	}
	require.Len(t, pipelines, 4)
	slices.SortFunc(pipelines, func(a, b *controller.Pipeline) int {
		return b.MountPoint().Depth() - a.MountPoint().Depth()
	})

	var depths [][]int
	for level := range chunkByDepth(pipelines) {
		var d []int
		for _, p := range level {
			d = append(d, p.MountPoint().Depth())
		}
		depths = append(depths, d)
	}
	assert.Equal(t, [][]int{{3}, {2}, {1, 1}}, depths)
}

func TestManagerSyncNestedBeforeParent(t *testing.T) {
	ctx := context.Background()
	m, dir := newManager(t)

	c, entry, err := m.Resolve("a.zip/b.tar/c.tar.zst/f.txt")
	require.NoError(t, err)
	w, err := c.Output(vfs.CreateParents, entry, nil).Stream(ctx)
	require.NoError(t, err)
	_, err = w.Write([]byte("deep"))
	require.NoError(t, err)
	require.NoError(t, w.Close())
	assert.NoFileExists(t, filepath.Join(dir, "a.zip"))

	require.NoError(t, m.Sync(ctx, vfs.SyncDefault))
	assert.FileExists(t, filepath.Join(dir, "a.zip"))

	fresh, err := New(WithHostRoot(dir))
	require.NoError(t, err)
	defer fresh.Close(ctx)

	data, err := fresh.Workspace(".").ReadFile("a.zip/b.tar/c.tar.zst/f.txt")
	require.NoError(t, err)
	assert.Equal(t, "deep", string(data))
}

func TestManagerSyncReset(t *testing.T) {
	ctx := context.Background()
	m, dir := newManager(t)
	ws := m.Workspace(".")

	require.NoError(t, ws.WriteFile("a.zip/f", []byte("x")))
	require.NoError(t, m.Sync(ctx, vfs.SyncReset))
	assert.NoFileExists(t, filepath.Join(dir, "a.zip"))

	_, err := ws.Stat("a.zip/f")
	assert.ErrorIs(t, err, vfs.ErrNoSuchFile)
}
