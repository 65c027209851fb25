package archivefs

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"path"
	"time"

	"github.com/aweris/archivefs/vfs"
)

// Workspace is a file system rooted at a host directory. Names are slash
// separated and relative to the root as for fs.FS; any segment with a known
// container suffix is traversed as a directory.
//
// Changes to containers are kept in memory until Sync or Close.
//
// Streams are accounted to the owner carried by the context of the
// workspace, see vfs.WithOwner. Workspaces returned by Open and
// Manager.Workspace share the process-wide owner. WithContext binds a new
// owner unless ctx carries one. Sync waits for the streams of other owners.
type Workspace struct {
	m    *Manager
	root string
	ctx  context.Context
	own  bool
}

// Open returns a workspace rooted at dir, backed by a new manager whose host
// root is dir.
func Open(dir string, opts ...Option) (*Workspace, error) {
	m, err := New(append(opts, WithHostRoot(dir))...)
	if err != nil {
		return nil, err
	}
	return &Workspace{m: m, root: ".", ctx: context.Background(), own: true}, nil
}

// Workspace returns a workspace rooted at dir, a path relative to the host
// root. Closing it does not close the manager.
func (m *Manager) Workspace(dir string) *Workspace {
	return &Workspace{m: m, root: path.Clean(dir), ctx: context.Background()}
}

// WithContext returns a shallow copy of w which uses ctx for all operations.
// A new owner is bound to ctx unless it carries one.
func (w *Workspace) WithContext(ctx context.Context) *Workspace {
	if !vfs.HasOwner(ctx) {
		ctx = vfs.WithOwner(ctx, vfs.NewOwner())
	}
	c := *w
	c.ctx = ctx
	return &c
}

func (w *Workspace) Manager() *Manager { return w.m }

func (w *Workspace) resolve(op, name string) (vfs.Controller, string, error) {
	if !fs.ValidPath(name) {
		return nil, "", &fs.PathError{Op: op, Path: name, Err: fs.ErrInvalid}
	}
	c, entry, err := w.m.Resolve(path.Join(w.root, name))
	if err != nil {
		return nil, "", &fs.PathError{Op: op, Path: name, Err: err}
	}
	return c, entry, nil
}

// wrap reports err for name. Errors of the pipeline name entries relative
// to their container.
func wrap(op, name string, err error) error {
	if err == nil {
		return nil
	}
	if pe, ok := err.(*fs.PathError); ok {
		return &fs.PathError{Op: op, Path: name, Err: pe.Err}
	}
	return &fs.PathError{Op: op, Path: name, Err: err}
}

func (w *Workspace) stat(name string) (vfs.Node, error) {
	c, entry, err := w.resolve("stat", name)
	if err != nil {
		return nil, err
	}
	n, err := c.Stat(w.ctx, 0, entry)
	if err != nil {
		return nil, wrap("stat", name, err)
	}
	if n == nil {
		return nil, &fs.PathError{Op: "stat", Path: name, Err: fs.ErrNotExist}
	}
	return n, nil
}

func (w *Workspace) Stat(name string) (fs.FileInfo, error) {
	n, err := w.stat(name)
	if err != nil {
		return nil, err
	}
	return newFileInfo(name, n), nil
}

// ReadDir returns the entries of the directory sorted by name.
func (w *Workspace) ReadDir(name string) ([]fs.DirEntry, error) {
	n, err := w.stat(name)
	if err != nil {
		return nil, err
	}
	if !n.IsType(vfs.TypeDirectory) {
		return nil, &fs.PathError{Op: "readdir", Path: name, Err: vfs.ErrNotDirectory}
	}
	entries := make([]fs.DirEntry, 0, len(n.Members()))
	for _, member := range n.Members() {
		child := path.Join(name, member)
		cn, err := w.stat(child)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, err
		}
		entries = append(entries, newFileInfo(child, cn))
	}
	return entries, nil
}

func (w *Workspace) Open(name string) (fs.File, error) {
	n, err := w.stat(name)
	if err != nil {
		return nil, err
	}
	info := newFileInfo(name, n)
	if info.IsDir() {
		entries, err := w.ReadDir(name)
		if err != nil {
			return nil, err
		}
		return &dir{info: info, entries: entries}, nil
	}

	c, entry, err := w.resolve("open", name)
	if err != nil {
		return nil, err
	}
	ch, err := c.Input(0, entry).Channel(w.ctx)
	if err != nil {
		return nil, wrap("open", name, err)
	}
	return &file{info: info, ch: ch}, nil
}

func (w *Workspace) ReadFile(name string) ([]byte, error) {
	c, entry, err := w.resolve("read", name)
	if err != nil {
		return nil, err
	}
	r, err := c.Input(vfs.Cache, entry).Stream(w.ctx)
	if err != nil {
		return nil, wrap("read", name, err)
	}
	data, err := io.ReadAll(r)
	if cerr := r.Close(); err == nil {
		err = cerr
	}
	return data, wrap("read", name, err)
}

func (w *Workspace) output(op string, opts vfs.AccessOption, name string) (io.WriteCloser, error) {
	c, entry, err := w.resolve(op, name)
	if err != nil {
		return nil, err
	}
	wc, err := c.Output(opts, entry, nil).Stream(w.ctx)
	if err != nil {
		return nil, wrap(op, name, err)
	}
	return &contextWriter{WriteCloser: wc, ctx: w.ctx}, nil
}

// Create returns a writer which replaces the content of the named file.
// Missing parent directories are created.
func (w *Workspace) Create(name string) (io.WriteCloser, error) {
	return w.output("create", vfs.CreateParents, name)
}

// Append returns a writer which appends to the named file.
func (w *Workspace) Append(name string) (io.WriteCloser, error) {
	return w.output("append", vfs.Append|vfs.CreateParents, name)
}

func (w *Workspace) WriteFile(name string, data []byte) error {
	wc, err := w.output("write", vfs.CreateParents, name)
	if err != nil {
		return err
	}
	if _, err := wc.Write(data); err != nil {
		_ = wc.Close()
		return wrap("write", name, err)
	}
	return wrap("write", name, wc.Close())
}

func (w *Workspace) Mkdir(name string) error {
	c, entry, err := w.resolve("mkdir", name)
	if err != nil {
		return err
	}
	return wrap("mkdir", name, c.Make(w.ctx, 0, entry, vfs.TypeDirectory, nil))
}

// MkdirAll creates the directory with all missing parents. Containers on the
// path are created as well.
func (w *Workspace) MkdirAll(name string) error {
	if fi, err := w.Stat(name); err == nil {
		if fi.IsDir() {
			return nil
		}
		return &fs.PathError{Op: "mkdir", Path: name, Err: vfs.ErrNotDirectory}
	}
	if parent := path.Dir(name); parent != name && parent != "." {
		if err := w.MkdirAll(parent); err != nil {
			return err
		}
	}
	err := w.Mkdir(name)
	if errors.Is(err, fs.ErrExist) {
		return nil
	}
	return err
}

// Remove removes a file or an empty directory. Removing an empty container
// deletes it.
func (w *Workspace) Remove(name string) error {
	c, entry, err := w.resolve("remove", name)
	if err != nil {
		return err
	}
	return wrap("remove", name, c.Unlink(w.ctx, 0, entry))
}

func (w *Workspace) Chtimes(name string, atime, mtime time.Time) error {
	c, entry, err := w.resolve("chtimes", name)
	if err != nil {
		return err
	}
	times := make(map[vfs.Access]int64, 2)
	if !atime.IsZero() {
		times[vfs.AccessRead] = vfs.Millis(atime)
	}
	if !mtime.IsZero() {
		times[vfs.AccessWrite] = vfs.Millis(mtime)
	}
	_, err = c.SetTimes(w.ctx, 0, entry, times)
	return wrap("chtimes", name, err)
}

func (w *Workspace) Sync() error {
	return w.m.Sync(w.ctx, vfs.SyncDefault)
}

// Close unmounts all containers. A workspace returned by Open closes its
// manager as well.
func (w *Workspace) Close() error {
	if w.own {
		return w.m.Close(w.ctx)
	}
	return w.m.Sync(w.ctx, vfs.SyncUmount)
}

// contextWriter closes with the context of the workspace.
type contextWriter struct {
	io.WriteCloser
	ctx context.Context
}

func (w *contextWriter) Close() error { return vfs.CloseContext(w.ctx, w.WriteCloser) }
