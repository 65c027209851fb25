// Package store implements the controller of hierarchical mount points over
// the host file system.
//
// Containers are stored as host files. The host controller is the parent of
// every top level container mount point: the controller pipeline of a
// container reads the container through Input and writes it back through
// Output, which replaces the host file atomically.
package store

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/natefinch/atomic"
	"golang.org/x/sys/unix"

	"github.com/aweris/archivefs/vfs"
)

var ErrNotHierarchical = errors.New("store: not a hierarchical mount point")

// Host serves the entries below one host directory.
type Host struct {
	mp   vfs.MountPoint
	root string
}

var _ vfs.Controller = (*Host)(nil)

// NewHost returns the controller of the hierarchical mount point mp.
func NewHost(mp vfs.MountPoint) (*Host, error) {
	if mp.IsZero() || mp.IsOpaque() {
		return nil, fmt.Errorf("%s: %w", mp, ErrNotHierarchical)
	}
	return &Host{mp: mp, root: filepath.FromSlash(mp.Dir())}, nil
}

func (h *Host) MountPoint() vfs.MountPoint { return h.mp }

func (h *Host) Parent() vfs.Controller { return nil }

// Path returns the host path of the named entry.
func (h *Host) Path(name string) string {
	return filepath.Join(h.root, filepath.FromSlash(vfs.CleanName(name)))
}

func (h *Host) Stat(_ context.Context, _ vfs.AccessOption, name string) (vfs.Node, error) {
	name = vfs.CleanName(name)
	p := h.Path(name)
	fi, err := os.Stat(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	n := newNode(name, p, fi)
	if n.typ == vfs.TypeDirectory {
		des, err := os.ReadDir(p)
		if err != nil {
			return nil, err
		}
		n.members = make([]string, 0, len(des))
		for _, de := range des {
			n.members = append(n.members, de.Name())
		}
		slices.Sort(n.members)
	}
	return n, nil
}

var accessModes = map[vfs.Access]uint32{
	vfs.AccessRead:    unix.R_OK,
	vfs.AccessWrite:   unix.W_OK,
	vfs.AccessExecute: unix.X_OK,
}

// CheckAccess checks the access kinds against the permissions of the calling
// process. Creating an entry requires write access to its parent directory.
func (h *Host) CheckAccess(_ context.Context, _ vfs.AccessOption, name string, types vfs.Access) error {
	p := h.Path(name)
	if _, err := os.Stat(p); err != nil {
		return pathError("access", name, err)
	}
	var mode uint32
	for _, a := range types.Kinds() {
		mode |= accessModes[a]
	}
	if err := unix.Access(p, mode); err != nil {
		return vfs.PathError("access", name, err)
	}
	if types&vfs.AccessCreate != 0 {
		if err := unix.Access(filepath.Dir(p), unix.W_OK|unix.X_OK); err != nil {
			return vfs.PathError("access", name, err)
		}
	}
	return nil
}

func (h *Host) SetReadOnly(_ context.Context, name string) error {
	p := h.Path(name)
	fi, err := os.Stat(p)
	if err != nil {
		return pathError("chmod", name, err)
	}
	return os.Chmod(p, fi.Mode().Perm()&^0o222)
}

func (h *Host) SetTimes(_ context.Context, _ vfs.AccessOption, name string, times map[vfs.Access]int64) (bool, error) {
	ts := []unix.Timespec{omit(), omit()}
	ok := true
	for a, v := range times {
		switch a {
		case vfs.AccessRead:
			ts[0] = unix.NsecToTimespec(v * 1e6)
		case vfs.AccessWrite:
			ts[1] = unix.NsecToTimespec(v * 1e6)
		default:
			ok = false
		}
	}
	if err := unix.UtimesNanoAt(unix.AT_FDCWD, h.Path(name), ts, 0); err != nil {
		return false, vfs.PathError("chtimes", name, err)
	}
	return ok, nil
}

func (h *Host) SetTime(ctx context.Context, opts vfs.AccessOption, name string, types vfs.Access, value int64) (bool, error) {
	times := make(map[vfs.Access]int64)
	for _, a := range types.Kinds() {
		times[a] = value
	}
	return h.SetTimes(ctx, opts, name, times)
}

func omit() unix.Timespec { return unix.Timespec{Nsec: unix.UTIME_OMIT} }

func (h *Host) Input(_ vfs.AccessOption, name string) vfs.InputSocket {
	return &input{h: h, name: vfs.CleanName(name)}
}

func (h *Host) Output(opts vfs.AccessOption, name string, template vfs.Entry) vfs.OutputSocket {
	return &output{h: h, opts: opts, name: vfs.CleanName(name), template: template}
}

func (h *Host) Make(_ context.Context, opts vfs.AccessOption, name string, typ vfs.Type, template vfs.Entry) error {
	name = vfs.CleanName(name)
	p := h.Path(name)
	if opts.Has(vfs.CreateParents) {
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			return err
		}
	}
	switch typ {
	case vfs.TypeFile:
		flags := os.O_WRONLY | os.O_CREATE
		if opts.Has(vfs.Exclusive) {
			flags |= os.O_EXCL
		}
		if fi, err := os.Stat(p); err == nil && fi.IsDir() {
			return vfs.PathError("make", name, vfs.ErrFileExists)
		}
		f, err := os.OpenFile(p, flags, 0o644)
		if err != nil {
			return pathError("make", name, err)
		}
		if err := f.Close(); err != nil {
			return err
		}
	case vfs.TypeDirectory:
		if err := os.Mkdir(p, 0o755); err != nil {
			return pathError("make", name, err)
		}
	default:
		return vfs.PathError("make", name, errors.ErrUnsupported)
	}
	if template != nil {
		return h.applyTimes(name, template)
	}
	return nil
}

func (h *Host) applyTimes(name string, template vfs.Entry) error {
	times := make(map[vfs.Access]int64)
	for _, a := range []vfs.Access{vfs.AccessWrite, vfs.AccessRead} {
		if v := template.Time(a); v != vfs.Unknown {
			times[a] = v
		}
	}
	if len(times) == 0 {
		return nil
	}
	_, err := h.SetTimes(context.Background(), 0, name, times)
	return err
}

func (h *Host) Unlink(_ context.Context, _ vfs.AccessOption, name string) error {
	name = vfs.CleanName(name)
	if name == "" {
		return vfs.PathError("unlink", h.root, fs.ErrPermission)
	}
	return pathError("unlink", name, os.Remove(h.Path(name)))
}

// Sync is a no-op: the host file system has no pending changes.
func (h *Host) Sync(context.Context, vfs.SyncOption) error { return nil }

// pathError maps host errors onto the data integrity errors.
func pathError(op, name string, err error) error {
	switch {
	case err == nil:
		return nil
	// ENOTEMPTY matches fs.ErrExist as well.
	case errors.Is(err, unix.ENOTEMPTY):
		return vfs.PathError(op, name, vfs.ErrDirectoryNotEmpty)
	case errors.Is(err, unix.ENOTDIR):
		return vfs.PathError(op, name, vfs.ErrNotDirectory)
	case errors.Is(err, fs.ErrNotExist):
		return vfs.PathError(op, name, vfs.ErrNoSuchFile)
	case errors.Is(err, fs.ErrExist):
		return vfs.PathError(op, name, vfs.ErrFileExists)
	case errors.Is(err, unix.EROFS):
		return vfs.PathError(op, name, vfs.ErrReadOnlyFileSystem)
	}
	return err
}

type input struct {
	h    *Host
	name string
}

func (in *input) Target(ctx context.Context) (vfs.Entry, error) {
	n, err := in.h.Stat(ctx, 0, in.name)
	if err != nil {
		return nil, err
	}
	if n == nil {
		return nil, vfs.PathError("open", in.name, vfs.ErrNoSuchFile)
	}
	return n, nil
}

func (in *input) Stream(ctx context.Context) (io.ReadCloser, error) {
	return in.Channel(ctx)
}

func (in *input) Channel(context.Context) (vfs.ReadChannel, error) {
	f, err := os.Open(in.h.Path(in.name))
	if err != nil {
		return nil, pathError("open", in.name, err)
	}
	fi, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	if !fi.Mode().IsRegular() {
		_ = f.Close()
		return nil, vfs.PathError("open", in.name, vfs.ErrNotFile)
	}
	return &file{File: f, size: fi.Size()}, nil
}

type file struct {
	*os.File
	size int64
}

func (f *file) Size() int64 { return f.size }

type output struct {
	h        *Host
	opts     vfs.AccessOption
	name     string
	template vfs.Entry
}

func (out *output) Target(ctx context.Context) (vfs.Entry, error) {
	n, err := out.h.Stat(ctx, 0, out.name)
	if err != nil {
		return nil, err
	}
	if n != nil {
		return n, nil
	}
	return &node{name: out.name, typ: vfs.TypeFile, size: vfs.Unknown, mtime: vfs.Unknown, atime: vfs.Unknown}, nil
}

// Stream returns a writer whose content replaces the host file atomically
// when it is closed.
func (out *output) Stream(context.Context) (io.WriteCloser, error) {
	name, p := out.name, out.h.Path(out.name)
	if name == "" {
		return nil, vfs.PathError("create", name, vfs.ErrNotFile)
	}
	fi, err := os.Stat(p)
	switch {
	case err == nil && fi.IsDir():
		return nil, vfs.PathError("create", name, vfs.ErrNotFile)
	case err == nil && out.opts.Has(vfs.Exclusive):
		return nil, vfs.PathError("create", name, vfs.ErrFileExists)
	case err != nil && !errors.Is(err, fs.ErrNotExist):
		return nil, err
	}
	if out.opts.Has(vfs.CreateParents) {
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			return nil, err
		}
	} else if _, err := os.Stat(filepath.Dir(p)); err != nil {
		return nil, pathError("create", name, err)
	}

	var prefix io.ReadCloser = io.NopCloser(strings.NewReader(""))
	if out.opts.Has(vfs.Append) && err == nil {
		if prefix, err = os.Open(p); err != nil {
			return nil, pathError("create", name, err)
		}
	}

	pr, pw := io.Pipe()
	w := &writer{pw: pw, done: make(chan error, 1)}
	go func() {
		defer prefix.Close()
		err := atomic.WriteFile(p, io.MultiReader(prefix, pr))
		_ = pr.CloseWithError(err)
		w.done <- err
	}()
	w.after = func() error {
		if out.template == nil {
			return nil
		}
		return out.h.applyTimes(name, out.template)
	}
	return w, nil
}

type writer struct {
	pw     *io.PipeWriter
	done   chan error
	after  func() error
	closed bool
	err    error
}

func (w *writer) Write(p []byte) (int, error) { return w.pw.Write(p) }

func (w *writer) Close() error {
	if w.closed {
		return w.err
	}
	w.closed = true
	_ = w.pw.Close()
	if w.err = <-w.done; w.err == nil {
		w.err = w.after()
	}
	return w.err
}
