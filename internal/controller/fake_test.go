package controller

import (
	"bytes"
	"context"
	"io"
	"slices"
	"sync"

	"github.com/aweris/archivefs/vfs"
)

// memController is an in-memory controller which counts the calls it
// serves.
type memController struct {
	mp vfs.MountPoint

	mu      sync.Mutex
	files   map[string][]byte
	inputs  int
	outputs int
	makes   []vfs.AccessOption
	syncs   []vfs.SyncOption

	// makeErr and syncErr are returned, and consumed, by the next calls.
	makeErr []error
	syncErr []error
}

var _ vfs.Controller = (*memController)(nil)

func newMemController() *memController {
	mp, err := vfs.ParseMountPoint("mem:file:/test.mem!/")
	if err != nil {
		panic(err)
	}
	return &memController{mp: mp, files: make(map[string][]byte)}
}

func (c *memController) MountPoint() vfs.MountPoint { return c.mp }
func (c *memController) Parent() vfs.Controller     { return nil }

func (c *memController) Stat(_ context.Context, _ vfs.AccessOption, name string) (vfs.Node, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	data, ok := c.files[name]
	if !ok {
		return nil, nil
	}
	return memNode{name: name, size: int64(len(data))}, nil
}

func (c *memController) CheckAccess(context.Context, vfs.AccessOption, string, vfs.Access) error {
	return nil
}

func (c *memController) SetReadOnly(context.Context, string) error { return nil }

func (c *memController) SetTimes(context.Context, vfs.AccessOption, string, map[vfs.Access]int64) (bool, error) {
	return true, nil
}

func (c *memController) SetTime(context.Context, vfs.AccessOption, string, vfs.Access, int64) (bool, error) {
	return true, nil
}

func (c *memController) open(name string) (*bytes.Reader, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.inputs++
	data, ok := c.files[name]
	if !ok {
		return nil, vfs.PathError("open", name, vfs.ErrNoSuchFile)
	}
	return bytes.NewReader(data), nil
}

func (c *memController) Input(_ vfs.AccessOption, name string) vfs.InputSocket {
	return inputFuncs{
		target: func(ctx context.Context) (vfs.Entry, error) {
			n, err := c.Stat(ctx, 0, name)
			if err != nil || n == nil {
				return nil, vfs.PathError("open", name, vfs.ErrNoSuchFile)
			}
			return n, nil
		},
		stream: func(context.Context) (io.ReadCloser, error) {
			r, err := c.open(name)
			if err != nil {
				return nil, err
			}
			return memChannel{r}, nil
		},
		channel: func(context.Context) (vfs.ReadChannel, error) {
			r, err := c.open(name)
			if err != nil {
				return nil, err
			}
			return memChannel{r}, nil
		},
	}
}

func (c *memController) Output(opts vfs.AccessOption, name string, _ vfs.Entry) vfs.OutputSocket {
	return outputFuncs{
		target: func(context.Context) (vfs.Entry, error) {
			return memNode{name: name, size: vfs.Unknown}, nil
		},
		stream: func(context.Context) (io.WriteCloser, error) {
			c.mu.Lock()
			defer c.mu.Unlock()
			c.outputs++
			w := &memWriter{c: c, name: name}
			if opts.Has(vfs.Append) {
				w.buf.Write(c.files[name])
			}
			return w, nil
		},
	}
}

func (c *memController) Make(_ context.Context, opts vfs.AccessOption, name string, _ vfs.Type, _ vfs.Entry) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.makes = append(c.makes, opts)
	if len(c.makeErr) > 0 {
		err := c.makeErr[0]
		c.makeErr = c.makeErr[1:]
		if err != nil {
			return err
		}
	}
	if _, ok := c.files[name]; !ok {
		c.files[name] = nil
	}
	return nil
}

func (c *memController) Unlink(_ context.Context, _ vfs.AccessOption, name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.files[name]; !ok {
		return vfs.PathError("unlink", name, vfs.ErrNoSuchFile)
	}
	delete(c.files, name)
	return nil
}

func (c *memController) Sync(_ context.Context, opts vfs.SyncOption) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.syncs = append(c.syncs, opts)
	if len(c.syncErr) > 0 {
		err := c.syncErr[0]
		c.syncErr = c.syncErr[1:]
		return err
	}
	return nil
}

func (c *memController) content(name string) []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.files[name])
}

type memChannel struct{ *bytes.Reader }

func (memChannel) Close() error { return nil }

type memWriter struct {
	c    *memController
	name string
	buf  bytes.Buffer
}

func (w *memWriter) Write(p []byte) (int, error) { return w.buf.Write(p) }

func (w *memWriter) Close() error {
	w.c.mu.Lock()
	defer w.c.mu.Unlock()
	w.c.files[w.name] = slices.Clone(w.buf.Bytes())
	return nil
}

type memNode struct {
	name string
	size int64
}

func (n memNode) Name() string           { return n.name }
func (n memNode) Type() vfs.Type         { return vfs.TypeFile }
func (n memNode) Size(vfs.Size) int64    { return n.size }
func (n memNode) Time(vfs.Access) int64  { return vfs.Unknown }
func (n memNode) IsType(t vfs.Type) bool { return t == vfs.TypeFile }
func (n memNode) Members() []string      { return nil }
