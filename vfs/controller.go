package vfs

import (
	"context"
	"io"
)

// Controller serves the entries of one mount point.
//
// Controllers are stacked into a pipeline; each stage owns one concern and
// delegates everything else to the next stage.
type Controller interface {
	MountPoint() MountPoint

	// Parent returns the controller of the parent mount point, or nil for a
	// hierarchical mount point.
	Parent() Controller

	// Stat returns the named node, or nil without an error when it does not
	// exist.
	Stat(ctx context.Context, opts AccessOption, name string) (Node, error)

	CheckAccess(ctx context.Context, opts AccessOption, name string, types Access) error

	SetReadOnly(ctx context.Context, name string) error

	// SetTimes sets the times per access kind and reports whether every
	// requested kind was supported.
	SetTimes(ctx context.Context, opts AccessOption, name string, times map[Access]int64) (bool, error)

	// SetTime sets the same time for every access kind in types and reports
	// whether every requested kind was supported.
	SetTime(ctx context.Context, opts AccessOption, name string, types Access, value int64) (bool, error)

	Input(opts AccessOption, name string) InputSocket

	Output(opts AccessOption, name string, template Entry) OutputSocket

	Make(ctx context.Context, opts AccessOption, name string, typ Type, template Entry) error

	Unlink(ctx context.Context, opts AccessOption, name string) error

	Sync(ctx context.Context, opts SyncOption) error
}

// ReadChannel is a seekable, randomly accessible read stream of known size.
type ReadChannel interface {
	io.Reader
	io.ReaderAt
	io.Seeker
	io.Closer
	Size() int64
}

// InputSocket lazily provides read access to one entry.
type InputSocket interface {
	// Target returns the entry which will be read.
	Target(ctx context.Context) (Entry, error)
	Stream(ctx context.Context) (io.ReadCloser, error)
	Channel(ctx context.Context) (ReadChannel, error)
}

// OutputSocket lazily provides write access to one entry.
type OutputSocket interface {
	// Target returns the entry which will be written.
	Target(ctx context.Context) (Entry, error)
	Stream(ctx context.Context) (io.WriteCloser, error)
}

// ContextCloser is implemented by resources whose close operation needs the
// caller's context, e.g. to flush into another controller.
type ContextCloser interface {
	CloseContext(ctx context.Context) error
}

// CloseContext closes c, passing ctx along when c supports it.
func CloseContext(ctx context.Context, c io.Closer) error {
	if cc, ok := c.(ContextCloser); ok {
		return cc.CloseContext(ctx)
	}
	return c.Close()
}

// Copy copies the content of the input socket to the output socket.
func Copy(ctx context.Context, in InputSocket, out OutputSocket) (err error) {
	r, err := in.Stream(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := r.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	w, err := out.Stream(ctx)
	if err != nil {
		return err
	}
	if _, err := io.Copy(w, r); err != nil {
		_ = CloseContext(ctx, w)
		return err
	}
	return CloseContext(ctx, w)
}
