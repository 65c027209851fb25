package controller

import (
	"context"
	"errors"
	"io"

	"github.com/aweris/archivefs/internal/archive"
	"github.com/aweris/archivefs/vfs"
)

// mounter is implemented by the controller which knows how to load the file
// system of a container and how to access its entries.
type mounter interface {
	// mount must call setFileSystem before it returns without an error.
	// Without autoCreate a missing container is a false positive.
	mount(ctx context.Context, opts vfs.AccessOption, autoCreate bool) error

	// checkSync signals vfs.NeedsSyncError if the named entry cannot be
	// accessed with the given intention before the container is synced. An
	// intention of zero stands for a metadata update.
	checkSync(ctx context.Context, opts vfs.AccessOption, name string, intention vfs.Access) error

	input(ctx context.Context, name string) (vfs.InputSocket, error)

	output(ctx context.Context, opts vfs.AccessOption, entry vfs.MutableEntry) (vfs.OutputSocket, error)

	unlinkContainer(ctx context.Context, opts vfs.AccessOption) error
}

// archiveController runs the mount state machine of a container: it is reset
// without a file system and mounted with one. File system operations mount on
// demand.
type archiveController struct {
	model   *Model
	mounter mounter
	fs      *archive.FileSystem
}

func (c *archiveController) MountPoint() vfs.MountPoint { return c.model.mountPoint }

func (c *archiveController) Parent() vfs.Controller { return c.model.parent }

func (c *archiveController) guard(ctx context.Context) archive.Guard {
	return guard{ctx: ctx, lock: c.model.lock}
}

// autoMount returns the file system, mounting it first when reset.
func (c *archiveController) autoMount(ctx context.Context, opts vfs.AccessOption, autoCreate bool) (*archive.FileSystem, error) {
	if c.fs != nil {
		return c.fs, nil
	}
	if err := c.mounter.mount(ctx, opts, autoCreate); err != nil {
		return nil, err
	}
	if c.fs == nil {
		panic("controller: mount returned without a file system")
	}
	return c.fs, nil
}

// setFileSystem mounts fs, or resets the controller if fs is nil.
func (c *archiveController) setFileSystem(fs *archive.FileSystem) {
	switch {
	case fs == nil:
		if c.fs != nil {
			c.fs = nil
			c.model.setMounted(false)
		}
	case c.fs != nil:
		panic("controller: file system is already mounted")
	default:
		c.fs = fs
		c.model.setMounted(true)
	}
}

func (c *archiveController) Stat(ctx context.Context, opts vfs.AccessOption, name string) (vfs.Node, error) {
	fs, err := c.autoMount(ctx, opts, false)
	if err != nil {
		return nil, err
	}
	if ce := fs.Stat(name); ce != nil {
		return ce, nil
	}
	return nil, nil
}

func (c *archiveController) CheckAccess(ctx context.Context, opts vfs.AccessOption, name string, types vfs.Access) error {
	fs, err := c.autoMount(ctx, opts, false)
	if err != nil {
		return err
	}
	return fs.CheckAccess(name, types)
}

func (c *archiveController) SetReadOnly(ctx context.Context, name string) error {
	fs, err := c.autoMount(ctx, 0, false)
	if err != nil {
		return err
	}
	return fs.SetReadOnly(name)
}

func (c *archiveController) SetTimes(ctx context.Context, opts vfs.AccessOption, name string, times map[vfs.Access]int64) (bool, error) {
	if err := c.mounter.checkSync(ctx, opts, name, 0); err != nil {
		return false, err
	}
	fs, err := c.autoMount(ctx, opts, false)
	if err != nil {
		return false, err
	}
	return fs.SetTimes(c.guard(ctx), opts, name, times)
}

func (c *archiveController) SetTime(ctx context.Context, opts vfs.AccessOption, name string, types vfs.Access, value int64) (bool, error) {
	if err := c.mounter.checkSync(ctx, opts, name, 0); err != nil {
		return false, err
	}
	fs, err := c.autoMount(ctx, opts, false)
	if err != nil {
		return false, err
	}
	return fs.SetTime(c.guard(ctx), opts, name, types, value)
}

// file returns the file variant of the named entry.
func (c *archiveController) file(ctx context.Context, opts vfs.AccessOption, name string) (vfs.Entry, error) {
	fs, err := c.autoMount(ctx, opts, false)
	if err != nil {
		return nil, err
	}
	ce := fs.Stat(name)
	if ce == nil {
		return nil, vfs.PathError("open", name, vfs.ErrNoSuchFile)
	}
	ae := ce.Variant(vfs.TypeFile)
	if ae == nil {
		return nil, vfs.PathError("open", name, vfs.ErrNotFile)
	}
	return ae, nil
}

func (c *archiveController) Input(opts vfs.AccessOption, name string) vfs.InputSocket {
	open := func(ctx context.Context) (vfs.InputSocket, error) {
		if _, err := c.file(ctx, opts, name); err != nil {
			return nil, err
		}
		if err := c.mounter.checkSync(ctx, opts, name, vfs.AccessRead); err != nil {
			return nil, err
		}
		return c.mounter.input(ctx, name)
	}
	return inputFuncs{
		target: func(ctx context.Context) (vfs.Entry, error) {
			return c.file(ctx, opts, name)
		},
		stream: func(ctx context.Context) (io.ReadCloser, error) {
			in, err := open(ctx)
			if err != nil {
				return nil, err
			}
			return in.Stream(ctx)
		},
		channel: func(ctx context.Context) (vfs.ReadChannel, error) {
			in, err := open(ctx)
			if err != nil {
				return nil, err
			}
			return in.Channel(ctx)
		},
	}
}

func (c *archiveController) Output(opts vfs.AccessOption, name string, template vfs.Entry) vfs.OutputSocket {
	mknod := func(ctx context.Context) (*archive.Transaction, error) {
		fs, err := c.autoMount(ctx, opts, opts.Has(vfs.CreateParents))
		if err != nil {
			return nil, err
		}
		return fs.Mknod(c.guard(ctx), opts, name, vfs.TypeFile, template)
	}
	return outputFuncs{
		target: func(ctx context.Context) (vfs.Entry, error) {
			tx, err := mknod(ctx)
			if err != nil {
				return nil, err
			}
			return tx.Entry(), nil
		},
		stream: func(ctx context.Context) (io.WriteCloser, error) {
			if err := c.mounter.checkSync(ctx, opts, name, vfs.AccessWrite); err != nil {
				return nil, err
			}
			tx, err := mknod(ctx)
			if err != nil {
				return nil, err
			}

			var prefix io.ReadCloser
			if opts.Has(vfs.Append) {
				if ce := c.fs.Stat(name); ce != nil && ce.IsType(vfs.TypeFile) {
					if prefix, err = c.appendSource(ctx, opts, name); err != nil {
						return nil, err
					}
				}
			}

			out, err := c.mounter.output(ctx, opts, tx.Entry())
			if err != nil {
				closeQuietly(prefix)
				return nil, err
			}
			w, err := out.Stream(ctx)
			if err != nil {
				closeQuietly(prefix)
				return nil, err
			}
			if prefix != nil {
				_, err := io.Copy(w, prefix)
				closeQuietly(prefix)
				if err != nil {
					_ = vfs.CloseContext(ctx, w)
					return nil, err
				}
			}
			if err := tx.Commit(); err != nil {
				_ = vfs.CloseContext(ctx, w)
				return nil, err
			}
			return w, nil
		},
	}
}

func (c *archiveController) appendSource(ctx context.Context, opts vfs.AccessOption, name string) (io.ReadCloser, error) {
	if err := c.mounter.checkSync(ctx, opts, name, vfs.AccessRead); err != nil {
		return nil, err
	}
	in, err := c.mounter.input(ctx, name)
	if err != nil {
		return nil, err
	}
	return in.Stream(ctx)
}

func closeQuietly(c io.Closer) {
	if c != nil {
		_ = c.Close()
	}
}

func (c *archiveController) Make(ctx context.Context, opts vfs.AccessOption, name string, typ vfs.Type, template vfs.Entry) error {
	if name == "" {
		_, err := c.autoMount(ctx, opts, false)
		var fp *vfs.FalsePositiveError
		if errors.As(err, &fp) {
			if typ != vfs.TypeDirectory {
				return err
			}
			_, err = c.autoMount(ctx, opts, true)
			return err
		}
		if err != nil {
			return err
		}
		return vfs.PathError("mknod", c.model.mountPoint.String(), vfs.ErrFileExists)
	}

	if err := c.mounter.checkSync(ctx, opts, name, 0); err != nil {
		return err
	}
	fs, err := c.autoMount(ctx, opts, opts.Has(vfs.CreateParents))
	if err != nil {
		return err
	}
	tx, err := fs.Mknod(c.guard(ctx), opts, name, typ, template)
	if err != nil {
		return err
	}
	return tx.Commit()
}

func (c *archiveController) Unlink(ctx context.Context, opts vfs.AccessOption, name string) error {
	if err := c.mounter.checkSync(ctx, opts, name, 0); err != nil {
		return err
	}
	fs, err := c.autoMount(ctx, opts, false)
	if err != nil {
		return err
	}
	if err := fs.Unlink(c.guard(ctx), opts, name); err != nil {
		return err
	}
	if name == "" {
		return c.mounter.unlinkContainer(ctx, opts)
	}
	return nil
}
