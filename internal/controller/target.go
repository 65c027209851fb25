package controller

import (
	"context"
	"errors"
	"io"

	"github.com/rs/zerolog/log"

	"github.com/aweris/archivefs/internal/archive"
	"github.com/aweris/archivefs/vfs"
)

// targetController reads and writes a container through a driver. The
// container is an entry of the parent controller.
type targetController struct {
	archiveController
	driver vfs.Driver

	// created is set when the file system was mounted for a container which
	// does not exist in the parent yet.
	created   bool
	mountOpts vfs.AccessOption

	inSvc vfs.InputService

	// outSvc encodes the new container into outBuf through outW. Once closed,
	// outBuf becomes pending until it has been transferred to the parent.
	outSvc  vfs.OutputService
	outBuf  vfs.IOBuffer
	outW    io.WriteCloser
	pending vfs.IOBuffer
}

var (
	_ vfs.Controller        = (*targetController)(nil)
	_ archive.TouchListener = (*targetController)(nil)
)

func newTargetController(model *Model, driver vfs.Driver) *targetController {
	c := &targetController{driver: driver}
	c.archiveController = archiveController{model: model, mounter: c}
	return c
}

func (c *targetController) name() string { return c.model.mountPoint.EntryName() }

func (c *targetController) falsePositive(err error, persistent bool) error {
	return &vfs.FalsePositiveError{MountPoint: c.model.mountPoint.String(), Err: err, Persistent: persistent}
}

func (c *targetController) mount(ctx context.Context, opts vfs.AccessOption, autoCreate bool) error {
	parent, name := c.model.parent, c.name()

	pe, err := parent.Stat(ctx, opts, name)
	if err != nil {
		if errors.Is(err, vfs.ErrNeedsLockRetry) {
			return err
		}
		return c.falsePositive(err, false)
	}

	var fs *archive.FileSystem
	if pe == nil {
		if !autoCreate {
			return c.falsePositive(vfs.PathError("mount", name, vfs.ErrNoSuchFile), false)
		}
		if fs, err = archive.NewEmpty(c.driver, nil); err != nil {
			return err
		}
		c.created = true
	} else {
		if !pe.IsType(vfs.TypeFile) {
			return c.falsePositive(vfs.PathError("mount", name, vfs.ErrNotFile), true)
		}
		ch, err := parent.Input(0, name).Channel(ctx)
		if err != nil {
			if errors.Is(err, vfs.ErrNeedsLockRetry) {
				return err
			}
			return c.falsePositive(err, true)
		}
		is, err := c.driver.NewInputService(ctx, ch)
		if err != nil {
			return c.falsePositive(err, true)
		}

		readOnly := false
		if err := parent.CheckAccess(ctx, opts, name, vfs.AccessWrite); err != nil {
			if errors.Is(err, vfs.ErrNeedsLockRetry) {
				_ = is.Close()
				return err
			}
			readOnly = true
		}
		if fs, err = archive.New(c.driver, is, pe, readOnly); err != nil {
			_ = is.Close()
			return c.falsePositive(err, true)
		}
		c.inSvc = is
		c.created = false
	}

	log.Debug().
		Str("mount_point", c.model.mountPoint.String()).
		Int("entries", fs.Len()).
		Bool("read_only", fs.ReadOnly()).
		Msg("mounted")

	fs.SetTouchListener(c)
	c.mountOpts = opts
	c.setFileSystem(fs)
	return nil
}

// PreTouch verifies that the container can be written before the file system
// is modified for the first time.
func (c *targetController) PreTouch(g archive.Guard, opts vfs.AccessOption) error {
	if c.created {
		return nil
	}
	return c.model.parent.CheckAccess(g.Context(), opts, c.name(), vfs.AccessWrite)
}

func (c *targetController) checkSync(_ context.Context, opts vfs.AccessOption, name string, intention vfs.Access) error {
	fs := c.fs
	if fs == nil || !fs.Touched() {
		return nil
	}
	// The output service replaces redundant entries, so growing is always
	// supported.
	if opts.Has(vfs.Grow) && intention != vfs.AccessRead {
		return nil
	}
	ce := fs.Stat(name)
	if ce == nil || name == "" {
		return nil
	}
	if c.pending != nil {
		return vfs.NeedsSync(name)
	}
	if c.outSvc != nil {
		for _, ae := range ce.Variants() {
			if c.outSvc.Entry(ae.Name()) != nil {
				return vfs.NeedsSync(name)
			}
		}
	}
	if intention == vfs.AccessRead {
		ae := ce.Variant(vfs.TypeFile)
		if ae == nil || c.inSvc == nil || c.inSvc.Entry(ae.Name()) == nil {
			return vfs.NeedsSync(name)
		}
	}
	return nil
}

func (c *targetController) input(_ context.Context, name string) (vfs.InputSocket, error) {
	ae := c.fs.Stat(name).Variant(vfs.TypeFile)
	return c.inSvc.Input(ae.Name()), nil
}

// outputService returns the output service, creating it on first use.
func (c *targetController) outputService(ctx context.Context) (vfs.OutputService, error) {
	if c.outSvc != nil {
		return c.outSvc, nil
	}
	buf, err := c.driver.IOPool().Allocate()
	if err != nil {
		return nil, err
	}
	w, err := buf.Writer()
	if err != nil {
		_ = buf.Release()
		return nil, err
	}
	svc, err := c.driver.NewOutputService(ctx, w, c.inSvc)
	if err != nil {
		_ = w.Close()
		_ = buf.Release()
		return nil, err
	}
	c.outSvc, c.outBuf, c.outW = svc, buf, w
	return svc, nil
}

func (c *targetController) output(ctx context.Context, _ vfs.AccessOption, entry vfs.MutableEntry) (vfs.OutputSocket, error) {
	svc, err := c.outputService(ctx)
	if err != nil {
		return nil, err
	}
	return svc.Output(entry), nil
}

func (c *targetController) unlinkContainer(ctx context.Context, opts vfs.AccessOption) error {
	if c.created && c.pending == nil {
		return nil
	}
	return c.model.parent.Unlink(ctx, opts, c.name())
}

// Sync writes the changes to the parent, unless they are aborted, and
// resets the controller.
func (c *targetController) Sync(ctx context.Context, opts vfs.SyncOption) error {
	if c.fs == nil && c.pending == nil {
		return nil
	}

	var b vfs.SyncErrorBuilder
	if !opts.Has(vfs.AbortChanges) {
		if err := c.commit(ctx); err != nil {
			if errors.Is(err, vfs.ErrNeedsLockRetry) {
				return err
			}
			return b.Fail(vfs.NewSyncError(c.model.mountPoint, err))
		}
	}
	c.closeIO(&b)
	c.setFileSystem(nil)
	c.created = false
	return b.Check()
}

// commit encodes the container and transfers it to the parent. A container
// encoded before a lock retry is kept pending and only transferred again.
func (c *targetController) commit(ctx context.Context) error {
	if c.pending == nil {
		if c.fs == nil || !c.fs.Touched() {
			return nil
		}
		if err := c.copyEntries(ctx); err != nil {
			return err
		}
		if err := c.outSvc.Close(); err != nil {
			return err
		}
		if err := c.outW.Close(); err != nil {
			return err
		}
		c.pending = c.outBuf
		c.outSvc, c.outBuf, c.outW = nil, nil, nil
	}

	opts := vfs.Grow | c.mountOpts&vfs.CreateParents
	w, err := c.model.parent.Output(opts, c.name(), nil).Stream(ctx)
	if err != nil {
		return err
	}
	r, err := c.pending.Reader()
	if err != nil {
		_ = vfs.CloseContext(ctx, w)
		return err
	}
	_, err = io.Copy(w, r)
	_ = r.Close()
	if err != nil {
		_ = vfs.CloseContext(ctx, w)
		return err
	}
	if err := vfs.CloseContext(ctx, w); err != nil {
		return err
	}

	log.Debug().
		Str("mount_point", c.model.mountPoint.String()).
		Int64("size", c.pending.Size()).
		Msg("container written")

	err = c.pending.Release()
	c.pending = nil
	return err
}

// copyEntries outputs every entry which has not been output yet. The root
// and ghost directories are never output.
func (c *targetController) copyEntries(ctx context.Context) error {
	svc, err := c.outputService(ctx)
	if err != nil {
		return err
	}
	for ce := range c.fs.All() {
		if ce.Name() == "" {
			continue
		}
		for _, ae := range ce.Variants() {
			if ae.Type() == vfs.TypeDirectory && ae.Time(vfs.AccessWrite) == vfs.Unknown {
				continue
			}
			if svc.Entry(ae.Name()) == ae {
				continue
			}
			if err := c.copyEntry(ctx, svc, ae); err != nil {
				return err
			}
		}
	}
	return nil
}

func (c *targetController) copyEntry(ctx context.Context, svc vfs.OutputService, ae vfs.MutableEntry) error {
	out := svc.Output(ae)
	if ae.Type() == vfs.TypeFile && c.inSvc != nil && c.inSvc.Entry(ae.Name()) == ae {
		return vfs.Copy(ctx, c.inSvc.Input(ae.Name()), out)
	}
	w, err := out.Stream(ctx)
	if err != nil {
		return err
	}
	return vfs.CloseContext(ctx, w)
}

func (c *targetController) closeIO(b *vfs.SyncErrorBuilder) {
	if c.inSvc != nil {
		if err := c.inSvc.Close(); err != nil {
			b.Warn(vfs.NewSyncWarning(c.model.mountPoint, err))
		}
		c.inSvc = nil
	}
	if c.outSvc != nil {
		_ = c.outW.Close()
		_ = c.outBuf.Release()
		c.outSvc, c.outBuf, c.outW = nil, nil, nil
	}
	if c.pending != nil {
		_ = c.pending.Release()
		c.pending = nil
	}
}
