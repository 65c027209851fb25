package controller

import (
	"context"
	"io"

	"github.com/rs/zerolog/log"

	"github.com/aweris/archivefs/vfs"
)

// syncController resolves vfs.NeedsSyncError by syncing the mount point and
// retrying the operation.
type syncController struct {
	vfs.Controller
}

func newSyncController(c vfs.Controller) *syncController {
	return &syncController{Controller: c}
}

// sync performs the implicit sync of a retry. A call chain which already
// holds the lock of a nested container must not wait for streams to be
// closed, since their owners may wait for that lock.
func (c *syncController) sync(ctx context.Context) error {
	opts := vfs.SyncDefault
	if nested(ctx) {
		opts = opts.Clear(vfs.WaitCloseIO)
	}
	err := c.Controller.Sync(ctx, opts)
	if err != nil && vfs.IsSyncWarning(err) {
		log.Warn().Err(err).Str("mount_point", c.MountPoint().String()).Msg("sync completed with warnings")
		return nil
	}
	return err
}

func (c *syncController) retry(ctx context.Context, op func(context.Context) error) error {
	for {
		err := op(ctx)
		if !vfs.IsNeedsSync(err) {
			return err
		}
		log.Trace().Err(err).Str("mount_point", c.MountPoint().String()).Msg("syncing before retry")
		if err := c.sync(ctx); err != nil {
			return err
		}
	}
}

func (c *syncController) closeRetried(inner io.Closer) closeFunc {
	return func(ctx context.Context) error {
		return c.retry(ctx, func(ctx context.Context) error {
			return vfs.CloseContext(ctx, inner)
		})
	}
}

func (c *syncController) Stat(ctx context.Context, opts vfs.AccessOption, name string) (n vfs.Node, err error) {
	err = c.retry(ctx, func(ctx context.Context) error {
		n, err = c.Controller.Stat(ctx, opts, name)
		return err
	})
	return n, err
}

func (c *syncController) CheckAccess(ctx context.Context, opts vfs.AccessOption, name string, types vfs.Access) error {
	return c.retry(ctx, func(ctx context.Context) error {
		return c.Controller.CheckAccess(ctx, opts, name, types)
	})
}

func (c *syncController) SetReadOnly(ctx context.Context, name string) error {
	return c.retry(ctx, func(ctx context.Context) error {
		return c.Controller.SetReadOnly(ctx, name)
	})
}

func (c *syncController) SetTimes(ctx context.Context, opts vfs.AccessOption, name string, times map[vfs.Access]int64) (ok bool, err error) {
	err = c.retry(ctx, func(ctx context.Context) error {
		ok, err = c.Controller.SetTimes(ctx, opts, name, times)
		return err
	})
	return ok, err
}

func (c *syncController) SetTime(ctx context.Context, opts vfs.AccessOption, name string, types vfs.Access, value int64) (ok bool, err error) {
	err = c.retry(ctx, func(ctx context.Context) error {
		ok, err = c.Controller.SetTime(ctx, opts, name, types, value)
		return err
	})
	return ok, err
}

func (c *syncController) Input(opts vfs.AccessOption, name string) vfs.InputSocket {
	return decorateInput(c.Controller.Input(opts, name), c.retry, c.closeRetried)
}

func (c *syncController) Output(opts vfs.AccessOption, name string, template vfs.Entry) vfs.OutputSocket {
	return decorateOutput(c.Controller.Output(opts, name, template), c.retry, c.closeRetried)
}

func (c *syncController) Make(ctx context.Context, opts vfs.AccessOption, name string, typ vfs.Type, template vfs.Entry) error {
	return c.retry(ctx, func(ctx context.Context) error {
		return c.Controller.Make(ctx, opts, name, typ, template)
	})
}

// Unlink resets the mount point after the root has been unlinked, so that
// the pipeline can be reclaimed.
func (c *syncController) Unlink(ctx context.Context, opts vfs.AccessOption, name string) error {
	err := c.retry(ctx, func(ctx context.Context) error {
		return c.Controller.Unlink(ctx, opts, name)
	})
	if err != nil || name != "" {
		return err
	}
	return c.Controller.Sync(ctx, vfs.SyncReset)
}
