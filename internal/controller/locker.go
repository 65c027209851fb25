package controller

import (
	"context"
	"errors"
	"io"
	"math/rand/v2"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/aweris/archivefs/vfs"
)

const maxRetryPause = 100 * time.Millisecond

// lockController serializes all operations on a mount point.
type lockController struct {
	vfs.Controller
	lock *Lock
}

func newLockController(c vfs.Controller, lock *Lock) *lockController {
	return &lockController{Controller: c, lock: lock}
}

// locked runs op while holding the lock. A call chain which already holds
// another lock only tries to acquire it and signals vfs.ErrNeedsLockRetry on
// contention, which the outermost locked call handles by backing off for a
// random pause and retrying.
func (c *lockController) locked(ctx context.Context, op func(context.Context) error) error {
	ctx, t := withToken(ctx)
	if t.held.Load() > 0 {
		if !c.lock.TryLock(ctx) {
			return vfs.ErrNeedsLockRetry
		}
		defer c.lock.Unlock(ctx)
		return op(ctx)
	}

	for {
		if err := c.lock.Lock(ctx); err != nil {
			return err
		}
		err := op(ctx)
		c.lock.Unlock(ctx)
		if !errors.Is(err, vfs.ErrNeedsLockRetry) {
			return err
		}

		log.Trace().Str("mount_point", c.MountPoint().String()).Msg("lock contention, retrying")
		pause := time.Duration(rand.N(int64(maxRetryPause))) + time.Millisecond
		select {
		case <-time.After(pause):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (c *lockController) closeLocked(inner io.Closer) closeFunc {
	return func(ctx context.Context) error {
		return c.locked(ctx, func(ctx context.Context) error {
			return vfs.CloseContext(ctx, inner)
		})
	}
}

func (c *lockController) Stat(ctx context.Context, opts vfs.AccessOption, name string) (n vfs.Node, err error) {
	err = c.locked(ctx, func(ctx context.Context) error {
		n, err = c.Controller.Stat(ctx, opts, name)
		return err
	})
	return n, err
}

func (c *lockController) CheckAccess(ctx context.Context, opts vfs.AccessOption, name string, types vfs.Access) error {
	return c.locked(ctx, func(ctx context.Context) error {
		return c.Controller.CheckAccess(ctx, opts, name, types)
	})
}

func (c *lockController) SetReadOnly(ctx context.Context, name string) error {
	return c.locked(ctx, func(ctx context.Context) error {
		return c.Controller.SetReadOnly(ctx, name)
	})
}

func (c *lockController) SetTimes(ctx context.Context, opts vfs.AccessOption, name string, times map[vfs.Access]int64) (ok bool, err error) {
	err = c.locked(ctx, func(ctx context.Context) error {
		ok, err = c.Controller.SetTimes(ctx, opts, name, times)
		return err
	})
	return ok, err
}

func (c *lockController) SetTime(ctx context.Context, opts vfs.AccessOption, name string, types vfs.Access, value int64) (ok bool, err error) {
	err = c.locked(ctx, func(ctx context.Context) error {
		ok, err = c.Controller.SetTime(ctx, opts, name, types, value)
		return err
	})
	return ok, err
}

func (c *lockController) Input(opts vfs.AccessOption, name string) vfs.InputSocket {
	return decorateInput(c.Controller.Input(opts, name), c.locked, c.closeLocked)
}

func (c *lockController) Output(opts vfs.AccessOption, name string, template vfs.Entry) vfs.OutputSocket {
	return decorateOutput(c.Controller.Output(opts, name, template), c.locked, c.closeLocked)
}

func (c *lockController) Make(ctx context.Context, opts vfs.AccessOption, name string, typ vfs.Type, template vfs.Entry) error {
	return c.locked(ctx, func(ctx context.Context) error {
		return c.Controller.Make(ctx, opts, name, typ, template)
	})
}

func (c *lockController) Unlink(ctx context.Context, opts vfs.AccessOption, name string) error {
	return c.locked(ctx, func(ctx context.Context) error {
		return c.Controller.Unlink(ctx, opts, name)
	})
}

func (c *lockController) Sync(ctx context.Context, opts vfs.SyncOption) error {
	return c.locked(ctx, func(ctx context.Context) error {
		return c.Controller.Sync(ctx, opts)
	})
}
