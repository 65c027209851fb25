package controller

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/aweris/archivefs/internal/resource"
	"github.com/aweris/archivefs/vfs"
)

// waitTimeout bounds the wait for other owners when a sync does not ask to
// wait for streams to be closed.
const waitTimeout = 50 * time.Millisecond

// resourceController accounts every stream opened on the mount point, so that
// a sync can wait for them or close them.
type resourceController struct {
	vfs.Controller
	accountant *resource.Accountant
}

func newResourceController(c vfs.Controller, accountant *resource.Accountant) *resourceController {
	return &resourceController{Controller: c, accountant: accountant}
}

func direct(ctx context.Context, op func(context.Context) error) error { return op(ctx) }

// account registers the stream opened with ctx and returns its close
// operation.
func (c *resourceController) account(ctx context.Context) func(inner io.Closer) closeFunc {
	return func(inner io.Closer) closeFunc {
		r := &accounted{accountant: c.accountant, inner: inner}
		c.accountant.Start(ctx, r)
		return r.CloseContext
	}
}

type accounted struct {
	accountant *resource.Accountant
	inner      io.Closer
}

func (r *accounted) Close() error { return r.CloseContext(context.Background()) }

func (r *accounted) CloseContext(ctx context.Context) error {
	err := vfs.CloseContext(ctx, r.inner)
	if !errors.Is(err, vfs.ErrNeedsLockRetry) {
		r.accountant.Stop(r)
	}
	return err
}

func (c *resourceController) Input(opts vfs.AccessOption, name string) vfs.InputSocket {
	in := c.Controller.Input(opts, name)
	return inputFuncs{
		target: in.Target,
		stream: func(ctx context.Context) (io.ReadCloser, error) {
			return decorateInput(in, direct, c.account(ctx)).Stream(ctx)
		},
		channel: func(ctx context.Context) (vfs.ReadChannel, error) {
			return decorateInput(in, direct, c.account(ctx)).Channel(ctx)
		},
	}
}

func (c *resourceController) Output(opts vfs.AccessOption, name string, template vfs.Entry) vfs.OutputSocket {
	out := c.Controller.Output(opts, name, template)
	return outputFuncs{
		target: out.Target,
		stream: func(ctx context.Context) (io.WriteCloser, error) {
			return decorateOutput(out, direct, c.account(ctx)).Stream(ctx)
		},
	}
}

// Sync waits for or closes all streams before it delegates.
func (c *resourceController) Sync(ctx context.Context, opts vfs.SyncOption) error {
	var b vfs.SyncErrorBuilder
	if err := settle(ctx, c.MountPoint(), c.accountant, opts, &b); err != nil {
		return err
	}
	if err := c.Controller.Sync(ctx, opts); err != nil {
		if vfs.IsControlFlow(err) {
			return err
		}
		b.Warn(err)
	}
	return b.Check()
}

// settle waits until the streams accounted by a are closed. Streams still
// open are closed if opts forces it or aborts the changes; otherwise the
// aggregate failure is returned. A forced close is recorded as a warning.
func settle(ctx context.Context, mp vfs.MountPoint, a *resource.Accountant, opts vfs.SyncOption, b *vfs.SyncErrorBuilder) error {
	if !opts.Has(vfs.AbortChanges) {
		if err := waitIdle(ctx, a, opts); err != nil {
			if !opts.Has(vfs.ForceCloseIO) {
				return b.Fail(vfs.NewSyncError(mp, err))
			}
			b.Warn(vfs.NewSyncWarning(mp, err))
		}
	}
	return a.CloseAllResources(ctx, func(err error) {
		b.Warn(vfs.NewSyncWarning(mp, err))
	})
}

func waitIdle(ctx context.Context, a *resource.Accountant, opts vfs.SyncOption) error {
	timeout := waitTimeout
	if opts.Has(vfs.WaitCloseIO) {
		timeout = 0
	}
	local := a.LocalResources(ctx)
	total := a.WaitOtherThreads(ctx, timeout)
	if total != 0 {
		return &vfs.OpenResourceError{Local: local, Total: total}
	}
	return nil
}
