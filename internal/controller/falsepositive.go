package controller

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync/atomic"

	"github.com/rs/zerolog/log"

	"github.com/aweris/archivefs/vfs"
)

// falsePositiveController serves operations from the parent when the
// container is not a valid instance of its format. A persistent false
// positive is remembered until the next sync.
type falsePositiveController struct {
	vfs.Controller
	useParent atomic.Bool
}

func newFalsePositiveController(c vfs.Controller) *falsePositiveController {
	return &falsePositiveController{Controller: c}
}

// resolve returns the name of the entry in the parent.
func (c *falsePositiveController) resolve(name string) string {
	container := c.MountPoint().EntryName()
	if name == "" {
		return container
	}
	return vfs.JoinName(container, name)
}

// call runs child unless the mount point is known to be a false positive,
// and runs parent with the resolved name if it is one.
func (c *falsePositiveController) call(ctx context.Context, name string, child func(context.Context) error, parent func(context.Context, string) error) error {
	if !c.useParent.Load() {
		err := child(ctx)
		var fp *vfs.FalsePositiveError
		if !errors.As(err, &fp) {
			return c.escaped(ctx, err)
		}
		if fp.Persistent {
			c.useParent.Store(true)
		}
		log.Debug().
			Err(fp.Err).
			Str("mount_point", fp.MountPoint).
			Bool("persistent", fp.Persistent).
			Msg("false positive, using parent file system")
	}
	return c.escaped(ctx, parent(ctx, c.resolve(name)))
}

// escaped turns a control-flow signal which nobody handled into an internal
// error. Inside a nested call chain signals still belong to the outer
// pipeline.
func (c *falsePositiveController) escaped(ctx context.Context, err error) error {
	if err == nil || nested(ctx) || !vfs.IsControlFlow(err) {
		return err
	}
	return fmt.Errorf("%w: %s: unhandled signal: %v", vfs.ErrInternal, c.MountPoint(), err)
}

func (c *falsePositiveController) Stat(ctx context.Context, opts vfs.AccessOption, name string) (n vfs.Node, err error) {
	err = c.call(ctx, name, func(ctx context.Context) error {
		n, err = c.Controller.Stat(ctx, opts, name)
		return err
	}, func(ctx context.Context, pname string) error {
		n, err = c.Parent().Stat(ctx, opts, pname)
		return err
	})
	return n, err
}

func (c *falsePositiveController) CheckAccess(ctx context.Context, opts vfs.AccessOption, name string, types vfs.Access) error {
	return c.call(ctx, name, func(ctx context.Context) error {
		return c.Controller.CheckAccess(ctx, opts, name, types)
	}, func(ctx context.Context, pname string) error {
		return c.Parent().CheckAccess(ctx, opts, pname, types)
	})
}

func (c *falsePositiveController) SetReadOnly(ctx context.Context, name string) error {
	return c.call(ctx, name, func(ctx context.Context) error {
		return c.Controller.SetReadOnly(ctx, name)
	}, func(ctx context.Context, pname string) error {
		return c.Parent().SetReadOnly(ctx, pname)
	})
}

func (c *falsePositiveController) SetTimes(ctx context.Context, opts vfs.AccessOption, name string, times map[vfs.Access]int64) (ok bool, err error) {
	err = c.call(ctx, name, func(ctx context.Context) error {
		ok, err = c.Controller.SetTimes(ctx, opts, name, times)
		return err
	}, func(ctx context.Context, pname string) error {
		ok, err = c.Parent().SetTimes(ctx, opts, pname, times)
		return err
	})
	return ok, err
}

func (c *falsePositiveController) SetTime(ctx context.Context, opts vfs.AccessOption, name string, types vfs.Access, value int64) (ok bool, err error) {
	err = c.call(ctx, name, func(ctx context.Context) error {
		ok, err = c.Controller.SetTime(ctx, opts, name, types, value)
		return err
	}, func(ctx context.Context, pname string) error {
		ok, err = c.Parent().SetTime(ctx, opts, pname, types, value)
		return err
	})
	return ok, err
}

func (c *falsePositiveController) Input(opts vfs.AccessOption, name string) vfs.InputSocket {
	child := c.Controller.Input(opts, name)
	parent := func(pname string) vfs.InputSocket { return c.Parent().Input(opts, pname) }
	return inputFuncs{
		target: func(ctx context.Context) (e vfs.Entry, err error) {
			err = c.call(ctx, name, func(ctx context.Context) error {
				e, err = child.Target(ctx)
				return err
			}, func(ctx context.Context, pname string) error {
				e, err = parent(pname).Target(ctx)
				return err
			})
			return e, err
		},
		stream: func(ctx context.Context) (r io.ReadCloser, err error) {
			err = c.call(ctx, name, func(ctx context.Context) error {
				r, err = child.Stream(ctx)
				return err
			}, func(ctx context.Context, pname string) error {
				r, err = parent(pname).Stream(ctx)
				return err
			})
			return r, err
		},
		channel: func(ctx context.Context) (ch vfs.ReadChannel, err error) {
			err = c.call(ctx, name, func(ctx context.Context) error {
				ch, err = child.Channel(ctx)
				return err
			}, func(ctx context.Context, pname string) error {
				ch, err = parent(pname).Channel(ctx)
				return err
			})
			return ch, err
		},
	}
}

func (c *falsePositiveController) Output(opts vfs.AccessOption, name string, template vfs.Entry) vfs.OutputSocket {
	child := c.Controller.Output(opts, name, template)
	parent := func(pname string) vfs.OutputSocket { return c.Parent().Output(opts, pname, template) }
	return outputFuncs{
		target: func(ctx context.Context) (e vfs.Entry, err error) {
			err = c.call(ctx, name, func(ctx context.Context) error {
				e, err = child.Target(ctx)
				return err
			}, func(ctx context.Context, pname string) error {
				e, err = parent(pname).Target(ctx)
				return err
			})
			return e, err
		},
		stream: func(ctx context.Context) (w io.WriteCloser, err error) {
			err = c.call(ctx, name, func(ctx context.Context) error {
				w, err = child.Stream(ctx)
				return err
			}, func(ctx context.Context, pname string) error {
				w, err = parent(pname).Stream(ctx)
				return err
			})
			return w, err
		},
	}
}

func (c *falsePositiveController) Make(ctx context.Context, opts vfs.AccessOption, name string, typ vfs.Type, template vfs.Entry) error {
	return c.call(ctx, name, func(ctx context.Context) error {
		return c.Controller.Make(ctx, opts, name, typ, template)
	}, func(ctx context.Context, pname string) error {
		return c.Parent().Make(ctx, opts, pname, typ, template)
	})
}

func (c *falsePositiveController) Unlink(ctx context.Context, opts vfs.AccessOption, name string) error {
	return c.call(ctx, name, func(ctx context.Context) error {
		return c.Controller.Unlink(ctx, opts, name)
	}, func(ctx context.Context, pname string) error {
		return c.Parent().Unlink(ctx, opts, pname)
	})
}

// Sync forgets a persistent false positive.
func (c *falsePositiveController) Sync(ctx context.Context, opts vfs.SyncOption) error {
	err := c.Controller.Sync(ctx, opts)
	c.useParent.Store(false)
	return c.escaped(ctx, err)
}
