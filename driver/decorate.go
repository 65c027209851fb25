package driver

import (
	"context"
	"fmt"
	"io"

	"github.com/aweris/archivefs/vfs"
)

// decorator checks the access options of every operation: unavailable or
// illegal options fail, options the format ignores are cleared.
type decorator struct {
	vfs.Controller
	zip bool
}

func (c *decorator) options(opts vfs.AccessOption) (vfs.AccessOption, error) {
	if opts.Has(vfs.Encrypt) {
		return 0, fmt.Errorf("%s: %w", vfs.Encrypt, ErrUnavailable)
	}
	if opts.Has(vfs.Store | vfs.Compress) {
		return 0, fmt.Errorf("%s: %w", vfs.Store|vfs.Compress, ErrIllegal)
	}
	if !c.zip {
		opts = opts.Clear(vfs.Store | vfs.Compress)
	}
	return opts, nil
}

func (c *decorator) Stat(ctx context.Context, opts vfs.AccessOption, name string) (vfs.Node, error) {
	opts, err := c.options(opts)
	if err != nil {
		return nil, err
	}
	return c.Controller.Stat(ctx, opts, name)
}

func (c *decorator) CheckAccess(ctx context.Context, opts vfs.AccessOption, name string, types vfs.Access) error {
	opts, err := c.options(opts)
	if err != nil {
		return err
	}
	return c.Controller.CheckAccess(ctx, opts, name, types)
}

func (c *decorator) SetTimes(ctx context.Context, opts vfs.AccessOption, name string, times map[vfs.Access]int64) (bool, error) {
	opts, err := c.options(opts)
	if err != nil {
		return false, err
	}
	return c.Controller.SetTimes(ctx, opts, name, times)
}

func (c *decorator) SetTime(ctx context.Context, opts vfs.AccessOption, name string, types vfs.Access, value int64) (bool, error) {
	opts, err := c.options(opts)
	if err != nil {
		return false, err
	}
	return c.Controller.SetTime(ctx, opts, name, types, value)
}

func (c *decorator) Input(opts vfs.AccessOption, name string) vfs.InputSocket {
	opts, err := c.options(opts)
	if err != nil {
		return failedInput{err}
	}
	return c.Controller.Input(opts, name)
}

func (c *decorator) Output(opts vfs.AccessOption, name string, template vfs.Entry) vfs.OutputSocket {
	opts, err := c.options(opts)
	if err != nil {
		return failedOutput{err}
	}
	return c.Controller.Output(opts, name, template)
}

func (c *decorator) Make(ctx context.Context, opts vfs.AccessOption, name string, typ vfs.Type, template vfs.Entry) error {
	opts, err := c.options(opts)
	if err != nil {
		return err
	}
	return c.Controller.Make(ctx, opts, name, typ, template)
}

func (c *decorator) Unlink(ctx context.Context, opts vfs.AccessOption, name string) error {
	opts, err := c.options(opts)
	if err != nil {
		return err
	}
	return c.Controller.Unlink(ctx, opts, name)
}

type failedInput struct{ err error }

func (s failedInput) Target(context.Context) (vfs.Entry, error)        { return nil, s.err }
func (s failedInput) Stream(context.Context) (io.ReadCloser, error)    { return nil, s.err }
func (s failedInput) Channel(context.Context) (vfs.ReadChannel, error) { return nil, s.err }

type failedOutput struct{ err error }

func (s failedOutput) Target(context.Context) (vfs.Entry, error)      { return nil, s.err }
func (s failedOutput) Stream(context.Context) (io.WriteCloser, error) { return nil, s.err }
