package controller

import (
	"context"
	"io"

	"github.com/aweris/archivefs/vfs"
)

// inputFuncs adapts functions to vfs.InputSocket.
type inputFuncs struct {
	target  func(ctx context.Context) (vfs.Entry, error)
	stream  func(ctx context.Context) (io.ReadCloser, error)
	channel func(ctx context.Context) (vfs.ReadChannel, error)
}

func (s inputFuncs) Target(ctx context.Context) (vfs.Entry, error) { return s.target(ctx) }

func (s inputFuncs) Stream(ctx context.Context) (io.ReadCloser, error) { return s.stream(ctx) }

func (s inputFuncs) Channel(ctx context.Context) (vfs.ReadChannel, error) { return s.channel(ctx) }

// outputFuncs adapts functions to vfs.OutputSocket.
type outputFuncs struct {
	target func(ctx context.Context) (vfs.Entry, error)
	stream func(ctx context.Context) (io.WriteCloser, error)
}

func (s outputFuncs) Target(ctx context.Context) (vfs.Entry, error) { return s.target(ctx) }

func (s outputFuncs) Stream(ctx context.Context) (io.WriteCloser, error) { return s.stream(ctx) }

// closeFunc is the close operation of a decorated stream.
type closeFunc func(ctx context.Context) error

type readCloser struct {
	io.Reader
	close closeFunc
}

func (r *readCloser) Close() error { return r.close(context.Background()) }

func (r *readCloser) CloseContext(ctx context.Context) error { return r.close(ctx) }

type readChannel struct {
	vfs.ReadChannel
	close closeFunc
}

func (r *readChannel) Close() error { return r.close(context.Background()) }

func (r *readChannel) CloseContext(ctx context.Context) error { return r.close(ctx) }

type writeCloser struct {
	io.Writer
	close closeFunc
}

func (w *writeCloser) Close() error { return w.close(context.Background()) }

func (w *writeCloser) CloseContext(ctx context.Context) error { return w.close(ctx) }

// decorateInput wraps the sockets streams and channels with a new close
// operation built from the inner closer.
func decorateInput(in vfs.InputSocket, around func(ctx context.Context, op func(context.Context) error) error, onClose func(inner io.Closer) closeFunc) vfs.InputSocket {
	return inputFuncs{
		target: func(ctx context.Context) (e vfs.Entry, err error) {
			err = around(ctx, func(ctx context.Context) error {
				e, err = in.Target(ctx)
				return err
			})
			return e, err
		},
		stream: func(ctx context.Context) (rc io.ReadCloser, err error) {
			err = around(ctx, func(ctx context.Context) error {
				rc, err = in.Stream(ctx)
				return err
			})
			if err != nil || onClose == nil {
				return rc, err
			}
			return &readCloser{Reader: rc, close: onClose(rc)}, nil
		},
		channel: func(ctx context.Context) (ch vfs.ReadChannel, err error) {
			err = around(ctx, func(ctx context.Context) error {
				ch, err = in.Channel(ctx)
				return err
			})
			if err != nil || onClose == nil {
				return ch, err
			}
			return &readChannel{ReadChannel: ch, close: onClose(ch)}, nil
		},
	}
}

func decorateOutput(out vfs.OutputSocket, around func(ctx context.Context, op func(context.Context) error) error, onClose func(inner io.Closer) closeFunc) vfs.OutputSocket {
	return outputFuncs{
		target: func(ctx context.Context) (e vfs.Entry, err error) {
			err = around(ctx, func(ctx context.Context) error {
				e, err = out.Target(ctx)
				return err
			})
			return e, err
		},
		stream: func(ctx context.Context) (wc io.WriteCloser, err error) {
			err = around(ctx, func(ctx context.Context) error {
				wc, err = out.Stream(ctx)
				return err
			})
			if err != nil || onClose == nil {
				return wc, err
			}
			return &writeCloser{Writer: wc, close: onClose(wc)}, nil
		},
	}
}
