package controller

import (
	"context"
	"io"
	"runtime"
	"sync/atomic"

	"github.com/rs/zerolog/log"

	"github.com/aweris/archivefs/vfs"
)

// finalizeController closes streams which are garbage collected without
// having been closed.
type finalizeController struct {
	vfs.Controller
}

func newFinalizeController(c vfs.Controller) *finalizeController {
	return &finalizeController{Controller: c}
}

type finalizeState struct {
	inner      io.Closer
	mountPoint string
	closed     atomic.Bool
}

func (s *finalizeState) close(ctx context.Context) error {
	err := vfs.CloseContext(ctx, s.inner)
	if err == nil {
		s.closed.Store(true)
	}
	return err
}

func finalizeLeaked(s *finalizeState) {
	if s.closed.Load() {
		return
	}
	log.Warn().Str("mount_point", s.mountPoint).Msg("closing stream which has not been closed")
	if err := s.close(context.Background()); err != nil {
		log.Warn().Err(err).Str("mount_point", s.mountPoint).Msg("failed to close leaked stream")
	}
}

func (c *finalizeController) track(inner io.Closer) *finalizeState {
	return &finalizeState{inner: inner, mountPoint: c.MountPoint().String()}
}

func (c *finalizeController) Input(opts vfs.AccessOption, name string) vfs.InputSocket {
	in := c.Controller.Input(opts, name)
	return inputFuncs{
		target: in.Target,
		stream: func(ctx context.Context) (io.ReadCloser, error) {
			r, err := in.Stream(ctx)
			if err != nil {
				return nil, err
			}
			s := c.track(r)
			w := &readCloser{Reader: r, close: s.close}
			runtime.AddCleanup(w, finalizeLeaked, s)
			return w, nil
		},
		channel: func(ctx context.Context) (vfs.ReadChannel, error) {
			ch, err := in.Channel(ctx)
			if err != nil {
				return nil, err
			}
			s := c.track(ch)
			w := &readChannel{ReadChannel: ch, close: s.close}
			runtime.AddCleanup(w, finalizeLeaked, s)
			return w, nil
		},
	}
}

func (c *finalizeController) Output(opts vfs.AccessOption, name string, template vfs.Entry) vfs.OutputSocket {
	out := c.Controller.Output(opts, name, template)
	return outputFuncs{
		target: out.Target,
		stream: func(ctx context.Context) (io.WriteCloser, error) {
			wc, err := out.Stream(ctx)
			if err != nil {
				return nil, err
			}
			s := c.track(wc)
			w := &writeCloser{Writer: wc, close: s.close}
			runtime.AddCleanup(w, finalizeLeaked, s)
			return w, nil
		},
	}
}
