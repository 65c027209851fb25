package controller

import (
	"context"
	"errors"
	"fmt"
	"io"
	"maps"
	"slices"

	"github.com/rs/zerolog/log"

	"github.com/aweris/archivefs/internal/resource"
	"github.com/aweris/archivefs/vfs"
)

// Strategy selects when cached output is written to the container.
type Strategy int

const (
	// WriteBack defers writing until the next sync.
	WriteBack Strategy = iota
	// WriteThrough writes when the output stream is closed.
	WriteThrough
)

func (s Strategy) String() string {
	switch s {
	case WriteBack:
		return "write-back"
	case WriteThrough:
		return "write-through"
	default:
		return fmt.Sprintf("Strategy(%d)", int(s))
	}
}

// ParseStrategy parses the string form of a strategy.
func ParseStrategy(s string) (Strategy, error) {
	switch s {
	case "write-back", "":
		return WriteBack, nil
	case "write-through":
		return WriteThrough, nil
	default:
		return 0, fmt.Errorf("unknown cache strategy %q", s)
	}
}

// maxSyncPasses bounds the passes of a sync while the delegate keeps asking
// for another one.
const maxSyncPasses = 8

var errSyncDiverges = errors.New("cache: container still needs sync after repeated passes")

// cacheController buffers the content of entries which are accessed with
// vfs.Cache in pooled buffers. Streams over the buffers are accounted like
// the streams of the resource stage.
type cacheController struct {
	vfs.Controller
	accountant *resource.Accountant
	pool       vfs.IOPool
	strategy   Strategy
	caches     map[string]*entryCache
}

func newCacheController(c vfs.Controller, accountant *resource.Accountant, pool vfs.IOPool, strategy Strategy) *cacheController {
	return &cacheController{
		Controller: c,
		accountant: accountant,
		pool:       pool,
		strategy:   strategy,
		caches:     make(map[string]*entryCache),
	}
}

// entry returns the cache of the named entry, creating it if opts asks for
// caching.
func (c *cacheController) entry(opts vfs.AccessOption, name string) *entryCache {
	e := c.caches[name]
	if e == nil && opts.Has(vfs.Cache) {
		e = &entryCache{c: c, name: name}
		c.caches[name] = e
	}
	return e
}

func (c *cacheController) drop(name string) error {
	e := c.caches[name]
	if e == nil {
		return nil
	}
	delete(c.caches, name)
	return e.release()
}

func (c *cacheController) Input(opts vfs.AccessOption, name string) vfs.InputSocket {
	return inputFuncs{
		target: func(ctx context.Context) (vfs.Entry, error) {
			if e := c.caches[name]; e == nil || e.current == nil {
				return c.Controller.Input(opts, name).Target(ctx)
			}
			n, err := c.Controller.Stat(ctx, opts, name)
			if err != nil {
				return nil, err
			}
			if n == nil {
				return nil, vfs.PathError("open", name, vfs.ErrNoSuchFile)
			}
			return n, nil
		},
		stream: func(ctx context.Context) (io.ReadCloser, error) {
			e := c.entry(opts, name)
			if e == nil {
				return c.Controller.Input(opts, name).Stream(ctx)
			}
			return e.reader(ctx, opts)
		},
		channel: func(ctx context.Context) (vfs.ReadChannel, error) {
			e := c.entry(opts, name)
			if e == nil {
				return c.Controller.Input(opts, name).Channel(ctx)
			}
			return e.reader(ctx, opts)
		},
	}
}

func (c *cacheController) Output(opts vfs.AccessOption, name string, template vfs.Entry) vfs.OutputSocket {
	return outputFuncs{
		target: func(ctx context.Context) (vfs.Entry, error) {
			return c.Controller.Output(opts.Clear(vfs.Cache), name, template).Target(ctx)
		},
		stream: func(ctx context.Context) (io.WriteCloser, error) {
			e := c.entry(opts, name)
			if e == nil {
				return c.Controller.Output(opts, name, template).Stream(ctx)
			}
			return e.writer(ctx, opts, template)
		},
	}
}

func (c *cacheController) Make(ctx context.Context, opts vfs.AccessOption, name string, typ vfs.Type, template vfs.Entry) error {
	if err := c.Controller.Make(ctx, opts, name, typ, template); err != nil {
		return err
	}
	return c.drop(name)
}

func (c *cacheController) Unlink(ctx context.Context, opts vfs.AccessOption, name string) error {
	if err := c.Controller.Unlink(ctx, opts, name); err != nil {
		return err
	}
	return c.drop(name)
}

// Sync flushes the cached entries, unless the changes are aborted, and
// releases them if the cache is cleared. Open streams are settled first, so
// that a writer closed by force is flushed as well. The pass repeats while
// the delegate asks for another sync.
func (c *cacheController) Sync(ctx context.Context, opts vfs.SyncOption) error {
	var b vfs.SyncErrorBuilder
	if err := settle(ctx, c.MountPoint(), c.accountant, opts, &b); err != nil {
		return err
	}
	for pass := 0; ; pass++ {
		if pass == maxSyncPasses {
			return b.Fail(vfs.NewSyncError(c.MountPoint(), errSyncDiverges))
		}
		if err := c.preSync(ctx, opts, &b); err != nil {
			return err
		}
		err := c.Controller.Sync(ctx, opts.Clear(vfs.ClearCache))
		if vfs.IsNeedsSync(err) {
			continue
		}
		if err != nil {
			if vfs.IsControlFlow(err) {
				return err
			}
			b.Warn(err)
		}
		return b.Check()
	}
}

func (c *cacheController) preSync(ctx context.Context, opts vfs.SyncOption, b *vfs.SyncErrorBuilder) error {
	flush := !opts.Has(vfs.AbortChanges)
	clear := !flush || opts.Has(vfs.ClearCache)
	for _, name := range slices.Sorted(maps.Keys(c.caches)) {
		e := c.caches[name]
		if flush {
			if err := e.flush(ctx); err != nil {
				if errors.Is(err, vfs.ErrNeedsLockRetry) {
					return err
				}
				b.Warn(vfs.NewSyncError(c.MountPoint(), err))
				continue
			}
		}
		if clear {
			if err := c.drop(name); err != nil {
				b.Warn(vfs.NewSyncWarning(c.MountPoint(), err))
			}
		}
	}
	return nil
}

// entryCache is the cache of one entry. Its current buffer holds the content
// to read; dirty is set while the content has not been flushed.
type entryCache struct {
	c        *cacheController
	name     string
	opts     vfs.AccessOption
	template vfs.Entry
	current  *buffer
	dirty    bool
}

func (e *entryCache) allocate() (*buffer, error) {
	buf, err := e.c.pool.Allocate()
	if err != nil {
		return nil, err
	}
	return &buffer{cache: e, io: buf}, nil
}

// load fills the current buffer from the delegate once.
func (e *entryCache) load(ctx context.Context, opts vfs.AccessOption) (*buffer, error) {
	if e.current != nil {
		return e.current, nil
	}
	b, err := e.allocate()
	if err != nil {
		return nil, err
	}
	if err := e.fill(ctx, b, opts); err != nil {
		_ = b.io.Release()
		return nil, err
	}
	e.current, e.dirty = b, false
	return b, nil
}

func (e *entryCache) fill(ctx context.Context, b *buffer, opts vfs.AccessOption) (err error) {
	w, err := b.io.Writer()
	if err != nil {
		return err
	}
	defer func() {
		if cerr := w.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	r, err := e.c.Controller.Input(opts.Clear(vfs.Cache), e.name).Stream(ctx)
	if err != nil {
		return err
	}
	defer r.Close()
	_, err = io.Copy(w, r)
	return err
}

func (e *entryCache) reader(ctx context.Context, opts vfs.AccessOption) (vfs.ReadChannel, error) {
	b, err := e.load(ctx, opts)
	if err != nil {
		return nil, err
	}
	ch, err := b.io.Reader()
	if err != nil {
		return nil, err
	}
	b.readers++

	closed := false
	r := &readChannel{ReadChannel: ch}
	r.close = func(context.Context) error {
		if closed {
			return nil
		}
		closed = true
		e.c.accountant.Stop(r)
		b.readers--
		_ = ch.Close()
		return b.releaseIfUnused()
	}
	e.c.accountant.Start(ctx, r)
	return r, nil
}

func (e *entryCache) writer(ctx context.Context, opts vfs.AccessOption, template vfs.Entry) (io.WriteCloser, error) {
	var prefix *buffer
	if opts.Has(vfs.Append) {
		b, err := e.load(ctx, opts)
		if err != nil && !errors.Is(err, vfs.ErrNoSuchFile) {
			return nil, err
		}
		prefix = b
	}

	if err := e.makeNode(ctx, opts, template); err != nil {
		return nil, err
	}

	b, err := e.allocate()
	if err != nil {
		return nil, err
	}
	w, err := b.io.Writer()
	if err != nil {
		_ = b.io.Release()
		return nil, err
	}
	if prefix != nil {
		if err := copyBuffer(w, prefix); err != nil {
			_ = w.Close()
			_ = b.io.Release()
			return nil, err
		}
	}
	b.writers = 1
	e.opts = opts.Clear(vfs.Cache | vfs.Append | vfs.Exclusive).Set(vfs.Grow)
	e.template = template

	closed := false
	wc := &writeCloser{Writer: w}
	wc.close = func(ctx context.Context) error {
		if !closed {
			closed = true
			e.c.accountant.Stop(wc)
			b.writers = 0
			if err := w.Close(); err != nil {
				_ = b.releaseIfUnused()
				return err
			}
			e.install(b)
		}
		if e.c.strategy == WriteThrough && e.current == b {
			return e.flush(ctx)
		}
		return nil
	}
	e.c.accountant.Start(ctx, wc)
	return wc, nil
}

func copyBuffer(w io.Writer, b *buffer) error {
	r, err := b.io.Reader()
	if err != nil {
		return err
	}
	defer r.Close()
	_, err = io.Copy(w, r)
	return err
}

// makeNode creates the file entry. An entry which has already been output
// is grown if possible, otherwise the container is synced first. A sync
// failing only because of streams held by the caller is deferred to the
// next sync.
func (e *entryCache) makeNode(ctx context.Context, opts vfs.AccessOption, template vfs.Entry) error {
	opts = opts.Clear(vfs.Cache | vfs.Append)
	synced := false
	for {
		err := e.c.Controller.Make(ctx, opts, e.name, vfs.TypeFile, template)
		if !vfs.IsNeedsSync(err) {
			return err
		}
		if !opts.Has(vfs.Grow) {
			opts = opts.Set(vfs.Grow)
			continue
		}
		if synced {
			return err
		}
		synced = true

		if err := e.c.Controller.Sync(ctx, vfs.SyncDefault); err != nil {
			var ore *vfs.OpenResourceError
			if errors.As(err, &ore) && ore.Local > 0 {
				log.Debug().
					Err(err).
					Str("mount_point", e.c.MountPoint().String()).
					Str("entry", e.name).
					Msg("deferring sync while streams are open")
				return nil
			}
			return err
		}
	}
}

func (e *entryCache) install(b *buffer) {
	old := e.current
	e.current, e.dirty = b, true
	if old != nil {
		_ = old.releaseIfUnused()
	}
}

// flush writes the current buffer to the delegate if it is dirty.
func (e *entryCache) flush(ctx context.Context) (err error) {
	b := e.current
	if b == nil || !e.dirty {
		return nil
	}
	w, err := e.c.Controller.Output(e.opts, e.name, e.template).Stream(ctx)
	if err != nil {
		return err
	}
	b.readers++
	defer func() {
		b.readers--
		if rerr := b.releaseIfUnused(); rerr != nil && err == nil {
			err = rerr
		}
	}()
	if err := copyBuffer(w, b); err != nil {
		_ = vfs.CloseContext(ctx, w)
		return err
	}
	if err := vfs.CloseContext(ctx, w); err != nil {
		return err
	}
	e.dirty = false
	return nil
}

// release drops the current buffer. It is returned to the pool once it is
// no longer read or written.
func (e *entryCache) release() error {
	b := e.current
	e.current, e.dirty = nil, false
	if b == nil {
		return nil
	}
	return b.releaseIfUnused()
}

// buffer is a pooled buffer with one writer at most and any number of
// readers.
type buffer struct {
	cache    *entryCache
	io       vfs.IOBuffer
	readers  int
	writers  int
	released bool
}

func (b *buffer) releaseIfUnused() error {
	if b.released || b.readers > 0 || b.writers > 0 || b.cache.current == b {
		return nil
	}
	b.released = true
	return b.io.Release()
}
