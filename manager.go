package archivefs

import (
	"cmp"
	"context"
	"fmt"
	"iter"
	"path/filepath"
	"runtime"
	"slices"
	"strings"
	"sync"
	"weak"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc/pool"

	"github.com/aweris/archivefs/driver"
	"github.com/aweris/archivefs/internal/controller"
	"github.com/aweris/archivefs/internal/store"
	"github.com/aweris/archivefs/vfs"
)

// Manager federates the file systems of all containers below a host
// directory. It keeps one controller pipeline per container mount point.
//
// Pipelines of mounted containers are referenced strongly. Others are kept
// weakly, plus a bounded number of recently used ones, so that they can be
// reclaimed once nobody uses them.
type Manager struct {
	opts     *Options
	host     *store.Host
	suffixes []registration

	mu     sync.Mutex
	weak   map[string]weak.Pointer[controller.Pipeline]
	strong map[string]*controller.Pipeline
	recent *lru.Cache[string, *controller.Pipeline]
	closed bool
}

// New returns a manager for the host root configured by opts.
func New(opts ...Option) (*Manager, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}

	root, err := filepath.Abs(o.HostRoot)
	if err != nil {
		return nil, fmt.Errorf("host root: %w", err)
	}
	mp, err := vfs.NewHierarchicalMountPoint("file", filepath.ToSlash(root))
	if err != nil {
		return nil, err
	}
	host, err := store.NewHost(mp)
	if err != nil {
		return nil, err
	}
	recent, err := lru.New[string, *controller.Pipeline](o.RecentControllers)
	if err != nil {
		return nil, fmt.Errorf("recent controllers: %w", err)
	}

	m := &Manager{
		opts:   o,
		host:   host,
		weak:   make(map[string]weak.Pointer[controller.Pipeline]),
		strong: make(map[string]*controller.Pipeline),
		recent: recent,
	}
	m.suffixes = append(m.suffixes, o.drivers...)
	for _, f := range o.formats {
		m.suffixes = append(m.suffixes, registration{scheme: f.Scheme, suffixes: f.Suffixes, driver: driver.New(f, o.ioPool())})
	}
	return m, nil
}

// Host returns the controller of the host root.
func (m *Manager) Host() vfs.Controller { return m.host }

// detect returns the registration serving a container named base.
func (m *Manager) detect(base string) (registration, bool) {
	lower := strings.ToLower(base)
	for _, r := range m.suffixes {
		for _, s := range r.suffixes {
			if len(lower) > len(s) && strings.HasSuffix(lower, s) {
				return r, true
			}
		}
	}
	return registration{}, false
}

func (m *Manager) driverFor(scheme string) vfs.Driver {
	for _, r := range m.suffixes {
		if r.scheme == scheme {
			return r.driver
		}
	}
	return nil
}

// Resolve maps a host path to the controller of the innermost container on
// the path and the name of the entry in that container. Path segments with a
// known container suffix are containers, e.g. "/data/a.zip/b.tar/c.txt" is
// the entry "c.txt" of the TAR container "b.tar" in the ZIP container
// "/data/a.zip". Relative paths are relative to the host root.
func (m *Manager) Resolve(path string) (vfs.Controller, string, error) {
	root := m.host.MountPoint().Dir()
	p := filepath.ToSlash(path)
	if !filepath.IsAbs(path) {
		p = root + p
	}
	p = filepath.ToSlash(filepath.Clean(p))
	rel, ok := strings.CutPrefix(p+"/", root)
	if !ok {
		return nil, "", fmt.Errorf("%s: %w", path, ErrOutsideRoot)
	}

	var c vfs.Controller = m.host
	var segs []string
	for _, seg := range strings.Split(vfs.CleanName(rel), "/") {
		if seg == "" {
			continue
		}
		segs = append(segs, seg)
		r, ok := m.detect(seg)
		if !ok {
			continue
		}
		mp, err := vfs.NewMountPoint(r.scheme, c.MountPoint(), strings.Join(segs, "/"))
		if err != nil {
			return nil, "", err
		}
		if c, err = m.controller(mp, c); err != nil {
			return nil, "", err
		}
		segs = segs[:0]
	}
	return c, strings.Join(segs, "/"), nil
}

// Controller returns the controller of the mount point.
func (m *Manager) Controller(mp vfs.MountPoint) (vfs.Controller, error) {
	parent, ok := mp.Parent()
	if !ok {
		if mp.String() != m.host.MountPoint().String() {
			return nil, fmt.Errorf("%s: %w", mp, ErrOutsideRoot)
		}
		return m.host, nil
	}
	pc, err := m.Controller(parent)
	if err != nil {
		return nil, err
	}
	return m.controller(mp, pc)
}

func (m *Manager) controller(mp vfs.MountPoint, parent vfs.Controller) (vfs.Controller, error) {
	key := mp.String()

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	if p := m.lookup(key); p != nil {
		return p, nil
	}

	d := m.driverFor(mp.Scheme())
	if d == nil {
		return nil, fmt.Errorf("%s: no driver for scheme %q", mp, mp.Scheme())
	}
	var p *controller.Pipeline
	model := controller.NewModel(mp, parent, func(mounted bool) { m.mounted(key, p, mounted) })
	p = controller.New(model, controller.Config{Driver: d, Strategy: m.opts.CacheStrategy})

	wp := weak.Make(p)
	m.weak[key] = wp
	m.recent.Add(key, p)
	runtime.AddCleanup(p, m.reclaimed, reclaim{key: key, wp: wp})
	return p, nil
}

// lookup returns the live pipeline of key. m.mu must be held.
func (m *Manager) lookup(key string) *controller.Pipeline {
	if p := m.strong[key]; p != nil {
		return p
	}
	if p, ok := m.recent.Get(key); ok {
		return p
	}
	if wp, ok := m.weak[key]; ok {
		if p := wp.Value(); p != nil {
			m.recent.Add(key, p)
			return p
		}
	}
	return nil
}

// mounted is called by a pipeline whenever its container gets mounted or
// reset.
func (m *Manager) mounted(key string, p *controller.Pipeline, mounted bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if mounted {
		m.strong[key] = p
	} else {
		delete(m.strong, key)
	}
}

type reclaim struct {
	key string
	wp  weak.Pointer[controller.Pipeline]
}

func (m *Manager) reclaimed(r reclaim) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.weak[r.key] == r.wp {
		delete(m.weak, r.key)
	}
}

// Len returns the number of live controllers.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.live())
}

// live returns all live pipelines. m.mu must be held.
func (m *Manager) live() []*controller.Pipeline {
	var out []*controller.Pipeline
	for key, wp := range m.weak {
		if p := wp.Value(); p != nil {
			out = append(out, p)
		} else if p := m.strong[key]; p != nil {
			out = append(out, p)
		}
	}
	return out
}

// Sync syncs all containers. Nested containers are synced before their
// parents: deeper levels first, and the containers of one level in reverse
// hierarchical order by up to Options.SyncConcurrency goroutines. Failures
// are aggregated; a sync warning is returned only if nothing failed.
func (m *Manager) Sync(ctx context.Context, opts vfs.SyncOption) error {
	m.mu.Lock()
	pipelines := m.live()
	m.mu.Unlock()

	slices.SortFunc(pipelines, func(a, b *controller.Pipeline) int {
		am, bm := a.MountPoint(), b.MountPoint()
		if c := cmp.Compare(bm.Depth(), am.Depth()); c != 0 {
			return c
		}
		return cmp.Compare(bm.Hierarchical(), am.Hierarchical())
	})

	log.Debug().Int("controllers", len(pipelines)).Str("options", opts.String()).Msg("sync started")

	var (
		mu sync.Mutex
		b  vfs.SyncErrorBuilder
	)
	for level := range chunkByDepth(pipelines) {
		p := pool.New().WithMaxGoroutines(m.opts.SyncConcurrency)
		for _, c := range level {
			p.Go(func() {
				if err := c.Sync(ctx, opts); err != nil {
					mu.Lock()
					b.Warn(err)
					mu.Unlock()
				}
			})
		}
		p.Wait()
	}

	err := b.Check()
	log.Debug().Err(err).Msg("sync finished")
	if err != nil && vfs.IsSyncWarning(err) {
		log.Warn().Err(err).Msg("sync completed with warnings")
	}
	return err
}

func chunkByDepth(sorted []*controller.Pipeline) iter.Seq[[]*controller.Pipeline] {
	return func(yield func([]*controller.Pipeline) bool) {
		for start := 0; start < len(sorted); {
			depth := sorted[start].MountPoint().Depth()
			end := start + 1
			for end < len(sorted) && sorted[end].MountPoint().Depth() == depth {
				end++
			}
			if !yield(sorted[start:end]) {
				return
			}
			start = end
		}
	}
}

// Close unmounts all containers and rejects further lookups.
func (m *Manager) Close(ctx context.Context) error {
	err := m.Sync(ctx, vfs.SyncUmount)
	m.mu.Lock()
	m.closed = true
	m.recent.Purge()
	m.mu.Unlock()
	return err
}
