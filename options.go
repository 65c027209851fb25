package archivefs

import (
	"github.com/aweris/archivefs/driver"
	"github.com/aweris/archivefs/internal/controller"
	"github.com/aweris/archivefs/internal/iopool"
	"github.com/aweris/archivefs/vfs"
)

// CacheStrategy selects when cached output is written to its container.
type CacheStrategy = controller.Strategy

const (
	WriteBack    = controller.WriteBack
	WriteThrough = controller.WriteThrough
)

// ParseCacheStrategy parses "write-back" or "write-through".
func ParseCacheStrategy(s string) (CacheStrategy, error) {
	return controller.ParseStrategy(s)
}

const (
	DefaultSyncConcurrency   = 4
	DefaultRecentControllers = 32
)

// Options configures a Manager.
type Options struct {
	HostRoot          string
	IOPool            vfs.IOPool
	CacheStrategy     CacheStrategy
	SyncConcurrency   int
	RecentControllers int

	formats []driver.Format
	drivers []registration
}

// registration binds a driver to the suffixes of the container names it
// serves.
type registration struct {
	scheme   string
	suffixes []string
	driver   vfs.Driver
}

// Option is a functional option for configuring New.
type Option func(*Options)

func defaultOptions() *Options {
	return &Options{
		HostRoot:          "/",
		CacheStrategy:     WriteBack,
		SyncConcurrency:   DefaultSyncConcurrency,
		RecentControllers: DefaultRecentControllers,
		formats:           driver.Formats,
	}
}

// WithHostRoot sets the host directory of the hierarchical mount point which
// is the parent of all containers.
func WithHostRoot(dir string) Option {
	return func(o *Options) { o.HostRoot = dir }
}

// WithIOPool sets the pool of temporary buffers used by drivers and caches.
func WithIOPool(pool vfs.IOPool) Option {
	return func(o *Options) { o.IOPool = pool }
}

// WithFormats replaces the formats served by the reference drivers.
func WithFormats(formats ...driver.Format) Option {
	return func(o *Options) { o.formats = formats }
}

// WithDriver registers d for containers whose names end with one of the
// suffixes. It takes precedence over the reference drivers.
func WithDriver(scheme string, d vfs.Driver, suffixes ...string) Option {
	return func(o *Options) {
		o.drivers = append(o.drivers, registration{scheme: scheme, suffixes: suffixes, driver: d})
	}
}

// WithCacheStrategy sets the strategy of the entry caches.
func WithCacheStrategy(s CacheStrategy) Option {
	return func(o *Options) { o.CacheStrategy = s }
}

// WithSyncConcurrency sets the number of containers of the same nesting
// level which are synced in parallel.
func WithSyncConcurrency(n int) Option {
	return func(o *Options) {
		if n > 0 {
			o.SyncConcurrency = n
		}
	}
}

// WithRecentControllers sets how many recently used controllers are kept
// although their containers are not mounted.
func WithRecentControllers(n int) Option {
	return func(o *Options) {
		if n > 0 {
			o.RecentControllers = n
		}
	}
}

func (o *Options) ioPool() vfs.IOPool {
	if o.IOPool == nil {
		o.IOPool = iopool.NewMemory()
	}
	return o.IOPool
}
