// Package driver provides drivers for ZIP and TAR containers, optionally
// compressed with zstd or lz4.
package driver

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/mholt/archiver/v3"

	"github.com/aweris/archivefs/internal/compression"
	"github.com/aweris/archivefs/vfs"
)

// Format is a container format.
type Format struct {
	// Scheme is the mount point scheme of the format.
	Scheme string
	// Suffixes are the file name suffixes which identify the format.
	Suffixes []string

	zip   bool
	codec compression.Codec
}

var (
	Zip     = Format{Scheme: "zip", Suffixes: []string{".zip", ".jar"}, zip: true}
	Tar     = Format{Scheme: "tar", Suffixes: []string{".tar"}}
	TarZstd = Format{Scheme: "tar.zst", Suffixes: []string{".tar.zst", ".tzst"}, codec: compression.NewZstd(0)}
	TarLZ4  = Format{Scheme: "tar.lz4", Suffixes: []string{".tar.lz4"}, codec: compression.NewLZ4()}
)

// Formats lists all supported formats.
var Formats = []Format{Zip, Tar, TarZstd, TarLZ4}

// WithZstdLevel returns the format with its zstd codec set to level.
func (f Format) WithZstdLevel(level int) Format {
	if _, ok := f.codec.(*compression.Zstd); ok {
		f.codec = compression.NewZstd(level)
	}
	return f
}

const maxZipNameLen = 0xffff

var (
	ErrUnavailable = errors.New("access option is not available")
	ErrIllegal     = errors.New("illegal combination of access options")
)

// Driver reads and writes containers of one format.
type Driver struct {
	format Format
	pool   vfs.IOPool
}

var _ vfs.Driver = (*Driver)(nil)

func New(format Format, pool vfs.IOPool) *Driver {
	return &Driver{format: format, pool: pool}
}

func (d *Driver) Format() Format { return d.format }

func (d *Driver) supportedTimes() vfs.Access {
	if d.format.zip {
		return vfs.AccessWrite
	}
	return vfs.AccessWrite | vfs.AccessRead
}

// NewEntry returns a new entry. Times and the mode are copied from template.
func (d *Driver) NewEntry(opts vfs.AccessOption, name string, typ vfs.Type, template vfs.Entry) (vfs.MutableEntry, error) {
	e := newEntry(name, typ, d.supportedTimes())
	if template != nil {
		for _, a := range e.supported.Kinds() {
			e.times[a] = template.Time(a)
		}
		if t, ok := template.(*Entry); ok {
			e.mode = t.mode.Perm() | e.mode.Type()
			e.link = t.link
		}
	}
	e.method = uint16(archiver.Deflate)
	if opts.Has(vfs.Store) || typ == vfs.TypeDirectory {
		e.method = uint16(archiver.Store)
	}
	return e, nil
}

// CheckEncodable fails for names which are not valid UTF-8, absolute or
// contain dot-dot segments, and for ZIP names longer than 65535 bytes.
func (d *Driver) CheckEncodable(name string) error {
	if !utf8.ValidString(name) {
		return fmt.Errorf("%q: not valid UTF-8", name)
	}
	if strings.HasPrefix(name, "/") {
		return fmt.Errorf("%q: absolute entry name", name)
	}
	for _, seg := range strings.Split(name, "/") {
		if seg == ".." {
			return fmt.Errorf("%q: entry name leaves the container", name)
		}
	}
	if d.format.zip && len(name) > maxZipNameLen {
		return fmt.Errorf("%q: entry name exceeds %d bytes", name[:32], maxZipNameLen)
	}
	return nil
}

func (d *Driver) IOPool() vfs.IOPool { return d.pool }

func (d *Driver) Decorate(c vfs.Controller) vfs.Controller {
	return &decorator{Controller: c, zip: d.format.zip}
}
