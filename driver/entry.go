package driver

import (
	"io/fs"
	"strings"
	"time"

	"github.com/aweris/archivefs/vfs"
)

// Entry is an entry of a ZIP or TAR container.
type Entry struct {
	name      string
	typ       vfs.Type
	mode      fs.FileMode
	sizes     [len(vfs.Sizes)]int64
	times     map[vfs.Access]int64
	supported vfs.Access
	// method is the ZIP compression method.
	method uint16
	// link is the target of a TAR link.
	link string
}

var _ vfs.MutableEntry = (*Entry)(nil)

func newEntry(name string, typ vfs.Type, supported vfs.Access) *Entry {
	if typ == vfs.TypeDirectory && name != "" && !strings.HasSuffix(name, "/") {
		name += "/"
	}
	e := &Entry{
		name:      name,
		typ:       typ,
		supported: supported,
		times:     make(map[vfs.Access]int64),
	}
	switch typ {
	case vfs.TypeDirectory:
		e.mode = fs.ModeDir | 0o755
	default:
		e.mode = 0o644
	}
	for i := range e.sizes {
		e.sizes[i] = vfs.Unknown
	}
	for _, a := range supported.Kinds() {
		e.times[a] = vfs.Unknown
	}
	return e
}

// Name returns the encoded name. Directory names end with a slash.
func (e *Entry) Name() string { return e.name }

func (e *Entry) Type() vfs.Type { return e.typ }

func (e *Entry) Mode() fs.FileMode { return e.mode }

// Link returns the target of a TAR link entry.
func (e *Entry) Link() string { return e.link }

func (e *Entry) Size(s vfs.Size) int64 { return e.sizes[s] }

func (e *Entry) Time(a vfs.Access) int64 {
	if v, ok := e.times[a]; ok {
		return v
	}
	return vfs.Unknown
}

func (e *Entry) SetSize(s vfs.Size, value int64) bool {
	e.sizes[s] = value
	return true
}

func (e *Entry) SetTime(a vfs.Access, value int64) bool {
	if e.supported&a == 0 {
		return false
	}
	e.times[a] = value
	return true
}

func (e *Entry) Clone() vfs.MutableEntry {
	c := *e
	c.times = make(map[vfs.Access]int64, len(e.times))
	for a, v := range e.times {
		c.times[a] = v
	}
	return &c
}

// unlinked reports whether all metadata has been cleared.
func (e *Entry) unlinked() bool {
	for _, s := range e.sizes {
		if s != vfs.Unknown {
			return false
		}
	}
	for _, v := range e.times {
		if v != vfs.Unknown {
			return false
		}
	}
	return true
}

// fileInfo describes an entry to the archiver.
type fileInfo struct {
	e   *Entry
	sys any
}

func (fi fileInfo) Name() string       { return strings.TrimSuffix(fi.e.name, "/") }
func (fi fileInfo) Size() int64        { return max(fi.e.sizes[vfs.SizeData], 0) }
func (fi fileInfo) Mode() fs.FileMode  { return fi.e.mode }
func (fi fileInfo) ModTime() time.Time { return vfs.Time(fi.e.Time(vfs.AccessWrite)) }
func (fi fileInfo) IsDir() bool        { return fi.e.typ == vfs.TypeDirectory }
func (fi fileInfo) Sys() any           { return fi.sys }
