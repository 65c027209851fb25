package store

import (
	"io/fs"

	"golang.org/x/sys/unix"

	"github.com/aweris/archivefs/vfs"
)

// node is a host file system entry.
type node struct {
	name    string
	typ     vfs.Type
	size    int64
	mtime   int64
	atime   int64
	mode    fs.FileMode
	members []string
}

func newNode(name, path string, fi fs.FileInfo) *node {
	n := &node{
		name:  name,
		size:  fi.Size(),
		mtime: vfs.Millis(fi.ModTime()),
		atime: vfs.Unknown,
		mode:  fi.Mode(),
	}
	switch {
	case fi.Mode().IsRegular():
		n.typ = vfs.TypeFile
	case fi.IsDir():
		n.typ = vfs.TypeDirectory
	default:
		n.typ = vfs.TypeSpecial
	}
	var st unix.Stat_t
	if err := unix.Stat(path, &st); err == nil {
		n.atime = unix.TimespecToNsec(st.Atim) / 1e6
	}
	return n
}

func (n *node) Name() string   { return n.name }
func (n *node) Type() vfs.Type { return n.typ }

func (n *node) Size(s vfs.Size) int64 {
	if n.typ != vfs.TypeFile {
		return vfs.Unknown
	}
	return n.size
}

func (n *node) Time(a vfs.Access) int64 {
	switch a {
	case vfs.AccessWrite:
		return n.mtime
	case vfs.AccessRead:
		return n.atime
	}
	return vfs.Unknown
}

func (n *node) IsType(t vfs.Type) bool { return n.typ == t }

func (n *node) Members() []string { return n.members }

// Mode returns the host file mode.
func (n *node) Mode() fs.FileMode { return n.mode }
