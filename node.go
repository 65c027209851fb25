package archivefs

import (
	"io/fs"
	"path"
	"time"

	"github.com/aweris/archivefs/vfs"
)

// fileInfo describes a node. Sys returns the vfs.Node.
type fileInfo struct {
	name string
	node vfs.Node
}

var (
	_ fs.FileInfo = fileInfo{}
	_ fs.DirEntry = fileInfo{}
)

func newFileInfo(name string, n vfs.Node) fileInfo {
	base := path.Base(name)
	if name == "." || name == "" {
		base = "."
	}
	return fileInfo{name: base, node: n}
}

func (fi fileInfo) Name() string { return fi.name }

func (fi fileInfo) Size() int64 {
	if fi.IsDir() {
		return 0
	}
	return max(fi.node.Size(vfs.SizeData), 0)
}

// Mode combines the permissions of the entry with the type of the node. A
// container is a directory.
func (fi fileInfo) Mode() fs.FileMode {
	perm := fs.FileMode(0o644)
	if fi.IsDir() {
		perm = 0o755
	}
	var src any = fi.node
	if ke, ok := fi.node.(interface{ Entry() vfs.MutableEntry }); ok {
		src = ke.Entry()
	}
	if m, ok := src.(interface{ Mode() fs.FileMode }); ok {
		perm = m.Mode().Perm()
	}
	switch {
	case fi.IsDir():
		return fs.ModeDir | perm
	case fi.node.Type() == vfs.TypeSpecial:
		return fs.ModeIrregular | perm
	}
	return perm
}

func (fi fileInfo) ModTime() time.Time { return vfs.Time(fi.node.Time(vfs.AccessWrite)) }

func (fi fileInfo) IsDir() bool { return fi.node.IsType(vfs.TypeDirectory) }

func (fi fileInfo) Sys() any { return fi.node }

func (fi fileInfo) Type() fs.FileMode { return fi.Mode().Type() }

func (fi fileInfo) Info() (fs.FileInfo, error) { return fi, nil }
