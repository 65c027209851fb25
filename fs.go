package archivefs

import (
	"io"
	"io/fs"
	"time"
)

// FS is a file system over host paths which may traverse containers.
// Containers appear as directories.
type FS interface {
	fs.StatFS
	fs.ReadDirFS
	fs.ReadFileFS

	WriteFile(name string, data []byte) error
	Create(name string) (io.WriteCloser, error)
	Append(name string) (io.WriteCloser, error)
	Mkdir(name string) error
	MkdirAll(name string) error
	Remove(name string) error
	Chtimes(name string, atime, mtime time.Time) error

	Sync() error  // write all changes to the host
	Close() error // sync and unmount all containers
}

var _ FS = (*Workspace)(nil)
