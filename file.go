package archivefs

import (
	"io"
	"io/fs"

	"github.com/aweris/archivefs/vfs"
)

// file is an open regular file backed by a read channel.
type file struct {
	info fileInfo
	ch   vfs.ReadChannel
}

var (
	_ fs.File     = (*file)(nil)
	_ io.ReaderAt = (*file)(nil)
	_ io.Seeker   = (*file)(nil)
)

func (f *file) Read(p []byte) (int, error) { return f.ch.Read(p) }

func (f *file) ReadAt(p []byte, off int64) (int, error) { return f.ch.ReadAt(p, off) }

func (f *file) Seek(offset int64, whence int) (int64, error) { return f.ch.Seek(offset, whence) }

func (f *file) Stat() (fs.FileInfo, error) { return f.info, nil }

func (f *file) Close() error { return f.ch.Close() }

// dir is an open directory.
type dir struct {
	info    fileInfo
	entries []fs.DirEntry
	offset  int
}

var _ fs.ReadDirFile = (*dir)(nil)

func (d *dir) Read([]byte) (int, error) {
	return 0, &fs.PathError{Op: "read", Path: d.info.name, Err: ErrIsDirectory}
}

func (d *dir) Stat() (fs.FileInfo, error) { return d.info, nil }

func (d *dir) Close() error { return nil }

func (d *dir) ReadDir(n int) ([]fs.DirEntry, error) {
	rest := d.entries[d.offset:]
	if n <= 0 {
		d.offset = len(d.entries)
		return rest, nil
	}
	if len(rest) == 0 {
		return nil, io.EOF
	}
	n = min(n, len(rest))
	d.offset += n
	return rest[:n], nil
}
