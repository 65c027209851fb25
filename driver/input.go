package driver

import (
	"archive/tar"
	"context"
	"errors"
	"fmt"
	"io"
	"iter"

	"github.com/klauspost/compress/zip"
	"github.com/mholt/archiver/v3"

	"github.com/aweris/archivefs/vfs"
)

type inputEntry struct {
	entry   *Entry
	content vfs.IOBuffer
}

// inputService holds the decoded entries of a container. The content of
// every file is spooled into a pooled buffer while decoding, so the source is
// not needed afterwards.
type inputService struct {
	entries []*inputEntry
	index   map[string]*inputEntry
}

var _ vfs.InputService = (*inputService)(nil)

func (d *Driver) NewInputService(ctx context.Context, src vfs.ReadChannel) (vfs.InputService, error) {
	defer src.Close()

	var (
		r      interface{ Read() (archiver.File, error) }
		closer io.Closer
	)
	if d.format.zip {
		z := archiver.NewZip()
		if err := z.Open(src, src.Size()); err != nil {
			return nil, fmt.Errorf("%s: %w", d.format.Scheme, err)
		}
		r, closer = z, z
	} else {
		var in io.Reader = src
		if d.format.codec != nil {
			dec, err := d.format.codec.NewReader(src)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", d.format.Scheme, err)
			}
			defer dec.Close()
			in = dec
		}
		t := archiver.NewTar()
		if err := t.Open(in, 0); err != nil {
			return nil, fmt.Errorf("%s: %w", d.format.Scheme, err)
		}
		r, closer = t, t
	}
	defer closer.Close()

	s := &inputService{index: make(map[string]*inputEntry)}
	for {
		if err := ctx.Err(); err != nil {
			_ = s.Close()
			return nil, err
		}
		f, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			_ = s.Close()
			return nil, fmt.Errorf("%s: %w", d.format.Scheme, err)
		}
		ie, err := d.decode(f)
		_ = f.Close()
		if err != nil {
			_ = s.Close()
			return nil, fmt.Errorf("%s: %w", d.format.Scheme, err)
		}
		if old := s.index[ie.entry.name]; old != nil && old.content != nil {
			_ = old.content.Release()
		}
		s.entries = append(s.entries, ie)
		s.index[ie.entry.name] = ie
	}
	return s, nil
}

func (d *Driver) decode(f archiver.File) (*inputEntry, error) {
	var e *Entry
	switch h := f.Header.(type) {
	case zip.FileHeader:
		typ := vfs.TypeFile
		if f.IsDir() {
			typ = vfs.TypeDirectory
		}
		e = newEntry(h.Name, typ, d.supportedTimes())
		e.mode = h.Mode()
		e.method = h.Method
		e.times[vfs.AccessWrite] = vfs.Millis(h.Modified)
		e.sizes[vfs.SizeData] = int64(h.UncompressedSize64)
		e.sizes[vfs.SizeStorage] = int64(h.CompressedSize64)
	case *tar.Header:
		typ := vfs.TypeSpecial
		switch h.Typeflag {
		case tar.TypeReg:
			typ = vfs.TypeFile
		case tar.TypeDir:
			typ = vfs.TypeDirectory
		}
		e = newEntry(h.Name, typ, d.supportedTimes())
		e.mode = h.FileInfo().Mode()
		e.link = h.Linkname
		e.times[vfs.AccessWrite] = vfs.Millis(h.ModTime)
		e.times[vfs.AccessRead] = vfs.Millis(h.AccessTime)
		e.sizes[vfs.SizeData] = h.Size
		e.sizes[vfs.SizeStorage] = h.Size
	default:
		return nil, fmt.Errorf("%s: unexpected header %T", f.Name(), f.Header)
	}

	ie := &inputEntry{entry: e}
	if e.typ != vfs.TypeFile {
		return ie, nil
	}
	buf, err := d.pool.Allocate()
	if err != nil {
		return nil, err
	}
	w, err := buf.Writer()
	if err != nil {
		_ = buf.Release()
		return nil, err
	}
	n, err := io.Copy(w, f)
	if cerr := w.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = buf.Release()
		return nil, fmt.Errorf("%s: %w", e.name, err)
	}
	e.sizes[vfs.SizeData] = n
	ie.content = buf
	return ie, nil
}

func (s *inputService) Len() int { return len(s.index) }

func (s *inputService) Entries() iter.Seq[vfs.MutableEntry] {
	return func(yield func(vfs.MutableEntry) bool) {
		for _, ie := range s.entries {
			if s.index[ie.entry.name] != ie {
				continue
			}
			if !yield(ie.entry) {
				return
			}
		}
	}
}

func (s *inputService) Entry(name string) vfs.MutableEntry {
	if ie := s.index[name]; ie != nil {
		return ie.entry
	}
	return nil
}

func (s *inputService) Input(name string) vfs.InputSocket {
	return inputSocket{s: s, name: name}
}

func (s *inputService) Close() error {
	var errs []error
	for _, ie := range s.index {
		if ie.content != nil {
			errs = append(errs, ie.content.Release())
		}
	}
	s.index = map[string]*inputEntry{}
	s.entries = nil
	return errors.Join(errs...)
}

type inputSocket struct {
	s    *inputService
	name string
}

func (in inputSocket) lookup() (*inputEntry, error) {
	ie := in.s.index[in.name]
	if ie == nil {
		return nil, vfs.PathError("open", in.name, vfs.ErrNoSuchFile)
	}
	if ie.entry.typ != vfs.TypeFile {
		return nil, vfs.PathError("open", in.name, vfs.ErrNotFile)
	}
	return ie, nil
}

func (in inputSocket) Target(context.Context) (vfs.Entry, error) {
	ie, err := in.lookup()
	if err != nil {
		return nil, err
	}
	return ie.entry, nil
}

func (in inputSocket) Stream(ctx context.Context) (io.ReadCloser, error) {
	return in.Channel(ctx)
}

func (in inputSocket) Channel(context.Context) (vfs.ReadChannel, error) {
	ie, err := in.lookup()
	if err != nil {
		return nil, err
	}
	return ie.content.Reader()
}
