package driver

import (
	"archive/tar"
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"strings"

	"github.com/mholt/archiver/v3"
	"github.com/rs/zerolog/log"

	"github.com/aweris/archivefs/vfs"
)

type outputEntry struct {
	entry   *Entry
	content vfs.IOBuffer
}

// outputService collects the entries of a new container and encodes them
// into dst when it is closed. Entries may be replaced until then.
type outputService struct {
	d       *Driver
	dst     io.Writer
	entries []*outputEntry
	index   map[string]*outputEntry
	closed  bool
}

var _ vfs.OutputService = (*outputService)(nil)

func (d *Driver) NewOutputService(_ context.Context, dst io.Writer, _ vfs.InputService) (vfs.OutputService, error) {
	return &outputService{d: d, dst: dst, index: make(map[string]*outputEntry)}, nil
}

func (s *outputService) Len() int { return len(s.index) }

func (s *outputService) Entries() iter.Seq[vfs.MutableEntry] {
	return func(yield func(vfs.MutableEntry) bool) {
		for _, oe := range s.entries {
			if s.index[oe.entry.name] != oe {
				continue
			}
			if !yield(oe.entry) {
				return
			}
		}
	}
}

func (s *outputService) Entry(name string) vfs.MutableEntry {
	if oe := s.index[name]; oe != nil {
		return oe.entry
	}
	return nil
}

func (s *outputService) Output(entry vfs.MutableEntry) vfs.OutputSocket {
	return outputSocket{s: s, entry: entry}
}

// put registers the entry, replacing an entry of the same name.
func (s *outputService) put(oe *outputEntry) {
	if old := s.index[oe.entry.name]; old != nil && old.content != nil {
		_ = old.content.Release()
	}
	s.entries = append(s.entries, oe)
	s.index[oe.entry.name] = oe
}

func (s *outputService) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	defer s.release()

	if s.d.format.zip {
		return s.encodeZip()
	}
	return s.encodeTar()
}

func (s *outputService) release() {
	for _, oe := range s.index {
		if oe.content != nil {
			_ = oe.content.Release()
		}
	}
	s.index = map[string]*outputEntry{}
	s.entries = nil
}

// encodable returns the entries to encode in order. Unlinked entries are
// dropped and special entries are skipped with a warning.
func (s *outputService) encodable() []*outputEntry {
	var out []*outputEntry
	for _, oe := range s.entries {
		if s.index[oe.entry.name] != oe || oe.entry.unlinked() {
			continue
		}
		if oe.entry.typ == vfs.TypeSpecial {
			log.Warn().Str("entry", oe.entry.name).Str("format", s.d.format.Scheme).Msg("skipping special entry")
			continue
		}
		out = append(out, oe)
	}
	return out
}

func (s *outputService) encodeZip() error {
	z := archiver.NewZip()
	if err := z.Create(s.dst); err != nil {
		return err
	}
	for _, oe := range s.encodable() {
		z.FileMethod = archiver.ZipCompressionMethod(oe.entry.method)
		f, err := oe.file(nil)
		if err != nil {
			_ = z.Close()
			return err
		}
		err = z.Write(f)
		_ = f.Close()
		if err != nil {
			_ = z.Close()
			return fmt.Errorf("zip: %s: %w", oe.entry.name, err)
		}
	}
	return z.Close()
}

func (s *outputService) encodeTar() (err error) {
	dst := s.dst
	if codec := s.d.format.codec; codec != nil {
		enc, err := codec.NewWriter(s.dst)
		if err != nil {
			return err
		}
		defer func() {
			if cerr := enc.Close(); err == nil {
				err = cerr
			}
		}()
		dst = enc
	}

	t := archiver.NewTar()
	if err := t.Create(dst); err != nil {
		return err
	}
	for _, oe := range s.encodable() {
		e := oe.entry
		hdr := &tar.Header{
			Name:       e.name,
			AccessTime: vfs.Time(e.Time(vfs.AccessRead)),
		}
		f, err := oe.file(hdr)
		if err != nil {
			_ = t.Close()
			return err
		}
		err = t.Write(f)
		_ = f.Close()
		if err != nil {
			_ = t.Close()
			return fmt.Errorf("tar: %s: %w", e.name, err)
		}
	}
	return t.Close()
}

// file returns the archiver view of the entry.
func (oe *outputEntry) file(sys any) (archiver.File, error) {
	e := oe.entry
	var rc io.ReadCloser = io.NopCloser(strings.NewReader(""))
	if oe.content != nil && e.typ == vfs.TypeFile {
		r, err := oe.content.Reader()
		if err != nil {
			return archiver.File{}, err
		}
		rc = r
	}
	return archiver.File{
		FileInfo: archiver.FileInfo{
			FileInfo:   fileInfo{e: e, sys: sys},
			CustomName: fileInfo{e: e}.Name(),
		},
		ReadCloser: rc,
	}, nil
}

type outputSocket struct {
	s     *outputService
	entry vfs.MutableEntry
}

func (out outputSocket) Target(context.Context) (vfs.Entry, error) { return out.entry, nil }

func (out outputSocket) Stream(context.Context) (io.WriteCloser, error) {
	s := out.s
	if s.closed {
		return nil, errors.New("output service is closed")
	}
	e, ok := out.entry.(*Entry)
	if !ok {
		return nil, fmt.Errorf("%s: foreign entry %T", out.entry.Name(), out.entry)
	}
	oe := &outputEntry{entry: e}
	s.put(oe)
	if e.typ != vfs.TypeFile {
		return nopWriteCloser{}, nil
	}

	buf, err := s.d.pool.Allocate()
	if err != nil {
		return nil, err
	}
	w, err := buf.Writer()
	if err != nil {
		_ = buf.Release()
		return nil, err
	}
	oe.content = buf
	return &entryWriter{w: w, e: e}, nil
}

type nopWriteCloser struct{}

func (nopWriteCloser) Write(p []byte) (int, error) { return len(p), nil }
func (nopWriteCloser) Close() error                { return nil }

// entryWriter counts the content of an entry.
type entryWriter struct {
	w      io.WriteCloser
	e      *Entry
	n      int64
	closed bool
}

func (w *entryWriter) Write(p []byte) (int, error) {
	n, err := w.w.Write(p)
	w.n += int64(n)
	return n, err
}

func (w *entryWriter) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	w.e.sizes[vfs.SizeData] = w.n
	if w.e.Time(vfs.AccessWrite) == vfs.Unknown {
		w.e.times[vfs.AccessWrite] = vfs.Now()
	}
	return w.w.Close()
}
