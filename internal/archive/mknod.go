package archive

import (
	"errors"

	"github.com/aweris/archivefs/vfs"
)

type segment struct {
	member string
	entry  *CovariantEntry
}

// Transaction is a planned insertion of an entry and its missing parent
// directories. Nothing is linked into the file system until Commit.
type Transaction struct {
	fs       *FileSystem
	g        Guard
	opts     vfs.AccessOption
	segments []segment
	done     bool
}

// Mknod plans the creation of the named entry. An existing file may be
// replaced by a file unless opts has vfs.Exclusive. Missing parents are only
// planned if opts has vfs.CreateParents.
func (fs *FileSystem) Mknod(g Guard, opts vfs.AccessOption, name string, typ vfs.Type, template vfs.Entry) (*Transaction, error) {
	assertLocked(g)
	if fs.readOnly {
		return nil, vfs.PathError("mknod", name, vfs.ErrReadOnlyFileSystem)
	}
	if name == "" {
		return nil, vfs.PathError("mknod", name, vfs.ErrFileExists)
	}
	if typ != vfs.TypeFile && typ != vfs.TypeDirectory {
		return nil, vfs.PathError("mknod", name, errors.New("only file and directory entries are supported"))
	}
	if old := fs.master[name]; old != nil {
		if typ == vfs.TypeDirectory || opts.Has(vfs.Exclusive) || old.IsType(vfs.TypeDirectory) {
			return nil, vfs.PathError("mknod", name, vfs.ErrFileExists)
		}
	}

	segments, err := fs.plan(opts, name, typ, template, opts.Has(vfs.CreateParents))
	if err != nil {
		return nil, err
	}
	return &Transaction{fs: fs, g: g, opts: opts, segments: segments}, nil
}

func (fs *FileSystem) plan(opts vfs.AccessOption, name string, typ vfs.Type, template vfs.Entry, createParents bool) ([]segment, error) {
	parent, base := vfs.SplitName(name)

	ae, err := fs.newEntry(opts, name, typ, template)
	if err != nil {
		return nil, err
	}
	ce := newCovariantEntry(name)
	ce.put(typ, ae)
	leaf := segment{member: base, entry: ce}

	if pce := fs.master[parent]; pce != nil {
		if !pce.IsType(vfs.TypeDirectory) {
			return nil, vfs.PathError("mknod", name, vfs.ErrNotDirectory)
		}
		return []segment{{entry: pce}, leaf}, nil
	}
	if !createParents {
		return nil, vfs.PathError("mknod", name, vfs.ErrNoSuchFile)
	}
	segments, err := fs.plan(opts, parent, vfs.TypeDirectory, nil, true)
	if err != nil {
		return nil, err
	}
	return append(segments, leaf), nil
}

func (fs *FileSystem) newEntry(opts vfs.AccessOption, name string, typ vfs.Type, template vfs.Entry) (vfs.MutableEntry, error) {
	if err := fs.factory.CheckEncodable(name); err != nil {
		return nil, vfs.PathError("mknod", name, err)
	}
	return fs.factory.NewEntry(opts, name, typ, template)
}

// Target returns the planned leaf entry.
func (t *Transaction) Target() *CovariantEntry {
	return t.segments[len(t.segments)-1].entry
}

// Entry returns the archive entry to write.
func (t *Transaction) Entry() vfs.MutableEntry {
	return t.Target().Entry()
}

// Commit links the planned entries into the file system.
func (t *Transaction) Commit() error {
	assertLocked(t.g)
	if t.done {
		return errors.New("archive: transaction already committed")
	}
	fs := t.fs
	if err := fs.touch(t.g, t.opts); err != nil {
		return err
	}
	t.done = true

	now := vfs.Now()
	parent := fs.master[t.segments[0].entry.name]
	last := len(t.segments) - 1
	for i, s := range t.segments[1:] {
		planned := s.entry
		ae := planned.Entry()
		if i+1 < last {
			ae.SetTime(vfs.AccessWrite, now)
		}
		ce := fs.link(planned.name)
		ce.put(planned.key, ae)

		if parent.addMember(s.member) {
			if pae := parent.Variant(vfs.TypeDirectory); pae.Time(vfs.AccessWrite) != vfs.Unknown {
				pae.SetTime(vfs.AccessWrite, now)
			}
		}
		parent = ce
	}

	if ae := parent.Entry(); ae.Time(vfs.AccessWrite) == vfs.Unknown {
		ae.SetTime(vfs.AccessWrite, now)
	}
	return nil
}
