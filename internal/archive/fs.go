// Package archive implements the in-memory file system over the entries of
// one container.
//
// The file system is not safe for concurrent use. Every mutating method takes
// a Guard proving that the caller holds the write lock of the controller
// which owns the file system.
package archive

import (
	"cmp"
	"context"
	"errors"
	"iter"
	"maps"
	"slices"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/aweris/archivefs/vfs"
)

// Factory creates and validates archive entries.
type Factory interface {
	NewEntry(opts vfs.AccessOption, name string, typ vfs.Type, template vfs.Entry) (vfs.MutableEntry, error)
	CheckEncodable(name string) error
}

// Guard proves that the caller holds the write lock.
type Guard interface {
	Context() context.Context
	Locked() bool
}

// TouchListener is notified before the file system gets touched for the
// first time. Returning an error vetoes the mutation.
type TouchListener interface {
	PreTouch(g Guard, opts vfs.AccessOption) error
}

// FileSystem is a path indexed tree of covariant entries.
type FileSystem struct {
	factory  Factory
	master   map[string]*CovariantEntry
	seq      uint64
	touched  bool
	readOnly bool
	listener TouchListener
}

// NewEmpty returns a new, touched file system with a root directory only.
func NewEmpty(f Factory, rootTemplate vfs.Entry) (*FileSystem, error) {
	fs := &FileSystem{factory: f, master: make(map[string]*CovariantEntry), touched: true}
	root, err := f.NewEntry(0, "", vfs.TypeDirectory, rootTemplate)
	if err != nil {
		return nil, err
	}
	root.SetTime(vfs.AccessWrite, vfs.Now())
	fs.link("").put(vfs.TypeDirectory, root)
	return fs, nil
}

// New returns a file system populated from the entries of a container.
// Missing parent directories are added as ghost directories, i.e. with an
// Unknown write time.
func New(f Factory, c vfs.Container, rootTemplate vfs.Entry, readOnly bool) (*FileSystem, error) {
	fs := &FileSystem{factory: f, master: make(map[string]*CovariantEntry, c.Len()+1), readOnly: readOnly}
	for ae := range c.Entries() {
		name, ok := entryPath(ae.Name())
		if !ok {
			log.Debug().Str("entry", ae.Name()).Msg("skipping archive entry with illegal name")
			continue
		}
		if name == "" {
			continue
		}
		fs.link(name).put(ae.Type(), ae)
	}

	root, err := f.NewEntry(0, "", vfs.TypeDirectory, rootTemplate)
	if err != nil {
		return nil, err
	}
	fs.link("").put(vfs.TypeDirectory, root)

	for _, name := range slices.Sorted(maps.Keys(fs.master)) {
		if err := fs.fix(name); err != nil {
			return nil, err
		}
	}
	return fs, nil
}

func entryPath(name string) (string, bool) {
	if strings.HasPrefix(name, "/") {
		return "", false
	}
	clean := vfs.CleanName(name)
	if clean == ".." || strings.HasPrefix(clean, "../") {
		return "", false
	}
	return clean, true
}

// fix links name into its parent, creating a ghost parent if required.
func (fs *FileSystem) fix(name string) error {
	for name != "" {
		parent, base := vfs.SplitName(name)
		pce := fs.master[parent]
		if pce == nil {
			pce = fs.link(parent)
		}
		if !pce.IsType(vfs.TypeDirectory) {
			ghost, err := fs.factory.NewEntry(0, parent, vfs.TypeDirectory, nil)
			if err != nil {
				return err
			}
			ghost.SetTime(vfs.AccessWrite, vfs.Unknown)
			pce.put(vfs.TypeDirectory, ghost)
		}
		pce.addMember(base)
		name = parent
	}
	return nil
}

func (fs *FileSystem) link(name string) *CovariantEntry {
	ce := fs.master[name]
	if ce == nil {
		ce = newCovariantEntry(name)
		fs.seq++
		ce.seq = fs.seq
		fs.master[name] = ce
	}
	return ce
}

// SetTouchListener installs the listener notified before the first mutation.
func (fs *FileSystem) SetTouchListener(l TouchListener) { fs.listener = l }

// Touched reports whether the file system has been modified.
func (fs *FileSystem) Touched() bool { return fs.touched }

func (fs *FileSystem) ReadOnly() bool { return fs.readOnly }

// Len returns the number of covariant entries including the root.
func (fs *FileSystem) Len() int { return len(fs.master) }

// All iterates the live covariant entries in insertion order. The caller
// must hold the write lock and must not mutate the file system meanwhile.
func (fs *FileSystem) All() iter.Seq[*CovariantEntry] {
	entries := slices.SortedFunc(maps.Values(fs.master), func(a, b *CovariantEntry) int {
		return cmp.Compare(a.seq, b.seq)
	})
	return slices.Values(entries)
}

// Stat returns a copy of the named entry or nil.
func (fs *FileSystem) Stat(name string) *CovariantEntry {
	ce := fs.master[name]
	if ce == nil {
		return nil
	}
	return ce.clone()
}

func (fs *FileSystem) touch(g Guard, opts vfs.AccessOption) error {
	if fs.touched {
		return nil
	}
	if fs.listener != nil {
		if err := fs.listener.PreTouch(g, opts); err != nil {
			return err
		}
	}
	fs.touched = true
	return nil
}

func assertLocked(g Guard) {
	if g == nil || !g.Locked() {
		panic("archive: write lock not held")
	}
}

// CheckAccess fails if the entry does not exist or cannot be accessed in the
// given ways.
func (fs *FileSystem) CheckAccess(name string, types vfs.Access) error {
	if fs.master[name] == nil {
		return vfs.PathError("access", name, vfs.ErrNoSuchFile)
	}
	if fs.readOnly && types&^vfs.AccessRead != 0 {
		return vfs.PathError("access", name, vfs.ErrReadOnlyFileSystem)
	}
	return nil
}

// SetReadOnly is a no-op for a read-only file system. Entries of a writable
// file system cannot be made read-only.
func (fs *FileSystem) SetReadOnly(name string) error {
	if fs.master[name] == nil {
		return vfs.PathError("setreadonly", name, vfs.ErrNoSuchFile)
	}
	if fs.readOnly {
		return nil
	}
	return vfs.PathError("setreadonly", name, errors.ErrUnsupported)
}

// SetTime sets the same time for all access kinds in types.
func (fs *FileSystem) SetTime(g Guard, opts vfs.AccessOption, name string, types vfs.Access, value int64) (bool, error) {
	times := make(map[vfs.Access]int64)
	for _, a := range types.Kinds() {
		times[a] = value
	}
	return fs.SetTimes(g, opts, name, times)
}

// SetTimes sets the time per access kind and reports whether every kind was
// supported by the entry.
func (fs *FileSystem) SetTimes(g Guard, opts vfs.AccessOption, name string, times map[vfs.Access]int64) (bool, error) {
	assertLocked(g)
	if fs.readOnly {
		return false, vfs.PathError("settime", name, vfs.ErrReadOnlyFileSystem)
	}
	ce := fs.master[name]
	if ce == nil {
		return false, vfs.PathError("settime", name, vfs.ErrNoSuchFile)
	}
	for _, v := range times {
		if v < 0 {
			return false, vfs.PathError("settime", name, vfs.ErrInvalidArgument)
		}
	}
	if err := fs.touch(g, opts); err != nil {
		return false, err
	}

	ae := ce.Entry()
	ok := true
	for access, v := range times {
		for _, a := range access.Kinds() {
			ok = ae.SetTime(a, v) && ok
		}
	}
	return ok, nil
}

// Unlink removes the named entry. Unlinking the root only tests whether it
// could be removed, so that repeated top level cleanup succeeds.
func (fs *FileSystem) Unlink(g Guard, opts vfs.AccessOption, name string) error {
	assertLocked(g)
	if fs.readOnly {
		return vfs.PathError("unlink", name, vfs.ErrReadOnlyFileSystem)
	}
	ce := fs.master[name]
	if ce == nil {
		return vfs.PathError("unlink", name, vfs.ErrNoSuchFile)
	}
	if ce.IsType(vfs.TypeDirectory) && len(ce.members) > 0 {
		return vfs.PathError("unlink", name, vfs.ErrDirectoryNotEmpty)
	}
	if name == "" {
		return nil
	}
	if err := fs.touch(g, opts); err != nil {
		return err
	}

	delete(fs.master, name)
	// Clearing the metadata tells drivers for formats with a central index
	// not to persist an entry which has already been output.
	for _, ae := range ce.Variants() {
		for _, s := range vfs.Sizes {
			ae.SetSize(s, vfs.Unknown)
		}
		for _, a := range vfs.AllAccess.Kinds() {
			ae.SetTime(a, vfs.Unknown)
		}
	}

	parent, base := vfs.SplitName(name)
	pce := fs.master[parent]
	pce.removeMember(base)
	if pae := pce.Variant(vfs.TypeDirectory); pae.Time(vfs.AccessWrite) != vfs.Unknown {
		pae.SetTime(vfs.AccessWrite, vfs.Now())
	}
	return nil
}
