package archive

import (
	"maps"
	"slices"

	"github.com/aweris/archivefs/vfs"
)

// CovariantEntry is the file system view of the archive entries which share
// one path but differ in type, e.g. "foo" and "foo/". The entry of the most
// recently added type is its key.
type CovariantEntry struct {
	name    string
	entries [len(vfs.Types)]vfs.MutableEntry
	key     vfs.Type
	members map[string]struct{}
	seq     uint64
}

var _ vfs.Node = (*CovariantEntry)(nil)

func newCovariantEntry(name string) *CovariantEntry {
	return &CovariantEntry{name: name}
}

// Name returns the normalized path of the entry.
func (e *CovariantEntry) Name() string { return e.name }

// Type returns the type of the key entry.
func (e *CovariantEntry) Type() vfs.Type { return e.key }

func (e *CovariantEntry) Size(s vfs.Size) int64 { return e.Entry().Size(s) }

func (e *CovariantEntry) Time(a vfs.Access) int64 { return e.Entry().Time(a) }

func (e *CovariantEntry) IsType(t vfs.Type) bool {
	return int(t) < len(e.entries) && e.entries[t] != nil
}

// Entry returns the key entry.
func (e *CovariantEntry) Entry() vfs.MutableEntry { return e.entries[e.key] }

// Variant returns the entry of the given type or nil.
func (e *CovariantEntry) Variant(t vfs.Type) vfs.MutableEntry {
	if !e.IsType(t) {
		return nil
	}
	return e.entries[t]
}

// Variants returns all entries in type order.
func (e *CovariantEntry) Variants() []vfs.MutableEntry {
	var out []vfs.MutableEntry
	for _, ae := range e.entries {
		if ae != nil {
			out = append(out, ae)
		}
	}
	return out
}

func (e *CovariantEntry) Members() []string {
	if !e.IsType(vfs.TypeDirectory) {
		return nil
	}
	return slices.Sorted(maps.Keys(e.members))
}

func (e *CovariantEntry) put(t vfs.Type, ae vfs.MutableEntry) {
	e.entries[t] = ae
	e.key = t
	if t == vfs.TypeDirectory && e.members == nil {
		e.members = make(map[string]struct{})
	}
}

func (e *CovariantEntry) addMember(member string) bool {
	if _, ok := e.members[member]; ok {
		return false
	}
	e.members[member] = struct{}{}
	return true
}

func (e *CovariantEntry) removeMember(member string) bool {
	if _, ok := e.members[member]; !ok {
		return false
	}
	delete(e.members, member)
	return true
}

func (e *CovariantEntry) clone() *CovariantEntry {
	c := &CovariantEntry{name: e.name, key: e.key, seq: e.seq}
	for i, ae := range e.entries {
		if ae != nil {
			c.entries[i] = ae.Clone()
		}
	}
	if e.members != nil {
		c.members = maps.Clone(e.members)
	}
	return c
}
