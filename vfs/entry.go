package vfs

import (
	"fmt"
	"time"
)

// Unknown is the value of a size or time that is not known.
const Unknown int64 = -1

// Type is the type of an entry.
type Type uint8

const (
	TypeFile Type = iota
	TypeDirectory
	// TypeSpecial covers everything else a container may hold, such as
	// symbolic links or device nodes.
	TypeSpecial
)

// Types lists all entry types in their canonical order.
var Types = [...]Type{TypeFile, TypeDirectory, TypeSpecial}

func (t Type) String() string {
	switch t {
	case TypeFile:
		return "FILE"
	case TypeDirectory:
		return "DIRECTORY"
	case TypeSpecial:
		return "SPECIAL"
	default:
		return fmt.Sprintf("Type(%d)", uint8(t))
	}
}

// Size selects one of the sizes of an entry.
type Size uint8

const (
	// SizeData is the size of the decoded content.
	SizeData Size = iota
	// SizeStorage is the number of bytes the entry occupies in its container.
	SizeStorage
)

// Sizes lists all size kinds.
var Sizes = [...]Size{SizeData, SizeStorage}

// Access is a set of access kinds.
type Access uint8

const (
	AccessWrite Access = 1 << iota
	AccessRead
	AccessCreate
	AccessExecute
)

// AllAccess is the set of every access kind.
const AllAccess = AccessWrite | AccessRead | AccessCreate | AccessExecute

// Kinds returns the single access kinds contained in a.
func (a Access) Kinds() []Access {
	var kinds []Access
	for k := AccessWrite; k <= AccessExecute; k <<= 1 {
		if a&k != 0 {
			kinds = append(kinds, k)
		}
	}
	return kinds
}

func (a Access) String() string {
	names := map[Access]string{
		AccessWrite:   "WRITE",
		AccessRead:    "READ",
		AccessCreate:  "CREATE",
		AccessExecute: "EXECUTE",
	}
	s := ""
	for _, k := range a.Kinds() {
		if s != "" {
			s += "|"
		}
		s += names[k]
	}
	if s == "" {
		return "NONE"
	}
	return s
}

// Entry is a read-only view of an entry.
// Sizes are in bytes and times in milliseconds since the Unix epoch; both are
// Unknown when the entry does not carry them.
type Entry interface {
	Name() string
	Type() Type
	Size(s Size) int64
	Time(a Access) int64
}

// MutableEntry is an entry created by a driver. Identity (name and type) is
// immutable, metadata is not.
type MutableEntry interface {
	Entry

	// SetSize reports whether the size kind is supported by the entry.
	SetSize(s Size, value int64) bool

	// SetTime reports whether the access kind is supported by the entry.
	SetTime(a Access, value int64) bool

	// Clone returns an independent copy of the entry.
	Clone() MutableEntry
}

// Node is an entry as seen through a Controller.
type Node interface {
	Entry

	// IsType reports whether the node has a variant of the given type.
	IsType(t Type) bool

	// Members returns the sorted base names of the node's members, or nil
	// unless the node is a directory.
	Members() []string
}

// Millis converts t to milliseconds since the Unix epoch, or Unknown for
// the zero time.
func Millis(t time.Time) int64 {
	if t.IsZero() {
		return Unknown
	}
	return t.UnixMilli()
}

// Time converts milliseconds since the Unix epoch to a time, or the zero
// time for Unknown.
func Time(millis int64) time.Time {
	if millis == Unknown {
		return time.Time{}
	}
	return time.UnixMilli(millis)
}

// Now returns the current time in milliseconds since the Unix epoch.
func Now() int64 {
	return time.Now().UnixMilli()
}
