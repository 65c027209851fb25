package vfs

import (
	"fmt"
	"path"
	"strings"
)

// Separator separates a container from the entries it holds in the string
// form of an opaque mount point.
const Separator = "!/"

// MountPoint addresses one federated file system.
//
// A hierarchical mount point names a host directory and ends with "/", e.g.
// "file:/home/user/". An opaque mount point names a container held by its
// parent mount point and ends with Separator, e.g. "zip:file:/archive.zip!/"
// or, nested, "tar:zip:file:/archive.zip!/entry.tar!/".
type MountPoint struct {
	scheme string
	// path is the absolute directory of a hierarchical mount point or the
	// entry name of the container in the parent of an opaque one.
	path   string
	parent *MountPoint
}

// NewHierarchicalMountPoint returns the mount point of a host directory.
func NewHierarchicalMountPoint(scheme, dir string) (MountPoint, error) {
	if scheme == "" {
		return MountPoint{}, fmt.Errorf("mount point %q: missing scheme", dir)
	}
	if !strings.HasPrefix(dir, "/") {
		return MountPoint{}, fmt.Errorf("mount point %q: path must be absolute", dir)
	}
	dir = path.Clean(dir)
	if dir != "/" {
		dir += "/"
	}
	return MountPoint{scheme: scheme, path: dir}, nil
}

// NewMountPoint returns the mount point of the container named name in the
// parent mount point.
func NewMountPoint(scheme string, parent MountPoint, name string) (MountPoint, error) {
	if scheme == "" {
		return MountPoint{}, fmt.Errorf("mount point for %q: missing scheme", name)
	}
	if parent.IsZero() {
		return MountPoint{}, fmt.Errorf("mount point for %q: missing parent", name)
	}
	name = CleanName(name)
	if name == "" {
		return MountPoint{}, fmt.Errorf("mount point %s%s: missing entry name", parent, name)
	}
	p := parent
	return MountPoint{scheme: scheme, path: name, parent: &p}, nil
}

// ParseMountPoint parses the string form of a mount point.
func ParseMountPoint(s string) (MountPoint, error) {
	scheme, rest, ok := strings.Cut(s, ":")
	if !ok || scheme == "" {
		return MountPoint{}, fmt.Errorf("mount point %q: missing scheme", s)
	}
	if inner, ok := strings.CutSuffix(rest, Separator); ok {
		var parent, name string
		if i := strings.LastIndex(inner, Separator); i >= 0 {
			parent, name = inner[:i+len(Separator)], inner[i+len(Separator):]
		} else if i := strings.LastIndex(inner, "/"); i >= 0 {
			parent, name = inner[:i+1], inner[i+1:]
		} else {
			return MountPoint{}, fmt.Errorf("mount point %q: missing parent", s)
		}
		pm, err := ParseMountPoint(parent)
		if err != nil {
			return MountPoint{}, fmt.Errorf("mount point %q: %w", s, err)
		}
		return NewMountPoint(scheme, pm, name)
	}
	if !strings.HasSuffix(rest, "/") {
		return MountPoint{}, fmt.Errorf("mount point %q: must end with %q or %q", s, "/", Separator)
	}
	return NewHierarchicalMountPoint(scheme, rest)
}

// IsZero reports whether m is the zero mount point.
func (m MountPoint) IsZero() bool { return m.scheme == "" }

func (m MountPoint) Scheme() string { return m.scheme }

// IsOpaque reports whether m names a container held by a parent mount point.
func (m MountPoint) IsOpaque() bool { return m.parent != nil }

// Parent returns the parent mount point of an opaque mount point.
func (m MountPoint) Parent() (MountPoint, bool) {
	if m.parent == nil {
		return MountPoint{}, false
	}
	return *m.parent, true
}

// EntryName returns the name of the container in the parent mount point, or
// the empty string for a hierarchical mount point.
func (m MountPoint) EntryName() string {
	if m.parent == nil {
		return ""
	}
	return m.path
}

// Dir returns the host directory of a hierarchical mount point.
func (m MountPoint) Dir() string {
	if m.parent != nil {
		return ""
	}
	return m.path
}

// Depth returns the number of containers m is nested in, counting itself.
func (m MountPoint) Depth() int {
	if m.parent == nil {
		return 0
	}
	return 1 + m.parent.Depth()
}

func (m MountPoint) String() string {
	if m.IsZero() {
		return ""
	}
	if m.parent == nil {
		return m.scheme + ":" + m.path
	}
	return m.scheme + ":" + m.parent.String() + m.path + Separator
}

// Hierarchical returns the mount point with all containers flattened into
// directories, e.g. "file:/archive.zip/entry.tar/". Sorting mount points by
// descending hierarchical form orders nested containers before their
// parents.
func (m MountPoint) Hierarchical() string {
	if m.parent == nil {
		return m.String()
	}
	return m.parent.Hierarchical() + m.path + "/"
}

// Resolve returns the hierarchical form of the named entry.
func (m MountPoint) Resolve(name string) string {
	return m.Hierarchical() + CleanName(name)
}

// CleanName normalizes an entry name: slash separated, relative, without
// trailing separators. The root is the empty name.
func CleanName(name string) string {
	name = strings.Trim(name, "/")
	if name == "" {
		return ""
	}
	name = path.Clean(name)
	if name == "." {
		return ""
	}
	return name
}

// SplitName splits an entry name into its parent name and base name.
func SplitName(name string) (parent, base string) {
	i := strings.LastIndex(name, "/")
	if i < 0 {
		return "", name
	}
	return name[:i], name[i+1:]
}

// JoinName joins a parent entry name and a member name.
func JoinName(parent, member string) string {
	if parent == "" {
		return member
	}
	return parent + "/" + member
}
