package vfs

import "strings"

// AccessOption is a bit set of options for entry access.
type AccessOption uint16

const (
	// Exclusive fails when the entry already exists.
	Exclusive AccessOption = 1 << iota
	// Append appends written content to the existing content.
	Append
	// Cache buffers entry content in the controller's cache.
	Cache
	// CreateParents creates missing parent directories.
	CreateParents
	// Grow appends a new version of an entry which has already been output
	// instead of requiring a synchronization.
	Grow
	// Store writes entry content uncompressed.
	Store
	// Compress writes entry content compressed.
	Compress
	// Encrypt writes entry content encrypted.
	Encrypt
)

var accessOptionNames = []string{"EXCLUSIVE", "APPEND", "CACHE", "CREATE_PARENTS", "GROW", "STORE", "COMPRESS", "ENCRYPT"}

// Has reports whether all options in x are set.
func (o AccessOption) Has(x AccessOption) bool { return o&x == x }

// Set returns o with the options in x set.
func (o AccessOption) Set(x AccessOption) AccessOption { return o | x }

// Clear returns o with the options in x cleared.
func (o AccessOption) Clear(x AccessOption) AccessOption { return o &^ x }

func (o AccessOption) String() string {
	return bitNames(uint16(o), accessOptionNames)
}

// SyncOption is a bit set of options for synchronization.
type SyncOption uint8

const (
	// WaitCloseIO waits for streams held by other owners to get closed.
	WaitCloseIO SyncOption = 1 << iota
	// ForceCloseIO closes streams which are still open.
	ForceCloseIO
	// AbortChanges discards all pending changes.
	AbortChanges
	// ClearCache releases all cached entry content.
	ClearCache
)

// Predefined sync option sets.
const (
	SyncDefault = WaitCloseIO
	SyncUmount  = ForceCloseIO | ClearCache
	SyncReset   = AbortChanges
)

var syncOptionNames = []string{"WAIT_CLOSE_IO", "FORCE_CLOSE_IO", "ABORT_CHANGES", "CLEAR_CACHE"}

// Has reports whether all options in x are set.
func (o SyncOption) Has(x SyncOption) bool { return o&x == x }

// Set returns o with the options in x set.
func (o SyncOption) Set(x SyncOption) SyncOption { return o | x }

// Clear returns o with the options in x cleared.
func (o SyncOption) Clear(x SyncOption) SyncOption { return o &^ x }

func (o SyncOption) String() string {
	return bitNames(uint16(o), syncOptionNames)
}

func bitNames(bits uint16, names []string) string {
	var parts []string
	for i, name := range names {
		if bits&(1<<i) != 0 {
			parts = append(parts, name)
		}
	}
	if len(parts) == 0 {
		return "[]"
	}
	return "[" + strings.Join(parts, ", ") + "]"
}
