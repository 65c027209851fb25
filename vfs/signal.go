package vfs

import (
	"errors"
	"fmt"
)

// Control-flow signals. They never leave the pipeline: each is handled by the
// one stage responsible for it.

// NeedsSyncError signals that an operation can only proceed after the
// mount point has been synchronized. The sync stage handles it.
type NeedsSyncError struct {
	Name string
}

func (e *NeedsSyncError) Error() string {
	return fmt.Sprintf("%q: needs synchronization", e.Name)
}

// NeedsSync returns a needs-sync signal for the named entry.
func NeedsSync(name string) error {
	return &NeedsSyncError{Name: name}
}

// IsNeedsSync reports whether err is a needs-sync signal.
func IsNeedsSync(err error) bool {
	var ns *NeedsSyncError
	return errors.As(err, &ns)
}

// ErrNeedsLockRetry signals that a lock could not be acquired without risking
// a dead lock. The outermost lock stage handles it.
var ErrNeedsLockRetry = errors.New("needs lock retry")

// FalsePositiveError signals that a container is not a valid instance of its
// format, so the parent file system must serve the operation. Transient
// false positives (e.g. a missing container) are re-evaluated on every
// operation; persistent ones until the next synchronization.
type FalsePositiveError struct {
	MountPoint string
	Err        error
	Persistent bool
}

func (e *FalsePositiveError) Error() string {
	return fmt.Sprintf("%s: false positive archive file: %v", e.MountPoint, e.Err)
}

func (e *FalsePositiveError) Unwrap() error { return e.Err }

// IsControlFlow reports whether err is a control-flow signal.
func IsControlFlow(err error) bool {
	var fp *FalsePositiveError
	return IsNeedsSync(err) || errors.Is(err, ErrNeedsLockRetry) || errors.As(err, &fp)
}
