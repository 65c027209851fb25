package vfs

import (
	"errors"
	"fmt"
	"io/fs"
	"slices"
)

// Data integrity errors. They are returned wrapped in *fs.PathError.
var (
	ErrNoSuchFile         = fs.ErrNotExist
	ErrFileExists         = fs.ErrExist
	ErrNotDirectory       = errors.New("not a directory")
	ErrDirectoryNotEmpty  = errors.New("directory not empty")
	ErrNotFile            = errors.New("not a file")
	ErrReadOnlyFileSystem = errors.New("read-only file system")
	ErrInvalidArgument    = fs.ErrInvalid
)

// ErrInternal marks programming errors, e.g. a control-flow signal which
// escaped the pipeline.
var ErrInternal = errors.New("vfs: internal error")

// PathError returns an *fs.PathError for the operation on name.
func PathError(op, name string, err error) error {
	return &fs.PathError{Op: op, Path: name, Err: err}
}

// OpenResourceError reports that a container cannot be synchronized while
// streams are open. Local counts the streams held by the calling owner.
type OpenResourceError struct {
	Local int
	Total int
}

func (e *OpenResourceError) Error() string {
	return fmt.Sprintf("%d open I/O resources (%d held by the current owner)", e.Total, e.Local)
}

// SyncError reports a synchronization failure which implies loss of data.
type SyncError struct {
	MountPoint string
	Err        error
	Suppressed []error
}

func (e *SyncError) Error() string {
	return syncMessage("sync failed", e.MountPoint, e.Err, e.Suppressed)
}

func (e *SyncError) Unwrap() []error { return append([]error{e.Err}, e.Suppressed...) }

// SyncWarningError reports a synchronization which completed with
// constraints, e.g. a stream was closed forcibly.
type SyncWarningError struct {
	MountPoint string
	Err        error
	Suppressed []error
}

func (e *SyncWarningError) Error() string {
	return syncMessage("sync completed with warnings", e.MountPoint, e.Err, e.Suppressed)
}

func (e *SyncWarningError) Unwrap() []error { return append([]error{e.Err}, e.Suppressed...) }

func syncMessage(what, mp string, err error, suppressed []error) string {
	msg := what
	if mp != "" {
		msg += " for " + mp
	}
	msg += ": " + err.Error()
	if n := len(suppressed); n > 0 {
		msg += fmt.Sprintf(" (and %d more)", n)
	}
	return msg
}

// NewSyncError wraps err as a *SyncError unless it already is a sync error.
func NewSyncError(mp MountPoint, err error) error {
	if isSyncError(err) {
		return err
	}
	return &SyncError{MountPoint: mp.String(), Err: err}
}

// NewSyncWarning wraps err as a *SyncWarningError unless it already is a
// sync error.
func NewSyncWarning(mp MountPoint, err error) error {
	if isSyncError(err) {
		return err
	}
	return &SyncWarningError{MountPoint: mp.String(), Err: err}
}

func isSyncError(err error) bool {
	switch err.(type) {
	case *SyncError, *SyncWarningError:
		return true
	}
	return false
}

func priority(err error) int {
	if _, ok := err.(*SyncWarningError); ok {
		return 0
	}
	return 1
}

// SyncErrorBuilder aggregates the failures of a synchronization. The most
// severe failure is reported with all others attached as suppressed.
type SyncErrorBuilder struct {
	errs []error
}

// Warn records err and continues.
func (b *SyncErrorBuilder) Warn(err error) {
	if err != nil {
		b.errs = append(b.errs, err)
	}
}

// Fail records err and returns the aggregate.
func (b *SyncErrorBuilder) Fail(err error) error {
	b.Warn(err)
	return b.Check()
}

// Check returns the aggregate of all recorded failures or nil.
func (b *SyncErrorBuilder) Check() error {
	if len(b.errs) == 0 {
		return nil
	}
	errs := slices.Clone(b.errs)
	b.errs = nil
	slices.SortStableFunc(errs, func(x, y error) int { return priority(y) - priority(x) })

	head, rest := errs[0], errs[1:]
	switch e := head.(type) {
	case *SyncError:
		return &SyncError{MountPoint: e.MountPoint, Err: e.Err, Suppressed: append(slices.Clone(e.Suppressed), rest...)}
	case *SyncWarningError:
		return &SyncWarningError{MountPoint: e.MountPoint, Err: e.Err, Suppressed: append(slices.Clone(e.Suppressed), rest...)}
	default:
		return &SyncError{Err: head, Suppressed: rest}
	}
}

// IsSyncWarning reports whether err is a sync warning only.
func IsSyncWarning(err error) bool {
	_, ok := err.(*SyncWarningError)
	return ok
}
