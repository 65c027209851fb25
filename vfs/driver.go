package vfs

import (
	"context"
	"io"
	"iter"
)

// Driver plugs a container format into the kernel.
type Driver interface {
	// NewEntry creates an entry of the given type. Metadata is copied from
	// template when it is not nil.
	NewEntry(opts AccessOption, name string, typ Type, template Entry) (MutableEntry, error)

	// CheckEncodable fails if name cannot be stored in the format.
	CheckEncodable(name string) error

	// IOPool returns the pool of temporary buffers used by the driver and by
	// the cache of controllers for its containers.
	IOPool() IOPool

	// Decorate is the driver-specific insertion point into the pipeline.
	Decorate(c Controller) Controller

	// NewInputService decodes a container read from src. The service owns
	// src and closes it.
	NewInputService(ctx context.Context, src ReadChannel) (InputService, error)

	// NewOutputService encodes a new container into dst. Entries of input
	// may be copied by the caller; input is nil for a new container.
	NewOutputService(ctx context.Context, dst io.Writer, input InputService) (OutputService, error)
}

// Container is an ordered set of entries.
type Container interface {
	Len() int
	Entries() iter.Seq[MutableEntry]
	// Entry returns the named entry or nil.
	Entry(name string) MutableEntry
}

// InputService provides the entries of a decoded container.
type InputService interface {
	Container
	Input(name string) InputSocket
	Close() error
}

// OutputService collects the entries of a container to be encoded.
type OutputService interface {
	Container
	Output(entry MutableEntry) OutputSocket
	// Close encodes the container. Entries whose sizes and times are all
	// Unknown have been unlinked and are not encoded.
	Close() error
}

// IOPool allocates temporary buffers.
type IOPool interface {
	Allocate() (IOBuffer, error)
}

// IOBuffer is a temporary buffer. Writing replaces its content; any number
// of readers may read the content concurrently once the writer is closed.
type IOBuffer interface {
	Writer() (io.WriteCloser, error)
	Reader() (ReadChannel, error)
	Size() int64
	// Release returns the buffer to its pool.
	Release() error
}
