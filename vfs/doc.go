// Package vfs defines the contract shared by the federation kernel, its
// controllers and the archive drivers.
//
// A Controller serves the entries of one mount point. Entry names are
// normalized, slash-separated and relative to the mount point; the empty
// name denotes the mount point's root directory.
//
// Drivers plug container formats into the kernel. They create entries,
// validate names, decode and encode containers, and supply the IOPool used
// for temporary buffers.
package vfs
