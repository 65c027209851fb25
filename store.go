package archivefs

import "github.com/aweris/archivefs/vfs"

// Kernel types re-exported from package vfs for convenience.
type (
	Controller   = vfs.Controller
	Driver       = vfs.Driver
	MountPoint   = vfs.MountPoint
	Entry        = vfs.Entry
	Node         = vfs.Node
	AccessOption = vfs.AccessOption
	SyncOption   = vfs.SyncOption
)

const (
	SyncDefault = vfs.SyncDefault
	SyncUmount  = vfs.SyncUmount
	SyncReset   = vfs.SyncReset
)
