package controller

import (
	"github.com/aweris/archivefs/internal/resource"
	"github.com/aweris/archivefs/vfs"
)

// Model is the state shared by all stages of the pipeline of one mount
// point.
type Model struct {
	mountPoint vfs.MountPoint
	parent     vfs.Controller
	lock       *Lock
	// accountant tracks the streams opened by the cache and resource stages.
	accountant *resource.Accountant
	// onMount is called on every transition between the reset and the
	// mounted state.
	onMount func(mounted bool)
}

// NewModel returns the model of a mount point. onMount may be nil.
func NewModel(mp vfs.MountPoint, parent vfs.Controller, onMount func(mounted bool)) *Model {
	lock := NewLock()
	return &Model{mountPoint: mp, parent: parent, lock: lock, accountant: resource.New(lock), onMount: onMount}
}

func (m *Model) MountPoint() vfs.MountPoint { return m.mountPoint }

func (m *Model) Parent() vfs.Controller { return m.parent }

func (m *Model) Lock() *Lock { return m.lock }

func (m *Model) setMounted(mounted bool) {
	if m.onMount != nil {
		m.onMount(mounted)
	}
}
