// Package resource accounts for the streams which are open on the entries of
// a container, so that a sync can wait for them or close them.
package resource

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/aweris/archivefs/vfs"
)

// Locker is the write lock which is suspended while an accountant waits for
// other owners to close their resources.
type Locker interface {
	// Suspend releases every hold of the caller on the lock and returns a
	// function which restores them.
	Suspend(ctx context.Context) (resume func())
}

type account struct {
	owner      *vfs.Owner
	accountant *Accountant
}

// The table is shared by all accountants so that a resource can be looked
// up without knowing its accountant.
var (
	mu       sync.Mutex
	accounts = make(map[io.Closer]account)
)

// Accountant tracks the resources of one controller pipeline.
type Accountant struct {
	lock    Locker
	changed chan struct{}
}

func New(lock Locker) *Accountant {
	return &Accountant{lock: lock, changed: make(chan struct{})}
}

// broadcast wakes up all waiters. mu must be held.
func (a *Accountant) broadcast() {
	close(a.changed)
	a.changed = make(chan struct{})
}

// Start accounts r to the owner of ctx.
func (a *Accountant) Start(ctx context.Context, r io.Closer) {
	mu.Lock()
	defer mu.Unlock()
	accounts[r] = account{owner: vfs.OwnerFrom(ctx), accountant: a}
}

// Stop removes r from the accounts and reports whether it was accounted by a.
func (a *Accountant) Stop(r io.Closer) bool {
	mu.Lock()
	defer mu.Unlock()
	acc, ok := accounts[r]
	if !ok || acc.accountant != a {
		return false
	}
	delete(accounts, r)
	a.broadcast()
	return true
}

func (a *Accountant) count(owner *vfs.Owner) (local, total int) {
	for _, acc := range accounts {
		if acc.accountant != a {
			continue
		}
		total++
		if acc.owner == owner {
			local++
		}
	}
	return local, total
}

// LocalResources returns the number of resources accounted to the owner of
// ctx.
func (a *Accountant) LocalResources(ctx context.Context) int {
	mu.Lock()
	defer mu.Unlock()
	local, _ := a.count(vfs.OwnerFrom(ctx))
	return local
}

// TotalResources returns the number of resources accounted by a.
func (a *Accountant) TotalResources() int {
	mu.Lock()
	defer mu.Unlock()
	_, total := a.count(nil)
	return total
}

// WaitOtherThreads waits until all resources accounted to other owners than
// the owner of ctx are closed, the timeout elapses or ctx is done, and returns
// the total number of resources. A timeout of zero waits forever. The write
// lock is suspended while waiting so that other owners can close.
func (a *Accountant) WaitOtherThreads(ctx context.Context, timeout time.Duration) int {
	owner := vfs.OwnerFrom(ctx)

	mu.Lock()
	local, total := a.count(owner)
	mu.Unlock()
	if total <= local {
		return total
	}

	if a.lock != nil {
		resume := a.lock.Suspend(ctx)
		defer resume()
	}

	var deadline <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		deadline = timer.C
	}

	for {
		mu.Lock()
		local, total := a.count(owner)
		changed := a.changed
		mu.Unlock()
		if total <= local {
			return total
		}

		select {
		case <-changed:
		case <-deadline:
			return a.TotalResources()
		case <-ctx.Done():
			return a.TotalResources()
		}
	}
}

// CloseAllResources closes every resource accounted by a, regardless of its
// owner. Errors are passed to handle, except for vfs.ErrNeedsLockRetry which
// is returned immediately.
func (a *Accountant) CloseAllResources(ctx context.Context, handle func(error)) error {
	mu.Lock()
	var rs []io.Closer
	for r, acc := range accounts {
		if acc.accountant == a {
			rs = append(rs, r)
		}
	}
	mu.Unlock()

	defer func() {
		mu.Lock()
		a.broadcast()
		mu.Unlock()
	}()

	for _, r := range rs {
		mu.Lock()
		acc, ok := accounts[r]
		if ok {
			delete(accounts, r)
		}
		mu.Unlock()
		if !ok {
			continue
		}

		if err := vfs.CloseContext(ctx, r); err != nil {
			if errors.Is(err, vfs.ErrNeedsLockRetry) {
				mu.Lock()
				accounts[r] = acc
				mu.Unlock()
				return err
			}
			handle(err)
		}
	}
	return nil
}
