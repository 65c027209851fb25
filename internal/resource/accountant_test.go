package resource

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sourcegraph/conc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aweris/archivefs/vfs"
)

type closer struct {
	a      *Accountant
	closed atomic.Int32
	err    error
}

func (c *closer) Close() error {
	c.closed.Add(1)
	c.a.Stop(c)
	return c.err
}

type suspendLock struct {
	suspended atomic.Int32
	resumed   atomic.Int32
}

func (l *suspendLock) Suspend(context.Context) func() {
	l.suspended.Add(1)
	return func() { l.resumed.Add(1) }
}

func TestAccounting(t *testing.T) {
	a := New(nil)
	other := New(nil)
	ctx := context.Background()
	octx := vfs.WithOwner(ctx, vfs.NewOwner())

	r1, r2, r3 := &closer{a: a}, &closer{a: a}, &closer{a: other}
	a.Start(ctx, r1)
	a.Start(octx, r2)
	other.Start(ctx, r3)
	defer other.Stop(r3)

	assert.Equal(t, 2, a.TotalResources())
	assert.Equal(t, 1, a.LocalResources(ctx))
	assert.Equal(t, 1, a.LocalResources(octx))

	assert.False(t, a.Stop(r3))
	assert.True(t, a.Stop(r1))
	assert.False(t, a.Stop(r1))
	assert.Equal(t, 1, a.TotalResources())
	assert.Zero(t, a.LocalResources(ctx))

	require.NoError(t, r2.Close())
	assert.Zero(t, a.TotalResources())
	assert.Equal(t, 1, other.TotalResources())
}

func TestWaitOtherThreadsTimeout(t *testing.T) {
	lock := &suspendLock{}
	a := New(lock)
	r := &closer{a: a}

	var wg conc.WaitGroup
	started := make(chan struct{})
	wg.Go(func() {
		a.Start(vfs.WithOwner(context.Background(), vfs.NewOwner()), r)
		close(started)
	})
	<-started
	defer wg.Wait()
	defer a.Stop(r)

	begin := time.Now()
	total := a.WaitOtherThreads(context.Background(), 50*time.Millisecond)

	assert.Equal(t, 1, total)
	assert.GreaterOrEqual(t, time.Since(begin), 50*time.Millisecond)
	assert.Less(t, time.Since(begin), 5*time.Second)
	assert.Equal(t, int32(1), lock.suspended.Load())
	assert.Equal(t, int32(1), lock.resumed.Load())
}

func TestWaitOtherThreadsReturnsWhenClosed(t *testing.T) {
	a := New(&suspendLock{})
	ctx := context.Background()
	local := &closer{a: a}
	a.Start(ctx, local)
	defer a.Stop(local)

	var wg conc.WaitGroup
	for range 4 {
		r := &closer{a: a}
		a.Start(vfs.WithOwner(ctx, vfs.NewOwner()), r)
		wg.Go(func() {
			time.Sleep(10 * time.Millisecond)
			_ = r.Close()
		})
	}

	total := a.WaitOtherThreads(ctx, 0)
	wg.Wait()
	assert.Equal(t, 1, total)
}

func TestWaitOtherThreadsCancelled(t *testing.T) {
	a := New(nil)
	r := &closer{a: a}
	a.Start(vfs.WithOwner(context.Background(), vfs.NewOwner()), r)
	defer a.Stop(r)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(10*time.Millisecond, cancel)

	assert.Equal(t, 1, a.WaitOtherThreads(ctx, 0))
}

func TestWaitOtherThreadsOnlyLocal(t *testing.T) {
	lock := &suspendLock{}
	a := New(lock)
	ctx := context.Background()
	r := &closer{a: a}
	a.Start(ctx, r)
	defer a.Stop(r)

	assert.Equal(t, 1, a.WaitOtherThreads(ctx, time.Hour))
	assert.Zero(t, lock.suspended.Load())
}

func TestCloseAllResources(t *testing.T) {
	a := New(nil)
	ctx := context.Background()
	failing := errors.New("close failed")

	var rs []*closer
	for i := range 5 {
		r := &closer{a: a}
		if i%2 == 0 {
			r.err = fmt.Errorf("resource %d: %w", i, failing)
		}
		a.Start(vfs.WithOwner(ctx, vfs.NewOwner()), r)
		rs = append(rs, r)
	}

	var errs []error
	require.NoError(t, a.CloseAllResources(ctx, func(err error) { errs = append(errs, err) }))

	assert.Len(t, errs, 3)
	for _, err := range errs {
		assert.ErrorIs(t, err, failing)
	}
	for _, r := range rs {
		assert.Equal(t, int32(1), r.closed.Load())
	}
	assert.Zero(t, a.TotalResources())
}

func TestCloseAllResourcesPropagatesLockRetry(t *testing.T) {
	a := New(nil)
	ctx := context.Background()
	r := &closer{a: a, err: vfs.ErrNeedsLockRetry}
	a.Start(ctx, r)
	defer a.Stop(r)

	err := a.CloseAllResources(ctx, func(err error) { t.Errorf("unexpected error %v", err) })

	assert.Equal(t, vfs.ErrNeedsLockRetry, err)
	assert.Equal(t, 1, a.TotalResources())
}
