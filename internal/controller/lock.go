package controller

import (
	"context"
	"sync"
	"sync/atomic"
)

// token identifies one call chain. Goroutines have no identity, so the lock
// is reentrant per token rather than per goroutine.
type token struct {
	// held counts the locks the call chain holds.
	held atomic.Int32
}

type tokenKey struct{}

// withToken returns ctx with a lock token, reusing the token already carried
// by ctx.
func withToken(ctx context.Context) (context.Context, *token) {
	if t, ok := ctx.Value(tokenKey{}).(*token); ok {
		return ctx, t
	}
	t := new(token)
	return context.WithValue(ctx, tokenKey{}, t), t
}

func tokenFrom(ctx context.Context) *token {
	t, _ := ctx.Value(tokenKey{}).(*token)
	return t
}

// nested reports whether the call chain of ctx already holds a lock, i.e. it
// is an operation on a parent container issued by a nested one.
func nested(ctx context.Context) bool {
	t := tokenFrom(ctx)
	return t != nil && t.held.Load() > 0
}

// Lock is the reentrant write lock of a mount point.
type Lock struct {
	sem   chan struct{}
	mu    sync.Mutex
	owner *token
	depth int
}

func NewLock() *Lock {
	return &Lock{sem: make(chan struct{}, 1)}
}

func (l *Lock) reenter(t *token) bool {
	if t == nil {
		panic("controller: lock without token")
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.owner == t {
		l.depth++
		return true
	}
	return false
}

func (l *Lock) acquired(t *token, depth int) {
	l.mu.Lock()
	l.owner, l.depth = t, depth
	l.mu.Unlock()
	t.held.Add(1)
}

// Lock acquires the lock for the token of ctx, waiting until ctx is done.
func (l *Lock) Lock(ctx context.Context) error {
	t := tokenFrom(ctx)
	if l.reenter(t) {
		return nil
	}
	select {
	case l.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	l.acquired(t, 1)
	return nil
}

// TryLock acquires the lock for the token of ctx if that is possible without
// waiting.
func (l *Lock) TryLock(ctx context.Context) bool {
	t := tokenFrom(ctx)
	if l.reenter(t) {
		return true
	}
	select {
	case l.sem <- struct{}{}:
	default:
		return false
	}
	l.acquired(t, 1)
	return true
}

// Unlock releases one hold of the token of ctx.
func (l *Lock) Unlock(ctx context.Context) {
	t := tokenFrom(ctx)
	l.mu.Lock()
	if l.owner != t || l.depth == 0 {
		l.mu.Unlock()
		panic("controller: unlock of a lock which is not held")
	}
	l.depth--
	release := l.depth == 0
	if release {
		l.owner = nil
	}
	l.mu.Unlock()
	if release {
		t.held.Add(-1)
		<-l.sem
	}
}

// HeldBy reports whether the token of ctx holds the lock.
func (l *Lock) HeldBy(ctx context.Context) bool {
	t := tokenFrom(ctx)
	if t == nil {
		return false
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.owner == t
}

// Depth returns the number of holds of the token of ctx.
func (l *Lock) Depth(ctx context.Context) int {
	t := tokenFrom(ctx)
	l.mu.Lock()
	defer l.mu.Unlock()
	if t == nil || l.owner != t {
		return 0
	}
	return l.depth
}

// Suspend releases all holds of the token of ctx and returns a function which
// reacquires them.
func (l *Lock) Suspend(ctx context.Context) (resume func()) {
	t := tokenFrom(ctx)
	l.mu.Lock()
	if t == nil || l.owner != t {
		l.mu.Unlock()
		return func() {}
	}
	depth := l.depth
	l.owner, l.depth = nil, 0
	l.mu.Unlock()
	t.held.Add(-1)
	<-l.sem

	return func() {
		l.sem <- struct{}{}
		l.acquired(t, depth)
	}
}

// guard proves to the archive file system that the lock is held.
type guard struct {
	ctx  context.Context
	lock *Lock
}

func (g guard) Context() context.Context { return g.ctx }
func (g guard) Locked() bool             { return g.lock.HeldBy(g.ctx) }
