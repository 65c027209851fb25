package vfs

import (
	"context"
	"sync/atomic"
)

// Owner identifies the holder of open streams. Goroutines have no identity,
// so callers which want their own streams accounted separately from other
// goroutines bind an owner to their context.
type Owner struct {
	id uint64
}

var (
	ownerIDs  atomic.Uint64
	mainOwner = NewOwner()
)

// NewOwner returns a new, unique owner.
func NewOwner() *Owner {
	return &Owner{id: ownerIDs.Add(1)}
}

// ID returns the unique id of the owner.
func (o *Owner) ID() uint64 { return o.id }

type ownerKey struct{}

// WithOwner returns a context which carries the owner.
func WithOwner(ctx context.Context, o *Owner) context.Context {
	return context.WithValue(ctx, ownerKey{}, o)
}

// HasOwner reports whether ctx carries an owner.
func HasOwner(ctx context.Context) bool {
	o, ok := ctx.Value(ownerKey{}).(*Owner)
	return ok && o != nil
}

// OwnerFrom returns the owner carried by ctx, or the process-wide main owner.
func OwnerFrom(ctx context.Context) *Owner {
	if o, ok := ctx.Value(ownerKey{}).(*Owner); ok && o != nil {
		return o
	}
	return mainOwner
}
