// Package lease guards an index against a second concurrent writer. A writer
// acquires the lease of its index before accepting work and releases it on
// close; a lease held by anyone else fails fast with ErrLocked.
package lease

import (
	"context"

	amerrors "github.com/Aman-CERP/amanfacet/internal/errors"
)

// Lease kinds accepted by configuration.
const (
	KindNone  = "none"
	KindFile  = "file"
	KindRedis = "redis"
)

var (
	// ErrLocked is returned when another writer holds the lease.
	ErrLocked = amerrors.Sentinel(amerrors.ErrCodeIndexLocked, "index is locked by another writer")

	// ErrLost is returned by Check when a held lease expired or was taken over.
	ErrLost = amerrors.Sentinel(amerrors.ErrCodeIndexLocked, "writer lease lost")
)

// Lease is an exclusive, per-index writer lock.
type Lease interface {
	// Acquire takes the lease or returns ErrLocked without waiting.
	Acquire(ctx context.Context) error

	// Check returns nil while the lease is held, ErrLost otherwise.
	Check(ctx context.Context) error

	// Release gives the lease up. Releasing an unheld lease is a no-op.
	Release(ctx context.Context) error
}

// Noop is a Lease that is always available. It suits in-memory indexes
// and single-process deployments.
type Noop struct{}

func (Noop) Acquire(context.Context) error { return nil }
func (Noop) Check(context.Context) error   { return nil }
func (Noop) Release(context.Context) error { return nil }
