package lease

import (
	"context"
	"time"
)

// Locker hands out exclusive, expiring leases on job names so that only one
// replica runs a given job at a time.
type Locker interface {
	// Acquire returns ok=false when another holder owns key.
	Acquire(ctx context.Context, key string, ttl time.Duration) (l Lease, ok bool, err error)
}

// Lease is one held lease. Release is safe to call more than once.
type Lease interface {
	// Refresh pushes the expiry to now+ttl. It returns false once the lease
	// has expired and been taken over by another holder.
	Refresh(ctx context.Context, ttl time.Duration) (bool, error)
	Release()
}
