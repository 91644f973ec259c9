package lockmgr

import (
	"context"
	"time"
)

// ILockManager defines the interface for a lock provider.
type ILockManager interface {
	// AcquireLock tries to acquire the lock for the given key. A ttl > 0 lets
	// the lock expire after that duration.
	// Return a boolean indicating whether the lock was acquired, an owner ID, and an error if any.
	AcquireLock(key string, ttl time.Duration) (ok bool, ownerID []byte, err error)

	// AwaitLock blocks until the lock for the given key is acquired or ctx is done.
	// Return the owner ID, and an error if any.
	AwaitLock(ctx context.Context, key string, ttl time.Duration) (ownerID []byte, err error)

	// ReleaseLock releases the lock for the given key.
	// Return a boolean indicating whether the lock was released, and an error if any.
	// The method will also return True if the lock did not exist.
	ReleaseLock(key string, ownerID []byte) (ok bool, err error)
}
