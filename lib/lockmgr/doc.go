// Package lockmgr implements named, expiring locks on top of the STM in
// lib/stm. Each lock is a transactional ref holding the current owner, so
// acquiring and releasing a lock are ordinary transactions and waiting for
// a lock is a blocking retry.
//
// Core Functionality:
//   - Lock acquisition with ownership verification
//   - Automatic lock expiration through configurable TTLs
//   - Safe release operations that verify ownership
//   - Waiting for a lock without polling
//
// Implementation Approach:
//
//	- Lock Acquisition: A transaction reads the ref of the key and writes a
//	  new entry with a randomly generated owner ID if the lock is free or
//	  expired. Two concurrent acquisitions conflict on the ref, so only one
//	  of them commits; the other is retried and finds the lock held.
//
//	- Waiting: AwaitLock returns stm.ErrRetry while the lock is held. The
//	  executor then blocks until the ref changes, i.e. until the lock is
//	  released. Locks with a TTL are additionally retried once they expire.
//
//	- Safe Release: ReleaseLock compares the owner ID of the entry with the
//	  given one before clearing it.
//
// Thread Safety:
//
//	All operations are safe for concurrent use. Lock managers created on
//	the same STM do not share locks.
//
// Usage Example:
//
//	s, _ := stm.New("locks", nil)
//	locks := lockmgr.NewLockManager(s)
//
//	// Acquire a lock that expires after 30 seconds
//	acquired, ownerID, err := locks.AcquireLock("resource:123", 30*time.Second)
//	if err != nil {
//	    // Handle error
//	}
//
//	if acquired {
//	    // Use the resource safely
//	    // ...
//
//	    // Release the lock when done
//	    released, err := locks.ReleaseLock("resource:123", ownerID)
//	    if err != nil {
//	        // Handle error
//	    }
//	}
package lockmgr
