package lockmgr

import (
	"bytes"
	"context"
	"errors"
	"time"

	"github.com/ValentinKolb/dSTM/lib/stm"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"
)

var log = logger.GetLogger("lockmgr")

// errExpiryChanged ends a wait whose deadline no longer matches the lock
var errExpiryChanged = errors.New("lock expiry changed")

// lockEntry is the value of a held lock
type lockEntry struct {
	owner   []byte
	expires time.Time // zero = never
}

// heldAt reports whether the entry holds the lock at the given time.
func (e *lockEntry) heldAt(now time.Time) bool {
	return e != nil && (e.expires.IsZero() || now.Before(e.expires))
}

type lockMgrImpl struct {
	stm   *stm.STM
	locks *xsync.MapOf[string, *stm.Ref]
}

// NewLockManager creates a lock manager whose locks live in s.
func NewLockManager(s *stm.STM) ILockManager {
	return &lockMgrImpl{
		stm:   s,
		locks: xsync.NewMapOf[string, *stm.Ref](),
	}
}

// ref returns the ref of the lock for key
func (lm *lockMgrImpl) ref(key string) *stm.Ref {
	r, _ := lm.locks.LoadOrCompute(key, func() *stm.Ref {
		return lm.stm.NewRef((*lockEntry)(nil))
	})
	return r
}

// entry reads the lock entry of ref in tx
func entry(tx *stm.Transaction, ref *stm.Ref) (*lockEntry, error) {
	v, err := tx.Get(ref)
	if err != nil {
		return nil, err
	}
	e, _ := v.(*lockEntry)
	return e, nil
}

func newEntry(ownerID []byte, ttl time.Duration) *lockEntry {
	e := &lockEntry{owner: ownerID}
	if ttl > 0 {
		e.expires = time.Now().Add(ttl)
	}
	return e
}

func (lm *lockMgrImpl) AcquireLock(key string, ttl time.Duration) (bool, []byte, error) {
	ownerID, err := generateOwnerID()
	if err != nil {
		return false, nil, err
	}
	ref := lm.ref(key)

	acquired := false
	err = lm.stm.Executor("lockmgr.acquire").Execute(context.Background(), func(tx *stm.Transaction) error {
		acquired = false
		current, err := entry(tx, ref)
		if err != nil {
			return err
		}
		if current.heldAt(time.Now()) {
			return nil
		}
		acquired = true
		return tx.Set(ref, newEntry(ownerID, ttl))
	})
	if err != nil {
		log.Errorf("acquiring lock %q failed: %v", key, err)
		return false, nil, err
	}
	if !acquired {
		return false, nil, nil
	}
	return true, ownerID, nil
}

func (lm *lockMgrImpl) AwaitLock(ctx context.Context, key string, ttl time.Duration) ([]byte, error) {
	ownerID, err := generateOwnerID()
	if err != nil {
		return nil, err
	}
	ref := lm.ref(key)
	exec := lm.stm.Executor("lockmgr.await")

	// until is the expiry of the lock the current wait is bounded by
	var until time.Time
	for {
		waitCtx, cancel := ctx, context.CancelFunc(func() {})
		if !until.IsZero() {
			waitCtx, cancel = context.WithDeadline(ctx, until)
		}

		err := exec.Execute(waitCtx, func(tx *stm.Transaction) error {
			current, err := entry(tx, ref)
			if err != nil {
				return err
			}
			if current.heldAt(time.Now()) {
				if !current.expires.Equal(until) {
					until = current.expires
					return errExpiryChanged
				}
				return stm.ErrRetry
			}
			return tx.Set(ref, newEntry(ownerID, ttl))
		})
		cancel()

		switch {
		case err == nil:
			return ownerID, nil
		case errors.Is(err, errExpiryChanged):
			continue
		case errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil:
			log.Debugf("lock %q expired while waiting", key)
			until = time.Time{}
			continue
		default:
			return nil, err
		}
	}
}

func (lm *lockMgrImpl) ReleaseLock(key string, ownerID []byte) (bool, error) {
	ref, ok := lm.locks.Load(key)
	if !ok {
		return true, nil
	}

	released := false
	err := lm.stm.Executor("lockmgr.release").Execute(context.Background(), func(tx *stm.Transaction) error {
		released = false
		current, err := entry(tx, ref)
		if err != nil {
			return err
		}
		if !current.heldAt(time.Now()) {
			// expired or not held
			released = true
			return nil
		}
		if !bytes.Equal(current.owner, ownerID) {
			return nil
		}
		released = true
		return tx.Set(ref, (*lockEntry)(nil))
	})
	if err != nil {
		log.Errorf("releasing lock %q failed: %v", key, err)
		return false, err
	}
	return released, nil
}
