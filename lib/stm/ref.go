package stm

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/ValentinKolb/dSTM/lib/orec"
)

// Ref is a transactional object. Its value is only changed by committing
// transactions; every committed value is published as an immutable snapshot
// together with the version it was committed at.
type Ref struct {
	orec   orec.Orec
	id     uint64
	stm    *STM
	active atomic.Pointer[Tranlocal] // nil until the first commit
}

// NewRef creates a committed ref with the given value at version 0.
func (s *STM) NewRef(value any) *Ref {
	r := s.newRef()
	r.active.Store(&Tranlocal{
		Value:       value,
		owner:       r,
		version:     0,
		isCommitted: true,
	})
	return r
}

// NewUncommittedRef creates a ref without a value. It must be initialized
// with Transaction.OpenForConstruction before it can be read.
func (s *STM) NewUncommittedRef() *Ref {
	return s.newRef()
}

func (s *STM) newRef() *Ref {
	r := &Ref{
		id:  s.refIDs.Add(1),
		stm: s,
	}
	r.orec.Init(s.conf.ReadBiasedThreshold)
	return r
}

// ID returns the id of the ref, unique within its STM.
func (r *Ref) ID() uint64 { return r.id }

// STM returns the STM the ref belongs to.
func (r *Ref) STM() *STM { return r.stm }

// Orec returns the concurrency control record of the ref.
func (r *Ref) Orec() *orec.Orec { return &r.orec }

// Version returns the version of the last committed value.
func (r *Ref) Version() uint64 { return r.orec.Version() }

// IsCommitted reports whether the ref has a committed value.
func (r *Ref) IsCommitted() bool { return r.active.Load() != nil }

// Snapshot returns the last committed snapshot (nil if the ref was never committed).
func (r *Ref) Snapshot() *Tranlocal { return r.active.Load() }

// AtomicGet returns the last committed value without a transaction.
// The second return value is false if the ref was never committed.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (r *Ref) AtomicGet() (any, bool) {
	snapshot := r.active.Load()
	if snapshot == nil {
		return nil, false
	}
	return snapshot.Value, true
}

// Abandon releases the construction lock that an aborted transaction with
// the given id left on an uncommitted ref. It reports whether a lock was released.
func (r *Ref) Abandon(owner uint64) bool {
	if r.IsCommitted() {
		return false
	}
	return r.orec.ReleaseLock(owner)
}

func (r *Ref) String() string {
	return fmt.Sprintf("Ref{id=%d, version=%d}", r.id, r.orec.Version())
}

// publish installs value as the new committed snapshot at version (must be called with the commit lock held).
func (r *Ref) publish(value any, version uint64) {
	r.active.Store(&Tranlocal{
		Value:       value,
		owner:       r,
		version:     version,
		isCommitted: true,
	})
}

// atomicTemplate is the template of the transactions used by AtomicSet
const atomicTemplate = "atomic"

// AtomicSet commits value in a transaction of its own that locks the ref exclusively.
func (r *Ref) AtomicSet(ctx context.Context, value any) error {
	return r.stm.Executor(atomicTemplate).Execute(ctx, func(tx *Transaction) error {
		tl, err := tx.OpenForWrite(r, orec.LockCommit)
		if err != nil {
			return err
		}
		tl.Value = value
		return nil
	})
}
