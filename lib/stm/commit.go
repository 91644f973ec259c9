package stm

import (
	"github.com/ValentinKolb/dSTM/lib/latch"
	"github.com/ValentinKolb/dSTM/lib/orec"
)

// --------------------------------------------------------------------------
// Ensure
// --------------------------------------------------------------------------

// EnsureWrites acquires the update lock on every written ref that is not locked
// yet and validates that none of them changed since it was read. On failure
// the transaction is aborted and a read-write conflict naming the ref is returned.
func (tx *Transaction) EnsureWrites() error {
	const op = "EnsureWrites"
	if err := tx.checkActive(op); err != nil {
		return err
	}

	var failure *Error
	tx.attached.each(func(tl *Tranlocal) bool {
		if tl.mode != ModeWrite || tl.lockMode != orec.LockNone {
			return true
		}
		failure = tx.lock(tl, orec.LockUpdate, op)
		return failure == nil
	})
	if failure != nil {
		return tx.fail(failure)
	}
	return nil
}

// SetAbortOnly makes the next commit abort the transaction.
func (tx *Transaction) SetAbortOnly() error {
	if err := tx.checkActive("SetAbortOnly"); err != nil {
		return err
	}
	tx.abortOnly = true
	return nil
}

// --------------------------------------------------------------------------
// Prepare and Commit
// --------------------------------------------------------------------------

// Prepare locks every changed ref exclusively and validates that it was not
// changed by another transaction. Deferred commutes are applied to the latest
// committed value. Nothing is published yet.
//
// Preparing a prepared transaction is a no-op.
func (tx *Transaction) Prepare() error {
	const op = "Prepare"
	switch tx.status {
	case StatusPrepared:
		return nil
	case StatusCommitted, StatusAborted:
		return newError(CodeDeadTransaction, "%s on %s transaction", op, tx.status)
	}

	if tx.abortOnly {
		return tx.fail(newConflict(nil, ConflictAbortOnly, op))
	}

	tx.fire(EventPrePrepare)
	if tx.status != StatusActive {
		// a listener ended the transaction
		return newError(CodeDeadTransaction, "%s on %s transaction", op, tx.status)
	}

	var failure *Error
	tx.attached.each(func(tl *Tranlocal) bool {
		failure = tx.prepareTranlocal(tl, op)
		return failure == nil
	})
	if failure != nil {
		return tx.fail(failure)
	}

	tx.status = StatusPrepared
	return nil
}

func (tx *Transaction) prepareTranlocal(tl *Tranlocal, op string) *Error {
	switch tl.mode {
	case ModeConstruction:
		tl.isDirty = !tl.isAbandoned
		return nil
	case ModeCommuting:
		// commutes are applied under the commit lock, no validation needed
		if err := tx.materialize(tl, orec.LockCommit, op); err != nil {
			return err
		}
		tl.computeDirty(tx.conf.DirtyCheck)
		return nil
	case ModeWrite:
		if !tl.computeDirty(tx.conf.DirtyCheck) || tl.lockMode == orec.LockCommit {
			return nil
		}
		return tx.lock(tl, orec.LockCommit, op)
	default:
		return nil
	}
}

// Commit prepares the transaction if needed and publishes every changed ref.
// Listeners waiting for a change of a published ref are woken before Commit returns.
//
// Committing a committed transaction is a no-op. An abort only transaction is
// aborted and a read-write conflict is returned.
func (tx *Transaction) Commit() error {
	switch tx.status {
	case StatusCommitted:
		return nil
	case StatusAborted:
		return newError(CodeDeadTransaction, "Commit on aborted transaction")
	case StatusActive:
		if err := tx.Prepare(); err != nil {
			return err
		}
	}

	var woken []*latch.Latch
	tx.attached.each(func(tl *Tranlocal) bool {
		woken = tx.commitTranlocal(tl, woken)
		return true
	})
	tx.attached.clear()
	tx.status = StatusCommitted

	for _, l := range woken {
		l.Open()
	}

	tx.stm.stats.commits.Inc()
	tx.fire(EventPostCommit)
	tx.listeners = nil
	tx.permanentListeners = nil
	return nil
}

// commitTranlocal publishes or releases one tranlocal and returns the
// listeners that have to be woken.
func (tx *Transaction) commitTranlocal(tl *Tranlocal, woken []*latch.Latch) []*latch.Latch {
	ref := tl.owner
	if tl.isAbandoned {
		ref.orec.DepartAfterFailure(tl.hasDepartObligation)
		return woken
	}
	if tl.isWrite() && tl.isDirty {
		ref.publish(tl.Value, ref.orec.Version()+1)
		return append(woken, ref.orec.DepartAfterUpdateAndUnlock(tx.id, tl.hasDepartObligation)...)
	}

	switch {
	case tl.mode == ModeCommuting:
		// not arrived
	case tl.lockMode != orec.LockNone:
		ref.orec.DepartAfterReadingAndUnlock(tx.id, tl.hasDepartObligation)
	case tl.hasDepartObligation:
		ref.orec.DepartAfterReading(true)
	}
	return woken
}

// --------------------------------------------------------------------------
// Abort
// --------------------------------------------------------------------------

// Abort releases every lock and arrival of the transaction. Constructed refs
// stay locked, see Ref.Abandon.
//
// Aborting an aborted transaction is a no-op, aborting a committed one fails.
func (tx *Transaction) Abort() error {
	if tx.status == StatusCommitted {
		return newError(CodeDeadTransaction, "Abort on committed transaction")
	}
	tx.abort()
	return nil
}

func (tx *Transaction) abort() {
	if tx.status == StatusAborted || tx.status == StatusCommitted {
		return
	}

	tx.attached.each(func(tl *Tranlocal) bool {
		tx.abortTranlocal(tl)
		return true
	})
	tx.attached.clear()
	tx.status = StatusAborted

	tx.stm.stats.aborts.Inc()
	tx.fire(EventPostAbort)
}

func (tx *Transaction) abortTranlocal(tl *Tranlocal) {
	ref := tl.owner
	switch {
	case tl.mode == ModeCommuting:
		// not arrived
	case tl.mode == ModeConstruction:
		ref.orec.DepartAfterFailure(tl.hasDepartObligation)
	case tl.lockMode != orec.LockNone:
		ref.orec.DepartAfterFailureAndUnlock(tx.id, tl.hasDepartObligation)
	case tl.hasDepartObligation:
		ref.orec.DepartAfterFailure(true)
	}
}

// --------------------------------------------------------------------------
// Reset
// --------------------------------------------------------------------------

// SoftReset starts the next attempt of the transaction. A transaction that is
// not finished is aborted first. Normal listeners are removed, permanent
// listeners and the remaining timeout are kept.
//
// If the maximum number of attempts is reached the transaction stays aborted
// and false is returned.
func (tx *Transaction) SoftReset() bool {
	tx.abort()
	tx.attached.clear()
	tx.listeners = nil

	if tx.attempt >= tx.conf.MaxRetries {
		return false
	}
	tx.attempt++
	tx.status = StatusActive
	tx.abortOnly = false
	return true
}

// HardReset starts a new logical execution of the transaction: the attempt
// counter and the timeout budget are restored and all listeners are removed.
func (tx *Transaction) HardReset() {
	tx.abort()
	tx.attached.clear()
	tx.listeners = nil
	tx.permanentListeners = nil

	tx.attempt = 1
	tx.remainingTimeout = tx.conf.Timeout
	tx.abortOnly = false
	tx.status = StatusActive
}
