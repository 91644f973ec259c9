package stm

import (
	"errors"

	"github.com/ValentinKolb/dSTM/lib/latch"
)

// RegisterChangeListenerAndAbort registers l on every ref the transaction has
// read and aborts the transaction. l is opened by the next commit that changes
// one of these refs. If one of them already changed, l is opened immediately,
// so waiting on it never blocks on a change that already happened.
//
// Without a read ref, or if explicit retries are not allowed, ErrNoRetryPossible
// is returned and the transaction stays active.
func (tx *Transaction) RegisterChangeListenerAndAbort(l *latch.Latch) error {
	const op = "RegisterChangeListenerAndAbort"
	if err := tx.checkActive(op); err != nil {
		return err
	}
	if l == nil {
		return tx.fail(newError(CodeNullArgument, "%s with nil latch", op))
	}
	if !tx.variant.SupportsFeature(FeatureListeners) {
		tx.spec.SignalSpeculativeListenerFailure()
		return tx.fail(tx.unsupported(FeatureListeners, op))
	}
	if !tx.conf.ExplicitRetryAllowed {
		return newError(CodeNoRetryPossible, "explicit retry is not allowed")
	}

	watchable := false
	tx.attached.each(func(tl *Tranlocal) bool {
		watchable = tl.isWatchable()
		return !watchable
	})
	if !watchable {
		return newError(CodeNoRetryPossible, "transaction has no tracked reads")
	}

	tx.attached.each(func(tl *Tranlocal) bool {
		if !tl.isWatchable() {
			return true
		}
		if !tl.owner.orec.RegisterListener(l, tl.version) {
			// changed already
			l.Open()
			return false
		}
		return true
	})

	tx.stm.stats.blockingRetries.Inc()
	tx.abort()
	return nil
}

// --------------------------------------------------------------------------
// OrElse
// --------------------------------------------------------------------------

// savedTranlocal is the state of a tranlocal before an OrElse branch
type savedTranlocal struct {
	value     any
	mode      OpenMode
	commutes  []CommuteFunc
	abandoned bool
}

// OrElse runs either; if either requests a retry (returns ErrRetry), its
// changes are undone and orElse runs instead. Refs opened by either stay
// attached, so a later blocking retry also waits for them.
//
// Lean transactions do not support OrElse.
func (tx *Transaction) OrElse(either, orElse func(tx *Transaction) error) error {
	const op = "OrElse"
	if err := tx.checkActive(op); err != nil {
		return err
	}
	if either == nil || orElse == nil {
		return tx.fail(newError(CodeNullArgument, "%s with nil branch", op))
	}
	if !tx.variant.SupportsFeature(FeatureOrElse) {
		tx.spec.SignalSpeculativeOrElseFailure()
		return tx.fail(tx.unsupported(FeatureOrElse, op))
	}

	saved := tx.save()
	err := either(tx)
	if !errors.Is(err, ErrRetry) || tx.status != StatusActive {
		return err
	}

	tx.restore(saved)
	return orElse(tx)
}

// save records the values of all attached tranlocals.
func (tx *Transaction) save() map[*Tranlocal]savedTranlocal {
	saved := make(map[*Tranlocal]savedTranlocal, tx.attached.size())
	tx.attached.each(func(tl *Tranlocal) bool {
		saved[tl] = savedTranlocal{
			value:     tl.Value,
			mode:      tl.mode,
			commutes:  append([]CommuteFunc(nil), tl.commutes...),
			abandoned: tl.isAbandoned,
		}
		return true
	})
	return saved
}

// restore undoes the changes made since save. Locks and arrivals are kept.
func (tx *Transaction) restore(saved map[*Tranlocal]savedTranlocal) {
	tx.attached.each(func(tl *Tranlocal) bool {
		s, ok := saved[tl]
		switch {
		case !ok && tl.mode == ModeConstruction:
			// the construction lock is kept like on abort
			tl.Value = nil
			tl.isAbandoned = true
		case !ok && tl.mode == ModeCommuting:
			tl.commutes = nil
		case !ok:
			// attached by the branch
			tl.Value = tl.read.Value
			tl.mode = ModeRead
		case s.mode == ModeCommuting && tl.mode != ModeCommuting:
			// materialized by the branch
			tl.Value = tl.read.Value
			tl.commutes = s.commutes
			tl.applyCommutes()
		default:
			tl.Value = s.value
			tl.mode = s.mode
			tl.commutes = s.commutes
			tl.isAbandoned = s.abandoned
		}
		return true
	})
}
