package stm

import (
	"fmt"
	"time"

	"github.com/ValentinKolb/dSTM/lib/config"
	"github.com/ValentinKolb/dSTM/lib/orec"
	"github.com/ValentinKolb/dSTM/lib/speculative"
	"github.com/ValentinKolb/dSTM/lib/util"
)

// Status is the state of a transaction.
type Status uint8

const (
	StatusActive Status = iota
	StatusPrepared
	StatusCommitted
	StatusAborted
)

func (s Status) String() string {
	switch s {
	case StatusActive:
		return "active"
	case StatusPrepared:
		return "prepared"
	case StatusCommitted:
		return "committed"
	case StatusAborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// Transaction is one transaction of an STM. All variants share this engine,
// they only differ in the attached set (capacity) and in the supported features.
//
// A transaction is not thread-safe, it must only be used by one goroutine at a time.
type Transaction struct {
	stm      *STM
	id       uint64
	variant  Variant
	conf     config.TxnConfig
	spec     *speculative.Config
	attached attachedSet

	status           Status
	attempt          int
	remainingTimeout time.Duration
	abortOnly        bool

	listeners          []Listener
	permanentListeners []Listener
}

// init prepares the transaction for a new logical execution with a new identity.
func (tx *Transaction) init(conf config.TxnConfig, spec *speculative.Config) {
	tx.id = tx.stm.txnIDs.Add(1)
	tx.conf = conf
	tx.spec = spec
	tx.attached.clear()
	tx.status = StatusActive
	tx.attempt = 1
	tx.remainingTimeout = conf.Timeout
	tx.abortOnly = false
	tx.listeners = nil
	tx.permanentListeners = nil
}

// --------------------------------------------------------------------------
// Accessors
// --------------------------------------------------------------------------

// ID returns the identity the transaction uses as lock owner.
func (tx *Transaction) ID() uint64 { return tx.id }

// STM returns the STM of the transaction.
func (tx *Transaction) STM() *STM { return tx.stm }

func (tx *Transaction) Status() Status { return tx.status }

// Attempt returns the number of the current attempt, starting at 1.
func (tx *Transaction) Attempt() int { return tx.attempt }

// RemainingTimeout returns what is left of the timeout budget (config.NoTimeout = unlimited).
func (tx *Transaction) RemainingTimeout() time.Duration { return tx.remainingTimeout }

func (tx *Transaction) Variant() Variant { return tx.variant }

func (tx *Transaction) Config() config.TxnConfig { return tx.conf }

// Speculative returns the speculative configuration of the template of the transaction.
func (tx *Transaction) Speculative() *speculative.Config { return tx.spec }

// Size returns the number of attached refs.
func (tx *Transaction) Size() int { return tx.attached.size() }

// Capacity returns the maximum number of attached refs, -1 if unbounded.
func (tx *Transaction) Capacity() int { return tx.attached.capacity() }

// IsAbortOnly reports whether SetAbortOnly was called in the current attempt.
func (tx *Transaction) IsAbortOnly() bool { return tx.abortOnly }

// SupportsFeature checks if the variant of the transaction supports the specified features.
func (tx *Transaction) SupportsFeature(feature Feature) bool {
	return tx.variant.SupportsFeature(feature)
}

// Find returns the tranlocal of ref if it is attached, nil otherwise.
func (tx *Transaction) Find(ref *Ref) *Tranlocal {
	if ref == nil {
		return nil
	}
	return tx.attached.find(ref)
}

func (tx *Transaction) String() string {
	return fmt.Sprintf("Transaction{id=%d, variant=%s, status=%s, attempt=%d, size=%d}",
		tx.id, tx.variant, tx.status, tx.attempt, tx.attached.size())
}

// --------------------------------------------------------------------------
// Open
// --------------------------------------------------------------------------

// OpenForRead opens ref for reading and optionally locks it. Opening a ref
// twice returns the same tranlocal, a stronger lock mode upgrades the lock.
func (tx *Transaction) OpenForRead(ref *Ref, lockMode orec.LockMode) (*Tranlocal, error) {
	return tx.open(ref, lockMode, false, "OpenForRead")
}

// OpenForWrite opens ref for writing and optionally locks it. Changes to the
// Value of the returned tranlocal are published on commit.
func (tx *Transaction) OpenForWrite(ref *Ref, lockMode orec.LockMode) (*Tranlocal, error) {
	return tx.open(ref, lockMode, true, "OpenForWrite")
}

// Get returns the value of ref.
func (tx *Transaction) Get(ref *Ref) (any, error) {
	tl, err := tx.OpenForRead(ref, orec.LockNone)
	if err != nil {
		return nil, err
	}
	return tl.Value, nil
}

// Set sets the value of ref.
func (tx *Transaction) Set(ref *Ref, value any) error {
	tl, err := tx.OpenForWrite(ref, orec.LockNone)
	if err != nil {
		return err
	}
	tl.Value = value
	return nil
}

func (tx *Transaction) open(ref *Ref, lockMode orec.LockMode, write bool, op string) (*Tranlocal, error) {
	if err := tx.checkOpen(ref, write, op); err != nil {
		return nil, err
	}
	if write && tx.conf.ReadOnly {
		return nil, tx.fail(&Error{Code: CodeReadonly, Msg: op + " on readonly transaction", RefID: ref.id})
	}

	if tl := tx.attached.find(ref); tl != nil {
		if err := tx.reopen(tl, lockMode, write, op); err != nil {
			return nil, tx.fail(err)
		}
		return tl, nil
	}

	if !write && lockMode == orec.LockNone && !tx.conf.ReadTracking {
		return tx.openUntracked(ref, op)
	}

	if tx.attached.isFull() {
		return nil, tx.overflow(ref, op)
	}

	tl := &Tranlocal{owner: ref, mode: ModeRead}
	if write {
		tl.mode = ModeWrite
	}
	if err := tx.load(tl, lockMode, op); err != nil {
		return nil, tx.fail(err)
	}
	tx.attached.attach(tl)
	return tl, nil
}

// reopen opens an already attached tranlocal again.
func (tx *Transaction) reopen(tl *Tranlocal, lockMode orec.LockMode, write bool, op string) *Error {
	switch tl.mode {
	case ModeConstruction:
		if tl.isAbandoned {
			return newConflict(tl.owner, ConflictUncommitted, op)
		}
		return nil
	case ModeCommuting:
		if err := tx.materialize(tl, lockMode, op); err != nil {
			return err
		}
	}

	if lockMode > tl.lockMode {
		if err := tx.lock(tl, lockMode, op); err != nil {
			return err
		}
	}
	if write && tl.mode == ModeRead {
		tl.mode = ModeWrite
	}
	return nil
}

// openUntracked reads a ref without attaching it (read tracking disabled).
func (tx *Transaction) openUntracked(ref *Ref, op string) (*Tranlocal, error) {
	tl := &Tranlocal{owner: ref, mode: ModeRead}
	if err := tx.load(tl, orec.LockNone, op); err != nil {
		return nil, tx.fail(err)
	}
	if tl.hasDepartObligation {
		ref.orec.DepartAfterReading(true)
		tl.hasDepartObligation = false
	}
	return tl, nil
}

// OpenForConstruction opens a ref that was never committed, to give it its
// first value. The ref is locked exclusively until the transaction commits.
// If the transaction aborts the lock is kept, see Ref.Abandon.
//
// Opening a committed ref, or a ref that is already opened in another mode,
// fails with ErrIllegalArgument and leaves the transaction active.
func (tx *Transaction) OpenForConstruction(ref *Ref) (*Tranlocal, error) {
	const op = "OpenForConstruction"
	if err := tx.checkOpen(ref, true, op); err != nil {
		return nil, err
	}
	if tx.conf.ReadOnly {
		return nil, tx.fail(&Error{Code: CodeReadonly, Msg: op + " on readonly transaction", RefID: ref.id})
	}

	if tl := tx.attached.find(ref); tl != nil {
		if tl.mode == ModeConstruction {
			tl.isAbandoned = false
			return tl, nil
		}
		return nil, &Error{Code: CodeIllegalArgument, Msg: "ref is already opened for " + tl.mode.String(), RefID: ref.id}
	}
	if ref.IsCommitted() {
		return nil, &Error{Code: CodeIllegalArgument, Msg: "ref is already committed", RefID: ref.id}
	}
	if tx.attached.isFull() {
		return nil, tx.overflow(ref, op)
	}

	heldBefore := ref.orec.IsLockedBy(tx.id)
	status := tx.arrive(ref, orec.LockCommit)
	if status == orec.ArriveLocked {
		return nil, tx.fail(newConflict(ref, ConflictLocked, op))
	}
	registered := status == orec.ArriveRegistered

	if ref.IsCommitted() {
		// constructed by another transaction in the meantime
		if heldBefore {
			ref.orec.DepartAfterFailure(registered)
		} else {
			ref.orec.DepartAfterFailureAndUnlock(tx.id, registered)
		}
		return nil, &Error{Code: CodeIllegalArgument, Msg: "ref is already committed", RefID: ref.id}
	}

	tl := &Tranlocal{
		owner:               ref,
		mode:                ModeConstruction,
		lockMode:            orec.LockCommit,
		isPermanent:         status == orec.ArriveUnregistered,
		hasDepartObligation: registered,
	}
	tx.attached.attach(tl)
	return tl, nil
}

// Commute records fn as a change of ref that does not depend on the value
// other transactions commit in the meantime. If ref is not attached yet, fn is
// applied when the transaction prepares (or when ref is opened); otherwise it
// is applied to the current value immediately.
//
// Lean transactions do not support commute.
func (tx *Transaction) Commute(ref *Ref, fn CommuteFunc) error {
	const op = "Commute"
	if err := tx.checkOpen(ref, true, op); err != nil {
		return err
	}
	if fn == nil {
		return tx.fail(newError(CodeNullArgument, "%s with nil function", op))
	}
	if tx.conf.ReadOnly {
		return tx.fail(&Error{Code: CodeReadonly, Msg: op + " on readonly transaction", RefID: ref.id})
	}
	if !tx.variant.SupportsFeature(FeatureCommute) {
		tx.spec.SignalSpeculativeCommuteFailure()
		return tx.fail(tx.unsupported(FeatureCommute, op))
	}

	if tl := tx.attached.find(ref); tl != nil {
		if tl.mode == ModeCommuting {
			tl.commutes = append(tl.commutes, fn)
			return nil
		}
		if tl.mode == ModeRead {
			tl.mode = ModeWrite
		}
		tl.Value = fn(tl.Value)
		return nil
	}

	if tx.attached.isFull() {
		return tx.overflow(ref, op)
	}
	tx.attached.attach(&Tranlocal{owner: ref, mode: ModeCommuting, commutes: []CommuteFunc{fn}})
	return nil
}

// --------------------------------------------------------------------------
// Orec interaction
// --------------------------------------------------------------------------

// arrive arrives on the orec of ref and retries a few times while it is locked.
func (tx *Transaction) arrive(ref *Ref, lockMode orec.LockMode) orec.ArriveStatus {
	var backoff util.Backoff
	for i := 0; ; i++ {
		status := ref.orec.Arrive(tx.id, lockMode)
		if status != orec.ArriveLocked || i >= tx.conf.SpinCount {
			return status
		}
		backoff.Wait()
	}
}

// tryLock locks the orec of tl and validates the observed version. It retries
// a few times while another transaction holds the lock.
func (tx *Transaction) tryLock(tl *Tranlocal, lockMode orec.LockMode) orec.LockResult {
	var backoff util.Backoff
	for i := 0; ; i++ {
		result := tl.owner.orec.TryLockAndCheckConflict(tx.id, tl.version, lockMode)
		if result != orec.LockHeldByOther || i >= tx.conf.SpinCount {
			return result
		}
		backoff.Wait()
	}
}

// lock strengthens the lock of an attached tranlocal.
func (tx *Transaction) lock(tl *Tranlocal, lockMode orec.LockMode, op string) *Error {
	switch tx.tryLock(tl, lockMode) {
	case orec.LockAcquired:
		tl.lockMode = lockMode
		return nil
	case orec.LockHeldByOther:
		return newConflict(tl.owner, ConflictLocked, op)
	default:
		return newConflict(tl.owner, ConflictVersion, op)
	}
}

// load arrives on the orec of tl with lockMode and copies the last committed
// snapshot. On failure nothing is held on the orec.
func (tx *Transaction) load(tl *Tranlocal, lockMode orec.LockMode, op string) *Error {
	ref := tl.owner
	heldBefore := lockMode != orec.LockNone && ref.orec.IsLockedBy(tx.id)

	status := tx.arrive(ref, lockMode)
	if status == orec.ArriveLocked {
		return newConflict(ref, ConflictLocked, op)
	}
	registered := status == orec.ArriveRegistered

	snapshot := ref.active.Load()
	if snapshot == nil {
		if lockMode != orec.LockNone && !heldBefore {
			ref.orec.DepartAfterFailureAndUnlock(tx.id, registered)
		} else {
			ref.orec.DepartAfterFailure(registered)
		}
		return newConflict(ref, ConflictUncommitted, op)
	}

	tl.load(snapshot)
	tl.lockMode = lockMode
	tl.isPermanent = status == orec.ArriveUnregistered
	tl.hasDepartObligation = registered
	return nil
}

// materialize reads the object of a commuting tranlocal and applies the
// pending commute functions; the tranlocal becomes a write.
func (tx *Transaction) materialize(tl *Tranlocal, lockMode orec.LockMode, op string) *Error {
	if err := tx.load(tl, lockMode, op); err != nil {
		return err
	}
	tl.mode = ModeWrite
	tl.applyCommutes()
	return nil
}

// --------------------------------------------------------------------------
// Failure helpers
// --------------------------------------------------------------------------

// checkActive returns an error if the transaction is not active.
// A prepared transaction is aborted.
func (tx *Transaction) checkActive(op string) error {
	switch tx.status {
	case StatusActive:
		return nil
	case StatusPrepared:
		tx.abort()
		return newError(CodePreparedTransaction, "%s on prepared transaction", op)
	default:
		return newError(CodeDeadTransaction, "%s on %s transaction", op, tx.status)
	}
}

// checkOpen validates the status of the transaction and the ref argument.
// A read on a prepared transaction aborts it and reports a dead transaction,
// write-class opens report a prepared transaction.
func (tx *Transaction) checkOpen(ref *Ref, write bool, op string) error {
	if !write && tx.status == StatusPrepared {
		tx.abort()
		return newError(CodeDeadTransaction, "%s on prepared transaction", op)
	}
	if err := tx.checkActive(op); err != nil {
		return err
	}
	if ref == nil {
		return tx.fail(newError(CodeNullArgument, "%s with nil ref", op))
	}
	if ref.stm != tx.stm {
		return tx.fail(&Error{Code: CodeStmMismatch, Msg: op + " with ref of stm " + ref.stm.name, RefID: ref.id})
	}
	return nil
}

// fail aborts the transaction and returns err.
func (tx *Transaction) fail(err *Error) error {
	tx.stm.stats.record(err)
	tx.abort()
	return err
}

// overflow signals that the attached set is too small and aborts.
func (tx *Transaction) overflow(ref *Ref, op string) error {
	size := tx.attached.size()
	tx.spec.SignalSpeculativeSizeFailure(size + 1)
	return tx.fail(&Error{
		Code:  CodeSpeculativeConfiguration,
		Msg:   fmt.Sprintf("%s: %s transaction is full (%d refs)", op, tx.variant, size),
		RefID: ref.id,
	})
}

// unsupported creates the error for a feature the variant does not support.
func (tx *Transaction) unsupported(feature Feature, op string) *Error {
	return newError(CodeSpeculativeConfiguration, "%s: %s transaction does not support %s", op, tx.variant, feature)
}
